package state

// ExportMarker identifies a Reverie configuration export. Import rejects
// files without it to avoid merging unrelated JSON documents.
const ExportMarker = "reverie_config_v1"

// ExportConfig is the allow-listed subset of a session that can leave the
// process as a standalone file. History, profiles, pending inputs, and
// client bindings are deliberately excluded.
type ExportConfig struct {
	Title        string                `json:"title"`
	SystemPrompt string                `json:"system_prompt"`
	Prologue     string                `json:"prologue"`
	ActiveModel  string                `json:"active_model"`
	PlayerCount  int                   `json:"player_count"`
	Examples     [ExampleSlots]Example `json:"examples"`
	Lorebook     []LoreEntry           `json:"lorebook"`
	ExportType   string                `json:"_export_type"`
}

// Export extracts the allow-listed configuration subset from d.
func (d *Document) Export() ExportConfig {
	return ExportConfig{
		Title:        d.Title,
		SystemPrompt: d.SystemPrompt,
		Prologue:     d.Prologue,
		ActiveModel:  d.ActiveModel,
		PlayerCount:  d.PlayerCount,
		Examples:     d.Examples,
		Lorebook:     append([]LoreEntry(nil), d.Lorebook...),
		ExportType:   ExportMarker,
	}
}

// ApplyImport merges cfg into d, touching only the allow-listed fields.
// Values are clipped to their limits; the lorebook is capped at
// MaxLoreEntries. History, profiles, and pending inputs are left untouched.
func (d *Document) ApplyImport(cfg ExportConfig) {
	d.Title = Clip(cfg.Title, MaxTitleChars)
	d.SystemPrompt = Clip(cfg.SystemPrompt, MaxSystemChars)
	d.Prologue = Clip(cfg.Prologue, MaxPrologueChars)
	if cfg.ActiveModel != "" {
		d.ActiveModel = cfg.ActiveModel
	}
	if cfg.PlayerCount >= 1 && cfg.PlayerCount <= MaxPlayers {
		d.PlayerCount = cfg.PlayerCount
	}
	for i := range cfg.Examples {
		d.Examples[i] = Example{
			Prompt:   Clip(cfg.Examples[i].Prompt, MaxExampleChars),
			Response: Clip(cfg.Examples[i].Response, MaxExampleChars),
		}
	}
	book := cfg.Lorebook
	if len(book) > MaxLoreEntries {
		book = book[:MaxLoreEntries]
	}
	d.Lorebook = d.Lorebook[:0]
	for _, l := range book {
		d.Lorebook = append(d.Lorebook, LoreEntry{
			Title:    Clip(l.Title, MaxLoreTitleChars),
			Triggers: l.Triggers,
			Content:  Clip(l.Content, MaxLoreContentChars),
		})
	}
}
