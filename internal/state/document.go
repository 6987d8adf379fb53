// Package state defines the persisted session document for a Reverie game
// and the file-backed store that holds it.
//
// A single Document is shared by every connected role in the process. All
// mutation happens through the round coordinator, which owns the document
// behind a mutex; this package only defines the data model, its limits, and
// pure helpers (cloning, redaction, export allow-listing).
package state

import (
	"fmt"
	"time"
)

// Role identifies a player slot. Roles are canonical and ordered:
// "player1", "player2", "player3".
type Role string

// MaxPlayers is the largest supported playerCount.
const MaxPlayers = 3

// PlayerRole returns the canonical role for a 1-based slot number.
func PlayerRole(n int) Role {
	return Role(fmt.Sprintf("player%d", n))
}

// Roles returns the active roles for a player count, in canonical order.
// Counts outside [1, MaxPlayers] are clamped.
func Roles(playerCount int) []Role {
	if playerCount < 1 {
		playerCount = 1
	}
	if playerCount > MaxPlayers {
		playerCount = MaxPlayers
	}
	out := make([]Role, 0, playerCount)
	for i := 1; i <= playerCount; i++ {
		out = append(out, PlayerRole(i))
	}
	return out
}

// IsPlayerRole reports whether r is one of the canonical player roles.
func IsPlayerRole(r Role) bool {
	for i := 1; i <= MaxPlayers; i++ {
		if r == PlayerRole(i) {
			return true
		}
	}
	return false
}

// Field length limits, in characters (runes). These mirror the limits the
// client UI enforces; the server clips rather than rejects.
const (
	MaxTitleChars       = 30
	MaxSystemChars      = 4000
	MaxPrologueChars    = 1000
	MaxSummaryChars     = 500
	MaxInputChars       = 600
	MaxNameChars        = 12
	MaxBioChars         = 200
	MaxCanonChars       = 350
	MaxLoreTitleChars   = 20
	MaxLoreContentChars = 400
	MaxExampleChars     = 500
	MaxLoreEntries      = 20
	ExampleSlots        = 3
)

// SkipSentinel is the text recorded for a skipped turn. Skips participate in
// round completion exactly like real submissions.
const SkipSentinel = "(skip)"

// Profile is one player's character sheet. Once Locked, the profile is
// immutable until an administrator unlocks it.
type Profile struct {
	Name   string `json:"name"`
	Bio    string `json:"bio"`
	Canon  string `json:"canon"`
	Locked bool   `json:"locked"`
}

// PendingInput is a player's submission for the current, unresolved round.
type PendingInput struct {
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// RecordKind distinguishes the two kinds of history records.
type RecordKind string

const (
	// RecordRound is the concatenation of all players' inputs for one turn.
	RecordRound RecordKind = "round"

	// RecordAI is the model's narration for one turn.
	RecordAI RecordKind = "ai"
)

// HistoryRecord is one entry in the append-only narrative log.
type HistoryRecord struct {
	Kind RecordKind `json:"kind"`
	Text string     `json:"text"`
	At   time.Time  `json:"at"`
}

// Line renders the record as a single tagged line, the form used for prompt
// assembly and character budgeting.
func (r HistoryRecord) Line() string {
	if r.Kind == RecordAI {
		return "**AI**: " + r.Text
	}
	return "**Round**: " + r.Text
}

// LoreEntry is one keyword-triggered context snippet. Slice order is
// significant: earlier entries win when more entries match than the match cap
// allows.
type LoreEntry struct {
	Title string `json:"title"`

	// Triggers is a comma-separated keyword list. Matching is case-insensitive
	// substring, any-of.
	Triggers string `json:"triggers"`

	Content string `json:"content"`
}

// Example is one few-shot prompt/response pair used as style guidance.
// Empty slots are skipped during assembly.
type Example struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// IsEmpty reports whether the example slot is unused.
func (e Example) IsEmpty() bool { return e.Prompt == "" }

// Document is the whole persisted session. One instance exists per process;
// it is loaded at startup and written through after every mutation.
type Document struct {
	Title        string `json:"title"`
	SystemPrompt string `json:"system_prompt"`
	Prologue     string `json:"prologue"`

	// Summary is the running compressed history. Mutated only by the
	// summariser or an explicit master edit.
	Summary string `json:"summary"`

	// ActiveModel selects which backend handles the next round.
	ActiveModel string `json:"active_model"`

	// PlayerCount is 1, 2, or 3 and determines how many pending slots must
	// fill before a round fires.
	PlayerCount int `json:"player_count"`

	// Started gates player input: false during pre-game setup, true in play.
	Started bool `json:"started"`

	Profiles map[Role]*Profile       `json:"profiles"`
	Pending  map[Role]PendingInput   `json:"pending_inputs"`
	History  []HistoryRecord         `json:"history"`
	Lorebook []LoreEntry             `json:"lorebook"`
	Examples [ExampleSlots]Example   `json:"examples"`

	// Bindings maps persistent client IDs to the role they hold, so a
	// reconnecting client resumes the same seat.
	Bindings map[string]Role `json:"bindings"`
}

// DefaultModel is the model identifier used by a fresh session.
const DefaultModel = "gpt-4o"

// defaultSystemPrompt seeds a fresh session's master instructions.
const defaultSystemPrompt = "You are a seasoned tabletop-RPG game master."

// NewDocument returns a session document populated with coded defaults.
func NewDocument() *Document {
	d := &Document{
		Title:        "Untitled Session",
		SystemPrompt: defaultSystemPrompt,
		ActiveModel:  DefaultModel,
		PlayerCount:  2,
		Profiles:     map[Role]*Profile{},
		Pending:      map[Role]PendingInput{},
		History:      []HistoryRecord{},
		Lorebook:     []LoreEntry{},
		Bindings:     map[string]Role{},
	}
	for i := 1; i <= MaxPlayers; i++ {
		d.Profiles[PlayerRole(i)] = &Profile{Name: fmt.Sprintf("Player %d", i)}
	}
	return d
}

// Normalize repairs a document loaded from disk: nil maps, out-of-range
// player counts, and missing profiles are replaced so that the rest of the
// code never has to guard against them.
func (d *Document) Normalize() {
	if d.Profiles == nil {
		d.Profiles = map[Role]*Profile{}
	}
	if d.Pending == nil {
		d.Pending = map[Role]PendingInput{}
	}
	if d.Bindings == nil {
		d.Bindings = map[string]Role{}
	}
	if d.History == nil {
		d.History = []HistoryRecord{}
	}
	if d.Lorebook == nil {
		d.Lorebook = []LoreEntry{}
	}
	if d.PlayerCount < 1 || d.PlayerCount > MaxPlayers {
		d.PlayerCount = 2
	}
	if d.ActiveModel == "" {
		d.ActiveModel = DefaultModel
	}
	for i := 1; i <= MaxPlayers; i++ {
		role := PlayerRole(i)
		if d.Profiles[role] == nil {
			d.Profiles[role] = &Profile{Name: fmt.Sprintf("Player %d", i)}
		}
	}
}

// ActiveRoles returns the roles participating in rounds, in canonical order.
func (d *Document) ActiveRoles() []Role {
	return Roles(d.PlayerCount)
}

// DisplayName returns the profile name for a role, falling back to the role
// itself when the profile has no name.
func (d *Document) DisplayName(role Role) string {
	if p := d.Profiles[role]; p != nil && p.Name != "" {
		return p.Name
	}
	return string(role)
}

// Clone returns a deep copy of the document. Used to snapshot state for
// prompt assembly outside the coordinator lock.
func (d *Document) Clone() *Document {
	out := *d
	out.Profiles = make(map[Role]*Profile, len(d.Profiles))
	for r, p := range d.Profiles {
		cp := *p
		out.Profiles[r] = &cp
	}
	out.Pending = make(map[Role]PendingInput, len(d.Pending))
	for r, p := range d.Pending {
		out.Pending[r] = p
	}
	out.History = append([]HistoryRecord(nil), d.History...)
	out.Lorebook = append([]LoreEntry(nil), d.Lorebook...)
	out.Bindings = make(map[string]Role, len(d.Bindings))
	for id, r := range d.Bindings {
		out.Bindings[id] = r
	}
	return &out
}

// Clip truncates s to at most max runes. Limits are defined in characters so
// that multi-byte text is not cut mid-character.
func Clip(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
