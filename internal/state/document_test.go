package state

import (
	"testing"
)

func TestRoles_Counts(t *testing.T) {
	tests := []struct {
		count int
		want  []Role
	}{
		{1, []Role{"player1"}},
		{2, []Role{"player1", "player2"}},
		{3, []Role{"player1", "player2", "player3"}},
		{0, []Role{"player1"}},
		{99, []Role{"player1", "player2", "player3"}},
	}
	for _, tt := range tests {
		got := Roles(tt.count)
		if len(got) != len(tt.want) {
			t.Fatalf("Roles(%d) has %d entries, want %d", tt.count, len(got), len(tt.want))
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Roles(%d)[%d] = %q, want %q", tt.count, i, got[i], tt.want[i])
			}
		}
	}
}

func TestClip(t *testing.T) {
	if got := Clip("hello", 10); got != "hello" {
		t.Errorf("Clip under limit = %q, want unchanged", got)
	}
	if got := Clip("hello", 3); got != "hel" {
		t.Errorf("Clip over limit = %q, want %q", got, "hel")
	}
	// Multi-byte text must not be cut mid-character.
	if got := Clip("héllo", 2); got != "hé" {
		t.Errorf("Clip multibyte = %q, want %q", got, "hé")
	}
	if got := Clip("x", 0); got != "" {
		t.Errorf("Clip(_, 0) = %q, want empty", got)
	}
}

func TestHistoryRecord_Line(t *testing.T) {
	round := HistoryRecord{Kind: RecordRound, Text: "<A>: attacks"}
	if got := round.Line(); got != "**Round**: <A>: attacks" {
		t.Errorf("round line = %q", got)
	}
	ai := HistoryRecord{Kind: RecordAI, Text: "The blow lands."}
	if got := ai.Line(); got != "**AI**: The blow lands." {
		t.Errorf("ai line = %q", got)
	}
}

func TestNormalize_RepairsLoadedDocument(t *testing.T) {
	d := &Document{PlayerCount: 7}
	d.Normalize()

	if d.PlayerCount != 2 {
		t.Errorf("PlayerCount = %d, want 2", d.PlayerCount)
	}
	if d.ActiveModel != DefaultModel {
		t.Errorf("ActiveModel = %q, want %q", d.ActiveModel, DefaultModel)
	}
	if d.Pending == nil || d.Bindings == nil || d.History == nil || d.Lorebook == nil {
		t.Fatal("Normalize left nil collections")
	}
	for i := 1; i <= MaxPlayers; i++ {
		if d.Profiles[PlayerRole(i)] == nil {
			t.Errorf("profile %d missing after Normalize", i)
		}
	}
}

func TestClone_IsDeep(t *testing.T) {
	d := NewDocument()
	d.History = append(d.History, HistoryRecord{Kind: RecordAI, Text: "original"})
	d.Pending["player1"] = PendingInput{Text: "sneak"}
	d.Bindings["abc"] = "player1"

	c := d.Clone()
	c.Profiles["player1"].Name = "changed"
	c.History[0].Text = "changed"
	c.Pending["player2"] = PendingInput{Text: "new"}
	delete(c.Bindings, "abc")

	if d.Profiles["player1"].Name == "changed" {
		t.Error("profile mutation leaked into original")
	}
	if d.History[0].Text != "original" {
		t.Error("history mutation leaked into original")
	}
	if _, ok := d.Pending["player2"]; ok {
		t.Error("pending mutation leaked into original")
	}
	if _, ok := d.Bindings["abc"]; !ok {
		t.Error("bindings mutation leaked into original")
	}
}

func TestDisplayName_FallsBackToRole(t *testing.T) {
	d := NewDocument()
	d.Profiles["player1"].Name = "Ryn"
	d.Profiles["player2"].Name = ""

	if got := d.DisplayName("player1"); got != "Ryn" {
		t.Errorf("DisplayName = %q, want Ryn", got)
	}
	if got := d.DisplayName("player2"); got != "player2" {
		t.Errorf("DisplayName fallback = %q, want player2", got)
	}
}

func TestRedacted_HidesOtherPlayersAndPending(t *testing.T) {
	d := NewDocument()
	d.Profiles["player1"].Bio = "secret past"
	d.Profiles["player2"].Bio = "other secret"
	d.Pending["player1"] = PendingInput{Text: "my move"}
	d.Pending["player2"] = PendingInput{Text: "their move"}
	d.Bindings["id1"] = "player1"

	r := d.Redacted("player1")

	if r.Profiles["player1"].Bio != "secret past" {
		t.Error("viewer's own bio was redacted")
	}
	if r.Profiles["player2"].Bio != "" {
		t.Error("other player's bio visible")
	}
	for role, p := range r.Pending {
		if p.Text != "" {
			t.Errorf("pending text for %s visible: %q", role, p.Text)
		}
	}
	if _, ok := r.Pending["player1"]; !ok {
		t.Error("pending presence flag missing for viewer")
	}
	if len(r.Bindings) != 0 {
		t.Error("bindings visible in redacted snapshot")
	}
	// The original must be untouched.
	if d.Profiles["player2"].Bio != "other secret" {
		t.Error("redaction mutated the source document")
	}
}

func TestExportImport_AllowList(t *testing.T) {
	d := NewDocument()
	d.Title = "The Hollow Crown"
	d.History = append(d.History, HistoryRecord{Kind: RecordAI, Text: "once upon"})
	d.Lorebook = append(d.Lorebook, LoreEntry{Title: "Crown", Triggers: "crown", Content: "cursed"})

	cfg := d.Export()
	if cfg.ExportType != ExportMarker {
		t.Fatalf("ExportType = %q, want %q", cfg.ExportType, ExportMarker)
	}

	target := NewDocument()
	target.History = append(target.History, HistoryRecord{Kind: RecordAI, Text: "kept"})
	target.Profiles["player1"].Name = "Keeper"
	target.ApplyImport(cfg)

	if target.Title != "The Hollow Crown" {
		t.Errorf("Title = %q after import", target.Title)
	}
	if len(target.Lorebook) != 1 || target.Lorebook[0].Title != "Crown" {
		t.Errorf("Lorebook not imported: %+v", target.Lorebook)
	}
	if len(target.History) != 1 || target.History[0].Text != "kept" {
		t.Error("import touched history")
	}
	if target.Profiles["player1"].Name != "Keeper" {
		t.Error("import touched profiles")
	}
}

func TestApplyImport_ClipsAndCaps(t *testing.T) {
	long := make([]rune, MaxTitleChars+50)
	for i := range long {
		long[i] = 'x'
	}
	cfg := ExportConfig{Title: string(long), ExportType: ExportMarker}
	for i := 0; i < MaxLoreEntries+5; i++ {
		cfg.Lorebook = append(cfg.Lorebook, LoreEntry{Title: "t", Triggers: "k", Content: "c"})
	}

	d := NewDocument()
	d.ApplyImport(cfg)

	if got := len([]rune(d.Title)); got != MaxTitleChars {
		t.Errorf("title length = %d, want %d", got, MaxTitleChars)
	}
	if len(d.Lorebook) != MaxLoreEntries {
		t.Errorf("lorebook length = %d, want %d", len(d.Lorebook), MaxLoreEntries)
	}
}
