package round

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/reverie-rp/reverie/internal/state"
)

// setupFixture builds a coordinator still in pre-game setup.
func setupFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, 2)
	f.coord.doc.Started = false
	for _, p := range f.coord.doc.Profiles {
		p.Locked = false
	}
	return f
}

func TestUpdateProfile_LockIsOneShot(t *testing.T) {
	f := setupFixture(t)

	if err := f.coord.UpdateProfile("player1", "Ryn", "a scout", "knows the hills"); err != nil {
		t.Fatalf("first save: %v", err)
	}

	err := f.coord.UpdateProfile("player1", "Other", "rewritten", "")
	if !errors.Is(err, ErrProfileLocked) {
		t.Fatalf("second save: err = %v, want ErrProfileLocked", err)
	}

	// The rejected save changed nothing.
	doc := f.coord.Snapshot("player1")
	if doc.Profiles["player1"].Name != "Ryn" || doc.Profiles["player1"].Bio != "a scout" {
		t.Errorf("profile = %+v, first save should stand", doc.Profiles["player1"])
	}
}

func TestUpdateProfile_ClipsFields(t *testing.T) {
	f := setupFixture(t)

	longName := strings.Repeat("n", state.MaxNameChars+10)
	if err := f.coord.UpdateProfile("player1", longName, "", ""); err != nil {
		t.Fatal(err)
	}
	doc := f.coord.Snapshot("player1")
	if got := len([]rune(doc.Profiles["player1"].Name)); got != state.MaxNameChars {
		t.Errorf("name length = %d, want %d", got, state.MaxNameChars)
	}
}

func TestUnlockProfile_ReopensSheet(t *testing.T) {
	f := setupFixture(t)

	_ = f.coord.UpdateProfile("player1", "Ryn", "", "")
	if err := f.coord.UnlockProfile("player1"); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.UpdateProfile("player1", "Rework", "", ""); err != nil {
		t.Fatalf("save after unlock: %v", err)
	}
}

func TestStartSession_RequiresLockedProfiles(t *testing.T) {
	f := setupFixture(t)

	err := f.coord.StartSession()
	if !errors.Is(err, ErrProfilesOpen) {
		t.Fatalf("err = %v, want ErrProfilesOpen", err)
	}

	_ = f.coord.UpdateProfile("player1", "A", "", "")
	_ = f.coord.UpdateProfile("player2", "B", "", "")
	if err := f.coord.StartSession(); err != nil {
		t.Fatalf("start with locked profiles: %v", err)
	}
	if err := f.coord.StartSession(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start: err = %v, want ErrAlreadyStarted", err)
	}
}

func TestSaveSettings_ValidatesAndClips(t *testing.T) {
	f := setupFixture(t)

	if err := f.coord.SaveSettings(Settings{PlayerCount: 0, ActiveModel: "gpt-4o"}); err == nil {
		t.Error("player count 0 accepted")
	}
	if err := f.coord.SaveSettings(Settings{PlayerCount: 2, ActiveModel: ""}); err == nil {
		t.Error("empty model accepted")
	}

	long := strings.Repeat("t", state.MaxTitleChars+5)
	if err := f.coord.SaveSettings(Settings{Title: long, PlayerCount: 3, ActiveModel: "gemini-2.0-flash"}); err != nil {
		t.Fatal(err)
	}
	doc := f.coord.Snapshot("")
	if got := len([]rune(doc.Title)); got != state.MaxTitleChars {
		t.Errorf("title length = %d, want %d", got, state.MaxTitleChars)
	}
	if doc.PlayerCount != 3 || doc.ActiveModel != "gemini-2.0-flash" {
		t.Errorf("settings not applied: %+v", doc)
	}
}

func TestSaveSettings_ShrinkingCountDropsStalePending(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	_ = f.coord.SubmitInput(ctx, "player3", "lost move")
	if err := f.coord.SaveSettings(Settings{PlayerCount: 2, ActiveModel: "gpt-4o"}); err != nil {
		t.Fatal(err)
	}

	doc := f.coord.Snapshot("player3")
	if _, ok := doc.Pending["player3"]; ok {
		t.Error("pending input from deactivated seat survived")
	}
}

func TestReset_ReturnsToSetup(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_ = f.coord.SubmitInput(ctx, "player1", "a")
	_ = f.coord.SubmitInput(ctx, "player2", "b")
	f.notify.waitNarration(t)

	if err := f.coord.Reset(); err != nil {
		t.Fatal(err)
	}

	doc := f.coord.Snapshot("")
	if len(doc.History) != 0 || doc.Summary != "" || len(doc.Pending) != 0 {
		t.Errorf("reset left session data: %+v", doc)
	}
	if doc.Started {
		t.Error("reset left session started")
	}
	for role, p := range doc.Profiles {
		if p.Locked {
			t.Errorf("profile %s still locked after reset", role)
		}
	}
}

func TestLore_UpsertDeleteAndCap(t *testing.T) {
	f := setupFixture(t)

	for i := 0; i < state.MaxLoreEntries; i++ {
		if err := f.coord.UpsertLore(-1, state.LoreEntry{Title: "t", Triggers: "k", Content: "c"}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := f.coord.UpsertLore(-1, state.LoreEntry{Title: "over"}); !errors.Is(err, ErrLorebookFull) {
		t.Fatalf("over cap: err = %v, want ErrLorebookFull", err)
	}

	// In-place replace works at the cap.
	if err := f.coord.UpsertLore(0, state.LoreEntry{Title: "replaced", Triggers: "k", Content: "c"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := f.coord.DeleteLore(0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	doc := f.coord.Snapshot("")
	if len(doc.Lorebook) != state.MaxLoreEntries-1 {
		t.Errorf("lorebook length = %d", len(doc.Lorebook))
	}

	if err := f.coord.DeleteLore(99); !errors.Is(err, ErrBadIndex) {
		t.Errorf("delete out of range: err = %v, want ErrBadIndex", err)
	}
}

func TestLore_MoveReorders(t *testing.T) {
	f := setupFixture(t)

	for _, title := range []string{"a", "b", "c"} {
		if err := f.coord.UpsertLore(-1, state.LoreEntry{Title: title, Triggers: "k", Content: "c"}); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.coord.MoveLore(2, 0); err != nil {
		t.Fatal(err)
	}
	doc := f.coord.Snapshot("")
	got := []string{doc.Lorebook[0].Title, doc.Lorebook[1].Title, doc.Lorebook[2].Title}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("after move: titles = %v, want %v", got, want)
		}
	}

	// Moving an entry onto itself changes nothing.
	if err := f.coord.MoveLore(1, 1); err != nil {
		t.Fatal(err)
	}
	if f.coord.Snapshot("").Lorebook[1].Title != "a" {
		t.Error("self-move reordered the lorebook")
	}

	if err := f.coord.MoveLore(0, 99); !errors.Is(err, ErrBadIndex) {
		t.Errorf("move out of range: err = %v, want ErrBadIndex", err)
	}
}

func TestEditHistory_RewritesInPlace(t *testing.T) {
	f := newFixture(t, 1)
	_ = f.coord.SubmitInput(context.Background(), "player1", "act")
	f.notify.waitNarration(t)

	if err := f.coord.EditHistory(1, "retconned narration"); err != nil {
		t.Fatal(err)
	}
	doc := f.coord.Snapshot("")
	if doc.History[1].Text != "retconned narration" || doc.History[1].Kind != state.RecordAI {
		t.Errorf("history[1] = %+v", doc.History[1])
	}

	if err := f.coord.EditHistory(5, "x"); !errors.Is(err, ErrBadIndex) {
		t.Errorf("out of range: err = %v, want ErrBadIndex", err)
	}
}

func TestAssignClient_SeatsThenSpectates(t *testing.T) {
	f := newFixture(t, 2)

	r1, ok := f.coord.AssignClient("client-a")
	if !ok || r1 != "player1" {
		t.Fatalf("first client: role %q, seated %v", r1, ok)
	}
	r2, ok := f.coord.AssignClient("client-b")
	if !ok || r2 != "player2" {
		t.Fatalf("second client: role %q, seated %v", r2, ok)
	}

	// Table full: third client spectates.
	if _, ok := f.coord.AssignClient("client-c"); ok {
		t.Error("third client seated at a full table")
	}

	// Reconnecting client resumes its seat.
	again, ok := f.coord.AssignClient("client-a")
	if !ok || again != "player1" {
		t.Errorf("reconnect: role %q, seated %v", again, ok)
	}

	f.coord.ClearBindings()
	if _, ok := f.coord.AssignClient("client-c"); !ok {
		t.Error("seat not freed after ClearBindings")
	}
}

func TestImport_RequiresMarker(t *testing.T) {
	f := setupFixture(t)

	if err := f.coord.Import(state.ExportConfig{Title: "x"}); !errors.Is(err, ErrBadImport) {
		t.Fatalf("err = %v, want ErrBadImport", err)
	}

	cfg := f.coord.Export()
	cfg.Title = "shared scenario"
	if err := f.coord.Import(cfg); err != nil {
		t.Fatalf("round-trip import: %v", err)
	}
	if got := f.coord.Snapshot("").Title; got != "shared scenario" {
		t.Errorf("title = %q", got)
	}
}
