package round

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/reverie-rp/reverie/internal/engine"
	"github.com/reverie-rp/reverie/internal/observe"
	"github.com/reverie-rp/reverie/internal/prompt"
	"github.com/reverie-rp/reverie/internal/state"
)

// memStore keeps the document in memory and counts writes.
type memStore struct {
	mu    sync.Mutex
	doc   *state.Document
	saves int
}

func (m *memStore) Save(d *state.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = d.Clone()
	m.saves++
	return nil
}

func (m *memStore) Load() (*state.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil, errors.New("empty store")
	}
	return m.doc.Clone(), nil
}

// fakeGen records the contexts it was asked to narrate.
type fakeGen struct {
	mu     sync.Mutex
	result engine.Result
	err    error
	calls  []prompt.Assembled
	delay  time.Duration
}

func (g *fakeGen) Generate(_ context.Context, a prompt.Assembled, _ string) (engine.Result, error) {
	g.mu.Lock()
	g.calls = append(g.calls, a)
	g.mu.Unlock()
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	return g.result, g.err
}

func (g *fakeGen) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// fakeSumm returns a fixed summary and counts invocations.
type fakeSumm struct {
	mu    sync.Mutex
	out   string
	err   error
	calls int
}

func (s *fakeSumm) Summarise(context.Context, string, []state.HistoryRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.out, s.err
}

func (s *fakeSumm) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeNotifier signals narration delivery so tests can wait for the
// asynchronous resolution to finish.
type fakeNotifier struct {
	mu        sync.Mutex
	statuses  []string
	narration chan string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{narration: make(chan string, 8)}
}

func (n *fakeNotifier) StateChanged() {}

func (n *fakeNotifier) Status(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, msg)
}

func (n *fakeNotifier) Narration(text string) { n.narration <- text }

func (n *fakeNotifier) lastStatus() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.statuses) == 0 {
		return ""
	}
	return n.statuses[len(n.statuses)-1]
}

func (n *fakeNotifier) waitNarration(t *testing.T) string {
	t.Helper()
	select {
	case text := <-n.narration:
		return text
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for narration")
		return ""
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type fixture struct {
	coord  *Coordinator
	store  *memStore
	gen    *fakeGen
	summ   *fakeSumm
	notify *fakeNotifier
}

func newFixture(t *testing.T, players int) *fixture {
	t.Helper()
	doc := state.NewDocument()
	doc.PlayerCount = players
	doc.Started = true
	for i := 1; i <= players; i++ {
		doc.Profiles[state.PlayerRole(i)].Locked = true
	}

	f := &fixture{
		store:  &memStore{},
		gen:    &fakeGen{result: engine.Result{Text: "the story continues", Provider: "openai"}},
		summ:   &fakeSumm{out: "condensed"},
		notify: newFakeNotifier(),
	}
	f.coord = New(doc, f.store, f.gen, f.summ, f.notify, testMetrics(t), slog.New(slog.DiscardHandler))
	return f
}

func TestSubmitInput_IncompleteRoundWaits(t *testing.T) {
	f := newFixture(t, 2)

	if err := f.coord.SubmitInput(context.Background(), "player1", "I open the door"); err != nil {
		t.Fatalf("SubmitInput: %v", err)
	}

	if f.gen.callCount() != 0 {
		t.Fatal("round fired before all inputs arrived")
	}
	if got := f.notify.lastStatus(); !strings.Contains(got, "Waiting for") {
		t.Errorf("status = %q, want waiting notice", got)
	}
	// The waiting notice names the missing player, not the submitter.
	if !strings.Contains(f.notify.lastStatus(), "Player 2") {
		t.Errorf("status = %q, want Player 2 named", f.notify.lastStatus())
	}
}

func TestSubmitInput_CompletionFiresExactlyOnce(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	if err := f.coord.SubmitInput(ctx, "player1", "attack"); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.SubmitInput(ctx, "player2", "defend"); err != nil {
		t.Fatal(err)
	}

	narration := f.notify.waitNarration(t)
	if narration != "the story continues" {
		t.Errorf("narration = %q", narration)
	}
	if f.gen.callCount() != 1 {
		t.Errorf("generator called %d times, want 1", f.gen.callCount())
	}
}

func TestRound_HistoryAdjacency(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_ = f.coord.SubmitInput(ctx, "player1", "attack")
	_ = f.coord.SubmitInput(ctx, "player2", "defend")
	f.notify.waitNarration(t)

	doc := f.coord.Snapshot("")
	if len(doc.History) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(doc.History))
	}
	if doc.History[0].Kind != state.RecordRound || doc.History[1].Kind != state.RecordAI {
		t.Fatalf("history kinds = %v, %v", doc.History[0].Kind, doc.History[1].Kind)
	}
	// Round record lists both inputs in canonical role order.
	if !strings.Contains(doc.History[0].Text, "attack") || !strings.Contains(doc.History[0].Text, "defend") {
		t.Errorf("round record = %q", doc.History[0].Text)
	}
	if strings.Index(doc.History[0].Text, "attack") > strings.Index(doc.History[0].Text, "defend") {
		t.Error("round record not in canonical role order")
	}
	// Pending cleared wholesale after resolution.
	if len(doc.Pending) != 0 {
		t.Errorf("pending not cleared: %+v", doc.Pending)
	}
}

func TestSkipTurn_EquivalentToSubmission(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	if err := f.coord.SkipTurn(ctx, "player1"); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.SkipTurn(ctx, "player2"); err != nil {
		t.Fatal(err)
	}

	// An all-skip round still resolves.
	f.notify.waitNarration(t)

	doc := f.coord.Snapshot("player1")
	if len(doc.History) != 2 {
		t.Fatalf("all-skip round did not resolve; history = %d", len(doc.History))
	}
	if !strings.Contains(doc.History[0].Text, state.SkipSentinel) {
		t.Errorf("round record = %q, want skip sentinel", doc.History[0].Text)
	}
}

func TestSubmitInput_ResubmissionRejected(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	if err := f.coord.SubmitInput(ctx, "player1", "first"); err != nil {
		t.Fatal(err)
	}
	err := f.coord.SubmitInput(ctx, "player1", "second thoughts")
	if !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("err = %v, want ErrAlreadySubmitted", err)
	}

	// The first submission stands.
	_ = f.coord.SubmitInput(ctx, "player2", "go")
	f.notify.waitNarration(t)
	doc := f.coord.Snapshot("")
	if !strings.Contains(doc.History[0].Text, "first") || strings.Contains(doc.History[0].Text, "second thoughts") {
		t.Errorf("round record = %q", doc.History[0].Text)
	}
}

func TestSubmitInput_Validation(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	if err := f.coord.SubmitInput(ctx, "player1", "   "); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("blank input: err = %v, want ErrEmptyInput", err)
	}
	if err := f.coord.SubmitInput(ctx, "player3", "hi"); !errors.Is(err, ErrInactiveRole) {
		t.Errorf("inactive role: err = %v, want ErrInactiveRole", err)
	}

	f2 := newFixture(t, 1)
	f2.coord.doc.Started = false
	if err := f2.coord.SubmitInput(ctx, "player1", "hi"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("pre-start: err = %v, want ErrNotStarted", err)
	}
}

func TestSubmitInput_ClipsLongInput(t *testing.T) {
	f := newFixture(t, 1)
	long := strings.Repeat("a", state.MaxInputChars+100)

	_ = f.coord.SubmitInput(context.Background(), "player1", long)
	f.notify.waitNarration(t)

	doc := f.coord.Snapshot("")
	// Round record is "<name>: text"; the text part must be clipped.
	if len(doc.History[0].Text) > state.MaxInputChars+len("<Player 1>: ") {
		t.Errorf("input not clipped; record length %d", len(doc.History[0].Text))
	}
}

func TestSubmitInput_RejectedWhileInFlight(t *testing.T) {
	f := newFixture(t, 1)
	f.gen.delay = 200 * time.Millisecond
	ctx := context.Background()

	if err := f.coord.SubmitInput(ctx, "player1", "go"); err != nil {
		t.Fatal(err)
	}
	// Resolution is running; new input must be rejected, not queued.
	time.Sleep(20 * time.Millisecond)
	err := f.coord.SubmitInput(ctx, "player1", "again")
	if !errors.Is(err, ErrRoundInFlight) && !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("err = %v, want in-flight rejection", err)
	}

	f.notify.waitNarration(t)

	// After resolution the next round accepts input again.
	if err := f.coord.SubmitInput(ctx, "player1", "next round"); err != nil {
		t.Fatalf("post-round submit: %v", err)
	}
	f.notify.waitNarration(t)
}

func TestRoundError_BecomesAIRecord(t *testing.T) {
	f := newFixture(t, 1)
	f.gen.err = errors.New("model unavailable")
	f.gen.result = engine.Result{}

	_ = f.coord.SubmitInput(context.Background(), "player1", "act")
	narration := f.notify.waitNarration(t)

	if !strings.Contains(narration, "model unavailable") {
		t.Errorf("narration = %q, want error text", narration)
	}
	doc := f.coord.Snapshot("")
	if len(doc.History) != 2 || doc.History[1].Kind != state.RecordAI {
		t.Fatalf("history = %+v", doc.History)
	}
	if !strings.Contains(doc.History[1].Text, "model unavailable") {
		t.Errorf("AI record = %q", doc.History[1].Text)
	}
	// Pending still cleared so the session is not wedged.
	if len(doc.Pending) != 0 {
		t.Error("pending not cleared after failed round")
	}
}

func TestRoleDisconnected_ClearsPending(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_ = f.coord.SubmitInput(ctx, "player1", "waiting move")
	f.coord.RoleDisconnected("player1")

	doc := f.coord.Snapshot("player1")
	if len(doc.Pending) != 0 {
		t.Fatalf("pending = %+v, want empty after disconnect", doc.Pending)
	}

	// The round must not fire when the other player submits alone.
	_ = f.coord.SubmitInput(ctx, "player2", "go")
	time.Sleep(50 * time.Millisecond)
	if f.gen.callCount() != 0 {
		t.Error("round fired with a missing input")
	}
}

func TestOverflow_SummarisesOnceThenProceeds(t *testing.T) {
	f := newFixture(t, 1)
	// Enough history to blow the additive estimate.
	for i := 0; i < 30; i++ {
		f.coord.doc.History = append(f.coord.doc.History,
			state.HistoryRecord{Kind: state.RecordAI, Text: strings.Repeat("x", 400)})
	}
	f.coord.doc.SystemPrompt = strings.Repeat("s", 3000)

	_ = f.coord.SubmitInput(context.Background(), "player1", "act")
	f.notify.waitNarration(t)

	if f.summ.callCount() != 1 {
		t.Errorf("summariser called %d times, want 1", f.summ.callCount())
	}
	doc := f.coord.Snapshot("")
	if doc.Summary != "condensed" {
		t.Errorf("summary = %q, want condensed", doc.Summary)
	}
}

func TestOverflow_SummariserFailureIsBestEffort(t *testing.T) {
	f := newFixture(t, 1)
	f.summ.err = errors.New("summary backend down")
	f.coord.doc.SystemPrompt = strings.Repeat("s", prompt.ContextCharBudget)

	_ = f.coord.SubmitInput(context.Background(), "player1", "act")
	narration := f.notify.waitNarration(t)

	if narration != "the story continues" {
		t.Errorf("narration = %q, round should proceed despite summary failure", narration)
	}
}

func TestNoOverflow_SkipsSummariser(t *testing.T) {
	f := newFixture(t, 1)

	_ = f.coord.SubmitInput(context.Background(), "player1", "act")
	f.notify.waitNarration(t)

	if f.summ.callCount() != 0 {
		t.Errorf("summariser called %d times, want 0", f.summ.callCount())
	}
}

func TestEndToEnd_TwoPlayerRounds(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		if err := f.coord.SubmitInput(ctx, "player1", "move A"); err != nil {
			t.Fatalf("round %d p1: %v", round, err)
		}
		if err := f.coord.SkipTurn(ctx, "player2"); err != nil {
			t.Fatalf("round %d p2: %v", round, err)
		}
		f.notify.waitNarration(t)
	}

	doc := f.coord.Snapshot("")
	if len(doc.History) != 6 {
		t.Fatalf("len(History) = %d, want 6 after three rounds", len(doc.History))
	}
	for i := 0; i < 6; i += 2 {
		if doc.History[i].Kind != state.RecordRound || doc.History[i+1].Kind != state.RecordAI {
			t.Errorf("pair %d kinds = %v, %v", i/2, doc.History[i].Kind, doc.History[i+1].Kind)
		}
	}
	// Every mutation was written through.
	if f.store.saves == 0 {
		t.Error("no writes reached the store")
	}
}

// snapshotNotifier reads back through the coordinator on every callback, the
// way the websocket hub does when it fans out per-viewer state.
type snapshotNotifier struct {
	coord *Coordinator
	seen  chan *state.Document
}

func (n *snapshotNotifier) StateChanged() { n.seen <- n.coord.Snapshot("player1") }

func (n *snapshotNotifier) Status(string) { _ = n.coord.Snapshot("") }

func (n *snapshotNotifier) Narration(string) { _ = n.coord.Snapshot("") }

func TestNotifications_DeliveredWithoutLock(t *testing.T) {
	doc := state.NewDocument()
	doc.PlayerCount = 1
	notify := &snapshotNotifier{seen: make(chan *state.Document, 16)}
	coord := New(doc, &memStore{}, &fakeGen{result: engine.Result{Text: "done"}}, &fakeSumm{}, notify, testMetrics(t), slog.New(slog.DiscardHandler))
	notify.coord = coord

	done := make(chan error, 1)
	go func() {
		if err := coord.UpdateProfile("player1", "Ash", "", ""); err != nil {
			done <- err
			return
		}
		if err := coord.StartSession(); err != nil {
			done <- err
			return
		}
		done <- coord.SubmitInput(context.Background(), "player1", "opens the gate")
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("mutation never returned; notifier blocked against the coordinator")
	}

	// The snapshot taken during the profile broadcast already carries the
	// committed change.
	snap := <-notify.seen
	if !snap.Profiles["player1"].Locked || snap.Profiles["player1"].Name != "Ash" {
		t.Errorf("broadcast snapshot = %+v, want locked profile Ash", snap.Profiles["player1"])
	}
}
