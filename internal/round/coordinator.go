// Package round implements the turn cycle at the heart of the server: it
// collects one pending input per active player, fires resolution exactly once
// when the set completes, and commits the resulting narration to history.
//
// The Coordinator owns the session document. Every read and write goes
// through its mutex; the only work done off-lock is the model call itself,
// which operates on a deep snapshot. A round in flight blocks further
// submissions but nothing else.
package round

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/reverie-rp/reverie/internal/engine"
	"github.com/reverie-rp/reverie/internal/observe"
	"github.com/reverie-rp/reverie/internal/prompt"
	"github.com/reverie-rp/reverie/internal/state"
	"github.com/reverie-rp/reverie/internal/summary"
)

var (
	// ErrNotStarted is returned for player input before the session starts.
	ErrNotStarted = errors.New("round: session not started")

	// ErrRoundInFlight is returned while a previous round is being resolved.
	ErrRoundInFlight = errors.New("round: resolution in progress")

	// ErrAlreadySubmitted is returned when a role resubmits before the round
	// resolves. The first submission stands.
	ErrAlreadySubmitted = errors.New("round: input already submitted")

	// ErrInactiveRole is returned for input from a role outside the current
	// player count.
	ErrInactiveRole = errors.New("round: role not active")

	// ErrEmptyInput is returned for whitespace-only submissions.
	ErrEmptyInput = errors.New("round: empty input")
)

// Generator produces narration from assembled context. Implemented by
// [engine.Engine]; tests substitute their own.
type Generator interface {
	Generate(ctx context.Context, a prompt.Assembled, modelID string) (engine.Result, error)
}

// Notifier receives session events for broadcast to connected clients.
// Notifications are always delivered with the coordinator's lock released,
// so implementations are free to call back into the Coordinator — the hub
// does exactly that when it snapshots per-viewer state.
type Notifier interface {
	// StateChanged signals that the document changed and clients should
	// refresh their snapshot.
	StateChanged()

	// Status carries a transient status line, such as the waiting notice.
	Status(msg string)

	// Narration delivers a freshly committed AI record.
	Narration(text string)
}

// Coordinator drives the round cycle and mediates all document mutation.
type Coordinator struct {
	mu       sync.Mutex
	doc      *state.Document
	inFlight bool

	store   state.Store
	gen     Generator
	summ    summary.Summariser
	notify  Notifier
	metrics *observe.Metrics
	log     *slog.Logger
}

// New creates a coordinator around an already-loaded document. metrics may
// not be nil; pass [observe.DefaultMetrics].
func New(doc *state.Document, store state.Store, gen Generator, summ summary.Summariser, notify Notifier, metrics *observe.Metrics, log *slog.Logger) *Coordinator {
	doc.Normalize()
	return &Coordinator{
		doc:     doc,
		store:   store,
		gen:     gen,
		summ:    summ,
		notify:  notify,
		metrics: metrics,
		log:     log,
	}
}

// Snapshot returns a deep copy of the document redacted for the given
// viewer. Pass an empty role for a spectator view.
func (c *Coordinator) Snapshot(viewer state.Role) *state.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Redacted(viewer)
}

// mutate runs fn with the document locked, then broadcasts a state refresh.
// The notification happens after the lock is released so the notifier can
// re-enter the coordinator (Snapshot in particular) without deadlocking.
func (c *Coordinator) mutate(fn func() error) error {
	c.mu.Lock()
	err := fn()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notify.StateChanged()
	return nil
}

// SubmitInput records one player's action for the current round. The text is
// clipped to the input limit. When this submission completes the round, the
// resolution runs asynchronously; SubmitInput returns as soon as the input is
// persisted.
func (c *Coordinator) SubmitInput(ctx context.Context, role state.Role, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}
	return c.accept(ctx, role, state.Clip(text, state.MaxInputChars))
}

// SkipTurn records the skip sentinel for a role. A skip fills the role's
// pending slot exactly like a submission, so an all-skip round still fires.
func (c *Coordinator) SkipTurn(ctx context.Context, role state.Role) error {
	return c.accept(ctx, role, state.SkipSentinel)
}

func (c *Coordinator) accept(ctx context.Context, role state.Role, text string) error {
	c.mu.Lock()

	var err error
	switch {
	case !c.doc.Started:
		err = ErrNotStarted
	case !c.roleActive(role):
		err = fmt.Errorf("%w: %s", ErrInactiveRole, role)
	case c.inFlight:
		err = ErrRoundInFlight
	default:
		if _, dup := c.doc.Pending[role]; dup {
			err = ErrAlreadySubmitted
		}
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.doc.Pending[role] = state.PendingInput{Text: text, SubmittedAt: time.Now()}
	c.persistLocked()

	complete := c.roundCompleteLocked()
	var notice string
	if complete {
		c.inFlight = true
	} else {
		notice = c.waitingNoticeLocked()
	}
	c.mu.Unlock()

	c.notify.StateChanged()
	if complete {
		go c.resolve(context.WithoutCancel(ctx))
	} else {
		c.notify.Status(notice)
	}
	return nil
}

// RoleDisconnected clears the role's pending input so a vanished player does
// not wedge the round. A round already in flight is unaffected; it resolves
// with the input the player gave.
func (c *Coordinator) RoleDisconnected(role state.Role) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return
	}
	if _, ok := c.doc.Pending[role]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.doc.Pending, role)
	c.persistLocked()
	notice := c.waitingNoticeLocked()
	c.mu.Unlock()

	c.log.Info("pending input cleared on disconnect", "role", role)
	c.notify.StateChanged()
	c.notify.Status(notice)
}

// resolve runs one round to completion: snapshot, optional summarisation,
// generation, commit. Called with inFlight already set; clears it on exit.
func (c *Coordinator) resolve(ctx context.Context) {
	start := time.Now()

	c.mu.Lock()
	snapshot := c.doc.Clone()
	c.mu.Unlock()

	inputs := roundInputs(snapshot)
	roundText := renderRound(inputs)

	c.notify.Status("Resolving round...")

	if prompt.WouldOverflow(snapshot, roundText) {
		c.condense(ctx, snapshot)
	}

	assembled := prompt.Build(snapshot, inputs)
	res, err := c.gen.Generate(ctx, assembled, snapshot.ActiveModel)

	status := "ok"
	aiText := res.Text
	if err != nil {
		status = "error"
		aiText = fmt.Sprintf("[error] %v", err)
		c.log.Error("round generation failed", "model", snapshot.ActiveModel, "error", err)
	}

	now := time.Now()
	c.mu.Lock()
	c.doc.History = append(c.doc.History,
		state.HistoryRecord{Kind: state.RecordRound, Text: roundText, At: now},
		state.HistoryRecord{Kind: state.RecordAI, Text: aiText, At: now},
	)
	c.doc.Pending = map[state.Role]state.PendingInput{}
	c.inFlight = false
	c.persistLocked()
	c.mu.Unlock()

	c.metrics.RecordRound(ctx, time.Since(start).Seconds(), status, res.Fallback)
	c.log.Info("round resolved",
		"status", status,
		"provider", res.Provider,
		"duration", time.Since(start),
		"history_len", len(snapshot.History)+2)

	c.notify.Narration(aiText)
	c.notify.StateChanged()
}

// condense runs one summarisation pass and writes the result through. On
// failure the round proceeds with the oversized context best-effort.
func (c *Coordinator) condense(ctx context.Context, snapshot *state.Document) {
	start := time.Now()
	newSummary, err := c.summ.Summarise(ctx, snapshot.Summary, snapshot.History)
	c.metrics.SummariseDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.log.Warn("summarisation failed, proceeding with full context", "error", err)
		return
	}
	c.metrics.Summarisations.Add(ctx, 1)

	c.mu.Lock()
	c.doc.Summary = newSummary
	c.persistLocked()
	c.mu.Unlock()

	snapshot.Summary = newSummary
	c.log.Info("history condensed", "summary_chars", len(newSummary))
	c.notify.StateChanged()
}

// roleActive reports whether role participates at the current player count.
// Callers hold c.mu.
func (c *Coordinator) roleActive(role state.Role) bool {
	for _, r := range c.doc.ActiveRoles() {
		if r == role {
			return true
		}
	}
	return false
}

// roundCompleteLocked reports whether every active role has a pending input.
func (c *Coordinator) roundCompleteLocked() bool {
	for _, r := range c.doc.ActiveRoles() {
		if _, ok := c.doc.Pending[r]; !ok {
			return false
		}
	}
	return true
}

// waitingNoticeLocked names the roles still owed input, in canonical order.
func (c *Coordinator) waitingNoticeLocked() string {
	var missing []string
	for _, r := range c.doc.ActiveRoles() {
		if _, ok := c.doc.Pending[r]; !ok {
			missing = append(missing, c.doc.DisplayName(r))
		}
	}
	if len(missing) == 0 {
		return "All inputs received."
	}
	return "Waiting for: " + strings.Join(missing, ", ")
}

// persistLocked writes the document through to the store. Persistence
// failures are logged, not propagated: the in-memory document remains the
// source of truth for the session.
func (c *Coordinator) persistLocked() {
	if err := c.store.Save(c.doc); err != nil {
		c.log.Error("document save failed", "error", err)
	}
}

// roundInputs orders the snapshot's pending inputs canonically.
func roundInputs(doc *state.Document) []prompt.RoundInput {
	var out []prompt.RoundInput
	for _, r := range doc.ActiveRoles() {
		out = append(out, prompt.RoundInput{
			Role: r,
			Name: doc.DisplayName(r),
			Text: doc.Pending[r].Text,
		})
	}
	return out
}

// renderRound renders the round history record: one tagged line per player.
func renderRound(inputs []prompt.RoundInput) string {
	lines := make([]string, 0, len(inputs))
	for _, in := range inputs {
		lines = append(lines, fmt.Sprintf("<%s>: %s", in.Name, in.Text))
	}
	return strings.Join(lines, "\n")
}
