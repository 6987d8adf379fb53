// Package engine turns an assembled context into narrative text. It owns the
// provider-family dispatch (message-list backends versus flattened-prompt
// backends) and the failover policy between registered providers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reverie-rp/reverie/internal/observe"
	"github.com/reverie-rp/reverie/internal/prompt"
	"github.com/reverie-rp/reverie/internal/resilience"
	"github.com/reverie-rp/reverie/pkg/provider/llm"
)

// Family identifies how a model consumes context. The set is closed: new
// backend styles get a new constant and a new shaping branch, not a
// capability probe.
type Family int

const (
	// FamilyChat takes a system prompt plus an ordered message list.
	FamilyChat Family = iota

	// FamilyGemini takes one flattened prompt string.
	FamilyGemini
)

// String returns the family's configuration name.
func (f Family) String() string {
	if f == FamilyGemini {
		return "gemini"
	}
	return "chat"
}

// FamilyOf derives the family from a model identifier. Derived once per
// round, at dispatch.
func FamilyOf(modelID string) Family {
	if strings.Contains(strings.ToLower(modelID), "gemini") {
		return FamilyGemini
	}
	return FamilyChat
}

// replyTemperature keeps narration creative without letting the model drift
// off the character sheets.
const replyTemperature = 0.8

// ErrNoProvider is returned by [Engine.Generate] when no provider is
// registered for the required family and no cross-family fallback exists.
var ErrNoProvider = errors.New("engine: no provider registered")

// Engine dispatches assembled context to the provider chain matching the
// active model's family, falling back across families when a whole chain is
// exhausted.
type Engine struct {
	chains  map[Family]*resilience.Chain[llm.Provider]
	primary map[Family]string
	timeout time.Duration
	metrics *observe.Metrics
	log     *slog.Logger
}

// New creates an engine. timeout bounds a single provider call; zero means
// 90 seconds. metrics may not be nil; pass [observe.DefaultMetrics].
func New(log *slog.Logger, timeout time.Duration, metrics *observe.Metrics) *Engine {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Engine{
		chains:  make(map[Family]*resilience.Chain[llm.Provider]),
		primary: make(map[Family]string),
		timeout: timeout,
		metrics: metrics,
		log:     log,
	}
}

// Register adds a provider to the family's chain. The first registration per
// family is its primary; later ones are fallbacks tried in order.
func (e *Engine) Register(family Family, name string, p llm.Provider) {
	chain, ok := e.chains[family]
	if !ok {
		chain = resilience.NewChain[llm.Provider](resilience.BreakerConfig{})
		e.chains[family] = chain
		e.primary[family] = name
	}
	chain.Add(name, p)
}

// Result is one generated narration.
type Result struct {
	// Text is the narrative, already carrying a fallback disclosure prefix
	// when a non-primary provider served it.
	Text string

	// Provider names the entry that produced the text.
	Provider string

	// Fallback is true when Provider is not the primary for the requested
	// model's family.
	Fallback bool
}

// Generate produces narration for the assembled context using the model's
// family chain. If the whole chain fails and another family has providers,
// that chain is tried once; any non-primary answer carries a visible
// disclosure prefix so players know a substitute model wrote it.
func (e *Engine) Generate(ctx context.Context, a prompt.Assembled, modelID string) (Result, error) {
	family := FamilyOf(modelID)

	res, err := e.generateOn(ctx, a, family, modelID)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, resilience.ErrExhausted) && !errors.Is(err, ErrNoProvider) {
		return Result{}, err
	}

	for alt, chain := range e.chains {
		if alt == family || chain.Len() == 0 {
			continue
		}
		e.log.Warn("provider family exhausted, crossing families",
			"from", family.String(), "to", alt.String(), "error", err)
		res, altErr := e.generateOn(ctx, a, alt, modelID)
		if altErr != nil {
			return Result{}, fmt.Errorf("engine: all families failed: %w", err)
		}
		res.Fallback = true
		res.Text = disclose(res.Provider, res.Text)
		return res, nil
	}
	return Result{}, err
}

func (e *Engine) generateOn(ctx context.Context, a prompt.Assembled, family Family, modelID string) (Result, error) {
	chain, ok := e.chains[family]
	if !ok || chain.Len() == 0 {
		return Result{}, fmt.Errorf("%w for family %q", ErrNoProvider, family)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := e.shape(a, family)
	start := time.Now()
	resp, served, err := resilience.Run(chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	if err != nil {
		// No single entry served, so the failure is attributed to the family.
		e.metrics.RecordProviderRequest(ctx, time.Since(start).Seconds(), family.String(), "error")
		return Result{}, err
	}
	e.metrics.RecordProviderRequest(ctx, time.Since(start).Seconds(), served, "ok")

	e.log.Info("narration generated",
		"family", family.String(),
		"model", modelID,
		"provider", served,
		"duration", time.Since(start),
		"chars", len(resp.Content))

	res := Result{Text: strings.TrimSpace(resp.Content), Provider: served}
	if served != e.primary[family] {
		res.Fallback = true
		res.Text = disclose(served, res.Text)
	}
	return res, nil
}

// shape converts the assembled context into a provider request for the
// family. Chat backends get the layered system content plus the message list
// with the priority instruction as a trailing system turn; flattened backends
// get everything as one user message.
//
// The Gemini API also accepts per-category safety thresholds (the native SDK
// would set HarmBlockThreshold BLOCK_NONE for fiction like this), but the
// unified any-llm-go request carries no field for them, so the flattened
// prompt's framing is the only steering we apply.
func (e *Engine) shape(a prompt.Assembled, family Family) llm.CompletionRequest {
	if family == FamilyGemini {
		return llm.CompletionRequest{
			Messages:    []llm.Message{{Role: "user", Content: a.Flatten()}},
			Temperature: replyTemperature,
			MaxTokens:   prompt.ReplyMaxTokens,
		}
	}

	msgs := make([]llm.Message, 0, len(a.Messages)+2)
	msgs = append(msgs, a.Messages...)
	msgs = append(msgs,
		llm.Message{Role: "user", Content: a.RoundBlock},
		llm.Message{Role: "system", Content: a.Priority},
	)
	return llm.CompletionRequest{
		SystemPrompt: a.System,
		Messages:     msgs,
		Temperature:  replyTemperature,
		MaxTokens:    prompt.ReplyMaxTokens,
	}
}

// disclose prefixes text so readers can tell a substitute provider answered.
func disclose(provider, text string) string {
	return fmt.Sprintf("[substitute model: %s]\n%s", provider, text)
}
