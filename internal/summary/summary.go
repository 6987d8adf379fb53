// Package summary condenses raw session history into the running summary
// carried in the document. Summarisation is triggered by the overflow guard,
// never on a schedule.
package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/reverie-rp/reverie/internal/prompt"
	"github.com/reverie-rp/reverie/internal/state"
	"github.com/reverie-rp/reverie/pkg/provider/llm"
)

// Summariser produces a replacement running summary from the prior summary
// plus recent history records.
type Summariser interface {
	Summarise(ctx context.Context, prior string, history []state.HistoryRecord) (string, error)
}

// summariserTemperature keeps condensation output factual rather than
// creative.
const summariserTemperature = 0.3

const summariserSystem = "You condense roleplay session logs. Keep established facts, " +
	"completed actions, and each character's current goal. Drop dialogue flavour and " +
	"repetition. Write a single compact paragraph in the third person."

// LLMSummariser implements Summariser on top of a completion provider,
// typically a cheaper model than the narrative one.
type LLMSummariser struct {
	provider llm.Provider
	maxChars int
}

var _ Summariser = (*LLMSummariser)(nil)

// New returns a summariser backed by the given provider. Output is clipped to
// the document's summary limit.
func New(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{provider: provider, maxChars: state.MaxSummaryChars}
}

// Summarise condenses the prior summary plus the tail of history into a new
// summary. Only the most recent records are fed in; older ones are assumed
// already represented in the prior summary.
func (s *LLMSummariser) Summarise(ctx context.Context, prior string, history []state.HistoryRecord) (string, error) {
	tail := history
	if len(tail) > prompt.SummaryTailRecords {
		tail = tail[len(tail)-prompt.SummaryTailRecords:]
	}

	var sb strings.Builder
	sb.WriteString("[Existing summary]\n")
	sb.WriteString(prior)
	sb.WriteString("\n\n[Recent log]\n")
	for _, rec := range tail {
		sb.WriteString(rec.Line())
		sb.WriteString("\n")
	}
	sb.WriteString("\n[Task]\nRewrite the summary so it covers both sections above.")

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summariserSystem,
		Messages:     []llm.Message{{Role: "user", Content: sb.String()}},
		Temperature:  summariserTemperature,
		MaxTokens:    s.maxChars,
	})
	if err != nil {
		return "", fmt.Errorf("summary: condense history: %w", err)
	}

	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", fmt.Errorf("summary: provider returned empty summary")
	}
	return state.Clip(out, s.maxChars), nil
}
