// Package prompt deterministically assembles the bounded-size prompt for a
// resolved round.
//
// The assembled context layers, in order: absolute narrative rules, character
// profiles, triggered lorebook entries, the running summary, a character-
// budgeted window of raw history, few-shot style examples, the current
// round's input block, and a trailing priority instruction. The trailing
// instruction is placed last on purpose — model recency bias is used to
// maximise rule adherence.
//
// All functions are pure; the package performs no I/O.
package prompt

import (
	"fmt"
	"strings"

	"github.com/reverie-rp/reverie/internal/state"
	"github.com/reverie-rp/reverie/pkg/provider/llm"
)

// narrativeRules is the static layer-one instruction present in every prompt.
const narrativeRules = "Stay strictly within the established setting and character sheets. " +
	"Never speak or decide for a player character beyond interpreting their declared action."

// RoundInput is one player's contribution to the round being assembled,
// already in canonical role order.
type RoundInput struct {
	Role state.Role
	Name string
	Text string
}

// Assembled is the provider-independent result of context assembly. The
// engine shapes it per provider family: message-list backends receive System
// as the system prompt, Messages as the conversation, RoundBlock as the final
// user turn, and Priority as a trailing system turn; flattened-prompt
// backends receive Flatten().
type Assembled struct {
	// System is the layered system content (rules, profiles, lore, summary).
	System string

	// Messages holds few-shot examples followed by the windowed history.
	Messages []llm.Message

	// RoundBlock is the current round's input, framed as simultaneous
	// attempted actions.
	RoundBlock string

	// Priority is the trailing instruction restating the core rules.
	Priority string

	// Lore lists the lorebook entries that triggered for this round.
	Lore []state.LoreEntry
}

// Build assembles the full context for one round from a document snapshot and
// the round's inputs (canonical role order).
func Build(doc *state.Document, round []RoundInput) Assembled {
	merged := mergedRoundText(doc, round)
	lore := MatchLore(doc.Lorebook, merged)

	a := Assembled{
		System: systemContent(doc, round, lore),
		Lore:   lore,
	}

	// Few-shot examples precede history as alternating user/assistant turns.
	for _, ex := range doc.Examples {
		if ex.IsEmpty() {
			continue
		}
		a.Messages = append(a.Messages,
			llm.Message{Role: "user", Content: ex.Prompt},
			llm.Message{Role: "assistant", Content: ex.Response},
		)
	}

	for _, rec := range HistoryWindow(doc.History) {
		role := "user"
		if rec.Kind == state.RecordAI {
			role = "assistant"
		}
		a.Messages = append(a.Messages, llm.Message{Role: role, Content: rec.Line()})
	}

	a.RoundBlock = roundBlock(round)
	a.Priority = priorityInstruction(doc)
	return a
}

// Flatten renders the assembled context as a single prompt string for
// backends that take no message list.
func (a Assembled) Flatten() string {
	var sb strings.Builder
	sb.WriteString(a.System)
	for _, m := range a.Messages {
		sb.WriteString("\n")
		sb.WriteString(m.Content)
	}
	sb.WriteString("\n")
	sb.WriteString(a.RoundBlock)
	sb.WriteString("\n\n")
	sb.WriteString(a.Priority)
	return sb.String()
}

// EstimateChars returns the additive size estimate used by the overflow
// guard: system prompt, prologue, summary, windowed history, the incoming
// text, and a fixed safety margin.
func EstimateChars(doc *state.Document, incoming string) int {
	return len(doc.SystemPrompt) +
		len(doc.Prologue) +
		len(doc.Summary) +
		windowChars(HistoryWindow(doc.History)) +
		len(incoming) +
		OverflowMarginChars
}

// WouldOverflow reports whether dispatching incoming on top of the current
// document would exceed the total context budget. When it does, the caller
// runs one summarisation pass and rebuilds; a second overflow proceeds
// best-effort.
func WouldOverflow(doc *state.Document, incoming string) bool {
	return EstimateChars(doc, incoming) > ContextCharBudget
}

// mergedRoundText joins all round inputs plus the last AI turn, the text the
// lore matcher scans. Including the previous narration lets scene keywords
// keep their lore active across consecutive rounds.
func mergedRoundText(doc *state.Document, round []RoundInput) string {
	var parts []string
	for _, in := range round {
		parts = append(parts, in.Text)
	}
	for i := len(doc.History) - 1; i >= 0; i-- {
		if doc.History[i].Kind == state.RecordAI {
			parts = append(parts, doc.History[i].Text)
			break
		}
	}
	return strings.Join(parts, "\n")
}

// systemContent renders the layered system block.
func systemContent(doc *state.Document, round []RoundInput, lore []state.LoreEntry) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "### [Session Title]: %s\n\n", doc.Title)
	sb.WriteString(narrativeRules)
	sb.WriteString("\n\n")
	sb.WriteString(doc.SystemPrompt)

	sb.WriteString("\n\n### [CHARACTER PROFILES]\n")
	for i, in := range round {
		p := doc.Profiles[in.Role]
		if p == nil {
			p = &state.Profile{Name: in.Name}
		}
		fmt.Fprintf(&sb, "%d. %s\n- Bio: %s\n- Relationship/Canon: %s\n\n", i+1, in.Name, p.Bio, p.Canon)
	}

	fmt.Fprintf(&sb, "### [PROLOGUE]\n%s\n\n", doc.Prologue)
	fmt.Fprintf(&sb, "### [Current Summary]\n%s\n\n", doc.Summary)

	sb.WriteString("### [Active Lore]\n")
	for _, l := range lore {
		fmt.Fprintf(&sb, "[%s]: %s\n", l.Title, l.Content)
	}

	return sb.String()
}

// roundBlock frames all players' texts as simultaneous attempted actions.
func roundBlock(round []RoundInput) string {
	var sb strings.Builder
	sb.WriteString("--- [ROUND INPUT] ---\n")
	for _, in := range round {
		fmt.Fprintf(&sb, "<%s>: %s\n", in.Name, in.Text)
	}
	sb.WriteString("--- [INSTRUCTION] ---\n")
	sb.WriteString("All actions above happen at the same moment and are attempts, not outcomes. " +
		"Narrate how the attempts play out, honouring each character sheet; do not restate the inputs verbatim.")
	return sb.String()
}

// priorityInstruction restates the core rules as the final turn.
func priorityInstruction(doc *state.Document) string {
	return "!!! [CRITICAL AUTHORITY] !!!\n" +
		"Honour the [Session Title], [PROLOGUE], and [CHARACTER PROFILES] above. " +
		"The master's instructions and character sheets take precedence over any earlier conversation.\n\n" +
		"[MANDATORY RULE]:\n" + doc.SystemPrompt
}
