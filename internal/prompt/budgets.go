package prompt

// Prompt budgets are measured in characters, not tokens. This is a deliberate
// approximation: the additive character sum tracks provider cost closely
// enough for a chat of this size, and keeping it cheap means it can run on
// every submission. Do not replace with token-accurate accounting.
const (
	// ContextCharBudget is the total assembled prompt budget.
	ContextCharBudget = 14000

	// HistorySoftLimitChars caps how much raw history the window may include.
	HistorySoftLimitChars = 9500

	// OverflowMarginChars is a fixed safety margin added to every size
	// estimate to cover labels, framing text, and serialisation overhead.
	OverflowMarginChars = 2000

	// MaxLoreMatches caps how many lorebook entries a single round may inject.
	MaxLoreMatches = 3

	// SummaryTailRecords is how many trailing history records feed one
	// summarisation pass. It covers many rounds.
	SummaryTailRecords = 60

	// ReplyMaxTokens caps the narration length for message-list providers.
	ReplyMaxTokens = 1100
)
