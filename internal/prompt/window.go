package prompt

import "github.com/reverie-rp/reverie/internal/state"

// HistoryWindow selects the trailing slice of history that fits within
// HistorySoftLimitChars, preserving chronological order.
//
// It walks from the most recent record backward, accumulating whole records
// until adding the next one would exceed the soft limit, then reverses the
// collected slice. Records are never split: the oldest records are silently
// dropped when they do not fit.
func HistoryWindow(history []state.HistoryRecord) []state.HistoryRecord {
	var collected []state.HistoryRecord
	total := 0

	for i := len(history) - 1; i >= 0; i-- {
		// +1 for the newline joining records in the rendered block.
		add := len(history[i].Line()) + 1
		if total+add > HistorySoftLimitChars {
			break
		}
		collected = append(collected, history[i])
		total += add
	}

	// Restore chronological order.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected
}

// windowChars returns the rendered size of a history window, matching the
// accounting HistoryWindow uses.
func windowChars(window []state.HistoryRecord) int {
	total := 0
	for _, r := range window {
		total += len(r.Line()) + 1
	}
	return total
}
