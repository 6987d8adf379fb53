package prompt

import (
	"strings"

	"github.com/reverie-rp/reverie/internal/state"
)

// MatchLore scans text for each entry's trigger keywords and returns the
// matching entries, preserving lorebook order, capped at MaxLoreMatches.
//
// Triggers are comma-separated; matching is case-insensitive substring with
// any-of semantics. Entries whose trigger list is empty never match.
func MatchLore(book []state.LoreEntry, text string) []state.LoreEntry {
	haystack := strings.ToLower(text)

	var matched []state.LoreEntry
	for _, entry := range book {
		if triggered(entry, haystack) {
			matched = append(matched, entry)
			if len(matched) == MaxLoreMatches {
				break
			}
		}
	}
	return matched
}

// triggered reports whether any of the entry's triggers appears in the
// lower-cased haystack.
func triggered(entry state.LoreEntry, haystack string) bool {
	for _, raw := range strings.Split(entry.Triggers, ",") {
		t := strings.ToLower(strings.TrimSpace(raw))
		if t == "" {
			continue
		}
		if strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}
