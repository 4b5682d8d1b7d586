package task

import (
	"fmt"
	"sort"
	"strings"
)

// Canonical status names.
const (
	StatusTodo       = "Todo"
	StatusInProgress = "In progress"
	StatusCompleted  = "Completed"
	StatusOverdue    = "Overdue"
	StatusCancelled  = "Cancelled"
)

// Emoji styles selectable for emitted summaries.
const (
	StyleEmoji  = "emoji"
	StyleSymbol = "symbol"
)

// statusVariants maps each canonical status to its accepted input aliases.
var statusVariants = map[string][]string{
	StatusTodo:       {"Todo", "To Do", "Not started"},
	StatusInProgress: {"In progress", "Pinned"},
	StatusCompleted:  {"Completed", "Done"},
	StatusOverdue:    {"Overdue"},
	StatusCancelled:  {"Cancelled", "Discarded"},
}

// statusEmojiSets holds the per-style emission tables.
var statusEmojiSets = map[string]map[string]string{
	StyleEmoji: {
		StatusTodo:       "⬜",
		StatusInProgress: "⚙️",
		StatusCompleted:  "✅",
		StatusOverdue:    "⚠️",
		StatusCancelled:  "❌",
	},
	StyleSymbol: {
		StatusTodo:       "○",
		StatusInProgress: "⊖",
		StatusCompleted:  "✓⃝",
		StatusOverdue:    "⊜",
		StatusCancelled:  "⊗",
	},
}

var (
	statusAliasLookup map[string]string
	emojiToStatus     map[string]string
	emojiPrefixes     []string
	statusPrefixes    []string
)

func init() {
	statusAliasLookup = make(map[string]string)
	for canonical, variants := range statusVariants {
		statusAliasLookup[strings.ToLower(canonical)] = canonical
		for _, variant := range variants {
			statusAliasLookup[strings.ToLower(strings.TrimSpace(variant))] = canonical
		}
	}

	// The parse table merges every style so events emitted under either
	// style round-trip.
	emojiToStatus = make(map[string]string)
	for _, set := range statusEmojiSets {
		for canonical, emoji := range set {
			emojiToStatus[strings.TrimSpace(emoji)] = canonical
		}
	}
	for emoji := range emojiToStatus {
		emojiPrefixes = append(emojiPrefixes, emoji)
	}
	// Longest first so multi-rune emoji match before their base rune.
	sort.Slice(emojiPrefixes, func(i, j int) bool {
		if len(emojiPrefixes[i]) != len(emojiPrefixes[j]) {
			return len(emojiPrefixes[i]) > len(emojiPrefixes[j])
		}
		return emojiPrefixes[i] < emojiPrefixes[j]
	})

	seen := make(map[string]bool)
	for _, variants := range statusVariants {
		for _, variant := range variants {
			v := strings.TrimSpace(variant)
			if v == "" || seen[strings.ToLower(v)] {
				continue
			}
			seen[strings.ToLower(v)] = true
			statusPrefixes = append(statusPrefixes, v)
		}
	}
	sort.Slice(statusPrefixes, func(i, j int) bool {
		if len(statusPrefixes[i]) != len(statusPrefixes[j]) {
			return len(statusPrefixes[i]) > len(statusPrefixes[j])
		}
		return statusPrefixes[i] < statusPrefixes[j]
	})
}

// NormalizeStatus canonicalizes a status alias. Unknown values are returned
// trimmed rather than dropped.
func NormalizeStatus(status string) string {
	trimmed := strings.TrimSpace(status)
	if trimmed == "" {
		return ""
	}
	if canonical, ok := statusAliasLookup[strings.ToLower(trimmed)]; ok {
		return canonical
	}
	return trimmed
}

// ResolveEmojiStyle validates an emoji style name.
func ResolveEmojiStyle(style string) (string, error) {
	candidate := strings.ToLower(strings.TrimSpace(style))
	switch candidate {
	case StyleEmoji, StyleSymbol:
		return candidate, nil
	case "":
		return "", fmt.Errorf("status emoji style is required (expected %q or %q)", StyleEmoji, StyleSymbol)
	default:
		return "", fmt.Errorf("invalid status emoji style %q (expected %q or %q)", style, StyleEmoji, StyleSymbol)
	}
}

// StatusEmoji returns the emission emoji for a status under the given
// style. Unknown statuses yield an empty string.
func StatusEmoji(status, style string) string {
	canonical := NormalizeStatus(status)
	if canonical == "" {
		return ""
	}
	set, ok := statusEmojiSets[style]
	if !ok {
		return ""
	}
	return strings.TrimSpace(set[canonical])
}

// ExtractSummaryStatus recovers the status encoded at the head of an event
// summary and returns it with the remaining title. The leading token and
// any emoji prefix from either style are recognized.
func ExtractSummaryStatus(summary string) (status, title string) {
	if summary == "" {
		return "", ""
	}
	if head, tail, ok := strings.Cut(summary, " "); ok {
		if canonical, found := emojiToStatus[head]; found {
			return canonical, strings.TrimLeft(tail, " ")
		}
	}
	for _, emoji := range emojiPrefixes {
		if strings.HasPrefix(summary, emoji) {
			return emojiToStatus[emoji], strings.TrimLeft(summary[len(emoji):], " ")
		}
	}
	return "", summary
}

// titleSeparators are the characters a prior round trip may have left
// between a status prefix and the title.
const titleSeparators = " -–—:|"

// CleanTitle strips a leading status emoji or status-word prefix left by a
// prior round trip, plus any separators after it.
func CleanTitle(title string) string {
	working := strings.TrimLeft(title, " ")
	for _, emoji := range emojiPrefixes {
		if strings.HasPrefix(working, emoji) {
			working = strings.TrimLeft(working[len(emoji):], " ")
			break
		}
	}
	for _, prefix := range statusPrefixes {
		if len(working) < len(prefix) || !strings.EqualFold(working[:len(prefix)], prefix) {
			continue
		}
		remainder := strings.TrimLeft(working[len(prefix):], titleSeparators)
		if remainder != "" {
			return remainder
		}
		return strings.TrimSpace(working[len(prefix):])
	}
	return working
}
