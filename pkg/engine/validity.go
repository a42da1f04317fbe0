package engine

import "strings"

// DefaultMinValidWords is the minimum word count for a generator output to
// count as a real iteration.
const DefaultMinValidWords = 10

// Placeholder outputs a model emits instead of content.
var placeholderOutputs = map[string]bool{
	"...":                 true,
	"…":                   true,
	"[content continues]": true,
	"[generating...]":     true,
}

// Error sentinels: apology boilerplate that signals a failed generation even
// when the text is long enough.
var errorSentinels = []string{
	"i apologize, but i encountered an error",
	"i'm sorry, but an error occurred",
	"unable to generate",
	"generation failed",
	"error generating",
	"cannot process",
	"failed to process",
}

// ValidOutput is the validity predicate for a generator output: trimmed
// non-empty, not a placeholder, free of error sentinels, and at least
// minWords whitespace-separated words.
func ValidOutput(text string, minWords int) bool {
	if minWords <= 0 {
		minWords = DefaultMinValidWords
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	lower := strings.ToLower(trimmed)
	if placeholderOutputs[lower] {
		return false
	}
	for _, sentinel := range errorSentinels {
		if strings.Contains(lower, sentinel) {
			return false
		}
	}

	return len(strings.Fields(trimmed)) >= minWords
}
