package provider

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Tool-call arguments arrive as free-form strings from models that do not
// honor strict JSON. parseToolArguments tries strict JSON first, then a fixed
// order of tolerant repairs, and reports which strategy succeeded so the
// behavior is observable downstream.

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

var pythonLiteralReplacer = strings.NewReplacer(
	"'", `"`,
	"True", "true",
	"False", "false",
	"None", "null",
)

type parseStrategy struct {
	name string
	fn   func(string) string
}

// Strategy order matters: each later strategy is more aggressive than the
// previous and may corrupt inputs an earlier one would handle.
var parseStrategies = []parseStrategy{
	{"strict", func(s string) string { return s }},
	{"trailing_commas", func(s string) string { return trailingCommaRe.ReplaceAllString(s, "$1") }},
	{"single_quotes", func(s string) string { return strings.ReplaceAll(s, "'", `"`) }},
	{"literal", pythonLiteralReplacer.Replace},
	{"bare_keys", func(s string) string {
		s = bareKeyRe.ReplaceAllString(s, `$1"$2":`)
		s = strings.ReplaceAll(s, "'", `"`)
		return trailingCommaRe.ReplaceAllString(s, "$1")
	}},
}

// parseToolArguments parses raw tool-call arguments into a structured map.
// Returns the parsed map and the name of the succeeding strategy, or an error
// after every strategy failed.
func parseToolArguments(raw string) (map[string]any, string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, "strict", nil
	}

	var lastErr error
	for _, s := range parseStrategies {
		candidate := s.fn(trimmed)
		var out map[string]any
		if err := json.Unmarshal([]byte(candidate), &out); err != nil {
			lastErr = err
			continue
		}
		return out, s.name, nil
	}
	return nil, "", fmt.Errorf("all parse strategies failed: %w", lastErr)
}

// newFunctionCall builds a FunctionCall from a raw argument string, attaching
// a ParseError when no strategy succeeds.
func newFunctionCall(name, rawArgs string) FunctionCall {
	call := FunctionCall{Name: name, Raw: rawArgs}
	args, strategy, err := parseToolArguments(rawArgs)
	if err != nil {
		call.Err = &ParseError{Call: name, Raw: rawArgs, Err: err}
		return call
	}
	call.Arguments = args
	call.ParseStrategy = strategy
	return call
}
