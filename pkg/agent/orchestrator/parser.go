package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Relaxed tool-call extraction from textual responses. Models that ignore the
// structured tool-call channel still describe consultations in prose: as
// one-line function calls, JSON arrays, single objects, nested
// consultations/calls arrays, or any of those inside fenced code blocks.
// Parsers are tried in priority order; the first that yields calls wins.

// ConsultationRequest is a normalized consult_graduate_specialist invocation.
type ConsultationRequest struct {
	Specialization string
	SpecificTask   string
	Context        string
	Constraints    string
}

// argument aliases accepted during normalization.
var argAliases = map[string]string{
	"specialization":            "specialization",
	"expertise":                 "specialization",
	"specialist":                "specialization",
	"specific_task":             "specific_task",
	"task":                      "specific_task",
	"task_description":          "specific_task",
	"query":                     "specific_task",
	"context_for_specialist":    "context",
	"context":                   "context",
	"problem_constraints":       "constraints",
	"constraints":               "constraints",
	"verification_requirements": "constraints",
}

var (
	oneLineCallRe = regexp.MustCompile(ToolConsultSpecialist + `\s*\(([^)]*)\)`)
	kvArgRe       = regexp.MustCompile(`(\w+)\s*[=:]\s*(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)')`)
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

// ParseToolCalls extracts consultation requests from free-form response text.
func ParseToolCalls(text string) []*ConsultationRequest {
	parsers := []func(string) []*ConsultationRequest{
		parseOneLineCalls,
		parseJSONValue,
		parseFencedBlocks,
		parseAdjacentJSON,
	}
	for _, parse := range parsers {
		if calls := parse(text); len(calls) > 0 {
			return calls
		}
	}
	return nil
}

// NormalizeArguments maps a raw argument map onto the four-field schema,
// accepting common aliases. Returns nil when no task can be recovered.
func NormalizeArguments(args map[string]any) *ConsultationRequest {
	req := &ConsultationRequest{}
	for key, value := range args {
		canonical, ok := argAliases[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		text, ok := value.(string)
		if !ok {
			continue
		}
		switch canonical {
		case "specialization":
			req.Specialization = text
		case "specific_task":
			req.SpecificTask = text
		case "context":
			req.Context = text
		case "constraints":
			req.Constraints = text
		}
	}
	if strings.TrimSpace(req.SpecificTask) == "" {
		return nil
	}
	if strings.TrimSpace(req.Specialization) == "" {
		req.Specialization = "general"
	}
	return req
}

// parseOneLineCalls matches consult_graduate_specialist(key="value", ...)
// patterns.
func parseOneLineCalls(text string) []*ConsultationRequest {
	var calls []*ConsultationRequest
	for _, m := range oneLineCallRe.FindAllStringSubmatch(text, -1) {
		args := map[string]any{}
		for _, kv := range kvArgRe.FindAllStringSubmatch(m[1], -1) {
			value := kv[2]
			if value == "" {
				value = kv[3]
			}
			args[kv[1]] = unescapeQuoted(value)
		}
		if req := NormalizeArguments(args); req != nil {
			calls = append(calls, req)
		}
	}
	return calls
}

// parseJSONValue handles a whole-text JSON value: a top-level array of
// invocations, a single invocation object, or an object nesting a
// consultations/calls array.
func parseJSONValue(text string) []*ConsultationRequest {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) == 0 {
		return nil
	}

	switch trimmed[0] {
	case '[':
		var items []map[string]any
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return nil
		}
		return requestsFromItems(items)
	case '{':
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return nil
		}
		return requestsFromObject(obj)
	}
	return nil
}

// requestsFromObject interprets a single JSON object: a nested
// consultations/calls array, a tool/function/name invocation, or a bare
// argument object.
func requestsFromObject(obj map[string]any) []*ConsultationRequest {
	for _, key := range []string{"consultations", "calls", "tool_calls"} {
		raw, ok := obj[key].([]any)
		if !ok {
			continue
		}
		var items []map[string]any
		for _, entry := range raw {
			if m, ok := entry.(map[string]any); ok {
				items = append(items, m)
			}
		}
		if calls := requestsFromItems(items); len(calls) > 0 {
			return calls
		}
	}

	if req := requestFromInvocation(obj); req != nil {
		return []*ConsultationRequest{req}
	}
	return nil
}

func requestsFromItems(items []map[string]any) []*ConsultationRequest {
	var calls []*ConsultationRequest
	for _, item := range items {
		if req := requestFromInvocation(item); req != nil {
			calls = append(calls, req)
		}
	}
	return calls
}

// requestFromInvocation accepts either {tool|function|name, arguments|args|
// parameters} envelopes or a bare argument object.
func requestFromInvocation(obj map[string]any) *ConsultationRequest {
	name := ""
	for _, key := range []string{"tool", "function", "name"} {
		if s, ok := obj[key].(string); ok {
			name = s
			break
		}
		// OpenAI shape: {"function": {"name": ..., "arguments": ...}}
		if inner, ok := obj[key].(map[string]any); ok {
			if s, ok := inner["name"].(string); ok {
				name = s
				if args, ok := inner["arguments"].(map[string]any); ok {
					obj = args
				} else if raw, ok := inner["arguments"].(string); ok {
					var parsed map[string]any
					if json.Unmarshal([]byte(raw), &parsed) == nil {
						obj = parsed
					}
				}
				break
			}
		}
	}

	if name != "" && !strings.EqualFold(name, ToolConsultSpecialist) {
		return nil
	}

	for _, key := range []string{"arguments", "args", "parameters"} {
		if args, ok := obj[key].(map[string]any); ok {
			return NormalizeArguments(args)
		}
	}
	return NormalizeArguments(obj)
}

// parseFencedBlocks applies the other parsers to fenced code block contents.
func parseFencedBlocks(text string) []*ConsultationRequest {
	for _, m := range fencedBlockRe.FindAllStringSubmatch(text, -1) {
		block := strings.TrimSpace(m[1])
		if calls := parseJSONValue(block); len(calls) > 0 {
			return calls
		}
		if calls := parseOneLineCalls(block); len(calls) > 0 {
			return calls
		}
	}
	return nil
}

// parseAdjacentJSON finds the tool name in prose and brace-matches the next
// JSON object after it.
func parseAdjacentJSON(text string) []*ConsultationRequest {
	var calls []*ConsultationRequest
	for idx := 0; ; {
		pos := strings.Index(text[idx:], ToolConsultSpecialist)
		if pos < 0 {
			break
		}
		pos += idx
		after := text[pos+len(ToolConsultSpecialist):]

		open := strings.IndexByte(after, '{')
		if open >= 0 {
			if candidate, ok := braceMatch(after[open:]); ok {
				var obj map[string]any
				if json.Unmarshal([]byte(candidate), &obj) == nil {
					if req := requestFromInvocation(obj); req != nil {
						calls = append(calls, req)
					}
				}
			}
		}
		idx = pos + len(ToolConsultSpecialist)
	}
	return calls
}

// braceMatch returns the shortest balanced {...} prefix of s, honoring JSON
// string escapes.
func braceMatch(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

func unescapeQuoted(s string) string {
	replacer := strings.NewReplacer(`\"`, `"`, `\'`, `'`, `\\`, `\`, `\n`, "\n")
	return replacer.Replace(s)
}
