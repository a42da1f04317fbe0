package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sagekit/sage/pkg/provider"
)

// Evaluator assesses a candidate answer and decides whether the loop should
// stop. Stop detection is deliberately conservative: a stop token only counts
// when it stands alone, the feedback mentions no errors, and the token is not
// part of an instruction explaining how the token should be used.
type Evaluator struct {
	provider     provider.Provider
	systemPrompt string
	temperature  float32
	stopToken    string
}

// Guideline lead-ins that disqualify a stop-token occurrence: the evaluator is
// describing the token, not emitting it.
var guidelinePhrases = []string{
	"remember to use",
	"requires you to use",
	"should use",
	"need to use",
	"supposed to use",
}

// Placeholder feedback values that yield no stop signal and a nil score.
var placeholderFeedback = map[string]bool{
	"":     true,
	"n/a":  true,
	"none": true,
	"...":  true,
	"…":    true,
}

var scoreRe = regexp.MustCompile(`(?i)\bscore\s*[:=]?\s*([0-9]+(?:\.[0-9]+)?)\s*(?:/\s*10)?`)

// NewEvaluator creates an evaluator role. stopToken is the literal whose
// standalone occurrence in feedback signals convergence.
func NewEvaluator(p provider.Provider, systemPrompt string, temperature float32, stopToken string) *Evaluator {
	if systemPrompt == "" {
		systemPrompt = fmt.Sprintf(defaultEvaluatorSystemPrompt, stopToken)
	}
	return &Evaluator{
		provider:     p,
		systemPrompt: systemPrompt,
		temperature:  temperature,
		stopToken:    stopToken,
	}
}

func (e *Evaluator) Role() string { return RoleEvaluator }

// Run evaluates rc.PriorOutput against the original question in rc.Prompt.
func (e *Evaluator) Run(ctx context.Context, rc *RunContext) (*Result, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n\nCandidate answer:\n%s\n", rc.Prompt, rc.PriorOutput)
	if reasoning := rc.AdditionalString("generator_reasoning"); reasoning != "" {
		fmt.Fprintf(&b, "\nGenerator reasoning summary:\n%s\n", reasoning)
	}
	b.WriteString("\nEvaluate the candidate answer.")

	text, err := e.provider.Complete(ctx, b.String(), e.systemPrompt, e.temperature, nil)
	if err != nil {
		return nil, fmt.Errorf("evaluator completion failed: %w", err)
	}

	feedback := strings.TrimSpace(text)
	res := &Result{
		Output:           feedback,
		Feedback:         feedback,
		TokensUsed:       e.provider.LastUsage().TotalTokens,
		ReasoningTokens:  e.provider.LastReasoningTokens(),
		ReasoningSummary: e.provider.LastReasoningSummary(),
	}

	if placeholderFeedback[strings.ToLower(feedback)] {
		return res, nil
	}

	res.ShouldStop = DetectStopToken(feedback, e.stopToken)
	if m := scoreRe.FindStringSubmatch(feedback); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			res.Score = &v
		}
	}
	return res, nil
}

// DetectStopToken reports whether feedback contains a standalone occurrence of
// the stop token. An occurrence counts only when it is bounded by whitespace,
// punctuation, or the text edges, the feedback contains no error mention, and
// the token is not preceded by a guideline phrase describing its use.
func DetectStopToken(feedback, token string) bool {
	if token == "" || feedback == "" {
		return false
	}

	lower := strings.ToLower(feedback)
	if strings.Contains(lower, "error") {
		return false
	}

	lowerToken := strings.ToLower(token)
	for start := 0; ; {
		idx := strings.Index(lower[start:], lowerToken)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(lowerToken)

		if bounded(lower, idx, end) && !inGuidelinePhrase(lower, idx) {
			return true
		}
		start = end
	}
}

// bounded checks that the characters adjacent to [start,end) are whitespace,
// punctuation, or absent.
func bounded(s string, start, end int) bool {
	if start > 0 && !boundaryByte(s[start-1]) {
		return false
	}
	if end < len(s) && !boundaryByte(s[end]) {
		return false
	}
	return true
}

func boundaryByte(c byte) bool {
	switch {
	case c == ' ', c == '\t', c == '\n', c == '\r':
		return true
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c >= 0x80:
		// Multi-byte rune: treat as word content.
		return false
	}
	return true
}

// inGuidelinePhrase checks the text immediately before the occurrence for a
// phrase explaining how the token should be used.
func inGuidelinePhrase(lower string, idx int) bool {
	windowStart := idx - 80
	if windowStart < 0 {
		windowStart = 0
	}
	window := lower[windowStart:idx]
	// Only the current sentence matters.
	if cut := strings.LastIndexAny(window, ".!?\n"); cut >= 0 {
		window = window[cut+1:]
	}
	for _, phrase := range guidelinePhrases {
		if strings.Contains(window, phrase) {
			return true
		}
	}
	return false
}
