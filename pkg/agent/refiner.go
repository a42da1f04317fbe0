package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sagekit/sage/pkg/provider"
)

// Refiner produces the prompt for the next iteration from the current answer
// and the evaluator feedback. When the AI refinement call fails, a
// deterministic rule-based refiner keyed off feedback keywords takes over so
// the loop never stalls on the refinement step.
type Refiner struct {
	provider     provider.Provider
	systemPrompt string
	temperature  float32
	log          *slog.Logger
}

// feedbackDirectives maps feedback keywords to refinement instructions used by
// the rule-based fallback.
var feedbackDirectives = []struct {
	keyword   string
	directive string
}{
	{"unclear", "Explain each step clearly and define any terms you introduce."},
	{"incomplete", "Cover every part of the question; do not leave sub-questions unanswered."},
	{"calculation", "Recheck every calculation step by step and show the arithmetic."},
	{"logical", "Verify the logical chain from premises to conclusion; justify each inference."},
	{"missing", "Include the aspects the previous answer omitted."},
	{"incorrect", "Identify and correct the specific mistakes in the previous answer."},
	{"vague", "Be specific and concrete; replace generalities with precise statements."},
}

// NewRefiner creates a refiner role. systemPrompt may be empty to use the
// default.
func NewRefiner(p provider.Provider, systemPrompt string, temperature float32) *Refiner {
	if systemPrompt == "" {
		systemPrompt = defaultRefinerSystemPrompt
	}
	return &Refiner{
		provider:     p,
		systemPrompt: systemPrompt,
		temperature:  temperature,
		log:          slog.With("component", "agent", "role", RoleRefiner),
	}
}

func (r *Refiner) Role() string { return RoleRefiner }

// Run produces a refined prompt. rc.Prompt carries the original question,
// rc.PriorOutput the current answer, rc.Feedback the evaluator feedback.
func (r *Refiner) Run(ctx context.Context, rc *RunContext) (*Result, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Original question:\n%s\n\nCurrent answer (iteration %d):\n%s\n\nEvaluator feedback:\n%s\n",
		rc.Prompt, rc.Iteration, rc.PriorOutput, rc.Feedback)
	if reasoning := rc.AdditionalString("evaluator_reasoning"); reasoning != "" {
		fmt.Fprintf(&b, "\nEvaluator reasoning summary:\n%s\n", reasoning)
	}
	b.WriteString("\nWrite the refined prompt for the next attempt. " +
		"Preserve what worked, address the weaknesses, keep the accumulated context.")

	text, err := r.provider.Complete(ctx, b.String(), r.systemPrompt, r.temperature, nil)
	if err != nil {
		r.log.Warn("AI refinement failed, using rule-based refiner", "error", err)
		return &Result{Output: RuleBasedRefinement(rc.Prompt, rc.Feedback)}, nil
	}

	refined := strings.TrimSpace(text)
	if refined == "" {
		refined = RuleBasedRefinement(rc.Prompt, rc.Feedback)
	}

	return &Result{
		Output:           refined,
		TokensUsed:       r.provider.LastUsage().TotalTokens,
		ReasoningTokens:  r.provider.LastReasoningTokens(),
		ReasoningSummary: r.provider.LastReasoningSummary(),
	}, nil
}

// RuleBasedRefinement builds a refined prompt deterministically: the original
// question plus directives keyed off keywords found in the feedback.
func RuleBasedRefinement(question, feedback string) string {
	lower := strings.ToLower(feedback)

	var directives []string
	for _, d := range feedbackDirectives {
		if strings.Contains(lower, d.keyword) {
			directives = append(directives, d.directive)
		}
	}
	if len(directives) == 0 {
		directives = append(directives, "Improve on the previous answer, addressing the evaluator feedback.")
	}

	var b strings.Builder
	b.WriteString(question)
	b.WriteString("\n\nWhen answering, also do the following:\n")
	for _, d := range directives {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	return b.String()
}
