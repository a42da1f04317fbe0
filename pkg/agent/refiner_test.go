package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefinerRun(t *testing.T) {
	t.Run("returns AI refinement", func(t *testing.T) {
		p := &fakeProvider{responses: []string{"Refined prompt with preserved context."}}
		r := NewRefiner(p, "", 0.4)

		res, err := r.Run(context.Background(), &RunContext{
			Prompt:      "Original question",
			PriorOutput: "Current answer",
			Feedback:    "Too vague",
			Iteration:   1,
		})
		require.NoError(t, err)
		assert.Equal(t, "Refined prompt with preserved context.", res.Output)
		require.Len(t, p.prompts, 1)
		assert.Contains(t, p.prompts[0], "Original question")
		assert.Contains(t, p.prompts[0], "Current answer")
		assert.Contains(t, p.prompts[0], "Too vague")
	})

	t.Run("falls back to rule-based refinement on provider error", func(t *testing.T) {
		p := &fakeProvider{errs: []error{errors.New("boom")}}
		r := NewRefiner(p, "", 0.4)

		res, err := r.Run(context.Background(), &RunContext{
			Prompt:    "Original question",
			Feedback:  "The proof is incomplete and has a calculation mistake",
			Iteration: 2,
		})
		require.NoError(t, err)
		assert.Contains(t, res.Output, "Original question")
		assert.Contains(t, res.Output, "Cover every part")
		assert.Contains(t, res.Output, "Recheck every calculation")
	})

	t.Run("falls back when AI returns empty text", func(t *testing.T) {
		p := &fakeProvider{responses: []string{"   "}}
		r := NewRefiner(p, "", 0.4)

		res, err := r.Run(context.Background(), &RunContext{Prompt: "Q", Feedback: "unclear"})
		require.NoError(t, err)
		assert.Contains(t, res.Output, "Explain each step clearly")
	})
}

func TestRuleBasedRefinement(t *testing.T) {
	tests := []struct {
		name     string
		feedback string
		contains string
	}{
		{"unclear", "the explanation is unclear", "Explain each step clearly"},
		{"incomplete", "answer is incomplete", "Cover every part"},
		{"calculation", "calculation mistake in step 3", "Recheck every calculation"},
		{"logical", "a logical gap between premises", "Verify the logical chain"},
		{"no keyword", "meh", "Improve on the previous answer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := RuleBasedRefinement("The question", tt.feedback)
			assert.Contains(t, out, "The question")
			assert.Contains(t, out, tt.contains)
		})
	}
}

func TestExtractAnswerTag(t *testing.T) {
	tests := []struct {
		name string
		text string
		tag  string
		want string
	}{
		{"simple", "The result is <answer>42</answer>.", "answer", "42"},
		{"case-insensitive", "<ANSWER> 42 </ANSWER>", "answer", "42"},
		{"multiline", "<answer>\nline one\nline two\n</answer>", "answer", "line one\nline two"},
		{"absent", "no tags here", "answer", ""},
		{"first pair wins", "<answer>a</answer> <answer>b</answer>", "answer", "a"},
		{"custom tag", "<final>x</final>", "final", "x"},
		{"empty tag uses default", "<answer>y</answer>", "", "y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractAnswerTag(tt.text, tt.tag))
		})
	}
}
