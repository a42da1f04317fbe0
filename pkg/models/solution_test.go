package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSolution() *Solution {
	return &Solution{
		Output:      "final answer text with enough words to look like a real output",
		Iterations:  2,
		TotalTokens: 340,
		History: EvolutionHistory{
			{
				Iteration:  1,
				Prompt:     "original question",
				Output:     "first draft",
				Feedback:   "needs more detail",
				ShouldStop: false,
				Metadata: IterationMetadata{
					Generator: &RoleMetadata{TokensUsed: 100, ReasoningTokens: 20},
					Evaluator: &RoleMetadata{TokensUsed: 40},
					Refiner:   &RoleMetadata{TokensUsed: 30},
				},
				RefinedPrompt: "original question, with more detail",
			},
			{
				Iteration:  2,
				Prompt:     "original question, with more detail",
				Output:     "final answer text with enough words to look like a real output",
				Feedback:   "complete",
				ShouldStop: true,
				Metadata: IterationMetadata{
					Generator: &RoleMetadata{TokensUsed: 120},
					Evaluator: &RoleMetadata{TokensUsed: 50},
				},
			},
		},
		Metadata: SolutionMetadata{
			Converged:       true,
			StopReason:      StopReasonEvaluatorStop,
			ReasoningTokens: 20,
		},
	}
}

func TestSolutionRoundTrip(t *testing.T) {
	orig := sampleSolution()

	data, err := orig.MarshalString()
	require.NoError(t, err)

	parsed, err := UnmarshalSolution(data)
	require.NoError(t, err)

	assert.Equal(t, orig.Output, parsed.Output)
	assert.Equal(t, orig.Iterations, parsed.Iterations)
	assert.Equal(t, orig.TotalTokens, parsed.TotalTokens)
	assert.Equal(t, orig.Metadata, parsed.Metadata)

	// History ordering and contents survive the round trip.
	require.Len(t, parsed.History, len(orig.History))
	for i := range orig.History {
		assert.Equal(t, orig.History[i], parsed.History[i], "record %d", i+1)
	}
}

func TestSolutionRoundTripWithSpecialists(t *testing.T) {
	orig := sampleSolution()
	orig.Metadata.SpecialistResults = []*SpecialistSummary{
		{
			Specialization:   "number theory",
			Task:             "classify solutions",
			Iterations:       3,
			FinalAnswerValue: "42",
			TokensUsed:       500,
			SessionDetails: []*IterationSummary{
				{Iteration: 1, OutputPreview: "first", ShouldStop: false},
				{Iteration: 2, OutputPreview: "second", ShouldStop: true},
			},
		},
	}

	data, err := orig.MarshalString()
	require.NoError(t, err)
	parsed, err := UnmarshalSolution(data)
	require.NoError(t, err)

	require.Len(t, parsed.Metadata.SpecialistResults, 1)
	assert.Equal(t, orig.Metadata.SpecialistResults[0], parsed.Metadata.SpecialistResults[0])
}

func TestHistoryTotalTokens(t *testing.T) {
	h := sampleSolution().History
	assert.Equal(t, 340, h.TotalTokens())
}

func TestIterationMetadataTotals(t *testing.T) {
	m := IterationMetadata{
		Generator: &RoleMetadata{TokensUsed: 10, ReasoningTokens: 3},
		Refiner:   &RoleMetadata{TokensUsed: 5},
	}
	assert.Equal(t, 15, m.TotalTokens())
	assert.Equal(t, 3, m.ReasoningTotal())

	empty := IterationMetadata{}
	assert.Equal(t, 0, empty.TotalTokens())
}

func TestSpecialistConsultationSummary(t *testing.T) {
	c := &SpecialistConsultation{
		Specialization:    "algebra",
		Task:              "solve the recurrence",
		EnhancedTask:      "full memo",
		FinalAnswerValue:  "x=2",
		ContinuationBlock: "### Specialist: algebra ...",
		Solution: &Solution{
			Output:      "the recurrence resolves to x=2",
			Iterations:  1,
			TotalTokens: 77,
			History: EvolutionHistory{
				{Iteration: 1, Output: "the recurrence resolves to x=2", ShouldStop: true},
			},
			Metadata: SolutionMetadata{ReasoningTokens: 9},
		},
	}

	s := c.Summary()
	assert.Equal(t, "algebra", s.Specialization)
	assert.Equal(t, 1, s.Iterations)
	assert.Equal(t, 77, s.TokensUsed)
	assert.Equal(t, 9, s.ReasoningTokens)
	assert.Equal(t, "x=2", s.FinalAnswerValue)
	require.Len(t, s.SessionDetails, 1)
	assert.True(t, s.SessionDetails[0].ShouldStop)
}

func TestPreviewTextTruncates(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	preview := previewText(string(long), 200)
	assert.Len(t, preview, 203) // 200 chars + "..."
	assert.Equal(t, "short", previewText("short", 200))
}
