package models

import "encoding/json"

// StopReason explains why a solve run terminated.
type StopReason string

const (
	// StopReasonEvaluatorStop means the evaluator signalled convergence.
	StopReasonEvaluatorStop StopReason = "evaluator_stop"

	// StopReasonMaxIterations means the loop exhausted its iteration cap.
	StopReasonMaxIterations StopReason = "max_iterations"

	// StopReasonFallbackToBest means later iterations produced no valid
	// output and the best earlier iteration was returned instead.
	StopReasonFallbackToBest StopReason = "fallback_to_best"
)

// SolutionMetadata carries the status flags of a terminal Solution.
// Downstream consumers must check FallbackUsed: a fallback Solution is
// otherwise indistinguishable from a normal one.
type SolutionMetadata struct {
	Converged          bool                 `json:"converged"`
	StopReason         StopReason           `json:"stop_reason"`
	FallbackUsed       bool                 `json:"fallback_used"`
	FallbackDiagnostic string               `json:"fallback_diagnostic,omitempty"`
	SpecialistResults  []*SpecialistSummary `json:"specialist_results,omitempty"`
	ReasoningTokens    int                  `json:"reasoning_tokens,omitempty"`
}

// Solution is the terminal result of a solve run.
type Solution struct {
	Output      string           `json:"output"`
	Iterations  int              `json:"iterations"`
	History     EvolutionHistory `json:"evolution_history"`
	TotalTokens int              `json:"total_tokens"`
	Metadata    SolutionMetadata `json:"metadata"`
}

// MarshalString serializes the Solution to its canonical JSON form.
func (s *Solution) MarshalString() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalSolution parses a serialized Solution.
func UnmarshalSolution(data string) (*Solution, error) {
	var s Solution
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// IterationSummary is a compact per-iteration projection for display.
type IterationSummary struct {
	Iteration     int    `json:"iteration"`
	OutputPreview string `json:"output_preview"`
	Feedback      string `json:"feedback,omitempty"`
	ShouldStop    bool   `json:"should_stop"`
}

// SpecialistSummary is the serializable projection of one specialist
// consultation, persisted in Solution metadata.
type SpecialistSummary struct {
	Specialization   string              `json:"specialization"`
	Task             string              `json:"task"`
	Iterations       int                 `json:"iterations"`
	FinalAnswerValue string              `json:"final_answer_value,omitempty"`
	FormattedBlock   string              `json:"formatted_block,omitempty"`
	SessionDetails   []*IterationSummary `json:"session_details,omitempty"`
	TokensUsed       int                 `json:"tokens_used"`
	ReasoningTokens  int                 `json:"reasoning_tokens,omitempty"`
	ContextPressure  bool                `json:"context_pressure,omitempty"`
	Output           string              `json:"output,omitempty"`
	Error            string              `json:"error,omitempty"`
}

// SpecialistConsultation is the full in-flight record of one specialist
// sub-solve, including the complete Specialist Solution. Only its summary
// projection is persisted.
type SpecialistConsultation struct {
	Specialization    string    `json:"specialization"`
	Task              string    `json:"task"`
	Context           string    `json:"context,omitempty"`
	Constraints       string    `json:"constraints,omitempty"`
	EnhancedTask      string    `json:"enhanced_task"`
	Solution          *Solution `json:"solution,omitempty"`
	FinalAnswerValue  string    `json:"final_answer_value,omitempty"`
	ContinuationBlock string    `json:"continuation_block,omitempty"`
	Error             string    `json:"error,omitempty"`
}

// Summary projects the consultation into its persistable form.
func (c *SpecialistConsultation) Summary() *SpecialistSummary {
	s := &SpecialistSummary{
		Specialization:   c.Specialization,
		Task:             c.Task,
		FinalAnswerValue: c.FinalAnswerValue,
		FormattedBlock:   c.ContinuationBlock,
		Error:            c.Error,
	}
	if c.Solution != nil {
		s.Iterations = c.Solution.Iterations
		s.TokensUsed = c.Solution.TotalTokens
		s.ReasoningTokens = c.Solution.Metadata.ReasoningTokens
		s.Output = c.Solution.Output
		for _, rec := range c.Solution.History {
			s.SessionDetails = append(s.SessionDetails, &IterationSummary{
				Iteration:     rec.Iteration,
				OutputPreview: previewText(rec.Output, 200),
				Feedback:      previewText(rec.Feedback, 200),
				ShouldStop:    rec.ShouldStop,
			})
		}
	}
	return s
}

func previewText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
