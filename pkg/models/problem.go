package models

// Problem is the immutable input to a solve run.
type Problem struct {
	Question    string         `json:"question"`
	Context     string         `json:"context,omitempty"`
	Constraints string         `json:"constraints,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewProblem creates a Problem with a non-nil metadata map.
func NewProblem(question, context, constraints string, metadata map[string]any) *Problem {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &Problem{
		Question:    question,
		Context:     context,
		Constraints: constraints,
		Metadata:    metadata,
	}
}
