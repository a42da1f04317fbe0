package models

// RoleMetadata captures per-role accounting for a single iteration.
type RoleMetadata struct {
	TokensUsed       int    `json:"tokens_used"`
	ReasoningTokens  int    `json:"reasoning_tokens,omitempty"`
	ReasoningSummary string `json:"reasoning_summary,omitempty"`
}

// IterationMetadata nests the per-role sub-records of one iteration.
type IterationMetadata struct {
	Generator *RoleMetadata  `json:"generator,omitempty"`
	Evaluator *RoleMetadata  `json:"evaluator,omitempty"`
	Refiner   *RoleMetadata  `json:"refiner,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// TotalTokens sums the token counts across all roles of the iteration.
func (m *IterationMetadata) TotalTokens() int {
	total := 0
	for _, r := range []*RoleMetadata{m.Generator, m.Evaluator, m.Refiner} {
		if r != nil {
			total += r.TokensUsed
		}
	}
	return total
}

// ReasoningTotal sums reasoning tokens across all roles of the iteration.
func (m *IterationMetadata) ReasoningTotal() int {
	total := 0
	for _, r := range []*RoleMetadata{m.Generator, m.Evaluator, m.Refiner} {
		if r != nil {
			total += r.ReasoningTokens
		}
	}
	return total
}

// IterationRecord is one completed generate/evaluate/refine cycle.
// RefinedPrompt is set only when a refinement ran (i.e. the loop continued).
type IterationRecord struct {
	Iteration     int               `json:"iteration"`
	Prompt        string            `json:"prompt"`
	Output        string            `json:"output"`
	Feedback      string            `json:"feedback"`
	ShouldStop    bool              `json:"should_stop"`
	Metadata      IterationMetadata `json:"metadata"`
	RefinedPrompt string            `json:"refined_prompt,omitempty"`
}

// EvolutionHistory is the ordered, append-only record of a solve run.
// Record i+1 is produced from record i's refined prompt.
type EvolutionHistory []*IterationRecord

// Clone returns a shallow copy of the history slice. Records themselves are
// shared; callers must not mutate past records.
func (h EvolutionHistory) Clone() EvolutionHistory {
	out := make(EvolutionHistory, len(h))
	copy(out, h)
	return out
}

// Last returns the most recent record, or nil for an empty history.
func (h EvolutionHistory) Last() *IterationRecord {
	if len(h) == 0 {
		return nil
	}
	return h[len(h)-1]
}

// TotalTokens sums token usage across all iterations and roles.
func (h EvolutionHistory) TotalTokens() int {
	total := 0
	for _, rec := range h {
		total += rec.Metadata.TotalTokens()
	}
	return total
}
