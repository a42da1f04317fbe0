// Package agent defines the role abstraction of the solve loop: a named role
// wrapping a shared provider with a system prompt, a temperature, and
// role-specific post-processing of the provider response.
package agent

import (
	"context"

	"github.com/sagekit/sage/pkg/models"
)

// Role names. The engine special-cases RoleProfessor on the final iteration.
const (
	RoleGenerator  = "generator"
	RoleEvaluator  = "evaluator"
	RoleRefiner    = "refiner"
	RoleSpecialist = "specialist"
	RoleProfessor  = "professor"
)

// RunContext carries the inputs of one agent invocation.
type RunContext struct {
	// Prompt is the primary input text for this invocation.
	Prompt string

	// PriorOutput is the current candidate answer, set for evaluator and
	// refiner invocations.
	PriorOutput string

	// Feedback is the evaluator feedback, set for refiner invocations.
	Feedback string

	// Iteration is the 1-based iteration index.
	Iteration int

	// Additional carries role-specific context such as the reasoning summary
	// of an earlier role in the same iteration.
	Additional map[string]any
}

// AdditionalString reads a string value from the additional context map.
func (rc *RunContext) AdditionalString(key string) string {
	if rc.Additional == nil {
		return ""
	}
	s, _ := rc.Additional[key].(string)
	return s
}

// Result is the outcome of one agent invocation.
type Result struct {
	// Output is the produced text: an answer for generators, feedback for
	// evaluators, a refined prompt for refiners.
	Output string

	// Feedback is optional commentary alongside the output.
	Feedback string

	// ShouldStop is set only by evaluators when convergence is detected.
	ShouldStop bool

	// Score is the evaluator's numeric assessment, nil when the feedback was
	// empty or a placeholder.
	Score *float64

	// TokensUsed is the provider token count of this invocation.
	TokensUsed int

	// ReasoningTokens counts reasoning tokens of this invocation.
	ReasoningTokens int

	// ReasoningSummary is the provider reasoning text, empty when the model
	// emitted none.
	ReasoningSummary string

	// Specialists carries per-specialist projections when the role
	// orchestrated sub-solves.
	Specialists []*models.SpecialistSummary

	// Metadata carries role-specific extras.
	Metadata map[string]any
}

// RoleMetadata projects the result into the per-role iteration record slot.
func (r *Result) RoleMetadata() *models.RoleMetadata {
	return &models.RoleMetadata{
		TokensUsed:       r.TokensUsed,
		ReasoningTokens:  r.ReasoningTokens,
		ReasoningSummary: r.ReasoningSummary,
	}
}

// Agent is a named role over a provider. Implementations differ only in
// prompt construction and response post-processing.
type Agent interface {
	// Role returns the role name.
	Role() string

	// Run executes one invocation.
	Run(ctx context.Context, rc *RunContext) (*Result, error)
}
