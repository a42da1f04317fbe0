package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/sagekit/sage/pkg/provider"
)

// Generator produces a candidate answer to the given prompt. It never sets
// ShouldStop; convergence is the evaluator's call.
type Generator struct {
	role         string
	provider     provider.Provider
	systemPrompt string
	temperature  float32
}

// NewGenerator creates a generator role. systemPrompt may be empty to use the
// default.
func NewGenerator(p provider.Provider, systemPrompt string, temperature float32) *Generator {
	if systemPrompt == "" {
		systemPrompt = defaultGeneratorSystemPrompt
	}
	return &Generator{
		role:         RoleGenerator,
		provider:     p,
		systemPrompt: systemPrompt,
		temperature:  temperature,
	}
}

// NewSpecialist creates a generator carrying the specialist role name, used
// for delegated sub-solves.
func NewSpecialist(p provider.Provider, systemPrompt string, temperature float32) *Generator {
	g := NewGenerator(p, systemPrompt, temperature)
	g.role = RoleSpecialist
	return g
}

func (g *Generator) Role() string { return g.role }

// Run generates an answer for the prompt in the run context.
func (g *Generator) Run(ctx context.Context, rc *RunContext) (*Result, error) {
	prompt := rc.Prompt
	if extra := rc.AdditionalString("context"); extra != "" {
		prompt = fmt.Sprintf("%s\n\nContext:\n%s", prompt, extra)
	}
	if constraints := rc.AdditionalString("constraints"); constraints != "" {
		prompt = fmt.Sprintf("%s\n\nConstraints:\n%s", prompt, constraints)
	}

	text, err := g.provider.Complete(ctx, prompt, g.systemPrompt, g.temperature, nil)
	if err != nil {
		return nil, fmt.Errorf("%s completion failed: %w", g.role, err)
	}

	return &Result{
		Output:           strings.TrimSpace(text),
		TokensUsed:       g.provider.LastUsage().TotalTokens,
		ReasoningTokens:  g.provider.LastReasoningTokens(),
		ReasoningSummary: g.provider.LastReasoningSummary(),
	}, nil
}
