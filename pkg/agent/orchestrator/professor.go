// Package orchestrator implements the Professor agent: a generator whose
// output is produced by decomposing the problem into specialist consultations
// via structured tool calls, running each specialist as its own Self-Evolve,
// and synthesizing the aggregate.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sagekit/sage/pkg/agent"
	"github.com/sagekit/sage/pkg/engine"
	"github.com/sagekit/sage/pkg/models"
	"github.com/sagekit/sage/pkg/provider"
)

// ToolConsultSpecialist is the single tool registered with the provider.
const ToolConsultSpecialist = "consult_graduate_specialist"

// defaultSynthesisTemperature is used for the integration completion.
const defaultSynthesisTemperature = 0.5

// Phase indexes the enhanced-mode progress phases, all equal weight.
type Phase int

const (
	PhaseAnalysis Phase = iota
	PhaseConsultations
	PhaseSynthesis
	PhaseFinalization
	PhaseCount
)

func (p Phase) String() string {
	switch p {
	case PhaseAnalysis:
		return "professor_analysis"
	case PhaseConsultations:
		return "specialist_consultations"
	case PhaseSynthesis:
		return "synthesis"
	case PhaseFinalization:
		return "finalization"
	}
	return "unknown"
}

// PhaseProgressFunc observes professor progress: the current phase and the
// fraction completed within it.
type PhaseProgressFunc func(phase Phase, fraction float64)

// Config assembles a Professor.
type Config struct {
	// ParentJobID seeds specialist child job-id derivation.
	ParentJobID string

	// SpecialistMaxIterations caps each specialist Self-Evolve.
	SpecialistMaxIterations int

	// MaxRetriesPerIteration and MinValidWords are passed through to
	// specialist engines. Zero means engine defaults.
	MaxRetriesPerIteration int
	MinValidWords          int

	// StopToken and AnswerTag configure specialist evaluators and answer
	// extraction.
	StopToken string
	AnswerTag string

	// AllowContinuationFallback is passed to specialist engines.
	AllowContinuationFallback bool

	// Store and PartialWrites bind specialist partial persistence under the
	// derived child job ids.
	Store         engine.PartialStore
	PartialWrites bool

	// Temperature for the professor's own analysis call.
	Temperature float32

	// SynthesisTemperature for the integration completion. Zero means the
	// default (0.5).
	SynthesisTemperature float32

	// ContextWindow and ContextThreshold flag specialists whose token usage
	// presses against the model context. Zero disables the flag.
	ContextWindow    int
	ContextThreshold float64

	// Progress, when set, receives phase-weighted progress updates.
	Progress PhaseProgressFunc
}

// Professor is an agent.Agent whose Run orchestrates specialist sub-solves.
type Professor struct {
	provider provider.Provider
	cfg      Config
	log      *slog.Logger
}

var _ agent.Agent = (*Professor)(nil)

// consultTool is the tool specification presented to the provider.
var consultTool = provider.ToolSpec{
	Name: ToolConsultSpecialist,
	Description: "Delegate a focused sub-problem to a graduate specialist. " +
		"The specialist solves the task independently and reports back with a final answer.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"specialization": map[string]any{
				"type":        "string",
				"description": "Field of expertise, e.g. 'number theory' or 'organic chemistry'",
			},
			"specific_task": map[string]any{
				"type":        "string",
				"description": "Self-contained description of the sub-problem to solve",
			},
			"context_for_specialist": map[string]any{
				"type":        "string",
				"description": "Background the specialist needs from your analysis",
			},
			"problem_constraints": map[string]any{
				"type":        "string",
				"description": "Constraints from the original problem that bind the sub-solve",
			},
		},
		"required": []string{"specialization", "specific_task"},
	},
}

const professorSystemPrompt = `You are a professor coordinating a team of graduate specialists. Analyze the
problem, decompose it into focused sub-problems, and delegate each to a
specialist using the consult_graduate_specialist tool. Delegate only what
genuinely benefits from specialist attention; answer directly when the
problem does not decompose.`

// New creates a Professor over the shared provider.
func New(p provider.Provider, cfg Config) *Professor {
	if cfg.SpecialistMaxIterations < 1 {
		cfg.SpecialistMaxIterations = 4
	}
	if cfg.SynthesisTemperature == 0 {
		cfg.SynthesisTemperature = defaultSynthesisTemperature
	}
	if cfg.AnswerTag == "" {
		cfg.AnswerTag = agent.DefaultAnswerTag
	}
	return &Professor{
		provider: p,
		cfg:      cfg,
		log:      slog.With("component", "professor", "job_id", cfg.ParentJobID),
	}
}

func (p *Professor) Role() string { return agent.RoleProfessor }

// Run performs one professor turn: analysis with the consultation tool,
// sequential specialist sub-solves, and synthesis.
func (p *Professor) Run(ctx context.Context, rc *agent.RunContext) (*agent.Result, error) {
	p.reportPhase(PhaseAnalysis, 0)

	prompt := p.analysisPrompt(rc)
	resp, err := p.provider.CompleteWithFunctions(ctx, prompt, professorSystemPrompt, p.cfg.Temperature, []provider.ToolSpec{consultTool})
	if err != nil {
		return nil, fmt.Errorf("professor analysis failed: %w", err)
	}

	totalTokens := p.provider.LastUsage().TotalTokens
	reasoningTokens := p.provider.LastReasoningTokens()
	reasoningSummary := p.provider.LastReasoningSummary()
	p.reportPhase(PhaseAnalysis, 1)

	requests := p.collectConsultations(resp)
	p.log.Info("Professor analysis complete",
		"consultations", len(requests), "direct_content", resp.Content != "")

	consultations := make([]*models.SpecialistConsultation, 0, len(requests))
	succeeded := 0
	p.reportPhase(PhaseConsultations, 0)
	for i, req := range requests {
		consultation, err := p.runSpecialist(ctx, rc, req)
		if err != nil {
			// Cancellation and terminal engine failures abort the whole turn.
			return nil, err
		}
		if consultation.Error == "" {
			succeeded++
			totalTokens += consultation.Solution.TotalTokens
			reasoningTokens += consultation.Solution.Metadata.ReasoningTokens
		}
		consultations = append(consultations, consultation)
		p.reportPhase(PhaseConsultations, float64(i+1)/float64(len(requests)))
	}

	output, synthesized, synthTokens, err := p.synthesize(ctx, rc, resp.Content, consultations, succeeded)
	if err != nil {
		return nil, err
	}
	totalTokens += synthTokens
	p.reportPhase(PhaseFinalization, 1)

	summaries := make([]*models.SpecialistSummary, 0, len(consultations))
	for _, c := range consultations {
		summary := c.Summary()
		p.flagContextPressure(summary)
		summaries = append(summaries, summary)
	}

	return &agent.Result{
		Output:           output,
		TokensUsed:       totalTokens,
		ReasoningTokens:  reasoningTokens,
		ReasoningSummary: reasoningSummary,
		Specialists:      summaries,
		Metadata: map[string]any{
			"specialist_count":    len(consultations),
			"synthesis_performed": synthesized,
		},
	}, nil
}

// collectConsultations gathers tool calls in priority order: the structured
// function-call channel first, then relaxed parsing of the textual response.
func (p *Professor) collectConsultations(resp *provider.Response) []*ConsultationRequest {
	var requests []*ConsultationRequest
	for _, call := range resp.FunctionCalls {
		if !strings.EqualFold(call.Name, ToolConsultSpecialist) {
			continue
		}
		if call.Err != nil {
			// Skip the unparseable call, keep the rest.
			p.log.Warn("Skipping consultation with unparseable arguments", "error", call.Err)
			continue
		}
		if req := NormalizeArguments(call.Arguments); req != nil {
			requests = append(requests, req)
		}
	}
	if len(requests) > 0 {
		return requests
	}
	return ParseToolCalls(resp.Content)
}

// runSpecialist executes one consultation as a fresh Self-Evolve. Specialist
// failures are recorded in the consultation, not raised, so remaining
// consultations still run.
func (p *Professor) runSpecialist(ctx context.Context, rc *agent.RunContext, req *ConsultationRequest) (*models.SpecialistConsultation, error) {
	constraints := req.Constraints
	if constraints == "" {
		constraints = rc.AdditionalString("constraints")
	}

	consultation := &models.SpecialistConsultation{
		Specialization: req.Specialization,
		Task:           req.SpecificTask,
		Context:        req.Context,
		Constraints:    constraints,
		EnhancedTask:   p.enhancedTask(req, constraints),
	}

	childID := DeriveChildJobID(p.cfg.ParentJobID, req.Specialization, req.SpecificTask)
	log := p.log.With("specialization", req.Specialization, "child_job_id", childID)
	log.Info("Dispatching specialist")

	specialistSystem := fmt.Sprintf(
		"You are a graduate specialist in %s. Solve the delegated task rigorously and completely. "+
			"Finish with your final answer between <%s></%s> tags.",
		req.Specialization, p.cfg.AnswerTag, p.cfg.AnswerTag)

	eng, err := engine.New(engine.Config{
		Generator:                 agent.NewSpecialist(p.provider, specialistSystem, 0.7),
		Evaluator:                 agent.NewEvaluator(p.provider, "", 0.3, p.cfg.StopToken),
		Refiner:                   agent.NewRefiner(p.provider, "", 0.5),
		MaxIterations:             p.cfg.SpecialistMaxIterations,
		MaxRetriesPerIteration:    p.cfg.MaxRetriesPerIteration,
		MinValidWords:             p.cfg.MinValidWords,
		AllowContinuationFallback: p.cfg.AllowContinuationFallback,
		AnswerTag:                 p.cfg.AnswerTag,
		JobID:                     childID,
		Store:                     p.cfg.Store,
		PartialWrites:             p.cfg.PartialWrites,
	})
	if err != nil {
		return nil, fmt.Errorf("building specialist engine: %w", err)
	}

	sol, err := eng.Solve(ctx, models.NewProblem(consultation.EnhancedTask, req.Context, constraints, nil))
	if err != nil {
		if errors.Is(err, engine.ErrCancelled) {
			return nil, err
		}
		log.Warn("Specialist consultation failed", "error", err)
		consultation.Error = err.Error()
		return consultation, nil
	}

	consultation.Solution = sol
	consultation.FinalAnswerValue = agent.ExtractAnswerTag(sol.Output, p.cfg.AnswerTag)
	consultation.ContinuationBlock = formatContinuationBlock(consultation)
	log.Info("Specialist consultation complete",
		"iterations", sol.Iterations, "tokens", sol.TotalTokens)
	return consultation, nil
}

// enhancedTask composes the memo sent to the specialist.
func (p *Professor) enhancedTask(req *ConsultationRequest, constraints string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are consulted as a specialist in %s.\n\nTask:\n%s\n", req.Specialization, req.SpecificTask)
	if req.Context != "" {
		fmt.Fprintf(&b, "\nContext from the professor's analysis:\n%s\n", req.Context)
	}
	if constraints != "" {
		fmt.Fprintf(&b, "\nProblem constraints:\n%s\n", constraints)
	}
	fmt.Fprintf(&b, "\nProvide a complete solution and finish with your final answer between <%s></%s> tags.",
		p.cfg.AnswerTag, p.cfg.AnswerTag)
	return b.String()
}

// synthesize produces the professor's final output. With no successful
// consultations and no direct textual answer it falls back to a plain
// completion on the original problem.
func (p *Professor) synthesize(ctx context.Context, rc *agent.RunContext, directContent string, consultations []*models.SpecialistConsultation, succeeded int) (output string, synthesized bool, tokens int, err error) {
	if succeeded == 0 {
		if strings.TrimSpace(directContent) != "" {
			return strings.TrimSpace(directContent), false, 0, nil
		}
		p.log.Warn("No successful consultations and no direct answer, falling back to plain completion")
		p.reportPhase(PhaseSynthesis, 0)
		text, err := p.provider.Complete(ctx, rc.Prompt, "", p.cfg.Temperature, nil)
		if err != nil {
			return "", false, 0, fmt.Errorf("professor fallback completion failed: %w", err)
		}
		p.reportPhase(PhaseSynthesis, 1)
		return strings.TrimSpace(text), false, p.provider.LastUsage().TotalTokens, nil
	}

	p.reportPhase(PhaseSynthesis, 0)
	var b strings.Builder
	fmt.Fprintf(&b, "Original problem:\n%s\n", rc.Prompt)
	if constraints := rc.AdditionalString("constraints"); constraints != "" {
		fmt.Fprintf(&b, "\nConstraints:\n%s\n", constraints)
	}
	b.WriteString("\nSpecialist consultation results:\n")
	for _, c := range consultations {
		if c.Error != "" {
			fmt.Fprintf(&b, "\n=== Specialist consultation: %s ===\nTask: %s\nResult: Specialist consultation failed: %s\n",
				c.Specialization, c.Task, c.Error)
			continue
		}
		b.WriteString("\n")
		b.WriteString(c.ContinuationBlock)
	}
	b.WriteString("\nIntegrate the specialist results into a single, complete final answer to the original problem.")

	text, cerr := p.provider.Complete(ctx, b.String(), "", p.cfg.SynthesisTemperature, nil)
	if cerr != nil {
		return "", false, 0, fmt.Errorf("synthesis failed: %w", cerr)
	}
	p.reportPhase(PhaseSynthesis, 1)
	return strings.TrimSpace(text), true, p.provider.LastUsage().TotalTokens, nil
}

// formatContinuationBlock renders a consultation for embedding into the
// professor's next prompt.
func formatContinuationBlock(c *models.SpecialistConsultation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Specialist consultation: %s ===\n", c.Specialization)
	fmt.Fprintf(&b, "Task: %s\n", c.Task)
	fmt.Fprintf(&b, "Iterations: %d\n", c.Solution.Iterations)
	if c.FinalAnswerValue != "" {
		fmt.Fprintf(&b, "Final answer: %s\n", c.FinalAnswerValue)
	}
	fmt.Fprintf(&b, "Result:\n%s\n", c.Solution.Output)
	return b.String()
}

// flagContextPressure marks specialists whose token usage presses against the
// configured context window.
func (p *Professor) flagContextPressure(s *models.SpecialistSummary) {
	if p.cfg.ContextWindow <= 0 || p.cfg.ContextThreshold <= 0 {
		return
	}
	if float64(s.TokensUsed) >= p.cfg.ContextThreshold*float64(p.cfg.ContextWindow) {
		s.ContextPressure = true
	}
}

func (p *Professor) analysisPrompt(rc *agent.RunContext) string {
	var b strings.Builder
	b.WriteString(rc.Prompt)
	if extra := rc.AdditionalString("context"); extra != "" {
		fmt.Fprintf(&b, "\n\nContext:\n%s", extra)
	}
	if constraints := rc.AdditionalString("constraints"); constraints != "" {
		fmt.Fprintf(&b, "\n\nConstraints:\n%s", constraints)
	}
	return b.String()
}

func (p *Professor) reportPhase(phase Phase, fraction float64) {
	if p.cfg.Progress != nil {
		p.cfg.Progress(phase, fraction)
	}
}
