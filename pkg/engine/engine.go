// Package engine implements the Self-Evolve loop: an iterative
// generate/evaluate/refine cycle with validity gating, retries, cancellation,
// partial-result persistence, and continuation fallback.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sagekit/sage/pkg/agent"
	"github.com/sagekit/sage/pkg/models"
)

// DefaultMaxRetriesPerIteration is the number of retries after the first
// failed generation attempt (4 retries = 5 attempts total).
const DefaultMaxRetriesPerIteration = 4

// answerConvergenceRun is the number of consecutive identical answer-tag
// values that counts as convergence when the shortcut is enabled.
const answerConvergenceRun = 3

// PartialStore is the slice of the job store the engine writes iteration
// snapshots to. The engine knows nothing about the store's implementation; a
// no-op implementation satisfies it for tests.
type PartialStore interface {
	SetJobFields(ctx context.Context, jobID string, fields map[string]string) error
}

// Progress is delivered to the progress callback after each completed
// iteration.
type Progress struct {
	Iteration     int
	MaxIterations int
	Record        *models.IterationRecord
	TotalTokens   int
}

// ProgressFunc observes engine progress at iteration boundaries.
type ProgressFunc func(p Progress)

// Config assembles a Self-Evolve engine.
type Config struct {
	Generator agent.Agent
	Evaluator agent.Agent
	Refiner   agent.Agent

	// MaxIterations caps the loop (≥ 1).
	MaxIterations int

	// MaxRetriesPerIteration is the retry budget after the first failed
	// generation attempt. Zero means the default.
	MaxRetriesPerIteration int

	// MinValidWords is the validity predicate's word floor. Zero means the
	// default.
	MinValidWords int

	// AllowContinuationFallback permits returning the best earlier iteration
	// when later iterations produce no valid output.
	AllowContinuationFallback bool

	// AnswerTag names the tag pair used by the answer-convergence shortcut.
	AnswerTag string

	// AnswerConvergence enables the three-identical-answers shortcut.
	AnswerConvergence bool

	// Progress, when set, is invoked after each completed iteration.
	Progress ProgressFunc

	// JobID and Store bind partial-result persistence. Both must be set and
	// PartialWrites true for snapshots to be written.
	JobID         string
	Store         PartialStore
	PartialWrites bool
}

// Engine runs the Self-Evolve loop. One engine serves one job; provider calls
// are strictly sequential.
type Engine struct {
	cfg       Config
	log       *slog.Logger
	cancelled atomic.Bool
}

// New creates an engine from the configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.Generator == nil || cfg.Evaluator == nil || cfg.Refiner == nil {
		return nil, fmt.Errorf("engine requires generator, evaluator, and refiner agents")
	}
	if cfg.MaxIterations < 1 {
		return nil, fmt.Errorf("max iterations must be >= 1, got %d", cfg.MaxIterations)
	}
	if cfg.MaxRetriesPerIteration <= 0 {
		cfg.MaxRetriesPerIteration = DefaultMaxRetriesPerIteration
	}
	if cfg.MinValidWords <= 0 {
		cfg.MinValidWords = DefaultMinValidWords
	}
	if cfg.AnswerTag == "" {
		cfg.AnswerTag = agent.DefaultAnswerTag
	}
	return &Engine{
		cfg: cfg,
		log: slog.With("component", "engine", "job_id", cfg.JobID),
	}, nil
}

// Cancel requests cooperative cancellation. The next cancel check aborts the
// run with ErrCancelled.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// Solve runs a fresh loop from iteration 1 with empty history.
func (e *Engine) Solve(ctx context.Context, problem *models.Problem) (*models.Solution, error) {
	return e.run(ctx, problem, nil, 1)
}

// ResumeSolve continues from an existing history. A non-empty history with no
// valid output fails with a ValidationError; an empty history behaves as
// Solve.
func (e *Engine) ResumeSolve(ctx context.Context, problem *models.Problem, history models.EvolutionHistory, startIteration int) (*models.Solution, error) {
	if len(history) == 0 {
		return e.Solve(ctx, problem)
	}
	if !e.hasValidRecord(history) {
		return nil, &ValidationError{Reason: "All outputs in evolution history are invalid"}
	}
	if startIteration <= len(history) {
		startIteration = len(history) + 1
	}
	return e.run(ctx, problem, history.Clone(), startIteration)
}

func (e *Engine) run(ctx context.Context, problem *models.Problem, history models.EvolutionHistory, start int) (*models.Solution, error) {
	prompt := e.resumePrompt(problem, history)

	additional := map[string]any{}
	if problem.Context != "" {
		additional["context"] = problem.Context
	}
	if problem.Constraints != "" {
		additional["constraints"] = problem.Constraints
	}

	var (
		lastGen    *agent.Result
		converged  bool
		stopReason models.StopReason = models.StopReasonMaxIterations
	)

	for k := start; k <= e.cfg.MaxIterations; k++ {
		if err := e.checkCancel(ctx); err != nil {
			return nil, err
		}

		gen, err := e.generateWithRetry(ctx, prompt, k, additional)
		if err != nil {
			return nil, err
		}
		if gen == nil {
			// All attempts produced invalid output: fallback decision.
			return e.continuationFallback(history)
		}
		lastGen = gen

		if err := e.checkCancel(ctx); err != nil {
			return nil, err
		}

		eval, err := e.evaluate(ctx, problem, gen, k, len(history))
		if err != nil {
			return nil, err
		}

		if err := e.checkCancel(ctx); err != nil {
			return nil, err
		}

		rec := &models.IterationRecord{
			Iteration:  k,
			Prompt:     prompt,
			Output:     gen.Output,
			Feedback:   eval.Feedback,
			ShouldStop: eval.ShouldStop,
			Metadata: models.IterationMetadata{
				Generator: gen.RoleMetadata(),
				Evaluator: eval.RoleMetadata(),
			},
		}
		history = append(history, rec)

		e.writePartial(ctx, history, rec)

		if eval.ShouldStop {
			converged = true
			stopReason = models.StopReasonEvaluatorStop
			e.report(k, rec, history)
			break
		}

		if e.cfg.AnswerConvergence && e.answersConverged(history) {
			converged = true
			stopReason = models.StopReasonEvaluatorStop
			e.setExtra(rec, "answer_convergence", true)
			e.log.Info("Answer convergence shortcut triggered", "iteration", k)
			e.report(k, rec, history)
			break
		}

		if k < e.cfg.MaxIterations {
			refined, err := e.refine(ctx, problem, rec, k)
			if err != nil {
				return nil, err
			}
			rec.RefinedPrompt = refined.Output
			rec.Metadata.Refiner = refined.RoleMetadata()
			prompt = refined.Output
		}

		e.report(k, rec, history)

		if err := e.checkCancel(ctx); err != nil {
			return nil, err
		}
	}

	sol := &models.Solution{
		Output:      history.Last().Output,
		Iterations:  len(history),
		History:     history,
		TotalTokens: history.TotalTokens(),
		Metadata: models.SolutionMetadata{
			Converged:  converged,
			StopReason: stopReason,
		},
	}
	e.attachGeneratorMetadata(sol, lastGen, history)
	return sol, nil
}

// generateWithRetry invokes the generator, retrying invalid outputs up to the
// configured budget. Tokens from invalid attempts are discarded. Returns
// (nil, nil) when every attempt produced invalid output.
func (e *Engine) generateWithRetry(ctx context.Context, prompt string, iteration int, additional map[string]any) (*agent.Result, error) {
	attempts := e.cfg.MaxRetriesPerIteration + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := e.checkCancel(ctx); err != nil {
			return nil, err
		}

		res, err := e.cfg.Generator.Run(ctx, &agent.RunContext{
			Prompt:     prompt,
			Iteration:  iteration,
			Additional: additional,
		})
		if err != nil {
			e.log.Warn("Generation attempt failed",
				"iteration", iteration, "attempt", attempt, "error", err)
			continue
		}
		if ValidOutput(res.Output, e.cfg.MinValidWords) {
			return res, nil
		}
		e.log.Warn("Generator produced invalid output",
			"iteration", iteration, "attempt", attempt, "length", len(res.Output))
	}
	return nil, nil
}

// evaluate runs the evaluator, or skips it when the generator is a professor
// on the final iteration with prior iterations present (the professor
// synthesizes internally).
func (e *Engine) evaluate(ctx context.Context, problem *models.Problem, gen *agent.Result, iteration, priorCount int) (*agent.Result, error) {
	if e.cfg.Generator.Role() == agent.RoleProfessor &&
		iteration == e.cfg.MaxIterations && priorCount >= 1 {
		return &agent.Result{ShouldStop: true}, nil
	}

	additional := map[string]any{}
	if gen.ReasoningSummary != "" {
		additional["generator_reasoning"] = gen.ReasoningSummary
	}

	// Evaluation always runs against the original question, not the refined
	// prompt.
	res, err := e.cfg.Evaluator.Run(ctx, &agent.RunContext{
		Prompt:      problem.Question,
		PriorOutput: gen.Output,
		Iteration:   iteration,
		Additional:  additional,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation failed at iteration %d: %w", iteration, err)
	}
	return res, nil
}

func (e *Engine) refine(ctx context.Context, problem *models.Problem, rec *models.IterationRecord, iteration int) (*agent.Result, error) {
	additional := map[string]any{}
	if rec.Metadata.Evaluator != nil && rec.Metadata.Evaluator.ReasoningSummary != "" {
		additional["evaluator_reasoning"] = rec.Metadata.Evaluator.ReasoningSummary
	}

	res, err := e.cfg.Refiner.Run(ctx, &agent.RunContext{
		Prompt:      problem.Question,
		PriorOutput: rec.Output,
		Feedback:    rec.Feedback,
		Iteration:   iteration,
		Additional:  additional,
	})
	if err != nil {
		return nil, fmt.Errorf("refinement failed at iteration %d: %w", iteration, err)
	}
	return res, nil
}

// continuationFallback resolves an iteration that yielded no valid output: the
// most recent valid record becomes the answer when fallback is allowed, else
// the run fails.
func (e *Engine) continuationFallback(history models.EvolutionHistory) (*models.Solution, error) {
	best := e.mostRecentValid(history)
	if best == nil || !e.cfg.AllowContinuationFallback {
		return nil, ErrNoValidIteration
	}

	diagnostic := fmt.Sprintf(
		"iteration %d selected as best: invalid output in subsequent iterations; returning best available",
		best.Iteration)
	e.log.Warn("Continuation fallback applied", "best_iteration", best.Iteration)

	sol := &models.Solution{
		Output:      best.Output,
		Iterations:  len(history),
		History:     history,
		TotalTokens: history.TotalTokens(),
		Metadata: models.SolutionMetadata{
			Converged:          true,
			StopReason:         models.StopReasonFallbackToBest,
			FallbackUsed:       true,
			FallbackDiagnostic: diagnostic,
		},
	}
	e.attachGeneratorMetadata(sol, nil, history)
	return sol, nil
}

// answersConverged reports whether the trailing records emit the same
// extracted answer-tag value answerConvergenceRun times in a row.
func (e *Engine) answersConverged(history models.EvolutionHistory) bool {
	if len(history) < answerConvergenceRun {
		return false
	}
	tail := history[len(history)-answerConvergenceRun:]
	first := strings.ToLower(agent.ExtractAnswerTag(tail[0].Output, e.cfg.AnswerTag))
	if first == "" {
		return false
	}
	for _, rec := range tail[1:] {
		if strings.ToLower(agent.ExtractAnswerTag(rec.Output, e.cfg.AnswerTag)) != first {
			return false
		}
	}
	return true
}

func (e *Engine) checkCancel(ctx context.Context) error {
	if e.cancelled.Load() {
		return ErrCancelled
	}
	if ctx.Err() != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("solve deadline exceeded: %w", ctx.Err())
		}
		return ErrCancelled
	}
	return nil
}

// writePartial persists the iteration snapshot when a job id and store are
// bound. Failures are logged, never fatal: live observation is best-effort.
func (e *Engine) writePartial(ctx context.Context, history models.EvolutionHistory, latest *models.IterationRecord) {
	if !e.cfg.PartialWrites || e.cfg.Store == nil || e.cfg.JobID == "" {
		return
	}

	snapshot := &models.PartialResult{
		IterationsSoFar: len(history),
		LatestIteration: latest,
		History:         history,
		Timestamp:       time.Now().UTC(),
	}
	data, err := snapshot.MarshalString()
	if err != nil {
		e.log.Warn("Failed to serialize partial result", "error", err)
		return
	}
	if err := e.cfg.Store.SetJobFields(ctx, e.cfg.JobID, map[string]string{
		models.FieldPartialResults: data,
	}); err != nil {
		e.log.Warn("Failed to persist partial result", "iteration", latest.Iteration, "error", err)
	}
}

func (e *Engine) report(iteration int, rec *models.IterationRecord, history models.EvolutionHistory) {
	if e.cfg.Progress == nil {
		return
	}
	e.cfg.Progress(Progress{
		Iteration:     iteration,
		MaxIterations: e.cfg.MaxIterations,
		Record:        rec,
		TotalTokens:   history.TotalTokens(),
	})
}

// attachGeneratorMetadata copies specialist projections and reasoning totals
// into the solution metadata.
func (e *Engine) attachGeneratorMetadata(sol *models.Solution, lastGen *agent.Result, history models.EvolutionHistory) {
	if lastGen != nil && len(lastGen.Specialists) > 0 {
		sol.Metadata.SpecialistResults = lastGen.Specialists
	}
	reasoning := 0
	for _, rec := range history {
		reasoning += rec.Metadata.ReasoningTotal()
	}
	sol.Metadata.ReasoningTokens = reasoning
}

func (e *Engine) resumePrompt(problem *models.Problem, history models.EvolutionHistory) string {
	if last := history.Last(); last != nil && last.RefinedPrompt != "" {
		return last.RefinedPrompt
	}
	return problem.Question
}

func (e *Engine) hasValidRecord(history models.EvolutionHistory) bool {
	return e.mostRecentValid(history) != nil
}

func (e *Engine) mostRecentValid(history models.EvolutionHistory) *models.IterationRecord {
	for i := len(history) - 1; i >= 0; i-- {
		if ValidOutput(history[i].Output, e.cfg.MinValidWords) {
			return history[i]
		}
	}
	return nil
}

func (e *Engine) setExtra(rec *models.IterationRecord, key string, value any) {
	if rec.Metadata.Extra == nil {
		rec.Metadata.Extra = map[string]any{}
	}
	rec.Metadata.Extra[key] = value
}
