package runner

import (
	"context"
	"sync"

	"github.com/sagekit/sage/pkg/agent"
	"github.com/sagekit/sage/pkg/agent/orchestrator"
	"github.com/sagekit/sage/pkg/config"
	"github.com/sagekit/sage/pkg/engine"
	"github.com/sagekit/sage/pkg/models"
	"github.com/sagekit/sage/pkg/provider"
)

// Enhanced runs the professor orchestrator as the generator: each outer
// iteration decomposes the problem into specialist sub-solves and synthesizes
// their results.
type Enhanced struct {
	provider provider.Provider
	cfg      *config.EngineConfig
	opts     Options
}

var _ Runner = (*Enhanced)(nil)

// NewEnhanced creates an enhanced-mode runner bound to one job.
func NewEnhanced(p provider.Provider, cfg *config.EngineConfig, opts Options) *Enhanced {
	return &Enhanced{provider: p, cfg: cfg, opts: opts}
}

func (r *Enhanced) Mode() models.RunMode { return models.RunModeEnhanced }

func (r *Enhanced) Solve(ctx context.Context, question, context_, constraints string, metadata map[string]any, progress ProgressFunc) (*models.Solution, error) {
	eng, err := r.newEngine(r.cfg.ProfessorMaxIters, progress)
	if err != nil {
		return nil, err
	}
	return eng.Solve(ctx, models.NewProblem(question, context_, constraints, metadata))
}

func (r *Enhanced) ResumeSolve(ctx context.Context, question string, history models.EvolutionHistory, additional int, progress ProgressFunc) (*models.Solution, error) {
	eng, err := r.newEngine(len(history)+additional, progress)
	if err != nil {
		return nil, err
	}
	return eng.ResumeSolve(ctx, models.NewProblem(question, "", "", nil), history, len(history)+1)
}

func (r *Enhanced) newEngine(maxIters int, progress ProgressFunc) (*engine.Engine, error) {
	tracker := &phaseTracker{progress: progress, maxIters: maxIters}

	professor := orchestrator.New(r.provider, orchestrator.Config{
		ParentJobID:               r.opts.JobID,
		SpecialistMaxIterations:   r.cfg.SpecialistMaxIters,
		MaxRetriesPerIteration:    r.cfg.MaxRetriesPerIteration,
		MinValidWords:             r.cfg.InvalidOutputMinWords,
		StopToken:                 r.cfg.StopTokenPattern,
		AnswerTag:                 r.cfg.AnswerTagPattern,
		AllowContinuationFallback: r.cfg.ContinuationFallbackEnabled(),
		Store:                     r.opts.Store,
		PartialWrites:             r.opts.PartialWrites,
		Temperature:               generatorTemperature,
		ContextWindow:             r.provider.ContextWindow(),
		ContextThreshold:          r.cfg.ContextSummarizationThreshold,
		Progress:                  tracker.onPhase,
	})

	return engine.New(engine.Config{
		Generator:                 professor,
		Evaluator:                 agent.NewEvaluator(r.provider, "", evaluatorTemperature, r.cfg.StopTokenPattern),
		Refiner:                   agent.NewRefiner(r.provider, "", refinerTemperature),
		MaxIterations:             maxIters,
		MaxRetriesPerIteration:    r.cfg.MaxRetriesPerIteration,
		MinValidWords:             r.cfg.InvalidOutputMinWords,
		AllowContinuationFallback: r.cfg.ContinuationFallbackEnabled(),
		AnswerTag:                 r.cfg.AnswerTagPattern,
		AnswerConvergence:         r.cfg.AnswerConvergenceEnabled(),
		Progress:                  tracker.onIteration,
		JobID:                     r.opts.JobID,
		Store:                     r.opts.Store,
		PartialWrites:             r.opts.PartialWrites,
	})
}

// phaseTracker folds professor phase progress and engine iteration progress
// into one overall fraction: completed outer iterations plus the phase-weighted
// position inside the current one.
type phaseTracker struct {
	mu        sync.Mutex
	progress  ProgressFunc
	maxIters  int
	done      int
	phaseFrac float64
	phase     string
	tokens    int
}

func (t *phaseTracker) onPhase(phase orchestrator.Phase, frac float64) {
	if t.progress == nil {
		return
	}
	t.mu.Lock()
	t.phase = phase.String()
	t.phaseFrac = (float64(phase) + clampFraction(frac)) / float64(orchestrator.PhaseCount)
	p := t.snapshotLocked(0)
	t.mu.Unlock()
	t.progress(p)
}

func (t *phaseTracker) onIteration(ep engine.Progress) {
	if t.progress == nil {
		return
	}
	t.mu.Lock()
	t.done = ep.Iteration
	t.phaseFrac = 0
	t.tokens = ep.TotalTokens
	p := t.snapshotLocked(ep.Iteration)
	t.mu.Unlock()
	t.progress(p)
}

func (t *phaseTracker) snapshotLocked(iteration int) Progress {
	return Progress{
		Fraction:      clampFraction((float64(t.done) + t.phaseFrac) / float64(t.maxIters)),
		Phase:         t.phase,
		Iteration:     iteration,
		MaxIterations: t.maxIters,
		TotalTokens:   t.tokens,
	}
}
