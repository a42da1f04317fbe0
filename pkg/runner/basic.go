package runner

import (
	"context"

	"github.com/sagekit/sage/pkg/agent"
	"github.com/sagekit/sage/pkg/config"
	"github.com/sagekit/sage/pkg/engine"
	"github.com/sagekit/sage/pkg/models"
	"github.com/sagekit/sage/pkg/provider"
)

// Basic runs the generator/evaluator/refiner triple directly.
type Basic struct {
	provider provider.Provider
	cfg      *config.EngineConfig
	opts     Options
}

var _ Runner = (*Basic)(nil)

// NewBasic creates a basic-mode runner bound to one job.
func NewBasic(p provider.Provider, cfg *config.EngineConfig, opts Options) *Basic {
	return &Basic{provider: p, cfg: cfg, opts: opts}
}

func (r *Basic) Mode() models.RunMode { return models.RunModeBasic }

func (r *Basic) Solve(ctx context.Context, question, context_, constraints string, metadata map[string]any, progress ProgressFunc) (*models.Solution, error) {
	eng, err := r.newEngine(r.cfg.MaxIters, progress)
	if err != nil {
		return nil, err
	}
	return eng.Solve(ctx, models.NewProblem(question, context_, constraints, metadata))
}

func (r *Basic) ResumeSolve(ctx context.Context, question string, history models.EvolutionHistory, additional int, progress ProgressFunc) (*models.Solution, error) {
	eng, err := r.newEngine(len(history)+additional, progress)
	if err != nil {
		return nil, err
	}
	return eng.ResumeSolve(ctx, models.NewProblem(question, "", "", nil), history, len(history)+1)
}

func (r *Basic) newEngine(maxIters int, progress ProgressFunc) (*engine.Engine, error) {
	var engineProgress engine.ProgressFunc
	if progress != nil {
		engineProgress = func(p engine.Progress) {
			progress(Progress{
				Fraction:      clampFraction(float64(p.Iteration) / float64(p.MaxIterations)),
				Iteration:     p.Iteration,
				MaxIterations: p.MaxIterations,
				TotalTokens:   p.TotalTokens,
			})
		}
	}

	return engine.New(engine.Config{
		Generator:                 agent.NewGenerator(r.provider, "", generatorTemperature),
		Evaluator:                 agent.NewEvaluator(r.provider, "", evaluatorTemperature, r.cfg.StopTokenPattern),
		Refiner:                   agent.NewRefiner(r.provider, "", refinerTemperature),
		MaxIterations:             maxIters,
		MaxRetriesPerIteration:    r.cfg.MaxRetriesPerIteration,
		MinValidWords:             r.cfg.InvalidOutputMinWords,
		AllowContinuationFallback: r.cfg.ContinuationFallbackEnabled(),
		AnswerTag:                 r.cfg.AnswerTagPattern,
		AnswerConvergence:         r.cfg.AnswerConvergenceEnabled(),
		Progress:                  engineProgress,
		JobID:                     r.opts.JobID,
		Store:                     r.opts.Store,
		PartialWrites:             r.opts.PartialWrites,
	})
}
