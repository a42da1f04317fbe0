package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sagekit/sage/pkg/config"
	"github.com/sagekit/sage/pkg/engine"
	"github.com/sagekit/sage/pkg/events"
	"github.com/sagekit/sage/pkg/models"
	"github.com/sagekit/sage/pkg/provider"
	"github.com/sagekit/sage/pkg/runner"
	"github.com/sagekit/sage/pkg/store"
)

// ProviderFactory builds a fresh provider for one job. Providers retain
// per-call state (usage, conversation), so they are never shared across jobs.
type ProviderFactory func() (provider.Provider, error)

// Executor runs claimed jobs through the appropriate runner, writing progress
// and partial results to the store and publishing live events along the way.
type Executor struct {
	store       store.Store
	publisher   *events.Publisher
	newProvider ProviderFactory
	engineCfg   *config.EngineConfig
}

// NewExecutor creates an Executor. publisher may be nil (events disabled).
func NewExecutor(st store.Store, publisher *events.Publisher, factory ProviderFactory, engineCfg *config.EngineConfig) *Executor {
	return &Executor{
		store:       st,
		publisher:   publisher,
		newProvider: factory,
		engineCfg:   engineCfg,
	}
}

// Execute runs one job to its terminal state.
func (e *Executor) Execute(ctx context.Context, rec *models.JobRecord) *ExecutionResult {
	log := slog.With("component", "executor", "job_id", rec.JobID)

	req := rec.Request
	if req == nil {
		return &ExecutionResult{
			Status: models.JobStatusFailed,
			Err:    fmt.Errorf("job record has no request"),
		}
	}

	prov, err := e.newProvider()
	if err != nil {
		return &ExecutionResult{
			Status: models.JobStatusFailed,
			Err:    fmt.Errorf("building provider: %w", err),
		}
	}

	// Record the provider identity for the job record readers.
	e.setFields(ctx, rec.JobID, map[string]string{
		models.FieldProviderName: prov.Name(),
		models.FieldModelName:    prov.Model(),
	})

	r := e.newRunner(prov, rec.JobID, req)
	progressFn := e.progressFunc(ctx, rec.JobID)

	var sol *models.Solution
	if req.ContinuedFrom != "" {
		history, herr := e.loadHistory(ctx, req.ContinuedFrom)
		if herr != nil {
			return &ExecutionResult{Status: models.JobStatusFailed, Err: herr}
		}
		sol, err = r.ResumeSolve(ctx, req.Question, history, req.AdditionalIterations, progressFn)
	} else {
		sol, err = r.Solve(ctx, req.Question, req.Context, req.Constraints, req.Metadata, progressFn)
	}

	switch {
	case err == nil:
		return &ExecutionResult{Status: models.JobStatusCompleted, Solution: sol}
	case errors.Is(err, engine.ErrCancelled):
		log.Info("Job execution cancelled")
		return &ExecutionResult{Status: models.JobStatusCancelled, Err: err}
	default:
		log.Error("Job execution failed", "error", err)
		return &ExecutionResult{Status: models.JobStatusFailed, Err: err}
	}
}

// newRunner selects the runner by mode; unknown modes fall back to basic.
// A per-request iteration cap overrides the configured one.
func (e *Executor) newRunner(prov provider.Provider, jobID string, req *models.JobRequest) runner.Runner {
	engineCfg := e.engineCfg
	if req.MaxIterations > 0 {
		cfg := *e.engineCfg
		if req.Mode == models.RunModeEnhanced {
			cfg.ProfessorMaxIters = req.MaxIterations
		} else {
			cfg.MaxIters = req.MaxIterations
		}
		engineCfg = &cfg
	}

	opts := runner.Options{
		JobID:         jobID,
		Store:         &partialNotifier{store: e.store, publisher: e.publisher},
		PartialWrites: engineCfg.PartialWritesEnabled(),
	}
	if req.Mode == models.RunModeEnhanced {
		return runner.NewEnhanced(prov, engineCfg, opts)
	}
	return runner.NewBasic(prov, engineCfg, opts)
}

// progressFunc persists progress fields and publishes job.progress events.
// Both are best-effort.
func (e *Executor) progressFunc(ctx context.Context, jobID string) runner.ProgressFunc {
	return func(p runner.Progress) {
		fields := map[string]string{
			models.FieldProgress: strconv.FormatFloat(p.Fraction, 'f', 4, 64),
		}
		if p.Phase != "" {
			fields[models.FieldCurrentPhase] = p.Phase
		}
		e.setFields(ctx, jobID, fields)

		if e.publisher != nil {
			if err := e.publisher.PublishJobProgress(ctx, jobID, events.JobProgressPayload{
				BasePayload:   events.NewBasePayload(events.EventTypeJobProgress, jobID),
				Iteration:     p.Iteration,
				MaxIterations: p.MaxIterations,
				Phase:         p.Phase,
				Fraction:      p.Fraction,
				TotalTokens:   p.TotalTokens,
			}); err != nil {
				slog.Warn("Failed to publish job progress", "job_id", jobID, "error", err)
			}
		}
	}
}

// loadHistory resolves the evolution history of a continued-from job: the
// terminal result's history when present, else the last partial snapshot.
func (e *Executor) loadHistory(ctx context.Context, parentID string) (models.EvolutionHistory, error) {
	fields, err := e.store.GetJobFields(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("loading continued-from job %s: %w", parentID, err)
	}
	parent := models.JobRecordFromFields(fields)
	if parent.Result != nil && len(parent.Result.History) > 0 {
		return parent.Result.History, nil
	}
	if parent.PartialResults != nil && len(parent.PartialResults.History) > 0 {
		return parent.PartialResults.History, nil
	}
	return nil, fmt.Errorf("continued-from job %s has no evolution history", parentID)
}

func (e *Executor) setFields(ctx context.Context, jobID string, fields map[string]string) {
	if err := e.store.SetJobFields(ctx, jobID, fields); err != nil {
		slog.Warn("Failed to write job fields", "job_id", jobID, "error", err)
	}
}

// partialNotifier passes engine partial writes through to the store and
// announces them on the job's event channel.
type partialNotifier struct {
	store     store.Store
	publisher *events.Publisher
}

func (n *partialNotifier) SetJobFields(ctx context.Context, jobID string, fields map[string]string) error {
	if err := n.store.SetJobFields(ctx, jobID, fields); err != nil {
		return err
	}
	if n.publisher == nil {
		return nil
	}
	raw, ok := fields[models.FieldPartialResults]
	if !ok {
		return nil
	}
	snapshot, err := models.UnmarshalPartialResult(raw)
	if err != nil {
		return nil
	}
	if err := n.publisher.PublishJobPartial(ctx, jobID, events.JobPartialPayload{
		BasePayload:     events.NewBasePayload(events.EventTypeJobPartial, jobID),
		IterationsSoFar: snapshot.IterationsSoFar,
	}); err != nil {
		slog.Warn("Failed to publish partial-result event", "job_id", jobID, "error", err)
	}
	return nil
}
