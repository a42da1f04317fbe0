package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sagekit/sage/pkg/events"
	"github.com/sagekit/sage/pkg/models"
	"github.com/sagekit/sage/pkg/queue"
	"github.com/sagekit/sage/pkg/store"
)

const (
	// maxQuestionBytes bounds the submitted question text.
	maxQuestionBytes = 64 * 1024

	// maxIterationsLimit bounds the per-request iteration override and the
	// continuation budget.
	maxIterationsLimit = 20
)

// SubmitJobInput contains the domain-level data needed to create a job.
// Transformed from the HTTP request by the handler.
type SubmitJobInput struct {
	Question      string
	Context       string
	Constraints   string
	Metadata      map[string]any
	Mode          models.RunMode
	MaxIterations int
}

// JobService handles job submission, inspection, cancellation, and
// continuation. Execution itself belongs to the worker pool.
type JobService struct {
	store     store.Store
	broker    queue.Broker
	publisher *events.Publisher
	jobTTL    time.Duration
}

// NewJobService creates a new JobService. publisher may be nil (event
// delivery disabled).
func NewJobService(st store.Store, broker queue.Broker, publisher *events.Publisher, jobTTL time.Duration) *JobService {
	if st == nil {
		panic("NewJobService: store must not be nil")
	}
	if broker == nil {
		panic("NewJobService: broker must not be nil")
	}
	return &JobService{
		store:     st,
		broker:    broker,
		publisher: publisher,
		jobTTL:    jobTTL,
	}
}

// Submit validates the input, persists a pending job record, and enqueues a
// solve task for the worker pool.
func (s *JobService) Submit(ctx context.Context, input SubmitJobInput) (*models.JobRecord, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, NewValidationError("question", "question is required")
	}
	if len(question) > maxQuestionBytes {
		return nil, NewValidationError("question", fmt.Sprintf("question exceeds %d bytes", maxQuestionBytes))
	}

	mode := input.Mode
	if mode == "" {
		mode = models.RunModeBasic
	}
	if !mode.Valid() {
		return nil, NewValidationError("mode", fmt.Sprintf("unknown mode '%s'", mode))
	}
	if input.MaxIterations < 0 || input.MaxIterations > maxIterationsLimit {
		return nil, NewValidationError("max_iterations", fmt.Sprintf("must be in [0, %d]", maxIterationsLimit))
	}

	req := &models.JobRequest{
		Question:      question,
		Context:       input.Context,
		Constraints:   input.Constraints,
		Metadata:      input.Metadata,
		Mode:          mode,
		MaxIterations: input.MaxIterations,
	}
	return s.createJob(ctx, req)
}

// Get returns the parsed job record.
func (s *JobService) Get(ctx context.Context, jobID string) (*models.JobRecord, error) {
	fields, err := s.store.GetJobFields(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("loading job %s: %w", jobID, err)
	}
	return models.JobRecordFromFields(fields), nil
}

// Result returns the record of a finished job. Live jobs yield
// ErrJobNotTerminal.
func (s *JobService) Result(ctx context.Context, jobID string) (*models.JobRecord, error) {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Terminal() {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotTerminal)
	}
	return rec, nil
}

// Cancel requests cancellation of a job. Pending jobs are cancelled
// immediately; running jobs get the cancel flag plus a broker revocation and
// terminate asynchronously. Cancelling an already-cancelled job is a no-op.
func (s *JobService) Cancel(ctx context.Context, jobID string) (*models.JobRecord, error) {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case models.JobStatusCancelled:
		return rec, nil // idempotent
	case models.JobStatusCompleted, models.JobStatusFailed:
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobTerminal)
	case models.JobStatusPending:
		// Never claimed: terminal cancel right here, plus a revocation so a
		// worker racing on the queued task discards it.
		now := models.FormatTimeField(time.Now())
		if err := s.store.SetJobFields(ctx, jobID, map[string]string{
			models.FieldStatus:          string(models.JobStatusCancelled),
			models.FieldCompletedAt:     now,
			models.FieldCancelRequested: "true",
		}); err != nil {
			return nil, fmt.Errorf("cancelling job %s: %w", jobID, err)
		}
		if err := s.broker.Revoke(ctx, jobID); err != nil {
			slog.Warn("Failed to revoke cancelled job", "job_id", jobID, "error", err)
		}
		s.publishStatus(ctx, jobID, models.JobStatusCancelled)
		return s.Get(ctx, jobID)
	default: // running
		if err := s.store.SetJobFields(ctx, jobID, map[string]string{
			models.FieldCancelRequested: "true",
		}); err != nil {
			return nil, fmt.Errorf("requesting cancel for job %s: %w", jobID, err)
		}
		if err := s.broker.Revoke(ctx, jobID); err != nil {
			slog.Warn("Failed to revoke running job", "job_id", jobID, "error", err)
		}
		return s.Get(ctx, jobID)
	}
}

// Resume creates a continuation job extending a finished job's evolution
// history by additional iterations.
func (s *JobService) Resume(ctx context.Context, jobID string, additional int) (*models.JobRecord, error) {
	if additional < 1 || additional > maxIterationsLimit {
		return nil, NewValidationError("additional_iterations", fmt.Sprintf("must be in [1, %d]", maxIterationsLimit))
	}

	parent, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !parent.Status.Terminal() {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotTerminal)
	}
	if parent.Request == nil {
		return nil, NewValidationError("continued_from", fmt.Sprintf("job %s has no request to continue", jobID))
	}
	if !hasHistory(parent) {
		return nil, NewValidationError("continued_from", fmt.Sprintf("job %s has no evolution history to continue", jobID))
	}

	req := *parent.Request
	req.ContinuedFrom = jobID
	req.AdditionalIterations = additional
	req.MaxIterations = 0 // budget comes from the inherited history
	return s.createJob(ctx, &req)
}

// createJob persists a pending record and enqueues its solve task.
func (s *JobService) createJob(ctx context.Context, req *models.JobRequest) (*models.JobRecord, error) {
	jobID := uuid.New().String()

	raw, err := req.MarshalString()
	if err != nil {
		return nil, fmt.Errorf("serializing request: %w", err)
	}
	fields := map[string]string{
		models.FieldJobID:     jobID,
		models.FieldStatus:    string(models.JobStatusPending),
		models.FieldCreatedAt: models.FormatTimeField(time.Now()),
		models.FieldMode:      string(req.Mode),
		models.FieldRequest:   raw,
	}
	if req.ContinuedFrom != "" {
		fields[models.FieldContinuedFrom] = req.ContinuedFrom
	}

	if err := s.store.SetJobFields(ctx, jobID, fields); err != nil {
		return nil, fmt.Errorf("persisting job %s: %w", jobID, err)
	}
	if s.jobTTL > 0 {
		if err := s.store.SetTTL(ctx, jobID, s.jobTTL); err != nil {
			slog.Warn("Failed to set job TTL", "job_id", jobID, "error", err)
		}
	}
	if err := s.broker.Enqueue(ctx, &queue.Task{Name: queue.TaskSolveJob, JobID: jobID}); err != nil {
		return nil, fmt.Errorf("enqueuing job %s: %w", jobID, err)
	}

	slog.Info("Job submitted", "job_id", jobID, "mode", req.Mode,
		"continued_from", req.ContinuedFrom)
	return models.JobRecordFromFields(fields), nil
}

func (s *JobService) publishStatus(ctx context.Context, jobID string, status models.JobStatus) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishJobStatus(ctx, jobID, events.JobStatusPayload{
		BasePayload: events.NewBasePayload(events.EventTypeJobStatus, jobID),
		Status:      string(status),
	}); err != nil {
		slog.Warn("Failed to publish job status", "job_id", jobID, "error", err)
	}
}

// hasHistory reports whether a record carries any evolution history, either
// in the terminal result or in the last partial snapshot.
func hasHistory(rec *models.JobRecord) bool {
	if rec.Result != nil && len(rec.Result.History) > 0 {
		return true
	}
	return rec.PartialResults != nil && len(rec.PartialResults.History) > 0
}
