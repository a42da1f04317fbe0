package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sagekit/sage/pkg/config"
	"github.com/sagekit/sage/pkg/events"
	"github.com/sagekit/sage/pkg/models"
	"github.com/sagekit/sage/pkg/store"
)

// cancelPollInterval is how often the cancel monitor checks the store and the
// revocation set while a job runs.
const cancelPollInterval = time.Second

// lockMargin extends the single-flight lock TTL past the job deadline so the
// lock outlives a job that runs up to its timeout.
const lockMargin = time.Minute

// Worker is a single queue worker that polls for and processes jobs.
type Worker struct {
	id        string
	podID     string
	store     store.Store
	broker    Broker
	config    *config.QueueConfig
	jobTTL    time.Duration
	executor  JobExecutor
	publisher *events.Publisher
	pool      JobRegistry
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a new queue worker.
// publisher may be nil (event delivery disabled).
func NewWorker(id, podID string, st store.Store, broker Broker, cfg *config.QueueConfig, jobTTL time.Duration, executor JobExecutor, pool JobRegistry, publisher *events.Publisher) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		store:        st,
		broker:       broker,
		config:       cfg,
		jobTTL:       jobTTL,
		executor:     executor,
		publisher:    publisher,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoTasksAvailable) {
					continue
				}
				log.Error("Error processing task", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess dequeues one task and processes its job.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	task, err := w.broker.Dequeue(ctx, w.pollInterval())
	if err != nil {
		return err
	}

	log := slog.With("job_id", task.JobID, "worker_id", w.id)
	log.Info("Task claimed")

	// Revoked while queued: terminal cancel without execution.
	if revoked, rerr := w.broker.IsRevoked(ctx, task.JobID); rerr == nil && revoked {
		log.Info("Task revoked before execution")
		w.markCancelled(ctx, task.JobID)
		return nil
	}

	// Single-flight lock. The TTL must outlive the job deadline.
	acquired, err := w.store.AcquireLock(ctx, task.JobID, w.id, w.config.JobTimeout+lockMargin)
	if err != nil {
		return fmt.Errorf("acquiring lock for job %s: %w", task.JobID, err)
	}
	if !acquired {
		log.Warn("Skipping duplicate task, lock already held")
		return nil
	}
	defer func() {
		if err := w.store.ReleaseLock(context.Background(), task.JobID); err != nil {
			log.Warn("Failed to release job lock", "error", err)
		}
	}()

	fields, err := w.store.GetJobFields(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			log.Warn("Task references missing job record, discarding")
			return nil
		}
		return fmt.Errorf("loading job %s: %w", task.JobID, err)
	}
	rec := models.JobRecordFromFields(fields)

	if rec.Status.Terminal() {
		log.Info("Job already terminal, discarding task", "status", rec.Status)
		return nil
	}
	if rec.CancelRequested && rec.Status == models.JobStatusPending {
		log.Info("Cancel requested before execution")
		w.markCancelled(ctx, task.JobID)
		return nil
	}

	// Transition to running.
	if !rec.Status.CanTransitionTo(models.JobStatusRunning) {
		log.Warn("Job cannot start from current status", "status", rec.Status)
		return nil
	}
	now := time.Now()
	w.writeFields(ctx, task.JobID, map[string]string{
		models.FieldStatus:    string(models.JobStatusRunning),
		models.FieldStartedAt: models.FormatTimeField(now),
	})
	w.publishStatus(ctx, task.JobID, models.JobStatusRunning, "")

	w.setStatus(WorkerStatusWorking, task.JobID)
	defer w.setStatus(WorkerStatusIdle, "")

	// Job context with the hard deadline.
	jobCtx, cancelJob := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancelJob()

	// Register cancel function for API-triggered cancellation on this pod.
	w.pool.RegisterJob(task.JobID, cancelJob)
	defer w.pool.UnregisterJob(task.JobID)

	// Cancel monitor: polls the store flag and the revocation set so
	// cancellations from other pods reach this job.
	monitorCtx, stopMonitor := context.WithCancel(jobCtx)
	defer stopMonitor()
	go w.runCancelMonitor(monitorCtx, task.JobID, cancelJob)

	result := w.executor.Execute(jobCtx, rec)

	// Nil-guard: synthesize a safe result if the executor returned nil.
	if result == nil {
		switch {
		case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
			result = &ExecutionResult{
				Status: models.JobStatusFailed,
				Err:    fmt.Errorf("job timed out after %v", w.config.JobTimeout),
			}
		case errors.Is(jobCtx.Err(), context.Canceled):
			result = &ExecutionResult{
				Status: models.JobStatusCancelled,
				Err:    context.Canceled,
			}
		default:
			result = &ExecutionResult{
				Status: models.JobStatusFailed,
				Err:    fmt.Errorf("executor returned nil result"),
			}
		}
	}

	// A deadline expiry surfaces as a generic failure from the engine; name
	// the timeout explicitly in the job record.
	if result.Status == models.JobStatusFailed && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		result.Err = fmt.Errorf("job timed out after %v", w.config.JobTimeout)
	}

	stopMonitor()

	// Terminal write uses a background context: the job context may be done.
	w.writeTerminal(context.Background(), task.JobID, result)

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("Job processing complete", "status", result.Status)
	return nil
}

// runCancelMonitor cancels the job context when the record's cancel flag or
// the broker's revocation set fires.
func (w *Worker) runCancelMonitor(ctx context.Context, jobID string, cancel context.CancelFunc) {
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fields, err := w.store.GetJobFields(ctx, jobID)
			if err == nil && fields[models.FieldCancelRequested] == "true" {
				slog.Info("Cancel flag observed, cancelling job", "job_id", jobID)
				cancel()
				return
			}
			if revoked, err := w.broker.IsRevoked(ctx, jobID); err == nil && revoked {
				slog.Info("Revocation observed, cancelling job", "job_id", jobID)
				cancel()
				return
			}
		}
	}
}

// writeTerminal persists the terminal status, result, and error.
func (w *Worker) writeTerminal(ctx context.Context, jobID string, result *ExecutionResult) {
	fields := map[string]string{
		models.FieldStatus:      string(result.Status),
		models.FieldCompletedAt: models.FormatTimeField(time.Now()),
	}
	if result.Status == models.JobStatusCompleted {
		fields[models.FieldProgress] = "1.0"
	}
	if result.Solution != nil {
		if data, err := result.Solution.MarshalString(); err == nil {
			fields[models.FieldResult] = data
		} else {
			slog.Error("Failed to serialize solution", "job_id", jobID, "error", err)
			fields[models.FieldStatus] = string(models.JobStatusFailed)
			fields[models.FieldError] = fmt.Sprintf("serializing solution: %v", err)
		}
	}
	if result.Err != nil {
		fields[models.FieldError] = result.Err.Error()
	}

	w.writeFields(ctx, jobID, fields)
	if w.jobTTL > 0 {
		if err := w.store.SetTTL(ctx, jobID, w.jobTTL); err != nil {
			slog.Warn("Failed to set job TTL", "job_id", jobID, "error", err)
		}
	}

	errText := ""
	if result.Err != nil {
		errText = result.Err.Error()
	}
	w.publishStatus(ctx, jobID, models.JobStatus(fields[models.FieldStatus]), errText)
}

// markCancelled writes a terminal cancelled status for a job that never ran.
func (w *Worker) markCancelled(ctx context.Context, jobID string) {
	w.writeFields(ctx, jobID, map[string]string{
		models.FieldStatus:      string(models.JobStatusCancelled),
		models.FieldCompletedAt: models.FormatTimeField(time.Now()),
	})
	if w.jobTTL > 0 {
		if err := w.store.SetTTL(ctx, jobID, w.jobTTL); err != nil {
			slog.Warn("Failed to set job TTL", "job_id", jobID, "error", err)
		}
	}
	w.publishStatus(ctx, jobID, models.JobStatusCancelled, "")
}

func (w *Worker) writeFields(ctx context.Context, jobID string, fields map[string]string) {
	if err := w.store.SetJobFields(ctx, jobID, fields); err != nil {
		slog.Error("Failed to write job fields", "job_id", jobID, "error", err)
	}
}

// publishStatus publishes a job status event. Non-blocking: errors are logged.
func (w *Worker) publishStatus(ctx context.Context, jobID string, status models.JobStatus, errText string) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.PublishJobStatus(ctx, jobID, events.JobStatusPayload{
		BasePayload: events.NewBasePayload(events.EventTypeJobStatus, jobID),
		Status:      string(status),
		Error:       errText,
	}); err != nil {
		slog.Warn("Failed to publish job status",
			"job_id", jobID, "status", status, "error", err)
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
