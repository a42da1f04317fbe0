package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagekit/sage/pkg/config"
	"github.com/sagekit/sage/pkg/models"
	"github.com/sagekit/sage/pkg/store"
)

// stubExecutor records calls and delegates to fn, defaulting to a completed
// result.
type stubExecutor struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, rec *models.JobRecord) *ExecutionResult
}

func (s *stubExecutor) Execute(ctx context.Context, rec *models.JobRecord) *ExecutionResult {
	s.mu.Lock()
	s.calls = append(s.calls, rec.JobID)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx, rec)
	}
	return &ExecutionResult{
		Status:   models.JobStatusCompleted,
		Solution: &models.Solution{Output: "done"},
	}
}

func (s *stubExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// stubRegistry satisfies JobRegistry without a full pool.
type stubRegistry struct {
	mu         sync.Mutex
	registered map[string]context.CancelFunc
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{registered: make(map[string]context.CancelFunc)}
}

func (r *stubRegistry) RegisterJob(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[jobID] = cancel
}

func (r *stubRegistry) UnregisterJob(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registered, jobID)
}

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:        1,
		PollInterval:       10 * time.Millisecond,
		PollIntervalJitter: 0,
		JobTimeout:         time.Minute,
		StaleCheckInterval: 0,
		StaleThreshold:     time.Minute,
	}
}

func seedJob(t *testing.T, st store.Store, jobID string, status models.JobStatus) {
	t.Helper()
	req := &models.JobRequest{Question: "What is 2+2?", Mode: models.RunModeBasic}
	raw, err := req.MarshalString()
	require.NoError(t, err)
	require.NoError(t, st.SetJobFields(context.Background(), jobID, map[string]string{
		models.FieldJobID:     jobID,
		models.FieldStatus:    string(status),
		models.FieldCreatedAt: models.FormatTimeField(time.Now()),
		models.FieldRequest:   raw,
		models.FieldMode:      string(models.RunModeBasic),
	}))
}

func jobStatus(t *testing.T, st store.Store, jobID string) models.JobStatus {
	t.Helper()
	fields, err := st.GetJobFields(context.Background(), jobID)
	require.NoError(t, err)
	return models.JobStatus(fields[models.FieldStatus])
}

func waitForStatus(t *testing.T, st store.Store, jobID string, want models.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return jobStatus(t, st, jobID) == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached status %s", jobID, want)
}

func startWorker(t *testing.T, st store.Store, b Broker, exec JobExecutor, cfg *config.QueueConfig) *Worker {
	t.Helper()
	w := NewWorker("w-0", "pod-1", st, b, cfg, 0, exec, newStubRegistry(), nil)
	w.Start(context.Background())
	t.Cleanup(w.Stop)
	return w
}

func TestWorkerProcessesJob(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := NewMemoryBroker(4)
	exec := &stubExecutor{}

	seedJob(t, st, "job-1", models.JobStatusPending)
	require.NoError(t, b.Enqueue(ctx, &Task{Name: TaskSolveJob, JobID: "job-1"}))

	w := startWorker(t, st, b, exec, testQueueConfig())

	waitForStatus(t, st, "job-1", models.JobStatusCompleted)
	assert.Equal(t, 1, exec.callCount())

	fields, err := st.GetJobFields(ctx, "job-1")
	require.NoError(t, err)
	assert.NotEmpty(t, fields[models.FieldStartedAt])
	assert.NotEmpty(t, fields[models.FieldCompletedAt])
	assert.NotEmpty(t, fields[models.FieldResult])
	assert.Equal(t, "1.0", fields[models.FieldProgress])

	// Lock released after the terminal write.
	require.Eventually(t, func() bool {
		held, err := st.LockHeld(ctx, "job-1")
		return err == nil && !held
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		h := w.Health()
		return h.JobsProcessed == 1 && h.Status == WorkerStatusIdle
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerFailedExecution(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := NewMemoryBroker(4)
	exec := &stubExecutor{
		fn: func(_ context.Context, _ *models.JobRecord) *ExecutionResult {
			return &ExecutionResult{
				Status: models.JobStatusFailed,
				Err:    assert.AnError,
			}
		},
	}

	seedJob(t, st, "job-1", models.JobStatusPending)
	require.NoError(t, b.Enqueue(ctx, &Task{Name: TaskSolveJob, JobID: "job-1"}))

	startWorker(t, st, b, exec, testQueueConfig())

	waitForStatus(t, st, "job-1", models.JobStatusFailed)
	fields, err := st.GetJobFields(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, assert.AnError.Error(), fields[models.FieldError])
	assert.Empty(t, fields[models.FieldResult])
}

func TestWorkerSkipsDuplicateTask(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := NewMemoryBroker(4)
	exec := &stubExecutor{}

	seedJob(t, st, "job-1", models.JobStatusPending)

	// Another worker already holds the single-flight lock.
	acquired, err := st.AcquireLock(ctx, "job-1", "other-worker", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, b.Enqueue(ctx, &Task{Name: TaskSolveJob, JobID: "job-1"}))
	startWorker(t, st, b, exec, testQueueConfig())

	// The task is discarded without mutation.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, exec.callCount())
	assert.Equal(t, models.JobStatusPending, jobStatus(t, st, "job-1"))
}

func TestWorkerRevokedBeforeExecution(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := NewMemoryBroker(4)
	exec := &stubExecutor{}

	seedJob(t, st, "job-1", models.JobStatusPending)
	require.NoError(t, b.Revoke(ctx, "job-1"))
	require.NoError(t, b.Enqueue(ctx, &Task{Name: TaskSolveJob, JobID: "job-1"}))

	startWorker(t, st, b, exec, testQueueConfig())

	waitForStatus(t, st, "job-1", models.JobStatusCancelled)
	assert.Equal(t, 0, exec.callCount())
}

func TestWorkerCancelRequestedBeforeExecution(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := NewMemoryBroker(4)
	exec := &stubExecutor{}

	seedJob(t, st, "job-1", models.JobStatusPending)
	require.NoError(t, st.SetJobFields(ctx, "job-1", map[string]string{
		models.FieldCancelRequested: "true",
	}))
	require.NoError(t, b.Enqueue(ctx, &Task{Name: TaskSolveJob, JobID: "job-1"}))

	startWorker(t, st, b, exec, testQueueConfig())

	waitForStatus(t, st, "job-1", models.JobStatusCancelled)
	assert.Equal(t, 0, exec.callCount())
}

func TestWorkerCancelMonitor(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := NewMemoryBroker(4)

	started := make(chan struct{})
	exec := &stubExecutor{
		fn: func(jobCtx context.Context, _ *models.JobRecord) *ExecutionResult {
			close(started)
			<-jobCtx.Done()
			return &ExecutionResult{
				Status: models.JobStatusCancelled,
				Err:    jobCtx.Err(),
			}
		},
	}

	seedJob(t, st, "job-1", models.JobStatusPending)
	require.NoError(t, b.Enqueue(ctx, &Task{Name: TaskSolveJob, JobID: "job-1"}))

	startWorker(t, st, b, exec, testQueueConfig())

	// Flag the cancel once execution is underway; the monitor picks it up.
	<-started
	require.NoError(t, st.SetJobFields(ctx, "job-1", map[string]string{
		models.FieldCancelRequested: "true",
	}))

	waitForStatus(t, st, "job-1", models.JobStatusCancelled)
}

func TestWorkerJobTimeout(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := NewMemoryBroker(4)

	exec := &stubExecutor{
		fn: func(jobCtx context.Context, _ *models.JobRecord) *ExecutionResult {
			<-jobCtx.Done()
			return nil // nil-guard path
		},
	}

	cfg := testQueueConfig()
	cfg.JobTimeout = 50 * time.Millisecond

	seedJob(t, st, "job-1", models.JobStatusPending)
	require.NoError(t, b.Enqueue(ctx, &Task{Name: TaskSolveJob, JobID: "job-1"}))

	startWorker(t, st, b, exec, cfg)

	waitForStatus(t, st, "job-1", models.JobStatusFailed)
	fields, err := st.GetJobFields(ctx, "job-1")
	require.NoError(t, err)
	assert.Contains(t, fields[models.FieldError], "timed out")
}

func TestWorkerStopIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	b := NewMemoryBroker(4)
	w := NewWorker("w-0", "pod-1", st, b, testQueueConfig(), 0, &stubExecutor{}, newStubRegistry(), nil)
	w.Start(context.Background())

	w.Stop()
	w.Stop()
}
