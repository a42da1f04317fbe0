// Package queue provides job queue management and processing infrastructure:
// the broker carrying solve tasks, the workers claiming and executing them
// under single-flight locks, and the stale-job scan recovering jobs whose
// workers died.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/sagekit/sage/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoTasksAvailable indicates no task was dequeued within the wait
	// window.
	ErrNoTasksAvailable = errors.New("no tasks available")

	// ErrBrokerClosed indicates the broker has been shut down.
	ErrBrokerClosed = errors.New("broker closed")
)

// TaskSolveJob is the only task name currently enqueued.
const TaskSolveJob = "solve_job"

// Task is one unit of queued work. JobID doubles as the task id; the full
// work description lives in the job record, not the task.
type Task struct {
	Name  string            `json:"name"`
	JobID string            `json:"job_id"`
	Args  map[string]string `json:"args,omitempty"`
}

// Broker carries tasks from the service layer to the workers and tracks
// revocations for jobs cancelled while queued or running.
type Broker interface {
	// Enqueue appends a task to the queue.
	Enqueue(ctx context.Context, task *Task) error

	// Dequeue pops the oldest task, blocking up to wait.
	// Returns ErrNoTasksAvailable when the window elapses empty.
	Dequeue(ctx context.Context, wait time.Duration) (*Task, error)

	// Revoke marks a job id so workers refuse or abort it.
	Revoke(ctx context.Context, jobID string) error

	// IsRevoked reports whether a job id has been revoked.
	IsRevoked(ctx context.Context, jobID string) (bool, error)

	// Close releases broker resources.
	Close() error
}

// ExecutionResult is the terminal outcome of one job execution. Intermediate
// state (progress, partial results) was already written to the store by the
// executor during processing.
type ExecutionResult struct {
	Status   models.JobStatus
	Solution *models.Solution
	Err      error
}

// JobExecutor runs one claimed job to completion. The worker only handles
// claiming, status transitions, cancellation plumbing, and terminal writes.
type JobExecutor interface {
	Execute(ctx context.Context, rec *models.JobRecord) *ExecutionResult
}

// JobRegistry is the subset of WorkerPool used by workers for cancellation
// registration.
type JobRegistry interface {
	RegisterJob(jobID string, cancel context.CancelFunc)
	UnregisterJob(jobID string)
}

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string       `json:"id"`
	Status        WorkerStatus `json:"status"`
	CurrentJobID  string       `json:"current_job_id,omitempty"`
	JobsProcessed int          `json:"jobs_processed"`
	LastActivity  time.Time    `json:"last_activity"`
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy      bool           `json:"is_healthy"`
	StoreReachable bool           `json:"store_reachable"`
	StoreError     string         `json:"store_error,omitempty"`
	PodID          string         `json:"pod_id"`
	ActiveWorkers  int            `json:"active_workers"`
	TotalWorkers   int            `json:"total_workers"`
	WorkerStats    []WorkerHealth `json:"worker_stats"`
	LastStaleScan  time.Time      `json:"last_stale_scan"`
	StaleRecovered int            `json:"stale_recovered"`
}
