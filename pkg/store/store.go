// Package store persists job records as Redis hashes with per-job
// single-flight locks. Jobs live under "job:{id}" with a configurable TTL;
// locks under "lock:job:{id}" guard against duplicate execution across
// workers and pods.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned when no record exists for a job id.
var ErrJobNotFound = errors.New("job not found")

// Store is the persistence interface shared by the service layer, the worker
// pool, and the engine's partial-result writes.
type Store interface {
	// SetJobFields merges fields into the job hash, creating it if absent.
	SetJobFields(ctx context.Context, jobID string, fields map[string]string) error

	// GetJobFields returns all fields of the job hash.
	// Returns ErrJobNotFound when the job does not exist.
	GetJobFields(ctx context.Context, jobID string) (map[string]string, error)

	// SetTTL sets the expiry of the job hash.
	SetTTL(ctx context.Context, jobID string, ttl time.Duration) error

	// Exists reports whether a record exists for the job id.
	Exists(ctx context.Context, jobID string) (bool, error)

	// DeleteJob removes the job hash and its index entry.
	DeleteJob(ctx context.Context, jobID string) error

	// AcquireLock attempts to take the execution lock for a job. Returns
	// false without error when another holder has it.
	AcquireLock(ctx context.Context, jobID, holder string, ttl time.Duration) (bool, error)

	// ReleaseLock drops the execution lock for a job.
	ReleaseLock(ctx context.Context, jobID string) error

	// LockHeld reports whether the execution lock for a job is currently held.
	LockHeld(ctx context.Context, jobID string) (bool, error)

	// ListJobIDs returns the ids of all known jobs, in no particular order.
	ListJobIDs(ctx context.Context) ([]string, error)

	// Close releases the underlying connection.
	Close() error
}

func jobKey(jobID string) string {
	return "job:" + jobID
}

func lockKey(jobID string) string {
	return "lock:job:" + jobID
}

// jobsIndexKey is the set holding every known job id, used by the stale-job
// scan. Index entries are removed on DeleteJob; entries whose hash has
// expired are pruned lazily by readers.
const jobsIndexKey = "jobs"
