package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sagekit/sage/pkg/config"
	"github.com/sagekit/sage/pkg/events"
	"github.com/sagekit/sage/pkg/models"
	"github.com/sagekit/sage/pkg/store"
)

// staleJobError is the failure text written to jobs recovered by the stale
// scan. Readers match on the prefix.
const staleJobError = "stale job: lock expired without a surviving worker"

// pinger is implemented by stores that can report backend reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// WorkerPool manages a set of workers plus the periodic stale-job scan. It is
// also the cancellation registry: running jobs on this pod register their
// cancel functions here so the API can abort them in-process.
type WorkerPool struct {
	podID     string
	store     store.Store
	broker    Broker
	config    *config.QueueConfig
	jobTTL    time.Duration
	executor  JobExecutor
	publisher *events.Publisher

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu         sync.Mutex
	activeJobs map[string]context.CancelFunc
	started    bool

	scanMu         sync.Mutex
	lastStaleScan  time.Time
	staleRecovered int
}

// NewWorkerPool creates a worker pool. publisher may be nil.
func NewWorkerPool(podID string, st store.Store, broker Broker, cfg *config.QueueConfig, jobTTL time.Duration, executor JobExecutor, publisher *events.Publisher) *WorkerPool {
	return &WorkerPool{
		podID:      podID,
		store:      st,
		broker:     broker,
		config:     cfg,
		jobTTL:     jobTTL,
		executor:   executor,
		publisher:  publisher,
		stopCh:     make(chan struct{}),
		activeJobs: make(map[string]context.CancelFunc),
	}
}

// Start launches the configured number of workers and the stale-job scan.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("worker pool already started")
	}
	p.started = true
	p.mu.Unlock()

	slog.Info("Starting worker pool",
		"pod_id", p.podID, "workers", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		id := fmt.Sprintf("%s-worker-%d", p.podID, i)
		w := NewWorker(id, p.podID, p.store, p.broker, p.config, p.jobTTL, p.executor, p, p.publisher)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}

	if p.config.StaleCheckInterval > 0 {
		p.wg.Add(1)
		go p.runStaleScan(ctx)
	}
	return nil
}

// Stop shuts down the scan and all workers, waiting for in-flight jobs to
// finish their terminal writes. Safe to call multiple times.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	p.mu.Lock()
	active := len(p.activeJobs)
	p.mu.Unlock()
	if active > 0 {
		slog.Info("Waiting for active jobs to finish", "active_jobs", active)
	}
	for _, w := range p.workers {
		w.Stop()
	}
	slog.Info("Worker pool stopped", "pod_id", p.podID)
}

// RegisterJob records the cancel function for a job running on this pod.
func (p *WorkerPool) RegisterJob(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[jobID] = cancel
}

// UnregisterJob removes a finished job from the registry.
func (p *WorkerPool) UnregisterJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
}

// CancelJob aborts a job running on this pod. Returns false when the job is
// not active here; cross-pod cancellation goes through the store flag and the
// broker revocation set instead.
func (p *WorkerPool) CancelJob(jobID string) bool {
	p.mu.Lock()
	cancel, ok := p.activeJobs[jobID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	slog.Info("Cancelling active job", "job_id", jobID, "pod_id", p.podID)
	cancel()
	return true
}

// Health reports pool and store health for the health endpoint.
func (p *WorkerPool) Health(ctx context.Context) PoolHealth {
	h := PoolHealth{
		PodID:          p.podID,
		StoreReachable: true,
	}
	if pg, ok := p.store.(pinger); ok {
		if err := pg.Ping(ctx); err != nil {
			h.StoreReachable = false
			h.StoreError = err.Error()
		}
	}

	for _, w := range p.workers {
		wh := w.Health()
		h.WorkerStats = append(h.WorkerStats, wh)
		h.TotalWorkers++
		if wh.Status == WorkerStatusWorking {
			h.ActiveWorkers++
		}
	}

	p.scanMu.Lock()
	h.LastStaleScan = p.lastStaleScan
	h.StaleRecovered = p.staleRecovered
	p.scanMu.Unlock()

	h.IsHealthy = h.StoreReachable && h.TotalWorkers > 0
	return h
}

// runStaleScan periodically re-fails running jobs whose single-flight lock
// expired, covering worker crashes and pod restarts.
func (p *WorkerPool) runStaleScan(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.StaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := p.scanStaleJobs(ctx)
			if err != nil {
				slog.Error("Stale job scan failed", "error", err)
			}
			p.scanMu.Lock()
			p.lastStaleScan = time.Now()
			p.staleRecovered += recovered
			p.scanMu.Unlock()
		}
	}
}

// scanStaleJobs walks the job index and fails running jobs that lost their
// lock longer ago than the stale threshold.
func (p *WorkerPool) scanStaleJobs(ctx context.Context) (int, error) {
	ids, err := p.store.ListJobIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing jobs: %w", err)
	}

	recovered := 0
	for _, jobID := range ids {
		fields, err := p.store.GetJobFields(ctx, jobID)
		if err != nil {
			continue
		}
		rec := models.JobRecordFromFields(fields)
		if rec.Status != models.JobStatusRunning {
			continue
		}
		held, err := p.store.LockHeld(ctx, jobID)
		if err != nil || held {
			continue
		}
		if rec.StartedAt.IsZero() || time.Since(rec.StartedAt) < p.config.StaleThreshold {
			continue
		}

		slog.Warn("Recovering stale job", "job_id", jobID, "started_at", rec.StartedAt)
		if err := p.store.SetJobFields(ctx, jobID, map[string]string{
			models.FieldStatus:      string(models.JobStatusFailed),
			models.FieldCompletedAt: models.FormatTimeField(time.Now()),
			models.FieldError:       staleJobError,
		}); err != nil {
			slog.Error("Failed to mark stale job failed", "job_id", jobID, "error", err)
			continue
		}
		if p.publisher != nil {
			if err := p.publisher.PublishJobStatus(ctx, jobID, events.JobStatusPayload{
				BasePayload: events.NewBasePayload(events.EventTypeJobStatus, jobID),
				Status:      string(models.JobStatusFailed),
				Error:       staleJobError,
			}); err != nil {
				slog.Warn("Failed to publish stale job status", "job_id", jobID, "error", err)
			}
		}
		recovered++
	}
	return recovered, nil
}
