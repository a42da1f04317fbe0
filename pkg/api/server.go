// Package api exposes the HTTP surface: job submission and inspection,
// cancellation, continuation, live event streaming over SSE, and health.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/sagekit/sage/pkg/config"
	"github.com/sagekit/sage/pkg/events"
	"github.com/sagekit/sage/pkg/models"
	"github.com/sagekit/sage/pkg/queue"
	"github.com/sagekit/sage/pkg/services"
)

// JobService is the service surface the handlers consume.
type JobService interface {
	Submit(ctx context.Context, input services.SubmitJobInput) (*models.JobRecord, error)
	Get(ctx context.Context, jobID string) (*models.JobRecord, error)
	Result(ctx context.Context, jobID string) (*models.JobRecord, error)
	Cancel(ctx context.Context, jobID string) (*models.JobRecord, error)
	Resume(ctx context.Context, jobID string, additional int) (*models.JobRecord, error)
}

// HealthReporter reports worker pool health for the health endpoint.
type HealthReporter interface {
	Health(ctx context.Context) queue.PoolHealth
}

// JobCanceller aborts jobs running on this pod. Cross-pod cancellation goes
// through the service layer.
type JobCanceller interface {
	CancelJob(jobID string) bool
}

// EventStream is one open per-job event subscription.
type EventStream interface {
	Messages() <-chan []byte
	Close() error
}

// EventSource opens event subscriptions for the SSE endpoint.
type EventSource interface {
	Subscribe(ctx context.Context, jobID string) EventStream
}

// RedisEventSource adapts a Redis client to EventSource.
type RedisEventSource struct {
	rdb *redis.Client
}

// NewRedisEventSource creates an EventSource backed by Redis pub/sub.
func NewRedisEventSource(rdb *redis.Client) *RedisEventSource {
	return &RedisEventSource{rdb: rdb}
}

func (s *RedisEventSource) Subscribe(ctx context.Context, jobID string) EventStream {
	return events.Subscribe(ctx, s.rdb, jobID)
}

// Server is the HTTP API server.
type Server struct {
	cfg       *config.ServerConfig
	jobs      JobService
	health    HealthReporter
	canceller JobCanceller
	events    EventSource
	version   string

	httpSrv *http.Server
}

// NewServer creates the API server. health, canceller, and eventSource may be
// nil; the corresponding endpoints degrade gracefully.
func NewServer(cfg *config.ServerConfig, jobs JobService, health HealthReporter, canceller JobCanceller, eventSource EventSource, version string) *Server {
	if cfg == nil {
		panic("NewServer: cfg must not be nil")
	}
	if jobs == nil {
		panic("NewServer: jobs must not be nil")
	}
	return &Server{
		cfg:       cfg,
		jobs:      jobs,
		health:    health,
		canceller: canceller,
		events:    eventSource,
		version:   version,
	}
}

// Handler builds the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestLogger(), recovery(), securityHeaders())
	if s.cfg.MaxRequestBytes > 0 {
		r.Use(bodyLimit(s.cfg.MaxRequestBytes))
	}

	r.GET("/health", s.healthHandler)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/jobs", s.submitJobHandler)
		v1.GET("/jobs/:id", s.getJobHandler)
		v1.GET("/jobs/:id/result", s.getResultHandler)
		v1.POST("/jobs/:id/cancel", s.cancelJobHandler)
		v1.POST("/jobs/:id/resume", s.resumeJobHandler)
		v1.GET("/jobs/:id/events", s.jobEventsHandler)
	}
	return r
}

// Start runs the server until Shutdown is called. Returns nil on a clean
// shutdown.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Handler(),
	}
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
