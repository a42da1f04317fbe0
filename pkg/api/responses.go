package api

import "github.com/sagekit/sage/pkg/queue"

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Queue   *queue.PoolHealth `json:"queue,omitempty"`
}
