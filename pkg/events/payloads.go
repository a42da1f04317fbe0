package events

import "time"

// BasePayload carries the fields common to every job event.
type BasePayload struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// NewBasePayload stamps a payload header with the current time.
func NewBasePayload(eventType, jobID string) BasePayload {
	return BasePayload{
		Type:      eventType,
		JobID:     jobID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// JobStatusPayload is the payload for job.status events.
type JobStatusPayload struct {
	BasePayload
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// JobProgressPayload is the payload for job.progress events.
// Basic jobs fill Iteration/MaxIterations; enhanced jobs additionally fill
// Phase. Fraction is the overall completion estimate in [0,1].
type JobProgressPayload struct {
	BasePayload
	Iteration     int     `json:"iteration,omitempty"`
	MaxIterations int     `json:"max_iterations,omitempty"`
	Phase         string  `json:"phase,omitempty"`
	Fraction      float64 `json:"fraction"`
	TotalTokens   int     `json:"total_tokens,omitempty"`
}

// JobPartialPayload is the payload for job.partial events. The snapshot
// itself lives in the job record; this event only announces it.
type JobPartialPayload struct {
	BasePayload
	IterationsSoFar int `json:"iterations_so_far"`
}
