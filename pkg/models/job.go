package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// JobStatus is the lifecycle state of a job record.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition s → next is allowed.
// Valid transitions: pending → running, pending → cancelled,
// running → completed | failed | cancelled.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusCancelled
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	}
	return false
}

// RunMode selects which runner processes a job.
type RunMode string

const (
	RunModeBasic    RunMode = "basic"
	RunModeEnhanced RunMode = "enhanced"
)

// Valid reports whether the mode is one of the recognized runner modes.
func (m RunMode) Valid() bool {
	return m == RunModeBasic || m == RunModeEnhanced
}

// Job record hash field names. These are contractual: external readers of the
// store depend on them.
const (
	FieldJobID           = "job_id"
	FieldStatus          = "status"
	FieldCreatedAt       = "created_at"
	FieldStartedAt       = "started_at"
	FieldCompletedAt     = "completed_at"
	FieldProgress        = "progress"
	FieldCurrentPhase    = "current_phase"
	FieldModelName       = "model_name"
	FieldProviderName    = "provider_name"
	FieldRequest         = "request"
	FieldMode            = "mode"
	FieldResult          = "result"
	FieldError           = "error"
	FieldPartialResults  = "partial_results"
	FieldContinuedFrom   = "continued_from"
	FieldCancelRequested = "cancel_requested"
)

// JobRequest is the client-submitted work description, serialized into the
// job record's request field. AdditionalIterations and ContinuedFrom are set
// only for continuation jobs.
type JobRequest struct {
	Question             string         `json:"question"`
	Context              string         `json:"context,omitempty"`
	Constraints          string         `json:"constraints,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	Mode                 RunMode        `json:"mode"`
	MaxIterations        int            `json:"max_iterations,omitempty"`
	AdditionalIterations int            `json:"additional_iterations,omitempty"`
	ContinuedFrom        string         `json:"continued_from,omitempty"`
}

// MarshalString serializes the request for storage.
func (r *JobRequest) MarshalString() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalJobRequest parses a serialized JobRequest.
func UnmarshalJobRequest(data string) (*JobRequest, error) {
	var r JobRequest
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// PartialResult is the snapshot written to the job record at each iteration
// boundary for live progress observation.
type PartialResult struct {
	IterationsSoFar int              `json:"iterations_so_far"`
	LatestIteration *IterationRecord `json:"latest_iteration,omitempty"`
	History         EvolutionHistory `json:"full_history"`
	Timestamp       time.Time        `json:"timestamp"`
}

// MarshalString serializes the snapshot for storage.
func (p *PartialResult) MarshalString() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalPartialResult parses a serialized PartialResult.
func UnmarshalPartialResult(data string) (*PartialResult, error) {
	var p PartialResult
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// JobRecord is the parsed view of a job hash for API responses. Zero-value
// fields mean the underlying hash field was absent.
type JobRecord struct {
	JobID           string         `json:"job_id"`
	Status          JobStatus      `json:"status"`
	CreatedAt       time.Time      `json:"created_at,omitzero"`
	StartedAt       time.Time      `json:"started_at,omitzero"`
	CompletedAt     time.Time      `json:"completed_at,omitzero"`
	Progress        float64        `json:"progress"`
	CurrentPhase    string         `json:"current_phase,omitempty"`
	ModelName       string         `json:"model_name,omitempty"`
	ProviderName    string         `json:"provider_name,omitempty"`
	Request         *JobRequest    `json:"request,omitempty"`
	Mode            RunMode        `json:"mode,omitempty"`
	Result          *Solution      `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	PartialResults  *PartialResult `json:"partial_results,omitempty"`
	ContinuedFrom   string         `json:"continued_from,omitempty"`
	CancelRequested bool           `json:"cancel_requested,omitempty"`
}

// JobRecordFromFields parses a job hash into a JobRecord. Unparseable
// sub-documents are left nil rather than failing the whole read.
func JobRecordFromFields(fields map[string]string) *JobRecord {
	rec := &JobRecord{
		JobID:         fields[FieldJobID],
		Status:        JobStatus(fields[FieldStatus]),
		CurrentPhase:  fields[FieldCurrentPhase],
		ModelName:     fields[FieldModelName],
		ProviderName:  fields[FieldProviderName],
		Mode:          RunMode(fields[FieldMode]),
		Error:         fields[FieldError],
		ContinuedFrom: fields[FieldContinuedFrom],
	}
	rec.CreatedAt = parseTimeField(fields[FieldCreatedAt])
	rec.StartedAt = parseTimeField(fields[FieldStartedAt])
	rec.CompletedAt = parseTimeField(fields[FieldCompletedAt])
	if v := fields[FieldProgress]; v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rec.Progress = f
		}
	}
	if v := fields[FieldRequest]; v != "" {
		if req, err := UnmarshalJobRequest(v); err == nil {
			rec.Request = req
		}
	}
	if v := fields[FieldResult]; v != "" {
		if sol, err := UnmarshalSolution(v); err == nil {
			rec.Result = sol
		}
	}
	if v := fields[FieldPartialResults]; v != "" {
		if pr, err := UnmarshalPartialResult(v); err == nil {
			rec.PartialResults = pr
		}
	}
	rec.CancelRequested = fields[FieldCancelRequested] == "true"
	return rec
}

func parseTimeField(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatTimeField renders a timestamp for storage in a job hash.
func FormatTimeField(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
