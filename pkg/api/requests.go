package api

import "github.com/sagekit/sage/pkg/models"

// SubmitJobRequest is the POST /api/v1/jobs body.
type SubmitJobRequest struct {
	Question      string         `json:"question"`
	Context       string         `json:"context,omitempty"`
	Constraints   string         `json:"constraints,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Mode          models.RunMode `json:"mode,omitempty"`
	MaxIterations int            `json:"max_iterations,omitempty"`
}

// ResumeJobRequest is the POST /api/v1/jobs/:id/resume body.
type ResumeJobRequest struct {
	AdditionalIterations int `json:"additional_iterations"`
}
