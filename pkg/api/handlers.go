package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sagekit/sage/pkg/services"
)

// submitJobHandler handles POST /api/v1/jobs.
func (s *Server) submitJobHandler(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	rec, err := s.jobs.Submit(c.Request.Context(), services.SubmitJobInput{
		Question:      req.Question,
		Context:       req.Context,
		Constraints:   req.Constraints,
		Metadata:      req.Metadata,
		Mode:          req.Mode,
		MaxIterations: req.MaxIterations,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, rec)
}

// getJobHandler handles GET /api/v1/jobs/:id.
func (s *Server) getJobHandler(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "job id is required"})
		return
	}

	rec, err := s.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// getResultHandler handles GET /api/v1/jobs/:id/result.
func (s *Server) getResultHandler(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "job id is required"})
		return
	}

	rec, err := s.jobs.Result(c.Request.Context(), jobID)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// cancelJobHandler handles POST /api/v1/jobs/:id/cancel.
func (s *Server) cancelJobHandler(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "job id is required"})
		return
	}

	rec, err := s.jobs.Cancel(c.Request.Context(), jobID)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	// Also abort in-process on this pod; other pods observe the cancel flag
	// through their monitors.
	if s.canceller != nil {
		s.canceller.CancelJob(jobID)
	}

	c.JSON(http.StatusAccepted, CancelResponse{
		JobID:   jobID,
		Status:  string(rec.Status),
		Message: "Job cancellation requested",
	})
}

// resumeJobHandler handles POST /api/v1/jobs/:id/resume.
func (s *Server) resumeJobHandler(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "job id is required"})
		return
	}

	var req ResumeJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	rec, err := s.jobs.Resume(c.Request.Context(), jobID, req.AdditionalIterations)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, rec)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *gin.Context) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: s.version,
	}
	code := http.StatusOK
	if s.health != nil {
		h := s.health.Health(c.Request.Context())
		resp.Queue = &h
		if !h.IsHealthy {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, resp)
}
