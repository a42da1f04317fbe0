package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sagekit/sage/pkg/events"
	"github.com/sagekit/sage/pkg/models"
)

// jobEventsHandler handles GET /api/v1/jobs/:id/events: a Server-Sent Events
// stream of the job's status, progress, and partial-result events. The stream
// ends after a terminal status event.
func (s *Server) jobEventsHandler(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "job id is required"})
		return
	}
	if s.events == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "event streaming is not available"})
		return
	}

	// Subscribe before the snapshot read so no transition is lost between
	// the two.
	ctx := c.Request.Context()
	stream := s.events.Subscribe(ctx, jobID)
	defer stream.Close()

	rec, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	// Snapshot event so late subscribers see the current state immediately.
	snapshot := events.JobStatusPayload{
		BasePayload: events.NewBasePayload(events.EventTypeJobStatus, jobID),
		Status:      string(rec.Status),
		Error:       rec.Error,
	}
	if data, err := json.Marshal(snapshot); err == nil {
		writeSSE(c, data)
	}
	if rec.Status.Terminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream.Messages():
			if !ok {
				return
			}
			writeSSE(c, msg)
			if isTerminalStatusEvent(msg) {
				return
			}
		}
	}
}

func writeSSE(c *gin.Context, data []byte) {
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}

// isTerminalStatusEvent reports whether a raw event payload is a job.status
// event carrying a terminal status.
func isTerminalStatusEvent(msg []byte) bool {
	var probe struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		return false
	}
	return probe.Type == events.EventTypeJobStatus &&
		models.JobStatus(probe.Status).Terminal()
}
