// Package events provides real-time job event delivery over Redis pub/sub.
// Each job has its own channel; API clients consume it via the SSE endpoint.
//
// Events are transient: delivery is best-effort and nothing is replayed on
// reconnect. The authoritative job state always lives in the job store, so a
// client that misses events recovers by re-reading the job record.
package events

// Event types published to job channels.
const (
	// EventTypeJobStatus marks a lifecycle transition (pending, running,
	// completed, failed, cancelled).
	EventTypeJobStatus = "job.status"

	// EventTypeJobProgress reports solve progress: iteration counts for
	// basic jobs, phase fractions for enhanced jobs.
	EventTypeJobProgress = "job.progress"

	// EventTypeJobPartial signals that a new partial result snapshot was
	// persisted to the job record.
	EventTypeJobPartial = "job.partial"
)

// JobChannel returns the pub/sub channel name for a job's events.
// Format: "events:job:{job_id}"
func JobChannel(jobID string) string {
	return "events:job:" + jobID
}
