package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagekit/sage/pkg/models"
	"github.com/sagekit/sage/pkg/queue"
	"github.com/sagekit/sage/pkg/store"
)

func newTestService(t *testing.T) (*JobService, store.Store, *queue.MemoryBroker) {
	t.Helper()
	st := store.NewMemoryStore()
	b := queue.NewMemoryBroker(16)
	return NewJobService(st, b, nil, time.Hour), st, b
}

func dequeueOne(t *testing.T, b *queue.MemoryBroker) *queue.Task {
	t.Helper()
	task, err := b.Dequeue(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	return task
}

func TestSubmitJob(t *testing.T) {
	svc, st, b := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Submit(ctx, SubmitJobInput{
		Question: "What is 2+2?",
		Context:  "ordinary arithmetic",
		Mode:     models.RunModeBasic,
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.JobID)
	assert.Equal(t, models.JobStatusPending, rec.Status)
	assert.Equal(t, models.RunModeBasic, rec.Mode)
	assert.False(t, rec.CreatedAt.IsZero())
	require.NotNil(t, rec.Request)
	assert.Equal(t, "What is 2+2?", rec.Request.Question)

	// Record persisted and task enqueued under the same id.
	_, err = st.GetJobFields(ctx, rec.JobID)
	require.NoError(t, err)
	task := dequeueOne(t, b)
	assert.Equal(t, queue.TaskSolveJob, task.Name)
	assert.Equal(t, rec.JobID, task.JobID)
}

func TestSubmitJobDefaultsMode(t *testing.T) {
	svc, _, _ := newTestService(t)

	rec, err := svc.Submit(context.Background(), SubmitJobInput{Question: "What is 2+2?"})
	require.NoError(t, err)
	assert.Equal(t, models.RunModeBasic, rec.Mode)
}

func TestSubmitJobValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input SubmitJobInput
		field string
	}{
		{
			name:  "empty question",
			input: SubmitJobInput{Question: "   "},
			field: "question",
		},
		{
			name:  "oversized question",
			input: SubmitJobInput{Question: strings.Repeat("x", maxQuestionBytes+1)},
			field: "question",
		},
		{
			name:  "unknown mode",
			input: SubmitJobInput{Question: "What is 2+2?", Mode: "turbo"},
			field: "mode",
		},
		{
			name:  "negative max iterations",
			input: SubmitJobInput{Question: "What is 2+2?", MaxIterations: -1},
			field: "max_iterations",
		},
		{
			name:  "excessive max iterations",
			input: SubmitJobInput{Question: "What is 2+2?", MaxIterations: maxIterationsLimit + 1},
			field: "max_iterations",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tt.input)
			require.Error(t, err)
			require.True(t, IsValidationError(err))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResult(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Submit(ctx, SubmitJobInput{Question: "What is 2+2?"})
	require.NoError(t, err)

	// Pending jobs have no result yet.
	_, err = svc.Result(ctx, rec.JobID)
	assert.ErrorIs(t, err, ErrJobNotTerminal)

	sol := &models.Solution{Output: "four", Iterations: 1}
	raw, err := sol.MarshalString()
	require.NoError(t, err)
	require.NoError(t, st.SetJobFields(ctx, rec.JobID, map[string]string{
		models.FieldStatus: string(models.JobStatusCompleted),
		models.FieldResult: raw,
	}))

	got, err := svc.Result(ctx, rec.JobID)
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, "four", got.Result.Output)
}

func TestCancelPendingJob(t *testing.T) {
	svc, _, b := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Submit(ctx, SubmitJobInput{Question: "What is 2+2?"})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	assert.False(t, cancelled.CompletedAt.IsZero())

	revoked, err := b.IsRevoked(ctx, rec.JobID)
	require.NoError(t, err)
	assert.True(t, revoked)

	// Idempotent.
	again, err := svc.Cancel(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, again.Status)
}

func TestCancelRunningJob(t *testing.T) {
	svc, st, b := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Submit(ctx, SubmitJobInput{Question: "What is 2+2?"})
	require.NoError(t, err)
	require.NoError(t, st.SetJobFields(ctx, rec.JobID, map[string]string{
		models.FieldStatus: string(models.JobStatusRunning),
	}))

	got, err := svc.Cancel(ctx, rec.JobID)
	require.NoError(t, err)

	// Cancellation of a running job is asynchronous: only the flag and the
	// revocation are set here, the worker performs the terminal write.
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.True(t, got.CancelRequested)

	revoked, err := b.IsRevoked(ctx, rec.JobID)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestCancelFinishedJob(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Submit(ctx, SubmitJobInput{Question: "What is 2+2?"})
	require.NoError(t, err)
	require.NoError(t, st.SetJobFields(ctx, rec.JobID, map[string]string{
		models.FieldStatus: string(models.JobStatusCompleted),
	}))

	_, err = svc.Cancel(ctx, rec.JobID)
	assert.ErrorIs(t, err, ErrJobTerminal)
}

func TestResume(t *testing.T) {
	svc, st, b := newTestService(t)
	ctx := context.Background()

	parent, err := svc.Submit(ctx, SubmitJobInput{Question: "What is 2+2?"})
	require.NoError(t, err)
	dequeueOne(t, b) // drain the parent's task

	sol := &models.Solution{
		Output:     "four",
		Iterations: 1,
		History: models.EvolutionHistory{
			{Iteration: 1, Prompt: "What is 2+2?", Output: "four"},
		},
	}
	raw, err := sol.MarshalString()
	require.NoError(t, err)
	require.NoError(t, st.SetJobFields(ctx, parent.JobID, map[string]string{
		models.FieldStatus: string(models.JobStatusFailed),
		models.FieldResult: raw,
	}))

	child, err := svc.Resume(ctx, parent.JobID, 2)
	require.NoError(t, err)
	assert.NotEqual(t, parent.JobID, child.JobID)
	assert.Equal(t, models.JobStatusPending, child.Status)
	assert.Equal(t, parent.JobID, child.ContinuedFrom)
	require.NotNil(t, child.Request)
	assert.Equal(t, "What is 2+2?", child.Request.Question)
	assert.Equal(t, 2, child.Request.AdditionalIterations)

	task := dequeueOne(t, b)
	assert.Equal(t, child.JobID, task.JobID)
}

func TestResumeValidation(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	// Bad iteration count.
	_, err := svc.Resume(ctx, "whatever", 0)
	require.True(t, IsValidationError(err))

	// Unknown parent.
	_, err = svc.Resume(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	// Live parent.
	parent, err := svc.Submit(ctx, SubmitJobInput{Question: "What is 2+2?"})
	require.NoError(t, err)
	_, err = svc.Resume(ctx, parent.JobID, 1)
	assert.ErrorIs(t, err, ErrJobNotTerminal)

	// Terminal parent without history.
	require.NoError(t, st.SetJobFields(ctx, parent.JobID, map[string]string{
		models.FieldStatus: string(models.JobStatusFailed),
	}))
	_, err = svc.Resume(ctx, parent.JobID, 1)
	require.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "no evolution history")
}
