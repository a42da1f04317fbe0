package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantRetryable bool
		wantRateLimit bool
	}{
		{
			name:          "server error",
			err:           &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"},
			wantRetryable: true,
		},
		{
			name:          "rate limit",
			err:           &openai.APIError{HTTPStatusCode: 429, Message: "slow down"},
			wantRetryable: true,
			wantRateLimit: true,
		},
		{
			name:          "bad request is permanent",
			err:           &openai.APIError{HTTPStatusCode: 400, Message: "bad schema"},
			wantRetryable: false,
		},
		{
			name:          "auth failure is permanent",
			err:           &openai.APIError{HTTPStatusCode: 401, Message: "bad key"},
			wantRetryable: false,
		},
		{
			name:          "deadline is transient",
			err:           fmt.Errorf("call: %w", context.DeadlineExceeded),
			wantRetryable: true,
		},
		{
			name:          "empty content is transient",
			err:           ErrEmptyContent,
			wantRetryable: true,
		},
		{
			name:          "cancellation passes through",
			err:           context.Canceled,
			wantRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.wantRetryable, retryable(got))

			var rle *RateLimitError
			assert.Equal(t, tt.wantRateLimit, errors.As(got, &rle))
		})
	}
}

func TestErrorUnwrapsToCause(t *testing.T) {
	err := &Error{
		Provider: "openai",
		Op:       "complete",
		Attempts: 4,
		Err:      &TransientError{Err: ErrEmptyContent},
	}
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Contains(t, err.Error(), "after 4 attempt(s)")
}

func TestOptionsDefaults(t *testing.T) {
	var nilOpts *Options
	assert.True(t, nilOpts.StreamEnabled(true))
	assert.False(t, nilOpts.StreamEnabled(false))
	assert.Equal(t, 512, nilOpts.MaxTokensOrDefault(512))

	off := false
	opts := &Options{Stream: &off, MaxTokens: 64}
	assert.False(t, opts.StreamEnabled(true))
	assert.Equal(t, 64, opts.MaxTokensOrDefault(512))
}
