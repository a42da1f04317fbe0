package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyContent indicates the model returned no usable content. Counted as
// a transient failure so the retry policy applies, except when the
// reasoning-fallback rule produces content instead.
var ErrEmptyContent = errors.New("provider returned empty content")

// Error is the terminal failure of a provider operation after all internal
// retries were exhausted.
type Error struct {
	Provider string
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s failed after %d attempt(s): %v", e.Provider, e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TransientError marks a failure worth retrying: network faults, timeouts,
// HTTP 5xx, empty content.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient provider error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitError marks an HTTP 429. RetryAfter is the server-provided delay
// when surfaced, zero otherwise.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string { return fmt.Sprintf("rate limited: %v", e.Err) }
func (e *RateLimitError) Unwrap() error { return e.Err }

// ParseError marks unparseable content attached to a specific tool call.
type ParseError struct {
	Call string
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("tool call %q: unparseable arguments: %v", e.Call, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// classify maps a raw client error onto the retry taxonomy. Non-retryable
// errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return &RateLimitError{Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &TransientError{Err: err}
		default:
			return err
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch {
		case reqErr.HTTPStatusCode == 429:
			return &RateLimitError{Err: err}
		case reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == 0:
			return &TransientError{Err: err}
		default:
			return err
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrEmptyContent) {
		return &TransientError{Err: err}
	}

	return err
}

// retryable reports whether the classified error should be retried.
func retryable(err error) bool {
	var te *TransientError
	var rle *RateLimitError
	return errors.As(err, &te) || errors.As(err, &rle)
}
