package engine

import "errors"

// ErrCancelled is returned when cancellation is observed at a cancel check.
// The worker maps it to job status "cancelled".
var ErrCancelled = errors.New("solve cancelled")

// ErrNoValidIteration is returned when the current iteration exhausted all
// retries and no earlier valid iteration exists to fall back to.
var ErrNoValidIteration = errors.New("No valid iteration found; marking task as failed.")

// ValidationError reports an unusable input, such as a resume history whose
// outputs are all invalid. Not retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// IsTerminal reports whether the error is one of the engine's terminal
// failures. Every other engine path produces a Solution.
func IsTerminal(err error) bool {
	var ve *ValidationError
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, ErrNoValidIteration) ||
		errors.As(err, &ve)
}
