package queue

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownJob = errors.New("queue: unknown job name")
	ErrQueueFull  = errors.New("queue: full")
	ErrStopped    = errors.New("queue: stopped")
	ErrJobTimeout = errors.New("queue: job timed out")
)

// NoRetry marks an error as permanent. The queue records the failure
// and does not run the job again.
//
//	return nil, queue.NoRetry(fmt.Errorf("bad payload: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }
