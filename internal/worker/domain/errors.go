package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job source does not know a job id
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotInProgress is returned when reporting a result for a job this worker does not own
	ErrJobNotInProgress = errors.New("job is not in progress")

	// ErrInvalidWorkResult is returned when a result has both or neither payload
	ErrInvalidWorkResult = errors.New("invalid work result")

	// ErrInvalidActionType is returned when an action type has empty fields
	ErrInvalidActionType = errors.New("invalid action type")

	// ErrPoolFull is returned when every worker slot is taken
	ErrPoolFull = errors.New("worker pool is full")

	// ErrPoolShutdown is returned when submitting to a pool that no longer accepts tasks
	ErrPoolShutdown = errors.New("worker pool is shut down")

	// ErrShutdownIncomplete is returned when workers are still running after a forced shutdown
	ErrShutdownIncomplete = errors.New("workers did not terminate after forced shutdown")

	// ErrNilDependency is returned by constructors when a required collaborator is missing
	ErrNilDependency = errors.New("required dependency is nil")
)

// RetryableError wraps transient failures that a job source may retry later
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err, or anything it wraps, is a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
