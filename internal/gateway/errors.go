package gateway

import "errors"

// Domain errors for the gateway package.
var (
	// ErrRetriesExhausted is returned by RetryPolicy.Do when a bounded
	// number of attempts all failed.
	ErrRetriesExhausted = errors.New("gateway: retries exhausted")

	// ErrInvalidOptions is returned by New for missing or invalid options.
	ErrInvalidOptions = errors.New("gateway: invalid options")

	// ErrStopped is returned when a message arrives after Run has returned.
	ErrStopped = errors.New("gateway: stopped")

	// ErrAlreadyRunning is returned by a second concurrent call to Run.
	ErrAlreadyRunning = errors.New("gateway: already running")
)
