package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a session or participant does not exist
	// in any tier.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a session id is initialized twice.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUpstreamUnavailable is returned when an external call failed or
	// timed out past its retry budget.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrSkippedDueToThrottle marks batch entries whose external call was
	// never attempted because the shared cooldown was active.
	ErrSkippedDueToThrottle = errors.New("skipped due to active throttle cooldown")
)

// ThrottledError reports that the external quota is exhausted. RetryAfter
// is the remaining cooldown at the time the error was built.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled, retry after %s", e.RetryAfter)
}

// IsThrottled reports whether err is (or wraps) a ThrottledError.
func IsThrottled(err error) bool {
	var te *ThrottledError
	return errors.As(err, &te)
}
