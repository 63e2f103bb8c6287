package readings

import (
	"sync"
	"time"

	"github.com/agoradebate/agora/internal/domain"
)

// Limiter is the shared cooldown gate in front of the external lookup.
// All aggregator callers, across all sessions, share one instance; while
// the cooldown is set every new request fails fast instead of touching the
// external service. Tests construct independent limiters.
type Limiter struct {
	mu            sync.Mutex
	cooldownUntil time.Time
	now           func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{now: time.Now}
}

// Check returns a *domain.ThrottledError while the cooldown is active,
// nil otherwise. An elapsed cooldown is cleared on the way through.
func (l *Limiter) Check() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cooldownUntil.IsZero() {
		return nil
	}
	now := l.now()
	if now.Before(l.cooldownUntil) {
		return &domain.ThrottledError{RetryAfter: l.cooldownUntil.Sub(now)}
	}
	l.cooldownUntil = time.Time{}
	return nil
}

// Trip starts (or extends) the cooldown
func (l *Limiter) Trip(cooldown time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until := l.now().Add(cooldown)
	if until.After(l.cooldownUntil) {
		l.cooldownUntil = until
	}
}

// Throttled reports whether the cooldown is currently active
func (l *Limiter) Throttled() bool {
	return l.Check() != nil
}
