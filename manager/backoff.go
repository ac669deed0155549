package manager

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy governs connect retries inside ConnectServer. Attempts
// counts additional tries after the first failure; zero disables
// retrying.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
}

// DefaultRetryPolicy does not retry; raising Attempts (directly or via
// the retryAttempts setting) turns on backoff starting at 500ms and
// doubling, with 20% jitter so a fleet of clients does not reconnect
// in lockstep.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  0,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
		Jitter:    0.2,
	}
}

// Delay returns how long to wait before retry number attempt (1-based).
// The cap applies to the jittered value, so MaxDelay is a hard ceiling.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	// Float growth saturates at large attempt numbers instead of
	// overflowing the duration.
	d := float64(base) * math.Pow(2, float64(attempt-1))
	if p.Jitter > 0 {
		d *= 1 - p.Jitter/2 + rand.Float64()*p.Jitter
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}
