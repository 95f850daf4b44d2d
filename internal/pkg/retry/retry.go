// Package retry provides the backoff policy used between delivery
// attempts: exponential backoff with full jitter, capped at a maximum
// delay, plus the HTTP status classification shared by the API providers.
package retry

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Policy bounds how often and how patiently a transient failure is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter enables full jitter. Disabled, Delay is deterministic.
	Jitter bool
}

// DefaultPolicy returns 3 attempts with 1s base and 30s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Normalize fills zero fields with defaults.
func (p Policy) Normalize() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Delay returns the wait before retry number attempt (1-based: the wait
// after the first failed attempt is Delay(1)).
// Exponential backoff: baseDelay * 2^(attempt-1), capped at maxDelay.
// With jitter the result is random(minDelay, that value).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(p.MaxDelay) {
		exp = float64(p.MaxDelay)
	}
	if !p.Jitter {
		return time.Duration(exp)
	}

	jittered := time.Duration(rand.Float64() * exp)
	// Ensure a minimum delay to avoid busy-looping against a throttled provider.
	if floor := minDelay(p.BaseDelay); jittered < floor {
		jittered = floor
	}
	return jittered
}

func minDelay(base time.Duration) time.Duration {
	if base < 100*time.Millisecond {
		return base
	}
	return 100 * time.Millisecond
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRetryableStatus returns true if the HTTP status code indicates a
// transient server condition.
// Retries: 429 (Too Many Requests), 500, 502, 503, 504.
// Does NOT retry: 400, 401, 403, 404, or any other client error.
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
