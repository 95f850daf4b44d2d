// Package throttle paces outbound sends: a local interval limiter for the
// per-run send delay, and a Redis-backed limiter that enforces provider
// caps across every process sharing the account.
package throttle

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle blocks until the next send is allowed or ctx is done.
type Throttle interface {
	Wait(ctx context.Context) error
}

// Local spaces sends within one process.
type Local struct {
	limiter *rate.Limiter
}

// Every allows one send per interval. A non-positive interval disables
// pacing.
func Every(interval time.Duration) *Local {
	if interval <= 0 {
		return &Local{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Local{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// PerSecond allows n sends per second with a burst of n.
func PerSecond(n int) *Local {
	if n <= 0 {
		return Every(0)
	}
	return &Local{limiter: rate.NewLimiter(rate.Limit(n), n)}
}

// Wait implements Throttle.
func (l *Local) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

type chain []Throttle

// Chain waits on each throttle in turn. Nil entries are skipped.
func Chain(throttles ...Throttle) Throttle {
	var c chain
	for _, t := range throttles {
		if t != nil {
			c = append(c, t)
		}
	}
	return c
}

func (c chain) Wait(ctx context.Context) error {
	for _, t := range c {
		if err := t.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
