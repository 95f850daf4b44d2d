package campaign

import (
	"context"
	"time"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/metrics"
	"github.com/ignite/campaign-mailer/internal/pkg/distlock"
	"github.com/ignite/campaign-mailer/internal/pkg/retry"
	"github.com/ignite/campaign-mailer/internal/provider"
	"github.com/ignite/campaign-mailer/internal/render"
	"github.com/ignite/campaign-mailer/internal/throttle"
)

// ProviderFactory builds the provider for a run. It is called once per run.
type ProviderFactory func(ctx context.Context, cfg domain.ProviderConfig) (provider.Provider, error)

// OutcomeHook is called after each outcome is recorded, with the number
// of recipients finished so far. Calls are serialized.
type OutcomeHook func(done, total int, o domain.DeliveryOutcome)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error { return retry.Sleep(ctx, d) }

// DefaultProviderFactory builds the configured provider behind a circuit
// breaker.
func DefaultProviderFactory(ctx context.Context, cfg domain.ProviderConfig) (provider.Provider, error) {
	p, err := provider.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return provider.WithBreaker(p, provider.DefaultBreakerSettings()), nil
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency caps the number of recipients processed at once.
// Values below 1 mean sequential processing.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n < 1 {
			n = 1
		}
		r.concurrency = n
	}
}

// WithRetryPolicy sets attempts and backoff for transient failures.
func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Runner) { r.retry = p.Normalize() }
}

// WithThrottle paces every delivery attempt.
func WithThrottle(t throttle.Throttle) Option {
	return func(r *Runner) { r.throttle = t }
}

// WithLocker prevents two runs of the same campaign id at once.
func WithLocker(l distlock.Locker, ttl time.Duration) Option {
	return func(r *Runner) {
		r.locker = l
		if ttl > 0 {
			r.lockTTL = ttl
		}
	}
}

// WithMetrics records delivery and run metrics.
func WithMetrics(m *metrics.Registry) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithProviderFactory replaces DefaultProviderFactory.
func WithProviderFactory(f ProviderFactory) Option {
	return func(r *Runner) { r.factory = f }
}

// WithOutcomeHook reports progress as outcomes are recorded.
func WithOutcomeHook(h OutcomeHook) Option {
	return func(r *Runner) { r.hook = h }
}

// WithEmailColumn names the recipient column holding the address.
func WithEmailColumn(column string) Option {
	return func(r *Runner) { r.emailColumn = column }
}

// WithIDColumn names the recipient column used as the recipient id.
func WithIDColumn(column string) Option {
	return func(r *Runner) { r.idColumn = column }
}

// WithRenderOptions tunes placeholder resolution.
func WithRenderOptions(o render.Options) Option {
	return func(r *Runner) { r.renderOpts = o }
}

// WithClock replaces the wall clock and sleeper.
func WithClock(c Clock) Option {
	return func(r *Runner) { r.clock = c }
}
