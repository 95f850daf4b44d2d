package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// BreakerSettings tunes the circuit breaker placed in front of a provider.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive transient failures
	// that opens the circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before a probe.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings opens after 5 consecutive failures for 30s.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{FailureThreshold: 5, OpenTimeout: 30 * time.Second}
}

type breakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[*domain.DeliveryAck]
}

// WithBreaker wraps p in a circuit breaker. Only transient failures count
// against the circuit; a rejected address says nothing about the
// provider's health. While open, Deliver fails fast with a transient
// rate_limit error.
func WithBreaker(p Provider, s BreakerSettings) Provider {
	d := DefaultBreakerSettings()
	if s.FailureThreshold == 0 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = d.OpenTimeout
	}
	name := string(p.Name())
	cb := gobreaker.NewCircuitBreaker[*domain.DeliveryAck](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Provider circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
		},
	})
	return &breakerProvider{next: p, cb: cb}
}

func (b *breakerProvider) Name() domain.ProviderType { return b.next.Name() }

func (b *breakerProvider) Deliver(ctx context.Context, msg *domain.EmailMessage) (*domain.DeliveryAck, error) {
	ack, err := b.cb.Execute(func() (*domain.DeliveryAck, error) {
		return b.next.Deliver(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, newError(b.next.Name(), KindRateLimit, err)
	}
	return ack, err
}

func (b *breakerProvider) Verify(ctx context.Context) error {
	return Verify(ctx, b.next)
}
