package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/domain"
)

type stubProvider struct {
	calls atomic.Int32
	err   error
}

func (s *stubProvider) Name() domain.ProviderType { return domain.ProviderSendGrid }

func (s *stubProvider) Deliver(ctx context.Context, msg *domain.EmailMessage) (*domain.DeliveryAck, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.DeliveryAck{Provider: domain.ProviderSendGrid, MessageID: "ok"}, nil
}

func TestWithBreaker_OpensOnTransientFailures(t *testing.T) {
	stub := &stubProvider{err: newError(domain.ProviderSendGrid, KindUnavailable, errors.New("503"))}
	p := WithBreaker(stub, BreakerSettings{FailureThreshold: 3, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := p.Deliver(context.Background(), testMessage())
		require.Error(t, err)
	}
	require.Equal(t, int32(3), stub.calls.Load())

	_, err := p.Deliver(context.Background(), testMessage())
	require.Error(t, err)
	assert.Equal(t, int32(3), stub.calls.Load(), "open breaker must not reach the provider")
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.True(t, IsTransient(err))
}

func TestWithBreaker_PermanentFailuresDoNotTrip(t *testing.T) {
	stub := &stubProvider{err: newError(domain.ProviderSendGrid, KindRequest, errors.New("bad address"))}
	p := WithBreaker(stub, BreakerSettings{FailureThreshold: 2, OpenTimeout: time.Minute})

	for i := 0; i < 5; i++ {
		_, err := p.Deliver(context.Background(), testMessage())
		require.Error(t, err)
		assert.False(t, IsTransient(err))
	}
	assert.Equal(t, int32(5), stub.calls.Load())
}

func TestWithBreaker_PassesThrough(t *testing.T) {
	stub := &stubProvider{}
	p := WithBreaker(stub, BreakerSettings{})

	ack, err := p.Deliver(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "ok", ack.MessageID)
	assert.Equal(t, domain.ProviderSendGrid, p.Name())
	assert.NoError(t, Verify(context.Background(), p))
}
