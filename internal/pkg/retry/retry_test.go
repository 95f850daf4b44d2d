package retry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_DelayWithoutJitter(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, 500*time.Millisecond, p.Delay(4), "capped at MaxDelay")
	assert.Equal(t, 100*time.Millisecond, p.Delay(0), "attempt below 1 treated as first")
}

func TestPolicy_DelayWithJitterStaysInRange(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 4 * time.Second, Jitter: true}

	for attempt := 1; attempt <= 6; attempt++ {
		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, 100*time.Millisecond)
			assert.LessOrEqual(t, d, 4*time.Second)
		}
	}
}

func TestPolicy_Normalize(t *testing.T) {
	p := Policy{}.Normalize()
	assert.Equal(t, DefaultPolicy().MaxAttempts, p.MaxAttempts)
	assert.Equal(t, DefaultPolicy().BaseDelay, p.BaseDelay)
	assert.Equal(t, DefaultPolicy().MaxDelay, p.MaxDelay)

	p = Policy{MaxAttempts: 2, BaseDelay: time.Minute, MaxDelay: time.Second}.Normalize()
	assert.Equal(t, time.Minute, p.MaxDelay)
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, IsRetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{http.StatusOK, 400, 401, 403, 404, 413, 501} {
		assert.False(t, IsRetryableStatus(code), "status %d", code)
	}
}
