package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// ErrDailyLimit is returned once a provider's daily cap is used up.
var ErrDailyLimit = errors.New("throttle: daily limit exceeded")

// Limits caps sends for one provider account.
type Limits struct {
	PerSecond int `yaml:"per_second"`
	PerMinute int `yaml:"per_minute"`
	Daily     int `yaml:"daily"`
}

// ProviderLimits are conservative defaults per provider.
var ProviderLimits = map[domain.ProviderType]Limits{
	domain.ProviderSMTP:     {PerSecond: 5, PerMinute: 100, Daily: 2000},
	domain.ProviderSendGrid: {PerSecond: 50, PerMinute: 3000, Daily: 5000000},
	domain.ProviderMailgun:  {PerSecond: 50, PerMinute: 3000, Daily: 5000000},
	domain.ProviderSES:      {PerSecond: 14, PerMinute: 840, Daily: 50000},
}

// multiLimitLuaScript checks all three windows and increments only if
// every one has room.
const multiLimitLuaScript = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local dailyKey = KEYS[3]
local increment = tonumber(ARGV[1])
local secondLimit = tonumber(ARGV[2])
local minuteLimit = tonumber(ARGV[3])
local dailyLimit = tonumber(ARGV[4])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")
local dayCurrent = tonumber(redis.call("GET", dailyKey) or "0")

if secCurrent + increment > secondLimit then
    return {0, 1, secCurrent}
end
if minCurrent + increment > minuteLimit then
    return {0, 2, minCurrent}
end
if dayCurrent + increment > dailyLimit then
    return {0, 3, dayCurrent}
end

local newSec = redis.call("INCRBY", secondKey, increment)
if newSec == increment then
    redis.call("EXPIRE", secondKey, 2)
end
local newMin = redis.call("INCRBY", minuteKey, increment)
if newMin == increment then
    redis.call("EXPIRE", minuteKey, 120)
end
local newDay = redis.call("INCRBY", dailyKey, increment)
if newDay == increment then
    redis.call("EXPIRE", dailyKey, 90000)
end

return {1, 0, newDay}
`

// Redis enforces Limits for one provider across processes.
type Redis struct {
	client   redis.UniversalClient
	provider domain.ProviderType
	limits   Limits
	script   *redis.Script
	now      func() time.Time
}

// NewRedis creates a shared limiter. Zero limits fall back to
// ProviderLimits for p.
func NewRedis(client redis.UniversalClient, p domain.ProviderType, limits Limits) *Redis {
	d := ProviderLimits[p]
	if limits.PerSecond <= 0 {
		limits.PerSecond = d.PerSecond
	}
	if limits.PerMinute <= 0 {
		limits.PerMinute = d.PerMinute
	}
	if limits.Daily <= 0 {
		limits.Daily = d.Daily
	}
	return &Redis{
		client:   client,
		provider: p,
		limits:   limits,
		script:   redis.NewScript(multiLimitLuaScript),
		now:      time.Now,
	}
}

// Allow atomically reserves one send. When denied it returns how long to
// wait before trying again.
func (r *Redis) Allow(ctx context.Context) (bool, time.Duration, error) {
	now := r.now()
	secondKey := fmt.Sprintf("ratelimit:%s:sec:%d", r.provider, now.Unix())
	minuteKey := fmt.Sprintf("ratelimit:%s:min:%d", r.provider, now.Unix()/60)
	dailyKey := fmt.Sprintf("ratelimit:%s:day:%s", r.provider, now.UTC().Format("2006-01-02"))

	result, err := r.script.Run(ctx, r.client,
		[]string{secondKey, minuteKey, dailyKey},
		1, r.limits.PerSecond, r.limits.PerMinute, r.limits.Daily,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) < 2 {
		return false, 0, fmt.Errorf("rate limit check: unexpected reply %v", result)
	}

	allowed, _ := result[0].(int64)
	if allowed == 1 {
		return true, 0, nil
	}
	reason, _ := result[1].(int64)
	switch reason {
	case 1:
		return false, time.Second - time.Duration(now.Nanosecond()), nil
	case 2:
		return false, time.Duration(60-now.Second()) * time.Second, nil
	default:
		return false, 0, fmt.Errorf("%w for %s", ErrDailyLimit, r.provider)
	}
}

// Wait implements Throttle. Redis failures are logged and the send is
// let through rather than stalling the campaign.
func (r *Redis) Wait(ctx context.Context) error {
	for {
		allowed, wait, err := r.Allow(ctx)
		if errors.Is(err, ErrDailyLimit) {
			return err
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("[RateLimiter] Check failed, allowing send", "provider", string(r.provider), "error", err)
			return nil
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Usage returns the counters of the current windows.
func (r *Redis) Usage(ctx context.Context) (map[string]int64, error) {
	now := r.now()
	pipe := r.client.Pipeline()
	secCmd := pipe.Get(ctx, fmt.Sprintf("ratelimit:%s:sec:%d", r.provider, now.Unix()))
	minCmd := pipe.Get(ctx, fmt.Sprintf("ratelimit:%s:min:%d", r.provider, now.Unix()/60))
	dayCmd := pipe.Get(ctx, fmt.Sprintf("ratelimit:%s:day:%s", r.provider, now.UTC().Format("2006-01-02")))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read usage: %w", err)
	}

	sec, _ := secCmd.Int64()
	minute, _ := minCmd.Int64()
	day, _ := dayCmd.Int64()
	return map[string]int64{
		"second_current": sec,
		"second_limit":   int64(r.limits.PerSecond),
		"minute_current": minute,
		"minute_limit":   int64(r.limits.PerMinute),
		"daily_current":  day,
		"daily_limit":    int64(r.limits.Daily),
	}, nil
}
