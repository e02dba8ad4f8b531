// Package ratelimiter enforces the per-user admission quota: a sliding
// one-hour window with capacity five, backed by a sorted set of admission
// timestamps.
package ratelimiter

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/videogen/internal/domain"
)

const (
	windowSeconds = 3600
	capacity      = 5
)

// failClosedRetryAfter is reported when the broker itself is down and the
// configured policy rejects.
const failClosedRetryAfter = 60

type scriptRunner interface {
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error)
}

// SlidingWindow admits or rejects one user admission per call.
type SlidingWindow struct {
	broker     scriptRunner
	failClosed bool
	script     *redis.Script
	// now is overridable in tests
	now func() time.Time
}

func New(broker scriptRunner, failClosed bool) *SlidingWindow {
	return &SlidingWindow{
		broker:     broker,
		failClosed: failClosed,
		script:     redis.NewScript(luaSlidingWindow),
		now:        time.Now,
	}
}

// The script prunes, counts, and either records the admission or reports how
// long until the oldest entry leaves the window. Timestamps are fractional
// seconds so that several admissions within the same second stay distinct.
const luaSlidingWindow = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)

local count = redis.call("ZCARD", key)
if count >= capacity then
  local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
  local retry_after = window
  if oldest[2] ~= nil then
    retry_after = window - (now - tonumber(oldest[2]))
  end
  return { 0, tostring(retry_after) }
end

redis.call("ZADD", key, now, ARGV[1])
redis.call("EXPIRE", key, window)
return { 1, "0" }
`

// Check admits the user or fails with a RateLimitError. Broker outages apply
// the configured failure policy: fail-open admits with a warning, fail-closed
// rejects with retry_after=60.
func (l *SlidingWindow) Check(ctx context.Context, userID string) error {
	nowSec := float64(l.now().UnixNano()) / 1e9

	res, err := l.broker.RunScript(ctx, l.script, []string{domain.RateKey(userID)}, nowSec, windowSeconds, capacity)
	if err != nil {
		if l.failClosed {
			slog.Warn("rate limiter unavailable, blocking request",
				slog.String("user_id", userID), slog.Any("error", err))
			return &domain.RateLimitError{RetryAfter: failClosedRetryAfter, ServiceUnavailable: true}
		}
		slog.Warn("rate limiter unavailable, allowing request",
			slog.String("user_id", userID), slog.Any("error", err))
		return nil
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		slog.Error("rate limiter unexpected script result",
			slog.String("user_id", userID), slog.Any("result", res))
		return nil
	}

	if toInt64(vals[0]) == 1 {
		return nil
	}

	seconds := toFloat64(vals[1])
	if math.IsNaN(seconds) {
		seconds = windowSeconds
	}
	retryAfter := int(math.Ceil(seconds))
	if retryAfter < 0 {
		retryAfter = 0
	}
	slog.Warn("rate limit exceeded",
		slog.String("user_id", userID), slog.Int("retry_after", retryAfter))
	return &domain.RateLimitError{RetryAfter: retryAfter}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

// Redis truncates Lua numbers to integers in replies, so the script returns
// retry_after as a string to keep the fraction.
func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}
