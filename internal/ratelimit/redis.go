package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dotcelery:ratelimit:"

// acquireScript prunes timestamps older than the window, and if the
// remaining count is under the limit, admits the current attempt by adding
// its timestamp; otherwise returns the oldest timestamp still in the window
// so the caller can compute retryAfter. All atomic in one round trip.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowMs = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - windowMs)

local count = redis.call("ZCARD", key)
if count < limit then
	redis.call("ZADD", key, now, now .. "-" .. redis.call("INCR", key .. ":seq"))
	redis.call("PEXPIRE", key, windowMs)
	redis.call("PEXPIRE", key .. ":seq", windowMs)
	return {1, limit - count - 1, 0}
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local oldestTs = tonumber(oldest[2])
return {0, 0, oldestTs}
`)

// Redis is a Limiter backed by one sorted set per resource key, scored by
// admission timestamp in milliseconds.
type Redis struct {
	client *redis.Client
}

// NewRedis builds a Redis-backed Limiter.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func windowKey(resourceKey string) string { return keyPrefix + resourceKey }

func (r *Redis) TryAcquire(ctx context.Context, resourceKey string, policy Policy) (Lease, error) {
	now := time.Now()
	nowMs := now.UnixMilli()
	windowMs := policy.Window.Milliseconds()

	res, err := acquireScript.Run(ctx, r.client, []string{windowKey(resourceKey)}, nowMs, windowMs, policy.Limit).Slice()
	if err != nil {
		return Lease{}, fmt.Errorf("ratelimit: acquire %s: %w", resourceKey, err)
	}
	if len(res) != 3 {
		return Lease{}, fmt.Errorf("ratelimit: unexpected script result for %s", resourceKey)
	}

	admitted := toInt64(res[0]) == 1
	if admitted {
		return Lease{
			Acquired:  true,
			Remaining: int(toInt64(res[1])),
			ResetAt:   now.Add(policy.Window),
		}, nil
	}

	oldestMs := toInt64(res[2])
	oldest := time.UnixMilli(oldestMs)
	resetAt := oldest.Add(policy.Window)
	retryAfter := resetAt.Sub(now)
	if retryAfter < MinRetryAfter {
		retryAfter = MinRetryAfter
	}

	return Lease{
		Acquired:   false,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	default:
		return 0
	}
}
