package singleflight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dotcelery:singleflight:"

var stopScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Redis is a Tracker backed by one string key per lock key.
type Redis struct {
	client *redis.Client
}

// NewRedis builds a Redis-backed Tracker.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func trackKey(lockKey string) string { return keyPrefix + lockKey }

func (r *Redis) TryStart(ctx context.Context, lockKey, taskID string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ok, err := r.client.SetNX(ctx, trackKey(lockKey), taskID, timeout).Result()
	if err != nil {
		return false, fmt.Errorf("singleflight: start %s: %w", lockKey, err)
	}
	if ok {
		return true, nil
	}

	current, err := r.client.Get(ctx, trackKey(lockKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return r.TryStart(ctx, lockKey, taskID, timeout)
		}
		return false, fmt.Errorf("singleflight: read holder %s: %w", lockKey, err)
	}
	return current == taskID, nil
}

func (r *Redis) Stop(ctx context.Context, lockKey, taskID string) error {
	if _, err := stopScript.Run(ctx, r.client, []string{trackKey(lockKey)}, taskID).Result(); err != nil {
		return fmt.Errorf("singleflight: stop %s: %w", lockKey, err)
	}
	return nil
}

func (r *Redis) IsExecuting(ctx context.Context, lockKey string) (bool, error) {
	n, err := r.client.Exists(ctx, trackKey(lockKey)).Result()
	if err != nil {
		return false, fmt.Errorf("singleflight: exists %s: %w", lockKey, err)
	}
	return n > 0, nil
}

func (r *Redis) GetExecutingTaskID(ctx context.Context, lockKey string) (string, error) {
	taskID, err := r.client.Get(ctx, trackKey(lockKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("singleflight: get %s: %w", lockKey, err)
	}
	return taskID, nil
}

func (r *Redis) Extend(ctx context.Context, lockKey, taskID string, extension time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, r.client, []string{trackKey(lockKey)}, taskID, extension.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("singleflight: extend %s: %w", lockKey, err)
	}
	return n == 1, nil
}
