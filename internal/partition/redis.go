package partition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dotcelery:partition:"

// releaseScript performs the CAS-release atomically: only delete the key if
// its value still matches the calling holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// extendScript performs the CAS-extend atomically: only refresh TTL if the
// holder still matches.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Redis is a Lock backed by a single string key per partition, the value
// being the current holder's task id and the key's TTL being the lease.
type Redis struct {
	client *redis.Client
}

// NewRedis builds a Redis-backed Lock.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func lockKey(key string) string { return keyPrefix + key }

func (r *Redis) TryAcquire(ctx context.Context, key, holderID string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	ok, err := r.client.SetNX(ctx, lockKey(key), holderID, timeout).Result()
	if err != nil {
		return false, fmt.Errorf("partition: acquire %s: %w", key, err)
	}
	if ok {
		return true, nil
	}

	// Already held — idempotent re-entry if the holder matches.
	current, err := r.client.Get(ctx, lockKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Key expired between SetNX and Get; retry once.
			return r.TryAcquire(ctx, key, holderID, timeout)
		}
		return false, fmt.Errorf("partition: read holder %s: %w", key, err)
	}
	return current == holderID, nil
}

func (r *Redis) Release(ctx context.Context, key, holderID string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.client, []string{lockKey(key)}, holderID).Int64()
	if err != nil {
		return false, fmt.Errorf("partition: release %s: %w", key, err)
	}
	return n == 1, nil
}

func (r *Redis) Extend(ctx context.Context, key, holderID string, extension time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, r.client, []string{lockKey(key)}, holderID, extension.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("partition: extend %s: %w", key, err)
	}
	return n == 1, nil
}

func (r *Redis) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, lockKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("partition: exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *Redis) GetHolder(ctx context.Context, key string) (string, error) {
	holder, err := r.client.Get(ctx, lockKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("partition: get holder %s: %w", key, err)
	}
	return holder, nil
}
