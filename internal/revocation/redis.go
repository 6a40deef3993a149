package revocation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dotcelery/dotcelery/internal/domain"
)

const (
	keyPrefix = "dotcelery:revoked:"
	channel   = "dotcelery:revocations"
)

// Redis is a Store backed by TTL'd keys for membership and Pub/Sub for
// live notification.
type Redis struct {
	client *redis.Client
}

// NewRedis builds a Redis-backed Store.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func revokedKey(taskID string) string { return keyPrefix + taskID }

func (r *Redis) Revoke(ctx context.Context, taskID string, opts Options) error {
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = time.Hour
	}

	record := domain.RevocationRecord{
		TaskID:    taskID,
		Terminate: opts.Terminate,
		Signal:    opts.Signal,
		RevokedAt: time.Now(),
		ExpiresAt: time.Now().Add(expiry),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("revocation: marshal %s: %w", taskID, err)
	}

	if err := r.client.Set(ctx, revokedKey(taskID), data, expiry).Err(); err != nil {
		return fmt.Errorf("revocation: set %s: %w", taskID, err)
	}

	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("revocation: publish %s: %w", taskID, err)
	}

	return nil
}

func (r *Redis) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKey(taskID)).Result()
	if err != nil {
		return false, fmt.Errorf("revocation: exists %s: %w", taskID, err)
	}
	return n > 0, nil
}

func (r *Redis) Subscribe(ctx context.Context) (<-chan domain.RevocationRecord, error) {
	sub := r.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("revocation: subscribe: %w", err)
	}

	out := make(chan domain.RevocationRecord, 64)
	go func() {
		defer sub.Close()
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var record domain.RevocationRecord
				if err := json.Unmarshal([]byte(msg.Payload), &record); err != nil {
					continue
				}
				select {
				case out <- record:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
