package resultbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// resultKeyPrefix mirrors celery's celery-task-meta-<id> key shape under a
// dotcelery- prefix, so results are found with the redis-cli pattern
// dotcelery-task-meta-*.
const resultKeyPrefix = "dotcelery-task-meta-"

// Redis is a Backend storing results as TTL'd string keys.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed Backend. ttl<=0 disables expiry.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func resultKey(taskID string) string {
	return resultKeyPrefix + taskID
}

// Store marshals result as JSON and writes it with the configured TTL.
func (r *Redis) Store(ctx context.Context, result *domain.TaskResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("resultbackend: marshal: %w", err)
	}
	if err := r.client.Set(ctx, resultKey(result.TaskID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("resultbackend: set %s: %w", result.TaskID, err)
	}
	return nil
}

// Get reads and unmarshals the result for taskID.
func (r *Redis) Get(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	data, err := r.client.Get(ctx, resultKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resultbackend: get %s: %w", taskID, err)
	}

	var result domain.TaskResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("resultbackend: unmarshal %s: %w", taskID, err)
	}
	return &result, nil
}

// Delete removes the key for taskID, if present.
func (r *Redis) Delete(ctx context.Context, taskID string) error {
	if err := r.client.Del(ctx, resultKey(taskID)).Err(); err != nil {
		return fmt.Errorf("resultbackend: delete %s: %w", taskID, err)
	}
	return nil
}
