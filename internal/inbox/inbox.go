// Package inbox implements at-most-once consumption: a processed-id store
// and the pre/post filter pair that checks and marks it.
package inbox

import (
	"context"
	"time"
)

// Store tracks which task ids have already been processed.
type Store interface {
	IsProcessed(ctx context.Context, taskID string) (bool, error)
	MarkProcessed(ctx context.Context, taskID string, processedAt time.Time) error
}
