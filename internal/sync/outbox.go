package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmaia/glucolog/internal/backend"
	"github.com/tmaia/glucolog/internal/store"
	"go.uber.org/zap"
)

// maxQueueRetries bounds delivery attempts per queue item. Hardcoded
// pending a product decision on per-deployment tuning.
const maxQueueRetries = 3

// DrainResult reports one drain pass over the outbox.
type DrainResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// SyncPendingReadings delivers queued mutations to the backend. It follows
// a 3-phase pattern: snapshot-and-clear the queue in one transaction,
// process each snapshotted item independently in enqueue order, then bulk
// re-add retryable failures. A mutation enqueued during the drain lands
// after the snapshot and is deferred to the next pass, never lost and never
// double-processed.
func (e *Engine) SyncPendingReadings(ctx context.Context) DrainResult {
	if e.offline {
		return DrainResult{}
	}

	items, err := e.db.SnapshotAndClearQueue()
	if err != nil {
		e.logger.Error("failed to snapshot sync queue", zap.Error(err))
		return DrainResult{}
	}
	if len(items) == 0 {
		return DrainResult{}
	}

	if err := e.client.Ready(); err != nil {
		// No usable identity: put the whole snapshot back untouched
		// rather than burning retry budget on a local condition.
		e.logger.Warn("skipping drain, caller identity unavailable", zap.Error(err))
		if reqErr := e.db.RequeueItems(items); reqErr != nil {
			e.logger.Error("failed to restore queue snapshot", zap.Error(reqErr))
		}
		return DrainResult{Failed: len(items)}
	}

	var res DrainResult
	var requeue []store.QueueItem
	for _, item := range items {
		err := e.processQueueItem(ctx, item)
		if err == nil {
			res.Success++
			continue
		}
		res.Failed++

		if !backend.IsRetryable(err) {
			// Backend rejected the payload itself. Retrying can never
			// succeed; dropping beats an infinite retry loop.
			e.logger.Error("dropping queue item after non-retryable failure",
				zap.Int64("item_id", item.ID),
				zap.String("op", item.Op),
				zap.String("reading_id", item.ReadingID),
				zap.Error(err))
			continue
		}

		item.RetryCount++
		item.LastError = err.Error()
		if item.RetryCount >= maxQueueRetries {
			e.logger.Warn("Max retries reached, dropping queue item",
				zap.Int64("item_id", item.ID),
				zap.String("op", item.Op),
				zap.String("reading_id", item.ReadingID),
				zap.Int("retry_count", item.RetryCount),
				zap.Error(err))
			continue
		}
		requeue = append(requeue, item)
	}

	if err := e.db.RequeueItems(requeue); err != nil {
		e.logger.Error("failed to requeue items", zap.Error(err), zap.Int("count", len(requeue)))
	}
	return res
}

func (e *Engine) processQueueItem(ctx context.Context, item store.QueueItem) error {
	switch item.Op {
	case store.OpCreate, store.OpUpdate:
		var r store.Reading
		if err := json.Unmarshal([]byte(item.Payload), &r); err != nil {
			// A corrupt snapshot is permanent; surface it as such.
			return &backend.StatusError{Status: 400, Message: fmt.Sprintf("corrupt payload snapshot: %v", err)}
		}
		created, err := e.client.CreateReading(ctx, ToBackendPayload(&r))
		if err != nil {
			return err
		}
		// Link the local record to the backend-issued id; the pull
		// fetcher's dedup depends on this write-back.
		if err := e.db.MarkReadingSynced(item.ReadingID, created.ID); err != nil {
			e.logger.Error("failed to write back backend id",
				zap.String("reading_id", item.ReadingID),
				zap.String("backend_id", created.ID),
				zap.Error(err))
		}
		return nil

	case store.OpDelete:
		// Deletes are local-only tombstoning; the backend has no delete
		// endpoint.
		return e.db.DeleteReading(item.ReadingID)

	default:
		return &backend.StatusError{Status: 400, Message: fmt.Sprintf("unknown queue op %q", item.Op)}
	}
}
