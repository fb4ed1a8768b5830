package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"KaraFM/model"

	"github.com/redis/go-redis/v9"
)

// queueKey holds the persisted play queue as a sorted set scored by
// position, mirroring the in-memory order.
const queueKey = "karafm:queue"

const queueOpTimeout = 3 * time.Second

// QueueCache persists queue snapshots to Redis so a restart picks up the
// party where it left off.
type QueueCache struct {
	client *redis.Client
}

// NewQueueCache wraps an initialized Redis client.
func NewQueueCache(client *redis.Client) *QueueCache {
	return &QueueCache{client: client}
}

// Save replaces the stored queue with the given snapshot.
func (qc *QueueCache) Save(entries []model.QueueEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), queueOpTimeout)
	defer cancel()

	members := make([]redis.Z, 0, len(entries))
	for i, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal queue entry: %w", err)
		}
		members = append(members, redis.Z{Score: float64(i), Member: data})
	}

	pipe := qc.client.TxPipeline()
	pipe.Del(ctx, queueKey)
	if len(members) > 0 {
		pipe.ZAdd(ctx, queueKey, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	return nil
}

// Load returns the stored queue in position order. A missing key is an
// empty queue, not an error.
func (qc *QueueCache) Load() ([]model.QueueEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queueOpTimeout)
	defer cancel()

	raw, err := qc.client.ZRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}

	entries := make([]model.QueueEntry, 0, len(raw))
	for _, item := range raw {
		var e model.QueueEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
