package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SlotCache is a read-through cache for day-scoped available-slot listings.
// It is strictly an optimization: every failure is treated as a miss and the
// caller falls back to the store. Exclusive booking never depends on it.
type SlotCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewSlotCache(client *redis.Client, ttl time.Duration, log *zap.Logger) *SlotCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &SlotCache{client: client, ttl: ttl, log: log}
}

func slotKey(doctorID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("slots:available:%s:%s", doctorID, day.Format("2006-01-02"))
}

func (c *SlotCache) Get(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Slot, bool) {
	key := slotKey(doctorID, day)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug("slot cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var slots []Slot
	if err := json.Unmarshal(data, &slots); err != nil {
		c.log.Warn("slot cache entry corrupt, dropping", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, key).Err()
		return nil, false
	}

	return slots, true
}

func (c *SlotCache) Set(ctx context.Context, doctorID uuid.UUID, day time.Time, slots []Slot) {
	key := slotKey(doctorID, day)

	data, err := json.Marshal(slots)
	if err != nil {
		c.log.Warn("slot cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Debug("slot cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateDay drops the cached listing for the day a slot transition
// touched, so the next listing reflects the new state.
func (c *SlotCache) InvalidateDay(ctx context.Context, doctorID uuid.UUID, day time.Time) {
	key := slotKey(doctorID, day)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Debug("slot cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}
