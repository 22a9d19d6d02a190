package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup suppresses webhook replays with a marker per delivery. It is
// best-effort: the transition guard already makes replays safe, so a dedup
// store failure must never block processing. The marker is written by the
// caller only after a delivery is fully processed, keeping a delivery that
// failed on a store error replayable.
type Dedup struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDedup(client *redis.Client, ttl time.Duration) *Dedup {
	return &Dedup{client: client, ttl: ttl}
}

// Seen reports whether the delivery was already processed within the TTL
// window.
func (d *Dedup) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, "wh:"+key).Result()
	return n > 0, err
}

// MarkDelivered records the delivery as processed.
func (d *Dedup) MarkDelivered(ctx context.Context, key string) error {
	return d.client.Set(ctx, "wh:"+key, 1, d.ttl).Err()
}
