package notification

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisBroadcaster struct {
	r *redis.Client
}

func NewRedisBroadcaster(r *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{r: r}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.r.Publish(ctx, channel, payload).Err()
}

// RedisDeduper guarda os event_ids entregues com TTL
type RedisDeduper struct {
	r   *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(r *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{r: r, ttl: ttl}
}

func key(eventID int64) string { return "notified:" + strconv.FormatInt(eventID, 10) }

func (d *RedisDeduper) Seen(ctx context.Context, eventID int64) (bool, error) {
	n, err := d.r.Exists(ctx, key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, eventID int64) error {
	return d.r.Set(ctx, key(eventID), 1, d.ttl).Err()
}
