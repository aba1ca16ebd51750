package realtime

import (
	"context"
	"strconv"
	"time"

	"github.com/go-demo/liveroom/internal/pkg/cache"
	"github.com/redis/go-redis/v9"
)

// Presence records which connections hold a user in a room across instances
type Presence interface {
	Add(ctx context.Context, roomID, userID, connID string) error
	Remove(ctx context.Context, roomID, userID, connID string) error
	// Count returns the live connections of a user in a room
	Count(ctx context.Context, roomID, userID string) (int64, error)
}

// RedisPresence keeps one sorted set per room and user, scored by the last
// time each connection was seen. Entries older than ttl count as gone, so a
// crashed instance cannot hold a user in a room forever.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPresence(client *redis.Client, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisPresence{client: client, ttl: ttl}
}

// TTL returns how long an entry stays live without a refresh
func (p *RedisPresence) TTL() time.Duration {
	return p.ttl
}

func (p *RedisPresence) Add(ctx context.Context, roomID, userID, connID string) error {
	key := cache.PresenceKey(roomID, userID)

	pipe := p.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: connID,
	})
	pipe.Expire(ctx, key, 2*p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPresence) Remove(ctx context.Context, roomID, userID, connID string) error {
	return p.client.ZRem(ctx, cache.PresenceKey(roomID, userID), connID).Err()
}

func (p *RedisPresence) Count(ctx context.Context, roomID, userID string) (int64, error) {
	key := cache.PresenceKey(roomID, userID)
	cutoff := time.Now().Add(-p.ttl).Unix()

	pipe := p.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return countCmd.Val(), nil
}
