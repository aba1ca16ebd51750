package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-demo/liveroom/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func NewRedis(cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.GetAddr()),
		zap.Int("db", cfg.DB),
	)

	return client, nil
}

// Close closes the Redis connection
func Close(client *redis.Client, logger *zap.Logger) {
	if err := client.Close(); err != nil {
		logger.Error("Error closing Redis connection", zap.Error(err))
	} else {
		logger.Info("Redis connection closed")
	}
}

// Keys and channels used by the presence engine
const (
	KeyRateLimitUser = "ratelimit:user:%s" // ratelimit:user:{userID}
	KeyRateLimitIP   = "ratelimit:ip:%s"   // ratelimit:ip:{ip}
	ChannelRoom      = "liveroom:room:%s"  // liveroom:room:{roomID}
	ChannelRoomAll   = "liveroom:room:*"
	KeyPresence      = "liveroom:presence:%s:%s" // liveroom:presence:{roomID}:{userID}
)

// RoomChannel returns the pub/sub channel carrying a room's events
func RoomChannel(roomID string) string {
	return fmt.Sprintf(ChannelRoom, roomID)
}

// PresenceKey returns the sorted set of a user's live connections in a room
func PresenceKey(roomID, userID string) string {
	return fmt.Sprintf(KeyPresence, roomID, userID)
}
