package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-demo/liveroom/internal/pkg/cache"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// relayFrame is the pub/sub wire format between instances
type relayFrame struct {
	Instance string          `json:"instance"`
	Type     EventType       `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

// RedisBroker relays room events between server instances over Redis pub/sub
type RedisBroker struct {
	client     *redis.Client
	instanceID string
	logger     *zap.Logger
}

func NewRedisBroker(client *redis.Client, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{
		client:     client,
		instanceID: uuid.New().String(),
		logger:     logger,
	}
}

// InstanceID identifies this process on the relay
func (b *RedisBroker) InstanceID() string {
	return b.instanceID
}

// Publish sends an event to the room channel
func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	data, err := b.encode(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, cache.RoomChannel(ev.Room()), data).Err()
}

func (b *RedisBroker) encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode relay payload: %w", err)
	}
	return json.Marshal(&relayFrame{
		Instance: b.instanceID,
		Type:     ev.Type(),
		Payload:  payload,
	})
}

// decode returns nil for frames this instance published itself
func (b *RedisBroker) decode(data []byte) (Event, error) {
	var frame relayFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to decode relay frame: %w", err)
	}
	if frame.Instance == b.instanceID {
		return nil, nil
	}
	return Decode(frame.Type, frame.Payload)
}

// Subscribe delivers events published by other instances until ctx is done
func (b *RedisBroker) Subscribe(ctx context.Context, deliver func(Event)) error {
	pubsub := b.client.PSubscribe(ctx, cache.ChannelRoomAll)
	defer pubsub.Close()

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to room events: %w", err)
	}

	b.logger.Info("Subscribed to room event relay",
		zap.String("instance_id", b.instanceID),
		zap.String("pattern", cache.ChannelRoomAll),
	)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := b.decode([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("Discarding relay frame",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			if ev != nil {
				deliver(ev)
			}
		}
	}
}
