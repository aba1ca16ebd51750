package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Publisher accepts events for fanout
type Publisher interface {
	Publish(ev Event)
}

// Relay forwards locally published events to other instances
type Relay interface {
	Publish(ctx context.Context, ev Event) error
}

type queued struct {
	event  Event
	remote bool
	// registry mark at publish time; later attachments survive the event
	mark uint64
}

// Bus fans events out to the connections attached to their room. A single
// dispatcher drains the queue, so events leave in the order they were
// published.
type Bus struct {
	registry *Registry
	relay    Relay
	queue    chan queued
	done     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger

	delivered atomic.Int64
	dropped   atomic.Int64
}

// BusOption configures a Bus
type BusOption func(*Bus)

// WithRelay mirrors local events to other instances
func WithRelay(relay Relay) BusOption {
	return func(b *Bus) {
		b.relay = relay
	}
}

func NewBus(registry *Registry, buffer int, logger *zap.Logger, opts ...BusOption) *Bus {
	if buffer <= 0 {
		buffer = 1024
	}
	b := &Bus{
		registry: registry,
		queue:    make(chan queued, buffer),
		done:     make(chan struct{}),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish enqueues an event. It blocks while the queue is full and drops the
// event once the bus is stopped.
func (b *Bus) Publish(ev Event) {
	b.enqueue(queued{event: ev, mark: b.registry.Mark()})
}

// PublishRemote enqueues an event received from another instance. It is
// delivered locally and never relayed again.
func (b *Bus) PublishRemote(ev Event) {
	b.enqueue(queued{event: ev, remote: true, mark: b.registry.Mark()})
}

func (b *Bus) enqueue(q queued) {
	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.queue <- q:
	case <-b.done:
	}
}

// Run dispatches events until ctx is cancelled or Stop is called. Events
// queued at that point are still delivered.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case q := <-b.queue:
			b.dispatch(q)
		case <-ctx.Done():
			b.Stop()
			b.drain()
			return
		case <-b.done:
			b.drain()
			return
		}
	}
}

// drain delivers whatever was queued before the stop
func (b *Bus) drain() {
	for {
		select {
		case q := <-b.queue:
			b.dispatch(q)
		default:
			return
		}
	}
}

// Stop ends the dispatcher. Later publishes are discarded.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}

func (b *Bus) dispatch(q queued) {
	ev := q.event

	frame, err := Encode(ev)
	if err != nil {
		b.logger.Error("Failed to encode event",
			zap.String("type", string(ev.Type())),
			zap.String("room_id", ev.Room()),
			zap.Error(err),
		)
		return
	}

	var conns []Conn
	if t, ok := ev.(Targeted); ok {
		conns = b.registry.UserConnections(ev.Room(), t.Target())
	} else {
		conns = b.registry.Connections(ev.Room())
	}

	for _, conn := range conns {
		if conn.Send(frame) {
			b.delivered.Add(1)
			continue
		}
		b.dropped.Add(1)
		b.logger.Debug("Dropped event for slow connection",
			zap.String("type", string(ev.Type())),
			zap.String("room_id", ev.Room()),
			zap.String("conn_id", conn.ID()),
		)
	}

	// Connections stop receiving a room's events once they are out of it.
	// Attachments made after the event was published belong to a newer
	// membership and are kept.
	switch e := ev.(type) {
	case *UserKicked:
		b.registry.detachUserUpTo(e.RoomID, e.UserID, q.mark)
	case *UserBlocked:
		b.registry.detachUserUpTo(e.RoomID, e.UserID, q.mark)
	case *MemberLeft:
		b.registry.detachUserUpTo(e.RoomID, e.UserID, q.mark)
	case *LiveEnded:
		b.registry.dropRoomUpTo(e.RoomID, q.mark)
	}

	if q.remote || b.relay == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.relay.Publish(ctx, ev); err != nil {
		b.logger.Warn("Failed to relay event",
			zap.String("type", string(ev.Type())),
			zap.String("room_id", ev.Room()),
			zap.Error(err),
		)
	}
}

// BusStats counts deliveries since start
type BusStats struct {
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

func (b *Bus) Stats() BusStats {
	return BusStats{
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Queued:    len(b.queue),
	}
}
