package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-demo/liveroom/internal/model"
	"github.com/go-demo/liveroom/internal/pkg/cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type fakeConn struct {
	id     string
	userID string
	frames chan []byte
}

func newFakeConn(id, userID string, buffer int) *fakeConn {
	return &fakeConn{id: id, userID: userID, frames: make(chan []byte, buffer)}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Send(frame []byte) bool {
	select {
	case c.frames <- frame:
		return true
	default:
		return false
	}
}

type receivedFrame struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (c *fakeConn) next(t *testing.T) receivedFrame {
	t.Helper()
	select {
	case data := <-c.frames:
		var f receivedFrame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("Failed to decode frame: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatalf("Expected a frame for %s", c.id)
	}
	return receivedFrame{}
}

func (c *fakeConn) expectNone(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.frames:
		t.Errorf("Expected no frame for %s, got %s", c.id, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}

func startBus(t *testing.T, registry *Registry, opts ...BusOption) *Bus {
	t.Helper()
	bus := NewBus(registry, 64, zap.NewNop(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx)
	t.Cleanup(cancel)
	return bus
}

func testRegistry() *Registry {
	return NewRegistry(RetryPolicy{Attempts: 3, Base: time.Millisecond, Ceiling: 4 * time.Millisecond}, zap.NewNop())
}

func TestBus_PreservesOrder(t *testing.T) {
	registry := testRegistry()
	conn := newFakeConn("c1", "viewer", 256)
	registry.Attach(conn, "room-1")
	bus := startBus(t, registry)

	for i := 0; i < 100; i++ {
		bus.Publish(NewViewerCount("room-1", i))
	}

	for i := 0; i < 100; i++ {
		f := conn.next(t)
		var vc ViewerCount
		if err := json.Unmarshal(f.Payload, &vc); err != nil {
			t.Fatalf("Failed to decode payload: %v", err)
		}
		if vc.Count != i {
			t.Fatalf("Expected count %d, got %d", i, vc.Count)
		}
		if vc.RoomID != "room-1" {
			t.Errorf("Expected room_id room-1, got %s", vc.RoomID)
		}
	}
}

func TestBus_RoomScoped(t *testing.T) {
	registry := testRegistry()
	inRoom := newFakeConn("c1", "a", 8)
	elsewhere := newFakeConn("c2", "b", 8)
	registry.Attach(inRoom, "room-1")
	registry.Attach(elsewhere, "room-2")
	bus := startBus(t, registry)

	bus.Publish(NewMemberPromoted("room-1", "a"))

	if f := inRoom.next(t); f.Type != EventMemberPromoted {
		t.Errorf("Expected %s, got %s", EventMemberPromoted, f.Type)
	}
	elsewhere.expectNone(t)
}

func TestBus_TargetedDelivery(t *testing.T) {
	registry := testRegistry()
	target1 := newFakeConn("t1", "guest", 8)
	target2 := newFakeConn("t2", "guest", 8)
	other := newFakeConn("o1", "viewer", 8)
	targetOtherRoom := newFakeConn("t3", "guest", 8)
	registry.Attach(target1, "room-1")
	registry.Attach(target2, "room-1")
	registry.Attach(other, "room-1")
	registry.Attach(targetOtherRoom, "room-2")
	bus := startBus(t, registry)

	cred := &model.MediaCredential{ChannelName: "room_1", UID: 7, Capability: model.CapabilityPublisher, Token: "tok"}
	bus.Publish(NewCredentialUpdate("room-1", "guest", model.MemberRoleGuest, cred))

	for _, c := range []*fakeConn{target1, target2} {
		f := c.next(t)
		if f.Type != EventCredentialUpdate {
			t.Fatalf("Expected credential-update, got %s", f.Type)
		}
		var cu CredentialUpdate
		_ = json.Unmarshal(f.Payload, &cu)
		if cu.Credential == nil || cu.Credential.Token != "tok" {
			t.Errorf("Expected credential token tok, got %+v", cu.Credential)
		}
	}
	other.expectNone(t)
	targetOtherRoom.expectNone(t)
}

func TestBus_DropsWhenConnectionFull(t *testing.T) {
	registry := testRegistry()
	slow := newFakeConn("slow", "a", 1)
	fast := newFakeConn("fast", "b", 16)
	registry.Attach(slow, "room-1")
	registry.Attach(fast, "room-1")
	bus := startBus(t, registry)

	for i := 0; i < 5; i++ {
		bus.Publish(NewViewerCount("room-1", i))
	}
	for i := 0; i < 5; i++ {
		fast.next(t)
	}

	waitFor(t, func() bool {
		stats := bus.Stats()
		return stats.Dropped == 4 && stats.Delivered == 6
	})
}

func TestBus_KickDetachesTarget(t *testing.T) {
	registry := testRegistry()
	target := newFakeConn("t", "bad", 8)
	host := newFakeConn("h", "host", 8)
	registry.Attach(target, "room-1")
	registry.Attach(host, "room-1")
	bus := startBus(t, registry)

	bus.Publish(NewUserKicked("room-1", "bad"))

	if f := target.next(t); f.Type != EventUserKicked {
		t.Errorf("Expected kicked user to receive %s, got %s", EventUserKicked, f.Type)
	}
	host.next(t)
	waitFor(t, func() bool { return !registry.InRoom(target, "room-1") })

	bus.Publish(NewViewerCount("room-1", 1))
	host.next(t)
	target.expectNone(t)
}

func TestBus_LiveEndedDropsRoom(t *testing.T) {
	registry := testRegistry()
	a := newFakeConn("a", "a", 8)
	b := newFakeConn("b", "b", 8)
	registry.Attach(a, "room-1")
	registry.Attach(b, "room-1")
	bus := startBus(t, registry)

	bus.Publish(NewLiveEnded("room-1"))
	a.next(t)
	b.next(t)

	waitFor(t, func() bool { return len(registry.Connections("room-1")) == 0 })
	if len(registry.Rooms(a)) != 0 {
		t.Error("Expected connection to have no rooms")
	}
}

type recordingRelay struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingRelay) Publish(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestBus_RelaysLocalEventsOnly(t *testing.T) {
	registry := testRegistry()
	conn := newFakeConn("c", "u", 8)
	registry.Attach(conn, "room-1")
	relay := &recordingRelay{}
	bus := startBus(t, registry, WithRelay(relay))

	bus.Publish(NewViewerCount("room-1", 1))
	bus.PublishRemote(NewViewerCount("room-1", 2))
	conn.next(t)
	conn.next(t)

	waitFor(t, func() bool { return relay.count() == 1 })
	time.Sleep(20 * time.Millisecond)
	if relay.count() != 1 {
		t.Errorf("Expected only the local event to be relayed, got %d", relay.count())
	}
}

func TestBus_PublishAfterStop(t *testing.T) {
	bus := NewBus(testRegistry(), 1, zap.NewNop())
	bus.Stop()

	done := make(chan struct{})
	go func() {
		bus.Publish(NewLiveEnded("room-1"))
		bus.Publish(NewLiveEnded("room-1"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected publish after stop not to block")
	}
}

func TestRegistry_AttachDetach(t *testing.T) {
	registry := testRegistry()
	c1 := newFakeConn("c1", "u1", 1)
	c2 := newFakeConn("c2", "u1", 1)
	c3 := newFakeConn("c3", "u2", 1)

	registry.Attach(c1, "room-1")
	registry.Attach(c2, "room-1")
	registry.Attach(c3, "room-1")
	registry.Attach(c1, "room-2")

	if n := len(registry.Connections("room-1")); n != 3 {
		t.Errorf("Expected 3 connections, got %d", n)
	}
	if n := len(registry.UserConnections("room-1", "u1")); n != 2 {
		t.Errorf("Expected 2 user connections, got %d", n)
	}
	if n := len(registry.Rooms(c1)); n != 2 {
		t.Errorf("Expected c1 in 2 rooms, got %d", n)
	}

	stats := registry.Stats()
	if stats.Connections != 3 || stats.Users != 2 || stats.Rooms != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	detached := registry.DetachUser("room-1", "u1")
	if len(detached) != 2 {
		t.Errorf("Expected 2 detached connections, got %d", len(detached))
	}
	if !registry.InRoom(c1, "room-2") {
		t.Error("Expected c1 to remain in room-2")
	}

	registry.Detach(c1, "room-2")
	if registry.Stats().Rooms != 1 {
		t.Errorf("Expected empty room to be removed, got %d rooms", registry.Stats().Rooms)
	}
}

func TestRegistry_DisconnectSynthesizesLeaveOnLastConnection(t *testing.T) {
	registry := testRegistry()
	phone := newFakeConn("phone", "u1", 1)
	laptop := newFakeConn("laptop", "u1", 1)
	registry.Attach(phone, "room-1")
	registry.Attach(laptop, "room-1")
	registry.Attach(laptop, "room-2")

	var mu sync.Mutex
	var left []string
	leave := func(ctx context.Context, roomID, userID string) error {
		mu.Lock()
		defer mu.Unlock()
		left = append(left, roomID+"/"+userID)
		return nil
	}

	if rooms := registry.Disconnect(laptop, leave); len(rooms) != 1 || rooms[0] != "room-2" {
		t.Errorf("Expected leave only for room-2, got %v", rooms)
	}
	if rooms := registry.Disconnect(phone, leave); len(rooms) != 1 || rooms[0] != "room-1" {
		t.Errorf("Expected leave for room-1, got %v", rooms)
	}
	if rooms := registry.Disconnect(phone, leave); rooms != nil {
		t.Errorf("Expected second disconnect to be a no-op, got %v", rooms)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := registry.Wait(ctx); err != nil {
		t.Fatalf("Background leaves did not finish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(left) != 2 {
		t.Errorf("Expected 2 leaves, got %v", left)
	}
	if registry.Stats().Connections != 0 {
		t.Error("Expected no connections left")
	}
}

func TestRegistry_DisconnectRetriesTransientFailures(t *testing.T) {
	registry := testRegistry()
	conn := newFakeConn("c", "u1", 1)
	registry.Attach(conn, "room-1")

	var calls int32
	leave := func(ctx context.Context, roomID, userID string) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("Expected a bounded context")
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("store unavailable")
		}
		return nil
	}

	registry.Disconnect(conn, leave)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = registry.Wait(ctx)

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestRegistry_DisconnectGivesUp(t *testing.T) {
	registry := testRegistry()
	conn := newFakeConn("c", "u1", 1)
	registry.Attach(conn, "room-1")

	var calls int32
	registry.Disconnect(conn, func(ctx context.Context, roomID, userID string) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("down")
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = registry.Wait(ctx)

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected attempts to stop at 3, got %d", got)
	}
}

func TestRegistry_DisconnectStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("room not found")
	registry := NewRegistry(RetryPolicy{
		Attempts:  5,
		Base:      time.Millisecond,
		Ceiling:   time.Millisecond,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}, zap.NewNop())
	conn := newFakeConn("c", "u1", 1)
	registry.Attach(conn, "room-1")

	var calls int32
	registry.Disconnect(conn, func(ctx context.Context, roomID, userID string) error {
		atomic.AddInt32(&calls, 1)
		return fmt.Errorf("leave: %w", permanent)
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = registry.Wait(ctx)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected a single attempt, got %d", got)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{Base: 100 * time.Millisecond, Ceiling: time.Second}

	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{0, 50 * time.Millisecond, 100 * time.Millisecond},
		{1, 100 * time.Millisecond, 200 * time.Millisecond},
		{2, 200 * time.Millisecond, 400 * time.Millisecond},
		{10, 500 * time.Millisecond, time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			for i := 0; i < 20; i++ {
				d := p.Backoff(tt.attempt)
				if d < tt.min || d > tt.max {
					t.Errorf("Expected backoff in [%v, %v], got %v", tt.min, tt.max, d)
				}
			}
		})
	}
}

func TestDecode(t *testing.T) {
	msg := &model.Message{ID: "m1", RoomID: "room-1", SenderID: "u1", Text: "hi", Seq: 4}
	data, err := json.Marshal(NewChatSent(msg))
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	ev, err := Decode(EventChatSent, data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	sent, ok := ev.(*ChatSent)
	if !ok {
		t.Fatalf("Expected *ChatSent, got %T", ev)
	}
	if sent.Room() != "room-1" || sent.Message.Text != "hi" || sent.Message.Seq != 4 {
		t.Errorf("Unexpected decoded event %+v", sent.Message)
	}

	if _, err := Decode("typing", data); err == nil {
		t.Error("Expected error for unknown event type")
	}
}

func TestRedisBroker_SkipsOwnFrames(t *testing.T) {
	local := NewRedisBroker(nil, zap.NewNop())
	remote := NewRedisBroker(nil, zap.NewNop())

	data, err := local.encode(NewUserMuted("room-1", "u1", true))
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	own, err := local.decode(data)
	if err != nil || own != nil {
		t.Errorf("Expected own frame to be skipped, got %v %v", own, err)
	}

	ev, err := remote.decode(data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	muted, ok := ev.(*UserMuted)
	if !ok || !muted.IsMuted || muted.UserID != "u1" || muted.Room() != "room-1" {
		t.Errorf("Unexpected relayed event %+v", ev)
	}

	if _, err := remote.decode([]byte("not json")); err == nil {
		t.Error("Expected error for malformed frame")
	}
}

func TestBus_StaleLeaveKeepsRejoinedConnection(t *testing.T) {
	registry := testRegistry()
	conn := newFakeConn("c", "guest", 8)
	other := newFakeConn("o", "guest", 8)
	registry.Attach(conn, "room-1")
	registry.Attach(other, "room-1")

	bus := NewBus(registry, 8, zap.NewNop())

	// The leave is published while the dispatcher is behind, then the user
	// comes back on one connection before the event is delivered
	bus.Publish(NewMemberLeft("room-1", "guest"))
	registry.Detach(conn, "room-1")
	registry.Attach(conn, "room-1")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bus.Run(ctx)

	if f := conn.next(t); f.Type != EventMemberLeft {
		t.Errorf("Expected %s, got %s", EventMemberLeft, f.Type)
	}
	waitFor(t, func() bool { return !registry.InRoom(other, "room-1") })

	if !registry.InRoom(conn, "room-1") {
		t.Fatal("Expected the re-attached connection to stay in the room")
	}

	var released []string
	var mu sync.Mutex
	rooms := registry.Disconnect(conn, func(ctx context.Context, roomID, userID string) error {
		mu.Lock()
		defer mu.Unlock()
		released = append(released, roomID)
		return nil
	})
	if len(rooms) != 1 || rooms[0] != "room-1" {
		t.Errorf("Expected disconnect to release room-1, got %v", rooms)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := registry.Wait(waitCtx); err != nil {
		t.Fatalf("Background leaves did not finish: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(released) != 1 {
		t.Errorf("Expected one synthesized leave, got %v", released)
	}
}

func TestBus_StaleLiveEndedKeepsLaterAttachments(t *testing.T) {
	registry := testRegistry()
	early := newFakeConn("early", "a", 8)
	registry.Attach(early, "room-1")

	bus := NewBus(registry, 8, zap.NewNop())
	bus.Publish(NewLiveEnded("room-1"))

	late := newFakeConn("late", "b", 8)
	registry.Attach(late, "room-1")

	bus.Stop()
	bus.Run(context.Background())

	if registry.InRoom(early, "room-1") {
		t.Error("Expected the earlier attachment to be dropped")
	}
	if !registry.InRoom(late, "room-1") {
		t.Error("Expected the later attachment to remain")
	}
}

func TestBus_DrainsOnCancel(t *testing.T) {
	registry := testRegistry()
	conn := newFakeConn("c", "u", 8)
	registry.Attach(conn, "room-1")

	bus := NewBus(registry, 8, zap.NewNop())
	for i := 0; i < 3; i++ {
		bus.Publish(NewViewerCount("room-1", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Run(ctx)

	for i := 0; i < 3; i++ {
		if f := conn.next(t); f.Type != EventViewerCount {
			t.Errorf("Expected %s, got %s", EventViewerCount, f.Type)
		}
	}
	if q := bus.Stats().Queued; q != 0 {
		t.Errorf("Expected empty queue, got %d", q)
	}
}

// memoryPresence is a Presence shared by registries standing in for
// separate instances
type memoryPresence struct {
	mu       sync.Mutex
	entries  map[string]map[string]bool
	countErr error
	adds     int
}

func newMemoryPresence() *memoryPresence {
	return &memoryPresence{entries: make(map[string]map[string]bool)}
}

func (p *memoryPresence) Add(ctx context.Context, roomID, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := roomID + "/" + userID
	if p.entries[key] == nil {
		p.entries[key] = make(map[string]bool)
	}
	p.entries[key][connID] = true
	p.adds++
	return nil
}

func (p *memoryPresence) Remove(ctx context.Context, roomID, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries[roomID+"/"+userID], connID)
	return nil
}

func (p *memoryPresence) Count(ctx context.Context, roomID, userID string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.countErr != nil {
		return 0, p.countErr
	}
	return int64(len(p.entries[roomID+"/"+userID])), nil
}

func (p *memoryPresence) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]map[string]bool)
}

type leaveRecorder struct {
	mu   sync.Mutex
	left []string
}

func (l *leaveRecorder) leave(ctx context.Context, roomID, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.left = append(l.left, roomID+"/"+userID)
	return nil
}

func (l *leaveRecorder) calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.left...)
}

func waitRegistry(t *testing.T, registry *Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := registry.Wait(ctx); err != nil {
		t.Fatalf("Background leaves did not finish: %v", err)
	}
}

func TestRegistry_DisconnectKeepsUserConnectedElsewhere(t *testing.T) {
	presence := newMemoryPresence()
	instanceA := NewRegistry(RetryPolicy{Attempts: 1}, zap.NewNop(), WithPresence(presence))
	instanceB := NewRegistry(RetryPolicy{Attempts: 1}, zap.NewNop(), WithPresence(presence))

	phone := newFakeConn("phone", "u1", 1)
	laptop := newFakeConn("laptop", "u1", 1)
	instanceA.Attach(phone, "room-1")
	instanceB.Attach(laptop, "room-1")

	leaves := &leaveRecorder{}

	if rooms := instanceA.Disconnect(phone, leaves.leave); len(rooms) != 1 {
		t.Errorf("Expected room-1 to have no local connection left, got %v", rooms)
	}
	waitRegistry(t, instanceA)
	if got := leaves.calls(); len(got) != 0 {
		t.Errorf("Expected no leave while the laptop is connected, got %v", got)
	}

	instanceB.Disconnect(laptop, leaves.leave)
	waitRegistry(t, instanceB)
	if got := leaves.calls(); len(got) != 1 || got[0] != "room-1/u1" {
		t.Errorf("Expected one leave after the last connection, got %v", got)
	}

	if n, _ := presence.Count(context.Background(), "room-1", "u1"); n != 0 {
		t.Errorf("Expected presence cleared, got %d", n)
	}
}

func TestRegistry_PresenceFailureStillLeaves(t *testing.T) {
	presence := newMemoryPresence()
	presence.countErr = errors.New("redis down")
	registry := NewRegistry(RetryPolicy{Attempts: 1}, zap.NewNop(), WithPresence(presence))

	conn := newFakeConn("c", "u1", 1)
	registry.Attach(conn, "room-1")

	leaves := &leaveRecorder{}
	registry.Disconnect(conn, leaves.leave)
	waitRegistry(t, registry)

	if got := leaves.calls(); len(got) != 1 {
		t.Errorf("Expected the membership to be released, got %v", got)
	}
}

func TestRegistry_DetachClearsPresence(t *testing.T) {
	presence := newMemoryPresence()
	registry := NewRegistry(RetryPolicy{Attempts: 1}, zap.NewNop(), WithPresence(presence))

	a := newFakeConn("a", "u1", 1)
	b := newFakeConn("b", "u2", 1)
	registry.Attach(a, "room-1")
	registry.Attach(b, "room-1")

	registry.Detach(a, "room-1")
	if n, _ := presence.Count(context.Background(), "room-1", "u1"); n != 0 {
		t.Errorf("Expected u1 presence cleared on detach, got %d", n)
	}

	registry.DropRoom("room-1")
	if n, _ := presence.Count(context.Background(), "room-1", "u2"); n != 0 {
		t.Errorf("Expected u2 presence cleared on drop, got %d", n)
	}
}

func TestRegistry_RefreshPresence(t *testing.T) {
	presence := newMemoryPresence()
	registry := NewRegistry(RetryPolicy{Attempts: 1}, zap.NewNop(), WithPresence(presence))

	conn := newFakeConn("c", "u1", 1)
	registry.Attach(conn, "room-1")
	registry.Attach(conn, "room-2")

	presence.reset()
	registry.RefreshPresence(context.Background())

	for _, roomID := range []string{"room-1", "room-2"} {
		if n, _ := presence.Count(context.Background(), roomID, "u1"); n != 1 {
			t.Errorf("Expected refreshed presence in %s, got %d", roomID, n)
		}
	}
}

func TestRedisPresence(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping test, could not connect to redis: %v", err)
	}

	presence := NewRedisPresence(client, time.Minute)
	roomID := fmt.Sprintf("presence-test-%d", time.Now().UnixNano())
	defer client.Del(context.Background(), cache.PresenceKey(roomID, "u1"))

	if err := presence.Add(ctx, roomID, "u1", "c1"); err != nil {
		t.Fatalf("Failed to add presence: %v", err)
	}
	if err := presence.Add(ctx, roomID, "u1", "c2"); err != nil {
		t.Fatalf("Failed to add presence: %v", err)
	}
	if n, err := presence.Count(ctx, roomID, "u1"); err != nil || n != 2 {
		t.Errorf("Expected 2 connections, got %d (%v)", n, err)
	}

	if err := presence.Remove(ctx, roomID, "u1", "c1"); err != nil {
		t.Fatalf("Failed to remove presence: %v", err)
	}
	if n, _ := presence.Count(ctx, roomID, "u1"); n != 1 {
		t.Errorf("Expected 1 connection, got %d", n)
	}

	// An entry nobody refreshed is not counted
	stale := time.Now().Add(-2 * time.Minute).Unix()
	client.ZAdd(ctx, cache.PresenceKey(roomID, "u1"), redis.Z{Score: float64(stale), Member: "crashed"})
	if n, _ := presence.Count(ctx, roomID, "u1"); n != 1 {
		t.Errorf("Expected stale entry to be ignored, got %d", n)
	}
}
