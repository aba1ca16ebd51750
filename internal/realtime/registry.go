package realtime

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Conn is one live client connection
type Conn interface {
	ID() string
	UserID() string
	// Send queues a frame without blocking and reports whether it was accepted
	Send(frame []byte) bool
}

// LeaveFunc releases a user's membership in a room
type LeaveFunc func(ctx context.Context, roomID, userID string) error

// RetryPolicy controls how synthesized leaves are retried
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Ceiling  time.Duration
	Timeout  time.Duration // per attempt
	// Retryable reports whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 5,
		Base:     200 * time.Millisecond,
		Ceiling:  10 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Backoff returns the delay before retry number attempt (0-based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt && d < p.Ceiling; i++ {
		d *= 2
	}
	if d > p.Ceiling {
		d = p.Ceiling
	}
	if d <= 0 {
		return 0
	}
	// Equal jitter keeps at least half the delay
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// Stats is a snapshot of the registry
type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithPresence shares attachments with other instances, so a disconnect
// only releases a membership when the user has no live connection anywhere
func WithPresence(presence Presence) RegistryOption {
	return func(r *Registry) {
		r.presence = presence
	}
}

// Registry tracks which connections are attached to which rooms. Every
// attachment carries the sequence number it was made at.
type Registry struct {
	mu    sync.RWMutex
	seq   uint64
	conns map[Conn]map[string]uint64 // conn -> room ID -> attach seq
	rooms map[string]map[Conn]uint64 // room ID -> conn -> attach seq

	retry    RetryPolicy
	presence Presence
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewRegistry(retry RetryPolicy, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if retry.Attempts <= 0 {
		retry.Attempts = 1
	}
	if retry.Timeout <= 0 {
		retry.Timeout = DefaultRetryPolicy().Timeout
	}
	r := &Registry{
		conns:  make(map[Conn]map[string]uint64),
		rooms:  make(map[string]map[Conn]uint64),
		retry:  retry,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register tracks a connection that is not yet in any room
func (r *Registry) Register(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn]; !ok {
		r.conns[conn] = make(map[string]uint64)
	}
}

// Mark returns the sequence number of the latest attachment. Attachments made
// after the call compare greater.
func (r *Registry) Mark() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// Attach adds a connection to a room
func (r *Registry) Attach(conn Conn, roomID string) {
	r.mu.Lock()
	r.seq++
	if r.conns[conn] == nil {
		r.conns[conn] = make(map[string]uint64)
	}
	r.conns[conn][roomID] = r.seq

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[Conn]uint64)
	}
	r.rooms[roomID][conn] = r.seq
	r.mu.Unlock()

	r.presenceAdd(roomID, conn)
}

// Detach removes a connection from a room
func (r *Registry) Detach(conn Conn, roomID string) {
	r.mu.Lock()
	_, attached := r.rooms[roomID][conn]
	r.detachLocked(conn, roomID)
	r.mu.Unlock()

	if attached {
		r.presenceRemove(roomID, conn)
	}
}

func (r *Registry) detachLocked(conn Conn, roomID string) {
	if rooms, ok := r.conns[conn]; ok {
		delete(rooms, roomID)
	}
	if conns, ok := r.rooms[roomID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// DetachUser removes every connection of a user from a room and returns them
func (r *Registry) DetachUser(roomID, userID string) []Conn {
	return r.detachUserUpTo(roomID, userID, ^uint64(0))
}

// detachUserUpTo only detaches attachments made at or before mark, so a
// connection that re-joined after the event was published stays attached
func (r *Registry) detachUserUpTo(roomID, userID string, mark uint64) []Conn {
	r.mu.Lock()
	var detached []Conn
	for conn, seq := range r.rooms[roomID] {
		if conn.UserID() == userID && seq <= mark {
			detached = append(detached, conn)
		}
	}
	for _, conn := range detached {
		r.detachLocked(conn, roomID)
	}
	r.mu.Unlock()

	for _, conn := range detached {
		r.presenceRemove(roomID, conn)
	}
	return detached
}

// DropRoom detaches every connection from a room
func (r *Registry) DropRoom(roomID string) {
	r.dropRoomUpTo(roomID, ^uint64(0))
}

func (r *Registry) dropRoomUpTo(roomID string, mark uint64) {
	r.mu.Lock()
	var dropped []Conn
	for conn, seq := range r.rooms[roomID] {
		if seq <= mark {
			dropped = append(dropped, conn)
		}
	}
	for _, conn := range dropped {
		r.detachLocked(conn, roomID)
	}
	r.mu.Unlock()

	for _, conn := range dropped {
		r.presenceRemove(roomID, conn)
	}
}

// Connections returns the connections attached to a room
func (r *Registry) Connections(roomID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.rooms[roomID]))
	for conn := range r.rooms[roomID] {
		conns = append(conns, conn)
	}
	return conns
}

// UserConnections returns a user's connections attached to a room
func (r *Registry) UserConnections(roomID, userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []Conn
	for conn := range r.rooms[roomID] {
		if conn.UserID() == userID {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Rooms returns the rooms a connection is attached to
func (r *Registry) Rooms(conn Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.conns[conn]))
	for roomID := range r.conns[conn] {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// InRoom reports whether a connection is attached to a room
func (r *Registry) InRoom(conn Conn, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[conn][roomID]
	return ok
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make(map[string]struct{})
	for conn := range r.conns {
		users[conn.UserID()] = struct{}{}
	}
	return Stats{
		Connections: len(r.conns),
		Users:       len(users),
		Rooms:       len(r.rooms),
	}
}

// Disconnect forgets a connection. For every room where it was the user's
// last local connection, leave runs in the background with retries, unless
// presence shows the user still connected on another instance. It returns
// the rooms where this was the last local connection.
func (r *Registry) Disconnect(conn Conn, leave LeaveFunc) []string {
	r.mu.Lock()
	rooms, ok := r.conns[conn]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.conns, conn)

	var (
		orphaned []string
		shared   []string
	)
	for roomID := range rooms {
		r.detachLocked(conn, roomID)
		if r.userInRoomLocked(roomID, conn.UserID()) {
			shared = append(shared, roomID)
		} else {
			orphaned = append(orphaned, roomID)
		}
	}
	r.mu.Unlock()

	for _, roomID := range shared {
		r.presenceRemove(roomID, conn)
	}

	if leave == nil && r.presence == nil {
		return orphaned
	}
	for _, roomID := range orphaned {
		r.wg.Add(1)
		go r.release(leave, roomID, conn)
	}
	return orphaned
}

func (r *Registry) userInRoomLocked(roomID, userID string) bool {
	for other := range r.rooms[roomID] {
		if other.UserID() == userID {
			return true
		}
	}
	return false
}

// release drops a departed connection's presence and leaves the room when
// no other instance still holds a connection for the user
func (r *Registry) release(leave LeaveFunc, roomID string, conn Conn) {
	defer r.wg.Done()

	if r.presence != nil {
		r.presenceRemove(roomID, conn)

		ctx, cancel := context.WithTimeout(context.Background(), r.retry.Timeout)
		remaining, err := r.presence.Count(ctx, roomID, conn.UserID())
		cancel()

		switch {
		case err != nil:
			r.logger.Warn("Presence lookup failed, releasing membership",
				zap.String("room_id", roomID),
				zap.String("user_id", conn.UserID()),
				zap.Error(err),
			)
		case remaining > 0:
			r.logger.Debug("User still connected on another instance",
				zap.String("room_id", roomID),
				zap.String("user_id", conn.UserID()),
				zap.Int64("connections", remaining),
			)
			return
		}
	}

	if leave != nil {
		r.leaveWithRetry(leave, roomID, conn.UserID())
	}
}

func (r *Registry) leaveWithRetry(leave LeaveFunc, roomID, userID string) {
	var err error
	for attempt := 0; attempt < r.retry.Attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(r.retry.Backoff(attempt - 1))
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.retry.Timeout)
		err = leave(ctx, roomID, userID)
		cancel()

		if err == nil {
			r.logger.Debug("Released membership of disconnected user",
				zap.String("room_id", roomID),
				zap.String("user_id", userID),
				zap.Int("attempt", attempt+1),
			)
			return
		}

		if r.retry.Retryable != nil && !r.retry.Retryable(err) {
			r.logger.Warn("Leave on disconnect rejected",
				zap.String("room_id", roomID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			return
		}

		r.logger.Warn("Leave on disconnect failed, retrying",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	r.logger.Error("Leave on disconnect gave up",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.Int("attempts", r.retry.Attempts),
		zap.Bool("alert", true),
		zap.Error(err),
	)
}

func (r *Registry) presenceAdd(roomID string, conn Conn) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.retry.Timeout)
	defer cancel()

	if err := r.presence.Add(ctx, roomID, conn.UserID(), conn.ID()); err != nil {
		r.logger.Warn("Failed to record presence",
			zap.String("room_id", roomID),
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
		)
	}
}

func (r *Registry) presenceRemove(roomID string, conn Conn) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.retry.Timeout)
	defer cancel()

	if err := r.presence.Remove(ctx, roomID, conn.UserID(), conn.ID()); err != nil {
		r.logger.Warn("Failed to clear presence",
			zap.String("room_id", roomID),
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
		)
	}
}

// RefreshPresence re-records every local attachment so entries of live
// connections do not expire
func (r *Registry) RefreshPresence(ctx context.Context) {
	if r.presence == nil {
		return
	}

	type attachment struct {
		roomID string
		conn   Conn
	}
	r.mu.RLock()
	var all []attachment
	for roomID, conns := range r.rooms {
		for conn := range conns {
			all = append(all, attachment{roomID: roomID, conn: conn})
		}
	}
	r.mu.RUnlock()

	for _, a := range all {
		if err := r.presence.Add(ctx, a.roomID, a.conn.UserID(), a.conn.ID()); err != nil {
			r.logger.Warn("Failed to refresh presence",
				zap.String("room_id", a.roomID),
				zap.String("conn_id", a.conn.ID()),
				zap.Error(err),
			)
		}
	}
}

// RunPresence refreshes presence every interval until ctx is done
func (r *Registry) RunPresence(ctx context.Context, interval time.Duration) {
	if r.presence == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RefreshPresence(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Wait blocks until background leaves finish or ctx is done
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
