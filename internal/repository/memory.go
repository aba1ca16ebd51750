package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/go-demo/liveroom/internal/model"
	"github.com/go-demo/liveroom/internal/pkg/keylock"
	"github.com/google/uuid"
)

// MemoryRoomStore is an in-process RoomStore. Transactions on one room are
// serialized by a per-room mutex and staged on copies, then published under
// the store lock in a single step.
type MemoryRoomStore struct {
	mu       sync.RWMutex
	rooms    map[string]*model.Room
	members  map[string]map[string]*model.RoomMember // room ID -> user ID
	channels map[string]string                       // channel name -> room ID

	locks *keylock.Locks
}

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms:    make(map[string]*model.Room),
		members:  make(map[string]map[string]*model.RoomMember),
		channels: make(map[string]string),
		locks:    keylock.New(),
	}
}

func (s *MemoryRoomStore) CreateRoom(ctx context.Context, room *model.Room, host *model.RoomMember) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.channels[room.ChannelName]; exists {
		return ErrRoomAlreadyExists
	}

	now := time.Now().UTC()
	room.ID = uuid.New().String()
	room.CreatedAt = now
	room.UpdatedAt = now

	host.ID = uuid.New().String()
	host.RoomID = room.ID
	if host.JoinedAt.IsZero() {
		host.JoinedAt = now
	}

	s.rooms[room.ID] = room.Clone()
	s.members[room.ID] = map[string]*model.RoomMember{host.UserID: host.Clone()}
	s.channels[room.ChannelName] = room.ID
	return nil
}

func (s *MemoryRoomStore) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (s *MemoryRoomStore) DeleteRoom(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	delete(s.channels, room.ChannelName)
	delete(s.members, id)
	delete(s.rooms, id)
	return nil
}

func (s *MemoryRoomStore) InRoomTx(ctx context.Context, roomID string, fn func(tx RoomTx) error) error {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.RUnlock()
		return ErrRoomNotFound
	}
	tx := &memoryRoomTx{
		room:    room.Clone(),
		members: make(map[string]*model.RoomMember, len(s.members[roomID])),
	}
	for userID, m := range s.members[roomID] {
		tx.members[userID] = m.Clone()
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return ErrRoomNotFound
	}
	s.rooms[roomID] = tx.room
	s.members[roomID] = tx.members
	return nil
}

func (s *MemoryRoomStore) ListActive(ctx context.Context, limit, offset int) ([]*model.RoomWithViewerCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rooms []*model.RoomWithViewerCount
	for id, room := range s.rooms {
		if !room.IsActive() {
			continue
		}
		rooms = append(rooms, &model.RoomWithViewerCount{
			Room:        *room.Clone(),
			ViewerCount: countIn(s.members[id], "", model.MemberStatusJoined),
		})
	}

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})

	if offset >= len(rooms) {
		return []*model.RoomWithViewerCount{}, nil
	}
	rooms = rooms[offset:]
	if limit > 0 && limit < len(rooms) {
		rooms = rooms[:limit]
	}
	return rooms, nil
}

func (s *MemoryRoomStore) ListActiveIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*model.Room
	for _, room := range s.rooms {
		if room.IsActive() {
			active = append(active, room)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	ids := make([]string, 0, len(active))
	for _, room := range active {
		ids = append(ids, room.ID)
	}
	return ids, nil
}

func (s *MemoryRoomStore) ListJoinedMembers(ctx context.Context, roomID string) ([]*model.RoomMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := []*model.RoomMember{}
	for _, m := range s.members[roomID] {
		if m.IsJoined() {
			members = append(members, m.Clone())
		}
	}

	sort.Slice(members, func(i, j int) bool {
		ri, rj := roleRank(members[i].Role), roleRank(members[j].Role)
		if ri != rj {
			return ri < rj
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

func (s *MemoryRoomStore) GetMember(ctx context.Context, roomID, userID string) (*model.RoomMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[roomID][userID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryRoomStore) CountJoined(ctx context.Context, roomID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return countIn(s.members[roomID], "", model.MemberStatusJoined), nil
}

func roleRank(role model.MemberRole) int {
	switch role {
	case model.MemberRoleHost:
		return 0
	case model.MemberRoleGuest:
		return 1
	default:
		return 2
	}
}

func countIn(members map[string]*model.RoomMember, role model.MemberRole, status model.MemberStatus) int {
	n := 0
	for _, m := range members {
		if m.Status == status && (role == "" || m.Role == role) {
			n++
		}
	}
	return n
}

// memoryRoomTx stages changes on private copies of one room's state
type memoryRoomTx struct {
	room    *model.Room
	members map[string]*model.RoomMember
}

func (t *memoryRoomTx) Room() *model.Room {
	return t.room.Clone()
}

func (t *memoryRoomTx) UpdateRoom(ctx context.Context, room *model.Room) error {
	room.UpdatedAt = time.Now().UTC()
	t.room = room.Clone()
	return nil
}

func (t *memoryRoomTx) GetMember(ctx context.Context, userID string) (*model.RoomMember, error) {
	m, ok := t.members[userID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	return m.Clone(), nil
}

func (t *memoryRoomTx) InsertMember(ctx context.Context, member *model.RoomMember) error {
	if _, exists := t.members[member.UserID]; exists {
		return ErrMemberExists
	}
	member.ID = uuid.New().String()
	member.RoomID = t.room.ID
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}
	t.members[member.UserID] = member.Clone()
	return nil
}

func (t *memoryRoomTx) UpdateMember(ctx context.Context, member *model.RoomMember) error {
	if _, ok := t.members[member.UserID]; !ok {
		return ErrMemberNotFound
	}
	t.members[member.UserID] = member.Clone()
	return nil
}

func (t *memoryRoomTx) CountMembers(ctx context.Context, role model.MemberRole, status model.MemberStatus) (int, error) {
	return countIn(t.members, role, status), nil
}

func (t *memoryRoomTx) CountJoined(ctx context.Context) (int, error) {
	return countIn(t.members, "", model.MemberStatusJoined), nil
}

func (t *memoryRoomTx) LeaveAll(ctx context.Context, at time.Time) (int, error) {
	n := 0
	for _, m := range t.members {
		if m.IsJoined() {
			m.Status = model.MemberStatusLeft
			m.LeftAt = sql.NullTime{Time: at, Valid: true}
			n++
		}
	}
	return n, nil
}

// MemoryMessageStore is an in-process MessageStore
type MemoryMessageStore struct {
	mu       sync.RWMutex
	seq      int64
	messages map[string]*model.Message
	byRoom   map[string][]string
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		messages: make(map[string]*model.Message),
		byRoom:   make(map[string][]string),
	}
}

func (s *MemoryMessageStore) Create(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	now := time.Now().UTC()
	msg.ID = uuid.New().String()
	msg.Seq = s.seq
	msg.CreatedAt = now
	msg.UpdatedAt = now

	s.messages[msg.ID] = msg.Clone()
	s.byRoom[msg.RoomID] = append(s.byRoom[msg.RoomID], msg.ID)
	return nil
}

func (s *MemoryMessageStore) GetByID(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return msg.Clone(), nil
}

func (s *MemoryMessageStore) Edit(ctx context.Context, id, text string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || msg.IsDeleted {
		return nil, ErrMessageNotFound
	}
	msg.Text = text
	msg.IsEdited = true
	msg.UpdatedAt = time.Now().UTC()
	return msg.Clone(), nil
}

func (s *MemoryMessageStore) SoftDelete(ctx context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	msg.IsDeleted = true
	msg.UpdatedAt = time.Now().UTC()
	return msg.Clone(), nil
}

func (s *MemoryMessageStore) ListByRoomID(ctx context.Context, roomID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byRoom[roomID]
	messages := make([]*model.Message, 0, len(ids))
	for _, id := range ids {
		messages = append(messages, s.messages[id].Clone())
	}
	return messages, nil
}

func (s *MemoryMessageStore) DeleteByRoomID(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byRoom[roomID] {
		delete(s.messages, id)
	}
	delete(s.byRoom, roomID)
	return nil
}
