package repository

import (
	"context"
	"errors"
	"time"

	"github.com/go-demo/liveroom/internal/model"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomAlreadyExists = errors.New("room already exists")
	ErrMemberNotFound    = errors.New("member not found")
	ErrMemberExists      = errors.New("member already exists")
	ErrMessageNotFound   = errors.New("message not found")
)

// RoomTx is a unit of work scoped to one locked room. Nothing written through
// it is visible to other callers until the enclosing InRoomTx commits.
type RoomTx interface {
	// Room returns the locked room row
	Room() *model.Room
	UpdateRoom(ctx context.Context, room *model.Room) error

	GetMember(ctx context.Context, userID string) (*model.RoomMember, error)
	InsertMember(ctx context.Context, member *model.RoomMember) error
	UpdateMember(ctx context.Context, member *model.RoomMember) error
	CountMembers(ctx context.Context, role model.MemberRole, status model.MemberStatus) (int, error)
	CountJoined(ctx context.Context) (int, error)
	// LeaveAll moves every JOINED member to LEFT and returns how many changed
	LeaveAll(ctx context.Context, at time.Time) (int, error)
}

// RoomStore is the source of truth for rooms and memberships
type RoomStore interface {
	// CreateRoom inserts the room and its host membership atomically
	CreateRoom(ctx context.Context, room *model.Room, host *model.RoomMember) error
	GetRoom(ctx context.Context, id string) (*model.Room, error)
	DeleteRoom(ctx context.Context, id string) error
	// InRoomTx locks the room and runs fn; fn returning an error rolls everything back
	InRoomTx(ctx context.Context, roomID string, fn func(tx RoomTx) error) error
	ListActive(ctx context.Context, limit, offset int) ([]*model.RoomWithViewerCount, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
	ListJoinedMembers(ctx context.Context, roomID string) ([]*model.RoomMember, error)
	GetMember(ctx context.Context, roomID, userID string) (*model.RoomMember, error)
	CountJoined(ctx context.Context, roomID string) (int, error)
}

// MessageStore is the append-only chat log
type MessageStore interface {
	Create(ctx context.Context, msg *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	// Edit replaces the text and sets the edited flag
	Edit(ctx context.Context, id, text string) (*model.Message, error)
	// SoftDelete sets the deleted flag and keeps the row
	SoftDelete(ctx context.Context, id string) (*model.Message, error)
	ListByRoomID(ctx context.Context, roomID string) ([]*model.Message, error)
	DeleteByRoomID(ctx context.Context, roomID string) error
}
