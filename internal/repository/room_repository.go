package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-demo/liveroom/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	pgUniqueViolation     = "23505"
	pgInvalidTextEncoding = "22P02"
)

// RoomRepository is the PostgreSQL RoomStore
type RoomRepository struct {
	db *sqlx.DB
}

func NewRoomRepository(db *sqlx.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

func pgCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// CreateRoom inserts the room and its host membership atomically
func (r *RoomRepository) CreateRoom(ctx context.Context, room *model.Room, host *model.RoomMember) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO rooms (channel_name, name, host_id, status, settings)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		room.ChannelName,
		room.Name,
		room.HostID,
		room.Status,
		room.Settings,
	).Scan(&room.ID, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return ErrRoomAlreadyExists
		}
		return fmt.Errorf("failed to create room: %w", err)
	}

	host.RoomID = room.ID
	if err := insertMember(ctx, tx, host); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit room: %w", err)
	}
	return nil
}

// GetRoom retrieves a room by ID
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	var room model.Room
	query := `SELECT * FROM rooms WHERE id = $1`

	if err := r.db.GetContext(ctx, &room, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgCode(err) == pgInvalidTextEncoding {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room by id: %w", err)
	}

	return &room, nil
}

// DeleteRoom deletes a room. Members and messages cascade.
func (r *RoomRepository) DeleteRoom(ctx context.Context, id string) error {
	query := `DELETE FROM rooms WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		if pgCode(err) == pgInvalidTextEncoding {
			return ErrRoomNotFound
		}
		return fmt.Errorf("failed to delete room: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRoomNotFound
	}

	return nil
}

// InRoomTx runs fn while holding the room row lock. Concurrent transactions
// on the same room queue behind SELECT ... FOR UPDATE.
func (r *RoomRepository) InRoomTx(ctx context.Context, roomID string, fn func(tx RoomTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var room model.Room
	if err := tx.GetContext(ctx, &room, `SELECT * FROM rooms WHERE id = $1 FOR UPDATE`, roomID); err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgCode(err) == pgInvalidTextEncoding {
			return ErrRoomNotFound
		}
		return fmt.Errorf("failed to lock room: %w", err)
	}

	if err := fn(&pgRoomTx{tx: tx, room: &room}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit room transaction: %w", err)
	}
	return nil
}

// ListActive lists active rooms with their joined member count, newest first
func (r *RoomRepository) ListActive(ctx context.Context, limit, offset int) ([]*model.RoomWithViewerCount, error) {
	query := `
		SELECT r.*, COUNT(rm.id) FILTER (WHERE rm.status = 'JOINED') AS viewer_count
		FROM rooms r
		LEFT JOIN room_members rm ON r.id = rm.room_id
		WHERE r.status = 'ACTIVE'
		GROUP BY r.id
		ORDER BY r.created_at DESC
		LIMIT $1 OFFSET $2`

	var rooms []*model.RoomWithViewerCount
	if err := r.db.SelectContext(ctx, &rooms, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list active rooms: %w", err)
	}

	return rooms, nil
}

// ListActiveIDs returns the IDs of every active room
func (r *RoomRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM rooms WHERE status = 'ACTIVE' ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("failed to list active room ids: %w", err)
	}
	return ids, nil
}

// ListJoinedMembers lists joined members, host first then by join time
func (r *RoomRepository) ListJoinedMembers(ctx context.Context, roomID string) ([]*model.RoomMember, error) {
	query := `
		SELECT * FROM room_members
		WHERE room_id = $1 AND status = 'JOINED'
		ORDER BY CASE role WHEN 'HOST' THEN 0 WHEN 'GUEST' THEN 1 ELSE 2 END, joined_at`

	var members []*model.RoomMember
	if err := r.db.SelectContext(ctx, &members, query, roomID); err != nil {
		if pgCode(err) == pgInvalidTextEncoding {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to list room members: %w", err)
	}

	return members, nil
}

// GetMember retrieves a membership in any status
func (r *RoomRepository) GetMember(ctx context.Context, roomID, userID string) (*model.RoomMember, error) {
	return getMember(ctx, r.db, roomID, userID)
}

// CountJoined counts joined members of a room
func (r *RoomRepository) CountJoined(ctx context.Context, roomID string) (int, error) {
	return countMembers(ctx, r.db, roomID, "", model.MemberStatusJoined)
}

// pgRoomTx is a RoomTx bound to a locked room row
type pgRoomTx struct {
	tx   *sqlx.Tx
	room *model.Room
}

func (t *pgRoomTx) Room() *model.Room {
	return t.room
}

func (t *pgRoomTx) UpdateRoom(ctx context.Context, room *model.Room) error {
	query := `
		UPDATE rooms
		SET name = $2, status = $3, settings = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	if err := t.tx.QueryRowxContext(ctx, query,
		room.ID,
		room.Name,
		room.Status,
		room.Settings,
	).Scan(&room.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("failed to update room: %w", err)
	}

	t.room = room
	return nil
}

func (t *pgRoomTx) GetMember(ctx context.Context, userID string) (*model.RoomMember, error) {
	return getMember(ctx, t.tx, t.room.ID, userID)
}

func (t *pgRoomTx) InsertMember(ctx context.Context, member *model.RoomMember) error {
	member.RoomID = t.room.ID
	return insertMember(ctx, t.tx, member)
}

func (t *pgRoomTx) UpdateMember(ctx context.Context, member *model.RoomMember) error {
	query := `
		UPDATE room_members
		SET role = $2, is_muted = $3, status = $4, joined_at = $5, left_at = $6
		WHERE id = $1`

	result, err := t.tx.ExecContext(ctx, query,
		member.ID,
		member.Role,
		member.IsMuted,
		member.Status,
		member.JoinedAt,
		member.LeftAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update room member: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrMemberNotFound
	}

	return nil
}

func (t *pgRoomTx) CountMembers(ctx context.Context, role model.MemberRole, status model.MemberStatus) (int, error) {
	return countMembers(ctx, t.tx, t.room.ID, role, status)
}

func (t *pgRoomTx) CountJoined(ctx context.Context) (int, error) {
	return countMembers(ctx, t.tx, t.room.ID, "", model.MemberStatusJoined)
}

func (t *pgRoomTx) LeaveAll(ctx context.Context, at time.Time) (int, error) {
	query := `
		UPDATE room_members
		SET status = 'LEFT', left_at = $2
		WHERE room_id = $1 AND status = 'JOINED'`

	result, err := t.tx.ExecContext(ctx, query, t.room.ID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to release room members: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

func getMember(ctx context.Context, q sqlx.QueryerContext, roomID, userID string) (*model.RoomMember, error) {
	var member model.RoomMember
	query := `SELECT * FROM room_members WHERE room_id = $1 AND user_id = $2`

	if err := sqlx.GetContext(ctx, q, &member, query, roomID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgCode(err) == pgInvalidTextEncoding {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get room member: %w", err)
	}

	return &member, nil
}

func insertMember(ctx context.Context, q sqlx.QueryerContext, member *model.RoomMember) error {
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO room_members (room_id, user_id, role, is_muted, status, joined_at, left_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := q.QueryRowxContext(ctx, query,
		member.RoomID,
		member.UserID,
		member.Role,
		member.IsMuted,
		member.Status,
		member.JoinedAt,
		member.LeftAt,
	).Scan(&member.ID)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return ErrMemberExists
		}
		return fmt.Errorf("failed to add room member: %w", err)
	}

	return nil
}

func countMembers(ctx context.Context, q sqlx.QueryerContext, roomID string, role model.MemberRole, status model.MemberStatus) (int, error) {
	query := `
		SELECT COUNT(*) FROM room_members
		WHERE room_id = $1 AND status = $2 AND ($3::text = '' OR role = $3::text)`

	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, roomID, status, string(role)); err != nil {
		if pgCode(err) == pgInvalidTextEncoding {
			return 0, ErrRoomNotFound
		}
		return 0, fmt.Errorf("failed to count room members: %w", err)
	}

	return count, nil
}
