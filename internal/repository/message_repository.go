package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-demo/liveroom/internal/model"
	"github.com/jmoiron/sqlx"
)

type MessageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create creates a new message
func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) error {
	query := `
		INSERT INTO messages (room_id, sender_id, text)
		VALUES ($1, $2, $3)
		RETURNING id, seq, created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		msg.RoomID,
		msg.SenderID,
		msg.Text,
	).Scan(&msg.ID, &msg.Seq, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		if pgCode(err) == pgInvalidTextEncoding {
			return ErrRoomNotFound
		}
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

// GetByID retrieves a message by ID
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	query := `SELECT * FROM messages WHERE id = $1`

	if err := r.db.GetContext(ctx, &msg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgCode(err) == pgInvalidTextEncoding {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message by id: %w", err)
	}

	return &msg, nil
}

// Edit replaces the text of a live message and flags it as edited
func (r *MessageRepository) Edit(ctx context.Context, id, text string) (*model.Message, error) {
	query := `
		UPDATE messages
		SET text = $2, is_edited = true, updated_at = NOW()
		WHERE id = $1 AND is_deleted = false
		RETURNING *`

	return r.updateOne(ctx, "edit", query, id, text)
}

// SoftDelete marks a message as deleted. The row stays in history.
func (r *MessageRepository) SoftDelete(ctx context.Context, id string) (*model.Message, error) {
	query := `
		UPDATE messages
		SET is_deleted = true, updated_at = NOW()
		WHERE id = $1
		RETURNING *`

	return r.updateOne(ctx, "soft delete", query, id)
}

func (r *MessageRepository) updateOne(ctx context.Context, op, query string, args ...interface{}) (*model.Message, error) {
	var msg model.Message
	if err := r.db.GetContext(ctx, &msg, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgCode(err) == pgInvalidTextEncoding {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to %s message: %w", op, err)
	}
	return &msg, nil
}

// ListByRoomID returns the full history of a room in creation order,
// soft-deleted messages included
func (r *MessageRepository) ListByRoomID(ctx context.Context, roomID string) ([]*model.Message, error) {
	query := `SELECT * FROM messages WHERE room_id = $1 ORDER BY seq ASC`

	var messages []*model.Message
	if err := r.db.SelectContext(ctx, &messages, query, roomID); err != nil {
		if pgCode(err) == pgInvalidTextEncoding {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return messages, nil
}

// DeleteByRoomID removes a room's history when the room itself is deleted
func (r *MessageRepository) DeleteByRoomID(ctx context.Context, roomID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE room_id = $1`, roomID); err != nil {
		if pgCode(err) == pgInvalidTextEncoding {
			return nil
		}
		return fmt.Errorf("failed to delete room messages: %w", err)
	}
	return nil
}
