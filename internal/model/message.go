package model

import "time"

// Message is a chat line in a room. Seq orders messages by creation.
type Message struct {
	ID        string    `db:"id" json:"id"`
	Seq       int64     `db:"seq" json:"seq"`
	RoomID    string    `db:"room_id" json:"room_id"`
	SenderID  string    `db:"sender_id" json:"sender_id"`
	Text      string    `db:"text" json:"text"`
	IsEdited  bool      `db:"is_edited" json:"is_edited"`
	IsDeleted bool      `db:"is_deleted" json:"is_deleted"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Clone returns a copy safe to mutate
func (m *Message) Clone() *Message {
	c := *m
	return &c
}
