package response

import (
	"time"

	"github.com/go-demo/liveroom/internal/model"
)

// MessageResponse represents a message response. Deleted messages keep their
// place in the history with the text withheld.
type MessageResponse struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	RoomID    string `json:"room_id"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
	IsEdited  bool   `json:"is_edited"`
	IsDeleted bool   `json:"is_deleted"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// NewMessageResponse creates a message response from model
func NewMessageResponse(m *model.Message) *MessageResponse {
	text := m.Text
	if m.IsDeleted {
		text = ""
	}

	return &MessageResponse{
		ID:        m.ID,
		Seq:       m.Seq,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Text:      text,
		IsEdited:  m.IsEdited,
		IsDeleted: m.IsDeleted,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
		UpdatedAt: m.UpdatedAt.Format(time.RFC3339),
	}
}

// MessageListResponse represents a room's history
type MessageListResponse struct {
	Messages []*MessageResponse `json:"messages"`
}

// NewMessageListResponse creates a message list response
func NewMessageListResponse(messages []*model.Message) *MessageListResponse {
	resp := make([]*MessageResponse, len(messages))
	for i, m := range messages {
		resp[i] = NewMessageResponse(m)
	}
	return &MessageListResponse{Messages: resp}
}
