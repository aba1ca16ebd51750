package ws

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/go-demo/liveroom/internal/model"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Client -> Server messages
	MessageTypeJoinRoom      MessageType = "join-room"
	MessageTypeLeaveRoom     MessageType = "leave-room"
	MessageTypePromote       MessageType = "promote-to-guest"
	MessageTypeDemote        MessageType = "demote-to-audience"
	MessageTypeKickUser      MessageType = "kick-user"
	MessageTypeBlockUser     MessageType = "block-user"
	MessageTypeMuteUser      MessageType = "mute-user"
	MessageTypeEndRoom       MessageType = "end-room"
	MessageTypeRoomMessage   MessageType = "room-message"
	MessageTypeEditMessage   MessageType = "edit-message"
	MessageTypeDeleteMessage MessageType = "delete-message"
	MessageTypeLoadMessages  MessageType = "load-messages"
	MessageTypeMicState      MessageType = "mic-state-changed"
	MessageTypeCameraState   MessageType = "camera-state-changed"
	MessageTypePing          MessageType = "ping"

	// Server -> Client messages. Room events use their own event type names.
	MessageTypeRoomJoined   MessageType = "room-joined"
	MessageTypeRoomMessages MessageType = "room-messages"
	MessageTypeAck          MessageType = "ack"
	MessageTypeError        MessageType = "error"
	MessageTypePong         MessageType = "pong"
)

var errEmptyPayload = errors.New("empty payload")

// Message represents a WebSocket message
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
}

// RoomPayload names a room
type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// TargetPayload names a member of a room for host actions
type TargetPayload struct {
	RoomID       string `json:"room_id"`
	TargetUserID string `json:"target_user_id"`
}

// MutePayload represents a host mute request
type MutePayload struct {
	RoomID       string `json:"room_id"`
	TargetUserID string `json:"target_user_id"`
	IsMuted      bool   `json:"is_muted"`
}

// RoomMessagePayload represents a chat message sent to a room
type RoomMessagePayload struct {
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

// EditMessagePayload represents a chat edit
type EditMessagePayload struct {
	MessageID string `json:"message_id"`
	NewText   string `json:"new_text"`
}

// DeleteMessagePayload represents a chat deletion
type DeleteMessagePayload struct {
	MessageID string `json:"message_id"`
}

// MicStatePayload carries the sender's own microphone state
type MicStatePayload struct {
	RoomID  string `json:"room_id"`
	IsMuted bool   `json:"is_muted"`
}

// CameraStatePayload carries the sender's own camera state
type CameraStatePayload struct {
	RoomID     string `json:"room_id"`
	IsCameraOn bool   `json:"is_camera_on"`
}

// RoomJoinedPayload is the direct response to join-room
type RoomJoinedPayload struct {
	Room       *model.Room            `json:"room"`
	Member     *model.RoomMember      `json:"member"`
	Credential *model.MediaCredential `json:"credential"`
	Members    []*model.RoomMember    `json:"members"`
}

// RoomMessagesPayload carries a room's chat history
type RoomMessagesPayload struct {
	RoomID   string           `json:"room_id"`
	Messages []*model.Message `json:"messages"`
}

// ErrorPayload represents error message
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// AckPayload represents acknowledgement
type AckPayload struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
}

// NewMessage creates a new message
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now(),
	}, nil
}

// NewErrorMessage creates a new error message
func NewErrorMessage(code int, message string) (*Message, error) {
	return NewMessage(MessageTypeError, &ErrorPayload{
		Code:    code,
		Message: message,
	})
}

// ParsePayload parses message payload into the given type
func (m *Message) ParsePayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return errEmptyPayload
	}
	return json.Unmarshal(m.Payload, v)
}
