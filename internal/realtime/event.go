package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-demo/liveroom/internal/model"
)

// EventType names an event on the wire
type EventType string

const (
	EventMemberJoined       EventType = "member-joined"
	EventMemberLeft         EventType = "member-left"
	EventMemberPromoted     EventType = "member-promoted"
	EventMemberDemoted      EventType = "member-demoted"
	EventUserKicked         EventType = "user-kicked"
	EventUserBlocked        EventType = "user-blocked"
	EventUserMuted          EventType = "user-muted"
	EventLiveEnded          EventType = "live-ended"
	EventViewerCount        EventType = "viewer-count"
	EventCredentialUpdate   EventType = "credential-update"
	EventChatSent           EventType = "chat-sent"
	EventChatEdited         EventType = "chat-edited"
	EventChatDeleted        EventType = "chat-deleted"
	EventMicStateChanged    EventType = "mic-state-changed"
	EventCameraStateChanged EventType = "camera-state-changed"
)

// Event is a room-scoped notification. The set of implementations is closed.
type Event interface {
	Type() EventType
	Room() string
	sealed()
}

// Targeted events are delivered only to one user's connections in the room
type Targeted interface {
	Event
	Target() string
}

type roomScope struct {
	RoomID string `json:"room_id"`
}

func (s roomScope) Room() string { return s.RoomID }
func (roomScope) sealed()        {}

type MemberJoined struct {
	roomScope
	Member *model.RoomMember `json:"member"`
}

type MemberLeft struct {
	roomScope
	UserID string `json:"user_id"`
}

type MemberPromoted struct {
	roomScope
	UserID string `json:"user_id"`
}

type MemberDemoted struct {
	roomScope
	UserID string `json:"user_id"`
}

type UserKicked struct {
	roomScope
	UserID string `json:"user_id"`
}

type UserBlocked struct {
	roomScope
	UserID string `json:"user_id"`
}

type UserMuted struct {
	roomScope
	UserID  string `json:"user_id"`
	IsMuted bool   `json:"is_muted"`
}

type LiveEnded struct {
	roomScope
}

type ViewerCount struct {
	roomScope
	Count int `json:"count"`
}

// CredentialUpdate carries a freshly minted media credential to its owner
type CredentialUpdate struct {
	roomScope
	UserID     string                 `json:"user_id"`
	Role       model.MemberRole       `json:"role"`
	Credential *model.MediaCredential `json:"credential"`
}

type ChatSent struct {
	roomScope
	Message *model.Message `json:"message"`
}

type ChatEdited struct {
	roomScope
	Message *model.Message `json:"message"`
}

type ChatDeleted struct {
	roomScope
	MessageID string `json:"message_id"`
}

type MicStateChanged struct {
	roomScope
	UserID  string `json:"user_id"`
	IsMuted bool   `json:"is_muted"`
}

type CameraStateChanged struct {
	roomScope
	UserID     string `json:"user_id"`
	IsCameraOn bool   `json:"is_camera_on"`
}

func (*MemberJoined) Type() EventType       { return EventMemberJoined }
func (*MemberLeft) Type() EventType         { return EventMemberLeft }
func (*MemberPromoted) Type() EventType     { return EventMemberPromoted }
func (*MemberDemoted) Type() EventType      { return EventMemberDemoted }
func (*UserKicked) Type() EventType         { return EventUserKicked }
func (*UserBlocked) Type() EventType        { return EventUserBlocked }
func (*UserMuted) Type() EventType          { return EventUserMuted }
func (*LiveEnded) Type() EventType          { return EventLiveEnded }
func (*ViewerCount) Type() EventType        { return EventViewerCount }
func (*CredentialUpdate) Type() EventType   { return EventCredentialUpdate }
func (*ChatSent) Type() EventType           { return EventChatSent }
func (*ChatEdited) Type() EventType         { return EventChatEdited }
func (*ChatDeleted) Type() EventType        { return EventChatDeleted }
func (*MicStateChanged) Type() EventType    { return EventMicStateChanged }
func (*CameraStateChanged) Type() EventType { return EventCameraStateChanged }

func (e *CredentialUpdate) Target() string { return e.UserID }

func NewMemberJoined(roomID string, member *model.RoomMember) *MemberJoined {
	return &MemberJoined{roomScope{roomID}, member}
}

func NewMemberLeft(roomID, userID string) *MemberLeft {
	return &MemberLeft{roomScope{roomID}, userID}
}

func NewMemberPromoted(roomID, userID string) *MemberPromoted {
	return &MemberPromoted{roomScope{roomID}, userID}
}

func NewMemberDemoted(roomID, userID string) *MemberDemoted {
	return &MemberDemoted{roomScope{roomID}, userID}
}

func NewUserKicked(roomID, userID string) *UserKicked {
	return &UserKicked{roomScope{roomID}, userID}
}

func NewUserBlocked(roomID, userID string) *UserBlocked {
	return &UserBlocked{roomScope{roomID}, userID}
}

func NewUserMuted(roomID, userID string, isMuted bool) *UserMuted {
	return &UserMuted{roomScope{roomID}, userID, isMuted}
}

func NewLiveEnded(roomID string) *LiveEnded {
	return &LiveEnded{roomScope{roomID}}
}

func NewViewerCount(roomID string, count int) *ViewerCount {
	return &ViewerCount{roomScope{roomID}, count}
}

func NewCredentialUpdate(roomID, userID string, role model.MemberRole, cred *model.MediaCredential) *CredentialUpdate {
	return &CredentialUpdate{roomScope{roomID}, userID, role, cred}
}

func NewChatSent(msg *model.Message) *ChatSent {
	return &ChatSent{roomScope{msg.RoomID}, msg}
}

func NewChatEdited(msg *model.Message) *ChatEdited {
	return &ChatEdited{roomScope{msg.RoomID}, msg}
}

func NewChatDeleted(roomID, messageID string) *ChatDeleted {
	return &ChatDeleted{roomScope{roomID}, messageID}
}

func NewMicStateChanged(roomID, userID string, isMuted bool) *MicStateChanged {
	return &MicStateChanged{roomScope{roomID}, userID, isMuted}
}

func NewCameraStateChanged(roomID, userID string, isCameraOn bool) *CameraStateChanged {
	return &CameraStateChanged{roomScope{roomID}, userID, isCameraOn}
}

// Frame is the outbound WebSocket envelope for an event
type Frame struct {
	Type      EventType `json:"type"`
	Payload   Event     `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode renders an event as a client frame
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(&Frame{
		Type:      ev.Type(),
		Payload:   ev,
		Timestamp: time.Now().UTC(),
	})
}

// Decode rebuilds an event from its type and JSON payload
func Decode(eventType EventType, payload []byte) (Event, error) {
	var ev Event
	switch eventType {
	case EventMemberJoined:
		ev = &MemberJoined{}
	case EventMemberLeft:
		ev = &MemberLeft{}
	case EventMemberPromoted:
		ev = &MemberPromoted{}
	case EventMemberDemoted:
		ev = &MemberDemoted{}
	case EventUserKicked:
		ev = &UserKicked{}
	case EventUserBlocked:
		ev = &UserBlocked{}
	case EventUserMuted:
		ev = &UserMuted{}
	case EventLiveEnded:
		ev = &LiveEnded{}
	case EventViewerCount:
		ev = &ViewerCount{}
	case EventCredentialUpdate:
		ev = &CredentialUpdate{}
	case EventChatSent:
		ev = &ChatSent{}
	case EventChatEdited:
		ev = &ChatEdited{}
	case EventChatDeleted:
		ev = &ChatDeleted{}
	case EventMicStateChanged:
		ev = &MicStateChanged{}
	case EventCameraStateChanged:
		ev = &CameraStateChanged{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", eventType, err)
	}
	return ev, nil
}
