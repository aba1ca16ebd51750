package ws

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(MessageTypeJoinRoom, &RoomPayload{RoomID: "room-1"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if msg.Type != MessageTypeJoinRoom {
		t.Errorf("Expected join-room, got %s", msg.Type)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}

	var payload RoomPayload
	if err := msg.ParsePayload(&payload); err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if payload.RoomID != "room-1" {
		t.Errorf("Expected room-1, got %s", payload.RoomID)
	}
}

func TestParsePayload_Empty(t *testing.T) {
	msg := &Message{Type: MessageTypeLeaveRoom}

	var payload RoomPayload
	if err := msg.ParsePayload(&payload); !errors.Is(err, errEmptyPayload) {
		t.Errorf("Expected errEmptyPayload, got %v", err)
	}
}

func TestMessage_DecodeClientFrame(t *testing.T) {
	raw := `{"type":"mute-user","request_id":"r-7","payload":{"room_id":"r","target_user_id":"u","is_muted":true}}`

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg.Type != MessageTypeMuteUser || msg.RequestID != "r-7" {
		t.Errorf("Unexpected envelope %+v", msg)
	}

	var payload MutePayload
	if err := msg.ParsePayload(&payload); err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if payload.RoomID != "r" || payload.TargetUserID != "u" || !payload.IsMuted {
		t.Errorf("Unexpected payload %+v", payload)
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(403, "join the room first")
	if err != nil {
		t.Fatalf("NewErrorMessage failed: %v", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded struct {
		Type    string `json:"type"`
		Payload struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Type != "error" || decoded.Payload.Code != 403 {
		t.Errorf("Unexpected error frame %+v", decoded)
	}
}
