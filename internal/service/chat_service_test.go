package service

import (
	"context"
	"strings"
	"testing"

	apperrors "github.com/go-demo/liveroom/internal/pkg/errors"
	"github.com/go-demo/liveroom/internal/realtime"
)

func TestChatService_Append(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	room := env.createRoom(t, "host")
	env.join(t, room.ID, "viewer")
	env.events.take()

	msg, err := env.chat.Append(ctx, room.ID, "viewer", "  hello there  ")
	if err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if msg.ID == "" || msg.Seq == 0 {
		t.Error("Expected message ID and sequence to be set")
	}
	if msg.Text != "hello there" {
		t.Errorf("Expected trimmed text, got %q", msg.Text)
	}

	events := env.events.take()
	expectTypes(t, events, realtime.EventChatSent)
	if sent := events[0].(*realtime.ChatSent); sent.Message.ID != msg.ID || sent.Room() != room.ID {
		t.Errorf("Unexpected event %+v", sent)
	}
}

func TestChatService_Append_Validation(t *testing.T) {
	env := setupTestEnv(t)
	room := env.createRoom(t, "host")

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t"},
		{"control characters only", "\x00\x07\x1b"},
		{"too long", strings.Repeat("字", MaxMessageLength+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.chat.Append(context.Background(), room.ID, "host", tt.text)
			if err != apperrors.ErrValidation {
				t.Errorf("Expected ErrValidation, got %v", err)
			}
		})
	}

	if _, err := env.chat.Append(context.Background(), room.ID, "host", strings.Repeat("字", MaxMessageLength)); err != nil {
		t.Errorf("Expected message at the limit to be accepted, got %v", err)
	}
}

func TestChatService_Append_StripsControlCharacters(t *testing.T) {
	env := setupTestEnv(t)
	room := env.createRoom(t, "host")

	msg, err := env.chat.Append(context.Background(), room.ID, "host", "\x00hi\x07 there\nsecond line ")
	if err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if msg.Text != "hi there\nsecond line" {
		t.Errorf("Expected control characters stripped and newline kept, got %q", msg.Text)
	}

	edited, err := env.chat.Edit(context.Background(), msg.ID, "host", "fixed\x1b[31m")
	if err != nil {
		t.Fatalf("Failed to edit: %v", err)
	}
	if edited.Text != "fixed[31m" {
		t.Errorf("Expected escape byte stripped, got %q", edited.Text)
	}
}

func TestChatService_Append_Rules(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	room := env.createRoom(t, "host")
	env.join(t, room.ID, "viewer", "guest", "troll")
	if _, err := env.rooms.Promote(ctx, room.ID, "host", "guest"); err != nil {
		t.Fatalf("Failed to promote: %v", err)
	}
	if err := env.rooms.Block(ctx, room.ID, "host", "troll"); err != nil {
		t.Fatalf("Failed to block: %v", err)
	}

	if _, err := env.chat.Append(ctx, room.ID, "troll", "spam"); err != apperrors.ErrBanned {
		t.Errorf("Expected ErrBanned, got %v", err)
	}
	if _, err := env.chat.Append(ctx, room.ID, "passerby", "hi"); err != nil {
		t.Errorf("Expected open comments to accept anyone not banned, got %v", err)
	}

	disabled := false
	if _, err := env.rooms.UpdateRoom(ctx, room.ID, "host", &UpdateRoomInput{AudienceCanComment: &disabled}); err != nil {
		t.Fatalf("Failed to update room: %v", err)
	}

	if _, err := env.chat.Append(ctx, room.ID, "viewer", "hi"); err != apperrors.ErrCommentDisabled {
		t.Errorf("Expected ErrCommentDisabled for audience, got %v", err)
	}
	if _, err := env.chat.Append(ctx, room.ID, "guest", "hi"); err != nil {
		t.Errorf("Expected guest to comment, got %v", err)
	}
	if _, err := env.chat.Append(ctx, room.ID, "host", "hi"); err != nil {
		t.Errorf("Expected host to comment, got %v", err)
	}

	if err := env.rooms.EndRoom(ctx, room.ID, "host"); err != nil {
		t.Fatalf("Failed to end room: %v", err)
	}
	if _, err := env.chat.Append(ctx, room.ID, "host", "bye"); !apperrors.IsNotFound(err) {
		t.Errorf("Expected ended room to reject messages, got %v", err)
	}
	if _, err := env.chat.Append(ctx, "missing", "host", "bye"); !apperrors.IsNotFound(err) {
		t.Errorf("Expected unknown room to be not found, got %v", err)
	}
}

func TestChatService_Edit(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	room := env.createRoom(t, "host")
	env.join(t, room.ID, "viewer")
	msg, err := env.chat.Append(ctx, room.ID, "viewer", "helo")
	if err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	env.events.take()

	if _, err := env.chat.Edit(ctx, msg.ID, "host", "hijacked"); !apperrors.IsForbidden(err) {
		t.Errorf("Expected edit by another user to be forbidden, got %v", err)
	}

	edited, err := env.chat.Edit(ctx, msg.ID, "viewer", "hello")
	if err != nil {
		t.Fatalf("Failed to edit: %v", err)
	}
	if edited.Text != "hello" || !edited.IsEdited {
		t.Errorf("Unexpected message %+v", edited)
	}
	if edited.Seq != msg.Seq {
		t.Error("Expected edit to keep the sequence")
	}
	expectTypes(t, env.events.take(), realtime.EventChatEdited)

	if _, err := env.chat.Edit(ctx, msg.ID, "viewer", " "); err != apperrors.ErrValidation {
		t.Errorf("Expected ErrValidation, got %v", err)
	}

	unknown, err := env.chat.Edit(ctx, "00000000-0000-0000-0000-000000000000", "viewer", "x")
	if unknown != nil || err != nil {
		t.Errorf("Expected unknown message to be ignored, got %v, %v", unknown, err)
	}
	if events := env.events.take(); len(events) != 0 {
		t.Errorf("Expected no events, got %v", eventTypes(events))
	}
}

func TestChatService_Delete(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	room := env.createRoom(t, "host")
	env.join(t, room.ID, "viewer", "other")
	first, _ := env.chat.Append(ctx, room.ID, "viewer", "first")
	second, _ := env.chat.Append(ctx, room.ID, "viewer", "second")
	env.events.take()

	if _, err := env.chat.Delete(ctx, first.ID, "other"); !apperrors.IsForbidden(err) {
		t.Errorf("Expected delete by another member to be forbidden, got %v", err)
	}

	deleted, err := env.chat.Delete(ctx, first.ID, "viewer")
	if err != nil {
		t.Fatalf("Failed to delete own message: %v", err)
	}
	if !deleted.IsDeleted {
		t.Error("Expected message to be marked deleted")
	}

	if _, err := env.chat.Delete(ctx, second.ID, "host"); err != nil {
		t.Fatalf("Expected host to delete any message, got %v", err)
	}

	events := env.events.take()
	expectTypes(t, events, realtime.EventChatDeleted, realtime.EventChatDeleted)
	if d := events[0].(*realtime.ChatDeleted); d.MessageID != first.ID || d.Room() != room.ID {
		t.Errorf("Unexpected event %+v", d)
	}

	edited, err := env.chat.Edit(ctx, first.ID, "viewer", "revived")
	if edited != nil || err != nil {
		t.Errorf("Expected edit of a deleted message to be ignored, got %v, %v", edited, err)
	}

	gone, err := env.chat.Delete(ctx, "00000000-0000-0000-0000-000000000000", "viewer")
	if gone != nil || err != nil {
		t.Errorf("Expected unknown message to be ignored, got %v, %v", gone, err)
	}
	if events := env.events.take(); len(events) != 0 {
		t.Errorf("Expected no events, got %v", eventTypes(events))
	}
}

func TestChatService_History(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	room := env.createRoom(t, "host")
	other := env.createRoom(t, "host-2")

	texts := []string{"one", "two", "three"}
	for _, text := range texts {
		if _, err := env.chat.Append(ctx, room.ID, "host", text); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}
	if _, err := env.chat.Append(ctx, other.ID, "host-2", "elsewhere"); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}

	history, err := env.chat.History(ctx, room.ID)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != len(texts) {
		t.Fatalf("Expected %d messages, got %d", len(texts), len(history))
	}
	for i, msg := range history {
		if msg.Text != texts[i] {
			t.Errorf("Expected %q at %d, got %q", texts[i], i, msg.Text)
		}
		if i > 0 && msg.Seq <= history[i-1].Seq {
			t.Error("Expected strictly increasing sequence")
		}
	}

	if _, err := env.chat.Delete(ctx, history[1].ID, "host"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	history, _ = env.chat.History(ctx, room.ID)
	if len(history) != len(texts) || !history[1].IsDeleted {
		t.Error("Expected deleted messages to stay in history")
	}

	empty, err := env.chat.History(ctx, env.createRoom(t, "host-3").ID)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("Expected empty history, got %v", empty)
	}
}
