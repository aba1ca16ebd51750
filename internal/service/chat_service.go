package service

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/go-demo/liveroom/internal/model"
	apperrors "github.com/go-demo/liveroom/internal/pkg/errors"
	"github.com/go-demo/liveroom/internal/pkg/utils"
	"github.com/go-demo/liveroom/internal/realtime"
	"github.com/go-demo/liveroom/internal/repository"
	"go.uber.org/zap"
)

// MaxMessageLength bounds a chat message in characters
const MaxMessageLength = 2000

// ChatService keeps the per-room chat log. It shares the room locks of the
// RoomService so chat events interleave with membership events in order.
type ChatService struct {
	rooms    *RoomService
	messages repository.MessageStore
	logger   *zap.Logger
}

func NewChatService(rooms *RoomService, messages repository.MessageStore, logger *zap.Logger) *ChatService {
	return &ChatService{
		rooms:    rooms,
		messages: messages,
		logger:   logger,
	}
}

// validateText strips control characters and surrounding space, then checks
// the length
func validateText(text string) (string, error) {
	text = utils.SanitizeString(text)
	if text == "" || utf8.RuneCountInString(text) > MaxMessageLength {
		return "", apperrors.ErrValidation
	}
	return text, nil
}

// Append stores a message in an active room and broadcasts it
func (s *ChatService) Append(ctx context.Context, roomID, senderID, text string) (*model.Message, error) {
	text, err := validateText(text)
	if err != nil {
		return nil, err
	}

	unlock := s.rooms.locks.Lock(roomID)
	defer unlock()

	room, err := s.rooms.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, s.rooms.storeError("get room", err)
	}
	if !room.IsActive() {
		return nil, apperrors.ErrRoomNotActive
	}

	if err := s.checkSender(ctx, room, senderID); err != nil {
		return nil, err
	}

	msg := &model.Message{
		RoomID:   roomID,
		SenderID: senderID,
		Text:     text,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, s.rooms.storeError("create message", err)
	}

	s.rooms.events.Publish(realtime.NewChatSent(msg.Clone()))
	return msg, nil
}

// checkSender enforces bans and the audience comment setting
func (s *ChatService) checkSender(ctx context.Context, room *model.Room, senderID string) error {
	member, err := s.rooms.rooms.GetMember(ctx, room.ID, senderID)
	if err != nil && !errors.Is(err, repository.ErrMemberNotFound) {
		return s.rooms.storeError("get member", err)
	}

	if member != nil && member.IsBanned() {
		return apperrors.ErrBanned
	}
	if room.Settings.AudienceCanComment {
		return nil
	}
	if member == nil || !member.IsJoined() || !member.CanPublish() {
		return apperrors.ErrCommentDisabled
	}
	return nil
}

// Edit replaces the text of a message. Only its sender may edit it. An unknown
// or deleted message is ignored and nil is returned.
func (s *ChatService) Edit(ctx context.Context, messageID, editorID, newText string) (*model.Message, error) {
	text, err := validateText(newText)
	if err != nil {
		return nil, err
	}

	current, err := s.lookup(ctx, messageID)
	if current == nil || err != nil {
		return nil, err
	}
	if current.SenderID != editorID {
		return nil, apperrors.ErrForbidden
	}

	unlock := s.rooms.locks.Lock(current.RoomID)
	defer unlock()

	msg, err := s.messages.Edit(ctx, messageID, text)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return nil, nil
		}
		return nil, s.rooms.storeError("edit message", err)
	}

	s.rooms.events.Publish(realtime.NewChatEdited(msg.Clone()))
	return msg, nil
}

// Delete soft-deletes a message. Its sender or the room host may delete it.
// An unknown message is ignored and nil is returned.
func (s *ChatService) Delete(ctx context.Context, messageID, callerID string) (*model.Message, error) {
	current, err := s.lookup(ctx, messageID)
	if current == nil || err != nil {
		return nil, err
	}

	if current.SenderID != callerID {
		room, err := s.rooms.rooms.GetRoom(ctx, current.RoomID)
		if err != nil {
			return nil, s.rooms.storeError("get room", err)
		}
		if !room.IsHost(callerID) {
			return nil, apperrors.ErrForbidden
		}
	}

	unlock := s.rooms.locks.Lock(current.RoomID)
	defer unlock()

	msg, err := s.messages.SoftDelete(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return nil, nil
		}
		return nil, s.rooms.storeError("delete message", err)
	}

	s.rooms.events.Publish(realtime.NewChatDeleted(msg.RoomID, msg.ID))
	return msg, nil
}

// Get returns a message in any state
func (s *ChatService) Get(ctx context.Context, messageID string) (*model.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, s.rooms.storeError("get message", err)
	}
	return msg, nil
}

func (s *ChatService) lookup(ctx context.Context, messageID string) (*model.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			s.logger.Debug("Ignoring unknown message", zap.String("message_id", messageID))
			return nil, nil
		}
		return nil, s.rooms.storeError("get message", err)
	}
	return msg, nil
}

// History returns every message of a room in order, deleted ones included
func (s *ChatService) History(ctx context.Context, roomID string) ([]*model.Message, error) {
	if _, err := s.rooms.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, s.rooms.storeError("get room", err)
	}

	messages, err := s.messages.ListByRoomID(ctx, roomID)
	if err != nil {
		return nil, s.rooms.storeError("list messages", err)
	}
	return messages, nil
}
