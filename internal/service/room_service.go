package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-demo/liveroom/internal/model"
	apperrors "github.com/go-demo/liveroom/internal/pkg/errors"
	"github.com/go-demo/liveroom/internal/pkg/keylock"
	"github.com/go-demo/liveroom/internal/realtime"
	"github.com/go-demo/liveroom/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CredentialIssuer mints media-session credentials
type CredentialIssuer interface {
	Issue(channelName, participantID string, capability model.Capability) (*model.MediaCredential, error)
}

// RoomService coordinates room membership. Every state change runs inside a
// room transaction and its events are published before the room is released,
// so subscribers see events in commit order.
type RoomService struct {
	rooms    repository.RoomStore
	messages repository.MessageStore
	issuer   CredentialIssuer
	events   realtime.Publisher
	locks    *keylock.Locks
	logger   *zap.Logger
}

func NewRoomService(
	rooms repository.RoomStore,
	messages repository.MessageStore,
	issuer CredentialIssuer,
	events realtime.Publisher,
	logger *zap.Logger,
) *RoomService {
	return &RoomService{
		rooms:    rooms,
		messages: messages,
		issuer:   issuer,
		events:   events,
		locks:    keylock.New(),
		logger:   logger,
	}
}

// CreateRoomResult is returned to a new host
type CreateRoomResult struct {
	Room       *model.Room
	Host       *model.RoomMember
	Credential *model.MediaCredential
}

// JoinResult is returned to a joining participant
type JoinResult struct {
	Room       *model.Room
	Member     *model.RoomMember
	Credential *model.MediaCredential
	Created    bool
}

// MemberResult carries a member after a role change and its new credential
type MemberResult struct {
	Member     *model.RoomMember
	Credential *model.MediaCredential
}

// UpdateRoomInput patches room fields. Nil fields are left unchanged.
type UpdateRoomInput struct {
	Name               *string
	CanInviteGuest     *bool
	AudienceCanComment *bool
}

// outbox collects the events of one transaction
type outbox struct {
	events []realtime.Event
}

func (o *outbox) add(events ...realtime.Event) {
	o.events = append(o.events, events...)
}

// inRoom runs fn in a room transaction and publishes what it emitted once
// the transaction commits
func (s *RoomService) inRoom(ctx context.Context, roomID string, fn func(tx repository.RoomTx, out *outbox) error) error {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	out := &outbox{}
	err := s.rooms.InRoomTx(ctx, roomID, func(tx repository.RoomTx) error {
		out.events = out.events[:0]
		return fn(tx, out)
	})
	if err != nil {
		return s.storeError("room transaction", err)
	}

	for _, ev := range out.events {
		s.events.Publish(ev)
	}
	return nil
}

// storeError maps store failures onto application errors
func (s *RoomService) storeError(op string, err error) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, repository.ErrRoomNotFound):
		return apperrors.ErrRoomNotFound
	case errors.Is(err, repository.ErrMemberNotFound):
		return apperrors.ErrMemberNotFound
	case errors.Is(err, repository.ErrMessageNotFound):
		return apperrors.ErrMessageNotFound
	case errors.Is(err, repository.ErrRoomAlreadyExists):
		return apperrors.ErrRoomExists
	case errors.Is(err, repository.ErrMemberExists):
		return apperrors.ErrConflict
	}
	s.logger.Error("Store operation failed", zap.String("op", op), zap.Error(err))
	return apperrors.ErrInternal
}

func (s *RoomService) issue(room *model.Room, member *model.RoomMember) (*model.MediaCredential, error) {
	cred, err := s.issuer.Issue(room.ChannelName, member.UserID, member.Capability())
	if err != nil {
		s.logger.Error("Failed to issue media credential",
			zap.String("room_id", room.ID),
			zap.String("user_id", member.UserID),
			zap.Error(err),
		)
		return nil, apperrors.ErrInternal
	}
	return cred, nil
}

func newChannelName() string {
	return fmt.Sprintf("room_%d_%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}

// CreateRoom creates an active room with the caller as its joined host
func (s *RoomService) CreateRoom(ctx context.Context, hostID, name string) (*CreateRoomResult, error) {
	name = strings.TrimSpace(name)
	if hostID == "" || name == "" {
		return nil, apperrors.ErrValidation
	}

	room := &model.Room{
		ChannelName: newChannelName(),
		Name:        name,
		HostID:      hostID,
		Status:      model.RoomStatusActive,
		Settings:    model.DefaultRoomSettings(),
	}
	host := &model.RoomMember{
		UserID: hostID,
		Role:   model.MemberRoleHost,
		Status: model.MemberStatusJoined,
	}

	if err := s.rooms.CreateRoom(ctx, room, host); err != nil {
		return nil, s.storeError("create room", err)
	}

	s.logger.Info("Room created",
		zap.String("room_id", room.ID),
		zap.String("channel", room.ChannelName),
		zap.String("host_id", hostID),
	)

	result := &CreateRoomResult{Room: room, Host: host}

	// The room stands even without a credential; joining again re-mints one
	if cred, err := s.issue(room, host); err == nil {
		result.Credential = cred
	}

	return result, nil
}

// JoinAsAudience admits a participant, or resumes their earlier membership
func (s *RoomService) JoinAsAudience(ctx context.Context, roomID, userID string) (*JoinResult, error) {
	if userID == "" {
		return nil, apperrors.ErrValidation
	}

	var result *JoinResult
	err := s.inRoom(ctx, roomID, func(tx repository.RoomTx, out *outbox) error {
		room := tx.Room()
		if !room.IsActive() {
			return apperrors.ErrRoomNotActive
		}
		if room.IsHost(userID) {
			return apperrors.ErrHostAlreadyInRoom
		}

		result = &JoinResult{Room: room}

		member, err := tx.GetMember(ctx, userID)
		switch {
		case errors.Is(err, repository.ErrMemberNotFound):
			member = &model.RoomMember{
				UserID: userID,
				Role:   model.MemberRoleAudience,
				Status: model.MemberStatusJoined,
			}
			if err := tx.InsertMember(ctx, member); err != nil {
				return err
			}
			result.Created = true

		case err != nil:
			return err

		case member.IsBanned():
			return apperrors.ErrBanned

		case member.IsJoined():
			result.Member = member
			result.Credential, err = s.issue(room, member)
			return err

		default:
			member.Status = model.MemberStatusJoined
			member.IsMuted = false
			member.JoinedAt = time.Now().UTC()
			member.LeftAt = sql.NullTime{}
			if member.IsGuest() {
				guests, err := tx.CountMembers(ctx, model.MemberRoleGuest, model.MemberStatusJoined)
				if err != nil {
					return err
				}
				if guests >= model.MaxGuests {
					member.Role = model.MemberRoleAudience
				}
			}
			if err := tx.UpdateMember(ctx, member); err != nil {
				return err
			}
		}

		cred, err := s.issue(room, member)
		if err != nil {
			return err
		}
		count, err := tx.CountJoined(ctx)
		if err != nil {
			return err
		}

		result.Member = member
		result.Credential = cred
		out.add(
			realtime.NewMemberJoined(room.ID, member.Clone()),
			realtime.NewViewerCount(room.ID, count),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Member joined",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.Bool("created", result.Created),
	)
	return result, nil
}

// ResumeHost re-issues the host's publisher credential for a new connection.
// It changes nothing and emits no events.
func (s *RoomService) ResumeHost(ctx context.Context, roomID, hostID string) (*JoinResult, error) {
	var result *JoinResult
	err := s.inRoom(ctx, roomID, func(tx repository.RoomTx, out *outbox) error {
		room := tx.Room()
		if !room.IsActive() {
			return apperrors.ErrRoomNotActive
		}
		if err := requireHost(ctx, tx, room, hostID); err != nil {
			return err
		}
		host, err := tx.GetMember(ctx, hostID)
		if err != nil {
			return err
		}
		cred, err := s.issue(room, host)
		if err != nil {
			return err
		}
		result = &JoinResult{Room: room, Member: host, Credential: cred}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// requireHost checks that the caller is the room's host and still joined
func requireHost(ctx context.Context, tx repository.RoomTx, room *model.Room, callerID string) error {
	if !room.IsHost(callerID) {
		return apperrors.ErrNotHost
	}
	host, err := tx.GetMember(ctx, callerID)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return apperrors.ErrNotHost
		}
		return err
	}
	if !host.IsJoined() {
		return apperrors.ErrNotHost
	}
	return nil
}

// moderationTarget loads the member a host action applies to
func moderationTarget(ctx context.Context, tx repository.RoomTx, targetID string, mustBeJoined bool) (*model.RoomMember, error) {
	target, err := tx.GetMember(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return nil, apperrors.ErrMemberNotFound
		}
		return nil, err
	}
	if mustBeJoined && !target.IsJoined() {
		return nil, apperrors.ErrMemberNotFound
	}
	return target, nil
}

// Promote turns a joined audience member into a guest with publish rights
func (s *RoomService) Promote(ctx context.Context, roomID, hostID, targetID string) (*MemberResult, error) {
	var result *MemberResult
	err := s.inRoom(ctx, roomID, func(tx repository.RoomTx, out *outbox) error {
		room := tx.Room()
		if !room.IsActive() {
			return apperrors.ErrRoomNotActive
		}
		if err := requireHost(ctx, tx, room, hostID); err != nil {
			return err
		}
		if !room.Settings.CanInviteGuest {
			return apperrors.ErrGuestsDisabled
		}

		target, err := moderationTarget(ctx, tx, targetID, true)
		if err != nil {
			return err
		}
		if target.IsHost() {
			return apperrors.ErrTargetIsHost
		}
		if target.IsGuest() {
			return apperrors.ErrAlreadyGuest
		}

		guests, err := tx.CountMembers(ctx, model.MemberRoleGuest, model.MemberStatusJoined)
		if err != nil {
			return err
		}
		if guests >= model.MaxGuests {
			return apperrors.ErrGuestLimit
		}

		target.Role = model.MemberRoleGuest
		target.IsMuted = false
		if err := tx.UpdateMember(ctx, target); err != nil {
			return err
		}

		cred, err := s.issue(room, target)
		if err != nil {
			return err
		}

		result = &MemberResult{Member: target, Credential: cred}
		out.add(
			realtime.NewMemberPromoted(room.ID, target.UserID),
			realtime.NewCredentialUpdate(room.ID, target.UserID, target.Role, cred),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Member promoted to guest",
		zap.String("room_id", roomID),
		zap.String("user_id", targetID),
	)
	return result, nil
}

// Demote returns a guest to the audience
func (s *RoomService) Demote(ctx context.Context, roomID, hostID, targetID string) (*MemberResult, error) {
	var result *MemberResult
	err := s.inRoom(ctx, roomID, func(tx repository.RoomTx, out *outbox) error {
		room := tx.Room()
		if !room.IsActive() {
			return apperrors.ErrRoomNotActive
		}
		if err := requireHost(ctx, tx, room, hostID); err != nil {
			return err
		}

		target, err := moderationTarget(ctx, tx, targetID, true)
		if err != nil {
			return err
		}
		if !target.IsGuest() {
			return apperrors.ErrNotGuest
		}

		target.Role = model.MemberRoleAudience
		if err := tx.UpdateMember(ctx, target); err != nil {
			return err
		}

		cred, err := s.issue(room, target)
		if err != nil {
			return err
		}

		result = &MemberResult{Member: target, Credential: cred}
		out.add(
			realtime.NewMemberDemoted(room.ID, target.UserID),
			realtime.NewCredentialUpdate(room.ID, target.UserID, target.Role, cred),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Guest demoted to audience",
		zap.String("room_id", roomID),
		zap.String("user_id", targetID),
	)
	return result, nil
}

// endLocked ends the room and releases every joined member
func endLocked(ctx context.Context, tx repository.RoomTx, room *model.Room, out *outbox) error {
	room.Status = model.RoomStatusEnded
	if err := tx.UpdateRoom(ctx, room); err != nil {
		return err
	}
	if _, err := tx.LeaveAll(ctx, time.Now().UTC()); err != nil {
		return err
	}
	out.add(realtime.NewLiveEnded(room.ID))
	return nil
}

// Leave releases a joined membership. A host leaving ends the room for everyone.
// Kicked and blocked memberships are left untouched.
func (s *RoomService) Leave(ctx context.Context, roomID, userID string) error {
	var ended bool
	err := s.inRoom(ctx, roomID, func(tx repository.RoomTx, out *outbox) error {
		member, err := tx.GetMember(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrMemberNotFound) {
				return apperrors.ErrMemberNotFound
			}
			return err
		}
		if !member.IsJoined() {
			return nil
		}

		room := tx.Room()
		if member.IsHost() {
			ended = true
			return endLocked(ctx, tx, room, out)
		}

		member.Status = model.MemberStatusLeft
		member.LeftAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
		if err := tx.UpdateMember(ctx, member); err != nil {
			return err
		}

		count, err := tx.CountJoined(ctx)
		if err != nil {
			return err
		}
		out.add(
			realtime.NewMemberLeft(room.ID, userID),
			realtime.NewViewerCount(room.ID, count),
		)
		return nil
	})
	if err != nil {
		return err
	}

	if ended {
		s.logger.Info("Host left, room ended",
			zap.String("room_id", roomID),
			zap.String("host_id", userID),
		)
	}
	return nil
}

// Kick removes a member and bars them from rejoining
func (s *RoomService) Kick(ctx context.Context, roomID, hostID, targetID string) error {
	return s.ban(ctx, roomID, hostID, targetID, model.MemberStatusKicked)
}

// Block removes a member and bars them from rejoining
func (s *RoomService) Block(ctx context.Context, roomID, hostID, targetID string) error {
	return s.ban(ctx, roomID, hostID, targetID, model.MemberStatusBlocked)
}

func (s *RoomService) ban(ctx context.Context, roomID, hostID, targetID string, status model.MemberStatus) error {
	err := s.inRoom(ctx, roomID, func(tx repository.RoomTx, out *outbox) error {
		room := tx.Room()
		if !room.IsActive() {
			return apperrors.ErrRoomNotActive
		}
		if err := requireHost(ctx, tx, room, hostID); err != nil {
			return err
		}

		target, err := moderationTarget(ctx, tx, targetID, false)
		if err != nil {
			return err
		}
		if target.IsHost() {
			return apperrors.ErrCannotModerate
		}
		if target.Status == status || target.Status == model.MemberStatusBlocked {
			return nil
		}

		if target.IsJoined() {
			target.LeftAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
		}
		target.Status = status
		if err := tx.UpdateMember(ctx, target); err != nil {
			return err
		}

		count, err := tx.CountJoined(ctx)
		if err != nil {
			return err
		}

		if status == model.MemberStatusKicked {
			out.add(realtime.NewUserKicked(room.ID, targetID))
		} else {
			out.add(realtime.NewUserBlocked(room.ID, targetID))
		}
		out.add(realtime.NewViewerCount(room.ID, count))
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Member banned",
		zap.String("room_id", roomID),
		zap.String("user_id", targetID),
		zap.String("status", string(status)),
	)
	return nil
}

// Mute sets the host-controlled mute flag of a joined member
func (s *RoomService) Mute(ctx context.Context, roomID, hostID, targetID string, isMuted bool) (*model.RoomMember, error) {
	var result *model.RoomMember
	err := s.inRoom(ctx, roomID, func(tx repository.RoomTx, out *outbox) error {
		room := tx.Room()
		if !room.IsActive() {
			return apperrors.ErrRoomNotActive
		}
		if err := requireHost(ctx, tx, room, hostID); err != nil {
			return err
		}

		target, err := moderationTarget(ctx, tx, targetID, true)
		if err != nil {
			return err
		}
		result = target
		if target.IsMuted == isMuted {
			return nil
		}

		target.IsMuted = isMuted
		if err := tx.UpdateMember(ctx, target); err != nil {
			return err
		}
		out.add(realtime.NewUserMuted(room.ID, targetID, isMuted))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EndRoom ends a live room on the host's request. Ending an ended room is a no-op.
func (s *RoomService) EndRoom(ctx context.Context, roomID, hostID string) error {
	err := s.inRoom(ctx, roomID, func(tx repository.RoomTx, out *outbox) error {
		room := tx.Room()
		if !room.IsHost(hostID) {
			return apperrors.ErrNotHost
		}
		if !room.IsActive() {
			return nil
		}
		return endLocked(ctx, tx, room, out)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Room ended by host",
		zap.String("room_id", roomID),
		zap.String("host_id", hostID),
	)
	return nil
}

// EndAllActive ends every active room. It returns how many rooms were ended.
func (s *RoomService) EndAllActive(ctx context.Context) (int, error) {
	ids, err := s.rooms.ListActiveIDs(ctx)
	if err != nil {
		return 0, s.storeError("list active rooms", err)
	}

	ended := 0
	var errs []error
	for _, id := range ids {
		err := s.inRoom(ctx, id, func(tx repository.RoomTx, out *outbox) error {
			room := tx.Room()
			if !room.IsActive() {
				return nil
			}
			return endLocked(ctx, tx, room, out)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("room %s: %w", id, err))
			continue
		}
		ended++
	}

	s.logger.Info("Ended active rooms",
		zap.Int("ended", ended),
		zap.Int("failed", len(errs)),
	)
	return ended, errors.Join(errs...)
}

// UpdateRoom patches the name and settings of a room. Host only.
func (s *RoomService) UpdateRoom(ctx context.Context, roomID, callerID string, input *UpdateRoomInput) (*model.Room, error) {
	var result *model.Room
	err := s.inRoom(ctx, roomID, func(tx repository.RoomTx, out *outbox) error {
		room := tx.Room()
		if !room.IsHost(callerID) {
			return apperrors.ErrNotHost
		}

		if input.Name != nil {
			name := strings.TrimSpace(*input.Name)
			if name == "" {
				return apperrors.ErrValidation
			}
			room.Name = name
		}
		if input.CanInviteGuest != nil {
			room.Settings.CanInviteGuest = *input.CanInviteGuest
		}
		if input.AudienceCanComment != nil {
			room.Settings.AudienceCanComment = *input.AudienceCanComment
		}

		if err := tx.UpdateRoom(ctx, room); err != nil {
			return err
		}
		result = room
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteRoom removes a room with its memberships and history. Host only.
func (s *RoomService) DeleteRoom(ctx context.Context, roomID, callerID string) error {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return s.storeError("get room", err)
	}
	if !room.IsHost(callerID) {
		return apperrors.ErrNotHost
	}

	if err := s.rooms.DeleteRoom(ctx, roomID); err != nil {
		return s.storeError("delete room", err)
	}
	if err := s.messages.DeleteByRoomID(ctx, roomID); err != nil {
		s.logger.Warn("Failed to delete room messages", zap.String("room_id", roomID), zap.Error(err))
	}

	if room.IsActive() {
		s.events.Publish(realtime.NewLiveEnded(roomID))
	}

	s.logger.Info("Room deleted",
		zap.String("room_id", roomID),
		zap.String("host_id", callerID),
	)
	return nil
}

// GetRoom returns a room with its joined member count
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*model.RoomWithViewerCount, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, s.storeError("get room", err)
	}
	count, err := s.rooms.CountJoined(ctx, roomID)
	if err != nil {
		return nil, s.storeError("count members", err)
	}
	return &model.RoomWithViewerCount{Room: *room, ViewerCount: count}, nil
}

// ListActive lists live rooms, newest first
func (s *RoomService) ListActive(ctx context.Context, limit, offset int) ([]*model.RoomWithViewerCount, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rooms, err := s.rooms.ListActive(ctx, limit, offset)
	if err != nil {
		return nil, s.storeError("list active rooms", err)
	}
	if rooms == nil {
		rooms = []*model.RoomWithViewerCount{}
	}
	return rooms, nil
}

// ListMembers lists the joined members of a room
func (s *RoomService) ListMembers(ctx context.Context, roomID string) ([]*model.RoomMember, error) {
	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, s.storeError("get room", err)
	}
	members, err := s.rooms.ListJoinedMembers(ctx, roomID)
	if err != nil {
		return nil, s.storeError("list members", err)
	}
	if members == nil {
		members = []*model.RoomMember{}
	}
	return members, nil
}

// GetMember returns a membership in any status
func (s *RoomService) GetMember(ctx context.Context, roomID, userID string) (*model.RoomMember, error) {
	member, err := s.rooms.GetMember(ctx, roomID, userID)
	if err != nil {
		return nil, s.storeError("get member", err)
	}
	return member, nil
}

// RelayMicState forwards a participant's own microphone state to the room
func (s *RoomService) RelayMicState(ctx context.Context, roomID, userID string, isMuted bool) error {
	return s.relay(ctx, roomID, userID, realtime.NewMicStateChanged(roomID, userID, isMuted))
}

// RelayCameraState forwards a participant's own camera state to the room
func (s *RoomService) RelayCameraState(ctx context.Context, roomID, userID string, isCameraOn bool) error {
	return s.relay(ctx, roomID, userID, realtime.NewCameraStateChanged(roomID, userID, isCameraOn))
}

func (s *RoomService) relay(ctx context.Context, roomID, userID string, ev realtime.Event) error {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	member, err := s.rooms.GetMember(ctx, roomID, userID)
	if err != nil {
		return s.storeError("get member", err)
	}
	if !member.IsJoined() {
		return apperrors.ErrMemberNotFound
	}

	s.events.Publish(ev)
	return nil
}
