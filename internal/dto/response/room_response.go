package response

import (
	"time"

	"github.com/go-demo/liveroom/internal/model"
)

// RoomResponse represents a room response
type RoomResponse struct {
	ID                 string `json:"id"`
	ChannelName        string `json:"channel_name"`
	Name               string `json:"name"`
	HostID             string `json:"host_id"`
	Status             string `json:"status"`
	CanInviteGuest     bool   `json:"can_invite_guest"`
	AudienceCanComment bool   `json:"audience_can_comment"`
	ViewerCount        int    `json:"viewer_count"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

// NewRoomResponse creates a room response from model
func NewRoomResponse(room *model.Room, viewerCount int) *RoomResponse {
	return &RoomResponse{
		ID:                 room.ID,
		ChannelName:        room.ChannelName,
		Name:               room.Name,
		HostID:             room.HostID,
		Status:             string(room.Status),
		CanInviteGuest:     room.Settings.CanInviteGuest,
		AudienceCanComment: room.Settings.AudienceCanComment,
		ViewerCount:        viewerCount,
		CreatedAt:          room.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          room.UpdatedAt.Format(time.RFC3339),
	}
}

// RoomMemberResponse represents a room member response
type RoomMemberResponse struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	Status   string `json:"status"`
	IsMuted  bool   `json:"is_muted"`
	JoinedAt string `json:"joined_at"`
	LeftAt   string `json:"left_at,omitempty"`
}

// NewRoomMemberResponse creates a room member response from model
func NewRoomMemberResponse(m *model.RoomMember) *RoomMemberResponse {
	leftAt := ""
	if m.LeftAt.Valid {
		leftAt = m.LeftAt.Time.Format(time.RFC3339)
	}

	return &RoomMemberResponse{
		ID:       m.ID,
		UserID:   m.UserID,
		Role:     string(m.Role),
		Status:   string(m.Status),
		IsMuted:  m.IsMuted,
		JoinedAt: m.JoinedAt.Format(time.RFC3339),
		LeftAt:   leftAt,
	}
}

// NewRoomMemberListResponse converts a member list
func NewRoomMemberListResponse(members []*model.RoomMember) []*RoomMemberResponse {
	resp := make([]*RoomMemberResponse, len(members))
	for i, m := range members {
		resp[i] = NewRoomMemberResponse(m)
	}
	return resp
}

// CredentialResponse carries a media-session credential
type CredentialResponse struct {
	ChannelName string `json:"channel_name"`
	UID         uint32 `json:"uid"`
	Capability  string `json:"capability"`
	Token       string `json:"token"`
	ExpiresAt   string `json:"expires_at"`
}

// NewCredentialResponse returns nil for a missing credential
func NewCredentialResponse(cred *model.MediaCredential) *CredentialResponse {
	if cred == nil {
		return nil
	}
	return &CredentialResponse{
		ChannelName: cred.ChannelName,
		UID:         cred.UID,
		Capability:  string(cred.Capability),
		Token:       cred.Token,
		ExpiresAt:   cred.ExpiresAt.Format(time.RFC3339),
	}
}

// RoomSessionResponse is returned when a participant enters a room
type RoomSessionResponse struct {
	Room       *RoomResponse       `json:"room"`
	Member     *RoomMemberResponse `json:"member"`
	Credential *CredentialResponse `json:"credential,omitempty"`
}

// MemberCredentialResponse is returned after a role change
type MemberCredentialResponse struct {
	Member     *RoomMemberResponse `json:"member"`
	Credential *CredentialResponse `json:"credential,omitempty"`
}

// RoomListResponse represents a page of rooms
type RoomListResponse struct {
	Rooms  []*RoomResponse `json:"rooms"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// NewRoomListResponse creates a room list response
func NewRoomListResponse(rooms []*model.RoomWithViewerCount, limit, offset int) *RoomListResponse {
	roomResponses := make([]*RoomResponse, len(rooms))
	for i, room := range rooms {
		roomResponses[i] = NewRoomResponse(&room.Room, room.ViewerCount)
	}

	return &RoomListResponse{
		Rooms:  roomResponses,
		Limit:  limit,
		Offset: offset,
	}
}
