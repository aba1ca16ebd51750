package model

import (
	"database/sql"
	"time"
)

// MaxGuests is the number of GUEST members that may be JOINED at once
const MaxGuests = 3

type MemberRole string

const (
	MemberRoleHost     MemberRole = "HOST"
	MemberRoleGuest    MemberRole = "GUEST"
	MemberRoleAudience MemberRole = "AUDIENCE"
)

type MemberStatus string

const (
	MemberStatusJoined  MemberStatus = "JOINED"
	MemberStatusLeft    MemberStatus = "LEFT"
	MemberStatusKicked  MemberStatus = "KICKED"
	MemberStatusBlocked MemberStatus = "BLOCKED"
)

type RoomMember struct {
	ID       string       `db:"id" json:"id"`
	RoomID   string       `db:"room_id" json:"room_id"`
	UserID   string       `db:"user_id" json:"user_id"`
	Role     MemberRole   `db:"role" json:"role"`
	IsMuted  bool         `db:"is_muted" json:"is_muted"`
	Status   MemberStatus `db:"status" json:"status"`
	JoinedAt time.Time    `db:"joined_at" json:"joined_at"`
	LeftAt   sql.NullTime `db:"left_at" json:"left_at,omitempty"`
}

// IsHost checks if member is the room host
func (rm *RoomMember) IsHost() bool {
	return rm.Role == MemberRoleHost
}

// IsGuest checks if member is a guest
func (rm *RoomMember) IsGuest() bool {
	return rm.Role == MemberRoleGuest
}

// IsJoined checks if member is currently in the room
func (rm *RoomMember) IsJoined() bool {
	return rm.Status == MemberStatusJoined
}

// IsBanned reports a permanent exclusion from the room
func (rm *RoomMember) IsBanned() bool {
	return rm.Status == MemberStatusKicked || rm.Status == MemberStatusBlocked
}

// CanPublish checks if member may send audio/video
func (rm *RoomMember) CanPublish() bool {
	return rm.Role == MemberRoleHost || rm.Role == MemberRoleGuest
}

// Capability returns the media capability matching the member role
func (rm *RoomMember) Capability() Capability {
	if rm.CanPublish() {
		return CapabilityPublisher
	}
	return CapabilitySubscriber
}

// Clone returns a copy safe to mutate
func (rm *RoomMember) Clone() *RoomMember {
	c := *rm
	return &c
}
