package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type RoomStatus string

const (
	RoomStatusActive  RoomStatus = "ACTIVE"
	RoomStatusEnded   RoomStatus = "ENDED"
	RoomStatusBlocked RoomStatus = "BLOCKED"
)

// RoomSettings is stored as a JSONB column
type RoomSettings struct {
	CanInviteGuest     bool `json:"can_invite_guest"`
	AudienceCanComment bool `json:"audience_can_comment"`
}

// DefaultRoomSettings returns the settings a new room starts with
func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		CanInviteGuest:     true,
		AudienceCanComment: true,
	}
}

// Value implements driver.Valuer
func (s RoomSettings) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (s *RoomSettings) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	case nil:
		*s = DefaultRoomSettings()
		return nil
	default:
		return errors.New("room settings: unsupported scan type")
	}
}

type Room struct {
	ID          string       `db:"id" json:"id"`
	ChannelName string       `db:"channel_name" json:"channel_name"`
	Name        string       `db:"name" json:"name"`
	HostID      string       `db:"host_id" json:"host_id"`
	Status      RoomStatus   `db:"status" json:"status"`
	Settings    RoomSettings `db:"settings" json:"settings"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// IsActive checks if room accepts joins
func (r *Room) IsActive() bool {
	return r.Status == RoomStatusActive
}

// IsHost checks if userID owns the room
func (r *Room) IsHost(userID string) bool {
	return r.HostID == userID
}

// Clone returns a copy safe to mutate
func (r *Room) Clone() *Room {
	c := *r
	return &c
}

// RoomWithViewerCount includes the number of JOINED members
type RoomWithViewerCount struct {
	Room
	ViewerCount int `db:"viewer_count" json:"viewer_count"`
}
