package model

import "time"

type Capability string

const (
	CapabilityPublisher  Capability = "PUBLISHER"
	CapabilitySubscriber Capability = "SUBSCRIBER"
)

// MediaCredential authorizes a participant on the media transport for one channel.
// It is minted per join or promotion and never persisted.
type MediaCredential struct {
	ChannelName string     `json:"channel_name"`
	UID         uint32     `json:"uid"`
	Capability  Capability `json:"capability"`
	Token       string     `json:"token"`
	ExpiresAt   time.Time  `json:"expires_at"`
}
