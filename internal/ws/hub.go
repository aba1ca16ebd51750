package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	apperrors "github.com/go-demo/liveroom/internal/pkg/errors"
	"github.com/go-demo/liveroom/internal/realtime"
	"github.com/go-demo/liveroom/internal/service"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HubConfig tunes client handling
type HubConfig struct {
	OperationTimeout time.Duration
	InboundRate      float64 // frames per second per connection, 0 disables the limit
	InboundBurst     int
}

// Hub turns client frames into coordinator calls. Room events reach clients
// through the realtime bus, which delivers to connections attached in the registry.
type Hub struct {
	rooms    *service.RoomService
	chat     *service.ChatService
	registry *realtime.Registry
	bus      *realtime.Bus
	config   HubConfig
	logger   *zap.Logger
}

// HubStats is reported by the stats endpoint
type HubStats struct {
	realtime.Stats
	Bus *realtime.BusStats `json:"bus,omitempty"`
}

// NewHub creates a new Hub. bus is only read for statistics and may be nil.
func NewHub(
	rooms *service.RoomService,
	chat *service.ChatService,
	registry *realtime.Registry,
	bus *realtime.Bus,
	config HubConfig,
	logger *zap.Logger,
) *Hub {
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = 5 * time.Second
	}
	return &Hub{
		rooms:    rooms,
		chat:     chat,
		registry: registry,
		bus:      bus,
		config:   config,
		logger:   logger,
	}
}

// NewLimiter returns the inbound limiter for a new connection, or nil when unlimited
func (h *Hub) NewLimiter() *rate.Limiter {
	if h.config.InboundRate <= 0 {
		return nil
	}
	burst := h.config.InboundBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(h.config.InboundRate), burst)
}

// Register tracks a new connection
func (h *Hub) Register(client *Client) {
	h.registry.Register(client)

	h.logger.Info("Client connected",
		zap.String("user_id", client.userID),
		zap.String("conn_id", client.id),
	)
}

// Unregister forgets a closed connection and releases the rooms it was the
// user's last connection to
func (h *Hub) Unregister(client *Client) {
	released := h.registry.Disconnect(client, h.rooms.Leave)
	client.Close()

	h.logger.Info("Client disconnected",
		zap.String("user_id", client.userID),
		zap.String("conn_id", client.id),
		zap.Strings("released_rooms", released),
	)
}

// HandleMessage handles incoming messages based on type
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.OperationTimeout)
	defer cancel()

	switch msg.Type {
	case MessageTypeJoinRoom:
		h.joinRoom(ctx, client, msg)
	case MessageTypeLeaveRoom:
		h.leaveRoom(ctx, client, msg)
	case MessageTypePromote, MessageTypeDemote, MessageTypeKickUser, MessageTypeBlockUser:
		h.hostAction(ctx, client, msg)
	case MessageTypeMuteUser:
		h.muteUser(ctx, client, msg)
	case MessageTypeEndRoom:
		h.endRoom(ctx, client, msg)
	case MessageTypeRoomMessage:
		h.roomMessage(ctx, client, msg)
	case MessageTypeEditMessage:
		h.editMessage(ctx, client, msg)
	case MessageTypeDeleteMessage:
		h.deleteMessage(ctx, client, msg)
	case MessageTypeLoadMessages:
		h.loadMessages(ctx, client, msg)
	case MessageTypeMicState:
		h.micState(ctx, client, msg)
	case MessageTypeCameraState:
		h.cameraState(ctx, client, msg)
	case MessageTypePing:
		pongMsg, _ := NewMessage(MessageTypePong, nil)
		pongMsg.RequestID = msg.RequestID
		client.SendMessage(pongMsg)
	default:
		h.reply(client, msg, errUnknownType)
	}
}

var (
	errInvalidPayload = apperrors.New(http.StatusBadRequest, "invalid request payload")
	errUnknownType    = apperrors.New(http.StatusBadRequest, "unknown message type")
	errNotInRoom      = apperrors.New(http.StatusForbidden, "join the room first")
)

// reply sends an ack on success or an error frame on failure
func (h *Hub) reply(client *Client, msg *Message, err error) {
	h.replyWithID(client, msg, "", err)
}

func (h *Hub) replyWithID(client *Client, msg *Message, messageID string, err error) {
	if err != nil {
		if apperrors.GetHTTPStatus(err) >= http.StatusInternalServerError {
			h.logger.Error("WebSocket operation failed",
				zap.String("user_id", client.userID),
				zap.String("type", string(msg.Type)),
				zap.Error(err),
			)
		}
		errMsg, _ := NewErrorMessage(apperrors.GetHTTPStatus(err), apperrors.GetMessage(err))
		errMsg.RequestID = msg.RequestID
		client.SendMessage(errMsg)
		return
	}

	ackMsg, _ := NewMessage(MessageTypeAck, &AckPayload{
		RequestID: msg.RequestID,
		Success:   true,
		MessageID: messageID,
	})
	ackMsg.RequestID = msg.RequestID
	client.SendMessage(ackMsg)
}

func (h *Hub) joinRoom(ctx context.Context, client *Client, msg *Message) {
	var payload RoomPayload
	if err := msg.ParsePayload(&payload); err != nil || payload.RoomID == "" {
		h.reply(client, msg, errInvalidPayload)
		return
	}

	result, err := h.rooms.JoinAsAudience(ctx, payload.RoomID, client.userID)
	if errors.Is(err, apperrors.ErrHostAlreadyInRoom) {
		result, err = h.rooms.ResumeHost(ctx, payload.RoomID, client.userID)
	}
	if err != nil {
		h.reply(client, msg, err)
		return
	}

	h.registry.Attach(client, payload.RoomID)

	members, err := h.rooms.ListMembers(ctx, payload.RoomID)
	if err != nil {
		h.logger.Warn("Failed to list members for joined client",
			zap.String("room_id", payload.RoomID),
			zap.Error(err),
		)
	}

	joinedMsg, _ := NewMessage(MessageTypeRoomJoined, &RoomJoinedPayload{
		Room:       result.Room,
		Member:     result.Member,
		Credential: result.Credential,
		Members:    members,
	})
	joinedMsg.RequestID = msg.RequestID
	client.SendMessage(joinedMsg)

	h.logger.Debug("Client joined room",
		zap.String("user_id", client.userID),
		zap.String("room_id", payload.RoomID),
	)
}

func (h *Hub) leaveRoom(ctx context.Context, client *Client, msg *Message) {
	var payload RoomPayload
	if err := msg.ParsePayload(&payload); err != nil || payload.RoomID == "" {
		h.reply(client, msg, errInvalidPayload)
		return
	}

	err := h.rooms.Leave(ctx, payload.RoomID, client.userID)
	if err == nil {
		h.registry.Detach(client, payload.RoomID)
	}
	h.reply(client, msg, err)
}

func (h *Hub) hostAction(ctx context.Context, client *Client, msg *Message) {
	var payload TargetPayload
	if err := msg.ParsePayload(&payload); err != nil || payload.RoomID == "" || payload.TargetUserID == "" {
		h.reply(client, msg, errInvalidPayload)
		return
	}

	var err error
	switch msg.Type {
	case MessageTypePromote:
		_, err = h.rooms.Promote(ctx, payload.RoomID, client.userID, payload.TargetUserID)
	case MessageTypeDemote:
		_, err = h.rooms.Demote(ctx, payload.RoomID, client.userID, payload.TargetUserID)
	case MessageTypeKickUser:
		err = h.rooms.Kick(ctx, payload.RoomID, client.userID, payload.TargetUserID)
	case MessageTypeBlockUser:
		err = h.rooms.Block(ctx, payload.RoomID, client.userID, payload.TargetUserID)
	}
	h.reply(client, msg, err)
}

func (h *Hub) muteUser(ctx context.Context, client *Client, msg *Message) {
	var payload MutePayload
	if err := msg.ParsePayload(&payload); err != nil || payload.RoomID == "" || payload.TargetUserID == "" {
		h.reply(client, msg, errInvalidPayload)
		return
	}

	_, err := h.rooms.Mute(ctx, payload.RoomID, client.userID, payload.TargetUserID, payload.IsMuted)
	h.reply(client, msg, err)
}

func (h *Hub) endRoom(ctx context.Context, client *Client, msg *Message) {
	var payload RoomPayload
	if err := msg.ParsePayload(&payload); err != nil || payload.RoomID == "" {
		h.reply(client, msg, errInvalidPayload)
		return
	}

	h.reply(client, msg, h.rooms.EndRoom(ctx, payload.RoomID, client.userID))
}

func (h *Hub) roomMessage(ctx context.Context, client *Client, msg *Message) {
	var payload RoomMessagePayload
	if err := msg.ParsePayload(&payload); err != nil || payload.RoomID == "" {
		h.reply(client, msg, errInvalidPayload)
		return
	}
	if !h.registry.InRoom(client, payload.RoomID) {
		h.reply(client, msg, errNotInRoom)
		return
	}

	message, err := h.chat.Append(ctx, payload.RoomID, client.userID, payload.Message)
	if err != nil {
		h.reply(client, msg, err)
		return
	}
	h.replyWithID(client, msg, message.ID, nil)
}

func (h *Hub) editMessage(ctx context.Context, client *Client, msg *Message) {
	var payload EditMessagePayload
	if err := msg.ParsePayload(&payload); err != nil || payload.MessageID == "" {
		h.reply(client, msg, errInvalidPayload)
		return
	}

	_, err := h.chat.Edit(ctx, payload.MessageID, client.userID, payload.NewText)
	h.replyWithID(client, msg, payload.MessageID, err)
}

func (h *Hub) deleteMessage(ctx context.Context, client *Client, msg *Message) {
	var payload DeleteMessagePayload
	if err := msg.ParsePayload(&payload); err != nil || payload.MessageID == "" {
		h.reply(client, msg, errInvalidPayload)
		return
	}

	_, err := h.chat.Delete(ctx, payload.MessageID, client.userID)
	h.replyWithID(client, msg, payload.MessageID, err)
}

func (h *Hub) loadMessages(ctx context.Context, client *Client, msg *Message) {
	var payload RoomPayload
	if err := msg.ParsePayload(&payload); err != nil || payload.RoomID == "" {
		h.reply(client, msg, errInvalidPayload)
		return
	}

	messages, err := h.chat.History(ctx, payload.RoomID)
	if err != nil {
		h.reply(client, msg, err)
		return
	}

	historyMsg, _ := NewMessage(MessageTypeRoomMessages, &RoomMessagesPayload{
		RoomID:   payload.RoomID,
		Messages: messages,
	})
	historyMsg.RequestID = msg.RequestID
	client.SendMessage(historyMsg)
}

func (h *Hub) micState(ctx context.Context, client *Client, msg *Message) {
	var payload MicStatePayload
	if err := msg.ParsePayload(&payload); err != nil || payload.RoomID == "" {
		h.reply(client, msg, errInvalidPayload)
		return
	}

	h.reply(client, msg, h.rooms.RelayMicState(ctx, payload.RoomID, client.userID, payload.IsMuted))
}

func (h *Hub) cameraState(ctx context.Context, client *Client, msg *Message) {
	var payload CameraStatePayload
	if err := msg.ParsePayload(&payload); err != nil || payload.RoomID == "" {
		h.reply(client, msg, errInvalidPayload)
		return
	}

	h.reply(client, msg, h.rooms.RelayCameraState(ctx, payload.RoomID, client.userID, payload.IsCameraOn))
}

// Stats returns connection and delivery statistics
func (h *Hub) Stats() HubStats {
	stats := HubStats{Stats: h.registry.Stats()}
	if h.bus != nil {
		busStats := h.bus.Stats()
		stats.Bus = &busStats
	}
	return stats
}
