package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/go-demo/liveroom/internal/dto/request"
	"github.com/go-demo/liveroom/internal/dto/response"
	"github.com/go-demo/liveroom/internal/middleware"
	"github.com/go-demo/liveroom/internal/model"
	"github.com/go-demo/liveroom/internal/pkg/utils"
	"github.com/go-demo/liveroom/internal/service"
)

type MessageHandler struct {
	chatService *service.ChatService
}

func NewMessageHandler(chatService *service.ChatService) *MessageHandler {
	return &MessageHandler{
		chatService: chatService,
	}
}

// Register mounts the chat routes on the authenticated room group
func (h *MessageHandler) Register(rooms *gin.RouterGroup) {
	rooms.GET("/:id/messages", h.GetMessages)
	rooms.POST("/:id/messages", h.SendMessage)
	rooms.PUT("/:id/messages/:message_id", h.UpdateMessage)
	rooms.DELETE("/:id/messages/:message_id", h.DeleteMessage)
}

// validateText checks chat text before it reaches the service
func validateText(c *gin.Context, text string) bool {
	v := utils.NewValidator()
	v.ValidateMessageText("text", text, service.MaxMessageLength)
	if v.HasErrors() {
		response.ValidationError(c, v.Errors())
		return false
	}
	return true
}

// roomMessage loads the :message_id message and checks it belongs to the :id room
func (h *MessageHandler) roomMessage(c *gin.Context) (*model.Message, bool) {
	id, ok := roomID(c)
	if !ok {
		return nil, false
	}

	messageID := c.Param("message_id")
	if !utils.ValidateUUID(messageID) {
		response.BadRequest(c, "invalid message id")
		return nil, false
	}

	msg, err := h.chatService.Get(c.Request.Context(), messageID)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	if msg.RoomID != id {
		response.NotFound(c, "message not found")
		return nil, false
	}
	return msg, true
}

// SendMessage godoc
// @Summary Send a chat message
// @Description Post a message to an active room
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param request body request.SendMessageRequest true "Message"
// @Success 201 {object} response.Response{data=response.MessageResponse}
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id}/messages [post]
func (h *MessageHandler) SendMessage(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	var req request.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request format")
		return
	}
	if !validateText(c, req.Text) {
		return
	}

	msg, err := h.chatService.Append(c.Request.Context(), id, middleware.GetUserID(c), req.Text)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, response.NewMessageResponse(msg))
}

// GetMessages godoc
// @Summary Room chat history
// @Description List a room's messages in order. Deleted messages are returned without text.
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} response.Response{data=response.MessageListResponse}
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id}/messages [get]
func (h *MessageHandler) GetMessages(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	messages, err := h.chatService.History(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, response.NewMessageListResponse(messages))
}

// UpdateMessage godoc
// @Summary Edit a chat message
// @Description Replace the text of your own message
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param message_id path string true "Message ID"
// @Param request body request.UpdateMessageRequest true "New text"
// @Success 200 {object} response.Response{data=response.MessageResponse}
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id}/messages/{message_id} [put]
func (h *MessageHandler) UpdateMessage(c *gin.Context) {
	current, ok := h.roomMessage(c)
	if !ok {
		return
	}

	var req request.UpdateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request format")
		return
	}
	if !validateText(c, req.Text) {
		return
	}

	msg, err := h.chatService.Edit(c.Request.Context(), current.ID, middleware.GetUserID(c), req.Text)
	if err != nil {
		response.Error(c, err)
		return
	}
	if msg == nil {
		// Deleted in the meantime
		response.NotFound(c, "message not found")
		return
	}

	response.Success(c, response.NewMessageResponse(msg))
}

// DeleteMessage godoc
// @Summary Delete a chat message
// @Description Delete your own message, or any message in a room you host
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param message_id path string true "Message ID"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id}/messages/{message_id} [delete]
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	current, ok := h.roomMessage(c)
	if !ok {
		return
	}

	if _, err := h.chatService.Delete(c.Request.Context(), current.ID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "message deleted", nil)
}
