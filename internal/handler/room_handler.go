package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/go-demo/liveroom/internal/dto/request"
	"github.com/go-demo/liveroom/internal/dto/response"
	"github.com/go-demo/liveroom/internal/middleware"
	"github.com/go-demo/liveroom/internal/pkg/utils"
	"github.com/go-demo/liveroom/internal/service"
)

type RoomHandler struct {
	roomService *service.RoomService
}

func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	return &RoomHandler{
		roomService: roomService,
	}
}

// Register mounts the room routes on an authenticated group
func (h *RoomHandler) Register(rooms *gin.RouterGroup) {
	rooms.GET("", h.List)
	rooms.POST("", h.Create)
	rooms.GET("/:id", h.GetByID)
	rooms.PUT("/:id", h.Update)
	rooms.DELETE("/:id", h.Delete)
	rooms.POST("/:id/join", h.Join)
	rooms.POST("/:id/leave", h.Leave)
	rooms.POST("/:id/end", h.End)
	rooms.GET("/:id/members", h.ListMembers)
	rooms.POST("/:id/promote", h.Promote)
	rooms.POST("/:id/demote", h.Demote)
	rooms.POST("/:id/kick", h.Kick)
	rooms.POST("/:id/block", h.Block)
	rooms.POST("/:id/mute", h.Mute)
}

// roomID reads and checks the :id path parameter
func roomID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !utils.ValidateUUID(id) {
		response.BadRequest(c, "invalid room id")
		return "", false
	}
	return id, true
}

// bindTarget reads the member a host action applies to
func bindTarget(c *gin.Context) (string, bool) {
	var req request.TargetMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request format")
		return "", false
	}

	v := utils.NewValidator()
	v.ValidateParticipantID("target_user_id", req.TargetUserID)
	if v.HasErrors() {
		response.ValidationError(c, v.Errors())
		return "", false
	}
	return req.TargetUserID, true
}

// roomView loads a room with its current viewer count
func (h *RoomHandler) roomView(ctx context.Context, id string) (*response.RoomResponse, error) {
	room, err := h.roomService.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	return response.NewRoomResponse(&room.Room, room.ViewerCount), nil
}

// Create godoc
// @Summary Create a room
// @Description Create a live room hosted by the caller
// @Tags Rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body request.CreateRoomRequest true "Room"
// @Success 201 {object} response.Response{data=response.RoomSessionResponse}
// @Failure 400 {object} response.Response
// @Router /api/v1/rooms [post]
func (h *RoomHandler) Create(c *gin.Context) {
	var req request.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request format")
		return
	}

	v := utils.NewValidator()
	v.ValidateRoomName("name", req.Name)
	if v.HasErrors() {
		response.ValidationError(c, v.Errors())
		return
	}

	result, err := h.roomService.CreateRoom(c.Request.Context(), middleware.GetUserID(c), req.Name)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, &response.RoomSessionResponse{
		Room:       response.NewRoomResponse(result.Room, 1),
		Member:     response.NewRoomMemberResponse(result.Host),
		Credential: response.NewCredentialResponse(result.Credential),
	})
}

// List godoc
// @Summary List live rooms
// @Description List active rooms, newest first
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} response.Response{data=response.RoomListResponse}
// @Router /api/v1/rooms [get]
func (h *RoomHandler) List(c *gin.Context) {
	var req request.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, "invalid pagination parameters")
		return
	}

	rooms, err := h.roomService.ListActive(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, response.NewRoomListResponse(rooms, req.Limit, req.Offset))
}

// GetByID godoc
// @Summary Get a room
// @Description Get a room and its viewer count
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} response.Response{data=response.RoomResponse}
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id} [get]
func (h *RoomHandler) GetByID(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	room, err := h.roomView(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, room)
}

// Update godoc
// @Summary Update a room
// @Description Rename a room or change its settings (host only)
// @Tags Rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param request body request.UpdateRoomRequest true "Changes"
// @Success 200 {object} response.Response{data=response.RoomResponse}
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id} [put]
func (h *RoomHandler) Update(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	var req request.UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request format")
		return
	}

	if req.Name != nil {
		v := utils.NewValidator()
		v.ValidateRoomName("name", *req.Name)
		if v.HasErrors() {
			response.ValidationError(c, v.Errors())
			return
		}
	}

	ctx := c.Request.Context()
	_, err := h.roomService.UpdateRoom(ctx, id, middleware.GetUserID(c), &service.UpdateRoomInput{
		Name:               req.Name,
		CanInviteGuest:     req.CanInviteGuest,
		AudienceCanComment: req.AudienceCanComment,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	room, err := h.roomView(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, room)
}

// Delete godoc
// @Summary Delete a room
// @Description Delete a room with its members and messages (host only)
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id} [delete]
func (h *RoomHandler) Delete(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	if err := h.roomService.DeleteRoom(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "room deleted", nil)
}

// Join godoc
// @Summary Join a room
// @Description Join as audience, or resume an earlier membership. Returns a media credential.
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} response.Response{data=response.RoomSessionResponse}
// @Success 201 {object} response.Response{data=response.RoomSessionResponse}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/rooms/{id}/join [post]
func (h *RoomHandler) Join(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	result, err := h.roomService.JoinAsAudience(ctx, id, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	room, err := h.roomView(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	session := &response.RoomSessionResponse{
		Room:       room,
		Member:     response.NewRoomMemberResponse(result.Member),
		Credential: response.NewCredentialResponse(result.Credential),
	}
	if result.Created {
		response.Created(c, session)
		return
	}
	response.Success(c, session)
}

// Leave godoc
// @Summary Leave a room
// @Description Leave a room. The host leaving ends the room.
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id}/leave [post]
func (h *RoomHandler) Leave(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	if err := h.roomService.Leave(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "left room", nil)
}

// End godoc
// @Summary End a room
// @Description End the live session and release every member (host only)
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id}/end [post]
func (h *RoomHandler) End(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	if err := h.roomService.EndRoom(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, "room ended", nil)
}

// ListMembers godoc
// @Summary List room members
// @Description List the members currently in a room
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} response.Response{data=[]response.RoomMemberResponse}
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id}/members [get]
func (h *RoomHandler) ListMembers(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	members, err := h.roomService.ListMembers(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, response.NewRoomMemberListResponse(members))
}

// Promote godoc
// @Summary Promote to guest
// @Description Give an audience member publish rights (host only)
// @Tags Moderation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param request body request.TargetMemberRequest true "Target"
// @Success 200 {object} response.Response{data=response.MemberCredentialResponse}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /api/v1/rooms/{id}/promote [post]
func (h *RoomHandler) Promote(c *gin.Context) {
	h.changeRole(c, h.roomService.Promote)
}

// Demote godoc
// @Summary Demote to audience
// @Description Revoke a guest's publish rights (host only)
// @Tags Moderation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param request body request.TargetMemberRequest true "Target"
// @Success 200 {object} response.Response{data=response.MemberCredentialResponse}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/rooms/{id}/demote [post]
func (h *RoomHandler) Demote(c *gin.Context) {
	h.changeRole(c, h.roomService.Demote)
}

type roleChange func(ctx context.Context, roomID, hostID, targetID string) (*service.MemberResult, error)

func (h *RoomHandler) changeRole(c *gin.Context, change roleChange) {
	id, ok := roomID(c)
	if !ok {
		return
	}
	target, ok := bindTarget(c)
	if !ok {
		return
	}

	result, err := change(c.Request.Context(), id, middleware.GetUserID(c), target)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, &response.MemberCredentialResponse{
		Member:     response.NewRoomMemberResponse(result.Member),
		Credential: response.NewCredentialResponse(result.Credential),
	})
}

// Kick godoc
// @Summary Kick a member
// @Description Remove a member and bar them from rejoining (host only)
// @Tags Moderation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param request body request.TargetMemberRequest true "Target"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id}/kick [post]
func (h *RoomHandler) Kick(c *gin.Context) {
	h.ban(c, h.roomService.Kick, "member kicked")
}

// Block godoc
// @Summary Block a member
// @Description Block a member from the room for good (host only)
// @Tags Moderation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param request body request.TargetMemberRequest true "Target"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id}/block [post]
func (h *RoomHandler) Block(c *gin.Context) {
	h.ban(c, h.roomService.Block, "member blocked")
}

func (h *RoomHandler) ban(c *gin.Context, ban func(ctx context.Context, roomID, hostID, targetID string) error, message string) {
	id, ok := roomID(c)
	if !ok {
		return
	}
	target, ok := bindTarget(c)
	if !ok {
		return
	}

	if err := ban(c.Request.Context(), id, middleware.GetUserID(c), target); err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMessage(c, message, nil)
}

// Mute godoc
// @Summary Mute or unmute a member
// @Description Set a member's host-imposed mute flag (host only)
// @Tags Moderation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param request body request.MuteMemberRequest true "Target and flag"
// @Success 200 {object} response.Response{data=response.RoomMemberResponse}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/rooms/{id}/mute [post]
func (h *RoomHandler) Mute(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}

	var req request.MuteMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request format")
		return
	}

	member, err := h.roomService.Mute(c.Request.Context(), id, middleware.GetUserID(c), req.TargetUserID, *req.IsMuted)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, response.NewRoomMemberResponse(member))
}
