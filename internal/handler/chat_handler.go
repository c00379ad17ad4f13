package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/collabworks/officechat/internal/apperr"
	"github.com/collabworks/officechat/internal/model"
	"github.com/collabworks/officechat/internal/service"
	"github.com/collabworks/officechat/internal/ws"
)

// ChatHandler handles the room and message HTTP endpoints. Mutations
// persist first, then fan out over WebSocket as a side effect.
type ChatHandler struct {
	rooms    *service.RoomService
	messages *service.MessageService
	users    UserDirectory
	hub      *ws.Hub
	events   *WSHandler
}

func NewChatHandler(rooms *service.RoomService, messages *service.MessageService, users UserDirectory, hub *ws.Hub, events *WSHandler) *ChatHandler {
	return &ChatHandler{
		rooms:    rooms,
		messages: messages,
		users:    users,
		hub:      hub,
		events:   events,
	}
}

// ========== response helpers ==========

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, model.APIResponse{Success: true, Data: data})
}

func respondPage(c *gin.Context, data interface{}, meta *model.PageMeta) {
	c.JSON(http.StatusOK, model.APIResponse{Success: true, Data: data, Meta: meta})
}

func respondErr(c *gin.Context, err error) {
	appErr := apperr.From(err)
	c.JSON(appErr.HTTPStatus(), model.APIResponse{
		Success: false,
		Error:   &model.APIError{Code: string(appErr.Code), Message: appErr.Message},
	})
}

func respondBindErr(c *gin.Context, err error) {
	respondErr(c, apperr.InvalidPayload(err.Error()))
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondErr(c, apperr.InvalidPayload("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

func currentUserID(c *gin.Context) uuid.UUID {
	return c.MustGet("user_id").(uuid.UUID)
}

// ========== rooms ==========

// CreateRoom godoc
// @Summary Create a new room
// @Tags Rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.CreateRoomRequest true "Create room request"
// @Success 201 {object} model.APIResponse{data=model.Room}
// @Failure 400 {object} model.APIResponse
// @Router /rooms [post]
func (h *ChatHandler) CreateRoom(c *gin.Context) {
	var req model.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindErr(c, err)
		return
	}

	room, err := h.rooms.CreateRoom(currentUserID(c), req)
	if err != nil {
		respondErr(c, err)
		return
	}

	respond(c, http.StatusCreated, room)
}

// GetOrCreateDirect godoc
// @Summary Get or create the private room with another user
// @Description Idempotent: the same pair of users always maps to one room.
// @Tags Rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.DirectRoomRequest true "Partner ID"
// @Success 200 {object} model.APIResponse{data=model.Room}
// @Router /rooms/direct [post]
func (h *ChatHandler) GetOrCreateDirect(c *gin.Context) {
	var req model.DirectRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindErr(c, err)
		return
	}

	room, err := h.rooms.GetOrCreatePrivate(currentUserID(c), req.UserID)
	if err != nil {
		respondErr(c, err)
		return
	}

	respond(c, http.StatusOK, room)
}

// ListRooms godoc
// @Summary List the current user's rooms
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param type query string false "Filter by room type"
// @Param archived query bool false "Include archived rooms"
// @Param page query int false "Page (default 1)"
// @Param per_page query int false "Page size (default 20)"
// @Success 200 {object} model.APIResponse{data=[]model.RoomResponse}
// @Router /rooms [get]
func (h *ChatHandler) ListRooms(c *gin.Context) {
	var req model.ListRoomsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondBindErr(c, err)
		return
	}

	roomList, total, err := h.rooms.ListRooms(currentUserID(c), req)
	if err != nil {
		respondErr(c, err)
		return
	}

	respondPage(c, roomList, &model.PageMeta{Page: req.Page, PerPage: req.PerPage, Total: total})
}

// GetRoom godoc
// @Summary Get one room with its member list
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} model.APIResponse{data=model.Room}
// @Router /rooms/{id} [get]
func (h *ChatHandler) GetRoom(c *gin.Context) {
	roomID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	room, err := h.rooms.GetRoom(roomID, currentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}

	respond(c, http.StatusOK, room)
}

// JoinRoom godoc
// @Summary Join a public room
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} model.APIResponse{data=model.Room}
// @Router /rooms/{id}/join [post]
func (h *ChatHandler) JoinRoom(c *gin.Context) {
	roomID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	userID := currentUserID(c)

	room, err := h.rooms.JoinSelf(roomID, userID)
	if err != nil {
		respondErr(c, err)
		return
	}

	h.broadcastMembership(roomID, userID, model.WSEventUserJoinedRoom)
	respond(c, http.StatusOK, room)
}

// AddMember godoc
// @Summary Add a member to a room
// @Tags Rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param body body model.AddMemberRequest true "Member to add"
// @Success 200 {object} model.APIResponse{data=model.Room}
// @Router /rooms/{id}/members [post]
func (h *ChatHandler) AddMember(c *gin.Context) {
	roomID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req model.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindErr(c, err)
		return
	}

	room, err := h.rooms.AddMember(roomID, currentUserID(c), req.UserID, req.Role)
	if err != nil {
		respondErr(c, err)
		return
	}

	h.broadcastMembership(roomID, req.UserID, model.WSEventUserJoinedRoom)
	// The new member is not subscribed to the room yet, so tell them directly.
	h.hub.SendToUser(req.UserID, &model.WSEvent{
		Type:    model.WSEventAddedToRoom,
		Payload: room,
	})
	respond(c, http.StatusOK, room)
}

// RemoveMember godoc
// @Summary Remove a member, or leave the room yourself
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param userID path string true "User ID to remove"
// @Success 204
// @Router /rooms/{id}/members/{userID} [delete]
func (h *ChatHandler) RemoveMember(c *gin.Context) {
	roomID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathUUID(c, "userID")
	if !ok {
		return
	}

	if err := h.rooms.RemoveMember(roomID, currentUserID(c), targetID); err != nil {
		respondErr(c, err)
		return
	}

	h.broadcastMembership(roomID, targetID, model.WSEventUserLeftRoom)
	c.Status(http.StatusNoContent)
}

// SetMemberRole godoc
// @Summary Change a member's role
// @Tags Rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param userID path string true "Member user ID"
// @Param body body model.SetRoleRequest true "New role"
// @Success 204
// @Router /rooms/{id}/members/{userID}/role [patch]
func (h *ChatHandler) SetMemberRole(c *gin.Context) {
	roomID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathUUID(c, "userID")
	if !ok {
		return
	}

	var req model.SetRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindErr(c, err)
		return
	}

	if err := h.rooms.SetRole(roomID, currentUserID(c), targetID, req.Role); err != nil {
		respondErr(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ArchiveRoom godoc
// @Summary Archive a room
// @Description Archived rooms stay readable but reject new messages.
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 204
// @Router /rooms/{id}/archive [post]
func (h *ChatHandler) ArchiveRoom(c *gin.Context) {
	roomID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.rooms.Archive(roomID, currentUserID(c)); err != nil {
		respondErr(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// UnarchiveRoom godoc
// @Summary Restore an archived room
// @Tags Rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 204
// @Router /rooms/{id}/archive [delete]
func (h *ChatHandler) UnarchiveRoom(c *gin.Context) {
	roomID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.rooms.Unarchive(roomID, currentUserID(c)); err != nil {
		respondErr(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ========== messages ==========

// SendMessage godoc
// @Summary Send a message to a room
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param body body model.SendMessageRequest true "Message"
// @Success 201 {object} model.APIResponse{data=model.Message}
// @Router /rooms/{id}/messages [post]
func (h *ChatHandler) SendMessage(c *gin.Context) {
	roomID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindErr(c, err)
		return
	}

	msg, err := h.messages.SendThenPublish(roomID, currentUserID(c), req, h.events.BroadcastNewMessage)
	if err != nil {
		respondErr(c, err)
		return
	}

	respond(c, http.StatusCreated, msg)
}

// GetMessages godoc
// @Summary List messages in a room, newest first
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param before query string false "Only messages created before this timestamp"
// @Param after query string false "Only messages created after this timestamp"
// @Param limit query int false "Page size (default 50, max 100)"
// @Param page query int false "Offset page when no cursor is given"
// @Success 200 {object} model.APIResponse{data=[]model.Message}
// @Router /rooms/{id}/messages [get]
func (h *ChatHandler) GetMessages(c *gin.Context) {
	roomID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req model.ListMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondBindErr(c, err)
		return
	}

	messages, err := h.messages.List(roomID, currentUserID(c), req)
	if err != nil {
		respondErr(c, err)
		return
	}

	respond(c, http.StatusOK, messages)
}

// SearchMessages godoc
// @Summary Full-text search within a room
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param q query string true "Search term"
// @Param limit query int false "Max results (default 50)"
// @Success 200 {object} model.APIResponse{data=[]model.Message}
// @Router /rooms/{id}/messages/search [get]
func (h *ChatHandler) SearchMessages(c *gin.Context) {
	roomID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req model.SearchMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondBindErr(c, err)
		return
	}

	messages, err := h.messages.Search(roomID, currentUserID(c), req.Query, req.Limit)
	if err != nil {
		respondErr(c, err)
		return
	}

	respond(c, http.StatusOK, messages)
}

// MarkRoomRead godoc
// @Summary Mark every unread message in a room as read
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} model.APIResponse
// @Router /rooms/{id}/read [post]
func (h *ChatHandler) MarkRoomRead(c *gin.Context) {
	roomID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	userID := currentUserID(c)

	count, err := h.messages.MarkRoomRead(roomID, userID)
	if err != nil {
		respondErr(c, err)
		return
	}

	h.hub.BroadcastToRoomExceptUser(roomID, &model.WSEvent{
		Type:    model.WSEventRoomRead,
		Payload: model.MessageReadEvent{RoomID: roomID, UserID: userID},
	}, userID)

	respond(c, http.StatusOK, gin.H{"marked": count})
}

// MarkMessageRead godoc
// @Summary Mark one message as read
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Success 200 {object} model.APIResponse{data=model.Message}
// @Router /messages/{id}/read [post]
func (h *ChatHandler) MarkMessageRead(c *gin.Context) {
	messageID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	userID := currentUserID(c)

	msg, err := h.messages.MarkRead(messageID, userID)
	if err != nil {
		respondErr(c, err)
		return
	}

	h.hub.BroadcastToRoomExceptUser(msg.RoomID, &model.WSEvent{
		Type:    model.WSEventMessageRead,
		Payload: model.MessageReadEvent{RoomID: msg.RoomID, MessageID: &messageID, UserID: userID},
	}, userID)

	respond(c, http.StatusOK, msg)
}

// EditMessage godoc
// @Summary Edit a message's text (sender only)
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Param body body model.EditMessageRequest true "New content"
// @Success 200 {object} model.APIResponse{data=model.Message}
// @Router /messages/{id} [patch]
func (h *ChatHandler) EditMessage(c *gin.Context) {
	messageID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req model.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindErr(c, err)
		return
	}

	msg, err := h.messages.Edit(messageID, currentUserID(c), req.Content)
	if err != nil {
		respondErr(c, err)
		return
	}

	h.hub.BroadcastToRoom(msg.RoomID, &model.WSEvent{
		Type:    model.WSEventNewMessage,
		Payload: model.NewMessageEvent{RoomID: msg.RoomID, Message: msg},
	}, "")

	respond(c, http.StatusOK, msg)
}

// DeleteMessage godoc
// @Summary Delete a message (sender only, soft delete)
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Success 204
// @Router /messages/{id} [delete]
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	msg, err := h.messages.SoftDelete(messageID, currentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}

	// Subscribers get the delta only; re-sending the message body would put
	// the deleted content back on the wire.
	h.hub.BroadcastToRoom(msg.RoomID, &model.WSEvent{
		Type:    model.WSEventMessageDeleted,
		Payload: model.MessageDeletedEvent{RoomID: msg.RoomID, MessageID: msg.ID},
	}, "")

	c.Status(http.StatusNoContent)
}

// AddReaction godoc
// @Summary React to a message
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Param body body model.ReactionRequest true "Emoji"
// @Success 200 {object} model.APIResponse{data=model.Message}
// @Router /messages/{id}/reactions [post]
func (h *ChatHandler) AddReaction(c *gin.Context) {
	h.reaction(c, true)
}

// RemoveReaction godoc
// @Summary Remove a reaction from a message
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Param body body model.ReactionRequest true "Emoji"
// @Success 200 {object} model.APIResponse{data=model.Message}
// @Router /messages/{id}/reactions [delete]
func (h *ChatHandler) RemoveReaction(c *gin.Context) {
	h.reaction(c, false)
}

func (h *ChatHandler) reaction(c *gin.Context, add bool) {
	messageID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req model.ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindErr(c, err)
		return
	}
	userID := currentUserID(c)

	var (
		msg *model.Message
		err error
	)
	if add {
		msg, err = h.messages.AddReaction(messageID, userID, req.Emoji)
	} else {
		msg, err = h.messages.RemoveReaction(messageID, userID, req.Emoji)
	}
	if err != nil {
		respondErr(c, err)
		return
	}

	eventType := model.WSEventReactionAdded
	if !add {
		eventType = model.WSEventReactionRemoved
	}
	h.hub.BroadcastToRoom(msg.RoomID, &model.WSEvent{
		Type: eventType,
		Payload: model.ReactionEvent{
			RoomID:    msg.RoomID,
			MessageID: messageID,
			UserID:    userID,
			Emoji:     req.Emoji,
		},
	}, "")

	respond(c, http.StatusOK, msg)
}

// ========== devices ==========

// OnlineUsers godoc
// @Summary List users with at least one live connection
// @Tags Presence
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.APIResponse{data=[]model.UserResponse}
// @Router /presence/online [get]
func (h *ChatHandler) OnlineUsers(c *gin.Context) {
	ids := h.hub.OnlineUserIDs()
	out := make([]model.UserResponse, 0, len(ids))
	if len(ids) > 0 {
		users, err := h.users.FindByIDs(ids)
		if err != nil {
			respondErr(c, apperr.Internal("could not load online users", err))
			return
		}
		for i := range users {
			out = append(out, users[i].ToResponse())
		}
	}
	respond(c, http.StatusOK, out)
}

// RegisterDevice godoc
// @Summary Register an FCM device token for push notifications
// @Tags Devices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.RegisterDeviceRequest true "Device token"
// @Success 201 {object} model.APIResponse
// @Router /devices [post]
func (h *ChatHandler) RegisterDevice(c *gin.Context) {
	var req model.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindErr(c, err)
		return
	}

	if err := h.users.AddDevice(currentUserID(c), req.FCMToken, req.DeviceType); err != nil {
		respondErr(c, apperr.Internal("could not register device", err))
		return
	}

	respond(c, http.StatusCreated, gin.H{"registered": true})
}

// broadcastMembership tells a room's subscribers that someone joined or was
// removed via the REST surface.
func (h *ChatHandler) broadcastMembership(roomID, userID uuid.UUID, eventType string) {
	user, err := h.users.FindByID(userID)
	payload := model.RoomPresenceEvent{RoomID: roomID, UserID: userID}
	if err == nil {
		payload.User = user.ToResponse()
	}
	h.hub.BroadcastToRoom(roomID, &model.WSEvent{Type: eventType, Payload: payload}, "")
}
