package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/collabworks/officechat/internal/apperr"
	"github.com/collabworks/officechat/internal/model"
	"github.com/collabworks/officechat/internal/service"
	"github.com/collabworks/officechat/internal/ws"
	"github.com/collabworks/officechat/pkg/auth"
	"github.com/collabworks/officechat/pkg/notification"
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // In production, validate origin
	},
}

// UserDirectory is the user lookup surface the chat and realtime handlers
// need. *repository.UserRepository implements it.
type UserDirectory interface {
	FindByID(id uuid.UUID) (*model.User, error)
	FindByIDs(ids []uuid.UUID) ([]model.User, error)
	UpdateOnlineStatus(id uuid.UUID, isOnline bool) error
	AddDevice(userID uuid.UUID, token string, deviceType string) error
}

// WSHandler owns the WebSocket endpoint and the real-time event dispatch.
// Every state-changing event goes through the services first; broadcasts
// happen only after the write succeeded.
type WSHandler struct {
	hub      *ws.Hub
	rooms    *service.RoomService
	messages *service.MessageService
	users    UserDirectory
	notifier *notification.Service
	jwt      *auth.JWTManager
}

func NewWSHandler(hub *ws.Hub, rooms *service.RoomService, messages *service.MessageService, users UserDirectory, notifier *notification.Service, jwt *auth.JWTManager) *WSHandler {
	return &WSHandler{
		hub:      hub,
		rooms:    rooms,
		messages: messages,
		users:    users,
		notifier: notifier,
		jwt:      jwt,
	}
}

// HandleWebSocket upgrades HTTP to WebSocket and manages the connection.
// Clients connect with: ws://host/ws?token=<jwt_token>
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	// WebSocket clients can't set an Authorization header from the browser
	// API, so the token rides in the query string.
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, model.APIResponse{
			Success: false,
			Error:   &model.APIError{Code: "UNAUTHORIZED", Message: "token required"},
		})
		return
	}

	claims, err := h.jwt.ValidateToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, model.APIResponse{
			Success: false,
			Error:   &model.APIError{Code: "UNAUTHORIZED", Message: "invalid token"},
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, claims.UserID, claims.Name)
	h.hub.Register(client)

	log.Printf("ws connected: user=%s name=%s conn=%s", claims.UserID, claims.Name, client.ID)

	go client.WritePump()
	go client.ReadPump(h.handleEvent)
}

// HandlePresenceChange is the hub's first-connect/last-disconnect callback.
// It persists the online flag and tells everyone.
func (h *WSHandler) HandlePresenceChange(userID uuid.UUID, online bool) {
	if err := h.users.UpdateOnlineStatus(userID, online); err != nil {
		log.Printf("update online status for %s: %v", userID, err)
	}

	eventType := model.WSEventUserOnline
	if !online {
		eventType = model.WSEventUserOffline
	}
	h.hub.BroadcastAll(&model.WSEvent{
		Type:    eventType,
		Payload: model.PresenceEvent{UserID: userID, User: h.userResponse(userID)},
	})
}

// HandleRoomDeparture is the hub's disconnect-time callback: the user's last
// connection subscribed to the room dropped without an explicit leave_room.
func (h *WSHandler) HandleRoomDeparture(userID, roomID uuid.UUID) {
	h.hub.BroadcastToRoomExceptUser(roomID, &model.WSEvent{
		Type:    model.WSEventUserLeftRoom,
		Payload: model.RoomPresenceEvent{RoomID: roomID, UserID: userID, User: h.userResponse(userID)},
	}, userID)
}

// handleEvent dispatches one inbound event. Failures go back to the
// originating connection only; nothing is broadcast on error.
func (h *WSHandler) handleEvent(client *ws.Client, event model.WSEvent) {
	switch event.Type {
	case model.WSEventJoinRoom:
		h.handleJoinRoom(client, event)
	case model.WSEventLeaveRoom:
		h.handleLeaveRoom(client, event)
	case model.WSEventSendMessage:
		h.handleSendMessage(client, event)
	case model.WSEventTyping:
		h.handleTyping(client, event, model.WSEventUserTyping)
	case model.WSEventStopTyping:
		h.handleTyping(client, event, model.WSEventUserStopTyping)
	case model.WSEventMarkRead:
		h.handleMarkRead(client, event)
	case model.WSEventAddReaction:
		h.handleReaction(client, event, true)
	case model.WSEventRemoveReaction:
		h.handleReaction(client, event, false)
	default:
		log.Printf("unknown ws event type from %s: %s", client.UserID, event.Type)
		client.SendError("INVALID_PAYLOAD", "unknown event type: "+event.Type)
	}
}

// decodePayload re-marshals the untyped payload into the typed struct.
func decodePayload(event model.WSEvent, out interface{}) bool {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func (h *WSHandler) sendAppError(client *ws.Client, err error) {
	appErr := apperr.From(err)
	client.SendError(string(appErr.Code), appErr.Message)
}

func (h *WSHandler) handleJoinRoom(client *ws.Client, event model.WSEvent) {
	var payload model.JoinRoomPayload
	if !decodePayload(event, &payload) || payload.RoomID == uuid.Nil {
		client.SendError("INVALID_PAYLOAD", "join_room requires room_id")
		return
	}

	ok, err := h.rooms.HasPermission(payload.RoomID, client.UserID, model.ActionRead)
	if err != nil {
		h.sendAppError(client, err)
		return
	}
	if !ok {
		client.SendError("FORBIDDEN", "not a member of this room")
		return
	}

	firstForUser := h.hub.JoinRoom(client, payload.RoomID)
	h.rooms.TouchLastSeen(payload.RoomID, client.UserID)

	// Roster reply goes to the joining connection only.
	client.Send(&model.WSEvent{
		Type: model.WSEventRoomJoined,
		Payload: model.RoomJoinedEvent{
			RoomID:        payload.RoomID,
			OnlineMembers: h.roomRoster(payload.RoomID),
		},
	})

	if firstForUser {
		h.hub.BroadcastToRoomExceptUser(payload.RoomID, &model.WSEvent{
			Type: model.WSEventUserJoinedRoom,
			Payload: model.RoomPresenceEvent{
				RoomID: payload.RoomID,
				UserID: client.UserID,
				User:   h.userResponse(client.UserID),
			},
		}, client.UserID)
	}
}

func (h *WSHandler) handleLeaveRoom(client *ws.Client, event model.WSEvent) {
	var payload model.JoinRoomPayload
	if !decodePayload(event, &payload) || payload.RoomID == uuid.Nil {
		client.SendError("INVALID_PAYLOAD", "leave_room requires room_id")
		return
	}

	lastForUser := h.hub.LeaveRoom(client, payload.RoomID)
	if lastForUser {
		h.hub.BroadcastToRoomExceptUser(payload.RoomID, &model.WSEvent{
			Type: model.WSEventUserLeftRoom,
			Payload: model.RoomPresenceEvent{
				RoomID: payload.RoomID,
				UserID: client.UserID,
				User:   h.userResponse(client.UserID),
			},
		}, client.UserID)
	}
}

func (h *WSHandler) handleSendMessage(client *ws.Client, event model.WSEvent) {
	var payload model.SendMessagePayload
	if !decodePayload(event, &payload) || payload.RoomID == uuid.Nil {
		client.SendError("INVALID_PAYLOAD", "send_message requires room_id")
		return
	}

	// The publish callback runs while the room's send lock is still held, so
	// fan-out order matches persistence order even when senders race.
	_, err := h.messages.SendThenPublish(payload.RoomID, client.UserID, model.SendMessageRequest{
		Content:   payload.Content,
		Type:      payload.Type,
		FileID:    payload.FileID,
		FileURL:   payload.FileURL,
		ReplyToID: payload.ReplyToID,
	}, h.BroadcastNewMessage)
	if err != nil {
		h.sendAppError(client, err)
	}
}

// BroadcastNewMessage fans a persisted message out to the room's online
// subscribers and pushes a notification to the offline members. Shared by
// the WebSocket path and the REST path.
func (h *WSHandler) BroadcastNewMessage(msg *model.Message) {
	h.hub.BroadcastToRoom(msg.RoomID, &model.WSEvent{
		Type:    model.WSEventNewMessage,
		Payload: model.NewMessageEvent{RoomID: msg.RoomID, Message: msg},
	}, "")

	go h.notifyOfflineMembers(msg)
}

// notifyOfflineMembers pushes to active members who are neither the sender
// nor connected anywhere, skipping members who muted the room.
func (h *WSHandler) notifyOfflineMembers(msg *model.Message) {
	if h.notifier == nil {
		return
	}

	members, err := h.rooms.ActiveMembers(msg.RoomID)
	if err != nil {
		log.Printf("load members for notification: %v", err)
		return
	}

	now := time.Now()
	var recipients []uuid.UUID
	for _, m := range members {
		if m.UserID == msg.SenderID {
			continue
		}
		if h.hub.IsUserOnline(m.UserID) {
			continue
		}
		if m.MutedUntil != nil && m.MutedUntil.After(now) {
			continue
		}
		recipients = append(recipients, m.UserID)
	}
	if len(recipients) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.notifier.SendRoomMessage(ctx, recipients, msg); err != nil {
		log.Printf("push notification for message %s: %v", msg.ID, err)
	}
}

func (h *WSHandler) handleTyping(client *ws.Client, event model.WSEvent, outType string) {
	var payload model.JoinRoomPayload
	if !decodePayload(event, &payload) || payload.RoomID == uuid.Nil {
		return
	}
	// Typing indicators are ephemeral; nothing is persisted and they only go
	// to connections already subscribed to the room.
	if !h.hub.Subscribed(client, payload.RoomID) {
		return
	}

	h.hub.BroadcastToRoomExceptUser(payload.RoomID, &model.WSEvent{
		Type: outType,
		Payload: model.TypingEvent{
			RoomID: payload.RoomID,
			UserID: client.UserID,
			User:   h.userResponse(client.UserID),
		},
	}, client.UserID)
}

func (h *WSHandler) handleMarkRead(client *ws.Client, event model.WSEvent) {
	var payload model.MarkReadPayload
	if !decodePayload(event, &payload) {
		client.SendError("INVALID_PAYLOAD", "malformed mark_read payload")
		return
	}

	switch {
	case payload.MessageID != nil:
		msg, err := h.messages.MarkRead(*payload.MessageID, client.UserID)
		if err != nil {
			h.sendAppError(client, err)
			return
		}
		h.hub.BroadcastToRoomExceptUser(msg.RoomID, &model.WSEvent{
			Type: model.WSEventMessageRead,
			Payload: model.MessageReadEvent{
				RoomID:    msg.RoomID,
				MessageID: payload.MessageID,
				UserID:    client.UserID,
			},
		}, client.UserID)

	case payload.RoomID != nil:
		if _, err := h.messages.MarkRoomRead(*payload.RoomID, client.UserID); err != nil {
			h.sendAppError(client, err)
			return
		}
		h.hub.BroadcastToRoomExceptUser(*payload.RoomID, &model.WSEvent{
			Type:    model.WSEventRoomRead,
			Payload: model.MessageReadEvent{RoomID: *payload.RoomID, UserID: client.UserID},
		}, client.UserID)

	default:
		client.SendError("INVALID_PAYLOAD", "mark_read requires message_id or room_id")
	}
}

func (h *WSHandler) handleReaction(client *ws.Client, event model.WSEvent, add bool) {
	var payload model.ReactionPayload
	if !decodePayload(event, &payload) || payload.MessageID == uuid.Nil || payload.Emoji == "" {
		client.SendError("INVALID_PAYLOAD", "reaction requires message_id and emoji")
		return
	}

	var (
		msg *model.Message
		err error
	)
	if add {
		msg, err = h.messages.AddReaction(payload.MessageID, client.UserID, payload.Emoji)
	} else {
		msg, err = h.messages.RemoveReaction(payload.MessageID, client.UserID, payload.Emoji)
	}
	if err != nil {
		h.sendAppError(client, err)
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
			MessageID: msg.ID,
			UserID:    client.UserID,
			Emoji:     payload.Emoji,
		},
	}, "")
}

// roomRoster builds the online-member list for a room_joined reply.
func (h *WSHandler) roomRoster(roomID uuid.UUID) []model.OnlineMember {
	infos := h.hub.RoomMembersOnline(roomID)
	if len(infos) == 0 {
		return []model.OnlineMember{}
	}

	seen := make(map[uuid.UUID]bool, len(infos))
	var ids []uuid.UUID
	for _, info := range infos {
		if !seen[info.UserID] {
			seen[info.UserID] = true
			ids = append(ids, info.UserID)
		}
	}

	byID := make(map[uuid.UUID]model.UserResponse, len(ids))
	if users, err := h.users.FindByIDs(ids); err == nil {
		for _, u := range users {
			byID[u.ID] = u.ToResponse()
		}
	} else {
		log.Printf("load roster users: %v", err)
	}

	roster := make([]model.OnlineMember, 0, len(infos))
	for _, info := range infos {
		roster = append(roster, model.OnlineMember{
			UserID:       info.UserID,
			ConnectionID: info.ConnectionID,
			LastSeen:     info.LastSeen,
			User:         byID[info.UserID],
		})
	}
	return roster
}

func (h *WSHandler) userResponse(userID uuid.UUID) model.UserResponse {
	user, err := h.users.FindByID(userID)
	if err != nil {
		return model.UserResponse{ID: userID}
	}
	return user.ToResponse()
}
