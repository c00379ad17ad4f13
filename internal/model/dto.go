package model

import (
	"time"

	"github.com/google/uuid"
)

// ========== API envelope ==========

// APIError is the error half of the uniform response envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIResponse is the uniform envelope every REST endpoint returns:
// {success, data|error}.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *PageMeta   `json:"meta,omitempty"`
}

// PageMeta describes offset pagination for list endpoints.
type PageMeta struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total,omitempty"`
}

// ========== Room DTOs ==========

type CreateRoomRequest struct {
	Name        string       `json:"name" binding:"required_unless=Type private,max=100"`
	Description string       `json:"description" binding:"max=500"`
	Type        RoomType     `json:"type" binding:"required,oneof=private group project public"`
	MemberIDs   []uuid.UUID  `json:"member_ids"`
	Settings    *RoomSettings `json:"settings"`
}

// RoomSettings is the optional settings block on room creation/update.
type RoomSettings struct {
	IsPublic             *bool `json:"is_public"`
	AllowFileSharing     *bool `json:"allow_file_sharing"`
	AllowMemberInvite    *bool `json:"allow_member_invite"`
	MaxMembers           *int  `json:"max_members"`
	MessageRetentionDays *int  `json:"message_retention_days"`
}

type DirectRoomRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

type AddMemberRequest struct {
	UserID uuid.UUID  `json:"user_id" binding:"required"`
	Role   MemberRole `json:"role" binding:"omitempty,oneof=member admin owner"`
}

type SetRoleRequest struct {
	Role MemberRole `json:"role" binding:"required,oneof=member admin owner"`
}

type ListRoomsRequest struct {
	Type     string `form:"type" binding:"omitempty,oneof=private group project public"`
	Archived *bool  `form:"archived"`
	Page     int    `form:"page,default=1"`
	PerPage  int    `form:"per_page,default=20"`
}

// RoomResponse enriches a room with listing metadata.
type RoomResponse struct {
	Room
	UnreadCount int `json:"unread_count"`
}

// ========== Message DTOs ==========

type SendMessageRequest struct {
	Content   string      `json:"content"`
	Type      MessageType `json:"type" binding:"omitempty,oneof=text file image system"`
	FileID    *uuid.UUID  `json:"file_id"`
	FileURL   string      `json:"file_url"`
	FileName  string      `json:"file_name"`
	FileSize  int64       `json:"file_size"`
	ReplyToID *uuid.UUID  `json:"reply_to_id"`
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required,max=32"`
}

// ListMessagesRequest supports both cursor filters and offset paging; the
// before/after timestamps take precedence when supplied.
type ListMessagesRequest struct {
	Before *time.Time `form:"before" time_format:"2006-01-02T15:04:05.999999999Z07:00"`
	After  *time.Time `form:"after" time_format:"2006-01-02T15:04:05.999999999Z07:00"`
	Limit  int        `form:"limit,default=50"`
	Page   int        `form:"page,default=1"`
}

type SearchMessagesRequest struct {
	Query string `form:"q" binding:"required,min=1"`
	Limit int    `form:"limit,default=50"`
}

type RegisterDeviceRequest struct {
	FCMToken   string `json:"fcm_token" binding:"required"`
	DeviceType string `json:"device_type" binding:"required,oneof=android ios web"`
}

// ========== WebSocket events ==========

// WSEvent is the wire envelope for every real-time event. Each event type has
// exactly one payload struct below; payloads never gain ad-hoc fields.
type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Inbound event types (client -> server)
const (
	WSEventJoinRoom       = "join_room"
	WSEventLeaveRoom      = "leave_room"
	WSEventSendMessage    = "send_message"
	WSEventTyping         = "typing"
	WSEventStopTyping     = "stop_typing"
	WSEventMarkRead       = "mark_read"
	WSEventAddReaction    = "add_reaction"
	WSEventRemoveReaction = "remove_reaction"
)

// Outbound event types (server -> client)
const (
	WSEventRoomJoined      = "room_joined"
	WSEventAddedToRoom     = "added_to_room"
	WSEventUserJoinedRoom  = "user_joined_room"
	WSEventUserLeftRoom    = "user_left_room"
	WSEventNewMessage      = "new_message"
	WSEventMessageDeleted  = "message_deleted"
	WSEventUserTyping      = "user_typing"
	WSEventUserStopTyping  = "user_stop_typing"
	WSEventMessageRead     = "message_read"
	WSEventRoomRead        = "room_read"
	WSEventReactionAdded   = "reaction_added"
	WSEventReactionRemoved = "reaction_removed"
	WSEventUserOnline      = "user_online"
	WSEventUserOffline     = "user_offline"
	WSEventError           = "error"
)

// --- inbound payloads ---

type JoinRoomPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

type SendMessagePayload struct {
	RoomID    uuid.UUID   `json:"room_id"`
	Content   string      `json:"content,omitempty"`
	Type      MessageType `json:"message_type,omitempty"`
	FileID    *uuid.UUID  `json:"file_id,omitempty"`
	FileURL   string      `json:"file_url,omitempty"`
	ReplyToID *uuid.UUID  `json:"reply_to,omitempty"`
}

// MarkReadPayload marks one message (message_id set) or a whole room.
type MarkReadPayload struct {
	MessageID *uuid.UUID `json:"message_id,omitempty"`
	RoomID    *uuid.UUID `json:"room_id,omitempty"`
}

type ReactionPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	RoomID    uuid.UUID `json:"room_id"`
	Emoji     string    `json:"emoji"`
}

// --- outbound payloads ---

// OnlineMember is one entry of the roster returned on room join.
type OnlineMember struct {
	UserID       uuid.UUID    `json:"user_id"`
	ConnectionID string       `json:"connection_id"`
	LastSeen     time.Time    `json:"last_seen"`
	User         UserResponse `json:"user"`
}

type RoomJoinedEvent struct {
	RoomID        uuid.UUID      `json:"room_id"`
	OnlineMembers []OnlineMember `json:"online_members"`
}

type RoomPresenceEvent struct {
	RoomID uuid.UUID    `json:"room_id"`
	UserID uuid.UUID    `json:"user_id"`
	User   UserResponse `json:"user"`
}

type NewMessageEvent struct {
	RoomID  uuid.UUID `json:"room_id"`
	Message *Message  `json:"message"`
}

// MessageDeletedEvent is the deletion delta. Only the ids go out; the deleted
// content is never re-delivered.
type MessageDeletedEvent struct {
	RoomID    uuid.UUID `json:"room_id"`
	MessageID uuid.UUID `json:"message_id"`
}

type TypingEvent struct {
	RoomID uuid.UUID    `json:"room_id"`
	UserID uuid.UUID    `json:"user_id"`
	User   UserResponse `json:"user"`
}

type MessageReadEvent struct {
	RoomID    uuid.UUID  `json:"room_id"`
	MessageID *uuid.UUID `json:"message_id,omitempty"`
	UserID    uuid.UUID  `json:"user_id"`
}

type ReactionEvent struct {
	RoomID    uuid.UUID `json:"room_id"`
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
}

type PresenceEvent struct {
	UserID uuid.UUID    `json:"user_id"`
	User   UserResponse `json:"user"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ========== Upload ==========

// UploadResponse is returned by the file/media subsystem adapter.
type UploadResponse struct {
	FileID   uuid.UUID `json:"file_id"`
	URL      string    `json:"url"`
	FileName string    `json:"file_name"`
	FileSize int64     `json:"file_size"`
	MimeType string    `json:"mime_type"`
}
