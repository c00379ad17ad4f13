package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/collabworks/officechat/internal/model"
)

// RoomStore is the persistence surface the room registry needs.
type RoomStore interface {
	Create(room *model.Room) error
	FindByID(id uuid.UUID) (*model.Room, error)
	FindPrivateRoom(userID1, userID2 uuid.UUID) (*model.Room, error)
	ListForUser(userID uuid.UUID, roomType string, archived *bool, page, perPage int) ([]model.Room, int64, error)
	Save(room *model.Room) error
	UpdateLastMessage(roomID, messageID uuid.UUID, at time.Time) error
	TouchMemberLastSeen(roomID, userID uuid.UUID) error
	ActiveMemberIDs(roomID uuid.UUID) ([]uuid.UUID, error)
	ActiveMembers(roomID uuid.UUID) ([]model.RoomMember, error)
}

// MessageStore is the persistence surface the message ledger needs.
type MessageStore interface {
	Create(msg *model.Message) error
	FindByID(id uuid.UUID) (*model.Message, error)
	Save(msg *model.Message) error
	SoftDelete(id uuid.UUID) error
	List(roomID uuid.UUID, before, after *time.Time, limit, page int) ([]model.Message, error)
	GetLastMessage(roomID uuid.UUID) (*model.Message, error)
	AddReceipt(receipt *model.ReadReceipt) error
	UnreadMessageIDs(roomID, userID uuid.UUID) ([]uuid.UUID, error)
	AddReceipts(messageIDs []uuid.UUID, userID uuid.UUID, at time.Time) error
	CountUnread(roomID, userID uuid.UUID) (int64, error)
	AddReaction(reaction *model.MessageReaction) error
	RemoveReaction(messageID, userID uuid.UUID, emoji string) error
	Search(roomID uuid.UUID, query string, limit int) ([]model.Message, error)
}

// UserStore is the slice of the user directory the chat engine reads.
type UserStore interface {
	FindByID(id uuid.UUID) (*model.User, error)
	FindByIDs(ids []uuid.UUID) ([]model.User, error)
}
