package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageType defines the type of message content
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeFile   MessageType = "file"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

// Message represents an atomic unit of room content
type Message struct {
	ID       uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	RoomID   uuid.UUID   `json:"room_id" gorm:"type:uuid;index;not null"`
	SenderID uuid.UUID   `json:"sender_id" gorm:"type:uuid;index;not null"`
	Content  string      `json:"content" gorm:"type:text"`
	Type     MessageType `json:"type" gorm:"type:varchar(20);default:'text'"`

	// File reference produced by the media subsystem; the engine only stores
	// and forwards it.
	FileID   *uuid.UUID `json:"file_id,omitempty" gorm:"type:uuid"`
	FileURL  string     `json:"file_url,omitempty" gorm:"size:1000"`
	FileName string     `json:"file_name,omitempty" gorm:"size:255"`
	FileSize int64      `json:"file_size,omitempty"`

	ReplyToID *uuid.UUID `json:"reply_to_id,omitempty" gorm:"type:uuid"`

	IsEdited bool       `json:"is_edited" gorm:"default:false"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	CreatedAt time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"` // soft delete, retained for audit

	// Relations
	Sender       User              `json:"sender" gorm:"foreignKey:SenderID"`
	Room         Room              `json:"-" gorm:"foreignKey:RoomID"`
	ReplyTo      *Message          `json:"reply_to,omitempty" gorm:"foreignKey:ReplyToID"`
	ReadReceipts []ReadReceipt     `json:"read_receipts,omitempty" gorm:"foreignKey:MessageID"`
	Reactions    []MessageReaction `json:"reactions,omitempty" gorm:"foreignKey:MessageID"`
}

// HasFileReference reports whether the message carries an attachment pointer.
func (m *Message) HasFileReference() bool {
	return m.FileID != nil || m.FileURL != ""
}

// ReadBy reports whether userID already has a receipt on this message.
func (m *Message) ReadBy(userID uuid.UUID) bool {
	for i := range m.ReadReceipts {
		if m.ReadReceipts[i].UserID == userID {
			return true
		}
	}
	return false
}

// ReactionBy returns the index of the (userID, emoji) reaction, or -1.
func (m *Message) ReactionBy(userID uuid.UUID, emoji string) int {
	for i := range m.Reactions {
		if m.Reactions[i].UserID == userID && m.Reactions[i].Emoji == emoji {
			return i
		}
	}
	return -1
}

// ReadReceipt tracks when a user read a message. A user appears at most once
// per message.
type ReadReceipt struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	MessageID uuid.UUID `json:"message_id" gorm:"type:uuid;uniqueIndex:idx_receipt_msg_user;not null"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;uniqueIndex:idx_receipt_msg_user;not null"`
	ReadAt    time.Time `json:"read_at" gorm:"not null"`

	Message Message `json:"-" gorm:"foreignKey:MessageID"`
	User    User    `json:"user" gorm:"foreignKey:UserID"`
}

// MessageReaction is a (user, emoji) pair on a message. The pair is unique;
// adding it twice is a no-op.
type MessageReaction struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	MessageID uuid.UUID `json:"message_id" gorm:"type:uuid;uniqueIndex:idx_reaction_msg_user_emoji;not null"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;uniqueIndex:idx_reaction_msg_user_emoji;not null"`
	Emoji     string    `json:"emoji" gorm:"size:32;uniqueIndex:idx_reaction_msg_user_emoji;not null"`
	CreatedAt time.Time `json:"created_at"`

	Message Message `json:"-" gorm:"foreignKey:MessageID"`
	User    User    `json:"user" gorm:"foreignKey:UserID"`
}
