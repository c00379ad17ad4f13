package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/collabworks/officechat/internal/model"
)

// MessageRepository handles database operations for Message and its
// receipts/reactions
type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a new message
func (r *MessageRepository) Create(msg *model.Message) error {
	return r.db.Create(msg).Error
}

// FindByID finds a non-deleted message by ID
func (r *MessageRepository) FindByID(id uuid.UUID) (*model.Message, error) {
	var msg model.Message
	err := r.db.
		Preload("Sender").
		Preload("Reactions").
		Preload("ReadReceipts").
		Where("id = ?", id).
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Save persists in-place mutations (edit flags, content).
func (r *MessageRepository) Save(msg *model.Message) error {
	return r.db.Save(msg).Error
}

// SoftDelete marks the message deleted; the row is retained for audit.
func (r *MessageRepository) SoftDelete(id uuid.UUID) error {
	return r.db.Delete(&model.Message{}, "id = ?", id).Error
}

// List returns non-deleted messages for a room, newest first. Timestamp
// cursors take precedence over offset paging when supplied.
func (r *MessageRepository) List(roomID uuid.UUID, before, after *time.Time, limit, page int) ([]model.Message, error) {
	messages := []model.Message{}
	query := r.db.
		Preload("Sender").
		Preload("Reactions").
		Preload("ReadReceipts").
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(limit)

	switch {
	case before != nil || after != nil:
		if before != nil {
			query = query.Where("created_at < ?", *before)
		}
		if after != nil {
			query = query.Where("created_at > ?", *after)
		}
	case page > 1:
		query = query.Offset((page - 1) * limit)
	}

	err := query.Find(&messages).Error
	return messages, err
}

// GetLastMessage returns the most recent non-deleted message in a room
func (r *MessageRepository) GetLastMessage(roomID uuid.UUID) (*model.Message, error) {
	var msg model.Message
	err := r.db.
		Preload("Sender").
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// AddReceipt inserts a read receipt; a duplicate (message, user) pair is a
// no-op.
func (r *MessageRepository) AddReceipt(receipt *model.ReadReceipt) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(receipt).Error
}

// UnreadMessageIDs returns ids of non-deleted room messages not authored by
// userID and not yet read by userID.
func (r *MessageRepository) UnreadMessageIDs(roomID, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	sub := r.db.Model(&model.ReadReceipt{}).
		Select("message_id").
		Where("user_id = ?", userID)

	err := r.db.Model(&model.Message{}).
		Where("room_id = ? AND sender_id != ?", roomID, userID).
		Where("id NOT IN (?)", sub).
		Pluck("id", &ids).Error
	return ids, err
}

// AddReceipts bulk-inserts receipts for several messages at once.
func (r *MessageRepository) AddReceipts(messageIDs []uuid.UUID, userID uuid.UUID, at time.Time) error {
	if len(messageIDs) == 0 {
		return nil
	}
	receipts := make([]model.ReadReceipt, 0, len(messageIDs))
	for _, id := range messageIDs {
		receipts = append(receipts, model.ReadReceipt{MessageID: id, UserID: userID, ReadAt: at})
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&receipts).Error
}

// CountUnread counts non-deleted messages the user has not read and did not
// send.
func (r *MessageRepository) CountUnread(roomID, userID uuid.UUID) (int64, error) {
	var count int64
	sub := r.db.Model(&model.ReadReceipt{}).
		Select("message_id").
		Where("user_id = ?", userID)

	err := r.db.Model(&model.Message{}).
		Where("room_id = ? AND sender_id != ?", roomID, userID).
		Where("id NOT IN (?)", sub).
		Count(&count).Error
	return count, err
}

// AddReaction inserts a reaction; a duplicate (message, user, emoji) triple
// is a no-op.
func (r *MessageRepository) AddReaction(reaction *model.MessageReaction) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}, {Name: "emoji"}},
		DoNothing: true,
	}).Create(reaction).Error
}

// RemoveReaction deletes the (message, user, emoji) reaction if present.
func (r *MessageRepository) RemoveReaction(messageID, userID uuid.UUID, emoji string) error {
	return r.db.
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&model.MessageReaction{}).Error
}

// Search finds non-deleted room messages whose content matches the query.
func (r *MessageRepository) Search(roomID uuid.UUID, query string, limit int) ([]model.Message, error) {
	messages := []model.Message{}
	err := r.db.
		Preload("Sender").
		Where("room_id = ? AND content ILIKE ?", roomID, "%"+query+"%").
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}
