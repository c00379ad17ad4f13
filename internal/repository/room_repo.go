package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/collabworks/officechat/internal/model"
)

// RoomRepository handles database operations for Room and RoomMember
type RoomRepository struct {
	db *gorm.DB
}

func NewRoomRepository(db *gorm.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// Create persists a new room together with its seeded membership.
func (r *RoomRepository) Create(room *model.Room) error {
	return r.db.Create(room).Error
}

// FindByID finds a room by ID with its membership (active and inactive).
func (r *RoomRepository) FindByID(id uuid.UUID) (*model.Room, error) {
	var room model.Room
	err := r.db.
		Preload("Members.User").
		Where("id = ?", id).
		First(&room).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// FindPrivateRoom finds the active private room between two users, if any.
// Membership order of the pair does not matter.
func (r *RoomRepository) FindPrivateRoom(userID1, userID2 uuid.UUID) (*model.Room, error) {
	var room model.Room
	err := r.db.
		Table("rooms").
		Joins("JOIN room_members m1 ON m1.room_id = rooms.id AND m1.user_id = ? AND m1.is_active", userID1).
		Joins("JOIN room_members m2 ON m2.room_id = rooms.id AND m2.user_id = ? AND m2.is_active", userID2).
		Where("rooms.type = ?", model.RoomTypePrivate).
		Where("rooms.is_archived = false").
		Preload("Members.User").
		First(&room).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// ListForUser returns rooms the user actively belongs to, newest activity
// first, with optional type and archived filters.
func (r *RoomRepository) ListForUser(userID uuid.UUID, roomType string, archived *bool, page, perPage int) ([]model.Room, int64, error) {
	query := r.db.Model(&model.Room{}).
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ? AND room_members.is_active", userID)

	if roomType != "" {
		query = query.Where("rooms.type = ?", roomType)
	}
	if archived != nil {
		query = query.Where("rooms.is_archived = ?", *archived)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rooms []model.Room
	err := query.
		Preload("Members.User").
		Order("rooms.last_activity_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&rooms).Error
	return rooms, total, err
}

// Save persists a room and all of its membership entries in one transaction.
// Used after in-memory mutations survive save-time validation.
func (r *RoomRepository) Save(room *model.Room) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Members").Save(room).Error; err != nil {
			return err
		}
		for i := range room.Members {
			if err := tx.Save(&room.Members[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateLastMessage moves the room's last-message pointer and activity clock.
func (r *RoomRepository) UpdateLastMessage(roomID, messageID uuid.UUID, at time.Time) error {
	return r.db.Model(&model.Room{}).
		Where("id = ?", roomID).
		Updates(map[string]interface{}{
			"last_message_id":  messageID,
			"last_activity_at": at,
		}).Error
}

// TouchMemberLastSeen bumps last_seen for an active member. Called on
// room-scoped read activity, not on every message.
func (r *RoomRepository) TouchMemberLastSeen(roomID, userID uuid.UUID) error {
	return r.db.Model(&model.RoomMember{}).
		Where("room_id = ? AND user_id = ? AND is_active", roomID, userID).
		Update("last_seen", time.Now()).Error
}

// ActiveMemberIDs returns user ids of all active members of a room.
func (r *RoomRepository) ActiveMemberIDs(roomID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.Model(&model.RoomMember{}).
		Where("room_id = ? AND is_active", roomID).
		Pluck("user_id", &ids).Error
	return ids, err
}

// ActiveMembers returns the active membership entries with user info.
func (r *RoomRepository) ActiveMembers(roomID uuid.UUID) ([]model.RoomMember, error) {
	var members []model.RoomMember
	err := r.db.
		Preload("User").
		Where("room_id = ? AND is_active", roomID).
		Find(&members).Error
	return members, err
}
