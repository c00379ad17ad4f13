package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User carries the display attributes the identity provider yields. The
// engine never verifies credentials itself; it trusts the provider's verdict
// and keys everything off the stable user id.
type User struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name     string    `json:"name" gorm:"size:100;not null"`
	Email    string    `json:"email" gorm:"uniqueIndex;not null;size:255"`
	Password string    `json:"-" gorm:"size:255"`
	Avatar   string    `json:"avatar" gorm:"size:500;default:''"`

	// Office directory attributes
	Department string `json:"department,omitempty" gorm:"size:100"`
	Title      string `json:"title,omitempty" gorm:"size:100"`

	IsNotificationEnabled bool `json:"is_notification_enabled" gorm:"default:true"`

	IsOnline  bool           `json:"is_online" gorm:"default:false"`
	LastSeen  *time.Time     `json:"last_seen"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// UserResponse is the safe version of User for API responses and events
type UserResponse struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Avatar     string     `json:"avatar"`
	Department string     `json:"department,omitempty"`
	Title      string     `json:"title,omitempty"`
	IsOnline   bool       `json:"is_online"`
	LastSeen   *time.Time `json:"last_seen"`
}

// ToResponse converts User to safe UserResponse
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Avatar:     u.Avatar,
		Department: u.Department,
		Title:      u.Title,
		IsOnline:   u.IsOnline,
		LastSeen:   u.LastSeen,
	}
}
