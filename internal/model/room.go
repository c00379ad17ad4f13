package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Save-time invariant violations. The service layer maps these onto the
// client-facing error codes.
var (
	ErrEmptyName        = errors.New("room name must not be empty")
	ErrPrivateRoomCap   = errors.New("private room cannot have more than 2 active members")
	ErrCreatorNotMember = errors.New("room creator must have an active membership")
)

// RoomType classifies a conversation space
type RoomType string

const (
	RoomTypePrivate RoomType = "private" // 1-1, at most two active members
	RoomTypeGroup   RoomType = "group"
	RoomTypeProject RoomType = "project"
	RoomTypePublic  RoomType = "public"
)

// MemberRole defines what a member may do inside a room
type MemberRole string

const (
	RoleMember MemberRole = "member"
	RoleAdmin  MemberRole = "admin"
	RoleOwner  MemberRole = "owner"
)

// Action is a room-scoped permission check target
type Action string

const (
	ActionRead         Action = "read"
	ActionWrite        Action = "write"
	ActionInvite       Action = "invite"
	ActionRemoveMember Action = "remove_member"
	ActionEditRoom     Action = "edit_room"
	ActionDeleteRoom   Action = "delete_room"
)

// permissions maps each role to the actions it is allowed to perform
var permissions = map[MemberRole]map[Action]bool{
	RoleMember: {
		ActionRead:  true,
		ActionWrite: true,
	},
	RoleAdmin: {
		ActionRead:         true,
		ActionWrite:        true,
		ActionInvite:       true,
		ActionRemoveMember: true,
	},
	RoleOwner: {
		ActionRead:         true,
		ActionWrite:        true,
		ActionInvite:       true,
		ActionRemoveMember: true,
		ActionEditRoom:     true,
		ActionDeleteRoom:   true,
	},
}

// DefaultMaxMembers applies when room settings don't specify a cap
const DefaultMaxMembers = 100

// Room represents a named conversation space
type Room struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name        string     `json:"name" gorm:"size:100;not null"`
	Description string     `json:"description,omitempty" gorm:"size:500"`
	Type        RoomType   `json:"type" gorm:"type:varchar(20);default:'group'"`
	CreatorID   uuid.UUID  `json:"creator_id" gorm:"type:uuid;not null"`

	// PairKey is the canonical user pair of a private room, NULL otherwise.
	// The unique index backs the one-private-room-per-pair invariant even
	// across instances racing on get-or-create.
	PairKey *string `json:"-" gorm:"size:80;uniqueIndex"`

	// Settings (flattened, per-room)
	IsPublic             bool `json:"is_public" gorm:"default:false"`
	AllowFileSharing     bool `json:"allow_file_sharing" gorm:"default:true"`
	AllowMemberInvite    bool `json:"allow_member_invite" gorm:"default:true"`
	MaxMembers           int  `json:"max_members" gorm:"default:100"`
	MessageRetentionDays int  `json:"message_retention_days" gorm:"default:0"`

	LastMessageID  *uuid.UUID `json:"last_message_id,omitempty" gorm:"type:uuid"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	IsArchived     bool       `json:"is_archived" gorm:"default:false"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Members     []RoomMember `json:"members,omitempty" gorm:"foreignKey:RoomID"`
	LastMessage *Message     `json:"last_message,omitempty" gorm:"-"` // populated manually
}

// RoomMember is a membership entry. Entries are never physically removed:
// leaving a room flips IsActive to false, keeping history and letting a
// re-join reactivate the same row.
type RoomMember struct {
	ID       uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	RoomID   uuid.UUID  `json:"room_id" gorm:"type:uuid;uniqueIndex:idx_room_user;not null"`
	UserID   uuid.UUID  `json:"user_id" gorm:"type:uuid;uniqueIndex:idx_room_user;not null"`
	Role     MemberRole `json:"role" gorm:"type:varchar(20);default:'member'"`
	JoinedAt time.Time  `json:"joined_at"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	IsActive bool       `json:"is_active" gorm:"default:true"`

	MutedUntil *time.Time `json:"muted_until,omitempty"`

	// Relations
	User User `json:"user" gorm:"foreignKey:UserID"`
	Room Room `json:"-" gorm:"foreignKey:RoomID"`
}

// Can reports whether role grants action per the permission matrix.
func (r MemberRole) Can(action Action) bool {
	return permissions[r][action]
}

// ActiveMember returns the active membership entry for userID, or nil.
func (rm *Room) ActiveMember(userID uuid.UUID) *RoomMember {
	for i := range rm.Members {
		if rm.Members[i].UserID == userID && rm.Members[i].IsActive {
			return &rm.Members[i]
		}
	}
	return nil
}

// MemberEntry returns the membership entry for userID regardless of IsActive.
func (rm *Room) MemberEntry(userID uuid.UUID) *RoomMember {
	for i := range rm.Members {
		if rm.Members[i].UserID == userID {
			return &rm.Members[i]
		}
	}
	return nil
}

// ActiveMemberCount counts entries with IsActive = true.
func (rm *Room) ActiveMemberCount() int {
	n := 0
	for i := range rm.Members {
		if rm.Members[i].IsActive {
			n++
		}
	}
	return n
}

// ActiveMemberIDs returns the user ids of all active members.
func (rm *Room) ActiveMemberIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rm.Members))
	for i := range rm.Members {
		if rm.Members[i].IsActive {
			ids = append(ids, rm.Members[i].UserID)
		}
	}
	return ids
}

// Can reports whether userID may perform action in this room. A user without
// an active membership entry can do nothing.
func (rm *Room) Can(userID uuid.UUID, action Action) bool {
	m := rm.ActiveMember(userID)
	if m == nil {
		return false
	}
	return m.Role.Can(action)
}

// EffectiveMaxMembers returns the member cap, falling back to the default.
func (rm *Room) EffectiveMaxMembers() int {
	if rm.MaxMembers <= 0 {
		return DefaultMaxMembers
	}
	return rm.MaxMembers
}

// Normalize enforces the creator invariant: the creator must always hold an
// active membership entry. A missing entry is synthesized as owner, an
// inactive one is reactivated.
func (rm *Room) Normalize(now time.Time) {
	entry := rm.MemberEntry(rm.CreatorID)
	if entry == nil {
		rm.Members = append(rm.Members, RoomMember{
			RoomID:   rm.ID,
			UserID:   rm.CreatorID,
			Role:     RoleOwner,
			JoinedAt: now,
			IsActive: true,
		})
		return
	}
	if !entry.IsActive {
		entry.IsActive = true
		entry.JoinedAt = now
	}
}

// Validate re-derives the save-time invariants. It is called before every
// persist; a violation rejects the whole save.
func (rm *Room) Validate() error {
	if rm.Name == "" && rm.Type != RoomTypePrivate {
		return ErrEmptyName
	}
	if rm.Type == RoomTypePrivate && rm.ActiveMemberCount() > 2 {
		return ErrPrivateRoomCap
	}
	if rm.ActiveMember(rm.CreatorID) == nil {
		return ErrCreatorNotMember
	}
	return nil
}
