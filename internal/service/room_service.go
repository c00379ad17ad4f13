package service

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/collabworks/officechat/internal/apperr"
	"github.com/collabworks/officechat/internal/model"
)

// RoomService is the room registry: membership, permissions and room
// lifecycle. All mutations of a single room are serialized through a keyed
// mutex so the member-cap and private-room invariants hold under concurrent
// writers; different rooms proceed in parallel.
type RoomService struct {
	rooms RoomStore
	msgs  MessageStore
	users UserStore
	locks *keyedMutex
}

func NewRoomService(rooms RoomStore, msgs MessageStore, users UserStore) *RoomService {
	return &RoomService{
		rooms: rooms,
		msgs:  msgs,
		users: users,
		locks: newKeyedMutex(),
	}
}

// pairKey canonically identifies a user pair independent of argument order.
// It doubles as the lock key for private-room creation and as the room's
// stored pair key, which a unique index enforces at the schema level.
func pairKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if strings.Compare(x, y) > 0 {
		x, y = y, x
	}
	return x + ":" + y
}

// loadRoom fetches a room, retrying the read once on transient failure.
func (s *RoomService) loadRoom(roomID uuid.UUID) (*model.Room, error) {
	room, err := s.rooms.FindByID(roomID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		room, err = s.rooms.FindByID(roomID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("room not found")
		}
		return nil, apperr.Internal("failed to load room", err)
	}
	return room, nil
}

// saveRoom runs save-time validation before persisting: the creator
// invariant is re-derived, then both membership caps are enforced. A
// violation rejects the whole save with nothing persisted.
func (s *RoomService) saveRoom(room *model.Room) error {
	room.Normalize(time.Now())
	if err := room.Validate(); err != nil {
		switch {
		case errors.Is(err, model.ErrPrivateRoomCap):
			return apperr.Conflict(err.Error())
		case errors.Is(err, model.ErrEmptyName):
			return apperr.InvalidPayload(err.Error())
		default:
			return apperr.InvalidPayload(err.Error())
		}
	}
	if err := s.rooms.Save(room); err != nil {
		return apperr.Internal("failed to save room", err)
	}
	return nil
}

// CreateRoom creates a room with the creator as owner and the listed users
// as members. For private rooms it is idempotent: an existing active room
// between the pair is returned instead of a duplicate.
func (s *RoomService) CreateRoom(creatorID uuid.UUID, req model.CreateRoomRequest) (*model.Room, error) {
	if req.Type == model.RoomTypePrivate {
		if len(req.MemberIDs) != 1 || req.MemberIDs[0] == creatorID {
			return nil, apperr.InvalidPayload("private room requires exactly 1 other member")
		}
		return s.GetOrCreatePrivate(creatorID, req.MemberIDs[0])
	}

	if strings.TrimSpace(req.Name) == "" {
		return nil, apperr.InvalidPayload("room name must not be empty")
	}

	now := time.Now()
	room := &model.Room{
		Name:              strings.TrimSpace(req.Name),
		Description:       req.Description,
		Type:              req.Type,
		CreatorID:         creatorID,
		IsPublic:          req.Type == model.RoomTypePublic,
		AllowFileSharing:  true,
		AllowMemberInvite: true,
		MaxMembers:        model.DefaultMaxMembers,
		LastActivityAt:    now,
	}
	applySettings(room, req.Settings)

	room.Members = []model.RoomMember{{
		UserID:   creatorID,
		Role:     model.RoleOwner,
		JoinedAt: now,
		IsActive: true,
	}}
	for _, memberID := range req.MemberIDs {
		if memberID == creatorID {
			continue
		}
		room.Members = append(room.Members, model.RoomMember{
			UserID:   memberID,
			Role:     model.RoleMember,
			JoinedAt: now,
			IsActive: true,
		})
	}

	if room.ActiveMemberCount() > room.EffectiveMaxMembers() {
		return nil, apperr.RoomFull(fmt.Sprintf("room cannot hold more than %d members", room.EffectiveMaxMembers()))
	}
	if err := room.Validate(); err != nil {
		return nil, apperr.InvalidPayload(err.Error())
	}

	if err := s.rooms.Create(room); err != nil {
		return nil, apperr.Internal("failed to create room", err)
	}
	return s.loadRoom(room.ID)
}

// GetOrCreatePrivate finds the active private room between two users or
// creates it. Calls for the same pair are serialized so two racing calls
// cannot create a duplicate.
func (s *RoomService) GetOrCreatePrivate(myID, otherID uuid.UUID) (*model.Room, error) {
	if myID == otherID {
		return nil, apperr.InvalidPayload("cannot open a private room with yourself")
	}
	pk := pairKey(myID, otherID)
	unlock := s.locks.Lock("pair:" + pk)
	defer unlock()

	room, err := s.rooms.FindPrivateRoom(myID, otherID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Internal("failed to look up private room", err)
	}

	now := time.Now()
	room = &model.Room{
		Type:           model.RoomTypePrivate,
		CreatorID:      myID,
		PairKey:        &pk,
		MaxMembers:     2,
		LastActivityAt: now,
		Members: []model.RoomMember{
			{UserID: myID, Role: model.RoleOwner, JoinedAt: now, IsActive: true},
			{UserID: otherID, Role: model.RoleMember, JoinedAt: now, IsActive: true},
		},
	}
	if err := room.Validate(); err != nil {
		return nil, apperr.InvalidPayload(err.Error())
	}
	if err := s.rooms.Create(room); err != nil {
		// The pair lock is process-local. Another instance may have created
		// the pair between the read and the insert; the unique pair key
		// rejects the duplicate, so re-read once before giving up.
		if existing, lookupErr := s.rooms.FindPrivateRoom(myID, otherID); lookupErr == nil {
			return existing, nil
		}
		return nil, apperr.Internal("failed to create private room", err)
	}
	return s.loadRoom(room.ID)
}

// GetRoom returns room detail for a member.
func (s *RoomService) GetRoom(roomID, userID uuid.UUID) (*model.Room, error) {
	room, err := s.loadRoom(roomID)
	if err != nil {
		return nil, err
	}
	if !room.Can(userID, model.ActionRead) {
		return nil, apperr.Forbidden("you are not a member of this room")
	}
	return room, nil
}

// ListRooms returns the user's rooms, newest activity first, enriched with
// last message and unread count.
func (s *RoomService) ListRooms(userID uuid.UUID, req model.ListRoomsRequest) ([]model.RoomResponse, int64, error) {
	page, perPage := req.Page, req.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	rooms, total, err := s.rooms.ListForUser(userID, req.Type, req.Archived, page, perPage)
	if err != nil {
		return nil, 0, apperr.Internal("failed to list rooms", err)
	}

	result := make([]model.RoomResponse, 0, len(rooms))
	for i := range rooms {
		room := rooms[i]
		if lastMsg, err := s.msgs.GetLastMessage(room.ID); err == nil {
			room.LastMessage = lastMsg
		}
		unread, _ := s.msgs.CountUnread(room.ID, userID)
		result = append(result, model.RoomResponse{Room: room, UnreadCount: int(unread)})
	}
	return result, total, nil
}

// AddMember adds userID to the room, reactivating a soft-removed entry when
// one exists. Fails with ROOM_FULL when the active count has reached the cap.
func (s *RoomService) AddMember(roomID, actorID, targetID uuid.UUID, role model.MemberRole) (*model.Room, error) {
	unlock := s.locks.Lock(roomID.String())
	defer unlock()

	room, err := s.loadRoom(roomID)
	if err != nil {
		return nil, err
	}

	allowed := room.Can(actorID, model.ActionInvite) ||
		(room.AllowMemberInvite && room.Can(actorID, model.ActionRead))
	if !allowed {
		return nil, apperr.Forbidden("you cannot invite members to this room")
	}

	if role == "" {
		role = model.RoleMember
	}
	now := time.Now()

	if entry := room.MemberEntry(targetID); entry != nil {
		if entry.IsActive {
			return room, nil // already a member, idempotent
		}
		if room.ActiveMemberCount() >= room.EffectiveMaxMembers() {
			return nil, apperr.RoomFull("room is full")
		}
		entry.IsActive = true
		entry.JoinedAt = now
		entry.Role = role
	} else {
		if room.ActiveMemberCount() >= room.EffectiveMaxMembers() {
			return nil, apperr.RoomFull("room is full")
		}
		room.Members = append(room.Members, model.RoomMember{
			RoomID:   room.ID,
			UserID:   targetID,
			Role:     role,
			JoinedAt: now,
			IsActive: true,
		})
	}

	if err := s.saveRoom(room); err != nil {
		return nil, err
	}
	return room, nil
}

// JoinSelf lets a user enter a room on their own: a no-op for members, an
// automatic membership for public rooms, forbidden otherwise.
func (s *RoomService) JoinSelf(roomID, userID uuid.UUID) (*model.Room, error) {
	unlock := s.locks.Lock(roomID.String())
	defer unlock()

	room, err := s.loadRoom(roomID)
	if err != nil {
		return nil, err
	}
	if room.ActiveMember(userID) != nil {
		return room, nil
	}
	if !room.IsPublic && room.Type != model.RoomTypePublic {
		return nil, apperr.Forbidden("you are not a member of this room")
	}

	now := time.Now()
	if entry := room.MemberEntry(userID); entry != nil {
		if room.ActiveMemberCount() >= room.EffectiveMaxMembers() {
			return nil, apperr.RoomFull("room is full")
		}
		entry.IsActive = true
		entry.JoinedAt = now
	} else {
		if room.ActiveMemberCount() >= room.EffectiveMaxMembers() {
			return nil, apperr.RoomFull("room is full")
		}
		room.Members = append(room.Members, model.RoomMember{
			RoomID:   room.ID,
			UserID:   userID,
			Role:     model.RoleMember,
			JoinedAt: now,
			IsActive: true,
		})
	}
	if err := s.saveRoom(room); err != nil {
		return nil, err
	}
	return room, nil
}

// RemoveMember soft-removes a member: the entry stays, IsActive flips false.
// Removing yourself is always allowed; removing others needs permission.
// A no-op when the target is not an active member.
func (s *RoomService) RemoveMember(roomID, actorID, targetID uuid.UUID) error {
	unlock := s.locks.Lock(roomID.String())
	defer unlock()

	room, err := s.loadRoom(roomID)
	if err != nil {
		return err
	}

	if actorID != targetID && !room.Can(actorID, model.ActionRemoveMember) {
		return apperr.Forbidden("you cannot remove members from this room")
	}
	if targetID == room.CreatorID {
		return apperr.Conflict("the room creator cannot be removed")
	}

	entry := room.ActiveMember(targetID)
	if entry == nil {
		return nil
	}
	entry.IsActive = false

	return s.saveRoom(room)
}

// SetRole changes the role of an active member. Only owners may do this.
func (s *RoomService) SetRole(roomID, actorID, targetID uuid.UUID, role model.MemberRole) error {
	unlock := s.locks.Lock(roomID.String())
	defer unlock()

	room, err := s.loadRoom(roomID)
	if err != nil {
		return err
	}
	if !room.Can(actorID, model.ActionEditRoom) {
		return apperr.Forbidden("only the room owner can change roles")
	}
	entry := room.ActiveMember(targetID)
	if entry == nil {
		return apperr.NotFound("user is not an active member of this room")
	}
	entry.Role = role

	return s.saveRoom(room)
}

// HasPermission looks up the active membership entry for userID and checks
// the permission matrix. Missing entry means no permission at all.
func (s *RoomService) HasPermission(roomID, userID uuid.UUID, action model.Action) (bool, error) {
	room, err := s.loadRoom(roomID)
	if err != nil {
		return false, err
	}
	return room.Can(userID, action), nil
}

// TouchLastSeen updates the member's last_seen on room-scoped read activity.
// Failures are logged, not surfaced; the clock is advisory.
func (s *RoomService) TouchLastSeen(roomID, userID uuid.UUID) {
	if err := s.rooms.TouchMemberLastSeen(roomID, userID); err != nil {
		log.Printf("touch last_seen failed for room=%s user=%s: %v", roomID, userID, err)
	}
}

// Archive flags the room archived. Rooms are never hard-deleted.
func (s *RoomService) Archive(roomID, actorID uuid.UUID) error {
	return s.setArchived(roomID, actorID, true)
}

// Unarchive clears the archived flag.
func (s *RoomService) Unarchive(roomID, actorID uuid.UUID) error {
	return s.setArchived(roomID, actorID, false)
}

func (s *RoomService) setArchived(roomID, actorID uuid.UUID, archived bool) error {
	unlock := s.locks.Lock(roomID.String())
	defer unlock()

	room, err := s.loadRoom(roomID)
	if err != nil {
		return err
	}
	if !room.Can(actorID, model.ActionDeleteRoom) {
		return apperr.Forbidden("only the room owner can archive this room")
	}
	if room.IsArchived == archived {
		return nil
	}
	room.IsArchived = archived
	if archived {
		now := time.Now()
		room.ArchivedAt = &now
	} else {
		room.ArchivedAt = nil
	}
	return s.saveRoom(room)
}

// ActiveMemberIDs exposes room membership to the broadcaster.
func (s *RoomService) ActiveMemberIDs(roomID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := s.rooms.ActiveMemberIDs(roomID)
	if err != nil {
		return nil, apperr.Internal("failed to load room members", err)
	}
	return ids, nil
}

// ActiveMembers exposes the active membership entries with user details.
func (s *RoomService) ActiveMembers(roomID uuid.UUID) ([]model.RoomMember, error) {
	members, err := s.rooms.ActiveMembers(roomID)
	if err != nil {
		return nil, apperr.Internal("failed to load room members", err)
	}
	return members, nil
}

func applySettings(room *model.Room, settings *model.RoomSettings) {
	if settings == nil {
		return
	}
	if settings.IsPublic != nil {
		room.IsPublic = *settings.IsPublic
	}
	if settings.AllowFileSharing != nil {
		room.AllowFileSharing = *settings.AllowFileSharing
	}
	if settings.AllowMemberInvite != nil {
		room.AllowMemberInvite = *settings.AllowMemberInvite
	}
	if settings.MaxMembers != nil && *settings.MaxMembers > 0 {
		room.MaxMembers = *settings.MaxMembers
	}
	if settings.MessageRetentionDays != nil && *settings.MessageRetentionDays >= 0 {
		room.MessageRetentionDays = *settings.MessageRetentionDays
	}
}
