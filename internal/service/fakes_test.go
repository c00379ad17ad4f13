package service

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/collabworks/officechat/internal/model"
)

// In-memory stores backing the service tests. They mirror the repository
// semantics closely enough for the invariants under test: record-not-found
// is gorm.ErrRecordNotFound, unique pairs are enforced, soft-deleted rows
// disappear from reads.

type memRoomStore struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*model.Room
}

func newMemRoomStore() *memRoomStore {
	return &memRoomStore{rooms: make(map[uuid.UUID]*model.Room)}
}

func cloneRoom(r *model.Room) *model.Room {
	c := *r
	c.Members = make([]model.RoomMember, len(r.Members))
	copy(c.Members, r.Members)
	return &c
}

func (s *memRoomStore) Create(room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room.PairKey != nil {
		for _, existing := range s.rooms {
			if existing.PairKey != nil && *existing.PairKey == *room.PairKey {
				return errors.New(`duplicate key value violates unique constraint "idx_rooms_pair_key"`)
			}
		}
	}
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	for i := range room.Members {
		if room.Members[i].ID == uuid.Nil {
			room.Members[i].ID = uuid.New()
		}
		room.Members[i].RoomID = room.ID
	}
	room.CreatedAt = time.Now()
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *memRoomStore) FindByID(id uuid.UUID) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return cloneRoom(room), nil
}

func (s *memRoomStore) FindPrivateRoom(userID1, userID2 uuid.UUID) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, room := range s.rooms {
		if room.Type != model.RoomTypePrivate || room.IsArchived {
			continue
		}
		if room.ActiveMember(userID1) != nil && room.ActiveMember(userID2) != nil {
			return cloneRoom(room), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memRoomStore) ListForUser(userID uuid.UUID, roomType string, archived *bool, page, perPage int) ([]model.Room, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*model.Room
	for _, room := range s.rooms {
		if room.ActiveMember(userID) == nil {
			continue
		}
		if roomType != "" && string(room.Type) != roomType {
			continue
		}
		if archived == nil {
			if room.IsArchived {
				continue
			}
		} else if room.IsArchived != *archived {
			continue
		}
		matched = append(matched, room)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].LastActivityAt.After(matched[j].LastActivityAt)
	})

	total := int64(len(matched))
	start := (page - 1) * perPage
	if start > len(matched) {
		start = len(matched)
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]model.Room, 0, end-start)
	for _, room := range matched[start:end] {
		out = append(out, *cloneRoom(room))
	}
	return out, total, nil
}

func (s *memRoomStore) Save(room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range room.Members {
		if room.Members[i].ID == uuid.Nil {
			room.Members[i].ID = uuid.New()
		}
		room.Members[i].RoomID = room.ID
	}
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *memRoomStore) UpdateLastMessage(roomID, messageID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	room.LastMessageID = &messageID
	room.LastActivityAt = at
	return nil
}

func (s *memRoomStore) TouchMemberLastSeen(roomID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for i := range room.Members {
		if room.Members[i].UserID == userID {
			now := time.Now()
			room.Members[i].LastSeen = &now
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *memRoomStore) ActiveMemberIDs(roomID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return room.ActiveMemberIDs(), nil
}

func (s *memRoomStore) ActiveMembers(roomID uuid.UUID) ([]model.RoomMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	var out []model.RoomMember
	for _, m := range room.Members {
		if m.IsActive {
			out = append(out, m)
		}
	}
	return out, nil
}

type memMessageStore struct {
	mu   sync.Mutex
	msgs map[uuid.UUID]*model.Message
	seq  []uuid.UUID
}

func newMemMessageStore() *memMessageStore {
	return &memMessageStore{msgs: make(map[uuid.UUID]*model.Message)}
}

func cloneMessage(m *model.Message) *model.Message {
	c := *m
	c.ReadReceipts = make([]model.ReadReceipt, len(m.ReadReceipts))
	copy(c.ReadReceipts, m.ReadReceipts)
	c.Reactions = make([]model.MessageReaction, len(m.Reactions))
	copy(c.Reactions, m.Reactions)
	return &c
}

func (s *memMessageStore) Create(msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.msgs[msg.ID] = cloneMessage(msg)
	s.seq = append(s.seq, msg.ID)
	return nil
}

func (s *memMessageStore) FindByID(id uuid.UUID) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[id]
	if !ok || msg.DeletedAt.Valid {
		return nil, gorm.ErrRecordNotFound
	}
	return cloneMessage(msg), nil
}

func (s *memMessageStore) Save(msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.msgs[msg.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	c := cloneMessage(msg)
	c.ReadReceipts = stored.ReadReceipts
	c.Reactions = stored.Reactions
	s.msgs[msg.ID] = c
	return nil
}

func (s *memMessageStore) SoftDelete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	msg.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	return nil
}

func (s *memMessageStore) List(roomID uuid.UUID, before, after *time.Time, limit, page int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*model.Message
	for _, msg := range s.msgs {
		if msg.RoomID != roomID || msg.DeletedAt.Valid {
			continue
		}
		if before != nil && !msg.CreatedAt.Before(*before) {
			continue
		}
		if after != nil && !msg.CreatedAt.After(*after) {
			continue
		}
		matched = append(matched, msg)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	start := 0
	if before == nil && after == nil {
		start = (page - 1) * limit
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]model.Message, 0, end-start)
	for _, msg := range matched[start:end] {
		out = append(out, *cloneMessage(msg))
	}
	return out, nil
}

func (s *memMessageStore) GetLastMessage(roomID uuid.UUID) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last *model.Message
	for _, msg := range s.msgs {
		if msg.RoomID != roomID || msg.DeletedAt.Valid {
			continue
		}
		if last == nil || msg.CreatedAt.After(last.CreatedAt) {
			last = msg
		}
	}
	if last == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return cloneMessage(last), nil
}

func (s *memMessageStore) AddReceipt(receipt *model.ReadReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[receipt.MessageID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if msg.ReadBy(receipt.UserID) {
		return nil
	}
	receipt.ID = uuid.New()
	msg.ReadReceipts = append(msg.ReadReceipts, *receipt)
	return nil
}

func (s *memMessageStore) AddReceipts(messageIDs []uuid.UUID, userID uuid.UUID, at time.Time) error {
	for _, id := range messageIDs {
		if err := s.AddReceipt(&model.ReadReceipt{MessageID: id, UserID: userID, ReadAt: at}); err != nil {
			return err
		}
	}
	return nil
}

func (s *memMessageStore) UnreadMessageIDs(roomID, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for _, id := range s.seq {
		msg := s.msgs[id]
		if msg.RoomID != roomID || msg.DeletedAt.Valid || msg.SenderID == userID {
			continue
		}
		if !msg.ReadBy(userID) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memMessageStore) CountUnread(roomID, userID uuid.UUID) (int64, error) {
	ids, err := s.UnreadMessageIDs(roomID, userID)
	return int64(len(ids)), err
}

func (s *memMessageStore) AddReaction(reaction *model.MessageReaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[reaction.MessageID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if msg.ReactionBy(reaction.UserID, reaction.Emoji) >= 0 {
		return nil
	}
	reaction.ID = uuid.New()
	msg.Reactions = append(msg.Reactions, *reaction)
	return nil
}

func (s *memMessageStore) RemoveReaction(messageID, userID uuid.UUID, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[messageID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if idx := msg.ReactionBy(userID, emoji); idx >= 0 {
		msg.Reactions = append(msg.Reactions[:idx], msg.Reactions[idx+1:]...)
	}
	return nil
}

func (s *memMessageStore) Search(roomID uuid.UUID, query string, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(query)
	var out []model.Message
	for _, id := range s.seq {
		msg := s.msgs[id]
		if msg.RoomID != roomID || msg.DeletedAt.Valid {
			continue
		}
		if strings.Contains(strings.ToLower(msg.Content), q) {
			out = append(out, *cloneMessage(msg))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type memUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[uuid.UUID]*model.User)}
}

func (s *memUserStore) add(name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	s.users[id] = &model.User{ID: id, Name: name, Email: name + "@example.com"}
	return id
}

func (s *memUserStore) FindByID(id uuid.UUID) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *user
	return &c, nil
}

func (s *memUserStore) FindByIDs(ids []uuid.UUID) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.User
	for _, id := range ids {
		if user, ok := s.users[id]; ok {
			out = append(out, *user)
		}
	}
	return out, nil
}
