package service

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/collabworks/officechat/internal/apperr"
	"github.com/collabworks/officechat/internal/model"
)

// MessageService is the message ledger: message lifecycle, read receipts and
// reactions. It leans on the room registry for every permission decision.
type MessageService struct {
	msgs  MessageStore
	rooms *RoomService

	// sends serializes persist + fan-out per room so delivery order always
	// matches persistence order when senders race.
	sends *keyedMutex
}

func NewMessageService(msgs MessageStore, rooms *RoomService) *MessageService {
	return &MessageService{msgs: msgs, rooms: rooms, sends: newKeyedMutex()}
}

// loadMessage fetches a message, retrying the read once on transient failure.
func (s *MessageService) loadMessage(id uuid.UUID) (*model.Message, error) {
	msg, err := s.msgs.FindByID(id)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		msg, err = s.msgs.FindByID(id)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("message not found")
		}
		return nil, apperr.Internal("failed to load message", err)
	}
	return msg, nil
}

// Send validates, persists and returns a new message, then moves the room's
// last-message pointer. Writes are never silently retried: a failed insert
// surfaces as a generic failure rather than risking a duplicate.
func (s *MessageService) Send(roomID, senderID uuid.UUID, req model.SendMessageRequest) (*model.Message, error) {
	return s.SendThenPublish(roomID, senderID, req, nil)
}

// SendThenPublish persists the message and, on success, invokes publish
// before releasing the room's send lock. Handlers pass their fan-out here:
// two racing senders in the same room persist and publish in the same order,
// while different rooms proceed in parallel.
func (s *MessageService) SendThenPublish(roomID, senderID uuid.UUID, req model.SendMessageRequest, publish func(*model.Message)) (*model.Message, error) {
	unlock := s.sends.Lock("send:" + roomID.String())
	defer unlock()

	msg, err := s.send(roomID, senderID, req)
	if err != nil {
		return nil, err
	}
	if publish != nil {
		publish(msg)
	}
	return msg, nil
}

func (s *MessageService) send(roomID, senderID uuid.UUID, req model.SendMessageRequest) (*model.Message, error) {
	room, err := s.rooms.loadRoom(roomID)
	if err != nil {
		return nil, err
	}
	if !room.Can(senderID, model.ActionWrite) {
		return nil, apperr.Forbidden("you cannot send messages to this room")
	}
	if room.IsArchived {
		return nil, apperr.Conflict("room is archived")
	}

	msgType := req.Type
	if msgType == "" {
		if req.FileID != nil || req.FileURL != "" {
			msgType = model.MessageTypeFile
		} else {
			msgType = model.MessageTypeText
		}
	}

	msg := &model.Message{
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   req.Content,
		Type:      msgType,
		FileID:    req.FileID,
		FileURL:   req.FileURL,
		FileName:  req.FileName,
		FileSize:  req.FileSize,
		ReplyToID: req.ReplyToID,
	}
	if err := validatePayload(room, msg); err != nil {
		return nil, err
	}

	if err := s.msgs.Create(msg); err != nil {
		return nil, apperr.Internal("failed to send message", err)
	}
	if err := s.rooms.rooms.UpdateLastMessage(roomID, msg.ID, time.Now()); err != nil {
		// The message is persisted; a stale pointer only affects sorting.
		return s.loadMessage(msg.ID)
	}
	return s.loadMessage(msg.ID)
}

// validatePayload enforces the type-specific payload rules.
func validatePayload(room *model.Room, msg *model.Message) error {
	switch msg.Type {
	case model.MessageTypeText, model.MessageTypeSystem:
		if strings.TrimSpace(msg.Content) == "" {
			return apperr.InvalidPayload("text message requires non-empty content")
		}
	case model.MessageTypeFile, model.MessageTypeImage:
		if !msg.HasFileReference() {
			return apperr.InvalidPayload("file message requires a file reference")
		}
		if !room.AllowFileSharing {
			return apperr.Forbidden("file sharing is disabled in this room")
		}
	default:
		return apperr.InvalidPayload("unknown message type")
	}
	return nil
}

// MarkRead appends a read receipt for userID. Idempotent: a second call for
// the same pair is a no-op.
func (s *MessageService) MarkRead(messageID, userID uuid.UUID) (*model.Message, error) {
	msg, err := s.loadMessage(messageID)
	if err != nil {
		return nil, err
	}
	ok, err := s.rooms.HasPermission(msg.RoomID, userID, model.ActionRead)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Forbidden("you cannot read this room")
	}
	if msg.ReadBy(userID) {
		return msg, nil
	}
	receipt := &model.ReadReceipt{MessageID: messageID, UserID: userID, ReadAt: time.Now()}
	if err := s.msgs.AddReceipt(receipt); err != nil {
		return nil, apperr.Internal("failed to record read receipt", err)
	}
	s.rooms.TouchLastSeen(msg.RoomID, userID)
	return msg, nil
}

// MarkRoomRead bulk-applies MarkRead to every non-deleted message in the
// room not authored by userID and not already read by userID. The qualifying
// set is recomputed per call; existing receipts are untouched.
func (s *MessageService) MarkRoomRead(roomID, userID uuid.UUID) (int, error) {
	ok, err := s.rooms.HasPermission(roomID, userID, model.ActionRead)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, apperr.Forbidden("you cannot read this room")
	}

	ids, err := s.msgs.UnreadMessageIDs(roomID, userID)
	if err != nil {
		return 0, apperr.Internal("failed to find unread messages", err)
	}
	if len(ids) > 0 {
		if err := s.msgs.AddReceipts(ids, userID, time.Now()); err != nil {
			return 0, apperr.Internal("failed to record read receipts", err)
		}
	}
	s.rooms.TouchLastSeen(roomID, userID)
	return len(ids), nil
}

// Edit rewrites the content of a text message. Only the original sender may
// edit, and only once-persisted text messages qualify.
func (s *MessageService) Edit(messageID, editorID uuid.UUID, newContent string) (*model.Message, error) {
	msg, err := s.loadMessage(messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != editorID {
		return nil, apperr.Forbidden("only the sender can edit a message")
	}
	if msg.Type != model.MessageTypeText {
		return nil, apperr.InvalidPayload("only text messages can be edited")
	}
	if strings.TrimSpace(newContent) == "" {
		return nil, apperr.InvalidPayload("text message requires non-empty content")
	}

	now := time.Now()
	msg.Content = newContent
	msg.IsEdited = true
	msg.EditedAt = &now
	if err := s.msgs.Save(msg); err != nil {
		return nil, apperr.Internal("failed to edit message", err)
	}
	return msg, nil
}

// SoftDelete marks the message deleted. Only the original sender may delete;
// room owners get no bypass.
func (s *MessageService) SoftDelete(messageID, requesterID uuid.UUID) (*model.Message, error) {
	msg, err := s.loadMessage(messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, apperr.Forbidden("only the sender can delete a message")
	}
	if err := s.msgs.SoftDelete(messageID); err != nil {
		return nil, apperr.Internal("failed to delete message", err)
	}
	return msg, nil
}

// AddReaction adds a (user, emoji) reaction with set semantics: adding the
// same pair twice leaves a single entry.
func (s *MessageService) AddReaction(messageID, userID uuid.UUID, emoji string) (*model.Message, error) {
	if emoji == "" {
		return nil, apperr.InvalidPayload("emoji must not be empty")
	}
	msg, err := s.loadMessage(messageID)
	if err != nil {
		return nil, err
	}
	ok, err := s.rooms.HasPermission(msg.RoomID, userID, model.ActionRead)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Forbidden("you cannot react in this room")
	}
	if msg.ReactionBy(userID, emoji) >= 0 {
		return msg, nil
	}
	reaction := &model.MessageReaction{MessageID: messageID, UserID: userID, Emoji: emoji}
	if err := s.msgs.AddReaction(reaction); err != nil {
		return nil, apperr.Internal("failed to add reaction", err)
	}
	return msg, nil
}

// RemoveReaction removes the (user, emoji) pair; a missing pair is a no-op.
func (s *MessageService) RemoveReaction(messageID, userID uuid.UUID, emoji string) (*model.Message, error) {
	msg, err := s.loadMessage(messageID)
	if err != nil {
		return nil, err
	}
	if err := s.msgs.RemoveReaction(messageID, userID, emoji); err != nil {
		return nil, apperr.Internal("failed to remove reaction", err)
	}
	return msg, nil
}

// List returns non-deleted room messages newest first. Cursor filters take
// precedence over offset paging when supplied.
func (s *MessageService) List(roomID, userID uuid.UUID, req model.ListMessagesRequest) ([]model.Message, error) {
	ok, err := s.rooms.HasPermission(roomID, userID, model.ActionRead)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Forbidden("you cannot read this room")
	}

	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	page := req.Page
	if page < 1 {
		page = 1
	}

	messages, err := s.msgs.List(roomID, req.Before, req.After, limit, page)
	if err != nil {
		return nil, apperr.Internal("failed to list messages", err)
	}
	s.rooms.TouchLastSeen(roomID, userID)
	return messages, nil
}

// Search finds room messages whose text matches the query.
func (s *MessageService) Search(roomID, userID uuid.UUID, query string, limit int) ([]model.Message, error) {
	ok, err := s.rooms.HasPermission(roomID, userID, model.ActionRead)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Forbidden("you cannot read this room")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	messages, err := s.msgs.Search(roomID, query, limit)
	if err != nil {
		return nil, apperr.Internal("failed to search messages", err)
	}
	return messages, nil
}
