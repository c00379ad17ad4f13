package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabworks/officechat/internal/apperr"
	"github.com/collabworks/officechat/internal/model"
)

type msgFixture struct {
	rooms    *RoomService
	messages *MessageService
	store    *memMessageStore
	roomID   uuid.UUID
	alice    uuid.UUID
	bob      uuid.UUID
	outsider uuid.UUID
}

func newMsgFixture(t *testing.T) *msgFixture {
	t.Helper()

	roomStore := newMemRoomStore()
	msgStore := newMemMessageStore()
	users := newMemUserStore()
	rooms := NewRoomService(roomStore, msgStore, users)
	messages := NewMessageService(msgStore, rooms)

	alice := users.add("alice")
	bob := users.add("bob")
	outsider := users.add("mallory")

	room, err := rooms.CreateRoom(alice, model.CreateRoomRequest{
		Name:      "Standup",
		Type:      model.RoomTypeGroup,
		MemberIDs: []uuid.UUID{bob},
	})
	require.NoError(t, err)

	return &msgFixture{
		rooms:    rooms,
		messages: messages,
		store:    msgStore,
		roomID:   room.ID,
		alice:    alice,
		bob:      bob,
		outsider: outsider,
	}
}

func TestSend_PersistsAndMovesLastMessagePointer(t *testing.T) {
	f := newMsgFixture(t)

	msg, err := f.messages.Send(f.roomID, f.alice, model.SendMessageRequest{Content: "good morning"})
	require.NoError(t, err)
	assert.Equal(t, model.MessageTypeText, msg.Type)
	assert.Equal(t, f.alice, msg.SenderID)

	room, err := f.rooms.GetRoom(f.roomID, f.alice)
	require.NoError(t, err)
	require.NotNil(t, room.LastMessageID)
	assert.Equal(t, msg.ID, *room.LastMessageID)
}

func TestSend_NonMemberForbidden(t *testing.T) {
	f := newMsgFixture(t)

	_, err := f.messages.Send(f.roomID, f.outsider, model.SendMessageRequest{Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestSend_ArchivedRoomRejected(t *testing.T) {
	f := newMsgFixture(t)
	require.NoError(t, f.rooms.Archive(f.roomID, f.alice))

	_, err := f.messages.Send(f.roomID, f.bob, model.SendMessageRequest{Content: "anyone here?"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	// Reading stays possible.
	_, err = f.messages.List(f.roomID, f.bob, model.ListMessagesRequest{})
	assert.NoError(t, err)
}

func TestSend_PayloadRules(t *testing.T) {
	f := newMsgFixture(t)

	_, err := f.messages.Send(f.roomID, f.alice, model.SendMessageRequest{Content: "   "})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidPayload, apperr.CodeOf(err))

	_, err = f.messages.Send(f.roomID, f.alice, model.SendMessageRequest{Type: model.MessageTypeFile})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidPayload, apperr.CodeOf(err))

	fileID := uuid.New()
	msg, err := f.messages.Send(f.roomID, f.alice, model.SendMessageRequest{
		FileID:   &fileID,
		FileURL:  "https://cdn.example.com/report.pdf",
		FileName: "report.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageTypeFile, msg.Type, "type inferred from the file reference")
}

func TestSend_FileSharingDisabled(t *testing.T) {
	roomStore := newMemRoomStore()
	msgStore := newMemMessageStore()
	users := newMemUserStore()
	rooms := NewRoomService(roomStore, msgStore, users)
	messages := NewMessageService(msgStore, rooms)

	alice := users.add("alice")
	off := false
	room, err := rooms.CreateRoom(alice, model.CreateRoomRequest{
		Name:     "No attachments",
		Type:     model.RoomTypeGroup,
		Settings: &model.RoomSettings{AllowFileSharing: &off},
	})
	require.NoError(t, err)

	fileID := uuid.New()
	_, err = messages.Send(room.ID, alice, model.SendMessageRequest{FileID: &fileID, FileURL: "x"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestMarkRead_Idempotent(t *testing.T) {
	f := newMsgFixture(t)

	msg, err := f.messages.Send(f.roomID, f.alice, model.SendMessageRequest{Content: "read me"})
	require.NoError(t, err)

	_, err = f.messages.MarkRead(msg.ID, f.bob)
	require.NoError(t, err)
	_, err = f.messages.MarkRead(msg.ID, f.bob)
	require.NoError(t, err)

	stored, err := f.store.FindByID(msg.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ReadReceipts, 1)
	assert.Equal(t, f.bob, stored.ReadReceipts[0].UserID)
}

func TestMarkRead_NonMemberForbidden(t *testing.T) {
	f := newMsgFixture(t)

	msg, err := f.messages.Send(f.roomID, f.alice, model.SendMessageRequest{Content: "private"})
	require.NoError(t, err)

	_, err = f.messages.MarkRead(msg.ID, f.outsider)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestMarkRoomRead_SkipsOwnAndAlreadyRead(t *testing.T) {
	f := newMsgFixture(t)

	var fromAlice []*model.Message
	for i := 0; i < 3; i++ {
		msg, err := f.messages.Send(f.roomID, f.alice, model.SendMessageRequest{Content: "update"})
		require.NoError(t, err)
		fromAlice = append(fromAlice, msg)
	}
	_, err := f.messages.Send(f.roomID, f.bob, model.SendMessageRequest{Content: "ack"})
	require.NoError(t, err)

	// Bob already read one of Alice's messages.
	_, err = f.messages.MarkRead(fromAlice[0].ID, f.bob)
	require.NoError(t, err)

	count, err := f.messages.MarkRoomRead(f.roomID, f.bob)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "own message and the already-read one are skipped")

	count, err = f.messages.MarkRoomRead(f.roomID, f.bob)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestEdit_SenderOnlyTextOnly(t *testing.T) {
	f := newMsgFixture(t)

	msg, err := f.messages.Send(f.roomID, f.alice, model.SendMessageRequest{Content: "draft"})
	require.NoError(t, err)

	_, err = f.messages.Edit(msg.ID, f.bob, "hijacked")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	edited, err := f.messages.Edit(msg.ID, f.alice, "final")
	require.NoError(t, err)
	assert.Equal(t, "final", edited.Content)
	assert.True(t, edited.IsEdited)
	require.NotNil(t, edited.EditedAt)

	fileID := uuid.New()
	fileMsg, err := f.messages.Send(f.roomID, f.alice, model.SendMessageRequest{FileID: &fileID, FileURL: "x"})
	require.NoError(t, err)

	_, err = f.messages.Edit(fileMsg.ID, f.alice, "new caption")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidPayload, apperr.CodeOf(err))
}

func TestSoftDelete_SenderOnlyAndHiddenFromReads(t *testing.T) {
	f := newMsgFixture(t)

	msg, err := f.messages.Send(f.roomID, f.alice, model.SendMessageRequest{Content: "oops"})
	require.NoError(t, err)

	_, err = f.messages.SoftDelete(msg.ID, f.bob)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	_, err = f.messages.SoftDelete(msg.ID, f.alice)
	require.NoError(t, err)

	_, err = f.messages.MarkRead(msg.ID, f.bob)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	list, err := f.messages.List(f.roomID, f.bob, model.ListMessagesRequest{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestReactions_SetSemantics(t *testing.T) {
	f := newMsgFixture(t)

	msg, err := f.messages.Send(f.roomID, f.alice, model.SendMessageRequest{Content: "ship it"})
	require.NoError(t, err)

	_, err = f.messages.AddReaction(msg.ID, f.bob, "👍")
	require.NoError(t, err)
	_, err = f.messages.AddReaction(msg.ID, f.bob, "👍")
	require.NoError(t, err)
	_, err = f.messages.AddReaction(msg.ID, f.bob, "🎉")
	require.NoError(t, err)

	stored, err := f.store.FindByID(msg.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Reactions, 2)

	_, err = f.messages.RemoveReaction(msg.ID, f.bob, "👍")
	require.NoError(t, err)
	// Removing a pair that is not there is a no-op.
	_, err = f.messages.RemoveReaction(msg.ID, f.bob, "👍")
	require.NoError(t, err)

	stored, err = f.store.FindByID(msg.ID)
	require.NoError(t, err)
	require.Len(t, stored.Reactions, 1)
	assert.Equal(t, "🎉", stored.Reactions[0].Emoji)
}

func TestAddReaction_EmptyEmojiRejected(t *testing.T) {
	f := newMsgFixture(t)

	msg, err := f.messages.Send(f.roomID, f.alice, model.SendMessageRequest{Content: "x"})
	require.NoError(t, err)

	_, err = f.messages.AddReaction(msg.ID, f.bob, "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidPayload, apperr.CodeOf(err))
}

func TestList_CursorTakesPrecedenceOverPaging(t *testing.T) {
	f := newMsgFixture(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.store.Create(&model.Message{
			RoomID:    f.roomID,
			SenderID:  f.alice,
			Content:   "msg",
			Type:      model.MessageTypeText,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	cutoff := base.Add(150 * time.Second)

	list, err := f.messages.List(f.roomID, f.bob, model.ListMessagesRequest{
		Before: &cutoff,
		Page:   99, // ignored while a cursor is present
	})
	require.NoError(t, err)
	require.Len(t, list, 3)
	// Newest first.
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))
	for _, msg := range list {
		assert.True(t, msg.CreatedAt.Before(cutoff))
	}
}

func TestSearch_MatchesContentWithinRoom(t *testing.T) {
	f := newMsgFixture(t)

	_, err := f.messages.Send(f.roomID, f.alice, model.SendMessageRequest{Content: "deploy at noon"})
	require.NoError(t, err)
	_, err = f.messages.Send(f.roomID, f.bob, model.SendMessageRequest{Content: "lunch plans"})
	require.NoError(t, err)

	results, err := f.messages.Search(f.roomID, f.bob, "deploy", 50)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "deploy")

	_, err = f.messages.Search(f.roomID, f.outsider, "deploy", 50)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestSendThenPublish_FanOutMatchesPersistenceOrder(t *testing.T) {
	f := newMsgFixture(t)

	const senders = 8
	var mu sync.Mutex
	var published []uuid.UUID
	publish := func(msg *model.Message) {
		mu.Lock()
		published = append(published, msg.ID)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	errs := make(chan error, senders)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.messages.SendThenPublish(f.roomID, f.alice, model.SendMessageRequest{
				Content: fmt.Sprintf("message %d", n),
			}, publish)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, published, senders)
	assert.Equal(t, f.store.seq, published)
}
