package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/collabworks/officechat/internal/model"
	"github.com/collabworks/officechat/internal/service"
	"github.com/collabworks/officechat/internal/ws"
	"github.com/collabworks/officechat/pkg/auth"
)

// stubRoomStore serves a single pre-built room.
type stubRoomStore struct {
	mu   sync.Mutex
	room *model.Room
}

func (s *stubRoomStore) clone() *model.Room {
	r := *s.room
	r.Members = append([]model.RoomMember(nil), s.room.Members...)
	return &r
}

func (s *stubRoomStore) Create(room *model.Room) error { return nil }

func (s *stubRoomStore) FindByID(id uuid.UUID) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil || s.room.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return s.clone(), nil
}

func (s *stubRoomStore) FindPrivateRoom(userID1, userID2 uuid.UUID) (*model.Room, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubRoomStore) ListForUser(userID uuid.UUID, roomType string, archived *bool, page, perPage int) ([]model.Room, int64, error) {
	return nil, 0, nil
}

func (s *stubRoomStore) Save(room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
	return nil
}

func (s *stubRoomStore) UpdateLastMessage(roomID, messageID uuid.UUID, at time.Time) error {
	return nil
}

func (s *stubRoomStore) TouchMemberLastSeen(roomID, userID uuid.UUID) error { return nil }

func (s *stubRoomStore) ActiveMemberIDs(roomID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for _, m := range s.room.Members {
		if m.IsActive {
			ids = append(ids, m.UserID)
		}
	}
	return ids, nil
}

func (s *stubRoomStore) ActiveMembers(roomID uuid.UUID) ([]model.RoomMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var members []model.RoomMember
	for _, m := range s.room.Members {
		if m.IsActive {
			members = append(members, m)
		}
	}
	return members, nil
}

// stubMessageStore keeps messages in memory and records insertion order.
type stubMessageStore struct {
	mu   sync.Mutex
	msgs map[uuid.UUID]*model.Message
	seq  []uuid.UUID
}

func newStubMessageStore() *stubMessageStore {
	return &stubMessageStore{msgs: make(map[uuid.UUID]*model.Message)}
}

func (s *stubMessageStore) Create(msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now()
	stored := *msg
	s.msgs[msg.ID] = &stored
	s.seq = append(s.seq, msg.ID)
	return nil
}

func (s *stubMessageStore) FindByID(id uuid.UUID) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.msgs[id]
	if !ok || msg.DeletedAt.Valid {
		return nil, gorm.ErrRecordNotFound
	}
	out := *msg
	return &out, nil
}

func (s *stubMessageStore) Save(msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *msg
	s.msgs[msg.ID] = &stored
	return nil
}

func (s *stubMessageStore) SoftDelete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.msgs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	msg.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	return nil
}

func (s *stubMessageStore) List(roomID uuid.UUID, before, after *time.Time, limit, page int) ([]model.Message, error) {
	return nil, nil
}

func (s *stubMessageStore) GetLastMessage(roomID uuid.UUID) (*model.Message, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubMessageStore) AddReceipt(receipt *model.ReadReceipt) error { return nil }

func (s *stubMessageStore) UnreadMessageIDs(roomID, userID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (s *stubMessageStore) AddReceipts(messageIDs []uuid.UUID, userID uuid.UUID, at time.Time) error {
	return nil
}

func (s *stubMessageStore) CountUnread(roomID, userID uuid.UUID) (int64, error) { return 0, nil }

func (s *stubMessageStore) AddReaction(reaction *model.MessageReaction) error { return nil }

func (s *stubMessageStore) RemoveReaction(messageID, userID uuid.UUID, emoji string) error {
	return nil
}

func (s *stubMessageStore) Search(roomID uuid.UUID, query string, limit int) ([]model.Message, error) {
	return nil, nil
}

// stubUserDirectory satisfies both the handler's UserDirectory and the
// services' UserStore.
type stubUserDirectory struct {
	users map[uuid.UUID]*model.User
}

func (s *stubUserDirectory) FindByID(id uuid.UUID) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *u
	return &out, nil
}

func (s *stubUserDirectory) FindByIDs(ids []uuid.UUID) ([]model.User, error) {
	var out []model.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *stubUserDirectory) UpdateOnlineStatus(id uuid.UUID, isOnline bool) error { return nil }

func (s *stubUserDirectory) AddDevice(userID uuid.UUID, token string, deviceType string) error {
	return nil
}

type realtimeFixture struct {
	t        *testing.T
	srv      *httptest.Server
	chat     *ChatHandler
	messages *service.MessageService
	msgStore *stubMessageStore
	roomID   uuid.UUID
	alice    uuid.UUID
	bob      uuid.UUID
	tokens   map[uuid.UUID]string
}

func newRealtimeFixture(t *testing.T) *realtimeFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	alice := uuid.New()
	bob := uuid.New()
	roomID := uuid.New()
	now := time.Now()

	roomStore := &stubRoomStore{room: &model.Room{
		ID:               roomID,
		Name:             "Standup",
		Type:             model.RoomTypeGroup,
		CreatorID:        alice,
		AllowFileSharing: true,
		MaxMembers:       model.DefaultMaxMembers,
		LastActivityAt:   now,
		Members: []model.RoomMember{
			{ID: uuid.New(), RoomID: roomID, UserID: alice, Role: model.RoleOwner, JoinedAt: now, IsActive: true},
			{ID: uuid.New(), RoomID: roomID, UserID: bob, Role: model.RoleMember, JoinedAt: now, IsActive: true},
		},
	}}
	msgStore := newStubMessageStore()
	users := &stubUserDirectory{users: map[uuid.UUID]*model.User{
		alice: {ID: alice, Name: "alice", Email: "alice@example.com"},
		bob:   {ID: bob, Name: "bob", Email: "bob@example.com"},
	}}

	rooms := service.NewRoomService(roomStore, msgStore, users)
	messages := service.NewMessageService(msgStore, rooms)

	jwtManager := auth.NewJWTManager("realtime-test-secret", time.Hour)

	hub := ws.NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	wsHandler := NewWSHandler(hub, rooms, messages, users, nil, jwtManager)
	chat := NewChatHandler(rooms, messages, users, hub, wsHandler)

	router := gin.New()
	router.GET("/ws", wsHandler.HandleWebSocket)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	tokens := make(map[uuid.UUID]string)
	for id, u := range users.users {
		token, err := jwtManager.GenerateToken(id, u.Email, u.Name)
		require.NoError(t, err)
		tokens[id] = token
	}

	return &realtimeFixture{
		t:        t,
		srv:      srv,
		chat:     chat,
		messages: messages,
		msgStore: msgStore,
		roomID:   roomID,
		alice:    alice,
		bob:      bob,
		tokens:   tokens,
	}
}

func (f *realtimeFixture) dial(userID uuid.UUID) *websocket.Conn {
	f.t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=" + f.tokens[userID]
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(f.t, err)
	if resp != nil {
		resp.Body.Close()
	}
	f.t.Cleanup(func() { conn.Close() })
	return conn
}

// eventReader splits coalesced frames back into individual events.
type eventReader struct {
	conn    *websocket.Conn
	pending [][]byte
}

func (r *eventReader) next(t *testing.T) model.WSEvent {
	t.Helper()
	for len(r.pending) == 0 {
		r.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, frame, err := r.conn.ReadMessage()
		require.NoError(t, err)
		r.pending = bytes.Split(frame, []byte("\n"))
	}
	raw := r.pending[0]
	r.pending = r.pending[1:]
	var event model.WSEvent
	require.NoError(t, json.Unmarshal(raw, &event))
	return event
}

func joinRoom(t *testing.T, conn *websocket.Conn, reader *eventReader, roomID uuid.UUID) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(model.WSEvent{
		Type:    model.WSEventJoinRoom,
		Payload: model.JoinRoomPayload{RoomID: roomID},
	}))
	event := reader.next(t)
	require.Equal(t, model.WSEventRoomJoined, event.Type)
}

// restContext builds a gin context the way the router would for an
// authenticated request.
func restContext(method, target, param string, userID uuid.UUID, body string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	if body != "" {
		c.Request = httptest.NewRequest(method, target, strings.NewReader(body))
		c.Request.Header.Set("Content-Type", "application/json")
	} else {
		c.Request = httptest.NewRequest(method, target, nil)
	}
	c.Params = gin.Params{{Key: "id", Value: param}}
	c.Set("user_id", userID)
	return c, w
}

func TestDeleteMessageBroadcastsDeltaWithoutContent(t *testing.T) {
	f := newRealtimeFixture(t)

	msg, err := f.messages.Send(f.roomID, f.bob, model.SendMessageRequest{Content: "quarterly numbers"})
	require.NoError(t, err)

	conn := f.dial(f.alice)
	reader := &eventReader{conn: conn}
	joinRoom(t, conn, reader, f.roomID)

	c, w := restContext(http.MethodDelete, "/api/v1/messages/"+msg.ID.String(), msg.ID.String(), f.bob, "")
	f.chat.DeleteMessage(c)
	// The router flushes the pending status after handlers return; calling the
	// handler directly skips that, so flush before reading the recorder.
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)

	event := reader.next(t)
	require.Equal(t, model.WSEventMessageDeleted, event.Type)

	payload, ok := event.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, msg.ID.String(), payload["message_id"])
	assert.Equal(t, f.roomID.String(), payload["room_id"])

	// The deletion event carries ids only. The original body must never
	// ride along.
	assert.NotContains(t, payload, "content")
	assert.NotContains(t, payload, "message")
}

func TestConcurrentSendsDeliverInPersistenceOrder(t *testing.T) {
	f := newRealtimeFixture(t)

	conn := f.dial(f.alice)
	reader := &eventReader{conn: conn}
	joinRoom(t, conn, reader, f.roomID)

	const senders = 6
	var wg sync.WaitGroup
	errs := make(chan error, senders)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"content":"message %d"}`, n)
			c, w := restContext(http.MethodPost, "/api/v1/rooms/"+f.roomID.String()+"/messages", f.roomID.String(), f.bob, body)
			f.chat.SendMessage(c)
			if w.Code != http.StatusCreated {
				errs <- fmt.Errorf("send %d: status %d", n, w.Code)
				return
			}
			errs <- nil
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var delivered []string
	for i := 0; i < senders; i++ {
		event := reader.next(t)
		require.Equal(t, model.WSEventNewMessage, event.Type)
		payload, ok := event.Payload.(map[string]interface{})
		require.True(t, ok)
		msg, ok := payload["message"].(map[string]interface{})
		require.True(t, ok)
		delivered = append(delivered, msg["id"].(string))
	}

	f.msgStore.mu.Lock()
	persisted := make([]string, len(f.msgStore.seq))
	for i, id := range f.msgStore.seq {
		persisted[i] = id.String()
	}
	f.msgStore.mu.Unlock()

	assert.Equal(t, persisted, delivered)
}

func TestUpgraderEnforcesHandshakeDeadline(t *testing.T) {
	assert.Greater(t, upgrader.HandshakeTimeout, time.Duration(0),
		"a stalled client handshake must not hold the connection open indefinitely")
}
