package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swapmeet/swapmeet-backend/internal/domain"
	"github.com/swapmeet/swapmeet-backend/internal/wire"
)

type fakeAuth struct{}

func (fakeAuth) Authenticate(token string) (Identity, error) {
	if !strings.HasPrefix(token, "tok-") {
		return Identity{}, errors.New("bad token")
	}
	uid := strings.TrimPrefix(token, "tok-")
	return Identity{UserID: uid, Username: "name-" + uid}, nil
}

type recordingPresence struct {
	mu    sync.Mutex
	users []string
}

func (p *recordingPresence) Heartbeat(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, userID)
	return nil
}

func (p *recordingPresence) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.users...)
}

func newTestHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	if cfg.AuthTimeout == 0 {
		cfg.AuthTimeout = time.Hour
	}
	h := NewHub(fakeAuth{}, nil, cfg)
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func frame(t *testing.T, event string, data interface{}) []byte {
	t.Helper()
	b, err := wire.Encode(event, data)
	require.NoError(t, err)
	return b
}

func next(t *testing.T, s *Session) wire.Envelope {
	t.Helper()
	select {
	case f, ok := <-s.Frames():
		require.True(t, ok, "session closed")
		env, err := wire.Decode(f)
		require.NoError(t, err)
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return wire.Envelope{}
}

func expectNone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case f, ok := <-s.Frames():
		if ok {
			t.Fatalf("unexpected frame %s", f)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func expectClosed(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-s.Frames():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("session was not closed")
		}
	}
}

func connect(t *testing.T, h *Hub, userID string) *Session {
	t.Helper()
	s := NewSession(h, nil)
	h.Register(s)
	s.Receive(frame(t, wire.EventAuthenticate, wire.Authenticate{UserID: userID, Token: "tok-" + userID}))

	env := next(t, s)
	require.Equal(t, wire.EventAuthenticated, env.Event)
	var ack wire.Authenticated
	require.NoError(t, json.Unmarshal(env.Data, &ack))
	require.True(t, ack.Success)
	return s
}

func join(t *testing.T, s *Session, listingID, other string) {
	t.Helper()
	s.Receive(frame(t, wire.EventJoinConversation, wire.Conversation{ListingID: listingID, OtherUserID: other}))
}

func message(listingID, from, to string) *domain.Message {
	return &domain.Message{
		ID:         "m-" + from + "-" + to,
		ListingID:  listingID,
		SenderID:   from,
		ReceiverID: to,
		Content:    "hi",
		CreatedAt:  time.Now(),
	}
}

func TestHub_AuthenticateJoinsUserRoom(t *testing.T) {
	h := newTestHub(t, Config{})
	connect(t, h, "u1")

	assert.Equal(t, 1, h.RoomSize(wire.UserRoom("u1")))
	st := h.Stats()
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, 1, st.Authenticated)
}

func TestHub_AuthenticateRecordsPresence(t *testing.T) {
	p := &recordingPresence{}
	h := NewHub(fakeAuth{}, p, Config{AuthTimeout: time.Hour})
	go h.Run()
	defer h.Stop()

	connect(t, h, "u1")
	assert.Eventually(t, func() bool {
		return len(p.seen()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"u1"}, p.seen())
}

func TestHub_AuthenticateRejected(t *testing.T) {
	tests := []struct {
		name    string
		payload wire.Authenticate
	}{
		{"bad token", wire.Authenticate{UserID: "u1", Token: "nope"}},
		{"token for another user", wire.Authenticate{UserID: "u1", Token: "tok-u2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHub(t, Config{})
			s := NewSession(h, nil)
			h.Register(s)
			s.Receive(frame(t, wire.EventAuthenticate, tt.payload))

			env := next(t, s)
			require.Equal(t, wire.EventAuthenticated, env.Event)
			var ack wire.Authenticated
			require.NoError(t, json.Unmarshal(env.Data, &ack))
			assert.False(t, ack.Success)
			assert.NotEmpty(t, ack.Error)

			expectClosed(t, s)
			assert.Equal(t, 0, h.RoomSize(wire.UserRoom("u1")))
		})
	}
}

func TestHub_EventsBeforeAuthenticateIgnored(t *testing.T) {
	h := newTestHub(t, Config{})
	s := NewSession(h, nil)
	h.Register(s)

	join(t, s, "L1", "u2")
	s.Receive(frame(t, wire.EventTyping, wire.Typing{ListingID: "L1", ReceiverID: "u2", IsTyping: true}))

	assert.Equal(t, 0, h.RoomSize(wire.ConversationRoom("L1", "u1", "u2")))
	assert.Equal(t, 0, h.Stats().Rooms)
	expectNone(t, s)
}

func TestHub_MalformedFrameIgnored(t *testing.T) {
	h := newTestHub(t, Config{})
	s := connect(t, h, "u1")

	s.Receive([]byte("not json"))
	s.Receive([]byte(`{"event":"join_conversation","data":{"listingId":"L1"}}`))
	s.Receive([]byte(`{"event":"shout","data":{}}`))

	assert.Equal(t, 1, h.Stats().Sessions)
	assert.Equal(t, 0, h.RoomSize(wire.ConversationRoom("L1", "u1", "")))
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	h := newTestHub(t, Config{})
	buyer := connect(t, h, "buyer")

	join(t, buyer, "L1", "seller")
	join(t, buyer, "L1", "seller")
	assert.Equal(t, 1, h.RoomSize(wire.ConversationRoom("L1", "buyer", "seller")))

	h.EmitNewMessage(message("L1", "seller", "buyer"))
	env := next(t, buyer)
	assert.Equal(t, wire.EventNewMessage, env.Event)
	expectNone(t, buyer)
}

func TestHub_NewMessageReachesConversationRoomOnly(t *testing.T) {
	h := newTestHub(t, Config{})
	buyer := connect(t, h, "buyer")
	seller := connect(t, h, "seller")
	other := connect(t, h, "other")

	join(t, buyer, "L1", "seller")
	join(t, seller, "L1", "buyer")
	join(t, other, "L2", "seller")

	msg := message("L1", "buyer", "seller")
	h.EmitNewMessage(msg)

	for _, s := range []*Session{buyer, seller} {
		env := next(t, s)
		assert.Equal(t, wire.EventNewMessage, env.Event)
		var got domain.Message
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, msg.ID, got.ID)
	}
	expectNone(t, other)
}

func TestHub_JoinWithSeparatorInIDIgnored(t *testing.T) {
	h := newTestHub(t, Config{})
	other := connect(t, h, "other")

	join(t, other, "L1:buyer", "seller")
	join(t, other, "L1", "buyer:seller")

	h.EmitNewMessage(message("L1", "buyer", "seller"))
	expectNone(t, other)
	assert.Equal(t, 0, h.RoomSize(wire.ConversationRoom("L1:buyer", "other", "seller")))
	assert.Equal(t, 0, h.RoomSize(wire.ConversationRoom("L1", "other", "buyer:seller")))
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	h := newTestHub(t, Config{})
	buyer := connect(t, h, "buyer")

	join(t, buyer, "L1", "seller")
	buyer.Receive(frame(t, wire.EventLeaveConversation, wire.Conversation{ListingID: "L1", OtherUserID: "seller"}))
	// leaving twice is harmless
	buyer.Receive(frame(t, wire.EventLeaveConversation, wire.Conversation{ListingID: "L1", OtherUserID: "seller"}))

	h.EmitNewMessage(message("L1", "seller", "buyer"))
	expectNone(t, buyer)
	assert.Equal(t, 0, h.RoomSize(wire.ConversationRoom("L1", "buyer", "seller")))
}

func TestHub_TypingReachesReceiverOnly(t *testing.T) {
	h := newTestHub(t, Config{})
	buyer := connect(t, h, "buyer")
	seller := connect(t, h, "seller")
	join(t, buyer, "L1", "seller")
	join(t, seller, "L1", "buyer")

	buyer.Receive(frame(t, wire.EventTyping, wire.Typing{ListingID: "L1", ReceiverID: "seller", IsTyping: true}))

	env := next(t, seller)
	assert.Equal(t, wire.EventUserTyping, env.Event)
	var got wire.UserTyping
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, wire.UserTyping{ListingID: "L1", UserID: "buyer", Username: "name-buyer", IsTyping: true}, got)

	expectNone(t, buyer)
}

func TestHub_TypingNotDeliveredOutsideConversation(t *testing.T) {
	h := newTestHub(t, Config{})
	buyer := connect(t, h, "buyer")
	seller := connect(t, h, "seller")
	join(t, buyer, "L1", "seller")

	buyer.Receive(frame(t, wire.EventTyping, wire.Typing{ListingID: "L1", ReceiverID: "seller", IsTyping: true}))
	expectNone(t, seller)
}

func TestHub_NotificationReachesEveryTab(t *testing.T) {
	h := newTestHub(t, Config{})
	tab1 := connect(t, h, "seller")
	tab2 := connect(t, h, "seller")
	buyer := connect(t, h, "buyer")

	msg := message("L1", "buyer", "seller")
	h.EmitMessageNotification(wire.MessageNotification{
		Message:      msg,
		SenderName:   "name-buyer",
		ListingTitle: "Bike",
		Preview:      "hi",
	})

	for _, s := range []*Session{tab1, tab2} {
		env := next(t, s)
		assert.Equal(t, wire.EventMessageNotification, env.Event)
		var got wire.MessageNotification
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, "Bike", got.ListingTitle)
		assert.Equal(t, msg.ID, got.Message.ID)
	}
	expectNone(t, buyer)
}

func TestHub_MessageReadReachesSenderOnce(t *testing.T) {
	h := newTestHub(t, Config{})
	seller := connect(t, h, "seller")
	elsewhere := connect(t, h, "seller")
	// seller's first tab also has the conversation open
	join(t, seller, "L1", "buyer")

	msg := message("L1", "seller", "buyer")
	readAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	msg.IsRead = true
	msg.ReadAt = &readAt
	h.EmitMessageRead(msg)

	for _, s := range []*Session{seller, elsewhere} {
		env := next(t, s)
		assert.Equal(t, wire.EventMessageRead, env.Event)
		var got wire.MessageRead
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, msg.ID, got.MessageID)
		assert.Equal(t, "buyer", got.ReadBy)
		assert.True(t, readAt.Equal(got.ReadAt))
		expectNone(t, s)
	}
}

func TestHub_AuthDeadlineDropsSilentSession(t *testing.T) {
	h := NewHub(fakeAuth{}, nil, Config{AuthTimeout: 20 * time.Millisecond})
	go h.Run()
	defer h.Stop()

	s := NewSession(h, nil)
	h.Register(s)
	expectClosed(t, s)
	assert.Equal(t, 0, h.Stats().Sessions)
}

func TestHub_AuthDeadlineSparesAuthenticatedSession(t *testing.T) {
	h := NewHub(fakeAuth{}, nil, Config{AuthTimeout: 20 * time.Millisecond})
	go h.Run()
	defer h.Stop()

	connect(t, h, "u1")
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, h.Stats().Sessions)
}

func TestHub_SlowConsumerDropped(t *testing.T) {
	h := newTestHub(t, Config{SendBuffer: 1})
	slow := connect(t, h, "seller")

	msg := message("L1", "buyer", "seller")
	h.EmitMessageNotification(wire.MessageNotification{Message: msg})
	h.EmitMessageNotification(wire.MessageNotification{Message: msg})

	assert.Equal(t, 0, h.Stats().Sessions)
	// the frame that fit is still flushed before close
	env := next(t, slow)
	assert.Equal(t, wire.EventMessageNotification, env.Event)
	expectClosed(t, slow)
}

func TestHub_CloseRemovesSessionFromRooms(t *testing.T) {
	h := newTestHub(t, Config{})
	buyer := connect(t, h, "buyer")
	join(t, buyer, "L1", "seller")

	buyer.Close()
	buyer.Close()

	assert.Equal(t, 0, h.Stats().Sessions)
	assert.Equal(t, 0, h.Stats().Rooms)
}
