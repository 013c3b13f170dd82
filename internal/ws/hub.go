package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/swapmeet/swapmeet-backend/internal/domain"
	"github.com/swapmeet/swapmeet-backend/internal/wire"
	"github.com/swapmeet/swapmeet-backend/pkg/logger"
)

// Identity is the verified owner of a session
type Identity struct {
	UserID   string
	Username string
}

// Authenticator verifies the token carried by the authenticate handshake
type Authenticator interface {
	Authenticate(token string) (Identity, error)
}

// PresenceRecorder records a heartbeat when a session authenticates
type PresenceRecorder interface {
	Heartbeat(ctx context.Context, userID string) error
}

// Config tunes the hub
type Config struct {
	SendBuffer  int
	AuthTimeout time.Duration
}

// Stats is a point-in-time view of the hub
type Stats struct {
	Sessions      int
	Authenticated int
	Rooms         int
}

type commandKind int

const (
	cmdRegister commandKind = iota
	cmdUnregister
	cmdInbound
	cmdAuthDeadline
	cmdEmit
	cmdStats
	cmdRoomSize
)

type command struct {
	kind    commandKind
	session *Session
	frame   []byte

	// cmdEmit
	event   string
	payload interface{}
	rooms   []wire.Room
	onlyFor string // deliver only to sessions of this user

	// cmdStats / cmdRoomSize
	room  wire.Room
	reply chan interface{}
}

// Hub is the realtime channel. All session and room state is owned by the Run
// goroutine; every other method only enqueues a command, so no locks are needed.
// Delivery is best effort: nothing is queued for sessions that are not connected.
type Hub struct {
	sessions map[*Session]struct{}
	rooms    map[wire.Room]map[*Session]struct{}

	commands chan command
	auth     Authenticator
	presence PresenceRecorder
	cfg      Config
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub. presence may be nil.
func NewHub(auth Authenticator, presence PresenceRecorder, cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		sessions: make(map[*Session]struct{}),
		rooms:    make(map[wire.Room]map[*Session]struct{}),
		commands: make(chan command, 1024),
		auth:     auth,
		presence: presence,
		cfg:      cfg,
		log:      logger.WithComponent("hub"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case cmd := <-h.commands:
			h.handle(cmd)
		case <-h.ctx.Done():
			for s := range h.sessions {
				h.drop(s, "hub stopped")
			}
			return
		}
	}
}

// Stop gracefully shuts down the hub
func (h *Hub) Stop() {
	h.cancel()
}

// Register adds a freshly connected, unauthenticated session
func (h *Hub) Register(s *Session) {
	h.enqueue(command{kind: cmdRegister, session: s})
	time.AfterFunc(h.cfg.AuthTimeout, func() {
		h.enqueue(command{kind: cmdAuthDeadline, session: s})
	})
}

// EmitNewMessage pushes a persisted message into its conversation room
func (h *Hub) EmitNewMessage(m *domain.Message) {
	h.enqueue(command{
		kind:    cmdEmit,
		event:   wire.EventNewMessage,
		payload: m,
		rooms:   []wire.Room{wire.ConversationRoom(m.ListingID, m.SenderID, m.ReceiverID)},
	})
}

// EmitMessageNotification alerts every session of the receiver, whether or not the
// conversation is open.
func (h *Hub) EmitMessageNotification(n wire.MessageNotification) {
	if n.Message == nil {
		return
	}
	h.enqueue(command{
		kind:    cmdEmit,
		event:   wire.EventMessageNotification,
		payload: n,
		rooms:   []wire.Room{wire.UserRoom(n.Message.ReceiverID)},
	})
}

// EmitMessageRead tells the sender's sessions that m was read. Sessions in the
// conversation room receive it too so other tabs of the reader stay in sync.
func (h *Hub) EmitMessageRead(m *domain.Message) {
	readAt := time.Now()
	if m.ReadAt != nil {
		readAt = *m.ReadAt
	}
	h.enqueue(command{
		kind:    cmdEmit,
		event:   wire.EventMessageRead,
		payload: wire.MessageRead{MessageID: m.ID, ReadBy: m.ReceiverID, ReadAt: readAt},
		rooms: []wire.Room{
			wire.UserRoom(m.SenderID),
			wire.ConversationRoom(m.ListingID, m.SenderID, m.ReceiverID),
		},
	})
}

// Stats returns a snapshot of the hub, or zero values once the hub is stopped
func (h *Hub) Stats() Stats {
	v, ok := h.ask(command{kind: cmdStats})
	if !ok {
		return Stats{}
	}
	return v.(Stats)
}

// RoomSize returns how many sessions are in room
func (h *Hub) RoomSize(room wire.Room) int {
	v, ok := h.ask(command{kind: cmdRoomSize, room: room})
	if !ok {
		return 0
	}
	return v.(int)
}

func (h *Hub) ask(cmd command) (interface{}, bool) {
	cmd.reply = make(chan interface{}, 1)
	if !h.enqueue(cmd) {
		return nil, false
	}
	select {
	case v := <-cmd.reply:
		return v, true
	case <-h.ctx.Done():
		return nil, false
	}
}

func (h *Hub) enqueue(cmd command) bool {
	select {
	case h.commands <- cmd:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) handle(cmd command) {
	switch cmd.kind {
	case cmdRegister:
		h.sessions[cmd.session] = struct{}{}
		sessionsActive.Inc()
	case cmdUnregister:
		if _, ok := h.sessions[cmd.session]; ok {
			h.drop(cmd.session, "disconnected")
		}
	case cmdAuthDeadline:
		s := cmd.session
		if _, ok := h.sessions[s]; ok && s.userID == "" {
			h.drop(s, "authentication timeout")
		}
	case cmdInbound:
		if _, ok := h.sessions[cmd.session]; ok {
			h.dispatch(cmd.session, cmd.frame)
		}
	case cmdEmit:
		h.emit(cmd)
	case cmdStats:
		st := Stats{Sessions: len(h.sessions), Rooms: len(h.rooms)}
		for s := range h.sessions {
			if s.userID != "" {
				st.Authenticated++
			}
		}
		cmd.reply <- st
	case cmdRoomSize:
		cmd.reply <- len(h.rooms[cmd.room])
	}
}

func (h *Hub) dispatch(s *Session, frame []byte) {
	env, err := wire.Decode(frame)
	if err != nil {
		h.warn(s, err, "malformed frame dropped")
		return
	}
	eventsTotal.WithLabelValues(env.Event).Inc()

	if env.Event == wire.EventAuthenticate {
		h.authenticate(s, env)
		return
	}
	if s.userID == "" {
		eventsDropped.WithLabelValues("unauthenticated").Inc()
		h.log.Warn().Str("session_id", s.id).Str("event", env.Event).Msg("event before authenticate dropped")
		return
	}

	switch env.Event {
	case wire.EventJoinConversation:
		var p wire.Conversation
		if err := wire.Bind(env, &p); err != nil {
			h.warn(s, err, "invalid join")
			return
		}
		h.join(s, wire.ConversationRoom(p.ListingID, s.userID, p.OtherUserID))
	case wire.EventLeaveConversation:
		var p wire.Conversation
		if err := wire.Bind(env, &p); err != nil {
			h.warn(s, err, "invalid leave")
			return
		}
		h.leave(s, wire.ConversationRoom(p.ListingID, s.userID, p.OtherUserID))
	case wire.EventTyping:
		var p wire.Typing
		if err := wire.Bind(env, &p); err != nil {
			h.warn(s, err, "invalid typing")
			return
		}
		h.emit(command{
			event: wire.EventUserTyping,
			payload: wire.UserTyping{
				ListingID: p.ListingID,
				UserID:    s.userID,
				Username:  s.username,
				IsTyping:  p.IsTyping,
			},
			rooms:   []wire.Room{wire.ConversationRoom(p.ListingID, s.userID, p.ReceiverID)},
			onlyFor: p.ReceiverID,
		})
	default:
		eventsDropped.WithLabelValues("unknown_event").Inc()
		h.log.Warn().Str("session_id", s.id).Str("event", env.Event).Msg("unknown event dropped")
	}
}

func (h *Hub) authenticate(s *Session, env wire.Envelope) {
	var p wire.Authenticate
	if err := wire.Bind(env, &p); err != nil {
		h.rejectAuth(s, "", "invalid authenticate payload")
		return
	}

	id, err := h.auth.Authenticate(p.Token)
	switch {
	case err != nil:
		h.rejectAuth(s, p.UserID, "invalid token")
		return
	case id.UserID != p.UserID:
		h.rejectAuth(s, p.UserID, "token does not match user")
		return
	case s.userID != "" && s.userID != id.UserID:
		h.rejectAuth(s, p.UserID, "session already bound to another user")
		return
	}

	s.userID = id.UserID
	s.username = id.Username
	if s.username == "" {
		s.username = id.UserID
	}
	h.join(s, wire.UserRoom(s.userID))
	h.send(s, wire.EventAuthenticated, wire.Authenticated{UserID: s.userID, Success: true})

	if h.presence != nil {
		userID := s.userID
		go func() {
			ctx, cancel := context.WithTimeout(h.ctx, 2*time.Second)
			defer cancel()
			if err := h.presence.Heartbeat(ctx, userID); err != nil {
				h.log.Warn().Err(err).Str("user_id", userID).Msg("presence heartbeat on connect failed")
			}
		}()
	}
}

func (h *Hub) rejectAuth(s *Session, userID, reason string) {
	h.log.Warn().Str("session_id", s.id).Str("user_id", userID).Str("reason", reason).Msg("authenticate rejected")
	h.send(s, wire.EventAuthenticated, wire.Authenticated{UserID: userID, Success: false, Error: reason})
	h.drop(s, "authentication failed")
}

func (h *Hub) join(s *Session, room wire.Room) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
	s.rooms[room] = struct{}{}
}

func (h *Hub) leave(s *Session, room wire.Room) {
	delete(s.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// emit delivers one event to the union of the rooms, at most once per session
func (h *Hub) emit(cmd command) {
	targets := make(map[*Session]struct{})
	for _, room := range cmd.rooms {
		for s := range h.rooms[room] {
			if s.userID == "" {
				continue
			}
			if cmd.onlyFor != "" && s.userID != cmd.onlyFor {
				continue
			}
			targets[s] = struct{}{}
		}
	}
	if len(targets) == 0 {
		return
	}

	frame, err := encode(cmd.event, cmd.payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", cmd.event).Msg("encode failed")
		return
	}
	for s := range targets {
		h.deliver(s, frame)
	}
}

func (h *Hub) send(s *Session, event string, payload interface{}) {
	frame, err := encode(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode failed")
		return
	}
	h.deliver(s, frame)
}

func (h *Hub) deliver(s *Session, frame []byte) {
	if s.closed {
		return
	}
	select {
	case s.send <- frame:
	default:
		eventsDropped.WithLabelValues("send_buffer_full").Inc()
		h.drop(s, "send buffer full")
	}
}

// drop forgets the session and closes its send channel; the write pump then closes
// the connection. Already queued frames are still flushed.
func (h *Hub) drop(s *Session, reason string) {
	if s.closed {
		return
	}
	for room := range s.rooms {
		h.leave(s, room)
	}
	delete(h.sessions, s)
	s.closed = true
	close(s.send)
	sessionsActive.Dec()
	h.log.Debug().Str("session_id", s.id).Str("user_id", s.userID).Str("reason", reason).Msg("session dropped")
}

func (h *Hub) warn(s *Session, err error, msg string) {
	eventsDropped.WithLabelValues("invalid").Inc()
	h.log.Warn().Err(err).Str("session_id", s.id).Str("user_id", s.userID).Msg(msg)
}

func encode(event string, payload interface{}) ([]byte, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return json.Marshal(wire.Envelope{Event: event, Data: raw})
	}
	return wire.Encode(event, payload)
}
