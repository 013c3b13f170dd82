package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/swapmeet/swapmeet-backend/internal/wire"
)

const (
	writeWait = 10 * time.Second
)

// PumpConfig bounds a connection's reads
type PumpConfig struct {
	PongWait       time.Duration
	MaxMessageSize int64
}

// Session is one websocket connection. Every field except conn and send is owned by
// the hub's Run goroutine.
type Session struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	userID   string
	username string
	rooms    map[wire.Room]struct{}
	closed   bool
}

// NewSession creates a session for conn. conn may be nil when the caller drains
// Frames directly.
func NewSession(hub *Hub, conn *websocket.Conn) *Session {
	return &Session{
		id:    uuid.New().String(),
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, hub.cfg.SendBuffer),
		rooms: make(map[wire.Room]struct{}),
	}
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Frames exposes the outbound queue. It is closed when the hub drops the session.
func (s *Session) Frames() <-chan []byte { return s.send }

// Receive hands one inbound frame to the hub
func (s *Session) Receive(frame []byte) {
	s.hub.enqueue(command{kind: cmdInbound, session: s, frame: frame})
}

// Close unregisters the session
func (s *Session) Close() {
	s.hub.enqueue(command{kind: cmdUnregister, session: s})
}

// ReadPump reads frames from the WebSocket until it fails
func (s *Session) ReadPump(cfg PumpConfig) {
	defer func() {
		s.Close()
		s.conn.Close()
	}()

	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.MaxMessageSize > 0 {
		s.conn.SetReadLimit(cfg.MaxMessageSize)
	}
	s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait)) //nolint:errcheck
		return nil
	})

	for {
		kind, frame, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.Receive(frame)
	}
}

// WritePump sends queued frames and keeps the connection alive with pings
func (s *Session) WritePump(pongWait time.Duration) {
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	ticker := time.NewTicker((pongWait * 9) / 10)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}

			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame) //nolint:errcheck
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
