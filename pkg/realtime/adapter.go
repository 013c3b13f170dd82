// Package realtime is the client side of the realtime channel: one connection per
// signed-in user with automatic, bounded reconnection and per-adapter subscriptions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/swapmeet/swapmeet-backend/internal/domain"
	"github.com/swapmeet/swapmeet-backend/internal/wire"
	"github.com/swapmeet/swapmeet-backend/pkg/logger"
)

// Defaults for the reconnection policy
const (
	DefaultMaxAttempts    = 5
	DefaultInitialDelay   = time.Second
	DefaultMaxDelay       = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// State of the adapter's connection
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	// StateDisconnected is terminal: reconnection gave up or Close was called
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Conn is the subset of *websocket.Conn the adapter uses
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens connections
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// Dial implements Dialer
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Options configures an Adapter
type Options struct {
	URL    string
	UserID string
	Token  string

	Dialer         Dialer
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	ConnectTimeout time.Duration

	// Sleep waits between attempts. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

type subscription struct {
	id int
	fn func(json.RawMessage)
}

// Adapter manages one realtime connection
type Adapter struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	state   State
	conn    Conn
	rooms   map[wire.Conversation]struct{}
	subs    map[string][]subscription
	nextSub int
	states  []func(State)

	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAdapter creates an idle adapter
func NewAdapter(opts Options) *Adapter {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{Dialer: &websocket.Dialer{HandshakeTimeout: DefaultConnectTimeout}}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Adapter{
		opts:  opts,
		log:   logger.WithComponent("realtime").With().Str("user_id", opts.UserID).Logger(),
		rooms: make(map[wire.Conversation]struct{}),
		subs:  make(map[string][]subscription),
	}
}

// Start connects in the background. It is a no-op unless the adapter is idle.
func (a *Adapter) Start(ctx context.Context) {
	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	a.mu.Unlock()

	a.setState(StateConnecting)
	go a.loop(ctx)
}

// Close tears the connection down for good, e.g. on sign-out
func (a *Adapter) Close() {
	a.mu.Lock()
	cancel, done, conn := a.cancel, a.done, a.conn
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close() //nolint:errcheck
	}
	if done != nil {
		<-done
	}
	a.setState(StateDisconnected)
}

// Done is closed when the connection loop has exited
func (a *Adapter) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// State returns the current connection state
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Connected reports whether frames can currently be sent
func (a *Adapter) Connected() bool {
	return a.State() == StateConnected
}

// OnState registers fn for state transitions
func (a *Adapter) OnState(fn func(State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states = append(a.states, fn)
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	if a.state == s || a.state == StateDisconnected {
		a.mu.Unlock()
		return
	}
	a.state = s
	listeners := append([]func(State){}, a.states...)
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

func (a *Adapter) loop(ctx context.Context) {
	defer close(a.done)

	// failures counts consecutive attempts that did not reach an accepted handshake
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := a.dial(ctx)
		if err == nil {
			acked, serr := a.serve(ctx, conn)
			if errors.Is(serr, ErrAuthRejected) {
				a.log.Warn().Msg("realtime authentication rejected, not reconnecting")
				a.setState(StateDisconnected)
				return
			}
			if ctx.Err() != nil {
				return
			}
			a.setState(StateConnecting)
			if acked {
				failures = 0
				if err := a.opts.Sleep(ctx, a.backoff(1)); err != nil {
					return
				}
				continue
			}
			err = fmt.Errorf("closed before authentication: %w", serr)
		}

		failures++
		a.log.Warn().Err(err).Int("attempt", failures).Msg("realtime connect failed")
		if failures >= a.opts.MaxAttempts {
			a.log.Warn().Msg("realtime reconnection exhausted, falling back to polling")
			a.setState(StateDisconnected)
			return
		}
		if err := a.opts.Sleep(ctx, a.backoff(failures)); err != nil {
			return
		}
	}
}

// backoff returns the delay after the n-th consecutive failure
func (a *Adapter) backoff(n int) time.Duration {
	d := a.opts.InitialDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= a.opts.MaxDelay {
			return a.opts.MaxDelay
		}
	}
	if d > a.opts.MaxDelay {
		return a.opts.MaxDelay
	}
	return d
}

func (a *Adapter) dial(ctx context.Context) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, a.opts.ConnectTimeout)
	defer cancel()
	return a.opts.Dialer.Dial(dctx, a.opts.URL)
}

// serve authenticates, rejoins tracked rooms and reads until the connection fails.
// acked reports whether the server accepted the handshake before that.
func (a *Adapter) serve(ctx context.Context, conn Conn) (acked bool, err error) {
	a.mu.Lock()
	a.conn = conn
	rooms := make([]wire.Conversation, 0, len(a.rooms))
	for r := range a.rooms {
		rooms = append(rooms, r)
	}
	a.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() }) //nolint:errcheck
	defer func() {
		stop()
		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.mu.Unlock()
		conn.Close() //nolint:errcheck
	}()

	if err := a.write(conn, wire.EventAuthenticate, wire.Authenticate{UserID: a.opts.UserID, Token: a.opts.Token}); err != nil {
		a.log.Warn().Err(err).Msg("authenticate send failed")
		return false, err
	}
	for _, r := range rooms {
		if err := a.write(conn, wire.EventJoinConversation, r); err != nil {
			return false, err
		}
	}
	a.setState(StateConnected)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				a.log.Warn().Err(err).Msg("realtime connection lost")
			}
			return acked, err
		}
		env, err := wire.Decode(frame)
		if err != nil {
			a.log.Warn().Err(err).Msg("malformed frame dropped")
			continue
		}
		a.publish(env)

		if env.Event == wire.EventAuthenticated {
			var ack wire.Authenticated
			if err := json.Unmarshal(env.Data, &ack); err == nil {
				if !ack.Success {
					return false, ErrAuthRejected
				}
				acked = true
			}
		}
	}
}

func (a *Adapter) publish(env wire.Envelope) {
	a.mu.Lock()
	subs := append([]subscription(nil), a.subs[env.Event]...)
	a.mu.Unlock()

	for _, s := range subs {
		s.fn(env.Data)
	}
}

func (a *Adapter) write(conn Conn, event string, data interface{}) error {
	frame, err := wire.Encode(event, data)
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// emit sends on the live connection; without one it only logs
func (a *Adapter) emit(event string, data interface{}) {
	a.mu.Lock()
	conn := a.conn
	connected := a.state == StateConnected
	a.mu.Unlock()

	if conn == nil || !connected {
		a.log.Warn().Str("event", event).Msg("realtime not connected, event not sent")
		return
	}
	if err := a.write(conn, event, data); err != nil {
		a.log.Warn().Err(err).Str("event", event).Msg("realtime send failed")
	}
}

// JoinConversation opens the room for (listingID, otherUserID) and keeps it across reconnects
func (a *Adapter) JoinConversation(listingID, otherUserID string) {
	room := wire.Conversation{ListingID: listingID, OtherUserID: otherUserID}
	if !a.Connected() {
		a.log.Warn().Str("listing_id", listingID).Msg("realtime not connected, join skipped")
		return
	}
	a.mu.Lock()
	a.rooms[room] = struct{}{}
	a.mu.Unlock()
	a.emit(wire.EventJoinConversation, room)
}

// LeaveConversation closes the room
func (a *Adapter) LeaveConversation(listingID, otherUserID string) {
	room := wire.Conversation{ListingID: listingID, OtherUserID: otherUserID}
	a.mu.Lock()
	delete(a.rooms, room)
	a.mu.Unlock()
	a.emit(wire.EventLeaveConversation, room)
}

// SendTypingIndicator is fire-and-forget
func (a *Adapter) SendTypingIndicator(listingID, receiverID string, isTyping bool) {
	a.emit(wire.EventTyping, wire.Typing{ListingID: listingID, ReceiverID: receiverID, IsTyping: isTyping})
}

// On registers fn for every frame named event. Callbacks run in registration order on
// the adapter's read goroutine. The returned func unsubscribes and is safe to call twice.
func (a *Adapter) On(event string, fn func(json.RawMessage)) func() {
	a.mu.Lock()
	a.nextSub++
	id := a.nextSub
	a.subs[event] = append(a.subs[event], subscription{id: id, fn: fn})
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		list := a.subs[event]
		for i, s := range list {
			if s.id == id {
				a.subs[event] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// OnNewMessage subscribes to new_message
func (a *Adapter) OnNewMessage(fn func(*domain.Message)) func() {
	return a.On(wire.EventNewMessage, func(raw json.RawMessage) {
		var m domain.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			a.log.Warn().Err(err).Msg("bad new_message payload")
			return
		}
		fn(&m)
	})
}

// OnMessageRead subscribes to message_read
func (a *Adapter) OnMessageRead(fn func(wire.MessageRead)) func() {
	return a.On(wire.EventMessageRead, func(raw json.RawMessage) {
		var p wire.MessageRead
		if err := json.Unmarshal(raw, &p); err != nil {
			a.log.Warn().Err(err).Msg("bad message_read payload")
			return
		}
		fn(p)
	})
}

// OnUserTyping subscribes to user_typing
func (a *Adapter) OnUserTyping(fn func(wire.UserTyping)) func() {
	return a.On(wire.EventUserTyping, func(raw json.RawMessage) {
		var p wire.UserTyping
		if err := json.Unmarshal(raw, &p); err != nil {
			a.log.Warn().Err(err).Msg("bad user_typing payload")
			return
		}
		fn(p)
	})
}

// OnMessageNotification subscribes to message_notification
func (a *Adapter) OnMessageNotification(fn func(wire.MessageNotification)) func() {
	return a.On(wire.EventMessageNotification, func(raw json.RawMessage) {
		var p wire.MessageNotification
		if err := json.Unmarshal(raw, &p); err != nil || p.Message == nil {
			a.log.Warn().Err(err).Msg("bad message_notification payload")
			return
		}
		fn(p)
	})
}

// OnAuthenticated subscribes to the handshake ack
func (a *Adapter) OnAuthenticated(fn func(wire.Authenticated)) func() {
	return a.On(wire.EventAuthenticated, func(raw json.RawMessage) {
		var p wire.Authenticated
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		fn(p)
	})
}

// ErrAuthRejected ends the connection loop: retrying with the same token cannot succeed
var ErrAuthRejected = errors.New("realtime authentication rejected")

var errStopped = errors.New("stopped")

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return errStopped
	}
}
