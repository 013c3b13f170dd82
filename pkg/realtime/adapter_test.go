package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swapmeet/swapmeet-backend/internal/domain"
	"github.com/swapmeet/swapmeet-backend/internal/wire"
)

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []wire.Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.in:
		return 1, f, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	env, err := wire.Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.written))
	for _, e := range c.written {
		out = append(out, e.Event)
	}
	return out
}

func (c *fakeConn) push(t *testing.T, event string, data interface{}) {
	t.Helper()
	f, err := wire.Encode(event, data)
	require.NoError(t, err)
	c.in <- f
}

// fakeDialer hands out conns in order; a nil entry fails the attempt
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	if c == nil {
		return nil, errors.New("connection refused")
	}
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestAdapter(d Dialer, s *sleepRecorder) *Adapter {
	return NewAdapter(Options{
		URL:    "ws://test/ws",
		UserID: "buyer",
		Token:  "tok",
		Dialer: d,
		Sleep:  s.sleep,
	})
}

// acknowledge accepts the handshake on conn and waits until the adapter has seen it
func acknowledge(t *testing.T, conn *fakeConn, acks <-chan struct{}) {
	t.Helper()
	conn.push(t, wire.EventAuthenticated, wire.Authenticated{UserID: "buyer", Success: true})
	select {
	case <-acks:
	case <-time.After(time.Second):
		t.Fatal("handshake ack not delivered")
	}
}

func waitConnected(t *testing.T, a *Adapter) {
	t.Helper()
	require.Eventually(t, a.Connected, time.Second, 5*time.Millisecond)
}

func TestAdapter_GivesUpAfterFiveFailures(t *testing.T) {
	d := &fakeDialer{}
	s := &sleepRecorder{}
	a := newTestAdapter(d, s)

	a.Start(context.Background())
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("adapter did not give up")
	}

	assert.Equal(t, 5, d.count())
	assert.Equal(t, StateDisconnected, a.State())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}, s.delays)

	// terminal: starting again does not dial
	a.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 5, d.count())
}

func TestAdapter_BackoffCapped(t *testing.T) {
	a := NewAdapter(Options{})
	assert.Equal(t, time.Second, a.backoff(1))
	assert.Equal(t, 2*time.Second, a.backoff(2))
	assert.Equal(t, 4*time.Second, a.backoff(3))
	assert.Equal(t, 5*time.Second, a.backoff(4))
	assert.Equal(t, 5*time.Second, a.backoff(40))
}

func TestAdapter_AuthenticatesOnConnect(t *testing.T) {
	conn := newFakeConn()
	a := newTestAdapter(&fakeDialer{conns: []*fakeConn{conn}}, &sleepRecorder{})
	a.Start(context.Background())
	defer a.Close()

	waitConnected(t, a)
	conn.mu.Lock()
	first := conn.written[0]
	conn.mu.Unlock()
	assert.Equal(t, wire.EventAuthenticate, first.Event)

	var auth wire.Authenticate
	require.NoError(t, json.Unmarshal(first.Data, &auth))
	assert.Equal(t, wire.Authenticate{UserID: "buyer", Token: "tok"}, auth)
}

func TestAdapter_CallbacksInRegistrationOrder(t *testing.T) {
	conn := newFakeConn()
	a := newTestAdapter(&fakeDialer{conns: []*fakeConn{conn}}, &sleepRecorder{})

	var mu sync.Mutex
	var calls []string
	record := func(name string) func(*domain.Message) {
		return func(m *domain.Message) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name+":"+m.Content)
		}
	}
	a.OnNewMessage(record("first"))
	unsubscribe := a.OnNewMessage(record("second"))
	a.OnNewMessage(record("third"))

	a.Start(context.Background())
	defer a.Close()
	waitConnected(t, a)

	conn.push(t, wire.EventNewMessage, domain.Message{ID: "m1", Content: "one"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 3
	}, time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
	conn.push(t, wire.EventNewMessage, domain.Message{ID: "m2", Content: "two"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 5
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first:one", "second:one", "third:one", "first:two", "third:two"}, calls)
}

func TestAdapter_SubscriptionsAndRoomsSurviveReconnect(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{first, nil, second}}
	s := &sleepRecorder{}
	a := newTestAdapter(d, s)

	got := make(chan wire.MessageRead, 1)
	a.OnMessageRead(func(p wire.MessageRead) { got <- p })
	acks := make(chan struct{}, 2)
	a.OnAuthenticated(func(wire.Authenticated) { acks <- struct{}{} })

	a.Start(context.Background())
	defer a.Close()
	waitConnected(t, a)
	a.JoinConversation("L1", "seller")
	acknowledge(t, first, acks)

	first.Close()
	require.Eventually(t, func() bool { return d.count() == 3 && a.Connected() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{wire.EventAuthenticate, wire.EventJoinConversation}, second.events())

	second.push(t, wire.EventMessageRead, wire.MessageRead{MessageID: "m1", ReadBy: "seller"})
	select {
	case p := <-got:
		assert.Equal(t, "m1", p.MessageID)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked after reconnect")
	}
	// pause after losing the accepted connection, then one failed dial
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, []time.Duration{time.Second, time.Second}, s.delays)
}

func TestAdapter_AcceptedHandshakeResetsAttemptCount(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{nil, nil, nil, nil, first, nil, nil, nil, nil, second}}
	a := newTestAdapter(d, &sleepRecorder{})
	acks := make(chan struct{}, 2)
	a.OnAuthenticated(func(wire.Authenticated) { acks <- struct{}{} })
	a.Start(context.Background())
	defer a.Close()

	require.Eventually(t, func() bool { return d.count() == 5 && a.Connected() }, time.Second, 5*time.Millisecond)
	acknowledge(t, first, acks)
	first.Close()
	require.Eventually(t, func() bool { return d.count() == 10 && a.Connected() }, time.Second, 5*time.Millisecond)
}

func TestAdapter_ConnectionsClosedBeforeHandshakeCountAsFailures(t *testing.T) {
	d := &fakeDialer{}
	for i := 0; i < 10; i++ {
		c := newFakeConn()
		c.Close()
		d.conns = append(d.conns, c)
	}
	s := &sleepRecorder{}
	a := newTestAdapter(d, s)

	a.Start(context.Background())
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("adapter kept redialing a server that drops every connection")
	}

	assert.Equal(t, 5, d.count())
	assert.Equal(t, StateDisconnected, a.State())
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}, s.delays)
}

// blockingDialer never connects; it waits for the attempt's deadline
type blockingDialer struct {
	mu   sync.Mutex
	errs []error
}

func (d *blockingDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	<-ctx.Done()
	d.mu.Lock()
	d.errs = append(d.errs, ctx.Err())
	d.mu.Unlock()
	return nil, ctx.Err()
}

func TestAdapter_ConnectTimeoutCountsAsAttempt(t *testing.T) {
	d := &blockingDialer{}
	s := &sleepRecorder{}
	a := NewAdapter(Options{
		URL:            "ws://test/ws",
		UserID:         "buyer",
		Token:          "tok",
		Dialer:         d,
		ConnectTimeout: 10 * time.Millisecond,
		Sleep:          s.sleep,
	})

	a.Start(context.Background())
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connect attempts did not time out")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.errs, 5)
	for _, err := range d.errs {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	assert.Equal(t, StateDisconnected, a.State())
}

func TestAdapter_SendsAreNoopsWhileDisconnected(t *testing.T) {
	a := newTestAdapter(&fakeDialer{}, &sleepRecorder{})

	assert.NotPanics(t, func() {
		a.JoinConversation("L1", "seller")
		a.SendTypingIndicator("L1", "seller", true)
		a.LeaveConversation("L1", "seller")
	})
	assert.False(t, a.Connected())
	assert.Empty(t, a.rooms)
}

func TestAdapter_TypingAndLeave(t *testing.T) {
	conn := newFakeConn()
	a := newTestAdapter(&fakeDialer{conns: []*fakeConn{conn}}, &sleepRecorder{})
	a.Start(context.Background())
	defer a.Close()
	waitConnected(t, a)

	a.JoinConversation("L1", "seller")
	a.SendTypingIndicator("L1", "seller", true)
	a.LeaveConversation("L1", "seller")

	assert.Equal(t, []string{
		wire.EventAuthenticate,
		wire.EventJoinConversation,
		wire.EventTyping,
		wire.EventLeaveConversation,
	}, conn.events())
	assert.Empty(t, a.rooms)
}

func TestAdapter_IndependentInstances(t *testing.T) {
	c1, c2 := newFakeConn(), newFakeConn()
	a1 := newTestAdapter(&fakeDialer{conns: []*fakeConn{c1}}, &sleepRecorder{})
	a2 := newTestAdapter(&fakeDialer{conns: []*fakeConn{c2}}, &sleepRecorder{})

	hits := make(chan string, 2)
	a1.OnUserTyping(func(wire.UserTyping) { hits <- "a1" })
	a2.OnUserTyping(func(wire.UserTyping) { hits <- "a2" })

	a1.Start(context.Background())
	a2.Start(context.Background())
	defer a1.Close()
	defer a2.Close()
	waitConnected(t, a1)
	waitConnected(t, a2)

	c1.push(t, wire.EventUserTyping, wire.UserTyping{ListingID: "L1", UserID: "seller", IsTyping: true})
	select {
	case h := <-hits:
		assert.Equal(t, "a1", h)
	case <-time.After(time.Second):
		t.Fatal("no callback")
	}
	select {
	case h := <-hits:
		t.Fatalf("unexpected callback %s", h)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestAdapter_CloseIsTerminal(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	a := newTestAdapter(d, &sleepRecorder{})
	a.Start(context.Background())
	waitConnected(t, a)

	a.Close()
	assert.Equal(t, StateDisconnected, a.State())
	assert.Equal(t, 1, d.count())
}

func TestAdapter_AuthRejectionIsTerminal(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn, newFakeConn()}}
	a := newTestAdapter(d, &sleepRecorder{})

	acks := make(chan wire.Authenticated, 1)
	a.OnAuthenticated(func(p wire.Authenticated) { acks <- p })
	a.Start(context.Background())
	defer a.Close()
	waitConnected(t, a)

	conn.push(t, wire.EventAuthenticated, wire.Authenticated{UserID: "buyer", Success: false, Error: "invalid token"})
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("adapter kept running after rejection")
	}

	assert.False(t, (<-acks).Success)
	assert.Equal(t, StateDisconnected, a.State())
	assert.Equal(t, 1, d.count())
}
