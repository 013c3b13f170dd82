package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/swapmeet/swapmeet-backend/internal/domain"
	"github.com/swapmeet/swapmeet-backend/internal/notify"
	"github.com/swapmeet/swapmeet-backend/internal/thread"
	"github.com/swapmeet/swapmeet-backend/internal/wire"
	"github.com/swapmeet/swapmeet-backend/pkg/jwt"
	"github.com/swapmeet/swapmeet-backend/pkg/logger"
	"github.com/swapmeet/swapmeet-backend/pkg/realtime"
)

func main() {
	server := pflag.String("server", "http://localhost:8082", "API server base URL")
	userID := pflag.String("user", "", "user ID to chat as")
	token := pflag.String("token", "", "session token")
	secret := pflag.String("jwt-secret", "", "mint a token locally with this secret instead of --token")
	listingID := pflag.String("listing", "", "listing of the conversation to open")
	peerID := pflag.String("peer", "", "other participant of the conversation to open")
	quiet := pflag.Bool("no-notify", false, "do not print notifications")
	pflag.Parse()

	logger.InitStructured(os.Getenv("APP_ENV"))
	logger.SetOutput(os.Stderr)
	if *userID == "" {
		fmt.Fprintln(os.Stderr, "--user is required")
		os.Exit(2)
	}
	log := logger.WithUserID(*userID)
	if *token == "" && *secret != "" {
		t, err := jwt.NewManager(*secret, 3600).GenerateAccessToken(*userID, *userID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to mint token")
		}
		*token = t
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "--token or --jwt-secret is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := realtime.NewAPI(*server, *token)
	c := &client{
		userID: *userID,
		api:    api,
		index:  thread.NewIndex(*userID),
		out:    os.Stdout,
	}
	if *listingID != "" && *peerID != "" {
		c.open = &domain.ThreadKey{ListingID: *listingID, OtherUserID: *peerID}
	}

	platform := &terminalPlatform{out: os.Stdout, granted: !*quiet}
	c.dispatcher = notify.NewDispatcher(platform, nil, notify.Config{})
	c.platform = platform

	if err := c.seed(ctx); err != nil {
		log.Warn().Err(err).Msg("could not load existing messages")
	}

	c.adapter = realtime.NewAdapter(realtime.Options{
		URL:    "ws" + strings.TrimPrefix(strings.TrimRight(*server, "/"), "http") + "/ws",
		UserID: *userID,
		Token:  *token,
	})
	c.heartbeat = realtime.NewHeartbeat(api, 0)
	c.subscribe()
	c.adapter.Start(ctx)
	defer c.adapter.Close()

	go c.heartbeat.Run(ctx)
	if c.open != nil {
		go realtime.NewPresencePoller(api).Watch(ctx, c.open.OtherUserID, c.presenceChanged)
	}

	c.printHelp()
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.adapter.Done():
			log.Error().Msg("realtime connection lost for good")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := c.handle(ctx, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

type client struct {
	userID     string
	api        *realtime.API
	adapter    *realtime.Adapter
	index      *thread.Index
	dispatcher *notify.Dispatcher
	platform   *terminalPlatform
	heartbeat  *realtime.Heartbeat

	mu       sync.Mutex
	open     *domain.ThreadKey
	online   *bool
	listings map[string]string
	out      *os.File
}

// seed loads history and listing titles before the push stream starts
func (c *client) seed(ctx context.Context) error {
	var messages []*domain.Message
	if err := c.api.Do(ctx, http.MethodGet, "/api/v1/messages", nil, &messages); err != nil {
		return err
	}
	for _, m := range messages {
		c.index.Add(m)
	}

	var threads []*domain.Thread
	if err := c.api.Do(ctx, http.MethodGet, "/api/v1/messages/threads", nil, &threads); err != nil {
		return err
	}
	listings := make([]*domain.Listing, 0, len(threads))
	c.mu.Lock()
	c.listings = make(map[string]string, len(threads))
	for _, t := range threads {
		c.listings[t.ListingID] = t.ListingTitle
		listings = append(listings, &domain.Listing{ID: t.ListingID, Title: t.ListingTitle})
	}
	c.mu.Unlock()
	c.index.SetListings(listings)
	return nil
}

func (c *client) subscribe() {
	c.adapter.OnAuthenticated(func(a wire.Authenticated) {
		if !a.Success {
			fmt.Fprintf(c.out, "! authentication rejected: %s\n", a.Error)
			return
		}
		if key := c.current(); key != nil {
			c.adapter.JoinConversation(key.ListingID, key.OtherUserID)
		}
	})

	c.adapter.OnNewMessage(func(m *domain.Message) {
		if !c.index.Add(m) {
			return
		}
		if key := c.current(); key != nil && m.ListingID == key.ListingID && m.Involves(key.OtherUserID) {
			c.printMessage(m)
		}
	})

	c.adapter.OnMessageNotification(func(n wire.MessageNotification) {
		if n.Message == nil {
			return
		}
		c.index.Add(n.Message)
		c.dispatcher.Dispatch(c.userID, notify.Incoming{
			Message:      n.Message,
			SenderName:   n.SenderName,
			ListingTitle: n.ListingTitle,
		}, notify.ViewState{OpenThread: c.current(), Focused: true}, c.navigate)
	})

	c.adapter.OnMessageRead(func(r wire.MessageRead) {
		if c.index.MarkRead(r.MessageID) {
			fmt.Fprintf(c.out, "  (seen %s)\n", r.ReadAt.Local().Format("15:04"))
		}
	})

	c.adapter.OnUserTyping(func(t wire.UserTyping) {
		key := c.current()
		if key == nil || t.ListingID != key.ListingID || t.UserID != key.OtherUserID {
			return
		}
		if t.IsTyping {
			fmt.Fprintf(c.out, "  %s is typing...\n", t.Username)
		}
	})

	c.adapter.OnState(func(s realtime.State) {
		fmt.Fprintf(c.out, "* %s\n", s)
		// a reconnect after sleep should refresh presence right away
		if s == realtime.StateConnected {
			c.heartbeat.Wake()
		}
	})
}

func (c *client) current() *domain.ThreadKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return nil
	}
	key := *c.open
	return &key
}

// navigate switches the open conversation
func (c *client) navigate(key domain.ThreadKey) {
	c.mu.Lock()
	prev := c.open
	c.open = &key
	c.online = nil
	c.mu.Unlock()

	if prev != nil && *prev != key {
		c.adapter.LeaveConversation(prev.ListingID, prev.OtherUserID)
	}
	c.adapter.JoinConversation(key.ListingID, key.OtherUserID)
	fmt.Fprintf(c.out, "* opened %s with %s\n", c.title(key.ListingID), key.OtherUserID)
}

func (c *client) presenceChanged(online bool) {
	c.mu.Lock()
	changed := c.online == nil || *c.online != online
	c.online = &online
	c.mu.Unlock()
	if !changed {
		return
	}
	if online {
		fmt.Fprintln(c.out, "* peer is online")
	} else {
		fmt.Fprintln(c.out, "* peer is offline")
	}
}

func (c *client) title(listingID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.listings[listingID]; ok && t != "" {
		return t
	}
	return domain.DefaultListingTitle
}

func (c *client) printMessage(m *domain.Message) {
	who := m.SenderID
	if m.SenderID == c.userID {
		who = "me"
	}
	fmt.Fprintf(c.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content)
}

func (c *client) printHelp() {
	fmt.Fprintln(c.out, "commands: /threads  /open <listing> <peer>  /show  /read  /quit  (anything else is sent)")
}

// handle runs one input line and reports whether the client should exit
func (c *client) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		c.printHelp()
	case "/threads":
		threads := c.index.Threads()
		fmt.Fprintf(c.out, "%d threads, %d unread\n", len(threads), thread.TotalUnread(threads))
		for _, t := range threads {
			fmt.Fprintf(c.out, "%-24s %-12s unread=%d  %s\n",
				notify.Truncate(t.ListingTitle, 24), t.OtherUserID, t.UnreadCount, notify.Truncate(t.LastMessage, 40))
		}
	case "/open":
		if len(fields) != 3 {
			fmt.Fprintln(c.out, "usage: /open <listing> <peer>")
			return false
		}
		c.navigate(domain.ThreadKey{ListingID: fields[1], OtherUserID: fields[2]})
	case "/show":
		if !c.platform.activateLast() {
			fmt.Fprintln(c.out, "no notification to open")
		}
	case "/read":
		c.markRead(ctx)
	default:
		c.send(ctx, line)
	}
	return false
}

func (c *client) markRead(ctx context.Context) {
	key := c.current()
	if key == nil {
		fmt.Fprintln(c.out, "no conversation open")
		return
	}
	var out struct {
		Marked int `json:"marked"`
	}
	req := domain.MarkThreadReadRequest{ListingID: key.ListingID, OtherUserID: key.OtherUserID}
	if err := c.api.Do(ctx, http.MethodPost, "/api/v1/messages/read", req, &out); err != nil {
		fmt.Fprintf(c.out, "! %v\n", err)
		return
	}
	for _, m := range c.threadMessages(ctx, *key) {
		c.index.Add(m)
	}
	fmt.Fprintf(c.out, "* marked %d read\n", out.Marked)
}

// threadMessages refetches so read flags in the index catch up
func (c *client) threadMessages(ctx context.Context, key domain.ThreadKey) []*domain.Message {
	var messages []*domain.Message
	if err := c.api.Do(ctx, http.MethodGet, "/api/v1/messages", nil, &messages); err != nil {
		return nil
	}
	out := messages[:0]
	for _, m := range messages {
		if m.ListingID == key.ListingID && m.Involves(key.OtherUserID) {
			out = append(out, m)
		}
	}
	return out
}

func (c *client) send(ctx context.Context, content string) {
	key := c.current()
	if key == nil {
		fmt.Fprintln(c.out, "open a conversation first: /open <listing> <peer>")
		return
	}
	c.adapter.SendTypingIndicator(key.ListingID, key.OtherUserID, false)

	req := domain.SendMessageRequest{ReceiverID: key.OtherUserID, ListingID: key.ListingID, Content: content}
	var m domain.Message
	if err := c.api.Do(ctx, http.MethodPost, "/api/v1/messages", req, &m); err != nil {
		fmt.Fprintf(c.out, "! not sent: %v\n", err)
		return
	}
	// The push event usually arrives first; Add ignores the duplicate.
	if c.index.Add(&m) {
		c.printMessage(&m)
	}
}

// terminalPlatform prints notifications to the terminal. Activation happens through
// the /show command, which opens the most recent one.
type terminalPlatform struct {
	out     *os.File
	granted bool

	mu      sync.Mutex
	last    func()
	lastTag string
}

type terminalHandle struct {
	p   *terminalPlatform
	tag string
}

func (h terminalHandle) Close() {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if h.p.lastTag == h.tag {
		h.p.last = nil
		h.p.lastTag = ""
	}
}

func (p *terminalPlatform) Permission() notify.Permission {
	if p.granted {
		return notify.PermissionGranted
	}
	return notify.PermissionDenied
}

func (p *terminalPlatform) RequestPermission(context.Context) (notify.Permission, error) {
	return p.Permission(), nil
}

func (p *terminalPlatform) Show(n notify.Notification, onClick func()) (notify.Handle, error) {
	p.mu.Lock()
	p.last = onClick
	p.lastTag = n.MessageID
	p.mu.Unlock()

	fmt.Fprintf(p.out, "\a>> %s: %s  (%s)  /show to open\n", n.Title, n.Body, time.Now().Format("15:04"))
	return terminalHandle{p: p, tag: n.MessageID}, nil
}

func (p *terminalPlatform) Focus() {}

func (p *terminalPlatform) activateLast() bool {
	p.mu.Lock()
	fn := p.last
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}
