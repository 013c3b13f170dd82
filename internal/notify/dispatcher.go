// Package notify decides when an incoming message becomes a system notification and
// builds its payload. It is a soft feature: every failure path degrades to a no-op.
package notify

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/swapmeet/swapmeet-backend/internal/domain"
	"github.com/swapmeet/swapmeet-backend/pkg/logger"
)

const (
	DefaultPreviewLength = 100
	DefaultAutoDismiss   = 5 * time.Second
	ellipsis             = "…"
)

// Permission mirrors the host notification permission states
type Permission string

const (
	PermissionDefault     Permission = "default"
	PermissionGranted     Permission = "granted"
	PermissionDenied      Permission = "denied"
	PermissionUnsupported Permission = "unsupported"
)

// Notification is what gets shown to the user
type Notification struct {
	Title        string `json:"title"`
	Body         string `json:"body"`
	Tag          string `json:"tag"`
	MessageID    string `json:"messageId"`
	ListingID    string `json:"listingId"`
	SenderID     string `json:"senderId"`
	SenderName   string `json:"senderName"`
	ListingTitle string `json:"listingTitle"`
	Preview      string `json:"preview"`
}

// Handle controls a shown notification
type Handle interface {
	Close()
}

// Platform is the host notification capability
type Platform interface {
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	// Show displays n; onClick runs when the user activates it.
	Show(n Notification, onClick func()) (Handle, error)
	// Focus brings the application window to the foreground.
	Focus()
}

// Incoming is a message plus the display names needed to describe it
type Incoming struct {
	Message      *domain.Message
	SenderName   string
	ListingTitle string
}

// ViewState is what the viewer is looking at when the message arrives
type ViewState struct {
	OpenThread *domain.ThreadKey
	Focused    bool
}

// Decision is the outcome for one incoming message
type Decision struct {
	Push   bool   // update live UI state
	Notify bool   // show a system notification
	Reason string // why Notify is false
}

// Config tunes the dispatcher
type Config struct {
	PreviewLength int
	AutoDismiss   time.Duration
}

// AfterFunc schedules f after d; it matches time.AfterFunc
type AfterFunc func(d time.Duration, f func()) *time.Timer

// Dispatcher decides and shows notifications
type Dispatcher struct {
	platform Platform
	prompts  PromptStore
	cfg      Config
	after    AfterFunc
	log      zerolog.Logger
}

// NewDispatcher creates a Dispatcher. A nil platform behaves as unsupported.
func NewDispatcher(platform Platform, prompts PromptStore, cfg Config) *Dispatcher {
	if platform == nil {
		platform = UnsupportedPlatform{}
	}
	if prompts == nil {
		prompts = NewMemoryPromptStore()
	}
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = DefaultPreviewLength
	}
	if cfg.AutoDismiss <= 0 {
		cfg.AutoDismiss = DefaultAutoDismiss
	}
	return &Dispatcher{
		platform: platform,
		prompts:  prompts,
		cfg:      cfg,
		after:    time.AfterFunc,
		log:      logger.WithComponent("notify"),
	}
}

// Decide evaluates whether in should update the UI and whether it should raise a
// notification for viewerID.
func (d *Dispatcher) Decide(viewerID string, in Incoming, view ViewState) Decision {
	m := in.Message
	if m == nil || !m.Involves(viewerID) {
		return Decision{Reason: "not addressed to viewer"}
	}
	dec := Decision{Push: true}

	switch {
	case m.SenderID == viewerID:
		dec.Reason = "own message"
	case view.Focused && view.OpenThread != nil &&
		*view.OpenThread == (domain.ThreadKey{ListingID: m.ListingID, OtherUserID: m.Counterparty(viewerID)}):
		dec.Reason = "thread is open"
	case d.platform.Permission() != PermissionGranted:
		dec.Reason = "permission " + string(d.platform.Permission())
	default:
		dec.Notify = true
	}
	return dec
}

// Dispatch runs Decide and shows the notification when allowed. Clicking it focuses the
// window, calls navigate with the thread key and closes it. Unclicked notifications
// close after the auto-dismiss delay.
func (d *Dispatcher) Dispatch(viewerID string, in Incoming, view ViewState, navigate func(domain.ThreadKey)) Decision {
	dec := d.Decide(viewerID, in, view)
	if !dec.Notify {
		return dec
	}

	n := Compose(in, d.cfg.PreviewLength)
	key := domain.ThreadKey{ListingID: in.Message.ListingID, OtherUserID: in.Message.SenderID}

	// onClick may run before Show returns
	var (
		mu     sync.Mutex
		handle Handle
		closed bool
	)
	closeOnce := func() {
		mu.Lock()
		h := handle
		handle = nil
		closed = true
		mu.Unlock()
		if h != nil {
			h.Close()
		}
	}

	h, err := d.platform.Show(n, func() {
		d.platform.Focus()
		if navigate != nil {
			navigate(key)
		}
		closeOnce()
	})
	if err != nil {
		d.log.Debug().Err(err).Str("message_id", n.MessageID).Msg("notification not shown")
		return Decision{Push: dec.Push, Reason: "show failed"}
	}
	mu.Lock()
	if closed {
		mu.Unlock()
		if h != nil {
			h.Close()
		}
		return dec
	}
	handle = h
	mu.Unlock()

	d.after(d.cfg.AutoDismiss, closeOnce)
	return dec
}

// ShouldPrompt reports whether the permission prompt may be offered to userID:
// permission is still undecided and the user has not dismissed the prompt before.
func (d *Dispatcher) ShouldPrompt(ctx context.Context, userID string) bool {
	if d.platform.Permission() != PermissionDefault {
		return false
	}
	dismissed, err := d.prompts.Dismissed(ctx, userID)
	if err != nil {
		d.log.Debug().Err(err).Str("user_id", userID).Msg("prompt state unavailable")
		return false
	}
	return !dismissed
}

// DismissPrompt remembers that userID closed the prompt
func (d *Dispatcher) DismissPrompt(ctx context.Context, userID string) error {
	return d.prompts.Dismiss(ctx, userID)
}

// RequestPermission asks the platform for permission. It must only be called from an
// explicit user action. The prompt is not offered again afterwards.
func (d *Dispatcher) RequestPermission(ctx context.Context, userID string) Permission {
	if d.platform.Permission() == PermissionUnsupported {
		return PermissionUnsupported
	}
	p, err := d.platform.RequestPermission(ctx)
	if err != nil {
		d.log.Debug().Err(err).Msg("permission request failed")
		return d.platform.Permission()
	}
	if err := d.prompts.Dismiss(ctx, userID); err != nil {
		d.log.Debug().Err(err).Str("user_id", userID).Msg("prompt state not saved")
	}
	return p
}

// Compose builds the notification for in
func Compose(in Incoming, previewLength int) Notification {
	m := in.Message
	sender := strings.TrimSpace(in.SenderName)
	if sender == "" {
		sender = m.SenderID
	}
	title := strings.TrimSpace(in.ListingTitle)
	if title == "" {
		title = domain.DefaultListingTitle
	}
	preview := Truncate(m.Content, previewLength)

	return Notification{
		Title:        sender + " · " + title,
		Body:         preview,
		Tag:          "message-" + m.ListingID + "-" + m.SenderID,
		MessageID:    m.ID,
		ListingID:    m.ListingID,
		SenderID:     m.SenderID,
		SenderName:   sender,
		ListingTitle: title,
		Preview:      preview,
	}
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	cut := n - utf8.RuneCountInString(ellipsis)
	if cut < 0 {
		cut = 0
	}
	return strings.TrimSpace(string(runes[:cut])) + ellipsis
}

// UnsupportedPlatform is used where notifications do not exist
type UnsupportedPlatform struct{}

func (UnsupportedPlatform) Permission() Permission { return PermissionUnsupported }

func (UnsupportedPlatform) RequestPermission(context.Context) (Permission, error) {
	return PermissionUnsupported, nil
}

func (UnsupportedPlatform) Show(Notification, func()) (Handle, error) { return nil, ErrUnsupported }

func (UnsupportedPlatform) Focus() {}
