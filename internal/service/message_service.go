package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/swapmeet/swapmeet-backend/internal/common"
	"github.com/swapmeet/swapmeet-backend/internal/domain"
	"github.com/swapmeet/swapmeet-backend/internal/notify"
	"github.com/swapmeet/swapmeet-backend/internal/presence"
	"github.com/swapmeet/swapmeet-backend/internal/repository"
	"github.com/swapmeet/swapmeet-backend/internal/thread"
	"github.com/swapmeet/swapmeet-backend/internal/wire"
	"github.com/swapmeet/swapmeet-backend/pkg/logger"
	"gorm.io/gorm"
)

// MaxContentLength bounds a message body, in characters
const MaxContentLength = 2000

// Realtime pushes post-commit events to connected sessions. Implementations must not
// block; delivery is best effort.
type Realtime interface {
	EmitNewMessage(m *domain.Message)
	EmitMessageNotification(n wire.MessageNotification)
	EmitMessageRead(m *domain.Message)
}

// Sender identifies the author of a message
type Sender struct {
	ID   string
	Name string
}

// MessageService business logic for listing conversations
type MessageService interface {
	Send(ctx context.Context, sender Sender, req *domain.SendMessageRequest) (*domain.Message, error)
	List(userID string) ([]*domain.Message, error)
	Threads(ctx context.Context, userID string) ([]*domain.Thread, error)
	MarkRead(userID, messageID string) (*domain.Message, error)
	MarkThreadRead(userID string, req *domain.MarkThreadReadRequest) (int, error)
	UnreadCount(userID string) (int64, error)
}

type messageService struct {
	repo          repository.MessageRepository
	listings      repository.ListingRepository
	presence      presence.Store
	realtime      Realtime
	previewLength int
	now           func() time.Time
}

// NewMessageService creates a new MessageService
func NewMessageService(
	repo repository.MessageRepository,
	listings repository.ListingRepository,
	presenceStore presence.Store,
	realtime Realtime,
	previewLength int,
) MessageService {
	if previewLength <= 0 {
		previewLength = notify.DefaultPreviewLength
	}
	return &messageService{
		repo:          repo,
		listings:      listings,
		presence:      presenceStore,
		realtime:      realtime,
		previewLength: previewLength,
		now:           time.Now,
	}
}

// Send persists a message and then pushes it to the conversation and the receiver
func (s *messageService) Send(ctx context.Context, sender Sender, req *domain.SendMessageRequest) (*domain.Message, error) {
	content := strings.TrimSpace(req.Content)
	switch {
	case content == "":
		return nil, common.ErrEmptyContent
	case utf8.RuneCountInString(content) > MaxContentLength:
		return nil, common.ErrContentTooLong
	case req.ReceiverID == sender.ID:
		return nil, common.ErrSelfMessage
	}

	listing, err := s.listings.FindByID(ctx, req.ListingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrListingNotFound
		}
		return nil, err
	}

	msg := &domain.Message{
		ListingID:  req.ListingID,
		SenderID:   sender.ID,
		ReceiverID: req.ReceiverID,
		Content:    content,
		CreatedAt:  s.now(),
	}
	if err := s.repo.Create(msg); err != nil {
		return nil, err
	}

	senderName := sender.Name
	if senderName == "" {
		senderName = sender.ID
	}
	s.realtime.EmitNewMessage(msg)
	s.realtime.EmitMessageNotification(wire.MessageNotification{
		Message:      msg,
		SenderName:   senderName,
		ListingTitle: listing.Title,
		Preview:      notify.Truncate(msg.Content, s.previewLength),
	})
	return msg, nil
}

// List returns every message the user is part of, newest first
func (s *messageService) List(userID string) ([]*domain.Message, error) {
	return s.repo.ListForUser(userID)
}

// Threads aggregates the user's messages and flags which counterparties are online
func (s *messageService) Threads(ctx context.Context, userID string) ([]*domain.Thread, error) {
	messages, err := s.repo.ListForUser(userID)
	if err != nil {
		return nil, err
	}

	listings, err := s.listings.FindByIDs(ctx, thread.ListingIDs(messages))
	if err != nil {
		// metadata is optional: threads render with the placeholder title
		logger.GetLogger().Warn().Err(err).Str("user_id", userID).Msg("listing lookup failed")
		listings = nil
	}

	threads := thread.Aggregate(userID, messages, listings)
	if len(threads) == 0 || s.presence == nil {
		return threads, nil
	}

	seen := make(map[string]struct{}, len(threads))
	others := make([]string, 0, len(threads))
	for _, t := range threads {
		if _, ok := seen[t.OtherUserID]; !ok {
			seen[t.OtherUserID] = struct{}{}
			others = append(others, t.OtherUserID)
		}
	}
	online, err := s.presence.IsOnlineBatch(ctx, others)
	if err != nil {
		logger.GetLogger().Warn().Err(err).Str("user_id", userID).Msg("presence lookup failed")
		return threads, nil
	}
	for _, t := range threads {
		t.OtherUserOnline = online[t.OtherUserID]
	}
	return threads, nil
}

// MarkRead marks one message read. Only the receiver may do so; repeating the call
// is a no-op and emits nothing.
func (s *messageService) MarkRead(userID, messageID string) (*domain.Message, error) {
	msg, err := s.repo.FindByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrMessageNotFound
		}
		return nil, err
	}
	if msg.ReceiverID != userID {
		return nil, common.ErrForbidden
	}
	if msg.IsRead {
		return msg, nil
	}

	at := s.now()
	changed, err := s.repo.MarkAsRead(msg.ID, at)
	if err != nil {
		return nil, err
	}
	if !changed {
		// lost a race with another read; the winner emitted
		return s.repo.FindByID(messageID)
	}

	msg.IsRead = true
	msg.ReadAt = &at
	s.realtime.EmitMessageRead(msg)
	return msg, nil
}

// MarkThreadRead marks the whole thread read and returns how many messages changed
func (s *messageService) MarkThreadRead(userID string, req *domain.MarkThreadReadRequest) (int, error) {
	marked, err := s.repo.MarkThreadRead(req.ListingID, userID, req.OtherUserID, s.now())
	if err != nil {
		return 0, err
	}
	for _, m := range marked {
		s.realtime.EmitMessageRead(m)
	}
	return len(marked), nil
}

// UnreadCount returns the user's total unread messages
func (s *messageService) UnreadCount(userID string) (int64, error) {
	return s.repo.CountUnread(userID)
}
