package repository

import (
	"time"

	"github.com/swapmeet/swapmeet-backend/internal/domain"
	"gorm.io/gorm"
)

// MessageRepository message data access interface
type MessageRepository interface {
	Create(msg *domain.Message) error
	FindByID(id string) (*domain.Message, error)
	ListForUser(userID string) ([]*domain.Message, error)
	// MarkAsRead flips is_read and reports whether this call made the transition
	MarkAsRead(id string, at time.Time) (bool, error)
	// MarkThreadRead marks every unread message from otherUserID to readerID on a
	// listing and returns the messages it transitioned
	MarkThreadRead(listingID, readerID, otherUserID string, at time.Time) ([]*domain.Message, error)
	CountUnread(userID string) (int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create persists a message
func (r *messageRepository) Create(msg *domain.Message) error {
	return r.db.Create(msg).Error
}

// FindByID finds a message by ID
func (r *messageRepository) FindByID(id string) (*domain.Message, error) {
	var msg domain.Message
	err := r.db.Where("id = ?", id).First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListForUser returns every message the user sent or received, newest first
func (r *messageRepository) ListForUser(userID string) ([]*domain.Message, error) {
	var messages []*domain.Message
	err := r.db.Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("created_at DESC, id DESC").
		Find(&messages).Error
	return messages, err
}

func (r *messageRepository) MarkAsRead(id string, at time.Time) (bool, error) {
	res := r.db.Model(&domain.Message{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *messageRepository) MarkThreadRead(listingID, readerID, otherUserID string, at time.Time) ([]*domain.Message, error) {
	var marked []*domain.Message
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var unread []*domain.Message
		if err := tx.Where("listing_id = ? AND receiver_id = ? AND sender_id = ? AND is_read = ?",
			listingID, readerID, otherUserID, false).
			Order("created_at ASC, id ASC").
			Find(&unread).Error; err != nil {
			return err
		}
		if len(unread) == 0 {
			return nil
		}

		for _, m := range unread {
			res := tx.Model(&domain.Message{}).
				Where("id = ? AND is_read = ?", m.ID, false).
				Updates(map[string]interface{}{"is_read": true, "read_at": at})
			if res.Error != nil {
				return res.Error
			}
			// read concurrently by another session
			if res.RowsAffected != 1 {
				continue
			}
			m.IsRead = true
			readAt := at
			m.ReadAt = &readAt
			marked = append(marked, m)
		}
		return nil
	})
	return marked, err
}

// CountUnread counts unread messages addressed to the user
func (r *messageRepository) CountUnread(userID string) (int64, error) {
	var count int64
	err := r.db.Model(&domain.Message{}).
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}
