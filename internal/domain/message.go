package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is one chat message between a buyer and a seller, scoped to a listing.
// Only IsRead/ReadAt change after creation, and only from false to true.
type Message struct {
	ID         string     `gorm:"column:id;primaryKey;size:36" json:"id"`
	ListingID  string     `gorm:"column:listing_id;size:64;not null;index:idx_messages_listing" json:"listingId"`
	SenderID   string     `gorm:"column:sender_id;size:64;not null;index" json:"senderId"`
	ReceiverID string     `gorm:"column:receiver_id;size:64;not null;index" json:"receiverId"`
	Content    string     `gorm:"column:content;type:text" json:"content"`
	IsRead     bool       `gorm:"column:is_read;default:false" json:"isRead"`
	ReadAt     *time.Time `gorm:"column:read_at" json:"readAt,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at;index" json:"createdAt"`
}

func (Message) TableName() string { return "messages" }

// BeforeCreate assigns a server-generated ID
func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Involves reports whether userID is the sender or the receiver
func (m *Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Counterparty returns the participant that is not viewerID.
// A degenerate self-message resolves to the sender.
func (m *Message) Counterparty(viewerID string) string {
	if m.SenderID == viewerID && m.ReceiverID != viewerID {
		return m.ReceiverID
	}
	return m.SenderID
}

// IsUnreadFor reports whether the message counts toward viewerID's unread total
func (m *Message) IsUnreadFor(viewerID string) bool {
	return m.ReceiverID == viewerID && !m.IsRead
}

// SendMessageRequest is the REST body for creating a message
type SendMessageRequest struct {
	ReceiverID string `json:"receiverId" binding:"required,max=64"`
	ListingID  string `json:"listingId" binding:"required,max=64"`
	Content    string `json:"content" binding:"required"`
}

// MarkThreadReadRequest marks every unread message in a thread as read
type MarkThreadReadRequest struct {
	ListingID   string `json:"listingId" binding:"required"`
	OtherUserID string `json:"otherUserId" binding:"required"`
}
