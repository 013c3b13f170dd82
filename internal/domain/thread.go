package domain

import "time"

// DefaultListingTitle is shown when a thread's listing is missing from the lookup
const DefaultListingTitle = "Listing"

// ThreadKey identifies a conversation from one viewer's perspective
type ThreadKey struct {
	ListingID   string `json:"listingId"`
	OtherUserID string `json:"otherUserId"`
}

// Thread is the derived, per-viewer summary of one conversation. It is never persisted.
type Thread struct {
	ListingID       string    `json:"listingId"`
	OtherUserID     string    `json:"otherUserId"`
	ListingTitle    string    `json:"listingTitle"`
	ListingImage    string    `json:"listingImage,omitempty"`
	LastMessageID   string    `json:"lastMessageId"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	UnreadCount     int       `json:"unreadCount"`
	OtherUserOnline bool      `json:"otherUserOnline"`
}

// Key returns the thread's identity
func (t *Thread) Key() ThreadKey {
	return ThreadKey{ListingID: t.ListingID, OtherUserID: t.OtherUserID}
}
