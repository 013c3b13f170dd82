package thread

import (
	"sync"

	"github.com/swapmeet/swapmeet-backend/internal/domain"
)

// Index maintains thread summaries incrementally as messages arrive, instead of
// recomputing from the full message list. Threads() yields the same result as
// Aggregate over every message added so far.
type Index struct {
	viewerID string

	mu       sync.RWMutex
	threads  map[domain.ThreadKey]*domain.Thread
	messages map[string]*domain.Message
	listings map[string]*domain.Listing
}

// NewIndex creates an empty index for viewerID
func NewIndex(viewerID string) *Index {
	return &Index{
		viewerID: viewerID,
		threads:  make(map[domain.ThreadKey]*domain.Thread),
		messages: make(map[string]*domain.Message),
		listings: make(map[string]*domain.Listing),
	}
}

// SetListings merges listing metadata and refreshes titles of affected threads
func (x *Index) SetListings(listings []*domain.Listing) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, l := range listings {
		if l != nil {
			x.listings[l.ID] = l
		}
	}
	for key, t := range x.threads {
		applyListing(t, x.listings[key.ListingID])
	}
}

// Add applies one message. Re-adding a known message is a no-op except for a
// read transition, so push events and refetches can both feed the index.
// It returns false when the message was ignored.
func (x *Index) Add(m *domain.Message) bool {
	if m == nil || !m.Involves(x.viewerID) {
		return false
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if known, ok := x.messages[m.ID]; ok {
		if m.IsRead && !known.IsRead {
			x.markReadLocked(known)
			return true
		}
		return false
	}

	stored := *m
	x.messages[m.ID] = &stored

	key := domain.ThreadKey{ListingID: m.ListingID, OtherUserID: m.Counterparty(x.viewerID)}
	t, ok := x.threads[key]
	if !ok {
		t = &domain.Thread{ListingID: key.ListingID, OtherUserID: key.OtherUserID}
		applyListing(t, x.listings[key.ListingID])
		x.threads[key] = t
	}

	if t.LastMessageID == "" || newer(&stored, x.messages[t.LastMessageID]) {
		t.LastMessageID = stored.ID
		t.LastMessage = stored.Content
		t.LastMessageTime = stored.CreatedAt
	}
	if stored.IsUnreadFor(x.viewerID) {
		t.UnreadCount++
	}
	return true
}

// MarkRead flips a known message to read. It returns true when an unread count changed.
func (x *Index) MarkRead(messageID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	m, ok := x.messages[messageID]
	if !ok || m.IsRead {
		return false
	}
	return x.markReadLocked(m)
}

func (x *Index) markReadLocked(m *domain.Message) bool {
	wasUnread := m.IsUnreadFor(x.viewerID)
	m.IsRead = true
	if !wasUnread {
		return false
	}
	key := domain.ThreadKey{ListingID: m.ListingID, OtherUserID: m.Counterparty(x.viewerID)}
	if t, ok := x.threads[key]; ok && t.UnreadCount > 0 {
		t.UnreadCount--
	}
	return true
}

// Threads returns a sorted snapshot of every thread
func (x *Index) Threads() []*domain.Thread {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]*domain.Thread, 0, len(x.threads))
	for _, t := range x.threads {
		cp := *t
		out = append(out, &cp)
	}
	SortThreads(out)
	return out
}

// Unread returns the unread count for one thread
func (x *Index) Unread(key domain.ThreadKey) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if t, ok := x.threads[key]; ok {
		return t.UnreadCount
	}
	return 0
}
