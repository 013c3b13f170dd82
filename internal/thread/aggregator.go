// Package thread derives per-viewer conversation threads from raw messages.
package thread

import (
	"sort"

	"github.com/swapmeet/swapmeet-backend/internal/domain"
)

// Aggregate groups messages into one thread per (listing, counterparty) for viewerID.
//
// Messages that do not involve viewerID are ignored. Listings missing from the lookup
// still produce a thread, titled domain.DefaultListingTitle. The result is sorted by
// LastMessageTime descending. The whole set is recomputed on every call.
func Aggregate(viewerID string, messages []*domain.Message, listings []*domain.Listing) []*domain.Thread {
	byListing := indexListings(listings)

	groups := make(map[domain.ThreadKey][]*domain.Message)
	for _, m := range messages {
		if m == nil || !m.Involves(viewerID) {
			continue
		}
		key := domain.ThreadKey{ListingID: m.ListingID, OtherUserID: m.Counterparty(viewerID)}
		groups[key] = append(groups[key], m)
	}

	threads := make([]*domain.Thread, 0, len(groups))
	for key, group := range groups {
		sort.Slice(group, func(i, j int) bool { return newer(group[i], group[j]) })
		head := group[0]

		t := &domain.Thread{
			ListingID:       key.ListingID,
			OtherUserID:     key.OtherUserID,
			LastMessageID:   head.ID,
			LastMessage:     head.Content,
			LastMessageTime: head.CreatedAt,
		}
		for _, m := range group {
			if m.IsUnreadFor(viewerID) {
				t.UnreadCount++
			}
		}
		applyListing(t, byListing[key.ListingID])
		threads = append(threads, t)
	}

	SortThreads(threads)
	return threads
}

// ListingIDs returns the distinct listing IDs referenced by messages, in first-seen order
func ListingIDs(messages []*domain.Message) []string {
	seen := make(map[string]struct{}, len(messages))
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		if _, ok := seen[m.ListingID]; ok {
			continue
		}
		seen[m.ListingID] = struct{}{}
		ids = append(ids, m.ListingID)
	}
	return ids
}

// TotalUnread sums UnreadCount over threads
func TotalUnread(threads []*domain.Thread) int {
	total := 0
	for _, t := range threads {
		total += t.UnreadCount
	}
	return total
}

// SortThreads orders threads by last message time, newest first. Ties fall back to the
// thread key so the order is deterministic.
func SortThreads(threads []*domain.Thread) {
	sort.SliceStable(threads, func(i, j int) bool {
		a, b := threads[i], threads[j]
		if !a.LastMessageTime.Equal(b.LastMessageTime) {
			return a.LastMessageTime.After(b.LastMessageTime)
		}
		if a.ListingID != b.ListingID {
			return a.ListingID < b.ListingID
		}
		return a.OtherUserID < b.OtherUserID
	})
}

// newer reports whether a sorts before b in a newest-first ordering
func newer(a, b *domain.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func indexListings(listings []*domain.Listing) map[string]*domain.Listing {
	out := make(map[string]*domain.Listing, len(listings))
	for _, l := range listings {
		if l != nil {
			out[l.ID] = l
		}
	}
	return out
}

func applyListing(t *domain.Thread, l *domain.Listing) {
	if l == nil || l.Title == "" {
		t.ListingTitle = domain.DefaultListingTitle
		if l != nil {
			t.ListingImage = l.FirstImage()
		}
		return
	}
	t.ListingTitle = l.Title
	t.ListingImage = l.FirstImage()
}
