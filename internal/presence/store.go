// Package presence tracks user liveness from periodic heartbeats.
//
// There is no explicit offline event: a user is online while the last heartbeat is
// within the freshness window, and offline once it goes stale.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/swapmeet/swapmeet-backend/internal/domain"
)

// DefaultFreshnessWindow covers one 30s heartbeat interval plus one missed beat
const DefaultFreshnessWindow = 60 * time.Second

// Store answers online queries from recorded heartbeats
type Store interface {
	Heartbeat(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	// IsOnlineBatch returns an entry for every requested ID; unknown IDs are false.
	IsOnlineBatch(ctx context.Context, userIDs []string) (map[string]bool, error)
	LastSeen(ctx context.Context, userID string) (domain.PresenceRecord, bool, error)
}

// Clock returns the current time
type Clock func() time.Time

// MemoryStore keeps heartbeats in process memory
type MemoryStore struct {
	window time.Duration
	now    Clock

	mu   sync.RWMutex
	seen map[string]time.Time
}

// NewMemoryStore creates a MemoryStore. A nil clock uses time.Now.
func NewMemoryStore(window time.Duration, clock Clock) *MemoryStore {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		window: window,
		now:    clock,
		seen:   make(map[string]time.Time),
	}
}

func (s *MemoryStore) Heartbeat(_ context.Context, userID string) error {
	s.mu.Lock()
	s.seen[userID] = s.now()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) IsOnline(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	at, ok := s.seen[userID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return s.fresh(at), nil
}

func (s *MemoryStore) IsOnlineBatch(_ context.Context, userIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(userIDs))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range userIDs {
		at, ok := s.seen[id]
		out[id] = ok && s.fresh(at)
	}
	return out, nil
}

func (s *MemoryStore) LastSeen(_ context.Context, userID string) (domain.PresenceRecord, bool, error) {
	s.mu.RLock()
	at, ok := s.seen[userID]
	s.mu.RUnlock()
	return domain.PresenceRecord{UserID: userID, LastHeartbeatAt: at}, ok, nil
}

// Prune drops records older than the freshness window and returns how many were removed
func (s *MemoryStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, at := range s.seen {
		if !s.fresh(at) {
			delete(s.seen, id)
			removed++
		}
	}
	return removed
}

// Run prunes stale records every interval until ctx is done
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Prune()
		case <-ctx.Done():
			return
		}
	}
}

func (s *MemoryStore) fresh(at time.Time) bool {
	return domain.PresenceRecord{LastHeartbeatAt: at}.OnlineWithin(s.now(), s.window)
}
