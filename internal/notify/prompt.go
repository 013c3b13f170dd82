package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/swapmeet/swapmeet-backend/pkg/cache"
)

// ErrUnsupported is returned by platforms without notifications
var ErrUnsupported = errors.New("notifications unsupported")

// PromptStore remembers whether a user dismissed the permission prompt
type PromptStore interface {
	Dismissed(ctx context.Context, userID string) (bool, error)
	Dismiss(ctx context.Context, userID string) error
}

// MemoryPromptStore keeps dismissal state in memory
type MemoryPromptStore struct {
	mu        sync.RWMutex
	dismissed map[string]bool
}

func NewMemoryPromptStore() *MemoryPromptStore {
	return &MemoryPromptStore{dismissed: make(map[string]bool)}
}

func (s *MemoryPromptStore) Dismissed(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dismissed[userID], nil
}

func (s *MemoryPromptStore) Dismiss(_ context.Context, userID string) error {
	s.mu.Lock()
	s.dismissed[userID] = true
	s.mu.Unlock()
	return nil
}

// CachePromptStore persists dismissal state through the cache service without expiry
type CachePromptStore struct {
	cache cache.Service
}

func NewCachePromptStore(c cache.Service) *CachePromptStore {
	return &CachePromptStore{cache: c}
}

func (s *CachePromptStore) Dismissed(ctx context.Context, userID string) (bool, error) {
	return s.cache.Exists(ctx, cache.PrefixPrompt+userID)
}

func (s *CachePromptStore) Dismiss(ctx context.Context, userID string) error {
	return s.cache.Set(ctx, cache.PrefixPrompt+userID, true, 0)
}
