package realtime

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Presence polling defaults
const (
	DefaultPollInterval = 10 * time.Second
	DefaultStaleAfter   = 5 * time.Second
)

type presenceEntry struct {
	online    bool
	fetchedAt time.Time
}

// PresencePoller answers online queries from a short-lived cache, accepting a few
// seconds of staleness instead of querying on every render.
type PresencePoller struct {
	api        *API
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]presenceEntry
}

// NewPresencePoller creates a poller with the default interval and staleness
func NewPresencePoller(api *API) *PresencePoller {
	return &PresencePoller{
		api:        api,
		interval:   DefaultPollInterval,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		cache:      make(map[string]presenceEntry),
	}
}

// IsOnline returns the cached status when it is fresh and fetches otherwise
func (p *PresencePoller) IsOnline(ctx context.Context, userID string) (bool, error) {
	p.mu.Lock()
	e, ok := p.cache[userID]
	p.mu.Unlock()
	if ok && p.now().Sub(e.fetchedAt) < p.staleAfter {
		return e.online, nil
	}
	return p.fetch(ctx, userID)
}

func (p *PresencePoller) fetch(ctx context.Context, userID string) (bool, error) {
	var out struct {
		UserID string `json:"userId"`
		Online bool   `json:"online"`
	}
	if err := p.api.Do(ctx, http.MethodGet, "/api/v1/presence/status/"+url.PathEscape(userID), nil, &out); err != nil {
		return false, err
	}
	p.mu.Lock()
	p.cache[userID] = presenceEntry{online: out.Online, fetchedAt: p.now()}
	p.mu.Unlock()
	return out.Online, nil
}

// Watch polls userID every interval and reports each result until ctx is done.
// Failed polls are skipped.
func (p *PresencePoller) Watch(ctx context.Context, userID string, fn func(online bool)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if online, err := p.IsOnline(ctx, userID); err == nil {
			fn(online)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
