package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/swapmeet/swapmeet-backend/pkg/logger"
)

// DefaultHeartbeatInterval matches the server's freshness window of two beats
const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat keeps the user's presence fresh. A failed beat is not retried; the next
// scheduled beat covers it.
type Heartbeat struct {
	api      *API
	interval time.Duration
	wake     chan struct{}
}

// NewHeartbeat creates a heartbeat loop. interval <= 0 uses the default.
func NewHeartbeat(api *API, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{api: api, interval: interval, wake: make(chan struct{}, 1)}
}

// Wake beats immediately, e.g. when the window becomes visible again
func (h *Heartbeat) Wake() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run beats once, then every interval and on every Wake, until ctx is done
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		case <-h.wake:
			h.beat(ctx)
			ticker.Reset(h.interval)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	if err := h.api.Do(ctx, http.MethodPost, "/api/v1/presence/heartbeat", nil, nil); err != nil && ctx.Err() == nil {
		logger.GetLogger().Debug().Err(err).Msg("presence heartbeat failed")
	}
}
