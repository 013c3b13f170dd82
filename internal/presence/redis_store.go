package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/swapmeet/swapmeet-backend/internal/domain"
)

const keyPrefix = "presence:"

// RedisStore keeps one key per user holding the last heartbeat in unix milliseconds.
// Keys expire after the freshness window, so stale users also disappear from redis.
type RedisStore struct {
	client *redis.Client
	window time.Duration
	now    Clock
}

// NewRedisStore creates a RedisStore. A nil clock uses time.Now.
func NewRedisStore(client *redis.Client, window time.Duration, clock Clock) *RedisStore {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	if clock == nil {
		clock = time.Now
	}
	return &RedisStore{client: client, window: window, now: clock}
}

func key(userID string) string {
	return keyPrefix + userID
}

func (s *RedisStore) Heartbeat(ctx context.Context, userID string) error {
	ms := s.now().UnixMilli()
	if err := s.client.Set(ctx, key(userID), ms, s.window).Err(); err != nil {
		return fmt.Errorf("presence heartbeat %s: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	rec, ok, err := s.LastSeen(ctx, userID)
	if err != nil || !ok {
		return false, err
	}
	return rec.OnlineWithin(s.now(), s.window), nil
}

func (s *RedisStore) IsOnlineBatch(ctx context.Context, userIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = key(id)
		out[id] = false
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return out, fmt.Errorf("presence batch: %w", err)
	}

	now := s.now()
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		at, err := parseMillis(str)
		if err != nil {
			continue
		}
		if (domain.PresenceRecord{LastHeartbeatAt: at}).OnlineWithin(now, s.window) {
			out[userIDs[i]] = true
		}
	}
	return out, nil
}

func (s *RedisStore) LastSeen(ctx context.Context, userID string) (domain.PresenceRecord, bool, error) {
	rec := domain.PresenceRecord{UserID: userID}

	str, err := s.client.Get(ctx, key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("presence lookup %s: %w", userID, err)
	}

	at, err := parseMillis(str)
	if err != nil {
		return rec, false, nil
	}
	rec.LastHeartbeatAt = at
	return rec, true, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
