package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/swapmeet/swapmeet-backend/internal/domain"
	"github.com/swapmeet/swapmeet-backend/pkg/cache"
	"github.com/swapmeet/swapmeet-backend/pkg/logger"
)

// CachedListingRepository 캐시가 적용된 매물 저장소. Redis failures fall through to
// the inner repository.
type CachedListingRepository struct {
	repo  ListingRepository
	cache cache.Service
	ttl   time.Duration
}

// NewCachedListingRepository wraps repo with a per-listing cache
func NewCachedListingRepository(repo ListingRepository, c cache.Service, ttl time.Duration) *CachedListingRepository {
	if ttl <= 0 {
		ttl = cache.TTLListing
	}
	return &CachedListingRepository{repo: repo, cache: c, ttl: ttl}
}

func keyListing(id string) string {
	return cache.PrefixListing + id
}

// FindByID returns one listing, cached
func (r *CachedListingRepository) FindByID(ctx context.Context, id string) (*domain.Listing, error) {
	var cached domain.Listing
	if err := r.cache.Get(ctx, keyListing(id), &cached); err == nil {
		return &cached, nil
	}

	listing, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, listing)
	return listing, nil
}

// FindByIDs serves hits from one MGET and loads only the misses
func (r *CachedListingRepository) FindByIDs(ctx context.Context, ids []string) ([]*domain.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyListing(id)
	}

	var (
		found  []*domain.Listing
		misses []string
	)
	raw, err := r.cache.GetMany(ctx, keys)
	if err != nil {
		logger.GetLogger().Warn().Err(err).Msg("listing cache read failed")
		raw = make([][]byte, len(ids))
	}
	for i, b := range raw {
		if b == nil {
			misses = append(misses, ids[i])
			continue
		}
		var l domain.Listing
		if err := json.Unmarshal(b, &l); err != nil {
			misses = append(misses, ids[i])
			continue
		}
		found = append(found, &l)
	}
	if len(misses) == 0 {
		return found, nil
	}

	loaded, err := r.repo.FindByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	for _, l := range loaded {
		r.store(ctx, l)
	}
	return append(found, loaded...), nil
}

// Create writes through and drops any stale entry
func (r *CachedListingRepository) Create(ctx context.Context, listing *domain.Listing) error {
	if err := r.repo.Create(ctx, listing); err != nil {
		return err
	}
	return r.Invalidate(ctx, listing.ID)
}

// Invalidate removes cached listings
func (r *CachedListingRepository) Invalidate(ctx context.Context, ids ...string) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyListing(id)
	}
	return r.cache.Delete(ctx, keys...)
}

func (r *CachedListingRepository) store(ctx context.Context, l *domain.Listing) {
	if err := r.cache.Set(ctx, keyListing(l.ID), l, r.ttl); err != nil {
		logger.GetLogger().Warn().Err(err).Str("listing_id", l.ID).Msg("listing cache write failed")
	}
}
