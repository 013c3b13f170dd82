package repository

import (
	"context"

	"github.com/swapmeet/swapmeet-backend/internal/domain"
	"gorm.io/gorm"
)

// ListingRepository reads listing metadata
type ListingRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Listing, error)
	FindByIDs(ctx context.Context, ids []string) ([]*domain.Listing, error)
	Create(ctx context.Context, listing *domain.Listing) error
}

type listingRepository struct {
	db *gorm.DB
}

// NewListingRepository creates a new ListingRepository
func NewListingRepository(db *gorm.DB) ListingRepository {
	return &listingRepository{db: db}
}

func (r *listingRepository) FindByID(ctx context.Context, id string) (*domain.Listing, error) {
	var listing domain.Listing
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&listing).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

// FindByIDs returns the listings that exist; unknown IDs are skipped
func (r *listingRepository) FindByIDs(ctx context.Context, ids []string) ([]*domain.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var listings []*domain.Listing
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&listings).Error
	return listings, err
}

func (r *listingRepository) Create(ctx context.Context, listing *domain.Listing) error {
	return r.db.WithContext(ctx).Create(listing).Error
}
