package migration

import (
	"gorm.io/gorm"

	"github.com/swapmeet/swapmeet-backend/internal/domain"
)

// Run executes AutoMigrate for the messaging tables
func Run(db *gorm.DB) error {
	// listings first so a later foreign key could reference it
	if err := db.AutoMigrate(&domain.Listing{}, &domain.Message{}); err != nil {
		return err
	}

	// unread lookups per thread
	if !db.Migrator().HasIndex(&domain.Message{}, "idx_messages_thread_unread") {
		if err := db.Exec("CREATE INDEX idx_messages_thread_unread ON messages (receiver_id, listing_id, sender_id, is_read)").Error; err != nil {
			return err
		}
	}
	return nil
}

// SeedDemo inserts a few listings when the table is empty
func SeedDemo(db *gorm.DB) error {
	var count int64
	if err := db.Model(&domain.Listing{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	listings := []domain.Listing{
		{ID: "demo-bike", SellerID: "seller", Title: "Road bike, 56cm", Price: 320, Images: `["https://img.swapmeet.example/bike-1.jpg"]`},
		{ID: "demo-desk", SellerID: "seller", Title: "Standing desk", Price: 150},
		{ID: "demo-lamp", SellerID: "buyer", Title: "Vintage lamp", Price: 40, Status: domain.ListingStatusReserved},
	}
	return db.Create(&listings).Error
}

// Report summarizes data integrity of the messaging tables
type Report struct {
	Messages     int64
	Listings     int64
	Orphaned     int64 // messages whose listing no longer exists
	SelfMessages int64
}

// Verify counts rows and integrity problems. Orphaned messages are legal: threads
// render them with a placeholder title.
func Verify(db *gorm.DB) (Report, error) {
	var r Report
	if err := db.Model(&domain.Message{}).Count(&r.Messages).Error; err != nil {
		return r, err
	}
	if err := db.Model(&domain.Listing{}).Count(&r.Listings).Error; err != nil {
		return r, err
	}
	if err := db.Model(&domain.Message{}).
		Where("listing_id NOT IN (?)", db.Model(&domain.Listing{}).Select("id")).
		Count(&r.Orphaned).Error; err != nil {
		return r, err
	}
	if err := db.Model(&domain.Message{}).
		Where("sender_id = receiver_id").
		Count(&r.SelfMessages).Error; err != nil {
		return r, err
	}
	return r, nil
}
