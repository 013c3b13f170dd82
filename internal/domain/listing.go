package domain

import (
	"encoding/json"
	"time"
)

// ListingStatus 매물 상태
type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusReserved ListingStatus = "reserved"
	ListingStatusSold     ListingStatus = "sold"
)

// Listing is the marketplace item a conversation is about. Only title and the first
// image are read by the messaging subsystem; the rest is owned by the listings service.
type Listing struct {
	ID        string        `gorm:"column:id;primaryKey;size:64" json:"id"`
	SellerID  string        `gorm:"column:seller_id;size:64;not null;index" json:"sellerId"`
	Title     string        `gorm:"column:title;size:200;not null" json:"title"`
	Price     int64         `gorm:"column:price;not null;default:0" json:"price"`
	Status    ListingStatus `gorm:"column:status;size:20;default:active" json:"status"`
	Images    string        `gorm:"column:images;type:text" json:"images"` // JSON array of URLs
	CreatedAt time.Time     `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Listing) TableName() string { return "listings" }

// FirstImage returns the first image URL, or "" when there is none or Images is malformed
func (l *Listing) FirstImage() string {
	if l.Images == "" {
		return ""
	}
	var urls []string
	if err := json.Unmarshal([]byte(l.Images), &urls); err != nil || len(urls) == 0 {
		return ""
	}
	return urls[0]
}
