package models

import (
	"time"

	"afriverse/core/internal/utils"
)

// ListingStatus is the lifecycle state of a listing.
type ListingStatus string

const (
	ListingStatusDraft    ListingStatus = "draft"
	ListingStatusActive   ListingStatus = "active"
	ListingStatusReserved ListingStatus = "reserved" // offer accepted, negotiation in flight
	ListingStatusSold     ListingStatus = "sold"
)

// Listing represents a single pre-loved item offered for sale.
type Listing struct {
	Base            `bson:",inline"`
	SellerID        utils.ShortID `bson:"seller_id" json:"seller_id"`
	Title           string        `bson:"title" json:"title"`
	Description     string        `bson:"description" json:"description"`
	Price           float64       `bson:"price" json:"price"`
	OriginalPrice   float64       `bson:"original_price,omitempty" json:"original_price,omitempty"` // retail price when new
	CurrencyCode    string        `bson:"currency_code" json:"currency_code"`
	Size            string        `bson:"size,omitempty" json:"size,omitempty"`
	Condition       string        `bson:"condition,omitempty" json:"condition,omitempty"` // e.g. "like_new", "good", "fair"
	Category        string        `bson:"category,omitempty" json:"category,omitempty"`
	Brand           string        `bson:"brand,omitempty" json:"brand,omitempty"`
	Images          []string      `bson:"images" json:"images"` // S3 keys, first = primary
	Status          ListingStatus `bson:"status" json:"status"`
	TryOnAvailable  bool          `bson:"try_on_available" json:"try_on_available"`
	Model3D         string        `bson:"model_3d,omitempty" json:"model_3d,omitempty"` // S3 key in the 3d-models bucket
	ModelGenPending bool          `bson:"model_gen_pending,omitempty" json:"-"`         // a generation task is in flight
	CreatedAt       time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `bson:"updated_at" json:"updated_at"`
	PublishedAt     *time.Time    `bson:"published_at,omitempty" json:"published_at,omitempty"`
	SoldAt          *time.Time    `bson:"sold_at,omitempty" json:"sold_at,omitempty"`
	Deleted         bool          `bson:"deleted" json:"-"` // Soft delete flag
}

// Savings returns how much the buyer saves against the original retail price.
func (l *Listing) Savings() float64 {
	if l.OriginalPrice <= l.Price {
		return 0
	}
	return l.OriginalPrice - l.Price
}

// ListingFilter holds the conjunctive browse/search predicates. Zero values
// mean "no constraint"; all present constraints are ANDed together.
type ListingFilter struct {
	Query      string   // free-text search over title/brand/description
	PriceMin   *float64 // inclusive
	PriceMax   *float64 // inclusive
	Categories []string
	Conditions []string
	Sizes      []string
	SellerID   *utils.ShortID
	TryOnOnly  bool
}
