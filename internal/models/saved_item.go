package models

import (
	"time"

	"afriverse/core/internal/utils"
)

// SavedItem is a bookmark of a listing in a user's save-for-later list.
// There is no quantity; membership is the whole of the semantics. A unique
// (user_id, listing_id) index keeps it one row per pair.
type SavedItem struct {
	Base      `bson:",inline"`
	UserID    utils.ShortID `bson:"user_id" json:"user_id"`
	ListingID utils.ShortID `bson:"listing_id" json:"listing_id"`
	Price     float64       `bson:"price" json:"price"` // snapshot at save time
	Title     string        `bson:"title" json:"title"` // snapshot for list rendering
	CreatedAt time.Time     `bson:"created_at" json:"created_at"`
}
