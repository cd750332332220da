package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"afriverse/core/internal/db"
	"afriverse/core/internal/models"
	"afriverse/core/internal/realtime"
	"afriverse/core/internal/utils"
)

// ICartService defines the interface for the save-for-later list. Add and
// Remove are idempotent: repeating either leaves the list unchanged and
// returns success.
type ICartService interface {
	Add(ctx context.Context, userID, listingID utils.ShortID) error
	Remove(ctx context.Context, userID, listingID utils.ShortID) error
	IsSaved(ctx context.Context, userID, listingID utils.ShortID) (bool, error)
	List(ctx context.Context, userID utils.ShortID) ([]models.SavedItem, error)
}

const savedItemsCollection = "saved_items"

// cartService implements ICartService.
type cartService struct {
	db             *mongo.Database
	listingService IListingService
	notifier       realtime.Notifier
}

// NewCartService creates a new CartService.
func NewCartService(db *mongo.Database, listingService IListingService, notifier realtime.Notifier) ICartService {
	if notifier == nil {
		notifier = realtime.NopNotifier{}
	}
	return &cartService{db: db, listingService: listingService, notifier: notifier}
}

// Add saves a listing to the user's list. The unique (user_id, listing_id)
// index makes a concurrent double-add collapse to one row; the duplicate-key
// error from the loser is swallowed as success.
func (s *cartService) Add(ctx context.Context, userID, listingID utils.ShortID) error {
	listing, err := s.listingService.FindListingByID(ctx, listingID)
	if err != nil {
		return err
	}

	item := models.SavedItem{
		Base:      models.NewBase(),
		UserID:    userID,
		ListingID: listingID,
		Price:     listing.Price,
		Title:     listing.Title,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.Collection(savedItemsCollection).InsertOne(ctx, item)
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			// Already saved. Idempotent, not an error.
			return nil
		}
		return fmt.Errorf("failed to save listing %s for user %s: %w", listingID.String(), userID.String(), err)
	}

	s.notifier.Notify(ctx, userID.String(), realtime.Event{Kind: "cart"})
	return nil
}

// Remove deletes the saved entry. Removing an entry that does not exist is a
// no-op success.
func (s *cartService) Remove(ctx context.Context, userID, listingID utils.ShortID) error {
	result, err := s.db.Collection(savedItemsCollection).DeleteOne(ctx, bson.M{
		"user_id":    userID,
		"listing_id": listingID,
	})
	if err != nil {
		return fmt.Errorf("failed to remove saved listing %s for user %s: %w", listingID.String(), userID.String(), err)
	}
	if result.DeletedCount > 0 {
		s.notifier.Notify(ctx, userID.String(), realtime.Event{Kind: "cart"})
	}
	return nil
}

// IsSaved reports membership.
func (s *cartService) IsSaved(ctx context.Context, userID, listingID utils.ShortID) (bool, error) {
	count, err := s.db.Collection(savedItemsCollection).CountDocuments(ctx, bson.M{
		"user_id":    userID,
		"listing_id": listingID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check saved state for listing %s: %w", listingID.String(), err)
	}
	return count > 0, nil
}

// List returns the user's saved listings, newest first.
func (s *cartService) List(ctx context.Context, userID utils.ShortID) ([]models.SavedItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.db.Collection(savedItemsCollection).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved items for user %s: %w", userID.String(), err)
	}
	defer cursor.Close(ctx)

	var items []models.SavedItem
	if err = cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode saved items for user %s: %w", userID.String(), err)
	}
	return items, nil
}
