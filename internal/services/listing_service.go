package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"afriverse/core/internal/config"
	"afriverse/core/internal/db"
	"afriverse/core/internal/models"
	"afriverse/core/internal/utils"
)

// IListingService defines the interface for listing-related operations.
type IListingService interface {
	CreateListing(ctx context.Context, sellerID utils.ShortID, fields models.Listing) (*models.Listing, error)
	FindListingByID(ctx context.Context, listingID utils.ShortID) (*models.Listing, error)
	UpdateListing(ctx context.Context, listingID, sellerID utils.ShortID, updates map[string]interface{}) (*models.Listing, error)
	PublishListing(ctx context.Context, listingID, sellerID utils.ShortID) error
	DeleteListing(ctx context.Context, listingID, sellerID utils.ShortID) error
	SearchListings(ctx context.Context, filter models.ListingFilter, limit int, cursor string) ([]models.Listing, string, error)
	AddImageToListing(ctx context.Context, listingID utils.ShortID, imageKey string) error
	// Status edges used by checkout and the offer flow. All are conditional
	// on the expected current status; a miss returns db.ErrPreconditionFailed.
	MarkReserved(ctx context.Context, listingID utils.ShortID) error
	MarkSold(ctx context.Context, listingID utils.ShortID, from models.ListingStatus) error
	// 3D model pipeline hooks.
	MarkModelGenPending(ctx context.Context, listingID utils.ShortID) error
	AttachModel3D(ctx context.Context, listingID utils.ShortID, modelKey string) error
	TryOnInfo(ctx context.Context, listingID utils.ShortID) (model3D string, available bool, err error)
}

const listingsCollection = "listings"

// listingService implements IListingService.
type listingService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewListingService creates a new ListingService.
func NewListingService(db *mongo.Database, cfg *config.Config) IListingService {
	return &listingService{db: db, cfg: cfg}
}

// CreateListing creates a new listing document in a draft state. The caller
// provides the seller-editable fields in `fields`; lifecycle fields are set here.
func (s *listingService) CreateListing(ctx context.Context, sellerID utils.ShortID, fields models.Listing) (*models.Listing, error) {
	if fields.Title == "" {
		return nil, fmt.Errorf("listing title is required")
	}
	if fields.Price < 0 {
		return nil, fmt.Errorf("listing price cannot be negative")
	}

	collection := s.db.Collection(listingsCollection)
	now := time.Now().UTC()

	currency := fields.CurrencyCode
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	var newListing *models.Listing

	operation := func() error {
		newListing = &models.Listing{
			Base:          models.NewBase(),
			SellerID:      sellerID,
			Title:         fields.Title,
			Description:   fields.Description,
			Price:         fields.Price,
			OriginalPrice: fields.OriginalPrice,
			CurrencyCode:  currency,
			Size:          fields.Size,
			Condition:     fields.Condition,
			Category:      fields.Category,
			Brand:         fields.Brand,
			Images:        []string{},
			Status:        models.ListingStatusDraft,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		_, insertErr := collection.InsertOne(ctx, newListing)
		return insertErr
	}

	if err := db.Try(operation); err != nil {
		listingIDStr := "<unknown>"
		if newListing != nil {
			listingIDStr = newListing.ID.String()
		}
		return nil, fmt.Errorf("failed to insert new listing for seller %s (last attempted listing ID: %s) after multiple retries: %w",
			sellerID.String(), listingIDStr, err)
	}

	return newListing, nil
}

// FindListingByID finds a non-deleted listing by its ID. It does NOT check ownership.
func (s *listingService) FindListingByID(ctx context.Context, listingID utils.ShortID) (*models.Listing, error) {
	var listing models.Listing
	collection := s.db.Collection(listingsCollection)
	filter := bson.M{"_id": listingID, "deleted": false}

	err := collection.FindOne(ctx, filter).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("error finding listing by ID %s: %w", listingID.String(), err)
	}
	return &listing, nil
}

// UpdateListing updates seller-editable fields of a listing owned by the
// specified seller. Status changes go through the dedicated methods.
func (s *listingService) UpdateListing(ctx context.Context, listingID, sellerID utils.ShortID, updates map[string]interface{}) (*models.Listing, error) {
	collection := s.db.Collection(listingsCollection)

	// Ensure only allowed fields are updated (prevent changing ownership, status etc.)
	allowedUpdates := bson.M{}
	for key, value := range updates {
		switch key {
		case "title", "description", "price", "original_price", "size", "condition", "category", "brand":
			allowedUpdates[key] = value
		default:
			return nil, fmt.Errorf("field '%s' cannot be updated via UpdateListing", key)
		}
	}
	if len(allowedUpdates) == 0 {
		return nil, fmt.Errorf("no valid fields provided for update")
	}
	allowedUpdates["updated_at"] = time.Now().UTC()

	filter := bson.M{
		"_id":       listingID,
		"seller_id": sellerID,
		"deleted":   false,
		// A sold listing is frozen.
		"status": bson.M{"$ne": models.ListingStatusSold},
	}

	update := bson.M{"$set": allowedUpdates}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updatedListing models.Listing
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updatedListing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("listing not found, not owned by seller, or cannot be updated")
		}
		return nil, fmt.Errorf("failed to update listing %s: %w", listingID.String(), err)
	}

	return &updatedListing, nil
}

// PublishListing moves a draft listing to active.
func (s *listingService) PublishListing(ctx context.Context, listingID, sellerID utils.ShortID) error {
	now := time.Now().UTC()
	filter := bson.M{
		"_id":       listingID,
		"seller_id": sellerID,
		"deleted":   false,
		"status":    models.ListingStatusDraft,
	}
	update := bson.M{"$set": bson.M{
		"status":       models.ListingStatusActive,
		"published_at": now,
		"updated_at":   now,
	}}

	collection := s.db.Collection(listingsCollection)
	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error publishing listing %s: %w", listingID.String(), err)
	}
	if result.MatchedCount == 0 {
		return s.explainStatusMiss(ctx, listingID, sellerID, models.ListingStatusDraft)
	}
	return nil
}

// DeleteListing performs a soft delete by setting the deleted flag to true.
func (s *listingService) DeleteListing(ctx context.Context, listingID, sellerID utils.ShortID) error {
	now := time.Now().UTC()
	filter := bson.M{
		"_id":       listingID,
		"seller_id": sellerID,
		"deleted":   false,
		// A sold listing stays visible in purchase history.
		"status": bson.M{"$ne": models.ListingStatusSold},
	}
	update := bson.M{"$set": bson.M{
		"deleted":    true,
		"deleted_at": now,
		"updated_at": now,
	}}

	collection := s.db.Collection(listingsCollection)
	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error deleting listing %s: %w", listingID.String(), err)
	}
	if result.MatchedCount == 0 {
		var listing models.Listing
		checkErr := collection.FindOne(ctx, bson.M{"_id": listingID}).Decode(&listing)
		if errors.Is(checkErr, mongo.ErrNoDocuments) {
			return db.ErrNotFound
		}
		if listing.SellerID != sellerID {
			return fmt.Errorf("listing %s does not belong to seller %s", listingID.String(), sellerID.String())
		}
		if listing.Status == models.ListingStatusSold {
			return fmt.Errorf("listing %s is sold and cannot be deleted", listingID.String())
		}
		return db.ErrNotFound
	}
	return nil
}

// MarkReserved moves an active listing to reserved (offer accepted).
func (s *listingService) MarkReserved(ctx context.Context, listingID utils.ShortID) error {
	return s.conditionalStatusChange(ctx, listingID, models.ListingStatusActive, models.ListingStatusReserved, nil)
}

// MarkSold flips a listing to sold exactly once, from the expected prior
// status (active for direct checkout, reserved for the offer flow).
func (s *listingService) MarkSold(ctx context.Context, listingID utils.ShortID, from models.ListingStatus) error {
	now := time.Now().UTC()
	return s.conditionalStatusChange(ctx, listingID, from, models.ListingStatusSold, bson.M{"sold_at": now})
}

// conditionalStatusChange performs a guarded status transition. A missed
// guard is reported as db.ErrPreconditionFailed so callers can surface
// "someone else already updated this" instead of clobbering.
func (s *listingService) conditionalStatusChange(ctx context.Context, listingID utils.ShortID, from, to models.ListingStatus, extraSet bson.M) error {
	collection := s.db.Collection(listingsCollection)

	filter := bson.M{
		"_id":     listingID,
		"deleted": false,
		"status":  from,
	}
	set := bson.M{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extraSet {
		set[k] = v
	}

	result, err := collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("db error moving listing %s to %s: %w", listingID.String(), to, err)
	}
	if result.MatchedCount == 0 {
		var listing models.Listing
		checkErr := collection.FindOne(ctx, bson.M{"_id": listingID, "deleted": false}).Decode(&listing)
		if errors.Is(checkErr, mongo.ErrNoDocuments) {
			return db.ErrNotFound
		}
		if checkErr != nil {
			return fmt.Errorf("db error checking listing %s after failed transition: %w", listingID.String(), checkErr)
		}
		// Listing exists but is not in the expected state.
		return fmt.Errorf("listing %s is %s, expected %s: %w", listingID.String(), listing.Status, from, db.ErrPreconditionFailed)
	}
	return nil
}

// explainStatusMiss diagnoses why an owner-scoped conditional status update
// matched nothing, so callers get a typed error instead of a silent no-op.
func (s *listingService) explainStatusMiss(ctx context.Context, listingID, sellerID utils.ShortID, expected models.ListingStatus) error {
	var listing models.Listing
	checkErr := s.db.Collection(listingsCollection).FindOne(ctx, bson.M{"_id": listingID}).Decode(&listing)
	if errors.Is(checkErr, mongo.ErrNoDocuments) {
		return db.ErrNotFound
	}
	if checkErr != nil {
		return fmt.Errorf("db error checking listing %s: %w", listingID.String(), checkErr)
	}
	if listing.SellerID != sellerID {
		return fmt.Errorf("listing %s does not belong to seller %s", listingID.String(), sellerID.String())
	}
	if listing.Deleted {
		return fmt.Errorf("listing %s is deleted", listingID.String())
	}
	if listing.Status != expected {
		return fmt.Errorf("listing %s is %s, expected %s: %w", listingID.String(), listing.Status, expected, db.ErrPreconditionFailed)
	}
	return fmt.Errorf("listing %s cannot be updated (condition not met)", listingID.String())
}

// SearchListings returns active listings matching all provided filter
// predicates (conjunctive), newest first, with opaque cursor pagination.
func (s *listingService) SearchListings(ctx context.Context, filter models.ListingFilter, limit int, cursor string) ([]models.Listing, string, error) {
	collection := s.db.Collection(listingsCollection)

	query := bson.M{
		"deleted": false,
		"status":  models.ListingStatusActive,
	}

	if filter.SellerID != nil {
		query["seller_id"] = *filter.SellerID
		// A seller browsing their own items also sees reserved/sold.
		delete(query, "status")
		query["status"] = bson.M{"$ne": models.ListingStatusDraft}
	}

	// Text search
	if filter.Query != "" {
		query["$text"] = bson.M{"$search": filter.Query}
	}

	// Price range [lo, hi], inclusive on both ends.
	if filter.PriceMin != nil || filter.PriceMax != nil {
		priceCond := bson.M{}
		if filter.PriceMin != nil {
			priceCond["$gte"] = *filter.PriceMin
		}
		if filter.PriceMax != nil {
			priceCond["$lte"] = *filter.PriceMax
		}
		query["price"] = priceCond
	}

	// Set-membership filters.
	if len(filter.Categories) > 0 {
		query["category"] = bson.M{"$in": filter.Categories}
	}
	if len(filter.Conditions) > 0 {
		query["condition"] = bson.M{"$in": filter.Conditions}
	}
	if len(filter.Sizes) > 0 {
		query["size"] = bson.M{"$in": filter.Sizes}
	}
	if filter.TryOnOnly {
		query["try_on_available"] = true
	}

	// Cursor on (created_at desc, _id desc): "<unixMillis>_<id>". Milliseconds
	// match Mongo's date precision, so the equality branch below is exact.
	if cursor != "" {
		parts := strings.Split(cursor, "_")
		if len(parts) == 2 {
			timestampMs, tsErr := strconv.ParseInt(parts[0], 10, 64)
			lastID, idErr := utils.ParseShortID(parts[1])
			if tsErr == nil && idErr == nil {
				cursorTime := time.UnixMilli(timestampMs).UTC()
				query["$or"] = bson.A{
					bson.M{"created_at": cursorTime, "_id": bson.M{"$lt": lastID}},
					bson.M{"created_at": bson.M{"$lt": cursorTime}},
				}
			}
		}
	}

	opts := options.Find().
		SetLimit(int64(limit + 1)).
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	listCursor, err := collection.Find(ctx, query, opts)
	if err != nil {
		return nil, "", fmt.Errorf("failed to execute listing search query: %w", err)
	}
	defer listCursor.Close(ctx)

	var results []models.Listing
	if err = listCursor.All(ctx, &results); err != nil {
		return nil, "", fmt.Errorf("failed to decode listing search results: %w", err)
	}

	nextCursor := ""
	if len(results) > limit {
		last := results[limit-1]
		nextCursor = fmt.Sprintf("%d_%s", last.CreatedAt.UnixMilli(), last.ID.String())
		results = results[:limit]
	}

	return results, nextCursor, nil
}

// AddImageToListing appends a processed image key to a listing's image array.
// Called from the image normalization task once the upload is processed.
func (s *listingService) AddImageToListing(ctx context.Context, listingID utils.ShortID, imageKey string) error {
	collection := s.db.Collection(listingsCollection)

	filter := bson.M{"_id": listingID, "deleted": false}
	update := bson.M{
		"$addToSet": bson.M{"images": imageKey}, // Add key if not already present
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error adding image %s to listing %s: %w", imageKey, listingID.String(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("listing %s not found or cannot be updated when adding image: %w", listingID.String(), db.ErrNotFound)
	}
	return nil
}

// MarkModelGenPending flags a listing so only one generation task runs at a time.
func (s *listingService) MarkModelGenPending(ctx context.Context, listingID utils.ShortID) error {
	collection := s.db.Collection(listingsCollection)
	filter := bson.M{
		"_id":               listingID,
		"deleted":           false,
		"model_gen_pending": bson.M{"$ne": true},
		"try_on_available":  false,
	}
	update := bson.M{"$set": bson.M{"model_gen_pending": true, "updated_at": time.Now().UTC()}}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error flagging model generation for listing %s: %w", listingID.String(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("listing %s already has a model or a generation in flight: %w", listingID.String(), db.ErrPreconditionFailed)
	}
	return nil
}

// AttachModel3D stores the re-hosted model key and opens up try-on.
func (s *listingService) AttachModel3D(ctx context.Context, listingID utils.ShortID, modelKey string) error {
	collection := s.db.Collection(listingsCollection)
	filter := bson.M{"_id": listingID, "deleted": false}
	update := bson.M{
		"$set": bson.M{
			"model_3d":         modelKey,
			"try_on_available": true,
			"updated_at":       time.Now().UTC(),
		},
		"$unset": bson.M{"model_gen_pending": ""},
	}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error attaching model %s to listing %s: %w", modelKey, listingID.String(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("listing %s not found when attaching model: %w", listingID.String(), db.ErrNotFound)
	}
	return nil
}

// TryOnInfo returns the try-on availability info for a listing.
func (s *listingService) TryOnInfo(ctx context.Context, listingID utils.ShortID) (string, bool, error) {
	listing, err := s.FindListingByID(ctx, listingID)
	if err != nil {
		return "", false, err
	}
	return listing.Model3D, listing.TryOnAvailable, nil
}
