package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"afriverse/core/internal/config"
	"afriverse/core/internal/db"
	"afriverse/core/internal/models"
	"afriverse/core/internal/utils"
)

func setupTestDBListing(t *testing.T, dbName string) *mongo.Database {
	mdb := utils.SetupTestDB(t, dbName, "listings")
	require.NoError(t, db.EnsureIndexes(context.Background(), mdb))
	return mdb
}

func TestListingService_CRUD(t *testing.T) {
	mdb := setupTestDBListing(t, "testdb_listing_crud")
	cfg := &config.Config{DefaultCurrency: "USD"}
	svc := NewListingService(mdb, cfg)
	ctx := context.Background()

	sellerID := utils.NewShortID()

	listing, err := svc.CreateListing(ctx, sellerID, models.Listing{
		Title:         "Silk scarf",
		Description:   "Hand-rolled hem",
		Price:         18.0,
		OriginalPrice: 60.0,
		Condition:     "good",
		Category:      "accessories",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusDraft, listing.Status)
	assert.Equal(t, "USD", listing.CurrencyCode)

	// Missing title is rejected.
	_, err = svc.CreateListing(ctx, sellerID, models.Listing{Price: 5})
	assert.Error(t, err)

	found, err := svc.FindListingByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, listing.ID, found.ID)

	_, err = svc.FindListingByID(ctx, utils.NewShortID())
	assert.ErrorIs(t, err, db.ErrNotFound)

	updated, err := svc.UpdateListing(ctx, listing.ID, sellerID, map[string]interface{}{
		"title": "Silk scarf (vintage)",
		"price": 22.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "Silk scarf (vintage)", updated.Title)
	assert.Equal(t, 22.0, updated.Price)

	// Lifecycle and ownership fields are not reachable through UpdateListing.
	_, err = svc.UpdateListing(ctx, listing.ID, sellerID, map[string]interface{}{"status": "sold"})
	assert.Error(t, err)
	_, err = svc.UpdateListing(ctx, listing.ID, sellerID, map[string]interface{}{"seller_id": utils.NewShortID()})
	assert.Error(t, err)

	// Another user cannot touch the listing.
	_, err = svc.UpdateListing(ctx, listing.ID, utils.NewShortID(), map[string]interface{}{"price": 1.0})
	assert.Error(t, err)

	require.NoError(t, svc.PublishListing(ctx, listing.ID, sellerID))
	published, err := svc.FindListingByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusActive, published.Status)
	assert.NotNil(t, published.PublishedAt)

	// Publishing twice misses the draft guard.
	err = svc.PublishListing(ctx, listing.ID, sellerID)
	assert.ErrorIs(t, err, db.ErrPreconditionFailed)

	require.NoError(t, svc.DeleteListing(ctx, listing.ID, sellerID))
	_, err = svc.FindListingByID(ctx, listing.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestListingService_StatusEdges(t *testing.T) {
	mdb := setupTestDBListing(t, "testdb_listing_status")
	cfg := &config.Config{DefaultCurrency: "USD"}
	svc := NewListingService(mdb, cfg)
	ctx := context.Background()

	sellerID := utils.NewShortID()
	listing := createActiveListing(t, svc, sellerID, 30.0, 0)

	// active -> reserved -> sold, each exactly once.
	require.NoError(t, svc.MarkReserved(ctx, listing.ID))
	err := svc.MarkReserved(ctx, listing.ID)
	assert.ErrorIs(t, err, db.ErrPreconditionFailed)

	// Direct checkout expects active; this listing is reserved.
	err = svc.MarkSold(ctx, listing.ID, models.ListingStatusActive)
	assert.ErrorIs(t, err, db.ErrPreconditionFailed)

	require.NoError(t, svc.MarkSold(ctx, listing.ID, models.ListingStatusReserved))

	sold, err := svc.FindListingByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusSold, sold.Status)

	// Sold listings are frozen.
	_, err = svc.UpdateListing(ctx, listing.ID, sellerID, map[string]interface{}{"price": 1.0})
	assert.Error(t, err)
	err = svc.DeleteListing(ctx, listing.ID, sellerID)
	assert.Error(t, err)
}

func TestListingService_SearchFilters(t *testing.T) {
	mdb := setupTestDBListing(t, "testdb_listing_search")
	cfg := &config.Config{DefaultCurrency: "USD"}
	svc := NewListingService(mdb, cfg)
	ctx := context.Background()

	sellerID := utils.NewShortID()
	seed := func(title, category, condition, size string, price float64, tryOn bool) utils.ShortID {
		listing, err := svc.CreateListing(ctx, sellerID, models.Listing{
			Title:     title,
			Price:     price,
			Category:  category,
			Condition: condition,
			Size:      size,
		})
		require.NoError(t, err)
		require.NoError(t, svc.PublishListing(ctx, listing.ID, sellerID))
		if tryOn {
			require.NoError(t, svc.MarkModelGenPending(ctx, listing.ID))
			require.NoError(t, svc.AttachModel3D(ctx, listing.ID, "models/"+listing.ID.String()+".glb"))
		}
		return listing.ID
	}

	jacketID := seed("Denim jacket", "jackets", "good", "M", 45.0, true)
	seed("Denim skirt", "skirts", "like_new", "S", 30.0, false)
	seed("Wool coat", "jackets", "fair", "L", 80.0, false)

	// Draft listings never show up.
	_, err := svc.CreateListing(ctx, sellerID, models.Listing{Title: "Unlisted denim", Price: 5})
	require.NoError(t, err)

	all, _, err := svc.SearchListings(ctx, models.ListingFilter{}, 50, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Filters are conjunctive: category AND condition AND price.
	lo, hi := 40.0, 50.0
	results, _, err := svc.SearchListings(ctx, models.ListingFilter{
		Categories: []string{"jackets"},
		Conditions: []string{"good"},
		PriceMin:   &lo,
		PriceMax:   &hi,
	}, 50, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, jacketID, results[0].ID)

	// Price bounds are inclusive.
	exact := 45.0
	results, _, err = svc.SearchListings(ctx, models.ListingFilter{PriceMin: &exact, PriceMax: &exact}, 50, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, jacketID, results[0].ID)

	// A conjunction with no satisfying listing returns empty, not an error.
	results, _, err = svc.SearchListings(ctx, models.ListingFilter{
		Categories: []string{"jackets"},
		Sizes:      []string{"S"},
	}, 50, "")
	require.NoError(t, err)
	assert.Empty(t, results)

	// Try-on-only narrows to listings with a generated model.
	results, _, err = svc.SearchListings(ctx, models.ListingFilter{TryOnOnly: true}, 50, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, jacketID, results[0].ID)
	assert.True(t, results[0].TryOnAvailable)

	// Free-text search over the text index.
	results, _, err = svc.SearchListings(ctx, models.ListingFilter{Query: "denim"}, 50, "")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestListingService_SearchPagination(t *testing.T) {
	mdb := setupTestDBListing(t, "testdb_listing_pagination")
	cfg := &config.Config{DefaultCurrency: "USD"}
	svc := NewListingService(mdb, cfg)
	ctx := context.Background()

	sellerID := utils.NewShortID()
	var ids []utils.ShortID
	for i := 0; i < 5; i++ {
		listing, err := svc.CreateListing(ctx, sellerID, models.Listing{Title: "Item", Price: float64(i + 1)})
		require.NoError(t, err)
		require.NoError(t, svc.PublishListing(ctx, listing.ID, sellerID))
		ids = append(ids, listing.ID)
		// Keep created_at strictly ordered across the page boundary.
		time.Sleep(2 * time.Millisecond)
	}

	page1, cursor, err := svc.SearchListings(ctx, models.ListingFilter{}, 2, "")
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, cursor)
	// Newest first.
	assert.Equal(t, ids[4], page1[0].ID)
	assert.Equal(t, ids[3], page1[1].ID)

	page2, cursor, err := svc.SearchListings(ctx, models.ListingFilter{}, 2, cursor)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.NotEmpty(t, cursor)
	assert.Equal(t, ids[2], page2[0].ID)
	assert.Equal(t, ids[1], page2[1].ID)

	page3, cursor, err := svc.SearchListings(ctx, models.ListingFilter{}, 2, cursor)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, ids[0], page3[0].ID)
	assert.Empty(t, cursor)
}

func TestListingService_SellerViewIncludesSoldItems(t *testing.T) {
	mdb := setupTestDBListing(t, "testdb_listing_seller_view")
	cfg := &config.Config{DefaultCurrency: "USD"}
	svc := NewListingService(mdb, cfg)
	ctx := context.Background()

	sellerID := utils.NewShortID()
	active := createActiveListing(t, svc, sellerID, 10.0, 0)
	soldListing := createActiveListing(t, svc, sellerID, 20.0, 0)
	require.NoError(t, svc.MarkSold(ctx, soldListing.ID, models.ListingStatusActive))

	// Public browse hides the sold item.
	results, _, err := svc.SearchListings(ctx, models.ListingFilter{}, 50, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, active.ID, results[0].ID)

	// The seller's own shelf shows both.
	results, _, err = svc.SearchListings(ctx, models.ListingFilter{SellerID: &sellerID}, 50, "")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestListingService_TryOnInfo(t *testing.T) {
	mdb := setupTestDBListing(t, "testdb_listing_tryon")
	cfg := &config.Config{DefaultCurrency: "USD"}
	svc := NewListingService(mdb, cfg)
	ctx := context.Background()

	sellerID := utils.NewShortID()
	listing := createActiveListing(t, svc, sellerID, 10.0, 0)

	modelKey, available, err := svc.TryOnInfo(ctx, listing.ID)
	require.NoError(t, err)
	assert.False(t, available)
	assert.Empty(t, modelKey)

	require.NoError(t, svc.MarkModelGenPending(ctx, listing.ID))
	// Only one generation task may be in flight.
	err = svc.MarkModelGenPending(ctx, listing.ID)
	assert.ErrorIs(t, err, db.ErrPreconditionFailed)

	require.NoError(t, svc.AttachModel3D(ctx, listing.ID, "models/abc.glb"))

	modelKey, available, err = svc.TryOnInfo(ctx, listing.ID)
	require.NoError(t, err)
	assert.True(t, available)
	assert.Equal(t, "models/abc.glb", modelKey)

	// AttachModel3D clears the pending flag, so regeneration is possible
	// only through the pending gate again.
	updated, err := svc.FindListingByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.False(t, updated.ModelGenPending)

	_, _, err = svc.TryOnInfo(ctx, utils.NewShortID())
	assert.ErrorIs(t, err, db.ErrNotFound)
}
