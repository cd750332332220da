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
	"afriverse/core/internal/realtime"
	"afriverse/core/internal/utils"
)

func validCheckoutInput(listingID utils.ShortID) *CheckoutInput {
	return &CheckoutInput{
		ListingID: listingID,
		Shipping: models.ShippingAddress{
			FullName:   "Ada Okafor",
			Line1:      "12 Marina Road",
			City:       "Lagos",
			State:      "Lagos State",
			PostalCode: "101001",
			Country:    "NG",
			Phone:      "+2348012345678",
		},
		CardNumber: "4242 4242 4242 4242",
		CardMonth:  "08",
		CardYear:   "29",
		CardCVC:    "123",
	}
}

func TestCheckoutValidate(t *testing.T) {
	svc := &checkoutService{}
	now := time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)

	t.Run("valid form passes", func(t *testing.T) {
		errs := svc.Validate(validCheckoutInput(utils.NewShortID()), now)
		assert.Nil(t, errs)
	})

	t.Run("card number must be 16 digits", func(t *testing.T) {
		for _, number := range []string{"", "4242", "4242 4242 4242 424", "4242424242424242424", "4242 4242 4242 424x"} {
			input := validCheckoutInput(utils.NewShortID())
			input.CardNumber = number
			errs := svc.Validate(input, now)
			require.NotNil(t, errs, "card number %q should fail", number)
			assert.Contains(t, errs, "card_number")
		}
	})

	t.Run("spaces in card number are ignored", func(t *testing.T) {
		input := validCheckoutInput(utils.NewShortID())
		input.CardNumber = "4242424242424242"
		assert.Nil(t, svc.Validate(input, now))
	})

	t.Run("month range", func(t *testing.T) {
		for _, month := range []string{"00", "13", "1", "ab", ""} {
			input := validCheckoutInput(utils.NewShortID())
			input.CardMonth = month
			errs := svc.Validate(input, now)
			require.NotNil(t, errs, "month %q should fail", month)
			assert.Contains(t, errs, "card_month")
		}
		for _, month := range []string{"01", "06", "12"} {
			input := validCheckoutInput(utils.NewShortID())
			input.CardMonth = month
			assert.Nil(t, svc.Validate(input, now), "month %q should pass", month)
		}
	})

	t.Run("year must be in the future", func(t *testing.T) {
		cases := map[string]bool{
			"27":   true,
			"99":   true,
			"26":   false, // current year counts as expired
			"25":   false,
			"2027": false,
			"x7":   false,
			"":     false,
		}
		for year, ok := range cases {
			input := validCheckoutInput(utils.NewShortID())
			input.CardYear = year
			errs := svc.Validate(input, now)
			if ok {
				assert.Nil(t, errs, "year %q should pass", year)
			} else {
				require.NotNil(t, errs, "year %q should fail", year)
				assert.Contains(t, errs, "card_year")
			}
		}
	})

	t.Run("cvc must be 3 digits", func(t *testing.T) {
		for _, cvc := range []string{"", "12", "1234", "12a"} {
			input := validCheckoutInput(utils.NewShortID())
			input.CardCVC = cvc
			errs := svc.Validate(input, now)
			require.NotNil(t, errs, "cvc %q should fail", cvc)
			assert.Contains(t, errs, "card_cvc")
		}
	})

	t.Run("shipping fields are required", func(t *testing.T) {
		input := validCheckoutInput(utils.NewShortID())
		input.Shipping = models.ShippingAddress{}
		errs := svc.Validate(input, now)
		require.NotNil(t, errs)
		for _, field := range []string{"full_name", "line1", "city", "state", "postal_code", "country", "phone"} {
			assert.Contains(t, errs, field)
		}
		// Only the second address line stays optional.
		assert.NotContains(t, errs, "line2")
	})

	t.Run("empty state alone fails validation", func(t *testing.T) {
		input := validCheckoutInput(utils.NewShortID())
		input.Shipping.State = ""
		errs := svc.Validate(input, now)
		require.NotNil(t, errs)
		assert.Contains(t, errs, "state")
		assert.Len(t, errs, 1)
	})

	t.Run("errors accumulate across fields", func(t *testing.T) {
		input := validCheckoutInput(utils.NewShortID())
		input.CardNumber = "1"
		input.CardCVC = "1"
		errs := svc.Validate(input, now)
		require.NotNil(t, errs)
		assert.Len(t, errs, 2)
		assert.NotEmpty(t, errs.Error())
	})
}

func TestCardBrand(t *testing.T) {
	assert.Equal(t, "visa", cardBrand("4242424242424242"))
	assert.Equal(t, "mastercard", cardBrand("5105105105105100"))
	assert.Equal(t, "amex", cardBrand("378282246310005"))
	assert.Equal(t, "", cardBrand("6011111111111117"))
}

func setupTestDBCheckout(t *testing.T, dbName string) *mongo.Database {
	return utils.SetupTestDB(t, dbName, "purchases", "listings", "messages", "users")
}

func newCheckoutTestServices(mdb *mongo.Database) (ICheckoutService, IListingService) {
	cfg := &config.Config{DefaultCurrency: "USD"}
	listingSvc := NewListingService(mdb, cfg)
	messageSvc := NewMessageService(mdb)
	impactSvc := NewImpactService(mdb, cfg)
	checkoutSvc := NewCheckoutService(mdb, cfg, listingSvc, messageSvc, impactSvc, realtime.NopNotifier{})
	return checkoutSvc, listingSvc
}

func TestCheckoutService_Submit(t *testing.T) {
	mdb := setupTestDBCheckout(t, "testdb_checkout_submit")
	checkoutSvc, listingSvc := newCheckoutTestServices(mdb)
	ctx := context.Background()

	sellerID := utils.NewShortID()
	buyerID := utils.NewShortID()
	listing := createActiveListing(t, listingSvc, sellerID, 80.0, 200.0)

	result, err := checkoutSvc.Submit(ctx, buyerID, validCheckoutInput(listing.ID))
	require.NoError(t, err)

	purchase := result.Purchase
	assert.Equal(t, models.PurchaseStatusPaymentPending, purchase.Status)
	assert.Equal(t, models.PaymentStatusPaid, purchase.PaymentStatus)
	assert.Equal(t, 80.0, purchase.TotalAmount)
	assert.Equal(t, 120.0, purchase.AmountSaved)
	require.NotNil(t, purchase.ShippingAddress)
	assert.Equal(t, "Lagos", purchase.ShippingAddress.City)

	// Only the last four digits of the card survive.
	require.NotNil(t, purchase.PaymentCard)
	assert.Equal(t, "**** **** **** 4242", purchase.PaymentCard.MaskedNumber)
	assert.Equal(t, "visa", purchase.PaymentCard.Brand)

	assert.Equal(t, models.ListingStatusSold, result.Listing.Status)
	stored, err := listingSvc.FindListingByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusSold, stored.Status)
	assert.NotNil(t, stored.SoldAt)
}

func TestCheckoutService_SubmitGuards(t *testing.T) {
	mdb := setupTestDBCheckout(t, "testdb_checkout_guards")
	checkoutSvc, listingSvc := newCheckoutTestServices(mdb)
	ctx := context.Background()

	sellerID := utils.NewShortID()
	buyerID := utils.NewShortID()
	listing := createActiveListing(t, listingSvc, sellerID, 80.0, 0)

	// Validation failures surface as FieldErrors before any write.
	badInput := validCheckoutInput(listing.ID)
	badInput.CardCVC = "12"
	_, err := checkoutSvc.Submit(ctx, buyerID, badInput)
	var fieldErrs FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Contains(t, fieldErrs, "card_cvc")

	// Sellers cannot buy their own items.
	_, err = checkoutSvc.Submit(ctx, sellerID, validCheckoutInput(listing.ID))
	assert.ErrorIs(t, err, ErrWrongActor)

	// First buyer wins; the second checkout hits the sold listing.
	_, err = checkoutSvc.Submit(ctx, buyerID, validCheckoutInput(listing.ID))
	require.NoError(t, err)
	_, err = checkoutSvc.Submit(ctx, utils.NewShortID(), validCheckoutInput(listing.ID))
	assert.ErrorIs(t, err, db.ErrPreconditionFailed)

	// Unknown listing.
	_, err = checkoutSvc.Submit(ctx, buyerID, validCheckoutInput(utils.NewShortID()))
	assert.ErrorIs(t, err, db.ErrNotFound)
}
