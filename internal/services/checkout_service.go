package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"go.mongodb.org/mongo-driver/mongo"

	"afriverse/core/internal/config"
	"afriverse/core/internal/db"
	"afriverse/core/internal/models"
	"afriverse/core/internal/realtime"
	"afriverse/core/internal/utils"
)

// CheckoutInput is the full checkout form: shipping plus payment details.
// Card fields are validated and masked; the raw number and CVC are never
// persisted or logged.
type CheckoutInput struct {
	ListingID  utils.ShortID          `json:"listing_id"`
	Shipping   models.ShippingAddress `json:"shipping"`
	CardNumber string                 `json:"card_number"`
	CardMonth  string                 `json:"card_month"` // "MM"
	CardYear   string                 `json:"card_year"`  // "YY"
	CardCVC    string                 `json:"card_cvc"`
}

// CheckoutResult is what the API returns after a successful checkout.
type CheckoutResult struct {
	Purchase *models.Purchase
	Listing  *models.Listing
}

// ICheckoutService defines the interface for direct (buy-now) checkout.
type ICheckoutService interface {
	// Validate checks the checkout form without side effects. Returns a
	// FieldErrors map keyed by field name when anything fails.
	Validate(input *CheckoutInput, now time.Time) FieldErrors
	// Submit validates, flips the listing to sold, creates the purchase at
	// payment_pending with the payment self-reported, and records the impact
	// counters. The confirmation email is the caller's responsibility.
	Submit(ctx context.Context, buyerID utils.ShortID, input *CheckoutInput) (*CheckoutResult, error)
}

// FieldErrors maps form field names to human-readable problems.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	parts := make([]string, 0, len(e))
	for field, msg := range e {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// checkoutService implements ICheckoutService.
type checkoutService struct {
	db             *mongo.Database
	cfg            *config.Config
	listingService IListingService
	messageService IMessageService
	impactService  IImpactService
	notifier       realtime.Notifier
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(db *mongo.Database, cfg *config.Config, listingService IListingService, messageService IMessageService, impactService IImpactService, notifier realtime.Notifier) ICheckoutService {
	if notifier == nil {
		notifier = realtime.NopNotifier{}
	}
	return &checkoutService{
		db:             db,
		cfg:            cfg,
		listingService: listingService,
		messageService: messageService,
		impactService:  impactService,
		notifier:       notifier,
	}
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// Validate applies the form rules. Card number is digit-counted after
// stripping spaces; expiry year must be strictly in the future (two-digit
// comparison against the current year mod 100).
func (s *checkoutService) Validate(input *CheckoutInput, now time.Time) FieldErrors {
	errs := FieldErrors{}

	if strings.TrimSpace(input.Shipping.FullName) == "" {
		errs["full_name"] = "full name is required"
	}
	if strings.TrimSpace(input.Shipping.Line1) == "" {
		errs["line1"] = "address line is required"
	}
	if strings.TrimSpace(input.Shipping.City) == "" {
		errs["city"] = "city is required"
	}
	if strings.TrimSpace(input.Shipping.State) == "" {
		errs["state"] = "state or region is required"
	}
	if strings.TrimSpace(input.Shipping.PostalCode) == "" {
		errs["postal_code"] = "postal code is required"
	}
	if strings.TrimSpace(input.Shipping.Country) == "" {
		errs["country"] = "country is required"
	}
	if strings.TrimSpace(input.Shipping.Phone) == "" {
		errs["phone"] = "phone number is required"
	}

	cardNumber := strings.ReplaceAll(input.CardNumber, " ", "")
	if len(cardNumber) != 16 || !digitsOnly(cardNumber) {
		errs["card_number"] = "card number must be 16 digits"
	}

	month := input.CardMonth
	if len(month) != 2 || !digitsOnly(month) || month < "01" || month > "12" {
		errs["card_month"] = "expiry month must be between 01 and 12"
	}

	year := input.CardYear
	currentYY := fmt.Sprintf("%02d", now.Year()%100)
	if len(year) != 2 || !digitsOnly(year) {
		errs["card_year"] = "expiry year must be two digits"
	} else if year <= currentYY {
		errs["card_year"] = "card is expired"
	}

	if len(input.CardCVC) != 3 || !digitsOnly(input.CardCVC) {
		errs["card_cvc"] = "security code must be 3 digits"
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// cardBrand is a cosmetic guess from the leading digit; it affects nothing
// but the stored snapshot.
func cardBrand(number string) string {
	switch {
	case strings.HasPrefix(number, "4"):
		return "visa"
	case strings.HasPrefix(number, "5"):
		return "mastercard"
	case strings.HasPrefix(number, "3"):
		return "amex"
	default:
		return ""
	}
}

// Submit runs the buy-now flow. The listing flip active -> sold is the
// serialization point: exactly one concurrent checkout wins it, losers get
// db.ErrPreconditionFailed before any purchase is written.
func (s *checkoutService) Submit(ctx context.Context, buyerID utils.ShortID, input *CheckoutInput) (*CheckoutResult, error) {
	if errs := s.Validate(input, time.Now().UTC()); errs != nil {
		return nil, errs
	}

	listing, err := s.listingService.FindListingByID(ctx, input.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID == buyerID {
		return nil, fmt.Errorf("cannot buy your own listing: %w", ErrWrongActor)
	}

	// Claim the listing first. If this misses, the item was sold (or pulled)
	// between page load and submit.
	if err := s.listingService.MarkSold(ctx, listing.ID, models.ListingStatusActive); err != nil {
		return nil, err
	}

	cardNumber := strings.ReplaceAll(input.CardNumber, " ", "")
	now := time.Now().UTC()
	purchase := &models.Purchase{
		Base:            models.NewBase(),
		BuyerID:         buyerID,
		SellerID:        listing.SellerID,
		ListingID:       listing.ID,
		ListingTitle:    listing.Title,
		Status:          models.PurchaseStatusPaymentPending,
		PaymentStatus:   models.PaymentStatusPaid,
		AgreedPrice:     listing.Price,
		TotalAmount:     listing.Price,
		AmountSaved:     listing.Savings(),
		CurrencyCode:    listing.CurrencyCode,
		ShippingAddress: &input.Shipping,
		PaymentCard: &models.PaymentCard{
			MaskedNumber: "**** **** **** " + cardNumber[len(cardNumber)-4:],
			ExpiryMonth:  input.CardMonth,
			ExpiryYear:   input.CardYear,
			Brand:        cardBrand(cardNumber),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	collection := s.db.Collection(purchasesCollection)
	operation := func() error {
		_, insertErr := collection.InsertOne(ctx, purchase)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		// The listing is already sold but the purchase write failed; this
		// needs an operator, not a silent retry by the buyer.
		return nil, fmt.Errorf("listing %s marked sold but purchase insert failed: %w", listing.ID.String(), err)
	}

	if err := s.impactService.RecordSale(ctx, purchase.SellerID, purchase.BuyerID, purchase.TotalAmount, purchase.AmountSaved); err != nil {
		log.Printf("WARN: checkout %s completed but impact counters failed: %v", purchase.ID.String(), err)
	}

	content := fmt.Sprintf("Order placed for \"%s\" at %.2f %s.", purchase.ListingTitle, purchase.TotalAmount, purchase.CurrencyCode)
	if _, err := s.messageService.Append(ctx, purchase.ID, models.SenderSystem, content, nil); err != nil {
		log.Printf("WARN: checkout %s completed but order message failed: %v", purchase.ID.String(), err)
	}

	event := realtime.Event{Kind: "purchase", ID: purchase.ID.String()}
	s.notifier.Notify(ctx, purchase.BuyerID.String(), event)
	s.notifier.Notify(ctx, purchase.SellerID.String(), event)
	s.notifier.Notify(ctx, purchase.SellerID.String(), realtime.Event{Kind: "listing", ID: listing.ID.String()})

	listing.Status = models.ListingStatusSold
	return &CheckoutResult{Purchase: purchase, Listing: listing}, nil
}
