package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"afriverse/core/internal/config"
	"afriverse/core/internal/db"
	"afriverse/core/internal/models"
	"afriverse/core/internal/realtime"
	"afriverse/core/internal/utils"
)

// ErrWrongActor is returned when the authenticated user is not the party
// allowed to perform a given transition (seller for accept/confirm, buyer for
// pay/rate).
var ErrWrongActor = errors.New("action not allowed for this user")

// IPurchaseService drives the purchase state machine:
//
//	pending -> accepted -> payment_pending -> payment_confirmed -> completed
//
// Every transition is a conditional update guarded on the expected current
// status AND the expected actor, and appends exactly one message to the
// purchase's conversation. A guard miss returns db.ErrPreconditionFailed (or
// ErrWrongActor) and writes nothing.
type IPurchaseService interface {
	OpenOffer(ctx context.Context, buyerID, listingID utils.ShortID, offerAmount float64, content string) (*models.Purchase, error)
	FindPurchaseByID(ctx context.Context, purchaseID utils.ShortID) (*models.Purchase, error)
	ListPurchasesByUser(ctx context.Context, userID utils.ShortID) ([]models.Purchase, error)

	Accept(ctx context.Context, purchaseID, actorID utils.ShortID) (*models.Purchase, error)
	MarkPaid(ctx context.Context, purchaseID, actorID utils.ShortID) (*models.Purchase, error)
	ConfirmPayment(ctx context.Context, purchaseID, actorID utils.ShortID) (*models.Purchase, error)
	SubmitRating(ctx context.Context, purchaseID, actorID utils.ShortID, rating int) (*models.Purchase, error)
}

const purchasesCollection = "purchases"

// purchaseService implements IPurchaseService.
type purchaseService struct {
	db             *mongo.Database
	cfg            *config.Config
	listingService IListingService
	messageService IMessageService
	impactService  IImpactService
	notifier       realtime.Notifier
}

// NewPurchaseService creates a new PurchaseService.
func NewPurchaseService(db *mongo.Database, cfg *config.Config, listingService IListingService, messageService IMessageService, impactService IImpactService, notifier realtime.Notifier) IPurchaseService {
	if notifier == nil {
		notifier = realtime.NopNotifier{}
	}
	return &purchaseService{
		db:             db,
		cfg:            cfg,
		listingService: listingService,
		messageService: messageService,
		impactService:  impactService,
		notifier:       notifier,
	}
}

// OpenOffer starts the negotiation flow: the buyer opens a purchase at
// `pending` against an active listing, with the offer as the first message.
func (s *purchaseService) OpenOffer(ctx context.Context, buyerID, listingID utils.ShortID, offerAmount float64, content string) (*models.Purchase, error) {
	listing, err := s.listingService.FindListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != models.ListingStatusActive {
		return nil, fmt.Errorf("listing %s is not available for offers: %w", listingID.String(), db.ErrPreconditionFailed)
	}
	if listing.SellerID == buyerID {
		return nil, fmt.Errorf("cannot make an offer on your own listing: %w", ErrWrongActor)
	}
	if offerAmount <= 0 {
		offerAmount = listing.Price
	}

	now := time.Now().UTC()
	collection := s.db.Collection(purchasesCollection)
	var purchase *models.Purchase

	operation := func() error {
		purchase = &models.Purchase{
			Base:          models.NewBase(),
			BuyerID:       buyerID,
			SellerID:      listing.SellerID,
			ListingID:     listingID,
			ListingTitle:  listing.Title,
			Status:        models.PurchaseStatusPending,
			PaymentStatus: models.PaymentStatusUnpaid,
			AgreedPrice:   offerAmount,
			TotalAmount:   offerAmount,
			AmountSaved:   listing.Savings(),
			CurrencyCode:  listing.CurrencyCode,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		_, insertErr := collection.InsertOne(ctx, purchase)
		return insertErr
	}

	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to open offer on listing %s after multiple retries: %w", listingID.String(), err)
	}

	if content == "" {
		content = fmt.Sprintf("Hi! I'd like to buy \"%s\" for %.2f %s.", listing.Title, offerAmount, purchase.CurrencyCode)
	}
	if _, err := s.messageService.Append(ctx, purchase.ID, buyerID.String(), content, &models.MessageMeta{OfferAmount: &offerAmount}); err != nil {
		log.Printf("WARN: offer opened for purchase %s but initial message failed: %v", purchase.ID.String(), err)
	}

	s.notifyParties(ctx, purchase)
	return purchase, nil
}

// FindPurchaseByID finds a purchase by its ID.
func (s *purchaseService) FindPurchaseByID(ctx context.Context, purchaseID utils.ShortID) (*models.Purchase, error) {
	var purchase models.Purchase
	err := s.db.Collection(purchasesCollection).FindOne(ctx, bson.M{"_id": purchaseID}).Decode(&purchase)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("error finding purchase %s: %w", purchaseID.String(), err)
	}
	return &purchase, nil
}

// ListPurchasesByUser returns purchases where the user is buyer or seller,
// newest first.
func (s *purchaseService) ListPurchasesByUser(ctx context.Context, userID utils.ShortID) ([]models.Purchase, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"buyer_id": userID},
		bson.M{"seller_id": userID},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := s.db.Collection(purchasesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases for user %s: %w", userID.String(), err)
	}
	defer cursor.Close(ctx)

	var purchases []models.Purchase
	if err = cursor.All(ctx, &purchases); err != nil {
		return nil, fmt.Errorf("failed to decode purchases for user %s: %w", userID.String(), err)
	}
	return purchases, nil
}

// advance performs one guarded state machine step. The filter requires both
// the expected predecessor status and the expected actor, so a lost-update
// race or an impostor both miss the update rather than clobbering state.
func (s *purchaseService) advance(ctx context.Context, purchaseID, actorID utils.ShortID, from models.PurchaseStatus, actorField string, extraSet bson.M) (*models.Purchase, error) {
	to := from.Next()
	if to == "" {
		return nil, fmt.Errorf("purchase status %s is terminal", from)
	}

	filter := bson.M{
		"_id":      purchaseID,
		"status":   from,
		actorField: actorID,
	}
	set := bson.M{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extraSet {
		set[k] = v
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.Purchase
	err := s.db.Collection(purchasesCollection).FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("db error advancing purchase %s from %s: %w", purchaseID.String(), from, err)
	}

	// Guard missed. Load the purchase once to say why.
	current, checkErr := s.FindPurchaseByID(ctx, purchaseID)
	if checkErr != nil {
		return nil, checkErr
	}
	var expectedActor utils.ShortID
	if actorField == "seller_id" {
		expectedActor = current.SellerID
	} else {
		expectedActor = current.BuyerID
	}
	if expectedActor != actorID {
		return nil, fmt.Errorf("user %s is not the %s of purchase %s: %w", actorID.String(), actorField, purchaseID.String(), ErrWrongActor)
	}
	return nil, fmt.Errorf("purchase %s is %s, expected %s: %w", purchaseID.String(), current.Status, from, db.ErrPreconditionFailed)
}

// Accept is the seller accepting the offered price: pending -> accepted.
// The listing is moved active -> reserved so it leaves search results.
func (s *purchaseService) Accept(ctx context.Context, purchaseID, actorID utils.ShortID) (*models.Purchase, error) {
	purchase, err := s.advance(ctx, purchaseID, actorID, models.PurchaseStatusPending, "seller_id", nil)
	if err != nil {
		return nil, err
	}

	if err := s.listingService.MarkReserved(ctx, purchase.ListingID); err != nil {
		// The purchase advanced; a reservation miss means another flow already
		// moved the listing. Log, don't roll back the accepted state.
		log.Printf("WARN: purchase %s accepted but listing %s could not be reserved: %v", purchaseID.String(), purchase.ListingID.String(), err)
	}

	content := fmt.Sprintf("Offer accepted at %.2f %s. Please proceed with payment.", purchase.AgreedPrice, purchase.CurrencyCode)
	s.appendTransitionMessage(ctx, purchase, actorID.String(), content, nil)
	s.notifyParties(ctx, purchase)
	return purchase, nil
}

// MarkPaid is the buyer self-reporting payment: accepted -> payment_pending.
// This is a self-report, not a verified payment event.
func (s *purchaseService) MarkPaid(ctx context.Context, purchaseID, actorID utils.ShortID) (*models.Purchase, error) {
	purchase, err := s.advance(ctx, purchaseID, actorID, models.PurchaseStatusAccepted, "buyer_id", bson.M{
		"payment_status": models.PaymentStatusPaid,
	})
	if err != nil {
		return nil, err
	}

	content := fmt.Sprintf("I've completed the payment of %.2f %s.", purchase.TotalAmount, purchase.CurrencyCode)
	s.appendTransitionMessage(ctx, purchase, actorID.String(), content, nil)
	s.notifyParties(ctx, purchase)
	return purchase, nil
}

// ConfirmPayment is the seller confirming receipt:
// payment_pending -> payment_confirmed. The listing is flipped to sold and
// both parties' aggregate counters are incremented; a system message opens
// the rating prompt for the buyer.
func (s *purchaseService) ConfirmPayment(ctx context.Context, purchaseID, actorID utils.ShortID) (*models.Purchase, error) {
	purchase, err := s.advance(ctx, purchaseID, actorID, models.PurchaseStatusPaymentPending, "seller_id", bson.M{
		"payment_status": models.PaymentStatusConfirmed,
	})
	if err != nil {
		return nil, err
	}

	if err := s.listingService.MarkSold(ctx, purchase.ListingID, models.ListingStatusReserved); err != nil {
		log.Printf("WARN: payment confirmed on purchase %s but listing %s could not be marked sold: %v", purchaseID.String(), purchase.ListingID.String(), err)
	}

	if err := s.impactService.RecordSale(ctx, purchase.SellerID, purchase.BuyerID, purchase.TotalAmount, purchase.AmountSaved); err != nil {
		log.Printf("WARN: failed to record impact counters for purchase %s: %v", purchaseID.String(), err)
	}

	s.appendTransitionMessage(ctx, purchase, models.SenderSystem,
		"Payment confirmed by the seller. How was your experience? Rate this purchase from 1 to 5 stars.", nil)
	s.notifyParties(ctx, purchase)
	return purchase, nil
}

// SubmitRating is the buyer closing the purchase with a 1-5 star rating:
// payment_confirmed -> completed. The rating is set at most once; the status
// guard enforces that, since completed purchases accept no further edges.
func (s *purchaseService) SubmitRating(ctx context.Context, purchaseID, actorID utils.ShortID, rating int) (*models.Purchase, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("rating must be between 1 and 5, got %d", rating)
	}

	now := time.Now().UTC()
	purchase, err := s.advance(ctx, purchaseID, actorID, models.PurchaseStatusPaymentConfirmed, "buyer_id", bson.M{
		"rating":       rating,
		"rated_at":     now,
		"completed_at": now,
	})
	if err != nil {
		return nil, err
	}

	content := fmt.Sprintf("Rated this purchase %d/5.", rating)
	s.appendTransitionMessage(ctx, purchase, actorID.String(), content, &models.MessageMeta{Rating: &rating})
	s.notifyParties(ctx, purchase)
	return purchase, nil
}

// appendTransitionMessage appends the single message each transition owes the
// conversation. The transition has already committed; a message failure is
// logged rather than unwound.
func (s *purchaseService) appendTransitionMessage(ctx context.Context, purchase *models.Purchase, senderID, content string, meta *models.MessageMeta) {
	if _, err := s.messageService.Append(ctx, purchase.ID, senderID, content, meta); err != nil {
		log.Printf("WARN: purchase %s moved to %s but transition message failed: %v", purchase.ID.String(), purchase.Status, err)
	}
}

func (s *purchaseService) notifyParties(ctx context.Context, purchase *models.Purchase) {
	event := realtime.Event{Kind: "purchase", ID: purchase.ID.String()}
	s.notifier.Notify(ctx, purchase.BuyerID.String(), event)
	s.notifier.Notify(ctx, purchase.SellerID.String(), event)
}
