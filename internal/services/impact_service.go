package services

import (
	"context"
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"afriverse/core/internal/config"
	"afriverse/core/internal/db"
	"afriverse/core/internal/models"
	"afriverse/core/internal/utils"
)

// IImpactService defines the interface for the aggregate marketplace
// counters and the impact dashboard built on top of them.
type IImpactService interface {
	// RecordSale applies the per-sale counter updates atomically on both
	// sides: seller earnings + items_sold, buyer savings + items_bought, and
	// the impact score each party gains from keeping an item in circulation.
	RecordSale(ctx context.Context, sellerID, buyerID utils.ShortID, salePrice, amountSaved float64) error
	Dashboard(ctx context.Context, userID utils.ShortID) (*ImpactDashboard, error)
}

// ImpactDashboard is the read model for the profile impact view. The CO2 and
// water figures are derived estimates, not stored.
type ImpactDashboard struct {
	ImpactScore   float64 `json:"impact_score"`
	TotalEarnings float64 `json:"total_earnings"`
	TotalSavings  float64 `json:"total_savings"`
	ItemsSold     int     `json:"items_sold"`
	ItemsBought   int     `json:"items_bought"`
	CO2SavedKg    float64 `json:"co2_saved_kg"`
	WaterSavedL   float64 `json:"water_saved_l"`
}

// Per-item environmental estimates for a garment kept out of production.
const (
	co2PerItemKg   = 8.0
	waterPerItemL  = 2700.0
	scorePerItem   = 10.0
	scorePerDollar = 0.1
)

// impactService implements IImpactService.
type impactService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewImpactService creates a new ImpactService.
func NewImpactService(db *mongo.Database, cfg *config.Config) IImpactService {
	return &impactService{db: db, cfg: cfg}
}

// RecordSale increments the aggregate counters on both parties. Each side is
// a single atomic $inc; a failure on the buyer side after the seller side
// succeeded is logged by the caller and safe to re-run only via a new sale.
func (s *impactService) RecordSale(ctx context.Context, sellerID, buyerID utils.ShortID, salePrice, amountSaved float64) error {
	collection := s.db.Collection(usersCollection)

	sellerScore := scorePerItem + scorePerDollar*salePrice
	buyerScore := scorePerItem + scorePerDollar*amountSaved

	sellerRes, err := collection.UpdateOne(ctx,
		bson.M{"_id": sellerID, "deleted": false},
		bson.M{"$inc": bson.M{
			"impact.total_earnings": round2(salePrice),
			"impact.items_sold":     1,
			"impact.impact_score":   round2(sellerScore),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to increment seller earnings for %s: %w", sellerID.String(), err)
	}
	if sellerRes.MatchedCount == 0 {
		return fmt.Errorf("seller %s not found for earnings increment: %w", sellerID.String(), db.ErrNotFound)
	}

	buyerRes, err := collection.UpdateOne(ctx,
		bson.M{"_id": buyerID, "deleted": false},
		bson.M{"$inc": bson.M{
			"impact.total_savings": round2(amountSaved),
			"impact.items_bought":  1,
			"impact.impact_score":  round2(buyerScore),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to increment buyer savings for %s: %w", buyerID.String(), err)
	}
	if buyerRes.MatchedCount == 0 {
		return fmt.Errorf("buyer %s not found for savings increment: %w", buyerID.String(), db.ErrNotFound)
	}

	return nil
}

// Dashboard assembles the impact view from the stored counters.
func (s *impactService) Dashboard(ctx context.Context, userID utils.ShortID) (*ImpactDashboard, error) {
	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": userID, "deleted": false}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("error loading user %s for impact dashboard: %w", userID.String(), err)
	}

	itemsKept := user.Impact.ItemsSold + user.Impact.ItemsBought
	return &ImpactDashboard{
		ImpactScore:   user.Impact.ImpactScore,
		TotalEarnings: user.Impact.TotalEarnings,
		TotalSavings:  user.Impact.TotalSavings,
		ItemsSold:     user.Impact.ItemsSold,
		ItemsBought:   user.Impact.ItemsBought,
		CO2SavedKg:    round2(float64(itemsKept) * co2PerItemKg),
		WaterSavedL:   round2(float64(itemsKept) * waterPerItemL),
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
