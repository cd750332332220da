package models

import (
	"time"

	"afriverse/core/internal/utils"
)

// PurchaseStatus is the canonical purchase state. The sequence is fixed and
// monotonically non-decreasing; no state is ever skipped.
type PurchaseStatus string

const (
	PurchaseStatusPending          PurchaseStatus = "pending"
	PurchaseStatusAccepted         PurchaseStatus = "accepted"
	PurchaseStatusPaymentPending   PurchaseStatus = "payment_pending"
	PurchaseStatusPaymentConfirmed PurchaseStatus = "payment_confirmed"
	PurchaseStatusCompleted        PurchaseStatus = "completed"
)

// purchaseStatusOrder backs Next/validity checks for the fixed sequence.
var purchaseStatusOrder = []PurchaseStatus{
	PurchaseStatusPending,
	PurchaseStatusAccepted,
	PurchaseStatusPaymentPending,
	PurchaseStatusPaymentConfirmed,
	PurchaseStatusCompleted,
}

// Valid reports whether s is one of the five defined statuses.
func (s PurchaseStatus) Valid() bool {
	for _, v := range purchaseStatusOrder {
		if s == v {
			return true
		}
	}
	return false
}

// Next returns the sole legal successor status, or "" for the terminal state.
func (s PurchaseStatus) Next() PurchaseStatus {
	for i, v := range purchaseStatusOrder {
		if s == v && i+1 < len(purchaseStatusOrder) {
			return purchaseStatusOrder[i+1]
		}
	}
	return ""
}

// PaymentStatus tracks the payment leg separately from the purchase status.
type PaymentStatus string

const (
	PaymentStatusUnpaid    PaymentStatus = "unpaid"
	PaymentStatusPaid      PaymentStatus = "paid"      // buyer self-report
	PaymentStatusConfirmed PaymentStatus = "confirmed" // seller confirmed receipt
)

// ShippingAddress is the address snapshot captured at checkout.
type ShippingAddress struct {
	FullName   string `bson:"full_name" json:"full_name"`
	Line1      string `bson:"line1" json:"line1"`
	Line2      string `bson:"line2,omitempty" json:"line2,omitempty"`
	City       string `bson:"city" json:"city"`
	State      string `bson:"state" json:"state"`
	PostalCode string `bson:"postal_code" json:"postal_code"`
	Country    string `bson:"country" json:"country"`
	Phone      string `bson:"phone" json:"phone"`
}

// PaymentCard is the masked payment snapshot. The full PAN is never stored;
// only the last four digits survive checkout.
type PaymentCard struct {
	MaskedNumber string `bson:"masked_number" json:"masked_number"` // "**** **** **** 1234"
	ExpiryMonth  string `bson:"expiry_month" json:"expiry_month"`   // "MM"
	ExpiryYear   string `bson:"expiry_year" json:"expiry_year"`     // "YY"
	Brand        string `bson:"brand,omitempty" json:"brand,omitempty"`
}

// Purchase is the record of one buyer's transaction against one listing,
// including its negotiation/payment status. Purchases are never deleted.
type Purchase struct {
	Base            `bson:",inline"`
	BuyerID         utils.ShortID    `bson:"buyer_id" json:"buyer_id"`
	SellerID        utils.ShortID    `bson:"seller_id" json:"seller_id"` // denormalized from the listing
	ListingID       utils.ShortID    `bson:"listing_id" json:"listing_id"`
	ListingTitle    string           `bson:"listing_title" json:"listing_title"` // snapshot for dashboards/email
	Status          PurchaseStatus   `bson:"status" json:"status"`
	PaymentStatus   PaymentStatus    `bson:"payment_status" json:"payment_status"`
	AgreedPrice     float64          `bson:"agreed_price" json:"agreed_price"`
	TotalAmount     float64          `bson:"total_amount" json:"total_amount"`
	AmountSaved     float64          `bson:"amount_saved" json:"amount_saved"`
	CurrencyCode    string           `bson:"currency_code" json:"currency_code"`
	ShippingAddress *ShippingAddress `bson:"shipping_address,omitempty" json:"shipping_address,omitempty"`
	PaymentCard     *PaymentCard     `bson:"payment_card,omitempty" json:"payment_card,omitempty"`
	Rating          *int             `bson:"rating,omitempty" json:"rating,omitempty"` // 1..5, set at most once
	RatedAt         *time.Time       `bson:"rated_at,omitempty" json:"rated_at,omitempty"`
	CreatedAt       time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `bson:"updated_at" json:"updated_at"`
	CompletedAt     *time.Time       `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}
