package models

import (
	"time"

	"afriverse/core/internal/utils"
)

// SenderSystem is the sentinel sender ID for automated notices in a
// conversation (status changes, rating prompts).
const SenderSystem = "system"

// MessageMeta carries optional structured payloads attached to a message.
type MessageMeta struct {
	OfferAmount *float64 `bson:"offer_amount,omitempty" json:"offer_amount,omitempty"`
	Rating      *int     `bson:"rating,omitempty" json:"rating,omitempty"`
}

// Message is one entry in the conversation attached 1:1 to a purchase.
// Messages are append-only and displayed in sent_at ascending order.
type Message struct {
	Base       `bson:",inline"`
	PurchaseID utils.ShortID `bson:"purchase_id" json:"purchase_id"`
	SenderID   string        `bson:"sender_id" json:"sender_id"` // ShortID string, or SenderSystem
	Content    string        `bson:"content" json:"content"`
	Meta       *MessageMeta  `bson:"meta,omitempty" json:"meta,omitempty"`
	SentAt     time.Time     `bson:"sent_at" json:"sent_at"`
}
