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
	"afriverse/core/internal/utils"
)

// IMessageService defines the interface for conversation operations. The
// conversation is append-only and keyed 1:1 by purchase.
type IMessageService interface {
	Append(ctx context.Context, purchaseID utils.ShortID, senderID, content string, meta *models.MessageMeta) (*models.Message, error)
	ListByPurchase(ctx context.Context, purchaseID utils.ShortID) ([]models.Message, error)
}

const messagesCollection = "messages"

// messageService implements IMessageService.
type messageService struct {
	db *mongo.Database
}

// NewMessageService creates a new MessageService.
func NewMessageService(db *mongo.Database) IMessageService {
	return &messageService{db: db}
}

// Append adds one message to a purchase's conversation.
func (s *messageService) Append(ctx context.Context, purchaseID utils.ShortID, senderID, content string, meta *models.MessageMeta) (*models.Message, error) {
	if content == "" {
		return nil, fmt.Errorf("message content is required")
	}

	collection := s.db.Collection(messagesCollection)
	var msg *models.Message

	operation := func() error {
		msg = &models.Message{
			Base:       models.NewBase(),
			PurchaseID: purchaseID,
			SenderID:   senderID,
			Content:    content,
			Meta:       meta,
			SentAt:     time.Now().UTC(),
		}
		_, insertErr := collection.InsertOne(ctx, msg)
		return insertErr
	}

	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to append message to purchase %s after multiple retries: %w", purchaseID.String(), err)
	}
	return msg, nil
}

// ListByPurchase returns the conversation ordered by sent_at ascending.
func (s *messageService) ListByPurchase(ctx context.Context, purchaseID utils.ShortID) ([]models.Message, error) {
	collection := s.db.Collection(messagesCollection)
	opts := options.Find().SetSort(bson.D{{Key: "sent_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := collection.Find(ctx, bson.M{"purchase_id": purchaseID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation for purchase %s: %w", purchaseID.String(), err)
	}
	defer cursor.Close(ctx)

	var messages []models.Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode conversation for purchase %s: %w", purchaseID.String(), err)
	}
	return messages, nil
}
