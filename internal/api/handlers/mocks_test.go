package handlers_test

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"afriverse/core/internal/api/middleware"
	"afriverse/core/internal/models"
	"afriverse/core/internal/services"
	"afriverse/core/internal/storage"
	"afriverse/core/internal/utils"
)

// authAs injects an authenticated user the way AuthMiddleware would.
func authAs(userID utils.ShortID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, userID.String())
		c.Next()
	}
}

// --- Mocks ---

// MockListingService
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) CreateListing(ctx context.Context, sellerID utils.ShortID, fields models.Listing) (*models.Listing, error) {
	args := m.Called(ctx, sellerID, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) FindListingByID(ctx context.Context, listingID utils.ShortID) (*models.Listing, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) UpdateListing(ctx context.Context, listingID, sellerID utils.ShortID, updates map[string]interface{}) (*models.Listing, error) {
	args := m.Called(ctx, listingID, sellerID, updates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) PublishListing(ctx context.Context, listingID, sellerID utils.ShortID) error {
	args := m.Called(ctx, listingID, sellerID)
	return args.Error(0)
}

func (m *MockListingService) DeleteListing(ctx context.Context, listingID, sellerID utils.ShortID) error {
	args := m.Called(ctx, listingID, sellerID)
	return args.Error(0)
}

func (m *MockListingService) SearchListings(ctx context.Context, filter models.ListingFilter, limit int, cursor string) ([]models.Listing, string, error) {
	args := m.Called(ctx, filter, limit, cursor)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]models.Listing), args.String(1), args.Error(2)
}

func (m *MockListingService) AddImageToListing(ctx context.Context, listingID utils.ShortID, imageKey string) error {
	args := m.Called(ctx, listingID, imageKey)
	return args.Error(0)
}

func (m *MockListingService) MarkReserved(ctx context.Context, listingID utils.ShortID) error {
	args := m.Called(ctx, listingID)
	return args.Error(0)
}

func (m *MockListingService) MarkSold(ctx context.Context, listingID utils.ShortID, from models.ListingStatus) error {
	args := m.Called(ctx, listingID, from)
	return args.Error(0)
}

func (m *MockListingService) MarkModelGenPending(ctx context.Context, listingID utils.ShortID) error {
	args := m.Called(ctx, listingID)
	return args.Error(0)
}

func (m *MockListingService) AttachModel3D(ctx context.Context, listingID utils.ShortID, modelKey string) error {
	args := m.Called(ctx, listingID, modelKey)
	return args.Error(0)
}

func (m *MockListingService) TryOnInfo(ctx context.Context, listingID utils.ShortID) (string, bool, error) {
	args := m.Called(ctx, listingID)
	return args.String(0), args.Bool(1), args.Error(2)
}

// MockPurchaseService
type MockPurchaseService struct {
	mock.Mock
}

func (m *MockPurchaseService) OpenOffer(ctx context.Context, buyerID, listingID utils.ShortID, offerAmount float64, content string) (*models.Purchase, error) {
	args := m.Called(ctx, buyerID, listingID, offerAmount, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Purchase), args.Error(1)
}

func (m *MockPurchaseService) FindPurchaseByID(ctx context.Context, purchaseID utils.ShortID) (*models.Purchase, error) {
	args := m.Called(ctx, purchaseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Purchase), args.Error(1)
}

func (m *MockPurchaseService) ListPurchasesByUser(ctx context.Context, userID utils.ShortID) ([]models.Purchase, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Purchase), args.Error(1)
}

func (m *MockPurchaseService) Accept(ctx context.Context, purchaseID, actorID utils.ShortID) (*models.Purchase, error) {
	args := m.Called(ctx, purchaseID, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Purchase), args.Error(1)
}

func (m *MockPurchaseService) MarkPaid(ctx context.Context, purchaseID, actorID utils.ShortID) (*models.Purchase, error) {
	args := m.Called(ctx, purchaseID, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Purchase), args.Error(1)
}

func (m *MockPurchaseService) ConfirmPayment(ctx context.Context, purchaseID, actorID utils.ShortID) (*models.Purchase, error) {
	args := m.Called(ctx, purchaseID, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Purchase), args.Error(1)
}

func (m *MockPurchaseService) SubmitRating(ctx context.Context, purchaseID, actorID utils.ShortID, rating int) (*models.Purchase, error) {
	args := m.Called(ctx, purchaseID, actorID, rating)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Purchase), args.Error(1)
}

// MockCartService
type MockCartService struct {
	mock.Mock
}

func (m *MockCartService) Add(ctx context.Context, userID, listingID utils.ShortID) error {
	args := m.Called(ctx, userID, listingID)
	return args.Error(0)
}

func (m *MockCartService) Remove(ctx context.Context, userID, listingID utils.ShortID) error {
	args := m.Called(ctx, userID, listingID)
	return args.Error(0)
}

func (m *MockCartService) IsSaved(ctx context.Context, userID, listingID utils.ShortID) (bool, error) {
	args := m.Called(ctx, userID, listingID)
	return args.Bool(0), args.Error(1)
}

func (m *MockCartService) List(ctx context.Context, userID utils.ShortID) ([]models.SavedItem, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.SavedItem), args.Error(1)
}

// MockCheckoutService
type MockCheckoutService struct {
	mock.Mock
}

func (m *MockCheckoutService) Validate(input *services.CheckoutInput, now time.Time) services.FieldErrors {
	args := m.Called(input, now)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(services.FieldErrors)
}

func (m *MockCheckoutService) Submit(ctx context.Context, buyerID utils.ShortID, input *services.CheckoutInput) (*services.CheckoutResult, error) {
	args := m.Called(ctx, buyerID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CheckoutResult), args.Error(1)
}

// MockUserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Register(ctx context.Context, email, password, displayName string) (*models.User, error) {
	args := m.Called(ctx, email, password, displayName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) FindByID(ctx context.Context, userID utils.ShortID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) GetProfile(ctx context.Context, userID utils.ShortID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) UpdateProfile(ctx context.Context, userID utils.ShortID, updates map[string]interface{}) (*models.User, error) {
	args := m.Called(ctx, userID, updates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) SetAvatarKey(ctx context.Context, userID utils.ShortID, avatarKey string) error {
	args := m.Called(ctx, userID, avatarKey)
	return args.Error(0)
}

// MockMessageService
type MockMessageService struct {
	mock.Mock
}

func (m *MockMessageService) Append(ctx context.Context, purchaseID utils.ShortID, senderID, content string, meta *models.MessageMeta) (*models.Message, error) {
	args := m.Called(ctx, purchaseID, senderID, content, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockMessageService) ListByPurchase(ctx context.Context, purchaseID utils.ShortID) ([]models.Message, error) {
	args := m.Called(ctx, purchaseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

// MockS3Storage
type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) GeneratePresignedPutURL(ctx context.Context, bucket storage.Bucket, ownerID, filename, contentType string) (string, string, error) {
	args := m.Called(ctx, bucket, ownerID, filename, contentType)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockS3Storage) Upload(ctx context.Context, bucket storage.Bucket, key string, body io.Reader, contentType string) error {
	args := m.Called(ctx, bucket, key, body, contentType)
	return args.Error(0)
}

func (m *MockS3Storage) Download(ctx context.Context, bucket storage.Bucket, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockS3Storage) DeleteObject(ctx context.Context, bucket storage.Bucket, key string) error {
	args := m.Called(ctx, bucket, key)
	return args.Error(0)
}

func (m *MockS3Storage) PublicURL(bucket storage.Bucket, key string) string {
	args := m.Called(bucket, key)
	return args.String(0)
}

func (m *MockS3Storage) Client() *s3.Client {
	return nil
}

// MockAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

// MockImpactService implements services.IImpactService
type MockImpactService struct {
	mock.Mock
}

func (m *MockImpactService) RecordSale(ctx context.Context, sellerID, buyerID utils.ShortID, salePrice, amountSaved float64) error {
	args := m.Called(ctx, sellerID, buyerID, salePrice, amountSaved)
	return args.Error(0)
}

func (m *MockImpactService) Dashboard(ctx context.Context, userID utils.ShortID) (*services.ImpactDashboard, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ImpactDashboard), args.Error(1)
}
