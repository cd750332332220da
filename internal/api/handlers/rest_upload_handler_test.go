package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"afriverse/core/internal/api/handlers"
	"afriverse/core/internal/db"
	"afriverse/core/internal/models"
	"afriverse/core/internal/storage"
	"afriverse/core/internal/tasks"
	"afriverse/core/internal/utils"
)

func setupUploadRouter(listingSvc *MockListingService, userSvc *MockUserService, storageSvc *MockS3Storage, taskClient handlers.IAsynqClient, userID utils.ShortID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := handlers.NewRestUploadHandler(storageSvc, listingSvc, userSvc, taskClient)
	auth := r.Group("/", authAs(userID))
	auth.POST("/v1/listing/:id/image", h.PresignListingImage)
	auth.POST("/v1/listing/:id/image/confirm", h.ConfirmListingImage)
	auth.POST("/v1/listing/:id/model", h.GenerateModel)
	auth.POST("/v1/profile/avatar", h.PresignAvatar)
	auth.POST("/v1/profile/avatar/confirm", h.ConfirmAvatar)
	return r
}

func TestPresignListingImage(t *testing.T) {
	sellerID := utils.NewShortID()
	listingID := utils.NewShortID()

	mockListingSvc := new(MockListingService)
	mockListingSvc.On("FindListingByID", mock.Anything, listingID).
		Return(&models.Listing{Base: models.Base{ID: listingID}, SellerID: sellerID}, nil)
	mockStorage := new(MockS3Storage)
	mockStorage.On("GeneratePresignedPutURL", mock.Anything, storage.BucketListingImages, listingID.String(), "front.jpg", "image/jpeg").
		Return("https://s3.example/put", "listings/abc/front.jpg", nil)

	router := setupUploadRouter(mockListingSvc, new(MockUserService), mockStorage, nil, sellerID)

	w := httptest.NewRecorder()
	body := `{"filename":"front.jpg","content_type":"image/jpeg"}`
	req, _ := http.NewRequest("POST", "/v1/listing/"+listingID.String()+"/image", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://s3.example/put", resp["upload_url"])
	assert.Equal(t, "listings/abc/front.jpg", resp["key"])
	mockStorage.AssertExpectations(t)
}

func TestPresignListingImage_Rejections(t *testing.T) {
	sellerID := utils.NewShortID()
	listingID := utils.NewShortID()

	mockListingSvc := new(MockListingService)
	mockListingSvc.On("FindListingByID", mock.Anything, listingID).
		Return(&models.Listing{Base: models.Base{ID: listingID}, SellerID: utils.NewShortID()}, nil)
	mockStorage := new(MockS3Storage)
	router := setupUploadRouter(mockListingSvc, new(MockUserService), mockStorage, nil, sellerID)

	// Non-image content type.
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/listing/"+listingID.String()+"/image",
		strings.NewReader(`{"filename":"evil.exe","content_type":"application/octet-stream"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Someone else's listing.
	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest("POST", "/v1/listing/"+listingID.String()+"/image",
		strings.NewReader(`{"filename":"front.jpg","content_type":"image/jpeg"}`))
	req2.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusForbidden, w2.Code)
	mockStorage.AssertNotCalled(t, "GeneratePresignedPutURL",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmListingImage_EnqueuesProcessing(t *testing.T) {
	sellerID := utils.NewShortID()
	listingID := utils.NewShortID()

	mockListingSvc := new(MockListingService)
	mockListingSvc.On("FindListingByID", mock.Anything, listingID).
		Return(&models.Listing{Base: models.Base{ID: listingID}, SellerID: sellerID}, nil)
	mockClient := new(MockAsynqClient)
	mockClient.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		if task.Type() != tasks.TypeImageProcess {
			return false
		}
		var payload tasks.ImageTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return false
		}
		return payload.S3Key == "listings/abc/front.jpg" && payload.ListingID == listingID.String()
	}), mock.Anything).Return(nil, nil)

	router := setupUploadRouter(mockListingSvc, new(MockUserService), new(MockS3Storage), mockClient, sellerID)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/listing/"+listingID.String()+"/image/confirm",
		strings.NewReader(`{"key":"listings/abc/front.jpg"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	mockClient.AssertExpectations(t)
}

func TestGenerateModel(t *testing.T) {
	sellerID := utils.NewShortID()
	listingID := utils.NewShortID()

	mockListingSvc := new(MockListingService)
	mockListingSvc.On("FindListingByID", mock.Anything, listingID).
		Return(&models.Listing{
			Base:     models.Base{ID: listingID},
			SellerID: sellerID,
			Images:   []string{"listings/abc/front.jpg"},
		}, nil)
	mockListingSvc.On("MarkModelGenPending", mock.Anything, listingID).Return(nil)
	mockStorage := new(MockS3Storage)
	mockStorage.On("PublicURL", storage.BucketListingImages, "listings/abc/front.jpg").
		Return("https://cdn.example/front.jpg")
	mockClient := new(MockAsynqClient)
	mockClient.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		if task.Type() != tasks.TypeModelGenerate {
			return false
		}
		var payload tasks.ModelGenerateTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return false
		}
		return payload.ListingID == listingID.String() && payload.ImageURL == "https://cdn.example/front.jpg"
	}), mock.Anything).Return(nil, nil)

	router := setupUploadRouter(mockListingSvc, new(MockUserService), mockStorage, mockClient, sellerID)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/listing/"+listingID.String()+"/model", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	mockClient.AssertExpectations(t)
}

func TestGenerateModel_Rejections(t *testing.T) {
	sellerID := utils.NewShortID()

	// No images yet.
	bareID := utils.NewShortID()
	mockListingSvc := new(MockListingService)
	mockListingSvc.On("FindListingByID", mock.Anything, bareID).
		Return(&models.Listing{Base: models.Base{ID: bareID}, SellerID: sellerID}, nil)

	// Model already generated: short-circuits with the existing key.
	readyID := utils.NewShortID()
	mockListingSvc.On("FindListingByID", mock.Anything, readyID).
		Return(&models.Listing{
			Base:           models.Base{ID: readyID},
			SellerID:       sellerID,
			Images:         []string{"a.jpg"},
			TryOnAvailable: true,
			Model3D:        "models/ready.glb",
		}, nil)

	// Generation already in flight: the pending flag conflicts.
	pendingID := utils.NewShortID()
	mockListingSvc.On("FindListingByID", mock.Anything, pendingID).
		Return(&models.Listing{
			Base:     models.Base{ID: pendingID},
			SellerID: sellerID,
			Images:   []string{"a.jpg"},
		}, nil)
	mockListingSvc.On("MarkModelGenPending", mock.Anything, pendingID).
		Return(db.ErrPreconditionFailed)

	mockClient := new(MockAsynqClient)
	router := setupUploadRouter(mockListingSvc, new(MockUserService), new(MockS3Storage), mockClient, sellerID)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/listing/"+bareID.String()+"/model", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest("POST", "/v1/listing/"+readyID.String()+"/model", nil)
	router.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp))
	assert.Equal(t, "models/ready.glb", resp["model_3d"])

	w3 := httptest.NewRecorder()
	req3, _ := http.NewRequest("POST", "/v1/listing/"+pendingID.String()+"/model", nil)
	router.ServeHTTP(w3, req3)
	assert.Equal(t, http.StatusConflict, w3.Code)

	mockClient.AssertNotCalled(t, "EnqueueContext", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmAvatar(t *testing.T) {
	userID := utils.NewShortID()
	mockUserSvc := new(MockUserService)
	mockUserSvc.On("SetAvatarKey", mock.Anything, userID, "avatars/me.jpg").Return(nil)
	router := setupUploadRouter(new(MockListingService), mockUserSvc, new(MockS3Storage), nil, userID)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/profile/avatar/confirm", strings.NewReader(`{"key":"avatars/me.jpg"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockUserSvc.AssertExpectations(t)
}
