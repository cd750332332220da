package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"afriverse/core/internal/services"
	"afriverse/core/internal/storage"
	"afriverse/core/internal/tasks"
	"afriverse/core/internal/utils"
)

// RestUploadHandler hands out presigned upload URLs and kicks off the
// processing that follows a completed upload.
type RestUploadHandler struct {
	storageService storage.IS3Storage
	listingService services.IListingService
	userService    services.IUserService
	taskClient     IAsynqClient
}

// NewRestUploadHandler creates a new RestUploadHandler.
func NewRestUploadHandler(storageService storage.IS3Storage, listingService services.IListingService, userService services.IUserService, taskClient IAsynqClient) *RestUploadHandler {
	return &RestUploadHandler{
		storageService: storageService,
		listingService: listingService,
		userService:    userService,
		taskClient:     taskClient,
	}
}

type presignRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

func validImageContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

// PresignListingImage handles POST /v1/listing/:id/image. Only the seller
// can attach photos; the returned URL uploads straight to S3.
func (h *RestUploadHandler) PresignListingImage(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	listingID, err := utils.ParseShortID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validImageContentType(req.ContentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename and an image content_type are required"})
		return
	}

	listing, err := h.listingService.FindListingByID(c.Request.Context(), listingID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if listing.SellerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the seller can upload listing images"})
		return
	}

	url, key, err := h.storageService.GeneratePresignedPutURL(c.Request.Context(), storage.BucketListingImages, listingID.String(), req.Filename, req.ContentType)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create upload URL"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"upload_url": url, "key": key})
}

type confirmUploadRequest struct {
	Key string `json:"key" binding:"required"`
}

// ConfirmListingImage handles POST /v1/listing/:id/image/confirm: the client
// finished its PUT, so enqueue normalization which attaches the image on
// success.
func (h *RestUploadHandler) ConfirmListingImage(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	listingID, err := utils.ParseShortID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	var req confirmUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	listing, err := h.listingService.FindListingByID(c.Request.Context(), listingID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if listing.SellerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the seller can upload listing images"})
		return
	}

	payloadBytes, _ := json.Marshal(tasks.ImageTaskPayload{
		S3Key:     req.Key,
		ListingID: listingID.String(),
	})
	task := asynq.NewTask(tasks.TypeImageProcess, payloadBytes, asynq.Queue("images"))
	if _, err := h.taskClient.EnqueueContext(c.Request.Context(), task); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule image processing"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
}

// PresignAvatar handles POST /v1/profile/avatar.
func (h *RestUploadHandler) PresignAvatar(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validImageContentType(req.ContentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename and an image content_type are required"})
		return
	}

	url, key, err := h.storageService.GeneratePresignedPutURL(c.Request.Context(), storage.BucketAvatars, userID.String(), req.Filename, req.ContentType)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create upload URL"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"upload_url": url, "key": key})
}

// ConfirmAvatar handles POST /v1/profile/avatar/confirm.
func (h *RestUploadHandler) ConfirmAvatar(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req confirmUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.userService.SetAvatarKey(c.Request.Context(), userID, req.Key); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"avatar_key": req.Key})
}

// GenerateModel handles POST /v1/listing/:id/model: kicks off image-to-3D
// generation from the listing's primary photo.
func (h *RestUploadHandler) GenerateModel(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	listingID, err := utils.ParseShortID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	listing, err := h.listingService.FindListingByID(c.Request.Context(), listingID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if listing.SellerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the seller can generate a model"})
		return
	}
	if len(listing.Images) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Listing needs at least one image first"})
		return
	}
	if listing.TryOnAvailable {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "model_3d": listing.Model3D})
		return
	}

	// The pending flag is the dedupe: a second request while a task is in
	// flight gets a conflict instead of a duplicate task.
	if err := h.listingService.MarkModelGenPending(c.Request.Context(), listingID); err != nil {
		respondServiceError(c, err)
		return
	}

	imageURL := h.storageService.PublicURL(storage.BucketListingImages, listing.Images[0])
	payloadBytes, _ := json.Marshal(tasks.ModelGenerateTaskPayload{
		ListingID: listingID.String(),
		ImageURL:  imageURL,
	})
	task := asynq.NewTask(tasks.TypeModelGenerate, payloadBytes, asynq.Queue("images"))
	if _, err := h.taskClient.EnqueueContext(c.Request.Context(), task); err != nil {
		log.Printf("ERROR failed to enqueue model generation for listing %s: %v", listingID.String(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule model generation"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "generating"})
}
