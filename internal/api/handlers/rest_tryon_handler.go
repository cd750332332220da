package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"afriverse/core/internal/db"
	"afriverse/core/internal/services"
	"afriverse/core/internal/storage"
	"afriverse/core/internal/utils"
)

// RestTryOnHandler serves the virtual try-on lookup consumed by the mobile
// AR view. Kept on its legacy /api/listings/:id path.
type RestTryOnHandler struct {
	listingService services.IListingService
	storageService storage.IS3Storage
}

// NewRestTryOnHandler creates a new RestTryOnHandler.
func NewRestTryOnHandler(listingService services.IListingService, storageService storage.IS3Storage) *RestTryOnHandler {
	return &RestTryOnHandler{
		listingService: listingService,
		storageService: storageService,
	}
}

// GetTryOnInfo handles GET /api/listings/:id. The contract is fixed:
// 200 {model_3d, try_on_available}, 400 bad ID, 404 unknown listing,
// 500 otherwise.
func (h *RestTryOnHandler) GetTryOnInfo(c *gin.Context) {
	listingID, err := utils.ParseShortID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	modelKey, available, err := h.listingService.TryOnInfo(c.Request.Context(), listingID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve try-on info"})
		return
	}

	model3D := ""
	if available && modelKey != "" {
		model3D = h.storageService.PublicURL(storage.BucketModels, modelKey)
	}

	c.JSON(http.StatusOK, gin.H{
		"model_3d":         model3D,
		"try_on_available": available,
	})
}
