package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"afriverse/core/internal/services"
	"afriverse/core/internal/utils"
)

// RestCartHandler handles the save-for-later list.
type RestCartHandler struct {
	cartService services.ICartService
}

// NewRestCartHandler creates a new RestCartHandler.
func NewRestCartHandler(cartService services.ICartService) *RestCartHandler {
	return &RestCartHandler{cartService: cartService}
}

// ListSaved handles GET /v1/cart.
func (h *RestCartHandler) ListSaved(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	items, err := h.cartService.List(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

// SaveListing handles PUT /v1/cart/:listing_id. Idempotent: saving an
// already-saved listing is a success.
func (h *RestCartHandler) SaveListing(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	listingID, err := utils.ParseShortID(c.Param("listing_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	if err := h.cartService.Add(c.Request.Context(), userID, listingID); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"saved": true})
}

// RemoveListing handles DELETE /v1/cart/:listing_id. Idempotent: removing a
// listing that was never saved is a success.
func (h *RestCartHandler) RemoveListing(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	listingID, err := utils.ParseShortID(c.Param("listing_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	if err := h.cartService.Remove(c.Request.Context(), userID, listingID); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"saved": false})
}
