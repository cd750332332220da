package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"afriverse/core/internal/models"
	"afriverse/core/internal/services"
	"afriverse/core/internal/utils"
)

// RestListingHandler handles REST requests for listings.
type RestListingHandler struct {
	listingService services.IListingService
}

// NewRestListingHandler creates a new RestListingHandler.
func NewRestListingHandler(listingService services.IListingService) *RestListingHandler {
	return &RestListingHandler{listingService: listingService}
}

// splitCSV parses a comma-separated query value, trimming whitespace.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// SearchListings handles GET /v1/listing/search. All filters are conjunctive.
func (h *RestListingHandler) SearchListings(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}

	filter := models.ListingFilter{
		Query:      c.Query("q"),
		Categories: splitCSV(c.Query("categories")),
		Conditions: splitCSV(c.Query("conditions")),
		Sizes:      splitCSV(c.Query("sizes")),
		TryOnOnly:  c.Query("try_on") == "true",
	}

	if priceMinStr := c.Query("price_min"); priceMinStr != "" {
		if v, perr := strconv.ParseFloat(priceMinStr, 64); perr == nil && v >= 0 {
			filter.PriceMin = &v
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid price_min"})
			return
		}
	}
	if priceMaxStr := c.Query("price_max"); priceMaxStr != "" {
		if v, perr := strconv.ParseFloat(priceMaxStr, 64); perr == nil && v >= 0 {
			filter.PriceMax = &v
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid price_max"})
			return
		}
	}
	if sellerIDStr := c.Query("seller_id"); sellerIDStr != "" {
		sellerID, perr := utils.ParseShortID(sellerIDStr)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid seller_id"})
			return
		}
		filter.SellerID = &sellerID
	}

	listings, nextCursor, err := h.listingService.SearchListings(c.Request.Context(), filter, limit, c.Query("cursor"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":        listings,
		"next_cursor": nextCursor,
	})
}

// GetListingByID handles GET /v1/listing/:id.
func (h *RestListingHandler) GetListingByID(c *gin.Context) {
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

	c.JSON(http.StatusOK, listing)
}

type createListingRequest struct {
	Title         string  `json:"title" binding:"required"`
	Description   string  `json:"description"`
	Price         float64 `json:"price" binding:"required"`
	OriginalPrice float64 `json:"original_price"`
	CurrencyCode  string  `json:"currency_code"`
	Size          string  `json:"size"`
	Condition     string  `json:"condition"`
	Category      string  `json:"category"`
	Brand         string  `json:"brand"`
}

// CreateListing handles POST /v1/listing. New listings start as drafts.
func (h *RestListingHandler) CreateListing(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	listing, err := h.listingService.CreateListing(c.Request.Context(), userID, models.Listing{
		Title:         req.Title,
		Description:   req.Description,
		Price:         req.Price,
		OriginalPrice: req.OriginalPrice,
		CurrencyCode:  req.CurrencyCode,
		Size:          req.Size,
		Condition:     req.Condition,
		Category:      req.Category,
		Brand:         req.Brand,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, listing)
}

// UpdateListing handles PATCH /v1/listing/:id.
func (h *RestListingHandler) UpdateListing(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	listingID, err := utils.ParseShortID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	var updates map[string]interface{}
	if err := c.ShouldBindJSON(&updates); err != nil || len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	listing, err := h.listingService.UpdateListing(c.Request.Context(), listingID, userID, updates)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, listing)
}

// PublishListing handles POST /v1/listing/:id/publish (draft -> active).
func (h *RestListingHandler) PublishListing(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	listingID, err := utils.ParseShortID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	if err := h.listingService.PublishListing(c.Request.Context(), listingID, userID); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// DeleteListing handles DELETE /v1/listing/:id (soft delete).
func (h *RestListingHandler) DeleteListing(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	listingID, err := utils.ParseShortID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	if err := h.listingService.DeleteListing(c.Request.Context(), listingID, userID); err != nil {
		respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetUserListings handles GET /v1/user/:id/listing.
func (h *RestListingHandler) GetUserListings(c *gin.Context) {
	sellerID, err := utils.ParseShortID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format"})
		return
	}

	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}

	filter := models.ListingFilter{SellerID: &sellerID}
	listings, nextCursor, err := h.listingService.SearchListings(c.Request.Context(), filter, limit, c.Query("cursor"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":        listings,
		"next_cursor": nextCursor,
	})
}
