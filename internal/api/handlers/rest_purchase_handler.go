package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"afriverse/core/internal/services"
	"afriverse/core/internal/utils"
)

// RestPurchaseHandler handles the purchase negotiation flow and its
// conversation.
type RestPurchaseHandler struct {
	purchaseService services.IPurchaseService
	messageService  services.IMessageService
	userService     services.IUserService
	taskClient      IAsynqClient
}

// NewRestPurchaseHandler creates a new RestPurchaseHandler.
func NewRestPurchaseHandler(purchaseService services.IPurchaseService, messageService services.IMessageService, userService services.IUserService, taskClient IAsynqClient) *RestPurchaseHandler {
	return &RestPurchaseHandler{
		purchaseService: purchaseService,
		messageService:  messageService,
		userService:     userService,
		taskClient:      taskClient,
	}
}

type openOfferRequest struct {
	ListingID   string  `json:"listing_id" binding:"required"`
	OfferAmount float64 `json:"offer_amount"`
	Message     string  `json:"message"`
}

// OpenOffer handles POST /v1/purchase: the buyer starts a purchase at
// `pending` with an opening offer message.
func (h *RestPurchaseHandler) OpenOffer(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var req openOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	listingID, err := utils.ParseShortID(req.ListingID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	purchase, err := h.purchaseService.OpenOffer(c.Request.Context(), userID, listingID, req.OfferAmount, req.Message)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, purchase)
}

// ListPurchases handles GET /v1/purchase: everything where the caller is
// buyer or seller.
func (h *RestPurchaseHandler) ListPurchases(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	purchases, err := h.purchaseService.ListPurchasesByUser(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": purchases})
}

// GetPurchase handles GET /v1/purchase/:id. Only the two parties can see it.
func (h *RestPurchaseHandler) GetPurchase(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	purchaseID, err := utils.ParseShortID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid purchase ID format"})
		return
	}

	purchase, err := h.purchaseService.FindPurchaseByID(c.Request.Context(), purchaseID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if purchase.BuyerID != userID && purchase.SellerID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	c.JSON(http.StatusOK, purchase)
}

// parseTransitionIDs pulls the actor and purchase IDs for the state machine
// endpoints, writing the error response itself on failure.
func parseTransitionIDs(c *gin.Context) (actorID, purchaseID utils.ShortID, ok bool) {
	actorID, ok = mustUserID(c)
	if !ok {
		return
	}

	purchaseID, err := utils.ParseShortID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid purchase ID format"})
		return actorID, purchaseID, false
	}
	return actorID, purchaseID, true
}

// Accept handles POST /v1/purchase/:id/accept (seller).
func (h *RestPurchaseHandler) Accept(c *gin.Context) {
	actorID, purchaseID, ok := parseTransitionIDs(c)
	if !ok {
		return
	}

	purchase, err := h.purchaseService.Accept(c.Request.Context(), purchaseID, actorID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

// MarkPaid handles POST /v1/purchase/:id/pay (buyer).
func (h *RestPurchaseHandler) MarkPaid(c *gin.Context) {
	actorID, purchaseID, ok := parseTransitionIDs(c)
	if !ok {
		return
	}

	purchase, err := h.purchaseService.MarkPaid(c.Request.Context(), purchaseID, actorID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

// ConfirmPayment handles POST /v1/purchase/:id/confirm (seller).
func (h *RestPurchaseHandler) ConfirmPayment(c *gin.Context) {
	actorID, purchaseID, ok := parseTransitionIDs(c)
	if !ok {
		return
	}

	purchase, err := h.purchaseService.ConfirmPayment(c.Request.Context(), purchaseID, actorID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

type rateRequest struct {
	Rating int `json:"rating" binding:"required"`
}

// SubmitRating handles POST /v1/purchase/:id/rate (buyer, 1-5, once).
func (h *RestPurchaseHandler) SubmitRating(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	purchaseID, err := utils.ParseShortID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid purchase ID format"})
		return
	}

	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Rating must be between 1 and 5"})
		return
	}

	purchase, err := h.purchaseService.SubmitRating(c.Request.Context(), purchaseID, userID, req.Rating)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, purchase)
}

// ListMessages handles GET /v1/purchase/:id/messages.
func (h *RestPurchaseHandler) ListMessages(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	purchaseID, err := utils.ParseShortID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid purchase ID format"})
		return
	}

	purchase, err := h.purchaseService.FindPurchaseByID(c.Request.Context(), purchaseID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if purchase.BuyerID != userID && purchase.SellerID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	messages, err := h.messageService.ListByPurchase(c.Request.Context(), purchaseID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": messages})
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage handles POST /v1/purchase/:id/messages: free-form chat between
// the two parties, outside the per-transition messages.
func (h *RestPurchaseHandler) SendMessage(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	purchaseID, err := utils.ParseShortID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid purchase ID format"})
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	purchase, err := h.purchaseService.FindPurchaseByID(c.Request.Context(), purchaseID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if purchase.BuyerID != userID && purchase.SellerID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	msg, err := h.messageService.Append(c.Request.Context(), purchaseID, userID.String(), req.Content, nil)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}
