package handlers

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"afriverse/core/internal/config"
	"afriverse/core/internal/services"
)

// RestCheckoutHandler handles direct buy-now checkout.
type RestCheckoutHandler struct {
	cfg             *config.Config
	checkoutService services.ICheckoutService
	userService     services.IUserService
	taskClient      IAsynqClient
}

// NewRestCheckoutHandler creates a new RestCheckoutHandler.
func NewRestCheckoutHandler(cfg *config.Config, checkoutService services.ICheckoutService, userService services.IUserService, taskClient IAsynqClient) *RestCheckoutHandler {
	return &RestCheckoutHandler{
		cfg:             cfg,
		checkoutService: checkoutService,
		userService:     userService,
		taskClient:      taskClient,
	}
}

// Checkout handles POST /v1/checkout. On success the order confirmation
// email is enqueued best-effort; a delivery failure never fails the order.
func (h *RestCheckoutHandler) Checkout(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var input services.CheckoutInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.checkoutService.Submit(c.Request.Context(), userID, &input)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	buyer, berr := h.userService.FindByID(c.Request.Context(), userID)
	if berr != nil {
		log.Printf("WARN: checkout %s succeeded but buyer %s lookup failed, skipping confirmation email: %v",
			result.Purchase.ID.String(), userID.String(), berr)
	} else {
		purchase := result.Purchase
		enqueueEmail(c, h.taskClient, EmailRequest{
			To:         buyer.Email,
			TemplateID: "order_confirmation",
			Data: map[string]interface{}{
				"AppName":            h.cfg.AppName,
				"BuyerName":          displayNameOrEmail(buyer.DisplayName, buyer.Email),
				"ListingTitle":       purchase.ListingTitle,
				"TotalAmount":        fmt.Sprintf("%.2f", purchase.TotalAmount),
				"AmountSaved":        fmt.Sprintf("%.2f", purchase.AmountSaved),
				"CurrencyCode":       purchase.CurrencyCode,
				"PurchaseID":         purchase.ID.String(),
				"ShippingName":       purchase.ShippingAddress.FullName,
				"ShippingLine1":      purchase.ShippingAddress.Line1,
				"ShippingCity":       purchase.ShippingAddress.City,
				"ShippingPostalCode": purchase.ShippingAddress.PostalCode,
				"ShippingCountry":    purchase.ShippingAddress.Country,
			},
		})
	}

	c.JSON(http.StatusCreated, gin.H{
		"purchase": result.Purchase,
		"listing":  result.Listing,
	})
}
