package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"afriverse/core/internal/services"
	"afriverse/core/internal/utils"
)

// RestProfileHandler handles profiles and the impact dashboard.
type RestProfileHandler struct {
	userService   services.IUserService
	impactService services.IImpactService
}

// NewRestProfileHandler creates a new RestProfileHandler.
func NewRestProfileHandler(userService services.IUserService, impactService services.IImpactService) *RestProfileHandler {
	return &RestProfileHandler{
		userService:   userService,
		impactService: impactService,
	}
}

// GetOwnProfile handles GET /v1/profile.
func (h *RestProfileHandler) GetOwnProfile(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	user, err := h.userService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

// UpdateOwnProfile handles PATCH /v1/profile.
func (h *RestProfileHandler) UpdateOwnProfile(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	var updates map[string]interface{}
	if err := c.ShouldBindJSON(&updates); err != nil || len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	user, err := h.userService.UpdateProfile(c.Request.Context(), userID, updates)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

// GetUserByID handles GET /v1/user/:id: a public profile view.
func (h *RestProfileHandler) GetUserByID(c *gin.Context) {
	userID, err := utils.ParseShortID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format"})
		return
	}

	user, err := h.userService.FindByID(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	// Public view: strip the email.
	c.JSON(http.StatusOK, gin.H{
		"id":           user.ID,
		"display_name": user.DisplayName,
		"avatar_key":   user.AvatarKey,
		"bio":          user.Bio,
		"location":     user.Location,
		"impact":       user.Impact,
		"created_at":   user.CreatedAt,
	})
}

// GetImpactDashboard handles GET /v1/profile/impact.
func (h *RestProfileHandler) GetImpactDashboard(c *gin.Context) {
	userID, ok := mustUserID(c)
	if !ok {
		return
	}

	dashboard, err := h.impactService.Dashboard(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dashboard)
}
