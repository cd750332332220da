package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"afriverse/core/internal/auth"
	"afriverse/core/internal/config"
	"afriverse/core/internal/services"
)

// RestAuthHandler handles account registration and login.
type RestAuthHandler struct {
	cfg         *config.Config
	userService services.IUserService
	taskClient  IAsynqClient
}

// NewRestAuthHandler creates a new RestAuthHandler.
func NewRestAuthHandler(cfg *config.Config, userService services.IUserService, taskClient IAsynqClient) *RestAuthHandler {
	return &RestAuthHandler{
		cfg:         cfg,
		userService: userService,
		taskClient:  taskClient,
	}
}

type registerRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register handles POST /v1/auth/register.
func (h *RestAuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	user, err := h.userService.Register(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		// Duplicate email and bad input both come back as plain errors here.
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	enqueueEmail(c, h.taskClient, EmailRequest{
		To:         user.Email,
		TemplateID: "welcome",
		Data: map[string]interface{}{
			"AppName":     h.cfg.AppName,
			"DisplayName": displayNameOrEmail(user.DisplayName, user.Email),
		},
	})

	token, err := auth.GenerateJWT(user.ID, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
}

// Login handles POST /v1/auth/login.
func (h *RestAuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	user, err := h.userService.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	token, err := auth.GenerateJWT(user.ID, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func displayNameOrEmail(displayName, email string) string {
	if displayName != "" {
		return displayName
	}
	return email
}
