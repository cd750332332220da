package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"afriverse/core/internal/auth"
	"afriverse/core/internal/utils"
)

// ContextKeyUserID holds the key for user ID in Gin context.
const ContextKeyUserID = "userID"

// AuthMiddleware creates a Gin middleware for JWT authentication.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		tokenString := parts[1]
		claims, err := auth.ValidateJWT(tokenString, jwtSecret)
		if err != nil {
			errMsg := fmt.Sprintf("Invalid or expired token: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMsg})
			return
		}

		// Valid JWT = valid session; no per-request DB lookup.
		c.Set(ContextKeyUserID, claims.UserID)

		c.Next()
	}
}

// UserIDFromContext returns the authenticated user's ID set by AuthMiddleware.
func UserIDFromContext(c *gin.Context) (utils.ShortID, bool) {
	raw, exists := c.Get(ContextKeyUserID)
	if !exists {
		return utils.ShortID{}, false
	}
	str, ok := raw.(string)
	if !ok {
		return utils.ShortID{}, false
	}
	id, err := utils.ParseShortID(str)
	if err != nil {
		return utils.ShortID{}, false
	}
	return id, true
}
