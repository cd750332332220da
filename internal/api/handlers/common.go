package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"afriverse/core/internal/api/middleware"
	"afriverse/core/internal/db"
	"afriverse/core/internal/services"
	"afriverse/core/internal/utils"
)

// IAsynqClient defines the interface for the Asynq client methods used by
// handlers. This allows easier mocking than using the concrete asynq.Client.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// mustUserID pulls the authenticated user's ID out of the Gin context,
// aborting with 401 when it is missing or malformed. Only call below
// AuthMiddleware.
func mustUserID(c *gin.Context) (utils.ShortID, bool) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return utils.ShortID{}, false
	}
	return userID, true
}

// respondServiceError maps service-layer errors to HTTP responses:
// not-found 404, state guard misses 409, wrong actor 403, field validation
// 400, everything else 500.
func respondServiceError(c *gin.Context, err error) {
	var fieldErrs services.FieldErrors
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, db.ErrPreconditionFailed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrWrongActor):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &fieldErrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": fieldErrs})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
