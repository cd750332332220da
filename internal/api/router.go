package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"afriverse/core/internal/api/handlers"
	"afriverse/core/internal/api/middleware"
	"afriverse/core/internal/config"
	"afriverse/core/internal/realtime"
	"afriverse/core/internal/services"
	"afriverse/core/internal/storage"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, db *mongo.Database, rdb *redis.Client, taskClient handlers.IAsynqClient, configSvc services.IConfigService) *gin.Engine {
	// Initialize services needed by API handlers
	userService := services.NewUserService(db, cfg)
	listingService := services.NewListingService(db, cfg)
	messageService := services.NewMessageService(db)
	impactService := services.NewImpactService(db, cfg)

	var notifier realtime.Notifier = realtime.NopNotifier{}
	if rdb != nil {
		notifier = realtime.NewRedisNotifier(rdb)
	}

	purchaseService := services.NewPurchaseService(db, cfg, listingService, messageService, impactService, notifier)
	cartService := services.NewCartService(db, listingService, notifier)
	checkoutService := services.NewCheckoutService(db, cfg, listingService, messageService, impactService, notifier)

	s3StorageService, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to initialize S3 storage for API: %v", err)
	}

	r := gin.Default()

	// Initialize Middleware
	rateLimiter := middleware.NewRateLimiterMiddleware(cfg, configSvc)

	// Apply global middleware first (order matters)
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	// Initialize handlers
	restAuthHandler := handlers.NewRestAuthHandler(cfg, userService, taskClient)
	restConfigHandler := handlers.NewRestConfigHandler(configSvc)
	restListingHandler := handlers.NewRestListingHandler(listingService)
	restPurchaseHandler := handlers.NewRestPurchaseHandler(purchaseService, messageService, userService, taskClient)
	restCartHandler := handlers.NewRestCartHandler(cartService)
	restCheckoutHandler := handlers.NewRestCheckoutHandler(cfg, checkoutService, userService, taskClient)
	restProfileHandler := handlers.NewRestProfileHandler(userService, impactService)
	restUploadHandler := handlers.NewRestUploadHandler(s3StorageService, listingService, userService, taskClient)
	restTryOnHandler := handlers.NewRestTryOnHandler(listingService, s3StorageService)
	syncHandler := handlers.NewSyncHandler(notifier)

	// Legacy try-on path consumed by the mobile AR view.
	r.GET("/api/listings/:id", restTryOnHandler.GetTryOnInfo)

	v1 := r.Group("/v1")
	{
		// Public routes (rate limiting already applied globally)
		v1.POST("/auth/register", restAuthHandler.Register)
		v1.POST("/auth/login", restAuthHandler.Login)
		v1.GET("/config", restConfigHandler.GetPublicConfig)

		// Listing routes
		v1.GET("/listing/search", restListingHandler.SearchListings)
		v1.GET("/listing/:id", restListingHandler.GetListingByID)

		// Public profile routes
		v1.GET("/user/:id", restProfileHandler.GetUserByID)
		v1.GET("/user/:id/listing", restListingHandler.GetUserListings)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Authenticated routes
		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.POST("/listing", restListingHandler.CreateListing)
			authRequired.PATCH("/listing/:id", restListingHandler.UpdateListing)
			authRequired.POST("/listing/:id/publish", restListingHandler.PublishListing)
			authRequired.DELETE("/listing/:id", restListingHandler.DeleteListing)
			authRequired.POST("/listing/:id/image", restUploadHandler.PresignListingImage)
			authRequired.POST("/listing/:id/image/confirm", restUploadHandler.ConfirmListingImage)
			authRequired.POST("/listing/:id/model", restUploadHandler.GenerateModel)

			authRequired.POST("/purchase", restPurchaseHandler.OpenOffer)
			authRequired.GET("/purchase", restPurchaseHandler.ListPurchases)
			authRequired.GET("/purchase/:id", restPurchaseHandler.GetPurchase)
			authRequired.POST("/purchase/:id/accept", restPurchaseHandler.Accept)
			authRequired.POST("/purchase/:id/pay", restPurchaseHandler.MarkPaid)
			authRequired.POST("/purchase/:id/confirm", restPurchaseHandler.ConfirmPayment)
			authRequired.POST("/purchase/:id/rate", restPurchaseHandler.SubmitRating)
			authRequired.GET("/purchase/:id/messages", restPurchaseHandler.ListMessages)
			authRequired.POST("/purchase/:id/messages", restPurchaseHandler.SendMessage)

			authRequired.GET("/cart", restCartHandler.ListSaved)
			authRequired.PUT("/cart/:listing_id", restCartHandler.SaveListing)
			authRequired.DELETE("/cart/:listing_id", restCartHandler.RemoveListing)

			authRequired.POST("/checkout", restCheckoutHandler.Checkout)

			authRequired.GET("/profile", restProfileHandler.GetOwnProfile)
			authRequired.PATCH("/profile", restProfileHandler.UpdateOwnProfile)
			authRequired.GET("/profile/impact", restProfileHandler.GetImpactDashboard)
			authRequired.POST("/profile/avatar", restUploadHandler.PresignAvatar)
			authRequired.POST("/profile/avatar/confirm", restUploadHandler.ConfirmAvatar)

			authRequired.GET("/sync", syncHandler.Stream)
		}
	}

	return r
}

// SetupServiceRouter configures and returns the service Gin engine used by
// operational tooling and integration tests.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				log.Println("Shutdown signal sent successfully.")
			default:
				log.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestEmail":
			var args []string // expect ["kind", "email"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [kind, email]"})
				return
			}
			kind := args[0]
			emailAddr := args[1]
			redisKey := fmt.Sprintf("mockemail:%s:%s", emailAddr, kind)

			// Poll Redis briefly for the key
			var emailJsonData string
			var getErr error
			found := false
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			for i := 0; i < 10; i++ {
				emailJsonData, getErr = rdb.Get(ctx, redisKey).Result()
				if getErr == nil {
					found = true
					rdb.Del(ctx, redisKey)
					break
				}
				if getErr != redis.Nil {
					log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, getErr)
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				time.Sleep(200 * time.Millisecond)
			}

			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
				return
			}

			var emailData map[string]interface{}
			if err := json.Unmarshal([]byte(emailJsonData), &emailData); err != nil {
				log.Printf("Service API: Error unmarshalling email data from key %s: %v", redisKey, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
				return
			}

			c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
