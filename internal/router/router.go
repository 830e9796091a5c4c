package router

import (
	"fmt"
	"net/http"

	"dinein_backend/internal/config"
	"dinein_backend/internal/handlers"
	"dinein_backend/internal/middleware"
	"dinein_backend/internal/payment"
	"dinein_backend/internal/realtime"
	"dinein_backend/internal/repositories"
	"dinein_backend/internal/services"

	"github.com/gin-gonic/gin"
)

// versionCacheSize bounds how many orders the notifier tracks for stale-event drops.
const versionCacheSize = 8192

// Dependencies are the long-lived components built by main.
type Dependencies struct {
	Config    *config.Config
	Orders    repositories.OrderRepository
	Hub       *realtime.Hub
	Processor payment.CardProcessor
}

// Setup initializes the routing for the application.
func Setup(engine *gin.Engine, deps Dependencies) error {
	cfg := deps.Config

	// Initialize Services
	notifier, err := realtime.NewHubNotifier(deps.Hub, versionCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create realtime notifier: %w", err)
	}
	orderService := services.NewOrderService(deps.Orders, notifier, services.OrderServiceConfig{
		TaxRate:         cfg.TaxRate,
		MergeOpenOrders: cfg.MergeOpenOrders,
	})
	paymentService, err := services.NewPaymentService(deps.Orders, notifier, deps.Processor, services.DefaultReferenceCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create payment service: %w", err)
	}

	// Initialize Handlers
	orderHandler := handlers.NewOrderHandler(orderService)
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	socketHandler := handlers.NewSocketHandler(deps.Hub, orderService, cfg.WSHeartbeatTimeout, cfg.CORSAllowedOrigins)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	secret := []byte(cfg.JWTSecret)
	engine.GET("/ws", middleware.AuthMiddleware(secret), socketHandler.Connect)

	apiV1 := engine.Group("/api/v1")
	authenticated := apiV1.Group("")
	authenticated.Use(middleware.AuthMiddleware(secret))
	{
		SetupOrderRoutes(authenticated, orderHandler)
		SetupPaymentRoutes(authenticated, paymentHandler, cfg.PaymentWebhookSecret)
	}
	return nil
}
