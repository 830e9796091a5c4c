package router

import (
	"dinein_backend/internal/handlers"
	"dinein_backend/internal/middleware"
	"dinein_backend/internal/models"

	"github.com/gin-gonic/gin"
)

// SetupOrderRoutes sets up the order routes. Guests may place and read their
// own orders; the service enforces per-transition roles.
func SetupOrderRoutes(authenticatedGroup *gin.RouterGroup, orderHandler *handlers.OrderHandler) {
	orderRoutes := authenticatedGroup.Group("/orders")
	{
		orderRoutes.POST("", orderHandler.CreateOrder)
		orderRoutes.GET("", middleware.RoleAuthMiddleware(models.RoleWaiter, models.RoleKitchenStaff, models.RoleAdmin), orderHandler.GetOrders)
		orderRoutes.GET("/:id", orderHandler.GetOrderByID)
		orderRoutes.PATCH("/:id/status", orderHandler.UpdateOrderStatus)
		orderRoutes.PATCH("/:id/items/:itemId/reject", orderHandler.RejectItem)
		orderRoutes.PATCH("/:id/items/:itemId/status", orderHandler.UpdateItemStatus)

		frontOfHouse := orderRoutes.Group("")
		frontOfHouse.Use(middleware.RoleAuthMiddleware(models.RoleWaiter, models.RoleAdmin))
		{
			frontOfHouse.PATCH("/:id/accept", orderHandler.AcceptOrder)
			frontOfHouse.PATCH("/:id/reject", orderHandler.RejectOrder)
		}
	}
}

// SetupPaymentRoutes sets up cash and card settlement routes. Card
// confirmation is taken from front-of-house staff or the provider webhook.
func SetupPaymentRoutes(authenticatedGroup *gin.RouterGroup, paymentHandler *handlers.PaymentHandler, webhookSecret string) {
	authenticatedGroup.POST("/orders/:id/request-cash-payment", paymentHandler.RequestCashPayment)
	authenticatedGroup.POST("/orders/:id/confirm-cash-payment",
		middleware.RoleAuthMiddleware(models.RoleWaiter, models.RoleAdmin), paymentHandler.ConfirmCashPayment)

	paymentRoutes := authenticatedGroup.Group("/payments")
	{
		paymentRoutes.POST("/confirm",
			middleware.WebhookOrRoleMiddleware(webhookSecret, models.RoleWaiter, models.RoleAdmin), paymentHandler.ConfirmCardPayment)
		paymentRoutes.POST("/refund", middleware.RoleAuthMiddleware(models.RoleAdmin), paymentHandler.Refund)
	}
}
