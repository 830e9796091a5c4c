package handlers

import (
	"net/http"
	"strconv"

	"dinein_backend/internal/middleware"
	"dinein_backend/internal/models"
	"dinein_backend/internal/services"
	"dinein_backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// OrderHandler holds the order service.
type OrderHandler struct {
	orderService services.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(os services.OrderService) *OrderHandler {
	return &OrderHandler{orderService: os}
}

// RejectOrderRequest is the body of an order or item rejection.
type RejectOrderRequest struct {
	Reason string `json:"reason"`
}

// UpdateOrderStatusRequest is the body of PATCH /orders/:id/status.
type UpdateOrderStatusRequest struct {
	Status      string                `json:"status" binding:"required"`
	Reason      string                `json:"reason"`
	CashPayment *services.CashPayment `json:"cashPayment"`
}

// UpdateItemStatusRequest is the body of PATCH /orders/:id/items/:itemId/status.
type UpdateItemStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

// CreateOrderResponse wraps a created or merged order.
type CreateOrderResponse struct {
	Order  *models.Order `json:"order"`
	Merged bool          `json:"merged"`
}

// CreateOrder handles placing an order. A merge into the table's open order
// answers 200 instead of 201.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req services.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.LogError(err, "CreateOrder: Failed to bind JSON")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request payload", err.Error()))
		return
	}

	actor := currentActor(c)
	order, merged, err := h.orderService.CreateOrder(c.Request.Context(), actor, req)
	if err != nil {
		respondServiceError(c, err, "CreateOrder")
		return
	}
	status := http.StatusCreated
	if merged {
		status = http.StatusOK
	}
	c.JSON(status, CreateOrderResponse{Order: order, Merged: merged})
}

// GetOrders handles fetching orders with filters for staff dashboards.
func (h *OrderHandler) GetOrders(c *gin.Context) {
	var filters models.OrderFilters

	if v := c.Query("restaurantId"); v != "" {
		filters.RestaurantID = &v
	}
	if v := c.Query("tableId"); v != "" {
		filters.TableID = &v
	}
	if v := c.Query("status"); v != "" {
		filters.Status = &v
	}
	if v := c.Query("paymentStatus"); v != "" {
		filters.PaymentStatus = &v
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid page number.", "page must be a positive integer"))
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid page size.", "page_size must be between 1 and 100"))
		return
	}
	filters.Page = page
	filters.PageSize = pageSize

	orders, total, err := h.orderService.ListOrders(c.Request.Context(), currentActor(c), filters)
	if err != nil {
		respondServiceError(c, err, "GetOrders")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      orders,
		"total":     total,
		"page":      filters.Page,
		"page_size": filters.PageSize,
	})
}

// GetOrderByID handles fetching a single order.
func (h *OrderHandler) GetOrderByID(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, err, "GetOrderByID")
		return
	}
	c.JSON(http.StatusOK, order)
}

// AcceptOrder handles PATCH /orders/:id/accept.
func (h *OrderHandler) AcceptOrder(c *gin.Context) {
	order, err := h.orderService.Accept(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, err, "AcceptOrder")
		return
	}
	c.JSON(http.StatusOK, order)
}

// RejectOrder handles PATCH /orders/:id/reject.
func (h *OrderHandler) RejectOrder(c *gin.Context) {
	var req RejectOrderRequest
	if !bindOptionalJSON(c, &req, "RejectOrder") {
		return
	}
	order, err := h.orderService.Reject(c.Request.Context(), currentActor(c), c.Param("id"), req.Reason)
	if err != nil {
		respondServiceError(c, err, "RejectOrder")
		return
	}
	c.JSON(http.StatusOK, order)
}

// UpdateOrderStatus handles generic order-level transitions.
func (h *OrderHandler) UpdateOrderStatus(c *gin.Context) {
	var req UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request payload", err.Error()))
		return
	}
	if !models.IsValidOrderStatus(req.Status) {
		utils.RespondValidationFailed(c, "unknown order status "+strconv.Quote(req.Status))
		return
	}

	opts := services.AdvanceOptions{Reason: req.Reason, CashPayment: req.CashPayment}
	order, err := h.orderService.Advance(c.Request.Context(), currentActor(c), c.Param("id"), models.OrderStatus(req.Status), opts)
	if err != nil {
		respondServiceError(c, err, "UpdateOrderStatus")
		return
	}
	c.JSON(http.StatusOK, order)
}

// RejectItem handles PATCH /orders/:id/items/:itemId/reject.
func (h *OrderHandler) RejectItem(c *gin.Context) {
	var req RejectOrderRequest
	if !bindOptionalJSON(c, &req, "RejectItem") {
		return
	}
	order, err := h.orderService.RejectItem(c.Request.Context(), currentActor(c), c.Param("id"), c.Param("itemId"), req.Reason)
	if err != nil {
		respondServiceError(c, err, "RejectItem")
		return
	}
	c.JSON(http.StatusOK, order)
}

// UpdateItemStatus handles PATCH /orders/:id/items/:itemId/status.
func (h *OrderHandler) UpdateItemStatus(c *gin.Context) {
	var req UpdateItemStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request payload", err.Error()))
		return
	}
	if !models.IsValidItemStatus(req.Status) {
		utils.RespondValidationFailed(c, "unknown item status "+strconv.Quote(req.Status))
		return
	}

	order, err := h.orderService.AdvanceItem(c.Request.Context(), currentActor(c), c.Param("id"), c.Param("itemId"), models.ItemStatus(req.Status), req.Reason)
	if err != nil {
		respondServiceError(c, err, "UpdateItemStatus")
		return
	}
	c.JSON(http.StatusOK, order)
}

func currentActor(c *gin.Context) models.Actor {
	actor, _ := middleware.ActorFrom(c)
	return actor
}

// bindOptionalJSON accepts an empty body; anything else must be valid JSON.
func bindOptionalJSON(c *gin.Context, dst interface{}, op string) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		utils.LogError(err, op+": Failed to bind JSON")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request payload", err.Error()))
		return false
	}
	return true
}
