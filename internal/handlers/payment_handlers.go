package handlers

import (
	"net/http"

	"dinein_backend/internal/services"
	"dinein_backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// PaymentHandler exposes cash and card settlement.
type PaymentHandler struct {
	paymentService services.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(ps services.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: ps}
}

// ConfirmCardPaymentRequest is sent once the card provider reports success.
type ConfirmCardPaymentRequest struct {
	OrderID          string `json:"orderId" binding:"required"`
	PaymentReference string `json:"paymentReference" binding:"required"`
}

// RefundRequest is the body of POST /payments/refund.
type RefundRequest struct {
	OrderID string `json:"orderId" binding:"required"`
	Reason  string `json:"reason"`
}

// RequestCashPayment handles POST /orders/:id/request-cash-payment.
func (h *PaymentHandler) RequestCashPayment(c *gin.Context) {
	order, err := h.paymentService.RequestCashPayment(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, err, "RequestCashPayment")
		return
	}
	c.JSON(http.StatusOK, order)
}

// ConfirmCashPayment handles POST /orders/:id/confirm-cash-payment.
func (h *PaymentHandler) ConfirmCashPayment(c *gin.Context) {
	var req services.CashPayment
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.LogError(err, "ConfirmCashPayment: Failed to bind JSON")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request payload", err.Error()))
		return
	}
	order, err := h.paymentService.ConfirmCashPayment(c.Request.Context(), currentActor(c), c.Param("id"), req)
	if err != nil {
		respondServiceError(c, err, "ConfirmCashPayment")
		return
	}
	c.JSON(http.StatusOK, order)
}

// ConfirmCardPayment handles POST /payments/confirm.
func (h *PaymentHandler) ConfirmCardPayment(c *gin.Context) {
	var req ConfirmCardPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request payload", err.Error()))
		return
	}
	order, err := h.paymentService.ConfirmCardPayment(c.Request.Context(), currentActor(c), req.OrderID, req.PaymentReference)
	if err != nil {
		respondServiceError(c, err, "ConfirmCardPayment")
		return
	}
	c.JSON(http.StatusOK, order)
}

// Refund handles POST /payments/refund.
func (h *PaymentHandler) Refund(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request payload", err.Error()))
		return
	}
	order, err := h.paymentService.Refund(c.Request.Context(), currentActor(c), req.OrderID, req.Reason)
	if err != nil {
		respondServiceError(c, err, "Refund")
		return
	}
	c.JSON(http.StatusOK, order)
}
