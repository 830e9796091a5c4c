package services

import (
	"context"

	"dinein_backend/internal/models"
)

// Event names carried to live connections.
const (
	EventOrderNew              = "order:new"
	EventOrderAccepted         = "order:accepted"
	EventOrderStatusUpdate     = "order:statusUpdate"
	EventOrderPartialRejection = "order:partialRejection"
	EventOrderItemsAdded       = "order:itemsAdded"
	EventPaymentCashRequested  = "payment:cashRequested"
	EventPaymentCompleted      = "payment:completed"
	EventPaymentFailed         = "payment:failed"
	EventPaymentRefunded       = "payment:refunded"
)

// RejectedItem identifies a rejected line for partial rejection payloads.
type RejectedItem struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Change describes one committed write. Order is the snapshot after the write.
type Change struct {
	Event          string
	Order          *models.Order
	PreviousStatus models.OrderStatus
	ItemID         string
	ItemStatus     models.ItemStatus
	AddedItemIDs   []string
	RejectedItems  []RejectedItem
	Actor          models.Actor

	// Related lists further events raised by the same write, such as a
	// payment completed while closing an order.
	Related []string
}

// Notifier receives committed changes for fanout. Implementations must not
// block the caller and must swallow delivery failures.
type Notifier interface {
	Notify(ctx context.Context, change Change)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Change) {}
