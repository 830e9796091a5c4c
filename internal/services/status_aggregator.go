package services

import (
	"dinein_backend/internal/models"

	"github.com/shopspring/decimal"
)

// DeriveOrderStatus computes the order status implied by its items. It is pure
// and idempotent: feeding the result back in as current yields the same value.
func DeriveOrderStatus(items []models.OrderItem, current models.OrderStatus) models.OrderStatus {
	if current.IsTerminal() || len(items) == 0 {
		return current
	}

	var live, pending, inKitchen, served int
	for _, it := range items {
		switch it.Status {
		case models.ItemStatusRejected:
			continue
		case models.ItemStatusPending:
			pending++
		case models.ItemStatusPreparing:
			inKitchen++
		case models.ItemStatusServed:
			served++
		}
		live++
	}

	switch {
	case live == 0:
		return models.OrderStatusRejected
	case pending+inKitchen > 0:
		// order-level acceptance is staff driven, items never promote past it
		if current == models.OrderStatusPending {
			return models.OrderStatusPending
		}
		if pending > 0 {
			return models.OrderStatusAccepted
		}
		return models.OrderStatusPreparing
	case served == live:
		return models.OrderStatusServed
	default:
		return models.OrderStatusReady
	}
}

// RecalculateTotals refreshes item subtotals and the order's money fields.
// Rejected items do not count; tax is rounded half-up to cents and the
// discount never pushes the total below zero.
func RecalculateTotals(o *models.Order, taxRate decimal.Decimal) {
	subtotal := decimal.Zero
	for i := range o.Items {
		o.Items[i].Subtotal = o.Items[i].CalculateSubtotal().Round(2)
		if o.Items[i].Status == models.ItemStatusRejected {
			continue
		}
		subtotal = subtotal.Add(o.Items[i].Subtotal)
	}
	tax := subtotal.Mul(taxRate).Round(2)

	discount := o.Discount
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if gross := subtotal.Add(tax); discount.GreaterThan(gross) {
		discount = gross
	}

	o.Subtotal = subtotal
	o.Tax = tax
	o.Discount = discount
	o.Total = subtotal.Add(o.Tax).Sub(discount)
}
