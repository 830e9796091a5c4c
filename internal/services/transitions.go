package services

import "dinein_backend/internal/models"

type orderEdge struct {
	from  models.OrderStatus
	to    models.OrderStatus
	roles []models.Role
}

type itemEdge struct {
	from  models.ItemStatus
	to    models.ItemStatus
	roles []models.Role
}

type paymentEdge struct {
	from  models.PaymentStatus
	to    models.PaymentStatus
	roles []models.Role
}

var (
	frontOfHouse = []models.Role{models.RoleWaiter, models.RoleAdmin}
	kitchen      = []models.Role{models.RoleKitchenStaff, models.RoleAdmin}
	allStaff     = []models.Role{models.RoleWaiter, models.RoleKitchenStaff, models.RoleAdmin}
	adminOnly    = []models.Role{models.RoleAdmin}
	payers       = []models.Role{models.RoleCustomer, models.RoleWaiter, models.RoleAdmin}
)

// orderTransitions is the fulfillment state machine. Terminal statuses have no rows.
var orderTransitions = []orderEdge{
	{models.OrderStatusPending, models.OrderStatusAccepted, frontOfHouse},
	{models.OrderStatusPending, models.OrderStatusRejected, frontOfHouse},
	{models.OrderStatusAccepted, models.OrderStatusPreparing, kitchen},
	{models.OrderStatusAccepted, models.OrderStatusCancelled, kitchen},
	{models.OrderStatusPreparing, models.OrderStatusReady, kitchen},
	{models.OrderStatusPreparing, models.OrderStatusCancelled, kitchen},
	{models.OrderStatusReady, models.OrderStatusServed, frontOfHouse},
	{models.OrderStatusReady, models.OrderStatusCancelled, frontOfHouse},
	{models.OrderStatusServed, models.OrderStatusCompleted, frontOfHouse},
}

var itemTransitions = []itemEdge{
	{models.ItemStatusPending, models.ItemStatusPreparing, kitchen},
	{models.ItemStatusPending, models.ItemStatusReady, kitchen},
	{models.ItemStatusPreparing, models.ItemStatusReady, kitchen},
	{models.ItemStatusReady, models.ItemStatusServed, frontOfHouse},
	{models.ItemStatusPending, models.ItemStatusRejected, allStaff},
	{models.ItemStatusPreparing, models.ItemStatusRejected, allStaff},
	{models.ItemStatusReady, models.ItemStatusRejected, allStaff},
}

// paymentTransitions covers the role-gated payment moves. Card confirmation
// is verified by the provider instead of a role.
var paymentTransitions = []paymentEdge{
	{models.PaymentStatusPending, models.PaymentStatusPendingCash, payers},
	{models.PaymentStatusFailed, models.PaymentStatusPendingCash, payers},
	{models.PaymentStatusPendingCash, models.PaymentStatusPaid, frontOfHouse},
	{models.PaymentStatusPaid, models.PaymentStatusRefunded, adminOnly},
}

// itemActionStatuses are the order statuses in which items may progress.
var itemActionStatuses = map[models.OrderStatus]bool{
	models.OrderStatusAccepted:  true,
	models.OrderStatusPreparing: true,
	models.OrderStatusReady:     true,
	models.OrderStatusServed:    true,
}

// AllowedOrderTransitions lists the statuses reachable from status, in table order.
func AllowedOrderTransitions(from models.OrderStatus) []models.OrderStatus {
	var out []models.OrderStatus
	for _, e := range orderTransitions {
		if e.from == from {
			out = append(out, e.to)
		}
	}
	return out
}

func allowedOrderNames(from models.OrderStatus) []string {
	var out []string
	for _, to := range AllowedOrderTransitions(from) {
		out = append(out, string(to))
	}
	return out
}

// AllowedItemTransitions lists the item statuses reachable from status.
func AllowedItemTransitions(from models.ItemStatus) []models.ItemStatus {
	var out []models.ItemStatus
	for _, e := range itemTransitions {
		if e.from == from {
			out = append(out, e.to)
		}
	}
	return out
}

func checkOrderTransition(actor models.Actor, from, to models.OrderStatus) error {
	var allowed []string
	for _, e := range orderTransitions {
		if e.from != from {
			continue
		}
		allowed = append(allowed, string(e.to))
		if e.to == to {
			if !hasRole(actor.Role, e.roles) {
				return unauthorized(actor.Role, "move an order from "+string(from)+" to "+string(to), e.roles)
			}
			return nil
		}
	}
	return invalidTransition("order", string(from), string(to), allowed)
}

func checkItemTransition(actor models.Actor, from, to models.ItemStatus) error {
	var allowed []string
	for _, e := range itemTransitions {
		if e.from != from {
			continue
		}
		allowed = append(allowed, string(e.to))
		if e.to == to {
			if !hasRole(actor.Role, e.roles) {
				return unauthorized(actor.Role, "move an item from "+string(from)+" to "+string(to), e.roles)
			}
			return nil
		}
	}
	return invalidTransition("item", string(from), string(to), allowed)
}

func checkPaymentTransition(actor models.Actor, from, to models.PaymentStatus) error {
	var allowed []string
	for _, e := range paymentTransitions {
		if e.from != from {
			continue
		}
		allowed = append(allowed, string(e.to))
		if e.to == to {
			if !hasRole(actor.Role, e.roles) {
				return unauthorized(actor.Role, "move payment from "+string(from)+" to "+string(to), e.roles)
			}
			return nil
		}
	}
	return invalidTransition("payment", string(from), string(to), allowed)
}

func hasRole(role models.Role, roles []models.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
