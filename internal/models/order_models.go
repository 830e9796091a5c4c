package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfillment axis of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusServed    OrderStatus = "served"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsValidOrderStatus checks if the provided status string is a valid OrderStatus.
func IsValidOrderStatus(status string) bool {
	switch OrderStatus(status) {
	case OrderStatusPending,
		OrderStatusAccepted,
		OrderStatusRejected,
		OrderStatusPreparing,
		OrderStatusReady,
		OrderStatusServed,
		OrderStatusCompleted,
		OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further fulfillment transition is accepted.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusRejected
}

// ItemStatus is the per-line-item preparation status.
type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusPreparing ItemStatus = "preparing"
	ItemStatusReady     ItemStatus = "ready"
	ItemStatusServed    ItemStatus = "served"
	ItemStatusRejected  ItemStatus = "rejected"
)

// IsValidItemStatus checks if the provided status string is a valid ItemStatus.
func IsValidItemStatus(status string) bool {
	switch ItemStatus(status) {
	case ItemStatusPending, ItemStatusPreparing, ItemStatusReady, ItemStatusServed, ItemStatusRejected:
		return true
	default:
		return false
	}
}

// PaymentStatus is the settlement axis, independent from OrderStatus.
type PaymentStatus string

const (
	PaymentStatusPending     PaymentStatus = "pending"
	PaymentStatusPendingCash PaymentStatus = "pending_cash"
	PaymentStatusPaid        PaymentStatus = "paid"
	PaymentStatusFailed      PaymentStatus = "failed"
	PaymentStatusRefunded    PaymentStatus = "refunded"
)

// IsValidPaymentStatus checks if the provided status string is a valid PaymentStatus.
func IsValidPaymentStatus(status string) bool {
	switch PaymentStatus(status) {
	case PaymentStatusPending, PaymentStatusPendingCash, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// PaymentMethod records how a paid order was settled.
type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "cash"
	PaymentMethodCard PaymentMethod = "card"
)

// ChangeScope tells which axis a StatusChange belongs to.
type ChangeScope string

const (
	ScopeOrder   ChangeScope = "order"
	ScopeItem    ChangeScope = "item"
	ScopePayment ChangeScope = "payment"
)

// Modifier is a selected menu option with its price adjustment at order time.
type Modifier struct {
	Name            string          `json:"name"`
	PriceAdjustment decimal.Decimal `json:"price_adjustment"`
}

// OrderItem is a line item embedded in its order. ID is only unique within the order.
type OrderItem struct {
	ID                  string          `json:"id"`
	MenuItemID          string          `json:"menu_item_id"`
	Name                string          `json:"name"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	Quantity            int             `json:"quantity"`
	Modifiers           []Modifier      `json:"modifiers,omitempty"`
	SpecialInstructions string          `json:"special_instructions,omitempty"`
	Status              ItemStatus      `json:"status"`
	RejectionReason     string          `json:"rejection_reason,omitempty"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// CalculateSubtotal returns (unit price + modifier adjustments) x quantity.
func (i OrderItem) CalculateSubtotal() decimal.Decimal {
	unit := i.UnitPrice
	for _, m := range i.Modifiers {
		unit = unit.Add(m.PriceAdjustment)
	}
	return unit.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// StatusChange is one audit entry. Derived marks aggregator-driven order changes.
type StatusChange struct {
	Scope     ChangeScope `json:"scope"`
	ItemID    string      `json:"item_id,omitempty"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	ActorRole Role        `json:"actor_role"`
	ActorID   string      `json:"actor_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Derived   bool        `json:"derived,omitempty"`
	At        time.Time   `json:"at"`
}

// PaymentRecord holds the settlement details once a payment attempt is made.
type PaymentRecord struct {
	Method         PaymentMethod    `json:"method,omitempty"`
	Reference      string           `json:"reference,omitempty"`
	AmountReceived *decimal.Decimal `json:"amount_received,omitempty"`
	TipAmount      *decimal.Decimal `json:"tip_amount,omitempty"`
	ChangeDue      *decimal.Decimal `json:"change_due,omitempty"`
	ConfirmedBy    Role             `json:"confirmed_by,omitempty"`
	ConfirmedAt    *time.Time       `json:"confirmed_at,omitempty"`
	FailureReason  string           `json:"failure_reason,omitempty"`
	RefundReason   string           `json:"refund_reason,omitempty"`
	RefundedAt     *time.Time       `json:"refunded_at,omitempty"`
}

// Order is the aggregate root of the lifecycle core.
type Order struct {
	ID              string          `json:"id"`
	OrderNumber     int64           `json:"order_number"`
	RestaurantID    string          `json:"restaurant_id"`
	TableID         string          `json:"table_id"`
	CustomerID      *string         `json:"customer_id,omitempty"`
	GuestName       *string         `json:"guest_name,omitempty"`
	WaiterID        *string         `json:"waiter_id,omitempty"`
	Items           []OrderItem     `json:"items"`
	Status          OrderStatus     `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	Payment         *PaymentRecord  `json:"payment,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	History         []StatusChange  `json:"history"`
	Version         int64           `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	PreparingAt *time.Time `json:"preparing_at,omitempty"`
	ReadyAt     *time.Time `json:"ready_at,omitempty"`
	ServedAt    *time.Time `json:"served_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

// FindItem returns a pointer into o.Items, or nil.
func (o *Order) FindItem(itemID string) *OrderItem {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i]
		}
	}
	return nil
}

// StampStatusTime sets the transition timestamp matching status.
func (o *Order) StampStatusTime(status OrderStatus, at time.Time) {
	t := at
	switch status {
	case OrderStatusAccepted:
		o.AcceptedAt = &t
	case OrderStatusPreparing:
		o.PreparingAt = &t
	case OrderStatusReady:
		o.ReadyAt = &t
	case OrderStatusServed:
		o.ServedAt = &t
	case OrderStatusCompleted:
		o.CompletedAt = &t
	case OrderStatusCancelled:
		o.CancelledAt = &t
	case OrderStatusRejected:
		o.RejectedAt = &t
	}
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.CustomerID = cloneString(o.CustomerID)
	c.GuestName = cloneString(o.GuestName)
	c.WaiterID = cloneString(o.WaiterID)
	c.AcceptedAt = cloneTime(o.AcceptedAt)
	c.PreparingAt = cloneTime(o.PreparingAt)
	c.ReadyAt = cloneTime(o.ReadyAt)
	c.ServedAt = cloneTime(o.ServedAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	c.RejectedAt = cloneTime(o.RejectedAt)
	c.PaidAt = cloneTime(o.PaidAt)

	if o.Items != nil {
		c.Items = make([]OrderItem, len(o.Items))
		for i, it := range o.Items {
			c.Items[i] = it
			if it.Modifiers != nil {
				c.Items[i].Modifiers = append([]Modifier(nil), it.Modifiers...)
			}
		}
	}
	if o.History != nil {
		c.History = append([]StatusChange(nil), o.History...)
	}
	if o.Payment != nil {
		p := *o.Payment
		p.AmountReceived = cloneDecimal(o.Payment.AmountReceived)
		p.TipAmount = cloneDecimal(o.Payment.TipAmount)
		p.ChangeDue = cloneDecimal(o.Payment.ChangeDue)
		p.ConfirmedAt = cloneTime(o.Payment.ConfirmedAt)
		p.RefundedAt = cloneTime(o.Payment.RefundedAt)
		c.Payment = &p
	}
	return &c
}

// OrderFilters defines the available filters for querying orders.
// This struct is used by both the service and repository layers.
type OrderFilters struct {
	RestaurantID  *string `form:"restaurantId"`
	TableID       *string `form:"tableId"`
	Status        *string `form:"status"`
	PaymentStatus *string `form:"paymentStatus"`
	Page          int     `form:"page"`
	PageSize      int     `form:"page_size"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
