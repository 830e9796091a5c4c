package models

import "strings"

// Role is the already-resolved role of whoever is acting on an order.
type Role string

const (
	RoleCustomer     Role = "customer"
	RoleWaiter       Role = "waiter"
	RoleKitchenStaff Role = "kitchen_staff"
	RoleAdmin        Role = "admin"
)

// ParseRole normalizes a role claim. Unknown values return false.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleCustomer, RoleWaiter, RoleKitchenStaff, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// IsStaff reports whether the role belongs to restaurant personnel.
func (r Role) IsStaff() bool {
	return r == RoleWaiter || r == RoleKitchenStaff || r == RoleAdmin
}

// Actor is the session context handed to every core entry point.
// Guests have an empty UserID and are bound to a table instead.
type Actor struct {
	Role         Role   `json:"role"`
	UserID       string `json:"user_id,omitempty"`
	RestaurantID string `json:"restaurant_id,omitempty"`
	TableID      string `json:"table_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// System is the actor recorded for derived (aggregator) transitions and
// provider callbacks that carry no human role.
var System = Actor{Role: "system"}
