package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"dinein_backend/internal/models"
)

// Event is the envelope written to live connections.
type Event struct {
	Name      string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent encodes payload into an Event envelope.
func NewEvent(name string, payload interface{}) (Event, error) {
	ev := Event{Name: name, Timestamp: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encoding %s payload: %w", name, err)
		}
		ev.Data = data
	}
	return ev, nil
}

// RoleRoom is joined by staff of one role in one restaurant.
func RoleRoom(restaurantID string, role models.Role) string {
	return restaurantID + ":" + string(role)
}

// TableRoom is joined by the customer session seated at a table.
func TableRoom(tableID string) string {
	return "table:" + tableID
}

// OrderRoom is joined by any connection watching one order.
func OrderRoom(orderID string) string {
	return "order:" + orderID
}
