package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"dinein_backend/internal/models"
	"dinein_backend/internal/services"
	"dinein_backend/pkg/utils"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
)

// OrderPayload is the data of every order:* event.
type OrderPayload struct {
	Order          *models.Order           `json:"order"`
	PreviousStatus models.OrderStatus      `json:"previous_status,omitempty"`
	Status         models.OrderStatus      `json:"status"`
	ItemID         string                  `json:"item_id,omitempty"`
	ItemStatus     models.ItemStatus       `json:"item_status,omitempty"`
	AddedItemIDs   []string                `json:"added_item_ids,omitempty"`
	RejectedItems  []services.RejectedItem `json:"rejected_items,omitempty"`
}

// PaymentPayload is the data of every payment:* event.
type PaymentPayload struct {
	OrderID       string               `json:"order_id"`
	OrderNumber   int64                `json:"order_number"`
	TableID       string               `json:"table_id"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Method        models.PaymentMethod `json:"method,omitempty"`
	Amount        decimal.Decimal      `json:"amount"`
	Reason        string               `json:"reason,omitempty"`
}

// DefaultHoldTimeout bounds how long an out-of-order commit waits for the
// versions before it.
const DefaultHoldTimeout = 2 * time.Second

// HubNotifier turns committed order changes into hub broadcasts in commit
// order. A change that arrives ahead of an earlier version is held until the
// gap fills or the hold timeout passes; no change is ever discarded.
type HubNotifier struct {
	hub         *Hub
	holdTimeout time.Duration

	mu        sync.Mutex
	sequences *lru.Cache[string, *orderSequence]
}

// orderSequence tracks the last version emitted for one order and the
// changes waiting for a missing earlier version.
type orderSequence struct {
	last    int64
	pending map[int64]services.Change
	timer   *time.Timer
}

// NewHubNotifier creates a notifier sequencing events for up to size orders.
func NewHubNotifier(hub *Hub, size int) (*HubNotifier, error) {
	n := &HubNotifier{hub: hub, holdTimeout: DefaultHoldTimeout}
	sequences, err := lru.NewWithEvict[string, *orderSequence](size, n.evicted)
	if err != nil {
		return nil, err
	}
	n.sequences = sequences
	return n, nil
}

// Notify implements services.Notifier.
func (n *HubNotifier) Notify(_ context.Context, change services.Change) {
	o := change.Order
	if o == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	seq, ok := n.sequences.Get(o.ID)
	if !ok {
		seq = &orderSequence{last: o.Version - 1, pending: make(map[int64]services.Change)}
		n.sequences.Add(o.ID, seq)
	}

	switch {
	case o.Version <= seq.last:
		// Its slot was already flushed past; deliver late rather than lose it.
		utils.LogDebug("Delivering late order change", map[string]interface{}{"order_id": o.ID, "version": o.Version, "event": change.Event})
		n.emitChange(change)
	case o.Version == seq.last+1:
		n.emitChange(change)
		seq.last = o.Version
		n.drain(seq)
	default:
		seq.pending[o.Version] = change
		if seq.timer == nil {
			id := o.ID
			var timer *time.Timer
			timer = time.AfterFunc(n.holdTimeout, func() { n.expire(id, timer) })
			seq.timer = timer
		}
	}
}

// drain emits held changes that have become consecutive. Caller holds n.mu.
func (n *HubNotifier) drain(seq *orderSequence) {
	for {
		next, ok := seq.pending[seq.last+1]
		if !ok {
			break
		}
		delete(seq.pending, seq.last+1)
		n.emitChange(next)
		seq.last++
	}
	if len(seq.pending) == 0 && seq.timer != nil {
		seq.timer.Stop()
		seq.timer = nil
	}
}

// flush emits every held change in version order, skipping the gap.
// Caller holds n.mu.
func (n *HubNotifier) flush(seq *orderSequence) {
	versions := make([]int64, 0, len(seq.pending))
	for v := range seq.pending {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	for _, v := range versions {
		n.emitChange(seq.pending[v])
		delete(seq.pending, v)
		seq.last = v
	}
	if seq.timer != nil {
		seq.timer.Stop()
		seq.timer = nil
	}
}

func (n *HubNotifier) expire(orderID string, timer *time.Timer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	seq, ok := n.sequences.Peek(orderID)
	if !ok || seq.timer != timer || len(seq.pending) == 0 {
		return
	}
	utils.LogWarn("Order change gap not filled, flushing held changes", map[string]interface{}{"order_id": orderID, "last": seq.last, "held": len(seq.pending)})
	n.flush(seq)
}

// evicted runs inside the cache while n.mu is held by Notify.
func (n *HubNotifier) evicted(_ string, seq *orderSequence) {
	n.flush(seq)
}

func (n *HubNotifier) emitChange(change services.Change) {
	n.emit(change.Event, change)
	for _, name := range change.Related {
		n.emit(name, change)
	}
}

func (n *HubNotifier) emit(name string, change services.Change) {
	o := change.Order
	var payload interface{}
	if isPaymentEvent(name) {
		p := PaymentPayload{
			OrderID:       o.ID,
			OrderNumber:   o.OrderNumber,
			TableID:       o.TableID,
			PaymentStatus: o.PaymentStatus,
			Amount:        o.Total,
		}
		if o.Payment != nil {
			p.Method = o.Payment.Method
			p.Reason = o.Payment.FailureReason
			if name == services.EventPaymentRefunded {
				p.Reason = o.Payment.RefundReason
			}
		}
		payload = p
	} else {
		payload = OrderPayload{
			Order:          o,
			PreviousStatus: change.PreviousStatus,
			Status:         o.Status,
			ItemID:         change.ItemID,
			ItemStatus:     change.ItemStatus,
			AddedItemIDs:   change.AddedItemIDs,
			RejectedItems:  change.RejectedItems,
		}
	}

	ev, err := NewEvent(name, payload)
	if err != nil {
		utils.LogError(err, "Failed to build event", map[string]interface{}{"order_id": o.ID, "event": name})
		return
	}
	rooms := Audience(name, o)
	delivered := n.hub.Broadcast(ev, rooms...)
	utils.LogDebug("Event broadcast", map[string]interface{}{"event": name, "order_id": o.ID, "rooms": rooms, "delivered": delivered})
}

func isPaymentEvent(name string) bool {
	switch name {
	case services.EventPaymentCashRequested, services.EventPaymentCompleted,
		services.EventPaymentFailed, services.EventPaymentRefunded:
		return true
	}
	return false
}

// Audience lists the rooms an event about o is delivered to.
func Audience(name string, o *models.Order) []string {
	waiters := RoleRoom(o.RestaurantID, models.RoleWaiter)
	kitchen := RoleRoom(o.RestaurantID, models.RoleKitchenStaff)
	table := TableRoom(o.TableID)
	order := OrderRoom(o.ID)

	switch name {
	case services.EventOrderNew:
		return []string{waiters}
	case services.EventOrderAccepted:
		return []string{kitchen, table, order}
	case services.EventOrderStatusUpdate:
		rooms := []string{table, order, waiters}
		switch o.Status {
		case models.OrderStatusPreparing, models.OrderStatusReady, models.OrderStatusCancelled:
			rooms = append(rooms, kitchen)
		}
		return rooms
	case services.EventOrderPartialRejection:
		return []string{table, order, waiters}
	case services.EventOrderItemsAdded:
		rooms := []string{waiters, table, order}
		if o.Status != models.OrderStatusPending {
			rooms = append(rooms, kitchen)
		}
		return rooms
	default:
		return []string{waiters, table, order}
	}
}
