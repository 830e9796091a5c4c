package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dinein_backend/internal/models"
	"dinein_backend/internal/repositories"
	"dinein_backend/pkg/utils"
)

// maxWriteAttempts bounds how often a mutation is re-run on fresh state after
// losing a compare-and-swap.
const maxWriteAttempts = 5

// mutation edits a private copy of the order. Returning a nil Change means
// the request is already satisfied and nothing is written.
type mutation func(o *models.Order, now time.Time) (*Change, error)

// orderWriter runs read, validate, mutate, conditional write for both the
// order and the payment services.
type orderWriter struct {
	repo     repositories.OrderRepository
	notifier Notifier
	clock    func() time.Time
}

func newOrderWriter(repo repositories.OrderRepository, notifier Notifier) *orderWriter {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &orderWriter{
		repo:     repo,
		notifier: notifier,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

func (w *orderWriter) load(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := w.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, orderNotFound(orderID)
		}
		return nil, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}
	return o, nil
}

// apply commits fn against the latest stored order. A lost race re-runs fn on
// the fresh state, so a transition that became illegal fails validation
// instead of overwriting the winner.
func (w *orderWriter) apply(ctx context.Context, actor models.Actor, orderID string, fn mutation) (*models.Order, error) {
	var latest *models.Order
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		current, err := w.load(ctx, orderID)
		if err != nil {
			return nil, err
		}
		latest = current
		if err := checkScope(actor, current); err != nil {
			return nil, err
		}

		next := current.Clone()
		now := w.clock()
		change, err := fn(next, now)
		if err != nil {
			return nil, err
		}
		if change == nil {
			return current, nil
		}
		next.UpdatedAt = now

		err = w.repo.UpdateOrder(ctx, next, current.Version)
		switch {
		case err == nil:
			change.Order = next.Clone()
			change.Actor = actor
			w.notifier.Notify(ctx, *change)
			return next, nil
		case errors.Is(err, repositories.ErrVersionConflict):
			utils.LogDebug("Order write lost race, retrying", map[string]interface{}{
				"order_id": orderID, "attempt": attempt, "expected_version": current.Version,
			})
			continue
		case errors.Is(err, repositories.ErrNotFound):
			return nil, orderNotFound(orderID)
		default:
			return nil, fmt.Errorf("failed to update order %s: %w", orderID, err)
		}
	}
	return nil, conflict(orderID, latest)
}

// sourceGuard pins the order status read by the first attempt of an
// order-level transition. A retry that finds a different status fails rather
// than re-targeting the move from the winner's state. Item-level mutations do
// not use it: they re-validate on fresh state.
type sourceGuard struct {
	pinned bool
	status models.OrderStatus
}

func (g *sourceGuard) check(o *models.Order, requested models.OrderStatus) error {
	if !g.pinned {
		g.pinned, g.status = true, o.Status
		return nil
	}
	if o.Status == g.status {
		return nil
	}
	return invalidTransition("order", string(o.Status), string(requested), allowedOrderNames(o.Status))
}

// checkScope keeps sessions inside their restaurant, and customers inside
// their own table or account.
func checkScope(actor models.Actor, o *models.Order) error {
	if actor.Role == models.System.Role {
		return nil
	}
	if actor.RestaurantID != "" && actor.RestaurantID != o.RestaurantID {
		return forbiddenOrder(o.ID)
	}
	if actor.Role != models.RoleCustomer {
		return nil
	}
	if actor.TableID != "" && actor.TableID == o.TableID {
		return nil
	}
	if actor.UserID != "" && o.CustomerID != nil && *o.CustomerID == actor.UserID {
		return nil
	}
	return forbiddenOrder(o.ID)
}

func recordChange(o *models.Order, scope models.ChangeScope, itemID, from, to string, actor models.Actor, reason string, derived bool, now time.Time) {
	o.History = append(o.History, models.StatusChange{
		Scope:     scope,
		ItemID:    itemID,
		From:      from,
		To:        to,
		ActorRole: actor.Role,
		ActorID:   actor.UserID,
		Reason:    reason,
		Derived:   derived,
		At:        now,
	})
}

// setOrderStatus moves the order and stamps history plus the matching timestamp.
func setOrderStatus(o *models.Order, to models.OrderStatus, actor models.Actor, reason string, derived bool, now time.Time) {
	if o.Status == to {
		return
	}
	recordChange(o, models.ScopeOrder, "", string(o.Status), string(to), actor, reason, derived, now)
	o.Status = to
	o.StampStatusTime(to, now)
}

func setItemStatus(o *models.Order, it *models.OrderItem, to models.ItemStatus, actor models.Actor, reason string, now time.Time) {
	if it.Status == to {
		return
	}
	recordChange(o, models.ScopeItem, it.ID, string(it.Status), string(to), actor, reason, false, now)
	it.Status = to
	it.UpdatedAt = now
	if to == models.ItemStatusRejected {
		it.RejectionReason = reason
	}
}

func setPaymentStatus(o *models.Order, to models.PaymentStatus, actor models.Actor, reason string, now time.Time) {
	recordChange(o, models.ScopePayment, "", string(o.PaymentStatus), string(to), actor, reason, false, now)
	o.PaymentStatus = to
}
