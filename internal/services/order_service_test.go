package services

import (
	"context"
	"sync"
	"testing"

	"dinein_backend/internal/models"
	"dinein_backend/internal/repositories"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	guest   = models.Actor{Role: models.RoleCustomer, RestaurantID: "r1", TableID: "t1", SessionID: "s1"}
	waiter  = models.Actor{Role: models.RoleWaiter, UserID: "w1", RestaurantID: "r1"}
	cook    = models.Actor{Role: models.RoleKitchenStaff, UserID: "k1", RestaurantID: "r1"}
	manager = models.Actor{Role: models.RoleAdmin, UserID: "a1", RestaurantID: "r1"}
)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
}

func (n *recordingNotifier) Notify(_ context.Context, c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
}

func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.changes))
	for i, c := range n.changes {
		out[i] = c.Event
	}
	return out
}

func (n *recordingNotifier) last() Change {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.changes[len(n.changes)-1]
}

func newTestOrderService(t *testing.T, merge bool) (OrderService, repositories.OrderRepository, *recordingNotifier) {
	t.Helper()
	repo := repositories.NewMemoryOrderRepository()
	notifier := &recordingNotifier{}
	svc := NewOrderService(repo, notifier, OrderServiceConfig{TaxRate: decimal.RequireFromString("0.10"), MergeOpenOrders: merge})
	return svc, repo, notifier
}

func burgerAndFries() CreateOrderRequest {
	return CreateOrderRequest{
		RestaurantID: "r1",
		TableID:      "t1",
		Items: []CreateOrderItemRequest{
			{
				MenuItemID: "m-burger", Name: "Burger", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2,
				Modifiers: []ModifierRequest{{Name: "cheese", PriceAdjustment: decimal.RequireFromString("1.50")}},
			},
			{MenuItemID: "m-fries", Name: "Fries", UnitPrice: decimal.RequireFromString("4.00"), Quantity: 1},
		},
	}
}

func createOrder(t *testing.T, svc OrderService) *models.Order {
	t.Helper()
	o, merged, err := svc.CreateOrder(context.Background(), guest, burgerAndFries())
	require.NoError(t, err)
	require.False(t, merged)
	return o
}

func TestCreateOrder(t *testing.T) {
	svc, _, notifier := newTestOrderService(t, false)

	o := createOrder(t, svc)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, int64(1), o.OrderNumber)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, models.PaymentStatusPending, o.PaymentStatus)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "1", o.Items[0].ID)
	assert.Equal(t, "2", o.Items[1].ID)
	assert.Equal(t, "27.00", o.Subtotal.StringFixed(2))
	assert.Equal(t, "2.70", o.Tax.StringFixed(2))
	assert.Equal(t, "29.70", o.Total.StringFixed(2))
	require.Len(t, o.History, 1)
	assert.Equal(t, models.RoleCustomer, o.History[0].ActorRole)
	assert.Equal(t, []string{EventOrderNew}, notifier.events())
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _, _ := newTestOrderService(t, false)

	req := burgerAndFries()
	req.Items[0].Quantity = 0
	_, _, err := svc.CreateOrder(context.Background(), guest, req)
	assert.True(t, IsKind(err, KindValidation), "%v", err)

	req = burgerAndFries()
	req.Items[1].UnitPrice = decimal.RequireFromString("-1")
	_, _, err = svc.CreateOrder(context.Background(), guest, req)
	assert.True(t, IsKind(err, KindValidation), "%v", err)

	req = burgerAndFries()
	req.Items = nil
	_, _, err = svc.CreateOrder(context.Background(), guest, req)
	assert.True(t, IsKind(err, KindValidation), "%v", err)

	req = burgerAndFries()
	req.TableID = "t9"
	_, _, err = svc.CreateOrder(context.Background(), guest, req)
	assert.True(t, IsKind(err, KindUnauthorized), "%v", err)
}

func TestCreateOrderMergesIntoOpenOrder(t *testing.T) {
	svc, _, notifier := newTestOrderService(t, true)
	ctx := context.Background()

	first, merged, err := svc.CreateOrder(ctx, guest, burgerAndFries())
	require.NoError(t, err)
	require.False(t, merged)
	_, err = svc.Accept(ctx, waiter, first.ID)
	require.NoError(t, err)

	extra := CreateOrderRequest{
		RestaurantID: "r1",
		TableID:      "t1",
		Items:        []CreateOrderItemRequest{{MenuItemID: "m-cola", Name: "Cola", UnitPrice: decimal.RequireFromString("2.50"), Quantity: 2}},
	}
	second, merged, err := svc.CreateOrder(ctx, guest, extra)
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, first.ID, second.ID)
	require.Len(t, second.Items, 3)
	assert.Equal(t, "3", second.Items[2].ID)
	assert.Equal(t, models.ItemStatusPending, second.Items[2].Status)
	assert.Equal(t, models.OrderStatusAccepted, second.Status)
	assert.Equal(t, "32.00", second.Subtotal.StringFixed(2))

	last := notifier.last()
	assert.Equal(t, EventOrderItemsAdded, last.Event)
	assert.Equal(t, []string{"3"}, last.AddedItemIDs)
}

func TestCreateOrderDoesNotMergeIntoPaidOrder(t *testing.T) {
	svc, repo, _ := newTestOrderService(t, true)
	ctx := context.Background()

	first := createOrder(t, svc)
	stored, err := repo.GetOrderByID(ctx, first.ID)
	require.NoError(t, err)
	stored.PaymentStatus = models.PaymentStatusPendingCash
	require.NoError(t, repo.UpdateOrder(ctx, stored, stored.Version))

	second, merged, err := svc.CreateOrder(ctx, guest, burgerAndFries())
	require.NoError(t, err)
	assert.False(t, merged)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int64(2), second.OrderNumber)
}

// Scenario A: the full happy path driven by item-level kitchen actions.
func TestHappyPathWithItemProgress(t *testing.T) {
	repo := repositories.NewMemoryOrderRepository()
	notifier := &recordingNotifier{}
	svc := NewOrderService(repo, notifier, OrderServiceConfig{TaxRate: decimal.RequireFromString("0.10")})
	payments, err := NewPaymentService(repo, notifier, nil, 0)
	require.NoError(t, err)
	ctx := context.Background()

	o := createOrder(t, svc)

	o, err = svc.Accept(ctx, waiter, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAccepted, o.Status)
	assert.Equal(t, "w1", *o.WaiterID)
	assert.Equal(t, models.ItemStatusPending, o.Items[0].Status)

	o, err = svc.AdvanceItem(ctx, cook, o.ID, "1", models.ItemStatusPreparing, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAccepted, o.Status)

	o, err = svc.AdvanceItem(ctx, cook, o.ID, "2", models.ItemStatusPreparing, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPreparing, o.Status)

	o, err = svc.AdvanceItem(ctx, cook, o.ID, "1", models.ItemStatusReady, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPreparing, o.Status)

	o, err = svc.AdvanceItem(ctx, cook, o.ID, "2", models.ItemStatusReady, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusReady, o.Status, "last ready item promotes the order")
	assert.NotNil(t, o.ReadyAt)

	o, err = svc.Advance(ctx, waiter, o.ID, models.OrderStatusServed, AdvanceOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusServed, o.Status)
	for _, it := range o.Items {
		assert.Equal(t, models.ItemStatusServed, it.Status)
	}

	o, err = payments.RequestCashPayment(ctx, guest, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPendingCash, o.PaymentStatus)

	o, err = payments.ConfirmCashPayment(ctx, waiter, o.ID, CashPayment{AmountReceived: decimal.RequireFromString("30.00")})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, o.PaymentStatus)
	assert.Equal(t, models.OrderStatusServed, o.Status, "payment never moves fulfillment")
	assert.Equal(t, "0.30", o.Payment.ChangeDue.StringFixed(2))

	o, err = svc.Advance(ctx, waiter, o.ID, models.OrderStatusCompleted, AdvanceOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, o.Status)
	assert.NotNil(t, o.CompletedAt)

	for _, h := range o.History {
		assert.NotEmpty(t, h.ActorRole)
		assert.False(t, h.At.IsZero())
	}
	assert.Equal(t, []string{
		EventOrderNew, EventOrderAccepted,
		EventOrderStatusUpdate, EventOrderStatusUpdate, EventOrderStatusUpdate, EventOrderStatusUpdate,
		EventOrderStatusUpdate,
		EventPaymentCashRequested, EventPaymentCompleted,
		EventOrderStatusUpdate,
	}, notifier.events())
}

// Scenario B: one item is rejected and the rest of the order proceeds.
func TestPartialRejection(t *testing.T) {
	svc, _, notifier := newTestOrderService(t, false)
	ctx := context.Background()

	o := createOrder(t, svc)
	_, err := svc.Accept(ctx, waiter, o.ID)
	require.NoError(t, err)

	o, err = svc.RejectItem(ctx, cook, o.ID, "2", "out of potatoes")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAccepted, o.Status)
	assert.Equal(t, models.ItemStatusRejected, o.Items[1].Status)
	assert.Equal(t, "out of potatoes", o.Items[1].RejectionReason)
	assert.Equal(t, "23.00", o.Subtotal.StringFixed(2))
	assert.Equal(t, "25.30", o.Total.StringFixed(2))

	last := notifier.last()
	assert.Equal(t, EventOrderPartialRejection, last.Event)
	assert.Equal(t, []RejectedItem{{ItemID: "2", Name: "Fries", Reason: "out of potatoes"}}, last.RejectedItems)

	o, err = svc.Advance(ctx, cook, o.ID, models.OrderStatusPreparing, AdvanceOptions{})
	require.NoError(t, err)
	o, err = svc.Advance(ctx, cook, o.ID, models.OrderStatusReady, AdvanceOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusReady, o.Items[0].Status)
	assert.Equal(t, models.ItemStatusRejected, o.Items[1].Status)

	_, err = svc.RejectItem(ctx, cook, o.ID, "2", "again")
	assert.True(t, IsKind(err, KindInvalidTransition), "%v", err)
}

func TestRejectingEveryItemRejectsOrder(t *testing.T) {
	svc, _, _ := newTestOrderService(t, false)
	ctx := context.Background()

	o := createOrder(t, svc)
	_, err := svc.RejectItem(ctx, waiter, o.ID, "1", "sold out")
	require.NoError(t, err)
	o, err = svc.RejectItem(ctx, waiter, o.ID, "2", "sold out")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRejected, o.Status)
	assert.Equal(t, "sold out", o.RejectionReason)
	assert.True(t, o.Total.IsZero())
}

// Scenario C: completion is gated on payment, with the cash override.
func TestCompletionRequiresPayment(t *testing.T) {
	svc, _, notifier := newTestOrderService(t, false)
	ctx := context.Background()

	o := servedOrder(t, svc)

	_, err := svc.Advance(ctx, waiter, o.ID, models.OrderStatusCompleted, AdvanceOptions{})
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, KindPaymentRequired, svcErr.Kind)
	assert.Equal(t, "pending", svcErr.PaymentStatus)

	_, err = svc.Advance(ctx, waiter, o.ID, models.OrderStatusCompleted, AdvanceOptions{
		CashPayment: &CashPayment{AmountReceived: decimal.RequireFromString("20.00")},
	})
	assert.True(t, IsKind(err, KindValidation), "short cash is rejected: %v", err)

	o, err = svc.Advance(ctx, waiter, o.ID, models.OrderStatusCompleted, AdvanceOptions{
		CashPayment: &CashPayment{AmountReceived: decimal.RequireFromString("35.00"), TipAmount: decimal.RequireFromString("3.00")},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, o.Status)
	assert.Equal(t, models.PaymentStatusPaid, o.PaymentStatus)
	assert.Equal(t, "2.30", o.Payment.ChangeDue.StringFixed(2))
	assert.Equal(t, models.RoleWaiter, o.Payment.ConfirmedBy)

	last := notifier.last()
	assert.Equal(t, EventOrderStatusUpdate, last.Event)
	assert.Equal(t, []string{EventPaymentCompleted}, last.Related)
}

func servedOrder(t *testing.T, svc OrderService) *models.Order {
	t.Helper()
	ctx := context.Background()
	o := createOrder(t, svc)
	var err error
	_, err = svc.Accept(ctx, waiter, o.ID)
	require.NoError(t, err)
	_, err = svc.Advance(ctx, cook, o.ID, models.OrderStatusPreparing, AdvanceOptions{})
	require.NoError(t, err)
	_, err = svc.Advance(ctx, cook, o.ID, models.OrderStatusReady, AdvanceOptions{})
	require.NoError(t, err)
	o, err = svc.Advance(ctx, waiter, o.ID, models.OrderStatusServed, AdvanceOptions{})
	require.NoError(t, err)
	return o
}

func TestTerminalOrdersRejectEveryMutation(t *testing.T) {
	svc, _, _ := newTestOrderService(t, false)
	ctx := context.Background()

	o := createOrder(t, svc)
	o, err := svc.Reject(ctx, waiter, o.ID, "kitchen closed")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRejected, o.Status)
	for _, it := range o.Items {
		assert.Equal(t, models.ItemStatusRejected, it.Status)
		assert.Equal(t, "kitchen closed", it.RejectionReason)
	}

	for _, target := range allOrderStatuses {
		_, err := svc.Advance(ctx, manager, o.ID, target, AdvanceOptions{Reason: "x"})
		assert.True(t, IsKind(err, KindInvalidTransition), "%s: %v", target, err)
	}
	_, err = svc.Accept(ctx, manager, o.ID)
	assert.True(t, IsKind(err, KindInvalidTransition))
	_, err = svc.RejectItem(ctx, manager, o.ID, "1", "x")
	assert.True(t, IsKind(err, KindInvalidTransition))
	_, err = svc.AdvanceItem(ctx, manager, o.ID, "1", models.ItemStatusReady, "")
	assert.True(t, IsKind(err, KindInvalidTransition))
}

func TestAdvanceErrors(t *testing.T) {
	svc, _, _ := newTestOrderService(t, false)
	ctx := context.Background()
	o := createOrder(t, svc)

	_, err := svc.Accept(ctx, cook, o.ID)
	assert.True(t, IsKind(err, KindUnauthorized), "%v", err)

	_, err = svc.Advance(ctx, waiter, o.ID, models.OrderStatusRejected, AdvanceOptions{})
	assert.True(t, IsKind(err, KindValidation), "reject needs a reason: %v", err)

	_, err = svc.Advance(ctx, waiter, o.ID, "eaten", AdvanceOptions{})
	assert.True(t, IsKind(err, KindValidation), "%v", err)

	_, err = svc.Advance(ctx, waiter, "missing", models.OrderStatusAccepted, AdvanceOptions{})
	assert.True(t, IsKind(err, KindNotFound), "%v", err)

	_, err = svc.AdvanceItem(ctx, cook, o.ID, "1", models.ItemStatusPreparing, "")
	assert.True(t, IsKind(err, KindInvalidTransition), "items wait for acceptance: %v", err)

	_, err = svc.Accept(ctx, models.Actor{Role: models.RoleWaiter, RestaurantID: "r2"}, o.ID)
	assert.True(t, IsKind(err, KindUnauthorized), "other restaurant: %v", err)
}

func TestGetOrderScopesCustomers(t *testing.T) {
	svc, _, _ := newTestOrderService(t, false)
	ctx := context.Background()
	o := createOrder(t, svc)

	got, err := svc.GetOrder(ctx, guest, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = svc.GetOrder(ctx, models.Actor{Role: models.RoleCustomer, TableID: "t2"}, o.ID)
	assert.True(t, IsKind(err, KindUnauthorized))

	_, err = svc.GetOrder(ctx, waiter, o.ID)
	assert.NoError(t, err)
}

func TestListOrders(t *testing.T) {
	svc, _, _ := newTestOrderService(t, false)
	ctx := context.Background()
	first := createOrder(t, svc)
	createOrder(t, svc)
	_, err := svc.Accept(ctx, waiter, first.ID)
	require.NoError(t, err)

	status := "accepted"
	orders, total, err := svc.ListOrders(ctx, waiter, models.OrderFilters{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, first.ID, orders[0].ID)

	orders, total, err = svc.ListOrders(ctx, waiter, models.OrderFilters{Page: 1, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, orders, 1)

	_, _, err = svc.ListOrders(ctx, guest, models.OrderFilters{})
	assert.True(t, IsKind(err, KindUnauthorized))
}

// Accept and reject race on the same pending order: exactly one wins and the
// loser is told the transition is no longer valid.
func TestConcurrentAcceptRejectHasSingleWinner(t *testing.T) {
	svc, _, _ := newTestOrderService(t, false)
	ctx := context.Background()
	o := createOrder(t, svc)

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if i%2 == 0 {
				_, errs[i] = svc.Accept(ctx, waiter, o.ID)
			} else {
				_, errs[i] = svc.Reject(ctx, waiter, o.ID, "busy")
			}
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, IsKind(err, KindInvalidTransition) || IsKind(err, KindConflict), "%v", err)
	}
	assert.Equal(t, 1, winners)

	final, err := svc.GetOrder(ctx, waiter, o.ID)
	require.NoError(t, err)
	assert.Contains(t, []models.OrderStatus{models.OrderStatusAccepted, models.OrderStatusRejected}, final.Status)
	assert.Len(t, final.History, 2+boolToInt(final.Status == models.OrderStatusRejected)*len(final.Items))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// interleavingRepo commits another write just before the next UpdateOrder so
// the caller deterministically loses its compare-and-swap.
type interleavingRepo struct {
	repositories.OrderRepository
	before func()
}

func (r *interleavingRepo) UpdateOrder(ctx context.Context, o *models.Order, expectedVersion int64) error {
	if f := r.before; f != nil {
		r.before = nil
		f()
	}
	return r.OrderRepository.UpdateOrder(ctx, o, expectedVersion)
}

func newInterleavingService(t *testing.T) (OrderService, *interleavingRepo) {
	t.Helper()
	repo := &interleavingRepo{OrderRepository: repositories.NewMemoryOrderRepository()}
	svc := NewOrderService(repo, nil, OrderServiceConfig{TaxRate: decimal.RequireFromString("0.10")})
	return svc, repo
}

// Two advances from the same source whose targets could chain must still
// produce one winner: the loser may not re-apply its move from the new state.
func TestOverlappingAdvancesHaveSingleWinner(t *testing.T) {
	tests := []struct {
		name        string
		setup       []models.OrderStatus
		winner      models.OrderStatus
		winnerActor models.Actor
		loser       models.OrderStatus
		loserActor  models.Actor
	}{
		{
			name:   "preparing beats cancel from accepted",
			winner: models.OrderStatusPreparing, winnerActor: cook,
			loser: models.OrderStatusCancelled, loserActor: manager,
		},
		{
			name:   "ready beats cancel from preparing",
			setup:  []models.OrderStatus{models.OrderStatusPreparing},
			winner: models.OrderStatusReady, winnerActor: cook,
			loser: models.OrderStatusCancelled, loserActor: manager,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newInterleavingService(t)
			ctx := context.Background()
			o := createOrder(t, svc)
			_, err := svc.Accept(ctx, waiter, o.ID)
			require.NoError(t, err)
			for _, status := range tt.setup {
				_, err = svc.Advance(ctx, manager, o.ID, status, AdvanceOptions{})
				require.NoError(t, err)
			}

			var winnerErr error
			repo.before = func() {
				_, winnerErr = svc.Advance(ctx, tt.winnerActor, o.ID, tt.winner, AdvanceOptions{})
			}
			_, loserErr := svc.Advance(ctx, tt.loserActor, o.ID, tt.loser, AdvanceOptions{Reason: "kitchen closed"})

			require.NoError(t, winnerErr)
			var svcErr *Error
			require.ErrorAs(t, loserErr, &svcErr)
			assert.Equal(t, KindInvalidTransition, svcErr.Kind)
			assert.Equal(t, string(tt.winner), svcErr.CurrentStatus)
			assert.Equal(t, string(tt.loser), svcErr.RequestedStatus)

			final, err := svc.GetOrder(ctx, waiter, o.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.winner, final.Status)
		})
	}
}

func TestAcceptLosingToRejectDoesNotRetarget(t *testing.T) {
	svc, repo := newInterleavingService(t)
	ctx := context.Background()
	o := createOrder(t, svc)

	repo.before = func() {
		_, err := svc.Reject(ctx, manager, o.ID, "closing")
		require.NoError(t, err)
	}
	_, err := svc.Accept(ctx, waiter, o.ID)
	assert.True(t, IsKind(err, KindInvalidTransition), "%v", err)
}

// Item updates on different items do not conflict logically, so the loser
// re-applies its change on the fresh order.
func TestItemAdvanceRetriesAfterLostRace(t *testing.T) {
	svc, repo := newInterleavingService(t)
	ctx := context.Background()
	o := createOrder(t, svc)
	_, err := svc.Accept(ctx, waiter, o.ID)
	require.NoError(t, err)

	repo.before = func() {
		_, err := svc.AdvanceItem(ctx, cook, o.ID, o.Items[0].ID, models.ItemStatusPreparing, "")
		require.NoError(t, err)
	}
	updated, err := svc.AdvanceItem(ctx, cook, o.ID, o.Items[1].ID, models.ItemStatusPreparing, "")
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusPreparing, updated.Items[0].Status)
	assert.Equal(t, models.ItemStatusPreparing, updated.Items[1].Status)
	assert.Equal(t, models.OrderStatusPreparing, updated.Status)
}
