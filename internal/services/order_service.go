package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dinein_backend/internal/models"
	"dinein_backend/internal/repositories"
	"dinein_backend/pkg/utils"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// errOrderClosed signals that a merge target stopped accepting items between
// lookup and write.
var errOrderClosed = errors.New("open order no longer accepts items")

// CashPayment is a cash settlement recorded by staff.
type CashPayment struct {
	AmountReceived decimal.Decimal `json:"amountReceived"`
	TipAmount      decimal.Decimal `json:"tipAmount"`
}

// AdvanceOptions carries the optional inputs of an order-level transition.
type AdvanceOptions struct {
	Reason string
	// CashPayment lets waiter/admin complete an unpaid order by recording
	// the cash confirmation in the same write.
	CashPayment *CashPayment
}

// OrderServiceConfig holds the pricing and merge settings.
type OrderServiceConfig struct {
	TaxRate         decimal.Decimal
	MergeOpenOrders bool
}

// OrderService is the single authority over order and item status.
type OrderService interface {
	// CreateOrder opens an order for a table, or appends to the table's open
	// unpaid order when merging is enabled. merged reports which happened.
	CreateOrder(ctx context.Context, actor models.Actor, req CreateOrderRequest) (order *models.Order, merged bool, err error)
	GetOrder(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, actor models.Actor, filters models.OrderFilters) ([]models.Order, int, error)
	Accept(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error)
	Reject(ctx context.Context, actor models.Actor, orderID, reason string) (*models.Order, error)
	Advance(ctx context.Context, actor models.Actor, orderID string, target models.OrderStatus, opts AdvanceOptions) (*models.Order, error)
	RejectItem(ctx context.Context, actor models.Actor, orderID, itemID, reason string) (*models.Order, error)
	AdvanceItem(ctx context.Context, actor models.Actor, orderID, itemID string, target models.ItemStatus, reason string) (*models.Order, error)
}

type orderService struct {
	writer    *orderWriter
	validator *validatorv10.Validate
	cfg       OrderServiceConfig
}

// NewOrderService creates a new instance of OrderService. notifier may be nil.
func NewOrderService(repo repositories.OrderRepository, notifier Notifier, cfg OrderServiceConfig) OrderService {
	return &orderService{
		writer:    newOrderWriter(repo, notifier),
		validator: NewValidator(),
		cfg:       cfg,
	}
}

func (s *orderService) CreateOrder(ctx context.Context, actor models.Actor, req CreateOrderRequest) (*models.Order, bool, error) {
	if err := validateStruct(s.validator, req); err != nil {
		return nil, false, err
	}
	if actor.RestaurantID != "" && actor.RestaurantID != req.RestaurantID {
		return nil, false, unauthorized(actor.Role, "order for restaurant "+req.RestaurantID, nil)
	}
	if actor.Role == models.RoleCustomer {
		if actor.TableID != "" && actor.TableID != req.TableID {
			return nil, false, unauthorized(actor.Role, "order for table "+req.TableID, nil)
		}
		req.CustomerID = nil
		if actor.UserID != "" {
			id := actor.UserID
			req.CustomerID = &id
		}
	}

	if s.cfg.MergeOpenOrders {
		merged, err := s.mergeIntoOpenOrder(ctx, actor, req)
		if err == nil {
			return merged, true, nil
		}
		if !errors.Is(err, repositories.ErrNotFound) && !errors.Is(err, errOrderClosed) {
			return nil, false, err
		}
	}

	now := s.writer.clock()
	order := &models.Order{
		ID:            uuid.NewString(),
		RestaurantID:  req.RestaurantID,
		TableID:       req.TableID,
		CustomerID:    req.CustomerID,
		GuestName:     req.GuestName,
		Items:         buildItems(req.Items, 0, now),
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		Discount:      req.Discount,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	recordChange(order, models.ScopeOrder, "", "", string(models.OrderStatusPending), actor, "", false, now)
	RecalculateTotals(order, s.cfg.TaxRate)

	if err := s.writer.repo.CreateOrder(ctx, order); err != nil {
		return nil, false, fmt.Errorf("failed to create order record: %w", err)
	}
	utils.LogInfo("Order created", map[string]interface{}{
		"order_id": order.ID, "order_number": order.OrderNumber, "table_id": order.TableID, "items": len(order.Items),
	})
	s.writer.notifier.Notify(ctx, Change{Event: EventOrderNew, Order: order.Clone(), Actor: actor})
	return order, false, nil
}

// mergeIntoOpenOrder appends the cart to the table's newest open unpaid order.
// Two concurrent first orders for the same table may still both create.
func (s *orderService) mergeIntoOpenOrder(ctx context.Context, actor models.Actor, req CreateOrderRequest) (*models.Order, error) {
	open, err := s.writer.repo.FindOpenOrderForTable(ctx, req.RestaurantID, req.TableID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to look up open order for table %s: %w", req.TableID, err)
	}

	return s.writer.apply(ctx, actor, open.ID, func(o *models.Order, now time.Time) (*Change, error) {
		if o.Status.IsTerminal() ||
			(o.PaymentStatus != models.PaymentStatusPending && o.PaymentStatus != models.PaymentStatusFailed) {
			return nil, errOrderClosed
		}
		added := buildItems(req.Items, len(o.Items), now)
		ids := make([]string, len(added))
		for i := range added {
			ids[i] = added[i].ID
			recordChange(o, models.ScopeItem, added[i].ID, "", string(added[i].Status), actor, "", false, now)
		}
		o.Items = append(o.Items, added...)
		if o.GuestName == nil {
			o.GuestName = req.GuestName
		}
		if o.CustomerID == nil {
			o.CustomerID = req.CustomerID
		}
		o.Discount = o.Discount.Add(req.Discount)

		prev := o.Status
		setOrderStatus(o, DeriveOrderStatus(o.Items, o.Status), actor, "", true, now)
		RecalculateTotals(o, s.cfg.TaxRate)
		return &Change{Event: EventOrderItemsAdded, PreviousStatus: prev, AddedItemIDs: ids}, nil
	})
}

func buildItems(reqs []CreateOrderItemRequest, offset int, now time.Time) []models.OrderItem {
	items := make([]models.OrderItem, len(reqs))
	for i, r := range reqs {
		mods := make([]models.Modifier, len(r.Modifiers))
		for j, m := range r.Modifiers {
			mods[j] = models.Modifier{Name: m.Name, PriceAdjustment: m.PriceAdjustment}
		}
		items[i] = models.OrderItem{
			ID:                  strconv.Itoa(offset + i + 1),
			MenuItemID:          r.MenuItemID,
			Name:                r.Name,
			UnitPrice:           r.UnitPrice,
			Quantity:            r.Quantity,
			Modifiers:           mods,
			SpecialInstructions: strings.TrimSpace(r.SpecialInstructions),
			Status:              models.ItemStatusPending,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		items[i].Subtotal = items[i].CalculateSubtotal().Round(2)
	}
	return items
}

func (s *orderService) GetOrder(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	o, err := s.writer.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkScope(actor, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *orderService) ListOrders(ctx context.Context, actor models.Actor, filters models.OrderFilters) ([]models.Order, int, error) {
	if !actor.Role.IsStaff() {
		return nil, 0, unauthorized(actor.Role, "list orders", allStaff)
	}
	if actor.RestaurantID != "" {
		rid := actor.RestaurantID
		filters.RestaurantID = &rid
	}
	if filters.Status != nil && *filters.Status != "" && !models.IsValidOrderStatus(*filters.Status) {
		return nil, 0, validationError("unknown order status %q", *filters.Status)
	}
	if filters.PaymentStatus != nil && *filters.PaymentStatus != "" && !models.IsValidPaymentStatus(*filters.PaymentStatus) {
		return nil, 0, validationError("unknown payment status %q", *filters.PaymentStatus)
	}
	orders, total, err := s.writer.repo.GetOrders(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get orders: %w", err)
	}
	return orders, total, nil
}

func (s *orderService) Accept(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	var source sourceGuard
	return s.writer.apply(ctx, actor, orderID, func(o *models.Order, now time.Time) (*Change, error) {
		if err := source.check(o, models.OrderStatusAccepted); err != nil {
			return nil, err
		}
		if err := checkOrderTransition(actor, o.Status, models.OrderStatusAccepted); err != nil {
			return nil, err
		}
		prev := o.Status
		setOrderStatus(o, models.OrderStatusAccepted, actor, "", false, now)
		if actor.Role == models.RoleWaiter && actor.UserID != "" && o.WaiterID == nil {
			id := actor.UserID
			o.WaiterID = &id
		}
		return &Change{Event: EventOrderAccepted, PreviousStatus: prev}, nil
	})
}

func (s *orderService) Reject(ctx context.Context, actor models.Actor, orderID, reason string) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationError("a rejection reason is required")
	}
	var source sourceGuard
	return s.writer.apply(ctx, actor, orderID, func(o *models.Order, now time.Time) (*Change, error) {
		if err := source.check(o, models.OrderStatusRejected); err != nil {
			return nil, err
		}
		if err := checkOrderTransition(actor, o.Status, models.OrderStatusRejected); err != nil {
			return nil, err
		}
		for i := range o.Items {
			setItemStatus(o, &o.Items[i], models.ItemStatusRejected, actor, reason, now)
		}
		prev := o.Status
		setOrderStatus(o, models.OrderStatusRejected, actor, reason, false, now)
		o.RejectionReason = reason
		RecalculateTotals(o, s.cfg.TaxRate)
		return &Change{Event: EventOrderStatusUpdate, PreviousStatus: prev}, nil
	})
}

func (s *orderService) Advance(ctx context.Context, actor models.Actor, orderID string, target models.OrderStatus, opts AdvanceOptions) (*models.Order, error) {
	if !models.IsValidOrderStatus(string(target)) {
		return nil, validationError("unknown order status %q", target)
	}
	if target == models.OrderStatusRejected {
		return s.Reject(ctx, actor, orderID, opts.Reason)
	}
	if opts.CashPayment != nil {
		if err := validateCash(*opts.CashPayment); err != nil {
			return nil, err
		}
	}

	var source sourceGuard
	return s.writer.apply(ctx, actor, orderID, func(o *models.Order, now time.Time) (*Change, error) {
		if err := source.check(o, target); err != nil {
			return nil, err
		}
		if err := checkOrderTransition(actor, o.Status, target); err != nil {
			return nil, err
		}
		var related []string
		if target == models.OrderStatusCompleted && o.PaymentStatus != models.PaymentStatusPaid {
			if opts.CashPayment == nil || o.PaymentStatus == models.PaymentStatusRefunded {
				return nil, paymentRequired(o)
			}
			if err := recordCashPayment(o, actor, *opts.CashPayment, now); err != nil {
				return nil, err
			}
			related = append(related, EventPaymentCompleted)
		}

		cascadeItems(o, target, actor, now)
		prev := o.Status
		setOrderStatus(o, target, actor, strings.TrimSpace(opts.Reason), false, now)
		RecalculateTotals(o, s.cfg.TaxRate)
		return &Change{Event: EventOrderStatusUpdate, PreviousStatus: prev, Related: related}, nil
	})
}

// cascadeItems brings items in line with an explicit order-level move.
func cascadeItems(o *models.Order, target models.OrderStatus, actor models.Actor, now time.Time) {
	for i := range o.Items {
		it := &o.Items[i]
		switch target {
		case models.OrderStatusPreparing:
			if it.Status == models.ItemStatusPending {
				setItemStatus(o, it, models.ItemStatusPreparing, actor, "", now)
			}
		case models.OrderStatusReady:
			if it.Status == models.ItemStatusPending || it.Status == models.ItemStatusPreparing {
				setItemStatus(o, it, models.ItemStatusReady, actor, "", now)
			}
		case models.OrderStatusServed:
			if it.Status == models.ItemStatusReady {
				setItemStatus(o, it, models.ItemStatusServed, actor, "", now)
			}
		}
	}
}

func (s *orderService) AdvanceItem(ctx context.Context, actor models.Actor, orderID, itemID string, target models.ItemStatus, reason string) (*models.Order, error) {
	if !models.IsValidItemStatus(string(target)) {
		return nil, validationError("unknown item status %q", target)
	}
	if target == models.ItemStatusRejected {
		return s.RejectItem(ctx, actor, orderID, itemID, reason)
	}

	return s.writer.apply(ctx, actor, orderID, func(o *models.Order, now time.Time) (*Change, error) {
		it := o.FindItem(itemID)
		if it == nil {
			return nil, itemNotFound(orderID, itemID)
		}
		if !itemActionStatuses[o.Status] {
			return nil, &Error{
				Kind:            KindInvalidTransition,
				Message:         fmt.Sprintf("items cannot change while order %s is %s", o.ID, o.Status),
				CurrentStatus:   string(o.Status),
				RequestedStatus: string(target),
			}
		}
		if err := checkItemTransition(actor, it.Status, target); err != nil {
			return nil, err
		}
		setItemStatus(o, it, target, actor, "", now)

		prev := o.Status
		setOrderStatus(o, DeriveOrderStatus(o.Items, o.Status), actor, "", true, now)
		return &Change{Event: EventOrderStatusUpdate, PreviousStatus: prev, ItemID: itemID, ItemStatus: target}, nil
	})
}

func (s *orderService) RejectItem(ctx context.Context, actor models.Actor, orderID, itemID, reason string) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationError("a rejection reason is required")
	}

	return s.writer.apply(ctx, actor, orderID, func(o *models.Order, now time.Time) (*Change, error) {
		if o.Status.IsTerminal() {
			return nil, invalidTransition("order", string(o.Status), string(o.Status), nil)
		}
		it := o.FindItem(itemID)
		if it == nil {
			return nil, itemNotFound(orderID, itemID)
		}
		if err := checkItemTransition(actor, it.Status, models.ItemStatusRejected); err != nil {
			return nil, err
		}
		setItemStatus(o, it, models.ItemStatusRejected, actor, reason, now)
		RecalculateTotals(o, s.cfg.TaxRate)

		prev := o.Status
		derived := DeriveOrderStatus(o.Items, o.Status)
		setOrderStatus(o, derived, actor, reason, true, now)
		if derived == models.OrderStatusRejected {
			o.RejectionReason = reason
			return &Change{Event: EventOrderStatusUpdate, PreviousStatus: prev, ItemID: itemID, ItemStatus: models.ItemStatusRejected}, nil
		}

		var rejected []RejectedItem
		for _, item := range o.Items {
			if item.Status == models.ItemStatusRejected {
				rejected = append(rejected, RejectedItem{ItemID: item.ID, Name: item.Name, Reason: item.RejectionReason})
			}
		}
		return &Change{Event: EventOrderPartialRejection, PreviousStatus: prev, ItemID: itemID, ItemStatus: models.ItemStatusRejected, RejectedItems: rejected}, nil
	})
}
