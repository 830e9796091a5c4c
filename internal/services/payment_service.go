package services

import (
	"context"
	"strings"
	"time"

	"dinein_backend/internal/models"
	"dinein_backend/internal/payment"
	"dinein_backend/internal/repositories"
	"dinein_backend/pkg/utils"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultReferenceCacheSize bounds the card references remembered for de-duplication.
const DefaultReferenceCacheSize = 4096

// PaymentService owns the payment axis of an order. It never changes the
// fulfillment status.
type PaymentService interface {
	RequestCashPayment(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error)
	ConfirmCashPayment(ctx context.Context, actor models.Actor, orderID string, cash CashPayment) (*models.Order, error)
	// ConfirmCardPayment is safe to call repeatedly: an already paid order is returned unchanged.
	ConfirmCardPayment(ctx context.Context, actor models.Actor, orderID, reference string) (*models.Order, error)
	Refund(ctx context.Context, actor models.Actor, orderID, reason string) (*models.Order, error)
}

type paymentService struct {
	writer    *orderWriter
	processor payment.CardProcessor
	// references maps a confirmed card reference to the order it paid.
	references *lru.Cache[string, string]
}

// NewPaymentService creates a new instance of PaymentService.
func NewPaymentService(repo repositories.OrderRepository, notifier Notifier, processor payment.CardProcessor, referenceCacheSize int) (PaymentService, error) {
	if referenceCacheSize <= 0 {
		referenceCacheSize = DefaultReferenceCacheSize
	}
	refs, err := lru.New[string, string](referenceCacheSize)
	if err != nil {
		return nil, err
	}
	return &paymentService{
		writer:     newOrderWriter(repo, notifier),
		processor:  processor,
		references: refs,
	}, nil
}

func (s *paymentService) RequestCashPayment(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	return s.writer.apply(ctx, actor, orderID, func(o *models.Order, now time.Time) (*Change, error) {
		if o.Status == models.OrderStatusCancelled || o.Status == models.OrderStatusRejected {
			return nil, invalidTransition("order", string(o.Status), string(models.PaymentStatusPendingCash), nil)
		}
		if o.PaymentStatus == models.PaymentStatusPendingCash {
			if !hasRole(actor.Role, payers) {
				return nil, unauthorized(actor.Role, "request cash payment", payers)
			}
			return nil, nil
		}
		if err := checkPaymentTransition(actor, o.PaymentStatus, models.PaymentStatusPendingCash); err != nil {
			return nil, err
		}
		setPaymentStatus(o, models.PaymentStatusPendingCash, actor, "", now)
		if o.Payment == nil {
			o.Payment = &models.PaymentRecord{}
		}
		o.Payment.Method = models.PaymentMethodCash
		return &Change{Event: EventPaymentCashRequested, PreviousStatus: o.Status}, nil
	})
}

func (s *paymentService) ConfirmCashPayment(ctx context.Context, actor models.Actor, orderID string, cash CashPayment) (*models.Order, error) {
	if err := validateCash(cash); err != nil {
		return nil, err
	}
	return s.writer.apply(ctx, actor, orderID, func(o *models.Order, now time.Time) (*Change, error) {
		if err := checkPaymentTransition(actor, o.PaymentStatus, models.PaymentStatusPaid); err != nil {
			return nil, err
		}
		if err := recordCashPayment(o, actor, cash, now); err != nil {
			return nil, err
		}
		return &Change{Event: EventPaymentCompleted, PreviousStatus: o.Status}, nil
	})
}

func (s *paymentService) ConfirmCardPayment(ctx context.Context, actor models.Actor, orderID, reference string) (*models.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, validationError("a payment reference is required")
	}

	o, err := s.writer.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkScope(actor, o); err != nil {
		return nil, err
	}
	if o.PaymentStatus == models.PaymentStatusPaid {
		return o, nil
	}
	if err := cardPayable(o); err != nil {
		return nil, err
	}
	if owner, ok := s.references.Get(reference); ok && owner != orderID {
		return nil, validationError("payment reference %s was already applied to another order", reference)
	}

	receipt, verifyErr := s.processor.VerifyPayment(ctx, payment.Verification{OrderID: o.ID, Reference: reference, Amount: o.Total})
	if verifyErr != nil {
		s.recordCardFailure(ctx, actor, orderID, reference, verifyErr)
		return nil, upstreamPayment(reference, verifyErr)
	}

	updated, err := s.writer.apply(ctx, actor, orderID, func(o *models.Order, now time.Time) (*Change, error) {
		if o.PaymentStatus == models.PaymentStatusPaid {
			return nil, nil
		}
		if err := cardPayable(o); err != nil {
			return nil, err
		}
		setPaymentStatus(o, models.PaymentStatusPaid, actor, "", now)
		confirmedAt := receipt.CapturedAt
		if confirmedAt.IsZero() {
			confirmedAt = now
		}
		o.Payment = &models.PaymentRecord{
			Method:      models.PaymentMethodCard,
			Reference:   reference,
			ConfirmedBy: actor.Role,
			ConfirmedAt: &confirmedAt,
		}
		paidAt := now
		o.PaidAt = &paidAt
		return &Change{Event: EventPaymentCompleted, PreviousStatus: o.Status}, nil
	})
	if err != nil {
		return nil, err
	}
	s.references.Add(reference, orderID)
	return updated, nil
}

// recordCardFailure marks the payment failed so staff see the decline. Its
// own errors are logged, the caller already reports the upstream failure.
func (s *paymentService) recordCardFailure(ctx context.Context, actor models.Actor, orderID, reference string, cause error) {
	_, err := s.writer.apply(ctx, actor, orderID, func(o *models.Order, now time.Time) (*Change, error) {
		if o.PaymentStatus == models.PaymentStatusPaid || cardPayable(o) != nil {
			return nil, nil
		}
		// a waiter is on the way to collect cash; a declined card does not cancel that
		if o.PaymentStatus == models.PaymentStatusPendingCash {
			return nil, nil
		}
		setPaymentStatus(o, models.PaymentStatusFailed, actor, cause.Error(), now)
		o.Payment = &models.PaymentRecord{
			Method:        models.PaymentMethodCard,
			Reference:     reference,
			FailureReason: cause.Error(),
		}
		return &Change{Event: EventPaymentFailed, PreviousStatus: o.Status}, nil
	})
	if err != nil {
		utils.LogError(err, "Failed to record card payment failure", map[string]interface{}{"order_id": orderID, "reference": reference})
	}
}

func (s *paymentService) Refund(ctx context.Context, actor models.Actor, orderID, reason string) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationError("a refund reason is required")
	}
	return s.writer.apply(ctx, actor, orderID, func(o *models.Order, now time.Time) (*Change, error) {
		if err := checkPaymentTransition(actor, o.PaymentStatus, models.PaymentStatusRefunded); err != nil {
			return nil, err
		}
		setPaymentStatus(o, models.PaymentStatusRefunded, actor, reason, now)
		if o.Payment == nil {
			o.Payment = &models.PaymentRecord{}
		}
		refundedAt := now
		o.Payment.RefundReason = reason
		o.Payment.RefundedAt = &refundedAt
		return &Change{Event: EventPaymentRefunded, PreviousStatus: o.Status}, nil
	})
}

// cardPayable rejects card settlement for orders that can no longer be paid.
func cardPayable(o *models.Order) error {
	if o.PaymentStatus == models.PaymentStatusRefunded {
		return invalidTransition("payment", string(o.PaymentStatus), string(models.PaymentStatusPaid), nil)
	}
	if o.Status == models.OrderStatusCancelled || o.Status == models.OrderStatusRejected {
		return invalidTransition("order", string(o.Status), string(models.PaymentStatusPaid), nil)
	}
	return nil
}

func validateCash(cash CashPayment) error {
	if !cash.AmountReceived.IsPositive() {
		return validationError("amountReceived must be greater than zero")
	}
	if cash.TipAmount.IsNegative() {
		return validationError("tipAmount cannot be negative")
	}
	return nil
}

// recordCashPayment settles o in cash and marks it paid. The amount received
// must cover the total plus tip; the remainder is recorded as change due.
func recordCashPayment(o *models.Order, actor models.Actor, cash CashPayment, now time.Time) error {
	due := o.Total.Add(cash.TipAmount)
	if cash.AmountReceived.LessThan(due) {
		return validationError("amount received %s is less than total plus tip %s", cash.AmountReceived.StringFixed(2), due.StringFixed(2))
	}
	received := cash.AmountReceived
	tip := cash.TipAmount
	change := received.Sub(due)
	confirmedAt := now
	paidAt := now

	setPaymentStatus(o, models.PaymentStatusPaid, actor, "", now)
	o.Payment = &models.PaymentRecord{
		Method:         models.PaymentMethodCash,
		AmountReceived: &received,
		TipAmount:      &tip,
		ChangeDue:      &change,
		ConfirmedBy:    actor.Role,
		ConfirmedAt:    &confirmedAt,
	}
	o.PaidAt = &paidAt
	return nil
}
