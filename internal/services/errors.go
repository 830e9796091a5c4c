package services

import (
	"errors"
	"fmt"
	"strings"

	"dinein_backend/internal/models"
)

// ErrorKind classifies failures returned by the order and payment services.
type ErrorKind string

const (
	KindValidation        ErrorKind = "ValidationError"
	KindNotFound          ErrorKind = "NotFound"
	KindUnauthorized      ErrorKind = "Unauthorized"
	KindInvalidTransition ErrorKind = "InvalidTransition"
	KindConflict          ErrorKind = "Conflict"
	KindPaymentRequired   ErrorKind = "PaymentRequired"
	KindUpstreamPayment   ErrorKind = "UpstreamPaymentError"
)

// Error carries enough state for a caller to render an actionable message.
type Error struct {
	Kind            ErrorKind
	Message         string
	CurrentStatus   string
	RequestedStatus string
	PaymentStatus   string
	AllowedNext     []string
	RequiredRoles   []models.Role
	Err             error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a service Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var svcErr *Error
	return errors.As(err, &svcErr) && svcErr.Kind == kind
}

func validationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func orderNotFound(orderID string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("order %s not found", orderID)}
}

func itemNotFound(orderID, itemID string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("item %s not found in order %s", itemID, orderID)}
}

func unauthorized(role models.Role, action string, required []models.Role) *Error {
	msg := fmt.Sprintf("role %q may not %s", role, action)
	if len(required) > 0 {
		names := make([]string, len(required))
		for i, r := range required {
			names[i] = string(r)
		}
		msg += "; required roles: " + strings.Join(names, ", ")
	}
	return &Error{Kind: KindUnauthorized, Message: msg, RequiredRoles: required}
}

func forbiddenOrder(orderID string) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf("order %s is not accessible to this session", orderID)}
}

func invalidTransition(subject, current, requested string, allowed []string) *Error {
	msg := fmt.Sprintf("%s cannot move from %s to %s", subject, current, requested)
	if len(allowed) == 0 {
		msg += " (no further transitions)"
	} else {
		msg += "; allowed: " + strings.Join(allowed, ", ")
	}
	return &Error{
		Kind:            KindInvalidTransition,
		Message:         msg,
		CurrentStatus:   current,
		RequestedStatus: requested,
		AllowedNext:     allowed,
	}
}

func conflict(orderID string, current *models.Order) *Error {
	e := &Error{Kind: KindConflict, Message: fmt.Sprintf("order %s was modified concurrently, retry with fresh state", orderID)}
	if current != nil {
		e.CurrentStatus = string(current.Status)
		e.PaymentStatus = string(current.PaymentStatus)
	}
	return e
}

func paymentRequired(o *models.Order) *Error {
	return &Error{
		Kind:            KindPaymentRequired,
		Message:         fmt.Sprintf("order %s cannot be completed while payment is %s", o.ID, o.PaymentStatus),
		CurrentStatus:   string(o.Status),
		RequestedStatus: string(models.OrderStatusCompleted),
		PaymentStatus:   string(o.PaymentStatus),
	}
}

func upstreamPayment(reference string, err error) *Error {
	return &Error{Kind: KindUpstreamPayment, Message: fmt.Sprintf("payment %s could not be verified", reference), Err: err}
}
