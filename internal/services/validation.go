package services

import (
	"errors"
	"sort"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ModifierRequest is a selected menu option as priced by the cart.
type ModifierRequest struct {
	Name            string          `json:"name" validate:"required,max=100"`
	PriceAdjustment decimal.Decimal `json:"priceAdjustment"`
}

// CreateOrderItemRequest is one materialized cart line.
type CreateOrderItemRequest struct {
	MenuItemID          string            `json:"menuItemId" validate:"required"`
	Name                string            `json:"name" validate:"required,max=200"`
	UnitPrice           decimal.Decimal   `json:"unitPrice"`
	Quantity            int               `json:"quantity" validate:"required,min=1,max=100"`
	Modifiers           []ModifierRequest `json:"modifiers" validate:"omitempty,dive"`
	SpecialInstructions string            `json:"specialInstructions" validate:"max=500"`
}

// CreateOrderRequest is the cart handoff that opens (or extends) a table's order.
type CreateOrderRequest struct {
	RestaurantID string                   `json:"restaurantId" validate:"required"`
	TableID      string                   `json:"tableId" validate:"required"`
	CustomerID   *string                  `json:"customerId"`
	GuestName    *string                  `json:"guestName" validate:"omitempty,max=100"`
	Discount     decimal.Decimal          `json:"discount"`
	Items        []CreateOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

// NewValidator returns a validator with the money rules registered.
func NewValidator() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterStructValidation(createOrderItemStructValidation, CreateOrderItemRequest{})
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})
	return v
}

// createOrderItemStructValidation rejects negative prices, including a
// modifier discount larger than the base price.
func createOrderItemStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderItemRequest)
	if req.UnitPrice.IsNegative() {
		sl.ReportError(req.UnitPrice, "unitPrice", "UnitPrice", "non_negative", req.UnitPrice.String())
		return
	}
	unit := req.UnitPrice
	for _, m := range req.Modifiers {
		unit = unit.Add(m.PriceAdjustment)
	}
	if unit.IsNegative() {
		sl.ReportError(req.Modifiers, "modifiers", "Modifiers", "line_price_non_negative", unit.String())
	}
}

func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)
	if req.Discount.IsNegative() {
		sl.ReportError(req.Discount, "discount", "Discount", "non_negative", req.Discount.String())
	}
}

// validateStruct runs v and folds field errors into a ValidationError.
func validateStruct(v *validatorv10.Validate, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validatorv10.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return validationError("%v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Namespace()+" failed on "+fe.Tag())
	}
	sort.Strings(msgs)
	return validationError("%s", strings.Join(msgs, "; "))
}
