package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCardDeclined is returned when the provider refuses the charge behind a reference.
var ErrCardDeclined = errors.New("card declined")

// Verification is what the core asks the provider to confirm.
type Verification struct {
	OrderID   string
	Reference string
	Amount    decimal.Decimal
}

// Receipt is the provider's confirmation of a captured card payment.
type Receipt struct {
	Reference  string
	Amount     decimal.Decimal
	CapturedAt time.Time
}

// CardProcessor verifies a card payment reference with the payment provider.
type CardProcessor interface {
	VerifyPayment(ctx context.Context, v Verification) (*Receipt, error)
}

// MockProcessor is a stand-in provider for local runs and tests.
// References prefixed with "decline_" are refused.
type MockProcessor struct {
	Latency time.Duration
}

// NewMockProcessor creates a mock provider that answers after latency.
func NewMockProcessor(latency time.Duration) *MockProcessor {
	return &MockProcessor{Latency: latency}
}

// VerifyPayment simulates the provider round-trip.
func (p *MockProcessor) VerifyPayment(ctx context.Context, v Verification) (*Receipt, error) {
	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return nil, fmt.Errorf("verifying payment %s: %w", v.Reference, ctx.Err())
		}
	}
	if strings.HasPrefix(v.Reference, "decline_") {
		return nil, fmt.Errorf("%w: insufficient funds (reference %s)", ErrCardDeclined, v.Reference)
	}
	return &Receipt{Reference: v.Reference, Amount: v.Amount, CapturedAt: time.Now().UTC()}, nil
}
