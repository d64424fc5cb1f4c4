package payments

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrGatewayUnavailable indicates the gateway call failed at the transport level.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrGatewayRejected indicates the gateway returned a non-success payload.
	ErrGatewayRejected = errors.New("payments: gateway rejected request")
	// ErrSignatureMismatch indicates the payment confirmation failed HMAC verification.
	ErrSignatureMismatch = errors.New("payments: signature mismatch")
)

// CreateOrderRequest asks the gateway to open an order for collection.
// Amount is in minor currency units.
type CreateOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
}

// GatewayOrder is the gateway's durable record of payment intent.
type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
	Status   string
}

// VerificationInput carries the client-submitted payment confirmation.
type VerificationInput struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// RefundResult reports the gateway's refund acknowledgement.
type RefundResult struct {
	ID     string
	Amount int64
	Status string
}

// Gateway abstracts the payment provider. Implementations treat the gateway
// as the source of truth for money received.
type Gateway interface {
	// CreateOrder opens a gateway order; the receipt makes retries idempotent.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error)
	// VerifySignature checks the confirmation HMAC locally. It mutates no state.
	VerifySignature(input VerificationInput) error
	// Refund returns the captured amount (minor units) to the customer.
	Refund(ctx context.Context, paymentID string, amount int64) (RefundResult, error)
}

// DownstreamError wraps a gateway HTTP failure with its status code.
type DownstreamError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *DownstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("payments: %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("payments: %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes the sentinel category for errors.Is checks.
func (e *DownstreamError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrGatewayRejected
}
