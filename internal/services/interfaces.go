package services

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrInvalidInput indicates a malformed or missing request field.
	ErrInvalidInput = errors.New("services: invalid input")
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("services: not found")
	// ErrForbidden indicates the caller does not own the referenced order.
	ErrForbidden = errors.New("services: forbidden")
	// ErrConflict indicates the operation clashes with the entity's current state.
	ErrConflict = errors.New("services: conflict")
	// ErrDownstream indicates a gateway or courier call failed.
	ErrDownstream = errors.New("services: downstream failure")
)

// Logger emits a structured service event. Implementations route to zap.
type Logger func(ctx context.Context, event string, fields map[string]any)

// NopLogger discards all events.
func NopLogger(context.Context, string, map[string]any) {}

// IDGenerator produces unique identifiers with the given prefix.
type IDGenerator func(prefix string) string

// NewULIDGenerator returns an IDGenerator backed by ULIDs.
func NewULIDGenerator(clock func() time.Time) IDGenerator {
	if clock == nil {
		clock = time.Now
	}
	return func(prefix string) string {
		id := ulid.MustNew(ulid.Timestamp(clock().UTC()), rand.Reader)
		if prefix == "" {
			return id.String()
		}
		return prefix + "_" + id.String()
	}
}

// OrderEvent is a lifecycle event emitted for downstream consumers.
type OrderEvent struct {
	Type    string    `json:"type"`
	OrderID string    `json:"orderId"`
	UserID  string    `json:"userId"`
	At      time.Time `json:"at"`
}

// Order lifecycle event types.
const (
	EventOrderCreated    = "order.created"
	EventOrderPaid       = "order.paid"
	EventOrderCancelled  = "order.cancelled"
	EventOrderReturned   = "order.return_requested"
	EventOrderExchanged  = "order.exchange_requested"
	EventOrderTransition = "order.status_changed"
)

// OrderEventPublisher publishes order lifecycle events.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// NopEventPublisher drops events, for deployments without Pub/Sub.
type NopEventPublisher struct{}

// PublishOrderEvent implements OrderEventPublisher.
func (NopEventPublisher) PublishOrderEvent(context.Context, OrderEvent) (string, error) {
	return "", nil
}
