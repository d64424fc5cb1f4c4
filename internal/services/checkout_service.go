package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/veyra-commerce/api/internal/domain"
	"github.com/veyra-commerce/api/internal/payments"
	"github.com/veyra-commerce/api/internal/repositories"
)

// CreateOrderInput carries a validated-user cart into checkout. ClaimedAmount
// is the client-side total in minor units, checked against the server
// recomputation.
type CreateOrderInput struct {
	UserID          string
	Cart            []CartLine
	PromoCode       string
	ClaimedAmount   int64
	ShippingAddress domain.Address
}

// CreateOrderOutput returns the persisted order and the gateway order id the
// client needs to complete payment.
type CreateOrderOutput struct {
	Order          domain.Order
	GatewayOrderID string
}

// CheckoutServiceDeps collects the inputs required to construct a CheckoutService.
type CheckoutServiceDeps struct {
	Pricing *PricingEngine
	Orders  repositories.OrderRepository
	Gateway payments.Gateway
	Events  OrderEventPublisher
	IDGen   IDGenerator
	Clock   func() time.Time
	Logger  Logger
}

// CheckoutService turns a validated cart into a Pending order with a gateway
// order attached. Nothing external besides the gateway order is committed.
type CheckoutService struct {
	pricing *PricingEngine
	orders  repositories.OrderRepository
	gateway payments.Gateway
	events  OrderEventPublisher
	newID   IDGenerator
	now     func() time.Time
	logf    Logger
}

// NewCheckoutService constructs the service, validating its dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (*CheckoutService, error) {
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	events := deps.Events
	if events == nil {
		events = NopEventPublisher{}
	}
	newID := deps.IDGen
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = NewULIDGenerator(clock)
	}
	logf := deps.Logger
	if logf == nil {
		logf = NopLogger
	}
	return &CheckoutService{
		pricing: deps.Pricing,
		orders:  deps.Orders,
		gateway: deps.Gateway,
		events:  events,
		newID:   newID,
		now:     clock,
		logf:    logf,
	}, nil
}

// CreateOrder recomputes the cart total, rejects tampered amounts, opens a
// gateway order, and persists the Pending order before responding. The order
// document is the durable record of intent even if payment never completes.
func (s *CheckoutService) CreateOrder(ctx context.Context, input CreateOrderInput) (CreateOrderOutput, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return CreateOrderOutput{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	result, err := s.pricing.Price(ctx, input.Cart, input.PromoCode)
	if err != nil {
		return CreateOrderOutput{}, err
	}
	if err := s.pricing.CheckAmount(result, input.ClaimedAmount); err != nil {
		return CreateOrderOutput{}, err
	}

	receipt := s.newID("rcpt")
	gatewayOrder, err := s.gateway.CreateOrder(ctx, payments.CreateOrderRequest{
		Amount:  result.Total,
		Receipt: receipt,
	})
	if err != nil {
		s.logf(ctx, "checkout.gateway_order.failed", map[string]any{"error": err.Error()})
		return CreateOrderOutput{}, fmt.Errorf("%w: create gateway order: %v", ErrDownstream, err)
	}

	now := s.now().UTC()
	order := domain.Order{
		ID:              s.newID("ord"),
		UserID:          input.UserID,
		GatewayOrderID:  gatewayOrder.ID,
		Lines:           result.Lines,
		TotalPrice:      result.Total,
		ShippingFee:     result.ShippingFee,
		PromoCode:       result.PromoCode,
		PromoDiscount:   result.PromoDiscount,
		PaymentStatus:   domain.PaymentPending,
		OrderStatus:     domain.OrderPending,
		ShippingStatus:  domain.ShippingPending,
		ShippingAddress: input.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return CreateOrderOutput{}, err
	}

	s.logf(ctx, "checkout.order.created", map[string]any{
		"order_id":         order.ID,
		"gateway_order_id": order.GatewayOrderID,
		"total":            order.TotalPrice,
	})
	s.publish(ctx, OrderEvent{Type: EventOrderCreated, OrderID: order.ID, UserID: order.UserID, At: now})

	return CreateOrderOutput{Order: order, GatewayOrderID: gatewayOrder.ID}, nil
}

func (s *CheckoutService) publish(ctx context.Context, event OrderEvent) {
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logf(ctx, "checkout.event.publish_failed", map[string]any{
			"event":    event.Type,
			"order_id": event.OrderID,
			"error":    err.Error(),
		})
	}
}
