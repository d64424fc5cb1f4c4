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
	"github.com/veyra-commerce/api/internal/shipping"
)

// OrderServiceDeps collects the inputs required to construct an OrderService.
type OrderServiceDeps struct {
	Orders  repositories.OrderRepository
	Promos  repositories.PromoRepository
	Gateway payments.Gateway
	Courier shipping.Client
	Events  OrderEventPublisher
	Clock   func() time.Time
	Logger  Logger
}

// OrderService is the single writer for order status fields outside payment
// verification. Transitions only move forward.
type OrderService struct {
	orders  repositories.OrderRepository
	promos  repositories.PromoRepository
	gateway payments.Gateway
	courier shipping.Client
	events  OrderEventPublisher
	now     func() time.Time
	logf    Logger
}

// NewOrderService constructs the service, validating its dependencies.
func NewOrderService(deps OrderServiceDeps) (*OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Promos == nil {
		return nil, errors.New("order service: promo repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}
	if deps.Courier == nil {
		return nil, errors.New("order service: courier client is required")
	}
	events := deps.Events
	if events == nil {
		events = NopEventPublisher{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logf := deps.Logger
	if logf == nil {
		logf = NopLogger
	}
	return &OrderService{
		orders:  deps.Orders,
		promos:  deps.Promos,
		gateway: deps.Gateway,
		courier: deps.Courier,
		events:  events,
		now:     clock,
		logf:    logf,
	}, nil
}

// loadOwned fetches the order and enforces ownership unless admin.
func (s *OrderService) loadOwned(ctx context.Context, orderID, userID string, admin bool) (domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Order{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return domain.Order{}, err
	}
	if !admin && order.UserID != userID {
		return domain.Order{}, fmt.Errorf("%w: order %s belongs to another user", ErrForbidden, orderID)
	}
	return order, nil
}

// Cancel tears an order down in dependency order: the courier order first
// (hard failure if rejected), then a full refund when Paid (hard failure if
// rejected), then promo usage, then the status flip. Cancellation is refused
// once the shipment has been delivered.
func (s *OrderService) Cancel(ctx context.Context, orderID, userID string, admin bool) (domain.Order, error) {
	order, err := s.loadOwned(ctx, orderID, userID, admin)
	if err != nil {
		return domain.Order{}, err
	}
	if order.ShippingStatus == domain.ShippingDelivered {
		return domain.Order{}, fmt.Errorf("%w: delivered orders cannot be cancelled", ErrConflict)
	}
	if order.OrderStatus == domain.OrderCancelled {
		return domain.Order{}, fmt.Errorf("%w: order already cancelled", ErrConflict)
	}

	if order.Shipment != nil && order.Shipment.CourierOrderID != "" {
		if err := s.courier.CancelOrders(ctx, []string{order.Shipment.CourierOrderID}); err != nil {
			s.logf(ctx, "order.cancel.courier_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
			return domain.Order{}, fmt.Errorf("%w: courier cancellation rejected: %v", ErrDownstream, err)
		}
	}

	if order.PaymentStatus == domain.PaymentPaid {
		if _, err := s.gateway.Refund(ctx, order.GatewayPaymentID, order.TotalPrice); err != nil {
			s.logf(ctx, "order.cancel.refund_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
			return domain.Order{}, fmt.Errorf("%w: refund rejected: %v", ErrDownstream, err)
		}
	}

	now := s.now().UTC()
	s.releasePromoUsage(ctx, order, now)

	order.OrderStatus = domain.OrderCancelled
	order.ShippingStatus = domain.ShippingCancelled
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.logf(ctx, "order.cancelled", map[string]any{"order_id": order.ID})
	s.publish(ctx, OrderEvent{Type: EventOrderCancelled, OrderID: order.ID, UserID: order.UserID, At: now})
	return order, nil
}

// releasePromoUsage returns a usage slot to the promo. Best effort: the code
// may have been deactivated or deleted since the order used it.
func (s *OrderService) releasePromoUsage(ctx context.Context, order domain.Order, now time.Time) {
	if order.PromoCode == "" {
		return
	}
	if err := s.promos.AdjustUsage(ctx, order.PromoCode, -1, now); err != nil {
		s.logf(ctx, "order.promo.decrement_failed", map[string]any{
			"order_id": order.ID,
			"promo":    order.PromoCode,
			"error":    err.Error(),
		})
	}
}

// UpdateStatus applies an admin-driven forward transition to the fulfilment
// status, keeping the shipping status in step for Shipped and Delivered.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Order{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return domain.Order{}, err
	}
	if next == domain.OrderCancelled {
		return domain.Order{}, fmt.Errorf("%w: use the cancel operation", ErrInvalidInput)
	}
	if !domain.CanTransitionOrderStatus(order.OrderStatus, next) {
		return domain.Order{}, fmt.Errorf("%w: cannot move order from %s to %s", ErrConflict, order.OrderStatus, next)
	}

	now := s.now().UTC()
	order.OrderStatus = next
	switch next {
	case domain.OrderShipped:
		order.ShippingStatus = domain.ShippingShipped
	case domain.OrderDelivered:
		order.ShippingStatus = domain.ShippingDelivered
		order.DeliveredAt = now
	}
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.logf(ctx, "order.status.updated", map[string]any{"order_id": order.ID, "status": string(next)})
	s.publish(ctx, OrderEvent{Type: EventOrderTransition, OrderID: order.ID, UserID: order.UserID, At: now})
	return order, nil
}

// ListForUser returns the caller's orders, newest first.
func (s *OrderService) ListForUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.orders.List(ctx, repositories.OrderListFilter{UserID: userID, Limit: limit})
}

// ListDelivered returns the caller's delivered orders.
func (s *OrderService) ListDelivered(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	return s.orders.List(ctx, repositories.OrderListFilter{
		UserID:      userID,
		OrderStatus: domain.OrderDelivered,
		Limit:       limit,
	})
}

// ListReturns returns orders with an active return sub-document.
func (s *OrderService) ListReturns(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	return s.orders.List(ctx, repositories.OrderListFilter{UserID: userID, HasReturn: true, Limit: limit})
}

// ListExchanges returns orders with an active exchange sub-document.
func (s *OrderService) ListExchanges(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	return s.orders.List(ctx, repositories.OrderListFilter{UserID: userID, HasExchange: true, Limit: limit})
}

// StatusCounts aggregates the caller's orders per fulfilment status.
func (s *OrderService) StatusCounts(ctx context.Context, userID string) (map[domain.OrderStatus]int64, error) {
	return s.orders.StatusCounts(ctx, userID)
}

// Track proxies the courier aggregator's tracking data for an AWB.
func (s *OrderService) Track(ctx context.Context, awbCode string) (shipping.TrackingResult, error) {
	if strings.TrimSpace(awbCode) == "" {
		return shipping.TrackingResult{}, fmt.Errorf("%w: awb code is required", ErrInvalidInput)
	}
	result, err := s.courier.Track(ctx, awbCode)
	if err != nil {
		return shipping.TrackingResult{}, fmt.Errorf("%w: track %s: %v", ErrDownstream, awbCode, err)
	}
	return result, nil
}

func (s *OrderService) publish(ctx context.Context, event OrderEvent) {
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logf(ctx, "order.event.publish_failed", map[string]any{
			"event":    event.Type,
			"order_id": event.OrderID,
			"error":    err.Error(),
		})
	}
}
