package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/veyra-commerce/api/internal/domain"
	"github.com/veyra-commerce/api/internal/payments"
	"github.com/veyra-commerce/api/internal/repositories"
	"github.com/veyra-commerce/api/internal/shipping"
)

// returnWindow bounds how long after order creation a return or exchange
// may be initiated.
const returnWindow = 30 * 24 * time.Hour

// maxSupportingImages caps customer-attached evidence per request.
const maxSupportingImages = 3

// ReturnInput starts a return for a delivered order.
type ReturnInput struct {
	OrderID string
	UserID  string
	Reason  string
	Images  []string
}

// ExchangeInput starts an exchange: the original items go back, a replacement
// item ships out.
type ExchangeInput struct {
	OrderID     string
	UserID      string
	Reason      string
	NewItemID   string
	DesiredSize string
	Images      []string
}

// ReturnServiceDeps collects the inputs required to construct a ReturnService.
type ReturnServiceDeps struct {
	Orders    repositories.OrderRepository
	Catalog   repositories.CatalogRepository
	Promos    repositories.PromoRepository
	Counters  repositories.CounterRepository
	Gateway   payments.Gateway
	Courier   shipping.Client
	Events    OrderEventPublisher
	Warehouse shipping.PartyAddress
	Clock     func() time.Time
	Logger    Logger
}

// ReturnService orchestrates the return and exchange sub-sagas. Both share
// one eligibility gate; neither touches the aggregator until the gate passes.
type ReturnService struct {
	orders    repositories.OrderRepository
	catalog   repositories.CatalogRepository
	promos    repositories.PromoRepository
	counters  repositories.CounterRepository
	gateway   payments.Gateway
	courier   shipping.Client
	events    OrderEventPublisher
	warehouse shipping.PartyAddress
	sanitizer *bluemonday.Policy
	now       func() time.Time
	logf      Logger
}

// NewReturnService constructs the service, validating its dependencies.
func NewReturnService(deps ReturnServiceDeps) (*ReturnService, error) {
	if deps.Orders == nil {
		return nil, errors.New("return service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("return service: catalog repository is required")
	}
	if deps.Promos == nil {
		return nil, errors.New("return service: promo repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("return service: counter repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("return service: payment gateway is required")
	}
	if deps.Courier == nil {
		return nil, errors.New("return service: courier client is required")
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
	return &ReturnService{
		orders:    deps.Orders,
		catalog:   deps.Catalog,
		promos:    deps.Promos,
		counters:  deps.Counters,
		gateway:   deps.Gateway,
		courier:   deps.Courier,
		events:    events,
		warehouse: deps.Warehouse,
		sanitizer: bluemonday.StrictPolicy(),
		now:       clock,
		logf:      logf,
	}, nil
}

// Return creates the return leg with the aggregator, refunds the payment when
// the order was paid, releases the promo usage slot, and records the refund
// sub-document with an operator-facing RMA number.
func (s *ReturnService) Return(ctx context.Context, input ReturnInput) (domain.Order, error) {
	order, err := s.eligibleOrder(ctx, input.OrderID, input.UserID, input.Images)
	if err != nil {
		return domain.Order{}, err
	}
	reason, err := s.cleanReason(input.Reason)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now().UTC()
	rma, err := s.nextRMA(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	dims, err := s.legDimensions(ctx, order.Lines)
	if err != nil {
		return domain.Order{}, err
	}
	created, err := s.courier.CreateReturn(ctx, shipping.ReturnRequest{
		OrderID:    order.ID,
		OrderDate:  now.Format("2006-01-02"),
		Customer:   courierAddress(order.ShippingAddress),
		Warehouse:  s.warehouse,
		Items:      shipmentItems(order.Lines),
		Dimensions: dims,
	})
	if err != nil {
		s.logf(ctx, "return.shipment.create_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
		return domain.Order{}, fmt.Errorf("%w: return shipment rejected: %v", ErrDownstream, err)
	}

	refund := &domain.Refund{
		RequestedAt:      now,
		Status:           domain.RefundRequested,
		RMANumber:        rma,
		Amount:           order.TotalPrice,
		Reason:           reason,
		ReturnShipmentID: created.ShipmentID,
		Images:           input.Images,
	}

	awb, err := s.courier.AssignAWB(ctx, created.ShipmentID)
	if err != nil {
		awb = shipping.AWBResult{Assigned: false, FailureReason: err.Error()}
	}
	if awb.Assigned {
		refund.ReturnAWBCode = awb.AWBCode
		refund.ReturnTrackingURL = awb.TrackingURL
	} else {
		s.logf(ctx, "return.awb.failed", map[string]any{
			"order_id":    order.ID,
			"shipment_id": created.ShipmentID,
			"reason":      awb.FailureReason,
		})
	}

	if order.PaymentStatus == domain.PaymentPaid {
		result, err := s.gateway.Refund(ctx, order.GatewayPaymentID, order.TotalPrice)
		if err != nil {
			refund.Status = domain.RefundFailed
			s.logf(ctx, "return.refund.failed", map[string]any{"order_id": order.ID, "error": err.Error()})
		} else {
			refund.Status = domain.RefundProcessed
			refund.GatewayRefundID = result.ID
		}
	}

	s.releasePromoUsage(ctx, order, now)

	order.Refund = refund
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.logf(ctx, "return.created", map[string]any{"order_id": order.ID, "rma": rma})
	s.publish(ctx, OrderEvent{Type: EventOrderReturned, OrderID: order.ID, UserID: order.UserID, At: now})
	return order, nil
}

// Exchange creates the paired return and forward shipments in one aggregator
// call, assigns an AWB to each leg independently, and records the exchange
// sub-document. No monetary refund is issued.
func (s *ReturnService) Exchange(ctx context.Context, input ExchangeInput) (domain.Order, error) {
	order, err := s.eligibleOrder(ctx, input.OrderID, input.UserID, input.Images)
	if err != nil {
		return domain.Order{}, err
	}
	reason, err := s.cleanReason(input.Reason)
	if err != nil {
		return domain.Order{}, err
	}
	replacement, err := s.replacementLine(ctx, input.NewItemID, input.DesiredSize)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now().UTC()
	rma, err := s.nextRMA(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	returnDims, err := s.legDimensions(ctx, order.Lines)
	if err != nil {
		return domain.Order{}, err
	}
	forwardDims, err := s.legDimensions(ctx, []domain.OrderLine{replacement})
	if err != nil {
		return domain.Order{}, err
	}

	created, err := s.courier.CreateExchange(ctx, shipping.ExchangeRequest{
		OrderID:          order.ID,
		OrderDate:        now.Format("2006-01-02"),
		Customer:         courierAddress(order.ShippingAddress),
		Warehouse:        s.warehouse,
		ReturnItems:      shipmentItems(order.Lines),
		ReturnDimensions: returnDims,
		ForwardItems:     shipmentItems([]domain.OrderLine{replacement}),
		ForwardDims:      forwardDims,
	})
	if err != nil {
		s.logf(ctx, "exchange.shipment.create_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
		return domain.Order{}, fmt.Errorf("%w: exchange shipment rejected: %v", ErrDownstream, err)
	}

	exchange := &domain.Exchange{
		RequestedAt:       now,
		Status:            "Requested",
		RMANumber:         rma,
		Reason:            reason,
		NewItemID:         input.NewItemID,
		DesiredSize:       input.DesiredSize,
		ReturnShipmentID:  created.ReturnShipmentID,
		ForwardShipmentID: created.ForwardShipmentID,
		Images:            input.Images,
	}

	// Each leg gets its own label. One leg failing does not discard the
	// other leg's assignment.
	if awb := s.assignLegAWB(ctx, order.ID, "return", created.ReturnShipmentID); awb.Assigned {
		exchange.ReturnAWBCode = awb.AWBCode
		exchange.ReturnTrackingURL = awb.TrackingURL
	}
	if awb := s.assignLegAWB(ctx, order.ID, "forward", created.ForwardShipmentID); awb.Assigned {
		exchange.ForwardAWBCode = awb.AWBCode
		exchange.ForwardTrackingURL = awb.TrackingURL
	}

	s.releasePromoUsage(ctx, order, now)

	order.Exchange = exchange
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.logf(ctx, "exchange.created", map[string]any{"order_id": order.ID, "rma": rma, "new_item": input.NewItemID})
	s.publish(ctx, OrderEvent{Type: EventOrderExchanged, OrderID: order.ID, UserID: order.UserID, At: now})
	return order, nil
}

// eligibleOrder enforces the shared gate: ownership, delivered shipment,
// request inside the window, bounded image count, and no prior sub-saga.
func (s *ReturnService) eligibleOrder(ctx context.Context, orderID, userID string, images []string) (domain.Order, error) {
	if len(images) > maxSupportingImages {
		return domain.Order{}, fmt.Errorf("%w: at most %d supporting images", ErrInvalidInput, maxSupportingImages)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Order{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, fmt.Errorf("%w: order %s belongs to another user", ErrForbidden, orderID)
	}
	if order.ShippingStatus != domain.ShippingDelivered {
		return domain.Order{}, fmt.Errorf("%w: order has not been delivered", ErrInvalidInput)
	}
	if s.now().UTC().Sub(order.CreatedAt) > returnWindow {
		return domain.Order{}, fmt.Errorf("%w: return period expired", ErrInvalidInput)
	}
	if order.HasActiveReturn() || order.HasActiveExchange() {
		return domain.Order{}, fmt.Errorf("%w: a return or exchange already exists for this order", ErrConflict)
	}
	return order, nil
}

// cleanReason strips any markup from the customer-supplied reason.
func (s *ReturnService) cleanReason(reason string) (string, error) {
	cleaned := strings.TrimSpace(s.sanitizer.Sanitize(reason))
	if cleaned == "" {
		return "", fmt.Errorf("%w: a reason is required", ErrInvalidInput)
	}
	return cleaned, nil
}

// replacementLine resolves and validates the exchange target SKU.
func (s *ReturnService) replacementLine(ctx context.Context, itemID, desiredSize string) (domain.OrderLine, error) {
	if strings.TrimSpace(itemID) == "" || strings.TrimSpace(desiredSize) == "" {
		return domain.OrderLine{}, fmt.Errorf("%w: replacement item and size are required", ErrInvalidInput)
	}
	item, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.OrderLine{}, fmt.Errorf("%w: item %s", ErrNotFound, itemID)
		}
		return domain.OrderLine{}, err
	}
	details, err := s.catalog.GetItemDetails(ctx, itemID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.OrderLine{}, fmt.Errorf("%w: item %s has no variants", ErrNotFound, itemID)
		}
		return domain.OrderLine{}, err
	}
	for _, color := range details.Colors {
		for _, size := range color.Sizes {
			if size.Size != desiredSize {
				continue
			}
			if size.Stock < 1 {
				return domain.OrderLine{}, fmt.Errorf("%w: size %s is out of stock", ErrConflict, desiredSize)
			}
			return domain.OrderLine{
				ItemID:      itemID,
				SKU:         size.SKU,
				Quantity:    1,
				DesiredSize: desiredSize,
				UnitPrice:   item.Price,
				Name:        item.Name,
			}, nil
		}
	}
	return domain.OrderLine{}, fmt.Errorf("%w: size %s not available for item %s", ErrInvalidInput, desiredSize, itemID)
}

func (s *ReturnService) nextRMA(ctx context.Context) (string, error) {
	seq, err := s.counters.Next(ctx, "rma")
	if err != nil {
		return "", fmt.Errorf("allocate rma number: %w", err)
	}
	return fmt.Sprintf("RMA-%06d", seq), nil
}

func (s *ReturnService) legDimensions(ctx context.Context, lines []domain.OrderLine) (shipping.Dimensions, error) {
	parcels, err := parcelsForLines(ctx, s.catalog, lines)
	if err != nil {
		return shipping.Dimensions{}, err
	}
	return shipping.ComputeDimensions(parcels), nil
}

func (s *ReturnService) assignLegAWB(ctx context.Context, orderID, leg, shipmentID string) shipping.AWBResult {
	awb, err := s.courier.AssignAWB(ctx, shipmentID)
	if err != nil {
		awb = shipping.AWBResult{Assigned: false, FailureReason: err.Error()}
	}
	if !awb.Assigned {
		s.logf(ctx, "exchange.awb.failed", map[string]any{
			"order_id":    orderID,
			"leg":         leg,
			"shipment_id": shipmentID,
			"reason":      awb.FailureReason,
		})
	}
	return awb
}

func (s *ReturnService) releasePromoUsage(ctx context.Context, order domain.Order, now time.Time) {
	if order.PromoCode == "" {
		return
	}
	if err := s.promos.AdjustUsage(ctx, order.PromoCode, -1, now); err != nil {
		s.logf(ctx, "return.promo.decrement_failed", map[string]any{
			"order_id": order.ID,
			"promo":    order.PromoCode,
			"error":    err.Error(),
		})
	}
}

func (s *ReturnService) publish(ctx context.Context, event OrderEvent) {
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logf(ctx, "return.event.publish_failed", map[string]any{
			"event":    event.Type,
			"order_id": event.OrderID,
			"error":    err.Error(),
		})
	}
}
