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

// ErrStockShortfall indicates verified payment could not be covered by stock.
// A compensating refund has been attempted by the time it is returned.
var ErrStockShortfall = errors.New("payment: insufficient stock")

// VerifyPaymentInput is the client-submitted payment confirmation.
type VerifyPaymentInput struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// VerifyPaymentOutput reports the updated order. AlreadyPaid is true when a
// previous verification already completed the saga.
type VerifyPaymentOutput struct {
	Order       domain.Order
	AlreadyPaid bool
}

// PaymentServiceDeps collects the inputs required to construct a PaymentService.
type PaymentServiceDeps struct {
	Orders  repositories.OrderRepository
	Catalog repositories.CatalogRepository
	Promos  repositories.PromoRepository
	Gateway payments.Gateway
	Courier shipping.Client
	Events  OrderEventPublisher
	Clock   func() time.Time
	Logger  Logger
}

// PaymentService reconciles a gateway payment confirmation into committed
// stock and a forward shipment. It is the only writer that flips an order to
// Paid.
type PaymentService struct {
	orders  repositories.OrderRepository
	catalog repositories.CatalogRepository
	promos  repositories.PromoRepository
	gateway payments.Gateway
	courier shipping.Client
	events  OrderEventPublisher
	now     func() time.Time
	logf    Logger
}

// NewPaymentService constructs the service, validating its dependencies.
func NewPaymentService(deps PaymentServiceDeps) (*PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("payment service: catalog repository is required")
	}
	if deps.Promos == nil {
		return nil, errors.New("payment service: promo repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: payment gateway is required")
	}
	if deps.Courier == nil {
		return nil, errors.New("payment service: courier client is required")
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
	return &PaymentService{
		orders:  deps.Orders,
		catalog: deps.Catalog,
		promos:  deps.Promos,
		gateway: deps.Gateway,
		courier: deps.Courier,
		events:  events,
		now:     clock,
		logf:    logf,
	}, nil
}

// VerifyPayment validates the confirmation signature, flips the order to Paid
// exactly once, commits stock for every line in one transaction, and creates
// the forward shipment. AWB assignment failure degrades rather than failing
// the verification: the customer has been charged and aborting would strand a
// paid order. Insufficient stock triggers a best-effort compensating refund.
func (s *PaymentService) VerifyPayment(ctx context.Context, input VerifyPaymentInput) (VerifyPaymentOutput, error) {
	if strings.TrimSpace(input.GatewayOrderID) == "" {
		return VerifyPaymentOutput{}, fmt.Errorf("%w: gateway order id is required", ErrInvalidInput)
	}

	order, err := s.orders.FindByGatewayOrderID(ctx, input.GatewayOrderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return VerifyPaymentOutput{}, fmt.Errorf("%w: order for gateway order %s", ErrNotFound, input.GatewayOrderID)
		}
		return VerifyPaymentOutput{}, err
	}

	if err := s.gateway.VerifySignature(payments.VerificationInput{
		GatewayOrderID:   input.GatewayOrderID,
		GatewayPaymentID: input.GatewayPaymentID,
		Signature:        input.Signature,
	}); err != nil {
		s.logf(ctx, "payment.signature.rejected", map[string]any{"order_id": order.ID})
		return VerifyPaymentOutput{}, fmt.Errorf("%w: signature verification failed", ErrInvalidInput)
	}

	now := s.now().UTC()
	marked, err := s.orders.MarkPaid(ctx, repositories.MarkPaidRequest{
		OrderID:          order.ID,
		GatewayPaymentID: input.GatewayPaymentID,
		GatewaySignature: input.Signature,
		PaidAt:           now,
	})
	if err != nil {
		return VerifyPaymentOutput{}, err
	}
	if !marked.Flipped {
		// A concurrent or earlier verification already committed stock and
		// created the shipment. Replays are acknowledged without side effects.
		s.logf(ctx, "payment.verify.replayed", map[string]any{"order_id": order.ID})
		return VerifyPaymentOutput{Order: marked.Order, AlreadyPaid: true}, nil
	}
	order = marked.Order

	if _, err := s.catalog.CommitStock(ctx, repositories.StockCommitRequest{Lines: order.Lines}); err != nil {
		if repositories.IsInsufficientStock(err) {
			s.compensateRefund(ctx, order)
			return VerifyPaymentOutput{}, fmt.Errorf("%w: %v", ErrStockShortfall, err)
		}
		return VerifyPaymentOutput{}, err
	}

	if order.PromoCode != "" {
		if err := s.promos.AdjustUsage(ctx, order.PromoCode, 1, now); err != nil {
			s.logf(ctx, "payment.promo.increment_failed", map[string]any{
				"order_id": order.ID,
				"promo":    order.PromoCode,
				"error":    err.Error(),
			})
		}
	}

	order = s.createForwardShipment(ctx, order)
	order.UpdatedAt = s.now().UTC()
	if err := s.orders.Update(ctx, order); err != nil {
		return VerifyPaymentOutput{}, err
	}

	s.logf(ctx, "payment.verified", map[string]any{"order_id": order.ID})
	s.publish(ctx, OrderEvent{Type: EventOrderPaid, OrderID: order.ID, UserID: order.UserID, At: now})
	return VerifyPaymentOutput{Order: order}, nil
}

// createForwardShipment creates the courier shipment and assigns an AWB.
// Failures degrade: the order stays paid with the failure recorded on the
// shipment block so an operator can recover it.
func (s *PaymentService) createForwardShipment(ctx context.Context, order domain.Order) domain.Order {
	dims, err := s.packageDimensions(ctx, order.Lines)
	if err != nil {
		s.logf(ctx, "payment.shipment.dimensions_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
		dims = shipping.ComputeDimensions(nil)
	}

	created, err := s.courier.CreateShipment(ctx, shipping.ShipmentRequest{
		OrderID:    order.ID,
		OrderDate:  order.CreatedAt.Format("2006-01-02"),
		Customer:   courierAddress(order.ShippingAddress),
		Items:      shipmentItems(order.Lines),
		Dimensions: dims,
		SubTotal:   order.TotalPrice,
	})
	if err != nil {
		s.logf(ctx, "payment.shipment.create_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
		return order
	}

	shipment := &domain.Shipment{
		ShipmentID:     created.ShipmentID,
		CourierOrderID: created.CourierOrderID,
	}
	awb, err := s.courier.AssignAWB(ctx, created.ShipmentID)
	if err != nil {
		awb = shipping.AWBResult{Assigned: false, FailureReason: err.Error()}
	}
	applyAWB(shipment, awb)
	if !awb.Assigned {
		s.logf(ctx, "payment.awb.failed", map[string]any{
			"order_id":    order.ID,
			"shipment_id": created.ShipmentID,
			"reason":      awb.FailureReason,
		})
	}
	order.Shipment = shipment
	return order
}

// compensateRefund attempts to return the captured payment after a stock
// failure. Refund failure is logged, not retried.
func (s *PaymentService) compensateRefund(ctx context.Context, order domain.Order) {
	if _, err := s.gateway.Refund(ctx, order.GatewayPaymentID, order.TotalPrice); err != nil {
		s.logf(ctx, "payment.compensating_refund.failed", map[string]any{
			"order_id": order.ID,
			"error":    err.Error(),
		})
		return
	}
	s.logf(ctx, "payment.compensating_refund.issued", map[string]any{"order_id": order.ID})
}

// packageDimensions folds catalog item dimensions into one parcel per order.
func (s *PaymentService) packageDimensions(ctx context.Context, lines []domain.OrderLine) (shipping.Dimensions, error) {
	parcels, err := parcelsForLines(ctx, s.catalog, lines)
	if err != nil {
		return shipping.Dimensions{}, err
	}
	return shipping.ComputeDimensions(parcels), nil
}

func (s *PaymentService) publish(ctx context.Context, event OrderEvent) {
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logf(ctx, "payment.event.publish_failed", map[string]any{
			"event":    event.Type,
			"order_id": event.OrderID,
			"error":    err.Error(),
		})
	}
}

func parcelsForLines(ctx context.Context, catalog repositories.CatalogRepository, lines []domain.OrderLine) ([]shipping.Parcel, error) {
	items := make(map[string]domain.Item)
	parcels := make([]shipping.Parcel, 0, len(lines))
	for _, line := range lines {
		item, ok := items[line.ItemID]
		if !ok {
			var err error
			item, err = catalog.GetItem(ctx, line.ItemID)
			if err != nil {
				return nil, err
			}
			items[line.ItemID] = item
		}
		parcels = append(parcels, shipping.Parcel{
			Length:  item.Length,
			Breadth: item.Breadth,
			Height:  item.Height,
			Weight:  item.Weight,
			Units:   line.Quantity,
		})
	}
	return parcels, nil
}

func shipmentItems(lines []domain.OrderLine) []shipping.ShipmentItem {
	items := make([]shipping.ShipmentItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, shipping.ShipmentItem{
			Name:      line.Name,
			SKU:       line.SKU,
			Units:     line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return items
}

func courierAddress(addr domain.Address) shipping.PartyAddress {
	return shipping.PartyAddress{
		Name:    addr.Name,
		Phone:   addr.Phone,
		Email:   addr.Email,
		Line1:   addr.Line1,
		Line2:   addr.Line2,
		City:    addr.City,
		State:   addr.State,
		Pincode: addr.Pincode,
		Country: addr.Country,
	}
}

func applyAWB(shipment *domain.Shipment, awb shipping.AWBResult) {
	if !awb.Assigned {
		shipment.AWBState = domain.AWBFailed
		shipment.AWBFailure = awb.FailureReason
		return
	}
	shipment.AWBState = domain.AWBAssigned
	shipment.AWBCode = awb.AWBCode
	shipment.CourierID = awb.CourierID
	shipment.CourierName = awb.CourierName
	shipment.TrackingURL = awb.TrackingURL
	shipment.FreightCharge = awb.FreightCharge
	shipment.ShippedBy = domain.ShipperSnapshot{
		Name:    awb.ShippedBy.Name,
		Address: awb.ShippedBy.Address,
		City:    awb.ShippedBy.City,
		State:   awb.ShippedBy.State,
		Pincode: awb.ShippedBy.Pincode,
		Phone:   awb.ShippedBy.Phone,
	}
}
