package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/veyra-commerce/api/internal/domain"
	"github.com/veyra-commerce/api/internal/repositories"
	"github.com/veyra-commerce/api/internal/shipping"
)

var paymentNow = time.Date(2025, time.April, 2, 9, 30, 0, 0, time.UTC)

func pendingOrder() domain.Order {
	return domain.Order{
		ID:             "ord_1",
		UserID:         "user_1",
		GatewayOrderID: "order_rzp_1",
		Lines: []domain.OrderLine{
			{ItemID: "itm_tee", SKU: "TEE-RED-M", Quantity: 2, DesiredSize: "M", UnitPrice: 100000, Name: "Crew Tee"},
		},
		TotalPrice:     205000,
		ShippingFee:    5000,
		PromoCode:      "SAVE10",
		PaymentStatus:  domain.PaymentPending,
		OrderStatus:    domain.OrderPending,
		ShippingStatus: domain.ShippingPending,
		ShippingAddress: domain.Address{
			Name: "Asha", Phone: "9999999999", Line1: "12 MG Road",
			City: "Bengaluru", State: "Karnataka", Pincode: "560001", Country: "India",
		},
		CreatedAt: paymentNow.Add(-time.Hour),
	}
}

func assignedAWB() shipping.AWBResult {
	return shipping.AWBResult{
		Assigned:    true,
		AWBCode:     "AWB123",
		CourierID:   "14",
		CourierName: "Delhivery",
		TrackingURL: "https://shiprocket.co/tracking/AWB123",
	}
}

type paymentFixture struct {
	svc     *PaymentService
	orders  *stubOrders
	catalog *stubCatalog
	promos  *stubPromos
	gateway *stubGateway
	courier *stubCourier
	events  *stubPublisher
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		orders:  newStubOrders(pendingOrder()),
		catalog: pricingCatalog(),
		promos:  newStubPromos(activePromo("SAVE10", domain.DiscountPercentage, 10)),
		gateway: &stubGateway{},
		courier: &stubCourier{
			shipment: shipping.ShipmentResult{ShipmentID: "ship_1", CourierOrderID: "sr_1"},
			awb:      assignedAWB(),
		},
		events: &stubPublisher{},
	}
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:  f.orders,
		Catalog: f.catalog,
		Promos:  f.promos,
		Gateway: f.gateway,
		Courier: f.courier,
		Events:  f.events,
		Clock:   fixedClock(paymentNow),
	})
	if err != nil {
		t.Fatalf("NewPaymentService error: %v", err)
	}
	f.svc = svc
	return f
}

func verifyInput() VerifyPaymentInput {
	return VerifyPaymentInput{
		GatewayOrderID:   "order_rzp_1",
		GatewayPaymentID: "pay_1",
		Signature:        "sig",
	}
}

func TestPaymentService_VerifyPayment_Success(t *testing.T) {
	f := newPaymentFixture(t)

	out, err := f.svc.VerifyPayment(context.Background(), verifyInput())
	if err != nil {
		t.Fatalf("VerifyPayment error: %v", err)
	}
	if out.AlreadyPaid {
		t.Fatalf("expected first verification, got replay")
	}
	order := out.Order
	if order.PaymentStatus != domain.PaymentPaid || order.OrderStatus != domain.OrderProcessing {
		t.Fatalf("expected Paid/Processing, got %s/%s", order.PaymentStatus, order.OrderStatus)
	}
	if order.PaidAt != paymentNow {
		t.Fatalf("expected paidAt %v, got %v", paymentNow, order.PaidAt)
	}
	if len(f.catalog.commits) != 1 {
		t.Fatalf("expected one stock commit, got %d", len(f.catalog.commits))
	}
	if got := f.promos.adjustments; len(got) != 1 || got[0].code != "SAVE10" || got[0].delta != 1 {
		t.Fatalf("expected promo usage +1, got %+v", got)
	}
	if order.Shipment == nil || order.Shipment.AWBCode != "AWB123" {
		t.Fatalf("expected shipment with awb, got %+v", order.Shipment)
	}
	if order.Shipment.AWBState != domain.AWBAssigned {
		t.Fatalf("expected awb assigned, got %s", order.Shipment.AWBState)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != EventOrderPaid {
		t.Fatalf("expected one order.paid event, got %+v", f.events.events)
	}
}

func TestPaymentService_VerifyPayment_ReplayIsAcknowledgedWithoutSideEffects(t *testing.T) {
	f := newPaymentFixture(t)

	if _, err := f.svc.VerifyPayment(context.Background(), verifyInput()); err != nil {
		t.Fatalf("first VerifyPayment error: %v", err)
	}
	out, err := f.svc.VerifyPayment(context.Background(), verifyInput())
	if err != nil {
		t.Fatalf("second VerifyPayment error: %v", err)
	}
	if !out.AlreadyPaid {
		t.Fatalf("expected AlreadyPaid on replay")
	}
	if len(f.catalog.commits) != 1 {
		t.Fatalf("expected stock committed exactly once, got %d", len(f.catalog.commits))
	}
	if len(f.promos.adjustments) != 1 {
		t.Fatalf("expected promo incremented exactly once, got %d", len(f.promos.adjustments))
	}
	if len(f.courier.shipments) != 1 {
		t.Fatalf("expected one shipment, got %d", len(f.courier.shipments))
	}
}

func TestPaymentService_VerifyPayment_TamperedSignature(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.verifyErr = errors.New("signature mismatch")

	_, err := f.svc.VerifyPayment(context.Background(), verifyInput())
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	stored, _ := f.orders.FindByID(context.Background(), "ord_1")
	if stored.PaymentStatus != domain.PaymentPending {
		t.Fatalf("expected order untouched, got %s", stored.PaymentStatus)
	}
	if len(f.catalog.commits) != 0 {
		t.Fatalf("expected no stock commit on bad signature")
	}
}

func TestPaymentService_VerifyPayment_InsufficientStockTriggersRefund(t *testing.T) {
	f := newPaymentFixture(t)
	f.catalog.commitErr = &repositories.InsufficientStockError{SKU: "TEE-RED-M", Requested: 2, Available: 1}

	_, err := f.svc.VerifyPayment(context.Background(), verifyInput())
	if !errors.Is(err, ErrStockShortfall) {
		t.Fatalf("expected ErrStockShortfall, got %v", err)
	}
	if len(f.gateway.refunds) != 1 {
		t.Fatalf("expected one compensating refund, got %d", len(f.gateway.refunds))
	}
	if f.gateway.refunds[0].amount != 205000 {
		t.Fatalf("expected full refund of 205000, got %d", f.gateway.refunds[0].amount)
	}
	if len(f.courier.shipments) != 0 {
		t.Fatalf("expected no shipment after stock failure")
	}
}

func TestPaymentService_VerifyPayment_AWBFailureDegrades(t *testing.T) {
	f := newPaymentFixture(t)
	f.courier.awb = shipping.AWBResult{Assigned: false, FailureReason: "no couriers serviceable"}

	out, err := f.svc.VerifyPayment(context.Background(), verifyInput())
	if err != nil {
		t.Fatalf("VerifyPayment error: %v", err)
	}
	if out.Order.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("expected order to stay paid, got %s", out.Order.PaymentStatus)
	}
	shipment := out.Order.Shipment
	if shipment == nil || shipment.AWBState != domain.AWBFailed {
		t.Fatalf("expected degraded shipment with failed awb, got %+v", shipment)
	}
	if shipment.AWBFailure != "no couriers serviceable" {
		t.Fatalf("expected failure reason recorded, got %q", shipment.AWBFailure)
	}
}

func TestPaymentService_VerifyPayment_ShipmentFailureKeepsOrderPaid(t *testing.T) {
	f := newPaymentFixture(t)
	f.courier.shipmentErr = errStubDown

	out, err := f.svc.VerifyPayment(context.Background(), verifyInput())
	if err != nil {
		t.Fatalf("VerifyPayment error: %v", err)
	}
	if out.Order.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("expected order to stay paid, got %s", out.Order.PaymentStatus)
	}
	if out.Order.Shipment != nil {
		t.Fatalf("expected no shipment block, got %+v", out.Order.Shipment)
	}
}

func TestPaymentService_VerifyPayment_UnknownGatewayOrder(t *testing.T) {
	f := newPaymentFixture(t)

	input := verifyInput()
	input.GatewayOrderID = "order_rzp_ghost"
	_, err := f.svc.VerifyPayment(context.Background(), input)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
