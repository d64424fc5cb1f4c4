//go:build integration

package firestore

import (
	"context"
	"testing"
	"time"

	"github.com/veyra-commerce/api/internal/domain"
	"github.com/veyra-commerce/api/internal/repositories"
)

func TestOrderRepositoryIntegration_MarkPaid(t *testing.T) {
	provider := setupEmulator(t, "orders-test")
	repo := NewOrderRepository(provider)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	order := domain.Order{
		ID:             "ord_test_1",
		UserID:         "user_1",
		GatewayOrderID: "order_rzp_1",
		Lines: []domain.OrderLine{
			{ItemID: "itm_tee", SKU: "TEE-RED-M", Quantity: 1, UnitPrice: 100000, Name: "Crew Tee"},
		},
		TotalPrice:     100000,
		PaymentStatus:  domain.PaymentPending,
		OrderStatus:    domain.OrderPending,
		ShippingStatus: domain.ShippingPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repo.Insert(ctx, order); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	paidAt := now.Add(time.Minute)
	result, err := repo.MarkPaid(ctx, repositories.MarkPaidRequest{
		OrderID:          order.ID,
		GatewayPaymentID: "pay_1",
		GatewaySignature: "sig_1",
		PaidAt:           paidAt,
	})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if !result.Flipped {
		t.Fatalf("first verification must flip the order")
	}
	if result.Order.PaymentStatus != domain.PaymentPaid || result.Order.OrderStatus != domain.OrderProcessing {
		t.Fatalf("unexpected statuses after flip: %s/%s", result.Order.PaymentStatus, result.Order.OrderStatus)
	}

	// A replayed verification must win nothing and mutate nothing.
	replay, err := repo.MarkPaid(ctx, repositories.MarkPaidRequest{
		OrderID:          order.ID,
		GatewayPaymentID: "pay_2",
		GatewaySignature: "sig_2",
		PaidAt:           paidAt.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("replayed mark paid: %v", err)
	}
	if replay.Flipped {
		t.Fatalf("replay must not flip an already paid order")
	}
	if replay.Order.GatewayPaymentID != "pay_1" {
		t.Fatalf("replay must keep the winning payment id, got %s", replay.Order.GatewayPaymentID)
	}

	stored, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if stored.GatewayPaymentID != "pay_1" || stored.GatewaySignature != "sig_1" {
		t.Fatalf("stored order carries replay fields: %+v", stored)
	}
	if !stored.PaidAt.Equal(paidAt) {
		t.Fatalf("expected paidAt %v, got %v", paidAt, stored.PaidAt)
	}
}
