package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/veyra-commerce/api/internal/domain"
	"github.com/veyra-commerce/api/internal/platform/auth"
	"github.com/veyra-commerce/api/internal/services"
	"github.com/veyra-commerce/api/internal/shipping"
)

type stubCheckout struct {
	out services.CreateOrderOutput
	err error
	in  services.CreateOrderInput
}

func (s *stubCheckout) CreateOrder(_ context.Context, input services.CreateOrderInput) (services.CreateOrderOutput, error) {
	s.in = input
	if s.err != nil {
		return services.CreateOrderOutput{}, s.err
	}
	return s.out, nil
}

type stubPaymentSvc struct {
	out services.VerifyPaymentOutput
	err error
}

func (s *stubPaymentSvc) VerifyPayment(_ context.Context, _ services.VerifyPaymentInput) (services.VerifyPaymentOutput, error) {
	if s.err != nil {
		return services.VerifyPaymentOutput{}, s.err
	}
	return s.out, nil
}

type stubOrderSvc struct {
	order      domain.Order
	orders     []domain.Order
	counts     map[domain.OrderStatus]int64
	tracking   shipping.TrackingResult
	err        error
	lastUserID string
	lastAdmin  bool
	lastStatus domain.OrderStatus
}

func (s *stubOrderSvc) Cancel(_ context.Context, _, userID string, admin bool) (domain.Order, error) {
	s.lastUserID = userID
	s.lastAdmin = admin
	return s.order, s.err
}

func (s *stubOrderSvc) UpdateStatus(_ context.Context, _ string, next domain.OrderStatus) (domain.Order, error) {
	s.lastStatus = next
	return s.order, s.err
}

func (s *stubOrderSvc) ListForUser(_ context.Context, userID string, _ int) ([]domain.Order, error) {
	s.lastUserID = userID
	return s.orders, s.err
}

func (s *stubOrderSvc) ListDelivered(_ context.Context, userID string, _ int) ([]domain.Order, error) {
	s.lastUserID = userID
	return s.orders, s.err
}

func (s *stubOrderSvc) ListReturns(_ context.Context, userID string, _ int) ([]domain.Order, error) {
	s.lastUserID = userID
	return s.orders, s.err
}

func (s *stubOrderSvc) ListExchanges(_ context.Context, userID string, _ int) ([]domain.Order, error) {
	s.lastUserID = userID
	return s.orders, s.err
}

func (s *stubOrderSvc) StatusCounts(_ context.Context, userID string) (map[domain.OrderStatus]int64, error) {
	s.lastUserID = userID
	return s.counts, s.err
}

func (s *stubOrderSvc) Track(_ context.Context, awbCode string) (shipping.TrackingResult, error) {
	result := s.tracking
	result.AWBCode = awbCode
	return result, s.err
}

type stubReturnSvc struct {
	order domain.Order
	err   error
}

func (s *stubReturnSvc) Return(_ context.Context, _ services.ReturnInput) (domain.Order, error) {
	return s.order, s.err
}

func (s *stubReturnSvc) Exchange(_ context.Context, _ services.ExchangeInput) (domain.Order, error) {
	return s.order, s.err
}

type handlerFixture struct {
	router   http.Handler
	verifier *auth.Verifier
	checkout *stubCheckout
	payments *stubPaymentSvc
	orders   *stubOrderSvc
	returns  *stubReturnSvc
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	verifier, err := auth.NewVerifier(auth.VerifierDeps{Secret: "test-secret", Issuer: "veyra-commerce"})
	if err != nil {
		t.Fatalf("NewVerifier error: %v", err)
	}
	f := &handlerFixture{
		verifier: verifier,
		checkout: &stubCheckout{},
		payments: &stubPaymentSvc{},
		orders:   &stubOrderSvc{},
		returns:  &stubReturnSvc{},
	}
	f.router = NewRouter(RouterDeps{
		Logger:   zap.NewNop(),
		Verifier: verifier,
		Orders:   NewOrderHandlers(f.checkout, f.payments, f.orders, f.returns),
	})
	return f
}

func (f *handlerFixture) token(t *testing.T, userID string, admin bool) string {
	t.Helper()
	token, err := f.verifier.Issue(auth.Principal{UserID: userID, Email: userID + "@example.com", Admin: admin}, time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	return token
}

func (f *handlerFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestOrderHandlers_CreateOrder(t *testing.T) {
	f := newHandlerFixture(t)
	f.checkout.out = services.CreateOrderOutput{
		Order:          domain.Order{ID: "ord_1", UserID: "user_1", TotalPrice: 90000},
		GatewayOrderID: "order_rzp_1",
	}

	rr := f.do(t, http.MethodPost, "/api/v1/orders/", f.token(t, "user_1", false), map[string]any{
		"cart":      []map[string]any{{"itemId": "itm_tee", "sku": "TEE-RED-M", "quantity": 1}},
		"promoCode": "SAVE10",
		"amount":    900.00,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if f.checkout.in.ClaimedAmount != 90000 {
		t.Fatalf("expected rupee amount converted to 90000 paise, got %d", f.checkout.in.ClaimedAmount)
	}
	if f.checkout.in.UserID != "user_1" {
		t.Fatalf("expected user from token, got %q", f.checkout.in.UserID)
	}
	body := decodeEnvelope(t, rr)
	if body["success"] != true {
		t.Fatalf("expected success envelope, got %v", body)
	}
}

func TestOrderHandlers_CreateOrder_AmountMismatch(t *testing.T) {
	f := newHandlerFixture(t)
	f.checkout.err = fmt.Errorf("%w: computed 90000, claimed 42", services.ErrAmountMismatch)

	rr := f.do(t, http.MethodPost, "/api/v1/orders/", f.token(t, "user_1", false), map[string]any{
		"cart":   []map[string]any{{"itemId": "itm_tee", "sku": "TEE-RED-M", "quantity": 1}},
		"amount": 0.42,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	body := decodeEnvelope(t, rr)
	if body["success"] != false {
		t.Fatalf("expected failure envelope, got %v", body)
	}
}

func TestOrderHandlers_RequiresAuth(t *testing.T) {
	f := newHandlerFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/orders/", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}

func TestOrderHandlers_VerifyPayment(t *testing.T) {
	f := newHandlerFixture(t)
	f.payments.out = services.VerifyPaymentOutput{
		Order: domain.Order{ID: "ord_1", PaymentStatus: domain.PaymentPaid},
	}

	rr := f.do(t, http.MethodPost, "/api/v1/orders/verify-payment", f.token(t, "user_1", false), map[string]any{
		"gatewayOrderId":   "order_rzp_1",
		"gatewayPaymentId": "pay_1",
		"signature":        "sig",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlers_VerifyPayment_InvalidSignature(t *testing.T) {
	f := newHandlerFixture(t)
	f.payments.err = fmt.Errorf("%w: signature verification failed", services.ErrInvalidInput)

	rr := f.do(t, http.MethodPost, "/api/v1/orders/verify-payment", f.token(t, "user_1", false), map[string]any{
		"gatewayOrderId": "order_rzp_1",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlers_Cancel_Forbidden(t *testing.T) {
	f := newHandlerFixture(t)
	f.orders.err = fmt.Errorf("%w: order ord_1 belongs to another user", services.ErrForbidden)

	rr := f.do(t, http.MethodPost, "/api/v1/orders/ord_1/cancel", f.token(t, "user_2", false), nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestOrderHandlers_Cancel_PassesPrincipal(t *testing.T) {
	f := newHandlerFixture(t)
	f.orders.order = domain.Order{ID: "ord_1", OrderStatus: domain.OrderCancelled}

	rr := f.do(t, http.MethodPost, "/api/v1/orders/ord_1/cancel", f.token(t, "user_1", false), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if f.orders.lastUserID != "user_1" || f.orders.lastAdmin {
		t.Fatalf("expected caller identity forwarded, got %q admin=%v", f.orders.lastUserID, f.orders.lastAdmin)
	}
}

func TestOrderHandlers_Return_NotDelivered(t *testing.T) {
	f := newHandlerFixture(t)
	f.returns.err = fmt.Errorf("%w: order has not been delivered", services.ErrInvalidInput)

	rr := f.do(t, http.MethodPost, "/api/v1/orders/ord_1/return", f.token(t, "user_1", false), map[string]any{
		"reason": "damaged",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlers_UpdateStatus_AdminOnly(t *testing.T) {
	f := newHandlerFixture(t)
	f.orders.order = domain.Order{ID: "ord_1", OrderStatus: domain.OrderShipped}

	rr := f.do(t, http.MethodPatch, "/api/v1/orders/ord_1/status", f.token(t, "user_1", false), map[string]any{
		"status": "Shipped",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPatch, "/api/v1/orders/ord_1/status", f.token(t, "admin_1", true), map[string]any{
		"status": "Shipped",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", rr.Code, rr.Body.String())
	}
	if f.orders.lastStatus != domain.OrderShipped {
		t.Fatalf("expected status Shipped forwarded, got %q", f.orders.lastStatus)
	}
}

func TestOrderHandlers_StatusCounts(t *testing.T) {
	f := newHandlerFixture(t)
	f.orders.counts = map[domain.OrderStatus]int64{domain.OrderDelivered: 3}

	rr := f.do(t, http.MethodGet, "/api/v1/orders/status-counts", f.token(t, "user_1", false), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeEnvelope(t, rr)
	data := body["data"].(map[string]any)
	counts := data["counts"].(map[string]any)
	if counts["Delivered"] != float64(3) {
		t.Fatalf("expected 3 delivered, got %v", counts)
	}
}

func TestOrderHandlers_Track(t *testing.T) {
	f := newHandlerFixture(t)
	f.orders.tracking = shipping.TrackingResult{CurrentStatus: "In Transit"}

	rr := f.do(t, http.MethodGet, "/api/v1/orders/track/AWB123", f.token(t, "user_1", false), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestOrderHandlers_ListEmptyIsArray(t *testing.T) {
	f := newHandlerFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/orders/", f.token(t, "user_1", false), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeEnvelope(t, rr)
	data := body["data"].(map[string]any)
	if _, ok := data["orders"].([]any); !ok {
		t.Fatalf("expected orders array, got %T", data["orders"])
	}
}

func TestHealthHandlers_Healthz(t *testing.T) {
	f := newHandlerFixture(t)

	rr := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeEnvelope(t, rr)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body)
	}
}
