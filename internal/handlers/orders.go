package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/veyra-commerce/api/internal/domain"
	"github.com/veyra-commerce/api/internal/platform/auth"
	"github.com/veyra-commerce/api/internal/platform/httpx"
	"github.com/veyra-commerce/api/internal/services"
	"github.com/veyra-commerce/api/internal/shipping"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// CheckoutService is the slice of the checkout layer the handlers consume.
type CheckoutService interface {
	CreateOrder(ctx context.Context, input services.CreateOrderInput) (services.CreateOrderOutput, error)
}

// PaymentService verifies gateway payment confirmations.
type PaymentService interface {
	VerifyPayment(ctx context.Context, input services.VerifyPaymentInput) (services.VerifyPaymentOutput, error)
}

// OrderService covers lifecycle operations and order queries.
type OrderService interface {
	Cancel(ctx context.Context, orderID, userID string, admin bool) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	ListDelivered(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	ListReturns(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	ListExchanges(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	StatusCounts(ctx context.Context, userID string) (map[domain.OrderStatus]int64, error)
	Track(ctx context.Context, awbCode string) (shipping.TrackingResult, error)
}

// ReturnService starts return and exchange sub-sagas.
type ReturnService interface {
	Return(ctx context.Context, input services.ReturnInput) (domain.Order, error)
	Exchange(ctx context.Context, input services.ExchangeInput) (domain.Order, error)
}

// OrderHandlers exposes the order endpoints for authenticated users.
type OrderHandlers struct {
	checkout CheckoutService
	payments PaymentService
	orders   OrderService
	returns  ReturnService
}

// NewOrderHandlers constructs an OrderHandlers instance.
func NewOrderHandlers(checkout CheckoutService, payments PaymentService, orders OrderService, returns ReturnService) *OrderHandlers {
	return &OrderHandlers{
		checkout: checkout,
		payments: payments,
		orders:   orders,
		returns:  returns,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Post("/", h.createOrder)
	r.Post("/verify-payment", h.verifyPayment)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Post("/{orderID}/return", h.returnOrder)
	r.Post("/{orderID}/exchange", h.exchangeOrder)
	r.Get("/", h.listOrders)
	r.Get("/delivered", h.listDelivered)
	r.Get("/returns", h.listReturns)
	r.Get("/exchanges", h.listExchanges)
	r.Get("/status-counts", h.statusCounts)
	r.Get("/track/{awbCode}", h.track)
	r.With(auth.RequireAdmin).Patch("/{orderID}/status", h.updateStatus)
}

type cartLinePayload struct {
	ItemID   string `json:"itemId"`
	SKU      string `json:"sku"`
	Quantity int64  `json:"quantity"`
}

type createOrderPayload struct {
	Cart      []cartLinePayload `json:"cart"`
	PromoCode string            `json:"promoCode"`
	// Amount is the client-side total in rupees.
	Amount          float64        `json:"amount"`
	ShippingAddress domain.Address `json:"shippingAddress"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, httpx.Unauthorized("authentication required", nil))
		return
	}

	var payload createOrderPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	cart := make([]services.CartLine, 0, len(payload.Cart))
	for _, line := range payload.Cart {
		cart = append(cart, services.CartLine{ItemID: line.ItemID, SKU: line.SKU, Quantity: line.Quantity})
	}

	out, err := h.checkout.CreateOrder(r.Context(), services.CreateOrderInput{
		UserID:          principal.UserID,
		Cart:            cart,
		PromoCode:       payload.PromoCode,
		ClaimedAmount:   toPaise(payload.Amount),
		ShippingAddress: payload.ShippingAddress,
	})
	if err != nil {
		httpx.WriteError(w, r, mapServiceError(err))
		return
	}

	httpx.WriteSuccess(w, http.StatusCreated, "order created", map[string]any{
		"order":          out.Order,
		"gatewayOrderId": out.GatewayOrderID,
	})
}

type verifyPaymentPayload struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var payload verifyPaymentPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	out, err := h.payments.VerifyPayment(r.Context(), services.VerifyPaymentInput{
		GatewayOrderID:   payload.GatewayOrderID,
		GatewayPaymentID: payload.GatewayPaymentID,
		Signature:        payload.Signature,
	})
	if err != nil {
		httpx.WriteError(w, r, mapServiceError(err))
		return
	}

	message := "payment verified"
	if out.AlreadyPaid {
		message = "payment already verified"
	}
	httpx.WriteSuccess(w, http.StatusOK, message, map[string]any{
		"order":       out.Order,
		"alreadyPaid": out.AlreadyPaid,
	})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, httpx.Unauthorized("authentication required", nil))
		return
	}

	order, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "orderID"), principal.UserID, principal.Admin)
	if err != nil {
		httpx.WriteError(w, r, mapServiceError(err))
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "order cancelled", map[string]any{"order": order})
}

type returnPayload struct {
	Reason string   `json:"reason"`
	Images []string `json:"images"`
}

func (h *OrderHandlers) returnOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, httpx.Unauthorized("authentication required", nil))
		return
	}

	var payload returnPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	order, err := h.returns.Return(r.Context(), services.ReturnInput{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  principal.UserID,
		Reason:  payload.Reason,
		Images:  payload.Images,
	})
	if err != nil {
		httpx.WriteError(w, r, mapServiceError(err))
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "return initiated", map[string]any{"order": order})
}

type exchangePayload struct {
	Reason      string   `json:"reason"`
	NewItemID   string   `json:"newItemId"`
	DesiredSize string   `json:"desiredSize"`
	Images      []string `json:"images"`
}

func (h *OrderHandlers) exchangeOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, httpx.Unauthorized("authentication required", nil))
		return
	}

	var payload exchangePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	order, err := h.returns.Exchange(r.Context(), services.ExchangeInput{
		OrderID:     chi.URLParam(r, "orderID"),
		UserID:      principal.UserID,
		Reason:      payload.Reason,
		NewItemID:   payload.NewItemID,
		DesiredSize: payload.DesiredSize,
		Images:      payload.Images,
	})
	if err != nil {
		httpx.WriteError(w, r, mapServiceError(err))
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "exchange initiated", map[string]any{"order": order})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.orders.ListForUser)
}

func (h *OrderHandlers) listDelivered(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.orders.ListDelivered)
}

func (h *OrderHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.orders.ListReturns)
}

func (h *OrderHandlers) listExchanges(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.orders.ListExchanges)
}

func (h *OrderHandlers) list(w http.ResponseWriter, r *http.Request, query func(context.Context, string, int) ([]domain.Order, error)) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, httpx.Unauthorized("authentication required", nil))
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httpx.WriteError(w, r, httpx.BadRequest("limit must be a positive integer", err))
		return
	}

	orders, err := query(r.Context(), principal.UserID, limit)
	if err != nil {
		httpx.WriteError(w, r, mapServiceError(err))
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	httpx.WriteSuccess(w, http.StatusOK, "orders fetched", map[string]any{"orders": orders})
}

func (h *OrderHandlers) statusCounts(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, httpx.Unauthorized("authentication required", nil))
		return
	}

	counts, err := h.orders.StatusCounts(r.Context(), principal.UserID)
	if err != nil {
		httpx.WriteError(w, r, mapServiceError(err))
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "status counts fetched", map[string]any{"counts": counts})
}

func (h *OrderHandlers) track(w http.ResponseWriter, r *http.Request) {
	result, err := h.orders.Track(r.Context(), chi.URLParam(r, "awbCode"))
	if err != nil {
		httpx.WriteError(w, r, mapServiceError(err))
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "tracking fetched", map[string]any{"tracking": result})
}

type updateStatusPayload struct {
	Status string `json:"status"`
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	var payload updateStatusPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "orderID"), domain.OrderStatus(strings.TrimSpace(payload.Status)))
	if err != nil {
		httpx.WriteError(w, r, mapServiceError(err))
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "order status updated", map[string]any{"order": order})
}

// toPaise converts a rupee amount to integer paise.
func toPaise(rupees float64) int64 {
	return int64(math.Round(rupees * 100))
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		if err == nil {
			err = errors.New("non-positive limit")
		}
		return 0, err
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

// mapServiceError translates service sentinels into HTTP errors without
// leaking internals. Unrecognised errors surface as 500s.
func mapServiceError(err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrAmountMismatch),
		errors.Is(err, services.ErrPromoInactive),
		errors.Is(err, services.ErrPromoOutsideWindow),
		errors.Is(err, services.ErrPromoExhausted),
		errors.Is(err, services.ErrPromoMinOrder):
		return httpx.BadRequest(userMessage(err), err)
	case errors.Is(err, services.ErrForbidden):
		return httpx.Forbidden(userMessage(err), err)
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrPromoNotFound):
		return httpx.NotFound(userMessage(err), err)
	case errors.Is(err, services.ErrConflict):
		return httpx.Conflict(userMessage(err), err)
	case errors.Is(err, services.ErrStockShortfall):
		return httpx.Internal("insufficient stock, payment will be refunded", err)
	case errors.Is(err, services.ErrDownstream):
		return httpx.Internal("a downstream provider failed, please retry", err)
	default:
		return httpx.Internal("internal server error", err)
	}
}

// userMessage strips the sentinel prefix so responses read naturally.
func userMessage(err error) string {
	msg := err.Error()
	for _, prefix := range []string{"services: ", "pricing: ", "payment: "} {
		if idx := strings.Index(msg, prefix); idx == 0 {
			msg = msg[len(prefix):]
			break
		}
	}
	return msg
}
