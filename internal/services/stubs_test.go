package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/veyra-commerce/api/internal/domain"
	"github.com/veyra-commerce/api/internal/payments"
	"github.com/veyra-commerce/api/internal/repositories"
	"github.com/veyra-commerce/api/internal/shipping"
)

// missingErr satisfies repositories.RepositoryError for not-found stubbing.
type missingErr string

func (e missingErr) Error() string       { return fmt.Sprintf("stub: %s not found", string(e)) }
func (e missingErr) IsNotFound() bool    { return true }
func (e missingErr) IsConflict() bool    { return false }
func (e missingErr) IsUnavailable() bool { return false }

type stubOrders struct {
	byID        map[string]domain.Order
	inserted    []domain.Order
	updated     []domain.Order
	markPaidErr error
	updateErr   error
}

func newStubOrders(orders ...domain.Order) *stubOrders {
	s := &stubOrders{byID: make(map[string]domain.Order)}
	for _, o := range orders {
		s.byID[o.ID] = o
	}
	return s
}

func (s *stubOrders) Insert(_ context.Context, order domain.Order) error {
	s.inserted = append(s.inserted, order)
	s.byID[order.ID] = order
	return nil
}

func (s *stubOrders) Update(_ context.Context, order domain.Order) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated = append(s.updated, order)
	s.byID[order.ID] = order
	return nil
}

func (s *stubOrders) FindByID(_ context.Context, id string) (domain.Order, error) {
	order, ok := s.byID[id]
	if !ok {
		return domain.Order{}, missingErr(id)
	}
	return order, nil
}

func (s *stubOrders) FindByGatewayOrderID(_ context.Context, gatewayOrderID string) (domain.Order, error) {
	for _, order := range s.byID {
		if order.GatewayOrderID == gatewayOrderID {
			return order, nil
		}
	}
	return domain.Order{}, missingErr(gatewayOrderID)
}

func (s *stubOrders) MarkPaid(_ context.Context, req repositories.MarkPaidRequest) (repositories.MarkPaidResult, error) {
	if s.markPaidErr != nil {
		return repositories.MarkPaidResult{}, s.markPaidErr
	}
	order, ok := s.byID[req.OrderID]
	if !ok {
		return repositories.MarkPaidResult{}, missingErr(req.OrderID)
	}
	if order.PaymentStatus == domain.PaymentPaid {
		return repositories.MarkPaidResult{Order: order, Flipped: false}, nil
	}
	order.PaymentStatus = domain.PaymentPaid
	order.OrderStatus = domain.OrderProcessing
	order.GatewayPaymentID = req.GatewayPaymentID
	order.GatewaySignature = req.GatewaySignature
	order.PaidAt = req.PaidAt
	s.byID[order.ID] = order
	return repositories.MarkPaidResult{Order: order, Flipped: true}, nil
}

func (s *stubOrders) List(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	var out []domain.Order
	for _, order := range s.byID {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.OrderStatus != "" && order.OrderStatus != filter.OrderStatus {
			continue
		}
		if filter.HasReturn && order.Refund == nil {
			continue
		}
		if filter.HasExchange && order.Exchange == nil {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

func (s *stubOrders) StatusCounts(_ context.Context, userID string) (map[domain.OrderStatus]int64, error) {
	counts := make(map[domain.OrderStatus]int64)
	for _, order := range s.byID {
		if order.UserID == userID {
			counts[order.OrderStatus]++
		}
	}
	return counts, nil
}

type usageAdjustment struct {
	code  string
	delta int64
}

type stubPromos struct {
	byCode      map[string]domain.PromoCode
	adjustments []usageAdjustment
	adjustErr   error
}

func newStubPromos(promos ...domain.PromoCode) *stubPromos {
	s := &stubPromos{byCode: make(map[string]domain.PromoCode)}
	for _, p := range promos {
		s.byCode[p.Code] = p
	}
	return s
}

func (s *stubPromos) FindByCode(_ context.Context, code string) (domain.PromoCode, error) {
	promo, ok := s.byCode[code]
	if !ok {
		return domain.PromoCode{}, missingErr(code)
	}
	return promo, nil
}

func (s *stubPromos) Insert(_ context.Context, promo domain.PromoCode) error {
	s.byCode[promo.Code] = promo
	return nil
}

func (s *stubPromos) Update(_ context.Context, promo domain.PromoCode) error {
	s.byCode[promo.Code] = promo
	return nil
}

func (s *stubPromos) AdjustUsage(_ context.Context, code string, delta int64, _ time.Time) error {
	if s.adjustErr != nil {
		return s.adjustErr
	}
	s.adjustments = append(s.adjustments, usageAdjustment{code: code, delta: delta})
	return nil
}

type stubCatalog struct {
	items     map[string]domain.Item
	details   map[string]domain.ItemDetails
	commits   []repositories.StockCommitRequest
	commitErr error
}

func newStubCatalog() *stubCatalog {
	return &stubCatalog{
		items:   make(map[string]domain.Item),
		details: make(map[string]domain.ItemDetails),
	}
}

func (s *stubCatalog) addItem(id string, item domain.Item, details domain.ItemDetails) {
	s.items[id] = item
	s.details[id] = details
}

func (s *stubCatalog) GetItem(_ context.Context, itemID string) (domain.Item, error) {
	item, ok := s.items[itemID]
	if !ok {
		return domain.Item{}, missingErr(itemID)
	}
	return item, nil
}

func (s *stubCatalog) GetItemDetails(_ context.Context, itemID string) (domain.ItemDetails, error) {
	details, ok := s.details[itemID]
	if !ok {
		return domain.ItemDetails{}, missingErr(itemID)
	}
	return details, nil
}

func (s *stubCatalog) CommitStock(_ context.Context, req repositories.StockCommitRequest) (repositories.StockCommitResult, error) {
	if s.commitErr != nil {
		return repositories.StockCommitResult{}, s.commitErr
	}
	s.commits = append(s.commits, req)
	decrements := make(map[string]int64)
	for _, line := range req.Lines {
		decrements[line.ItemID] += line.Quantity
	}
	return repositories.StockCommitResult{ItemDecrements: decrements}, nil
}

type stubCounter struct {
	value int64
}

func (s *stubCounter) Next(_ context.Context, _ string) (int64, error) {
	s.value++
	return s.value, nil
}

type refundCall struct {
	paymentID string
	amount    int64
}

type stubGateway struct {
	order          payments.GatewayOrder
	createErr      error
	createCalls    int
	verifyErr      error
	refunds        []refundCall
	refundErr      error
	refundResponse payments.RefundResult
}

func (s *stubGateway) CreateOrder(_ context.Context, req payments.CreateOrderRequest) (payments.GatewayOrder, error) {
	s.createCalls++
	if s.createErr != nil {
		return payments.GatewayOrder{}, s.createErr
	}
	order := s.order
	if order.ID == "" {
		order.ID = "order_gw_1"
	}
	order.Amount = req.Amount
	return order, nil
}

func (s *stubGateway) VerifySignature(_ payments.VerificationInput) error {
	return s.verifyErr
}

func (s *stubGateway) Refund(_ context.Context, paymentID string, amount int64) (payments.RefundResult, error) {
	if s.refundErr != nil {
		return payments.RefundResult{}, s.refundErr
	}
	s.refunds = append(s.refunds, refundCall{paymentID: paymentID, amount: amount})
	result := s.refundResponse
	if result.ID == "" {
		result.ID = "rfnd_1"
	}
	result.Amount = amount
	return result, nil
}

type stubCourier struct {
	shipment     shipping.ShipmentResult
	shipmentErr  error
	shipments    []shipping.ShipmentRequest
	awb          shipping.AWBResult
	awbErr       error
	awbCalls     []string
	returnResult shipping.ShipmentResult
	returnErr    error
	returns      []shipping.ReturnRequest
	exchange     shipping.ExchangeResult
	exchangeErr  error
	exchanges    []shipping.ExchangeRequest
	tracking     shipping.TrackingResult
	trackErr     error
	cancelled    [][]string
	cancelErr    error
}

func (s *stubCourier) CreateShipment(_ context.Context, req shipping.ShipmentRequest) (shipping.ShipmentResult, error) {
	if s.shipmentErr != nil {
		return shipping.ShipmentResult{}, s.shipmentErr
	}
	s.shipments = append(s.shipments, req)
	return s.shipment, nil
}

func (s *stubCourier) AssignAWB(_ context.Context, shipmentID string) (shipping.AWBResult, error) {
	s.awbCalls = append(s.awbCalls, shipmentID)
	if s.awbErr != nil {
		return shipping.AWBResult{}, s.awbErr
	}
	return s.awb, nil
}

func (s *stubCourier) CreateReturn(_ context.Context, req shipping.ReturnRequest) (shipping.ShipmentResult, error) {
	if s.returnErr != nil {
		return shipping.ShipmentResult{}, s.returnErr
	}
	s.returns = append(s.returns, req)
	return s.returnResult, nil
}

func (s *stubCourier) CreateExchange(_ context.Context, req shipping.ExchangeRequest) (shipping.ExchangeResult, error) {
	if s.exchangeErr != nil {
		return shipping.ExchangeResult{}, s.exchangeErr
	}
	s.exchanges = append(s.exchanges, req)
	return s.exchange, nil
}

func (s *stubCourier) Track(_ context.Context, awbCode string) (shipping.TrackingResult, error) {
	if s.trackErr != nil {
		return shipping.TrackingResult{}, s.trackErr
	}
	result := s.tracking
	result.AWBCode = awbCode
	return result, nil
}

func (s *stubCourier) CancelOrders(_ context.Context, courierOrderIDs []string) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelled = append(s.cancelled, courierOrderIDs)
	return nil
}

type stubPublisher struct {
	events     []OrderEvent
	publishErr error
}

func (s *stubPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	if s.publishErr != nil {
		return "", s.publishErr
	}
	s.events = append(s.events, event)
	return fmt.Sprintf("msg-%d", len(s.events)), nil
}

var errStubDown = errors.New("stub: downstream unavailable")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs() IDGenerator {
	var n int
	return func(prefix string) string {
		n++
		return fmt.Sprintf("%s_%d", prefix, n)
	}
}
