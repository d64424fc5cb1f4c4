package shipping

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCourierUnavailable indicates the aggregator call failed at the transport level.
	ErrCourierUnavailable = errors.New("shipping: courier aggregator unavailable")
	// ErrCourierRejected indicates the aggregator returned a non-success payload.
	ErrCourierRejected = errors.New("shipping: courier aggregator rejected request")
)

// PartyAddress identifies one end of a shipment leg.
type PartyAddress struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Line1   string `json:"address"`
	Line2   string `json:"address_2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

// ShipmentItem is one order line forwarded to the aggregator.
type ShipmentItem struct {
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	Units     int64  `json:"units"`
	UnitPrice int64  `json:"selling_price"`
}

// Dimensions is a parcel's physical footprint. Unit conventions follow the
// aggregator: centimetres and kilograms.
type Dimensions struct {
	Length  float64 `json:"length"`
	Breadth float64 `json:"breadth"`
	Height  float64 `json:"height"`
	Weight  float64 `json:"weight"`
}

// ShipmentRequest creates a forward shipment. Billing address equals the
// shipping address.
type ShipmentRequest struct {
	OrderID    string
	OrderDate  string
	Customer   PartyAddress
	Items      []ShipmentItem
	Dimensions Dimensions
	SubTotal   int64
}

// ShipmentResult is the aggregator's acknowledgement of a created shipment.
type ShipmentResult struct {
	ShipmentID     string
	CourierOrderID string
	Status         string
}

// ShipperSnapshot is the label-time courier pickup point. Copied verbatim
// onto the order and never re-fetched.
type ShipperSnapshot struct {
	Name    string
	Address string
	City    string
	State   string
	Pincode string
	Phone   string
}

// AWBResult is the typed outcome of a courier assignment attempt. A shipment
// can exist without a label; Assigned distinguishes the two.
type AWBResult struct {
	Assigned      bool
	AWBCode       string
	CourierID     string
	CourierName   string
	TrackingURL   string
	FreightCharge int64
	ShippedBy     ShipperSnapshot
	FailureReason string
}

// ReturnRequest creates a return shipment: pickup at the customer, delivery
// to the warehouse.
type ReturnRequest struct {
	OrderID    string
	OrderDate  string
	Customer   PartyAddress
	Warehouse  PartyAddress
	Items      []ShipmentItem
	Dimensions Dimensions
}

// ExchangeRequest creates a paired return and forward shipment in one call.
type ExchangeRequest struct {
	OrderID          string
	OrderDate        string
	Customer         PartyAddress
	Warehouse        PartyAddress
	ReturnItems      []ShipmentItem
	ReturnDimensions Dimensions
	ForwardItems     []ShipmentItem
	ForwardDims      Dimensions
}

// ExchangeResult carries both legs' shipment identifiers.
type ExchangeResult struct {
	ReturnShipmentID  string
	ForwardShipmentID string
}

// TrackingEvent is one scan in a shipment's history.
type TrackingEvent struct {
	Date     string `json:"date"`
	Status   string `json:"status"`
	Activity string `json:"activity"`
	Location string `json:"location"`
}

// TrackingResult is the aggregator's tracking response for an AWB.
type TrackingResult struct {
	AWBCode       string
	CurrentStatus string
	Events        []TrackingEvent
}

// Client abstracts the courier aggregator.
type Client interface {
	CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentResult, error)
	AssignAWB(ctx context.Context, shipmentID string) (AWBResult, error)
	CreateReturn(ctx context.Context, req ReturnRequest) (ShipmentResult, error)
	CreateExchange(ctx context.Context, req ExchangeRequest) (ExchangeResult, error)
	Track(ctx context.Context, awbCode string) (TrackingResult, error)
	CancelOrders(ctx context.Context, courierOrderIDs []string) error
}

// DownstreamError wraps an aggregator HTTP failure with its status code.
type DownstreamError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *DownstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("shipping: %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("shipping: %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes the sentinel category for errors.Is checks.
func (e *DownstreamError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrCourierRejected
}
