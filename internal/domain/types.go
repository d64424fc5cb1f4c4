package domain

import (
	"strings"
	"time"
)

// PaymentStatus tracks whether the gateway has confirmed payment for an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPaid    PaymentStatus = "Paid"
	PaymentFailed  PaymentStatus = "Failed"
)

// OrderStatus tracks back-office fulfilment progress.
type OrderStatus string

const (
	OrderPending    OrderStatus = "Pending"
	OrderProcessing OrderStatus = "Processing"
	OrderShipped    OrderStatus = "Shipped"
	OrderDelivered  OrderStatus = "Delivered"
	OrderCancelled  OrderStatus = "Cancelled"
)

// ShippingStatus tracks the courier-side lifecycle of the forward shipment.
type ShippingStatus string

const (
	ShippingPending   ShippingStatus = "Pending"
	ShippingShipped   ShippingStatus = "Shipped"
	ShippingInTransit ShippingStatus = "In Transit"
	ShippingDelivered ShippingStatus = "Delivered"
	ShippingCancelled ShippingStatus = "Cancelled"
)

// RefundStatus tracks the state of a return sub-saga.
type RefundStatus string

const (
	RefundRequested RefundStatus = "Requested"
	RefundProcessed RefundStatus = "Processed"
	RefundFailed    RefundStatus = "Failed"
)

// AWBState distinguishes a successfully assigned airway bill from a degraded
// shipment that exists without a label.
type AWBState string

const (
	AWBAssigned AWBState = "assigned"
	AWBFailed   AWBState = "failed"
)

// orderStatusRank orders fulfilment states for forward-only transitions.
var orderStatusRank = map[OrderStatus]int{
	OrderPending:    0,
	OrderProcessing: 1,
	OrderShipped:    2,
	OrderDelivered:  3,
	OrderCancelled:  4,
}

// CanTransitionOrderStatus reports whether moving from to next is a forward transition.
func CanTransitionOrderStatus(from, next OrderStatus) bool {
	fromRank, ok := orderStatusRank[from]
	if !ok {
		return false
	}
	nextRank, ok := orderStatusRank[next]
	if !ok {
		return false
	}
	if from == OrderCancelled || from == OrderDelivered {
		return false
	}
	return nextRank > fromRank
}

// OrderLine is one authoritative line of an order. An item may appear under
// several lines when purchased in multiple SKUs.
type OrderLine struct {
	ItemID      string `firestore:"itemId" json:"itemId"`
	SKU         string `firestore:"sku" json:"sku"`
	Quantity    int64  `firestore:"quantity" json:"quantity"`
	DesiredSize string `firestore:"desiredSize,omitempty" json:"desiredSize,omitempty"`
	UnitPrice   int64  `firestore:"unitPrice" json:"unitPrice"`
	Name        string `firestore:"name" json:"name"`
}

// Address is a delivery or billing address snapshot stored on the order.
type Address struct {
	Name    string `firestore:"name" json:"name"`
	Phone   string `firestore:"phone" json:"phone"`
	Email   string `firestore:"email" json:"email"`
	Line1   string `firestore:"line1" json:"line1"`
	Line2   string `firestore:"line2,omitempty" json:"line2,omitempty"`
	City    string `firestore:"city" json:"city"`
	State   string `firestore:"state" json:"state"`
	Pincode string `firestore:"pincode" json:"pincode"`
	Country string `firestore:"country" json:"country"`
}

// ShipperSnapshot is the courier label artifact captured at AWB assignment
// time. It is never re-fetched from the aggregator.
type ShipperSnapshot struct {
	Name    string `firestore:"name" json:"name"`
	Address string `firestore:"address" json:"address"`
	City    string `firestore:"city" json:"city"`
	State   string `firestore:"state" json:"state"`
	Pincode string `firestore:"pincode" json:"pincode"`
	Phone   string `firestore:"phone" json:"phone"`
}

// Shipment holds forward-leg courier data on the order.
type Shipment struct {
	ShipmentID     string          `firestore:"shipmentId" json:"shipmentId"`
	CourierOrderID string          `firestore:"courierOrderId" json:"courierOrderId"`
	CourierID      string          `firestore:"courierId,omitempty" json:"courierId,omitempty"`
	CourierName    string          `firestore:"courierName,omitempty" json:"courierName,omitempty"`
	AWBCode        string          `firestore:"awbCode,omitempty" json:"awbCode,omitempty"`
	AWBState       AWBState        `firestore:"awbState,omitempty" json:"awbState,omitempty"`
	AWBFailure     string          `firestore:"awbFailure,omitempty" json:"awbFailure,omitempty"`
	TrackingURL    string          `firestore:"trackingUrl,omitempty" json:"trackingUrl,omitempty"`
	FreightCharge  int64           `firestore:"freightCharge,omitempty" json:"freightCharge,omitempty"`
	ShippedBy      ShipperSnapshot `firestore:"shippedBy,omitempty" json:"shippedBy,omitempty"`
}

// Refund is the return sub-saga state, present once a return is initiated.
type Refund struct {
	RequestedAt       time.Time    `firestore:"requestedAt" json:"requestedAt"`
	Status            RefundStatus `firestore:"status" json:"status"`
	RMANumber         string       `firestore:"rmaNumber" json:"rmaNumber"`
	Amount            int64        `firestore:"amount" json:"amount"`
	Reason            string       `firestore:"reason" json:"reason"`
	GatewayRefundID   string       `firestore:"gatewayRefundId,omitempty" json:"gatewayRefundId,omitempty"`
	ReturnShipmentID  string       `firestore:"returnShipmentId,omitempty" json:"returnShipmentId,omitempty"`
	ReturnAWBCode     string       `firestore:"returnAwbCode,omitempty" json:"returnAwbCode,omitempty"`
	ReturnTrackingURL string       `firestore:"returnTrackingUrl,omitempty" json:"returnTrackingUrl,omitempty"`
	Images            []string     `firestore:"images,omitempty" json:"images,omitempty"`
}

// Exchange is the exchange sub-saga state. No monetary refund is recorded; the
// customer receives a replacement item instead.
type Exchange struct {
	RequestedAt        time.Time `firestore:"requestedAt" json:"requestedAt"`
	Status             string    `firestore:"status" json:"status"`
	RMANumber          string    `firestore:"rmaNumber" json:"rmaNumber"`
	Reason             string    `firestore:"reason" json:"reason"`
	NewItemID          string    `firestore:"newItemId" json:"newItemId"`
	DesiredSize        string    `firestore:"desiredSize" json:"desiredSize"`
	ReturnShipmentID   string    `firestore:"returnShipmentId,omitempty" json:"returnShipmentId,omitempty"`
	ReturnAWBCode      string    `firestore:"returnAwbCode,omitempty" json:"returnAwbCode,omitempty"`
	ReturnTrackingURL  string    `firestore:"returnTrackingUrl,omitempty" json:"returnTrackingUrl,omitempty"`
	ForwardShipmentID  string    `firestore:"forwardShipmentId,omitempty" json:"forwardShipmentId,omitempty"`
	ForwardAWBCode     string    `firestore:"forwardAwbCode,omitempty" json:"forwardAwbCode,omitempty"`
	ForwardTrackingURL string    `firestore:"forwardTrackingUrl,omitempty" json:"forwardTrackingUrl,omitempty"`
	Images             []string  `firestore:"images,omitempty" json:"images,omitempty"`
}

// Order is the aggregate root persisted in the orders collection. Monetary
// fields are int64 minor currency units (paise).
type Order struct {
	ID               string         `firestore:"-" json:"id"`
	UserID           string         `firestore:"userId" json:"userId"`
	GatewayOrderID   string         `firestore:"gatewayOrderId" json:"gatewayOrderId"`
	GatewayPaymentID string         `firestore:"gatewayPaymentId,omitempty" json:"gatewayPaymentId,omitempty"`
	GatewaySignature string         `firestore:"gatewaySignature,omitempty" json:"-"`
	Lines            []OrderLine    `firestore:"lines" json:"lines"`
	TotalPrice       int64          `firestore:"totalPrice" json:"totalPrice"`
	ShippingFee      int64          `firestore:"shippingFee" json:"shippingFee"`
	PromoCode        string         `firestore:"promoCode,omitempty" json:"promoCode,omitempty"`
	PromoDiscount    int64          `firestore:"promoDiscount,omitempty" json:"promoDiscount,omitempty"`
	PaymentStatus    PaymentStatus  `firestore:"paymentStatus" json:"paymentStatus"`
	OrderStatus      OrderStatus    `firestore:"orderStatus" json:"orderStatus"`
	ShippingStatus   ShippingStatus `firestore:"shippingStatus" json:"shippingStatus"`
	ShippingAddress  Address        `firestore:"shippingAddress" json:"shippingAddress"`
	Shipment         *Shipment      `firestore:"shipment,omitempty" json:"shipment,omitempty"`
	Refund           *Refund        `firestore:"refund,omitempty" json:"refund,omitempty"`
	Exchange         *Exchange      `firestore:"exchange,omitempty" json:"exchange,omitempty"`
	CreatedAt        time.Time      `firestore:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time      `firestore:"updatedAt" json:"updatedAt"`
	PaidAt           time.Time      `firestore:"paidAt,omitempty" json:"paidAt,omitempty"`
	DeliveredAt      time.Time      `firestore:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
}

// HasActiveReturn reports whether a return sub-saga already exists.
func (o *Order) HasActiveReturn() bool {
	return o != nil && o.Refund != nil
}

// HasActiveExchange reports whether an exchange sub-saga already exists.
func (o *Order) HasActiveExchange() bool {
	return o != nil && o.Exchange != nil
}

// DiscountType enumerates the promo computation strategies.
type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixed        DiscountType = "fixed"
	DiscountFreeShip     DiscountType = "free_shipping"
	DiscountBuyOneGetOne DiscountType = "bogo"
)

// PromoCode is the promotion document. Codes are stored upper-cased.
type PromoCode struct {
	Code          string       `firestore:"code" json:"code"`
	DiscountType  DiscountType `firestore:"discountType" json:"discountType"`
	DiscountValue int64        `firestore:"discountValue" json:"discountValue"`
	MinOrderValue int64        `firestore:"minOrderValue" json:"minOrderValue"`
	StartsAt      time.Time    `firestore:"startsAt" json:"startsAt"`
	EndsAt        time.Time    `firestore:"endsAt" json:"endsAt"`
	MaxUses       int64        `firestore:"maxUses" json:"maxUses"`
	CurrentUses   int64        `firestore:"currentUses" json:"currentUses"`
	IsActive      bool         `firestore:"isActive" json:"isActive"`
	CreatedAt     time.Time    `firestore:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time    `firestore:"updatedAt" json:"updatedAt"`
}

// NormalizePromoCode upper-cases and trims the user-supplied code.
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Item is the aggregate catalog projection consumed by pricing and inventory.
type Item struct {
	ID      string  `firestore:"-" json:"id"`
	Name    string  `firestore:"name" json:"name"`
	Price   int64   `firestore:"price" json:"price"`
	Stock   int64   `firestore:"stock" json:"stock"`
	Weight  float64 `firestore:"weight" json:"weight"`
	Length  float64 `firestore:"length" json:"length"`
	Breadth float64 `firestore:"breadth" json:"breadth"`
	Height  float64 `firestore:"height" json:"height"`
}

// SizeStock is the per-SKU stock entry nested under a color.
type SizeStock struct {
	SKU   string `firestore:"sku" json:"sku"`
	Size  string `firestore:"size" json:"size"`
	Stock int64  `firestore:"stock" json:"stock"`
}

// ColorVariant groups the SKUs of one color of an item.
type ColorVariant struct {
	Color string      `firestore:"color" json:"color"`
	Sizes []SizeStock `firestore:"sizes" json:"sizes"`
}

// ItemDetails is the variant-level catalog document holding per-SKU stock.
type ItemDetails struct {
	ItemID string         `firestore:"-" json:"itemId"`
	Colors []ColorVariant `firestore:"colors" json:"colors"`
}

// FindSKU locates the SKU within the nested color/size structure.
func (d *ItemDetails) FindSKU(sku string) (colorIdx, sizeIdx int, found bool) {
	if d == nil {
		return 0, 0, false
	}
	for ci, color := range d.Colors {
		for si, size := range color.Sizes {
			if size.SKU == sku {
				return ci, si, true
			}
		}
	}
	return 0, 0, false
}
