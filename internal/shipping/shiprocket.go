package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ShiprocketClient implements Client against the Shiprocket external API.
// The login token is cached until shortly before its expiry.
type ShiprocketClient struct {
	baseURL    string
	email      string
	password   string
	channelID  string
	tokenTTL   time.Duration
	httpClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// ShiprocketDeps collects the inputs required to construct the client.
type ShiprocketDeps struct {
	BaseURL    string
	Email      string
	Password   string
	ChannelID  string
	TokenTTL   time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
	Clock      func() time.Time
}

// NewShiprocketClient constructs the client, validating its dependencies.
func NewShiprocketClient(deps ShiprocketDeps) (*ShiprocketClient, error) {
	if strings.TrimSpace(deps.BaseURL) == "" {
		return nil, errors.New("shipping: base url is required")
	}
	if strings.TrimSpace(deps.Email) == "" || strings.TrimSpace(deps.Password) == "" {
		return nil, errors.New("shipping: courier credentials are required")
	}
	ttl := deps.TokenTTL
	if ttl <= 0 {
		ttl = 9 * 24 * time.Hour
	}
	client := deps.HTTPClient
	if client == nil {
		timeout := deps.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ShiprocketClient{
		baseURL:    strings.TrimRight(deps.BaseURL, "/"),
		email:      deps.Email,
		password:   deps.Password,
		channelID:  deps.ChannelID,
		tokenTTL:   ttl,
		httpClient: client,
		now:        clock,
	}, nil
}

type loginResponse struct {
	Token string `json:"token"`
}

// bearerToken returns a cached token, logging in again once it has expired.
func (c *ShiprocketClient) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var resp loginResponse
	err := c.do(ctx, "login", http.MethodPost, "/auth/login", "", map[string]string{
		"email":    c.email,
		"password": c.password,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &DownstreamError{Op: "login", Body: "missing token in response"}
	}
	c.token = resp.Token
	c.tokenExpiry = c.now().Add(c.tokenTTL - time.Minute)
	return c.token, nil
}

type createShipmentResponse struct {
	OrderID    json.Number `json:"order_id"`
	ShipmentID json.Number `json:"shipment_id"`
	Status     string      `json:"status"`
	StatusCode int         `json:"status_code"`
}

// CreateShipment submits a forward shipment with billing equal to shipping.
func (c *ShiprocketClient) CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentResult, error) {
	payload := c.orderPayload(req.OrderID, req.OrderDate, req.Customer, req.Items, req.Dimensions)
	payload["sub_total"] = req.SubTotal

	var resp createShipmentResponse
	if err := c.authed(ctx, "create shipment", http.MethodPost, "/orders/create/adhoc", payload, &resp); err != nil {
		return ShipmentResult{}, err
	}
	if resp.ShipmentID.String() == "" || resp.ShipmentID.String() == "0" {
		return ShipmentResult{}, &DownstreamError{Op: "create shipment", Body: "missing shipment id in response"}
	}
	return ShipmentResult{
		ShipmentID:     resp.ShipmentID.String(),
		CourierOrderID: resp.OrderID.String(),
		Status:         resp.Status,
	}, nil
}

type assignAWBResponse struct {
	AWBAssignStatus int `json:"awb_assign_status"`
	Response        struct {
		Data struct {
			AWBCode       string      `json:"awb_code"`
			CourierID     json.Number `json:"courier_company_id"`
			CourierName   string      `json:"courier_name"`
			FreightCharge float64     `json:"freight_charges"`
			ShippedBy     struct {
				Name    string `json:"shipper_company_name"`
				Address string `json:"shipper_address"`
				City    string `json:"shipper_city"`
				State   string `json:"shipper_state"`
				Pincode string `json:"shipper_postcode"`
				Phone   string `json:"shipper_phone"`
			} `json:"shipped_by"`
		} `json:"data"`
	} `json:"response"`
}

// AssignAWB requests courier assignment for a shipment. A declined assignment
// is reported as a typed unassigned result, not an error; errors are reserved
// for transport failures.
func (c *ShiprocketClient) AssignAWB(ctx context.Context, shipmentID string) (AWBResult, error) {
	if strings.TrimSpace(shipmentID) == "" {
		return AWBResult{}, errors.New("shipping: shipment id is required")
	}

	var resp assignAWBResponse
	err := c.authed(ctx, "assign awb", http.MethodPost, "/courier/assign/awb", map[string]string{
		"shipment_id": shipmentID,
	}, &resp)
	if err != nil {
		return AWBResult{}, err
	}

	data := resp.Response.Data
	if resp.AWBAssignStatus != 1 || data.AWBCode == "" {
		return AWBResult{
			Assigned:      false,
			FailureReason: fmt.Sprintf("awb assignment declined for shipment %s", shipmentID),
		}, nil
	}
	return AWBResult{
		Assigned:      true,
		AWBCode:       data.AWBCode,
		CourierID:     data.CourierID.String(),
		CourierName:   data.CourierName,
		TrackingURL:   c.trackingURL(data.AWBCode),
		FreightCharge: int64(data.FreightCharge * 100),
		ShippedBy: ShipperSnapshot{
			Name:    data.ShippedBy.Name,
			Address: data.ShippedBy.Address,
			City:    data.ShippedBy.City,
			State:   data.ShippedBy.State,
			Pincode: data.ShippedBy.Pincode,
			Phone:   data.ShippedBy.Phone,
		},
	}, nil
}

// CreateReturn submits a return shipment with pickup at the customer and
// delivery at the warehouse.
func (c *ShiprocketClient) CreateReturn(ctx context.Context, req ReturnRequest) (ShipmentResult, error) {
	payload := map[string]any{
		"order_id":   req.OrderID,
		"order_date": req.OrderDate,

		"pickup_customer_name": req.Customer.Name,
		"pickup_phone":         req.Customer.Phone,
		"pickup_email":         req.Customer.Email,
		"pickup_address":       req.Customer.Line1,
		"pickup_address_2":     req.Customer.Line2,
		"pickup_city":          req.Customer.City,
		"pickup_state":         req.Customer.State,
		"pickup_pincode":       req.Customer.Pincode,
		"pickup_country":       req.Customer.Country,

		"shipping_customer_name": req.Warehouse.Name,
		"shipping_phone":         req.Warehouse.Phone,
		"shipping_email":         req.Warehouse.Email,
		"shipping_address":       req.Warehouse.Line1,
		"shipping_address_2":     req.Warehouse.Line2,
		"shipping_city":          req.Warehouse.City,
		"shipping_state":         req.Warehouse.State,
		"shipping_pincode":       req.Warehouse.Pincode,
		"shipping_country":       req.Warehouse.Country,

		"order_items": req.Items,
		"length":      req.Dimensions.Length,
		"breadth":     req.Dimensions.Breadth,
		"height":      req.Dimensions.Height,
		"weight":      req.Dimensions.Weight,
	}

	var resp createShipmentResponse
	if err := c.authed(ctx, "create return", http.MethodPost, "/orders/create/return", payload, &resp); err != nil {
		return ShipmentResult{}, err
	}
	if resp.ShipmentID.String() == "" || resp.ShipmentID.String() == "0" {
		return ShipmentResult{}, &DownstreamError{Op: "create return", Body: "missing shipment id in response"}
	}
	return ShipmentResult{
		ShipmentID:     resp.ShipmentID.String(),
		CourierOrderID: resp.OrderID.String(),
		Status:         resp.Status,
	}, nil
}

type exchangeResponse struct {
	ReturnOrders struct {
		ShipmentID json.Number `json:"shipment_id"`
	} `json:"return_orders"`
	ForwardOrders struct {
		ShipmentID json.Number `json:"shipment_id"`
	} `json:"forward_orders"`
}

// CreateExchange submits the paired return and forward legs in one call.
func (c *ShiprocketClient) CreateExchange(ctx context.Context, req ExchangeRequest) (ExchangeResult, error) {
	payload := map[string]any{
		"order_id":   req.OrderID,
		"order_date": req.OrderDate,

		"pickup_customer_name": req.Customer.Name,
		"pickup_phone":         req.Customer.Phone,
		"pickup_address":       req.Customer.Line1,
		"pickup_city":          req.Customer.City,
		"pickup_state":         req.Customer.State,
		"pickup_pincode":       req.Customer.Pincode,
		"pickup_country":       req.Customer.Country,

		"shipping_customer_name": req.Warehouse.Name,
		"shipping_phone":         req.Warehouse.Phone,
		"shipping_address":       req.Warehouse.Line1,
		"shipping_city":          req.Warehouse.City,
		"shipping_state":         req.Warehouse.State,
		"shipping_pincode":       req.Warehouse.Pincode,
		"shipping_country":       req.Warehouse.Country,

		"return_order_items": req.ReturnItems,
		"return_length":      req.ReturnDimensions.Length,
		"return_breadth":     req.ReturnDimensions.Breadth,
		"return_height":      req.ReturnDimensions.Height,
		"return_weight":      req.ReturnDimensions.Weight,

		"order_items": req.ForwardItems,
		"length":      req.ForwardDims.Length,
		"breadth":     req.ForwardDims.Breadth,
		"height":      req.ForwardDims.Height,
		"weight":      req.ForwardDims.Weight,
	}

	var resp exchangeResponse
	if err := c.authed(ctx, "create exchange", http.MethodPost, "/orders/create/exchange", payload, &resp); err != nil {
		return ExchangeResult{}, err
	}
	result := ExchangeResult{
		ReturnShipmentID:  resp.ReturnOrders.ShipmentID.String(),
		ForwardShipmentID: resp.ForwardOrders.ShipmentID.String(),
	}
	if result.ReturnShipmentID == "" || result.ForwardShipmentID == "" {
		return ExchangeResult{}, &DownstreamError{Op: "create exchange", Body: "missing shipment ids in response"}
	}
	return result, nil
}

type trackResponse struct {
	TrackingData struct {
		ShipmentStatus string `json:"shipment_status"`
		ShipmentTrack  []struct {
			AWBCode string `json:"awb_code"`
		} `json:"shipment_track"`
		ShipmentTrackActivities []TrackingEvent `json:"shipment_track_activities"`
	} `json:"tracking_data"`
}

// Track fetches the scan history for an AWB.
func (c *ShiprocketClient) Track(ctx context.Context, awbCode string) (TrackingResult, error) {
	if strings.TrimSpace(awbCode) == "" {
		return TrackingResult{}, errors.New("shipping: awb code is required")
	}

	var resp trackResponse
	path := "/courier/track/awb/" + url.PathEscape(awbCode)
	if err := c.authed(ctx, "track", http.MethodGet, path, nil, &resp); err != nil {
		return TrackingResult{}, err
	}
	return TrackingResult{
		AWBCode:       awbCode,
		CurrentStatus: resp.TrackingData.ShipmentStatus,
		Events:        resp.TrackingData.ShipmentTrackActivities,
	}, nil
}

// CancelOrders asks the aggregator to cancel the given courier order ids.
func (c *ShiprocketClient) CancelOrders(ctx context.Context, courierOrderIDs []string) error {
	if len(courierOrderIDs) == 0 {
		return errors.New("shipping: no order ids to cancel")
	}
	ids := make([]int64, 0, len(courierOrderIDs))
	for _, raw := range courierOrderIDs {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("shipping: invalid courier order id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return c.authed(ctx, "cancel orders", http.MethodPost, "/orders/cancel", map[string]any{"ids": ids}, &struct{}{})
}

func (c *ShiprocketClient) orderPayload(orderID, orderDate string, customer PartyAddress, items []ShipmentItem, dims Dimensions) map[string]any {
	payload := map[string]any{
		"order_id":   orderID,
		"order_date": orderDate,

		"billing_customer_name": customer.Name,
		"billing_phone":         customer.Phone,
		"billing_email":         customer.Email,
		"billing_address":       customer.Line1,
		"billing_address_2":     customer.Line2,
		"billing_city":          customer.City,
		"billing_state":         customer.State,
		"billing_pincode":       customer.Pincode,
		"billing_country":       customer.Country,
		"shipping_is_billing":   true,

		"order_items":    items,
		"payment_method": "Prepaid",
		"length":         dims.Length,
		"breadth":        dims.Breadth,
		"height":         dims.Height,
		"weight":         dims.Weight,
	}
	if c.channelID != "" {
		payload["channel_id"] = c.channelID
	}
	return payload
}

func (c *ShiprocketClient) trackingURL(awbCode string) string {
	return "https://shiprocket.co/tracking/" + url.PathEscape(awbCode)
}

// authed performs an authenticated call, retrying once with a fresh token on 401.
func (c *ShiprocketClient) authed(ctx context.Context, op, method, path string, payload, out any) error {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return err
	}

	err = c.do(ctx, op, method, path, token, payload, out)
	var derr *DownstreamError
	if errors.As(err, &derr) && derr.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		token, err = c.bearerToken(ctx)
		if err != nil {
			return err
		}
		return c.do(ctx, op, method, path, token, payload, out)
	}
	return err
}

func (c *ShiprocketClient) do(ctx context.Context, op, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("shipping: marshal %s payload: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("shipping: build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DownstreamError{Op: op, Err: fmt.Errorf("%w: %v", ErrCourierUnavailable, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &DownstreamError{Op: op, Err: fmt.Errorf("%w: read response: %v", ErrCourierUnavailable, err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DownstreamError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &DownstreamError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
