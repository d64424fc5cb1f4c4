package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultCurrency = "INR"

// RazorpayGateway talks to the Razorpay Orders API over HTTP with basic-auth
// key/secret credentials. Signature verification is purely local.
type RazorpayGateway struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

// RazorpayDeps collects the inputs required to construct the gateway adapter.
type RazorpayDeps struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewRazorpayGateway constructs the adapter, validating its dependencies.
func NewRazorpayGateway(deps RazorpayDeps) (*RazorpayGateway, error) {
	if strings.TrimSpace(deps.BaseURL) == "" {
		return nil, errors.New("payments: base url is required")
	}
	if strings.TrimSpace(deps.KeyID) == "" || strings.TrimSpace(deps.KeySecret) == "" {
		return nil, errors.New("payments: key id and secret are required")
	}
	client := deps.HTTPClient
	if client == nil {
		timeout := deps.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &RazorpayGateway{
		baseURL:    strings.TrimRight(deps.BaseURL, "/"),
		keyID:      deps.KeyID,
		keySecret:  deps.KeySecret,
		httpClient: client,
	}, nil
}

type razorpayOrderPayload struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// CreateOrder opens a gateway order for the given amount in minor units.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("payments: amount must be positive")
	}
	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	var resp razorpayOrderResponse
	err := g.post(ctx, "create order", "/orders", razorpayOrderPayload{
		Amount:   req.Amount,
		Currency: currency,
		Receipt:  req.Receipt,
	}, &resp)
	if err != nil {
		return GatewayOrder{}, err
	}
	if resp.ID == "" {
		return GatewayOrder{}, &DownstreamError{Op: "create order", Body: "missing order id in response"}
	}
	return GatewayOrder{
		ID:       resp.ID,
		Amount:   resp.Amount,
		Currency: resp.Currency,
		Receipt:  resp.Receipt,
		Status:   resp.Status,
	}, nil
}

// VerifySignature recomputes the HMAC-SHA256 of "orderId|paymentId" with the
// key secret and compares it to the submitted signature in constant time.
func (g *RazorpayGateway) VerifySignature(input VerificationInput) error {
	if input.GatewayOrderID == "" || input.GatewayPaymentID == "" || input.Signature == "" {
		return fmt.Errorf("%w: incomplete confirmation", ErrSignatureMismatch)
	}
	mac := hmac.New(sha256.New, []byte(g.keySecret))
	mac.Write([]byte(input.GatewayOrderID + "|" + input.GatewayPaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(input.Signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

type razorpayRefundPayload struct {
	Amount int64 `json:"amount,omitempty"`
}

type razorpayRefundResponse struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// Refund returns the captured amount to the customer. A zero amount requests
// a full refund.
func (g *RazorpayGateway) Refund(ctx context.Context, paymentID string, amount int64) (RefundResult, error) {
	if strings.TrimSpace(paymentID) == "" {
		return RefundResult{}, errors.New("payments: payment id is required")
	}

	var resp razorpayRefundResponse
	path := fmt.Sprintf("/payments/%s/refund", paymentID)
	err := g.post(ctx, "refund", path, razorpayRefundPayload{Amount: amount}, &resp)
	if err != nil {
		return RefundResult{}, err
	}
	if resp.ID == "" {
		return RefundResult{}, &DownstreamError{Op: "refund", Body: "missing refund id in response"}
	}
	return RefundResult{ID: resp.ID, Amount: resp.Amount, Status: resp.Status}, nil
}

func (g *RazorpayGateway) post(ctx context.Context, op, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payments: marshal %s payload: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("payments: build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, g.keySecret)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &DownstreamError{Op: op, Err: fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &DownstreamError{Op: op, Err: fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DownstreamError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DownstreamError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
