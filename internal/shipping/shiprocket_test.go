package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type courierServer struct {
	t          *testing.T
	logins     atomic.Int64
	awbStatus  int
	trackCalls atomic.Int64
}

func (s *courierServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		s.logins.Add(1)
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["email"] != "ops@example.com" || creds["password"] != "courier-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	})
	mux.HandleFunc("/orders/create/adhoc", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"order_id":    55001,
			"shipment_id": 77001,
			"status":      "NEW",
			"status_code": 1,
		})
	})
	mux.HandleFunc("/courier/assign/awb", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if s.awbStatus != 1 {
			_ = json.NewEncoder(w).Encode(map[string]any{"awb_assign_status": 0})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"awb_assign_status": 1,
			"response": map[string]any{
				"data": map[string]any{
					"awb_code":           "AWB123456",
					"courier_company_id": 24,
					"courier_name":       "Bluedart",
					"freight_charges":    85.5,
					"shipped_by": map[string]any{
						"shipper_company_name": "Veyra Warehouse",
						"shipper_address":      "Plot 4, Industrial Area",
						"shipper_city":         "Gurugram",
						"shipper_state":        "Haryana",
						"shipper_postcode":     "122001",
						"shipper_phone":        "9999999999",
					},
				},
			},
		})
	})
	mux.HandleFunc("/orders/create/return", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"order_id":    55002,
			"shipment_id": 77002,
			"status":      "RETURN PENDING",
		})
	})
	mux.HandleFunc("/orders/create/exchange", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"return_orders":  map[string]any{"shipment_id": 77003},
			"forward_orders": map[string]any{"shipment_id": 77004},
		})
	})
	mux.HandleFunc("/courier/track/awb/AWB123456", func(w http.ResponseWriter, r *http.Request) {
		s.trackCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tracking_data": map[string]any{
				"shipment_status": "In Transit",
				"shipment_track_activities": []map[string]string{
					{"date": "2025-03-11 09:00", "status": "IT", "activity": "Departed hub", "location": "Delhi"},
				},
			},
		})
	})
	mux.HandleFunc("/orders/cancel", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			IDs []int64 `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload.IDs) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	return mux
}

func newTestClient(t *testing.T, serverURL string, clock func() time.Time) *ShiprocketClient {
	t.Helper()
	c, err := NewShiprocketClient(ShiprocketDeps{
		BaseURL:  serverURL,
		Email:    "ops@example.com",
		Password: "courier-pass",
		TokenTTL: time.Hour,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("NewShiprocketClient returned error: %v", err)
	}
	return c
}

func TestCreateShipmentAndTokenReuse(t *testing.T) {
	cs := &courierServer{t: t, awbStatus: 1}
	server := httptest.NewServer(cs.handler())
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	req := ShipmentRequest{
		OrderID:   "ord_1",
		OrderDate: "2025-03-10",
		Customer:  PartyAddress{Name: "A", Phone: "9", Line1: "L1", City: "C", State: "S", Pincode: "110001", Country: "India"},
		Items:     []ShipmentItem{{Name: "Tee", SKU: "ABC-M", Units: 1, UnitPrice: 500}},
	}

	for i := 0; i < 3; i++ {
		result, err := c.CreateShipment(context.Background(), req)
		if err != nil {
			t.Fatalf("CreateShipment returned error: %v", err)
		}
		if result.ShipmentID != "77001" {
			t.Fatalf("unexpected shipment id %q", result.ShipmentID)
		}
	}
	if got := cs.logins.Load(); got != 1 {
		t.Errorf("token should be cached across calls, saw %d logins", got)
	}
}

func TestTokenRefreshAfterExpiry(t *testing.T) {
	cs := &courierServer{t: t, awbStatus: 1}
	server := httptest.NewServer(cs.handler())
	defer server.Close()

	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, server.URL, func() time.Time { return now })

	if _, err := c.CreateShipment(context.Background(), ShipmentRequest{OrderID: "ord_1", Items: []ShipmentItem{{SKU: "s"}}}); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := c.CreateShipment(context.Background(), ShipmentRequest{OrderID: "ord_2", Items: []ShipmentItem{{SKU: "s"}}}); err != nil {
		t.Fatal(err)
	}
	if got := cs.logins.Load(); got != 2 {
		t.Errorf("expected re-login after expiry, saw %d logins", got)
	}
}

func TestAssignAWBSuccess(t *testing.T) {
	cs := &courierServer{t: t, awbStatus: 1}
	server := httptest.NewServer(cs.handler())
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	result, err := c.AssignAWB(context.Background(), "77001")
	if err != nil {
		t.Fatalf("AssignAWB returned error: %v", err)
	}
	if !result.Assigned {
		t.Fatal("expected assigned result")
	}
	if result.AWBCode != "AWB123456" || result.CourierName != "Bluedart" {
		t.Errorf("unexpected result %+v", result)
	}
	if result.ShippedBy.Name != "Veyra Warehouse" {
		t.Errorf("shipper snapshot not captured: %+v", result.ShippedBy)
	}
	if result.FreightCharge != 8550 {
		t.Errorf("freight should be minor units, got %d", result.FreightCharge)
	}
}

func TestAssignAWBDeclinedIsTypedNotError(t *testing.T) {
	cs := &courierServer{t: t, awbStatus: 0}
	server := httptest.NewServer(cs.handler())
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	result, err := c.AssignAWB(context.Background(), "77001")
	if err != nil {
		t.Fatalf("declined assignment should not error: %v", err)
	}
	if result.Assigned {
		t.Error("expected unassigned result")
	}
	if result.FailureReason == "" {
		t.Error("expected a failure reason")
	}
}

func TestCreateExchangeReturnsBothLegs(t *testing.T) {
	cs := &courierServer{t: t, awbStatus: 1}
	server := httptest.NewServer(cs.handler())
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	result, err := c.CreateExchange(context.Background(), ExchangeRequest{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("CreateExchange returned error: %v", err)
	}
	if result.ReturnShipmentID != "77003" || result.ForwardShipmentID != "77004" {
		t.Errorf("unexpected legs %+v", result)
	}
}

func TestTrack(t *testing.T) {
	cs := &courierServer{t: t, awbStatus: 1}
	server := httptest.NewServer(cs.handler())
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	result, err := c.Track(context.Background(), "AWB123456")
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	if result.CurrentStatus != "In Transit" || len(result.Events) != 1 {
		t.Errorf("unexpected tracking result %+v", result)
	}
}

func TestCancelOrdersValidatesIDs(t *testing.T) {
	cs := &courierServer{t: t, awbStatus: 1}
	server := httptest.NewServer(cs.handler())
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	if err := c.CancelOrders(context.Background(), []string{"55001"}); err != nil {
		t.Errorf("CancelOrders returned error: %v", err)
	}
	if err := c.CancelOrders(context.Background(), []string{"not-a-number"}); err == nil {
		t.Error("expected error for non-numeric courier order id")
	}
	if err := c.CancelOrders(context.Background(), nil); err == nil {
		t.Error("expected error for empty id list")
	}
}
