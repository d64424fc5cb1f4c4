package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestVerifier(t *testing.T, clock func() time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierDeps{
		Secret: "test-signing-secret",
		Issuer: "veyra-commerce",
		Clock:  clock,
	})
	if err != nil {
		t.Fatalf("NewVerifier returned error: %v", err)
	}
	return v
}

func TestVerifyRoundTrip(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, func() time.Time { return now })

	token, err := v.Issue(Principal{UserID: "user_123", Email: "a@b.com"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	principal, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if principal.UserID != "user_123" {
		t.Errorf("unexpected user id %q", principal.UserID)
	}
	if principal.Admin {
		t.Error("plain user should not be admin")
	}
}

func TestVerifyAdminRole(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, func() time.Time { return now })

	token, err := v.Issue(Principal{UserID: "admin_1", Admin: true}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	principal, err := v.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if !principal.Admin {
		t.Error("admin role should survive the round trip")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	clockNow := issuedAt
	v := newTestVerifier(t, func() time.Time { return clockNow })

	token, err := v.Issue(Principal{UserID: "user_123"}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	clockNow = issuedAt.Add(2 * time.Minute)
	if _, err := v.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for expired token, got %v", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	other, err := NewVerifier(VerifierDeps{Secret: "test-signing-secret", Issuer: "someone-else", Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatal(err)
	}
	token, err := other.Issue(Principal{UserID: "user_123"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	v := newTestVerifier(t, func() time.Time { return now })
	if _, err := v.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for foreign issuer, got %v", err)
	}
}

func TestVerifyRejectsMissingToken(t *testing.T) {
	v := newTestVerifier(t, nil)
	if _, err := v.Verify(""); !errors.Is(err, ErrTokenMissing) {
		t.Errorf("expected ErrTokenMissing, got %v", err)
	}
}

func TestMiddlewareAttachesPrincipal(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, func() time.Time { return now })
	token, err := v.Issue(Principal{UserID: "user_42"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	var captured Principal
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if captured.UserID != "user_42" {
		t.Errorf("principal not propagated, got %q", captured.UserID)
	}
}

func TestMiddlewareRejectsBadToken(t *testing.T) {
	v := newTestVerifier(t, nil)
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/status-counts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(WithPrincipal(req.Context(), Principal{UserID: "u", Admin: false})))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(WithPrincipal(req.Context(), Principal{UserID: "u", Admin: true})))
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for admin, got %d", rec.Code)
	}
}
