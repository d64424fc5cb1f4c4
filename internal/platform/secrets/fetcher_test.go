package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubSecretManager struct {
	responses map[string]string
	err       error
	calls     int
}

func (s *stubSecretManager) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	value, ok := s.responses[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "secret version not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (s *stubSecretManager) Close() error { return nil }

func newTestFetcher(t *testing.T, client secretManagerClient, opts ...Option) *Fetcher {
	t.Helper()
	opts = append([]Option{
		WithSecretManagerClient(client),
		WithDefaultProject("veyra-test"),
		WithFallbackFile(""),
	}, opts...)
	f, err := NewFetcher(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	return f
}

func TestResolveFetchesRemoteAndCaches(t *testing.T) {
	client := &stubSecretManager{responses: map[string]string{
		"projects/veyra-test/secrets/gateway-key/versions/latest": "live-secret",
	}}
	f := newTestFetcher(t, client)

	for i := 0; i < 3; i++ {
		value, err := f.Resolve(context.Background(), "secret://gateway-key")
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if value != "live-secret" {
			t.Fatalf("unexpected value %q", value)
		}
	}
	if client.calls != 1 {
		t.Errorf("expected a single remote call, got %d", client.calls)
	}
}

func TestResolveHonoursVersionAndProjectOverrides(t *testing.T) {
	client := &stubSecretManager{responses: map[string]string{
		"projects/other-proj/secrets/courier-pass/versions/7": "pinned",
	}}
	f := newTestFetcher(t, client)

	value, err := f.Resolve(context.Background(), "secret://courier-pass?version=7&project=other-proj")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "pinned" {
		t.Errorf("unexpected value %q", value)
	}
}

func TestResolveFallsBackOnPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	fallback := filepath.Join(dir, "secrets.local")
	if err := os.WriteFile(fallback, []byte("secret://gateway-key=local-value\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	client := &stubSecretManager{err: status.Error(codes.PermissionDenied, "denied")}
	f := newTestFetcher(t, client, WithFallbackFile(fallback))

	value, err := f.Resolve(context.Background(), "secret://gateway-key")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "local-value" {
		t.Errorf("unexpected fallback value %q", value)
	}
}

func TestResolveSurfacesHardErrors(t *testing.T) {
	client := &stubSecretManager{err: status.Error(codes.NotFound, "no such secret")}
	f := newTestFetcher(t, client)

	_, err := f.Resolve(context.Background(), "secret://missing")
	if err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestResolveRejectsMalformedReferences(t *testing.T) {
	f := newTestFetcher(t, &stubSecretManager{})

	for _, ref := range []string{"", "http://nope", "secret://"} {
		if _, err := f.Resolve(context.Background(), ref); err == nil {
			t.Errorf("expected error for reference %q", ref)
		}
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	client := &stubSecretManager{responses: map[string]string{
		"projects/veyra-test/secrets/jwt/versions/latest": "v1",
	}}
	f := newTestFetcher(t, client)

	if _, err := f.Resolve(context.Background(), "secret://jwt"); err != nil {
		t.Fatal(err)
	}
	client.responses["projects/veyra-test/secrets/jwt/versions/latest"] = "v2"
	f.Invalidate("secret://jwt")

	value, err := f.Resolve(context.Background(), "secret://jwt")
	if err != nil {
		t.Fatal(err)
	}
	if value != "v2" {
		t.Errorf("expected rotated value v2, got %q", value)
	}
	if client.calls != 2 {
		t.Errorf("expected 2 remote calls, got %d", client.calls)
	}
}

func TestIsFallbackError(t *testing.T) {
	if !isFallbackError(status.Error(codes.Unavailable, "down")) {
		t.Error("Unavailable should trigger fallback")
	}
	if isFallbackError(status.Error(codes.InvalidArgument, "bad")) {
		t.Error("InvalidArgument should not trigger fallback")
	}
	if isFallbackError(errors.New("plain")) {
		t.Error("plain errors map to codes.Unknown and should not trigger fallback")
	}
}
