package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/veyra-commerce/api/internal/platform/httpx"
)

var (
	// ErrTokenInvalid indicates the bearer token failed signature or claim checks.
	ErrTokenInvalid = errors.New("auth: token invalid")
	// ErrTokenMissing indicates no bearer token was supplied.
	ErrTokenMissing = errors.New("auth: token missing")
)

type principalContextKey struct{}

// Principal identifies the authenticated caller of a request.
type Principal struct {
	UserID string
	Email  string
	Admin  bool
}

// Claims is the JWT claim set issued to storefront and admin users.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 bearer tokens against the shared signing secret.
type Verifier struct {
	secret   []byte
	issuer   string
	adminSub string
	now      func() time.Time
}

// VerifierDeps collects the inputs required to construct a Verifier.
type VerifierDeps struct {
	Secret   string
	Issuer   string
	AdminSub string
	Clock    func() time.Time
}

// NewVerifier constructs a Verifier, validating its dependencies.
func NewVerifier(deps VerifierDeps) (*Verifier, error) {
	if strings.TrimSpace(deps.Secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Verifier{
		secret:   []byte(deps.Secret),
		issuer:   strings.TrimSpace(deps.Issuer),
		adminSub: strings.TrimSpace(deps.AdminSub),
		now:      clock,
	}, nil
}

// Verify parses and validates the raw token, returning the caller principal.
func (v *Verifier) Verify(tokenString string) (Principal, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Principal{}, ErrTokenMissing
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return Principal{}, ErrTokenInvalid
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return Principal{}, fmt.Errorf("%w: unexpected issuer %q", ErrTokenInvalid, claims.Issuer)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	admin := strings.EqualFold(claims.Role, "admin")
	if v.adminSub != "" && subject == v.adminSub {
		admin = true
	}
	return Principal{UserID: subject, Email: claims.Email, Admin: admin}, nil
}

// Issue signs a token for the given principal. Used by tests and local tooling.
func (v *Verifier) Issue(p Principal, ttl time.Duration) (string, error) {
	now := v.now()
	role := ""
	if p.Admin {
		role = "admin"
	}
	claims := Claims{
		Email: p.Email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// WithPrincipal stores the principal in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFrom retrieves the principal stored by the middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// Middleware authenticates requests via the Authorization bearer header.
func Middleware(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := verifier.Verify(bearerToken(r))
			if err != nil {
				httpx.WriteError(w, r, httpx.Unauthorized("authentication required", err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireAdmin rejects requests whose principal lacks the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFrom(r.Context())
		if !ok || !principal.Admin {
			httpx.WriteError(w, r, httpx.Forbidden("admin access required", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
