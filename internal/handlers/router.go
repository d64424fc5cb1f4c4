package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/veyra-commerce/api/internal/platform/auth"
	"github.com/veyra-commerce/api/internal/platform/httpx"
	"github.com/veyra-commerce/api/internal/platform/observability"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// RouterDeps collects everything the HTTP surface needs.
type RouterDeps struct {
	Logger   *zap.Logger
	Verifier *auth.Verifier
	Orders   *OrderHandlers
	Health   *HealthHandlers
}

// NewRouter builds the chi router with shared middleware, health probes, and
// the authenticated order routes.
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if deps.Logger != nil {
		r.Use(observability.RequestLogger(deps.Logger))
	}
	r.Use(observability.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(w, req, httpx.NotFound(fmt.Sprintf("no route for %s", req.URL.Path), nil))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(w, req, httpx.NewError(http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), nil))
	})

	health := deps.Health
	if health == nil {
		health = NewHealthHandlers()
	}
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		api.Route("/orders", func(group chi.Router) {
			if deps.Verifier != nil {
				group.Use(auth.Middleware(deps.Verifier))
			}
			if deps.Orders != nil {
				deps.Orders.Routes(group)
			}
		})
	})

	return r
}
