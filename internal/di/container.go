package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/veyra-commerce/api/internal/handlers"
	"github.com/veyra-commerce/api/internal/payments"
	"github.com/veyra-commerce/api/internal/platform/auth"
	"github.com/veyra-commerce/api/internal/platform/config"
	platformfs "github.com/veyra-commerce/api/internal/platform/firestore"
	"github.com/veyra-commerce/api/internal/platform/jobs"
	"github.com/veyra-commerce/api/internal/platform/observability"
	firestorerepo "github.com/veyra-commerce/api/internal/repositories/firestore"
	"github.com/veyra-commerce/api/internal/services"
	"github.com/veyra-commerce/api/internal/shipping"
)

// Services bundles the service layer assembled by NewContainer.
type Services struct {
	Pricing  *services.PricingEngine
	Checkout *services.CheckoutService
	Payments *services.PaymentService
	Orders   *services.OrderService
	Returns  *services.ReturnService
}

// Container wires configuration, persistence, adapters, services, and the
// HTTP router for runtime use.
type Container struct {
	Config    config.Config
	Logger    *zap.Logger
	Router    chi.Router
	Services  Services
	provider  *platformfs.Provider
	pubsubCli *pubsub.Client
}

// NewContainer constructs the runtime dependency graph from configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		return nil, errors.New("di: logger is required")
	}

	c := &Container{Config: cfg, Logger: logger}

	c.provider = platformfs.NewProvider(cfg.Firestore)
	if _, err := c.provider.Client(ctx); err != nil {
		return nil, fmt.Errorf("di: initialise firestore client: %w", err)
	}

	orderRepo := firestorerepo.NewOrderRepository(c.provider)
	promoRepo := firestorerepo.NewPromoRepository(c.provider)
	catalogRepo := firestorerepo.NewCatalogRepository(c.provider)
	counterRepo := firestorerepo.NewCounterRepository(c.provider)

	gateway, err := payments.NewRazorpayGateway(payments.RazorpayDeps{
		BaseURL:   cfg.Gateway.BaseURL,
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
		Timeout:   cfg.Gateway.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("di: build payment gateway: %w", err)
	}

	courier, err := shipping.NewShiprocketClient(shipping.ShiprocketDeps{
		BaseURL:   cfg.Courier.BaseURL,
		Email:     cfg.Courier.Email,
		Password:  cfg.Courier.Password,
		ChannelID: cfg.Courier.ChannelID,
		TokenTTL:  cfg.Courier.TokenTTL,
		Timeout:   cfg.Courier.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("di: build courier client: %w", err)
	}

	var publisher services.OrderEventPublisher = services.NopEventPublisher{}
	if cfg.Events.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("di: initialise pubsub client: %w", err)
		}
		c.pubsubCli = client
		publisher, err = jobs.NewPubSubOrderEventPublisher(client.Topic(cfg.Events.OrdersTopic))
		if err != nil {
			return nil, fmt.Errorf("di: build event publisher: %w", err)
		}
	}

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		Catalog: catalogRepo,
		Promos:  promoRepo,
		Config: services.PricingConfig{
			FlatShippingFee:       cfg.Pricing.FlatShippingFee,
			FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		},
		Clock:  time.Now,
		Logger: serviceLogger(logger.Named("pricing")),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build pricing engine: %w", err)
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Pricing: pricing,
		Orders:  orderRepo,
		Gateway: gateway,
		Events:  publisher,
		Clock:   time.Now,
		Logger:  serviceLogger(logger.Named("checkout")),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build checkout service: %w", err)
	}

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:  orderRepo,
		Catalog: catalogRepo,
		Promos:  promoRepo,
		Gateway: gateway,
		Courier: courier,
		Events:  publisher,
		Clock:   time.Now,
		Logger:  serviceLogger(logger.Named("payment")),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build payment service: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:  orderRepo,
		Promos:  promoRepo,
		Gateway: gateway,
		Courier: courier,
		Events:  publisher,
		Clock:   time.Now,
		Logger:  serviceLogger(logger.Named("order")),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build order service: %w", err)
	}

	returnSvc, err := services.NewReturnService(services.ReturnServiceDeps{
		Orders:    orderRepo,
		Catalog:   catalogRepo,
		Promos:    promoRepo,
		Counters:  counterRepo,
		Gateway:   gateway,
		Courier:   courier,
		Events:    publisher,
		Warehouse: warehouseAddress(cfg.Warehouse),
		Clock:     time.Now,
		Logger:    serviceLogger(logger.Named("return")),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build return service: %w", err)
	}

	c.Services = Services{
		Pricing:  pricing,
		Checkout: checkout,
		Payments: paymentSvc,
		Orders:   orderSvc,
		Returns:  returnSvc,
	}

	verifier, err := auth.NewVerifier(auth.VerifierDeps{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		AdminSub: cfg.Auth.AdminSub,
	})
	if err != nil {
		return nil, fmt.Errorf("di: build token verifier: %w", err)
	}

	health := handlers.NewHealthHandlers(
		handlers.WithHealthEnvironment(cfg.Environment),
		handlers.WithReadinessCheck("firestore", func(ctx context.Context) error {
			_, err := c.provider.Client(ctx)
			return err
		}),
	)

	c.Router = handlers.NewRouter(handlers.RouterDeps{
		Logger:   logger,
		Verifier: verifier,
		Orders:   handlers.NewOrderHandlers(checkout, paymentSvc, orderSvc, returnSvc),
		Health:   health,
	})

	return c, nil
}

// Close releases the Firestore and Pub/Sub clients.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.pubsubCli != nil {
		if err := c.pubsubCli.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.provider != nil {
		if err := c.provider.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// serviceLogger adapts a zap logger to the service-layer logging callback.
func serviceLogger(logger *zap.Logger) services.Logger {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range observability.SanitizeFields(fields) {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info("service event", zFields...)
	}
}

func warehouseAddress(cfg config.WarehouseConfig) shipping.PartyAddress {
	return shipping.PartyAddress{
		Name:    cfg.Name,
		Phone:   cfg.Phone,
		Email:   cfg.Email,
		Line1:   cfg.Line1,
		Line2:   cfg.Line2,
		City:    cfg.City,
		State:   cfg.State,
		Pincode: cfg.Pincode,
		Country: cfg.Country,
	}
}
