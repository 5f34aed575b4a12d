package di

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blackboard-training/api/internal/handlers"
	"github.com/blackboard-training/api/internal/payments"
	"github.com/blackboard-training/api/internal/platform/auth"
	"github.com/blackboard-training/api/internal/platform/config"
	"github.com/blackboard-training/api/internal/platform/observability"
	"github.com/blackboard-training/api/internal/services"
	"github.com/blackboard-training/api/internal/vies"
	"github.com/blackboard-training/api/internal/woocommerce"
)

// Services bundles the service layer assembled by NewContainer.
type Services struct {
	Pricing    *services.PricingEngine
	Coupons    *services.CouponService
	VAT        *services.VATService
	Carts      services.CartStore
	Intake     *services.OrderIntakeService
	Reconciler *services.Reconciler
	Affiliates *services.AffiliateService
}

// Handlers bundles the HTTP handler groups ready for route registration.
// Orders and Affiliates are nil when no JWT secret is configured, keeping
// the administrative surface unreachable rather than unguarded.
type Handlers struct {
	Checkout   *handlers.CheckoutHandlers
	Payments   *handlers.PaymentHandlers
	Orders     *handlers.OrderHandlers
	Affiliates *handlers.AffiliateHandlers
	Health     *handlers.HealthHandlers
}

// Container wires clients, services, and handlers for runtime use.
type Container struct {
	Config   config.Config
	Logger   *zap.Logger
	Orders   *woocommerce.Client
	Registry *vies.Client
	Verifier *auth.Verifier
	Payments *payments.Manager
	Stripe   *payments.StripeProvider
	PayPal   *payments.PayPalProvider

	Services Services
	Handlers Handlers
}

// NewContainer constructs the runtime dependency graph from configuration.
func NewContainer(cfg config.Config, logger *zap.Logger, build handlers.BuildInfo) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	eventLogger := observability.EventLogger(logger)

	orders, err := woocommerce.NewClient(woocommerce.Config{
		BaseURL:        cfg.WooCommerce.BaseURL,
		ConsumerKey:    cfg.WooCommerce.ConsumerKey,
		ConsumerSecret: cfg.WooCommerce.ConsumerSecret,
		Timeout:        cfg.WooCommerce.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build woocommerce client: %w", err)
	}

	registry, err := vies.NewClient(vies.Config{
		BaseURL: cfg.VAT.VIESBaseURL,
		Timeout: cfg.VAT.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build vies client: %w", err)
	}

	var verifier *auth.Verifier
	if strings.TrimSpace(cfg.Auth.JWTSecret) != "" {
		verifier, err = auth.NewVerifier(cfg.Auth.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("build jwt verifier: %w", err)
		}
	} else {
		logger.Warn("auth: no jwt secret configured; administrative endpoints are disabled")
	}

	if strings.TrimSpace(cfg.PSP.StripeAPIKey) == "" {
		return nil, errors.New("stripe api key is required")
	}
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        eventLogger,
		Clock:         time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build stripe provider: %w", err)
	}

	providers := map[string]payments.Provider{"stripe": stripeProvider}

	var paypalProvider *payments.PayPalProvider
	if strings.TrimSpace(cfg.PSP.PayPalClientID) != "" && strings.TrimSpace(cfg.PSP.PayPalSecret) != "" {
		paypalProvider, err = payments.NewPayPalProvider(payments.PayPalProviderConfig{
			ClientID: cfg.PSP.PayPalClientID,
			Secret:   cfg.PSP.PayPalSecret,
			BaseURL:  cfg.PSP.PayPalBaseURL,
			Logger:   eventLogger,
			Clock:    time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("build paypal provider: %w", err)
		}
		providers["paypal"] = paypalProvider
	}

	paymentManager, err := payments.NewManager(providers)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}

	svc, err := buildServices(cfg, eventLogger, orders, registry, paymentManager, paypalProvider)
	if err != nil {
		return nil, err
	}

	successURL := joinURL(cfg.Storefront.BaseURL, cfg.Storefront.OrderSuccessPath)
	failureURL := joinURL(cfg.Storefront.BaseURL, cfg.Storefront.CheckoutPath)

	h := Handlers{
		Checkout: handlers.NewCheckoutHandlers(svc.Intake, svc.Pricing, svc.Coupons, svc.VAT, svc.Carts),
		Payments: handlers.NewPaymentHandlers(stripeProvider, svc.Reconciler, successURL, failureURL),
		Health: handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(build),
			handlers.WithReadinessChecks(handlers.ReadinessCheck{
				Name:  "woocommerce",
				Check: orders.Ping,
			}),
		),
	}
	if verifier != nil {
		h.Orders = handlers.NewOrderHandlers(svc.Reconciler, orders, verifier)
		h.Affiliates = handlers.NewAffiliateHandlers(svc.Affiliates, verifier)
	}

	return &Container{
		Config:   cfg,
		Logger:   logger,
		Orders:   orders,
		Registry: registry,
		Verifier: verifier,
		Payments: paymentManager,
		Stripe:   stripeProvider,
		PayPal:   paypalProvider,
		Services: svc,
		Handlers: h,
	}, nil
}

func buildServices(
	cfg config.Config,
	eventLogger services.Logger,
	orders *woocommerce.Client,
	registry *vies.Client,
	sessions *payments.Manager,
	paypal *payments.PayPalProvider,
) (Services, error) {
	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		ShippingEstimate: cfg.Pricing.ShippingEstimate,
		FreebieProductID: cfg.Pricing.FreebieProductID,
		FreebieName:      cfg.Pricing.FreebieProduct,
		Clock:            time.Now,
		Logger:           eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	coupons, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: orders,
		Clock:   time.Now,
		Logger:  eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}

	vat, err := services.NewVATService(services.VATServiceDeps{
		Registry:    registry,
		HomeCountry: cfg.VAT.HomeCountry,
		Logger:      eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build vat service: %w", err)
	}

	affiliates, err := services.NewAffiliateService(services.AffiliateServiceDeps{
		DefaultRateBps: cfg.Affiliate.DefaultRateBps,
		Clock:          time.Now,
		Logger:         eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build affiliate service: %w", err)
	}

	reconcilerDeps := services.ReconcilerDeps{
		Orders:    orders,
		Publisher: affiliates,
		Clock:     time.Now,
		Logger:    eventLogger,
	}
	if paypal != nil {
		reconcilerDeps.PayPal = paypal
	}
	reconciler, err := services.NewReconciler(reconcilerDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build reconciler: %w", err)
	}

	publicURL := strings.TrimSpace(cfg.Server.PublicURL)
	if publicURL == "" {
		publicURL = cfg.Storefront.BaseURL
	}

	intake, err := services.NewOrderIntakeService(services.OrderIntakeDeps{
		Orders:           orders,
		Sessions:         sessions,
		Pricing:          pricing,
		Coupons:          coupons,
		VAT:              vat,
		SuccessURL:       joinURL(cfg.Storefront.BaseURL, cfg.Storefront.OrderSuccessPath),
		CancelURL:        joinURL(cfg.Storefront.BaseURL, cfg.Storefront.CheckoutPath),
		PayPalCaptureURL: joinURL(publicURL, "/api/v1/payments/paypal/capture"),
		Clock:            time.Now,
		Logger:           eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order intake service: %w", err)
	}

	return Services{
		Pricing:    pricing,
		Coupons:    coupons,
		VAT:        vat,
		Carts:      services.NewMemoryCartStore(cfg.Pricing.CartTTL, time.Now),
		Intake:     intake,
		Reconciler: reconciler,
		Affiliates: affiliates,
	}, nil
}

func joinURL(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	path = strings.TrimSpace(path)
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
