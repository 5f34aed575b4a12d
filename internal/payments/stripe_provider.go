package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/blackboard-training/api/internal/domain"
)

var (
	// ErrInvalidSignature is returned for webhook deliveries whose signature
	// does not verify. Nothing derived from such a payload may be trusted.
	ErrInvalidSignature = errors.New("stripe: invalid webhook signature")
	// ErrEventIgnored is returned for verified events of types the pipeline
	// does not act on. The delivery is acknowledged but nothing happens.
	ErrEventIgnored = errors.New("stripe: event type ignored")
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey         string
	WebhookSecret  string
	Backends       *stripe.Backends
	Logger         Logger
	Clock          func() time.Time
	Sessions       stripeSessionAPI
	ConstructEvent func(payload []byte, header, secret string) (stripe.Event, error)
}

// StripeProvider creates Stripe Checkout sessions and verifies webhook
// deliveries for the reconciler.
type StripeProvider struct {
	sessions       stripeSessionAPI
	webhookSecret  string
	constructEvent func(payload []byte, header, secret string) (stripe.Event, error)
	clock          func() time.Time
	logger         Logger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	constructEvent := cfg.ConstructEvent
	if constructEvent == nil {
		constructEvent = webhook.ConstructEvent
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		sessions:       sessions,
		webhookSecret:  strings.TrimSpace(cfg.WebhookSecret),
		constructEvent: constructEvent,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session. The order id is
// stamped into both session and payment intent metadata so the webhook can
// resolve it later.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return CheckoutSession{}, errors.New("stripe: order id is required")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["order_id"] = strings.TrimSpace(req.OrderID)
	params.Metadata = metadata
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: metadata,
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max64(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{"sku": item.SKU}
		}
		lineItems = append(lineItems, line)
	}
	if len(lineItems) == 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order"),
				},
			},
		})
	}
	params.LineItems = lineItems

	session, err := p.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.OrderID,
		"currency":  session.Currency,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return CheckoutSession{
		ID:          session.ID,
		Provider:    "stripe",
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

// ParseWebhookEvent verifies the delivery signature and extracts a completion
// signal. Signature verification happens before the payload is interpreted in
// any way. Verified events of other types return ErrEventIgnored.
func (p *StripeProvider) ParseWebhookEvent(ctx context.Context, payload []byte, signatureHeader string) (domain.StripeWebhookEvent, error) {
	if p == nil {
		return domain.StripeWebhookEvent{}, errors.New("stripe: provider is nil")
	}

	event, err := p.constructEvent(payload, signatureHeader, p.webhookSecret)
	if err != nil {
		return domain.StripeWebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if string(event.Type) != "checkout.session.completed" {
		p.logger(ctx, "payments.stripe.webhook.ignored", map[string]any{
			"eventId": event.ID,
			"type":    string(event.Type),
		})
		return domain.StripeWebhookEvent{}, fmt.Errorf("%w: %s", ErrEventIgnored, event.Type)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return domain.StripeWebhookEvent{}, fmt.Errorf("stripe: decode checkout session: %w", err)
	}

	orderID := strings.TrimSpace(session.Metadata["order_id"])
	if orderID == "" {
		return domain.StripeWebhookEvent{}, fmt.Errorf("stripe: event %s session %s has no order_id metadata", event.ID, session.ID)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	p.logger(ctx, "payments.stripe.webhook.verified", map[string]any{
		"eventId":   event.ID,
		"sessionId": session.ID,
		"orderId":   orderID,
	})

	return domain.StripeWebhookEvent{
		EventID:         event.ID,
		SessionID:       session.ID,
		PaymentIntentID: intentID,
		OrderID:         orderID,
	}, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
