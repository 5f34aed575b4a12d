package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/blackboard-training/api/internal/domain"
	"github.com/blackboard-training/api/internal/payments"
	"github.com/blackboard-training/api/internal/platform/httpx"
	"github.com/blackboard-training/api/internal/platform/requestctx"
	"github.com/blackboard-training/api/internal/services"

	"go.uber.org/zap"
)

const maxWebhookBody = 256 * 1024

type stripeWebhookParser interface {
	ParseWebhookEvent(ctx context.Context, payload []byte, signatureHeader string) (domain.StripeWebhookEvent, error)
}

type paymentReconciler interface {
	Reconcile(ctx context.Context, event domain.PaymentEvent) (services.ReconcileResult, error)
}

// PaymentHandlers receives the asynchronous completion channels: the Stripe
// webhook and the PayPal capture redirect.
type PaymentHandlers struct {
	stripe     stripeWebhookParser
	reconciler paymentReconciler
	successURL string
	failureURL string
}

// NewPaymentHandlers constructs the payment completion handlers.
func NewPaymentHandlers(stripe stripeWebhookParser, reconciler paymentReconciler, successURL, failureURL string) *PaymentHandlers {
	return &PaymentHandlers{
		stripe:     stripe,
		reconciler: reconciler,
		successURL: strings.TrimSpace(successURL),
		failureURL: strings.TrimSpace(failureURL),
	}
}

// Routes registers the completion endpoints under the provided router.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/webhooks/stripe", h.stripeWebhook)
	r.Get("/payments/paypal/capture", h.paypalCapture)
}

// stripeWebhook verifies and applies a Stripe delivery. An unverifiable
// signature is rejected before the payload influences anything. Processing
// failures return 5xx so Stripe redelivers; the reconciler makes redelivery
// safe.
func (h *PaymentHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	event, err := h.stripe.ParseWebhookEvent(ctx, body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidSignature):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		case errors.Is(err, payments.ErrEventIgnored):
			writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed webhook payload", http.StatusBadRequest))
		}
		return
	}

	result, err := h.reconciler.Reconcile(ctx, event)
	if err != nil {
		requestctx.Logger(ctx).Error("stripe webhook reconciliation failed",
			zap.String("event_id", event.EventID),
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
		httpx.WriteError(ctx, w, httpx.NewError("reconcile_failed", "payment could not be applied", http.StatusBadGateway))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"received":         true,
		"orderId":          result.OrderID,
		"alreadyProcessed": result.AlreadyProcessed,
	})
}

// paypalCapture handles the customer returning from PayPal approval. The
// capture happens inside the reconciler; the customer only ever sees a
// storefront redirect.
func (h *PaymentHandlers) paypalCapture(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		h.redirectFailure(w, r, "missing_token")
		return
	}

	result, err := h.reconciler.Reconcile(ctx, domain.PayPalCapture{Token: token})
	if err != nil {
		reason := "capture_failed"
		if errors.Is(err, payments.ErrCaptureIncomplete) {
			reason = "payment_declined"
		}
		requestctx.Logger(ctx).Warn("paypal capture failed",
			zap.String("token", token),
			zap.Error(err),
		)
		h.redirectFailure(w, r, reason)
		return
	}

	target := h.successURL
	if parsed, perr := url.Parse(target); perr == nil {
		query := parsed.Query()
		query.Set("order", result.OrderID)
		parsed.RawQuery = query.Encode()
		target = parsed.String()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *PaymentHandlers) redirectFailure(w http.ResponseWriter, r *http.Request, reason string) {
	target := h.failureURL
	if parsed, err := url.Parse(target); err == nil {
		query := parsed.Query()
		query.Set("payment", reason)
		parsed.RawQuery = query.Encode()
		target = parsed.String()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
