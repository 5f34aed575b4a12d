package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	"github.com/blackboard-training/api/internal/domain"
	"github.com/blackboard-training/api/internal/payments"
	"github.com/blackboard-training/api/internal/woocommerce"
)

var (
	// ErrUnknownEvent indicates a payment event type the reconciler does not handle.
	ErrUnknownEvent = errors.New("reconcile: unknown payment event")
	// ErrOrderUnresolved indicates the completion signal carries no usable order id.
	ErrOrderUnresolved = errors.New("reconcile: order id unresolved")
)

// OrderPaidEvent is emitted exactly once per order transition to paid.
type OrderPaidEvent struct {
	OrderID       string
	Amount        int64
	Currency      domain.Currency
	Source        domain.PaymentSource
	TransactionID string
	AffiliateID   string
	PaidAt        time.Time
}

// OrderPaidPublisher receives paid-order notifications. Publish failures must
// not fail the reconciliation; the order state is already committed.
type OrderPaidPublisher interface {
	Publish(ctx context.Context, event OrderPaidEvent)
}

type orderReadWriter interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	UpdateOrder(ctx context.Context, orderID string, update woocommerce.OrderUpdate) (domain.Order, error)
	AddOrderNote(ctx context.Context, orderID, note string) error
}

type paypalCapturer interface {
	Capture(ctx context.Context, token string) (payments.CaptureResult, error)
}

// ReconcilerDeps collects the dependencies for NewReconciler.
type ReconcilerDeps struct {
	Orders    orderReadWriter
	PayPal    paypalCapturer
	Publisher OrderPaidPublisher
	Clock     func() time.Time
	Logger    Logger
}

// Reconciler is the single place where a payment signal becomes an order
// state change. All channels converge here so the transition logic cannot
// drift apart between them.
type Reconciler struct {
	orders    orderReadWriter
	paypal    paypalCapturer
	publisher OrderPaidPublisher
	sanitizer *bluemonday.Policy
	clock     func() time.Time
	logger    Logger
}

// NewReconciler validates dependencies and constructs a Reconciler.
func NewReconciler(deps ReconcilerDeps) (*Reconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconcile: order client is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Reconciler{
		orders:    deps.Orders,
		paypal:    deps.PayPal,
		publisher: deps.Publisher,
		sanitizer: bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ReconcileResult reports what a reconciliation run did.
type ReconcileResult struct {
	OrderID          string
	Status           domain.OrderStatus
	TransactionID    string
	Source           domain.PaymentSource
	AlreadyProcessed bool
}

// Reconcile applies a completion signal to its order. The order is read
// before any write; a terminal status makes the whole call a no-op, which is
// what makes duplicate deliveries and racing channels safe.
func (r *Reconciler) Reconcile(ctx context.Context, event domain.PaymentEvent) (ReconcileResult, error) {
	if r == nil {
		return ReconcileResult{}, errors.New("reconcile: reconciler is nil")
	}
	correlationID := ulid.Make().String()

	resolved, err := r.resolveEvent(ctx, event)
	if err != nil {
		return ReconcileResult{}, err
	}

	r.logger(ctx, "reconcile.started", map[string]any{
		"correlationId": correlationID,
		"orderId":       resolved.orderID,
		"source":        string(event.Source()),
	})

	order, err := r.orders.GetOrder(ctx, resolved.orderID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile: load order %s: %w", resolved.orderID, err)
	}

	if order.Status.IsTerminal() {
		r.logger(ctx, "reconcile.noop", map[string]any{
			"correlationId": correlationID,
			"orderId":       order.ID,
			"status":        string(order.Status),
			"source":        string(event.Source()),
		})
		return ReconcileResult{
			OrderID:          order.ID,
			Status:           order.Status,
			TransactionID:    order.TransactionID,
			Source:           event.Source(),
			AlreadyProcessed: true,
		}, nil
	}

	if resolved.amount > 0 && order.Total > 0 && resolved.amount != order.Total {
		r.logger(ctx, "reconcile.amount_mismatch", map[string]any{
			"correlationId": correlationID,
			"orderId":       order.ID,
			"orderTotal":    order.Total,
			"captured":      resolved.amount,
		})
	}

	now := r.clock()
	paid := true
	updated, err := r.orders.UpdateOrder(ctx, order.ID, woocommerce.OrderUpdate{
		Status:        domain.OrderStatusProcessing,
		SetPaid:       &paid,
		TransactionID: resolved.transactionID,
		DatePaid:      &now,
	})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile: mark order %s paid: %w", order.ID, err)
	}

	r.logger(ctx, "reconcile.order.paid", map[string]any{
		"correlationId": correlationID,
		"orderId":       updated.ID,
		"status":        string(updated.Status),
		"transactionId": resolved.transactionID,
		"source":        string(event.Source()),
	})

	// the payment is committed; a failed note must not undo that
	if noteErr := r.orders.AddOrderNote(ctx, updated.ID, r.auditNote(resolved, now)); noteErr != nil {
		r.logger(ctx, "reconcile.note.failed", map[string]any{
			"correlationId": correlationID,
			"orderId":       updated.ID,
			"error":         noteErr.Error(),
		})
	}

	if r.publisher != nil {
		r.publisher.Publish(ctx, OrderPaidEvent{
			OrderID:       updated.ID,
			Amount:        updated.Total,
			Currency:      updated.Currency,
			Source:        event.Source(),
			TransactionID: resolved.transactionID,
			AffiliateID:   order.MetaValue(MetaKeyAffiliateID),
			PaidAt:        now,
		})
	}

	return ReconcileResult{
		OrderID:       updated.ID,
		Status:        updated.Status,
		TransactionID: resolved.transactionID,
		Source:        event.Source(),
	}, nil
}

type resolvedEvent struct {
	orderID       string
	transactionID string
	amount        int64
	detail        string
	actorID       string
}

// resolveEvent normalises the channel-specific signal. For PayPal this is
// where the capture call happens, so a declined capture never reaches the
// order at all.
func (r *Reconciler) resolveEvent(ctx context.Context, event domain.PaymentEvent) (resolvedEvent, error) {
	switch e := event.(type) {
	case domain.StripeWebhookEvent:
		txn := e.PaymentIntentID
		if txn == "" {
			txn = e.SessionID
		}
		if strings.TrimSpace(e.OrderID) == "" {
			return resolvedEvent{}, fmt.Errorf("%w: stripe event %s", ErrOrderUnresolved, e.EventID)
		}
		return resolvedEvent{
			orderID:       e.OrderID,
			transactionID: txn,
			detail:        fmt.Sprintf("Stripe checkout completed (event %s)", e.EventID),
		}, nil

	case domain.PayPalCapture:
		if r.paypal == nil {
			return resolvedEvent{}, errors.New("reconcile: paypal capturer not configured")
		}
		capture, err := r.paypal.Capture(ctx, e.Token)
		if err != nil {
			return resolvedEvent{}, fmt.Errorf("reconcile: paypal capture: %w", err)
		}
		return resolvedEvent{
			orderID:       capture.OrderID,
			transactionID: capture.CaptureID,
			amount:        capture.Amount,
			detail:        fmt.Sprintf("PayPal capture %s completed", capture.CaptureID),
		}, nil

	case domain.ManualConfirm:
		if strings.TrimSpace(e.OrderID) == "" {
			return resolvedEvent{}, fmt.Errorf("%w: manual confirmation", ErrOrderUnresolved)
		}
		method := strings.TrimSpace(e.Method)
		if method == "" {
			method = "manual"
		}
		return resolvedEvent{
			orderID:       e.OrderID,
			transactionID: e.TransactionID,
			amount:        e.Amount,
			detail:        fmt.Sprintf("Payment confirmed manually via %s", method),
			actorID:       e.ActorID,
		}, nil
	}
	return resolvedEvent{}, fmt.Errorf("%w: %T", ErrUnknownEvent, event)
}

// auditNote builds the human-readable trail entry. Free-text parts pass
// through an HTML sanitiser since notes render in the admin UI.
func (r *Reconciler) auditNote(resolved resolvedEvent, paidAt time.Time) string {
	note := fmt.Sprintf("%s. Transaction %s, marked paid at %s.",
		resolved.detail,
		resolved.transactionID,
		paidAt.Format(time.RFC3339),
	)
	if resolved.actorID != "" {
		note += fmt.Sprintf(" Confirmed by %s.", resolved.actorID)
	}
	return strings.TrimSpace(r.sanitizer.Sanitize(note))
}
