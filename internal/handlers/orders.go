package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/blackboard-training/api/internal/domain"
	"github.com/blackboard-training/api/internal/platform/auth"
	"github.com/blackboard-training/api/internal/platform/httpx"
	"github.com/blackboard-training/api/internal/woocommerce"
)

const maxOrderRequestBody = 16 * 1024

type orderGetter interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// OrderHandlers exposes administrative order operations.
type OrderHandlers struct {
	reconciler paymentReconciler
	orders     orderGetter
	verifier   *auth.Verifier
}

// NewOrderHandlers constructs the order handler group.
func NewOrderHandlers(reconciler paymentReconciler, orders orderGetter, verifier *auth.Verifier) *OrderHandlers {
	return &OrderHandlers{reconciler: reconciler, orders: orders, verifier: verifier}
}

// Routes registers order endpoints under the provided router. Both sit behind
// the administrative role guard.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.verifier != nil {
		group = group.With(h.verifier.RequireAdmin())
	}
	group.Get("/orders/{orderID}", h.getOrder)
	group.Post("/orders/{orderID}/complete-payment", h.completePayment)
}

type orderStatusResponse struct {
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
	TransactionID string `json:"transactionId,omitempty"`
	DatePaid      string `json:"datePaid,omitempty"`
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		switch {
		case errors.Is(err, woocommerce.ErrOrderNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order does not exist", http.StatusNotFound))
		case errors.Is(err, woocommerce.ErrUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("upstream_unavailable", "order system unavailable", http.StatusBadGateway))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
		}
		return
	}

	resp := orderStatusResponse{
		OrderID:       order.ID,
		Status:        string(order.Status),
		Currency:      string(order.Currency),
		Total:         order.Total,
		TransactionID: order.TransactionID,
	}
	if order.DatePaid != nil {
		resp.DatePaid = order.DatePaid.UTC().Format(time.RFC3339)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

type completePaymentRequest struct {
	TransactionID string `json:"transactionId"`
	PaymentMethod string `json:"paymentMethod"`
	Amount        int64  `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

type completePaymentResponse struct {
	OrderID          string `json:"orderId"`
	Status           string `json:"status"`
	TransactionID    string `json:"transactionId,omitempty"`
	AlreadyProcessed bool   `json:"alreadyProcessed"`
}

func (h *OrderHandlers) completePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil && !errors.Is(err, errEmptyBody) {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req completePaymentRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	actorID := ""
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		actorID = identity.UserID
	}

	result, err := h.reconciler.Reconcile(ctx, domain.ManualConfirm{
		OrderID:       orderID,
		TransactionID: strings.TrimSpace(req.TransactionID),
		Method:        strings.TrimSpace(req.PaymentMethod),
		Amount:        req.Amount,
		Currency:      domain.ParseCurrency(req.Currency),
		ActorID:       actorID,
	})
	if err != nil {
		switch {
		case errors.Is(err, woocommerce.ErrOrderNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order does not exist", http.StatusNotFound))
		case errors.Is(err, woocommerce.ErrUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("upstream_unavailable", "order system unavailable", http.StatusBadGateway))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, completePaymentResponse{
		OrderID:          result.OrderID,
		Status:           string(result.Status),
		TransactionID:    result.TransactionID,
		AlreadyProcessed: result.AlreadyProcessed,
	})
}
