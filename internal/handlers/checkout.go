package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/blackboard-training/api/internal/domain"
	"github.com/blackboard-training/api/internal/payments"
	"github.com/blackboard-training/api/internal/platform/auth"
	"github.com/blackboard-training/api/internal/platform/httpx"
	"github.com/blackboard-training/api/internal/services"
	"github.com/blackboard-training/api/internal/woocommerce"
)

const maxCheckoutRequestBody = 64 * 1024

// CheckoutHandlers exposes pricing, validation, and order submission.
type CheckoutHandlers struct {
	intake  *services.OrderIntakeService
	pricing *services.PricingEngine
	coupons *services.CouponService
	vat     *services.VATService
	carts   services.CartStore
}

// NewCheckoutHandlers constructs the checkout handler group.
func NewCheckoutHandlers(
	intake *services.OrderIntakeService,
	pricing *services.PricingEngine,
	coupons *services.CouponService,
	vat *services.VATService,
	carts services.CartStore,
) *CheckoutHandlers {
	return &CheckoutHandlers{
		intake:  intake,
		pricing: pricing,
		coupons: coupons,
		vat:     vat,
		carts:   carts,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/checkout", h.submitOrder)
	r.Post("/checkout/price", h.priceCart)
	r.Post("/coupons/validate", h.validateCoupon)
	r.Post("/vat/validate", h.validateVAT)
}

type priceCartRequest struct {
	CartID     string            `json:"cartId,omitempty"`
	Lines      []domain.CartLine `json:"lines"`
	Currency   string            `json:"currency"`
	CouponCode string            `json:"couponCode,omitempty"`
}

type priceCartResponse struct {
	CartID string            `json:"cartId"`
	Cart   domain.PricedCart `json:"cart"`
}

func (h *CheckoutHandlers) priceCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req priceCartRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	lines, ok := h.resolveLines(ctx, w, req.CartID, req.Lines)
	if !ok {
		return
	}

	identity, _ := auth.IdentityFromContext(ctx)

	var coupon *domain.Coupon
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		validation, err := h.coupons.Validate(ctx, code, lines, couponCustomer(identity, ""))
		if err != nil {
			writeCheckoutError(ctx, w, err)
			return
		}
		if !validation.Valid {
			httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", "coupon cannot be applied", http.StatusUnprocessableEntity).
				WithDetails(map[string]any{"reason": string(validation.Reason)}))
			return
		}
		coupon = validation.Coupon
	}

	priced, err := h.pricing.Price(ctx, services.PriceCartCommand{
		Lines:      lines,
		Currency:   domain.ParseCurrency(req.Currency),
		IsReseller: identity.IsReseller(),
		Coupon:     coupon,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	stored, err := h.carts.Save(ctx, services.StoredCart{
		ID:         strings.TrimSpace(req.CartID),
		Lines:      lines,
		Currency:   priced.Currency,
		CouponCode: priced.CouponCode,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, priceCartResponse{CartID: stored.ID, Cart: priced})
}

type submitOrderRequest struct {
	CartID        string            `json:"cartId,omitempty"`
	Lines         []domain.CartLine `json:"lines,omitempty"`
	Currency      string            `json:"currency"`
	CouponCode    string            `json:"couponCode,omitempty"`
	PaymentMethod string            `json:"paymentMethod"`
	Billing       domain.Address    `json:"billing"`
	Shipping      *domain.Address   `json:"shipping,omitempty"`
	CustomerNote  string            `json:"customerNote,omitempty"`
	AffiliateID   string            `json:"affiliateId,omitempty"`
	VATNumber     string            `json:"vatNumber,omitempty"`
}

type submitOrderResponse struct {
	OrderID    string            `json:"orderId"`
	OrderKey   string            `json:"orderKey,omitempty"`
	PaymentURL string            `json:"paymentUrl"`
	Provider   string            `json:"provider"`
	SessionID  string            `json:"sessionId"`
	Cart       domain.PricedCart `json:"cart"`
}

func (h *CheckoutHandlers) submitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req submitOrderRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	lines, ok := h.resolveLines(ctx, w, req.CartID, req.Lines)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Billing.Email) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "billing email is required", http.StatusBadRequest))
		return
	}

	couponCode := strings.TrimSpace(req.CouponCode)
	if couponCode == "" && strings.TrimSpace(req.CartID) != "" {
		if stored, err := h.carts.Load(ctx, req.CartID); err == nil {
			couponCode = stored.CouponCode
		}
	}

	identity, _ := auth.IdentityFromContext(ctx)
	result, err := h.intake.SubmitOrder(ctx, services.SubmitOrderCommand{
		Lines:         lines,
		Currency:      domain.ParseCurrency(req.Currency),
		IsReseller:    identity.IsReseller(),
		CouponCode:    couponCode,
		PaymentMethod: req.PaymentMethod,
		Billing:       req.Billing,
		Shipping:      req.Shipping,
		CustomerNote:  req.CustomerNote,
		AffiliateID:   req.AffiliateID,
		VATNumber:     req.VATNumber,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	if cartID := strings.TrimSpace(req.CartID); cartID != "" {
		_ = h.carts.Delete(ctx, cartID)
	}

	writeJSONResponse(w, http.StatusCreated, submitOrderResponse{
		OrderID:    result.Order.ID,
		OrderKey:   result.Order.OrderKey,
		PaymentURL: result.PaymentURL,
		Provider:   result.Provider,
		SessionID:  result.SessionID,
		Cart:       result.PricedCart,
	})
}

type validateCouponRequest struct {
	CouponCode string            `json:"couponCode"`
	CartItems  []domain.CartLine `json:"cartItems,omitempty"`
	CustomerID string            `json:"customerId,omitempty"`
}

type validateCouponResponse struct {
	Success bool           `json:"success"`
	Coupon  *domain.Coupon `json:"coupon,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (h *CheckoutHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req validateCouponRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	identity, _ := auth.IdentityFromContext(ctx)
	validation, err := h.coupons.Validate(ctx, req.CouponCode, req.CartItems, couponCustomer(identity, req.CustomerID))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, validateCouponResponse{
		Success: validation.Valid,
		Coupon:  validation.Coupon,
		Error:   string(validation.Reason),
	})
}

type validateVATRequest struct {
	VATNumber   string `json:"vatNumber"`
	CountryCode string `json:"countryCode,omitempty"`
}

type validateVATResponse struct {
	Valid              bool   `json:"valid"`
	Exempt             bool   `json:"exempt"`
	CountryCode        string `json:"countryCode,omitempty"`
	Name               string `json:"name,omitempty"`
	FallbackValidation bool   `json:"fallbackValidation,omitempty"`
	ServiceUnavailable bool   `json:"serviceUnavailable,omitempty"`
	Reason             string `json:"reason,omitempty"`
}

func (h *CheckoutHandlers) validateVAT(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req validateVATRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	vatID := strings.TrimSpace(req.VATNumber)
	if cc := strings.ToUpper(strings.TrimSpace(req.CountryCode)); cc != "" && !strings.HasPrefix(strings.ToUpper(vatID), cc) {
		vatID = cc + vatID
	}

	result, err := h.vat.Validate(ctx, vatID)
	if err != nil {
		if errors.Is(err, services.ErrInvalidVATFormat) {
			writeJSONResponse(w, http.StatusOK, validateVATResponse{Reason: "invalid_format"})
			return
		}
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, validateVATResponse{
		Valid:              result.Valid,
		Exempt:             result.Exempt,
		CountryCode:        result.CountryCode,
		Name:               result.Name,
		FallbackValidation: result.UsedFallback,
		ServiceUnavailable: result.UsedFallback,
	})
}

// couponCustomer merges the authenticated identity with a client-supplied
// customer id. The email always comes from the verified token, never the body.
func couponCustomer(identity *auth.Identity, customerID string) services.CouponCustomer {
	customer := services.CouponCustomer{ID: strings.TrimSpace(customerID)}
	if identity != nil {
		customer.Email = identity.Email
		if customer.ID == "" {
			customer.ID = identity.UserID
		}
	}
	return customer
}

func (h *CheckoutHandlers) decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

// resolveLines prefers explicit lines, falling back to a stored cart.
func (h *CheckoutHandlers) resolveLines(ctx context.Context, w http.ResponseWriter, cartID string, lines []domain.CartLine) ([]domain.CartLine, bool) {
	if len(lines) > 0 {
		return lines, true
	}
	if cartID = strings.TrimSpace(cartID); cartID != "" {
		stored, err := h.carts.Load(ctx, cartID)
		if err != nil {
			if errors.Is(err, services.ErrCartNotFound) {
				httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart expired or unknown", http.StatusNotFound))
				return nil, false
			}
			writeCheckoutError(ctx, w, err)
			return nil, false
		}
		return stored.Lines, true
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "lines or cartId is required", http.StatusBadRequest))
	return nil, false
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCouponRejected):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrEmptyCart), errors.Is(err, services.ErrInvalidCart):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_cart", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartIntegrity):
		httpx.WriteError(ctx, w, httpx.NewError("cart_integrity_violation", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrNoPrice):
		httpx.WriteError(ctx, w, httpx.NewError("price_unavailable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrInvalidVATFormat):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_vat_number", err.Error(), http.StatusBadRequest))
	case errors.Is(err, payments.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_payment_method", err.Error(), http.StatusBadRequest))
	case errors.Is(err, woocommerce.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_unavailable", "order system unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}
