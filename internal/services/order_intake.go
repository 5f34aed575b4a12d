package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/blackboard-training/api/internal/domain"
	"github.com/blackboard-training/api/internal/payments"
	"github.com/blackboard-training/api/internal/woocommerce"
)

// Meta keys stamped onto orders at intake time. The fulfillment side reads
// freebies from meta instead of line items so they never affect totals.
const (
	MetaKeyFreebieItems  = "_freebie_items"
	MetaKeyAppliedCoupon = "_applied_coupon"
	MetaKeyAffiliateID   = "_affiliate_id"
	MetaKeyVATNumber     = "_vat_number"
	MetaKeyVATExempt     = "_vat_exempt"
)

// ErrCouponRejected indicates the submitted coupon failed validation.
var ErrCouponRejected = errors.New("intake: coupon rejected")

type orderCreator interface {
	CreateOrder(ctx context.Context, draft woocommerce.OrderDraft) (domain.Order, error)
}

type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, method string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// OrderIntakeDeps collects the dependencies for NewOrderIntakeService.
type OrderIntakeDeps struct {
	Orders   orderCreator
	Sessions checkoutSessionManager
	Pricing  *PricingEngine
	Coupons  *CouponService
	VAT      *VATService

	// SuccessURL and CancelURL are storefront pages for the Stripe flow.
	// PayPalCaptureURL is this API's own capture endpoint; PayPal appends
	// the order token on redirect.
	SuccessURL       string
	CancelURL        string
	PayPalCaptureURL string

	Clock  func() time.Time
	Logger Logger
}

// OrderIntakeService turns a cart submission into a pending order plus a PSP
// redirect. The order is created unpaid; payment completion arrives later
// through the reconciler.
type OrderIntakeService struct {
	orders   orderCreator
	sessions checkoutSessionManager
	pricing  *PricingEngine
	coupons  *CouponService
	vat      *VATService

	successURL       string
	cancelURL        string
	paypalCaptureURL string

	clock  func() time.Time
	logger Logger
}

// NewOrderIntakeService validates dependencies and constructs the service.
func NewOrderIntakeService(deps OrderIntakeDeps) (*OrderIntakeService, error) {
	if deps.Orders == nil {
		return nil, errors.New("intake: order creator is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("intake: session manager is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("intake: pricing engine is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("intake: coupon service is required")
	}
	if strings.TrimSpace(deps.SuccessURL) == "" || strings.TrimSpace(deps.CancelURL) == "" {
		return nil, errors.New("intake: success and cancel urls are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OrderIntakeService{
		orders:           deps.Orders,
		sessions:         deps.Sessions,
		pricing:          deps.Pricing,
		coupons:          deps.Coupons,
		vat:              deps.VAT,
		successURL:       strings.TrimSpace(deps.SuccessURL),
		cancelURL:        strings.TrimSpace(deps.CancelURL),
		paypalCaptureURL: strings.TrimSpace(deps.PayPalCaptureURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// SubmitOrderCommand captures a checkout submission.
type SubmitOrderCommand struct {
	Lines         []domain.CartLine
	Currency      domain.Currency
	IsReseller    bool
	CouponCode    string
	PaymentMethod string
	Billing       domain.Address
	Shipping      *domain.Address
	CustomerNote  string
	AffiliateID   string
	VATNumber     string
}

// SubmitOrderResult is the outcome of a successful intake.
type SubmitOrderResult struct {
	Order      domain.Order
	PricedCart domain.PricedCart
	PaymentURL string
	SessionID  string
	Provider   string
}

// SubmitOrder validates the coupon, prices the cart server-side, creates a
// pending unpaid order, and opens a PSP session pointing back at it.
func (s *OrderIntakeService) SubmitOrder(ctx context.Context, cmd SubmitOrderCommand) (SubmitOrderResult, error) {
	correlationID := ulid.Make().String()

	var coupon *domain.Coupon
	if strings.TrimSpace(cmd.CouponCode) != "" {
		validation, err := s.coupons.Validate(ctx, cmd.CouponCode, cmd.Lines, CouponCustomer{Email: cmd.Billing.Email})
		if err != nil {
			return SubmitOrderResult{}, err
		}
		if !validation.Valid {
			return SubmitOrderResult{}, fmt.Errorf("%w: %s", ErrCouponRejected, validation.Reason)
		}
		coupon = validation.Coupon
	}

	priced, err := s.pricing.Price(ctx, PriceCartCommand{
		Lines:      cmd.Lines,
		Currency:   cmd.Currency,
		IsReseller: cmd.IsReseller,
		Coupon:     coupon,
	})
	if err != nil {
		return SubmitOrderResult{}, err
	}

	meta := map[string]string{}
	if coupon != nil {
		meta[MetaKeyAppliedCoupon] = coupon.Code
	}
	if affiliateID := strings.TrimSpace(cmd.AffiliateID); affiliateID != "" {
		meta[MetaKeyAffiliateID] = affiliateID
	}
	if s.vat != nil && strings.TrimSpace(cmd.VATNumber) != "" {
		vatResult, err := s.vat.Validate(ctx, cmd.VATNumber)
		if err != nil {
			return SubmitOrderResult{}, err
		}
		meta[MetaKeyVATNumber] = vatResult.CountryCode + vatResult.VATNumber
		if vatResult.Exempt {
			meta[MetaKeyVATExempt] = "yes"
		}
	}
	if freebieMeta := encodeFreebieMeta(priced.Lines); freebieMeta != "" {
		meta[MetaKeyFreebieItems] = freebieMeta
	}

	draft := woocommerce.OrderDraft{
		PaymentMethod:      cmd.PaymentMethod,
		PaymentMethodTitle: paymentMethodTitle(cmd.PaymentMethod),
		Currency:           priced.Currency,
		Billing:            cmd.Billing,
		Shipping:           cmd.Shipping,
		LineItems:          draftLineItems(priced.Lines),
		ShippingTotal:      priced.ShippingEstimate,
		CustomerNote:       cmd.CustomerNote,
		Meta:               meta,
	}

	order, err := s.orders.CreateOrder(ctx, draft)
	if err != nil {
		return SubmitOrderResult{}, fmt.Errorf("intake: create order: %w", err)
	}

	s.logger(ctx, "intake.order.created", map[string]any{
		"correlationId": correlationID,
		"orderId":       order.ID,
		"grandTotal":    priced.GrandTotal,
		"currency":      string(priced.Currency),
		"method":        cmd.PaymentMethod,
	})

	// Offline methods settle outside a PSP; the order stays pending until an
	// administrator confirms receipt.
	if isOfflineMethod(cmd.PaymentMethod) {
		return SubmitOrderResult{
			Order:      order,
			PricedCart: priced,
			Provider:   strings.ToLower(strings.TrimSpace(cmd.PaymentMethod)),
		}, nil
	}

	session, err := s.sessions.CreateCheckoutSession(ctx, cmd.PaymentMethod, payments.CheckoutSessionRequest{
		OrderID:        order.ID,
		Amount:         priced.GrandTotal,
		Currency:       string(priced.Currency),
		CustomerEmail:  cmd.Billing.Email,
		SuccessURL:     s.resolveSuccessURL(cmd.PaymentMethod),
		CancelURL:      s.cancelURL,
		IdempotencyKey: "order-" + order.ID,
		Items:          checkoutItems(priced),
	})
	if err != nil {
		return SubmitOrderResult{}, fmt.Errorf("intake: open payment session for order %s: %w", order.ID, err)
	}

	s.logger(ctx, "intake.session.opened", map[string]any{
		"correlationId": correlationID,
		"orderId":       order.ID,
		"provider":      session.Provider,
		"sessionId":     session.ID,
	})

	return SubmitOrderResult{
		Order:      order,
		PricedCart: priced,
		PaymentURL: session.RedirectURL,
		SessionID:  session.ID,
		Provider:   session.Provider,
	}, nil
}

// resolveSuccessURL points PayPal at this API's capture endpoint; everything
// else goes straight back to the storefront.
func (s *OrderIntakeService) resolveSuccessURL(method string) string {
	if strings.EqualFold(strings.TrimSpace(method), "paypal") && s.paypalCaptureURL != "" {
		return s.paypalCaptureURL
	}
	return s.successURL
}

// draftLineItems maps priced lines to order rows, leaving freebies out.
func draftLineItems(lines []domain.PricedLine) []woocommerce.DraftLineItem {
	items := make([]woocommerce.DraftLineItem, 0, len(lines))
	for _, line := range lines {
		if line.IsFreebie {
			continue
		}
		items = append(items, woocommerce.DraftLineItem{
			ProductID:   line.ProductID,
			VariationID: line.VariationID,
			Quantity:    line.Quantity,
			Subtotal:    line.OriginalPrice * int64(line.Quantity),
			Total:       line.LineTotal(),
		})
	}
	return items
}

type freebieMetaItem struct {
	ProductID       string `json:"productId"`
	Name            string `json:"name"`
	ParentProductID string `json:"parentProductId"`
}

func encodeFreebieMeta(lines []domain.PricedLine) string {
	var items []freebieMetaItem
	for _, line := range lines {
		if !line.IsFreebie {
			continue
		}
		items = append(items, freebieMetaItem{
			ProductID:       line.ProductID,
			Name:            line.Name,
			ParentProductID: line.ParentProductID,
		})
	}
	if len(items) == 0 {
		return ""
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// checkoutItems builds the PSP line items. When a cart-level discount is in
// play the itemised amounts would not sum to the charge, so a single
// collapsed item carries the grand total instead.
func checkoutItems(cart domain.PricedCart) []payments.CheckoutLineItem {
	for _, line := range cart.Lines {
		if line.AllocatedDiscount > 0 {
			return nil
		}
	}

	items := make([]payments.CheckoutLineItem, 0, len(cart.Lines)+1)
	for _, line := range cart.Lines {
		if line.IsFreebie {
			continue
		}
		items = append(items, payments.CheckoutLineItem{
			Name:     line.Name,
			SKU:      line.ProductID,
			Quantity: int64(line.Quantity),
			Amount:   line.EffectivePrice,
		})
	}
	if cart.ShippingEstimate > 0 {
		items = append(items, payments.CheckoutLineItem{
			Name:     "Shipping",
			Quantity: 1,
			Amount:   cart.ShippingEstimate,
		})
	}
	return items
}

func paymentMethodTitle(method string) string {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "paypal":
		return "PayPal"
	case "stripe", "":
		return "Credit card (Stripe)"
	case "bacs", "bank_transfer":
		return "Direct bank transfer"
	default:
		return method
	}
}

func isOfflineMethod(method string) bool {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "bacs", "bank_transfer":
		return true
	}
	return false
}
