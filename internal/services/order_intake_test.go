package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/blackboard-training/api/internal/domain"
	"github.com/blackboard-training/api/internal/payments"
	"github.com/blackboard-training/api/internal/woocommerce"
)

type stubOrderCreator struct {
	draft woocommerce.OrderDraft
	err   error
}

func (s *stubOrderCreator) CreateOrder(_ context.Context, draft woocommerce.OrderDraft) (domain.Order, error) {
	s.draft = draft
	if s.err != nil {
		return domain.Order{}, s.err
	}
	return domain.Order{ID: "2001", Status: domain.OrderStatusPending, Currency: draft.Currency}, nil
}

type stubSessionManager struct {
	method string
	req    payments.CheckoutSessionRequest
	err    error
}

func (s *stubSessionManager) CreateCheckoutSession(_ context.Context, method string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	s.method = method
	s.req = req
	if s.err != nil {
		return payments.CheckoutSession{}, s.err
	}
	return payments.CheckoutSession{
		ID:          "sess_1",
		Provider:    method,
		RedirectURL: "https://psp.example.com/pay/sess_1",
	}, nil
}

type stubCouponReader struct {
	coupon domain.Coupon
	err    error
}

func (s *stubCouponReader) GetCouponByCode(_ context.Context, _ string) (domain.Coupon, error) {
	if s.err != nil {
		return domain.Coupon{}, s.err
	}
	return s.coupon, nil
}

func newTestIntake(t *testing.T, orders *stubOrderCreator, sessions *stubSessionManager, coupons couponReader) *OrderIntakeService {
	t.Helper()
	engine, err := NewPricingEngine(PricingEngineDeps{
		ShippingEstimate: 590,
		FreebieProductID: "777",
		FreebieName:      "Functional Foot Workshop",
	})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	if coupons == nil {
		coupons = &stubCouponReader{err: woocommerce.ErrCouponNotFound}
	}
	couponService, err := NewCouponService(CouponServiceDeps{Coupons: coupons})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	intake, err := NewOrderIntakeService(OrderIntakeDeps{
		Orders:           orders,
		Sessions:         sessions,
		Pricing:          engine,
		Coupons:          couponService,
		SuccessURL:       "https://shop.example.com/order-success",
		CancelURL:        "https://shop.example.com/checkout",
		PayPalCaptureURL: "https://api.example.com/api/v1/payments/paypal/capture",
	})
	if err != nil {
		t.Fatalf("NewOrderIntakeService: %v", err)
	}
	return intake
}

func flagshipCartLines() []domain.CartLine {
	return []domain.CartLine{
		{ProductID: "501", Name: "Blackboard Level 1", Quantity: 1, UnitPrice: domain.Money{EUR: 12900}, BundleKind: domain.BundleKindFlagship},
	}
}

func TestSubmitOrderCreatesPendingOrderAndSession(t *testing.T) {
	orders := &stubOrderCreator{}
	sessions := &stubSessionManager{}
	intake := newTestIntake(t, orders, sessions, nil)

	result, err := intake.SubmitOrder(context.Background(), SubmitOrderCommand{
		Lines:         flagshipCartLines(),
		Currency:      domain.CurrencyEUR,
		PaymentMethod: "stripe",
		Billing:       domain.Address{FirstName: "Eva", Email: "eva@example.com", Country: "DE"},
		AffiliateID:   "aff-77",
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	if result.Order.ID != "2001" {
		t.Errorf("order id = %s", result.Order.ID)
	}
	if result.PaymentURL != "https://psp.example.com/pay/sess_1" {
		t.Errorf("PaymentURL = %s", result.PaymentURL)
	}

	// the PSP session references the order and charges the priced total
	if sessions.req.OrderID != "2001" {
		t.Errorf("session order id = %s", sessions.req.OrderID)
	}
	if sessions.req.Amount != 12900+590 {
		t.Errorf("session amount = %d, want 13490", sessions.req.Amount)
	}

	// freebies live in meta, not in billable line items
	if len(orders.draft.LineItems) != 1 {
		t.Fatalf("draft line items = %d, want 1", len(orders.draft.LineItems))
	}
	var freebies []freebieMetaItem
	if err := json.Unmarshal([]byte(orders.draft.Meta[MetaKeyFreebieItems]), &freebies); err != nil {
		t.Fatalf("freebie meta: %v", err)
	}
	if len(freebies) != 1 || freebies[0].ParentProductID != "501" {
		t.Errorf("freebie meta = %+v", freebies)
	}
	if orders.draft.Meta[MetaKeyAffiliateID] != "aff-77" {
		t.Errorf("affiliate meta = %q", orders.draft.Meta[MetaKeyAffiliateID])
	}
}

func TestSubmitOrderPayPalUsesCaptureURL(t *testing.T) {
	orders := &stubOrderCreator{}
	sessions := &stubSessionManager{}
	intake := newTestIntake(t, orders, sessions, nil)

	_, err := intake.SubmitOrder(context.Background(), SubmitOrderCommand{
		Lines:         flagshipCartLines(),
		Currency:      domain.CurrencyEUR,
		PaymentMethod: "paypal",
		Billing:       domain.Address{Email: "eva@example.com"},
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if sessions.req.SuccessURL != "https://api.example.com/api/v1/payments/paypal/capture" {
		t.Errorf("paypal success url = %s", sessions.req.SuccessURL)
	}
}

func TestSubmitOrderBankTransferSkipsSession(t *testing.T) {
	orders := &stubOrderCreator{}
	sessions := &stubSessionManager{err: errors.New("session manager must not be called")}
	intake := newTestIntake(t, orders, sessions, nil)

	result, err := intake.SubmitOrder(context.Background(), SubmitOrderCommand{
		Lines:         flagshipCartLines(),
		Currency:      domain.CurrencyEUR,
		PaymentMethod: "bacs",
		Billing:       domain.Address{Email: "eva@example.com"},
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.PaymentURL != "" {
		t.Errorf("PaymentURL = %q, want empty", result.PaymentURL)
	}
	if result.Provider != "bacs" {
		t.Errorf("provider = %q, want bacs", result.Provider)
	}
	if result.Order.ID != "2001" {
		t.Errorf("order id = %s", result.Order.ID)
	}
	if orders.draft.PaymentMethodTitle != "Direct bank transfer" {
		t.Errorf("payment method title = %q", orders.draft.PaymentMethodTitle)
	}
}

func TestSubmitOrderRejectsInvalidCoupon(t *testing.T) {
	orders := &stubOrderCreator{}
	sessions := &stubSessionManager{}
	intake := newTestIntake(t, orders, sessions, &stubCouponReader{err: woocommerce.ErrCouponNotFound})

	_, err := intake.SubmitOrder(context.Background(), SubmitOrderCommand{
		Lines:      flagshipCartLines(),
		Currency:   domain.CurrencyEUR,
		CouponCode: "nope",
		Billing:    domain.Address{Email: "eva@example.com"},
	})
	if !errors.Is(err, ErrCouponRejected) {
		t.Fatalf("err = %v, want ErrCouponRejected", err)
	}
	if orders.draft.LineItems != nil {
		t.Errorf("order created despite rejected coupon")
	}
}

func TestSubmitOrderAppliesValidCoupon(t *testing.T) {
	orders := &stubOrderCreator{}
	sessions := &stubSessionManager{}
	intake := newTestIntake(t, orders, sessions, &stubCouponReader{
		coupon: domain.Coupon{Code: "welcome10", DiscountType: domain.CouponTypePercent, Amount: 1000},
	})

	result, err := intake.SubmitOrder(context.Background(), SubmitOrderCommand{
		Lines:      flagshipCartLines(),
		Currency:   domain.CurrencyEUR,
		CouponCode: "WELCOME10",
		Billing:    domain.Address{Email: "eva@example.com"},
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.PricedCart.DiscountTotal != 1290 {
		t.Errorf("DiscountTotal = %d, want 1290", result.PricedCart.DiscountTotal)
	}
	if orders.draft.Meta[MetaKeyAppliedCoupon] != "welcome10" {
		t.Errorf("coupon meta = %q", orders.draft.Meta[MetaKeyAppliedCoupon])
	}
	if sessions.req.Amount != 12900-1290+590 {
		t.Errorf("session amount = %d", sessions.req.Amount)
	}
}

func TestSubmitOrderSessionFailurePropagates(t *testing.T) {
	orders := &stubOrderCreator{}
	sessions := &stubSessionManager{err: payments.ErrUnsupportedProvider}
	intake := newTestIntake(t, orders, sessions, nil)

	_, err := intake.SubmitOrder(context.Background(), SubmitOrderCommand{
		Lines:         flagshipCartLines(),
		Currency:      domain.CurrencyEUR,
		PaymentMethod: "sofort",
		Billing:       domain.Address{Email: "eva@example.com"},
	})
	if !errors.Is(err, payments.ErrUnsupportedProvider) {
		t.Fatalf("err = %v, want ErrUnsupportedProvider", err)
	}
}
