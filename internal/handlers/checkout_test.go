package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/blackboard-training/api/internal/domain"
	"github.com/blackboard-training/api/internal/payments"
	"github.com/blackboard-training/api/internal/services"
	"github.com/blackboard-training/api/internal/vies"
	"github.com/blackboard-training/api/internal/woocommerce"
)

type stubCouponBackend struct {
	coupons map[string]domain.Coupon
}

func (s *stubCouponBackend) GetCouponByCode(_ context.Context, code string) (domain.Coupon, error) {
	coupon, ok := s.coupons[strings.ToLower(code)]
	if !ok {
		return domain.Coupon{}, woocommerce.ErrCouponNotFound
	}
	return coupon, nil
}

type stubVATRegistry struct {
	result vies.Result
	err    error
}

func (s *stubVATRegistry) CheckVAT(context.Context, string, string) (vies.Result, error) {
	return s.result, s.err
}

type stubOrderBackend struct {
	order  domain.Order
	err    error
	drafts []woocommerce.OrderDraft
}

func (s *stubOrderBackend) CreateOrder(_ context.Context, draft woocommerce.OrderDraft) (domain.Order, error) {
	s.drafts = append(s.drafts, draft)
	if s.err != nil {
		return domain.Order{}, s.err
	}
	return s.order, nil
}

type stubSessionBackend struct {
	session payments.CheckoutSession
	err     error
}

func (s *stubSessionBackend) CreateCheckoutSession(_ context.Context, _ string, _ payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	return s.session, s.err
}

type checkoutFixture struct {
	handlers *CheckoutHandlers
	orders   *stubOrderBackend
	carts    services.CartStore
	router   chi.Router
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	clock := func() time.Time { return time.Date(2025, time.June, 5, 9, 0, 0, 0, time.UTC) }

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		ShippingEstimate: 590,
		FreebieProductID: "4050",
		FreebieName:      "Functional Foot Workshop",
		Clock:            clock,
	})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}

	coupons, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: &stubCouponBackend{coupons: map[string]domain.Coupon{
			"spring10": {Code: "spring10", DiscountType: domain.CouponTypePercent, Amount: 1000},
		}},
		Clock: clock,
	})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}

	vat, err := services.NewVATService(services.VATServiceDeps{
		Registry:    &stubVATRegistry{result: vies.Result{Valid: true, CountryCode: "AT", VATNumber: "U12345678"}},
		HomeCountry: "DE",
	})
	if err != nil {
		t.Fatalf("NewVATService: %v", err)
	}

	orders := &stubOrderBackend{order: domain.Order{
		ID:       "811",
		OrderKey: "wc_order_abc",
		Status:   domain.OrderStatusPending,
		Currency: domain.CurrencyEUR,
	}}
	sessions := &stubSessionBackend{session: payments.CheckoutSession{
		ID:          "cs_123",
		Provider:    "stripe",
		RedirectURL: "https://checkout.stripe.test/cs_123",
	}}

	intake, err := services.NewOrderIntakeService(services.OrderIntakeDeps{
		Orders:           orders,
		Sessions:         sessions,
		Pricing:          pricing,
		Coupons:          coupons,
		VAT:              vat,
		SuccessURL:       "https://shop.example/thanks",
		CancelURL:        "https://shop.example/cart",
		PayPalCaptureURL: "https://api.shop.example/api/v1/payments/paypal/capture",
		Clock:            clock,
	})
	if err != nil {
		t.Fatalf("NewOrderIntakeService: %v", err)
	}

	carts := services.NewMemoryCartStore(2*time.Hour, nil)
	handlers := NewCheckoutHandlers(intake, pricing, coupons, vat, carts)
	router := chi.NewRouter()
	handlers.Routes(router)

	return &checkoutFixture{handlers: handlers, orders: orders, carts: carts, router: router}
}

func postJSON(t *testing.T, router chi.Router, path, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

const singleLineCart = `{
	"lines": [{"productId": "2001", "name": "Blackboard Basic", "quantity": 1, "unitPrice": {"eur": 12900}}],
	"currency": "EUR"
}`

func TestPriceCartReturnsTotalsAndCartID(t *testing.T) {
	fx := newCheckoutFixture(t)

	rr := postJSON(t, fx.router, "/checkout/price", singleLineCart)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	var body priceCartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.CartID == "" {
		t.Errorf("cartId is empty")
	}
	if body.Cart.Subtotal != 12900 {
		t.Errorf("subtotal = %d, want 12900", body.Cart.Subtotal)
	}
	if body.Cart.GrandTotal != 13490 {
		t.Errorf("grand total = %d, want 13490", body.Cart.GrandTotal)
	}
}

func TestPriceCartRejectsUnknownCoupon(t *testing.T) {
	fx := newCheckoutFixture(t)

	payload := `{
		"lines": [{"productId": "2001", "name": "Blackboard Basic", "quantity": 1, "unitPrice": {"eur": 12900}}],
		"currency": "EUR",
		"couponCode": "NOPE"
	}`
	rr := postJSON(t, fx.router, "/checkout/price", payload)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusUnprocessableEntity, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "coupon_rejected" {
		t.Errorf("error = %v, want coupon_rejected", body["error"])
	}
	if body["reason"] != "not_found" {
		t.Errorf("reason = %v, want not_found", body["reason"])
	}
}

func TestSubmitOrderCreatesOrderAndSession(t *testing.T) {
	fx := newCheckoutFixture(t)

	payload := `{
		"lines": [{"productId": "2001", "name": "Blackboard Basic", "quantity": 1, "unitPrice": {"eur": 12900}}],
		"currency": "EUR",
		"paymentMethod": "stripe",
		"billing": {"firstName": "Mara", "lastName": "Kern", "address1": "Hauptstr. 1", "city": "Berlin", "postCode": "10115", "country": "DE", "email": "mara@example.com"}
	}`
	rr := postJSON(t, fx.router, "/checkout", payload)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	var body submitOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.OrderID != "811" {
		t.Errorf("orderId = %q, want 811", body.OrderID)
	}
	if body.PaymentURL != "https://checkout.stripe.test/cs_123" {
		t.Errorf("paymentUrl = %q", body.PaymentURL)
	}
	if body.Provider != "stripe" {
		t.Errorf("provider = %q, want stripe", body.Provider)
	}
	if len(fx.orders.drafts) != 1 {
		t.Fatalf("orders created = %d, want 1", len(fx.orders.drafts))
	}
}

func TestSubmitOrderFromStoredCart(t *testing.T) {
	fx := newCheckoutFixture(t)

	priced := postJSON(t, fx.router, "/checkout/price", singleLineCart)
	if priced.Code != http.StatusOK {
		t.Fatalf("price status = %d: %s", priced.Code, priced.Body.String())
	}
	var cart priceCartResponse
	if err := json.Unmarshal(priced.Body.Bytes(), &cart); err != nil {
		t.Fatalf("decode price body: %v", err)
	}

	payload := `{
		"cartId": "` + cart.CartID + `",
		"currency": "EUR",
		"paymentMethod": "stripe",
		"billing": {"firstName": "Mara", "lastName": "Kern", "address1": "Hauptstr. 1", "city": "Berlin", "postCode": "10115", "country": "DE", "email": "mara@example.com"}
	}`
	rr := postJSON(t, fx.router, "/checkout", payload)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	// The cart is consumed by the submission.
	if _, err := fx.carts.Load(context.Background(), cart.CartID); err == nil {
		t.Errorf("cart still loadable after submission")
	}
}

func TestSubmitOrderValidation(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing billing email",
			payload:    `{"lines": [{"productId": "2001", "name": "B", "quantity": 1, "unitPrice": {"eur": 100}}], "currency": "EUR", "paymentMethod": "stripe", "billing": {"firstName": "M"}}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_request",
		},
		{
			name:       "no lines and no cart",
			payload:    `{"currency": "EUR", "paymentMethod": "stripe", "billing": {"email": "m@example.com"}}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_request",
		},
		{
			name:       "unknown cart",
			payload:    `{"cartId": "01JX0000000000000000000000", "currency": "EUR", "paymentMethod": "stripe", "billing": {"email": "m@example.com"}}`,
			wantStatus: http.StatusNotFound,
			wantError:  "cart_not_found",
		},
		{
			name:       "malformed json",
			payload:    `{"lines": [`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_request",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newCheckoutFixture(t)
			rr := postJSON(t, fx.router, "/checkout", tc.payload)
			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tc.wantStatus, rr.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tc.wantError {
				t.Errorf("error = %v, want %s", body["error"], tc.wantError)
			}
			if len(fx.orders.drafts) != 0 {
				t.Errorf("order created despite invalid request")
			}
		})
	}
}

func TestValidateCouponEndpoint(t *testing.T) {
	fx := newCheckoutFixture(t)

	rr := postJSON(t, fx.router, "/coupons/validate", `{"couponCode": "SPRING10"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	var body validateCouponResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Success {
		t.Errorf("success = false, want true")
	}
	if body.Coupon == nil || body.Coupon.Code != "spring10" {
		t.Errorf("coupon = %+v", body.Coupon)
	}
}

func TestValidateCouponEndpointUnknownCode(t *testing.T) {
	fx := newCheckoutFixture(t)

	rr := postJSON(t, fx.router, "/coupons/validate", `{"couponCode": "NOPE", "customerId": "44"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	var body validateCouponResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Success {
		t.Errorf("success = true, want false")
	}
	if body.Error != "not_found" {
		t.Errorf("error = %q, want not_found", body.Error)
	}
}

func TestValidateVATEndpoint(t *testing.T) {
	fx := newCheckoutFixture(t)

	rr := postJSON(t, fx.router, "/vat/validate", `{"vatNumber": "ATU12345678"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	var body validateVATResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Valid || !body.Exempt {
		t.Errorf("valid = %v exempt = %v, want both true", body.Valid, body.Exempt)
	}
	if body.CountryCode != "AT" {
		t.Errorf("country = %q, want AT", body.CountryCode)
	}
}

func TestValidateVATSeparateCountryCode(t *testing.T) {
	fx := newCheckoutFixture(t)

	rr := postJSON(t, fx.router, "/vat/validate", `{"vatNumber": "U12345678", "countryCode": "at"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	var body validateVATResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Valid || body.CountryCode != "AT" {
		t.Errorf("valid = %v country = %q, want valid AT", body.Valid, body.CountryCode)
	}
}

func TestSubmitOrderRejectsTamperedFreebie(t *testing.T) {
	fx := newCheckoutFixture(t)

	payload := `{
		"lines": [
			{"productId": "2001", "name": "Blackboard Basic", "quantity": 1, "unitPrice": {"eur": 12900}},
			{"productId": "4050", "name": "Workshop", "quantity": 1, "isFreebie": true, "parentProductId": "9999"}
		],
		"currency": "EUR",
		"paymentMethod": "stripe",
		"billing": {"email": "mara@example.com"}
	}`
	rr := postJSON(t, fx.router, "/checkout", payload)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusUnprocessableEntity, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "cart_integrity_violation" {
		t.Errorf("error = %v, want cart_integrity_violation", body["error"])
	}
	if len(fx.orders.drafts) != 0 {
		t.Errorf("order created from a tampered cart")
	}
}

func TestValidateVATMalformedNumber(t *testing.T) {
	fx := newCheckoutFixture(t)

	rr := postJSON(t, fx.router, "/vat/validate", `{"vatNumber": "banana"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	var body validateVATResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Valid {
		t.Errorf("valid = true, want false")
	}
	if body.Reason != "invalid_format" {
		t.Errorf("reason = %q, want invalid_format", body.Reason)
	}
}
