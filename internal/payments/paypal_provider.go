package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/blackboard-training/api/internal/domain"
)

// ErrCaptureIncomplete is returned when PayPal reports a capture attempt in
// any state other than COMPLETED. The order must not be marked paid.
var ErrCaptureIncomplete = errors.New("paypal: capture not completed")

// CaptureResult is the normalised outcome of a PayPal capture call.
type CaptureResult struct {
	Status    string
	OrderID   string
	CaptureID string
	Amount    int64
	Currency  domain.Currency
}

// Completed reports whether the capture settled successfully.
func (r CaptureResult) Completed() bool {
	return strings.EqualFold(r.Status, "COMPLETED")
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalOrderRequest struct {
	Intent             string               `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit `json:"purchase_units"`
	ApplicationContext *paypalAppContext    `json:"application_context,omitempty"`
}

type paypalPurchaseUnit struct {
	CustomID string       `json:"custom_id,omitempty"`
	Amount   paypalAmount `json:"amount"`
}

type paypalAppContext struct {
	ReturnURL   string `json:"return_url,omitempty"`
	CancelURL   string `json:"cancel_url,omitempty"`
	UserAction  string `json:"user_action,omitempty"`
	BrandName   string `json:"brand_name,omitempty"`
	ShippingPre string `json:"shipping_preference,omitempty"`
}

type paypalErrorResponse struct {
	Name    string `json:"name"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

func (e paypalErrorResponse) hasIssue(issue string) bool {
	for _, d := range e.Details {
		if strings.EqualFold(d.Issue, issue) {
			return true
		}
	}
	return false
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrderResponse struct {
	ID            string                   `json:"id"`
	Status        string                   `json:"status"`
	Links         []paypalLink             `json:"links"`
	PurchaseUnits []paypalPurchaseUnitResp `json:"purchase_units"`
}

type paypalPurchaseUnitResp struct {
	CustomID string          `json:"custom_id"`
	Amount   *paypalAmount   `json:"amount"`
	Payments *paypalPayments `json:"payments"`
}

type paypalPayments struct {
	Captures []paypalCapture `json:"captures"`
}

type paypalCapture struct {
	ID       string        `json:"id"`
	Status   string        `json:"status"`
	CustomID string        `json:"custom_id"`
	Amount   *paypalAmount `json:"amount"`
}

// PayPalProviderConfig configures the PayPalProvider.
type PayPalProviderConfig struct {
	ClientID  string
	Secret    string
	BaseURL   string
	BrandName string
	Timeout   time.Duration
	Logger    Logger
	Clock     func() time.Time
}

// PayPalProvider creates PayPal orders for redirect checkout and captures
// approved orders when the customer returns.
type PayPalProvider struct {
	http      *resty.Client
	clientID  string
	secret    string
	brandName string
	clock     func() time.Time
	logger    Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPalProvider constructs a PayPal Provider using the given configuration.
func NewPayPalProvider(cfg PayPalProviderConfig) (*PayPalProvider, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.Secret)
	if clientID == "" || secret == "" {
		return nil, errors.New("paypal: client credentials are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("paypal: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &PayPalProvider{
		http:      httpClient,
		clientID:  clientID,
		secret:    secret,
		brandName: strings.TrimSpace(cfg.BrandName),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutSession creates a PayPal order in CAPTURE intent and returns
// the approval redirect. The order id rides along as custom_id so the capture
// response can be traced back without shared state.
func (p *PayPalProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("paypal: provider is nil")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return CheckoutSession{}, errors.New("paypal: order id is required")
	}

	token, err := p.token(ctx)
	if err != nil {
		return CheckoutSession{}, err
	}

	body := paypalOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			CustomID: strings.TrimSpace(req.OrderID),
			Amount: paypalAmount{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        formatPayPalAmount(req.Amount),
			},
		}},
		ApplicationContext: &paypalAppContext{
			ReturnURL:   req.SuccessURL,
			CancelURL:   req.CancelURL,
			UserAction:  "PAY_NOW",
			BrandName:   p.brandName,
			ShippingPre: "NO_SHIPPING",
		},
	}

	var out paypalOrderResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(body).
		SetResult(&out).
		Post("/v2/checkout/orders")
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("paypal: create order: %w", err)
	}
	if resp.IsError() {
		return CheckoutSession{}, fmt.Errorf("paypal: create order returned %d", resp.StatusCode())
	}

	redirect := ""
	for _, link := range out.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			redirect = link.Href
			break
		}
	}
	if redirect == "" {
		return CheckoutSession{}, fmt.Errorf("paypal: order %s has no approval link", out.ID)
	}

	p.logger(ctx, "payments.paypal.order.created", map[string]any{
		"paypalOrderId": out.ID,
		"orderId":       req.OrderID,
		"status":        out.Status,
	})

	return CheckoutSession{
		ID:          out.ID,
		Provider:    "paypal",
		RedirectURL: redirect,
		ExpiresAt:   p.clock().Add(3 * time.Hour),
	}, nil
}

// Capture captures an approved PayPal order identified by the redirect token.
// The storefront order id comes back in the capture's custom_id.
func (p *PayPalProvider) Capture(ctx context.Context, token string) (CaptureResult, error) {
	if p == nil {
		return CaptureResult{}, errors.New("paypal: provider is nil")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return CaptureResult{}, errors.New("paypal: capture token is required")
	}

	accessToken, err := p.token(ctx)
	if err != nil {
		return CaptureResult{}, err
	}

	var out paypalOrderResponse
	var apiErr paypalErrorResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Content-Type", "application/json").
		SetBody("{}").
		SetResult(&out).
		SetError(&apiErr).
		Post("/v2/checkout/orders/" + token + "/capture")
	if err != nil {
		return CaptureResult{}, fmt.Errorf("paypal: capture order: %w", err)
	}
	if resp.IsError() {
		if resp.StatusCode() != http.StatusUnprocessableEntity || !apiErr.hasIssue("ORDER_ALREADY_CAPTURED") {
			return CaptureResult{}, fmt.Errorf("paypal: capture order returned %d", resp.StatusCode())
		}
		// A customer refreshing the return URL re-posts a capture PayPal has
		// already settled. The order lookup carries the same capture details,
		// so the duplicate resolves like the first call did.
		p.logger(ctx, "payments.paypal.order.already_captured", map[string]any{
			"paypalOrderId": token,
		})
		out, err = p.getOrder(ctx, accessToken, token)
		if err != nil {
			return CaptureResult{}, err
		}
	}

	result := captureResultFromOrder(out)

	p.logger(ctx, "payments.paypal.order.captured", map[string]any{
		"paypalOrderId": out.ID,
		"orderId":       result.OrderID,
		"status":        result.Status,
	})

	if !result.Completed() {
		return result, fmt.Errorf("%w: status %s", ErrCaptureIncomplete, result.Status)
	}
	if result.OrderID == "" {
		return result, fmt.Errorf("paypal: capture %s carries no custom_id", out.ID)
	}
	return result, nil
}

func (p *PayPalProvider) getOrder(ctx context.Context, accessToken, token string) (paypalOrderResponse, error) {
	var out paypalOrderResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&out).
		Get("/v2/checkout/orders/" + token)
	if err != nil {
		return paypalOrderResponse{}, fmt.Errorf("paypal: get order: %w", err)
	}
	if resp.IsError() {
		return paypalOrderResponse{}, fmt.Errorf("paypal: get order returned %d", resp.StatusCode())
	}
	return out, nil
}

func captureResultFromOrder(out paypalOrderResponse) CaptureResult {
	result := CaptureResult{Status: strings.ToUpper(strings.TrimSpace(out.Status))}
	for _, unit := range out.PurchaseUnits {
		if result.OrderID == "" {
			result.OrderID = strings.TrimSpace(unit.CustomID)
		}
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			result.CaptureID = capture.ID
			if result.OrderID == "" {
				result.OrderID = strings.TrimSpace(capture.CustomID)
			}
			if capture.Amount != nil {
				if minor, perr := parsePayPalAmount(capture.Amount.Value); perr == nil {
					result.Amount = minor
				}
				result.Currency = domain.ParseCurrency(capture.Amount.CurrencyCode)
			}
		}
	}
	return result
}

func (p *PayPalProvider) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && p.clock().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	var out paypalTokenResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetBasicAuth(p.clientID, p.secret).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody("grant_type=client_credentials").
		SetResult(&out).
		Post("/v1/oauth2/token")
	if err != nil {
		return "", fmt.Errorf("paypal: fetch access token: %w", err)
	}
	if resp.IsError() || out.AccessToken == "" {
		return "", fmt.Errorf("paypal: token endpoint returned %d", resp.StatusCode())
	}

	p.accessToken = out.AccessToken
	// renew a minute early to avoid racing the expiry
	p.tokenExpiry = p.clock().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return p.accessToken, nil
}

func formatPayPalAmount(minor int64) string {
	negative := minor < 0
	if negative {
		minor = -minor
	}
	s := fmt.Sprintf("%d.%02d", minor/100, minor%100)
	if negative {
		return "-" + s
	}
	return s
}

func parsePayPalAmount(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	negative := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")

	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	wholeN, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("paypal: invalid amount %q", value)
	}

	fracN := int64(0)
	if frac != "" {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		fracN, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("paypal: invalid amount %q", value)
		}
	}

	total := wholeN*100 + fracN
	if negative {
		total = -total
	}
	return total, nil
}
