package woocommerce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/blackboard-training/api/internal/domain"
)

var (
	// ErrOrderNotFound indicates the order id does not exist in the order system.
	ErrOrderNotFound = errors.New("woocommerce: order not found")
	// ErrCouponNotFound indicates no coupon matches the requested code.
	ErrCouponNotFound = errors.New("woocommerce: coupon not found")
	// ErrUnavailable indicates the order system could not be reached or
	// answered with a server error. Callers decide whether to degrade.
	ErrUnavailable = errors.New("woocommerce: service unavailable")
)

const restBasePath = "/wp-json/wc/v3"

// OrderDraft describes a new order submitted to the order system. All amounts
// are minor units in the draft's currency.
type OrderDraft struct {
	PaymentMethod      string
	PaymentMethodTitle string
	Currency           domain.Currency
	Billing            domain.Address
	Shipping           *domain.Address
	LineItems          []DraftLineItem
	ShippingTotal      int64
	ShippingTitle      string
	CouponCodes        []string
	CustomerNote       string
	Meta               map[string]string
}

// DraftLineItem is one purchasable row of an order draft.
type DraftLineItem struct {
	ProductID   string
	VariationID string
	Quantity    int
	Subtotal    int64
	Total       int64
}

// OrderUpdate is a partial update applied to an existing order. Nil or zero
// fields are left untouched.
type OrderUpdate struct {
	Status        domain.OrderStatus
	SetPaid       *bool
	TransactionID string
	DatePaid      *time.Time
	Meta          map[string]string
}

// Config carries the connection settings for the order system's REST API.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
}

// Client talks to the external order system over its authenticated REST API.
type Client struct {
	http *resty.Client
}

// NewClient validates the configuration and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("woocommerce: base url is required")
	}
	if strings.TrimSpace(cfg.ConsumerKey) == "" || strings.TrimSpace(cfg.ConsumerSecret) == "" {
		return nil, errors.New("woocommerce: consumer credentials are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL+restBasePath).
		SetBasicAuth(strings.TrimSpace(cfg.ConsumerKey), strings.TrimSpace(cfg.ConsumerSecret)).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{http: httpClient}, nil
}

// Ping checks whether the order system's REST API is reachable and the
// credentials are accepted.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/system_status")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return statusError("ping", resp.StatusCode())
	}
	return nil
}

// GetOrder fetches the current state of an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: empty order id", ErrOrderNotFound)
	}

	var wire wireOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&wire).
		Get("/orders/" + orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return domain.Order{}, fmt.Errorf("%w: id %s", ErrOrderNotFound, orderID)
	}
	if resp.IsError() {
		return domain.Order{}, statusError("get order", resp.StatusCode())
	}
	return wire.toDomain()
}

// CreateOrder submits a new pending order and returns the stored order,
// including the id and order key assigned by the order system.
func (c *Client) CreateOrder(ctx context.Context, draft OrderDraft) (domain.Order, error) {
	if len(draft.LineItems) == 0 {
		return domain.Order{}, errors.New("woocommerce: order draft has no line items")
	}

	body, err := draftToWire(draft)
	if err != nil {
		return domain.Order{}, err
	}

	var wire wireOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&wire).
		Post("/orders")
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return domain.Order{}, statusError("create order", resp.StatusCode())
	}
	return wire.toDomain()
}

// UpdateOrder applies a partial update to an existing order.
func (c *Client) UpdateOrder(ctx context.Context, orderID string, update OrderUpdate) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: empty order id", ErrOrderNotFound)
	}

	body := wireOrderUpdate{
		Status:        string(update.Status),
		SetPaid:       update.SetPaid,
		TransactionID: update.TransactionID,
	}
	if update.DatePaid != nil {
		body.DatePaid = update.DatePaid.UTC().Format(wireTimeLayout)
	}
	for key, value := range update.Meta {
		body.MetaData = append(body.MetaData, wireMetaData{Key: key, Value: value})
	}

	var wire wireOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&wire).
		Put("/orders/" + orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return domain.Order{}, fmt.Errorf("%w: id %s", ErrOrderNotFound, orderID)
	}
	if resp.IsError() {
		return domain.Order{}, statusError("update order", resp.StatusCode())
	}
	return wire.toDomain()
}

// AddOrderNote appends a private note to the order's activity log.
func (c *Client) AddOrderNote(ctx context.Context, orderID, note string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: empty order id", ErrOrderNotFound)
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return errors.New("woocommerce: note is empty")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(wireOrderNote{Note: note}).
		Post("/orders/" + orderID + "/notes")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: id %s", ErrOrderNotFound, orderID)
	}
	if resp.IsError() {
		return statusError("add order note", resp.StatusCode())
	}
	return nil
}

// GetCouponByCode looks up a coupon by its code.
func (c *Client) GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return domain.Coupon{}, fmt.Errorf("%w: empty code", ErrCouponNotFound)
	}

	var wires []wireCoupon
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("code", code).
		SetResult(&wires).
		Get("/coupons")
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return domain.Coupon{}, statusError("get coupon", resp.StatusCode())
	}

	for _, wire := range wires {
		if strings.EqualFold(strings.TrimSpace(wire.Code), code) {
			return wire.toDomain()
		}
	}
	return domain.Coupon{}, fmt.Errorf("%w: code %s", ErrCouponNotFound, code)
}

func draftToWire(draft OrderDraft) (wireOrderCreate, error) {
	body := wireOrderCreate{
		PaymentMethod:      draft.PaymentMethod,
		PaymentMethodTitle: draft.PaymentMethodTitle,
		SetPaid:            false,
		Status:             string(domain.OrderStatusPending),
		Currency:           string(draft.Currency),
		CustomerNote:       draft.CustomerNote,
		Billing:            toWireAddress(draft.Billing),
	}
	if draft.Shipping != nil {
		body.Shipping = toWireAddress(*draft.Shipping)
	}

	for _, item := range draft.LineItems {
		productID, err := strconv.ParseInt(strings.TrimSpace(item.ProductID), 10, 64)
		if err != nil {
			return wireOrderCreate{}, fmt.Errorf("woocommerce: invalid product id %q: %w", item.ProductID, err)
		}
		wireItem := wireLineItem{
			ProductID: productID,
			Quantity:  item.Quantity,
			Subtotal:  formatMinor(item.Subtotal),
			Total:     formatMinor(item.Total),
		}
		if v := strings.TrimSpace(item.VariationID); v != "" {
			variationID, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return wireOrderCreate{}, fmt.Errorf("woocommerce: invalid variation id %q: %w", item.VariationID, err)
			}
			wireItem.VariationID = variationID
		}
		body.LineItems = append(body.LineItems, wireItem)
	}

	if draft.ShippingTotal > 0 {
		title := draft.ShippingTitle
		if title == "" {
			title = "Flat rate"
		}
		body.ShippingLines = append(body.ShippingLines, wireShippingLine{
			MethodID:    "flat_rate",
			MethodTitle: title,
			Total:       formatMinor(draft.ShippingTotal),
		})
	}
	for _, code := range draft.CouponCodes {
		if code = strings.TrimSpace(code); code != "" {
			body.CouponLines = append(body.CouponLines, wireCouponLine{Code: strings.ToLower(code)})
		}
	}
	for key, value := range draft.Meta {
		body.MetaData = append(body.MetaData, wireMetaData{Key: key, Value: value})
	}
	return body, nil
}

func statusError(op string, status int) error {
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, op, status)
	}
	return fmt.Errorf("woocommerce: %s returned unexpected status %d", op, status)
}
