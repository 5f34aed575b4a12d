package domain

import (
	"strings"
	"time"
)

// Currency identifies one of the two settlement currencies the storefront sells in.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// ParseCurrency normalises a currency code, defaulting to EUR for unknown input.
func ParseCurrency(value string) Currency {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "USD":
		return CurrencyUSD
	default:
		return CurrencyEUR
	}
}

// Money carries an amount in minor units per supported currency. A zero value
// for a currency means the figure is absent for that currency, not free.
type Money struct {
	USD int64 `json:"usd"`
	EUR int64 `json:"eur"`
}

// In returns the amount for the requested currency, falling back to the other
// currency's figure when the requested one is absent. The boolean reports
// whether any figure was available at all.
func (m Money) In(currency Currency) (int64, bool) {
	switch currency {
	case CurrencyUSD:
		if m.USD > 0 {
			return m.USD, true
		}
		if m.EUR > 0 {
			return m.EUR, true
		}
	default:
		if m.EUR > 0 {
			return m.EUR, true
		}
		if m.USD > 0 {
			return m.USD, true
		}
	}
	return 0, false
}

// BundleKind tags a product's bundle behaviour, decided at catalog-sync time
// rather than derived from display names at checkout.
type BundleKind string

const (
	BundleKindNone     BundleKind = "none"
	BundleKindFlagship BundleKind = "flagship"
)

// ResellerPricingRule is a per-product bulk discount granted to reseller
// accounts once the line quantity reaches the threshold.
type ResellerPricingRule struct {
	Enabled     bool  `json:"enabled"`
	MinQuantity int   `json:"minQuantity"`
	Price       Money `json:"price"`
}

// CartLine is a single entry in a customer cart. Freebie lines reference the
// non-freebie line that caused them via ParentProductID.
type CartLine struct {
	ProductID       string               `json:"productId"`
	VariationID     string               `json:"variationId,omitempty"`
	Name            string               `json:"name"`
	Quantity        int                  `json:"quantity"`
	UnitPrice       Money                `json:"unitPrice"`
	IsFreebie       bool                 `json:"isFreebie"`
	ParentProductID string               `json:"parentProductId,omitempty"`
	BundleKind      BundleKind           `json:"bundleKind,omitempty"`
	ResellerRule    *ResellerPricingRule `json:"resellerRule,omitempty"`
}

// DiscountReason records which pricing source produced a line's effective price.
type DiscountReason string

const (
	DiscountReasonNone     DiscountReason = "none"
	DiscountReasonReseller DiscountReason = "reseller"
	DiscountReasonCoupon   DiscountReason = "coupon"
)

// PricedLine is a cart line after the pricing engine has resolved its
// effective per-unit price in the selected currency.
type PricedLine struct {
	CartLine
	OriginalPrice  int64          `json:"originalPrice"`
	EffectivePrice int64          `json:"effectivePrice"`
	DiscountReason DiscountReason `json:"discountReason"`
	// AllocatedDiscount is this line's share of a cart-level coupon.
	AllocatedDiscount int64 `json:"allocatedDiscount,omitempty"`
}

// LineTotal returns the charged amount for the line.
func (l PricedLine) LineTotal() int64 {
	total := l.EffectivePrice*int64(l.Quantity) - l.AllocatedDiscount
	if total < 0 {
		return 0
	}
	return total
}

// PricedCart is the derived, never-persisted result of pricing a cart.
type PricedCart struct {
	Lines            []PricedLine `json:"lines"`
	Currency         Currency     `json:"currency"`
	Subtotal         int64        `json:"subtotal"`
	DiscountTotal    int64        `json:"discountTotal"`
	ShippingEstimate int64        `json:"shippingEstimate"`
	GrandTotal       int64        `json:"grandTotal"`
	CouponCode       string       `json:"couponCode,omitempty"`
}

// CouponDiscountType enumerates the coupon modes the order system supports.
type CouponDiscountType string

const (
	CouponTypePercent      CouponDiscountType = "percent"
	CouponTypeFixedCart    CouponDiscountType = "fixed_cart"
	CouponTypeFixedProduct CouponDiscountType = "fixed_product"
)

// Coupon mirrors the external order system's coupon entity. Percent amounts
// are carried in basis points (1000 = 10%); fixed amounts in minor units.
type Coupon struct {
	Code          string             `json:"code"`
	DiscountType  CouponDiscountType `json:"discountType"`
	Amount        int64              `json:"amount"`
	FreeShipping  bool               `json:"freeShipping"`
	IndividualUse bool               `json:"individualUse"`
	ExpiresAt     *time.Time         `json:"expiresAt,omitempty"`
	ProductIDs    []string           `json:"productIds,omitempty"`
	UsageLimit    int                `json:"usageLimit,omitempty"`
	UsageCount    int                `json:"usageCount,omitempty"`
	EmailRestrict []string           `json:"emailRestrictions,omitempty"`
}

// AppliesToProduct reports whether the coupon is restricted to specific
// products and, if so, whether the given product is among them.
func (c Coupon) AppliesToProduct(productID string) bool {
	if len(c.ProductIDs) == 0 {
		return true
	}
	for _, id := range c.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// AllowsEmail reports whether the coupon's email restriction admits the given
// address. Entries are full addresses or *@domain patterns.
func (c Coupon) AllowsEmail(email string) bool {
	if len(c.EmailRestrict) == 0 {
		return true
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, allowed := range c.EmailRestrict {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == email {
			return true
		}
		if strings.HasPrefix(allowed, "*@") && strings.HasSuffix(email, allowed[1:]) {
			return true
		}
	}
	return false
}

// OrderStatus mirrors the external order system's lifecycle states.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusOnHold     OrderStatus = "on-hold"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// IsTerminal reports whether the status admits no further reconciliation:
// the order is either paid or will never be.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// IsPaid reports whether the status represents a successfully paid order.
func (s OrderStatus) IsPaid() bool {
	return s == OrderStatusProcessing || s == OrderStatusCompleted
}

// Address captures billing/shipping details forwarded to the order system.
type Address struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Company   string `json:"company,omitempty"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city"`
	PostCode  string `json:"postCode"`
	Country   string `json:"country"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	VATNumber string `json:"vatNumber,omitempty"`
}

// Order is the pipeline's read model of the external order. The external
// order system owns identity and serialises its own writes; this pipeline
// only reads and updates status/payment fields.
type Order struct {
	ID            string            `json:"id"`
	OrderKey      string            `json:"orderKey,omitempty"`
	Status        OrderStatus       `json:"status"`
	Currency      Currency          `json:"currency"`
	Total         int64             `json:"total"`
	TransactionID string            `json:"transactionId,omitempty"`
	SetPaid       bool              `json:"setPaid"`
	DatePaid      *time.Time        `json:"datePaid,omitempty"`
	Meta          map[string]string `json:"meta,omitempty"`
}

// MetaValue returns the trimmed order meta value for the given key.
func (o Order) MetaValue(key string) string {
	if len(o.Meta) == 0 {
		return ""
	}
	return strings.TrimSpace(o.Meta[key])
}
