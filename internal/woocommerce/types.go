package woocommerce

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blackboard-training/api/internal/domain"
)

// wire types for the external order system's REST v3 API. Amounts travel as
// decimal strings on the wire and are converted to minor units at the edge.

type wireOrder struct {
	ID            int64          `json:"id"`
	OrderKey      string         `json:"order_key"`
	Status        string         `json:"status"`
	Currency      string         `json:"currency"`
	Total         string         `json:"total"`
	TransactionID string         `json:"transaction_id"`
	DatePaidGMT   *string        `json:"date_paid_gmt"`
	MetaData      []wireMetaData `json:"meta_data"`
}

type wireMetaData struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type wireOrderCreate struct {
	PaymentMethod      string             `json:"payment_method,omitempty"`
	PaymentMethodTitle string             `json:"payment_method_title,omitempty"`
	SetPaid            bool               `json:"set_paid"`
	Currency           string             `json:"currency,omitempty"`
	Status             string             `json:"status,omitempty"`
	CustomerID         int64              `json:"customer_id,omitempty"`
	CustomerNote       string             `json:"customer_note,omitempty"`
	Billing            *wireAddress       `json:"billing,omitempty"`
	Shipping           *wireAddress       `json:"shipping,omitempty"`
	LineItems          []wireLineItem     `json:"line_items"`
	ShippingLines      []wireShippingLine `json:"shipping_lines,omitempty"`
	CouponLines        []wireCouponLine   `json:"coupon_lines,omitempty"`
	MetaData           []wireMetaData     `json:"meta_data,omitempty"`
}

type wireAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company,omitempty"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type wireLineItem struct {
	ProductID   int64  `json:"product_id"`
	VariationID int64  `json:"variation_id,omitempty"`
	Quantity    int    `json:"quantity"`
	Subtotal    string `json:"subtotal,omitempty"`
	Total       string `json:"total,omitempty"`
}

type wireShippingLine struct {
	MethodID    string `json:"method_id"`
	MethodTitle string `json:"method_title"`
	Total       string `json:"total"`
}

type wireCouponLine struct {
	Code string `json:"code"`
}

type wireOrderUpdate struct {
	Status        string         `json:"status,omitempty"`
	SetPaid       *bool          `json:"set_paid,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	DatePaid      string         `json:"date_paid_gmt,omitempty"`
	MetaData      []wireMetaData `json:"meta_data,omitempty"`
}

type wireOrderNote struct {
	Note         string `json:"note"`
	CustomerNote bool   `json:"customer_note"`
}

type wireCoupon struct {
	ID             int64    `json:"id"`
	Code           string   `json:"code"`
	Amount         string   `json:"amount"`
	DiscountType   string   `json:"discount_type"`
	DateExpiresGMT *string  `json:"date_expires_gmt"`
	FreeShipping   bool     `json:"free_shipping"`
	IndividualUse  bool     `json:"individual_use"`
	ProductIDs     []int64  `json:"product_ids"`
	UsageLimit     *int     `json:"usage_limit"`
	UsageCount     int      `json:"usage_count"`
	EmailRestrict  []string `json:"email_restrictions"`
}

const wireTimeLayout = "2006-01-02T15:04:05"

func (w wireOrder) toDomain() (domain.Order, error) {
	total, err := parseDecimalMinor(w.Total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("woocommerce: order %d total %q: %w", w.ID, w.Total, err)
	}

	order := domain.Order{
		ID:            strconv.FormatInt(w.ID, 10),
		OrderKey:      w.OrderKey,
		Status:        domain.OrderStatus(strings.ToLower(strings.TrimSpace(w.Status))),
		Currency:      domain.ParseCurrency(w.Currency),
		Total:         total,
		TransactionID: w.TransactionID,
		SetPaid:       w.DatePaidGMT != nil,
	}
	if w.DatePaidGMT != nil && strings.TrimSpace(*w.DatePaidGMT) != "" {
		if paid, perr := time.Parse(wireTimeLayout, strings.TrimSpace(*w.DatePaidGMT)); perr == nil {
			paidUTC := paid.UTC()
			order.DatePaid = &paidUTC
		}
	}
	if len(w.MetaData) > 0 {
		order.Meta = make(map[string]string, len(w.MetaData))
		for _, m := range w.MetaData {
			if s, ok := m.Value.(string); ok {
				order.Meta[m.Key] = s
			}
		}
	}
	return order, nil
}

func (w wireCoupon) toDomain() (domain.Coupon, error) {
	coupon := domain.Coupon{
		Code:          strings.ToLower(strings.TrimSpace(w.Code)),
		DiscountType:  domain.CouponDiscountType(strings.TrimSpace(w.DiscountType)),
		FreeShipping:  w.FreeShipping,
		IndividualUse: w.IndividualUse,
		UsageCount:    w.UsageCount,
	}

	switch coupon.DiscountType {
	case domain.CouponTypePercent:
		// percent amounts arrive as "10.00" and are carried in basis points
		bps, err := parseDecimalScaled(w.Amount, 100)
		if err != nil {
			return domain.Coupon{}, fmt.Errorf("woocommerce: coupon %s amount %q: %w", w.Code, w.Amount, err)
		}
		coupon.Amount = bps
	case domain.CouponTypeFixedCart, domain.CouponTypeFixedProduct:
		minor, err := parseDecimalMinor(w.Amount)
		if err != nil {
			return domain.Coupon{}, fmt.Errorf("woocommerce: coupon %s amount %q: %w", w.Code, w.Amount, err)
		}
		coupon.Amount = minor
	default:
		return domain.Coupon{}, fmt.Errorf("woocommerce: coupon %s has unsupported discount type %q", w.Code, w.DiscountType)
	}

	if w.DateExpiresGMT != nil && strings.TrimSpace(*w.DateExpiresGMT) != "" {
		if expires, err := time.Parse(wireTimeLayout, strings.TrimSpace(*w.DateExpiresGMT)); err == nil {
			expiresUTC := expires.UTC()
			coupon.ExpiresAt = &expiresUTC
		}
	}
	if w.UsageLimit != nil {
		coupon.UsageLimit = *w.UsageLimit
	}
	for _, id := range w.ProductIDs {
		coupon.ProductIDs = append(coupon.ProductIDs, strconv.FormatInt(id, 10))
	}
	for _, email := range w.EmailRestrict {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			coupon.EmailRestrict = append(coupon.EmailRestrict, email)
		}
	}
	return coupon, nil
}

// parseDecimalMinor converts a decimal money string ("129.00") to minor units.
func parseDecimalMinor(value string) (int64, error) {
	return parseDecimalScaled(value, 100)
}

// parseDecimalScaled multiplies a decimal string by scale without going
// through floats, so "10.5" with scale 100 is exactly 1050.
func parseDecimalScaled(value string, scale int64) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	negative := false
	if strings.HasPrefix(value, "-") {
		negative = true
		value = value[1:]
	}

	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}

	wholeN, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal: %w", err)
	}

	fracN := int64(0)
	if frac != "" {
		// keep only as many fractional digits as the scale can represent
		digits := len(strconv.FormatInt(scale, 10)) - 1
		if len(frac) > digits {
			frac = frac[:digits]
		}
		for len(frac) < digits {
			frac += "0"
		}
		fracN, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid decimal fraction: %w", err)
		}
	}

	result := wholeN*scale + fracN
	if negative {
		result = -result
	}
	return result, nil
}

// formatMinor renders minor units as the decimal string the wire expects.
func formatMinor(minor int64) string {
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

func toWireAddress(a domain.Address) *wireAddress {
	return &wireAddress{
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Company:   a.Company,
		Address1:  a.Address1,
		Address2:  a.Address2,
		City:      a.City,
		Postcode:  a.PostCode,
		Country:   strings.ToUpper(strings.TrimSpace(a.Country)),
		Email:     a.Email,
		Phone:     a.Phone,
	}
}
