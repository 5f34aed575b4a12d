package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blackboard-training/api/internal/domain"
)

var (
	// ErrEmptyCart indicates the cart has no purchasable lines.
	ErrEmptyCart = errors.New("pricing: cart is empty")
	// ErrInvalidCart indicates a cart line fails structural validation.
	ErrInvalidCart = errors.New("pricing: invalid cart")
	// ErrNoPrice indicates a product has no usable price in any currency.
	// Missing prices must never silently become zero.
	ErrNoPrice = errors.New("pricing: no price available")
	// ErrCartIntegrity indicates freebie lines that contradict the cart's
	// bundles. A tampered cart is rejected, not repaired.
	ErrCartIntegrity = errors.New("pricing: cart integrity violation")
)

// Logger defines the logging contract for service operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// PricingEngine derives the authoritative price for a cart. Client-submitted
// totals and freebie lines are ignored; everything is recomputed here.
type PricingEngine struct {
	shippingEstimate int64
	freebieProductID string
	freebieName      string
	clock            func() time.Time
	logger           Logger
}

// PricingEngineDeps collects the dependencies for NewPricingEngine.
type PricingEngineDeps struct {
	ShippingEstimate int64
	FreebieProductID string
	FreebieName      string
	Clock            func() time.Time
	Logger           Logger
}

// NewPricingEngine validates dependencies and constructs a PricingEngine.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	if deps.ShippingEstimate < 0 {
		return nil, errors.New("pricing: shipping estimate must not be negative")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingEngine{
		shippingEstimate: deps.ShippingEstimate,
		freebieProductID: strings.TrimSpace(deps.FreebieProductID),
		freebieName:      strings.TrimSpace(deps.FreebieName),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// PriceCartCommand captures the inputs for a pricing run. The coupon, when
// set, has already been validated; the engine only applies it.
type PriceCartCommand struct {
	Lines      []domain.CartLine
	Currency   domain.Currency
	IsReseller bool
	Coupon     *domain.Coupon
}

// Price computes effective per-line prices and cart totals. Freebie lines in
// the input are discarded and re-derived from bundle flags, so a tampered
// request can never buy anything for free.
func (e *PricingEngine) Price(ctx context.Context, cmd PriceCartCommand) (domain.PricedCart, error) {
	if e == nil {
		return domain.PricedCart{}, errors.New("pricing: engine is nil")
	}

	if err := checkFreebieIntegrity(cmd.Lines); err != nil {
		return domain.PricedCart{}, err
	}
	lines := dropFreebies(cmd.Lines)
	if len(lines) == 0 {
		return domain.PricedCart{}, ErrEmptyCart
	}
	if err := validateLines(lines); err != nil {
		return domain.PricedCart{}, err
	}

	currency := cmd.Currency
	if currency == "" {
		currency = domain.CurrencyEUR
	}

	priced := make([]domain.PricedLine, 0, len(lines)+1)
	var subtotal, lineDiscounts int64

	for _, line := range lines {
		unit, ok := line.UnitPrice.In(currency)
		if !ok {
			return domain.PricedCart{}, fmt.Errorf("%w: product %s", ErrNoPrice, line.ProductID)
		}

		effective := unit
		reason := domain.DiscountReasonNone

		if cmd.IsReseller && resellerRuleApplies(line) {
			if rulePrice, ok := line.ResellerRule.Price.In(currency); ok && rulePrice < effective {
				effective = rulePrice
				reason = domain.DiscountReasonReseller
			}
		}

		if couponUnit, ok := couponUnitPrice(cmd.Coupon, line, unit); ok && couponUnit < effective {
			effective = couponUnit
			reason = domain.DiscountReasonCoupon
		}

		priced = append(priced, domain.PricedLine{
			CartLine:       line,
			OriginalPrice:  unit,
			EffectivePrice: effective,
			DiscountReason: reason,
		})
		subtotal += unit * int64(line.Quantity)
		lineDiscounts += (unit - effective) * int64(line.Quantity)
	}

	cartDiscount := e.applyCartCoupon(cmd.Coupon, priced)
	priced = append(priced, e.injectFreebies(lines)...)

	shipping := e.shippingEstimate
	if cmd.Coupon != nil && cmd.Coupon.FreeShipping {
		shipping = 0
	}

	discountTotal := lineDiscounts + cartDiscount
	grandTotal := subtotal - discountTotal + shipping
	if grandTotal < 0 {
		grandTotal = 0
	}

	cart := domain.PricedCart{
		Lines:            priced,
		Currency:         currency,
		Subtotal:         subtotal,
		DiscountTotal:    discountTotal,
		ShippingEstimate: shipping,
		GrandTotal:       grandTotal,
	}
	if cmd.Coupon != nil {
		cart.CouponCode = cmd.Coupon.Code
	}

	e.logger(ctx, "pricing.cart.priced", map[string]any{
		"lines":      len(cart.Lines),
		"currency":   string(currency),
		"subtotal":   subtotal,
		"discount":   discountTotal,
		"grandTotal": grandTotal,
		"isReseller": cmd.IsReseller,
	})
	return cart, nil
}

// applyCartCoupon distributes a fixed_cart coupon across the eligible lines,
// capped at what those lines are actually worth. Returns the total granted.
func (e *PricingEngine) applyCartCoupon(coupon *domain.Coupon, priced []domain.PricedLine) int64 {
	if coupon == nil || coupon.DiscountType != domain.CouponTypeFixedCart || coupon.Amount <= 0 {
		return 0
	}

	weights := make([]int64, len(priced))
	var eligibleTotal int64
	for i, line := range priced {
		if !coupon.AppliesToProduct(line.ProductID) {
			continue
		}
		weight := line.EffectivePrice * int64(line.Quantity)
		weights[i] = weight
		eligibleTotal += weight
	}
	if eligibleTotal == 0 {
		return 0
	}

	discount := coupon.Amount
	if discount > eligibleTotal {
		discount = eligibleTotal
	}
	shares := allocateByWeight(discount, weights)
	for i := range priced {
		if shares[i] == 0 {
			continue
		}
		priced[i].AllocatedDiscount = shares[i]
		if priced[i].DiscountReason == domain.DiscountReasonNone {
			priced[i].DiscountReason = domain.DiscountReasonCoupon
		}
	}
	return discount
}

// injectFreebies appends one zero-priced companion line per flagship bundle.
func (e *PricingEngine) injectFreebies(lines []domain.CartLine) []domain.PricedLine {
	if e.freebieProductID == "" {
		return nil
	}
	var freebies []domain.PricedLine
	seen := make(map[string]bool)
	for _, line := range lines {
		if line.BundleKind != domain.BundleKindFlagship || seen[line.ProductID] {
			continue
		}
		seen[line.ProductID] = true
		freebies = append(freebies, domain.PricedLine{
			CartLine: domain.CartLine{
				ProductID:       e.freebieProductID,
				Name:            e.freebieName,
				Quantity:        1,
				IsFreebie:       true,
				ParentProductID: line.ProductID,
			},
			OriginalPrice:  0,
			EffectivePrice: 0,
			DiscountReason: domain.DiscountReasonNone,
		})
	}
	return freebies
}

// checkFreebieIntegrity vets submitted freebie lines before they are dropped
// and re-derived. Each freebie must reference a billable line in the same
// cart, and a parent carries at most one.
func checkFreebieIntegrity(lines []domain.CartLine) error {
	parents := make(map[string]bool)
	for _, line := range lines {
		if !line.IsFreebie {
			parents[line.ProductID] = true
		}
	}
	claimed := make(map[string]bool)
	for _, line := range lines {
		if !line.IsFreebie {
			continue
		}
		parent := strings.TrimSpace(line.ParentProductID)
		if parent == "" || !parents[parent] {
			return fmt.Errorf("%w: freebie %s has no parent line", ErrCartIntegrity, line.ProductID)
		}
		if claimed[parent] {
			return fmt.Errorf("%w: product %s carries more than one freebie", ErrCartIntegrity, parent)
		}
		claimed[parent] = true
	}
	return nil
}

func dropFreebies(lines []domain.CartLine) []domain.CartLine {
	kept := make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		if line.IsFreebie {
			continue
		}
		kept = append(kept, line)
	}
	return kept
}

func validateLines(lines []domain.CartLine) error {
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("%w: line without product id", ErrInvalidCart)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: product %s has quantity %d", ErrInvalidCart, line.ProductID, line.Quantity)
		}
	}
	return nil
}

func resellerRuleApplies(line domain.CartLine) bool {
	rule := line.ResellerRule
	return rule != nil && rule.Enabled && line.Quantity >= rule.MinQuantity
}

// couponUnitPrice returns the per-unit price after a line-level coupon, or
// false when the coupon does not touch this line.
func couponUnitPrice(coupon *domain.Coupon, line domain.CartLine, unit int64) (int64, bool) {
	if coupon == nil || !coupon.AppliesToProduct(line.ProductID) {
		return 0, false
	}
	switch coupon.DiscountType {
	case domain.CouponTypePercent:
		if coupon.Amount <= 0 {
			return 0, false
		}
		discounted := unit - unit*coupon.Amount/10000
		if discounted < 0 {
			discounted = 0
		}
		return discounted, true
	case domain.CouponTypeFixedProduct:
		if coupon.Amount <= 0 {
			return 0, false
		}
		discounted := unit - coupon.Amount
		if discounted < 0 {
			discounted = 0
		}
		return discounted, true
	}
	return 0, false
}

// allocateByWeight splits amount across weights proportionally, assigning
// remainders to the largest weights so the shares always sum to amount.
func allocateByWeight(amount int64, weights []int64) []int64 {
	shares := make([]int64, len(weights))
	if amount <= 0 {
		return shares
	}
	var totalWeight int64
	for _, w := range weights {
		if w > 0 {
			totalWeight += w
		}
	}
	if totalWeight == 0 {
		return shares
	}

	var assigned int64
	largest := -1
	var largestWeight int64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		shares[i] = amount * w / totalWeight
		assigned += shares[i]
		if w > largestWeight {
			largestWeight = w
			largest = i
		}
	}
	if remainder := amount - assigned; remainder > 0 && largest >= 0 {
		shares[largest] += remainder
	}
	return shares
}
