package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/blackboard-training/api/internal/domain"
	"github.com/blackboard-training/api/internal/woocommerce"
)

// CouponRejectReason enumerates why a coupon failed validation.
type CouponRejectReason string

const (
	CouponRejectNone          CouponRejectReason = ""
	CouponRejectNotFound      CouponRejectReason = "not_found"
	CouponRejectExpired       CouponRejectReason = "expired"
	CouponRejectUsageLimit    CouponRejectReason = "usage_limit_reached"
	CouponRejectNotApplicable CouponRejectReason = "not_applicable"
	// CouponRejectEmailRestricted means the coupon is reserved for other
	// customer email addresses.
	CouponRejectEmailRestricted CouponRejectReason = "email_restricted"
	// CouponRejectUnavailable means the coupon backend could not be reached.
	// The coupon is refused rather than guessed at.
	CouponRejectUnavailable CouponRejectReason = "unavailable"
)

// CouponCustomer identifies the customer attempting to redeem a coupon.
// Either field may be empty for guest checkouts.
type CouponCustomer struct {
	ID    string
	Email string
}

// CouponValidation is the outcome of validating a coupon against a cart.
type CouponValidation struct {
	Valid  bool
	Reason CouponRejectReason
	Coupon *domain.Coupon
}

type couponReader interface {
	GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error)
}

// CouponServiceDeps collects the dependencies for NewCouponService.
type CouponServiceDeps struct {
	Coupons couponReader
	Clock   func() time.Time
	Logger  Logger
}

// CouponService validates coupon codes against the order system's coupon
// records and the current cart contents.
type CouponService struct {
	coupons couponReader
	clock   func() time.Time
	logger  Logger
}

// NewCouponService validates dependencies and constructs a CouponService.
func NewCouponService(deps CouponServiceDeps) (*CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon: coupon reader is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CouponService{
		coupons: deps.Coupons,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Validate checks a coupon code against expiry, usage limits, email
// restrictions, and the cart's product set. Backend outages reject the coupon
// instead of granting it.
func (s *CouponService) Validate(ctx context.Context, code string, lines []domain.CartLine, customer CouponCustomer) (CouponValidation, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return CouponValidation{Reason: CouponRejectNotFound}, nil
	}

	coupon, err := s.coupons.GetCouponByCode(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, woocommerce.ErrCouponNotFound):
			return CouponValidation{Reason: CouponRejectNotFound}, nil
		case errors.Is(err, woocommerce.ErrUnavailable):
			s.logger(ctx, "coupon.backend.unavailable", map[string]any{
				"code":  code,
				"error": err.Error(),
			})
			return CouponValidation{Reason: CouponRejectUnavailable}, nil
		default:
			return CouponValidation{}, err
		}
	}

	if coupon.ExpiresAt != nil && s.clock().After(*coupon.ExpiresAt) {
		return CouponValidation{Reason: CouponRejectExpired}, nil
	}
	if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
		return CouponValidation{Reason: CouponRejectUsageLimit}, nil
	}
	if !coupon.AllowsEmail(customer.Email) {
		return CouponValidation{Reason: CouponRejectEmailRestricted}, nil
	}
	if len(coupon.ProductIDs) > 0 && !couponTouchesCart(coupon, lines) {
		return CouponValidation{Reason: CouponRejectNotApplicable}, nil
	}

	s.logger(ctx, "coupon.validated", map[string]any{
		"code": coupon.Code,
		"type": string(coupon.DiscountType),
	})
	return CouponValidation{Valid: true, Coupon: &coupon}, nil
}

func couponTouchesCart(coupon domain.Coupon, lines []domain.CartLine) bool {
	for _, line := range lines {
		if line.IsFreebie {
			continue
		}
		if coupon.AppliesToProduct(line.ProductID) {
			return true
		}
	}
	return false
}
