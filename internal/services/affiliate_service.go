package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/blackboard-training/api/internal/domain"
)

// LedgerEntry is one commission accrual for an affiliate.
type LedgerEntry struct {
	ID            string          `json:"id"`
	AffiliateID   string          `json:"affiliateId"`
	OrderID       string          `json:"orderId"`
	OrderAmount   int64           `json:"orderAmount"`
	CommissionBps int64           `json:"commissionBps"`
	Commission    int64           `json:"commission"`
	Currency      domain.Currency `json:"currency"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// AffiliateServiceDeps collects the dependencies for NewAffiliateService.
type AffiliateServiceDeps struct {
	DefaultRateBps int64
	Clock          func() time.Time
	Logger         Logger
}

// AffiliateService accrues commissions for referred orders. It subscribes to
// paid-order events; an order that never gets paid never earns anything.
type AffiliateService struct {
	rateBps int64
	clock   func() time.Time
	logger  Logger

	mu      sync.Mutex
	entries []LedgerEntry
	byOrder map[string]bool
}

// NewAffiliateService validates dependencies and constructs the service.
func NewAffiliateService(deps AffiliateServiceDeps) (*AffiliateService, error) {
	if deps.DefaultRateBps < 0 || deps.DefaultRateBps > 10000 {
		return nil, errors.New("affiliate: rate must be between 0 and 10000 basis points")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &AffiliateService{
		rateBps: deps.DefaultRateBps,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:  logger,
		byOrder: make(map[string]bool),
	}, nil
}

// Publish records a commission for a paid order. Orders without a referral
// are ignored, and an order can accrue at most one entry.
func (s *AffiliateService) Publish(ctx context.Context, event OrderPaidEvent) {
	affiliateID := strings.TrimSpace(event.AffiliateID)
	if affiliateID == "" || event.OrderID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byOrder[event.OrderID] {
		return
	}

	entry := LedgerEntry{
		ID:            ulid.Make().String(),
		AffiliateID:   affiliateID,
		OrderID:       event.OrderID,
		OrderAmount:   event.Amount,
		CommissionBps: s.rateBps,
		Commission:    event.Amount * s.rateBps / 10000,
		Currency:      event.Currency,
		CreatedAt:     s.clock(),
	}
	s.entries = append(s.entries, entry)
	s.byOrder[event.OrderID] = true

	s.logger(ctx, "affiliate.commission.accrued", map[string]any{
		"affiliateId": affiliateID,
		"orderId":     event.OrderID,
		"commission":  entry.Commission,
		"currency":    string(event.Currency),
	})
}

// Ledger returns the accrued entries for an affiliate, newest first.
func (s *AffiliateService) Ledger(_ context.Context, affiliateID string) []LedgerEntry {
	affiliateID = strings.TrimSpace(affiliateID)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []LedgerEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].AffiliateID == affiliateID {
			out = append(out, s.entries[i])
		}
	}
	return out
}
