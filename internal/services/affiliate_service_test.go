package services

import (
	"context"
	"testing"
	"time"

	"github.com/blackboard-training/api/internal/domain"
)

func newTestAffiliateService(t *testing.T) *AffiliateService {
	t.Helper()
	service, err := NewAffiliateService(AffiliateServiceDeps{
		DefaultRateBps: 1000,
		Clock: func() time.Time {
			return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewAffiliateService: %v", err)
	}
	return service
}

func TestAffiliateCommissionAccrual(t *testing.T) {
	service := newTestAffiliateService(t)

	service.Publish(context.Background(), OrderPaidEvent{
		OrderID:     "2001",
		Amount:      13490,
		Currency:    domain.CurrencyEUR,
		AffiliateID: "aff-77",
	})

	entries := service.Ledger(context.Background(), "aff-77")
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Commission != 1349 {
		t.Errorf("Commission = %d, want 10%% of 13490", entries[0].Commission)
	}
	if entries[0].CommissionBps != 1000 {
		t.Errorf("CommissionBps = %d", entries[0].CommissionBps)
	}
}

func TestAffiliateIgnoresUnreferredOrders(t *testing.T) {
	service := newTestAffiliateService(t)
	service.Publish(context.Background(), OrderPaidEvent{OrderID: "2001", Amount: 13490})
	if entries := service.Ledger(context.Background(), ""); len(entries) != 0 {
		t.Errorf("entries = %d for unreferred order", len(entries))
	}
}

func TestAffiliateOneEntryPerOrder(t *testing.T) {
	service := newTestAffiliateService(t)

	event := OrderPaidEvent{OrderID: "2001", Amount: 13490, AffiliateID: "aff-77"}
	service.Publish(context.Background(), event)
	service.Publish(context.Background(), event)

	if entries := service.Ledger(context.Background(), "aff-77"); len(entries) != 1 {
		t.Errorf("entries = %d, want 1 per order", len(entries))
	}
}

func TestAffiliateLedgerIsPerAffiliate(t *testing.T) {
	service := newTestAffiliateService(t)

	service.Publish(context.Background(), OrderPaidEvent{OrderID: "1", Amount: 100, AffiliateID: "aff-1"})
	service.Publish(context.Background(), OrderPaidEvent{OrderID: "2", Amount: 200, AffiliateID: "aff-2"})

	if entries := service.Ledger(context.Background(), "aff-1"); len(entries) != 1 || entries[0].OrderID != "1" {
		t.Errorf("aff-1 entries = %+v", entries)
	}
	if entries := service.Ledger(context.Background(), "aff-2"); len(entries) != 1 || entries[0].OrderID != "2" {
		t.Errorf("aff-2 entries = %+v", entries)
	}
}
