package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blackboard-training/api/internal/domain"
)

func TestMemoryCartStoreRoundTrip(t *testing.T) {
	store := NewMemoryCartStore(2*time.Hour, nil)

	saved, err := store.Save(context.Background(), StoredCart{
		Lines:    []domain.CartLine{{ProductID: "501", Quantity: 1}},
		Currency: domain.CurrencyEUR,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.ID == "" {
		t.Fatalf("Save did not mint an id")
	}

	loaded, err := store.Load(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Lines) != 1 || loaded.Lines[0].ProductID != "501" {
		t.Errorf("loaded lines = %+v", loaded.Lines)
	}
}

func TestMemoryCartStoreExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryCartStore(2*time.Hour, func() time.Time { return now })

	saved, err := store.Save(context.Background(), StoredCart{Currency: domain.CurrencyEUR})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	now = now.Add(time.Hour)
	if _, err := store.Load(context.Background(), saved.ID); err != nil {
		t.Fatalf("Load before expiry: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := store.Load(context.Background(), saved.ID); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("Load after expiry: err = %v, want ErrCartNotFound", err)
	}
}

func TestMemoryCartStoreDelete(t *testing.T) {
	store := NewMemoryCartStore(time.Hour, nil)
	saved, _ := store.Save(context.Background(), StoredCart{Currency: domain.CurrencyEUR})

	if err := store.Delete(context.Background(), saved.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(context.Background(), saved.ID); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("err = %v, want ErrCartNotFound", err)
	}
	if err := store.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("Delete of unknown id: %v", err)
	}
}
