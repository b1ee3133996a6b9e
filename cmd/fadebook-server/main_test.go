package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"fadebook/backend/internal/config"
	"fadebook/backend/internal/store"
)

func TestOpenStore_MemorySeedsCatalog(t *testing.T) {
	cfg := config.Config{
		StorageDriver: "memory",
		MemoryServices: []config.MemoryService{
			{ID: "fade", ProviderID: "p1", Name: "Skin fade", PriceAmount: 3500, DurationMinutes: 30},
		},
	}

	_, catalog, closeStore, err := openStore(context.Background(), slog.Default(), cfg)
	if err != nil {
		t.Fatalf("openStore error: %v", err)
	}
	defer closeStore()

	svc, err := catalog.GetService(context.Background(), "fade")
	if err != nil {
		t.Fatalf("GetService error: %v", err)
	}
	if svc.ProviderID != "p1" || svc.PriceAmount != 3500 || svc.DurationMinutes != 30 {
		t.Fatalf("service = %+v", svc)
	}
	if _, err := catalog.GetService(context.Background(), "beard"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown service err = %v, want %v", err, store.ErrNotFound)
	}
}
