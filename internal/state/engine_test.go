package state

import (
	"context"
	"testing"
	"time"

	"curvewarden/internal/domain"
	"curvewarden/internal/events"
)

type fakeStore struct {
	positions []domain.PositionState
}

func (f *fakeStore) LoadOpenPositions(ctx context.Context) ([]domain.PositionState, error) {
	return f.positions, nil
}

type fakeSnapshot struct{ calls int }

func (f *fakeSnapshot) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.calls++
	return nil
}

func TestDevSellPercentageInWindow(t *testing.T) {
	bus := events.New()
	e := New(&fakeStore{}, &fakeSnapshot{}, bus, "snap:key")
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(context.Background())

	now := time.Now().UnixMilli()
	bus.PublishSync(domain.InternalEvent{Kind: domain.EventDevWalletSell, MintAddress: "mint1", DevWallet: "dev1", PercentageOfHoldings: 10, TimestampMs: now - 700_000})
	bus.PublishSync(domain.InternalEvent{Kind: domain.EventDevWalletSell, MintAddress: "mint1", DevWallet: "dev1", PercentageOfHoldings: 25, TimestampMs: now - 100_000})

	sum := e.GetDevSellPercentageInWindow("mint1", "dev1", 600_000)
	if sum != 25 {
		t.Fatalf("windowed sum = %v, want 25", sum)
	}

	bus.PublishSync(domain.InternalEvent{Kind: domain.EventDevWalletSell, MintAddress: "mint1", DevWallet: "dev1", PercentageOfHoldings: 10, TimestampMs: now - 50_000})
	sum = e.GetDevSellPercentageInWindow("mint1", "dev1", 600_000)
	if sum != 35 {
		t.Fatalf("windowed sum after third sell = %v, want 35", sum)
	}
}

func TestUpdatePositionRejectsReopen(t *testing.T) {
	bus := events.New()
	e := New(&fakeStore{}, &fakeSnapshot{}, bus, "snap:key")
	closedAt := time.Now()
	e.AddPosition(domain.PositionState{ID: "p1", Status: domain.PositionClosed, ClosedAt: &closedAt})

	open := domain.PositionOpen
	got, ok := e.UpdatePosition("p1", domain.PositionUpdate{Status: &open})
	if !ok {
		t.Fatal("expected position to exist")
	}
	if got.Status != domain.PositionClosed {
		t.Fatalf("status = %v, want Closed to remain sticky", got.Status)
	}
}

func TestRingBoundAndSnapshot(t *testing.T) {
	store := &fakeStore{}
	snap := &fakeSnapshot{}
	bus := events.New()
	e := New(store, snap, bus, "snap:key")
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 150; i++ {
		bus.PublishSync(domain.InternalEvent{Kind: domain.EventDevWalletSell, MintAddress: "m", DevWallet: "w", PercentageOfHoldings: 1, TimestampMs: int64(i)})
	}

	m, ok := e.GetDevMetrics("m", "w")
	if !ok {
		t.Fatal("expected dev metrics to exist")
	}
	if len(m.RecentSells) != domain.DevMetricsRingSize {
		t.Fatalf("ring length = %d, want %d", len(m.RecentSells), domain.DevMetricsRingSize)
	}
	if m.TotalSellCount != 150 {
		t.Fatalf("TotalSellCount = %d, want 150", m.TotalSellCount)
	}
	if m.TotalSellPercentage != 150 {
		t.Fatalf("TotalSellPercentage = %v, want 150 (never decays on eviction)", m.TotalSellPercentage)
	}

	e.Stop(context.Background())
	if snap.calls == 0 {
		t.Fatal("expected Stop to flush a final snapshot")
	}
}
