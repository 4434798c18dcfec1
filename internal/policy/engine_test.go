package policy

import (
	"context"
	"testing"

	"curvewarden/internal/domain"
	"curvewarden/internal/events"
)

type fakeStateReader struct {
	windowSum float64
	lpState   domain.LPState
	lpOK      bool
}

func (f *fakeStateReader) GetDevSellPercentageInWindow(mint, wallet string, windowMs int64) float64 {
	return f.windowSum
}
func (f *fakeStateReader) GetDevMetrics(mint, wallet string) (domain.DevWalletMetrics, bool) {
	return domain.DevWalletMetrics{}, false
}
func (f *fakeStateReader) GetLPState(pool string) (domain.LPState, bool) {
	if !f.lpOK {
		return domain.LPState{}, false
	}
	return f.lpState, true
}

type fakePolicyStore struct{ policies []domain.PolicyDefinition }

func (f *fakePolicyStore) LoadActivePolicies(ctx context.Context) ([]domain.PolicyDefinition, error) {
	return f.policies, nil
}

func TestDevSellTriggerScenario(t *testing.T) {
	windowSeconds := int64(600)
	store := &fakePolicyStore{policies: []domain.PolicyDefinition{{
		ID: "pol1", Trigger: domain.TriggerDevSellPercentage, Threshold: 30,
		WindowSeconds: &windowSeconds, Action: domain.ActionExitPosition, IsActive: true, Priority: 1,
	}}}
	state := &fakeStateReader{windowSum: 25}
	bus := events.New()
	e := New(store, state, bus)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	evt := domain.InternalEvent{Kind: domain.EventDevWalletSell, MintAddress: "mint1", DevWallet: "dev1"}
	results := e.EvaluateEvent(evt)
	if len(results) != 0 {
		t.Fatalf("expected no trigger at windowSum=25, got %+v", results)
	}

	state.windowSum = 35
	results = e.EvaluateEvent(evt)
	if len(results) != 1 {
		t.Fatalf("expected 1 trigger at windowSum=35, got %d", len(results))
	}
	if results[0].Action != domain.ActionExitPosition {
		t.Fatalf("action = %v, want ExitPosition", results[0].Action)
	}
}

func TestPriceDropStubNeverTriggers(t *testing.T) {
	store := &fakePolicyStore{policies: []domain.PolicyDefinition{{
		ID: "pol2", Trigger: domain.TriggerPriceDropPercentage, Threshold: 10, Action: domain.ActionAlertOnly, IsActive: true,
	}}}
	bus := events.New()
	e := New(store, &fakeStateReader{}, bus)
	_ = e.Start(context.Background())

	results := e.EvaluateEvent(domain.InternalEvent{Kind: domain.EventSupplyChange, ChangePercentage: 99})
	if len(results) != 0 {
		t.Fatalf("expected PriceDropPercentage stub to never trigger, got %+v", results)
	}
}

func TestLpRemovalTotalTriggersOnCumulativePercentage(t *testing.T) {
	store := &fakePolicyStore{policies: []domain.PolicyDefinition{{
		ID: "pol3", Trigger: domain.TriggerLpRemovalTotal, Threshold: 50, Action: domain.ActionHaltStrategy, IsActive: true,
	}}}
	state := &fakeStateReader{lpOK: true, lpState: domain.LPState{TotalRemovedPercentage: 20}}
	bus := events.New()
	e := New(store, state, bus)
	_ = e.Start(context.Background())

	evt := domain.InternalEvent{Kind: domain.EventLpRemove, PoolAddress: "pool1"}
	results := e.EvaluateEvent(evt)
	if len(results) != 0 {
		t.Fatalf("expected no trigger at 20%% removed, got %+v", results)
	}

	state.lpState.TotalRemovedPercentage = 55
	results = e.EvaluateEvent(evt)
	if len(results) != 1 {
		t.Fatalf("expected 1 trigger at 55%% removed, got %d", len(results))
	}
	if results[0].Action != domain.ActionHaltStrategy {
		t.Fatalf("action = %v, want HaltStrategy", results[0].Action)
	}
}

func TestResultsSortedByPriorityDescending(t *testing.T) {
	store := &fakePolicyStore{policies: []domain.PolicyDefinition{
		{ID: "low", Trigger: domain.TriggerSupplyIncrease, Threshold: 1, Action: domain.ActionAlertOnly, IsActive: true, Priority: 1},
		{ID: "high", Trigger: domain.TriggerSupplyIncrease, Threshold: 1, Action: domain.ActionExitPosition, IsActive: true, Priority: 10},
	}}
	bus := events.New()
	e := New(store, &fakeStateReader{}, bus)
	_ = e.Start(context.Background())

	results := e.EvaluateEvent(domain.InternalEvent{Kind: domain.EventSupplyChange, ChangePercentage: 50})
	if len(results) != 2 || results[0].PolicyID != "high" {
		t.Fatalf("expected high-priority result first, got %+v", results)
	}
}

func TestAddAndRemovePolicy(t *testing.T) {
	bus := events.New()
	e := New(&fakePolicyStore{}, &fakeStateReader{}, bus)
	e.AddPolicy(domain.PolicyDefinition{ID: "p1"})
	if len(e.ListPolicies()) != 1 {
		t.Fatal("expected 1 policy after add")
	}
	if !e.RemovePolicy("p1") {
		t.Fatal("expected removal to succeed")
	}
	if len(e.ListPolicies()) != 0 {
		t.Fatal("expected 0 policies after remove")
	}
}
