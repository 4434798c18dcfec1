package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"curvewarden/internal/domain"
	"curvewarden/internal/events"
)

type fakePolicy struct{ results []domain.PolicyEvaluationResult }

func (f *fakePolicy) EvaluateEvent(evt domain.InternalEvent) []domain.PolicyEvaluationResult {
	return f.results
}

type fakePositions struct{ positions []domain.PositionState }

func (f *fakePositions) GetPositionsByMint(mint string) []domain.PositionState {
	var out []domain.PositionState
	for _, p := range f.positions {
		if p.MintAddress == mint {
			out = append(out, p)
		}
	}
	return out
}

type blockingExecutor struct {
	calls   int32
	release chan struct{}
	wg      sync.WaitGroup
}

func (e *blockingExecutor) Execute(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
	atomic.AddInt32(&e.calls, 1)
	e.wg.Done()
	<-e.release
	return domain.ExecutionResult{Status: domain.ExecConfirmed}
}

func TestDropsConcurrentEventForSamePosition(t *testing.T) {
	policy := &fakePolicy{results: []domain.PolicyEvaluationResult{
		{PolicyID: "p1", Action: domain.ActionExitPosition, MintAddress: "mint1"},
	}}
	positions := &fakePositions{positions: []domain.PositionState{
		{ID: "pos1", MintAddress: "mint1", Status: domain.PositionOpen},
	}}
	exec := &blockingExecutor{release: make(chan struct{})}
	exec.wg.Add(1)
	o := New(policy, exec, positions, events.New())
	_ = o.Start(context.Background())

	evt := domain.InternalEvent{Kind: domain.EventDevWalletSell, MintAddress: "mint1"}
	o.handleEvent(context.Background(), evt)
	exec.wg.Wait()

	o.handleEvent(context.Background(), evt)
	close(exec.release)
	time.Sleep(50 * time.Millisecond)

	if calls := atomic.LoadInt32(&exec.calls); calls != 1 {
		t.Fatalf("expected exactly 1 dispatched execution while one is in flight, got %d", calls)
	}
}

func TestAlertOnlyNeverDispatches(t *testing.T) {
	policy := &fakePolicy{results: []domain.PolicyEvaluationResult{
		{PolicyID: "p1", Action: domain.ActionAlertOnly, MintAddress: "mint1"},
	}}
	positions := &fakePositions{positions: []domain.PositionState{
		{ID: "pos1", MintAddress: "mint1", Status: domain.PositionOpen},
	}}
	exec := &blockingExecutor{release: make(chan struct{})}
	close(exec.release)
	o := New(policy, exec, positions, events.New())

	o.handleEvent(context.Background(), domain.InternalEvent{Kind: domain.EventDevWalletSell, MintAddress: "mint1"})
	time.Sleep(20 * time.Millisecond)

	if calls := atomic.LoadInt32(&exec.calls); calls != 0 {
		t.Fatalf("AlertOnly should never dispatch an execution, got %d calls", calls)
	}
}

func TestMapToRequestActionTable(t *testing.T) {
	cases := []struct {
		action   domain.PolicyAction
		wantExec domain.ExecutionAction
		wantPct  float64
	}{
		{domain.ActionExitPosition, domain.ExecFullExit, 100},
		{domain.ActionPartialSell, domain.ExecPartialSell, 50},
		{domain.ActionHaltStrategy, domain.ExecHalt, 0},
	}
	for _, c := range cases {
		req, ok := mapToRequest("pos1", domain.PolicyEvaluationResult{Action: c.action})
		if !ok {
			t.Fatalf("%s: expected dispatch", c.action)
		}
		if req.Action != c.wantExec || req.SellPercentage != c.wantPct {
			t.Fatalf("%s: got %v/%v, want %v/%v", c.action, req.Action, req.SellPercentage, c.wantExec, c.wantPct)
		}
	}

	if _, ok := mapToRequest("pos1", domain.PolicyEvaluationResult{Action: domain.ActionAlertOnly}); ok {
		t.Fatal("AlertOnly must not produce a request")
	}
}

func TestPartialSellUsesActionParamOverride(t *testing.T) {
	req, ok := mapToRequest("pos1", domain.PolicyEvaluationResult{
		Action:       domain.ActionPartialSell,
		ActionParams: &domain.ActionParams{SellPercentage: 25, MaxSlippageBps: 300},
	})
	if !ok || req.SellPercentage != 25 || req.MaxSlippageBps != 300 {
		t.Fatalf("expected override honored, got %+v ok=%v", req, ok)
	}
}
