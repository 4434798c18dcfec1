package risk

import (
	"testing"
	"time"

	"curvewarden/internal/domain"
)

type fakePositions struct {
	positions map[string]domain.PositionState
}

func (f *fakePositions) GetPosition(id string) (domain.PositionState, bool) {
	p, ok := f.positions[id]
	return p, ok
}

func defaultParams() domain.RiskParameters {
	return domain.RiskParameters{
		MaxPositionSizeBase: 1_000_000_000,
		MaxSlippageBps:      500,
		MaxPriorityFeeBase:  1_000_000,
		ExecutionCooldownMs: 2000,
	}
}

func TestCooldownIsIdempotent(t *testing.T) {
	e := New(defaultParams(), &fakePositions{positions: map[string]domain.PositionState{}})
	req := domain.ExecutionRequest{PositionID: "p1", Action: domain.ExecFullExit, SellPercentage: 100, MaxSlippageBps: 100}

	r1 := e.Evaluate(req)
	if !r1.Approved {
		t.Fatalf("first call should approve, got violations %v", r1.Violations)
	}

	r2 := e.Evaluate(req)
	if r2.Approved {
		t.Fatal("second call within cooldown should be rejected")
	}
	found := false
	for _, v := range r2.Violations {
		if containsCooldown(v) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ExecutionCooldown violation, got %v", r2.Violations)
	}
}

func containsCooldown(s string) bool {
	return len(s) >= len("ExecutionCooldown") && s[:len("ExecutionCooldown")] == "ExecutionCooldown"
}

func TestNeverShortCircuits(t *testing.T) {
	e := New(defaultParams(), &fakePositions{positions: map[string]domain.PositionState{
		"p1": {EntryAmountBase: 2_000_000_000},
	}})
	req := domain.ExecutionRequest{PositionID: "p1", Action: domain.ExecPartialSell, SellPercentage: 150, MaxSlippageBps: 9999, PriorityFeeBase: 5_000_000}

	r := e.Evaluate(req)
	if r.Approved {
		t.Fatal("expected rejection")
	}
	if len(r.Violations) < 4 {
		t.Fatalf("expected every violated rule collected, got %d: %v", len(r.Violations), r.Violations)
	}
}

func TestResetCooldownUnblocksNextAttempt(t *testing.T) {
	e := New(defaultParams(), &fakePositions{positions: map[string]domain.PositionState{}})
	req := domain.ExecutionRequest{PositionID: "p1", Action: domain.ExecFullExit, SellPercentage: 100, MaxSlippageBps: 100}

	e.Evaluate(req)
	e.ResetCooldown("p1")
	r := e.Evaluate(req)
	if !r.Approved {
		t.Fatalf("expected approval after cooldown reset, got %v", r.Violations)
	}
}

func TestAbsentPositionIsNotAViolation(t *testing.T) {
	e := New(defaultParams(), &fakePositions{positions: map[string]domain.PositionState{}})
	req := domain.ExecutionRequest{PositionID: "ghost", Action: domain.ExecFullExit, SellPercentage: 100, MaxSlippageBps: 100}
	r := e.Evaluate(req)
	if !r.Approved {
		t.Fatalf("absent position should not itself be a violation, got %v", r.Violations)
	}
	_ = time.Now()
}
