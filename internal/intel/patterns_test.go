package intel

import (
	"testing"

	"curvewarden/internal/domain"
)

func TestMatchConditionOperators(t *testing.T) {
	cases := []struct {
		cond domain.PatternCondition
		val  float64
		want bool
	}{
		{domain.PatternCondition{Operator: domain.OpGT, Value: []float64{10}}, 11, true},
		{domain.PatternCondition{Operator: domain.OpGT, Value: []float64{10}}, 9, false},
		{domain.PatternCondition{Operator: domain.OpLT, Value: []float64{10}}, 9, true},
		{domain.PatternCondition{Operator: domain.OpEQ, Value: []float64{10}}, 10, true},
		{domain.PatternCondition{Operator: domain.OpGTE, Value: []float64{10}}, 10, true},
		{domain.PatternCondition{Operator: domain.OpLTE, Value: []float64{10}}, 10, true},
		{domain.PatternCondition{Operator: domain.OpBetween, Value: []float64{5, 15}}, 10, true},
		{domain.PatternCondition{Operator: domain.OpBetween, Value: []float64{5, 15}}, 20, false},
	}
	for _, c := range cases {
		if got := matchCondition(c.cond, c.val); got != c.want {
			t.Errorf("%v against %v = %v, want %v", c.cond, c.val, got, c.want)
		}
	}
}

func TestMatchAllRequiresEveryCondition(t *testing.T) {
	p := domain.Pattern{Conditions: []domain.PatternCondition{
		{Field: "convictionScore", Operator: domain.OpGT, Value: []float64{50}},
		{Field: "clusterSize", Operator: domain.OpLT, Value: []float64{5}},
	}}
	if !matchAll(p, map[string]float64{"convictionScore": 60, "clusterSize": 2}) {
		t.Fatal("expected match when both conditions satisfied")
	}
	if matchAll(p, map[string]float64{"convictionScore": 60, "clusterSize": 10}) {
		t.Fatal("expected no match when one condition fails")
	}
	if matchAll(p, map[string]float64{"convictionScore": 60}) {
		t.Fatal("expected no match when a field is missing from context")
	}
}

func TestComputeScoreClampsAndRounds(t *testing.T) {
	profile := domain.DeployerProfile{RugRate: 0, TotalLaunches: 0, AvgTokenLifespanMs: 0}
	score := computeScore(profile, 0, 0)
	if score != 50 {
		t.Fatalf("expected baseline score 50 for a fresh deployer, got %v", score)
	}

	rugged := domain.DeployerProfile{RugRate: 1, TotalLaunches: 1}
	score = computeScore(rugged, 20, 100)
	if score != 0 {
		t.Fatalf("expected heavily penalized score clamped to 0, got %v", score)
	}
}
