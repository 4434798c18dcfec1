package swarm

import (
	"context"
	"testing"

	"curvewarden/internal/agent"
	"curvewarden/internal/domain"
)

func newStrategistForTest(mb *agent.Mailbox) *Strategist {
	return &Strategist{
		analysisInbox: mb.Subscribe(agent.RoleStrategist, "token-analysis"),
		outcomeInbox:  mb.Subscribe(agent.RoleStrategist, "outcome"),
		mailbox:       mb,
	}
}

func TestStrategistSkipsBelowConvictionThreshold(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleExecutor, "execution-plan")
	s := newStrategistForTest(mb)

	mb.Send(agent.RoleStrategist, "token-analysis", domain.TokenAnalysis{
		Mint: "mint1", ConvictionScore: 25, RiskProfile: domain.RiskMedium,
	})
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	plan := (<-rx).(domain.ExecutionPlan)
	if plan.Action != "skip" {
		t.Fatalf("action = %q, want skip", plan.Action)
	}
}

func TestStrategistEntersAboveThreshold(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleExecutor, "execution-plan")
	s := newStrategistForTest(mb)

	mb.Send(agent.RoleStrategist, "token-analysis", domain.TokenAnalysis{
		Mint: "mint1", ConvictionScore: 90, RiskProfile: domain.RiskLow, RecommendedPositionSizeBase: 1_000_000_000,
	})
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	plan := (<-rx).(domain.ExecutionPlan)
	if plan.Action != "enter" {
		t.Fatalf("action = %q, want enter", plan.Action)
	}
	if plan.Urgency != "high" {
		t.Fatalf("urgency = %q, want high", plan.Urgency)
	}
	if plan.BaseAmount == 0 {
		t.Fatal("expected a non-zero sized entry")
	}
}

func TestStrategistRejectsExtremeRiskRegardlessOfConviction(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleExecutor, "execution-plan")
	s := newStrategistForTest(mb)

	mb.Send(agent.RoleStrategist, "token-analysis", domain.TokenAnalysis{
		Mint: "mint1", ConvictionScore: 95, RiskProfile: domain.RiskExtreme,
	})
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	plan := (<-rx).(domain.ExecutionPlan)
	if plan.Action != "skip" {
		t.Fatalf("action = %q, want skip", plan.Action)
	}
}

func TestStrategistWinRateFeedsBackIntoSizing(t *testing.T) {
	mb := agent.NewMailbox()
	s := newStrategistForTest(mb)

	allCorrect := true
	for i := 0; i < 5; i++ {
		mb.Send(agent.RoleStrategist, "outcome", domain.DecisionOutcome{WasCorrect: &allCorrect})
	}
	s.drainOutcomes()

	if wr := s.winRate(); wr != 1.0 {
		t.Fatalf("winRate = %v, want 1.0", wr)
	}
}

type fakeStrategistPositions struct{ open []domain.PositionState }

func (f *fakeStrategistPositions) GetOpenPositions() []domain.PositionState { return f.open }

func TestStrategistSkipsDuplicateMintInOpenPositions(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleExecutor, "execution-plan")
	s := newStrategistForTest(mb)
	s.positions = &fakeStrategistPositions{open: []domain.PositionState{
		{MintAddress: "mint1", Status: domain.PositionOpen},
	}}

	mb.Send(agent.RoleStrategist, "token-analysis", domain.TokenAnalysis{
		Mint: "mint1", ConvictionScore: 90, RiskProfile: domain.RiskLow, RecommendedPositionSizeBase: 1_000_000_000,
	})
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	plan := (<-rx).(domain.ExecutionPlan)
	if plan.Action != "skip" {
		t.Fatalf("action = %q, want skip for duplicate mint", plan.Action)
	}
}

func TestStrategistHalvesSizeOnLosingStreak(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleExecutor, "execution-plan")
	s := newStrategistForTest(mb)

	lost := false
	for i := 0; i < strategistLosingStreak; i++ {
		mb.Send(agent.RoleStrategist, "outcome", domain.DecisionOutcome{WasCorrect: &lost})
	}
	s.drainOutcomes()

	mb.Send(agent.RoleStrategist, "token-analysis", domain.TokenAnalysis{
		Mint: "mint1", ConvictionScore: 90, RiskProfile: domain.RiskLow, RecommendedPositionSizeBase: 1_000_000_000,
	})
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	plan := (<-rx).(domain.ExecutionPlan)
	if plan.Action != "enter" {
		t.Fatalf("action = %q, want enter", plan.Action)
	}
	unhalved := s.heuristicAmount(context.Background(), domain.TokenAnalysis{
		Mint: "mint1", ConvictionScore: 90, RecommendedPositionSizeBase: 1_000_000_000,
	}, s.winRate())
	if plan.BaseAmount >= unhalved {
		t.Fatalf("expected losing streak to halve sizing: got %d, unhalved reference %d", plan.BaseAmount, unhalved)
	}
}

func TestStrategistCapsBaseAmountToMax(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleExecutor, "execution-plan")
	s := newStrategistForTest(mb)
	s.maxPositionSizeBase = 500_000_000

	mb.Send(agent.RoleStrategist, "token-analysis", domain.TokenAnalysis{
		Mint: "mint1", ConvictionScore: 90, RiskProfile: domain.RiskLow, RecommendedPositionSizeBase: 10_000_000_000,
	})
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	plan := (<-rx).(domain.ExecutionPlan)
	if plan.BaseAmount > s.maxPositionSizeBase {
		t.Fatalf("baseAmount %d exceeds cap %d", plan.BaseAmount, s.maxPositionSizeBase)
	}
}
