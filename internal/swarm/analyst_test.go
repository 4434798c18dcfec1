package swarm

import (
	"context"
	"testing"

	"curvewarden/internal/agent"
	"curvewarden/internal/domain"
)

func TestAnalystHeuristicWithoutReasoner(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleStrategist, "token-analysis")
	analyst := newAnalystForTest(nil, mb)

	mb.Send(agent.RoleAnalyst, "new-launch", ScoutSignal{
		Mint: "mint1", Deployer: "deployer1",
		Profile: domain.DeployerProfile{Score: 80, RugRate: 0.05},
	})

	if err := analyst.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	select {
	case msg := <-rx:
		analysis, ok := msg.(domain.TokenAnalysis)
		if !ok {
			t.Fatalf("got %+v", msg)
		}
		if analysis.ConvictionScore != 80 {
			t.Fatalf("conviction = %v, want 80", analysis.ConvictionScore)
		}
		if analysis.RiskProfile != domain.RiskLow {
			t.Fatalf("risk = %v, want low", analysis.RiskProfile)
		}
	default:
		t.Fatal("expected a forwarded analysis")
	}
}

func TestRiskProfileForThresholds(t *testing.T) {
	cases := []struct {
		rugRate float64
		want    domain.RiskProfile
	}{
		{0.0, domain.RiskLow},
		{0.15, domain.RiskMedium},
		{0.3, domain.RiskHigh},
		{0.6, domain.RiskExtreme},
	}
	for _, c := range cases {
		got := riskProfileFor(domain.DeployerProfile{RugRate: c.rugRate})
		if got != c.want {
			t.Errorf("riskProfileFor(%v) = %v, want %v", c.rugRate, got, c.want)
		}
	}
}

func newAnalystForTest(reasoner AnalystReasoner, mb *agent.Mailbox) *Analyst {
	return &Analyst{reasoner: reasoner, inbox: mb.Subscribe(agent.RoleAnalyst, "new-launch"), mailbox: mb}
}

type fakeAnalystCurve struct {
	state domain.BondingCurveState
	err   error
}

func (f *fakeAnalystCurve) GetCurveState(ctx context.Context, curvePda string) (domain.BondingCurveState, error) {
	return f.state, f.err
}

type fakeAnalystGraph struct {
	cluster []string
}

func (f *fakeAnalystGraph) GetCluster(ctx context.Context, root string, maxDepth int) ([]string, error) {
	return f.cluster, nil
}

func TestAnalystSkipsCompletedCurve(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleStrategist, "token-analysis")
	analyst := newAnalystForTest(nil, mb)
	analyst.curve = &fakeAnalystCurve{state: domain.BondingCurveState{Complete: true}}

	mb.Send(agent.RoleAnalyst, "new-launch", ScoutSignal{
		Mint: "mint1", Deployer: "deployer1",
		Profile: domain.DeployerProfile{Score: 80, RugRate: 0.05},
	})
	if err := analyst.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	select {
	case msg := <-rx:
		t.Fatalf("expected a completed curve to be skipped, got %+v", msg)
	default:
	}
}

func TestAnalystUsesClusterLookupForSize(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleStrategist, "token-analysis")
	analyst := newAnalystForTest(nil, mb)
	analyst.graph = &fakeAnalystGraph{cluster: []string{"a", "b", "c"}}

	mb.Send(agent.RoleAnalyst, "new-launch", ScoutSignal{
		Mint: "mint1", Deployer: "deployer1",
		Profile: domain.DeployerProfile{Score: 80, RugRate: 0.05},
	})
	if err := analyst.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	analysis := (<-rx).(domain.TokenAnalysis)
	if analysis.ClusterSize != 3 {
		t.Fatalf("clusterSize = %d, want 3", analysis.ClusterSize)
	}
}
