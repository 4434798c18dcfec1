package swarm

import (
	"context"
	"testing"
	"time"

	"curvewarden/internal/agent"
	"curvewarden/internal/domain"
)

type fakeSentinelPositions struct {
	positions []domain.PositionState
}

func (f *fakeSentinelPositions) GetOpenPositions() []domain.PositionState { return f.positions }

type fakeSentinelMetrics struct {
	pct float64
}

func (f *fakeSentinelMetrics) GetDevSellPercentageInWindow(mint, wallet string, windowMs int64) float64 {
	return f.pct
}

type fakeDeployerLookup struct {
	deployer string
	ok       bool
}

func (f *fakeDeployerLookup) DeployerForMint(ctx context.Context, mint string) (string, bool) {
	return f.deployer, f.ok
}

func TestSentinelRaisesCriticalThreatExit(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleExecutor, "threat-exit")

	positions := &fakeSentinelPositions{positions: []domain.PositionState{{ID: "pos1", MintAddress: "mint1", Status: domain.PositionOpen}}}
	s := &Sentinel{
		positions:   positions,
		metrics:     &fakeSentinelMetrics{pct: 40},
		deployers:   &fakeDeployerLookup{deployer: "deployer1", ok: true},
		mailbox:     mb,
		lastAlertAt: make(map[string]time.Time),
	}

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	threat := (<-rx).(domain.ThreatExit)
	if threat.Urgency != domain.UrgencyCritical || threat.Action != "full_exit" {
		t.Fatalf("got %+v", threat)
	}
}

func TestSentinelRateLimitsRepeatedAlerts(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleExecutor, "threat-exit")

	positions := &fakeSentinelPositions{positions: []domain.PositionState{{ID: "pos1", MintAddress: "mint1", Status: domain.PositionOpen}}}
	s := &Sentinel{
		positions:   positions,
		metrics:     &fakeSentinelMetrics{pct: 40},
		deployers:   &fakeDeployerLookup{deployer: "deployer1", ok: true},
		mailbox:     mb,
		lastAlertAt: make(map[string]time.Time),
	}

	_ = s.tick(context.Background())
	<-rx
	_ = s.tick(context.Background())

	select {
	case msg := <-rx:
		t.Fatalf("expected the second tick to be rate-limited, got %+v", msg)
	default:
	}
}

type fakeSentinelCurve struct {
	state domain.BondingCurveState
	err   error
}

func (f *fakeSentinelCurve) GetCurveState(ctx context.Context, curvePda string) (domain.BondingCurveState, error) {
	return f.state, f.err
}

type fakeSentinelGraph struct {
	cluster []string
	err     error
}

func (f *fakeSentinelGraph) GetCluster(ctx context.Context, root string, maxDepth int) ([]string, error) {
	return f.cluster, f.err
}

type fakeSentinelReasoner struct {
	configured bool
	out        struct {
		IsThreat       bool
		Severity       string
		Action         string
		SellPercentage float64
		Reasoning      string
	}
	err error
}

func (f *fakeSentinelReasoner) IsConfigured() bool { return f.configured }

func (f *fakeSentinelReasoner) CompleteJSON(systemPrompt, userPrompt string, out interface{}) error {
	if f.err != nil {
		return f.err
	}
	dst := out.(*struct {
		IsThreat       bool    `json:"isThreat"`
		Severity       string  `json:"severity"`
		Action         string  `json:"action"`
		SellPercentage float64 `json:"sellPercentage"`
		Reasoning      string  `json:"reasoning"`
	})
	dst.IsThreat = f.out.IsThreat
	dst.Severity = f.out.Severity
	dst.Action = f.out.Action
	dst.SellPercentage = f.out.SellPercentage
	dst.Reasoning = f.out.Reasoning
	return nil
}

type fakeSentinelRugs struct {
	calls []string
}

func (f *fakeSentinelRugs) RecordRug(ctx context.Context, deployer string, lifespanMs float64) domain.DeployerProfile {
	f.calls = append(f.calls, deployer)
	return domain.DeployerProfile{Address: deployer}
}

func TestSentinelRaisesThreatOnCurveCompletion(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleExecutor, "threat-exit")

	positions := &fakeSentinelPositions{positions: []domain.PositionState{{ID: "pos1", MintAddress: "mint1", Status: domain.PositionOpen}}}
	s := &Sentinel{
		positions:   positions,
		metrics:     &fakeSentinelMetrics{pct: 0},
		deployers:   &fakeDeployerLookup{deployer: "deployer1", ok: true},
		curve:       &fakeSentinelCurve{state: domain.BondingCurveState{Complete: true}},
		mailbox:     mb,
		lastAlertAt: make(map[string]time.Time),
	}

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	threat := (<-rx).(domain.ThreatExit)
	if threat.Action == "" {
		t.Fatalf("expected curve completion to raise a threat exit, got %+v", threat)
	}
}

func TestSentinelRaisesThreatOnOversizedCluster(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleExecutor, "threat-exit")

	bigCluster := make([]string, sentinelClusterThreshold+1)
	positions := &fakeSentinelPositions{positions: []domain.PositionState{{ID: "pos1", MintAddress: "mint1", Status: domain.PositionOpen}}}
	s := &Sentinel{
		positions:   positions,
		metrics:     &fakeSentinelMetrics{pct: 0},
		deployers:   &fakeDeployerLookup{deployer: "deployer1", ok: true},
		graph:       &fakeSentinelGraph{cluster: bigCluster},
		reasoner:    &fakeSentinelReasoner{configured: false},
		mailbox:     mb,
		lastAlertAt: make(map[string]time.Time),
	}

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	select {
	case msg := <-rx:
		t.Fatalf("medium-severity cluster threat with no high threat and no configured reasoner should not exit, got %+v", msg)
	default:
	}
}

func TestSentinelRaisesCriticalThreatOnNetworkRugSignal(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleExecutor, "threat-exit")

	positions := &fakeSentinelPositions{positions: []domain.PositionState{{ID: "pos1", MintAddress: "mint1", Status: domain.PositionOpen}}}
	rugs := &fakeSentinelRugs{}
	s := &Sentinel{
		positions:   positions,
		metrics:     &fakeSentinelMetrics{pct: 0},
		deployers:   &fakeDeployerLookup{deployer: "deployer1", ok: true},
		rugs:        rugs,
		mailbox:     mb,
		lastAlertAt: make(map[string]time.Time),
		rugSignals:  map[string]time.Time{"mint1": time.Now()},
	}

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	threat := (<-rx).(domain.ThreatExit)
	if threat.Urgency != domain.UrgencyCritical || threat.Action != "full_exit" {
		t.Fatalf("got %+v", threat)
	}
	if len(rugs.calls) != 1 || rugs.calls[0] != "deployer1" {
		t.Fatalf("expected RecordRug to be called once for deployer1, got %v", rugs.calls)
	}
}

func TestSentinelOnRugSignalRecordsMint(t *testing.T) {
	mb := agent.NewMailbox()
	s := &Sentinel{
		positions:   &fakeSentinelPositions{},
		mailbox:     mb,
		lastAlertAt: make(map[string]time.Time),
		rugSignals:  make(map[string]time.Time),
	}

	if err := s.onRugSignal(context.Background(), domain.Signal{Data: map[string]interface{}{"mint": "mint9"}}); err != nil {
		t.Fatalf("onRugSignal: %v", err)
	}
	if !s.recentRugSignal("mint9") {
		t.Fatal("expected mint9 to be recorded as a recent rug signal")
	}
}

func TestSentinelReasoningBatchDrivesPartialExit(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleExecutor, "threat-exit")

	bigCluster := make([]string, sentinelClusterThreshold+1)
	positions := &fakeSentinelPositions{positions: []domain.PositionState{{ID: "pos1", MintAddress: "mint1", Status: domain.PositionOpen}}}
	reasoner := &fakeSentinelReasoner{configured: true}
	reasoner.out.IsThreat = true
	reasoner.out.Action = "partial_exit"
	reasoner.out.SellPercentage = 25
	reasoner.out.Reasoning = "cluster growing but no confirmed dump yet"

	s := &Sentinel{
		positions:   positions,
		metrics:     &fakeSentinelMetrics{pct: 0},
		deployers:   &fakeDeployerLookup{deployer: "deployer1", ok: true},
		graph:       &fakeSentinelGraph{cluster: bigCluster},
		reasoner:    reasoner,
		mailbox:     mb,
		lastAlertAt: make(map[string]time.Time),
	}

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	threat := (<-rx).(domain.ThreatExit)
	if threat.Action != "partial_exit" || threat.SellPercentage != 25 {
		t.Fatalf("got %+v", threat)
	}
}

func TestSentinelIgnoresBelowMediumThreshold(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleExecutor, "threat-exit")

	positions := &fakeSentinelPositions{positions: []domain.PositionState{{ID: "pos1", MintAddress: "mint1", Status: domain.PositionOpen}}}
	s := &Sentinel{
		positions:   positions,
		metrics:     &fakeSentinelMetrics{pct: 2},
		deployers:   &fakeDeployerLookup{deployer: "deployer1", ok: true},
		mailbox:     mb,
		lastAlertAt: make(map[string]time.Time),
	}

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	select {
	case msg := <-rx:
		t.Fatalf("expected no threat exit below the medium threshold, got %+v", msg)
	default:
	}
}
