package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"curvewarden/internal/agent"
	"curvewarden/internal/domain"
	"curvewarden/internal/logging"
	"curvewarden/internal/signalbus"
)

const (
	sentinelTickInterval       = 5 * time.Second
	sentinelPerPositionCooldown = 10 * time.Second
	sentinelSellWindowMs       = int64(10 * 60 * 1000)
	sentinelClusterDepth       = 2
	sentinelClusterThreshold   = 10
	sentinelRugSignalWindow    = 10 * time.Minute
	sentinelRugsChannel        = "rugs"

	sentinelCriticalThreshold = 30.0
	sentinelHighThreshold     = 15.0
	sentinelMediumThreshold   = 5.0
)

const sentinelSystemPrompt = "You are a defense sentinel deciding how to react to non-critical threats against " +
	"an open bonding-curve position. Respond only with a JSON object having keys " +
	"isThreat (bool), severity (one of low/medium/high/critical), action (one of hold/partial_exit/full_exit), " +
	"sellPercentage (0-100 number), and reasoning (short string)."

// SentinelPositions is the State Engine capability the sentinel scans for
// open positions to monitor.
type SentinelPositions interface {
	GetOpenPositions() []domain.PositionState
}

// SentinelMetrics is the State Engine capability the sentinel reads
// dev-wallet sell activity through.
type SentinelMetrics interface {
	GetDevSellPercentageInWindow(mint, wallet string, windowMs int64) float64
}

// SentinelDeployerLookup resolves the deployer wallet recorded for a mint
// at launch time, so the sentinel knows which wallet's sells to watch.
type SentinelDeployerLookup interface {
	DeployerForMint(ctx context.Context, mint string) (string, bool)
}

// SentinelCurveReader fetches bonding-curve reserves so the sentinel can
// treat curve completion as a threat signal.
type SentinelCurveReader interface {
	GetCurveState(ctx context.Context, curvePda string) (domain.BondingCurveState, error)
}

// SentinelWalletGraph is the WalletGraph capability the sentinel consults
// for the dev wallet's connected-wallet cluster size.
type SentinelWalletGraph interface {
	GetCluster(ctx context.Context, root string, maxDepth int) ([]string, error)
}

// SentinelReasoner is the reasoning-service capability the sentinel
// batches non-critical threats through.
type SentinelReasoner interface {
	CompleteJSON(systemPrompt, userPrompt string, out interface{}) error
	IsConfigured() bool
}

// SentinelSignalBus is the cross-node Signal Bus capability the sentinel
// both publishes high/critical threats to and subscribes to for other
// nodes' rug signals. Subscribe must be called before the bus starts
// consuming.
type SentinelSignalBus interface {
	Publish(ctx context.Context, channel, sigType string, data map[string]interface{}) error
	Subscribe(channel string, h signalbus.Handler)
}

// SentinelRugRecorder is the deployer-reputation write capability the
// sentinel drives once a critical threat confirms a rug against one of
// its own open positions.
type SentinelRugRecorder interface {
	RecordRug(ctx context.Context, deployer string, lifespanMs float64) domain.DeployerProfile
}

// threat is one raised signal against a single position, ahead of
// severity-based routing.
type threat struct {
	source   string
	severity domain.ThreatUrgency
}

// Sentinel watches every open position for dev-sell-off, bonding-curve
// completion, dev-wallet cluster growth, and cross-node rug signals,
// raising a ThreatExit to the executor-agent when severity crosses a
// threshold, rate-limited per position.
type Sentinel struct {
	positions SentinelPositions
	metrics   SentinelMetrics
	deployers SentinelDeployerLookup
	curve     SentinelCurveReader
	graph     SentinelWalletGraph
	reasoner  SentinelReasoner
	signals   SentinelSignalBus
	rugs      SentinelRugRecorder
	mailbox   *agent.Mailbox

	mu          sync.Mutex
	lastAlertAt map[string]time.Time
	rugSignals  map[string]time.Time // mint -> last network rug signal received
}

// NewSentinel wires a Sentinel and returns the agent.Agent driving its
// tick loop. curve, graph, reasoner, signals, and rugs may each be nil, in
// which case the corresponding threat source, reasoning batch, or
// recording step is skipped.
func NewSentinel(positions SentinelPositions, metrics SentinelMetrics, deployers SentinelDeployerLookup, curve SentinelCurveReader, graph SentinelWalletGraph, reasoner SentinelReasoner, signals SentinelSignalBus, rugs SentinelRugRecorder, mailbox *agent.Mailbox) *agent.Agent {
	s := &Sentinel{
		positions:   positions,
		metrics:     metrics,
		deployers:   deployers,
		curve:       curve,
		graph:       graph,
		reasoner:    reasoner,
		signals:     signals,
		rugs:        rugs,
		mailbox:     mailbox,
		lastAlertAt: make(map[string]time.Time),
		rugSignals:  make(map[string]time.Time),
	}
	if signals != nil {
		signals.Subscribe(sentinelRugsChannel, s.onRugSignal)
	}
	return agent.New(agent.RoleSentinel, sentinelTickInterval, agent.Hooks{Tick: s.tick}, mailbox)
}

// onRugSignal records a network rug signal against its mint so the next
// tick's threat gathering sees it within sentinelRugSignalWindow.
func (s *Sentinel) onRugSignal(ctx context.Context, signal domain.Signal) error {
	mint, _ := signal.Data["mint"].(string)
	if mint == "" {
		return nil
	}
	s.mu.Lock()
	s.rugSignals[mint] = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Sentinel) tick(ctx context.Context) error {
	for _, pos := range s.positions.GetOpenPositions() {
		if !s.allowAlert(pos.ID) {
			continue
		}
		s.evaluate(ctx, pos)
	}
	return nil
}

func (s *Sentinel) evaluate(ctx context.Context, pos domain.PositionState) {
	log := logging.WithComponent("sentinel")

	deployer, _ := s.deployers.DeployerForMint(ctx, pos.MintAddress)
	threats := s.gatherThreats(ctx, pos, deployer)
	if len(threats) == 0 {
		return
	}

	critical := highestSeverity(threats) == domain.UrgencyCritical
	s.publishThreats(ctx, pos, threats)

	if critical {
		s.markAlerted(pos.ID)
		s.recordConfirmedRug(ctx, pos, deployer)
		s.mailbox.Send(agent.RoleExecutor, "threat-exit", domain.ThreatExit{
			PositionID:     pos.ID,
			Mint:           pos.MintAddress,
			Urgency:        domain.UrgencyCritical,
			Action:         "full_exit",
			SellPercentage: 100,
			Reasoning:      describeThreats(threats),
		})
		return
	}

	action, sellPct, reasoning, _ := s.reasonAboutThreats(ctx, pos, threats)
	if action == "" {
		return
	}
	s.markAlerted(pos.ID)
	s.mailbox.Send(agent.RoleExecutor, "threat-exit", domain.ThreatExit{
		PositionID:     pos.ID,
		Mint:           pos.MintAddress,
		Urgency:        highestSeverity(threats),
		Action:         action,
		SellPercentage: sellPct,
		Reasoning:      reasoning,
	})
	log.Info("threat exit raised", "positionId", pos.ID, "mint", pos.MintAddress, "action", action)
}

// gatherThreats checks every threat source against pos, returning only
// the ones that crossed their lowest severity threshold.
func (s *Sentinel) gatherThreats(ctx context.Context, pos domain.PositionState, deployer string) []threat {
	var threats []threat

	if deployer != "" {
		pct := s.metrics.GetDevSellPercentageInWindow(pos.MintAddress, deployer, sentinelSellWindowMs)
		if sev := devSellSeverity(pct); sev != "" {
			threats = append(threats, threat{source: fmt.Sprintf("dev wallet sold %.1f%% of holdings", pct), severity: sev})
		}
	}

	if s.curve != nil {
		if state, err := s.curve.GetCurveState(ctx, pos.MintAddress); err == nil && state.Complete {
			threats = append(threats, threat{source: "bonding curve reached completion", severity: domain.UrgencyHigh})
		}
	}

	if s.graph != nil && deployer != "" {
		if cluster, err := s.graph.GetCluster(ctx, deployer, sentinelClusterDepth); err == nil && len(cluster) > sentinelClusterThreshold {
			threats = append(threats, threat{source: fmt.Sprintf("dev wallet cluster size %d exceeds threshold", len(cluster)), severity: domain.UrgencyMedium})
		}
	}

	if s.recentRugSignal(pos.MintAddress) {
		threats = append(threats, threat{source: "network rug signal received", severity: domain.UrgencyCritical})
	}

	return threats
}

func devSellSeverity(pct float64) domain.ThreatUrgency {
	switch {
	case pct > sentinelCriticalThreshold:
		return domain.UrgencyCritical
	case pct > sentinelHighThreshold:
		return domain.UrgencyHigh
	case pct > sentinelMediumThreshold:
		return domain.UrgencyMedium
	default:
		return ""
	}
}

func (s *Sentinel) recentRugSignal(mint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.rugSignals[mint]
	return ok && time.Since(at) < sentinelRugSignalWindow
}

func highestSeverity(threats []threat) domain.ThreatUrgency {
	rank := map[domain.ThreatUrgency]int{domain.UrgencyLow: 0, domain.UrgencyMedium: 1, domain.UrgencyHigh: 2, domain.UrgencyCritical: 3}
	best := domain.UrgencyLow
	for _, t := range threats {
		if rank[t.severity] > rank[best] {
			best = t.severity
		}
	}
	return best
}

func describeThreats(threats []threat) string {
	out := ""
	for i, t := range threats {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s (%s)", t.source, t.severity)
	}
	return out
}

// publishThreats broadcasts high/critical threats to the signal bus so
// other nodes' sentinels learn of them immediately rather than waiting to
// observe the same on-chain activity themselves.
func (s *Sentinel) publishThreats(ctx context.Context, pos domain.PositionState, threats []threat) {
	if s.signals == nil {
		return
	}
	for _, t := range threats {
		if t.severity != domain.UrgencyHigh && t.severity != domain.UrgencyCritical {
			continue
		}
		if err := s.signals.Publish(ctx, sentinelRugsChannel, "threat", map[string]interface{}{
			"mint": pos.MintAddress, "severity": string(t.severity), "source": t.source,
		}); err != nil {
			logging.WithComponent("sentinel").Warn("signal bus publish failed", "mint", pos.MintAddress, "error", err)
		}
	}
}

// recordConfirmedRug treats a critical threat against an open position as
// a confirmed rug for deployer, updating its reputation score.
func (s *Sentinel) recordConfirmedRug(ctx context.Context, pos domain.PositionState, deployer string) {
	if s.rugs == nil || deployer == "" {
		return
	}
	lifespanMs := float64(time.Since(pos.OpenedAt).Milliseconds())
	s.rugs.RecordRug(ctx, deployer, lifespanMs)
}

// reasonAboutThreats batches non-critical threats into a single reasoning
// call. A failed call with at least one high-severity threat defaults to
// full exit; otherwise it is treated as no action this tick.
func (s *Sentinel) reasonAboutThreats(ctx context.Context, pos domain.PositionState, threats []threat) (action string, sellPct float64, reasoning string, hasHigh bool) {
	for _, t := range threats {
		if t.severity == domain.UrgencyHigh {
			hasHigh = true
		}
	}

	if s.reasoner == nil || !s.reasoner.IsConfigured() {
		if hasHigh {
			return "full_exit", 100, describeThreats(threats), true
		}
		return "", 0, "", hasHigh
	}

	var out struct {
		IsThreat       bool    `json:"isThreat"`
		Severity       string  `json:"severity"`
		Action         string  `json:"action"`
		SellPercentage float64 `json:"sellPercentage"`
		Reasoning      string  `json:"reasoning"`
	}
	prompt := fmt.Sprintf("Position %s on mint %s has %d active non-critical threats: %s.", pos.ID, pos.MintAddress, len(threats), describeThreats(threats))
	if err := s.reasoner.CompleteJSON(sentinelSystemPrompt, prompt, &out); err != nil {
		logging.WithComponent("sentinel").Warn("reasoning service call failed", "positionId", pos.ID, "error", err)
		if hasHigh {
			return "full_exit", 100, describeThreats(threats), true
		}
		return "", 0, "", hasHigh
	}

	if !out.IsThreat || out.Action == "" || out.Action == "hold" {
		return "", 0, "", hasHigh
	}
	return out.Action, out.SellPercentage, out.Reasoning, hasHigh
}

func (s *Sentinel) allowAlert(positionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastAlertAt[positionID]
	return !ok || time.Since(last) >= sentinelPerPositionCooldown
}

func (s *Sentinel) markAlerted(positionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAlertAt[positionID] = time.Now()
}
