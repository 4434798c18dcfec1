package swarm

import (
	"context"
	"fmt"
	"time"

	"curvewarden/internal/agent"
	"curvewarden/internal/domain"
	"curvewarden/internal/logging"
)

const (
	analystTickInterval = 2 * time.Second
	analystBatchSize    = 5
	analystClusterDepth = 2
	analystTopPatterns  = 5

	minPositionSizeBase = uint64(100_000_000)   // 0.1 SOL in lamports
	maxPositionSizeBase = uint64(2_000_000_000) // 2 SOL in lamports
)

const analystSystemPrompt = "You are a trading analyst scoring a freshly launched bonding-curve token. " +
	"Weigh deployer reputation, wallet clustering, curve reserves, and matching learned patterns. " +
	"Respond only with a JSON object having keys " +
	"convictionScore (0-100 number), riskProfile (one of low/medium/high/extreme), " +
	"recommendedPositionSizeBase (integer lamports), and reasoning (short string)."

// AnalystReasoner is the reasoning-service capability the analyst consults
// for conviction scoring. Callers fall back to a deterministic heuristic
// when unconfigured or when the call fails.
type AnalystReasoner interface {
	CompleteJSON(systemPrompt, userPrompt string, out interface{}) error
	IsConfigured() bool
}

// AnalystCurveReader fetches the bonding-curve reserves for a candidate
// mint so the analyst can skip launches that have already completed.
type AnalystCurveReader interface {
	GetCurveState(ctx context.Context, curvePda string) (domain.BondingCurveState, error)
}

// AnalystWalletGraph is the WalletGraph capability the analyst consults
// for the deployer's connected-wallet cluster.
type AnalystWalletGraph interface {
	GetCluster(ctx context.Context, root string, maxDepth int) ([]string, error)
}

// AnalystPatterns is the PatternDatabase capability the analyst consults
// for learned entry patterns matching this launch's context.
type AnalystPatterns interface {
	FindMatches(ctx context.Context, context map[string]float64) ([]domain.Pattern, error)
}

// Analyst turns a scout's launch signal into a TokenAnalysis, using the
// reasoning service when available and a deployer-score heuristic
// otherwise. curve, graph, and patterns may each be nil, in which case the
// corresponding lookup is skipped.
type Analyst struct {
	reasoner AnalystReasoner
	curve    AnalystCurveReader
	graph    AnalystWalletGraph
	patterns AnalystPatterns
	inbox    <-chan interface{}
	mailbox  *agent.Mailbox
}

// NewAnalyst wires an Analyst and returns the agent.Agent driving its tick
// loop.
func NewAnalyst(reasoner AnalystReasoner, curve AnalystCurveReader, graph AnalystWalletGraph, patterns AnalystPatterns, mailbox *agent.Mailbox) *agent.Agent {
	a := &Analyst{
		reasoner: reasoner,
		curve:    curve,
		graph:    graph,
		patterns: patterns,
		inbox:    mailbox.Subscribe(agent.RoleAnalyst, "new-launch"),
		mailbox:  mailbox,
	}
	return agent.New(agent.RoleAnalyst, analystTickInterval, agent.Hooks{Tick: a.tick}, mailbox)
}

func (a *Analyst) tick(ctx context.Context) error {
	for i := 0; i < analystBatchSize; i++ {
		select {
		case msg := <-a.inbox:
			sig, ok := msg.(ScoutSignal)
			if !ok {
				continue
			}
			analysis := a.analyze(ctx, sig)
			if analysis.ConvictionScore > 0 && analysis.RecommendedPositionSizeBase > 0 {
				a.mailbox.Send(agent.RoleStrategist, "token-analysis", analysis)
			}
		default:
			return nil
		}
	}
	return nil
}

func (a *Analyst) analyze(ctx context.Context, sig ScoutSignal) domain.TokenAnalysis {
	log := logging.WithComponent("analyst")

	var curveState domain.BondingCurveState
	if a.curve != nil {
		state, err := a.curve.GetCurveState(ctx, sig.Mint)
		if err == nil {
			curveState = state
			if curveState.Complete {
				log.Info("skipping completed curve", "mint", sig.Mint)
				return domain.TokenAnalysis{Mint: sig.Mint, Deployer: sig.Deployer, Reasoning: "curve already complete"}
			}
		} else {
			log.Warn("curve state fetch failed", "mint", sig.Mint, "error", err)
		}
	}

	clusterSize := len(sig.Profile.ConnectedWallets)
	if a.graph != nil {
		if cluster, err := a.graph.GetCluster(ctx, sig.Deployer, analystClusterDepth); err == nil {
			clusterSize = len(cluster)
		} else {
			log.Warn("wallet cluster lookup failed", "deployer", sig.Deployer, "error", err)
		}
	}

	var matches []domain.Pattern
	if a.patterns != nil {
		if m, err := a.patterns.FindMatches(ctx, map[string]float64{
			"convictionScore": sig.Profile.Score,
			"clusterSize":     float64(clusterSize),
		}); err == nil {
			matches = m
		} else {
			log.Warn("pattern match lookup failed", "mint", sig.Mint, "error", err)
		}
	}
	if len(matches) > analystTopPatterns {
		matches = matches[:analystTopPatterns]
	}

	analysis := domain.TokenAnalysis{
		Mint:                        sig.Mint,
		Deployer:                    sig.Deployer,
		ConvictionScore:             sig.Profile.Score,
		RiskProfile:                 riskProfileFor(sig.Profile),
		RecommendedPositionSizeBase: sizeForConviction(sig.Profile.Score),
		Reasoning:                   "heuristic: scored on deployer reputation only",
		ClusterSize:                 clusterSize,
	}

	if a.reasoner == nil || !a.reasoner.IsConfigured() {
		return analysis
	}

	var out struct {
		ConvictionScore             float64 `json:"convictionScore"`
		RiskProfile                 string  `json:"riskProfile"`
		RecommendedPositionSizeBase uint64  `json:"recommendedPositionSizeBase"`
		Reasoning                   string  `json:"reasoning"`
	}
	prompt := fmt.Sprintf(
		"Deployer %s launched mint %s. Reputation score: %.1f/100. Total prior launches: %d. Rug rate: %.2f. "+
			"Connected-wallet cluster size (depth %d): %d. Curve reserves: virtualBase=%d virtualToken=%d realBase=%d realToken=%d. "+
			"Matching learned patterns: %s.",
		sig.Deployer, sig.Mint, sig.Profile.Score, sig.Profile.TotalLaunches, sig.Profile.RugRate,
		analystClusterDepth, clusterSize,
		curveState.VirtualBase, curveState.VirtualToken, curveState.RealBase, curveState.RealToken,
		summarizePatterns(matches),
	)
	if err := a.reasoner.CompleteJSON(analystSystemPrompt, prompt, &out); err != nil {
		log.Warn("reasoning service call failed, using heuristic", "mint", sig.Mint, "error", err)
		return analysis
	}

	analysis.ConvictionScore = out.ConvictionScore
	if out.RiskProfile != "" {
		analysis.RiskProfile = domain.RiskProfile(out.RiskProfile)
	}
	if out.RecommendedPositionSizeBase > 0 {
		analysis.RecommendedPositionSizeBase = out.RecommendedPositionSizeBase
	}
	if out.Reasoning != "" {
		analysis.Reasoning = out.Reasoning
	}
	return analysis
}

// summarizePatterns renders up to analystTopPatterns matches as a short
// name@hitRate%hit/samples list for the reasoning prompt.
func summarizePatterns(matches []domain.Pattern) string {
	if len(matches) == 0 {
		return "none"
	}
	out := ""
	for i, p := range matches {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s@%.0f%%hit/%dsamples", p.Name, p.HitRate()*100, p.OutcomeCount)
	}
	return out
}

func riskProfileFor(profile domain.DeployerProfile) domain.RiskProfile {
	switch {
	case profile.RugRate > 0.5:
		return domain.RiskExtreme
	case profile.RugRate > 0.25:
		return domain.RiskHigh
	case profile.RugRate > 0.1:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// sizeForConviction scales position size linearly with conviction inside
// [minPositionSizeBase, maxPositionSizeBase].
func sizeForConviction(conviction float64) uint64 {
	if conviction < 0 {
		conviction = 0
	}
	if conviction > 100 {
		conviction = 100
	}
	span := maxPositionSizeBase - minPositionSizeBase
	return minPositionSizeBase + uint64(float64(span)*conviction/100)
}
