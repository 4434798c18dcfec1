package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"curvewarden/internal/agent"
	"curvewarden/internal/domain"
	"curvewarden/internal/logging"
)

const (
	strategistTickInterval    = 2 * time.Second
	strategistBatchSize       = 5
	strategistOutcomeWindow   = 20
	strategistLosingStreak    = 3
	convictionEntryThreshold  = 30.0
	strategistHighUrgencyAt   = 80.0
	strategistDefaultSlippage = 500  // bps
	strategistDefaultPriority = 5000 // lamports
)

const strategistSystemPrompt = "You are a sizing strategist deciding whether to enter a bonding-curve position " +
	"the analyst has already scored. Weigh the analysis against the current portfolio state. " +
	"Respond only with a JSON object having keys " +
	"action (one of enter/skip), baseAmount (integer lamports), maxSlippageBps (integer), and reasoning (short string)."

// PatternMatcher is the learned-pattern lookup the strategist consults
// before sizing an entry. Nil is a valid value: planFor falls back to
// win-rate-only sizing.
type PatternMatcher interface {
	FindMatches(ctx context.Context, context map[string]float64) ([]domain.Pattern, error)
}

// StrategistReasoner is the reasoning-service capability the strategist
// consults for the enter/skip decision and sizing. Callers fall back to a
// win-rate/pattern heuristic when unconfigured or when the call fails.
type StrategistReasoner interface {
	CompleteJSON(systemPrompt, userPrompt string, out interface{}) error
	IsConfigured() bool
}

// StrategistPositions resolves currently open positions so the strategist
// can skip a mint it already holds.
type StrategistPositions interface {
	GetOpenPositions() []domain.PositionState
}

// Strategist turns a TokenAnalysis into an enter-or-skip ExecutionPlan,
// sizing entries against a rolling window of recent outcomes fed back by
// the memory agent, any matching learned pattern's hit rate, and (when
// configured) a reasoning-service sizing call.
type Strategist struct {
	analysisInbox <-chan interface{}
	outcomeInbox  <-chan interface{}
	mailbox       *agent.Mailbox
	patterns      PatternMatcher
	reasoner      StrategistReasoner
	positions     StrategistPositions
	maxPositionSizeBase uint64

	mu       sync.Mutex
	outcomes []domain.DecisionOutcome
}

// NewStrategist wires a Strategist and returns the agent.Agent driving its
// tick loop. maxPositionSizeBase caps every sized entry regardless of what
// the reasoning service or heuristic proposes.
func NewStrategist(mailbox *agent.Mailbox, patterns PatternMatcher, reasoner StrategistReasoner, positions StrategistPositions, maxPositionSizeBase uint64) *agent.Agent {
	s := &Strategist{
		analysisInbox:       mailbox.Subscribe(agent.RoleStrategist, "token-analysis"),
		outcomeInbox:        mailbox.Subscribe(agent.RoleStrategist, "outcome"),
		mailbox:             mailbox,
		patterns:            patterns,
		reasoner:            reasoner,
		positions:           positions,
		maxPositionSizeBase: maxPositionSizeBase,
	}
	return agent.New(agent.RoleStrategist, strategistTickInterval, agent.Hooks{Tick: s.tick}, mailbox)
}

func (s *Strategist) tick(ctx context.Context) error {
	s.drainOutcomes()

	for i := 0; i < strategistBatchSize; i++ {
		select {
		case msg := <-s.analysisInbox:
			analysis, ok := msg.(domain.TokenAnalysis)
			if !ok {
				continue
			}
			plan := s.planFor(ctx, analysis)
			s.mailbox.Send(agent.RoleExecutor, "execution-plan", plan)
		default:
			return nil
		}
	}
	return nil
}

// drainOutcomes folds every pending outcome into a bounded ring used for
// sizing feedback, without blocking when the channel is empty.
func (s *Strategist) drainOutcomes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case msg := <-s.outcomeInbox:
			outcome, ok := msg.(domain.DecisionOutcome)
			if !ok {
				continue
			}
			s.outcomes = append(s.outcomes, outcome)
			if len(s.outcomes) > strategistOutcomeWindow {
				s.outcomes = s.outcomes[len(s.outcomes)-strategistOutcomeWindow:]
			}
		default:
			return
		}
	}
}

// winRate is the fraction of the outcome window's WasCorrect==true
// decisions, or 0.5 (neutral) when the window is empty.
func (s *Strategist) winRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outcomes) == 0 {
		return 0.5
	}
	var correct int
	for _, o := range s.outcomes {
		if o.WasCorrect != nil && *o.WasCorrect {
			correct++
		}
	}
	return float64(correct) / float64(len(s.outcomes))
}

// onLosingStreak reports whether the most recent strategistLosingStreak
// outcomes in the window were all losses. Caller must not hold s.mu.
func (s *Strategist) onLosingStreak() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outcomes) < strategistLosingStreak {
		return false
	}
	recent := s.outcomes[len(s.outcomes)-strategistLosingStreak:]
	for _, o := range recent {
		if o.WasCorrect == nil || *o.WasCorrect {
			return false
		}
	}
	return true
}

func (s *Strategist) openCount() int {
	if s.positions == nil {
		return 0
	}
	return len(s.positions.GetOpenPositions())
}

// hasOpenPosition reports whether mint already has an open position, so
// the strategist never doubles up on the same token.
func (s *Strategist) hasOpenPosition(mint string) bool {
	if s.positions == nil {
		return false
	}
	for _, p := range s.positions.GetOpenPositions() {
		if p.MintAddress == mint && p.Status == domain.PositionOpen {
			return true
		}
	}
	return false
}

// bestPatternMultiplier returns 0.5x-1.5x scaled from the hit rate of the
// strongest matching learned pattern, or 0 if there is no matcher or no
// pattern matches this analysis's conviction/cluster-size context.
func (s *Strategist) bestPatternMultiplier(ctx context.Context, analysis domain.TokenAnalysis) float64 {
	if s.patterns == nil {
		return 0
	}
	matches, err := s.patterns.FindMatches(ctx, map[string]float64{
		"convictionScore": analysis.ConvictionScore,
		"clusterSize":     float64(analysis.ClusterSize),
	})
	if err != nil || len(matches) == 0 {
		return 0
	}
	return 0.5 + matches[0].HitRate()
}

func skipPlan(analysis domain.TokenAnalysis) domain.ExecutionPlan {
	return domain.ExecutionPlan{
		ID:        fmt.Sprintf("%s-skip-%d", analysis.Mint, time.Now().UnixNano()),
		Action:    "skip",
		Mint:      analysis.Mint,
		Urgency:   "low",
		Reasoning: analysis.Reasoning,
	}
}

func (s *Strategist) planFor(ctx context.Context, analysis domain.TokenAnalysis) domain.ExecutionPlan {
	if analysis.RiskProfile == domain.RiskExtreme {
		return skipPlan(analysis)
	}
	if analysis.ConvictionScore < convictionEntryThreshold {
		return skipPlan(analysis)
	}
	if s.hasOpenPosition(analysis.Mint) {
		return skipPlan(analysis)
	}

	onStreak := s.onLosingStreak()
	winRate := s.winRate()
	openCount := s.openCount()

	decision := s.reasonedPlan(ctx, analysis, openCount, winRate, onStreak)
	if decision.decided && decision.skip {
		plan := skipPlan(analysis)
		if decision.reasoning != "" {
			plan.Reasoning = decision.reasoning
		}
		return plan
	}

	baseAmount, maxSlippageBps, reasoning := decision.baseAmount, decision.maxSlippageBps, decision.reasoning
	if !decision.decided {
		baseAmount = s.heuristicAmount(ctx, analysis, winRate)
		maxSlippageBps = strategistDefaultSlippage
		reasoning = analysis.Reasoning
	}

	if baseAmount > s.maxPositionSizeBase && s.maxPositionSizeBase > 0 {
		baseAmount = s.maxPositionSizeBase
	}
	if onStreak {
		baseAmount /= 2
	}

	urgency := "medium"
	if analysis.ConvictionScore >= strategistHighUrgencyAt {
		urgency = "high"
	}

	return domain.ExecutionPlan{
		ID:              fmt.Sprintf("%s-enter-%d", analysis.Mint, time.Now().UnixNano()),
		Action:          "enter",
		Mint:            analysis.Mint,
		BaseAmount:      baseAmount,
		MaxSlippageBps:  maxSlippageBps,
		PriorityFeeBase: strategistDefaultPriority,
		Urgency:         urgency,
		Reasoning:       reasoning,
	}
}

// reasoningDecision is the reasoning service's enter/skip/size verdict.
// decided is false when no reasoner is configured or the call failed, in
// which case callers fall back to heuristic sizing entirely.
type reasoningDecision struct {
	decided        bool
	skip           bool
	baseAmount     uint64
	maxSlippageBps int
	reasoning      string
}

// reasonedPlan calls the reasoning service for an enter/skip decision and
// sizing given the current portfolio context.
func (s *Strategist) reasonedPlan(ctx context.Context, analysis domain.TokenAnalysis, openCount int, winRate float64, onStreak bool) reasoningDecision {
	if s.reasoner == nil || !s.reasoner.IsConfigured() {
		return reasoningDecision{}
	}

	var out struct {
		Action         string `json:"action"`
		BaseAmount     uint64 `json:"baseAmount"`
		MaxSlippageBps int    `json:"maxSlippageBps"`
		Reasoning      string `json:"reasoning"`
	}
	prompt := fmt.Sprintf(
		"Analysis for mint %s: conviction %.1f, risk %s, recommended size %d lamports, reasoning: %q. "+
			"Portfolio: %d open positions, recent win rate %.2f, onLosingStreak=%v, cap=%d lamports.",
		analysis.Mint, analysis.ConvictionScore, analysis.RiskProfile, analysis.RecommendedPositionSizeBase, analysis.Reasoning,
		openCount, winRate, onStreak, s.maxPositionSizeBase,
	)
	if err := s.reasoner.CompleteJSON(strategistSystemPrompt, prompt, &out); err != nil {
		logging.WithComponent("strategist").Warn("reasoning service call failed, using heuristic", "mint", analysis.Mint, "error", err)
		return reasoningDecision{}
	}
	if out.Action == "skip" {
		return reasoningDecision{decided: true, skip: true, reasoning: out.Reasoning}
	}
	if out.BaseAmount == 0 {
		return reasoningDecision{}
	}
	slippage := out.MaxSlippageBps
	if slippage <= 0 {
		slippage = strategistDefaultSlippage
	}
	return reasoningDecision{decided: true, baseAmount: out.BaseAmount, maxSlippageBps: slippage, reasoning: out.Reasoning}
}

// heuristicAmount sizes an entry from the recent win rate and any
// matching learned pattern's hit rate when the reasoning service is
// unavailable or declines to size the entry itself.
func (s *Strategist) heuristicAmount(ctx context.Context, analysis domain.TokenAnalysis, winRate float64) uint64 {
	sizeMultiplier := 0.5 + winRate
	if best := s.bestPatternMultiplier(ctx, analysis); best != 0 {
		sizeMultiplier = (sizeMultiplier + best) / 2
	}
	return uint64(float64(analysis.RecommendedPositionSizeBase) * sizeMultiplier)
}
