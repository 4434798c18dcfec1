// Package domain holds the core entities shared across the defense
// pipeline: positions, defensive telemetry, policy definitions, execution
// requests/results, and the closed event taxonomy that drives all of it.
package domain

import "time"

// EventKind discriminates InternalEvent's tagged variant. Pattern-match on
// this rather than introducing open polymorphism over event payloads.
type EventKind string

const (
	EventWalletTransaction EventKind = "WalletTransaction"
	EventTokenTransfer     EventKind = "TokenTransfer"
	EventTokenBalanceChange EventKind = "TokenBalanceChange"
	EventLpAdd              EventKind = "LpAdd"
	EventLpRemove           EventKind = "LpRemove"
	EventDevWalletSell      EventKind = "DevWalletSell"
	EventDevWalletTransfer  EventKind = "DevWalletTransfer"
	EventSupplyChange       EventKind = "SupplyChange"
	EventPositionOpened     EventKind = "PositionOpened"
	EventPositionClosed     EventKind = "PositionClosed"
)

// InternalEvent is the closed tagged variant every chain callback is
// translated into before it reaches the event bus. Every variant that
// names a mint exposes it via MintAddress so the orchestrator can extract
// it without a type switch.
type InternalEvent struct {
	ID          string    `json:"id"`
	Kind        EventKind `json:"kind"`
	Slot        uint64    `json:"slot"`
	TimestampMs int64     `json:"timestampMs"`
	Signature   string    `json:"signature"`

	MintAddress string `json:"mintAddress,omitempty"`

	// WalletTransaction / TokenTransfer / TokenBalanceChange
	Wallet     string `json:"wallet,omitempty"`
	Amount     Amount `json:"amount,omitempty"`
	PreBalance Amount `json:"preBalance,omitempty"`
	PostBalance Amount `json:"postBalance,omitempty"`

	// LpAdd / LpRemove
	PoolAddress      string  `json:"poolAddress,omitempty"`
	LiquidityAmount  float64 `json:"liquidityAmount,omitempty"`

	// DevWalletSell / DevWalletTransfer
	DevWallet            string  `json:"devWallet,omitempty"`
	PercentageOfHoldings float64 `json:"percentageOfHoldings,omitempty"`
	ToWallet             string  `json:"toWallet,omitempty"`

	// SupplyChange
	ChangePercentage float64 `json:"changePercentage,omitempty"`

	// PositionOpened / PositionClosed
	PositionID string `json:"positionId,omitempty"`
}

// PositionStatus is the lifecycle state of a PositionState.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "Open"
	PositionClosing PositionStatus = "Closing"
	PositionClosed  PositionStatus = "Closed"
	PositionFailed  PositionStatus = "Failed"
)

// PositionState is a held stake in a bonding-curve token. Invariants:
// tokenBalance never negative; Closed implies tokenBalance=0 and closedAt
// set; Open implies closedAt unset; ids globally unique.
type PositionState struct {
	ID              string         `json:"id"`
	WalletID        string         `json:"walletId"`
	TrackedTokenID  string         `json:"trackedTokenId"`
	MintAddress     string         `json:"mintAddress"`
	EntryAmountBase float64        `json:"entryAmountBase"`
	TokenBalance    Amount         `json:"tokenBalance"`
	EntryPrice      *float64       `json:"entryPrice,omitempty"`
	Status          PositionStatus `json:"status"`
	OpenedAt        time.Time      `json:"openedAt"`
	ClosedAt        *time.Time     `json:"closedAt,omitempty"`
}

// PositionUpdate carries the subset of PositionState fields a mutation may
// change; nil fields are left untouched.
type PositionUpdate struct {
	TokenBalance *Amount
	Status       *PositionStatus
	ClosedAt     *time.Time
	EntryPrice   *float64
}

// SellRecord is one ring entry in DevWalletMetrics.RecentSells.
type SellRecord struct {
	TimestampMs int64   `json:"timestamp"`
	Percentage  float64 `json:"percentage"`
	Slot        uint64  `json:"slot"`
}

// DevWalletMetrics tracks a deployer wallet's sell behavior against one
// mint. RecentSells is a ring bounded at 100 entries ordered by
// non-decreasing timestamp; TotalSellPercentage keeps accumulating past
// entries evicted from the ring, so it never decreases.
type DevWalletMetrics struct {
	Mint                string       `json:"mint"`
	DevWallet           string       `json:"devWallet"`
	TotalSellCount      int          `json:"totalSellCount"`
	TotalSellPercentage float64      `json:"totalSellPercentage"`
	RecentSells         []SellRecord `json:"recentSells"`
	LastUpdated         time.Time    `json:"lastUpdated"`
}

const DevMetricsRingSize = 100

// RecordSell appends a sell to the ring, evicting the oldest entry past
// the ring bound while keeping the cumulative percentage monotonic.
func (m *DevWalletMetrics) RecordSell(rec SellRecord) {
	m.RecentSells = append(m.RecentSells, rec)
	if len(m.RecentSells) > DevMetricsRingSize {
		m.RecentSells = m.RecentSells[len(m.RecentSells)-DevMetricsRingSize:]
	}
	m.TotalSellCount++
	m.TotalSellPercentage += rec.Percentage
	m.LastUpdated = time.Now()
}

// SellPercentageInWindow sums RecentSells.Percentage for entries no older
// than windowMs relative to nowMs.
func (m *DevWalletMetrics) SellPercentageInWindow(nowMs, windowMs int64) float64 {
	cutoff := nowMs - windowMs
	var sum float64
	for _, s := range m.RecentSells {
		if s.TimestampMs >= cutoff {
			sum += s.Percentage
		}
	}
	return sum
}

// LPRemoval is one liquidity-removal observation against a pool.
type LPRemoval struct {
	TimestampMs int64   `json:"timestamp"`
	Amount      float64 `json:"amount"`
	Slot        uint64  `json:"slot"`
}

// LPState tracks liquidity-removal telemetry for one pool.
// TotalRemovedPercentage is monotonic: it never decreases.
type LPState struct {
	PoolAddress            string      `json:"poolAddress"`
	MintAddress             string      `json:"mintAddress"`
	TotalLiquidity          Amount      `json:"totalLiquidity"`
	Removals                []LPRemoval `json:"removals"`
	TotalRemovedPercentage  float64     `json:"totalRemovedPercentage"`
}

// RecordRemoval appends a removal event, bumping the monotonic total.
func (s *LPState) RecordRemoval(rem LPRemoval) {
	s.Removals = append(s.Removals, rem)
	s.TotalRemovedPercentage += rem.Amount
}

// TriggerKind enumerates PolicyDefinition.Trigger.
type TriggerKind string

const (
	TriggerDevSellPercentage   TriggerKind = "DevSellPercentage"
	TriggerDevSellCount        TriggerKind = "DevSellCount"
	TriggerLpRemovalPercentage TriggerKind = "LpRemovalPercentage"
	TriggerLpRemovalTotal      TriggerKind = "LpRemovalTotal"
	TriggerSupplyIncrease      TriggerKind = "SupplyIncrease"
	TriggerPriceDropPercentage TriggerKind = "PriceDropPercentage"
	TriggerWalletOutflow       TriggerKind = "WalletOutflow"
)

// PolicyAction enumerates PolicyDefinition.Action.
type PolicyAction string

const (
	ActionExitPosition PolicyAction = "ExitPosition"
	ActionPartialSell  PolicyAction = "PartialSell"
	ActionHaltStrategy PolicyAction = "HaltStrategy"
	ActionAlertOnly    PolicyAction = "AlertOnly"
)

// ActionParams are the optional parameters attached to a policy's action.
type ActionParams struct {
	SellPercentage  float64 `json:"sellPercentage,omitempty"`
	MaxSlippageBps  int     `json:"maxSlippageBps,omitempty"`
	PriorityFeeBase uint64  `json:"priorityFeeBase,omitempty"`
}

// PolicyDefinition is a declarative trigger/action rule evaluated against
// every ingested event. Invariant: Threshold > 0; Action=PartialSell
// implies ActionParams.SellPercentage in (0,100].
type PolicyDefinition struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Trigger        TriggerKind   `json:"trigger"`
	Threshold      float64       `json:"threshold"`
	WindowBlocks   *int64        `json:"windowBlocks,omitempty"`
	WindowSeconds  *int64        `json:"windowSeconds,omitempty"`
	Action         PolicyAction  `json:"action"`
	ActionParams   *ActionParams `json:"actionParams,omitempty"`
	Priority       int           `json:"priority"`
	IsActive       bool          `json:"isActive"`
	TrackedTokenID *string       `json:"trackedTokenId,omitempty"`
}

// PolicyEvaluationResult is evaluatePolicy's non-nil outcome.
type PolicyEvaluationResult struct {
	PolicyID     string        `json:"policyId"`
	Triggered    bool          `json:"triggered"`
	Action       PolicyAction  `json:"action"`
	ActionParams *ActionParams `json:"actionParams,omitempty"`
	TriggerValue float64       `json:"triggerValue"`
	Threshold    float64       `json:"threshold"`
	Reason       string        `json:"reason"`
	Priority     int           `json:"-"`
	MintAddress  string        `json:"-"`
}

// ExecutionAction enumerates ExecutionRequest.Action.
type ExecutionAction string

const (
	ExecFullExit    ExecutionAction = "FullExit"
	ExecPartialSell ExecutionAction = "PartialSell"
	ExecHalt        ExecutionAction = "Halt"
)

// ExecutionRequest asks the Execution Engine to act on one position.
type ExecutionRequest struct {
	PositionID      string          `json:"positionId"`
	PolicyID        string          `json:"policyId,omitempty"`
	Action          ExecutionAction `json:"action"`
	SellPercentage  float64         `json:"sellPercentage"`
	MaxSlippageBps  int             `json:"maxSlippageBps"`
	PriorityFeeBase uint64          `json:"priorityFeeBase"`
}

// ExecutionStatus enumerates ExecutionResult.Status.
type ExecutionStatus string

const (
	ExecPending    ExecutionStatus = "Pending"
	ExecSimulating ExecutionStatus = "Simulating"
	ExecSubmitted  ExecutionStatus = "Submitted"
	ExecConfirmed  ExecutionStatus = "Confirmed"
	ExecFailed     ExecutionStatus = "Failed"
)

// ExecutionResult is the outcome of one Execution Engine run.
type ExecutionResult struct {
	ID               string          `json:"id"`
	PositionID       string          `json:"positionId"`
	Status           ExecutionStatus `json:"status"`
	TxSignature      string          `json:"txSignature,omitempty"`
	AmountIn         *Amount         `json:"amountIn,omitempty"`
	AmountOut        *Amount         `json:"amountOut,omitempty"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	SimulationResult string          `json:"simulationResult,omitempty"`
	CompletedAt      time.Time       `json:"completedAt"`
}

// BondingCurveState is the on-chain reserve snapshot the curve math
// package operates on. Invariant: VirtualToken, VirtualBase > 0 while
// Complete is false.
type BondingCurveState struct {
	VirtualToken     uint64 `json:"virtualToken"`
	VirtualBase      uint64 `json:"virtualBase"`
	RealToken        uint64 `json:"realToken"`
	RealBase         uint64 `json:"realBase"`
	TokenTotalSupply uint64 `json:"tokenTotalSupply"`
	Complete         bool   `json:"complete"`
	Creator          string `json:"creator"`
}

// RiskParameters are process-wide and immutable after start.
type RiskParameters struct {
	MaxPositionSizeBase uint64
	MaxSlippageBps      int
	MaxPriorityFeeBase  uint64
	ExecutionCooldownMs int64
}

// RiskCheckResult is the Risk Engine's verdict on an ExecutionRequest.
type RiskCheckResult struct {
	Approved   bool     `json:"approved"`
	Violations []string `json:"violations"`
}

// DeployerProfile is the reputation record the scout and analyst consult
// before acting on a new launch.
type DeployerProfile struct {
	Address            string    `json:"address"`
	TotalLaunches      int       `json:"totalLaunches"`
	RugCount           int       `json:"rugCount"`
	RugRate            float64   `json:"rugRate"`
	AvgTokenLifespanMs float64   `json:"avgTokenLifespanMs"`
	ConnectedWallets   []string  `json:"connectedWallets"`
	LastSeen           time.Time `json:"lastSeen"`
	Score              float64   `json:"score"`
}

// WalletEdgeType enumerates WalletEdge.Type.
type WalletEdgeType string

const (
	EdgeFundedBy      WalletEdgeType = "FundedBy"
	EdgeTransferredTo WalletEdgeType = "TransferredTo"
	EdgeDeployedFrom  WalletEdgeType = "DeployedFrom"
	EdgeAssociated    WalletEdgeType = "Associated"
)

// WalletEdge is one directed relationship in the wallet graph.
type WalletEdge struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	Type     WalletEdgeType `json:"type"`
	FirstSeen time.Time     `json:"firstSeen"`
	LastSeen  time.Time     `json:"lastSeen"`
	TxCount   int           `json:"txCount"`
}

// PatternOperator enumerates PatternCondition.Operator.
type PatternOperator string

const (
	OpGT      PatternOperator = "gt"
	OpLT      PatternOperator = "lt"
	OpEQ      PatternOperator = "eq"
	OpGTE     PatternOperator = "gte"
	OpLTE     PatternOperator = "lte"
	OpBetween PatternOperator = "between"
)

// PatternCondition is one leg of a Pattern's match criteria.
type PatternCondition struct {
	Field    string          `json:"field"`
	Operator PatternOperator `json:"operator"`
	Value    []float64       `json:"value"` // single value, except Between which takes [low,high]
}

// Pattern is a learned condition set with rolling outcome statistics.
type Pattern struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Conditions        []PatternCondition `json:"conditions"`
	OutcomeCount      int                `json:"outcomeCount"`
	PositiveOutcomes  int                `json:"positiveOutcomes"`
	NegativeOutcomes  int                `json:"negativeOutcomes"`
	AvgReturnPercent  float64            `json:"avgReturnPercent"`
	AvgHoldDurationMs float64            `json:"avgHoldDurationMs"`
	LastMatchedAt     time.Time          `json:"lastMatchedAt"`
	CreatedAt         time.Time          `json:"createdAt"`
}

// HitRate is PositiveOutcomes/OutcomeCount, 0 when no outcomes recorded.
func (p Pattern) HitRate() float64 {
	if p.OutcomeCount == 0 {
		return 0
	}
	return float64(p.PositiveOutcomes) / float64(p.OutcomeCount)
}

// DecisionOutcome is a per-decision learning record closed out once the
// corresponding position transitions to Closed.
type DecisionOutcome struct {
	ID             string    `json:"id"`
	Mint           string    `json:"mint"`
	PositionID     string    `json:"positionId"`
	EntryPrice     float64   `json:"entryPrice"`
	ExitPrice      float64   `json:"exitPrice,omitempty"`
	PnLPercent     float64   `json:"pnlPercent,omitempty"`
	HoldDurationMs int64     `json:"holdDurationMs,omitempty"`
	WasCorrect     *bool     `json:"wasCorrect,omitempty"`
	OpenedAt       time.Time `json:"openedAt"`
	ClosedAt       *time.Time `json:"closedAt,omitempty"`
}

// RiskProfile enumerates TokenAnalysis.RiskProfile.
type RiskProfile string

const (
	RiskLow     RiskProfile = "low"
	RiskMedium  RiskProfile = "medium"
	RiskHigh    RiskProfile = "high"
	RiskExtreme RiskProfile = "extreme"
)

// TokenAnalysis is the analyst agent's reasoning-service output for one
// candidate launch.
type TokenAnalysis struct {
	Mint                     string      `json:"mint"`
	Deployer                 string      `json:"deployer"`
	ConvictionScore          float64     `json:"convictionScore"`
	RiskProfile              RiskProfile `json:"riskProfile"`
	RecommendedPositionSizeBase uint64  `json:"recommendedPositionSizeBase"`
	Reasoning                string      `json:"reasoning"`
	ClusterSize              int         `json:"clusterSize"`
}

// ExecutionPlan is the strategist agent's buy decision, sent to the
// executor-agent via the execution-plan channel.
type ExecutionPlan struct {
	ID              string  `json:"id"`
	Action          string  `json:"action"` // "enter" | "skip"
	Mint            string  `json:"mint"`
	BaseAmount      uint64  `json:"baseAmount"`
	MaxSlippageBps  int     `json:"maxSlippageBps"`
	PriorityFeeBase uint64  `json:"priorityFeeBase"`
	Urgency         string  `json:"urgency"`
	Reasoning       string  `json:"reasoning"`
}

// ThreatUrgency enumerates a sentinel-detected threat's severity.
type ThreatUrgency string

const (
	UrgencyLow      ThreatUrgency = "low"
	UrgencyMedium   ThreatUrgency = "medium"
	UrgencyHigh     ThreatUrgency = "high"
	UrgencyCritical ThreatUrgency = "critical"
)

// ThreatExit is the sentinel agent's defensive-exit instruction, sent to
// the executor-agent via the threat-exit channel.
type ThreatExit struct {
	PositionID     string        `json:"positionId"`
	Mint           string        `json:"mint"`
	Urgency        ThreatUrgency `json:"urgency"`
	Action         string        `json:"action"` // "hold" | "partial_exit" | "full_exit"
	SellPercentage float64       `json:"sellPercentage"`
	Reasoning      string        `json:"reasoning"`
}

// Signal is one message on the durable cross-node signal bus.
type Signal struct {
	ID          string                 `json:"id"`
	NodeID      string                 `json:"nodeId"`
	Type        string                 `json:"type"`
	Data        map[string]interface{} `json:"data"`
	TimestampMs int64                  `json:"timestamp"`
}
