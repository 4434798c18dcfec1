package swarm

import (
	"curvewarden/internal/agent"
)

// Deps collects every capability the six agents are wired against. Fields
// left nil are allowed where a concrete type documents a safe default
// (Reasoner falls back to each agent's heuristic; Curve/WalletGraph/
// SignalBus lookups are simply skipped when nil; Persister skips periodic
// persistence). WalletGraph, Reasoner, Curve, and Positions are declared
// wide enough to satisfy every agent that consults them, so a single
// concrete intelligence-store/state-engine value can be passed once and
// reused across scout, analyst, strategist, and sentinel.
type Deps struct {
	Chain       ScoutChainReader
	WalletGraph interface {
		ScoutWalletGraph
		AnalystWalletGraph
	}
	DeployerScore ScoutDeployerScore
	SignalBus     ScoutSignalBus
	Reasoner      interface {
		AnalystReasoner
		StrategistReasoner
		SentinelReasoner
	}
	Patterns PatternMatcher
	Curve    interface {
		AnalystCurveReader
		SentinelCurveReader
	}

	Positions interface {
		SentinelPositions
		StrategistPositions
	}
	Metrics   SentinelMetrics
	Deployers SentinelDeployerLookup
	Rugs      SentinelRugRecorder
	RugBus    SentinelSignalBus

	Buyer               ExecutorBuyer
	Seller              ExecutorSeller
	Persister           MemoryPersister
	MaxPositionSizeBase uint64

	LaunchpadProgramID string
}

// Build wires all six agents into a registered, unstarted Swarm. Callers
// start it with Swarm.Start once the rest of the process's infrastructure
// (RPC client, state engine, intelligence stores) is up.
func Build(deps Deps) (*agent.Swarm, *agent.Mailbox) {
	mailbox := agent.NewMailbox()
	s := agent.NewSwarm()

	s.Register(NewScout(deps.Chain, deps.WalletGraph, deps.DeployerScore, deps.SignalBus, mailbox, deps.LaunchpadProgramID))
	s.Register(NewAnalyst(deps.Reasoner, deps.Curve, deps.WalletGraph, deps.Patterns, mailbox))
	s.Register(NewStrategist(mailbox, deps.Patterns, deps.Reasoner, deps.Positions, deps.MaxPositionSizeBase))
	s.Register(NewSentinel(deps.Positions, deps.Metrics, deps.Deployers, deps.Curve, deps.WalletGraph, deps.Reasoner, deps.RugBus, deps.Rugs, mailbox))
	s.Register(NewExecutorAgent(deps.Buyer, deps.Seller, mailbox))
	s.Register(NewMemory(deps.Persister, mailbox))

	return s, mailbox
}
