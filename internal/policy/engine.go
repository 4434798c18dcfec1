// Package policy implements the Policy Engine: a declarative rule set
// evaluated against every ingested event.
package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"curvewarden/internal/domain"
	"curvewarden/internal/events"
	"curvewarden/internal/logging"
)

// Store loads PolicyDefinitions at startup; persistence of dynamic
// mutations is the caller's responsibility.
type Store interface {
	LoadActivePolicies(ctx context.Context) ([]domain.PolicyDefinition, error)
}

// StateReader is the subset of the State Engine the Policy Engine reads.
type StateReader interface {
	GetDevSellPercentageInWindow(mint, wallet string, windowMs int64) float64
	GetDevMetrics(mint, wallet string) (domain.DevWalletMetrics, bool)
	GetLPState(pool string) (domain.LPState, bool)
}

const defaultWindowSeconds = 600

// Engine evaluates every ingested event against the current policy list.
type Engine struct {
	mu       sync.RWMutex
	policies []domain.PolicyDefinition

	store Store
	state StateReader
	bus   *events.Bus
}

// New constructs a policy Engine.
func New(store Store, state StateReader, bus *events.Bus) *Engine {
	return &Engine{store: store, state: state, bus: bus}
}

// Start loads active policies and registers a catch-all subscriber that
// evaluates every event asynchronously.
func (e *Engine) Start(ctx context.Context) error {
	policies, err := e.store.LoadActivePolicies(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.policies = policies
	e.mu.Unlock()

	e.bus.SubscribeAll(func(evt domain.InternalEvent) {
		e.EvaluateEvent(evt)
	})

	logging.WithComponent("policy").Info("policy engine started", "policies", len(policies))
	return nil
}

// AddPolicy appends a policy to the in-memory list.
func (e *Engine) AddPolicy(p domain.PolicyDefinition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = append(e.policies, p)
}

// RemovePolicy removes a policy by id, reporting whether it was present.
func (e *Engine) RemovePolicy(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range e.policies {
		if p.ID == id {
			e.policies = append(e.policies[:i], e.policies[i+1:]...)
			return true
		}
	}
	return false
}

// ListPolicies returns a snapshot of the current policy list.
func (e *Engine) ListPolicies() []domain.PolicyDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.PolicyDefinition, len(e.policies))
	copy(out, e.policies)
	return out
}

// EvaluateEvent evaluates every active policy against evt and returns the
// triggered results sorted by owning policy priority descending, ties
// broken by insertion order.
func (e *Engine) EvaluateEvent(evt domain.InternalEvent) []domain.PolicyEvaluationResult {
	e.mu.RLock()
	policies := make([]domain.PolicyDefinition, len(e.policies))
	copy(policies, e.policies)
	e.mu.RUnlock()

	results := make([]domain.PolicyEvaluationResult, 0)
	for _, p := range policies {
		if !p.IsActive {
			continue
		}
		res := e.evaluatePolicy(p, evt)
		if res != nil && res.Triggered {
			res.Priority = p.Priority
			res.MintAddress = evt.MintAddress
			results = append(results, *res)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Priority > results[j].Priority
	})
	return results
}

// evaluatePolicy is a pure function returning nil when policy does not
// apply to evt's variant, or a PolicyEvaluationResult otherwise.
func (e *Engine) evaluatePolicy(p domain.PolicyDefinition, evt domain.InternalEvent) *domain.PolicyEvaluationResult {
	var triggerValue float64
	var reason string

	switch p.Trigger {
	case domain.TriggerDevSellPercentage:
		if evt.Kind != domain.EventDevWalletSell {
			return nil
		}
		windowSeconds := int64(defaultWindowSeconds)
		if p.WindowSeconds != nil {
			windowSeconds = *p.WindowSeconds
		}
		triggerValue = e.state.GetDevSellPercentageInWindow(evt.MintAddress, evt.DevWallet, windowSeconds*1000)
		reason = fmt.Sprintf("dev %s sold %.2f%% of holdings within %ds window", evt.DevWallet, triggerValue, windowSeconds)

	case domain.TriggerDevSellCount:
		if evt.Kind != domain.EventDevWalletSell {
			return nil
		}
		m, ok := e.state.GetDevMetrics(evt.MintAddress, evt.DevWallet)
		if ok {
			triggerValue = float64(m.TotalSellCount)
		}
		reason = fmt.Sprintf("dev %s has sold %d times", evt.DevWallet, m.TotalSellCount)

	case domain.TriggerLpRemovalPercentage:
		if evt.Kind != domain.EventLpRemove {
			return nil
		}
		lp, ok := e.state.GetLPState(evt.PoolAddress)
		if ok {
			triggerValue = lp.TotalRemovedPercentage
		}
		reason = fmt.Sprintf("pool %s has had %.2f%% liquidity removed", evt.PoolAddress, triggerValue)

	case domain.TriggerLpRemovalTotal:
		if evt.Kind != domain.EventLpRemove {
			return nil
		}
		lp, ok := e.state.GetLPState(evt.PoolAddress)
		if ok {
			triggerValue = lp.TotalRemovedPercentage
		}
		reason = fmt.Sprintf("pool %s has had %.2f%% liquidity removed cumulatively", evt.PoolAddress, triggerValue)

	case domain.TriggerSupplyIncrease:
		if evt.Kind != domain.EventSupplyChange {
			return nil
		}
		triggerValue = evt.ChangePercentage
		reason = fmt.Sprintf("supply changed by %.2f%%", triggerValue)

	case domain.TriggerWalletOutflow:
		if evt.Kind != domain.EventTokenTransfer && evt.Kind != domain.EventWalletTransaction {
			return nil
		}
		triggerValue = evt.PercentageOfHoldings
		reason = fmt.Sprintf("wallet %s outflow of %.2f%%", evt.Wallet, triggerValue)

	case domain.TriggerPriceDropPercentage:
		// Stub: no price oracle is wired. Leave this gap explicit rather
		// than inferring a price source from curve reserves.
		return nil

	default:
		return nil
	}

	triggered := triggerValue >= p.Threshold
	return &domain.PolicyEvaluationResult{
		PolicyID:     p.ID,
		Triggered:    triggered,
		Action:       p.Action,
		ActionParams: p.ActionParams,
		TriggerValue: triggerValue,
		Threshold:    p.Threshold,
		Reason:       reason,
	}
}
