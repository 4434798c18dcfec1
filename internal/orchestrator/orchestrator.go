// Package orchestrator wires the Policy Engine's triggered results to the
// Execution Engine under a single-flight gate: while one event's
// dispatches are in flight, any other event arriving before they
// complete is dropped rather than queued.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"curvewarden/internal/domain"
	"curvewarden/internal/events"
	"curvewarden/internal/logging"
)

// PolicyEvaluator is the Policy Engine capability the orchestrator drives.
type PolicyEvaluator interface {
	EvaluateEvent(evt domain.InternalEvent) []domain.PolicyEvaluationResult
}

// Executor is the Execution Engine capability the orchestrator drives.
type Executor interface {
	Execute(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult
}

// PositionsByMint resolves which open positions a mint-scoped event maps
// to, since PolicyEvaluationResult only carries the mint.
type PositionsByMint interface {
	GetPositionsByMint(mint string) []domain.PositionState
}

// Orchestrator subscribes to every event, evaluates policies, and maps
// triggered results to ExecutionRequests against the affected positions.
type Orchestrator struct {
	policy    PolicyEvaluator
	executor  Executor
	positions PositionsByMint
	bus       *events.Bus

	processing atomic.Bool
	dropped    atomic.Int64
}

// New constructs an Orchestrator.
func New(policy PolicyEvaluator, executor Executor, positions PositionsByMint, bus *events.Bus) *Orchestrator {
	return &Orchestrator{
		policy:    policy,
		executor:  executor,
		positions: positions,
		bus:       bus,
	}
}

// Start registers a catch-all subscriber that drives the whole pipeline
// for every event the bus carries.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.bus.SubscribeAll(func(evt domain.InternalEvent) {
		o.handleEvent(ctx, evt)
	})
	logging.WithComponent("orchestrator").Info("orchestrator started")
	return nil
}

// handleEvent evaluates evt against every policy, and, if at least one
// triggers, tries to acquire the single-flight gate before dispatching
// executions for every affected open position. Gate acquisition happens
// synchronously so a second event arriving immediately after sees it
// already held; the dispatches themselves, and the gate's release, run
// in the background so handleEvent never blocks the bus.
func (o *Orchestrator) handleEvent(ctx context.Context, evt domain.InternalEvent) {
	results := o.policy.EvaluateEvent(evt)
	if len(results) == 0 {
		return
	}

	if !o.processing.CompareAndSwap(false, true) {
		o.dropped.Add(1)
		logging.WithComponent("orchestrator").Warn("dropping event, execution already in flight", "eventId", evt.ID, "kind", string(evt.Kind))
		return
	}

	go func() {
		defer o.processing.Store(false)
		var wg sync.WaitGroup
		for _, res := range results {
			for _, pos := range o.positions.GetPositionsByMint(res.MintAddress) {
				if pos.Status != domain.PositionOpen {
					continue
				}
				wg.Add(1)
				go o.dispatch(ctx, &wg, pos.ID, res)
			}
		}
		wg.Wait()
	}()
}

// dispatch maps res to an ExecutionRequest for positionID and runs it.
func (o *Orchestrator) dispatch(ctx context.Context, wg *sync.WaitGroup, positionID string, res domain.PolicyEvaluationResult) {
	defer wg.Done()
	req, ok := mapToRequest(positionID, res)
	if !ok {
		return
	}
	result := o.executor.Execute(ctx, req)
	logging.WithComponent("orchestrator").Info("execution dispatched", "positionId", positionID, "status", string(result.Status), "policyId", res.PolicyID)
}

// DroppedEvents returns the count of events dropped by the single-flight
// gate since startup. Observability only; does not affect dispatch.
func (o *Orchestrator) DroppedEvents() int64 {
	return o.dropped.Load()
}

// mapToRequest maps a triggered PolicyEvaluationResult's action to an
// ExecutionRequest: ExitPosition -> FullExit@100%, PartialSell ->
// PartialSell@param-or-50%, HaltStrategy -> Halt@0%, AlertOnly -> no dispatch.
func mapToRequest(positionID string, res domain.PolicyEvaluationResult) (domain.ExecutionRequest, bool) {
	base := domain.ExecutionRequest{PositionID: positionID, PolicyID: res.PolicyID}

	switch res.Action {
	case domain.ActionExitPosition:
		base.Action = domain.ExecFullExit
		base.SellPercentage = 100
	case domain.ActionPartialSell:
		base.Action = domain.ExecPartialSell
		base.SellPercentage = 50
		if res.ActionParams != nil && res.ActionParams.SellPercentage > 0 {
			base.SellPercentage = res.ActionParams.SellPercentage
		}
	case domain.ActionHaltStrategy:
		base.Action = domain.ExecHalt
		base.SellPercentage = 0
	case domain.ActionAlertOnly:
		return domain.ExecutionRequest{}, false
	default:
		return domain.ExecutionRequest{}, false
	}

	if res.ActionParams != nil {
		base.MaxSlippageBps = res.ActionParams.MaxSlippageBps
		base.PriorityFeeBase = res.ActionParams.PriorityFeeBase
	}
	return base, true
}
