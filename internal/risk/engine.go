// Package risk implements the Risk Engine: a synchronous, mostly-stateless
// pre-trade gate. The only mutable state is a per-position cooldown map,
// the way the reference's RiskManager kept a single mutex-guarded map of
// per-symbol state alongside otherwise-pure checks.
package risk

import (
	"fmt"
	"sync"
	"time"

	"curvewarden/internal/domain"
)

// PositionLookup is the State Engine capability the Risk Engine needs to
// check a position's entry size against the process-wide cap.
type PositionLookup interface {
	GetPosition(id string) (domain.PositionState, bool)
}

// Engine gates ExecutionRequests against RiskParameters.
type Engine struct {
	params    domain.RiskParameters
	positions PositionLookup

	mu            sync.Mutex
	lastExecution map[string]time.Time
}

// New constructs a Risk Engine with process-wide, immutable-after-start
// parameters.
func New(params domain.RiskParameters, positions PositionLookup) *Engine {
	return &Engine{
		params:        params,
		positions:     positions,
		lastExecution: make(map[string]time.Time),
	}
}

// Evaluate collects every violation of req against the risk parameters —
// it never short-circuits — then approves only if none were found. On
// approval it stamps lastExecution[req.PositionID] = now.
func (e *Engine) Evaluate(req domain.ExecutionRequest) domain.RiskCheckResult {
	var violations []string

	if req.MaxSlippageBps > e.params.MaxSlippageBps {
		violations = append(violations, fmt.Sprintf("maxSlippageBps %d exceeds risk cap %d", req.MaxSlippageBps, e.params.MaxSlippageBps))
	}

	if req.PriorityFeeBase > e.params.MaxPriorityFeeBase {
		violations = append(violations, fmt.Sprintf("priorityFeeBase %d exceeds risk cap %d", req.PriorityFeeBase, e.params.MaxPriorityFeeBase))
	}

	e.mu.Lock()
	last, seen := e.lastExecution[req.PositionID]
	e.mu.Unlock()
	if seen {
		elapsed := time.Since(last)
		cooldown := time.Duration(e.params.ExecutionCooldownMs) * time.Millisecond
		if elapsed < cooldown {
			violations = append(violations, fmt.Sprintf("ExecutionCooldown: %s remaining for position %s", (cooldown - elapsed).Round(time.Millisecond), req.PositionID))
		}
	}

	if pos, ok := e.positions.GetPosition(req.PositionID); ok {
		if pos.EntryAmountBase > float64(e.params.MaxPositionSizeBase) {
			violations = append(violations, fmt.Sprintf("position entryAmountBase %.0f exceeds maxPositionSizeBase %d", pos.EntryAmountBase, e.params.MaxPositionSizeBase))
		}
	}

	if req.Action != domain.ExecHalt {
		if req.SellPercentage <= 0 || req.SellPercentage > 100 {
			violations = append(violations, fmt.Sprintf("sellPercentage %v outside (0,100]", req.SellPercentage))
		}
	}

	approved := len(violations) == 0
	if approved {
		e.mu.Lock()
		e.lastExecution[req.PositionID] = time.Now()
		e.mu.Unlock()
	}

	return domain.RiskCheckResult{Approved: approved, Violations: violations}
}

// ResetCooldown erases the cooldown entry for a position. The Execution
// Engine calls this after a rejected execution so a future attempt is not
// stranded behind a cooldown stamped by the rejected one.
func (e *Engine) ResetCooldown(positionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.lastExecution, positionID)
}
