package swarm

import (
	"context"
	"testing"

	"curvewarden/internal/agent"
	"curvewarden/internal/domain"
)

type fakeBuyer struct {
	mints []string
}

func (f *fakeBuyer) Buy(ctx context.Context, plan domain.ExecutionPlan) (domain.ExecutionResult, error) {
	f.mints = append(f.mints, plan.Mint)
	return domain.ExecutionResult{PositionID: plan.Mint, Status: domain.ExecConfirmed}, nil
}

type fakeSeller struct {
	positionIDs []string
}

func (f *fakeSeller) Sell(ctx context.Context, threat domain.ThreatExit) (domain.ExecutionResult, error) {
	f.positionIDs = append(f.positionIDs, threat.PositionID)
	return domain.ExecutionResult{PositionID: threat.PositionID, Status: domain.ExecConfirmed}, nil
}

func TestExecutorAgentRunsCriticalThreatBeforeQueuedPlans(t *testing.T) {
	mb := agent.NewMailbox()
	buyer := &fakeBuyer{}
	seller := &fakeSeller{}
	e := newExecutorAgentForTest(buyer, seller, mb)

	mb.Send(agent.RoleExecutor, "execution-plan", domain.ExecutionPlan{Action: "enter", Mint: "low-priority-mint", Urgency: "low"})
	mb.Send(agent.RoleExecutor, "threat-exit", domain.ThreatExit{PositionID: "pos-critical", Urgency: domain.UrgencyCritical, Action: "full_exit"})

	e.drainInboxes()
	item, ok := e.pop()
	if !ok {
		t.Fatal("expected a queued item")
	}
	if item.threat == nil || item.threat.PositionID != "pos-critical" {
		t.Fatalf("expected critical threat exit to run first, got %+v", item)
	}
}

func TestExecutorAgentOrdersByPriorityTier(t *testing.T) {
	mb := agent.NewMailbox()
	buyer := &fakeBuyer{}
	seller := &fakeSeller{}
	e := newExecutorAgentForTest(buyer, seller, mb)

	e.enqueuePlan(domain.ExecutionPlan{Mint: "low", Action: "enter", Urgency: "low"})
	e.enqueuePlan(domain.ExecutionPlan{Mint: "high", Action: "enter", Urgency: "high"})
	e.enqueuePlan(domain.ExecutionPlan{Mint: "medium", Action: "enter", Urgency: "medium"})

	var order []string
	for {
		item, ok := e.pop()
		if !ok {
			break
		}
		order = append(order, item.plan.Mint)
	}
	want := []string{"high", "medium", "low"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

// newExecutorAgentForTest builds the unexported ExecutorAgent directly so
// tests can drive drainInboxes/pop without waiting on the tick timer.
func newExecutorAgentForTest(buyer ExecutorBuyer, seller ExecutorSeller, mb *agent.Mailbox) *ExecutorAgent {
	return &ExecutorAgent{
		buyer:       buyer,
		seller:      seller,
		mailbox:     mb,
		planInbox:   mb.Subscribe(agent.RoleExecutor, "execution-plan"),
		threatInbox: mb.Subscribe(agent.RoleExecutor, "threat-exit"),
	}
}
