package swarm

import (
	"context"
	"sync"
	"time"

	"curvewarden/internal/agent"
	"curvewarden/internal/domain"
	"curvewarden/internal/logging"
)

const (
	executorTickInterval = 1 * time.Second
)

// ExecutorBuyer executes a strategist entry plan.
type ExecutorBuyer interface {
	Buy(ctx context.Context, plan domain.ExecutionPlan) (domain.ExecutionResult, error)
}

// ExecutorSeller executes a sentinel-raised threat exit.
type ExecutorSeller interface {
	Sell(ctx context.Context, threat domain.ThreatExit) (domain.ExecutionResult, error)
}

// priority orders queued work: lower values run first.
type priority int

const (
	priorityCritical priority = iota
	priorityHigh
	priorityMedium
	priorityLow
)

type workItem struct {
	priority priority
	plan     *domain.ExecutionPlan
	threat   *domain.ThreatExit
}

// ExecutorAgent drains the execution-plan and threat-exit channels into a
// single priority queue (critical < high < medium < low), running the
// highest-priority item each tick. A critical threat exit is always
// inserted at the head of the queue regardless of what else is waiting.
type ExecutorAgent struct {
	buyer   ExecutorBuyer
	seller  ExecutorSeller
	mailbox *agent.Mailbox

	planInbox   <-chan interface{}
	threatInbox <-chan interface{}

	mu    sync.Mutex
	queue []workItem
}

// NewExecutorAgent wires an ExecutorAgent and returns the agent.Agent
// driving its tick loop.
func NewExecutorAgent(buyer ExecutorBuyer, seller ExecutorSeller, mailbox *agent.Mailbox) *agent.Agent {
	e := &ExecutorAgent{
		buyer:       buyer,
		seller:      seller,
		mailbox:     mailbox,
		planInbox:   mailbox.Subscribe(agent.RoleExecutor, "execution-plan"),
		threatInbox: mailbox.Subscribe(agent.RoleExecutor, "threat-exit"),
	}
	return agent.New(agent.RoleExecutor, executorTickInterval, agent.Hooks{Tick: e.tick}, mailbox)
}

func (e *ExecutorAgent) tick(ctx context.Context) error {
	e.drainInboxes()

	item, ok := e.pop()
	if !ok {
		return nil
	}

	var result domain.ExecutionResult
	var err error
	switch {
	case item.threat != nil:
		result, err = e.seller.Sell(ctx, *item.threat)
	case item.plan != nil && item.plan.Action == "enter":
		result, err = e.buyer.Buy(ctx, *item.plan)
	default:
		return nil
	}

	log := logging.WithComponent("executor-agent")
	if err != nil {
		log.Warn("execution item failed", "error", err)
	}
	e.mailbox.Send(agent.RoleMemory, "execution-result", result)
	return nil
}

func (e *ExecutorAgent) drainInboxes() {
threats:
	for {
		select {
		case msg := <-e.threatInbox:
			threat, ok := msg.(domain.ThreatExit)
			if !ok {
				continue
			}
			e.enqueueThreat(threat)
		default:
			break threats
		}
	}
plans:
	for {
		select {
		case msg := <-e.planInbox:
			plan, ok := msg.(domain.ExecutionPlan)
			if !ok || plan.Action != "enter" {
				continue
			}
			e.enqueuePlan(plan)
		default:
			break plans
		}
	}
}

func urgencyToPriority(u domain.ThreatUrgency) priority {
	switch u {
	case domain.UrgencyCritical:
		return priorityCritical
	case domain.UrgencyHigh:
		return priorityHigh
	case domain.UrgencyMedium:
		return priorityMedium
	default:
		return priorityLow
	}
}

func (e *ExecutorAgent) enqueueThreat(threat domain.ThreatExit) {
	e.mu.Lock()
	defer e.mu.Unlock()
	item := workItem{priority: urgencyToPriority(threat.Urgency), threat: &threat}
	if item.priority == priorityCritical {
		e.queue = append([]workItem{item}, e.queue...)
		return
	}
	e.insertSorted(item)
}

func (e *ExecutorAgent) enqueuePlan(plan domain.ExecutionPlan) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := priorityMedium
	switch plan.Urgency {
	case "high":
		p = priorityHigh
	case "low":
		p = priorityLow
	}
	e.insertSorted(workItem{priority: p, plan: &plan})
}

// insertSorted inserts in ascending-priority order, preserving arrival
// order within a priority tier. Caller holds e.mu.
func (e *ExecutorAgent) insertSorted(item workItem) {
	i := len(e.queue)
	for i > 0 && e.queue[i-1].priority > item.priority {
		i--
	}
	e.queue = append(e.queue, workItem{})
	copy(e.queue[i+1:], e.queue[i:])
	e.queue[i] = item
}

func (e *ExecutorAgent) pop() (workItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return workItem{}, false
	}
	item := e.queue[0]
	e.queue = e.queue[1:]
	return item, true
}
