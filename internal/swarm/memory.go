package swarm

import (
	"context"
	"sync"
	"time"

	"curvewarden/internal/agent"
	"curvewarden/internal/cache"
	"curvewarden/internal/domain"
	"curvewarden/internal/logging"
)

const memoryCacheKey = "swarm:memory:outcomes"

type memorySnapshot struct {
	Outcomes []domain.DecisionOutcome `json:"outcomes"`
	Stats    MemoryStats              `json:"stats"`
}

// CachePersister is the default MemoryPersister, storing the outcome
// window and aggregate stats as a single JSON blob in the shared Redis
// cache alongside the Intelligence Stores.
type CachePersister struct {
	cache *cache.Service
}

// NewCachePersister constructs a CachePersister.
func NewCachePersister(c *cache.Service) *CachePersister {
	return &CachePersister{cache: c}
}

// SaveOutcomes persists the outcome window and stats with no expiry; the
// memory agent's own bounded window keeps it from growing unboundedly.
func (p *CachePersister) SaveOutcomes(ctx context.Context, outcomes []domain.DecisionOutcome, stats MemoryStats) error {
	return p.cache.SetJSON(ctx, memoryCacheKey, memorySnapshot{Outcomes: outcomes, Stats: stats}, 0)
}

const (
	memoryTickInterval  = 10 * time.Second
	memoryOutcomeWindow = 500
	memoryPersistEvery  = 10
)

// MemoryStats is the aggregate summary persisted alongside the raw
// outcome window.
type MemoryStats struct {
	TotalOutcomes int     `json:"totalOutcomes"`
	WinRate       float64 `json:"winRate"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// MemoryPersister is the storage capability the memory agent persists its
// outcome window and aggregate stats through.
type MemoryPersister interface {
	SaveOutcomes(ctx context.Context, outcomes []domain.DecisionOutcome, stats MemoryStats) error
}

// Memory consumes confirmed/failed execution results, folds them into a
// bounded outcome window, feeds the window back to the strategist for
// sizing, and periodically persists the window plus aggregate stats.
type Memory struct {
	persister MemoryPersister
	mailbox   *agent.Mailbox
	inbox     <-chan interface{}

	mu       sync.Mutex
	outcomes []domain.DecisionOutcome
	ticks    int
}

// NewMemory wires a Memory and returns the agent.Agent driving its tick
// loop.
func NewMemory(persister MemoryPersister, mailbox *agent.Mailbox) *agent.Agent {
	m := &Memory{
		persister: persister,
		mailbox:   mailbox,
		inbox:     mailbox.Subscribe(agent.RoleMemory, "execution-result"),
	}
	return agent.New(agent.RoleMemory, memoryTickInterval, agent.Hooks{Tick: m.tick}, mailbox)
}

func (m *Memory) tick(ctx context.Context) error {
	m.drain()

	m.mu.Lock()
	m.ticks++
	due := m.ticks >= memoryPersistEvery
	if due {
		m.ticks = 0
	}
	snapshot := append([]domain.DecisionOutcome(nil), m.outcomes...)
	stats := m.statsLocked()
	m.mu.Unlock()

	if !due || m.persister == nil {
		return nil
	}
	if err := m.persister.SaveOutcomes(ctx, snapshot, stats); err != nil {
		logging.WithComponent("memory").Warn("persist outcome window failed", "error", err)
	}
	return nil
}

func (m *Memory) drain() {
	for {
		select {
		case msg := <-m.inbox:
			result, ok := msg.(domain.ExecutionResult)
			if !ok {
				continue
			}
			m.record(result)
		default:
			return
		}
	}
}

func (m *Memory) record(result domain.ExecutionResult) {
	correct := result.Status == domain.ExecConfirmed
	outcome := domain.DecisionOutcome{
		ID:         result.ID,
		PositionID: result.PositionID,
		WasCorrect: &correct,
		ClosedAt:   &result.CompletedAt,
	}

	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	if len(m.outcomes) > memoryOutcomeWindow {
		m.outcomes = m.outcomes[len(m.outcomes)-memoryOutcomeWindow:]
	}
	m.mu.Unlock()

	m.mailbox.Send(agent.RoleStrategist, "outcome", outcome)
}

// statsLocked computes the aggregate summary over the current window.
// Caller holds m.mu.
func (m *Memory) statsLocked() MemoryStats {
	stats := MemoryStats{TotalOutcomes: len(m.outcomes), UpdatedAt: time.Now()}
	if len(m.outcomes) == 0 {
		return stats
	}
	var correct int
	for _, o := range m.outcomes {
		if o.WasCorrect != nil && *o.WasCorrect {
			correct++
		}
	}
	stats.WinRate = float64(correct) / float64(len(m.outcomes))
	return stats
}
