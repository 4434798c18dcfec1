package swarm

import (
	"context"
	"testing"

	"curvewarden/internal/agent"
	"curvewarden/internal/domain"
)

type fakePersister struct {
	calls   int
	lastLen int
	lastStats MemoryStats
}

func (f *fakePersister) SaveOutcomes(ctx context.Context, outcomes []domain.DecisionOutcome, stats MemoryStats) error {
	f.calls++
	f.lastLen = len(outcomes)
	f.lastStats = stats
	return nil
}

func newMemoryForTest(persister MemoryPersister, mb *agent.Mailbox) *Memory {
	return &Memory{persister: persister, mailbox: mb, inbox: mb.Subscribe(agent.RoleMemory, "execution-result")}
}

func TestMemoryForwardsOutcomeToStrategist(t *testing.T) {
	mb := agent.NewMailbox()
	rx := mb.Subscribe(agent.RoleStrategist, "outcome")
	m := newMemoryForTest(&fakePersister{}, mb)

	mb.Send(agent.RoleMemory, "execution-result", domain.ExecutionResult{PositionID: "pos1", Status: domain.ExecConfirmed})
	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	outcome := (<-rx).(domain.DecisionOutcome)
	if outcome.PositionID != "pos1" || outcome.WasCorrect == nil || !*outcome.WasCorrect {
		t.Fatalf("got %+v", outcome)
	}
}

func TestMemoryPersistsEveryTenthTick(t *testing.T) {
	mb := agent.NewMailbox()
	mb.Subscribe(agent.RoleStrategist, "outcome")
	persister := &fakePersister{}
	m := newMemoryForTest(persister, mb)

	for i := 0; i < 9; i++ {
		if err := m.tick(context.Background()); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if persister.calls != 0 {
		t.Fatalf("expected no persist before the 10th tick, got %d", persister.calls)
	}

	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if persister.calls != 1 {
		t.Fatalf("expected exactly one persist on the 10th tick, got %d", persister.calls)
	}
}

func TestMemoryWindowIsBounded(t *testing.T) {
	mb := agent.NewMailbox()
	mb.Subscribe(agent.RoleStrategist, "outcome")
	m := newMemoryForTest(nil, mb)

	for i := 0; i < memoryOutcomeWindow+50; i++ {
		m.record(domain.ExecutionResult{PositionID: "pos", Status: domain.ExecConfirmed})
	}
	if len(m.outcomes) != memoryOutcomeWindow {
		t.Fatalf("window length = %d, want %d", len(m.outcomes), memoryOutcomeWindow)
	}
}
