package agent

import (
	"context"
	"fmt"
	"sync"

	"curvewarden/internal/logging"
)

// Swarm owns a role -> Agent registry and fans lifecycle operations out
// across every registered agent. One agent's failure to start or stop is
// logged but never aborts the others.
type Swarm struct {
	mu     sync.RWMutex
	agents map[Role]*Agent
}

// NewSwarm constructs an empty Swarm.
func NewSwarm() *Swarm {
	return &Swarm{agents: make(map[Role]*Agent)}
}

// Register adds an agent under its role.
func (s *Swarm) Register(a *Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.Role] = a
}

// Start starts every registered agent concurrently.
func (s *Swarm) Start(ctx context.Context) {
	s.mu.RLock()
	agents := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, a := range agents {
		wg.Add(1)
		go func(a *Agent) {
			defer wg.Done()
			if err := a.Start(ctx); err != nil {
				logging.WithComponent("swarm").Error("agent failed to start", "role", string(a.Role), "error", err)
			}
		}(a)
	}
	wg.Wait()
}

// Stop stops every registered agent concurrently.
func (s *Swarm) Stop(ctx context.Context) {
	s.mu.RLock()
	agents := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, a := range agents {
		wg.Add(1)
		go func(a *Agent) {
			defer wg.Done()
			a.Stop(ctx)
		}(a)
	}
	wg.Wait()
}

// PauseAgent pauses a registered agent by role.
func (s *Swarm) PauseAgent(role Role) error {
	s.mu.RLock()
	a, ok := s.agents[role]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("agent: no agent registered for role %s", role)
	}
	a.Pause()
	return nil
}

// ResumeAgent resumes a registered agent by role.
func (s *Swarm) ResumeAgent(role Role) error {
	s.mu.RLock()
	a, ok := s.agents[role]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("agent: no agent registered for role %s", role)
	}
	a.Resume()
	return nil
}

// Status returns every registered agent's current status snapshot.
func (s *Swarm) Status() map[Role]Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Role]Status, len(s.agents))
	for role, a := range s.agents {
		out[role] = a.StatusSnapshot()
	}
	return out
}
