// Package agent implements the base cooperative-agent runtime the swarm's
// six agents are built on: a repeating tick timer, a typed mailbox
// addressable by (role, channel) with broadcast addressing, and status
// reporting for operator control.
package agent

import (
	"context"
	"sync"
	"time"

	"curvewarden/internal/logging"
)

// Role identifies one of the swarm's six cooperative agents, or the
// broadcast pseudo-role used as a mailbox send address.
type Role string

const (
	RoleScout      Role = "scout"
	RoleAnalyst    Role = "analyst"
	RoleStrategist Role = "strategist"
	RoleSentinel   Role = "sentinel"
	RoleExecutor   Role = "executor"
	RoleMemory     Role = "memory"
	RoleBroadcast  Role = "broadcast"
)

const mailboxQueueDepth = 256

// Mailbox routes typed messages between agents, addressable as
// (role, channel), with RoleBroadcast delivering to every subscriber of
// a channel regardless of role.
type Mailbox struct {
	mu     sync.RWMutex
	queues map[string]map[Role]chan interface{}
}

// NewMailbox constructs an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{queues: make(map[string]map[Role]chan interface{})}
}

// Subscribe registers role to receive messages sent to (role, channel)
// or broadcast on channel, returning the receive side of its queue.
func (m *Mailbox) Subscribe(role Role, channel string) <-chan interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queues[channel] == nil {
		m.queues[channel] = make(map[Role]chan interface{})
	}
	q := make(chan interface{}, mailboxQueueDepth)
	m.queues[channel][role] = q
	return q
}

// Unsubscribe drops role's queue for channel.
func (m *Mailbox) Unsubscribe(role Role, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.queues[channel]; ok {
		delete(subs, role)
	}
}

// Send delivers payload to (to, channel), or to every subscriber of
// channel when to is RoleBroadcast. Delivery is non-blocking: a full
// queue drops the message rather than stalling the sender.
func (m *Mailbox) Send(to Role, channel string, payload interface{}) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subs, ok := m.queues[channel]
	if !ok {
		return
	}

	if to == RoleBroadcast {
		for _, q := range subs {
			trySend(q, payload)
		}
		return
	}
	if q, ok := subs[to]; ok {
		trySend(q, payload)
	}
}

func trySend(q chan interface{}, payload interface{}) {
	select {
	case q <- payload:
	default:
	}
}

// Status reports an agent's lifecycle state for operator inspection.
type Status struct {
	Running    bool      `json:"running"`
	Paused     bool      `json:"paused"`
	TickCount  int64     `json:"tickCount"`
	LastTickAt time.Time `json:"lastTickAt"`
}

// Hooks are the three protected lifecycle callbacks a concrete agent
// implements. All three may be nil.
type Hooks struct {
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context)
	Tick    func(ctx context.Context) error
}

// Agent is the base cooperative-task runtime: a role, a fixed tick
// interval, lifecycle hooks, and the shared mailbox.
type Agent struct {
	Role         Role
	tickInterval time.Duration
	hooks        Hooks
	mailbox      *Mailbox

	mu     sync.RWMutex
	status Status
	paused bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs an Agent. tickInterval must be > 0.
func New(role Role, tickInterval time.Duration, hooks Hooks, mailbox *Mailbox) *Agent {
	return &Agent{
		Role:         role,
		tickInterval: tickInterval,
		hooks:        hooks,
		mailbox:      mailbox,
		stopCh:       make(chan struct{}),
	}
}

// Start marks the agent running, invokes onStart, and arms the tick
// timer on its own goroutine.
func (a *Agent) Start(ctx context.Context) error {
	if a.hooks.OnStart != nil {
		if err := a.hooks.OnStart(ctx); err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.status.Running = true
	a.mu.Unlock()

	go a.loop(ctx)
	return nil
}

// Stop clears running, cancels the timer, and invokes onStop. Safe to
// call more than once.
func (a *Agent) Stop(ctx context.Context) {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		a.mu.Lock()
		a.status.Running = false
		a.mu.Unlock()
		if a.hooks.OnStop != nil {
			a.hooks.OnStop(ctx)
		}
	})
}

// Pause suspends ticking without stopping the agent; the timer keeps
// running but tick is skipped.
func (a *Agent) Pause() {
	a.mu.Lock()
	a.paused = true
	a.status.Paused = true
	a.mu.Unlock()
}

// Resume un-suspends ticking.
func (a *Agent) Resume() {
	a.mu.Lock()
	a.paused = false
	a.status.Paused = false
	a.mu.Unlock()
}

// StatusSnapshot returns a copy of the agent's current status.
func (a *Agent) StatusSnapshot() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Mailbox returns the shared mailbox for agents that need to send/subscribe.
func (a *Agent) Mailbox() *Mailbox { return a.mailbox }

func (a *Agent) loop(ctx context.Context) {
	ticker := time.NewTicker(a.tickInterval)
	defer ticker.Stop()

	log := logging.WithComponent("agent").WithField("role", string(a.Role))
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.mu.RLock()
			paused := a.paused
			a.mu.RUnlock()
			if paused || a.hooks.Tick == nil {
				continue
			}
			a.runTick(ctx, log)
		}
	}
}

func (a *Agent) runTick(ctx context.Context, log *logging.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("tick panicked", "recovered", r)
		}
	}()

	if err := a.hooks.Tick(ctx); err != nil {
		log.Warn("tick returned error", "error", err)
	}

	a.mu.Lock()
	a.status.TickCount++
	a.status.LastTickAt = time.Now()
	a.mu.Unlock()
}
