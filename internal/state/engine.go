// Package state implements the in-memory State Engine: the authoritative
// index of positions and defensive telemetry (dev-wallet sell windows,
// LP-removal tallies) that every other component reads through.
package state

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"curvewarden/internal/domain"
	"curvewarden/internal/events"
	"curvewarden/internal/logging"
)

// PositionStore is the relational-store capability the State Engine needs
// at startup to rehydrate open positions.
type PositionStore interface {
	LoadOpenPositions(ctx context.Context) ([]domain.PositionState, error)
}

// SnapshotWriter is the KV-store capability used for periodic snapshots.
type SnapshotWriter interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

const (
	snapshotInterval = 30 * time.Second
	snapshotTTL       = 300 * time.Second
	devMetricsSep     = "\x00"
)

// Engine owns the position index, dev-wallet metrics, and LP states. All
// other components read through it; the Execution Engine holds the only
// write capability over position balances and status.
type Engine struct {
	mu         sync.RWMutex
	positions  map[string]*domain.PositionState
	devMetrics map[string]*domain.DevWalletMetrics // key: mint+sep+wallet
	lpStates   map[string]*domain.LPState          // key: poolAddress

	store      PositionStore
	snapshot   SnapshotWriter
	snapshotKey string
	bus        *events.Bus

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs an Engine. snapshotKey is the single KV key all positions
// and dev metrics are serialized under.
func New(store PositionStore, snapshot SnapshotWriter, bus *events.Bus, snapshotKey string) *Engine {
	return &Engine{
		positions:   make(map[string]*domain.PositionState),
		devMetrics:  make(map[string]*domain.DevWalletMetrics),
		lpStates:    make(map[string]*domain.LPState),
		store:       store,
		snapshot:    snapshot,
		snapshotKey: snapshotKey,
		bus:         bus,
		stopCh:      make(chan struct{}),
	}
}

// Start loads open positions from the store, subscribes to DevWalletSell
// and LpRemove events, and arms the periodic snapshot timer. It must be
// called before the Policy Engine subscribes, so dev-metrics updates are
// visible to policy evaluation of the same event.
func (e *Engine) Start(ctx context.Context) error {
	positions, err := e.store.LoadOpenPositions(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for i := range positions {
		p := positions[i]
		e.positions[p.ID] = &p
	}
	e.mu.Unlock()

	e.bus.Subscribe(domain.EventDevWalletSell, e.handleDevWalletSell)
	e.bus.Subscribe(domain.EventLpRemove, e.handleLpRemove)

	go e.snapshotLoop(ctx)

	logging.WithComponent("state").Info("state engine started", "openPositions", len(positions))
	return nil
}

// Stop cancels the snapshot timer and flushes one final snapshot.
func (e *Engine) Stop(ctx context.Context) {
	e.stopOnce.Do(func() { close(e.stopCh) })
	if err := e.writeSnapshot(ctx); err != nil {
		logging.WithComponent("state").Warn("final snapshot failed", "error", err)
	}
}

func (e *Engine) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.writeSnapshot(ctx); err != nil {
				logging.WithComponent("state").Warn("snapshot failed", "error", err)
			}
		case <-e.stopCh:
			return
		}
	}
}

type snapshotPayload struct {
	Positions  []domain.PositionState       `json:"positions"`
	DevMetrics []domain.DevWalletMetrics    `json:"devMetrics"`
}

func (e *Engine) writeSnapshot(ctx context.Context) error {
	e.mu.RLock()
	payload := snapshotPayload{
		Positions:  make([]domain.PositionState, 0, len(e.positions)),
		DevMetrics: make([]domain.DevWalletMetrics, 0, len(e.devMetrics)),
	}
	for _, p := range e.positions {
		payload.Positions = append(payload.Positions, *p)
	}
	for _, m := range e.devMetrics {
		payload.DevMetrics = append(payload.DevMetrics, *m)
	}
	e.mu.RUnlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return e.snapshot.Set(ctx, e.snapshotKey, data, snapshotTTL)
}

func (e *Engine) handleDevWalletSell(evt domain.InternalEvent) {
	e.mu.Lock()
	key := evt.MintAddress + devMetricsSep + evt.DevWallet
	m, ok := e.devMetrics[key]
	if !ok {
		m = &domain.DevWalletMetrics{Mint: evt.MintAddress, DevWallet: evt.DevWallet}
		e.devMetrics[key] = m
	}
	m.RecordSell(domain.SellRecord{
		TimestampMs: evt.TimestampMs,
		Percentage:  evt.PercentageOfHoldings,
		Slot:        evt.Slot,
	})
	e.mu.Unlock()
}

func (e *Engine) handleLpRemove(evt domain.InternalEvent) {
	e.mu.Lock()
	s, ok := e.lpStates[evt.PoolAddress]
	if !ok {
		s = &domain.LPState{PoolAddress: evt.PoolAddress, MintAddress: evt.MintAddress}
		e.lpStates[evt.PoolAddress] = s
	}
	s.RecordRemoval(domain.LPRemoval{
		TimestampMs: evt.TimestampMs,
		Amount:      evt.LiquidityAmount,
		Slot:        evt.Slot,
	})
	e.mu.Unlock()
}

// GetPosition returns a copy of the position, or false if unknown.
func (e *Engine) GetPosition(id string) (domain.PositionState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.positions[id]
	if !ok {
		return domain.PositionState{}, false
	}
	return *p, true
}

// GetOpenPositions returns a snapshot of every Open position.
func (e *Engine) GetOpenPositions() []domain.PositionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.PositionState, 0, len(e.positions))
	for _, p := range e.positions {
		if p.Status == domain.PositionOpen {
			out = append(out, *p)
		}
	}
	return out
}

// GetPositionsByMint returns every position (any status) for a mint.
func (e *Engine) GetPositionsByMint(mint string) []domain.PositionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.PositionState, 0)
	for _, p := range e.positions {
		if p.MintAddress == mint {
			out = append(out, *p)
		}
	}
	return out
}

// GetDevMetrics returns the dev-wallet metrics for (mint, wallet).
func (e *Engine) GetDevMetrics(mint, wallet string) (domain.DevWalletMetrics, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.devMetrics[mint+devMetricsSep+wallet]
	if !ok {
		return domain.DevWalletMetrics{}, false
	}
	return *m, true
}

// GetDevSellPercentageInWindow sums recentSells.percentage for entries no
// older than windowMs.
func (e *Engine) GetDevSellPercentageInWindow(mint, wallet string, windowMs int64) float64 {
	e.mu.RLock()
	m, ok := e.devMetrics[mint+devMetricsSep+wallet]
	e.mu.RUnlock()
	if !ok {
		return 0
	}
	return m.SellPercentageInWindow(time.Now().UnixMilli(), windowMs)
}

// GetLPState returns the LP removal telemetry for a pool.
func (e *Engine) GetLPState(pool string) (domain.LPState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.lpStates[pool]
	if !ok {
		return domain.LPState{}, false
	}
	return *s, true
}

// AddPosition inserts a new position, overwriting nothing (ids are
// expected to be globally unique by construction).
func (e *Engine) AddPosition(p domain.PositionState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[p.ID] = &p
}

// UpdatePosition applies a partial mutation. Status transitions backward
// from Closed are rejected silently (the invariant holds: once closed,
// always closed).
func (e *Engine) UpdatePosition(id string, upd domain.PositionUpdate) (domain.PositionState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.positions[id]
	if !ok {
		return domain.PositionState{}, false
	}
	if p.Status == domain.PositionClosed && upd.Status != nil && *upd.Status != domain.PositionClosed {
		return *p, true
	}

	if upd.TokenBalance != nil {
		p.TokenBalance = *upd.TokenBalance
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	if upd.ClosedAt != nil {
		p.ClosedAt = upd.ClosedAt
	}
	if upd.EntryPrice != nil {
		p.EntryPrice = upd.EntryPrice
	}
	return *p, true
}
