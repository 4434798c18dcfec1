// Package ingestion is the Event Ingestion component: it polls the chain
// for activity on tracked wallets, translates what it observes into
// InternalEvents, publishes them to the Event Bus, and persists every one
// to the event log for replay. The concrete mapping from a parsed
// transaction to an event kind is a deployment-time heuristic, not a
// defense-pipeline concern — the same stance internal/rpcclient takes on
// bonding-curve account layout.
package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"curvewarden/internal/database"
	"curvewarden/internal/domain"
	"curvewarden/internal/events"
	"curvewarden/internal/logging"
	"curvewarden/internal/rpcclient"
)

// ChainPoller is the RPC surface ingestion drives. Polling rather than a
// push subscription keeps this component's own cadence independent of
// the RPC provider's websocket stability, matching the scheduling
// model's "signal-bus consumer polls on its own cadence" posture.
type ChainPoller interface {
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]rpcclient.SignatureRecord, error)
	GetParsedTransaction(ctx context.Context, signature string) (*rpcclient.ParsedTransaction, error)
}

// WalletStore supplies the set of wallets ingestion watches.
type WalletStore interface {
	GetWallets(ctx context.Context) ([]*database.WalletRow, error)
}

// EventStore durably logs every ingested event.
type EventStore interface {
	AppendEventLog(ctx context.Context, event domain.InternalEvent) error
}

// TrackedTokenStore resolves the mint a dev wallet deployed, so a token
// balance decrease at that wallet can be attributed to the right mint
// instead of guessed from whichever balance moved most.
type TrackedTokenStore interface {
	GetTrackedTokenByDeployer(ctx context.Context, deployer string) (*database.TrackedTokenRow, error)
}

const defaultPollLimit = 20

// walletRole is the ingestion-time convention carried in WalletRow.Label:
// "dev" marks a tracked token's deployer wallet, "lp" marks a tracked
// liquidity-pool account. Any other label (or none) is a plain watched
// wallet, classified only as a generic balance change or transfer.
const (
	walletRoleDev = "dev"
	walletRoleLP  = "lp"
)

// Service is the Event Ingestion component.
type Service struct {
	chain    ChainPoller
	wallets  WalletStore
	store    EventStore
	tokens   TrackedTokenStore
	bus      *events.Bus
	interval time.Duration

	mu   sync.Mutex
	seen map[string]string // wallet address -> most recently ingested signature

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs an Event Ingestion service polling at the given interval.
func New(chain ChainPoller, wallets WalletStore, store EventStore, tokens TrackedTokenStore, bus *events.Bus, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Service{
		chain:    chain,
		wallets:  wallets,
		store:    store,
		tokens:   tokens,
		bus:      bus,
		interval: interval,
		seen:     make(map[string]string),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the poll loop in its own goroutine until Stop is called or
// ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	go s.loop(ctx)
	return nil
}

// Stop signals the poll loop to exit and waits for it to finish.
func (s *Service) Stop(ctx context.Context) {
	close(s.stopCh)
	select {
	case <-s.doneCh:
	case <-ctx.Done():
	}
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.doneCh)
	log := logging.ChainStreamContext("", "wallet-poll")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.pollOnce(ctx); err != nil {
				log.Warn("ingestion poll failed", "error", err)
			}
		}
	}
}

func (s *Service) pollOnce(ctx context.Context) error {
	wallets, err := s.wallets.GetWallets(ctx)
	if err != nil {
		return fmt.Errorf("ingestion: load wallets: %w", err)
	}

	for _, w := range wallets {
		if err := s.pollWallet(ctx, w); err != nil {
			logging.WithComponent("ingestion").Warn("wallet poll failed", "wallet", w.Address, "error", err)
		}
	}
	return nil
}

func (s *Service) pollWallet(ctx context.Context, wallet *database.WalletRow) error {
	sigs, err := s.chain.GetSignaturesForAddress(ctx, wallet.Address, defaultPollLimit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	lastSeen := s.seen[wallet.Address]
	s.mu.Unlock()

	// GetSignaturesForAddress returns newest-first; walk back to front so
	// events are ingested in chronological order.
	newSigs := sigs
	if lastSeen != "" {
		for i, rec := range sigs {
			if rec.Signature == lastSeen {
				newSigs = sigs[:i]
				break
			}
		}
	}

	for i := len(newSigs) - 1; i >= 0; i-- {
		rec := newSigs[i]
		if rec.Err {
			continue
		}
		if err := s.ingestSignature(ctx, wallet, rec); err != nil {
			logging.WithComponent("ingestion").Warn("signature ingest failed", "signature", rec.Signature, "error", err)
		}
	}

	if len(sigs) > 0 {
		s.mu.Lock()
		s.seen[wallet.Address] = sigs[0].Signature
		s.mu.Unlock()
	}
	return nil
}

func (s *Service) ingestSignature(ctx context.Context, wallet *database.WalletRow, rec rpcclient.SignatureRecord) error {
	parsed, err := s.chain.GetParsedTransaction(ctx, rec.Signature)
	if err != nil {
		return err
	}

	evt := s.translate(ctx, wallet, rec, parsed)
	s.bus.Publish(evt)

	if err := s.store.AppendEventLog(ctx, evt); err != nil {
		return fmt.Errorf("append event log: %w", err)
	}
	return nil
}

// translate classifies one observed transaction into the closed
// InternalEvent variant it most likely represents, by comparing the
// transaction's pre/post token-balance snapshot. A mint whose total
// balance across every visible account grows is a supply change,
// regardless of which wallet is being polled. Beyond that, WalletRow.Label
// picks the taxonomy branch: a "dev" wallet's holdings of its tracked
// mint dropping is a sell (or, if another account's holdings of the same
// mint grew by the drop, a same-chain transfer); an "lp" wallet's total
// holdings moving either way is a liquidity add/remove. Anything left
// over falls back to a generic transfer, balance change, or plain wallet
// transaction.
func (s *Service) translate(ctx context.Context, wallet *database.WalletRow, rec rpcclient.SignatureRecord, parsed *rpcclient.ParsedTransaction) domain.InternalEvent {
	evt := domain.InternalEvent{
		ID:          uuid.NewString(),
		Slot:        rec.Slot,
		TimestampMs: time.Now().UnixMilli(),
		Signature:   rec.Signature,
		Wallet:      wallet.Address,
	}

	if mint, pct := supplyChange(parsed); mint != "" {
		evt.Kind = domain.EventSupplyChange
		evt.MintAddress = mint
		evt.ChangePercentage = pct
		return evt
	}

	switch wallet.Label {
	case walletRoleLP:
		if pre, post, ok := ownerTotals(parsed, wallet.Address); ok && pre != post {
			evt.PoolAddress = wallet.Address
			evt.LiquidityAmount = percentDelta(pre, post)
			if post < pre {
				evt.Kind = domain.EventLpRemove
			} else {
				evt.Kind = domain.EventLpAdd
			}
			return evt
		}

	case walletRoleDev:
		if mint := s.deployerMint(ctx, wallet.Address); mint != "" {
			if preAmt, postAmt, ok := mintTotals(parsed, wallet.Address, mint); ok && preAmt > postAmt {
				evt.DevWallet = wallet.Address
				evt.MintAddress = mint
				evt.PercentageOfHoldings = percentDelta(preAmt, postAmt)
				if to, found := transferRecipient(parsed, wallet.Address, mint, preAmt-postAmt); found {
					evt.Kind = domain.EventDevWalletTransfer
					evt.ToWallet = to
				} else {
					evt.Kind = domain.EventDevWalletSell
				}
				return evt
			}
		}
	}

	if to, pct, mint, ok := tokenTransfer(parsed, wallet.Address); ok {
		evt.Kind = domain.EventTokenTransfer
		evt.MintAddress = mint
		evt.ToWallet = to
		evt.PercentageOfHoldings = pct
		return evt
	}

	if len(parsed.PostTokenMints) > 0 {
		evt.Kind = domain.EventTokenBalanceChange
		evt.MintAddress = parsed.PostTokenMints[0]
		return evt
	}

	evt.Kind = domain.EventWalletTransaction
	if len(parsed.PostBalances) > 0 {
		evt.PostBalance = domain.Amount(parsed.PostBalances[0])
	}
	return evt
}

// deployerMint resolves the mint wallet deployed, or "" if it deployed
// nothing on record (or no token store is wired, e.g. in tests).
func (s *Service) deployerMint(ctx context.Context, deployer string) string {
	if s.tokens == nil {
		return ""
	}
	tok, err := s.tokens.GetTrackedTokenByDeployer(ctx, deployer)
	if err != nil || tok == nil {
		return ""
	}
	return tok.MintAddress
}

// supplyChange reports the mint and percentage increase of the first mint
// whose total balance across every account in the transaction grew —
// existing transfers net to zero, so a net increase only happens when new
// tokens are minted.
func supplyChange(parsed *rpcclient.ParsedTransaction) (mint string, percent float64) {
	pre := make(map[string]uint64)
	for _, tb := range parsed.PreTokenBalances {
		pre[tb.Mint] += tb.Amount
	}
	post := make(map[string]uint64)
	for _, tb := range parsed.PostTokenBalances {
		post[tb.Mint] += tb.Amount
	}
	for m, postAmt := range post {
		if preAmt := pre[m]; postAmt > preAmt {
			return m, percentDelta(preAmt, postAmt)
		}
	}
	return "", 0
}

// ownerTotals sums owner's token holdings across every mint it held
// before and after the transaction.
func ownerTotals(parsed *rpcclient.ParsedTransaction, owner string) (pre, post uint64, ok bool) {
	for _, tb := range parsed.PreTokenBalances {
		if tb.Owner == owner {
			pre += tb.Amount
			ok = true
		}
	}
	for _, tb := range parsed.PostTokenBalances {
		if tb.Owner == owner {
			post += tb.Amount
			ok = true
		}
	}
	return pre, post, ok
}

// mintTotals sums owner's holdings of one specific mint before and after
// the transaction.
func mintTotals(parsed *rpcclient.ParsedTransaction, owner, mint string) (pre, post uint64, ok bool) {
	for _, tb := range parsed.PreTokenBalances {
		if tb.Owner == owner && tb.Mint == mint {
			pre += tb.Amount
			ok = true
		}
	}
	for _, tb := range parsed.PostTokenBalances {
		if tb.Owner == owner && tb.Mint == mint {
			post += tb.Amount
			ok = true
		}
	}
	return pre, post, ok
}

// transferRecipient looks for another account whose holdings of mint grew
// by at least dropAmount, the signature of a same-chain wallet-to-wallet
// transfer rather than a market sell.
func transferRecipient(parsed *rpcclient.ParsedTransaction, sender, mint string, dropAmount uint64) (string, bool) {
	pre := make(map[string]uint64)
	for _, tb := range parsed.PreTokenBalances {
		if tb.Mint == mint {
			pre[tb.Owner] += tb.Amount
		}
	}
	for _, tb := range parsed.PostTokenBalances {
		if tb.Mint != mint || tb.Owner == sender || tb.Owner == "" {
			continue
		}
		preAmt := pre[tb.Owner]
		if tb.Amount <= preAmt {
			continue
		}
		if tb.Amount-preAmt >= dropAmount {
			return tb.Owner, true
		}
	}
	return "", false
}

// tokenTransfer detects owner's holdings of some mint dropping with a
// matching counterparty increase elsewhere in the same transaction.
func tokenTransfer(parsed *rpcclient.ParsedTransaction, owner string) (toWallet string, percent float64, mint string, ok bool) {
	pre := make(map[string]uint64)
	for _, tb := range parsed.PreTokenBalances {
		if tb.Owner == owner {
			pre[tb.Mint] += tb.Amount
		}
	}
	post := make(map[string]uint64)
	for _, tb := range parsed.PostTokenBalances {
		if tb.Owner == owner {
			post[tb.Mint] += tb.Amount
		}
	}
	for m, preAmt := range pre {
		postAmt := post[m]
		if preAmt <= postAmt {
			continue
		}
		drop := preAmt - postAmt
		if to, found := transferRecipient(parsed, owner, m, drop); found {
			return to, percentDelta(preAmt, postAmt), m, true
		}
	}
	return "", 0, "", false
}

// percentDelta reports the absolute percentage change from pre to post,
// treating an entirely new balance (pre=0, post>0) as a 100% change.
func percentDelta(pre, post uint64) float64 {
	if pre == 0 {
		if post == 0 {
			return 0
		}
		return 100
	}
	if post >= pre {
		return float64(post-pre) / float64(pre) * 100
	}
	return float64(pre-post) / float64(pre) * 100
}
