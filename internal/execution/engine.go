// Package execution implements the Execution Engine: the only component
// that mutates position balances and the only component that submits
// signed transactions.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"curvewarden/internal/curve"
	"curvewarden/internal/domain"
	"curvewarden/internal/events"
	"curvewarden/internal/logging"
	"curvewarden/internal/rpcclient"
)

const (
	maxRetries      = 3
	retryBaseDelayMs = 1000
)

// RiskChecker is the Risk Engine capability the Execution Engine gates on.
type RiskChecker interface {
	Evaluate(req domain.ExecutionRequest) domain.RiskCheckResult
	ResetCooldown(positionID string)
}

// Positions is the State Engine capability the Execution Engine reads and
// writes positions through.
type Positions interface {
	GetPosition(id string) (domain.PositionState, bool)
	UpdatePosition(id string, upd domain.PositionUpdate) (domain.PositionState, bool)
}

// CurveReader fetches the on-chain bonding-curve reserves for a mint.
type CurveReader interface {
	GetCurveState(ctx context.Context, curvePda string) (domain.BondingCurveState, error)
}

// Submitter is the RPC surface the Execution Engine drives a transaction
// through: blockhash, simulate, send, confirm.
type Submitter interface {
	GetLatestBlockhash(ctx context.Context) (rpcclient.Blockhash, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (rpcclient.SimulationOutcome, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error
}

// Signer produces a signed transaction from an unsigned instruction list.
// Implementations own the private key, kept process-bound rather than
// shipped over the wire.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(tx *solana.Transaction) error
}

// InstructionBuilder builds the launchpad program instruction list for a
// sell of tokenAmount against curvePda, expecting at least minBaseOut back.
// The concrete launchpad program layout is a deployment-time detail, not a
// defense-pipeline concern, so this stays an injected seam.
type InstructionBuilder interface {
	BuildSell(payer solana.PublicKey, mint, curvePda string, tokenAmount, minBaseOut uint64) ([]solana.Instruction, error)
}

// ResultStore persists the outcome of every execution attempt.
type ResultStore interface {
	SaveExecutionResult(ctx context.Context, res domain.ExecutionResult) error
}

// Engine is the Execution Engine.
type Engine struct {
	risk       RiskChecker
	positions  Positions
	curve      CurveReader
	submitter  Submitter
	signer     Signer
	instrs     InstructionBuilder
	store      ResultStore
	bus        *events.Bus
	maxSlippageBps int
}

// New constructs an Execution Engine.
func New(risk RiskChecker, positions Positions, curveReader CurveReader, submitter Submitter, signer Signer, instrs InstructionBuilder, store ResultStore, bus *events.Bus) *Engine {
	return &Engine{
		risk:      risk,
		positions: positions,
		curve:     curveReader,
		submitter: submitter,
		signer:    signer,
		instrs:    instrs,
		store:     store,
		bus:       bus,
	}
}

// Execute runs the full risk-check -> quote -> build -> simulate ->
// send-with-retry -> reconcile pipeline for one ExecutionRequest.
func (e *Engine) Execute(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
	log := logging.WithComponent("execution").WithFields(map[string]interface{}{"positionId": req.PositionID, "action": string(req.Action)})

	riskResult := e.risk.Evaluate(req)
	if !riskResult.Approved {
		e.risk.ResetCooldown(req.PositionID)
		return e.fail(ctx, req, fmt.Sprintf("risk rejected: %v", riskResult.Violations))
	}

	pos, ok := e.positions.GetPosition(req.PositionID)
	if !ok {
		e.risk.ResetCooldown(req.PositionID)
		return e.fail(ctx, req, "position not found")
	}
	if pos.Status != domain.PositionOpen {
		e.risk.ResetCooldown(req.PositionID)
		return e.fail(ctx, req, fmt.Sprintf("position is %s, not Open", pos.Status))
	}

	sellAmount := sellTokenAmount(pos.TokenBalance, req)
	if sellAmount == 0 {
		e.risk.ResetCooldown(req.PositionID)
		return e.fail(ctx, req, "computed sell amount is zero")
	}

	curveState, err := e.curve.GetCurveState(ctx, pos.MintAddress)
	if err != nil {
		e.risk.ResetCooldown(req.PositionID)
		return e.fail(ctx, req, fmt.Sprintf("curve state fetch failed: %v", err))
	}

	quote := curve.SellQuote(curveState.VirtualBase, curveState.VirtualToken, curveState.RealBase, uint64(sellAmount))
	slippageBps := req.MaxSlippageBps
	if slippageBps <= 0 {
		slippageBps = int(quote.PriceImpactBps)
	}
	minBaseOut := curve.ApplySlippage(quote.AmountOut, slippageBps, curve.Sell)

	instructions, err := e.instrs.BuildSell(e.signer.PublicKey(), pos.MintAddress, pos.MintAddress, uint64(sellAmount), minBaseOut)
	if err != nil {
		e.risk.ResetCooldown(req.PositionID)
		return e.fail(ctx, req, fmt.Sprintf("instruction build failed: %v", err))
	}

	bh, err := e.submitter.GetLatestBlockhash(ctx)
	if err != nil {
		e.risk.ResetCooldown(req.PositionID)
		return e.fail(ctx, req, fmt.Sprintf("blockhash fetch failed: %v", err))
	}

	tx, err := solana.NewTransaction(instructions, bh.Blockhash, solana.TransactionPayer(e.signer.PublicKey()))
	if err != nil {
		e.risk.ResetCooldown(req.PositionID)
		return e.fail(ctx, req, fmt.Sprintf("transaction build failed: %v", err))
	}
	if err := e.signer.Sign(tx); err != nil {
		e.risk.ResetCooldown(req.PositionID)
		return e.fail(ctx, req, fmt.Sprintf("sign failed: %v", err))
	}

	sim, err := e.submitter.SimulateTransaction(ctx, tx)
	if err != nil {
		e.risk.ResetCooldown(req.PositionID)
		return e.fail(ctx, req, fmt.Sprintf("simulation transport failed: %v", err))
	}
	if sim.Err != "" {
		log.Warn("simulation rejected", "error", sim.Err, "logs", sim.Logs)
		e.risk.ResetCooldown(req.PositionID)
		return e.failWithSimulation(ctx, req, sim.Err)
	}

	sig, err := e.sendWithRetry(ctx, instructions)
	if err != nil {
		e.risk.ResetCooldown(req.PositionID)
		return e.fail(ctx, req, fmt.Sprintf("send exhausted retries: %v", err))
	}

	result := e.reconcile(ctx, req, pos, sellAmount, quote, sig)
	log.Info("execution confirmed", "signature", sig.String(), "amountOut", quote.AmountOut)
	return result
}

// sendWithRetry sends instructions up to maxRetries times with exponential
// backoff (retryBaseDelayMs * 2^attempt). A blockhash ages out within
// seconds, so every attempt refetches one, rebuilds, and re-signs rather
// than resending a stale transaction.
func (e *Engine) sendWithRetry(ctx context.Context, instructions []solana.Instruction) (solana.Signature, error) {
	log := logging.WithComponent("execution")
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		bh, err := e.submitter.GetLatestBlockhash(ctx)
		if err != nil {
			lastErr = fmt.Errorf("blockhash fetch: %w", err)
		} else if tx, err := solana.NewTransaction(instructions, bh.Blockhash, solana.TransactionPayer(e.signer.PublicKey())); err != nil {
			lastErr = fmt.Errorf("transaction build: %w", err)
		} else if err := e.signer.Sign(tx); err != nil {
			lastErr = fmt.Errorf("sign: %w", err)
		} else if sig, err := e.submitter.SendTransaction(ctx, tx, false); err != nil {
			lastErr = err
		} else if err := e.submitter.ConfirmTransaction(ctx, sig, bh.LastValidBlockHeight); err != nil {
			lastErr = err
		} else {
			return sig, nil
		}

		if attempt == maxRetries-1 {
			break
		}
		delay := time.Duration(retryBaseDelayMs*(1<<attempt)) * time.Millisecond
		log.Warn("retrying send", "attempt", attempt+1, "delayMs", delay.Milliseconds(), "error", lastErr)
		select {
		case <-ctx.Done():
			return solana.Signature{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return solana.Signature{}, lastErr
}

func (e *Engine) reconcile(ctx context.Context, req domain.ExecutionRequest, pos domain.PositionState, sellAmount domain.Amount, quote curve.Quote, sig solana.Signature) domain.ExecutionResult {
	remaining := pos.TokenBalance - sellAmount
	status := domain.PositionOpen
	var closedAt *time.Time
	if remaining == 0 {
		status = domain.PositionClosed
		now := time.Now()
		closedAt = &now
	}
	e.positions.UpdatePosition(pos.ID, domain.PositionUpdate{
		TokenBalance: &remaining,
		Status:       &status,
		ClosedAt:     closedAt,
	})

	amountIn := sellAmount
	amountOut := domain.Amount(quote.AmountOut)
	result := domain.ExecutionResult{
		ID:          sig.String(),
		PositionID:  req.PositionID,
		Status:      domain.ExecConfirmed,
		TxSignature: sig.String(),
		AmountIn:    &amountIn,
		AmountOut:   &amountOut,
		CompletedAt: time.Now(),
	}
	if err := e.store.SaveExecutionResult(ctx, result); err != nil {
		logging.WithComponent("execution").Warn("failed to persist execution result", "error", err)
	}

	if status == domain.PositionClosed {
		e.bus.Publish(domain.InternalEvent{
			Kind:        domain.EventPositionClosed,
			MintAddress: pos.MintAddress,
			PositionID:  pos.ID,
			TimestampMs: time.Now().UnixMilli(),
		})
	}
	return result
}

func (e *Engine) fail(ctx context.Context, req domain.ExecutionRequest, reason string) domain.ExecutionResult {
	result := domain.ExecutionResult{
		ID:           fmt.Sprintf("%s-failed-%d", req.PositionID, time.Now().UnixNano()),
		PositionID:   req.PositionID,
		Status:       domain.ExecFailed,
		ErrorMessage: reason,
		CompletedAt:  time.Now(),
	}
	if err := e.store.SaveExecutionResult(ctx, result); err != nil {
		logging.WithComponent("execution").Warn("failed to persist failed execution result", "error", err)
	}
	return result
}

func (e *Engine) failWithSimulation(ctx context.Context, req domain.ExecutionRequest, simErr string) domain.ExecutionResult {
	result := e.fail(ctx, req, fmt.Sprintf("simulation failed: %s", simErr))
	result.SimulationResult = simErr
	return result
}

// sellTokenAmount computes the absolute token amount to sell from a
// request's percentage, per the FullExit=100%/PartialSell=param semantics.
func sellTokenAmount(balance domain.Amount, req domain.ExecutionRequest) domain.Amount {
	if req.Action == domain.ExecFullExit {
		return balance
	}
	pct := req.SellPercentage
	if pct <= 0 || pct > 100 {
		return 0
	}
	return domain.Amount(float64(balance) * pct / 100)
}
