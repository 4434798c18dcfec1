package swarm

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"curvewarden/internal/curve"
	"curvewarden/internal/domain"
	"curvewarden/internal/execution"
	"curvewarden/internal/logging"
)

// ExecutorInstructionBuilder builds the launchpad program's buy
// instruction. The launchpad package's Builder satisfies this directly.
type ExecutorInstructionBuilder interface {
	BuildBuy(payer solana.PublicKey, mint, curvePda string, baseAmount, minTokenOut uint64) ([]solana.Instruction, error)
}

// ExecutorPositions is the State Engine write capability the executor-agent
// uses to open a new position after a confirmed buy.
type ExecutorPositions interface {
	AddPosition(p domain.PositionState)
}

// Trader is the executor-agent's default ExecutorBuyer/ExecutorSeller:
// buys drive the launchpad program directly (the same RPC/curve math the
// Execution Engine uses for sells), sells delegate to the Execution Engine
// so every position mutation still funnels through its one write path.
type Trader struct {
	curve     execution.CurveReader
	submitter execution.Submitter
	signer    execution.Signer
	instrs    ExecutorInstructionBuilder
	positions ExecutorPositions
	engine    *execution.Engine
	walletID  string
}

// NewTrader constructs a Trader. engine is the Execution Engine threat
// exits are routed through.
func NewTrader(curveReader execution.CurveReader, submitter execution.Submitter, signer execution.Signer, instrs ExecutorInstructionBuilder, positions ExecutorPositions, engine *execution.Engine, walletID string) *Trader {
	return &Trader{
		curve:     curveReader,
		submitter: submitter,
		signer:    signer,
		instrs:    instrs,
		positions: positions,
		engine:    engine,
		walletID:  walletID,
	}
}

// Buy executes an enter plan: quote, build, simulate, send, confirm, then
// opens a new position at the confirmed token amount.
func (t *Trader) Buy(ctx context.Context, plan domain.ExecutionPlan) (domain.ExecutionResult, error) {
	log := logging.WithComponent("executor-agent").WithField("mint", plan.Mint)

	curveState, err := t.curve.GetCurveState(ctx, plan.Mint)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("curve state fetch failed: %w", err)
	}

	quote := curve.BuyQuote(curveState.VirtualBase, curveState.VirtualToken, curveState.RealToken, plan.BaseAmount)
	if quote.AmountOut == 0 {
		return domain.ExecutionResult{}, fmt.Errorf("buy quote returned zero tokens out")
	}
	minTokenOut := curve.ApplySlippage(quote.AmountOut, plan.MaxSlippageBps, curve.Buy)

	instructions, err := t.instrs.BuildBuy(t.signer.PublicKey(), plan.Mint, plan.Mint, plan.BaseAmount, minTokenOut)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("instruction build failed: %w", err)
	}

	bh, err := t.submitter.GetLatestBlockhash(ctx)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("blockhash fetch failed: %w", err)
	}
	tx, err := solana.NewTransaction(instructions, bh.Blockhash, solana.TransactionPayer(t.signer.PublicKey()))
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("transaction build failed: %w", err)
	}
	if err := t.signer.Sign(tx); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("sign failed: %w", err)
	}

	sim, err := t.submitter.SimulateTransaction(ctx, tx)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("simulation transport failed: %w", err)
	}
	if sim.Err != "" {
		return domain.ExecutionResult{}, fmt.Errorf("simulation rejected: %s", sim.Err)
	}

	sig, err := t.submitter.SendTransaction(ctx, tx, true)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("send failed: %w", err)
	}
	if err := t.submitter.ConfirmTransaction(ctx, sig, bh.LastValidBlockHeight); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("confirm failed: %w", err)
	}

	entryPrice := float64(plan.BaseAmount) / float64(quote.AmountOut)
	position := domain.PositionState{
		ID:              fmt.Sprintf("%s-%d", plan.Mint, time.Now().UnixNano()),
		WalletID:        t.walletID,
		MintAddress:     plan.Mint,
		EntryAmountBase: float64(plan.BaseAmount),
		TokenBalance:    domain.Amount(quote.AmountOut),
		EntryPrice:      &entryPrice,
		Status:          domain.PositionOpen,
		OpenedAt:        time.Now(),
	}
	t.positions.AddPosition(position)

	amountIn := domain.Amount(plan.BaseAmount)
	amountOut := domain.Amount(quote.AmountOut)
	log.Info("buy confirmed", "signature", sig.String(), "positionId", position.ID, "tokensOut", quote.AmountOut)
	return domain.ExecutionResult{
		ID:          sig.String(),
		PositionID:  position.ID,
		Status:      domain.ExecConfirmed,
		TxSignature: sig.String(),
		AmountIn:    &amountIn,
		AmountOut:   &amountOut,
		CompletedAt: time.Now(),
	}, nil
}

// Sell routes a sentinel-raised ThreatExit through the Execution Engine,
// keeping the threat-exit path on the same write path as every
// policy-triggered exit.
func (t *Trader) Sell(ctx context.Context, threat domain.ThreatExit) (domain.ExecutionResult, error) {
	action := domain.ExecPartialSell
	if threat.Action == "full_exit" {
		action = domain.ExecFullExit
	}
	result := t.engine.Execute(ctx, domain.ExecutionRequest{
		PositionID:     threat.PositionID,
		Action:         action,
		SellPercentage: threat.SellPercentage,
	})
	if result.Status != domain.ExecConfirmed {
		return result, fmt.Errorf("threat exit failed: %s", result.ErrorMessage)
	}
	return result, nil
}
