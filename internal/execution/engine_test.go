package execution

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"curvewarden/internal/domain"
	"curvewarden/internal/events"
	"curvewarden/internal/rpcclient"
)

type fakeRisk struct {
	approved bool
	resetCalled bool
}

func (f *fakeRisk) Evaluate(req domain.ExecutionRequest) domain.RiskCheckResult {
	if !f.approved {
		return domain.RiskCheckResult{Approved: false, Violations: []string{"blocked"}}
	}
	return domain.RiskCheckResult{Approved: true}
}
func (f *fakeRisk) ResetCooldown(positionID string) { f.resetCalled = true }

type fakePositions struct {
	positions map[string]domain.PositionState
	updated   domain.PositionUpdate
}

func (f *fakePositions) GetPosition(id string) (domain.PositionState, bool) {
	p, ok := f.positions[id]
	return p, ok
}
func (f *fakePositions) UpdatePosition(id string, upd domain.PositionUpdate) (domain.PositionState, bool) {
	p, ok := f.positions[id]
	if !ok {
		return domain.PositionState{}, false
	}
	if upd.TokenBalance != nil {
		p.TokenBalance = *upd.TokenBalance
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	f.positions[id] = p
	f.updated = upd
	return p, true
}

type fakeCurve struct {
	state domain.BondingCurveState
	err   error
}

func (f *fakeCurve) GetCurveState(ctx context.Context, curvePda string) (domain.BondingCurveState, error) {
	return f.state, f.err
}

type fakeSubmitter struct {
	sendErr    error
	confirmErr error
	sends      int
	blockhashes int
}

func (f *fakeSubmitter) GetLatestBlockhash(ctx context.Context) (rpcclient.Blockhash, error) {
	f.blockhashes++
	return rpcclient.Blockhash{LastValidBlockHeight: 1000}, nil
}
func (f *fakeSubmitter) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (rpcclient.SimulationOutcome, error) {
	return rpcclient.SimulationOutcome{}, nil
}
func (f *fakeSubmitter) SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error) {
	f.sends++
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	return solana.Signature{1, 2, 3}, nil
}
func (f *fakeSubmitter) ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error {
	return f.confirmErr
}

type fakeSigner struct{ key solana.PrivateKey }

func (f *fakeSigner) PublicKey() solana.PublicKey { return f.key.PublicKey() }
func (f *fakeSigner) Sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(f.key.PublicKey()) {
			return &f.key
		}
		return nil
	})
	return err
}

type fakeInstructions struct{ err error }

func (f *fakeInstructions) BuildSell(payer solana.PublicKey, mint, curvePda string, tokenAmount, minBaseOut uint64) ([]solana.Instruction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []solana.Instruction{
		solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{solana.NewAccountMeta(payer, true, true)}, []byte{0}),
	}, nil
}

type fakeStore struct{ results []domain.ExecutionResult }

func (f *fakeStore) SaveExecutionResult(ctx context.Context, res domain.ExecutionResult) error {
	f.results = append(f.results, res)
	return nil
}

func newTestEngine(risk *fakeRisk, positions *fakePositions, sub *fakeSubmitter, store *fakeStore) *Engine {
	curveReader := &fakeCurve{state: domain.BondingCurveState{
		VirtualBase: 30_000_000_000, VirtualToken: 1_000_000_000_000, RealBase: 30_000_000_000, RealToken: 1_000_000_000_000,
	}}
	signer := &fakeSigner{key: solana.NewWallet().PrivateKey}
	return New(risk, positions, curveReader, sub, signer, &fakeInstructions{}, store, events.New())
}

func TestExecuteRejectsOnRiskViolation(t *testing.T) {
	risk := &fakeRisk{approved: false}
	positions := &fakePositions{positions: map[string]domain.PositionState{}}
	store := &fakeStore{}
	e := newTestEngine(risk, positions, &fakeSubmitter{}, store)

	result := e.Execute(context.Background(), domain.ExecutionRequest{PositionID: "p1", Action: domain.ExecFullExit, SellPercentage: 100})
	if result.Status != domain.ExecFailed {
		t.Fatalf("expected Failed, got %v", result.Status)
	}
	if !risk.resetCalled {
		t.Fatal("expected cooldown reset on risk rejection")
	}
}

func TestExecuteFullExitClosesPosition(t *testing.T) {
	risk := &fakeRisk{approved: true}
	positions := &fakePositions{positions: map[string]domain.PositionState{
		"p1": {ID: "p1", MintAddress: "mint1", TokenBalance: 1_000_000, Status: domain.PositionOpen},
	}}
	store := &fakeStore{}
	sub := &fakeSubmitter{}
	e := newTestEngine(risk, positions, sub, store)

	result := e.Execute(context.Background(), domain.ExecutionRequest{PositionID: "p1", Action: domain.ExecFullExit, SellPercentage: 100, MaxSlippageBps: 500})
	if result.Status != domain.ExecConfirmed {
		t.Fatalf("expected Confirmed, got %v: %s", result.Status, result.ErrorMessage)
	}
	pos, _ := positions.GetPosition("p1")
	if pos.Status != domain.PositionClosed {
		t.Fatalf("expected position closed, got %v", pos.Status)
	}
	if pos.TokenBalance != 0 {
		t.Fatalf("expected zero remaining balance, got %d", pos.TokenBalance)
	}
}

func TestExecutePartialSellKeepsPositionOpen(t *testing.T) {
	risk := &fakeRisk{approved: true}
	positions := &fakePositions{positions: map[string]domain.PositionState{
		"p1": {ID: "p1", MintAddress: "mint1", TokenBalance: 1_000_000, Status: domain.PositionOpen},
	}}
	e := newTestEngine(risk, positions, &fakeSubmitter{}, &fakeStore{})

	result := e.Execute(context.Background(), domain.ExecutionRequest{PositionID: "p1", Action: domain.ExecPartialSell, SellPercentage: 50, MaxSlippageBps: 500})
	if result.Status != domain.ExecConfirmed {
		t.Fatalf("expected Confirmed, got %v: %s", result.Status, result.ErrorMessage)
	}
	pos, _ := positions.GetPosition("p1")
	if pos.Status != domain.PositionOpen {
		t.Fatalf("expected position still Open, got %v", pos.Status)
	}
	if pos.TokenBalance != 500_000 {
		t.Fatalf("expected 500000 remaining, got %d", pos.TokenBalance)
	}
}

func TestExecuteRetriesSendBeforeFailing(t *testing.T) {
	risk := &fakeRisk{approved: true}
	positions := &fakePositions{positions: map[string]domain.PositionState{
		"p1": {ID: "p1", MintAddress: "mint1", TokenBalance: 1_000_000, Status: domain.PositionOpen},
	}}
	sub := &fakeSubmitter{sendErr: context.DeadlineExceeded}
	e := newTestEngine(risk, positions, sub, &fakeStore{})

	start := time.Now()
	result := e.Execute(context.Background(), domain.ExecutionRequest{PositionID: "p1", Action: domain.ExecFullExit, SellPercentage: 100, MaxSlippageBps: 500})
	elapsed := time.Since(start)

	if result.Status != domain.ExecFailed {
		t.Fatalf("expected Failed after exhausting retries, got %v", result.Status)
	}
	if sub.sends != maxRetries {
		t.Fatalf("expected %d send attempts, got %d", maxRetries, sub.sends)
	}
	if elapsed < 1000*time.Millisecond {
		t.Fatalf("expected backoff delay between attempts, elapsed only %s", elapsed)
	}
	// one blockhash fetch for the pre-send simulation, plus one per retry attempt
	if sub.blockhashes != maxRetries+1 {
		t.Fatalf("expected blockhash refreshed on every attempt (%d fetches), got %d", maxRetries+1, sub.blockhashes)
	}
}

func TestExecuteFailsWhenPositionMissing(t *testing.T) {
	risk := &fakeRisk{approved: true}
	positions := &fakePositions{positions: map[string]domain.PositionState{}}
	e := newTestEngine(risk, positions, &fakeSubmitter{}, &fakeStore{})

	result := e.Execute(context.Background(), domain.ExecutionRequest{PositionID: "ghost", Action: domain.ExecFullExit, SellPercentage: 100})
	if result.Status != domain.ExecFailed {
		t.Fatalf("expected Failed, got %v", result.Status)
	}
}
