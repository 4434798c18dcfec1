package ingestion

import (
	"context"
	"testing"

	"curvewarden/internal/database"
	"curvewarden/internal/domain"
	"curvewarden/internal/rpcclient"
)

type fakeTokenStore struct {
	mint string
}

func (f *fakeTokenStore) GetTrackedTokenByDeployer(ctx context.Context, deployer string) (*database.TrackedTokenRow, error) {
	if f.mint == "" {
		return nil, nil
	}
	return &database.TrackedTokenRow{MintAddress: f.mint, Deployer: deployer}, nil
}

func TestTranslateTokenBalanceChange(t *testing.T) {
	s := &Service{}
	wallet := &database.WalletRow{Address: "wallet1"}
	rec := rpcclient.SignatureRecord{Signature: "sig1", Slot: 42}
	parsed := &rpcclient.ParsedTransaction{PostTokenMints: []string{"mint1"}}

	evt := s.translate(context.Background(), wallet, rec, parsed)

	if evt.Kind != domain.EventTokenBalanceChange {
		t.Fatalf("want EventTokenBalanceChange, got %s", evt.Kind)
	}
	if evt.MintAddress != "mint1" {
		t.Fatalf("want mint1, got %s", evt.MintAddress)
	}
	if evt.Wallet != "wallet1" || evt.Signature != "sig1" || evt.Slot != 42 {
		t.Fatalf("base fields not carried through: %+v", evt)
	}
}

func TestTranslateWalletTransaction(t *testing.T) {
	s := &Service{}
	wallet := &database.WalletRow{Address: "wallet1"}
	rec := rpcclient.SignatureRecord{Signature: "sig2", Slot: 7}
	parsed := &rpcclient.ParsedTransaction{PostBalances: []uint64{1_000_000}}

	evt := s.translate(context.Background(), wallet, rec, parsed)

	if evt.Kind != domain.EventWalletTransaction {
		t.Fatalf("want EventWalletTransaction, got %s", evt.Kind)
	}
	if evt.PostBalance != domain.Amount(1_000_000) {
		t.Fatalf("want post balance 1000000, got %d", evt.PostBalance)
	}
}

func TestTranslateWalletTransactionWithNoBalances(t *testing.T) {
	s := &Service{}
	wallet := &database.WalletRow{Address: "wallet1"}
	rec := rpcclient.SignatureRecord{Signature: "sig3"}
	parsed := &rpcclient.ParsedTransaction{}

	evt := s.translate(context.Background(), wallet, rec, parsed)

	if evt.Kind != domain.EventWalletTransaction {
		t.Fatalf("want EventWalletTransaction, got %s", evt.Kind)
	}
	if evt.PostBalance != 0 {
		t.Fatalf("want zero post balance, got %d", evt.PostBalance)
	}
}

func TestTranslateDevWalletSell(t *testing.T) {
	s := &Service{tokens: &fakeTokenStore{mint: "mint1"}}
	wallet := &database.WalletRow{Address: "dev1", Label: walletRoleDev}
	rec := rpcclient.SignatureRecord{Signature: "sig4", Slot: 10}
	parsed := &rpcclient.ParsedTransaction{
		PreTokenBalances:  []rpcclient.TokenBalance{{Mint: "mint1", Owner: "dev1", Amount: 1000}},
		PostTokenBalances: []rpcclient.TokenBalance{{Mint: "mint1", Owner: "dev1", Amount: 600}},
	}

	evt := s.translate(context.Background(), wallet, rec, parsed)

	if evt.Kind != domain.EventDevWalletSell {
		t.Fatalf("want EventDevWalletSell, got %s", evt.Kind)
	}
	if evt.MintAddress != "mint1" || evt.DevWallet != "dev1" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.PercentageOfHoldings != 40 {
		t.Fatalf("want 40%% sold, got %.2f", evt.PercentageOfHoldings)
	}
}

func TestTranslateDevWalletTransfer(t *testing.T) {
	s := &Service{tokens: &fakeTokenStore{mint: "mint1"}}
	wallet := &database.WalletRow{Address: "dev1", Label: walletRoleDev}
	rec := rpcclient.SignatureRecord{Signature: "sig5", Slot: 11}
	parsed := &rpcclient.ParsedTransaction{
		PreTokenBalances: []rpcclient.TokenBalance{
			{Mint: "mint1", Owner: "dev1", Amount: 1000},
			{Mint: "mint1", Owner: "cold-wallet", Amount: 0},
		},
		PostTokenBalances: []rpcclient.TokenBalance{
			{Mint: "mint1", Owner: "dev1", Amount: 200},
			{Mint: "mint1", Owner: "cold-wallet", Amount: 800},
		},
	}

	evt := s.translate(context.Background(), wallet, rec, parsed)

	if evt.Kind != domain.EventDevWalletTransfer {
		t.Fatalf("want EventDevWalletTransfer, got %s", evt.Kind)
	}
	if evt.ToWallet != "cold-wallet" {
		t.Fatalf("want cold-wallet recipient, got %s", evt.ToWallet)
	}
}

func TestTranslateLpRemove(t *testing.T) {
	s := &Service{}
	wallet := &database.WalletRow{Address: "pool1", Label: walletRoleLP}
	rec := rpcclient.SignatureRecord{Signature: "sig6", Slot: 12}
	parsed := &rpcclient.ParsedTransaction{
		PreTokenBalances:  []rpcclient.TokenBalance{{Mint: "mint1", Owner: "pool1", Amount: 10_000}},
		PostTokenBalances: []rpcclient.TokenBalance{{Mint: "mint1", Owner: "pool1", Amount: 7_000}},
	}

	evt := s.translate(context.Background(), wallet, rec, parsed)

	if evt.Kind != domain.EventLpRemove {
		t.Fatalf("want EventLpRemove, got %s", evt.Kind)
	}
	if evt.PoolAddress != "pool1" {
		t.Fatalf("want pool1, got %s", evt.PoolAddress)
	}
	if evt.LiquidityAmount != 30 {
		t.Fatalf("want 30%% removed, got %.2f", evt.LiquidityAmount)
	}
}

func TestTranslateSupplyChange(t *testing.T) {
	s := &Service{}
	wallet := &database.WalletRow{Address: "wallet1"}
	rec := rpcclient.SignatureRecord{Signature: "sig7", Slot: 13}
	parsed := &rpcclient.ParsedTransaction{
		PreTokenBalances:  []rpcclient.TokenBalance{{Mint: "mint1", Owner: "dev1", Amount: 1_000_000}},
		PostTokenBalances: []rpcclient.TokenBalance{{Mint: "mint1", Owner: "dev1", Amount: 1_100_000}},
	}

	evt := s.translate(context.Background(), wallet, rec, parsed)

	if evt.Kind != domain.EventSupplyChange {
		t.Fatalf("want EventSupplyChange, got %s", evt.Kind)
	}
	if evt.MintAddress != "mint1" {
		t.Fatalf("want mint1, got %s", evt.MintAddress)
	}
}
