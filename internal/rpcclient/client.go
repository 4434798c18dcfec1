// Package rpcclient wraps github.com/gagliardetto/solana-go with the RPC
// surface the core needs. Every call is wrapped by a circuit breaker
// retargeted to transport failures rather than the reference's PnL-loss
// breaker (see internal/circuit).
package rpcclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"

	"curvewarden/internal/apperrors"
	"curvewarden/internal/circuit"
	"curvewarden/internal/domain"
)

// Client wraps an RPC + subscription connection pair behind the surface
// the core actually calls: blockhash/simulate/send/confirm, account reads,
// and signature history for the scout.
type Client struct {
	rpcClient *rpc.Client
	wsClient  *ws.Client
	commitment rpc.CommitmentType
	breaker   *circuit.Breaker
}

// New connects the RPC client and, if wsURL is non-empty, the WS
// subscription client. It performs one health check (GetHealth) at startup
// and returns a FatalRpc apperrors.Error if the endpoint is unreachable.
func New(ctx context.Context, rpcURL, wsURL, commitment string) (*Client, error) {
	c := &Client{
		rpcClient:  rpc.New(rpcURL),
		commitment: rpc.CommitmentType(commitment),
		breaker:    circuit.New(circuit.DefaultConfig()),
	}

	if _, err := c.rpcClient.GetHealth(ctx); err != nil {
		return nil, apperrors.Wrap(apperrors.FatalRPC, "rpc health check failed", err)
	}

	if wsURL != "" {
		wsClient, err := ws.Connect(ctx, wsURL)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.FatalRPC, "ws connect failed", err)
		}
		c.wsClient = wsClient
	}

	return c, nil
}

// Close tears down the WS subscription connection, if any.
func (c *Client) Close() {
	if c.wsClient != nil {
		c.wsClient.Close()
	}
}

func (c *Client) guard(ctx context.Context, op string, fn func() error) error {
	if allow, reason := c.breaker.Allow(); !allow {
		return apperrors.Wrap(apperrors.TransientRPC, fmt.Sprintf("%s: circuit open", op), fmt.Errorf(reason))
	}
	err := fn()
	if err != nil {
		c.breaker.RecordFailure()
		return apperrors.Wrap(apperrors.TransientRPC, op, err)
	}
	c.breaker.RecordSuccess()
	return nil
}

// Blockhash is the (blockhash, lastValidBlockHeight) pair execution needs
// to build and periodically refresh a transaction.
type Blockhash struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// GetLatestBlockhash fetches the current blockhash and its expiry height.
func (c *Client) GetLatestBlockhash(ctx context.Context) (Blockhash, error) {
	var out Blockhash
	err := c.guard(ctx, "GetLatestBlockhash", func() error {
		res, err := c.rpcClient.GetLatestBlockhash(ctx, c.commitment)
		if err != nil {
			return err
		}
		out.Blockhash = res.Value.Blockhash
		out.LastValidBlockHeight = res.Value.LastValidBlockHeight
		return nil
	})
	return out, err
}

// SimulationOutcome is the subset of a simulated transaction's response
// the Execution Engine acts on.
type SimulationOutcome struct {
	Err  string
	Logs []string
}

// SimulateTransaction simulates a signed transaction without submitting it.
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (SimulationOutcome, error) {
	var out SimulationOutcome
	err := c.guard(ctx, "SimulateTransaction", func() error {
		res, err := c.rpcClient.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
			Commitment: c.commitment,
		})
		if err != nil {
			return err
		}
		if res.Value.Err != nil {
			out.Err = fmt.Sprintf("%v", res.Value.Err)
		}
		out.Logs = res.Value.Logs
		return nil
	})
	return out, err
}

// SendTransaction submits a signed transaction and returns its signature.
// skipPreflight matches the caller's retry strategy: the execution engine
// uses false with its own retry loop, the executor-agent's buy path uses
// true.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error) {
	var sig solana.Signature
	err := c.guard(ctx, "SendTransaction", func() error {
		s, err := c.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       skipPreflight,
			PreflightCommitment: c.commitment,
			MaxRetries:          newUint(0),
		})
		if err != nil {
			return err
		}
		sig = s
		return nil
	})
	return sig, err
}

// ConfirmTransaction polls signature status until confirmed, failed, or
// lastValidBlockHeight is exceeded.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error {
	for {
		var done bool
		var confirmErr error
		err := c.guard(ctx, "GetSignatureStatuses", func() error {
			res, err := c.rpcClient.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				return err
			}
			if len(res.Value) == 0 || res.Value[0] == nil {
				return nil
			}
			status := res.Value[0]
			if status.Err != nil {
				confirmErr = fmt.Errorf("transaction failed on-chain: %v", status.Err)
				done = true
				return nil
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				done = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if confirmErr != nil {
			return apperrors.Wrap(apperrors.TransientRPC, "confirm", confirmErr)
		}
		if done {
			return nil
		}

		height, herr := c.getBlockHeight(ctx)
		if herr == nil && height > lastValidBlockHeight {
			return apperrors.New(apperrors.TransientRPC, "lastValidBlockHeight exceeded before confirmation")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (c *Client) getBlockHeight(ctx context.Context) (uint64, error) {
	var h uint64
	err := c.guard(ctx, "GetBlockHeight", func() error {
		v, err := c.rpcClient.GetBlockHeight(ctx, c.commitment)
		if err != nil {
			return err
		}
		h = v
		return nil
	})
	return h, err
}

// GetSlot fetches the cluster's current slot, used by the /health endpoint
// to report chain liveness alongside the relational and KV store checks.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := c.guard(ctx, "GetSlot", func() error {
		v, err := c.rpcClient.GetSlot(ctx, c.commitment)
		if err != nil {
			return err
		}
		slot = v
		return nil
	})
	return slot, err
}

// GetAccountInfo fetches raw account data for a base58 address.
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*rpc.Account, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Validation, "invalid address", err)
	}
	var out *rpc.Account
	err = c.guard(ctx, "GetAccountInfo", func() error {
		res, err := c.rpcClient.GetAccountInfo(ctx, pk)
		if err != nil {
			return err
		}
		out = res.Value
		return nil
	})
	return out, err
}

// SignatureRecord is one entry of the launchpad program's recent
// signature history, as consumed by the scout agent.
type SignatureRecord struct {
	Signature string
	Slot      uint64
	Err       bool
}

// GetSignaturesForAddress returns the most recent signatures that touched
// address (the launchpad program id, for the scout), newest first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureRecord, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Validation, "invalid address", err)
	}
	var out []SignatureRecord
	err = c.guard(ctx, "GetSignaturesForAddress", func() error {
		res, err := c.rpcClient.GetSignaturesForAddressWithOpts(ctx, pk, &rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: c.commitment,
		})
		if err != nil {
			return err
		}
		for _, s := range res {
			out = append(out, SignatureRecord{Signature: s.Signature.String(), Slot: s.Slot, Err: s.Err != nil})
		}
		return nil
	})
	return out, err
}

// TokenBalance is one token-account entry from a transaction's pre/post
// balance snapshot: which mint, who owns the account, and the raw
// base-unit amount held at that point.
type TokenBalance struct {
	Mint   string
	Owner  string
	Amount uint64
}

// ParsedTransaction is the subset of a fetched transaction ingestion,
// the scout, and the analyst need: the fee payer (deployer), the
// mint(s) touched, and enough of the pre/post balance snapshot to derive
// a sell, transfer, liquidity change, or supply change by comparing the
// two sides.
type ParsedTransaction struct {
	Signature         string
	Slot              uint64
	FeePayer          string
	AccountKeys       []string
	PreBalances       []uint64
	PostBalances      []uint64
	PostTokenMints    []string
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// GetParsedTransaction fetches and lightly parses a confirmed transaction.
func (c *Client) GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Validation, "invalid signature", err)
	}

	var out *ParsedTransaction
	maxVersion := uint64(0)
	err = c.guard(ctx, "GetTransaction", func() error {
		res, err := c.rpcClient.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Commitment:                     c.commitment,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err != nil {
			return err
		}
		if res == nil || res.Transaction == nil {
			return fmt.Errorf("transaction %s not found", signature)
		}

		parsed := &ParsedTransaction{Signature: signature, Slot: res.Slot}
		tx, decodeErr := res.Transaction.GetTransaction()
		if decodeErr == nil && tx != nil {
			for _, k := range tx.Message.AccountKeys {
				parsed.AccountKeys = append(parsed.AccountKeys, k.String())
			}
			if len(parsed.AccountKeys) > 0 {
				parsed.FeePayer = parsed.AccountKeys[0]
			}
		}
		if res.Meta != nil {
			for _, b := range res.Meta.PreBalances {
				parsed.PreBalances = append(parsed.PreBalances, b)
			}
			for _, b := range res.Meta.PostBalances {
				parsed.PostBalances = append(parsed.PostBalances, b)
			}
			for _, tb := range res.Meta.PreTokenBalances {
				parsed.PreTokenBalances = append(parsed.PreTokenBalances, tokenBalanceFromMeta(tb))
			}
			for _, tb := range res.Meta.PostTokenBalances {
				parsed.PostTokenMints = append(parsed.PostTokenMints, tb.Mint.String())
				parsed.PostTokenBalances = append(parsed.PostTokenBalances, tokenBalanceFromMeta(tb))
			}
		}
		out = parsed
		return nil
	})
	return out, err
}

func tokenBalanceFromMeta(tb rpc.TokenBalance) TokenBalance {
	out := TokenBalance{Mint: tb.Mint.String(), Owner: tb.Owner.String()}
	if tb.UiTokenAmount != nil {
		if amt, err := strconv.ParseUint(tb.UiTokenAmount.Amount, 10, 64); err == nil {
			out.Amount = amt
		}
	}
	return out
}

// GetCurveState reads and decodes the bonding-curve account for a mint's
// associated PDA. The actual account layout is program-specific; this
// adapts the raw bytes into the domain's integer reserve model.
func (c *Client) GetCurveState(ctx context.Context, curvePda string) (domain.BondingCurveState, error) {
	acc, err := c.GetAccountInfo(ctx, curvePda)
	if err != nil {
		return domain.BondingCurveState{}, err
	}
	if acc == nil || len(acc.Data.GetBinary()) < 49 {
		return domain.BondingCurveState{}, apperrors.New(apperrors.NotFound, "bonding curve account not found or malformed")
	}
	return decodeCurveAccount(acc.Data.GetBinary())
}

func decodeCurveAccount(data []byte) (domain.BondingCurveState, error) {
	// Layout (little-endian, post-discriminator): virtualToken(8)
	// virtualBase(8) realToken(8) realBase(8) tokenTotalSupply(8)
	// complete(1).
	le := func(b []byte) uint64 {
		var v uint64
		for i := 7; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
		return v
	}
	if len(data) < 8+40+1 {
		return domain.BondingCurveState{}, apperrors.New(apperrors.Internal, "curve account too short")
	}
	off := 8
	return domain.BondingCurveState{
		VirtualToken:     le(data[off : off+8]),
		VirtualBase:      le(data[off+8 : off+16]),
		RealToken:        le(data[off+16 : off+24]),
		RealBase:         le(data[off+24 : off+32]),
		TokenTotalSupply: le(data[off+32 : off+40]),
		Complete:         data[off+40] != 0,
	}, nil
}

func newUint(v uint) *uint { return &v }
