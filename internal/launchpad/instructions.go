// Package launchpad builds the program instructions the Execution Engine
// needs to submit a sell against a bonding-curve launchpad program. The
// exact account layout is a deployment-time detail (which launchpad
// program, which PDA derivation) the defense pipeline does not need to
// know about beyond this seam.
package launchpad

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"curvewarden/internal/apperrors"
)

// sellDiscriminator and buyDiscriminator are the instruction's first byte
// on the wire. Real launchpad programs use an 8-byte Anchor discriminator;
// a single byte keeps the sample builder readable without pulling in
// borsh codegen.
const (
	sellDiscriminator = 0x02
	buyDiscriminator  = 0x01
)

// Builder builds instructions against one fixed launchpad program id.
type Builder struct {
	ProgramID          solana.PublicKey
	FeeRecipient       solana.PublicKey
	AssociatedTokenProg solana.PublicKey
}

// New constructs a Builder targeting programID, with protocol fees routed
// to feeRecipient.
func New(programID, feeRecipient solana.PublicKey) *Builder {
	return &Builder{
		ProgramID:           programID,
		FeeRecipient:        feeRecipient,
		AssociatedTokenProg: solana.SPLAssociatedTokenAccountProgramID,
	}
}

// BuildSell returns the instruction list for a sell of tokenAmount tokens
// of mint against its bonding-curve PDA, enforcing minBaseOut on-chain.
func (b *Builder) BuildSell(payer solana.PublicKey, mint, curvePda string, tokenAmount, minBaseOut uint64) ([]solana.Instruction, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Validation, "invalid mint address", err)
	}
	curveKey, err := solana.PublicKeyFromBase58(curvePda)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Validation, "invalid curve pda", err)
	}

	payerATA, _, err := solana.FindAssociatedTokenAddress(payer, mintKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "derive associated token account", err)
	}

	data := make([]byte, 17)
	data[0] = sellDiscriminator
	binary.LittleEndian.PutUint64(data[1:9], tokenAmount)
	binary.LittleEndian.PutUint64(data[9:17], minBaseOut)

	ix := solana.NewInstruction(
		b.ProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(curveKey, true, false),
			solana.NewAccountMeta(mintKey, false, false),
			solana.NewAccountMeta(payer, true, true),
			solana.NewAccountMeta(payerATA, true, false),
			solana.NewAccountMeta(b.FeeRecipient, true, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
		},
		data,
	)

	return []solana.Instruction{ix}, nil
}

// BuildBuy returns the instruction list for a buy of baseAmount lamports of
// base currency into mint's bonding curve, enforcing minTokenOut on-chain.
// Used by the executor-agent's entry path, which is otherwise symmetric
// with BuildSell.
func (b *Builder) BuildBuy(payer solana.PublicKey, mint, curvePda string, baseAmount, minTokenOut uint64) ([]solana.Instruction, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Validation, "invalid mint address", err)
	}
	curveKey, err := solana.PublicKeyFromBase58(curvePda)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Validation, "invalid curve pda", err)
	}

	payerATA, _, err := solana.FindAssociatedTokenAddress(payer, mintKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "derive associated token account", err)
	}

	data := make([]byte, 17)
	data[0] = buyDiscriminator
	binary.LittleEndian.PutUint64(data[1:9], baseAmount)
	binary.LittleEndian.PutUint64(data[9:17], minTokenOut)

	ix := solana.NewInstruction(
		b.ProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(curveKey, true, false),
			solana.NewAccountMeta(mintKey, false, false),
			solana.NewAccountMeta(payer, true, true),
			solana.NewAccountMeta(payerATA, true, false),
			solana.NewAccountMeta(b.FeeRecipient, true, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
			solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		},
		data,
	)

	return []solana.Instruction{ix}, nil
}
