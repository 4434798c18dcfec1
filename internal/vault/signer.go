package vault

import (
	"context"
	"fmt"

	"curvewarden/config"

	"github.com/gagliardetto/solana-go"
)

// WalletSigner implements execution.Signer over a single in-memory
// solana.PrivateKey. This is the only signing-key custody this process
// does: one key, held for the process lifetime, never rotated.
type WalletSigner struct {
	key solana.PrivateKey
}

// PublicKey returns the wallet's public key.
func (s *WalletSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

// Sign signs every signer slot in tx that matches the held key.
func (s *WalletSigner) Sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("vault: sign transaction: %w", err)
	}
	return nil
}

// LoadSigner resolves the configured signing-key source into a
// WalletSigner. Exactly one of Vault, WALLET_PRIVATE_KEY, or
// WALLET_KEYPAIR_PATH is expected to be set; config.Load already enforces
// this, so any other combination reaching here is a programming error.
func LoadSigner(ctx context.Context, wallet config.WalletConfig, vaultCfg config.VaultConfig) (*WalletSigner, error) {
	switch {
	case vaultCfg.Enabled:
		client, err := NewClient(vaultCfg)
		if err != nil {
			return nil, err
		}
		key, err := client.LoadKeypair(ctx)
		if err != nil {
			return nil, err
		}
		return &WalletSigner{key: key}, nil

	case wallet.PrivateKeyBase58 != "":
		key, err := solana.PrivateKeyFromBase58(wallet.PrivateKeyBase58)
		if err != nil {
			return nil, fmt.Errorf("vault: decode WALLET_PRIVATE_KEY: %w", err)
		}
		return &WalletSigner{key: key}, nil

	case wallet.KeypairPath != "":
		key, err := solana.PrivateKeyFromSolanaKeygenFile(wallet.KeypairPath)
		if err != nil {
			return nil, fmt.Errorf("vault: read WALLET_KEYPAIR_PATH: %w", err)
		}
		return &WalletSigner{key: key}, nil
	}

	return nil, fmt.Errorf("vault: no signing-key source configured")
}
