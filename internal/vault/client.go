// Package vault holds the process's single Solana signing key and,
// optionally, custodies it in HashiCorp Vault instead of loading it
// directly from the environment or a keypair file.
package vault

import (
	"context"
	"fmt"

	"curvewarden/config"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/gagliardetto/solana-go"
)

// Client wraps the HashiCorp Vault client for reading the signing-key
// secret at startup. It is never kept in the hot path: the key is read
// once and held in memory by the WalletSigner it produces.
type Client struct {
	api *vaultapi.Client
	cfg config.VaultConfig
}

// NewClient connects to Vault using the given configuration. Callers must
// check cfg.Enabled before constructing one; an unconfigured Client has no
// valid use.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	vc := vaultapi.DefaultConfig()
	vc.Address = cfg.Address

	client, err := vaultapi.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("vault: create client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{api: client, cfg: cfg}, nil
}

// Health checks that Vault is reachable and unsealed.
func (c *Client) Health(ctx context.Context) error {
	health, err := c.api.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault: health check: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault: sealed")
	}
	return nil
}

// LoadKeypair reads the signing-key secret at cfg.WalletPath and decodes
// it into a solana.PrivateKey. The secret is expected to carry either a
// "private_key" or a "keypair" field, both base58-encoded.
func (c *Client) LoadKeypair(ctx context.Context) (solana.PrivateKey, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, c.cfg.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("vault: read wallet secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault: no secret at %s", c.cfg.WalletPath)
	}

	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested // KV v2 mount wraps the payload under "data"
	}

	if raw, ok := data["private_key"].(string); ok && raw != "" {
		key, err := solana.PrivateKeyFromBase58(raw)
		if err != nil {
			return nil, fmt.Errorf("vault: decode private_key: %w", err)
		}
		return key, nil
	}

	if raw, ok := data["keypair"].(string); ok && raw != "" {
		key, err := solana.PrivateKeyFromBase58(raw)
		if err != nil {
			return nil, fmt.Errorf("vault: decode keypair: %w", err)
		}
		return key, nil
	}

	return nil, fmt.Errorf("vault: secret at %s carries neither private_key nor keypair", c.cfg.WalletPath)
}
