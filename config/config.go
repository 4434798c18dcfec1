package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config aggregates every sub-configuration the node needs at startup.
// It is loaded once in main() and treated as read-only afterward.
type Config struct {
	Solana  SolanaConfig  `json:"solana"`
	Wallet  WalletConfig  `json:"wallet"`
	Vault   VaultConfig   `json:"vault"`
	DB      DatabaseConfig `json:"database"`
	Redis   RedisConfig   `json:"redis"`
	API     APIConfig     `json:"api"`
	Auth    AuthConfig    `json:"auth"`
	Risk    RiskConfig    `json:"risk"`
	Swarm   SwarmConfig   `json:"swarm"`
	LLM     LLMConfig     `json:"llm"`
	Node    NodeConfig    `json:"node"`
	Logging LoggingConfig `json:"logging"`
}

// SolanaConfig holds RPC/WS endpoints for the launchpad's chain.
type SolanaConfig struct {
	RPCURL            string `json:"rpc_url"`
	WSURL             string `json:"ws_url"`
	LaunchpadProgram  string `json:"launchpad_program"` // base58 program id the scout watches
	CommitmentLevel   string `json:"commitment_level"`  // "processed", "confirmed", "finalized"
}

// WalletConfig holds the single signing key source. Exactly one of
// PrivateKeyBase58 / KeypairPath is expected to be set; Vault is an
// alternative source entirely (see VaultConfig).
type WalletConfig struct {
	PrivateKeyBase58 string `json:"private_key_base58"`
	KeypairPath      string `json:"keypair_path"`
}

// VaultConfig holds optional HashiCorp Vault custody of the signing key.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	WalletPath string `json:"wallet_path"` // KV path holding the keypair secret
}

// DatabaseConfig holds the relational store connection.
type DatabaseConfig struct {
	URL             string        `json:"url"`
	MaxConns        int32         `json:"max_conns"`
	MinConns        int32         `json:"min_conns"`
	MaxConnLifetime time.Duration `json:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `json:"max_conn_idle_time"`
}

// RedisConfig holds the KV store connection shared by snapshots, the
// signal bus, and the intelligence stores.
type RedisConfig struct {
	URL      string `json:"url"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// APIConfig holds the HTTP boundary configuration.
type APIConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	AllowedOrigins  string        `json:"allowed_origins"`
	RateLimitPerMin int           `json:"rate_limit_per_min"`
	MaxBodyBytes    int64         `json:"max_body_bytes"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// AuthConfig holds JWT signing for the HTTP boundary's mutating routes.
type AuthConfig struct {
	Enabled              bool          `json:"enabled"`
	JWTSecret            string        `json:"jwt_secret"`
	AccessTokenDuration  time.Duration `json:"access_token_duration"`
	RefreshTokenDuration time.Duration `json:"refresh_token_duration"`
	OperatorPasswordHash string       `json:"operator_password_hash"`
}

// RiskConfig holds process-wide risk parameter defaults.
type RiskConfig struct {
	MaxPositionSizeBase   uint64 `json:"max_position_size_base"`
	MaxSlippageBps        int    `json:"max_slippage_bps"`
	MaxPriorityFeeBase    uint64 `json:"max_priority_fee_base"`
	ExecutionCooldownMs   int64  `json:"execution_cooldown_ms"`
}

// SwarmConfig toggles the optional six-agent cooperative swarm.
type SwarmConfig struct {
	Enabled bool `json:"enabled"`
}

// LLMConfig configures the external reasoning service client.
type LLMConfig struct {
	Provider  string `json:"provider"` // "claude", "openai", "deepseek"
	APIKey    string `json:"api_key"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
}

// NodeConfig identifies this process on the cross-node signal bus.
type NodeConfig struct {
	NodeID        string `json:"node_id"`
	ChannelPrefix string `json:"channel_prefix"`
	Env           string `json:"env"`
}

// LoggingConfig controls the process-wide structured logger.
type LoggingConfig struct {
	Level       string `json:"level"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// Load builds the Config from an optional config.json file overlaid with
// environment variables (a set env var always wins). A file value survives
// only where no env var is set and the override falls back to the current
// value: the Solana URLs and program id, the wallet key and keypair path,
// the Vault address/token/path, the database and Redis URLs, the JWT
// secret and the LLM API key. Every other field is reset to its env var or
// a built-in default, whatever the file holds, and Vault is enabled only
// by VAULT_ADDR and VAULT_WALLET_PATH in the environment. It returns a
// validation error rather than panicking on a malformed or contradictory combination.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	hasKey := cfg.Wallet.PrivateKeyBase58 != ""
	hasPath := cfg.Wallet.KeypairPath != ""
	hasVault := cfg.Vault.Enabled
	count := 0
	for _, present := range []bool{hasKey, hasPath, hasVault} {
		if present {
			count++
		}
	}
	if count == 0 {
		return fmt.Errorf("config: exactly one signing-key source required (WALLET_PRIVATE_KEY, WALLET_KEYPAIR_PATH, or Vault)")
	}
	if count > 1 {
		return fmt.Errorf("config: multiple signing-key sources configured, expected exactly one")
	}
	if cfg.Risk.MaxSlippageBps < 1 || cfg.Risk.MaxSlippageBps > 10000 {
		return fmt.Errorf("config: MAX_SLIPPAGE_BPS must be in [1,10000], got %d", cfg.Risk.MaxSlippageBps)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Solana.RPCURL = getEnvOrDefault("SOLANA_RPC_URL", cfg.Solana.RPCURL)
	cfg.Solana.WSURL = getEnvOrDefault("SOLANA_WS_URL", cfg.Solana.WSURL)
	cfg.Solana.LaunchpadProgram = getEnvOrDefault("LAUNCHPAD_PROGRAM_ID", cfg.Solana.LaunchpadProgram)
	cfg.Solana.CommitmentLevel = getEnvOrDefault("SOLANA_COMMITMENT", "confirmed")

	cfg.Wallet.PrivateKeyBase58 = getEnvOrDefault("WALLET_PRIVATE_KEY", cfg.Wallet.PrivateKeyBase58)
	cfg.Wallet.KeypairPath = getEnvOrDefault("WALLET_KEYPAIR_PATH", cfg.Wallet.KeypairPath)

	cfg.Vault.Enabled = getEnvOrDefault("VAULT_ADDR", "") != "" && getEnvOrDefault("VAULT_WALLET_PATH", "") != ""
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.WalletPath = getEnvOrDefault("VAULT_WALLET_PATH", cfg.Vault.WalletPath)

	cfg.DB.URL = getEnvOrDefault("DATABASE_URL", cfg.DB.URL)
	cfg.DB.MaxConns = int32(getEnvIntOrDefault("DATABASE_MAX_CONNS", 25))
	cfg.DB.MinConns = int32(getEnvIntOrDefault("DATABASE_MIN_CONNS", 5))
	cfg.DB.MaxConnLifetime = getEnvDurationOrDefault("DATABASE_MAX_CONN_LIFETIME", time.Hour)
	cfg.DB.MaxConnIdleTime = getEnvDurationOrDefault("DATABASE_MAX_CONN_IDLE_TIME", 30*time.Minute)

	cfg.Redis.URL = getEnvOrDefault("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 20)

	cfg.API.Host = getEnvOrDefault("API_HOST", "0.0.0.0")
	cfg.API.Port = getEnvIntOrDefault("API_PORT", 3100)
	cfg.API.AllowedOrigins = getEnvOrDefault("API_ALLOWED_ORIGINS", "*")
	cfg.API.RateLimitPerMin = getEnvIntOrDefault("API_RATE_LIMIT_PER_MIN", 100)
	cfg.API.MaxBodyBytes = int64(getEnvIntOrDefault("API_MAX_BODY_BYTES", 1<<20))
	cfg.API.RequestTimeout = getEnvDurationOrDefault("API_REQUEST_TIMEOUT", 30*time.Second)
	cfg.API.ShutdownTimeout = getEnvDurationOrDefault("API_SHUTDOWN_TIMEOUT", 30*time.Second)

	cfg.Auth.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.Enabled = cfg.Auth.JWTSecret != ""
	cfg.Auth.AccessTokenDuration = getEnvDurationOrDefault("JWT_ACCESS_TTL", 15*time.Minute)
	cfg.Auth.RefreshTokenDuration = getEnvDurationOrDefault("JWT_REFRESH_TTL", 7*24*time.Hour)
	cfg.Auth.OperatorPasswordHash = getEnvOrDefault("AUTH_OPERATOR_PASSWORD_HASH", "")

	cfg.Risk.MaxPositionSizeBase = uint64(getEnvIntOrDefault("MAX_POSITION_SIZE_SOL", 1) * 1_000_000_000)
	cfg.Risk.MaxSlippageBps = getEnvIntOrDefault("MAX_SLIPPAGE_BPS", 500)
	cfg.Risk.MaxPriorityFeeBase = uint64(getEnvIntOrDefault("MAX_PRIORITY_FEE_LAMPORTS", 1_000_000))
	cfg.Risk.ExecutionCooldownMs = int64(getEnvIntOrDefault("EXECUTION_COOLDOWN_MS", 2000))

	cfg.Swarm.Enabled = getEnvOrDefault("SWARM_ENABLED", "false") == "true"

	cfg.LLM.Provider = getEnvOrDefault("LLM_PROVIDER", "claude")
	cfg.LLM.APIKey = getEnvOrDefault("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Model = getEnvOrDefault("LLM_MODEL", "claude-sonnet-4-20250514")
	cfg.LLM.MaxTokens = getEnvIntOrDefault("LLM_MAX_TOKENS", 1024)

	cfg.Node.NodeID = getEnvOrDefault("NODE_ID", "node-1")
	cfg.Node.ChannelPrefix = getEnvOrDefault("INTEL_CHANNEL_PREFIX", "curvesentinel")
	cfg.Node.Env = getEnvOrDefault("NODE_ENV", "development")

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.Logging.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.Logging.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes a sample config.json with reasonable defaults.
func GenerateSampleConfig(filename string) error {
	sample := Config{
		Solana: SolanaConfig{
			RPCURL:           "https://api.mainnet-beta.solana.com",
			WSURL:            "wss://api.mainnet-beta.solana.com",
			LaunchpadProgram: "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P",
			CommitmentLevel:  "confirmed",
		},
		Risk: RiskConfig{
			MaxPositionSizeBase: 1_000_000_000,
			MaxSlippageBps:      500,
			MaxPriorityFeeBase:  1_000_000,
			ExecutionCooldownMs: 2000,
		},
		Swarm: SwarmConfig{Enabled: false},
		LLM: LLMConfig{
			Provider:  "claude",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
		},
		Node: NodeConfig{
			NodeID:        "node-1",
			ChannelPrefix: "curvesentinel",
			Env:           "development",
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
