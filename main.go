package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"curvewarden/config"
	"curvewarden/internal/agent"
	"curvewarden/internal/api"
	"curvewarden/internal/auth"
	"curvewarden/internal/cache"
	"curvewarden/internal/database"
	"curvewarden/internal/domain"
	"curvewarden/internal/events"
	"curvewarden/internal/execution"
	"curvewarden/internal/ingestion"
	"curvewarden/internal/intel"
	"curvewarden/internal/launchpad"
	"curvewarden/internal/llm"
	"curvewarden/internal/logging"
	"curvewarden/internal/orchestrator"
	"curvewarden/internal/policy"
	"curvewarden/internal/risk"
	"curvewarden/internal/rpcclient"
	"curvewarden/internal/signalbus"
	"curvewarden/internal/state"
	"curvewarden/internal/swarm"
	"curvewarden/internal/vault"

	"github.com/gagliardetto/solana-go"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      "stdout",
		Component:   "main",
		IncludeFile: cfg.Logging.IncludeFile,
		JSONFormat:  cfg.Logging.JSONFormat,
	}))
	logger := logging.WithComponent("main")
	logger.Info("starting curvewarden", "nodeId", cfg.Node.NodeID, "env", cfg.Node.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- relational store ---
	db, err := database.NewDB(ctx, cfg.DB)
	if err != nil {
		logger.Fatal("database connect failed", "error", err)
	}
	defer db.Close()
	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("database migration failed", "error", err)
	}
	repo := database.NewRepository(db)

	// --- KV store ---
	cacheSvc := cache.New(cache.Config{
		Address:  redisAddress(cfg.Redis.URL),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer cacheSvc.Close()

	// --- RPC context + health check ---
	rpcClient, err := rpcclient.New(ctx, cfg.Solana.RPCURL, cfg.Solana.WSURL, cfg.Solana.CommitmentLevel)
	if err != nil {
		logger.Fatal("rpc connect failed", "error", err)
	}
	defer rpcClient.Close()

	signer, err := vault.LoadSigner(ctx, cfg.Wallet, cfg.Vault)
	if err != nil {
		logger.Fatal("signing key load failed", "error", err)
	}
	walletID := signer.PublicKey().String()

	// --- shared infra container: event bus, state engine, policy engine,
	// launchpad service, risk engine, execution engine, event ingestion,
	// orchestrator ---
	bus := events.New()

	stateEngine := state.New(repo, cacheSvc, bus, "curvewarden:state:snapshot")

	policyEngine := policy.New(repo, stateEngine, bus)

	launchpadProgramID, err := solana.PublicKeyFromBase58(cfg.Solana.LaunchpadProgram)
	if err != nil {
		logger.Fatal("invalid launchpad program id", "error", err)
	}
	launchpadBuilder := launchpad.New(launchpadProgramID, signer.PublicKey())

	riskEngine := risk.New(domain.RiskParameters{
		MaxPositionSizeBase: cfg.Risk.MaxPositionSizeBase,
		MaxSlippageBps:      cfg.Risk.MaxSlippageBps,
		MaxPriorityFeeBase:  cfg.Risk.MaxPriorityFeeBase,
		ExecutionCooldownMs: cfg.Risk.ExecutionCooldownMs,
	}, stateEngine)

	executionEngine := execution.New(riskEngine, stateEngine, rpcClient, rpcClient, signer, launchpadBuilder, repo, bus)

	ingestionSvc := ingestion.New(rpcClient, repo, repo, repo, bus, 5*time.Second)

	orch := orchestrator.New(policyEngine, executionEngine, stateEngine, bus)

	// --- start core pipeline: state engine, policy engine, event
	// ingestion, orchestrator ---
	if err := stateEngine.Start(ctx); err != nil {
		logger.Fatal("state engine start failed", "error", err)
	}
	if err := policyEngine.Start(ctx); err != nil {
		logger.Fatal("policy engine start failed", "error", err)
	}
	if err := ingestionSvc.Start(ctx); err != nil {
		logger.Fatal("event ingestion start failed", "error", err)
	}
	if err := orch.Start(ctx); err != nil {
		logger.Fatal("orchestrator start failed", "error", err)
	}

	// --- optional: intelligence stores + six-agent swarm ---
	var agentSwarm *agent.Swarm
	if cfg.Swarm.Enabled {
		deployerScore := intel.NewDeployerScoreEngine(cacheSvc)
		patternDB := intel.NewPatternDatabase(cacheSvc)
		walletGraph := intel.NewWalletGraph(cacheSvc)
		signals := signalbus.New(cacheSvc, cfg.Node.ChannelPrefix, cfg.Node.NodeID)
		trader := swarm.NewTrader(rpcClient, rpcClient, signer, launchpadBuilder, stateEngine, executionEngine, walletID)
		reasoner := llm.NewClient(&llm.ClientConfig{
			Provider:    llm.Provider(cfg.LLM.Provider),
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: 0.3,
			Timeout:     30 * time.Second,
		})

		agentSwarm, _ = swarm.Build(swarm.Deps{
			Chain:               rpcClient,
			WalletGraph:         walletGraph,
			DeployerScore:       deployerScore,
			SignalBus:           signals,
			Positions:           stateEngine,
			Metrics:             stateEngine,
			Deployers:           deployerScore,
			Curve:               rpcClient,
			Rugs:                deployerScore,
			RugBus:              signals,
			Buyer:               trader,
			Seller:              trader,
			Reasoner:            reasoner,
			Patterns:            patternDB,
			Persister:           swarm.NewCachePersister(cacheSvc),
			MaxPositionSizeBase: cfg.Risk.MaxPositionSizeBase,
			LaunchpadProgramID:  cfg.Solana.LaunchpadProgram,
		})
		if err := signals.StartConsuming(ctx); err != nil {
			logger.Warn("signal bus consume start failed", "error", err)
		}
		agentSwarm.Start(ctx)
		logger.Info("swarm mode enabled")
	}

	// --- HTTP server ---
	var jwtManager *auth.JWTManager
	if cfg.Auth.Enabled {
		jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenDuration, cfg.Auth.RefreshTokenDuration)
	}

	server := api.NewServer(
		api.ServerConfig{
			Host:                 cfg.API.Host,
			Port:                 cfg.API.Port,
			AllowedOrigins:       cfg.API.AllowedOrigins,
			RateLimitPerMin:      cfg.API.RateLimitPerMin,
			MaxBodyBytes:         cfg.API.MaxBodyBytes,
			RequestTimeout:       cfg.API.RequestTimeout,
			OperatorPasswordHash: cfg.Auth.OperatorPasswordHash,
		},
		repo, cacheSvc, rpcClient, jwtManager,
		policyEngine, stateEngine, launchpadBuilder, signer, walletID,
		orch,
	)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}
	if agentSwarm != nil {
		agentSwarm.Stop(shutdownCtx)
	}
	ingestionSvc.Stop(shutdownCtx)
	stateEngine.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

// redisAddress reduces a redis:// URL (or a bare host:port) to the
// host:port form go-redis's Options.Addr expects.
func redisAddress(raw string) string {
	if raw == "" {
		return "localhost:6379"
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return raw
	}
	return opts.Addr
}
