package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"curvewarden/internal/apperrors"
	"curvewarden/internal/auth"
	"curvewarden/internal/cache"
	"curvewarden/internal/curve"
	"curvewarden/internal/database"
	"curvewarden/internal/domain"
	"curvewarden/internal/execution"
	"curvewarden/internal/launchpad"
	"curvewarden/internal/logging"
	"curvewarden/internal/policy"
	"curvewarden/internal/rpcclient"
	"curvewarden/internal/state"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RateLimiter is an in-memory sliding-window limiter, one window per
// client key (remote address).
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether a request for key is within the window's limit.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds HTTP boundary configuration.
type ServerConfig struct {
	Host                 string
	Port                 int
	AllowedOrigins       string
	RateLimitPerMin      int
	MaxBodyBytes         int64
	RequestTimeout       time.Duration
	OperatorPasswordHash string
}

// Server is the HTTP API: health, policy CRUD, wallet/position/execution
// read paths, and the one mutating operation that opens a position by
// driving a buy directly against the launchpad program.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig

	repo        *database.Repository
	cacheSvc    *cache.Service
	rpc         *rpcclient.Client
	jwtManager  *auth.JWTManager
	authEnabled bool

	policyEngine *policy.Engine
	stateEngine  *state.Engine
	builder      *launchpad.Builder
	signer       execution.Signer
	walletID     string
	orchestrator DispatchMetrics

	rateLimiter *RateLimiter
}

// DispatchMetrics exposes the orchestrator's single-flight drop counter
// for the network metrics endpoint. Nil-safe: callers check for nil
// before dereferencing the interface value, not just the concrete type.
type DispatchMetrics interface {
	DroppedEvents() int64
}

// NewServer wires the HTTP boundary. jwtManager is nil when AuthConfig is
// disabled, in which case the mutating routes are left unauthenticated.
func NewServer(
	cfg ServerConfig,
	repo *database.Repository,
	cacheSvc *cache.Service,
	rpc *rpcclient.Client,
	jwtManager *auth.JWTManager,
	policyEngine *policy.Engine,
	stateEngine *state.Engine,
	builder *launchpad.Builder,
	signer execution.Signer,
	walletID string,
	orchestrator DispatchMetrics,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:       router,
		config:       cfg,
		repo:         repo,
		cacheSvc:     cacheSvc,
		rpc:          rpc,
		jwtManager:   jwtManager,
		authEnabled:  jwtManager != nil,
		policyEngine: policyEngine,
		stateEngine:  stateEngine,
		builder:      builder,
		signer:       signer,
		walletID:     walletID,
		orchestrator: orchestrator,
		rateLimiter:  NewRateLimiter(cfg.RateLimitPerMin, time.Minute),
	}

	router.Use(s.rateLimitMiddleware())
	router.Use(s.bodyLimitMiddleware())
	router.Use(s.timeoutMiddleware())

	s.setupRoutes()
	return s
}

// rateLimitMiddleware rejects requests once a client has exceeded the
// configured per-minute budget.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   string(apperrors.Validation),
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// bodyLimitMiddleware caps request bodies at config.MaxBodyBytes.
func (s *Server) bodyLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodyBytes)
		c.Next()
	}
}

// timeoutMiddleware bounds every request to config.RequestTimeout.
func (s *Server) timeoutMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.RequestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// authMiddleware gates a route behind a valid operator token, or passes
// every request through untouched if auth is disabled.
func (s *Server) authMiddleware() gin.HandlerFunc {
	if !s.authEnabled {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.Middleware(s.jwtManager)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/auth/login", s.handleLogin)

	policies := s.router.Group("/policies")
	{
		policies.GET("", s.handleListPolicies)
		policies.POST("", s.authMiddleware(), s.handleCreatePolicy)
		policies.DELETE("/:id", s.authMiddleware(), s.handleDeletePolicy)
	}

	s.router.GET("/wallets", s.handleListWallets)
	s.router.GET("/wallets/:walletId/tokens", s.handleWalletTokens)

	positions := s.router.Group("/positions")
	{
		positions.GET("", s.handleListPositions)
		positions.POST("", s.authMiddleware(), s.handleOpenPosition)
	}
	s.router.GET("/positions/:id", s.handleGetPosition)

	s.router.GET("/executions", s.handleListExecutions)
	s.router.GET("/executions/:id", s.handleGetExecution)

	s.router.GET("/metrics/network", s.handleNetworkMetrics)
}

// Start runs the HTTP server until Shutdown is called or it fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("starting HTTP server on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// writeError maps an apperrors.Kind to an HTTP status and writes the body.
func writeError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	body := gin.H{"error": string(kind), "message": err.Error()}
	var e *apperrors.Error
	if apperrors.As(err, &e) && e.Details != nil {
		body["details"] = e.Details
	}
	c.JSON(httpStatusForKind(kind), body)
}

// httpStatusForKind maps an apperrors.Kind to the HTTP status the
// boundary reports it as. Unrecognized kinds (including Internal) fall
// through to 500.
func httpStatusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.Validation:
		return http.StatusBadRequest
	case apperrors.NotFound:
		return http.StatusNotFound
	case apperrors.Conflict:
		return http.StatusConflict
	case apperrors.RiskRejection:
		return http.StatusUnprocessableEntity
	case apperrors.SimulationFailure, apperrors.TransientRPC:
		return http.StatusBadGateway
	case apperrors.FatalRPC:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleHealth aggregates a relational-store ping, a KV-store health
// check, and an RPC slot read — the three externally-reachable
// dependencies the node cannot operate without.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if err := s.repo.HealthCheck(ctx); err != nil {
		checks["database"] = "unhealthy"
		healthy = false
	} else {
		checks["database"] = "healthy"
	}

	if s.cacheSvc.IsHealthy() {
		checks["cache"] = "healthy"
	} else {
		checks["cache"] = "unhealthy"
		healthy = false
	}

	if slot, err := s.rpc.GetSlot(ctx); err != nil {
		checks["rpc"] = "unhealthy"
		healthy = false
	} else {
		checks["rpc"] = "healthy"
		checks["slot"] = slot
	}

	status := http.StatusOK
	statusText := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		statusText = "unhealthy"
	}
	checks["status"] = statusText
	c.JSON(status, checks)
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// handleLogin exchanges the operator bootstrap password for a token pair.
// There is no session store or multi-tenant user table: the hash lives in
// config, and a match mints a token the same way any other operator
// credential would.
func (s *Server) handleLogin(c *gin.Context) {
	if !s.authEnabled || s.jwtManager == nil || s.config.OperatorPasswordHash == "" {
		writeError(c, apperrors.New(apperrors.Validation, "login is not configured"))
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(apperrors.Validation, "invalid login payload", err))
		return
	}

	if !auth.VerifyPassword(s.config.OperatorPasswordHash, req.Password) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   auth.ErrUnauthorized.Code,
			"message": auth.ErrUnauthorized.Message,
		})
		return
	}

	pair, err := s.jwtManager.GenerateTokenPair(auth.OperatorClaims{Subject: "operator", Role: "operator"})
	if err != nil {
		writeError(c, apperrors.Wrap(apperrors.Internal, "generate token pair", err))
		return
	}
	c.JSON(http.StatusOK, pair)
}

// ===== POLICIES =====

func (s *Server) handleListPolicies(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	defs, err := s.repo.GetAllPolicies(ctx)
	if err != nil {
		writeError(c, apperrors.Wrap(apperrors.Internal, "list policies", err))
		return
	}
	c.JSON(http.StatusOK, defs)
}

type createPolicyRequest struct {
	Name           string               `json:"name" binding:"required"`
	Trigger        domain.TriggerKind   `json:"trigger" binding:"required"`
	Threshold      float64              `json:"threshold"`
	WindowSeconds  *int64               `json:"windowSeconds"`
	WindowBlocks   *int64               `json:"windowBlocks"`
	Action         domain.PolicyAction  `json:"action" binding:"required"`
	ActionParams   *domain.ActionParams `json:"actionParams"`
	Priority       int                  `json:"priority"`
	TrackedTokenID *string              `json:"trackedTokenId"`
}

func (s *Server) handleCreatePolicy(c *gin.Context) {
	var req createPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(apperrors.Validation, "invalid policy payload", err))
		return
	}
	if req.Threshold <= 0 {
		writeError(c, apperrors.New(apperrors.Validation, "threshold must be positive"))
		return
	}

	def := domain.PolicyDefinition{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Trigger:        req.Trigger,
		Threshold:      req.Threshold,
		WindowSeconds:  req.WindowSeconds,
		WindowBlocks:   req.WindowBlocks,
		Action:         req.Action,
		ActionParams:   req.ActionParams,
		Priority:       req.Priority,
		IsActive:       true,
		TrackedTokenID: req.TrackedTokenID,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := s.repo.CreatePolicy(ctx, &def); err != nil {
		writeError(c, apperrors.Wrap(apperrors.Internal, "create policy", err))
		return
	}
	s.policyEngine.AddPolicy(def)
	c.JSON(http.StatusCreated, def)
}

func (s *Server) handleDeletePolicy(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := s.repo.DeletePolicy(ctx, id); err != nil {
		writeError(c, apperrors.Wrap(apperrors.Internal, "delete policy", err))
		return
	}
	s.policyEngine.RemovePolicy(id)
	c.Status(http.StatusNoContent)
}

// ===== WALLETS =====

func (s *Server) handleListWallets(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	wallets, err := s.repo.GetWallets(ctx)
	if err != nil {
		writeError(c, apperrors.Wrap(apperrors.Internal, "list wallets", err))
		return
	}
	c.JSON(http.StatusOK, wallets)
}

func (s *Server) handleWalletTokens(c *gin.Context) {
	walletID := c.Param("walletId")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	tokens, err := s.repo.GetTrackedTokensForWallet(ctx, walletID)
	if err != nil {
		writeError(c, apperrors.Wrap(apperrors.Internal, "list wallet tokens", err))
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// ===== POSITIONS =====

func (s *Server) handleListPositions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	positions, err := s.repo.GetPositionHistory(ctx, 100, 0)
	if err != nil {
		writeError(c, apperrors.Wrap(apperrors.Internal, "list positions", err))
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) handleGetPosition(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	pos, err := s.repo.GetPosition(ctx, id)
	if err != nil {
		writeError(c, apperrors.Wrap(apperrors.NotFound, "position not found", err))
		return
	}
	c.JSON(http.StatusOK, pos)
}

type openPositionRequest struct {
	WalletID       string `json:"walletId" binding:"required"`
	MintAddress    string `json:"mintAddress" binding:"required"`
	CurvePda       string `json:"curvePda" binding:"required"`
	BaseAmount     uint64 `json:"baseAmountLamports" binding:"required"`
	MaxSlippageBps int    `json:"maxSlippageBps"`
}

// handleOpenPosition opens a position by driving a buy directly against
// the launchpad program: quote, build, sign, simulate, send, confirm, then
// persists the resulting position to the relational store and the State
// Engine, the same pipeline the executor-agent's Trader runs autonomously.
func (s *Server) handleOpenPosition(c *gin.Context) {
	var req openPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(apperrors.Validation, "invalid open-position payload", err))
		return
	}
	if req.MaxSlippageBps <= 0 {
		req.MaxSlippageBps = 500
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
	defer cancel()

	pos, err := s.buyAndOpenPosition(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pos)
}

func (s *Server) buyAndOpenPosition(ctx context.Context, req openPositionRequest) (*domain.PositionState, error) {
	log := logging.WithComponent("api").WithField("mint", req.MintAddress)

	curveState, err := s.rpc.GetCurveState(ctx, req.CurvePda)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TransientRPC, "curve state fetch failed", err)
	}

	payer := s.signer.PublicKey()
	quote := curve.BuyQuote(curveState.VirtualBase, curveState.VirtualToken, curveState.RealToken, req.BaseAmount)
	if quote.AmountOut == 0 {
		return nil, apperrors.New(apperrors.SimulationFailure, "buy quote returned zero tokens out")
	}
	minTokenOut := curve.ApplySlippage(quote.AmountOut, req.MaxSlippageBps, curve.Buy)

	instructions, err := s.builder.BuildBuy(payer, req.MintAddress, req.CurvePda, req.BaseAmount, minTokenOut)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "instruction build failed", err)
	}

	bh, err := s.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TransientRPC, "blockhash fetch failed", err)
	}
	tx, err := solana.NewTransaction(instructions, bh.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "transaction build failed", err)
	}
	if err := s.signer.Sign(tx); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "sign failed", err)
	}

	sim, err := s.rpc.SimulateTransaction(ctx, tx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TransientRPC, "simulation transport failed", err)
	}
	if sim.Err != "" {
		return nil, apperrors.New(apperrors.SimulationFailure, sim.Err)
	}

	sig, err := s.rpc.SendTransaction(ctx, tx, true)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TransientRPC, "send failed", err)
	}
	if err := s.rpc.ConfirmTransaction(ctx, sig, bh.LastValidBlockHeight); err != nil {
		return nil, apperrors.Wrap(apperrors.TransientRPC, "confirm failed", err)
	}

	entryPrice := float64(req.BaseAmount) / float64(quote.AmountOut)
	position := &domain.PositionState{
		ID:              uuid.NewString(),
		WalletID:        req.WalletID,
		MintAddress:     req.MintAddress,
		EntryAmountBase: float64(req.BaseAmount),
		TokenBalance:    domain.Amount(quote.AmountOut),
		EntryPrice:      &entryPrice,
		Status:          domain.PositionOpen,
		OpenedAt:        time.Now(),
	}

	if err := s.repo.CreatePosition(ctx, position); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "persist position", err)
	}
	s.stateEngine.AddPosition(*position)

	log.Info("position opened", "signature", sig.String(), "positionId", position.ID, "tokensOut", quote.AmountOut)
	return position, nil
}

// ===== EXECUTIONS =====

func (s *Server) handleListExecutions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	results, err := s.repo.GetExecutionHistory(ctx, 100, 0)
	if err != nil {
		writeError(c, apperrors.Wrap(apperrors.Internal, "list executions", err))
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleGetExecution(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	result, err := s.repo.GetExecution(ctx, id)
	if err != nil {
		writeError(c, apperrors.Wrap(apperrors.NotFound, "execution not found", err))
		return
	}
	c.JSON(http.StatusOK, result)
}

// ===== METRICS =====

// handleNetworkMetrics reports aggregate-only telemetry: counts, no
// per-wallet or per-mint detail, so the endpoint cannot leak strategy
// positioning to an observer.
func (s *Server) handleNetworkMetrics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	openPositions := s.stateEngine.GetOpenPositions()

	executions, err := s.repo.GetExecutionHistory(ctx, 1000, 0)
	if err != nil {
		writeError(c, apperrors.Wrap(apperrors.Internal, "network metrics", err))
		return
	}
	policies := s.policyEngine.ListPolicies()

	var confirmed, failed int
	for _, e := range executions {
		switch e.Status {
		case domain.ExecConfirmed:
			confirmed++
		case domain.ExecFailed:
			failed++
		}
	}

	var dropped int64
	if s.orchestrator != nil {
		dropped = s.orchestrator.DroppedEvents()
	}

	c.JSON(http.StatusOK, gin.H{
		"openPositions":       len(openPositions),
		"activePolicies":      len(policies),
		"confirmedExecutions": confirmed,
		"failedExecutions":    failed,
		"droppedEvents":       dropped,
	})
}
