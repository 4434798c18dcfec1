package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"curvewarden/internal/domain"

	"github.com/google/uuid"
)

// Repository is the relational-store access layer the core operates
// through. It never talks to pgxpool directly from outside this package.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// WALLETS
// ============================================================================

// CreateWallet registers a wallet address under an optional label.
func (r *Repository) CreateWallet(ctx context.Context, address, label string) (*WalletRow, error) {
	row := &WalletRow{ID: uuid.NewString(), Address: address, Label: label}
	query := `INSERT INTO wallet (id, address, label) VALUES ($1, $2, $3) RETURNING created_at`
	if err := r.db.Pool.QueryRow(ctx, query, row.ID, row.Address, row.Label).Scan(&row.CreatedAt); err != nil {
		return nil, fmt.Errorf("database: create wallet: %w", err)
	}
	return row, nil
}

// GetWallets lists every registered wallet.
func (r *Repository) GetWallets(ctx context.Context) ([]*WalletRow, error) {
	query := `SELECT id, address, label, created_at FROM wallet ORDER BY created_at DESC`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database: get wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*WalletRow
	for rows.Next() {
		w := &WalletRow{}
		if err := rows.Scan(&w.ID, &w.Address, &w.Label, &w.CreatedAt); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// GetTrackedTokensForWallet returns the distinct tokens a wallet has taken
// a position in, joining through the position table (trackedToken itself
// carries no wallet reference).
func (r *Repository) GetTrackedTokensForWallet(ctx context.Context, walletID string) ([]*TrackedTokenRow, error) {
	query := `
		SELECT DISTINCT tt.id, tt.mint_address, tt.symbol, tt.deployer, tt.launched_at, tt.created_at
		FROM tracked_token tt
		JOIN position p ON p.mint_address = tt.mint_address
		WHERE p.wallet_id = $1
		ORDER BY tt.created_at DESC
	`
	rows, err := r.db.Pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("database: get tracked tokens for wallet: %w", err)
	}
	defer rows.Close()

	var tokens []*TrackedTokenRow
	for rows.Next() {
		t := &TrackedTokenRow{}
		if err := rows.Scan(&t.ID, &t.MintAddress, &t.Symbol, &t.Deployer, &t.LaunchedAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// GetTrackedTokenByDeployer resolves the mint a dev wallet deployed, so
// ingestion can key a dev-wallet sell observation by (mint, devWallet).
func (r *Repository) GetTrackedTokenByDeployer(ctx context.Context, deployer string) (*TrackedTokenRow, error) {
	query := `
		SELECT id, mint_address, symbol, deployer, launched_at, created_at
		FROM tracked_token
		WHERE deployer = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	t := &TrackedTokenRow{}
	err := r.db.Pool.QueryRow(ctx, query, deployer).Scan(&t.ID, &t.MintAddress, &t.Symbol, &t.Deployer, &t.LaunchedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpsertTrackedToken records or updates a mint's tracking record.
func (r *Repository) UpsertTrackedToken(ctx context.Context, mint, symbol, deployer string, launchedAt *time.Time) (*TrackedTokenRow, error) {
	row := &TrackedTokenRow{ID: uuid.NewString(), MintAddress: mint, Symbol: symbol, Deployer: deployer, LaunchedAt: launchedAt}
	query := `
		INSERT INTO tracked_token (id, mint_address, symbol, deployer, launched_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (mint_address) DO UPDATE SET symbol = EXCLUDED.symbol, deployer = EXCLUDED.deployer, launched_at = EXCLUDED.launched_at
		RETURNING id, created_at
	`
	if err := r.db.Pool.QueryRow(ctx, query, row.ID, row.MintAddress, row.Symbol, row.Deployer, row.LaunchedAt).Scan(&row.ID, &row.CreatedAt); err != nil {
		return nil, fmt.Errorf("database: upsert tracked token: %w", err)
	}
	return row, nil
}

// ============================================================================
// POSITIONS
// ============================================================================

func positionFromRow(row *PositionRow) *domain.PositionState {
	return &domain.PositionState{
		ID:              row.ID,
		WalletID:        row.WalletID,
		MintAddress:     row.MintAddress,
		EntryAmountBase: row.EntryAmountBase,
		TokenBalance:    domain.Amount(row.TokenBalance),
		EntryPrice:      row.EntryPrice,
		Status:          domain.PositionStatus(row.Status),
		OpenedAt:        row.OpenedAt,
		ClosedAt:        row.ClosedAt,
	}
}

// CreatePosition persists a newly opened position.
func (r *Repository) CreatePosition(ctx context.Context, pos *domain.PositionState) error {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	query := `
		INSERT INTO position (id, wallet_id, mint_address, entry_amount_base, token_balance, entry_price, status, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		pos.ID, pos.WalletID, pos.MintAddress, pos.EntryAmountBase,
		int64(pos.TokenBalance), pos.EntryPrice, string(pos.Status), pos.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("database: create position: %w", err)
	}
	return nil
}

// UpdatePosition applies a partial mutation to an existing position.
func (r *Repository) UpdatePosition(ctx context.Context, id string, update domain.PositionUpdate) error {
	query := `
		UPDATE position
		SET token_balance = COALESCE($2, token_balance),
		    status        = COALESCE($3, status),
		    closed_at     = COALESCE($4, closed_at),
		    entry_price   = COALESCE($5, entry_price)
		WHERE id = $1
	`
	var tokenBalance *int64
	if update.TokenBalance != nil {
		v := int64(*update.TokenBalance)
		tokenBalance = &v
	}
	var status *string
	if update.Status != nil {
		s := string(*update.Status)
		status = &s
	}
	_, err := r.db.Pool.Exec(ctx, query, id, tokenBalance, status, update.ClosedAt, update.EntryPrice)
	if err != nil {
		return fmt.Errorf("database: update position %s: %w", id, err)
	}
	return nil
}

// GetPosition retrieves a single position by id.
func (r *Repository) GetPosition(ctx context.Context, id string) (*domain.PositionState, error) {
	query := `
		SELECT id, wallet_id, mint_address, entry_amount_base, token_balance, entry_price, status, opened_at, closed_at
		FROM position WHERE id = $1
	`
	row := &PositionRow{}
	var tokenBalance int64
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&row.ID, &row.WalletID, &row.MintAddress, &row.EntryAmountBase,
		&tokenBalance, &row.EntryPrice, &row.Status, &row.OpenedAt, &row.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	row.TokenBalance = uint64(tokenBalance)
	return positionFromRow(row), nil
}

// GetOpenPositions loads every position not yet Closed, for state-engine
// warm start.
func (r *Repository) GetOpenPositions(ctx context.Context) ([]*domain.PositionState, error) {
	query := `
		SELECT id, wallet_id, mint_address, entry_amount_base, token_balance, entry_price, status, opened_at, closed_at
		FROM position WHERE status != 'Closed'
		ORDER BY opened_at DESC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database: get open positions: %w", err)
	}
	defer rows.Close()

	var positions []*domain.PositionState
	for rows.Next() {
		row := &PositionRow{}
		var tokenBalance int64
		if err := rows.Scan(
			&row.ID, &row.WalletID, &row.MintAddress, &row.EntryAmountBase,
			&tokenBalance, &row.EntryPrice, &row.Status, &row.OpenedAt, &row.ClosedAt,
		); err != nil {
			return nil, err
		}
		row.TokenBalance = uint64(tokenBalance)
		positions = append(positions, positionFromRow(row))
	}
	return positions, rows.Err()
}

// LoadOpenPositions adapts GetOpenPositions to the State Engine's
// PositionStore capability, which deals in values rather than pointers.
func (r *Repository) LoadOpenPositions(ctx context.Context) ([]domain.PositionState, error) {
	positions, err := r.GetOpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PositionState, len(positions))
	for i, p := range positions {
		out[i] = *p
	}
	return out, nil
}

// GetPositionHistory lists every position, newest first, for the /positions
// GET listing.
func (r *Repository) GetPositionHistory(ctx context.Context, limit, offset int) ([]*domain.PositionState, error) {
	query := `
		SELECT id, wallet_id, mint_address, entry_amount_base, token_balance, entry_price, status, opened_at, closed_at
		FROM position
		ORDER BY opened_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("database: get position history: %w", err)
	}
	defer rows.Close()

	var positions []*domain.PositionState
	for rows.Next() {
		row := &PositionRow{}
		var tokenBalance int64
		if err := rows.Scan(
			&row.ID, &row.WalletID, &row.MintAddress, &row.EntryAmountBase,
			&tokenBalance, &row.EntryPrice, &row.Status, &row.OpenedAt, &row.ClosedAt,
		); err != nil {
			return nil, err
		}
		row.TokenBalance = uint64(tokenBalance)
		positions = append(positions, positionFromRow(row))
	}
	return positions, rows.Err()
}

// ============================================================================
// POLICIES
// ============================================================================

func policyFromRow(row *PolicyRow) *domain.PolicyDefinition {
	def := &domain.PolicyDefinition{
		ID:       row.ID,
		Name:     row.Name,
		Trigger:  domain.TriggerKind(row.TriggerType),
		Action:   domain.PolicyAction(row.Action),
		Priority: row.Priority,
		IsActive: row.Enabled,
	}
	if threshold, ok := row.Params["threshold"].(float64); ok {
		def.Threshold = threshold
	}
	if windowSeconds, ok := row.Params["windowSeconds"].(float64); ok {
		v := int64(windowSeconds)
		def.WindowSeconds = &v
	}
	if windowBlocks, ok := row.Params["windowBlocks"].(float64); ok {
		v := int64(windowBlocks)
		def.WindowBlocks = &v
	}
	if trackedTokenID, ok := row.Params["trackedTokenId"].(string); ok && trackedTokenID != "" {
		def.TrackedTokenID = &trackedTokenID
	}
	if actionParams, ok := row.Params["actionParams"].(map[string]interface{}); ok {
		ap := &domain.ActionParams{}
		if v, ok := actionParams["sellPercentage"].(float64); ok {
			ap.SellPercentage = v
		}
		if v, ok := actionParams["maxSlippageBps"].(float64); ok {
			ap.MaxSlippageBps = int(v)
		}
		if v, ok := actionParams["priorityFeeBase"].(float64); ok {
			ap.PriorityFeeBase = uint64(v)
		}
		def.ActionParams = ap
	}
	return def
}

func policyToParams(def *domain.PolicyDefinition) map[string]interface{} {
	params := map[string]interface{}{"threshold": def.Threshold}
	if def.WindowSeconds != nil {
		params["windowSeconds"] = *def.WindowSeconds
	}
	if def.WindowBlocks != nil {
		params["windowBlocks"] = *def.WindowBlocks
	}
	if def.TrackedTokenID != nil {
		params["trackedTokenId"] = *def.TrackedTokenID
	}
	if def.ActionParams != nil {
		params["actionParams"] = map[string]interface{}{
			"sellPercentage":  def.ActionParams.SellPercentage,
			"maxSlippageBps":  def.ActionParams.MaxSlippageBps,
			"priorityFeeBase": def.ActionParams.PriorityFeeBase,
		}
	}
	return params
}

// CreatePolicy persists a new policy rule.
func (r *Repository) CreatePolicy(ctx context.Context, def *domain.PolicyDefinition) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	paramsJSON, err := json.Marshal(policyToParams(def))
	if err != nil {
		return fmt.Errorf("database: marshal policy params: %w", err)
	}
	query := `
		INSERT INTO policy (id, name, trigger_type, params, action, priority, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.Pool.Exec(ctx, query, def.ID, def.Name, string(def.Trigger), paramsJSON, string(def.Action), def.Priority, def.IsActive)
	if err != nil {
		return fmt.Errorf("database: create policy: %w", err)
	}
	return nil
}

// DeletePolicy removes a policy rule.
func (r *Repository) DeletePolicy(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM policy WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("database: delete policy %s: %w", id, err)
	}
	return nil
}

// GetActivePolicies loads every enabled policy, ordered by descending
// priority, for policy-engine warm start.
func (r *Repository) GetActivePolicies(ctx context.Context) ([]*domain.PolicyDefinition, error) {
	query := `
		SELECT id, name, trigger_type, params, action, priority, enabled, created_at, updated_at
		FROM policy WHERE enabled = TRUE
		ORDER BY priority DESC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database: get active policies: %w", err)
	}
	defer rows.Close()

	var defs []*domain.PolicyDefinition
	for rows.Next() {
		row := &PolicyRow{}
		var paramsJSON []byte
		if err := rows.Scan(&row.ID, &row.Name, &row.TriggerType, &paramsJSON, &row.Action, &row.Priority, &row.Enabled, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, err
		}
		if len(paramsJSON) > 0 {
			if err := json.Unmarshal(paramsJSON, &row.Params); err != nil {
				return nil, err
			}
		}
		defs = append(defs, policyFromRow(row))
	}
	return defs, rows.Err()
}

// LoadActivePolicies adapts GetActivePolicies to the Policy Engine's Store
// capability, which deals in values rather than pointers.
func (r *Repository) LoadActivePolicies(ctx context.Context) ([]domain.PolicyDefinition, error) {
	defs, err := r.GetActivePolicies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PolicyDefinition, len(defs))
	for i, d := range defs {
		out[i] = *d
	}
	return out, nil
}

// GetAllPolicies lists every policy regardless of enabled state, for the
// GET /policies listing.
func (r *Repository) GetAllPolicies(ctx context.Context) ([]*domain.PolicyDefinition, error) {
	query := `
		SELECT id, name, trigger_type, params, action, priority, enabled, created_at, updated_at
		FROM policy ORDER BY priority DESC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database: get all policies: %w", err)
	}
	defer rows.Close()

	var defs []*domain.PolicyDefinition
	for rows.Next() {
		row := &PolicyRow{}
		var paramsJSON []byte
		if err := rows.Scan(&row.ID, &row.Name, &row.TriggerType, &paramsJSON, &row.Action, &row.Priority, &row.Enabled, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, err
		}
		if len(paramsJSON) > 0 {
			if err := json.Unmarshal(paramsJSON, &row.Params); err != nil {
				return nil, err
			}
		}
		defs = append(defs, policyFromRow(row))
	}
	return defs, rows.Err()
}

// ============================================================================
// EXECUTIONS
// ============================================================================

// CreateExecution persists an execution result.
func (r *Repository) CreateExecution(ctx context.Context, positionID string, action domain.ExecutionAction, result *domain.ExecutionResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	var completedAt *time.Time
	if !result.CompletedAt.IsZero() {
		completedAt = &result.CompletedAt
	}
	query := `
		INSERT INTO execution (id, position_id, action, status, tx_signature, error_message, requested_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		result.ID, positionID, string(action), string(result.Status),
		result.TxSignature, result.ErrorMessage, time.Now(), completedAt,
	)
	if err != nil {
		return fmt.Errorf("database: create execution: %w", err)
	}
	return nil
}

// SaveExecutionResult persists an execution outcome reported directly by the
// execution engine, which tracks everything about a fill except which policy
// action produced it. It satisfies execution.ResultStore.
func (r *Repository) SaveExecutionResult(ctx context.Context, result domain.ExecutionResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	var completedAt *time.Time
	if !result.CompletedAt.IsZero() {
		completedAt = &result.CompletedAt
	}
	query := `
		INSERT INTO execution (id, position_id, action, status, tx_signature, error_message, requested_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, tx_signature = EXCLUDED.tx_signature,
			error_message = EXCLUDED.error_message, completed_at = EXCLUDED.completed_at
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		result.ID, result.PositionID, "", string(result.Status),
		result.TxSignature, result.ErrorMessage, time.Now(), completedAt,
	)
	if err != nil {
		return fmt.Errorf("database: save execution result: %w", err)
	}
	return nil
}

func executionFromRow(row *ExecutionRow) *domain.ExecutionResult {
	result := &domain.ExecutionResult{
		ID:           row.ID,
		PositionID:   row.PositionID,
		Status:       domain.ExecutionStatus(row.Status),
		TxSignature:  row.TxSignature,
		ErrorMessage: row.ErrorMessage,
	}
	if row.CompletedAt != nil {
		result.CompletedAt = *row.CompletedAt
	}
	return result
}

// GetExecution retrieves a single execution by id.
func (r *Repository) GetExecution(ctx context.Context, id string) (*domain.ExecutionResult, error) {
	query := `
		SELECT id, position_id, action, status, tx_signature, error_message, requested_at, completed_at
		FROM execution WHERE id = $1
	`
	row := &ExecutionRow{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&row.ID, &row.PositionID, &row.Action, &row.Status, &row.TxSignature, &row.ErrorMessage, &row.RequestedAt, &row.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return executionFromRow(row), nil
}

// GetExecutionHistory lists executions newest first, for the GET
// /executions listing.
func (r *Repository) GetExecutionHistory(ctx context.Context, limit, offset int) ([]*domain.ExecutionResult, error) {
	query := `
		SELECT id, position_id, action, status, tx_signature, error_message, requested_at, completed_at
		FROM execution
		ORDER BY requested_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("database: get execution history: %w", err)
	}
	defer rows.Close()

	var results []*domain.ExecutionResult
	for rows.Next() {
		row := &ExecutionRow{}
		if err := rows.Scan(&row.ID, &row.PositionID, &row.Action, &row.Status, &row.TxSignature, &row.ErrorMessage, &row.RequestedAt, &row.CompletedAt); err != nil {
			return nil, err
		}
		results = append(results, executionFromRow(row))
	}
	return results, rows.Err()
}

// ============================================================================
// EVENT LOG
// ============================================================================

// AppendEventLog durably records one ingested InternalEvent.
func (r *Repository) AppendEventLog(ctx context.Context, event domain.InternalEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("database: marshal event payload: %w", err)
	}
	query := `
		INSERT INTO event_log (id, event_type, slot, signature, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	occurredAt := time.UnixMilli(event.TimestampMs)
	_, err = r.db.Pool.Exec(ctx, query, event.ID, string(event.Kind), event.Slot, event.Signature, payload, occurredAt)
	if err != nil {
		return fmt.Errorf("database: append event log: %w", err)
	}
	return nil
}

// GetRecentEvents retrieves the most recent logged events, for
// cmd/analyze-signals replay and operator inspection.
func (r *Repository) GetRecentEvents(ctx context.Context, limit int) ([]domain.InternalEvent, error) {
	query := `
		SELECT payload FROM event_log
		ORDER BY occurred_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("database: get recent events: %w", err)
	}
	defer rows.Close()

	var events []domain.InternalEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var event domain.InternalEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
