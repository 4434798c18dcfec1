package database

import (
	"context"
	"fmt"
	"time"

	"curvewarden/config"
	"curvewarden/internal/logging"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool backing the relational store's
// six tables (wallet, trackedToken, position, policy, execution, eventLog).
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a new database connection pool from the process config.
func NewDB(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("database: parse config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("database: create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	logging.WithComponent("database").Info("connected to relational store")
	return &DB{Pool: pool}, nil
}

// Close releases the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		logging.WithComponent("database").Info("connection pool closed")
	}
}

// HealthCheck performs a database health check.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations creates the six tables the core reads and writes through
// the Repository, idempotently.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS wallet (
			id VARCHAR(64) PRIMARY KEY,
			address VARCHAR(64) NOT NULL UNIQUE,
			label VARCHAR(100),
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS tracked_token (
			id VARCHAR(64) PRIMARY KEY,
			mint_address VARCHAR(64) NOT NULL UNIQUE,
			symbol VARCHAR(32),
			deployer VARCHAR(64),
			launched_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tracked_token_deployer ON tracked_token(deployer)`,

		`CREATE TABLE IF NOT EXISTS position (
			id VARCHAR(64) PRIMARY KEY,
			wallet_id VARCHAR(64) NOT NULL REFERENCES wallet(id),
			mint_address VARCHAR(64) NOT NULL,
			entry_amount_base DOUBLE PRECISION NOT NULL,
			token_balance NUMERIC(39, 0) NOT NULL,
			entry_price DOUBLE PRECISION,
			status VARCHAR(16) NOT NULL DEFAULT 'Open',
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_position_mint ON position(mint_address)`,
		`CREATE INDEX IF NOT EXISTS idx_position_status ON position(status)`,

		`CREATE TABLE IF NOT EXISTS policy (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			trigger_type VARCHAR(50) NOT NULL,
			params JSONB NOT NULL,
			action VARCHAR(50) NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_policy_enabled ON policy(enabled)`,

		`CREATE TABLE IF NOT EXISTS execution (
			id VARCHAR(64) PRIMARY KEY,
			position_id VARCHAR(64) NOT NULL REFERENCES position(id),
			action VARCHAR(32) NOT NULL,
			status VARCHAR(16) NOT NULL,
			tx_signature VARCHAR(128),
			error_message TEXT,
			requested_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_position ON execution(position_id)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_status ON execution(status)`,

		`CREATE TABLE IF NOT EXISTS event_log (
			id VARCHAR(64) PRIMARY KEY,
			event_type VARCHAR(50) NOT NULL,
			slot BIGINT NOT NULL,
			signature VARCHAR(128),
			payload JSONB NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_log_type ON event_log(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_event_log_occurred_at ON event_log(occurred_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("database: migration %d failed: %w", i+1, err)
		}
	}

	logging.WithComponent("database").Info("migrations complete", "count", len(migrations))
	return nil
}
