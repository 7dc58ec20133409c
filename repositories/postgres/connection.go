package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/config"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Policies table
		CREATE TABLE IF NOT EXISTS policies (
			id UUID PRIMARY KEY,
			org_id UUID NOT NULL,
			env_id UUID,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_policies_org ON policies(org_id);

		-- Policy rules table
		CREATE TABLE IF NOT EXISTS policy_rules (
			id UUID PRIMARY KEY,
			policy_id UUID NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
			action VARCHAR(255) NOT NULL,
			target VARCHAR(1024) NOT NULL CHECK (target <> ''),
			effect VARCHAR(8) NOT NULL CHECK (effect IN ('allow', 'deny')),
			conditions JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_policy_rules_policy ON policy_rules(policy_id, action);

		-- Policy bindings table
		CREATE TABLE IF NOT EXISTS policy_bindings (
			id UUID PRIMARY KEY,
			policy_id UUID NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
			scope_type VARCHAR(16) NOT NULL CHECK (scope_type IN ('agent', 'tool', 'resource_ns', 'env', 'org')),
			scope_id VARCHAR(255) NOT NULL,
			priority INTEGER NOT NULL DEFAULT 100,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_policy_bindings_scope ON policy_bindings(scope_type, scope_id);

		-- Service accounts table
		CREATE TABLE IF NOT EXISTS service_accounts (
			id UUID PRIMARY KEY,
			org_id UUID NOT NULL,
			env_id UUID,
			subject VARCHAR(255) NOT NULL,
			issuer VARCHAR(512) NOT NULL,
			audience VARCHAR(512) NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			scope_allowlist TEXT[],
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (subject, issuer)
		);

		-- Agents table
		CREATE TABLE IF NOT EXISTS agents (
			id UUID PRIMARY KEY,
			org_id UUID NOT NULL,
			env_id UUID,
			service_account_id UUID UNIQUE REFERENCES service_accounts(id) ON DELETE SET NULL,
			name VARCHAR(255) NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			tags TEXT[],
			max_delegation_depth INTEGER NOT NULL DEFAULT 1,
			budget_cents BIGINT NOT NULL DEFAULT 0,
			ttl_seconds INTEGER NOT NULL DEFAULT 3600,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_agents_org ON agents(org_id);

		-- Audit logs table
		CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY,
			org_id UUID NOT NULL,
			env_id UUID,
			agent_id UUID,
			action VARCHAR(64) NOT NULL,
			target VARCHAR(1024) NOT NULL,
			decision VARCHAR(8) NOT NULL,
			reason TEXT,
			rule_id UUID,
			details JSONB,
			jti VARCHAR(255) NOT NULL DEFAULT '',
			client_ip VARCHAR(64) NOT NULL DEFAULT '',
			request_id VARCHAR(128) NOT NULL DEFAULT '',
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_org_ts ON audit_logs(org_id, timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_request ON audit_logs(request_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized")
	return nil
}
