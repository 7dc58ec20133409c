package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/repositories"
)

// ServiceAccountRepository implements the repositories.ServiceAccountRepository interface
type ServiceAccountRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewServiceAccountRepository creates a new service account repository
func NewServiceAccountRepository(db *DB, logger *zap.Logger) repositories.ServiceAccountRepository {
	return &ServiceAccountRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new service account
func (r *ServiceAccountRepository) Create(ctx context.Context, account *models.ServiceAccount) error {
	query := `
		INSERT INTO service_accounts (id, org_id, env_id, subject, issuer, audience, enabled, scope_allowlist, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		account.ID,
		account.OrgID,
		account.EnvID,
		account.Subject,
		account.Issuer,
		account.Audience,
		account.Enabled,
		pq.Array(account.ScopeAllowlist),
		account.CreatedAt,
		account.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create service account: %w", err)
	}

	r.logger.Debug("service account created", zap.String("id", account.ID.String()))
	return nil
}

// GetByID retrieves a service account by ID
func (r *ServiceAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ServiceAccount, error) {
	query := `
		SELECT id, org_id, env_id, subject, issuer, audience, enabled, scope_allowlist, created_at, updated_at
		FROM service_accounts
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	account := &models.ServiceAccount{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&account.ID,
		&account.OrgID,
		&account.EnvID,
		&account.Subject,
		&account.Issuer,
		&account.Audience,
		&account.Enabled,
		&account.ScopeAllowlist,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("service account not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get service account: %w", err)
	}

	return account, nil
}

// FindEnabledBySubjectIssuer retrieves every enabled service account matching
// the (subject, issuer) pair. The schema enforces uniqueness, but the caller
// must still treat multiple results as a configuration error.
func (r *ServiceAccountRepository) FindEnabledBySubjectIssuer(ctx context.Context, subject, issuer string) ([]*models.ServiceAccount, error) {
	query := `
		SELECT id, org_id, env_id, subject, issuer, audience, enabled, scope_allowlist, created_at, updated_at
		FROM service_accounts
		WHERE subject = $1 AND issuer = $2 AND enabled = TRUE
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, subject, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to query service accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*models.ServiceAccount, 0)
	for rows.Next() {
		account := &models.ServiceAccount{}
		if err := rows.Scan(
			&account.ID,
			&account.OrgID,
			&account.EnvID,
			&account.Subject,
			&account.Issuer,
			&account.Audience,
			&account.Enabled,
			&account.ScopeAllowlist,
			&account.CreatedAt,
			&account.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan service account: %w", err)
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

// Update updates a service account
func (r *ServiceAccountRepository) Update(ctx context.Context, account *models.ServiceAccount) error {
	query := `
		UPDATE service_accounts
		SET audience = $2, enabled = $3, scope_allowlist = $4, updated_at = $5
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		account.ID,
		account.Audience,
		account.Enabled,
		pq.Array(account.ScopeAllowlist),
		account.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update service account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("service account not found: %s", account.ID)
	}

	return nil
}

// Delete deletes a service account
func (r *ServiceAccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM service_accounts WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete service account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("service account not found: %s", id)
	}

	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *ServiceAccountRepository) WithTx(tx repositories.Transaction) repositories.ServiceAccountRepository {
	return &ServiceAccountRepository{
		db:     r.db,
		logger: r.logger,
	}
}
