package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/bizportal/internal/model"
)

// PostgresAuditRepo はPostgreSQLを使用した監査ログリポジトリ。
type PostgresAuditRepo struct {
	db *sql.DB
}

// NewPostgresAuditRepo はPostgresAuditRepoを生成する。
func NewPostgresAuditRepo(db *sql.DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

// Insert は監査イベントを1件記録する。
func (r *PostgresAuditRepo) Insert(ctx context.Context, e *model.AuditEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, type, account_id, provider, claim, reason, ip, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Type, nullString(e.AccountID), nullString(string(e.Provider)),
		nullString(e.Claim), nullString(e.Reason), nullString(e.IP), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AuditRepository = (*PostgresAuditRepo)(nil)
