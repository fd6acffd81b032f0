package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/bizportal/internal/model"
	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

const accountColumns = `id, name, email, phone, password_hash, role, auth_provider,
	linked_provider, provider_id, email_verified, disabled,
	company, address, department, image, otp_hash, otp_expires_at,
	created_at, updated_at`

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var (
		a                                   model.Account
		role, authProvider                  string
		email, phone, passwordHash          sql.NullString
		linkedProvider, providerID          sql.NullString
		company, address, department, image sql.NullString
		otpHash                             sql.NullString
		otpExpiresAt                        sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.Name, &email, &phone, &passwordHash, &role, &authProvider,
		&linkedProvider, &providerID, &a.EmailVerified, &a.Disabled,
		&company, &address, &department, &image, &otpHash, &otpExpiresAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Email = email.String
	a.Phone = phone.String
	a.PasswordHash = passwordHash.String
	a.Role = model.Role(role)
	a.AuthProvider = model.Provider(authProvider)
	a.LinkedProvider = model.Provider(linkedProvider.String)
	a.ProviderID = providerID.String
	a.Company = company.String
	a.Address = address.String
	a.Department = department.String
	a.Image = image.String
	a.OTPHash = otpHash.String
	if otpExpiresAt.Valid {
		t := otpExpiresAt.Time
		a.OTPExpiresAt = &t
	}
	return &a, nil
}

func (r *PostgresAccountRepo) findOne(ctx context.Context, where string, args ...any) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+where, args...)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	account, err := r.findOne(ctx, `id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return account, nil
}

// FindByEmail はemailでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	account, err := r.findOne(ctx, `email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	return account, nil
}

// FindByPhone は電話番号でアカウントを検索する。
// 電話番号には一意制約がないため、最も古いアカウントを返す。
func (r *PostgresAccountRepo) FindByPhone(ctx context.Context, phone string) (*model.Account, error) {
	phone = model.NormalizePhone(phone)
	if phone == "" {
		return nil, nil
	}
	account, err := r.findOne(ctx, `phone = $1 ORDER BY created_at ASC LIMIT 1`, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by phone: %w", err)
	}
	return account, nil
}

// FindByProviderID はプロバイダーとプロバイダーIDでアカウントを検索する。
func (r *PostgresAccountRepo) FindByProviderID(ctx context.Context, provider model.Provider, providerID string) (*model.Account, error) {
	if providerID == "" {
		return nil, nil
	}
	account, err := r.findOne(ctx, `linked_provider = $1 AND provider_id = $2`, string(provider), providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by provider ID: %w", err)
	}
	return account, nil
}

// Create はアカウントを作成する。
// 一意制約違反の場合はmodel.ErrAccountConflictをラップして返す。
func (r *PostgresAccountRepo) Create(ctx context.Context, a *model.Account) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid account: %w", err)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		a.ID, a.Name, nullString(model.NormalizeEmail(a.Email)), nullString(model.NormalizePhone(a.Phone)),
		nullString(a.PasswordHash), string(a.Role), string(a.AuthProvider),
		nullString(string(a.LinkedProvider)), nullString(a.ProviderID), a.EmailVerified, a.Disabled,
		nullString(a.Company), nullString(a.Address), nullString(a.Department), nullString(a.Image),
		nullString(a.OTPHash), nullTime(a.OTPExpiresAt),
		a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to insert account: %w", model.ErrAccountConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// Update はアカウントの可変項目を更新する。OTPスロットは更新しない。
func (r *PostgresAccountRepo) Update(ctx context.Context, a *model.Account) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid account: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
			name = $2, email = $3, phone = $4, password_hash = $5, role = $6, auth_provider = $7,
			linked_provider = $8, provider_id = $9, email_verified = $10, disabled = $11,
			company = $12, address = $13, department = $14, image = $15, updated_at = $16
		 WHERE id = $1`,
		a.ID, a.Name, nullString(model.NormalizeEmail(a.Email)), nullString(model.NormalizePhone(a.Phone)),
		nullString(a.PasswordHash), string(a.Role), string(a.AuthProvider),
		nullString(string(a.LinkedProvider)), nullString(a.ProviderID), a.EmailVerified, a.Disabled,
		nullString(a.Company), nullString(a.Address), nullString(a.Department), nullString(a.Image),
		a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to update account: %w", model.ErrAccountConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return requireAffected(result, a.ID)
}

// SetDisabled はアカウントの無効化フラグを更新する。
func (r *PostgresAccountRepo) SetDisabled(ctx context.Context, id string, disabled bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET disabled = $2, updated_at = now() WHERE id = $1`,
		id, disabled,
	)
	if err != nil {
		return fmt.Errorf("failed to set disabled flag: %w", err)
	}
	return requireAffected(result, id)
}

// SetOTP は埋め込みOTPスロットを上書きする。
func (r *PostgresAccountRepo) SetOTP(ctx context.Context, id, codeHash string, expiresAt time.Time) error {
	if codeHash == "" {
		return errors.New("otp hash is required")
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET otp_hash = $2, otp_expires_at = $3 WHERE id = $1`,
		id, codeHash, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set otp: %w", err)
	}
	return requireAffected(result, id)
}

// ClearOTP は埋め込みOTPスロットをクリアする。
func (r *PostgresAccountRepo) ClearOTP(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET otp_hash = NULL, otp_expires_at = NULL WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to clear otp: %w", err)
	}
	return nil
}

// ConsumeOTP はスロットのハッシュが一致する場合のみクリアする。
func (r *PostgresAccountRepo) ConsumeOTP(ctx context.Context, id, codeHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET otp_hash = NULL, otp_expires_at = NULL
		 WHERE id = $1 AND otp_hash = $2`,
		id, codeHash,
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume otp: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// List はアカウント一覧を作成日時の降順で返す。
func (r *PostgresAccountRepo) List(ctx context.Context, limit, offset int) ([]*model.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

// ClearExpiredOTP は期限切れの埋め込みOTPスロットを一括でクリアする。
// クリーンアップジョブから呼び出される。
func (r *PostgresAccountRepo) ClearExpiredOTP(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET otp_hash = NULL, otp_expires_at = NULL
		 WHERE otp_expires_at IS NOT NULL AND otp_expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired otp: %w", err)
	}
	return result.RowsAffected()
}

// isUniqueViolation はエラーが一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

func requireAffected(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account not found: %s", id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
