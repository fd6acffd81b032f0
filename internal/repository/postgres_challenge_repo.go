package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/bizportal/internal/model"
)

// PostgresChallengeRepo はPostgreSQLを使用したOTPチャレンジリポジトリ。
// Redisが構成されていない場合のemail向けスタンドアロンチャレンジ保存先。
type PostgresChallengeRepo struct {
	db *sql.DB
}

// NewPostgresChallengeRepo はPostgresChallengeRepoを生成する。
func NewPostgresChallengeRepo(db *sql.DB) *PostgresChallengeRepo {
	return &PostgresChallengeRepo{db: db}
}

// Find は識別子のチャレンジを取得する。見つからない場合はnilを返す。
// 期限切れでも返却し、判定は呼び出し側に委ねる。
func (r *PostgresChallengeRepo) Find(ctx context.Context, claim string) (*model.OTPChallenge, error) {
	ch := &model.OTPChallenge{}
	err := r.db.QueryRowContext(ctx,
		`SELECT claim, code_hash, expires_at FROM otp_challenges WHERE claim = $1`,
		claim,
	).Scan(&ch.Claim, &ch.CodeHash, &ch.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find otp challenge: %w", err)
	}
	return ch, nil
}

// Upsert はチャレンジを作成または上書きする（後勝ち）。
func (r *PostgresChallengeRepo) Upsert(ctx context.Context, ch *model.OTPChallenge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO otp_challenges (claim, code_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (claim) DO UPDATE
		 SET code_hash = EXCLUDED.code_hash, expires_at = EXCLUDED.expires_at, created_at = now()`,
		ch.Claim, ch.CodeHash, ch.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert otp challenge: %w", err)
	}
	return nil
}

// Delete は識別子のチャレンジを削除する。
func (r *PostgresChallengeRepo) Delete(ctx context.Context, claim string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM otp_challenges WHERE claim = $1`,
		claim,
	)
	if err != nil {
		return fmt.Errorf("failed to delete otp challenge: %w", err)
	}
	return nil
}

// Consume はハッシュが一致するチャレンジのみ削除する。
func (r *PostgresChallengeRepo) Consume(ctx context.Context, claim, codeHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM otp_challenges WHERE claim = $1 AND code_hash = $2`,
		claim, codeHash,
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume otp challenge: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// DeleteExpired は期限切れのチャレンジを削除し、削除件数を返す。
func (r *PostgresChallengeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM otp_challenges WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired otp challenges: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ ChallengeRepository = (*PostgresChallengeRepo)(nil)
