// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/bizportal/internal/model"
)

// AccountRepository はアカウント（アイデンティティディレクトリ）の永続化インターフェース。
// Find系は見つからない場合に (nil, nil) を返す。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByEmail は正規化済みemailでアカウントを検索する。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// FindByPhone は正規化済み電話番号でアカウントを検索する。
	FindByPhone(ctx context.Context, phone string) (*model.Account, error)

	// FindByProviderID は外部プロバイダーとそのIDでアカウントを検索する。
	FindByProviderID(ctx context.Context, provider model.Provider, providerID string) (*model.Account, error)

	// Create はアカウントを作成する。
	// emailまたはprovider_idの一意制約違反時はmodel.ErrAccountConflictを返す。
	Create(ctx context.Context, account *model.Account) error

	// Update はアカウントの可変項目を更新する。
	Update(ctx context.Context, account *model.Account) error

	// SetDisabled はアカウントの無効化フラグを更新する。
	SetDisabled(ctx context.Context, id string, disabled bool) error

	// SetOTP は埋め込みOTPスロットを上書きする。
	SetOTP(ctx context.Context, id, codeHash string, expiresAt time.Time) error

	// ClearOTP は埋め込みOTPスロットのハッシュと有効期限を同時にクリアする。
	ClearOTP(ctx context.Context, id string) error

	// ConsumeOTP はスロットのハッシュがcodeHashと一致する場合のみクリアし、
	// クリアした場合にtrueを返す。同一コードの二重利用を防ぐ。
	ConsumeOTP(ctx context.Context, id, codeHash string) (bool, error)

	// List はアカウント一覧を作成日時の降順で返す。
	List(ctx context.Context, limit, offset int) ([]*model.Account, error)
}

// ChallengeRepository はアカウントから独立したOTPチャレンジ（email単位）の永続化インターフェース。
// emailごとに1レコードのみ保持し、新規発行は上書きとなる。
type ChallengeRepository interface {
	// Find は識別子のチャレンジを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, claim string) (*model.OTPChallenge, error)

	// Upsert はチャレンジを作成または上書きする。
	Upsert(ctx context.Context, challenge *model.OTPChallenge) error

	// Delete は識別子のチャレンジを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, claim string) error

	// Consume はハッシュが一致するチャレンジのみ削除し、削除した場合にtrueを返す。
	Consume(ctx context.Context, claim, codeHash string) (bool, error)

	// DeleteExpired はnow時点で期限切れのチャレンジを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AuditRepository は監査ログの永続化インターフェース。
type AuditRepository interface {
	// Insert は監査イベントを1件記録する。
	Insert(ctx context.Context, event *model.AuditEvent) error
}
