// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"strings"
	"time"
)

// Role はアカウントの権限ロールを表す。
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid はロールが既知の値であるかを返す。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Provider はアカウントの認証プロバイダーを表す。
type Provider string

const (
	ProviderLocal    Provider = "local"
	ProviderGoogle   Provider = "google"
	ProviderOTP      Provider = "otp"
	ProviderFirebase Provider = "firebase"
)

// ErrAccountConflict はemailまたはprovider_idの一意制約違反を表す。
// リポジトリのCreateが返し、呼び出し側はerrors.Isで判別する。
var ErrAccountConflict = errors.New("account already exists")

// ErrAccountDisabled は無効化されたアカウントへの認証・OTP発行を拒否する際に返す。
var ErrAccountDisabled = errors.New("account is disabled")

// Account は正規のアイデンティティレコードを表す。
// email・provider_idは存在する場合に一意となる。
type Account struct {
	ID           string
	Name         string
	Email        string // 小文字正規化済み。プロバイダーによっては空
	Phone        string
	PasswordHash string // AuthProvider == local の場合のみ
	Role         Role
	AuthProvider Provider

	// ProviderID はLinkedProviderが発行した外部ID（Google sub / Firebase uid）。
	// LinkedProviderとの組で一意。
	LinkedProvider Provider
	ProviderID     string

	EmailVerified bool
	Disabled      bool

	// プロフィール項目（認証には使用しない）
	Company    string
	Address    string
	Department string
	Image      string

	// 埋め込みOTPスロット。ハッシュと有効期限は常に同時に設定・クリアされる。
	OTPHash      string
	OTPExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin はアカウントが管理者ロールかを返す。
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Validate はアカウントの不変条件を検証する。
func (a *Account) Validate() error {
	if !a.Role.Valid() {
		return errors.New("invalid role")
	}
	if a.AuthProvider == ProviderLocal && a.PasswordHash == "" {
		return errors.New("local account requires a password hash")
	}
	if (a.OTPHash == "") != (a.OTPExpiresAt == nil) {
		return errors.New("otp hash and expiry must be set together")
	}
	return nil
}

// NormalizeEmail はメールアドレスを比較用に正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone は電話番号から区切り文字を取り除く。
// 先頭の+は保持する。
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, ch := range phone {
		switch {
		case ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch == '+' && i == 0:
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// OTPChallenge は識別子（emailまたはphone）に紐付くワンタイムコードのチャレンジ。
// 識別子ごとに有効なチャレンジは最大1件。
type OTPChallenge struct {
	Claim     string
	CodeHash  string
	ExpiresAt time.Time
}

// Expired は指定時刻においてチャレンジが期限切れかを返す。
func (c *OTPChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// AuditEvent はセキュリティ関連イベントの監査ログ1件を表す。
type AuditEvent struct {
	ID        string
	Type      string // login_success, login_failure, account_created 等
	AccountID string
	Provider  Provider
	Claim     string
	Reason    string
	IP        string
	CreatedAt time.Time
}
