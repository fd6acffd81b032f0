// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation          = "VALIDATION_FAILED"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeProviderMismatch    = "PROVIDER_MISMATCH"
	ErrCodeAccountDisabled     = "ACCOUNT_DISABLED"
	ErrCodeAccountExists       = "ACCOUNT_EXISTS"
	ErrCodeOTPInvalid          = "OTP_INVALID"
	ErrCodeOTPTooSoon          = "OTP_TOO_SOON"
	ErrCodeDeliveryFailed      = "DELIVERY_FAILED"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeCSRFInvalid         = "CSRF_TOKEN_INVALID"
)

// NewValidationError は入力検証エラーを生成する。
// detailには具体的な不備を含める。
func NewValidationError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", detail),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// アカウント列挙を避けるため、失敗理由は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "invalid credentials",
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewProviderMismatchError はログイン方法の不一致エラーを生成する。
// 復旧のため、正しいプロバイダー名を意図的に開示する。
func NewProviderMismatchError(provider Provider) *APIError {
	return &APIError{
		Code:     ErrCodeProviderMismatch,
		Message:  fmt.Sprintf("このアカウントは %s で登録されています。", provider),
		Category: "auth",
		Action:   fmt.Sprintf("%s でログインしてください。", provider),
	}
}

// NewAccountDisabledError は無効化アカウントのエラーを生成する。
func NewAccountDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountDisabled,
		Message:  "このアカウントは無効化されています。",
		Category: "auth",
		Action:   "サポートにお問い合わせください。",
	}
}

// NewAccountExistsError はアカウント重複エラーを生成する。
func NewAccountExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountExists,
		Message:  "already exists",
		Category: "auth",
		Action:   "既存のアカウントでログインしてください。",
	}
}

// NewOTPInvalidError はワンタイムコードの検証失敗エラーを生成する。
// 未発行・期限切れ・不一致を区別しない。
func NewOTPInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPInvalid,
		Message:  "invalid or expired",
		Category: "auth",
		Action:   "コードを確認するか、新しいコードを再発行してください。",
	}
}

// NewOTPTooSoonError はコード再発行の待機エラーを生成する。
func NewOTPTooSoonError(waitSeconds int) *APIError {
	return &APIError{
		Code:     ErrCodeOTPTooSoon,
		Message:  fmt.Sprintf("コードの再発行は%d秒後に可能です。", waitSeconds),
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewDeliveryFailedError はコード送信失敗エラーを生成する。
func NewDeliveryFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeDeliveryFailed,
		Message:  "コードの送信に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者にお問い合わせください。",
	}
}

// NewAccountNotFoundError はアカウントが見つからない場合のエラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "アカウントが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewProviderUnavailableError は外部認証プロバイダーが利用できない場合のエラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "認証プロバイダーに接続できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFInvalidError はCSRFトークン検証の失敗を生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}
