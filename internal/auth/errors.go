package auth

import (
	"errors"
	"fmt"

	"github.com/hitoshi/bizportal/internal/model"
)

var (
	// ErrInvalidCredentials はアカウント不在・パスワード不一致を区別せずに表す。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled は無効化されたアカウントへのログインを表す。
	ErrAccountDisabled = model.ErrAccountDisabled
	// ErrAccountExists は登録時のemail重複を表す。
	ErrAccountExists = model.ErrAccountConflict
	// ErrProviderUnavailable はプロバイダーが構成されていないことを表す。
	ErrProviderUnavailable = errors.New("identity provider is not configured")
	// ErrIdentityUnverified は外部プロバイダーの資格情報を検証できなかったことを表す。
	ErrIdentityUnverified = errors.New("identity could not be verified")
)

// ProviderMismatchError はパスワードログインの対象アカウントが別プロバイダーで
// 作成されていることを表す。利用者を正しいログイン方法へ誘導するためにプロバイダー名を保持する。
type ProviderMismatchError struct {
	Provider model.Provider
}

func (e *ProviderMismatchError) Error() string {
	return fmt.Sprintf("account uses %s sign-in", e.Provider)
}
