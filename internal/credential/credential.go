// Package credential はパスワードとワンタイムコードのハッシュ化・検証を提供する。
// すべての関数は副作用を持たない。
package credential

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost はbcryptのコストファクター。
const PasswordCost = 10

// OTPCodeLength はワンタイムコードの桁数。
const OTPCodeLength = 6

var (
	ErrEmptyInput        = errors.New("credential input is empty")
	ErrPasswordTooLong   = errors.New("password exceeds 72 bytes")
	ErrInvalidCodeFormat = errors.New("code must be exactly 6 digits")
)

// HashPassword はパスワードをbcryptでハッシュ化する。
// 空文字列は検証エラーとして拒否する。
func HashPassword(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyInput
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), PasswordCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword はパスワードとハッシュが一致するかを返す。
func VerifyPassword(plaintext, hash string) bool {
	if plaintext == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// ValidateOTPFormat はコードがちょうど6桁の数字であるかを検証する。
func ValidateOTPFormat(code string) error {
	if code == "" {
		return ErrEmptyInput
	}
	if len(code) != OTPCodeLength {
		return ErrInvalidCodeFormat
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return ErrInvalidCodeFormat
		}
	}
	return nil
}

// HashOTPCode はワンタイムコードのSHA-256ダイジェスト（hex）を返す。
// コードは短命かつレート制限されるため、ソルトやコストは付与しない。
func HashOTPCode(code string) (string, error) {
	if err := ValidateOTPFormat(code); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:]), nil
}

// VerifyOTPCode は入力コードのダイジェストが保存済みダイジェストと一致するかを返す。
func VerifyOTPCode(input, digest string) bool {
	got, err := HashOTPCode(input)
	if err != nil || digest == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(digest)) == 1
}
