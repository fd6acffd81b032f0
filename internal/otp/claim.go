package otp

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/hitoshi/bizportal/internal/model"
)

// ErrInvalidClaim はemailでも電話番号でもない識別子を表す。
var ErrInvalidClaim = errors.New("claim must be an email address or phone number")

// ClaimKind は識別子の種類。
type ClaimKind int

const (
	ClaimEmail ClaimKind = iota + 1
	ClaimPhone
)

// Claim はOTPの宛先となる正規化済み識別子。
type Claim struct {
	Kind  ClaimKind
	Value string
}

// IsEmail はemail識別子かを返す。
func (c Claim) IsEmail() bool { return c.Kind == ClaimEmail }

// String は正規化済みの値を返す。
func (c Claim) String() string { return c.Value }

// ParseClaim は入力を正規化し、emailまたは電話番号として解釈する。
// "@" を含む入力はemailとして、それ以外は電話番号として扱う。
func ParseClaim(raw string) (Claim, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claim{}, ErrInvalidClaim
	}

	if strings.Contains(raw, "@") {
		email := model.NormalizeEmail(raw)
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return Claim{}, ErrInvalidClaim
		}
		return Claim{Kind: ClaimEmail, Value: email}, nil
	}

	phone := model.NormalizePhone(raw)
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 8 || len(digits) > 15 {
		return Claim{}, ErrInvalidClaim
	}
	return Claim{Kind: ClaimPhone, Value: phone}, nil
}
