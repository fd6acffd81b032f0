// Package token は署名付き・有効期限付きのセッショントークンの発行と検証を提供する。
// トークンはステートレスであり、サーバー側の失効リストは持たない。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/bizportal/internal/model"
)

// Claims はセッショントークンが主張する内容。
type Claims struct {
	SubjectID string
	Email     string
	Role      model.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// sessionClaims はJWTペイロードの表現。
type sessionClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Codec はHS256で署名されたセッショントークンを発行・検証する。
// 生成後はイミュータブルで、複数goroutineから安全に利用できる。
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option はCodecの生成オプション。
type Option func(*Codec)

// WithClock は時刻取得関数を差し替える。テストで使用する。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// WithIssuer はissクレームを設定する。設定時は検証でも一致を要求する。
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		c.issuer = issuer
	}
}

// NewCodec はCodecを生成する。secretは起動時に1回だけ読み込んだ値を渡す。
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token signing secret is empty")
	}
	c := &Codec{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Mint はクレームに署名し、ttl後に失効するトークン文字列を返す。
func (c *Codec) Mint(claims Claims, ttl time.Duration) (string, error) {
	if claims.SubjectID == "" {
		return "", errors.New("subject id is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}

	// JWTの時刻は秒精度のため、切り捨てておく
	issuedAt := c.now().Truncate(time.Second)
	payload := sessionClaims{
		Email: claims.Email,
		Role:  string(claims.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.SubjectID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify は署名と有効期限を検証し、クレームを返す。
// 署名不正・期限切れ・形式不正のいずれの場合もnilを返す。
func (c *Codec) Verify(tokenStr string) *Claims {
	if tokenStr == "" {
		return nil
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		options = append(options, jwt.WithIssuer(c.issuer))
	}

	var payload sessionClaims
	parsed, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &payload, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil
	}
	if payload.Subject == "" || payload.ExpiresAt == nil {
		return nil
	}

	role := model.Role(payload.Role)
	if !role.Valid() {
		return nil
	}

	claims := &Claims{
		SubjectID: payload.Subject,
		Email:     payload.Email,
		Role:      role,
		ExpiresAt: payload.ExpiresAt.Time,
	}
	if payload.IssuedAt != nil {
		claims.IssuedAt = payload.IssuedAt.Time
	}
	return claims
}
