// Package auth は各認証プロバイダー（パスワード・Google OAuth・Firebase・OTP）の
// 本人情報を正規アカウントに対応付け、セッショントークンを発行する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/bizportal/internal/audit"
	"github.com/hitoshi/bizportal/internal/credential"
	"github.com/hitoshi/bizportal/internal/metrics"
	"github.com/hitoshi/bizportal/internal/model"
	"github.com/hitoshi/bizportal/internal/otp"
	"github.com/hitoshi/bizportal/internal/repository"
	"github.com/hitoshi/bizportal/internal/token"
)

// DefaultSessionTTL はプロバイダー別の指定がない場合のセッション有効期間。
const DefaultSessionTTL = 7 * 24 * time.Hour

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Picture        string
	EmailVerified  bool
	Provider       model.Provider
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// IDTokenVerifier は外部の本人確認サービスが発行したIDトークンを検証する。
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*ProviderClaims, error)
}

// OTPEngine はワンタイムコードの発行・検証を行う。
type OTPEngine interface {
	RequestCode(ctx context.Context, claim string) (*otp.Issued, error)
	VerifyCode(ctx context.Context, claim, code string) (otp.Claim, error)
}

// TokenMinter はセッショントークンを発行する。
type TokenMinter interface {
	Mint(claims token.Claims, ttl time.Duration) (string, error)
}

// AuditRecorder は監査イベントをベストエフォートで記録する。
type AuditRecorder interface {
	Record(ctx context.Context, e model.AuditEvent)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// SessionTTL はセッショントークンの既定の有効期間。
	SessionTTL time.Duration
	// ProviderSessionTTL はプロバイダー別の有効期間。未指定のプロバイダーはSessionTTLを使う。
	ProviderSessionTTL map[model.Provider]time.Duration
}

// Session はログイン成功時に発行されるセッション。
type Session struct {
	Token     string
	ExpiresAt time.Time
	Account   *model.Account
}

// RegisterInput はローカルアカウント登録の入力。
type RegisterInput struct {
	Name       string
	Email      string
	Password   string
	Phone      string
	Company    string
	Address    string
	Department string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	accounts repository.AccountRepository
	tokens   TokenMinter
	otp      OTPEngine
	oauth    OAuthProvider
	firebase IDTokenVerifier
	audit    AuditRecorder
	metrics  metrics.MetricsCollector
	config   ServiceConfig
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService はServiceを生成する。oauthとfirebaseは未構成の場合nilでよい。
func NewService(
	accounts repository.AccountRepository,
	tokens TokenMinter,
	otpEngine OTPEngine,
	oauth OAuthProvider,
	firebase IDTokenVerifier,
	recorder AuditRecorder,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	return &Service{
		accounts: accounts,
		tokens:   tokens,
		otp:      otpEngine,
		oauth:    oauth,
		firebase: firebase,
		audit:    recorder,
		metrics:  collector,
		config:   config,
		now:      time.Now,
	}
}

// SessionTTL はプロバイダーに対応するセッション有効期間を返す。
func (s *Service) SessionTTL(provider model.Provider) time.Duration {
	if ttl, ok := s.config.ProviderSessionTTL[provider]; ok && ttl > 0 {
		return ttl
	}
	return s.config.SessionTTL
}

// LoginWithPassword はemailとパスワードでログインする。
// 別プロバイダーのアカウントの場合のみ、プロバイダー名を含むエラーを返す。
func (s *Service) LoginWithPassword(ctx context.Context, email, password string) (*Session, error) {
	email = model.NormalizeEmail(email)

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		// 存在しないアカウントでも照合時間を揃える
		credential.VerifyPassword(password, s.timingHash())
		s.loginFailed(ctx, model.ProviderLocal, "", email, "no_account")
		return nil, ErrInvalidCredentials
	}

	if account.AuthProvider != model.ProviderLocal {
		s.loginFailed(ctx, model.ProviderLocal, account.ID, email, "provider_mismatch")
		return nil, &ProviderMismatchError{Provider: account.AuthProvider}
	}

	ok := credential.VerifyPassword(password, account.PasswordHash)
	if account.Disabled {
		s.loginFailed(ctx, model.ProviderLocal, account.ID, email, "disabled")
		return nil, ErrAccountDisabled
	}
	if !ok {
		s.loginFailed(ctx, model.ProviderLocal, account.ID, email, "bad_password")
		return nil, ErrInvalidCredentials
	}

	return s.issueSession(ctx, account, model.ProviderLocal)
}

// Register はローカルアカウントを作成し、そのままログインする。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := model.NormalizeEmail(in.Email)
	if email == "" {
		return nil, fmt.Errorf("email is required: %w", credential.ErrEmptyInput)
	}

	hash, err := credential.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	name := strings.TrimSpace(in.Name)
	account := &model.Account{
		ID:           uuid.New().String(),
		Name:         displayName(name, email, ""),
		Email:        email,
		Phone:        model.NormalizePhone(in.Phone),
		PasswordHash: hash,
		Role:         model.RoleUser,
		AuthProvider: model.ProviderLocal,
		Company:      strings.TrimSpace(in.Company),
		Address:      strings.TrimSpace(in.Address),
		Department:   strings.TrimSpace(in.Department),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, model.ErrAccountConflict) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.metrics.RecordAccountCreated(string(model.ProviderLocal))
	s.audit.Record(ctx, model.AuditEvent{
		Type:      audit.EventAccountCreated,
		AccountID: account.ID,
		Provider:  model.ProviderLocal,
	})

	return s.issueSession(ctx, account, model.ProviderLocal)
}

// GetGoogleLoginURL はGoogle OAuthの認証URLを生成する。
func (s *Service) GetGoogleLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", ErrProviderUnavailable
	}
	return s.oauth.GetLoginURL(state), nil
}

// HandleGoogleCallback は認可コードを交換し、取得したプロフィールでログインする。
func (s *Service) HandleGoogleCallback(ctx context.Context, code string) (*Session, error) {
	if s.oauth == nil {
		return nil, ErrProviderUnavailable
	}

	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.loginFailed(ctx, model.ProviderGoogle, "", "", "exchange_failed")
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnverified, err)
	}

	return s.loginFederated(ctx, model.ProviderGoogle, ProviderClaims{
		ProviderID:    info.ProviderUserID,
		Email:         info.Email,
		Name:          info.Name,
		Picture:       info.Picture,
		EmailVerified: info.EmailVerified,
	})
}

// LoginWithFirebase はFirebaseのIDトークンを検証してログインする。
func (s *Service) LoginWithFirebase(ctx context.Context, idToken string) (*Session, error) {
	if s.firebase == nil {
		return nil, ErrProviderUnavailable
	}

	claims, err := s.firebase.VerifyIDToken(ctx, idToken)
	if err != nil {
		s.loginFailed(ctx, model.ProviderFirebase, "", "", "token_rejected")
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnverified, err)
	}

	return s.loginFederated(ctx, model.ProviderFirebase, *claims)
}

// RequestOTP は識別子にワンタイムコードを発行する。
func (s *Service) RequestOTP(ctx context.Context, claim string) (*otp.Issued, error) {
	issued, err := s.otp.RequestCode(ctx, claim)
	if err != nil {
		s.metrics.RecordOTPRejected(otpRejectReason(err))
		if errors.Is(err, model.ErrAccountDisabled) {
			s.loginFailed(ctx, model.ProviderOTP, "", auditClaim(claim), "disabled")
		}
		return nil, err
	}

	channel := "sms"
	if issued.Claim.IsEmail() {
		channel = "email"
	}
	s.metrics.RecordOTPIssued(channel)
	s.audit.Record(ctx, model.AuditEvent{
		Type:     audit.EventOTPIssued,
		Provider: model.ProviderOTP,
		Claim:    issued.Claim.Value,
	})
	return issued, nil
}

// LoginWithOTP はコードを検証し、識別子に対応するアカウントでログインする。
// 初回の場合はアカウントを作成する。
func (s *Service) LoginWithOTP(ctx context.Context, rawClaim, code string) (*Session, error) {
	claim, err := s.otp.VerifyCode(ctx, rawClaim, code)
	if err != nil {
		reason := otpRejectReason(err)
		s.metrics.RecordOTPRejected(reason)
		s.audit.Record(ctx, model.AuditEvent{
			Type:     audit.EventOTPRejected,
			Provider: model.ProviderOTP,
			Claim:    auditClaim(rawClaim),
			Reason:   reason,
		})
		return nil, err
	}

	pc := ProviderClaims{}
	if claim.IsEmail() {
		pc.Email = claim.Value
		pc.EmailVerified = true
	} else {
		pc.Phone = claim.Value
	}
	return s.loginFederated(ctx, model.ProviderOTP, pc)
}

// CurrentAccount はトークンの主体に対応するアカウントを返す。
func (s *Service) CurrentAccount(ctx context.Context, subjectID string) (*model.Account, error) {
	account, err := s.accounts.FindByID(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, ErrInvalidCredentials
	}
	if account.Disabled {
		return nil, ErrAccountDisabled
	}
	return account, nil
}

// RecordLogout はログアウトを監査ログに記録する。トークンはステートレスなので失効処理はない。
func (s *Service) RecordLogout(ctx context.Context, subjectID string) {
	s.audit.Record(ctx, model.AuditEvent{
		Type:      audit.EventLogout,
		AccountID: subjectID,
	})
}

func (s *Service) loginFederated(ctx context.Context, provider model.Provider, claims ProviderClaims) (*Session, error) {
	account, err := s.Reconcile(ctx, provider, claims)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, ErrAccountDisabled):
			reason = "disabled"
		case errors.Is(err, ErrIdentityUnverified):
			reason = "no_claim"
		}
		s.loginFailed(ctx, provider, "", model.NormalizeEmail(claims.Email), reason)
		return nil, err
	}
	return s.issueSession(ctx, account, provider)
}

func (s *Service) issueSession(ctx context.Context, account *model.Account, provider model.Provider) (*Session, error) {
	ttl := s.SessionTTL(provider)
	tok, err := s.tokens.Mint(token.Claims{
		SubjectID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
	}, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to mint session token: %w", err)
	}

	s.metrics.RecordLoginSuccess(string(provider))
	s.audit.Record(ctx, model.AuditEvent{
		Type:      audit.EventLoginSuccess,
		AccountID: account.ID,
		Provider:  provider,
	})

	return &Session{
		Token:     tok,
		ExpiresAt: s.now().Add(ttl).Truncate(time.Second),
		Account:   account,
	}, nil
}

func (s *Service) loginFailed(ctx context.Context, provider model.Provider, accountID, claim, reason string) {
	s.metrics.RecordLoginFailure(string(provider), reason)
	s.audit.Record(ctx, model.AuditEvent{
		Type:      audit.EventLoginFailure,
		AccountID: accountID,
		Provider:  provider,
		Claim:     claim,
		Reason:    reason,
	})
}

// timingHash はアカウント不在時の照合に使うダミーハッシュを返す。
func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		h, err := credential.HashPassword("timing-equalization-placeholder")
		if err != nil {
			slog.Error("failed to prepare timing hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// auditClaim は監査ログに記録する識別子を返す。
// 解釈できない入力は前後の空白のみ除いてそのまま記録する。
func auditClaim(raw string) string {
	if c, err := otp.ParseClaim(raw); err == nil {
		return c.Value
	}
	return strings.TrimSpace(raw)
}

func otpRejectReason(err error) string {
	switch {
	case errors.Is(err, otp.ErrTooSoon):
		return "too_soon"
	case errors.Is(err, otp.ErrInvalidClaim):
		return "invalid_claim"
	case errors.Is(err, credential.ErrInvalidCodeFormat):
		return "invalid_format"
	case errors.Is(err, otp.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, otp.ErrChallengeNotFound):
		return "not_found"
	case errors.Is(err, otp.ErrChallengeExpired):
		return "expired"
	case errors.Is(err, otp.ErrDeliveryFailed):
		return "delivery_failed"
	case errors.Is(err, model.ErrAccountDisabled):
		return "disabled"
	default:
		return "error"
	}
}

// IsBlocked はトークンの主体が利用できない状態（不在または無効化）かを返す。
func (s *Service) IsBlocked(ctx context.Context, subjectID string) (bool, error) {
	account, err := s.accounts.FindByID(ctx, subjectID)
	if err != nil {
		return false, fmt.Errorf("failed to find account: %w", err)
	}
	return account == nil || account.Disabled, nil
}
