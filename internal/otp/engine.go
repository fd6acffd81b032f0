// Package otp はワンタイムコードの発行・検証を提供する。
//
// 識別子（emailまたは電話番号）ごとの状態は NONE → PENDING → (CONSUMED | EXPIRED) → NONE と遷移し、
// PENDINGのチャレンジは常に最大1件に保たれる。
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/hitoshi/bizportal/internal/credential"
	"github.com/hitoshi/bizportal/internal/model"
)

const (
	// DefaultTTL はコードの有効期限。
	DefaultTTL = 10 * time.Minute
	// DefaultResendInterval は同一識別子への再発行に必要な最小間隔。
	DefaultResendInterval = time.Minute
)

var (
	ErrTooSoon           = errors.New("a code was issued recently")
	ErrDeliveryFailed    = errors.New("failed to deliver code")
	ErrChallengeNotFound = errors.New("no pending code, request a new one")
	ErrChallengeExpired  = errors.New("code expired")
	ErrInvalidCode       = errors.New("invalid code")
)

// TooSoonError は再発行までの待ち時間を保持する。errors.Is(err, ErrTooSoon) が真となる。
type TooSoonError struct {
	Wait time.Duration
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrTooSoon.Error(), e.Wait.Round(time.Second))
}

func (e *TooSoonError) Is(target error) bool {
	return target == ErrTooSoon
}

// AccountFinder は無効化チェックのためのアカウント検索インターフェース。
type AccountFinder interface {
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	FindByPhone(ctx context.Context, phone string) (*model.Account, error)
}

// Sender はコードを宛先に配信する外部コラボレーター。
type Sender interface {
	SendCode(ctx context.Context, to, code string, expiresIn time.Duration) error
}

// EngineConfig はOTPエンジンの設定。
type EngineConfig struct {
	TTL            time.Duration
	ResendInterval time.Duration
	// RollbackOnSendFailure が真の場合、配信に失敗したコードを即座に無効化する。
	RollbackOnSendFailure bool
}

// Issued は発行結果を表す。コード自体は含まない。
type Issued struct {
	Claim     Claim
	ExpiresAt time.Time
}

// Engine はOTPの発行と検証を行う。
type Engine struct {
	accounts    AccountFinder
	emailStore  ChallengeStore
	phoneStore  ChallengeStore
	emailSender Sender
	smsSender   Sender
	config      EngineConfig
	now         func() time.Time
	random      io.Reader
}

// NewEngine はEngineを生成する。ゼロ値の設定項目には既定値を用いる。
func NewEngine(
	accounts AccountFinder,
	emailStore, phoneStore ChallengeStore,
	emailSender, smsSender Sender,
	config EngineConfig,
) *Engine {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.ResendInterval <= 0 || config.ResendInterval > config.TTL {
		config.ResendInterval = DefaultResendInterval
	}
	return &Engine{
		accounts:    accounts,
		emailStore:  emailStore,
		phoneStore:  phoneStore,
		emailSender: emailSender,
		smsSender:   smsSender,
		config:      config,
		now:         time.Now,
		random:      rand.Reader,
	}
}

// graceWindow は残り有効期間がこれ以下になれば再発行を許可する閾値。
func (e *Engine) graceWindow() time.Duration {
	return e.config.TTL - e.config.ResendInterval
}

func (e *Engine) storeFor(c Claim) ChallengeStore {
	if c.IsEmail() {
		return e.emailStore
	}
	return e.phoneStore
}

func (e *Engine) senderFor(c Claim) Sender {
	if c.IsEmail() {
		return e.emailSender
	}
	return e.smsSender
}

// RequestCode は識別子に新しいコードを発行し配信する。
func (e *Engine) RequestCode(ctx context.Context, rawClaim string) (*Issued, error) {
	claim, err := ParseClaim(rawClaim)
	if err != nil {
		return nil, err
	}

	if err := e.checkDisabled(ctx, claim); err != nil {
		return nil, err
	}

	store := e.storeFor(claim)
	now := e.now()

	existing, err := store.Get(ctx, claim.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending code: %w", err)
	}
	if existing != nil && !existing.Expired(now) {
		remaining := existing.ExpiresAt.Sub(now)
		if remaining > e.graceWindow() {
			return nil, &TooSoonError{Wait: remaining - e.graceWindow()}
		}
	}

	code, err := e.generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}
	codeHash, err := credential.HashOTPCode(code)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}

	expiresAt := now.Add(e.config.TTL)
	if err := store.Put(ctx, &model.OTPChallenge{
		Claim:     claim.Value,
		CodeHash:  codeHash,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to store code: %w", err)
	}

	if err := e.senderFor(claim).SendCode(ctx, claim.Value, code, e.config.TTL); err != nil {
		slog.Warn("otp delivery failed",
			slog.Bool("email", claim.IsEmail()),
			slog.String("error", err.Error()),
		)
		if e.config.RollbackOnSendFailure {
			if _, derr := store.Consume(ctx, claim.Value, codeHash); derr != nil {
				slog.Error("failed to roll back undelivered code", slog.String("error", derr.Error()))
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	return &Issued{Claim: claim, ExpiresAt: expiresAt}, nil
}

// VerifyCode は入力コードを検証し、成功時にチャレンジを消費する。
// 不一致の場合はチャレンジを残し、有効期限内の再試行を許可する。
func (e *Engine) VerifyCode(ctx context.Context, rawClaim, input string) (Claim, error) {
	claim, err := ParseClaim(rawClaim)
	if err != nil {
		return Claim{}, err
	}
	if err := credential.ValidateOTPFormat(input); err != nil {
		return Claim{}, fmt.Errorf("%w: %w", ErrInvalidCode, err)
	}

	store := e.storeFor(claim)

	ch, err := store.Get(ctx, claim.Value)
	if err != nil {
		return Claim{}, fmt.Errorf("failed to load pending code: %w", err)
	}
	if ch == nil {
		return Claim{}, ErrChallengeNotFound
	}

	if ch.Expired(e.now()) {
		if err := store.Delete(ctx, claim.Value); err != nil {
			slog.Error("failed to delete expired code", slog.String("error", err.Error()))
		}
		return Claim{}, ErrChallengeExpired
	}

	if !credential.VerifyOTPCode(input, ch.CodeHash) {
		return Claim{}, ErrInvalidCode
	}

	consumed, err := store.Consume(ctx, claim.Value, ch.CodeHash)
	if err != nil {
		return Claim{}, fmt.Errorf("failed to consume code: %w", err)
	}
	if !consumed {
		// 並行する検証が先に消費した
		return Claim{}, ErrChallengeNotFound
	}

	return claim, nil
}

func (e *Engine) checkDisabled(ctx context.Context, claim Claim) error {
	var (
		account *model.Account
		err     error
	)
	if claim.IsEmail() {
		account, err = e.accounts.FindByEmail(ctx, claim.Value)
	} else {
		account, err = e.accounts.FindByPhone(ctx, claim.Value)
	}
	if err != nil {
		return fmt.Errorf("failed to find account: %w", err)
	}
	if account != nil && account.Disabled {
		return model.ErrAccountDisabled
	}
	return nil
}

var codeSpace = big.NewInt(1_000_000)

// generateCode は000000〜999999を一様に生成する。
func (e *Engine) generateCode() (string, error) {
	n, err := rand.Int(e.random, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", credential.OTPCodeLength, n.Int64()), nil
}
