// Package account は管理者によるアカウント管理のドメインロジックを提供する。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/bizportal/internal/audit"
	"github.com/hitoshi/bizportal/internal/model"
	"github.com/hitoshi/bizportal/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var (
	// ErrAccountNotFound は対象アカウントが存在しないことを表す。
	ErrAccountNotFound = errors.New("account not found")
	// ErrSelfDisable は管理者が自身を無効化しようとしたことを表す。
	ErrSelfDisable = errors.New("cannot disable own account")
)

// AuditRecorder は監査イベントを記録する。
type AuditRecorder interface {
	Record(ctx context.Context, e model.AuditEvent)
}

// DisabledSyncer は無効化状態を外部の本人確認サービスへ反映する。
// 呼び出し元をブロックしてはならず、失敗は実装側で処理する。
type DisabledSyncer interface {
	SyncDisabled(account *model.Account, disabled bool)
}

// Service はアカウント管理のサービス層。
type Service struct {
	accounts repository.AccountRepository
	audit    AuditRecorder
	syncer   DisabledSyncer
}

// NewService はServiceの新しいインスタンスを生成する。syncerはnilでよい。
func NewService(accounts repository.AccountRepository, recorder AuditRecorder, syncer DisabledSyncer) *Service {
	return &Service{
		accounts: accounts,
		audit:    recorder,
		syncer:   syncer,
	}
}

// List はアカウント一覧を返す。limitは1〜200に丸める。
func (s *Service) List(ctx context.Context, limit, offset int) ([]*model.Account, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	accounts, err := s.accounts.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// SetDisabled はアカウントの無効化状態を変更し、更新後のアカウントを返す。
// 外部サービスへの反映は非同期で行い、その成否はこの操作の結果に影響しない。
func (s *Service) SetDisabled(ctx context.Context, actorID, accountID string, disabled bool) (*model.Account, error) {
	if disabled && actorID == accountID {
		return nil, ErrSelfDisable
	}

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	if account.Disabled != disabled {
		if err := s.accounts.SetDisabled(ctx, accountID, disabled); err != nil {
			return nil, fmt.Errorf("failed to update disabled flag: %w", err)
		}
		account.Disabled = disabled
	}

	eventType := audit.EventAccountEnabled
	if disabled {
		eventType = audit.EventAccountDisabled
	}
	s.audit.Record(ctx, model.AuditEvent{
		Type:      eventType,
		AccountID: accountID,
		Reason:    "by " + actorID,
	})
	slog.Info("account disabled flag changed",
		slog.String("account_id", accountID),
		slog.String("actor_id", actorID),
		slog.Bool("disabled", disabled),
	)

	if s.syncer != nil {
		s.syncer.SyncDisabled(account, disabled)
	}

	return account, nil
}
