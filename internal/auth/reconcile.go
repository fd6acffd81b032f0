package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/bizportal/internal/audit"
	"github.com/hitoshi/bizportal/internal/model"
)

// reconcileAttempts は一意制約違反後の再検索を含む試行回数。
const reconcileAttempts = 3

// Reconcile はプロバイダーの本人情報を正規アカウントに対応付ける（resolve-or-create）。
//
// 検索順は email → 電話番号 → プロバイダーID → 代替キー（Firebaseのみ）。
// emailは検証済みの場合のみ照合に使う。
// 既存アカウントが無効化されていればErrAccountDisabledを返す。
// 既存アカウントには空の項目のみを補完し、変更がある場合に限り保存する。
// 見つからなければrole=user・検証済みのアカウントを作成する。
// 並行作成で一意制約違反となった場合は再検索し、先に作成されたアカウントを返す。
func (s *Service) Reconcile(ctx context.Context, provider model.Provider, claims ProviderClaims) (*model.Account, error) {
	c := claims.normalized()
	if c.Email == "" && c.Phone == "" && c.ProviderID == "" {
		return nil, fmt.Errorf("%w: no identifying claim", ErrIdentityUnverified)
	}

	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		account, err := s.lookup(ctx, provider, c)
		if err != nil {
			return nil, err
		}

		if account != nil {
			if account.Disabled {
				return nil, ErrAccountDisabled
			}
			s.backfillAndSave(ctx, account, provider, c)
			return account, nil
		}

		account = s.newFederatedAccount(provider, c)
		err = s.accounts.Create(ctx, account)
		if errors.Is(err, model.ErrAccountConflict) {
			slog.Info("account created concurrently, retrying lookup",
				slog.String("provider", string(provider)),
				slog.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create account: %w", err)
		}

		s.metrics.RecordAccountCreated(string(provider))
		s.audit.Record(ctx, model.AuditEvent{
			Type:      audit.EventAccountCreated,
			AccountID: account.ID,
			Provider:  provider,
		})
		slog.Info("new account created",
			slog.String("account_id", account.ID),
			slog.String("provider", string(provider)),
		)
		return account, nil
	}

	return nil, fmt.Errorf("failed to resolve account after concurrent creation: %w", model.ErrAccountConflict)
}

func (s *Service) lookup(ctx context.Context, provider model.Provider, c ProviderClaims) (*model.Account, error) {
	if c.Email != "" {
		account, err := s.accounts.FindByEmail(ctx, c.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to find account by email: %w", err)
		}
		if account != nil {
			return account, nil
		}
	}

	if c.Phone != "" {
		account, err := s.accounts.FindByPhone(ctx, c.Phone)
		if err != nil {
			return nil, fmt.Errorf("failed to find account by phone: %w", err)
		}
		if account != nil {
			return account, nil
		}
	}

	if c.ProviderID != "" {
		account, err := s.accounts.FindByProviderID(ctx, provider, c.ProviderID)
		if err != nil {
			return nil, fmt.Errorf("failed to find account by provider ID: %w", err)
		}
		if account != nil {
			return account, nil
		}

		if usesSyntheticKey(provider, c) {
			account, err := s.accounts.FindByEmail(ctx, syntheticEmail(c.ProviderID))
			if err != nil {
				return nil, fmt.Errorf("failed to find account by synthetic key: %w", err)
			}
			// 代替キーはuidに紐付いたアカウントにのみ一致させる
			if account != nil && account.LinkedProvider == provider && account.ProviderID == c.ProviderID {
				return account, nil
			}
		}
	}

	return nil, nil
}

func usesSyntheticKey(provider model.Provider, c ProviderClaims) bool {
	return provider == model.ProviderFirebase && c.Email == "" && c.Phone == "" && c.ProviderID != ""
}

func (s *Service) newFederatedAccount(provider model.Provider, c ProviderClaims) *model.Account {
	now := s.now()
	email := c.Email
	name := displayName(c.Name, email, c.Phone)
	if usesSyntheticKey(provider, c) {
		email = syntheticEmail(c.ProviderID)
		name = displayName(c.Name, "", c.ProviderID)
	}

	account := &model.Account{
		ID:            uuid.New().String(),
		Name:          name,
		Email:         email,
		Phone:         c.Phone,
		Role:          model.RoleUser,
		AuthProvider:  provider,
		EmailVerified: true,
		Image:         c.Picture,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if c.ProviderID != "" {
		account.LinkedProvider = provider
		account.ProviderID = c.ProviderID
	}
	return account
}

// backfill は空の項目のみを補完し、変更があったかを返す。
// 既存のプロバイダーIDとAuthProviderは上書きしない。
func backfill(a *model.Account, provider model.Provider, c ProviderClaims) bool {
	changed := false
	if a.Name == "" && c.Name != "" {
		a.Name = c.Name
		changed = true
	}
	if a.Image == "" && c.Picture != "" {
		a.Image = c.Picture
		changed = true
	}
	if a.Phone == "" && c.Phone != "" {
		a.Phone = c.Phone
		changed = true
	}
	if a.Email == "" && c.Email != "" {
		a.Email = c.Email
		changed = true
	}
	if a.ProviderID == "" && c.ProviderID != "" {
		a.LinkedProvider = provider
		a.ProviderID = c.ProviderID
		changed = true
	}
	if !a.EmailVerified && c.EmailVerified && c.Email != "" && c.Email == a.Email {
		a.EmailVerified = true
		changed = true
	}
	return changed
}

func (s *Service) backfillAndSave(ctx context.Context, account *model.Account, provider model.Provider, c ProviderClaims) {
	before := *account
	if !backfill(account, provider, c) {
		return
	}
	account.UpdatedAt = s.now()

	if err := s.accounts.Update(ctx, account); err != nil {
		// 補完の失敗ではログインを止めない
		slog.Warn("failed to backfill account",
			slog.String("account_id", account.ID),
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()),
		)
		*account = before
		return
	}

	if before.ProviderID == "" && account.ProviderID != "" {
		s.audit.Record(ctx, model.AuditEvent{
			Type:      audit.EventAccountLinked,
			AccountID: account.ID,
			Provider:  provider,
		})
	}
}

// displayName は名前がない場合にemailのローカル部または電話番号を用いる。
func displayName(name, email, phone string) string {
	if name != "" {
		return name
	}
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	return phone
}
