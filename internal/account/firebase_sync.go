package account

import (
	"context"
	"log/slog"
	"sync"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/hitoshi/bizportal/internal/model"
)

const defaultSyncTimeout = 10 * time.Second

// firebaseUserUpdater はfbauth.Clientのうち同期に使う部分。
type firebaseUserUpdater interface {
	UpdateUser(ctx context.Context, uid string, user *fbauth.UserToUpdate) (*fbauth.UserRecord, error)
}

// FirebaseDisabledSyncer はFirebaseユーザーの無効化状態をバックグラウンドで更新する。
type FirebaseDisabledSyncer struct {
	client  firebaseUserUpdater
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewFirebaseDisabledSyncer はFirebaseDisabledSyncerを生成する。
func NewFirebaseDisabledSyncer(client firebaseUserUpdater) *FirebaseDisabledSyncer {
	return &FirebaseDisabledSyncer{
		client:  client,
		timeout: defaultSyncTimeout,
	}
}

// SyncDisabled はFirebaseに紐付くアカウントのみを対象に、非同期で状態を反映する。
func (s *FirebaseDisabledSyncer) SyncDisabled(account *model.Account, disabled bool) {
	if account.LinkedProvider != model.ProviderFirebase || account.ProviderID == "" {
		return
	}

	uid := account.ProviderID
	accountID := account.ID

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// リクエストのcontextとは独立させる
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if _, err := s.client.UpdateUser(ctx, uid, (&fbauth.UserToUpdate{}).Disabled(disabled)); err != nil {
			slog.Warn("failed to sync disabled flag to firebase",
				slog.String("account_id", accountID),
				slog.Bool("disabled", disabled),
				slog.String("error", err.Error()),
			)
			return
		}
		slog.Info("disabled flag synced to firebase",
			slog.String("account_id", accountID),
			slog.Bool("disabled", disabled),
		)
	}()
}

// Wait は実行中の同期処理の完了を待つ。シャットダウン時に使用する。
func (s *FirebaseDisabledSyncer) Wait() {
	s.wg.Wait()
}

// compile-time interface check
var _ DisabledSyncer = (*FirebaseDisabledSyncer)(nil)
