// Package cleanup は期限切れOTPチャレンジの定期削除ジョブを提供する。
// 期限切れのチャレンジは検証時にも拒否されるため、このジョブは保存領域の回収のみを目的とする。
// RedisのチャレンジはTTLで自動的に失効するため対象外。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/bizportal/internal/metrics"
)

// ChallengePurger は独立テーブルの期限切れチャレンジを削除する。
type ChallengePurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AccountOTPPurger はアカウント埋め込みスロットの期限切れコードをクリアする。
type AccountOTPPurger interface {
	ClearExpiredOTP(ctx context.Context, now time.Time) (int64, error)
}

// CleanupJob は期限切れOTPの削除ジョブ。冪等であり、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	challenges ChallengePurger
	accounts   AccountOTPPurger
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	now        func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。challengesとaccountsはどちらかがnilでもよい。
func NewCleanupJob(challenges ChallengePurger, accounts AccountOTPPurger, logger *slog.Logger, collector metrics.MetricsCollector) *CleanupJob {
	return &CleanupJob{
		challenges: challenges,
		accounts:   accounts,
		logger:     logger,
		metrics:    collector,
		now:        time.Now,
	}
}

// Run は期限切れのチャレンジを1回削除する。
// 一方の削除に失敗しても他方は実行し、両方のエラーをまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now()

	var errs []error
	var challengesDeleted, slotsCleared int64

	if j.challenges != nil {
		n, err := j.challenges.DeleteExpired(ctx, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to purge otp challenges: %w", err))
		}
		challengesDeleted = n
	}

	if j.accounts != nil {
		n, err := j.accounts.ClearExpiredOTP(ctx, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to clear account otp slots: %w", err))
		}
		slotsCleared = n
	}

	total := challengesDeleted + slotsCleared
	if j.metrics != nil && total > 0 {
		j.metrics.RecordChallengesPurged(int(total))
	}

	if err := errors.Join(errs...); err != nil {
		j.logger.Error("otp cleanup failed", slog.String("error", err.Error()))
		return err
	}

	j.logger.Info("otp cleanup completed",
		slog.Int64("challenges_deleted", challengesDeleted),
		slog.Int64("slots_cleared", slotsCleared),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後interval間隔で実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("otp cleanup started", slog.Duration("interval", interval))

	// 失敗は Run 内でログ出力済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("otp cleanup stopped")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
