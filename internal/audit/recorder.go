// Package audit はセキュリティ関連イベントの監査記録を提供する。
// 記録はベストエフォートで行い、失敗しても認証処理は継続する。
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/bizportal/internal/model"
	"github.com/hitoshi/bizportal/internal/repository"
)

// イベント種別
const (
	EventLoginSuccess    = "login_success"
	EventLoginFailure    = "login_failure"
	EventAccountCreated  = "account_created"
	EventAccountLinked   = "account_linked"
	EventOTPIssued       = "otp_issued"
	EventOTPRejected     = "otp_rejected"
	EventAccountDisabled = "account_disabled"
	EventAccountEnabled  = "account_enabled"
	EventLogout          = "logout"
)

const (
	defaultBufferSize = 256
	insertTimeout     = 5 * time.Second
)

type ctxKey struct{}

// WithClientIP はリクエスト元IPをコンテキストに保持する。Recordが参照する。
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKey{}, ip)
}

// ClientIPFromContext はコンテキストのリクエスト元IPを返す。
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKey{}).(string)
	return ip
}

// Recorder は監査イベントをログに出力し、非同期に永続化する。
type Recorder struct {
	repo    repository.AuditRepository
	ch      chan *model.AuditEvent
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	closed  atomic.Bool
	once    sync.Once
	now     func() time.Time
}

// NewRecorder はRecorderを生成し、書き込みゴルーチンを開始する。
// repoがnilの場合はログ出力のみ行う。
func NewRecorder(repo repository.AuditRepository, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	r := &Recorder{
		repo: repo,
		ch:   make(chan *model.AuditEvent, bufferSize),
		done: make(chan struct{}),
		now:  time.Now,
	}
	if repo != nil {
		r.wg.Add(1)
		go r.run()
	}
	return r
}

// Record はイベントを記録する。バッファが満杯の場合は永続化を諦めて破棄する。
func (r *Recorder) Record(ctx context.Context, e model.AuditEvent) {
	if r == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	if e.IP == "" {
		e.IP = ClientIPFromContext(ctx)
	}

	level := slog.LevelInfo
	if e.Type == EventLoginFailure || e.Type == EventOTPRejected {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "audit",
		slog.String("event", e.Type),
		slog.String("account_id", e.AccountID),
		slog.String("provider", string(e.Provider)),
		slog.String("reason", e.Reason),
		slog.String("ip", e.IP),
	)

	if r.repo == nil || r.closed.Load() {
		return
	}
	select {
	case r.ch <- &e:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.ch:
			r.insert(e)
		case <-r.done:
			for {
				select {
				case e := <-r.ch:
					r.insert(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) insert(e *model.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	if err := r.repo.Insert(ctx, e); err != nil {
		slog.Error("failed to persist audit event",
			slog.String("event", e.Type),
			slog.String("error", err.Error()),
		)
	}
}

// Dropped はバッファ溢れで永続化されなかったイベント数を返す。
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close は未処理のイベントを書き出してから停止する。
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()
	})
}
