// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス・ミドルウェア・ワーカーから利用する。
type MetricsCollector interface {
	RecordLoginSuccess(provider string)
	RecordLoginFailure(provider string, reason string)
	RecordAccountCreated(provider string)
	RecordOTPIssued(channel string)
	RecordOTPRejected(reason string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordChallengesPurged(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginSuccess     *prometheus.CounterVec
	loginFailure     *prometheus.CounterVec
	accountsCreated  *prometheus.CounterVec
	otpIssued        *prometheus.CounterVec
	otpRejected      *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	requestLatency   prometheus.Histogram
	challengesPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_login_success_total",
			Help: "プロバイダー別のログイン成功数",
		}, []string{"provider"}),
		loginFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_login_failure_total",
			Help: "プロバイダー・理由別のログイン失敗数",
		}, []string{"provider", "reason"}),
		accountsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_accounts_created_total",
			Help: "プロバイダー別のアカウント作成数",
		}, []string{"provider"}),
		otpIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_otp_issued_total",
			Help: "チャネル別のOTP発行数",
		}, []string{"channel"}),
		otpRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_otp_rejected_total",
			Help: "理由別のOTP発行・検証の拒否数",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bizportal_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bizportal_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		challengesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bizportal_otp_challenges_purged_total",
			Help: "クリーンアップで削除された期限切れOTPの合計数",
		}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFailure,
		c.accountsCreated,
		c.otpIssued,
		c.otpRejected,
		c.httpStatus,
		c.requestLatency,
		c.challengesPurged,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess(provider string) {
	c.loginSuccess.WithLabelValues(provider).Inc()
}

// RecordLoginFailure はログイン失敗を記録する。
func (c *Collector) RecordLoginFailure(provider string, reason string) {
	c.loginFailure.WithLabelValues(provider, reason).Inc()
}

// RecordAccountCreated はアカウント作成を記録する。
func (c *Collector) RecordAccountCreated(provider string) {
	c.accountsCreated.WithLabelValues(provider).Inc()
}

// RecordOTPIssued はOTP発行を記録する。
func (c *Collector) RecordOTPIssued(channel string) {
	c.otpIssued.WithLabelValues(channel).Inc()
}

// RecordOTPRejected はOTPの拒否を記録する。
func (c *Collector) RecordOTPRejected(reason string) {
	c.otpRejected.WithLabelValues(reason).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordChallengesPurged はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordChallengesPurged(count int) {
	c.challengesPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 収集中のエラーは取得できた分だけ返し、スクレイプ全体を失敗させない。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
