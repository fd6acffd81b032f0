package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hitoshi/bizportal/internal/account"
	"github.com/hitoshi/bizportal/internal/audit"
	"github.com/hitoshi/bizportal/internal/auth"
	"github.com/hitoshi/bizportal/internal/config"
	"github.com/hitoshi/bizportal/internal/database"
	"github.com/hitoshi/bizportal/internal/handler"
	"github.com/hitoshi/bizportal/internal/logger"
	"github.com/hitoshi/bizportal/internal/mail"
	"github.com/hitoshi/bizportal/internal/metrics"
	"github.com/hitoshi/bizportal/internal/middleware"
	"github.com/hitoshi/bizportal/internal/model"
	"github.com/hitoshi/bizportal/internal/otp"
	"github.com/hitoshi/bizportal/internal/repository"
	"github.com/hitoshi/bizportal/internal/token"
	"github.com/hitoshi/bizportal/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	auditBufferSize  = 256
	shutdownTimeout  = 30 * time.Second
	redisPingTimeout = 5 * time.Second
	devSecretLength  = 32
	mailSubject      = "Your sign-in code"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込み、ログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルを反映する
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		slog.Warn("invalid LOG_LEVEL, falling back to info", slog.String("error", err.Error()))
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.Env),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.WithMaxOpenConns(cfg.DBMaxOpenConns))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	challengeRepo := repository.NewPostgresChallengeRepo(db)
	auditRepo := repository.NewPostgresAuditRepo(db)

	// 3. メトリクスと監査
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	recorder := audit.NewRecorder(auditRepo, auditBufferSize)
	defer recorder.Close()

	// 4. OTPエンジン
	emailStore, closeStore, err := newEmailChallengeStore(ctx, cfg, challengeRepo)
	if err != nil {
		return err
	}
	defer closeStore()
	phoneStore := otp.NewAccountChallengeStore(accountRepo, emailStore)

	emailSender, smsSender, closeSenders := newSenders(cfg)
	defer closeSenders()

	otpEngine := otp.NewEngine(accountRepo, emailStore, phoneStore, emailSender, smsSender, otp.EngineConfig{
		TTL:                   cfg.OTPTTL,
		ResendInterval:        cfg.OTPResendInterval,
		RollbackOnSendFailure: cfg.OTPRollbackOnSendFailure,
	})

	// 5. トークン
	secret, err := signingSecret(cfg)
	if err != nil {
		return err
	}
	codec, err := token.NewCodec(secret, token.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return fmt.Errorf("failed to create token codec: %w", err)
	}

	// 6. 外部プロバイダー（未構成の場合は無効）
	var oauthProvider auth.OAuthProvider
	if cfg.GoogleEnabled() {
		oauthProvider = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
	}

	var idTokenVerifier auth.IDTokenVerifier
	var syncer account.DisabledSyncer
	if cfg.FirebaseEnabled() {
		fbClient, err := auth.NewFirebaseAuthClient(ctx, auth.FirebaseConfig{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
		})
		if err != nil {
			return err
		}
		idTokenVerifier = auth.NewFirebaseVerifier(fbClient)
		fbSyncer := account.NewFirebaseDisabledSyncer(fbClient)
		defer fbSyncer.Wait()
		syncer = fbSyncer
	}

	slog.Info("identity providers configured",
		slog.Bool("google", oauthProvider != nil),
		slog.Bool("firebase", idTokenVerifier != nil),
		slog.String("mail_transport", cfg.MailTransport),
	)

	// 7. ドメインサービス
	authService := auth.NewService(
		accountRepo, codec, otpEngine, oauthProvider, idTokenVerifier,
		recorder, collector,
		auth.ServiceConfig{
			SessionTTL: cfg.SessionTTL,
			ProviderSessionTTL: map[model.Provider]time.Duration{
				model.ProviderGoogle: cfg.SessionTTLGoogle,
			},
		},
	)
	accountService := account.NewService(accountRepo, recorder, syncer)

	// 8. ルーターの構築（設定はreq/min単位なのでreq/secに変換する）
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           collector,
		Gatherer:          registry,
		HealthChecker:     db,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		RateLimiter:       rateLimiter,
		TokenVerifier:     codec,
		StatusChecker:     authService,
		Cookie: middleware.CookieConfig{
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
		},
		Routes:         middleware.DefaultRoutes(),
		AuthService:    authService,
		AccountService: accountService,
	}
	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-stop:
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れOTPの定期削除と、Kafka構成時はメール配信リレーを実行する。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	challengeRepo := repository.NewPostgresChallengeRepo(db)

	// 3. クリーンアップジョブの初期化
	collector := metrics.NewCollector(prometheus.NewRegistry())
	cleanupJob := cleanup.NewCleanupJob(challengeRepo, accountRepo, slog.Default(), collector)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("otp_cleanup_interval", cfg.OTPCleanupInterval),
		slog.Bool("mail_relay", cfg.MailTransport == config.MailTransportKafka),
	)

	var wg sync.WaitGroup

	// 4. メール配信リレー（送信イベントをKafkaから受け取り、SMTPで配信する）
	if cfg.MailTransport == config.MailTransportKafka {
		relay := mail.NewRelay(kafkaConfig(cfg), cfg.KafkaEmailTopic, cfg.KafkaGroupID, relayDeliverer(cfg))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("mail relay stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.OTPCleanupInterval)
	wg.Wait()

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// newEmailChallengeStore はemail宛てチャレンジの保存先を返す。
// REDIS_URL設定時はRedis、未設定時はPostgreSQLのテーブルを使う。
func newEmailChallengeStore(ctx context.Context, cfg *config.Config, repo repository.ChallengeRepository) (otp.ChallengeStore, func(), error) {
	if cfg.RedisURL == "" {
		return otp.NewRepositoryChallengeStore(repo), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established")
	return otp.NewRedisChallengeStore(client), func() { client.Close() }, nil
}

// newSenders はMAIL_TRANSPORTに応じたemail・SMSの送信手段を返す。
// SMSはKafka構成時のみ配信でき、それ以外は開発環境のログ出力か常に失敗する送信手段になる。
func newSenders(cfg *config.Config) (emailSender, smsSender otp.Sender, closeFn func()) {
	switch cfg.MailTransport {
	case config.MailTransportKafka:
		emailKafka := mail.NewKafkaSender(kafkaConfig(cfg), cfg.KafkaEmailTopic, mail.ChannelEmail)
		smsKafka := mail.NewKafkaSender(kafkaConfig(cfg), cfg.KafkaSMSTopic, mail.ChannelSMS)
		return emailKafka, smsKafka, func() {
			for _, s := range []*mail.KafkaSender{emailKafka, smsKafka} {
				if err := s.Close(); err != nil {
					slog.Warn("failed to close kafka writer", slog.String("error", err.Error()))
				}
			}
		}
	case config.MailTransportSMTP:
		emailSender = mail.NewSMTPSender(smtpConfig(cfg))
	default:
		emailSender = mail.NewLogSender(mail.ChannelEmail)
	}

	switch {
	case cfg.KafkaBroker != "":
		smsKafka := mail.NewKafkaSender(kafkaConfig(cfg), cfg.KafkaSMSTopic, mail.ChannelSMS)
		return emailSender, smsKafka, func() {
			if err := smsKafka.Close(); err != nil {
				slog.Warn("failed to close kafka writer", slog.String("error", err.Error()))
			}
		}
	case !cfg.IsProduction():
		return emailSender, mail.NewLogSender(mail.ChannelSMS), func() {}
	default:
		return emailSender, mail.NewUnavailableSender(mail.ChannelSMS), func() {}
	}
}

// relayDeliverer はリレーが最終配信に使う送信手段を返す。
func relayDeliverer(cfg *config.Config) mail.CodeSender {
	if cfg.SMTPHost != "" && cfg.SMTPFrom != "" {
		return mail.NewSMTPSender(smtpConfig(cfg))
	}
	slog.Warn("SMTP is not configured, relay will only log codes")
	return mail.NewLogSender(mail.ChannelEmail)
}

func kafkaConfig(cfg *config.Config) mail.KafkaConfig {
	return mail.KafkaConfig{
		Broker:   cfg.KafkaBroker,
		Username: cfg.KafkaUsername,
		Password: cfg.KafkaPassword,
	}
}

func smtpConfig(cfg *config.Config) mail.SMTPConfig {
	return mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		Subject:  mailSubject,
	}
}

// rateLimiterConfig は設定値（req/min/IP）からレート制限の設定を組み立てる。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitAuth > 0 {
		rl.AuthRate = rate.Limit(float64(cfg.RateLimitAuth) / 60.0)
		rl.AuthBurst = cfg.RateLimitAuth
	}
	if cfg.RateLimitOTP > 0 {
		rl.OTPRate = rate.Limit(float64(cfg.RateLimitOTP) / 60.0)
		rl.OTPBurst = cfg.RateLimitOTP
	}
	return rl
}

// signingSecret はトークン署名鍵を返す。
// 本番以外でJWT_SECRETが未設定の場合はプロセス限りのランダムな鍵を生成する。
func signingSecret(cfg *config.Config) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	if cfg.IsProduction() {
		return nil, errors.New("JWT_SECRET is required in production")
	}

	secret := make([]byte, devSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	slog.Warn("JWT_SECRET is not set, using an ephemeral secret; sessions will not survive restarts")
	return secret, nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
