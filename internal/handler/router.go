package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/bizportal/internal/metrics"
	"github.com/hitoshi/bizportal/internal/middleware"
	"github.com/hitoshi/bizportal/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 観測
	Logger        *slog.Logger
	Metrics       metrics.MetricsCollector
	Gatherer      prometheus.Gatherer
	HealthChecker HealthChecker

	// ミドルウェア依存
	CORSAllowedOrigin string
	// TrustProxyHeaders が真の場合、X-Forwarded-For等からクライアントIPを復元する。
	TrustProxyHeaders bool
	RateLimiter       *middleware.RateLimiter
	TokenVerifier     middleware.TokenVerifier
	StatusChecker     middleware.AccountStatusChecker
	Cookie            middleware.CookieConfig
	Routes            middleware.Routes

	// 認証
	AuthService AuthServiceInterface

	// 管理
	AccountService AccountServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// グローバルミドルウェアの実行順序:
//
//	(RealIP) → Recovery → Logging → ClientIP → SecurityHeaders → CORS
//
// ログインAPIはレート制限のみ、/api/auth/me と /api/admin はAPI認証とCSRF検証、
// ページはページセッションミドルウェアの内側に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewClientIPMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.Cookie.Secure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	routes := deps.Routes
	if routes.LoginPath == "" {
		routes = middleware.DefaultRoutes()
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.TokenVerifier, AuthHandlerConfig{
		Cookie:        deps.Cookie,
		LoginPath:     routes.LoginPath,
		UserHomePath:  routes.UserHome,
		AdminHomePath: routes.AdminHome,
	})
	adminHandler := NewAdminHandler(deps.AccountService)
	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.Cookie.Secure,
		CookieDomain: deps.Cookie.Domain,
	}

	// --- 運用 ---
	r.Get("/health", HealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- ログインAPI（認証不要・IP単位のレート制限） ---
	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())

			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/firebase", authHandler.Firebase)
			r.Post("/otp/verify", authHandler.VerifyOTP)
			// 発行はコード配信を伴うため、より厳しい制限を追加する
			r.With(deps.RateLimiter.OTPRequestMiddleware()).Post("/otp/request", authHandler.RequestOTP)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAPIAuthMiddleware(deps.TokenVerifier, deps.StatusChecker))
			r.Get("/me", authHandler.Me)
		})
	})

	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))

	// --- 管理API ---
	// ミドルウェアスタック: APIAuth → RequireRole(admin) → CSRF
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.NewAPIAuthMiddleware(deps.TokenVerifier, deps.StatusChecker))
		r.Use(middleware.RequireRole(model.RoleAdmin))
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))

		r.Get("/accounts", adminHandler.ListAccounts)
		r.Post("/accounts/{id}/disable", adminHandler.DisableAccount)
		r.Post("/accounts/{id}/enable", adminHandler.EnableAccount)
	})

	// --- OAuthフロー（ブラウザ遷移） ---
	r.Route("/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.AuthMiddleware()).Get("/google/login", authHandler.GoogleLogin)
		r.Get("/google/callback", authHandler.GoogleCallback)
		r.Post("/logout", authHandler.Logout)
	})

	// --- ページ ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewPageSessionMiddleware(
			middleware.NewGate(deps.TokenVerifier, routes),
			deps.Cookie,
			deps.StatusChecker,
		))

		r.Get("/", PageHandler("bizportal"))
		r.Get(routes.LoginPath, PageHandler("ログイン"))
		r.Get("/register", PageHandler("新規登録"))
		r.Get(routes.UserPrefix, PageHandler("ダッシュボード"))
		r.Get(routes.UserPrefix+"/*", PageHandler("ダッシュボード"))
		r.Get(routes.AdminPrefix, PageHandler("管理画面"))
		r.Get(routes.AdminPrefix+"/*", PageHandler("管理画面"))
	})

	return r
}
