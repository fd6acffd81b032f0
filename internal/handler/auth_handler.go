// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/bizportal/internal/auth"
	"github.com/hitoshi/bizportal/internal/middleware"
	"github.com/hitoshi/bizportal/internal/model"
	"github.com/hitoshi/bizportal/internal/otp"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分

	// maxRequestBodyBytes はJSONリクエストボディの上限。
	maxRequestBodyBytes = 1 << 20
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Session, error)
	LoginWithPassword(ctx context.Context, email, password string) (*auth.Session, error)
	RequestOTP(ctx context.Context, claim string) (*otp.Issued, error)
	LoginWithOTP(ctx context.Context, claim, code string) (*auth.Session, error)
	LoginWithFirebase(ctx context.Context, idToken string) (*auth.Session, error)
	GetGoogleLoginURL(state string) (string, error)
	HandleGoogleCallback(ctx context.Context, code string) (*auth.Session, error)
	CurrentAccount(ctx context.Context, subjectID string) (*model.Account, error)
	RecordLogout(ctx context.Context, subjectID string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Cookie middleware.CookieConfig
	// LoginPath はOAuth失敗時とログアウト後のリダイレクト先。
	LoginPath string
	// UserHomePath と AdminHomePath はOAuthログイン成功後のロール別リダイレクト先。
	UserHomePath  string
	AdminHomePath string
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	verifier middleware.TokenVerifier
	config   AuthHandlerConfig
	validate *validator.Validate
}

// NewAuthHandler はAuthHandlerを生成する。
// verifierはログアウト時に監査ログの主体を特定するために使う。nilでもよい。
func NewAuthHandler(service AuthServiceInterface, verifier middleware.TokenVerifier, config AuthHandlerConfig) *AuthHandler {
	if config.LoginPath == "" {
		config.LoginPath = "/login"
	}
	if config.UserHomePath == "" {
		config.UserHomePath = "/dashboard"
	}
	if config.AdminHomePath == "" {
		config.AdminHomePath = "/admin"
	}
	return &AuthHandler{
		service:  service,
		verifier: verifier,
		config:   config,
		validate: validator.New(),
	}
}

type registerRequest struct {
	Name       string `json:"name" validate:"max=100"`
	Email      string `json:"email" validate:"required,email,max=254"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
	Phone      string `json:"phone" validate:"omitempty,max=32"`
	Company    string `json:"company" validate:"max=200"`
	Address    string `json:"address" validate:"max=500"`
	Department string `json:"department" validate:"max=200"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

type otpRequestRequest struct {
	Claim string `json:"claim" validate:"required,max=254"`
}

type otpVerifyRequest struct {
	Claim string `json:"claim" validate:"required,max=254"`
	Code  string `json:"code" validate:"required,len=6,number"`
}

type firebaseLoginRequest struct {
	IDToken string `json:"idToken" validate:"required"`
}

// accountResponse はアカウント情報のAPIレスポンス。パスワードハッシュとOTPスロットは含めない。
type accountResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Role          string    `json:"role"`
	AuthProvider  string    `json:"authProvider"`
	EmailVerified bool      `json:"emailVerified"`
	Disabled      bool      `json:"disabled"`
	Company       string    `json:"company,omitempty"`
	Address       string    `json:"address,omitempty"`
	Department    string    `json:"department,omitempty"`
	Image         string    `json:"image,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type sessionResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Account   accountResponse `json:"account"`
}

type otpIssuedResponse struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

func toAccountResponse(a *model.Account) accountResponse {
	return accountResponse{
		ID:            a.ID,
		Name:          a.Name,
		Email:         a.Email,
		Phone:         a.Phone,
		Role:          string(a.Role),
		AuthProvider:  string(a.AuthProvider),
		EmailVerified: a.EmailVerified,
		Disabled:      a.Disabled,
		Company:       a.Company,
		Address:       a.Address,
		Department:    a.Department,
		Image:         a.Image,
		CreatedAt:     a.CreatedAt,
	}
}

// Register はローカルアカウントを登録し、ログイン状態にする。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	session, err := h.service.Register(r.Context(), auth.RegisterInput{
		Name:       req.Name,
		Email:      req.Email,
		Password:   req.Password,
		Phone:      req.Phone,
		Company:    req.Company,
		Address:    req.Address,
		Department: req.Department,
	})
	if err != nil {
		writeAuthError(w, err)
		return
	}

	h.writeSession(w, http.StatusCreated, session)
}

// Login はemailとパスワードでログインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	session, err := h.service.LoginWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	h.writeSession(w, http.StatusOK, session)
}

// RequestOTP はワンタイムコードを発行し、宛先に配信する。
// POST /api/auth/otp/request
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequestRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	issued, err := h.service.RequestOTP(r.Context(), req.Claim)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, otpIssuedResponse{ExpiresAt: issued.ExpiresAt})
}

// VerifyOTP はコードを検証してログインする。初回はアカウントを作成する。
// POST /api/auth/otp/verify
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	session, err := h.service.LoginWithOTP(r.Context(), req.Claim, req.Code)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	h.writeSession(w, http.StatusOK, session)
}

// Firebase はFirebase IDトークンでログインする。
// POST /api/auth/firebase
func (h *AuthHandler) Firebase(w http.ResponseWriter, r *http.Request) {
	var req firebaseLoginRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	session, err := h.service.LoginWithFirebase(r.Context(), req.IDToken)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	h.writeSession(w, http.StatusOK, session)
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	loginURL, err := h.service.GetGoogleLoginURL(state)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("client_ip", middleware.ClientIP(r)))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("state"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	if oauthErr := r.URL.Query().Get("error"); oauthErr != "" {
		slog.Info("oauth consent not granted", slog.String("error", oauthErr))
		h.redirectToLogin(w, r, "google_cancelled")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("code"))
		return
	}

	session, err := h.service.HandleGoogleCallback(r.Context(), code)
	if err != nil {
		slog.Warn("oauth callback failed", slog.String("error", err.Error()))
		h.redirectToLogin(w, r, loginErrorCode(err))
		return
	}

	middleware.SetSessionCookie(w, h.config.Cookie, session.Token, session.ExpiresAt)
	http.Redirect(w, r, h.homePath(session.Account), http.StatusSeeOther)
}

func (h *AuthHandler) homePath(account *model.Account) string {
	if account != nil && account.IsAdmin() {
		return h.config.AdminHomePath
	}
	return h.config.UserHomePath
}

// Logout はセッションCookieを削除する。トークンはステートレスなのでサーバー側の状態はない。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.verifier != nil {
		if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
			if claims := h.verifier.Verify(cookie.Value); claims != nil {
				h.service.RecordLogout(r.Context(), claims.SubjectID)
			}
		}
	}

	middleware.ClearSessionCookie(w, h.config.Cookie)
	http.Redirect(w, r, h.config.LoginPath, http.StatusSeeOther)
}

// Me は現在ログインしているアカウントを返す。API認証ミドルウェアの内側で使う。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	account, err := h.service.CurrentAccount(r.Context(), claims.SubjectID)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// writeSession はセッションCookieを設定し、トークンとアカウントをJSONで返す。
func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, session *auth.Session) {
	middleware.SetSessionCookie(w, h.config.Cookie, session.Token, session.ExpiresAt)
	writeJSON(w, status, sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		Account:   toAccountResponse(session.Account),
	})
}

func (h *AuthHandler) redirectToLogin(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, h.config.LoginPath+"?error="+url.QueryEscape(code), http.StatusSeeOther)
}

// decodeValid はJSONボディをデコードして検証する。失敗時は400を書き込みfalseを返す。
func (h *AuthHandler) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeValidBody(w, r, h.validate, dst)
}

func decodeValidBody(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("request body must be valid JSON"))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(validationDetail(err)))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
