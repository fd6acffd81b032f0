package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/bizportal/internal/auth"
	"github.com/hitoshi/bizportal/internal/middleware"
	"github.com/hitoshi/bizportal/internal/model"
	"github.com/hitoshi/bizportal/internal/otp"
	"github.com/hitoshi/bizportal/internal/token"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn       func(ctx context.Context, in auth.RegisterInput) (*auth.Session, error)
	loginFn          func(ctx context.Context, email, password string) (*auth.Session, error)
	requestOTPFn     func(ctx context.Context, claim string) (*otp.Issued, error)
	loginOTPFn       func(ctx context.Context, claim, code string) (*auth.Session, error)
	loginFirebaseFn  func(ctx context.Context, idToken string) (*auth.Session, error)
	googleURLFn      func(state string) (string, error)
	googleCallbackFn func(ctx context.Context, code string) (*auth.Session, error)
	currentFn        func(ctx context.Context, subjectID string) (*model.Account, error)

	loggedOut []string
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput) (*auth.Session, error) {
	return m.registerFn(ctx, in)
}

func (m *mockAuthService) LoginWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	return m.loginFn(ctx, email, password)
}

func (m *mockAuthService) RequestOTP(ctx context.Context, claim string) (*otp.Issued, error) {
	return m.requestOTPFn(ctx, claim)
}

func (m *mockAuthService) LoginWithOTP(ctx context.Context, claim, code string) (*auth.Session, error) {
	return m.loginOTPFn(ctx, claim, code)
}

func (m *mockAuthService) LoginWithFirebase(ctx context.Context, idToken string) (*auth.Session, error) {
	return m.loginFirebaseFn(ctx, idToken)
}

func (m *mockAuthService) GetGoogleLoginURL(state string) (string, error) {
	return m.googleURLFn(state)
}

func (m *mockAuthService) HandleGoogleCallback(ctx context.Context, code string) (*auth.Session, error) {
	return m.googleCallbackFn(ctx, code)
}

func (m *mockAuthService) CurrentAccount(ctx context.Context, subjectID string) (*model.Account, error) {
	return m.currentFn(ctx, subjectID)
}

func (m *mockAuthService) RecordLogout(_ context.Context, subjectID string) {
	m.loggedOut = append(m.loggedOut, subjectID)
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

type mockAccountService struct {
	listFn        func(ctx context.Context, limit, offset int) ([]*model.Account, error)
	setDisabledFn func(ctx context.Context, actorID, accountID string, disabled bool) (*model.Account, error)
}

func (m *mockAccountService) List(ctx context.Context, limit, offset int) ([]*model.Account, error) {
	return m.listFn(ctx, limit, offset)
}

func (m *mockAccountService) SetDisabled(ctx context.Context, actorID, accountID string, disabled bool) (*model.Account, error) {
	return m.setDisabledFn(ctx, actorID, accountID, disabled)
}

var _ AccountServiceInterface = (*mockAccountService)(nil)

type mockStatusChecker struct {
	blocked map[string]bool
}

func (m *mockStatusChecker) IsBlocked(_ context.Context, subjectID string) (bool, error) {
	return m.blocked[subjectID], nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error {
	return m.err
}

// --- ヘルパー ---

func newTestCodec(t *testing.T) *token.Codec {
	t.Helper()
	codec, err := token.NewCodec([]byte("handler-test-secret"))
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	return codec
}

func mintToken(t *testing.T, codec *token.Codec, subject string, role model.Role) string {
	t.Helper()
	tok, err := codec.Mint(token.Claims{SubjectID: subject, Email: subject + "@example.com", Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	return tok
}

func testAccount(id string) *model.Account {
	return &model.Account{
		ID:            id,
		Name:          "Taro",
		Email:         id + "@example.com",
		PasswordHash:  "$2a$10$secret",
		OTPHash:       "otp-secret",
		Role:          model.RoleUser,
		AuthProvider:  model.ProviderLocal,
		EmailVerified: true,
		CreatedAt:     time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testSession(id string) *auth.Session {
	return &auth.Session{
		Token:     "tok-" + id,
		ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second),
		Account:   testAccount(id),
	}
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withClaims(r *http.Request, subject string, role model.Role) *http.Request {
	ctx := middleware.ContextWithClaims(r.Context(), &token.Claims{SubjectID: subject, Role: role})
	return r.WithContext(ctx)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
