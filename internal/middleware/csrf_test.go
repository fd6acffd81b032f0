package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testCSRFToken = "csrf-token-value"

func csrfCookieFrom(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == csrfCookieName {
			return c
		}
	}
	return nil
}

func newCSRFTestHandler(called *bool) http.Handler {
	return NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCSRFMiddleware_SafeMethodsSkipValidation(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			called := false
			w := httptest.NewRecorder()
			newCSRFTestHandler(&called).ServeHTTP(w, httptest.NewRequest(method, "/api/admin/accounts", nil))

			if !called || w.Code != http.StatusOK {
				t.Errorf("%s はトークンなしで通過すべき: status = %d", method, w.Code)
			}
		})
	}
}

func TestCSRFMiddleware_StateChangingRequests(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		cookie     string
		header     string
		bearer     string
		session    bool
		wantStatus int
	}{
		{name: "matching tokens", method: http.MethodPost, cookie: testCSRFToken, header: testCSRFToken, session: true, wantStatus: http.StatusOK},
		{name: "matching tokens on PUT", method: http.MethodPut, cookie: testCSRFToken, header: testCSRFToken, session: true, wantStatus: http.StatusOK},
		{name: "missing cookie", method: http.MethodPost, header: testCSRFToken, session: true, wantStatus: http.StatusForbidden},
		{name: "missing header", method: http.MethodPost, cookie: testCSRFToken, session: true, wantStatus: http.StatusForbidden},
		{name: "mismatch", method: http.MethodPost, cookie: testCSRFToken, header: "other", session: true, wantStatus: http.StatusForbidden},
		{name: "PATCH without tokens", method: http.MethodPatch, session: true, wantStatus: http.StatusForbidden},
		{name: "DELETE without tokens", method: http.MethodDelete, session: true, wantStatus: http.StatusForbidden},
		{name: "no credentials at all", method: http.MethodPost, wantStatus: http.StatusForbidden},
		{name: "bearer only skips check", method: http.MethodPost, bearer: "api-token", wantStatus: http.StatusOK},
		{name: "bearer with session cookie is checked", method: http.MethodPost, bearer: "api-token", session: true, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/admin/accounts/a1/disable", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}
			if tt.session {
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "session-token"})
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}

			called := false
			w := httptest.NewRecorder()
			newCSRFTestHandler(&called).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
			if tt.wantStatus == http.StatusForbidden {
				var body ErrorResponseBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode: %v", err)
				}
				if body.Code != "CSRF_TOKEN_INVALID" || body.Category != "auth" {
					t.Errorf("body = %+v", body)
				}
			}
		})
	}
}

func TestCSRFMiddleware_SafeMethodIssuesCookieOnce(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{CookieSecure: true, CookieDomain: "portal.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/accounts", nil))

	c := csrfCookieFrom(w.Result())
	if c == nil {
		t.Fatal("CSRFトークンCookieが設定されていない")
	}
	if c.Value == "" || c.HttpOnly || !c.Secure || c.Path != "/" || c.MaxAge != csrfCookieMaxAge {
		t.Errorf("Cookie属性が不正: %+v", c)
	}
	if c.Domain != "portal.example.com" {
		t.Errorf("Domain = %q", c.Domain)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/accounts", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: testCSRFToken})
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if csrfCookieFrom(w.Result()) != nil {
		t.Error("既存のCSRFトークンCookieを上書きしてはならない")
	}
}

func TestCSRFTokenHandler(t *testing.T) {
	t.Run("issues new token", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		c := csrfCookieFrom(w.Result())
		if c == nil || body["token"] == "" || body["token"] != c.Value {
			t.Errorf("token = %q, cookie = %+v", body["token"], c)
		}
		if got := w.Header().Get("Cache-Control"); got != "no-store" {
			t.Errorf("Cache-Control = %q", got)
		}
	})

	t.Run("returns existing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: testCSRFToken})
		w := httptest.NewRecorder()
		NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP(w, req)

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if body["token"] != testCSRFToken {
			t.Errorf("token = %q, want %q", body["token"], testCSRFToken)
		}
		if csrfCookieFrom(w.Result()) != nil {
			t.Error("既存トークンがある場合はCookieを再設定しない")
		}
	})
}

func TestNewCSRFToken_Unique(t *testing.T) {
	a, err := newCSRFToken()
	if err != nil {
		t.Fatalf("newCSRFToken: %v", err)
	}
	b, err := newCSRFToken()
	if err != nil {
		t.Fatalf("newCSRFToken: %v", err)
	}
	if a == b || len(a) != 43 {
		t.Errorf("tokens = %q / %q", a, b)
	}
}
