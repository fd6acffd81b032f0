package middleware

import (
	"net/http"
	"strings"

	"github.com/hitoshi/bizportal/internal/model"
)

// bearerToken はAuthorizationヘッダーのBearerトークンを返す。
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// NewAPIAuthMiddleware はAPIルート用の認証ミドルウェアを返す。
// セッションCookieまたはBearerトークンを検証し、クレームをコンテキストに注入する。
// ページと異なりリダイレクトせず、401/403のJSONエラーを返す。
func NewAPIAuthMiddleware(verifier TokenVerifier, checker AccountStatusChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := sessionCookieValue(r)
			if raw == "" {
				raw = bearerToken(r)
			}
			if raw == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			claims := verifier.Verify(raw)
			if claims == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if checker != nil && isBlocked(r.Context(), checker, claims.SubjectID) {
				WriteErrorResponse(w, http.StatusForbidden, model.NewAccountDisabledError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole はトークンのロールが一致しない場合に403を返すミドルウェアを返す。
// NewAPIAuthMiddlewareの後に配置する。
func RequireRole(role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if claims.Role != role {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
