package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/hitoshi/bizportal/internal/model"
	"github.com/hitoshi/bizportal/internal/token"
)

// Action はページリクエストに対する判定結果。
type Action int

const (
	// Allow はリクエストをそのまま通す。
	Allow Action = iota
	// Redirect はLocationへリダイレクトする。
	Redirect
)

// Decision はGate.Decideの判定結果。
type Decision struct {
	Action      Action
	Location    string
	ClearCookie bool
	Claims      *token.Claims // 有効なトークンがある場合のみ
}

// Routes はページ領域の定義。
type Routes struct {
	LoginPath      string
	AuthEntryPaths []string // 認証済みならホームへ戻すページ
	AdminPrefix    string   // role=adminが必要
	AdminHome      string
	UserPrefix     string // 任意のロールの認証が必要
	UserHome       string
}

// DefaultRoutes は既定のページ領域を返す。
func DefaultRoutes() Routes {
	return Routes{
		LoginPath:      "/login",
		AuthEntryPaths: []string{"/login", "/register"},
		AdminPrefix:    "/admin",
		AdminHome:      "/admin",
		UserPrefix:     "/dashboard",
		UserHome:       "/dashboard",
	}
}

// Gate はページリクエストの通過可否を (パス, Cookie) のみから判定する。
type Gate struct {
	verifier TokenVerifier
	routes   Routes
}

// NewGate はGateを生成する。
func NewGate(verifier TokenVerifier, routes Routes) *Gate {
	return &Gate{verifier: verifier, routes: routes}
}

// Decide はリクエストパスとセッションCookieの値から判定結果を返す。副作用はない。
//
//   - 認証ページに有効なトークンで来た場合はロールに応じたホームへ
//   - 保護領域でトークンなしはログインへ
//   - 保護領域で無効・期限切れのトークンはログインへ（Cookie削除）
//   - 管理領域でrole≠adminはユーザーホームへ
//   - それ以外は通過
func (g *Gate) Decide(reqPath, cookieValue string) Decision {
	reqPath = cleanPath(reqPath)

	var claims *token.Claims
	if cookieValue != "" {
		claims = g.verifier.Verify(cookieValue)
	}
	deadCookie := cookieValue != "" && claims == nil

	if g.isAuthEntry(reqPath) {
		if claims != nil {
			return Decision{Action: Redirect, Location: g.home(claims.Role), Claims: claims}
		}
		return Decision{Action: Allow, ClearCookie: deadCookie}
	}

	adminArea := underPrefix(reqPath, g.routes.AdminPrefix)
	userArea := underPrefix(reqPath, g.routes.UserPrefix)
	if !adminArea && !userArea {
		return Decision{Action: Allow, Claims: claims}
	}

	if cookieValue == "" {
		return Decision{Action: Redirect, Location: g.routes.LoginPath}
	}
	if claims == nil {
		return Decision{Action: Redirect, Location: g.routes.LoginPath, ClearCookie: true}
	}
	if adminArea && claims.Role != model.RoleAdmin {
		return Decision{Action: Redirect, Location: g.routes.UserHome, Claims: claims}
	}
	return Decision{Action: Allow, Claims: claims}
}

// IsProtected はパスが認証を要する領域かを返す。
func (g *Gate) IsProtected(reqPath string) bool {
	reqPath = cleanPath(reqPath)
	return underPrefix(reqPath, g.routes.AdminPrefix) || underPrefix(reqPath, g.routes.UserPrefix)
}

func (g *Gate) isAuthEntry(p string) bool {
	for _, entry := range g.routes.AuthEntryPaths {
		if p == entry {
			return true
		}
	}
	return false
}

func (g *Gate) home(role model.Role) string {
	if role == model.RoleAdmin {
		return g.routes.AdminHome
	}
	return g.routes.UserHome
}

// cleanPath は"/admin/../x"のような表記で判定を回避されないよう正規化する。
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func underPrefix(p, prefix string) bool {
	if prefix == "" {
		return false
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// NewPageSessionMiddleware はGateの判定をページリクエストに適用するミドルウェアを返す。
// リダイレクトは303 See Otherで行う。checkerが指定された場合、保護領域では
// 無効化されたアカウントのトークンも拒否する（確認できない場合も拒否）。
func NewPageSessionMiddleware(gate *Gate, cookieConfig CookieConfig, checker AccountStatusChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := gate.Decide(r.URL.Path, sessionCookieValue(r))

			if d.Action == Allow && d.Claims != nil && checker != nil && gate.IsProtected(r.URL.Path) {
				if blocked := isBlocked(r.Context(), checker, d.Claims.SubjectID); blocked {
					d = Decision{Action: Redirect, Location: gate.routes.LoginPath, ClearCookie: true}
				}
			}

			if d.ClearCookie {
				ClearSessionCookie(w, cookieConfig)
			}
			if d.Action == Redirect {
				http.Redirect(w, r, d.Location, http.StatusSeeOther)
				return
			}

			ctx := r.Context()
			if d.Claims != nil {
				ctx = ContextWithClaims(ctx, d.Claims)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isBlocked(ctx context.Context, checker AccountStatusChecker, subjectID string) bool {
	blocked, err := checker.IsBlocked(ctx, subjectID)
	if err != nil {
		slog.Error("failed to check account status",
			slog.String("user_id", subjectID),
			slog.String("error", err.Error()),
		)
		return true
	}
	return blocked
}
