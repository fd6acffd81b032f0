package handler

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/bizportal/internal/middleware"
)

// pageTemplate はページの仮表示。画面の描画はフロントエンドが担う。
var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="ja">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
{{if .Email}}<p>{{.Email}} ({{.Role}})</p>
<form method="post" action="/auth/logout"><button type="submit">ログアウト</button></form>{{end}}
</body>
</html>
`))

type pageData struct {
	Title string
	Email string
	Role  string
}

// PageHandler はページセッションミドルウェアの内側で仮ページを返す。
func PageHandler(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := pageData{Title: title}
		if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
			data.Email = claims.Email
			data.Role = string(claims.Role)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := pageTemplate.Execute(w, data); err != nil {
			slog.Error("failed to render page", slog.String("error", err.Error()))
		}
	}
}
