package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/bizportal/internal/middleware"
	"github.com/hitoshi/bizportal/internal/model"
)

// AccountServiceInterface は管理者ハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	List(ctx context.Context, limit, offset int) ([]*model.Account, error)
	SetDisabled(ctx context.Context, actorID, accountID string, disabled bool) (*model.Account, error)
}

// AdminHandler は管理者向けアカウント管理のHTTPハンドラー。
// ルーティング側でRequireRole(admin)を適用する前提とする。
type AdminHandler struct {
	service AccountServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AccountServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

type accountListResponse struct {
	Accounts []accountResponse `json:"accounts"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// ListAccounts はアカウント一覧を返す。
// GET /api/admin/accounts?limit=50&offset=0
func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}

	accounts, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	resp := accountListResponse{
		Accounts: make([]accountResponse, 0, len(accounts)),
		Limit:    limit,
		Offset:   offset,
	}
	for _, a := range accounts {
		resp.Accounts = append(resp.Accounts, toAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DisableAccount はアカウントを無効化する。
// POST /api/admin/accounts/{id}/disable
func (h *AdminHandler) DisableAccount(w http.ResponseWriter, r *http.Request) {
	h.setDisabled(w, r, true)
}

// EnableAccount はアカウントを再有効化する。
// POST /api/admin/accounts/{id}/enable
func (h *AdminHandler) EnableAccount(w http.ResponseWriter, r *http.Request) {
	h.setDisabled(w, r, false)
}

func (h *AdminHandler) setDisabled(w http.ResponseWriter, r *http.Request, disabled bool) {
	actorID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("id"))
		return
	}

	account, err := h.service.SetDisabled(r.Context(), actorID, accountID, disabled)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// queryInt は省略可能な整数クエリパラメータを読み取る。不正な値の場合は400を書き込む。
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(name))
		return 0, false
	}
	return v, true
}
