package handler

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/bizportal/internal/account"
	"github.com/hitoshi/bizportal/internal/auth"
	"github.com/hitoshi/bizportal/internal/credential"
	"github.com/hitoshi/bizportal/internal/middleware"
	"github.com/hitoshi/bizportal/internal/model"
	"github.com/hitoshi/bizportal/internal/otp"
)

// writeAuthError はサービス層のエラーをHTTPステータスと統一エラーフォーマットに変換する。
// 想定外のエラーは詳細をログにのみ残し、500を返す。
func writeAuthError(w http.ResponseWriter, err error) {
	var mismatch *auth.ProviderMismatchError
	var tooSoon *otp.TooSoonError

	switch {
	case errors.As(err, &mismatch):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewProviderMismatchError(mismatch.Provider))
	case errors.As(err, &tooSoon):
		secs := int(math.Ceil(tooSoon.Wait.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		middleware.WriteErrorResponse(w, http.StatusTooManyRequests, model.NewOTPTooSoonError(secs))
	case errors.Is(err, otp.ErrTooSoon):
		middleware.WriteErrorResponse(w, http.StatusTooManyRequests, model.NewOTPTooSoonError(int(otp.DefaultResendInterval.Seconds())))
	case errors.Is(err, auth.ErrInvalidCredentials):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
	case errors.Is(err, credential.ErrInvalidCodeFormat):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(credential.ErrInvalidCodeFormat.Error()))
	case errors.Is(err, otp.ErrInvalidCode),
		errors.Is(err, otp.ErrChallengeNotFound),
		errors.Is(err, otp.ErrChallengeExpired):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewOTPInvalidError())
	case errors.Is(err, auth.ErrIdentityUnverified):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
	case errors.Is(err, model.ErrAccountDisabled):
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewAccountDisabledError())
	case errors.Is(err, model.ErrAccountConflict):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewAccountExistsError())
	case errors.Is(err, otp.ErrInvalidClaim):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("claim must be an email address or phone number"))
	case errors.Is(err, credential.ErrEmptyInput), errors.Is(err, credential.ErrPasswordTooLong):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(err.Error()))
	case errors.Is(err, otp.ErrDeliveryFailed):
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewDeliveryFailedError())
	case errors.Is(err, auth.ErrProviderUnavailable):
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewProviderUnavailableError())
	case errors.Is(err, account.ErrAccountNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewAccountNotFoundError())
	case errors.Is(err, account.ErrSelfDisable):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("cannot disable your own account"))
	default:
		slog.Error("unhandled service error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}

// loginErrorCode はリダイレクト型のログインフローで画面に渡すエラーコードを返す。
func loginErrorCode(err error) string {
	switch {
	case errors.Is(err, model.ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, auth.ErrProviderUnavailable):
		return "provider_unavailable"
	default:
		return "google_failed"
	}
}

// validationDetail は検証エラーを不備のあるフィールド名の一覧に変換する。
func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
	}
	return strings.Join(fields, ", ")
}
