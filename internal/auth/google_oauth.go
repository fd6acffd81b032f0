package auth

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/bizportal/internal/model"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	googleHTTPTimeout = 10 * time.Second
	// googleMaxBodyBytes はGoogleのレスポンスとして読み込む上限。
	googleMaxBodyBytes = 1 << 20
)

// GoogleOAuthConfig はGoogle OAuthの設定。AuthURL以下はテスト時のみ上書きする。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// GoogleOAuthProvider は認可コードフローでGoogleアカウントの本人情報を取得する。
// リフレッシュトークンは要求せず、取得したアクセストークンはユーザー情報の取得にのみ使う。
type GoogleOAuthProvider struct {
	config GoogleOAuthConfig
	client *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	config.AuthURL = cmp.Or(config.AuthURL, defaultGoogleAuthURL)
	config.TokenURL = cmp.Or(config.TokenURL, defaultGoogleTokenURL)
	config.UserInfoURL = cmp.Or(config.UserInfoURL, defaultGoogleUserInfoURL)
	return &GoogleOAuthProvider{
		config: config,
		client: &http.Client{Timeout: googleHTTPTimeout},
	}
}

// GetLoginURL はGoogleの同意画面URLを返す。アカウント選択を毎回表示する。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	q := url.Values{}
	q.Set("client_id", p.config.ClientID)
	q.Set("redirect_uri", p.config.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	q.Set("prompt", "select_account")
	return p.config.AuthURL + "?" + q.Encode()
}

// googleErrorBody はGoogleのOAuthエンドポイントが返すエラー本文。
type googleErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、本人情報を返す。
// email_verifiedがfalseのメールアドレスは照合に使えないため空にする。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", p.config.ClientID)
	form.Set("client_secret", p.config.ClientSecret)
	form.Set("redirect_uri", p.config.RedirectURL)
	form.Set("grant_type", "authorization_code")

	tokenReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := p.doJSON(tokenReq, &tok); err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("failed to exchange token: empty access token")
	}

	infoReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build user info request: %w", err)
	}
	infoReq.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	var info struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := p.doJSON(infoReq, &info); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if info.Sub == "" {
		return nil, errors.New("failed to fetch user info: empty sub")
	}

	email := info.Email
	if !info.EmailVerified {
		email = ""
	}
	return &OAuthUserInfo{
		ProviderUserID: info.Sub,
		Email:          email,
		Name:           info.Name,
		Picture:        info.Picture,
		EmailVerified:  info.EmailVerified,
		Provider:       model.ProviderGoogle,
	}, nil
}

// doJSON はリクエストを送信し、200の本文をoutへデコードする。
// 200以外の場合はGoogleのエラーコードのみをエラーに含める。
func (p *GoogleOAuthProvider) doJSON(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, googleMaxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var gerr googleErrorBody
		if json.Unmarshal(body, &gerr) == nil && gerr.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, gerr.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
