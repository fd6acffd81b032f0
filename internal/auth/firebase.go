package auth

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// FirebaseConfig はFirebase Admin SDKの設定。
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string // 空の場合はApplication Default Credentialsを使う
}

// NewFirebaseAuthClient はFirebase Authのクライアントを生成する。
func NewFirebaseAuthClient(ctx context.Context, config FirebaseConfig) (*fbauth.Client, error) {
	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: config.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase auth client: %w", err)
	}
	return client, nil
}

// firebaseTokenVerifier はfbauth.Clientのうち検証に使う部分。
type firebaseTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseVerifier はFirebaseのIDトークンを検証し、本人情報を取り出す。
type FirebaseVerifier struct {
	client firebaseTokenVerifier
}

// NewFirebaseVerifier はFirebaseVerifierを生成する。
func NewFirebaseVerifier(client firebaseTokenVerifier) *FirebaseVerifier {
	return &FirebaseVerifier{client: client}
}

// VerifyIDToken は署名・有効期限・発行者を検証し、トークンのクレームを返す。
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*ProviderClaims, error) {
	if idToken == "" {
		return nil, errors.New("empty id token")
	}

	tok, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify firebase id token: %w", err)
	}
	if tok.UID == "" {
		return nil, errors.New("firebase id token has no uid")
	}

	return claimsFromFirebaseToken(tok), nil
}

func claimsFromFirebaseToken(tok *fbauth.Token) *ProviderClaims {
	c := &ProviderClaims{ProviderID: tok.UID}
	c.Email, _ = tok.Claims["email"].(string)
	c.Phone, _ = tok.Claims["phone_number"].(string)
	c.Name, _ = tok.Claims["name"].(string)
	c.Picture, _ = tok.Claims["picture"].(string)
	c.EmailVerified, _ = tok.Claims["email_verified"].(bool)
	return c
}

// compile-time interface check
var _ IDTokenVerifier = (*FirebaseVerifier)(nil)
