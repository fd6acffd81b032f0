package auth

import (
	"encoding/hex"
	"strings"

	"github.com/hitoshi/bizportal/internal/model"
)

// syntheticEmailDomain はemailも電話番号も持たないFirebaseアカウントの代替キーに用いる。
// このドメインのemailはプロバイダーの申告値としては受け付けない。
const syntheticEmailDomain = "firebase.local"

// ProviderClaims はプロバイダーから得た正規化前の本人情報。
// 各プロバイダーアダプターは自身のトークン形式からこの構造体を組み立てる。
type ProviderClaims struct {
	ProviderID    string
	Email         string
	Phone         string
	Name          string
	Picture       string
	EmailVerified bool
}

// normalized は照合用に正規化した本人情報を返す。
// 未検証のemailと代替キー用ドメインのemailは照合に使えないため空にする。
func (c ProviderClaims) normalized() ProviderClaims {
	c.Email = model.NormalizeEmail(c.Email)
	if !c.EmailVerified || isSyntheticEmail(c.Email) {
		c.Email = ""
	}
	c.Phone = model.NormalizePhone(c.Phone)
	c.Name = strings.TrimSpace(c.Name)
	c.Picture = strings.TrimSpace(c.Picture)
	return c
}

// syntheticEmail はuidから代替のemailキーを生成する。
// emailは小文字に正規化して保存されるため、大文字小文字を区別するuidは16進で埋め込む。
func syntheticEmail(uid string) string {
	return "uid-" + hex.EncodeToString([]byte(uid)) + "@" + syntheticEmailDomain
}

func isSyntheticEmail(email string) bool {
	return strings.HasSuffix(email, "@"+syntheticEmailDomain)
}
