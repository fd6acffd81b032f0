// Package mail はワンタイムコードの配信手段（SMTP / Kafka / ログ）を提供する。
package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"time"
)

// ChannelEmail / ChannelSMS は配信イベントのチャネル名。
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// CodeEvent はキュー経由で配信されるコード送信イベント。
type CodeEvent struct {
	Channel   string    `json:"channel"`
	To        string    `json:"to"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

var codeBodyTemplate = template.Must(template.New("code").Parse(`<!DOCTYPE html>
<html>
<body>
<p>Your sign-in code is:</p>
<p style="font-size:24px;font-weight:bold;letter-spacing:4px">{{.Code}}</p>
<p>This code expires in {{.Minutes}} minutes. If you did not request it, you can ignore this email.</p>
</body>
</html>`))

// renderCodeBody はコード通知メールのHTML本文を生成する。
func renderCodeBody(code string, expiresIn time.Duration) (string, error) {
	var buf bytes.Buffer
	err := codeBodyTemplate.Execute(&buf, map[string]any{
		"Code":    code,
		"Minutes": int(math.Ceil(expiresIn.Minutes())),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render mail body: %w", err)
	}
	return buf.String(), nil
}

// maskAddress はログ出力用に宛先の大部分を伏せる。
func maskAddress(to string) string {
	if len(to) <= 4 {
		return "****"
	}
	return to[:2] + "****" + to[len(to)-2:]
}
