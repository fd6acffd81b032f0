package mail

import (
	"context"
	"log/slog"
	"time"
)

// LogSender はコードをログに出力するだけの開発用送信手段。
// 本番環境では設定読み込み時に拒否される。
type LogSender struct {
	channel string
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(channel string) *LogSender {
	return &LogSender{channel: channel}
}

func (s *LogSender) SendCode(_ context.Context, to, code string, expiresIn time.Duration) error {
	slog.Debug("otp code (development transport)",
		slog.String("channel", s.channel),
		slog.String("to", to),
		slog.String("code", code),
		slog.Duration("expires_in", expiresIn),
	)
	return nil
}
