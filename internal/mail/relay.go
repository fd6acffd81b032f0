package mail

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// CodeSender はRelayが最終的な配信に使う送信先。
type CodeSender interface {
	SendCode(ctx context.Context, to, code string, expiresIn time.Duration) error
}

// messageReader は*kafka.Readerのうち使用するメソッド。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Relay はKafkaのコード送信イベントを購読し、SMTP等で配信する。
type Relay struct {
	reader messageReader
	sender CodeSender
	now    func() time.Time
}

// NewRelay はコンシューマーグループでトピックを購読するRelayを生成する。
func NewRelay(config KafkaConfig, topic, groupID string, sender CodeSender) *Relay {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if config.Username != "" {
		dialer.TLS = &tls.Config{}
		dialer.SASLMechanism = plain.Mechanism{Username: config.Username, Password: config.Password}
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{config.Broker},
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		Dialer:   dialer,
	})
	return &Relay{reader: reader, sender: sender, now: time.Now}
}

// Run はctxがキャンセルされるまでイベントを処理する。
// 期限切れのイベントは配信せずにコミットする。
func (r *Relay) Run(ctx context.Context) error {
	defer r.reader.Close()

	slog.Info("mail relay started")
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				slog.Info("mail relay stopped")
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := r.handle(ctx, msg); err != nil {
			slog.Error("failed to relay code event",
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}

		// 配信に失敗したイベントもコミットする。再送は利用者の再発行で行う。
		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("failed to commit message", slog.String("error", err.Error()))
		}
	}
}

func (r *Relay) handle(ctx context.Context, msg kafka.Message) error {
	var ev CodeEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("failed to decode code event: %w", err)
	}
	if ev.Channel != ChannelEmail {
		return fmt.Errorf("unsupported channel: %s", ev.Channel)
	}

	remaining := ev.ExpiresAt.Sub(r.now())
	if remaining <= 0 {
		slog.Warn("dropping expired code event", slog.String("to", maskAddress(ev.To)))
		return nil
	}
	return r.sender.SendCode(ctx, ev.To, ev.Code, remaining)
}
