package mail

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

const kafkaWriteTimeout = 10 * time.Second

// KafkaConfig はKafka接続の設定。Usernameが空の場合はSASL/TLSを使用しない。
type KafkaConfig struct {
	Broker   string
	Username string
	Password string
}

// messageWriter は*kafka.Writerのうち使用するメソッド。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender はコード送信イベントをKafkaトピックに発行する。
// 実際の配信はRelayや外部のSMSゲートウェイが行う。
type KafkaSender struct {
	writer  messageWriter
	channel string
	now     func() time.Time
}

// NewKafkaSender は指定トピックに発行するKafkaSenderを生成する。
func NewKafkaSender(config KafkaConfig, topic, channel string) *KafkaSender {
	w := &kafka.Writer{
		Addr:         kafka.TCP(config.Broker),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: kafkaWriteTimeout,
	}
	if config.Username != "" {
		w.Transport = &kafka.Transport{
			SASL: plain.Mechanism{Username: config.Username, Password: config.Password},
			TLS:  &tls.Config{},
		}
	}
	return &KafkaSender{writer: w, channel: channel, now: time.Now}
}

// SendCode はイベントを同期的に発行する。ブローカーが受理しない場合はエラーを返す。
func (s *KafkaSender) SendCode(ctx context.Context, to, code string, expiresIn time.Duration) error {
	value, err := json.Marshal(CodeEvent{
		Channel:   s.channel,
		To:        to,
		Code:      code,
		ExpiresAt: s.now().Add(expiresIn),
	})
	if err != nil {
		return fmt.Errorf("failed to encode code event: %w", err)
	}

	if err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(to),
		Value: value,
		Time:  s.now(),
	}); err != nil {
		return fmt.Errorf("failed to publish code event: %w", err)
	}

	slog.Info("otp event published",
		slog.String("channel", s.channel),
		slog.String("to", maskAddress(to)),
	)
	return nil
}

// Close はライターを閉じる。
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
