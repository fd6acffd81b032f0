package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"
)

const (
	smtpDialTimeout = 8 * time.Second
	smtpIOTimeout   = 15 * time.Second
)

// SMTPConfig はSMTP配信の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Subject  string
}

// SMTPSender はSMTP（STARTTLS + PLAIN認証）でコードを送信する。
type SMTPSender struct {
	config SMTPConfig
	// send はテストで差し替え可能な送信処理。
	send func(ctx context.Context, to string, msg []byte) error
}

// NewSMTPSender はSMTPSenderを生成する。
func NewSMTPSender(config SMTPConfig) *SMTPSender {
	s := &SMTPSender{config: config}
	s.send = s.sendSMTP
	return s
}

// SendCode はコード通知メールを送信する。
func (s *SMTPSender) SendCode(ctx context.Context, to, code string, expiresIn time.Duration) error {
	msg, err := s.buildMessage(to, code, expiresIn)
	if err != nil {
		return err
	}
	if err := s.send(ctx, to, msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	slog.Info("otp mail sent", slog.String("to", maskAddress(to)))
	return nil
}

func (s *SMTPSender) buildMessage(to, code string, expiresIn time.Duration) ([]byte, error) {
	if strings.ContainsAny(to, "\r\n") {
		return nil, fmt.Errorf("invalid recipient address")
	}
	body, err := renderCodeBody(code, expiresIn)
	if err != nil {
		return nil, err
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := strings.Join([]string{
		"From: " + from,
		"To: " + to,
		"Subject: " + s.config.Subject,
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
		"",
		body,
	}, "\r\n")
	return []byte(msg), nil
}

func (s *SMTPSender) sendSMTP(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))

	dialer := &net.Dialer{Timeout: smtpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(smtpIOTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() { _ = c.Quit() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
			return err
		}
	}
	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := c.Auth(auth); err != nil {
			return err
		}
	}

	if err := c.Mail(s.config.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
