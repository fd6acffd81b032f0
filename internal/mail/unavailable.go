package mail

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTransportUnavailable は配信手段が構成されていないことを表す。
var ErrTransportUnavailable = errors.New("no transport configured for channel")

// UnavailableSender は配信手段が未構成のチャネルで常に失敗する送信手段。
// 発行済みのコードは呼び出し側で取り消される。
type UnavailableSender struct {
	channel string
}

// NewUnavailableSender はUnavailableSenderを生成する。
func NewUnavailableSender(channel string) *UnavailableSender {
	return &UnavailableSender{channel: channel}
}

func (s *UnavailableSender) SendCode(context.Context, string, string, time.Duration) error {
	return fmt.Errorf("%w: %s", ErrTransportUnavailable, s.channel)
}
