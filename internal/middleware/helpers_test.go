package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/bizportal/internal/model"
	"github.com/hitoshi/bizportal/internal/token"
)

var testNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// newTestCodec はテスト用の固定時刻Codecを生成する。
func newTestCodec(t *testing.T) *token.Codec {
	t.Helper()
	codec, err := token.NewCodec([]byte("middleware-test-secret"), token.WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	return codec
}

func mintToken(t *testing.T, codec *token.Codec, subject string, role model.Role, ttl time.Duration) string {
	t.Helper()
	tok, err := codec.Mint(token.Claims{SubjectID: subject, Email: subject + "@example.com", Role: role}, ttl)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	return tok
}

// expiredToken は1時間前に失効したトークンを返す。
func expiredToken(t *testing.T, subject string) string {
	t.Helper()
	past, err := token.NewCodec([]byte("middleware-test-secret"), token.WithClock(func() time.Time { return testNow.Add(-2 * time.Hour) }))
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	return mintToken(t, past, subject, model.RoleUser, time.Hour)
}

type mockStatusChecker struct {
	isBlockedFn func(ctx context.Context, subjectID string) (bool, error)
}

func (m *mockStatusChecker) IsBlocked(ctx context.Context, subjectID string) (bool, error) {
	return m.isBlockedFn(ctx, subjectID)
}
