package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hitoshi/bizportal/internal/model"
	"github.com/lib/pq"
)

// PostgresAccountRepoはAccountRepositoryインターフェースを満たすことを検証
func TestPostgresAccountRepo_ImplementsInterface(t *testing.T) {
	var _ AccountRepository = (*PostgresAccountRepo)(nil)
}

// PostgresChallengeRepoはChallengeRepositoryインターフェースを満たすことを検証
func TestPostgresChallengeRepo_ImplementsInterface(t *testing.T) {
	var _ ChallengeRepository = (*PostgresChallengeRepo)(nil)
}

// PostgresAuditRepoはAuditRepositoryインターフェースを満たすことを検証
func TestPostgresAuditRepo_ImplementsInterface(t *testing.T) {
	var _ AuditRepository = (*PostgresAuditRepo)(nil)
}

func TestNewPostgresRepos_Initialize(t *testing.T) {
	if NewPostgresAccountRepo(nil) == nil {
		t.Fatal("expected non-nil account repo")
	}
	if NewPostgresChallengeRepo(nil) == nil {
		t.Fatal("expected non-nil challenge repo")
	}
	if NewPostgresAuditRepo(nil) == nil {
		t.Fatal("expected non-nil audit repo")
	}
}

// 一意制約違反（23505）のみがコンフリクトとして判定されること
func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unique violation", &pq.Error{Code: "23505"}, true},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"check violation", &pq.Error{Code: "23514"}, false},
		{"plain error", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

// 空文字列はNULLとして書き込まれること
func TestNullString(t *testing.T) {
	if ns := nullString(""); ns.Valid {
		t.Error("empty string should map to NULL")
	}
	if ns := nullString("a@example.com"); !ns.Valid || ns.String != "a@example.com" {
		t.Errorf("unexpected NullString: %+v", ns)
	}
}

func TestNullTime(t *testing.T) {
	if nt := nullTime(nil); nt.Valid {
		t.Error("nil time should map to NULL")
	}
	now := time.Now()
	if nt := nullTime(&now); !nt.Valid || !nt.Time.Equal(now) {
		t.Errorf("unexpected NullTime: %+v", nt)
	}
}

// DB接続前に不変条件違反のアカウントが拒否されること
func TestPostgresAccountRepo_Create_RejectsInvalidAccount(t *testing.T) {
	repo := NewPostgresAccountRepo(nil)

	tests := []struct {
		name    string
		account *model.Account
	}{
		{
			name:    "local without password hash",
			account: &model.Account{ID: "a1", Role: model.RoleUser, AuthProvider: model.ProviderLocal},
		},
		{
			name:    "unknown role",
			account: &model.Account{ID: "a2", Role: "root", AuthProvider: model.ProviderOTP},
		},
		{
			name:    "otp hash without expiry",
			account: &model.Account{ID: "a3", Role: model.RoleUser, AuthProvider: model.ProviderOTP, OTPHash: "abc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.Create(context.Background(), tt.account); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

// 空の検索キーはDBに問い合わせずnilを返すこと
func TestPostgresAccountRepo_EmptyLookupKeys(t *testing.T) {
	repo := NewPostgresAccountRepo(nil)
	ctx := context.Background()

	if a, err := repo.FindByEmail(ctx, "  "); a != nil || err != nil {
		t.Errorf("FindByEmail(blank) = %v, %v", a, err)
	}
	if a, err := repo.FindByPhone(ctx, "---"); a != nil || err != nil {
		t.Errorf("FindByPhone(blank) = %v, %v", a, err)
	}
	if a, err := repo.FindByProviderID(ctx, model.ProviderGoogle, ""); a != nil || err != nil {
		t.Errorf("FindByProviderID(blank) = %v, %v", a, err)
	}
}

func TestPostgresAccountRepo_SetOTP_RequiresHash(t *testing.T) {
	repo := NewPostgresAccountRepo(nil)
	if err := repo.SetOTP(context.Background(), "a1", "", time.Now()); err == nil {
		t.Fatal("expected error for empty otp hash")
	}
}
