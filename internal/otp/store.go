package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/bizportal/internal/model"
	"github.com/hitoshi/bizportal/internal/repository"
	"github.com/redis/go-redis/v9"
)

// ChallengeStore は識別子ごとに最大1件のチャレンジを保持する保存先。
type ChallengeStore interface {
	// Get はチャレンジを返す。存在しない場合は (nil, nil)。
	Get(ctx context.Context, claim string) (*model.OTPChallenge, error)
	// Put は既存のチャレンジを上書きして保存する。
	Put(ctx context.Context, ch *model.OTPChallenge) error
	// Delete はチャレンジを削除する。
	Delete(ctx context.Context, claim string) error
	// Consume はハッシュが一致する場合のみ削除し、削除できたかを返す。
	Consume(ctx context.Context, claim, codeHash string) (bool, error)
}

const redisKeyPrefix = "otp:"

// consumeRetries はWATCH競合時の再試行回数。
const consumeRetries = 4

type redisChallenge struct {
	CodeHash  string    `json:"codeHash"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RedisChallengeStore はRedisのTTL付きキーでチャレンジを保持する。
// キーは有効期限と同時に自動的に消える。
type RedisChallengeStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisChallengeStore はRedisChallengeStoreを生成する。
func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{client: client, now: time.Now}
}

func (s *RedisChallengeStore) key(claim string) string {
	return redisKeyPrefix + claim
}

// Get はチャレンジを取得する。
func (s *RedisChallengeStore) Get(ctx context.Context, claim string) (*model.OTPChallenge, error) {
	data, err := s.client.Get(ctx, s.key(claim)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get otp challenge: %w", err)
	}
	return decodeRedisChallenge(claim, data)
}

// Put はチャレンジを有効期限までのTTLで保存する。
func (s *RedisChallengeStore) Put(ctx context.Context, ch *model.OTPChallenge) error {
	ttl := ch.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.Delete(ctx, ch.Claim)
	}

	data, err := json.Marshal(redisChallenge{CodeHash: ch.CodeHash, ExpiresAt: ch.ExpiresAt})
	if err != nil {
		return fmt.Errorf("failed to encode otp challenge: %w", err)
	}
	if err := s.client.Set(ctx, s.key(ch.Claim), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to put otp challenge: %w", err)
	}
	return nil
}

// Delete はチャレンジを削除する。
func (s *RedisChallengeStore) Delete(ctx context.Context, claim string) error {
	if err := s.client.Del(ctx, s.key(claim)).Err(); err != nil {
		return fmt.Errorf("failed to delete otp challenge: %w", err)
	}
	return nil
}

// Consume はWATCHトランザクションでハッシュ一致時のみキーを削除する。
func (s *RedisChallengeStore) Consume(ctx context.Context, claim, codeHash string) (bool, error) {
	key := s.key(claim)

	for i := 0; i < consumeRetries; i++ {
		consumed := false
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}

			ch, err := decodeRedisChallenge(claim, data)
			if err != nil {
				return err
			}
			if ch.CodeHash != codeHash {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}
			consumed = true
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to consume otp challenge: %w", err)
		}
		return consumed, nil
	}
	return false, nil
}

func decodeRedisChallenge(claim string, data []byte) (*model.OTPChallenge, error) {
	var rc redisChallenge
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("failed to decode otp challenge: %w", err)
	}
	return &model.OTPChallenge{Claim: claim, CodeHash: rc.CodeHash, ExpiresAt: rc.ExpiresAt}, nil
}

// RepositoryChallengeStore はChallengeRepository（otp_challengesテーブル）を
// ChallengeStoreとして扱うアダプター。
type RepositoryChallengeStore struct {
	repo repository.ChallengeRepository
}

// NewRepositoryChallengeStore はRepositoryChallengeStoreを生成する。
func NewRepositoryChallengeStore(repo repository.ChallengeRepository) *RepositoryChallengeStore {
	return &RepositoryChallengeStore{repo: repo}
}

func (s *RepositoryChallengeStore) Get(ctx context.Context, claim string) (*model.OTPChallenge, error) {
	return s.repo.Find(ctx, claim)
}

func (s *RepositoryChallengeStore) Put(ctx context.Context, ch *model.OTPChallenge) error {
	return s.repo.Upsert(ctx, ch)
}

func (s *RepositoryChallengeStore) Delete(ctx context.Context, claim string) error {
	return s.repo.Delete(ctx, claim)
}

func (s *RepositoryChallengeStore) Consume(ctx context.Context, claim, codeHash string) (bool, error) {
	return s.repo.Consume(ctx, claim, codeHash)
}

// AccountChallengeStore は既存アカウントの埋め込みOTPスロットにチャレンジを保持する。
// 識別子に一致するアカウントがない場合はfallbackに委譲する。
type AccountChallengeStore struct {
	accounts repository.AccountRepository
	fallback ChallengeStore
}

// NewAccountChallengeStore はAccountChallengeStoreを生成する。
func NewAccountChallengeStore(accounts repository.AccountRepository, fallback ChallengeStore) *AccountChallengeStore {
	return &AccountChallengeStore{accounts: accounts, fallback: fallback}
}

func (s *AccountChallengeStore) lookup(ctx context.Context, claim string) (*model.Account, error) {
	if strings.Contains(claim, "@") {
		return s.accounts.FindByEmail(ctx, claim)
	}
	return s.accounts.FindByPhone(ctx, claim)
}

// Get はアカウントのスロットを優先し、空の場合はfallbackを参照する。
func (s *AccountChallengeStore) Get(ctx context.Context, claim string) (*model.OTPChallenge, error) {
	account, err := s.lookup(ctx, claim)
	if err != nil {
		return nil, err
	}
	if account != nil && account.OTPHash != "" && account.OTPExpiresAt != nil {
		return &model.OTPChallenge{
			Claim:     claim,
			CodeHash:  account.OTPHash,
			ExpiresAt: *account.OTPExpiresAt,
		}, nil
	}
	return s.fallback.Get(ctx, claim)
}

// Put はアカウントがあればスロットに書き込み、fallback側の古いチャレンジを削除する。
func (s *AccountChallengeStore) Put(ctx context.Context, ch *model.OTPChallenge) error {
	account, err := s.lookup(ctx, ch.Claim)
	if err != nil {
		return err
	}
	if account == nil {
		return s.fallback.Put(ctx, ch)
	}
	if err := s.accounts.SetOTP(ctx, account.ID, ch.CodeHash, ch.ExpiresAt); err != nil {
		return err
	}
	return s.fallback.Delete(ctx, ch.Claim)
}

// Delete はスロットとfallbackの両方を削除する。
func (s *AccountChallengeStore) Delete(ctx context.Context, claim string) error {
	account, err := s.lookup(ctx, claim)
	if err != nil {
		return err
	}
	if account != nil {
		if err := s.accounts.ClearOTP(ctx, account.ID); err != nil {
			return err
		}
	}
	return s.fallback.Delete(ctx, claim)
}

func (s *AccountChallengeStore) Consume(ctx context.Context, claim, codeHash string) (bool, error) {
	account, err := s.lookup(ctx, claim)
	if err != nil {
		return false, err
	}
	if account != nil && account.OTPHash != "" {
		return s.accounts.ConsumeOTP(ctx, account.ID, codeHash)
	}
	return s.fallback.Consume(ctx, claim, codeHash)
}

var (
	_ ChallengeStore = (*RedisChallengeStore)(nil)
	_ ChallengeStore = (*RepositoryChallengeStore)(nil)
	_ ChallengeStore = (*AccountChallengeStore)(nil)
)
