package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"confirmgate/pkg/platform/sentinel"
)

const redisKeyPrefix = "confirmgate:ledger:"

// RedisStore keeps ledger records in Redis so replicas share replay state.
// Records expire with the retention window, so DeleteBefore has nothing to do.
type RedisStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

func NewRedisStore(client redis.UniversalClient, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

func recordKey(id string) string { return redisKeyPrefix + "record:" + id }
func claimKey(id string) string  { return redisKeyPrefix + "claim:" + id }

type redisRecord struct {
	TransactionID string    `json:"transaction_id"`
	EventID       string    `json:"event_id"`
	ActionID      string    `json:"action_id"`
	ActionType    string    `json:"action_type"`
	Status        int       `json:"status"`
	Body          []byte    `json:"body"`
	Fingerprint   string    `json:"fingerprint"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *RedisStore) Get(ctx context.Context, transactionID string) (*Record, error) {
	raw, err := s.client.Get(ctx, recordKey(transactionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get ledger record: %w", err)
	}
	var r redisRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode ledger record: %w", err)
	}
	rec := Record(r)
	return &rec, nil
}

func (s *RedisStore) Claim(ctx context.Context, transactionID string, now, until time.Time) (bool, error) {
	exists, err := s.client.Exists(ctx, recordKey(transactionID)).Result()
	if err != nil {
		return false, fmt.Errorf("check ledger record: %w", err)
	}
	if exists > 0 {
		return false, nil
	}
	ttl := until.Sub(now)
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, claimKey(transactionID), now.UnixNano(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim ledger record: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Complete(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("ledger record is required")
	}
	raw, err := json.Marshal(redisRecord(*record))
	if err != nil {
		return fmt.Errorf("encode ledger record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, recordKey(record.TransactionID), raw, s.retention).Result()
	if err != nil {
		return fmt.Errorf("complete ledger record: %w", err)
	}
	if !ok {
		return sentinel.ErrInvalidState
	}
	if err := s.client.Del(ctx, claimKey(record.TransactionID)).Err(); err != nil {
		return fmt.Errorf("clear ledger claim: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, transactionID string) error {
	if err := s.client.Del(ctx, claimKey(transactionID)).Err(); err != nil {
		return fmt.Errorf("release ledger claim: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteBefore(context.Context, time.Time) (int, error) {
	return 0, nil
}
