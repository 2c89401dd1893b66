//go:build integration

package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"confirmgate/pkg/platform/sentinel"
	"confirmgate/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisStore
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = NewRedisStore(s.redis.Client.Client, time.Hour)
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisStoreSuite) TestClaimCompleteGet() {
	now := time.Now()
	claimed, err := s.store.Claim(s.ctx, "tx-1", now, now.Add(time.Minute))
	s.Require().NoError(err)
	s.True(claimed)

	claimed, err = s.store.Claim(s.ctx, "tx-1", now, now.Add(time.Minute))
	s.Require().NoError(err)
	s.False(claimed, "second claim loses")

	_, err = s.store.Get(s.ctx, "tx-1")
	s.ErrorIs(err, sentinel.ErrNotFound, "claims are not records")

	rec := &Record{TransactionID: "tx-1", EventID: "e1", Status: 200, Body: []byte(`{"registrationNumber":"N"}`), CreatedAt: now.UTC()}
	s.Require().NoError(s.store.Complete(s.ctx, rec))

	got, err := s.store.Get(s.ctx, "tx-1")
	s.Require().NoError(err)
	s.Equal(rec.Body, got.Body)

	claimed, err = s.store.Claim(s.ctx, "tx-1", now, now.Add(time.Minute))
	s.Require().NoError(err)
	s.False(claimed, "completed record blocks claims")

	s.ErrorIs(s.store.Complete(s.ctx, rec), sentinel.ErrInvalidState)
}

func (s *RedisStoreSuite) TestReleaseAllowsRetry() {
	now := time.Now()
	claimed, err := s.store.Claim(s.ctx, "tx-2", now, now.Add(time.Minute))
	s.Require().NoError(err)
	s.True(claimed)

	s.Require().NoError(s.store.Release(s.ctx, "tx-2"))

	claimed, err = s.store.Claim(s.ctx, "tx-2", now, now.Add(time.Minute))
	s.Require().NoError(err)
	s.True(claimed)
}

func (s *RedisStoreSuite) TestLedgerOverRedis() {
	l, err := New(s.store)
	s.Require().NoError(err)

	calls := 0
	fn := func(context.Context) (Result, error) {
		calls++
		return Result{Status: 200, Body: []byte(`{}`)}, nil
	}
	_, err = l.Execute(s.ctx, Key{TransactionID: "tx-3"}, fn)
	s.Require().NoError(err)
	out, err := l.Execute(s.ctx, Key{TransactionID: "tx-3"}, fn)
	s.Require().NoError(err)
	s.True(out.Replayed)
	s.Equal(1, calls)
}
