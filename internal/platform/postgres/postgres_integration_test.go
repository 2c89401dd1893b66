//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"confirmgate/internal/declaration"
	"confirmgate/internal/events"
	"confirmgate/internal/gateway"
	"confirmgate/internal/idempotency"
	"confirmgate/internal/platform/postgres"
	"confirmgate/internal/registration"
	"confirmgate/pkg/platform/sentinel"
	"confirmgate/pkg/testutil/containers"
)

// PostgresSuite runs every Postgres-backed store against a real server with
// the embedded schema applied.
type PostgresSuite struct {
	suite.Suite
	pg  *containers.PostgresContainer
	ctx context.Context
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	s.Require().NoError(postgres.Migrate(s.ctx, s.pg.DB))
	// Migrations are safe to re-run.
	s.Require().NoError(postgres.Migrate(s.ctx, s.pg.DB))
}

func (s *PostgresSuite) TestLedgerStore() {
	store := idempotency.NewPostgresStore(s.pg.DB)
	now := time.Now().UTC().Truncate(time.Microsecond)

	claimed, err := store.Claim(s.ctx, "tx-pg-1", now, now.Add(time.Minute))
	s.Require().NoError(err)
	s.True(claimed)

	claimed, err = store.Claim(s.ctx, "tx-pg-1", now, now.Add(time.Minute))
	s.Require().NoError(err)
	s.False(claimed, "live claim blocks a second claimant")

	s.Require().NoError(store.Complete(s.ctx, &idempotency.Record{
		TransactionID: "tx-pg-1",
		EventID:       "evt-1",
		ActionID:      "act-1",
		ActionType:    "REGISTER",
		Status:        200,
		Body:          []byte(`{"registrationNumber":"2026X"}`),
		Fingerprint:   "fp",
		CreatedAt:     now,
	}))

	rec, err := store.Get(s.ctx, "tx-pg-1")
	s.Require().NoError(err)
	s.Equal(200, rec.Status)
	s.JSONEq(`{"registrationNumber":"2026X"}`, string(rec.Body))

	n, err := store.DeleteBefore(s.ctx, now.Add(time.Second))
	s.Require().NoError(err)
	s.Equal(1, n)
	_, err = store.Get(s.ctx, "tx-pg-1")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresSuite) TestRegistrationStore() {
	store := registration.NewPostgresStore(s.pg.DB)
	now := time.Now().UTC()

	s.Require().NoError(store.Create(s.ctx, &registration.Registration{EventID: "evt-r1", TransactionID: "tx-1", Number: "N-1", IssuedAt: now}))
	s.ErrorIs(store.Create(s.ctx, &registration.Registration{EventID: "evt-r1", TransactionID: "tx-2", Number: "N-2", IssuedAt: now}), sentinel.ErrAlreadyUsed)
	s.ErrorIs(store.Create(s.ctx, &registration.Registration{EventID: "evt-r2", TransactionID: "tx-3", Number: "N-1", IssuedAt: now}), sentinel.ErrConflict)

	got, err := store.Get(s.ctx, "evt-r1")
	s.Require().NoError(err)
	s.Equal("N-1", got.Number)
}

func (s *PostgresSuite) TestDeferredStore() {
	store := gateway.NewPostgresDeferredStore(s.pg.DB)
	now := time.Now().UTC().Truncate(time.Microsecond)
	d := &gateway.DeferredAction{
		ActionID:      "act-d1",
		EventID:       "evt-d1",
		EventType:     events.EventBirth,
		ActionType:    events.ActionRegister,
		TransactionID: "tx-d1",
		Mode:          gateway.DeferManual,
		Status:        gateway.DeferredPending,
		Declaration:   declaration.Declaration{"child.dob": declaration.Of("2026-03-01"), "child.nid": declaration.Cleared()},
		Token:         "core-token",
		CreatedAt:     now,
	}

	s.Require().NoError(store.Create(s.ctx, d))
	s.ErrorIs(store.Create(s.ctx, d), sentinel.ErrAlreadyUsed)

	pending, err := store.ListPending(s.ctx, gateway.DeferManual, 10)
	s.Require().NoError(err)
	s.Len(pending, 1)

	s.Require().NoError(store.Transition(s.ctx, "act-d1", gateway.DeferredPending, gateway.DeferredResolving, "", now))
	s.ErrorIs(store.Transition(s.ctx, "act-d1", gateway.DeferredPending, gateway.DeferredResolving, "", now), sentinel.ErrInvalidState)
	s.Require().NoError(store.Transition(s.ctx, "act-d1", gateway.DeferredResolving, gateway.DeferredRejected, "duplicate", now))

	got, err := store.Get(s.ctx, "act-d1")
	s.Require().NoError(err)
	s.Equal(gateway.DeferredRejected, got.Status)
	s.Equal("duplicate", got.Reason)
	s.Equal("core-token", got.Token)
	s.NotNil(got.ResolvedAt)
	s.True(got.Declaration["child.nid"].IsCleared(), "explicit clear survives the round trip")

	_, err = store.Get(s.ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresSuite) TestJournalAndCorrections() {
	journal := gateway.NewPostgresJournalStore(s.pg.DB)
	corrections := gateway.NewPostgresCorrectionStore(s.pg.DB)
	now := time.Now().UTC()

	for _, status := range []events.ActionStatus{events.StatusRequested, events.StatusAccepted} {
		s.Require().NoError(journal.Append(s.ctx, gateway.JournalEntry{
			EventID: "evt-j1", ActionID: "act-j1", ActionType: events.ActionDeclare,
			TransactionID: "tx-j1", Status: status, At: now,
		}))
	}
	entries, err := journal.ListByEvent(s.ctx, "evt-j1")
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(events.StatusRequested, entries[0].Status)

	res := &gateway.CorrectionResolution{EventID: "evt-j1", RequestID: "req-1", ActionID: "act-c1", TransactionID: "tx-c1", Resolution: events.ActionApproveCorrection, ResolvedAt: now}
	s.Require().NoError(corrections.Resolve(s.ctx, res))
	s.ErrorIs(corrections.Resolve(s.ctx, res), sentinel.ErrAlreadyUsed)
	list, err := corrections.ListByEvent(s.ctx, "evt-j1")
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("tx-c1", list[0].TransactionID)
}
