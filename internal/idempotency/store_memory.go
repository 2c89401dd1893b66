package idempotency

import (
	"context"
	"sync"
	"time"

	"confirmgate/pkg/platform/sentinel"
)

// InMemoryStore keeps ledger state in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	claims  map[string]time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*Record),
		claims:  make(map[string]time.Time),
	}
}

func (s *InMemoryStore) Get(_ context.Context, transactionID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[transactionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *rec
	cp.Body = append([]byte(nil), rec.Body...)
	return &cp, nil
}

func (s *InMemoryStore) Claim(_ context.Context, transactionID string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[transactionID]; ok {
		return false, nil
	}
	if exp, ok := s.claims[transactionID]; ok && now.Before(exp) {
		return false, nil
	}
	s.claims[transactionID] = until
	return true, nil
}

func (s *InMemoryStore) Complete(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.TransactionID]; ok {
		return sentinel.ErrInvalidState
	}
	cp := *record
	cp.Body = append([]byte(nil), record.Body...)
	s.records[record.TransactionID] = &cp
	delete(s.claims, record.TransactionID)
	return nil
}

func (s *InMemoryStore) Release(_ context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, transactionID)
	return nil
}

func (s *InMemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	for id, exp := range s.claims {
		if exp.Before(cutoff) {
			delete(s.claims, id)
		}
	}
	return n, nil
}
