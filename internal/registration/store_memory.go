package registration

import (
	"context"
	"sync"

	"confirmgate/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	byEvent  map[string]*Registration
	byNumber map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byEvent:  make(map[string]*Registration),
		byNumber: make(map[string]string),
	}
}

func (s *InMemoryStore) Get(_ context.Context, eventID string) (*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.byEvent[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *reg
	return &cp, nil
}

func (s *InMemoryStore) Create(_ context.Context, reg *Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEvent[reg.EventID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	if _, ok := s.byNumber[reg.Number]; ok {
		return sentinel.ErrConflict
	}
	cp := *reg
	s.byEvent[reg.EventID] = &cp
	s.byNumber[reg.Number] = reg.EventID
	return nil
}
