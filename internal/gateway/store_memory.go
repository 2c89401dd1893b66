package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	"confirmgate/pkg/platform/sentinel"
)

type InMemoryDeferredStore struct {
	mu      sync.RWMutex
	actions map[string]*DeferredAction
}

func NewInMemoryDeferredStore() *InMemoryDeferredStore {
	return &InMemoryDeferredStore{actions: make(map[string]*DeferredAction)}
}

func (s *InMemoryDeferredStore) Create(_ context.Context, d *DeferredAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[d.ActionID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	cp := *d
	cp.Declaration = d.Declaration.Clone()
	s.actions[d.ActionID] = &cp
	return nil
}

func (s *InMemoryDeferredStore) Get(_ context.Context, actionID string) (*DeferredAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.actions[actionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *d
	cp.Declaration = d.Declaration.Clone()
	return &cp, nil
}

func (s *InMemoryDeferredStore) Transition(_ context.Context, actionID string, from, to DeferredStatus, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.actions[actionID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if d.Status != from {
		return sentinel.ErrInvalidState
	}
	d.Status = to
	if reason != "" {
		d.Reason = reason
	}
	if to == DeferredAccepted || to == DeferredRejected {
		resolved := at
		d.ResolvedAt = &resolved
	}
	return nil
}

func (s *InMemoryDeferredStore) ListPending(_ context.Context, mode DeferMode, limit int) ([]*DeferredAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*DeferredAction
	for _, d := range s.actions {
		if d.Status == DeferredPending && d.Mode == mode {
			cp := *d
			cp.Declaration = d.Declaration.Clone()
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type correctionKey struct {
	eventID   string
	requestID string
}

type InMemoryCorrectionStore struct {
	mu          sync.RWMutex
	resolutions map[correctionKey]CorrectionResolution
}

func NewInMemoryCorrectionStore() *InMemoryCorrectionStore {
	return &InMemoryCorrectionStore{resolutions: make(map[correctionKey]CorrectionResolution)}
}

func (s *InMemoryCorrectionStore) Resolve(_ context.Context, r *CorrectionResolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := correctionKey{r.EventID, r.RequestID}
	if _, ok := s.resolutions[key]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.resolutions[key] = *r
	return nil
}

func (s *InMemoryCorrectionStore) Get(_ context.Context, eventID, requestID string) (*CorrectionResolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resolutions[correctionKey{eventID, requestID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}

func (s *InMemoryCorrectionStore) ListByEvent(_ context.Context, eventID string) ([]CorrectionResolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []CorrectionResolution{}
	for k, r := range s.resolutions {
		if k.eventID == eventID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResolvedAt.Before(out[j].ResolvedAt) })
	return out, nil
}

type InMemoryJournalStore struct {
	mu      sync.RWMutex
	entries map[string][]JournalEntry
}

func NewInMemoryJournalStore() *InMemoryJournalStore {
	return &InMemoryJournalStore{entries: make(map[string][]JournalEntry)}
}

func (s *InMemoryJournalStore) Append(_ context.Context, e JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.EventID] = append(s.entries[e.EventID], e)
	return nil
}

func (s *InMemoryJournalStore) ListByEvent(_ context.Context, eventID string) ([]JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]JournalEntry{}, s.entries[eventID]...), nil
}
