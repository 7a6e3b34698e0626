package manifest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memStore implements Store with an in-process map. It backs tests and
// database-less deployments; the postgres store is used in production.
type memStore struct {
	mu      sync.RWMutex
	records map[string]Record
	hooks   MutationHooks
}

// MemOption is a functional option for configuring the in-memory store.
type MemOption func(*memStore) error

// WithMemMutationHooks attaches post-commit mutation hooks to the store.
func WithMemMutationHooks(hooks MutationHooks) MemOption {
	return func(s *memStore) error {
		if hooks == nil {
			return fmt.Errorf("hooks cannot be nil")
		}
		s.hooks = hooks
		return nil
	}
}

// NewInMemoryStore creates an empty in-memory manifest store.
func NewInMemoryStore(opts ...MemOption) (Store, error) {
	s := &memStore{
		records: make(map[string]Record),
		hooks:   NopHooks{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *memStore) GetByTrackingNumber(_ context.Context, trackingNumber string) (*Record, error) {
	s.mu.RLock()
	rec, ok := s.records[trackingNumber]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *memStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	if _, exists := s.records[rec.TrackingNumber]; exists {
		s.mu.Unlock()
		return ErrAlreadyExists
	}
	stored := *rec
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.records[rec.TrackingNumber] = stored
	s.mu.Unlock()

	s.hooks.OnCreate(ctx, rec.TrackingNumber)
	return nil
}

func (s *memStore) Update(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	prev, exists := s.records[rec.TrackingNumber]
	if !exists {
		s.mu.Unlock()
		return ErrNotFound
	}
	stored := *rec
	stored.CreatedAt = prev.CreatedAt
	stored.UpdatedAt = time.Now()
	s.records[rec.TrackingNumber] = stored
	s.mu.Unlock()

	s.hooks.OnUpdate(ctx, rec.TrackingNumber)
	return nil
}

func (s *memStore) Delete(ctx context.Context, trackingNumber string) error {
	s.mu.Lock()
	if _, exists := s.records[trackingNumber]; !exists {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.records, trackingNumber)
	s.mu.Unlock()

	s.hooks.OnDelete(ctx, trackingNumber)
	return nil
}

func (s *memStore) List(_ context.Context, limit, offset int) ([]Record, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Record
	for i := offset; i < len(keys) && len(out) < limit; i++ {
		out = append(out, s.records[keys[i]])
	}
	s.mu.RUnlock()

	return out, nil
}

func (s *memStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func (s *memStore) CountWithPackage(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, rec := range s.records {
		if rec.PackageNumber != "" {
			n++
		}
	}
	return n, nil
}
