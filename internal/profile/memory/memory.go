// Package memory is a non-durable profile store for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/FranksOps/magpie/internal/profile"
)

type store struct {
	mu   sync.Mutex
	byID map[string]profile.Record
}

// New returns an empty in-memory store.
func New() profile.Store {
	return &store{byID: make(map[string]profile.Record)}
}

func (s *store) UpsertMany(_ context.Context, records []profile.Record) (profile.UpsertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.byID[r.ID] = r
	}
	return profile.UpsertStats{Saved: len(records), Total: len(s.byID)}, nil
}

func (s *store) ExportAll(_ context.Context) ([]profile.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]profile.Record, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, r)
	}
	return out, nil
}

func (s *store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]profile.Record)
	return nil
}

func (s *store) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID), nil
}

func (s *store) Close() error { return nil }
