// Package memory is the default, process-local catalog.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/zkgate/internal/catalog"
)

// Store keeps records in a map. Nothing survives a restart.
type Store struct {
	mu      sync.RWMutex
	records map[string]catalog.Record
	now     func() time.Time
}

var _ catalog.Catalog = (*Store)(nil)

func New() *Store {
	return &Store{records: make(map[string]catalog.Record), now: time.Now}
}

func (s *Store) Put(_ context.Context, rec catalog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if existing, ok := s.records[rec.ID]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.ID] = rec
	return nil
}

func (s *Store) Get(_ context.Context, id string) (catalog.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return catalog.Record{}, catalog.ErrNotFound
	}
	return rec, nil
}

func (s *Store) List(_ context.Context) ([]catalog.Record, error) {
	s.mu.RLock()
	out := make([]catalog.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error { return nil }
