// Package memory provides an in-process audit store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tjfontaine/gamestats/internal/storage"
)

// Store is an in-memory implementation of AuditStore. Records are lost on
// restart.
type Store struct {
	mu      sync.RWMutex
	records map[string]*storage.QueryAudit
}

var _ storage.AuditStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		records: make(map[string]*storage.QueryAudit),
	}
}

func (s *Store) RecordQuery(ctx context.Context, audit *storage.QueryAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[audit.ID]; exists {
		return fmt.Errorf("query audit %s already exists", audit.ID)
	}

	stored := *audit
	s.records[audit.ID] = &stored
	return nil
}

func (s *Store) ListQueries(ctx context.Context, opts storage.AuditListOptions) ([]*storage.QueryAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.QueryAudit
	for _, rec := range s.records {
		if opts.Game != "" && rec.Game != opts.Game {
			continue
		}
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		copied := *rec
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	// Simple pagination
	start := opts.Offset
	if start >= len(result) {
		return []*storage.QueryAudit{}, nil
	}

	limit := opts.Limit
	if limit == 0 {
		limit = storage.DefaultListLimit
	}
	end := start + limit
	if end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) Close() error {
	return nil
}
