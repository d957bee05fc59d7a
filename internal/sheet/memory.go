package sheet

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process row store for local/dev use and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[int64]Row
	lastID map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[int64]Row),
		lastID: make(map[string]int64),
	}
}

func (s *MemoryStore) NextID(_ context.Context, table string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID[table]++
	return s.lastID[table], nil
}

func (s *MemoryStore) AppendRow(_ context.Context, table string, row Row) error {
	if row.ID <= 0 {
		return fmt.Errorf("append %s: row id must be positive", table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[table]
	if rows == nil {
		rows = make(map[int64]Row)
		s.tables[table] = rows
	}
	if _, exists := rows[row.ID]; exists {
		return fmt.Errorf("append %s: row %d already exists", table, row.ID)
	}
	rows[row.ID] = cloneRow(row)
	if row.ID > s.lastID[table] {
		s.lastID[table] = row.ID
	}
	return nil
}

func (s *MemoryStore) UpdateRow(_ context.Context, table string, row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[table]
	if _, ok := rows[row.ID]; !ok {
		return fmt.Errorf("update %s row %d: %w", table, row.ID, ErrRowNotFound)
	}
	rows[row.ID] = cloneRow(row)
	return nil
}

func (s *MemoryStore) Rows(_ context.Context, table string) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.tables[table]
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, cloneRow(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
