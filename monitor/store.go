package monitor

import (
	"sync"
	"time"
)

// Store holds the current StateTable generation. The table is only ever
// replaced as a whole so that readers never see a mix of two refreshes.
type Store struct {
	mu          sync.RWMutex
	table       StateTable
	lastRefresh time.Time
	clock       TimeProvider
}

func NewStore(clock TimeProvider) *Store {
	return &Store{
		table: make(StateTable),
		clock: clock,
	}
}

// GetAll returns a copy of the current table.
func (s *Store) GetAll() StateTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Clone()
}

// ReplaceAll swaps in a new table and stamps the refresh time.
func (s *Store) ReplaceAll(table StateTable) {
	next := table.Clone()
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = next
	s.lastRefresh = now
}

// LastRefresh returns the time of the last ReplaceAll, or the zero time.
func (s *Store) LastRefresh() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRefresh
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table)
}
