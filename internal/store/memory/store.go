// Package memory provides an in-memory record store, used in tests and
// dry runs where no Postgres instance is available.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mowaffer/grocery-scraper/internal/scraper"
)

// Store implements scraper.TargetStore and scraper.ResultStore in
// process memory. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	targets []scraper.Target
	results map[int64]scraper.RunResult
}

// New builds a Store pre-loaded with the given targets.
func New(targets ...scraper.Target) *Store {
	return &Store{
		targets: targets,
		results: make(map[int64]scraper.RunResult),
	}
}

// ListTargets returns the targets ordered by serial ascending.
func (s *Store) ListTargets(_ context.Context) ([]scraper.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scraper.Target, len(s.targets))
	copy(out, s.targets)
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out, nil
}

// UpsertResult stores the result keyed by serial, overwriting any prior
// record.
func (s *Store) UpsertResult(_ context.Context, r scraper.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.Serial] = r
	return nil
}

// CountByStatus aggregates stored results by status.
func (s *Store) CountByStatus(_ context.Context) (map[scraper.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[scraper.Status]int)
	for _, r := range s.results {
		counts[r.Status]++
	}
	return counts, nil
}

// Result returns the stored record for serial, if any.
func (s *Store) Result(serial int64) (scraper.RunResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[serial]
	return r, ok
}

// Results returns all stored records ordered by serial.
func (s *Store) Results() []scraper.RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scraper.RunResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}
