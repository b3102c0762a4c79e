package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/series-acquisition/internal/series"
)

// MemoryStore is a concurrency-safe in-memory observation store. Rows are
// keyed by natural key, so re-inserting an existing observation is a no-op.
type MemoryStore struct {
	mu sync.RWMutex

	// key: natural key, value: observation
	data    map[series.NaturalKey]series.Observation
	outputs []series.ModelOutput

	// maxAge drops observations acquired longer ago than this (0 = unlimited).
	maxAge time.Duration
	now    func() time.Time
}

var (
	_ series.Store             = (*MemoryStore)(nil)
	_ series.ModelOutputReader = (*MemoryStore)(nil)
)

// NewMemoryStore creates a new MemoryStore with optional age-based retention.
func NewMemoryStore(maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:   make(map[series.NaturalKey]series.Observation),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// UpsertObservations inserts rows whose natural key is new and reports how
// many were inserted.
func (s *MemoryStore) UpsertObservations(_ context.Context, obs []series.Observation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, o := range obs {
		k := o.Key()
		if _, ok := s.data[k]; ok {
			continue
		}
		s.data[k] = o
		inserted++
	}
	s.enforceRetention()
	return inserted, nil
}

// enforceRetention must be called with the write lock held.
func (s *MemoryStore) enforceRetention() {
	if s.maxAge <= 0 {
		return
	}
	cutoff := s.now().Add(-s.maxAge)
	for k, o := range s.data {
		if o.TimeAcquired.Before(cutoff) {
			delete(s.data, k)
		}
	}
}

// QueryObservations returns rows matching filter verified inside window,
// ordered by verified time.
func (s *MemoryStore) QueryObservations(_ context.Context, filter series.ObservationFilter, window series.TimeDescription) ([]series.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []series.Observation
	for _, o := range s.data {
		if filter.Matches(o) && window.Contains(o.TimeVerified) {
			result = append(result, o)
		}
	}
	series.SortObservations(result)
	return result, nil
}

// Len is the number of stored observations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// SaveModelOutputs appends internal model output rows.
func (s *MemoryStore) SaveModelOutputs(_ context.Context, rows []series.ModelOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, rows...)
	return nil
}

// QueryModelOutputs returns outputs for one model and location generated in
// [GeneratedFrom, GeneratedTo].
func (s *MemoryStore) QueryModelOutputs(_ context.Context, filter series.ModelOutputFilter) ([]series.ModelOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []series.ModelOutput
	for _, row := range s.outputs {
		if row.Model != filter.Model || row.Location != filter.Location {
			continue
		}
		if row.TimeGenerated.Before(filter.GeneratedFrom) || row.TimeGenerated.After(filter.GeneratedTo) {
			continue
		}
		result = append(result, row)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TimeGenerated.Add(result[i].LeadTime).Before(result[j].TimeGenerated.Add(result[j].LeadTime))
	})
	return result, nil
}
