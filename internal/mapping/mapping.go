// Package mapping translates internal location codes into the codes each
// upstream source understands. One location may map to several codes for the
// same source; callers try them in ascending priority.
package mapping

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/i474232898/series-acquisition/internal/series"
)

var validate = validator.New()

// Entry is one row of the mapping table. Lower Priority is tried first.
type Entry struct {
	Location string `yaml:"location" json:"location" validate:"required"`
	Source   string `yaml:"source" json:"source" validate:"required"`
	External string `yaml:"external" json:"external" validate:"required"`
	Priority int    `yaml:"priority" json:"priority" validate:"gte=0"`
}

type key struct{ location, source string }

// Table is an in-memory mapping table.
type Table struct {
	mu      sync.RWMutex
	entries map[key][]Entry
}

var _ series.LocationResolver = (*Table)(nil)

// NewTable validates entries and builds a Table. Two entries with the same
// location, source and priority are rejected.
func NewTable(entries []Entry) (*Table, error) {
	t := &Table{entries: make(map[key][]Entry)}
	for _, e := range entries {
		if err := t.Add(e); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add inserts one entry.
func (t *Table) Add(e Entry) error {
	if err := validate.Struct(e); err != nil {
		return &series.ConfigurationError{Op: "mapping.Add", Msg: fmt.Sprintf("%s/%s", e.Location, e.Source), Err: err}
	}
	k := key{e.Location, e.Source}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.entries[k] {
		if existing.Priority == e.Priority {
			return series.NewConfigurationError("mapping.Add", "duplicate priority %d for %s/%s", e.Priority, e.Location, e.Source)
		}
	}
	t.entries[k] = append(t.entries[k], e)
	sort.SliceStable(t.entries[k], func(i, j int) bool { return t.entries[k][i].Priority < t.entries[k][j].Priority })
	return nil
}

// Resolve returns the external codes for location and source, lowest
// priority first. No rows is ErrNotFound.
func (t *Table) Resolve(_ context.Context, location, source string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rows := t.entries[key{location, source}]
	if len(rows) == 0 {
		return nil, fmt.Errorf("mapping %s/%s: %w", location, source, series.ErrNotFound)
	}
	return externals(rows), nil
}

// Entries returns every row, for listing and syncing.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Entry
	for _, rows := range t.entries {
		out = append(out, rows...)
	}
	sortEntries(out)
	return out
}

// Lookup returns the rows for one pair.
func (t *Table) Lookup(_ context.Context, location, source string) ([]Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rows := t.entries[key{location, source}]
	if len(rows) == 0 {
		return nil, fmt.Errorf("mapping %s/%s: %w", location, source, series.ErrNotFound)
	}
	return append([]Entry(nil), rows...), nil
}

func externals(rows []Entry) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.External)
	}
	return out
}

func sortEntries(out []Entry) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Priority < out[j].Priority
	})
}
