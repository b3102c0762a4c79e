// Package ingestion holds the adapter registry and the adapters that fetch
// observations from upstream sources.
package ingestion

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/i474232898/series-acquisition/internal/series"
)

// Route is one row of the dispatch table.
type Route struct {
	Source   string
	Series   string
	Interval time.Duration
	// Default marks the row used when a request carries no interval.
	Default bool
	Adapter series.Adapter
}

type pairKey struct {
	source, series string
}

// Registry dispatches (source, series, interval) to an adapter. Several rows
// may exist for one (source, series) pair, differing by native interval.
type Registry struct {
	mu     sync.RWMutex
	routes map[pairKey][]Route
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[pairKey][]Route)}
}

var _ series.AdapterResolver = (*Registry)(nil)

// Register adds a route. Duplicate (source, series, interval) rows and a
// second default for the same pair are configuration errors.
func (r *Registry) Register(route Route) error {
	if route.Adapter == nil {
		return series.NewConfigurationError("ingestion.Register", "route %s/%s has no adapter", route.Source, route.Series)
	}
	k := pairKey{route.Source, route.Series}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.routes[k] {
		if existing.Interval == route.Interval {
			return series.NewConfigurationError("ingestion.Register", "duplicate route %s/%s interval %s",
				route.Source, route.Series, route.Interval)
		}
		if existing.Default && route.Default {
			return series.NewConfigurationError("ingestion.Register", "two default routes for %s/%s",
				route.Source, route.Series)
		}
	}
	r.routes[k] = append(r.routes[k], route)
	sort.Slice(r.routes[k], func(i, j int) bool { return r.routes[k][i].Interval < r.routes[k][j].Interval })
	return nil
}

// Resolve selects the adapter by exact match on all three keys. A zero
// interval selects the pair's default row, or its only row.
func (r *Registry) Resolve(source, seriesCode string, interval time.Duration) (series.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.routes[pairKey{source, seriesCode}]
	if len(rows) == 0 {
		return nil, series.NewConfigurationError("ingestion.Resolve", "no adapter mapped for source %q series %q", source, seriesCode)
	}

	if interval == 0 {
		for _, row := range rows {
			if row.Default {
				return row.Adapter, nil
			}
		}
		if len(rows) == 1 {
			return rows[0].Adapter, nil
		}
		return nil, series.NewConfigurationError("ingestion.Resolve",
			"source %q series %q has %d intervals (%s) and no default", source, seriesCode, len(rows), intervals(rows))
	}

	for _, row := range rows {
		if row.Interval == interval {
			return row.Adapter, nil
		}
	}
	return nil, series.NewConfigurationError("ingestion.Resolve",
		"no adapter mapped for source %q series %q interval %s (have %s)", source, seriesCode, interval, intervals(rows))
}

// Routes returns a snapshot of every registered row.
func (r *Registry) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Route
	for _, rows := range r.routes {
		out = append(out, rows...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Series != out[j].Series {
			return out[i].Series < out[j].Series
		}
		return out[i].Interval < out[j].Interval
	})
	return out
}

func intervals(rows []Route) string {
	parts := make([]string, 0, len(rows))
	for _, row := range rows {
		parts = append(parts, fmt.Sprint(row.Interval))
	}
	return strings.Join(parts, ", ")
}
