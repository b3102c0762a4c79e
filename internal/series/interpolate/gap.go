// Package interpolate fills bounded gaps in a series. Gaps longer than the
// configured limit are never filled, whatever the method.
package interpolate

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/i474232898/series-acquisition/internal/series"
)

// Engine implements series.Interpolator.
type Engine struct{}

// New returns an interpolation Engine.
func New() *Engine { return &Engine{} }

var _ series.Interpolator = (*Engine)(nil)

// channel is one ensemble member (or the single deterministic member) laid
// out on the expected time axis.
type channel struct {
	member *int
	rows   []*series.Observation
	values []float64
}

// run is a maximal stretch of missing slots [start, end).
type run struct {
	start, end int
}

func (r run) len() int { return r.end - r.start }

// Fill returns a new series whose observations are reindexed onto the
// expected axis, with every fillable gap interpolated and every remaining
// gap dropped. Completeness fields are carried over untouched.
func (e *Engine) Fill(s *series.Series) (*series.Series, error) {
	cfg := s.Description.Integrity
	if cfg == nil {
		return s.Clone(), nil
	}
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	window := s.Window
	if window.Interval <= 0 {
		window.Interval = s.Description.Interval
	}
	if window.SingleInstant() || s.Len() == 0 {
		return s.Clone(), nil
	}

	axis := window.Times()
	rowLimit := int((time.Duration(cfg.MaxGapSeconds) * time.Second) / window.Interval)
	area := cfg.LimitArea
	if area == "" {
		area = series.LimitAreaNone
	}

	channels := layout(s.Observations, axis)
	var out []series.Observation
	for _, ch := range channels {
		filled := fillChannel(ch.values, cfg.Method, area, rowLimit)
		out = append(out, materialise(ch, filled, axis)...)
	}
	series.SortObservations(out)

	res := s.Clone()
	res.Observations = out
	return res, nil
}

func checkConfig(cfg *series.IntegrityConfig) error {
	switch cfg.Method {
	case series.MethodLinear, series.MethodNearest, series.MethodFfill, series.MethodBfill:
	default:
		return series.NewConfigurationError("interpolate.Fill", "unknown interpolation method %q", cfg.Method)
	}
	switch cfg.LimitArea {
	case "", series.LimitAreaNone, series.LimitAreaInside, series.LimitAreaOutside:
	default:
		return series.NewConfigurationError("interpolate.Fill", "unknown limit area %q", cfg.LimitArea)
	}
	if cfg.MaxGapSeconds < 0 {
		return series.NewConfigurationError("interpolate.Fill", "negative max gap %d", cfg.MaxGapSeconds)
	}
	return nil
}

// layout groups observations per ensemble member and places the latest
// generation of each slot on the axis. Off-axis rows are dropped.
func layout(obs []series.Observation, axis []time.Time) []*channel {
	slot := make(map[int64]int, len(axis))
	for i, ts := range axis {
		slot[ts.UnixNano()] = i
	}

	byMember := make(map[int]*channel)
	var order []int
	for i := range obs {
		o := &obs[i]
		idx, ok := slot[o.TimeVerified.UnixNano()]
		if !ok {
			continue
		}
		key := -1
		if o.EnsembleMemberID != nil {
			key = *o.EnsembleMemberID
		}
		ch, ok := byMember[key]
		if !ok {
			ch = &channel{
				member: o.EnsembleMemberID,
				rows:   make([]*series.Observation, len(axis)),
				values: make([]float64, len(axis)),
			}
			for j := range ch.values {
				ch.values[j] = math.NaN()
			}
			byMember[key] = ch
			order = append(order, key)
		}
		if prev := ch.rows[idx]; prev != nil && !newer(o, prev) {
			continue
		}
		ch.rows[idx] = o
		v, err := strconv.ParseFloat(o.Value, 64)
		if err != nil {
			v = math.NaN()
		}
		ch.values[idx] = v
	}

	sort.Ints(order)
	out := make([]*channel, 0, len(order))
	for _, k := range order {
		out = append(out, byMember[k])
	}
	return out
}

func newer(a, b *series.Observation) bool {
	if !a.TimeGenerated.Equal(b.TimeGenerated) {
		return a.TimeGenerated.After(b.TimeGenerated)
	}
	return a.TimeAcquired.After(b.TimeAcquired)
}

// missingRuns finds the maximal runs of NaN in values.
func missingRuns(values []float64) []run {
	var runs []run
	for i := 0; i < len(values); {
		if !math.IsNaN(values[i]) {
			i++
			continue
		}
		j := i
		for j < len(values) && math.IsNaN(values[j]) {
			j++
		}
		runs = append(runs, run{start: i, end: j})
		i = j
	}
	return runs
}

// fillChannel returns a copy of values with the fillable runs interpolated.
func fillChannel(values []float64, method, area string, rowLimit int) []float64 {
	out := append([]float64(nil), values...)
	n := len(out)
	for _, r := range missingRuns(values) {
		if r.len() > rowLimit {
			continue
		}
		leading, trailing := r.start == 0, r.end == n
		if leading && trailing {
			continue
		}
		interior := !leading && !trailing
		if (area == series.LimitAreaInside && !interior) || (area == series.LimitAreaOutside && interior) {
			continue
		}

		var before, after float64
		if !leading {
			before = values[r.start-1]
		}
		if !trailing {
			after = values[r.end]
		}

		for i := r.start; i < r.end; i++ {
			switch method {
			case series.MethodLinear:
				switch {
				case leading:
					out[i] = after
				case trailing:
					out[i] = before
				default:
					frac := float64(i-r.start+1) / float64(r.len()+1)
					out[i] = before + (after-before)*frac
				}
			case series.MethodNearest:
				switch {
				case leading:
					out[i] = after
				case trailing:
					out[i] = before
				case i-(r.start-1) <= r.end-i:
					out[i] = before
				default:
					out[i] = after
				}
			case series.MethodFfill:
				if !leading {
					out[i] = before
				}
			case series.MethodBfill:
				if !trailing {
					out[i] = after
				}
			}
		}
	}
	return out
}

// materialise turns a channel back into observations. Rows created by the
// fill copy their metadata from the nearest earlier known row, or the
// nearest later one at the head of the series.
func materialise(ch *channel, filled []float64, axis []time.Time) []series.Observation {
	var out []series.Observation
	var template *series.Observation
	for i := range axis {
		if ch.rows[i] != nil && !math.IsNaN(ch.values[i]) {
			template = ch.rows[i]
			out = append(out, *ch.rows[i])
			continue
		}
		if math.IsNaN(filled[i]) {
			continue
		}
		src := template
		if src == nil {
			src = nextKnown(ch, i)
		}
		if src == nil {
			continue
		}
		o := *src
		o.TimeVerified = axis[i]
		if o.IsActual {
			o.TimeGenerated = axis[i]
		}
		o.Value = strconv.FormatFloat(filled[i], 'f', -1, 64)
		o.EnsembleMemberID = ch.member
		out = append(out, o)
	}
	return out
}

func nextKnown(ch *channel, from int) *series.Observation {
	for j := from + 1; j < len(ch.rows); j++ {
		if ch.rows[j] != nil && !math.IsNaN(ch.values[j]) {
			return ch.rows[j]
		}
	}
	return nil
}
