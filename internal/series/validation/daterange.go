package validation

import (
	"fmt"

	"github.com/i474232898/series-acquisition/internal/series"
)

// DateRange passes only when every expected verified timestamp in the window
// has at least one observation. It does not look at values.
type DateRange struct{}

func (DateRange) Name() string { return NameDateRange }

func (DateRange) Validate(s *series.Series) (Result, error) {
	if s.Len() == 0 {
		return fail("no observations"), nil
	}

	present := make(map[int64]struct{}, len(s.Observations))
	for _, o := range s.Observations {
		present[o.TimeVerified.UnixNano()] = struct{}{}
	}

	expected := s.Window.Times()
	missing := 0
	for _, ts := range expected {
		if _, ok := present[ts.UnixNano()]; !ok {
			missing++
		}
	}
	if missing > 0 {
		return fail(fmt.Sprintf("missing %d of %d expected points", missing, len(expected))), nil
	}
	return pass(), nil
}
