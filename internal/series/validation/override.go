package validation

import (
	"fmt"

	"github.com/i474232898/series-acquisition/internal/series"
)

// Override compares the observation count with the description's threshold.
type Override struct{}

func (Override) Name() string { return NameOverride }

func (Override) Validate(s *series.Series) (Result, error) {
	if s.Len() == 0 {
		return fail("no observations"), nil
	}

	ov := s.Description.Override
	if ov == nil {
		return Result{}, series.NewConfigurationError("validation.Override", "%s selects override but has no override settings", s.Description)
	}

	n := s.Len()
	switch ov.Label {
	case series.OverrideEquals:
		if n != ov.Threshold {
			return fail(fmt.Sprintf("expected exactly %d observations, got %d", ov.Threshold, n)), nil
		}
	case series.OverrideGreaterThanOrEqual:
		if n < ov.Threshold {
			return fail(fmt.Sprintf("expected at least %d observations, got %d", ov.Threshold, n)), nil
		}
	default:
		return Result{}, series.NewConfigurationError("validation.Override", "unknown comparison label %q", ov.Label)
	}
	return pass(), nil
}
