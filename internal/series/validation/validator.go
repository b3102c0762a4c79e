// Package validation scores acquired series. Each validator answers "is this
// series acceptable" on its own; the Chain ANDs the ones a description selects.
package validation

import (
	"sort"
	"strings"

	"github.com/i474232898/series-acquisition/internal/series"
)

// Validator names accepted in SeriesDescription.Verification.
const (
	NameDateRange = "dateRange"
	NameOverride  = "override"
)

// Result is one validator's verdict.
type Result struct {
	OK     bool
	Reason string
}

func pass() Result { return Result{OK: true} }

func fail(reason string) Result { return Result{Reason: reason} }

// Validator decides whether a series is acceptable. Validators must not
// assume any other validator ran before them.
type Validator interface {
	Name() string
	Validate(s *series.Series) (Result, error)
}

// Chain is the static name -> validator registry plus the AND composition.
type Chain struct {
	validators map[string]Validator
}

// NewChain registers the given validators by name. With no arguments it
// registers the built-in dateRange and override validators.
func NewChain(vs ...Validator) *Chain {
	if len(vs) == 0 {
		vs = []Validator{DateRange{}, Override{}}
	}
	c := &Chain{validators: make(map[string]Validator, len(vs))}
	for _, v := range vs {
		c.validators[v.Name()] = v
	}
	return c
}

// Names lists the registered validator names, sorted.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.validators))
	for n := range c.validators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Check rejects unknown validator names. Configuration loading calls it so
// a typo fails at startup, not on the first acquisition.
func (c *Chain) Check(names []string) error {
	for _, n := range names {
		if _, ok := c.validators[n]; !ok {
			return series.NewConfigurationError("validation.Check", "unknown validator %q (known: %s)",
				n, strings.Join(c.Names(), ", "))
		}
	}
	return nil
}

// Validate runs every validator named by the series description and ANDs the
// results. All selected validators run even after a failure so the reason
// lists every problem. No selection means the series is accepted.
func (c *Chain) Validate(s *series.Series) (bool, string, error) {
	names := s.Description.Verification
	if err := c.Check(names); err != nil {
		return false, "", err
	}

	ok := true
	var reasons []string
	for _, n := range names {
		res, err := c.validators[n].Validate(s)
		if err != nil {
			return false, "", err
		}
		if !res.OK {
			ok = false
			reasons = append(reasons, n+": "+res.Reason)
		}
	}
	return ok, strings.Join(reasons, "; "), nil
}
