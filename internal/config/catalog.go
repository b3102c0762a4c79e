package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/i474232898/series-acquisition/internal/mapping"
	"github.com/i474232898/series-acquisition/internal/series"
	"github.com/i474232898/series-acquisition/internal/series/ingestion"
	"github.com/i474232898/series-acquisition/internal/series/validation"
)

// Catalog is the static wiring read at startup: where each location lives
// upstream, which adapter serves each (source, series, interval), and which
// series the scheduler keeps warm.
type Catalog struct {
	Mappings []mapping.Entry `yaml:"mappings" validate:"dive"`
	Adapters []AdapterEntry  `yaml:"adapters" validate:"required,min=1,dive"`
	Watch    []WatchEntry    `yaml:"watch" validate:"dive"`
}

// AdapterEntry is one dispatch row. Options are decoded by the adapter kind.
type AdapterEntry struct {
	Source   string                 `yaml:"source" validate:"required"`
	Series   string                 `yaml:"series" validate:"required"`
	Interval time.Duration          `yaml:"interval" validate:"gte=0"`
	Default  bool                   `yaml:"default"`
	Kind     string                 `yaml:"kind" validate:"required"`
	Options  map[string]interface{} `yaml:"options"`
}

// WatchEntry is a series acquired on every scheduler run over
// [now-Lookback, now+Lookahead], aligned to the series interval.
type WatchEntry struct {
	Source       string                       `yaml:"source"`
	Series       string                       `yaml:"series"`
	Location     string                       `yaml:"location"`
	Unit         string                       `yaml:"unit"`
	Datum        *string                      `yaml:"datum"`
	Interval     time.Duration                `yaml:"interval" validate:"gt=0"`
	Verification []string                     `yaml:"verification"`
	Override     *series.VerificationOverride `yaml:"override"`
	Integrity    *series.IntegrityConfig      `yaml:"integrity"`
	Lookback     time.Duration                `yaml:"lookback" validate:"gte=0"`
	Lookahead    time.Duration                `yaml:"lookahead" validate:"gte=0"`
}

// Description returns the series description of the entry.
func (w WatchEntry) Description() series.SeriesDescription {
	return series.SeriesDescription{
		Source:       w.Source,
		Series:       w.Series,
		Location:     w.Location,
		Unit:         w.Unit,
		Datum:        w.Datum,
		Interval:     w.Interval,
		Verification: w.Verification,
		Override:     w.Override,
		Integrity:    w.Integrity,
	}
}

// Window returns the acquisition window for a run at now.
func (w WatchEntry) Window(now time.Time) series.TimeDescription {
	anchor := now.UTC().Truncate(w.Interval)
	return series.TimeDescription{
		From:     anchor.Add(-w.Lookback),
		To:       anchor.Add(w.Lookahead),
		Interval: w.Interval,
	}
}

// LoadCatalog reads and checks the catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and checks a catalog. Unknown adapter kinds, validator
// names and override labels are rejected here, before anything runs.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, &series.ConfigurationError{Op: "config.ParseCatalog", Msg: "malformed YAML", Err: err}
	}
	if err := validate.Struct(c); err != nil {
		return nil, &series.ConfigurationError{Op: "config.ParseCatalog", Msg: "invalid catalog", Err: err}
	}

	for _, a := range c.Adapters {
		if !ingestion.KnownKind(a.Kind) {
			return nil, series.NewConfigurationError("config.ParseCatalog", "unknown adapter kind %q for %s/%s (known: %s)",
				a.Kind, a.Source, a.Series, strings.Join(ingestion.Kinds(), ", "))
		}
	}

	chain := validation.NewChain()
	for _, w := range c.Watch {
		desc := w.Description()
		if err := desc.Validate(); err != nil {
			return nil, err
		}
		if err := chain.Check(desc.Verification); err != nil {
			return nil, err
		}
		if w.Lookback%w.Interval != 0 || w.Lookahead%w.Interval != 0 {
			return nil, series.NewConfigurationError("config.ParseCatalog", "%s: lookback and lookahead must be multiples of %s",
				desc, w.Interval)
		}
	}
	return &c, nil
}

// Routes converts the adapter entries into registry specs.
func (c *Catalog) Routes() []ingestion.RouteSpec {
	out := make([]ingestion.RouteSpec, 0, len(c.Adapters))
	for _, a := range c.Adapters {
		out = append(out, ingestion.RouteSpec{
			Source:   a.Source,
			Series:   a.Series,
			Interval: a.Interval,
			Default:  a.Default,
			Kind:     a.Kind,
			Options:  a.Options,
		})
	}
	return out
}
