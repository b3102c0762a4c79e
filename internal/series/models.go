package series

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Override comparison labels.
const (
	OverrideEquals             = "equals"
	OverrideGreaterThanOrEqual = "greaterThanOrEqual"
)

// Interpolation methods and limit areas understood by the gap filler.
const (
	MethodLinear  = "linear"
	MethodNearest = "nearest"
	MethodFfill   = "ffill"
	MethodBfill   = "bfill"

	LimitAreaNone    = "none"
	LimitAreaInside  = "inside"
	LimitAreaOutside = "outside"
)

// VerificationOverride replaces the usual completeness check with a count
// threshold, e.g. "at least 24 points".
type VerificationOverride struct {
	Label     string `json:"label" yaml:"label" validate:"required,oneof=equals greaterThanOrEqual"`
	Threshold int    `json:"threshold" yaml:"threshold" validate:"gte=0"`
}

// IntegrityConfig asks for bounded-gap interpolation after validation.
type IntegrityConfig struct {
	Method        string `json:"method" yaml:"method" validate:"required,oneof=linear nearest ffill bfill"`
	MaxGapSeconds int    `json:"maxGapSeconds" yaml:"maxGapSeconds" validate:"gte=0"`
	LimitArea     string `json:"limitArea,omitempty" yaml:"limitArea" validate:"omitempty,oneof=none inside outside"`
}

// SeriesDescription identifies what is wanted, never the data itself.
type SeriesDescription struct {
	Source       string                `json:"source" validate:"required"`
	Series       string                `json:"series" validate:"required"`
	Location     string                `json:"location" validate:"required"`
	Unit         string                `json:"unit" validate:"required"`
	Datum        *string               `json:"datum,omitempty"`
	Interval     time.Duration         `json:"interval" validate:"gte=0"`
	Verification []string              `json:"verification,omitempty"`
	Override     *VerificationOverride `json:"override,omitempty"`
	Integrity    *IntegrityConfig      `json:"integrity,omitempty"`
}

// Validate checks the description before it is used. Unknown override labels
// and interpolation settings are rejected here rather than at first use.
func (d SeriesDescription) Validate() error {
	if err := validate.Struct(d); err != nil {
		return &ConfigurationError{Op: "SeriesDescription.Validate", Msg: d.String(), Err: err}
	}
	return nil
}

// Filter returns the identity fields used to look rows up in a store.
func (d SeriesDescription) Filter() ObservationFilter {
	return ObservationFilter{
		Source:   d.Source,
		Series:   d.Series,
		Location: d.Location,
		Unit:     d.Unit,
		Datum:    d.Datum,
	}
}

func (d SeriesDescription) String() string {
	s := d.Source + "/" + d.Series + "@" + d.Location + " [" + d.Unit
	if d.Datum != nil {
		s += " " + *d.Datum
	}
	if d.Interval > 0 {
		s += " " + d.Interval.String()
	}
	return s + "]"
}

// TimeDescription is an inclusive window. A zero Interval means a single instant.
type TimeDescription struct {
	From     time.Time     `json:"from"`
	To       time.Time     `json:"to"`
	Interval time.Duration `json:"interval"`
}

// Validate enforces From <= To and that a positive interval evenly divides the span.
func (t TimeDescription) Validate() error {
	if t.To.Before(t.From) {
		return NewConfigurationError("TimeDescription.Validate", "from %s is after to %s",
			t.From.Format(time.RFC3339), t.To.Format(time.RFC3339))
	}
	if t.Interval < 0 {
		return NewConfigurationError("TimeDescription.Validate", "negative interval %s", t.Interval)
	}
	if t.Interval > 0 && t.To.Sub(t.From)%t.Interval != 0 {
		return NewConfigurationError("TimeDescription.Validate", "interval %s does not divide span %s",
			t.Interval, t.To.Sub(t.From))
	}
	return nil
}

// SingleInstant reports whether the window names a single point in time.
func (t TimeDescription) SingleInstant() bool {
	return t.Interval <= 0 || t.From.Equal(t.To)
}

// Times returns the expected verified timestamps, both ends inclusive.
func (t TimeDescription) Times() []time.Time {
	if t.SingleInstant() {
		return []time.Time{t.From}
	}
	n := int(t.To.Sub(t.From)/t.Interval) + 1
	out := make([]time.Time, 0, n)
	for ts := t.From; !ts.After(t.To); ts = ts.Add(t.Interval) {
		out = append(out, ts)
	}
	return out
}

// Contains reports whether ts lies within [From, To].
func (t TimeDescription) Contains(ts time.Time) bool {
	return !ts.Before(t.From) && !ts.After(t.To)
}

// Observation is one timestamped value with its provenance. Value is kept as
// text so no source loses precision on the way through.
type Observation struct {
	Value            string    `json:"value"`
	Unit             string    `json:"unit"`
	TimeVerified     time.Time `json:"timeVerified"`
	TimeGenerated    time.Time `json:"timeGenerated"`
	TimeAcquired     time.Time `json:"timeAcquired"`
	Latitude         *float64  `json:"latitude,omitempty"`
	Longitude        *float64  `json:"longitude,omitempty"`
	EnsembleMemberID *int      `json:"ensembleMemberId,omitempty"`

	IsActual bool    `json:"isActual"`
	Source   string  `json:"source"`
	Series   string  `json:"series"`
	Location string  `json:"location"`
	Datum    *string `json:"datum,omitempty"`
}

// Key returns the natural key of the observation.
func (o Observation) Key() NaturalKey {
	return NaturalKey{
		IsActual:      o.IsActual,
		TimeGenerated: o.TimeGenerated.UTC().UnixNano(),
		TimeVerified:  o.TimeVerified.UTC().UnixNano(),
		Unit:          o.Unit,
		Source:        o.Source,
		Location:      o.Location,
		Series:        o.Series,
		Datum:         nullStringOf(o.Datum),
		Latitude:      nullFloatOf(o.Latitude),
		Longitude:     nullFloatOf(o.Longitude),
		Member:        nullIntOf(o.EnsembleMemberID),
	}
}

// ObservationFilter selects stored rows belonging to one description.
type ObservationFilter struct {
	Source   string
	Series   string
	Location string
	Unit     string
	Datum    *string
}

// Matches reports whether o belongs to the filter's identity.
func (f ObservationFilter) Matches(o Observation) bool {
	if o.Source != f.Source || o.Series != f.Series || o.Location != f.Location || o.Unit != f.Unit {
		return false
	}
	if (f.Datum == nil) != (o.Datum == nil) {
		return false
	}
	return f.Datum == nil || *f.Datum == *o.Datum
}

// Series is the result of one acquisition. Each request owns its own instance.
type Series struct {
	Description  SeriesDescription `json:"description"`
	Window       TimeDescription   `json:"window"`
	Observations []Observation     `json:"observations"`
	IsComplete   bool              `json:"isComplete"`
	Reason       string            `json:"reason,omitempty"`
}

// Len is the number of observations.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Observations)
}

// Clone returns a copy whose observation slice can be replaced independently.
func (s *Series) Clone() *Series {
	c := *s
	c.Observations = append([]Observation(nil), s.Observations...)
	return &c
}

// ModelOutput is a row previously produced by an internal model. It is read
// back as an input by shifting the verified time by the lead time.
type ModelOutput struct {
	Model            string
	Location         string
	TimeGenerated    time.Time
	LeadTime         time.Duration
	Value            string
	Unit             string
	EnsembleMemberID *int
	Latitude         *float64
	Longitude        *float64
}

// ModelOutputFilter selects model outputs generated inside a window.
type ModelOutputFilter struct {
	Model         string
	Location      string
	GeneratedFrom time.Time
	GeneratedTo   time.Time
}
