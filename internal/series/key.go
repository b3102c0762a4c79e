package series

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// observationNamespace seeds the UUIDv5 ids derived from natural keys.
var observationNamespace = uuid.MustParse("6f1c3a52-1d55-4f0e-9b0b-5c1f6b7c9e21")

type nullString struct {
	Valid bool
	V     string
}

type nullFloat struct {
	Valid bool
	V     float64
}

type nullInt struct {
	Valid bool
	V     int
}

func nullStringOf(p *string) nullString {
	if p == nil {
		return nullString{}
	}
	return nullString{Valid: true, V: *p}
}

func nullFloatOf(p *float64) nullFloat {
	if p == nil {
		return nullFloat{}
	}
	return nullFloat{Valid: true, V: *p}
}

func nullIntOf(p *int) nullInt {
	if p == nil {
		return nullInt{}
	}
	return nullInt{Valid: true, V: *p}
}

// NaturalKey identifies an observation for deduplication and persistence.
// It is comparable, and two NULLs in the same position compare equal.
type NaturalKey struct {
	IsActual      bool
	TimeGenerated int64
	TimeVerified  int64
	Unit          string
	Source        string
	Location      string
	Series        string
	Datum         nullString
	Latitude      nullFloat
	Longitude     nullFloat
	Member        nullInt
}

// String renders the key canonically; NULL is written as "~".
func (k NaturalKey) String() string {
	var b strings.Builder
	b.WriteString(strconv.FormatBool(k.IsActual))
	for _, part := range []string{
		time.Unix(0, k.TimeGenerated).UTC().Format(time.RFC3339Nano),
		time.Unix(0, k.TimeVerified).UTC().Format(time.RFC3339Nano),
		k.Unit,
		k.Source,
		k.Location,
		k.Series,
		nullable(k.Datum.Valid, k.Datum.V),
		nullable(k.Latitude.Valid, strconv.FormatFloat(k.Latitude.V, 'g', -1, 64)),
		nullable(k.Longitude.Valid, strconv.FormatFloat(k.Longitude.V, 'g', -1, 64)),
		nullable(k.Member.Valid, strconv.Itoa(k.Member.V)),
	} {
		b.WriteByte('|')
		b.WriteString(part)
	}
	return b.String()
}

// ID derives a deterministic UUID from the key. Stores use it as the primary
// key so the uniqueness constraint holds with NULL == NULL on any backend.
func (k NaturalKey) ID() uuid.UUID {
	return uuid.NewSHA1(observationNamespace, []byte(k.String()))
}

func nullable(valid bool, v string) string {
	if !valid {
		return "~"
	}
	return strconv.Quote(v)
}
