package ingestion

import (
	"net/http"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/i474232898/series-acquisition/internal/logging"
	"github.com/i474232898/series-acquisition/internal/series"
)

// Adapter kinds accepted in the catalog.
const (
	KindNOAA        = "noaa"
	KindEnsemble    = "openmeteo-ensemble"
	KindModelOutput = "model-output"
	KindTest        = "test"
)

// RouteSpec is a dispatch row as read from configuration.
type RouteSpec struct {
	Source   string
	Series   string
	Interval time.Duration
	Default  bool
	Kind     string
	Options  map[string]interface{}
}

// Deps are the shared collaborators adapters may need.
type Deps struct {
	HTTPClient      *http.Client
	Logger          *logging.Logger
	ModelOutputs    series.ModelOutputReader
	NOAAApplication string
	Geocode         GeocodeFunc
}

// Factory builds an adapter for one route.
type Factory func(spec RouteSpec, deps Deps) (series.Adapter, error)

// Factories is the static kind -> constructor table.
var Factories = map[string]Factory{
	KindNOAA: func(spec RouteSpec, deps Deps) (series.Adapter, error) {
		var opts NOAAOptions
		if err := decodeOptions(spec, &opts); err != nil {
			return nil, err
		}
		return NewNOAAAdapter(deps.HTTPClient, deps.NOAAApplication, opts, deps.Logger)
	},
	KindEnsemble: func(spec RouteSpec, deps Deps) (series.Adapter, error) {
		var opts EnsembleOptions
		if err := decodeOptions(spec, &opts); err != nil {
			return nil, err
		}
		return NewEnsembleAdapter(deps.HTTPClient, deps.Geocode, opts, deps.Logger)
	},
	KindModelOutput: func(spec RouteSpec, deps Deps) (series.Adapter, error) {
		var opts ModelOutputOptions
		if err := decodeOptions(spec, &opts); err != nil {
			return nil, err
		}
		return NewModelOutputAdapter(deps.ModelOutputs, opts)
	},
	KindTest: func(spec RouteSpec, deps Deps) (series.Adapter, error) {
		var opts TestOptions
		if err := decodeOptions(spec, &opts); err != nil {
			return nil, err
		}
		return NewTestAdapter(opts)
	},
}

// KnownKind reports whether kind has a factory.
func KnownKind(kind string) bool {
	_, ok := Factories[kind]
	return ok
}

// Kinds lists the registered kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(Factories))
	for k := range Factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs every adapter and registers its route. Any unknown kind or
// bad option set fails the whole build.
func Build(specs []RouteSpec, deps Deps) (*Registry, error) {
	reg := NewRegistry()
	for _, spec := range specs {
		factory, ok := Factories[spec.Kind]
		if !ok {
			return nil, series.NewConfigurationError("ingestion.Build", "unknown adapter kind %q for %s/%s", spec.Kind, spec.Source, spec.Series)
		}
		adapter, err := factory(spec, deps)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(Route{
			Source:   spec.Source,
			Series:   spec.Series,
			Interval: spec.Interval,
			Default:  spec.Default,
			Adapter:  adapter,
		}); err != nil {
			return nil, err
		}
		deps.Logger.Debugf("ingestion: registered %s for %s/%s interval %s", adapter.Name(), spec.Source, spec.Series, spec.Interval)
	}
	return reg, nil
}

// decodeOptions binds a route's free-form options onto a typed struct.
// Unknown keys are rejected so typos fail at load time.
func decodeOptions(spec RouteSpec, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           out,
	})
	if err != nil {
		return &series.ProgrammingError{Op: "ingestion.decodeOptions", Err: err}
	}
	if err := dec.Decode(spec.Options); err != nil {
		return &series.ConfigurationError{
			Op:  "ingestion.decodeOptions",
			Msg: "bad options for " + spec.Kind + " route " + spec.Source + "/" + spec.Series,
			Err: err,
		}
	}
	return nil
}
