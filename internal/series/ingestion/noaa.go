package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"


	"github.com/i474232898/series-acquisition/internal/common"
	"github.com/i474232898/series-acquisition/internal/logging"
	"github.com/i474232898/series-acquisition/internal/series"
)

const (
	noaaBaseURL    = "https://api.tidesandcurrents.noaa.gov/api/prod/datagetter"
	noaaTimeLayout = "2006-01-02 15:04"
	noaaDateParam  = "20060102 15:04"
)

// NOAA CO-OPS products the adapter understands.
const (
	ProductWaterLevel   = "water_level"
	ProductHourlyHeight = "hourly_height"
	ProductPredictions  = "predictions"
	ProductWind         = "wind"
)

// NOAAOptions configures one NOAA Tides & Currents route.
type NOAAOptions struct {
	Product string `yaml:"product"`
	// Field picks the value column: "v" for water levels, "s"/"d"/"g" for wind.
	Field string `yaml:"field"`
	Datum string `yaml:"datum"`
	// Interval is passed through for predictions ("h", "6", "hilo").
	Interval string        `yaml:"interval"`
	Units    string        `yaml:"units"`
	MaxSpan  time.Duration `yaml:"maxSpan"`
	BaseURL  string        `yaml:"baseURL"`
}

// NOAAAdapter fetches water levels, tide predictions and wind from the
// NOAA CO-OPS data API.
type NOAAAdapter struct {
	name        string
	baseURL     string
	application string
	opts        NOAAOptions
	upstream    *upstream
	log         *logging.Logger
}

// NewNOAAAdapter validates opts and returns a NOAAAdapter.
func NewNOAAAdapter(client *http.Client, application string, opts NOAAOptions, log *logging.Logger) (*NOAAAdapter, error) {
	switch opts.Product {
	case ProductWaterLevel, ProductHourlyHeight, ProductPredictions, ProductWind:
	default:
		return nil, series.NewConfigurationError("ingestion.NewNOAAAdapter", "unsupported NOAA product %q", opts.Product)
	}
	if opts.Field == "" {
		opts.Field = "v"
		if opts.Product == ProductWind {
			opts.Field = "s"
		}
	}
	if opts.Units == "" {
		opts.Units = "metric"
	}
	if opts.MaxSpan <= 0 {
		opts.MaxSpan = 31 * 24 * time.Hour
		if opts.Product == ProductHourlyHeight {
			opts.MaxSpan = 365 * 24 * time.Hour
		}
	}
	baseURL := common.FirstNonEmpty(opts.BaseURL, noaaBaseURL)

	name := "noaa-" + opts.Product
	return &NOAAAdapter{
		name:        name,
		baseURL:     baseURL,
		application: common.FirstNonEmpty(application, "series-acquisition"),
		opts:        opts,
		upstream:    newUpstream(name, client, log),
		log:         log,
	}, nil
}

func (a *NOAAAdapter) Name() string { return a.name }

type noaaPayload struct {
	Metadata *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Lat  string `json:"lat"`
		Lon  string `json:"lon"`
	} `json:"metadata"`
	Data        []map[string]string `json:"data"`
	Predictions []map[string]string `json:"predictions"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *NOAAAdapter) actual() bool { return a.opts.Product != ProductPredictions }

func (a *NOAAAdapter) Fetch(ctx context.Context, req series.FetchRequest) ([]series.Observation, error) {
	failure := func(err error) error {
		return &series.IngestionFailure{Adapter: a.name, Location: req.ExternalLocation, Err: err}
	}

	seen := make(map[int64]struct{})
	var out []series.Observation
	for start := req.Window.From; !start.After(req.Window.To); {
		end := start.Add(a.opts.MaxSpan)
		if end.After(req.Window.To) {
			end = req.Window.To
		}

		payload, err := a.fetchChunk(ctx, req, start, end)
		if err != nil {
			return nil, failure(err)
		}
		if payload.Error != nil {
			if !common.HasAny(payload.Error.Message, "no data", "not found", "not available", "no predictions") {
				return nil, failure(fmt.Errorf("noaa: %s", payload.Error.Message))
			}
			a.log.Debugf("%s: %s %s..%s: %s", a.name, req.ExternalLocation, start.Format(noaaDateParam), end.Format(noaaDateParam), payload.Error.Message)
		}

		obs, err := a.toObservations(payload, req)
		if err != nil {
			return nil, failure(err)
		}
		for _, o := range obs {
			k := o.TimeVerified.UnixNano()
			if _, dup := seen[k]; dup || !req.Window.Contains(o.TimeVerified) {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, o)
		}

		if !end.Before(req.Window.To) {
			break
		}
		start = end.Add(time.Minute)
	}

	if len(out) == 0 {
		return nil, failure(errors.New("noaa: no data in window"))
	}
	series.SortObservations(out)
	return out, nil
}

func (a *NOAAAdapter) fetchChunk(ctx context.Context, req series.FetchRequest, start, end time.Time) (*noaaPayload, error) {
	values := url.Values{}
	values.Set("product", a.opts.Product)
	values.Set("station", req.ExternalLocation)
	values.Set("begin_date", start.UTC().Format(noaaDateParam))
	values.Set("end_date", end.UTC().Format(noaaDateParam))
	values.Set("time_zone", "gmt")
	values.Set("units", a.opts.Units)
	values.Set("format", "json")
	values.Set("application", a.application)
	if a.opts.Product != ProductWind {
		datum := a.opts.Datum
		if req.Description.Datum != nil {
			datum = *req.Description.Datum
		}
		values.Set("datum", common.FirstNonEmpty(datum, "MLLW"))
	}
	if a.opts.Interval != "" {
		values.Set("interval", a.opts.Interval)
	}

	resp, err := a.upstream.get(ctx, a.baseURL+"?"+values.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload noaaPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("noaa: decode response: %w", err)
	}
	return &payload, nil
}

func (a *NOAAAdapter) toObservations(p *noaaPayload, req series.FetchRequest) ([]series.Observation, error) {
	rows := p.Data
	if a.opts.Product == ProductPredictions {
		rows = p.Predictions
	}

	var lat, lon *float64
	if p.Metadata != nil {
		lat = parseCoord(p.Metadata.Lat)
		lon = parseCoord(p.Metadata.Lon)
	}

	generated := req.AcquiredAt.UTC().Truncate(time.Hour)
	out := make([]series.Observation, 0, len(rows))
	for _, row := range rows {
		v := row[a.opts.Field]
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("noaa: bad value %q at %s", v, row["t"])
		}
		ts, err := time.ParseInLocation(noaaTimeLayout, row["t"], time.UTC)
		if err != nil {
			return nil, fmt.Errorf("noaa: bad timestamp %q: %w", row["t"], err)
		}
		o := series.Observation{
			Value:         v,
			Unit:          req.Description.Unit,
			TimeVerified:  ts,
			TimeGenerated: ts,
			TimeAcquired:  req.AcquiredAt,
			Latitude:      lat,
			Longitude:     lon,
			IsActual:      a.actual(),
		}
		if !o.IsActual {
			o.TimeGenerated = generated
		}
		out = append(out, o)
	}
	return out, nil
}

func parseCoord(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
