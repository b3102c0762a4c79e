package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/series-acquisition/internal/common"
	"github.com/i474232898/series-acquisition/internal/logging"
	"github.com/i474232898/series-acquisition/internal/series"
)

const (
	ensembleBaseURL    = "https://ensemble-api.open-meteo.com/v1/ensemble"
	openMeteoTimeFmt   = "2006-01-02T15:04"
	openMeteoDateParam = "2006-01-02"
)

// GeocodeFunc resolves a place name to coordinates.
type GeocodeFunc func(city, country string) (lat, lon float64, err error)

var geocoderKeyOnce sync.Once

// GoogleGeocoder returns a GeocodeFunc backed by the Google geocoding API.
// The key is installed once; an empty key yields nil (geocoding disabled).
func GoogleGeocoder(apiKey string) GeocodeFunc {
	if apiKey == "" {
		return nil
	}
	geocoderKeyOnce.Do(func() { geocoder.ApiKey = apiKey })
	return func(city, country string) (float64, float64, error) {
		loc, err := geocoder.Geocoding(geocoder.Address{City: city, Country: country})
		if err != nil {
			return 0, 0, err
		}
		return loc.Latitude, loc.Longitude, nil
	}
}

// EnsembleOptions configures one Open-Meteo ensemble route.
type EnsembleOptions struct {
	// Variable is the hourly variable, e.g. "wind_speed_10m" or "temperature_2m".
	Variable string `yaml:"variable"`
	Model    string `yaml:"model"`
	// WindSpeedUnit is passed through when set ("ms", "kn", ...).
	WindSpeedUnit string `yaml:"windSpeedUnit"`
	BaseURL       string `yaml:"baseURL"`
}

// EnsembleAdapter fetches ensemble forecasts from Open-Meteo. Each member
// becomes its own channel via EnsembleMemberID; the control run is member 0.
type EnsembleAdapter struct {
	name     string
	baseURL  string
	opts     EnsembleOptions
	geocode  GeocodeFunc
	upstream *upstream
	log      *logging.Logger

	mu     sync.Mutex
	coords map[string][2]float64
}

// NewEnsembleAdapter validates opts and returns an EnsembleAdapter.
func NewEnsembleAdapter(client *http.Client, geocode GeocodeFunc, opts EnsembleOptions, log *logging.Logger) (*EnsembleAdapter, error) {
	if opts.Variable == "" {
		return nil, series.NewConfigurationError("ingestion.NewEnsembleAdapter", "variable is required")
	}
	if opts.Model == "" {
		opts.Model = "gfs_seamless"
	}
	name := "openmeteo-ensemble-" + opts.Variable
	return &EnsembleAdapter{
		name:     name,
		baseURL:  common.FirstNonEmpty(opts.BaseURL, ensembleBaseURL),
		opts:     opts,
		geocode:  geocode,
		upstream: newUpstream(name, client, log),
		log:      log,
		coords:   make(map[string][2]float64),
	}, nil
}

func (a *EnsembleAdapter) Name() string { return a.name }

// coordinates accepts "lat,lon" directly; anything else is "City,Country"
// and goes through the geocoder. Results are cached per code.
func (a *EnsembleAdapter) coordinates(code string) (float64, float64, error) {
	a.mu.Lock()
	c, ok := a.coords[code]
	a.mu.Unlock()
	if ok {
		return c[0], c[1], nil
	}

	parts := strings.SplitN(code, ",", 2)
	if len(parts) == 2 {
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if errLat == nil && errLon == nil {
			return lat, lon, nil
		}
	}
	if a.geocode == nil {
		return 0, 0, fmt.Errorf("location %q is not lat,lon and no geocoder is configured", code)
	}
	city, country := strings.TrimSpace(parts[0]), ""
	if len(parts) == 2 {
		country = strings.TrimSpace(parts[1])
	}
	lat, lon, err := a.geocode(city, country)
	if err != nil {
		return 0, 0, fmt.Errorf("geocoding %q: %w", code, err)
	}
	a.mu.Lock()
	a.coords[code] = [2]float64{lat, lon}
	a.mu.Unlock()
	return lat, lon, nil
}

func (a *EnsembleAdapter) Fetch(ctx context.Context, req series.FetchRequest) ([]series.Observation, error) {
	failure := func(err error) error {
		return &series.IngestionFailure{Adapter: a.name, Location: req.ExternalLocation, Err: err}
	}

	lat, lon, err := a.coordinates(req.ExternalLocation)
	if err != nil {
		return nil, failure(err)
	}

	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	values.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	values.Set("hourly", a.opts.Variable)
	values.Set("models", a.opts.Model)
	values.Set("timezone", "GMT")
	values.Set("start_date", req.Window.From.UTC().Format(openMeteoDateParam))
	values.Set("end_date", req.Window.To.UTC().Format(openMeteoDateParam))
	if a.opts.WindSpeedUnit != "" {
		values.Set("wind_speed_unit", a.opts.WindSpeedUnit)
	}
	resp, err := a.upstream.get(ctx, a.baseURL+"?"+values.Encode())
	if err != nil {
		return nil, failure(err)
	}
	defer resp.Body.Close()

	var payload struct {
		Latitude  float64                    `json:"latitude"`
		Longitude float64                    `json:"longitude"`
		Hourly    map[string]json.RawMessage `json:"hourly"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, failure(fmt.Errorf("openmeteo: decode response: %w", err))
	}

	obs, err := a.toObservations(payload.Hourly, payload.Latitude, payload.Longitude, req)
	if err != nil {
		return nil, failure(err)
	}
	if len(obs) == 0 {
		return nil, failure(fmt.Errorf("openmeteo: no %s values in window", a.opts.Variable))
	}
	return obs, nil
}

func (a *EnsembleAdapter) toObservations(hourly map[string]json.RawMessage, lat, lon float64, req series.FetchRequest) ([]series.Observation, error) {
	rawTimes, ok := hourly["time"]
	if !ok {
		return nil, fmt.Errorf("openmeteo: response has no hourly time axis")
	}
	var times []string
	if err := json.Unmarshal(rawTimes, &times); err != nil {
		return nil, fmt.Errorf("openmeteo: decode time axis: %w", err)
	}
	axis := make([]time.Time, len(times))
	for i, s := range times {
		ts, err := time.ParseInLocation(openMeteoTimeFmt, s, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("openmeteo: bad timestamp %q: %w", s, err)
		}
		axis[i] = ts
	}

	// The control run is "<var>", members are "<var>_memberNN".
	members := make(map[int]string)
	for key := range hourly {
		switch {
		case key == a.opts.Variable:
			members[0] = key
		case strings.HasPrefix(key, a.opts.Variable+"_member"):
			n, err := strconv.Atoi(strings.TrimPrefix(key, a.opts.Variable+"_member"))
			if err != nil {
				continue
			}
			members[n] = key
		}
	}
	ids := make([]int, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	generated := req.AcquiredAt.UTC().Truncate(time.Hour)
	var out []series.Observation
	for _, id := range ids {
		var values []*float64
		if err := json.Unmarshal(hourly[members[id]], &values); err != nil {
			return nil, fmt.Errorf("openmeteo: decode %s: %w", members[id], err)
		}
		member := id
		for i, v := range values {
			if v == nil || i >= len(axis) || !req.Window.Contains(axis[i]) {
				continue
			}
			la, lo := lat, lon
			out = append(out, series.Observation{
				Value:            strconv.FormatFloat(*v, 'f', -1, 64),
				Unit:             req.Description.Unit,
				TimeVerified:     axis[i],
				TimeGenerated:    generated,
				TimeAcquired:     req.AcquiredAt,
				Latitude:         &la,
				Longitude:        &lo,
				EnsembleMemberID: &member,
			})
		}
	}
	series.SortObservations(out)
	return out, nil
}
