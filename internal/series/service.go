package series

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/i474232898/series-acquisition/internal/logging"
)

// Outcome labels reported to the Recorder.
const (
	OutcomeCached     = "cached"
	OutcomeFetched    = "fetched"
	OutcomeIncomplete = "incomplete"
	OutcomeFailed     = "failed"
	OutcomeNoData     = "no_data"
	OutcomeOK         = "ok"
)

// SeriesProvider acquires and reconciles series: store lookup, staleness
// check, fallback ingestion, merge, validation and optional interpolation.
// It keeps no per-request state, so one instance serves concurrent callers.
type SeriesProvider struct {
	store        Store
	adapters     AdapterResolver
	locations    LocationResolver
	validators   ValidationChain
	interpolator Interpolator
	recorder     Recorder
	log          *logging.Logger

	stalenessWindow time.Duration
	now             func() time.Time
}

// Option customises a SeriesProvider.
type Option func(*SeriesProvider)

// WithInterpolator enables gap filling for descriptions carrying an IntegrityConfig.
func WithInterpolator(i Interpolator) Option { return func(p *SeriesProvider) { p.interpolator = i } }

// WithStalenessWindow sets the maximum accepted age of the freshest cached generation.
func WithStalenessWindow(d time.Duration) Option {
	return func(p *SeriesProvider) { p.stalenessWindow = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(p *SeriesProvider) { p.log = l } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(p *SeriesProvider) { p.recorder = r } }

// WithClock overrides the clock used to stamp TimeAcquired.
func WithClock(now func() time.Time) Option { return func(p *SeriesProvider) { p.now = now } }

// NewSeriesProvider creates a new SeriesProvider.
func NewSeriesProvider(store Store, adapters AdapterResolver, locations LocationResolver, validators ValidationChain, opts ...Option) *SeriesProvider {
	p := &SeriesProvider{
		store:      store,
		adapters:   adapters,
		locations:  locations,
		validators: validators,
		recorder:   noopRecorder{},
		log:        logging.Discard(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns the reconciled series for desc over window, judged fresh or
// stale relative to referenceTime.
//
// Data availability problems never surface as errors: they produce an
// incomplete Series with a Reason. The error return is reserved for
// ConfigurationError, ProgrammingError and a context cancelled between stages.
func (p *SeriesProvider) Acquire(ctx context.Context, desc SeriesDescription, window TimeDescription, referenceTime time.Time) (*Series, error) {
	started := time.Now()
	if window.Interval == 0 && !window.From.Equal(window.To) {
		window.Interval = desc.Interval
	}
	if err := desc.Validate(); err != nil {
		p.recorder.AcquisitionFinished(desc.Source, desc.Series, OutcomeFailed, time.Since(started))
		return nil, err
	}
	if err := window.Validate(); err != nil {
		p.recorder.AcquisitionFinished(desc.Source, desc.Series, OutcomeFailed, time.Since(started))
		return nil, err
	}

	id := uuid.NewString()
	p.log.Debugf("acquire %s: %s window %s..%s", id, desc, window.From.Format(time.RFC3339), window.To.Format(time.RFC3339))

	result := &Series{Description: desc, Window: window}

	cached, err := p.store.QueryObservations(ctx, desc.Filter(), window)
	if err != nil {
		p.log.Warnf("acquire %s: store lookup failed for %s, treating cache as empty: %v", id, desc, err)
		cached = nil
	}
	cached = WithinWindow(cached, window)

	report := AssessStaleness(cached, window, referenceTime, p.stalenessWindow)
	if report.MultipleGenerations {
		p.log.Warnf("acquire %s: %s has several generations for one verified time", id, desc)
		p.recorder.MultipleGenerations(desc.Source, desc.Series)
	}

	var (
		fetched   []Observation
		fetchNote string
	)
	if report.Stale {
		p.log.Infof("acquire %s: %s is stale (%s); ingesting", id, desc, report.Reason)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fetched, fetchNote, err = p.ingest(ctx, id, desc, window)
		if err != nil {
			p.recorder.AcquisitionFinished(desc.Source, desc.Series, OutcomeFailed, time.Since(started))
			return nil, err
		}
		fetched = WithinWindow(fetched, window)
		persisted := 0
		if len(fetched) > 0 {
			persisted, err = p.store.UpsertObservations(ctx, fetched)
			if err != nil {
				p.log.Errorf("acquire %s: persisting %d observations failed: %v", id, len(fetched), err)
			}
		}
		p.recorder.ObservationsFetched(desc.Source, len(fetched), persisted)
	} else {
		p.log.Debugf("acquire %s: cache is fresh (%d rows)", id, len(cached))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result.Observations = Merge(cached, fetched)

	if err := p.score(result, fetchNote); err != nil {
		p.recorder.AcquisitionFinished(desc.Source, desc.Series, OutcomeFailed, time.Since(started))
		return nil, err
	}

	if desc.Integrity != nil && p.interpolator != nil && result.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		filled, err := p.interpolator.Fill(result)
		if err != nil {
			p.recorder.AcquisitionFinished(desc.Source, desc.Series, OutcomeFailed, time.Since(started))
			return nil, err
		}
		result = filled
	}

	outcome := OutcomeCached
	switch {
	case !result.IsComplete:
		outcome = OutcomeIncomplete
	case report.Stale:
		outcome = OutcomeFetched
	}
	p.recorder.AcquisitionFinished(desc.Source, desc.Series, outcome, time.Since(started))
	p.log.Infof("acquire %s: %s done: %d observations, complete=%t %s", id, desc, result.Len(), result.IsComplete, result.Reason)
	return result, nil
}

// score runs the validation chain and annotates the series.
func (p *SeriesProvider) score(s *Series, fetchNote string) error {
	if s.Len() == 0 {
		s.IsComplete = false
		s.Reason = "no observations available"
		if fetchNote != "" {
			s.Reason += ": " + fetchNote
		}
		return nil
	}
	if p.validators == nil {
		s.IsComplete = true
		return nil
	}
	ok, reason, err := p.validators.Validate(s)
	if err != nil {
		return err
	}
	s.IsComplete = ok
	if !ok {
		s.Reason = reason
		if fetchNote != "" {
			s.Reason += "; " + fetchNote
		}
	}
	return nil
}

// ingest resolves the adapter and walks the location mapping in priority
// order until an attempt yields rows. The note summarises failed attempts.
func (p *SeriesProvider) ingest(ctx context.Context, id string, desc SeriesDescription, window TimeDescription) ([]Observation, string, error) {
	adapter, err := p.adapters.Resolve(desc.Source, desc.Series, desc.Interval)
	if err != nil {
		return nil, "", err
	}

	codes, err := p.locations.Resolve(ctx, desc.Location, desc.Source)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			p.log.Warnf("acquire %s: no location mapping for %s/%s", id, desc.Location, desc.Source)
			return nil, fmt.Sprintf("no location mapping for %s/%s", desc.Location, desc.Source), nil
		}
		p.log.Errorf("acquire %s: location mapping lookup failed: %v", id, err)
		return nil, fmt.Sprintf("location mapping lookup failed: %v", err), nil
	}

	var attempts *multierror.Error
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		obs, err := adapter.Fetch(ctx, FetchRequest{
			Description:      desc,
			Window:           window,
			ExternalLocation: code,
			AcquiredAt:       p.now(),
		})
		if err != nil {
			p.recorder.IngestionAttempt(desc.Source, adapter.Name(), OutcomeFailed)
			if !IsIngestionFailure(err) {
				if IsConfigurationError(err) {
					return nil, "", err
				}
				var pe *ProgrammingError
				if errors.As(err, &pe) {
					return nil, "", err
				}
				return nil, "", &ProgrammingError{Op: adapter.Name() + ".Fetch", Err: err}
			}
			p.log.Warnf("acquire %s: %s failed for %s, trying next mapping: %v", id, adapter.Name(), code, err)
			attempts = multierror.Append(attempts, err)
			continue
		}
		if len(obs) == 0 {
			p.recorder.IngestionAttempt(desc.Source, adapter.Name(), OutcomeNoData)
			p.log.Warnf("acquire %s: %s returned no data for %s", id, adapter.Name(), code)
			attempts = multierror.Append(attempts, fmt.Errorf("%s returned no data for %s", adapter.Name(), code))
			continue
		}
		p.recorder.IngestionAttempt(desc.Source, adapter.Name(), OutcomeOK)
		p.log.Debugf("acquire %s: %s returned %d observations for %s", id, adapter.Name(), len(obs), code)
		return stampIdentity(obs, desc, p.now()), "", nil
	}

	if attempts == nil {
		return nil, "no location codes to try", nil
	}
	return nil, summarise(attempts), nil
}

// stampIdentity fills the identity fields the store and natural key rely on.
// Adapters know the upstream; the engine knows what was asked for.
func stampIdentity(obs []Observation, desc SeriesDescription, acquired time.Time) []Observation {
	out := make([]Observation, len(obs))
	for i, o := range obs {
		o.Source = desc.Source
		o.Series = desc.Series
		o.Location = desc.Location
		o.Datum = desc.Datum
		if o.Unit == "" {
			o.Unit = desc.Unit
		}
		if o.TimeAcquired.IsZero() {
			o.TimeAcquired = acquired
		}
		if o.TimeGenerated.IsZero() {
			o.TimeGenerated = o.TimeVerified
		}
		out[i] = o
	}
	return out
}

func summarise(errs *multierror.Error) string {
	parts := make([]string, 0, len(errs.Errors))
	for _, e := range errs.Errors {
		parts = append(parts, e.Error())
	}
	return fmt.Sprintf("ingestion exhausted after %d attempt(s): %s", len(parts), strings.Join(parts, "; "))
}
