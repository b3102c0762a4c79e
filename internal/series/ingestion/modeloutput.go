package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/i474232898/series-acquisition/internal/series"
)

// ModelOutputOptions configures reading a model's prior output as an input.
type ModelOutputOptions struct {
	Model string `yaml:"model"`
	// MaxLead bounds how far before the window a generation may lie and still
	// verify inside it.
	MaxLead time.Duration `yaml:"maxLead"`
}

// ModelOutputAdapter casts prior model output to input: the verified time
// becomes generated time + lead time, and the generated time is kept.
type ModelOutputAdapter struct {
	reader series.ModelOutputReader
	opts   ModelOutputOptions
}

// NewModelOutputAdapter returns a ModelOutputAdapter.
func NewModelOutputAdapter(reader series.ModelOutputReader, opts ModelOutputOptions) (*ModelOutputAdapter, error) {
	if reader == nil {
		return nil, series.NewConfigurationError("ingestion.NewModelOutputAdapter", "no model output reader configured")
	}
	if opts.Model == "" {
		return nil, series.NewConfigurationError("ingestion.NewModelOutputAdapter", "model name is required")
	}
	if opts.MaxLead <= 0 {
		opts.MaxLead = 48 * time.Hour
	}
	return &ModelOutputAdapter{reader: reader, opts: opts}, nil
}

func (a *ModelOutputAdapter) Name() string { return "model-output:" + a.opts.Model }

func (a *ModelOutputAdapter) Fetch(ctx context.Context, req series.FetchRequest) ([]series.Observation, error) {
	rows, err := a.reader.QueryModelOutputs(ctx, series.ModelOutputFilter{
		Model:         a.opts.Model,
		Location:      req.ExternalLocation,
		GeneratedFrom: req.Window.From.Add(-a.opts.MaxLead),
		GeneratedTo:   req.Window.To,
	})
	if err != nil {
		return nil, &series.IngestionFailure{Adapter: a.Name(), Location: req.ExternalLocation, Err: err}
	}

	var out []series.Observation
	for _, row := range rows {
		if row.LeadTime < 0 {
			return nil, &series.ProgrammingError{
				Op:  a.Name(),
				Err: fmt.Errorf("negative lead time %s in stored output", row.LeadTime),
			}
		}
		verified := row.TimeGenerated.Add(row.LeadTime)
		if !req.Window.Contains(verified) {
			continue
		}
		unit := row.Unit
		if unit == "" {
			unit = req.Description.Unit
		}
		out = append(out, series.Observation{
			Value:            row.Value,
			Unit:             unit,
			TimeVerified:     verified,
			TimeGenerated:    row.TimeGenerated,
			TimeAcquired:     req.AcquiredAt,
			Latitude:         row.Latitude,
			Longitude:        row.Longitude,
			EnsembleMemberID: row.EnsembleMemberID,
		})
	}
	if len(out) == 0 {
		return nil, &series.IngestionFailure{
			Adapter:  a.Name(),
			Location: req.ExternalLocation,
			Err:      fmt.Errorf("no outputs verifying in window"),
		}
	}
	series.SortObservations(out)
	return out, nil
}
