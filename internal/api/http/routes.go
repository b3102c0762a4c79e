package httpapi

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/series-acquisition/internal/mapping"
	"github.com/i474232898/series-acquisition/internal/scheduler"
	"github.com/i474232898/series-acquisition/internal/series"
)

var validate = validator.New()

// MappingLookup lists the mapping rows for one location and source.
type MappingLookup interface {
	Lookup(ctx context.Context, location, source string) ([]mapping.Entry, error)
}

// WatchRunner triggers one pass over the watched series.
type WatchRunner interface {
	RunOnce(ctx context.Context) []scheduler.Result
}

// Deps are the collaborators the routes call into. Runner may be nil.
type Deps struct {
	Acquirer       scheduler.Acquirer
	Mappings       MappingLookup
	Runner         WatchRunner
	AcquireTimeout time.Duration
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	v1 := app.Group("/api/v1")

	v1.Get("/series", func(c *fiber.Ctx) error {
		var req seriesQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := withTimeout(c.UserContext(), deps.AcquireTimeout)
		defer cancel()

		s, err := deps.Acquirer.Acquire(ctx, req.description(), req.window(), req.Reference)
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(s)
	})

	v1.Get("/mappings/:location/:source", func(c *fiber.Ctx) error {
		rows, err := deps.Mappings.Lookup(c.UserContext(), c.Params("location"), c.Params("source"))
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(fiber.Map{
			"location": c.Params("location"),
			"source":   c.Params("source"),
			"mappings": rows,
		})
	})

	v1.Post("/watch/run", func(c *fiber.Ctx) error {
		if deps.Runner == nil {
			return fiber.NewError(fiber.StatusNotFound, "no watched series configured")
		}
		results := deps.Runner.RunOnce(c.UserContext())

		out := make([]fiber.Map, 0, len(results))
		for _, r := range results {
			item := fiber.Map{"series": r.Description.String()}
			switch {
			case r.Err != nil:
				item["error"] = r.Err.Error()
			default:
				item["observations"] = r.Series.Len()
				item["isComplete"] = r.Series.IsComplete
				item["reason"] = r.Series.Reason
			}
			out = append(out, item)
		}
		return c.JSON(fiber.Map{"results": out})
	})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func toHTTPError(err error) error {
	switch {
	case series.IsConfigurationError(err):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, series.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusGatewayTimeout, "acquisition timed out")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

// seriesQuery holds query parameters for the acquire endpoint.
type seriesQuery struct {
	Source       string        `validate:"required"`
	Series       string        `validate:"required"`
	Location     string        `validate:"required"`
	Unit         string        `validate:"required"`
	Datum        *string       `validate:"omitempty,min=1"`
	Interval     time.Duration `validate:"gte=0"`
	Verification []string
	Override     *series.VerificationOverride
	Integrity    *series.IntegrityConfig
	From         time.Time `validate:"required"`
	To           time.Time `validate:"required,gtefield=From"`
	Reference    time.Time `validate:"required"`
}

func (q *seriesQuery) bind(c *fiber.Ctx) error {
	q.Source = c.Query("source")
	q.Series = c.Query("series")
	q.Location = c.Query("location")
	q.Unit = c.Query("unit")
	if d := c.Query("datum"); d != "" {
		q.Datum = &d
	}

	if s := c.Query("interval"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return errors.New("invalid interval; use a duration such as 1h or 6m")
		}
		q.Interval = d
	}
	if s := c.Query("verification"); s != "" {
		for _, name := range strings.Split(s, ",") {
			if name = strings.TrimSpace(name); name != "" {
				q.Verification = append(q.Verification, name)
			}
		}
	}

	if label := c.Query("overrideLabel"); label != "" {
		threshold, err := strconv.Atoi(c.Query("overrideThreshold"))
		if err != nil {
			return errors.New("overrideThreshold must be an integer")
		}
		q.Override = &series.VerificationOverride{Label: label, Threshold: threshold}
	}

	if method := c.Query("method"); method != "" {
		q.Integrity = &series.IntegrityConfig{
			Method:        method,
			MaxGapSeconds: c.QueryInt("maxGapSeconds", 0),
			LimitArea:     c.Query("limitArea"),
		}
	}

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}
	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}
	q.From, q.To = from, to

	q.Reference = to
	if refStr := c.Query("reference"); refStr != "" {
		ref, err := parseTime(refStr)
		if err != nil {
			return err
		}
		q.Reference = ref
	}
	return nil
}

func (q seriesQuery) description() series.SeriesDescription {
	return series.SeriesDescription{
		Source:       q.Source,
		Series:       q.Series,
		Location:     q.Location,
		Unit:         q.Unit,
		Datum:        q.Datum,
		Interval:     q.Interval,
		Verification: q.Verification,
		Override:     q.Override,
		Integrity:    q.Integrity,
	}
}

func (q seriesQuery) window() series.TimeDescription {
	return series.TimeDescription{From: q.From, To: q.To, Interval: q.Interval}
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
