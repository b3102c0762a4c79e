package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/i474232898/series-acquisition/internal/logging"
	"github.com/i474232898/series-acquisition/internal/series"
)

// Supported DATABASE_DRIVER values.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const upsertBatchSize = 500

// Open connects to a SQL database. GORM's own logging follows the
// application log level: SQL statements only show at DEBUG.
func Open(driver, dsn string, logger *logging.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, series.NewConfigurationError("store.Open", "unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if driver == DriverSQLite {
		// One connection keeps ":memory:" databases shared and avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

func newGormLogger(l *logging.Logger) gormlogger.Interface {
	level := gormlogger.Silent
	switch l.Level() {
	case logging.LevelDebug:
		level = gormlogger.Info
	case logging.LevelInfo, logging.LevelWarn:
		level = gormlogger.Warn
	case logging.LevelError:
		level = gormlogger.Error
	}
	return gormlogger.New(
		log.New(gormWriter{l}, "", 0),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// gormWriter routes GORM output through the application logger.
type gormWriter struct{ l *logging.Logger }

func (w gormWriter) Write(p []byte) (int, error) {
	w.l.Infof("gorm: %s", p)
	return len(p), nil
}

// observationRow is the persisted form of series.Observation. ID is the
// UUID derived from the natural key; nullable key columns stay nullable.
type observationRow struct {
	ID               string    `gorm:"primaryKey;size:36"`
	IsActual         bool      `gorm:"not null"`
	TimeGenerated    time.Time `gorm:"not null"`
	TimeVerified     time.Time `gorm:"not null;index:idx_observation_lookup,priority:5"`
	TimeAcquired     time.Time `gorm:"not null"`
	Value            string    `gorm:"not null"`
	Unit             string    `gorm:"not null;index:idx_observation_lookup,priority:4"`
	Source           string    `gorm:"not null;index:idx_observation_lookup,priority:1"`
	Location         string    `gorm:"not null;index:idx_observation_lookup,priority:3"`
	Series           string    `gorm:"not null;index:idx_observation_lookup,priority:2"`
	Datum            *string
	Latitude         *float64
	Longitude        *float64
	EnsembleMemberID *int
}

func (observationRow) TableName() string { return "observations" }

func toRow(o series.Observation) observationRow {
	return observationRow{
		ID:               o.Key().ID().String(),
		IsActual:         o.IsActual,
		TimeGenerated:    o.TimeGenerated.UTC(),
		TimeVerified:     o.TimeVerified.UTC(),
		TimeAcquired:     o.TimeAcquired.UTC(),
		Value:            o.Value,
		Unit:             o.Unit,
		Source:           o.Source,
		Location:         o.Location,
		Series:           o.Series,
		Datum:            o.Datum,
		Latitude:         o.Latitude,
		Longitude:        o.Longitude,
		EnsembleMemberID: o.EnsembleMemberID,
	}
}

func (r observationRow) toObservation() series.Observation {
	return series.Observation{
		Value:            r.Value,
		Unit:             r.Unit,
		TimeVerified:     r.TimeVerified.UTC(),
		TimeGenerated:    r.TimeGenerated.UTC(),
		TimeAcquired:     r.TimeAcquired.UTC(),
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		EnsembleMemberID: r.EnsembleMemberID,
		IsActual:         r.IsActual,
		Source:           r.Source,
		Series:           r.Series,
		Location:         r.Location,
		Datum:            r.Datum,
	}
}

type modelOutputRow struct {
	ID               uint      `gorm:"primaryKey"`
	Model            string    `gorm:"not null;index:idx_model_output_lookup,priority:1"`
	Location         string    `gorm:"not null;index:idx_model_output_lookup,priority:2"`
	TimeGenerated    time.Time `gorm:"not null;index:idx_model_output_lookup,priority:3"`
	LeadSeconds      int64     `gorm:"not null"`
	Value            string    `gorm:"not null"`
	Unit             string
	EnsembleMemberID *int
	Latitude         *float64
	Longitude        *float64
}

func (modelOutputRow) TableName() string { return "model_outputs" }

// GormStore persists observations and model outputs through GORM.
type GormStore struct {
	db  *gorm.DB
	log *logging.Logger
}

var (
	_ series.Store             = (*GormStore)(nil)
	_ series.ModelOutputReader = (*GormStore)(nil)
)

// NewGormStore migrates the schema and returns a GormStore.
func NewGormStore(db *gorm.DB, logger *logging.Logger) (*GormStore, error) {
	if err := db.AutoMigrate(&observationRow{}, &modelOutputRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &GormStore{db: db, log: logger}, nil
}

// UpsertObservations inserts rows whose natural key is new. Conflicting keys
// are skipped, so repeating an upsert changes nothing.
func (s *GormStore) UpsertObservations(ctx context.Context, obs []series.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	// Collapse duplicates inside the batch; postgres refuses to touch one row twice.
	seen := make(map[string]struct{}, len(obs))
	rows := make([]observationRow, 0, len(obs))
	for _, o := range obs {
		row := toRow(o)
		if _, dup := seen[row.ID]; dup {
			continue
		}
		seen[row.ID] = struct{}{}
		rows = append(rows, row)
	}

	result := s.db.WithContext(ctx).
		Session(&gorm.Session{SkipDefaultTransaction: true}).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		CreateInBatches(rows, upsertBatchSize)
	if result.Error != nil {
		return 0, fmt.Errorf("store: upsert %d observations: %w", len(rows), result.Error)
	}
	s.log.Debugf("store: inserted %d of %d observations", result.RowsAffected, len(rows))
	return int(result.RowsAffected), nil
}

// QueryObservations returns rows matching filter verified inside window.
// A nil datum matches only rows whose datum is NULL.
func (s *GormStore) QueryObservations(ctx context.Context, filter series.ObservationFilter, window series.TimeDescription) ([]series.Observation, error) {
	q := s.db.WithContext(ctx).Model(&observationRow{}).
		Where("source = ? AND series = ? AND location = ? AND unit = ?", filter.Source, filter.Series, filter.Location, filter.Unit).
		Where("time_verified >= ? AND time_verified <= ?", window.From.UTC(), window.To.UTC())
	if filter.Datum == nil {
		q = q.Where("datum IS NULL")
	} else {
		q = q.Where("datum = ?", *filter.Datum)
	}

	var rows []observationRow
	if err := q.Order("time_verified, time_generated").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: query %s/%s@%s: %w", filter.Source, filter.Series, filter.Location, err)
	}

	out := make([]series.Observation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toObservation())
	}
	series.SortObservations(out)
	return out, nil
}

// SaveModelOutputs appends internal model output rows.
func (s *GormStore) SaveModelOutputs(ctx context.Context, outputs []series.ModelOutput) error {
	if len(outputs) == 0 {
		return nil
	}
	rows := make([]modelOutputRow, 0, len(outputs))
	for _, o := range outputs {
		rows = append(rows, modelOutputRow{
			Model:            o.Model,
			Location:         o.Location,
			TimeGenerated:    o.TimeGenerated.UTC(),
			LeadSeconds:      int64(o.LeadTime / time.Second),
			Value:            o.Value,
			Unit:             o.Unit,
			EnsembleMemberID: o.EnsembleMemberID,
			Latitude:         o.Latitude,
			Longitude:        o.Longitude,
		})
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, upsertBatchSize).Error; err != nil {
		return fmt.Errorf("store: save %d model outputs: %w", len(rows), err)
	}
	return nil
}

// QueryModelOutputs returns outputs for one model and location generated in
// [GeneratedFrom, GeneratedTo].
func (s *GormStore) QueryModelOutputs(ctx context.Context, filter series.ModelOutputFilter) ([]series.ModelOutput, error) {
	var rows []modelOutputRow
	err := s.db.WithContext(ctx).
		Where("model = ? AND location = ?", filter.Model, filter.Location).
		Where("time_generated >= ? AND time_generated <= ?", filter.GeneratedFrom.UTC(), filter.GeneratedTo.UTC()).
		Order("time_generated, lead_seconds").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: query model outputs %s@%s: %w", filter.Model, filter.Location, err)
	}

	out := make([]series.ModelOutput, 0, len(rows))
	for _, r := range rows {
		out = append(out, series.ModelOutput{
			Model:            r.Model,
			Location:         r.Location,
			TimeGenerated:    r.TimeGenerated.UTC(),
			LeadTime:         time.Duration(r.LeadSeconds) * time.Second,
			Value:            r.Value,
			Unit:             r.Unit,
			EnsembleMemberID: r.EnsembleMemberID,
			Latitude:         r.Latitude,
			Longitude:        r.Longitude,
		})
	}
	return out, nil
}
