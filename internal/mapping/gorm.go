package mapping

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/i474232898/series-acquisition/internal/series"
)

type mappingRow struct {
	Location string `gorm:"primaryKey;size:64"`
	Source   string `gorm:"primaryKey;size:64"`
	Priority int    `gorm:"primaryKey"`
	External string `gorm:"not null;size:128"`
}

func (mappingRow) TableName() string { return "location_source_mappings" }

// GormResolver reads the mapping table from a database.
type GormResolver struct {
	db *gorm.DB
}

var _ series.LocationResolver = (*GormResolver)(nil)

// NewGormResolver migrates the mapping table and returns a GormResolver.
func NewGormResolver(db *gorm.DB) (*GormResolver, error) {
	if err := db.AutoMigrate(&mappingRow{}); err != nil {
		return nil, fmt.Errorf("mapping: migrate: %w", err)
	}
	return &GormResolver{db: db}, nil
}

// Sync writes entries into the table. Existing (location, source, priority)
// rows get their external code replaced.
func (r *GormResolver) Sync(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]mappingRow, 0, len(entries))
	for _, e := range entries {
		if err := validate.Struct(e); err != nil {
			return &series.ConfigurationError{Op: "mapping.Sync", Msg: fmt.Sprintf("%s/%s", e.Location, e.Source), Err: err}
		}
		rows = append(rows, mappingRow{Location: e.Location, Source: e.Source, Priority: e.Priority, External: e.External})
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "location"}, {Name: "source"}, {Name: "priority"}},
		DoUpdates: clause.AssignmentColumns([]string{"external"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("mapping: sync %d entries: %w", len(rows), err)
	}
	return nil
}

// Resolve returns external codes ordered by ascending priority.
func (r *GormResolver) Resolve(ctx context.Context, location, source string) ([]string, error) {
	rows, err := r.Lookup(ctx, location, source)
	if err != nil {
		return nil, err
	}
	return externals(rows), nil
}

// Lookup returns the rows for one pair, ordered by priority.
func (r *GormResolver) Lookup(ctx context.Context, location, source string) ([]Entry, error) {
	var rows []mappingRow
	err := r.db.WithContext(ctx).
		Where("location = ? AND source = ?", location, source).
		Order("priority").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("mapping %s/%s: %w", location, source, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("mapping %s/%s: %w", location, source, series.ErrNotFound)
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, Entry{Location: row.Location, Source: row.Source, External: row.External, Priority: row.Priority})
	}
	return out, nil
}
