package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/series-acquisition/internal/logging"
)

var validate = validator.New()

type AppConfig struct {
	Port     string
	LogLevel logging.Level

	// DatabaseDriver selects the observation store: memory, sqlite or postgres.
	DatabaseDriver string `validate:"oneof=memory sqlite postgres"`
	DatabaseDSN    string `validate:"required_unless=DatabaseDriver memory"`

	// CatalogPath points at the YAML catalog of mappings, adapters and watched series.
	CatalogPath string `validate:"required"`

	// StalenessWindow is the maximum age of the freshest cached generation (0 = no age limit).
	StalenessWindow time.Duration `validate:"gte=0"`
	// HTTPTimeout bounds a single upstream HTTP request.
	HTTPTimeout time.Duration `validate:"gt=0"`
	// SchedulerInterval controls how often watched series are acquired (0 disables the scheduler).
	SchedulerInterval time.Duration `validate:"gte=0"`
	// SchedulerConcurrency caps parallel acquisitions per scheduler run.
	SchedulerConcurrency int `validate:"gte=1"`
	// AcquireTimeout bounds one scheduled or HTTP-triggered acquisition.
	AcquireTimeout time.Duration `validate:"gt=0"`

	GeocoderAPIKey  string
	NOAAApplication string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	level, err := logging.ParseLevel(getenvDefault("LOG_LEVEL", "INFO"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level
	cfg.Port = getenvDefault("PORT", "8080")

	cfg.DatabaseDriver = getenvDefault("DATABASE_DRIVER", "memory")
	cfg.DatabaseDSN = os.Getenv("DATABASE_DSN")
	cfg.CatalogPath = getenvDefault("CATALOG_PATH", "catalog.yaml")

	durations := []struct {
		key, def string
		dst      *time.Duration
	}{
		{"STALENESS_WINDOW", "6h", &cfg.StalenessWindow},
		{"HTTP_TIMEOUT", "30s", &cfg.HTTPTimeout},
		{"SCHEDULER_INTERVAL", "15m", &cfg.SchedulerInterval},
		{"ACQUIRE_TIMEOUT", "2m", &cfg.AcquireTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getenvDefault(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}

	cfg.SchedulerConcurrency = getenvInt("SCHEDULER_CONCURRENCY", 4)

	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")
	cfg.NOAAApplication = getenvDefault("NOAA_APPLICATION", "series-acquisition")

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
