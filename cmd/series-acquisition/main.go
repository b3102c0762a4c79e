package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/series-acquisition/internal/api/http"
	"github.com/i474232898/series-acquisition/internal/config"
	"github.com/i474232898/series-acquisition/internal/logging"
	"github.com/i474232898/series-acquisition/internal/mapping"
	"github.com/i474232898/series-acquisition/internal/metrics"
	"github.com/i474232898/series-acquisition/internal/scheduler"
	"github.com/i474232898/series-acquisition/internal/series"
	"github.com/i474232898/series-acquisition/internal/series/ingestion"
	"github.com/i474232898/series-acquisition/internal/series/interpolate"
	"github.com/i474232898/series-acquisition/internal/series/validation"
	"github.com/i474232898/series-acquisition/internal/store"
)

type observationStore interface {
	series.Store
	series.ModelOutputReader
}

type locationMappings interface {
	series.LocationResolver
	httpapi.MappingLookup
}

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	appLog := logging.New(cfg.LogLevel, os.Stderr)

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("failed to load catalog %s: %v", cfg.CatalogPath, err)
	}

	obsStore, mappings, closeStore, err := openStores(cfg, catalog, appLog)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer closeStore()

	// Shared HTTP client for outbound adapter calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	adapters, err := ingestion.Build(catalog.Routes(), ingestion.Deps{
		HTTPClient:      httpClient,
		Logger:          appLog,
		ModelOutputs:    obsStore,
		NOAAApplication: cfg.NOAAApplication,
		Geocode:         ingestion.GoogleGeocoder(cfg.GeocoderAPIKey),
	})
	if err != nil {
		log.Fatalf("failed to build adapters: %v", err)
	}

	recorder := metrics.NewPrometheusRecorder()
	provider := series.NewSeriesProvider(obsStore, adapters, mappings, validation.NewChain(),
		series.WithInterpolator(interpolate.New()),
		series.WithStalenessWindow(cfg.StalenessWindow),
		series.WithLogger(appLog),
		series.WithRecorder(recorder),
	)

	// Scheduler that keeps the watched series warm.
	sched := scheduler.New(catalog.Watch, cfg.SchedulerInterval, cfg.AcquireTimeout, cfg.SchedulerConcurrency, provider, appLog)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "series-acquisition",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.AcquireTimeout + 5*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "series-acquisition",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(recorder.Handler()))

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Acquirer:       provider,
		Mappings:       mappings,
		Runner:         sched,
		AcquireTimeout: cfg.AcquireTimeout,
	})

	go func() {
		appLog.Infof("listening on :%s (store=%s, %d adapter routes, %d watched series)",
			cfg.Port, cfg.DatabaseDriver, len(adapters.Routes()), len(catalog.Watch))
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}

// openStores picks the observation store and mapping table for the configured
// driver. SQL backends get the catalog mappings synced into their table.
func openStores(cfg *config.AppConfig, catalog *config.Catalog, appLog *logging.Logger) (observationStore, locationMappings, func(), error) {
	if cfg.DatabaseDriver == store.DriverMemory {
		table, err := mapping.NewTable(catalog.Mappings)
		if err != nil {
			return nil, nil, nil, err
		}
		return store.NewMemoryStore(0), table, func() {}, nil
	}

	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN, appLog)
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	obs, err := store.NewGormStore(db, appLog)
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	resolver, err := mapping.NewGormResolver(db)
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	if err := resolver.Sync(context.Background(), catalog.Mappings); err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	return obs, resolver, closeDB, nil
}
