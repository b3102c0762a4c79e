package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/series-acquisition/internal/config"
	"github.com/i474232898/series-acquisition/internal/logging"
	"github.com/i474232898/series-acquisition/internal/series"
)

// Acquirer is the part of the engine the scheduler drives.
type Acquirer interface {
	Acquire(ctx context.Context, desc series.SeriesDescription, window series.TimeDescription, referenceTime time.Time) (*series.Series, error)
}

// Result is the outcome of one watched acquisition.
type Result struct {
	Description series.SeriesDescription
	Series      *series.Series
	Err         error
}

// Scheduler periodically acquires the watched series.
type Scheduler struct {
	scheduler   *gocron.Scheduler
	acquirer    Acquirer
	watch       []config.WatchEntry
	interval    time.Duration
	timeout     time.Duration
	concurrency int
	log         *logging.Logger
	now         func() time.Time
}

// New creates a new Scheduler. Each acquisition gets its own timeout, and at
// most concurrency acquisitions run at once.
func New(watch []config.WatchEntry, interval, timeout time.Duration, concurrency int, acquirer Acquirer, log *logging.Logger) *Scheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scheduler{
		scheduler:   gocron.NewScheduler(time.UTC),
		acquirer:    acquirer,
		watch:       watch,
		interval:    interval,
		timeout:     timeout,
		concurrency: concurrency,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.watch) == 0 {
		s.log.Infof("scheduler: no watched series configured; nothing to schedule")
		return nil
	}
	if s.interval <= 0 {
		s.log.Infof("scheduler: disabled")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() {
		s.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RunOnce acquires every watched series once and waits for all of them.
func (s *Scheduler) RunOnce(ctx context.Context) []Result {
	s.log.Infof("scheduler: running acquisition job for %d series", len(s.watch))
	now := s.now()

	results := make([]Result, len(s.watch))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for i, entry := range s.watch {
		i, entry := i, entry
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			acquireCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			desc := entry.Description()
			res, err := s.acquirer.Acquire(acquireCtx, desc, entry.Window(now), now)
			results[i] = Result{Description: desc, Series: res, Err: err}

			switch {
			case err != nil:
				s.log.Errorf("scheduler: acquisition failed for %s: %v", desc, err)
			case !res.IsComplete:
				s.log.Warnf("scheduler: %s incomplete: %s", desc, res.Reason)
			}
		}()
	}
	wg.Wait()
	s.log.Infof("scheduler: completed acquisition job")
	return results
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
