package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/weather-relay/internal/weather"
)

// Sweeper drops expired cache entries.
type Sweeper interface {
	Sweep() int
}

// Warmer refreshes forecasts for many locations at once.
type Warmer interface {
	FetchBulk(ctx context.Context, queries []weather.LocationQuery, units weather.Units) weather.BulkFetchResult
}

// Options configures the periodic jobs. A zero interval disables a job.
type Options struct {
	SweepInterval time.Duration
	WarmInterval  time.Duration
	WarmLocations []string
	WarmTimeout   time.Duration
}

// Scheduler runs cache maintenance in the background.
type Scheduler struct {
	scheduler *gocron.Scheduler
	sweeper   Sweeper
	warmer    Warmer
	opts      Options
	queries   []weather.LocationQuery
}

// New creates a new Scheduler.
func New(opts Options, sweeper Sweeper, warmer Warmer) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	queries := make([]weather.LocationQuery, 0, len(opts.WarmLocations))
	for _, loc := range opts.WarmLocations {
		if q := weather.LocationQuery(loc); !q.IsEmpty() {
			queries = append(queries, q)
		}
	}
	if opts.WarmTimeout <= 0 {
		opts.WarmTimeout = time.Minute
	}

	return &Scheduler{
		scheduler: s,
		sweeper:   sweeper,
		warmer:    warmer,
		opts:      opts,
		queries:   queries,
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
// Warming runs once immediately; sweeping waits for its first interval.
func (s *Scheduler) Start() error {
	if s.sweeper != nil && s.opts.SweepInterval > 0 {
		if _, err := s.scheduler.Every(s.opts.SweepInterval).WaitForSchedule().Tag("sweep").Do(s.sweep); err != nil {
			return err
		}
	}

	if s.warmer != nil && s.opts.WarmInterval > 0 && len(s.queries) > 0 {
		if _, err := s.scheduler.Every(s.opts.WarmInterval).Tag("warm").Do(s.warm); err != nil {
			return err
		}
	} else {
		log.Println("scheduler: no locations configured; cache warming disabled")
	}

	if s.scheduler.Len() == 0 {
		log.Println("scheduler: nothing to schedule")
		return nil
	}
	s.scheduler.StartAsync()
	return nil
}

// RunNow triggers every job once, outside of its schedule.
func (s *Scheduler) RunNow() {
	s.scheduler.RunAll()
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) sweep() {
	if n := s.sweeper.Sweep(); n > 0 {
		log.Printf("scheduler: evicted %d expired cache entries", n)
	}
}

func (s *Scheduler) warm() {
	log.Printf("scheduler: warming %d locations", len(s.queries))

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WarmTimeout)
	defer cancel()

	res := s.warmer.FetchBulk(ctx, s.queries, weather.UnitsCelsius)
	for _, item := range res {
		if !item.OK() {
			log.Printf("scheduler: warm failed for %s: %v", item.Query, item.Err)
		}
	}
	log.Printf("scheduler: completed cache warming (%d/%d ok)", res.Succeeded(), len(res))
}
