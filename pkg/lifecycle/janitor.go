package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultStaleAge      = 72 * time.Hour
	DefaultSweepSchedule = "0 * * * *" // hourly
)

// Janitor evicts stale session records on a cron schedule. Session records
// are transient by design; without the sweep an abandoned interview would
// pin its record until process restart.
type Janitor struct {
	tracker  *Tracker
	staleAge time.Duration
	schedule string
	cron     *cron.Cron
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewJanitor creates a new janitor for the tracker
func NewJanitor(tracker *Tracker, staleAge time.Duration, schedule string, logger zerolog.Logger) *Janitor {
	if staleAge == 0 {
		staleAge = DefaultStaleAge
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	return &Janitor{
		tracker:  tracker,
		staleAge: staleAge,
		schedule: schedule,
		logger:   logger.With().Str("component", "lifecycle-janitor").Logger(),
	}
}

// Start schedules the sweep
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("janitor is already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(j.schedule, j.Sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", j.schedule, err)
	}
	c.Start()
	j.cron = c
	j.running = true

	j.logger.Info().
		Str("schedule", j.schedule).
		Dur("stale_age", j.staleAge).
		Msg("Session janitor started")

	return nil
}

// Stop cancels the scheduled sweep
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}

	ctx := j.cron.Stop()
	<-ctx.Done()
	j.running = false

	j.logger.Info().Msg("Session janitor stopped")
}

// Sweep evicts stale records immediately
func (j *Janitor) Sweep() {
	evicted := j.tracker.EvictStale(j.staleAge)
	if evicted > 0 {
		j.logger.Info().
			Int("evicted", evicted).
			Msg("Evicted stale session records")
	}
}

// IsRunning returns whether the janitor is running
func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}
