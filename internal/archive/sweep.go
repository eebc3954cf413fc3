package archive

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/parleylabs/parley/internal/logger"
)

// Default retention policy: sweep nightly, keep 90 days of transcripts
const (
	DefaultSweepSchedule = "30 3 * * *"
	DefaultRetention     = 90 * 24 * time.Hour
)

// cronParser accepts standard 5-field expressions (minute hour dom month dow)
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Sweeper prunes old transcripts from the archive on a cron schedule
type Sweeper struct {
	store     *Store
	retention time.Duration
	runner    *cron.Cron
}

// NewSweeper creates a sweeper for the given store. Zero values fall
// back to the defaults.
func NewSweeper(store *Store, schedule string, retention time.Duration) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	s := &Sweeper{
		store:     store,
		retention: retention,
		runner:    cron.New(cron.WithParser(cronParser)),
	}
	if _, err := s.runner.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("failed to register sweep job: %w", err)
	}
	return s, nil
}

// Start begins the sweep schedule
func (s *Sweeper) Start() {
	s.runner.Start()
}

// Stop halts the schedule; a sweep already in flight runs to completion
func (s *Sweeper) Stop() {
	s.runner.Stop()
}

// sweep removes conversations past the retention window
func (s *Sweeper) sweep() {
	cutoff := time.Now().Add(-s.retention)
	n, err := s.store.PruneOlderThan(cutoff)
	if err != nil {
		logger.Error("Archive sweep failed: %v", err)
		return
	}
	if n > 0 {
		logger.Info("Archive sweep removed %d conversations older than %v", n, cutoff.Format(time.RFC3339))
	}
}
