package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs Sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

// Sweeper purges expired sessions on a cron schedule.
type Sweeper struct {
	cron   *cron.Cron
	store  *Store
	logger *slog.Logger
}

// NewSweeper validates schedule (standard five-field cron or a descriptor
// such as "@every 5m") and registers the sweep job. Call Start to run it.
func NewSweeper(store *Store, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	sw := &Sweeper{cron: cron.New(), store: store, logger: logger}
	if _, err := sw.cron.AddFunc(schedule, sw.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return sw, nil
}

func (sw *Sweeper) sweep() {
	if n := sw.store.Sweep(); n > 0 {
		sw.logger.Info("expired sessions purged", "count", n)
	}
}

// Start runs the schedule in the background.
func (sw *Sweeper) Start() {
	sw.cron.Start()
}

// Stop halts the schedule and returns a context that is done once a
// running sweep has finished.
func (sw *Sweeper) Stop() context.Context {
	return sw.cron.Stop()
}
