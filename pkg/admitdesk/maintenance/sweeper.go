// Package maintenance runs the portal's periodic housekeeping jobs.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/objectstore"
)

// Config configures the maintenance scheduler.
type Config struct {
	// SweepSchedule is the cron expression for the temp-upload sweep
	// (default: hourly).
	SweepSchedule string `yaml:"sweep_schedule"`

	// TempMaxAge is how long staging uploads live before removal.
	TempMaxAge time.Duration `yaml:"temp_max_age"`
}

// DefaultConfig returns default maintenance configuration.
func DefaultConfig() Config {
	return Config{
		SweepSchedule: "@hourly",
		TempMaxAge:    24 * time.Hour,
	}
}

// Sweeper removes expired staging uploads on a cron schedule. Pairing polls
// are deliberately not managed here: they are bound to open UI sessions, not
// server-side jobs.
type Sweeper struct {
	cfg     Config
	objects objectstore.Store
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewSweeper creates a maintenance sweeper.
func NewSweeper(cfg Config, objects objectstore.Store, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@hourly"
	}
	if cfg.TempMaxAge == 0 {
		cfg.TempMaxAge = 24 * time.Hour
	}
	return &Sweeper{
		cfg:     cfg,
		objects: objects,
		logger:  logger.With("component", "maintenance"),
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start() error {
	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, s.sweep); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("maintenance scheduler started", "schedule", s.cfg.SweepSchedule)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.logger.Info("maintenance scheduler stopped")
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	count, err := s.objects.DeleteExpired(ctx, s.cfg.TempMaxAge)
	if err != nil {
		s.logger.Warn("temp upload sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("temp uploads swept", "removed", count)
	}
}
