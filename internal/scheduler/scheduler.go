// Package scheduler runs the periodic maintenance jobs: bucket counter
// reconciliation and idle session eviction.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wealthpath/buckets/internal/service"
)

// Config holds the scheduler configuration
type Config struct {
	// Schedule is a 5-field cron expression for counter reconciliation
	// (e.g., "30 3 * * *" for daily at 03:30)
	Schedule string
	// Timeout is the maximum duration for a complete reconcile cycle
	Timeout time.Duration
	// Enabled determines if reconciliation is scheduled
	Enabled bool
	// EvictEvery is how often idle sessions are closed; zero disables it
	EvictEvery time.Duration
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Schedule:   "30 3 * * *",
		Timeout:    10 * time.Minute,
		Enabled:    true,
		EvictEvery: time.Minute,
	}
}

// Reconciler repairs bucket counters.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (service.ReconcileReport, error)
}

// Evictor closes idle sessions.
type Evictor interface {
	EvictIdle(ctx context.Context) int
}

// Scheduler manages the scheduled jobs
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	evictor    Evictor
	config     Config
	logger     *slog.Logger
	entryID    cron.EntryID
}

// New creates a new Scheduler instance. evictor may be nil.
func New(cfg Config, reconciler Reconciler, evictor Evictor, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		reconciler: reconciler,
		evictor:    evictor,
		config:     cfg,
		logger:     logger,
	}
}

// Start registers the jobs and starts the cron runner
func (s *Scheduler) Start() error {
	if s.evictor != nil && s.config.EvictEvery > 0 {
		if _, err := s.cron.AddFunc("@every "+s.config.EvictEvery.String(), s.runEvictJob); err != nil {
			return err
		}
	}

	if s.config.Enabled {
		// Convert standard cron (5 fields) to cron with seconds (6 fields)
		schedule := "0 " + s.config.Schedule

		entryID, err := s.cron.AddFunc(schedule, s.runReconcileJob)
		if err != nil {
			return err
		}
		s.entryID = entryID
	} else {
		s.logger.Info("Counter reconciliation is disabled")
	}

	s.cron.Start()

	s.logger.Info("Scheduler started",
		slog.String("schedule", s.config.Schedule),
		slog.Bool("reconcile_enabled", s.config.Enabled),
		slog.Duration("timeout", s.config.Timeout),
		slog.Duration("evict_every", s.config.EvictEvery),
	)

	return nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("Stopping scheduler...")
	return s.cron.Stop()
}

// RunNow triggers an immediate reconciliation (useful for manual triggers)
func (s *Scheduler) RunNow() {
	go s.runReconcileJob()
}

func (s *Scheduler) runReconcileJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	startTime := time.Now()
	s.logger.Info("Starting counter reconciliation",
		slog.Time("start_time", startTime),
	)

	report, err := s.reconciler.ReconcileAll(ctx)
	duration := time.Since(startTime)

	if err != nil {
		s.logger.Error("Counter reconciliation finished with errors",
			slog.String("error", err.Error()),
			slog.Int("users", report.Users),
			slog.Int("failed", report.Failed),
			slog.Duration("duration", duration),
		)
		return
	}

	s.logger.Info("Counter reconciliation completed",
		slog.Int("users", report.Users),
		slog.Int("repaired", report.Repaired),
		slog.Duration("duration", duration),
	)
}

func (s *Scheduler) runEvictJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()
	s.evictor.EvictIdle(ctx)
}

// GetNextRunTime returns the next scheduled reconciliation
func (s *Scheduler) GetNextRunTime() time.Time {
	if s.entryID == 0 {
		return time.Time{}
	}
	entry := s.cron.Entry(s.entryID)
	return entry.Next
}

// GetLastRunTime returns the last reconciliation run time
func (s *Scheduler) GetLastRunTime() time.Time {
	if s.entryID == 0 {
		return time.Time{}
	}
	entry := s.cron.Entry(s.entryID)
	return entry.Prev
}

// IsRunning returns true if the scheduler has jobs registered
func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
