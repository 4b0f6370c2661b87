package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/checkin/internal/common"
)

// JobFunc is one scheduled check-in run
type JobFunc func(ctx context.Context) error

// Status is a snapshot of the daemon job
type Status struct {
	Schedule  string
	Running   bool
	LastRun   *time.Time
	NextRun   *time.Time
	LastError string
	Skipped   int
}

// Service drives the check-in run from a cron schedule. Runs never overlap: a
// tick that fires while a run is in progress is skipped.
type Service struct {
	cron     *cron.Cron
	job      JobFunc
	logger   arbor.ILogger
	runMu    sync.Mutex // held for the duration of a run
	mu       sync.Mutex // protects the fields below
	ctx      context.Context
	schedule string
	cronID   cron.EntryID
	started  bool
	running  bool
	lastRun  *time.Time
	lastErr  string
	skipped  int
}

// NewService creates a scheduler for job
func NewService(job JobFunc, logger arbor.ILogger) *Service {
	return &Service{
		cron:   cron.New(),
		job:    job,
		logger: logger,
	}
}

// Start registers the job under schedule and starts the cron loop. ctx is
// passed to every run; cancelling it aborts the run in progress.
func (s *Service) Start(ctx context.Context, schedule string) error {
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already running")
	}

	id, err := s.cron.AddFunc(schedule, func() { s.execute() })
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.ctx = ctx
	s.schedule = schedule
	s.cronID = id
	s.started = true
	s.cron.Start()

	s.logger.Info().Str("schedule", schedule).Msg("Scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a run in progress to return
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// Trigger runs the job now, outside the schedule. It returns false when a run
// was already in progress.
func (s *Service) Trigger() bool {
	return s.execute()
}

// Status returns the current job state
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Schedule:  s.schedule,
		Running:   s.running,
		LastRun:   s.lastRun,
		LastError: s.lastErr,
		Skipped:   s.skipped,
	}
	if s.started {
		if next := s.cron.Entry(s.cronID).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}

func (s *Service) execute() (ran bool) {
	if !s.runMu.TryLock() {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		s.logger.Warn().Msg("Previous check-in run still in progress, skipping")
		return false
	}
	defer s.runMu.Unlock()

	s.mu.Lock()
	ctx := s.ctx
	s.running = true
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	started := time.Now()
	err := s.safeRun(ctx)
	finished := time.Now()

	s.mu.Lock()
	s.running = false
	s.lastRun = &finished
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Dur("duration", finished.Sub(started)).Msg("Scheduled check-in run failed")
	} else {
		s.logger.Info().Dur("duration", finished.Sub(started)).Msg("Scheduled check-in run completed")
	}
	return true
}

func (s *Service) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.job(ctx)
}
