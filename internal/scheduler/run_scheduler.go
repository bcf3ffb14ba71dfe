package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/basekick-labs/transcoder/internal/metrics"
	"github.com/basekick-labs/transcoder/internal/pipeline"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs hourly
const DefaultSchedule = "0 * * * *"

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context, trigger string) (*pipeline.RunReport, error)
}

// RunScheduler triggers pipeline runs on a cron schedule. A tick that fires
// while a run is still active is skipped.
type RunScheduler struct {
	runner   Runner
	schedule string // Cron schedule (e.g., "0 * * * *" = hourly)
	timeout  time.Duration
	ctx      context.Context
	cron     *cron.Cron
	running  bool
	mu       sync.Mutex
	logger   zerolog.Logger
}

// RunSchedulerConfig holds configuration for the run scheduler
type RunSchedulerConfig struct {
	Runner   Runner
	Schedule string          // Cron schedule string (e.g., "*/15 * * * *")
	Timeout  time.Duration   // Upper bound of a scheduled run, 0 means none
	Context  context.Context // Parent of scheduled runs; canceling it aborts them
	Logger   zerolog.Logger
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}

// NewRunScheduler validates the schedule and creates a stopped scheduler
func NewRunScheduler(cfg *RunSchedulerConfig) (*RunScheduler, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if _, err := newParser().Parse(schedule); err != nil {
		return nil, err
	}

	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}

	s := &RunScheduler{
		runner:   cfg.Runner,
		schedule: schedule,
		timeout:  cfg.Timeout,
		ctx:      ctx,
		logger:   cfg.Logger.With().Str("component", "run-scheduler").Logger(),
	}

	s.logger.Info().
		Str("schedule", schedule).
		Msg("Run scheduler initialized")

	return s, nil
}

// Start starts the scheduler
func (s *RunScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("Run scheduler already running")
		return nil
	}

	s.cron = cron.New(
		cron.WithParser(newParser()),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})),
	)

	if _, err := s.cron.AddFunc(s.schedule, s.runScheduled); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Time("next_run", s.nextRunLocked()).
		Msg("Run scheduler started")

	return nil
}

// Stop stops the scheduler and waits for an active scheduled run
func (s *RunScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done() // Wait for running jobs to complete
	}

	s.running = false
	s.logger.Info().Msg("Run scheduler stopped")
}

// IsRunning reports whether the scheduler is started
func (s *RunScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled run time, or zero when stopped
func (s *RunScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRunLocked()
}

func (s *RunScheduler) nextRunLocked() time.Time {
	if s.cron == nil || !s.running {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Schedule returns the cron expression
func (s *RunScheduler) Schedule() string { return s.schedule }

func (s *RunScheduler) runScheduled() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.trigger(ctx)
}

// trigger runs once; a run already in progress (e.g. started through the API)
// turns this tick into a skip.
func (s *RunScheduler) trigger(ctx context.Context) {
	s.logger.Info().Msg("Triggering scheduled run")

	report, err := s.runner.Run(ctx, "scheduled")
	if errors.Is(err, pipeline.ErrRunInProgress) {
		metrics.Get().IncRunsSkipped()
		s.logger.Warn().Msg("Previous run still active, skipping scheduled run")
		return
	}
	if err != nil {
		// the runner already logged the failure with its run id
		return
	}

	s.logger.Info().
		Str("run_id", report.RunID).
		Int64("records", report.Records).
		Int64("duration_ms", report.DurationMs).
		Msg("Scheduled run completed")
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
