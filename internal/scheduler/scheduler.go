// Package scheduler runs the periodic maintenance jobs: the batch cycle sweep
// and the monthly usage export.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/lectgen/internal/metrics"
	"github.com/robfig/cron/v3"
)

// Job is a unit of scheduled work.
type Job interface {
	// Name identifies the job in logs and metrics.
	Name() string
	Run(ctx context.Context) error
}

// Config holds the scheduler settings.
type Config struct {
	// JobTimeout bounds a single run. Default: 10 minutes
	JobTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for a running job. Default: 30 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with the default values.
func DefaultConfig() Config {
	return Config{
		JobTimeout:      10 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.JobTimeout < time.Second {
		return fmt.Errorf("job timeout must be at least 1 second, got %v", c.JobTimeout)
	}
	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}

// Scheduler triggers registered jobs on their cron schedules. Runs of the
// same job never overlap.
type Scheduler struct {
	cron   *cron.Cron
	config Config
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]Job

	// ctx is the parent of every run and is cancelled when Stop times out.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. Schedules are evaluated in UTC, matching the
// quota cycle boundaries.
func New(config Config, logger *slog.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		config: config,
		logger: logger,
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Register schedules job with a standard five-field cron spec or a
// descriptor such as "@daily". Call before Start.
func (s *Scheduler) Register(spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %q already registered", job.Name())
	}
	if _, err := s.cron.AddFunc(spec, func() { _ = s.run(s.ctx, job) }); err != nil {
		return fmt.Errorf("schedule %q for job %q: %w", spec, job.Name(), err)
	}
	s.jobs[job.Name()] = job
	s.logger.Debug("registered scheduled job", "job", job.Name(), "schedule", spec)
	return nil
}

// Start begins triggering jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop prevents new runs and waits up to ShutdownTimeout for a running job.
// A job still running after that has its context cancelled.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler...")
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped gracefully")
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Warn("scheduler shutdown timeout exceeded, cancelling running jobs")
	}
	s.cancel()
}

// RunNow executes a registered job immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no job registered with name %q", name)
	}
	return s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	logger := s.logger.With("job", job.Name())
	logger.Info("running scheduled job")

	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	if err != nil {
		metrics.JobFailed(job.Name(), elapsed)
		logger.Error("scheduled job failed", "error", err, "duration_ms", elapsed.Milliseconds())
		return err
	}
	metrics.JobCompleted(job.Name(), elapsed)
	logger.Info("scheduled job completed", "duration_ms", elapsed.Milliseconds())
	return nil
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
