// Package scheduler runs the recurring maintenance jobs: session refresh,
// expiry sweeps, position supervision, and heartbeats. One goroutine per
// job, so a slow pass delays only its own next run and never overlaps it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/traderops/backoffice/internal/domain"
)

// errorBackoffCap bounds the pause after a failed run. Jobs with shorter
// intervals keep their own cadence even when failing.
const errorBackoffCap = time.Minute

// Job is one recurring task. Run is invoked sequentially per job; a non-nil
// error delays the next run by min(errorBackoffCap, Interval).
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives registered jobs until stopped.
type Scheduler struct {
	logger *slog.Logger
	syslog domain.SystemLogStore

	mu      sync.Mutex
	jobs    []Job
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSystemLog records job failures in the system log store.
func WithSystemLog(store domain.SystemLogStore) Option {
	return func(s *Scheduler) { s.syslog = store }
}

// New creates an empty scheduler.
func New(logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: logger.With(slog.String("component", "scheduler")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Start launches every registered job. Calling Start twice is an error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler: already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, job := range s.jobs {
		if job.Interval <= 0 || job.Run == nil {
			cancel()
			return fmt.Errorf("scheduler: job %q needs a positive interval and a run function", job.Name)
		}
		s.wg.Add(1)
		go s.loop(runCtx, job)
	}

	s.logger.InfoContext(ctx, "scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	timer := time.NewTimer(job.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := job.Interval
		if err := s.runOne(ctx, job); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "job failed",
				slog.String("job", job.Name),
				slog.String("error", err.Error()),
			)
			s.recordFailure(ctx, job.Name, err)
			wait = min(errorBackoffCap, job.Interval)
		}
		timer.Reset(wait)
	}
}

// runOne executes the job once, converting panics into errors so one bad
// pass cannot take the whole scheduler down.
func (s *Scheduler) runOne(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: job %q panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}

func (s *Scheduler) recordFailure(ctx context.Context, jobName string, err error) {
	if s.syslog == nil {
		return
	}
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if logErr := s.syslog.Log(logCtx, "error", "scheduler", "job failed", map[string]any{
		"job":   jobName,
		"error": err.Error(),
	}); logErr != nil {
		s.logger.WarnContext(ctx, "system log write failed",
			slog.String("error", logErr.Error()),
		)
	}
}
