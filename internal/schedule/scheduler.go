// Package schedule runs the periodic jobs of the watch loop on a shared
// gocron scheduler.
package schedule

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"sensormon/internal/logging"
)

// JobInfo describes a registered job for inspection.
type JobInfo struct {
	ID       string    // gocron job UUID
	Name     string    // e.g. "refresh", "stats"
	Schedule string    // cron expression or interval
	LastRun  time.Time // zero if never run
	NextRun  time.Time // zero if not scheduled
}

// Scheduler wraps a gocron scheduler with name-keyed jobs. Jobs never
// overlap with themselves: a run still in progress when the next one is
// due pushes it to the following slot.
type Scheduler struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job
	schedules map[string]string
	logger    *slog.Logger
}

// New creates a stopped Scheduler.
func New(logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		schedules: make(map[string]string),
		logger:    logging.Default(logger).With("component", "scheduler"),
	}, nil
}

// Every registers fn to run every interval, starting immediately.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", name, interval)
	}
	return s.add(name, interval.String(),
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
}

// Cron registers fn on a cron expression. Both 5-field (minute-level) and
// 6-field (second-level) expressions are accepted.
func (s *Scheduler) Cron(name, expr string, fn func()) error {
	return s.add(name, expr, gocron.CronJob(expr, true), gocron.NewTask(fn))
}

func (s *Scheduler) add(name, schedule string, def gocron.JobDefinition, task gocron.Task, opts ...gocron.JobOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduled job already exists: %s", name)
	}

	opts = append(opts,
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	j, err := s.scheduler.NewJob(def, task, opts...)
	if err != nil {
		return fmt.Errorf("create scheduled job %s: %w", name, err)
	}

	s.jobs[name] = j
	s.schedules[name] = schedule
	s.logger.Debug("scheduled job added", "name", name, "schedule", schedule)
	return nil
}

// Remove stops and removes a named job. No-op if the job doesn't exist.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return
	}
	if err := s.scheduler.RemoveJob(j.ID()); err != nil {
		s.logger.Warn("failed to remove scheduled job", "name", name, "error", err)
	}
	delete(s.jobs, name)
	delete(s.schedules, name)
}

// Has reports whether a job with the given name exists.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// List returns info about all registered jobs.
func (s *Scheduler) List() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		info := JobInfo{
			ID:       j.ID().String(),
			Name:     name,
			Schedule: s.schedules[name],
		}
		if lr, err := j.LastRun(); err == nil {
			info.LastRun = lr
		}
		if nr, err := j.NextRun(); err == nil {
			info.NextRun = nr
		}
		infos = append(infos, info)
	}
	return infos
}

// Start begins executing all registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Debug("scheduler started", "jobs", len(s.jobs))
}

// Stop shuts down the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// ValidateCron checks whether expr is a valid 5- or 6-field cron expression.
func ValidateCron(expr string) error {
	cr := gocron.NewDefaultCron(true)
	if err := cr.IsValid(expr, time.UTC, time.Now()); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
