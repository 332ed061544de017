// Package schedule runs named jobs on cron expressions.
package schedule

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// JobInfo describes a registered job.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	LastRun  time.Time `json:"last_run,omitzero"`
	NextRun  time.Time `json:"next_run,omitzero"`
}

// Validate reports whether expr is a valid five-field cron expression.
func Validate(expr string) error {
	if err := gocron.NewDefaultCron(false).IsValid(expr, time.Local, time.Now()); err != nil {
		return fmt.Errorf("schedule: invalid cron %q: %w", expr, err)
	}
	return nil
}

// Scheduler wraps a gocron scheduler. A job never overlaps with itself: a
// tick that fires while the previous execution is still running is skipped.
type Scheduler struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job
	schedules map[string]string
	logger    *slog.Logger
}

// New creates a stopped scheduler.
func New(logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("schedule: create scheduler: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		schedules: make(map[string]string),
		logger:    logger,
	}, nil
}

// Add registers fn under a unique name.
func (s *Scheduler) Add(name, cronExpr string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("schedule: job already exists: %s", name)
	}
	j, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule: create job %s: %w", name, err)
	}
	s.jobs[name] = j
	s.schedules[name] = cronExpr
	s.logger.Info("schedule: job added", slog.String("name", name), slog.String("cron", cronExpr))
	return nil
}

// RunNow executes a registered job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule: unknown job %s", name)
	}
	return j.RunNow()
}

// Jobs returns info about all registered jobs.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		info := JobInfo{Name: name, Schedule: s.schedules[name]}
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

// Start begins executing registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("schedule: started", slog.Int("jobs", len(s.jobs)))
}

// Stop shuts the scheduler down and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
