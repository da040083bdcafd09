// Package scheduler runs periodic housekeeping jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context)

type job struct {
	name string
	spec string
	fn   JobFunc
	id   cron.EntryID
}

// Scheduler runs named jobs on cron expressions. Descriptors such as
// "@every 15s" and an optional seconds field are accepted.
type Scheduler struct {
	mu sync.RWMutex

	cron   *cron.Cron
	parser cron.Parser
	jobs   map[string]*job
	logger *slog.Logger

	// Running state
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler with no jobs.
func NewScheduler() *Scheduler {
	return &Scheduler{
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:   make(map[string]*job),
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger.With(slog.String("component", "scheduler"))
	return s
}

// Add registers fn under name. Jobs added after Start take effect immediately.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, spec: spec, fn: fn}
	s.jobs[name] = j
	if s.cron != nil {
		if err := s.schedule(j); err != nil {
			delete(s.jobs, name)
			return err
		}
	}
	return nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	logger := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithParser(s.parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	for _, j := range s.jobs {
		if err := s.schedule(j); err != nil {
			s.cancel()
			s.ctx, s.cancel, s.cron = nil, nil, nil
			return err
		}
	}
	s.cron.Start()

	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

// schedule adds j to the running cron. Callers must hold mu.
func (s *Scheduler) schedule(j *job) error {
	ctx := s.ctx
	id, err := s.cron.AddFunc(j.spec, func() {
		start := time.Now()
		j.fn(ctx)
		s.logger.Debug("job completed",
			slog.String("job", j.name),
			slog.Duration("duration", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("scheduling job %q: %w", j.name, err)
	}
	j.id = id
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel, s.cron = nil, nil, nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		s.logger.Info("scheduler stopped")
	}
}

// RunNow executes the named job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	j.fn(ctx)
	return nil
}

// NextRun returns when the named job will next run, or the zero time if
// the scheduler is not running.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[name]
	if !ok || s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(j.id).Next
}

// ValidateCron validates a cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
