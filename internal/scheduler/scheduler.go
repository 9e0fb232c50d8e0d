// Package scheduler runs named jobs on CRON schedules, such as the recurring
// service checks and layer re-binding of a long-running viewer.
//
// Schedules use the standard 5-field syntax, an optional leading seconds
// field, or descriptors such as "@hourly" and "@every 15m".
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tofunori/glacier-albedo-west-canada/internal/logger"
)

// Scheduler errors
var (
	ErrEmptySchedule  = errors.New("schedule is empty")
	ErrInvalidCron    = errors.New("invalid cron expression")
	ErrNilJob         = errors.New("job is nil")
	ErrJobNotFound    = errors.New("job not found")
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrNotRunning     = errors.New("scheduler is not running")
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCronExpression reports whether expr is a schedule Register accepts.
func ValidateCronExpression(expr string) error {
	if expr == "" {
		return ErrEmptySchedule
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidCron, expr, err)
	}
	return nil
}

// Every returns the descriptor for a fixed interval.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Job is one scheduled execution. The context is canceled when the
// scheduler stops.
type Job func(ctx context.Context) error

// Stats describes a job's executions so far.
type Stats struct {
	Runs     int
	Failures int
	Skipped  int
	LastRun  time.Time
	LastErr  error
}

// Option configures a registered job.
type Option func(*entry)

// RunImmediately also runs the job once at Start.
func RunImmediately() Option {
	return func(e *entry) { e.immediate = true }
}

type entry struct {
	name      string
	schedule  string
	job       Job
	immediate bool

	id      cron.EntryID
	wrapped cron.Job
	stats   Stats
}

// Scheduler runs registered jobs on their schedules. A job never overlaps
// itself: a run due while the previous one is still going is skipped.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	extra   sync.WaitGroup
}

// New creates a stopped scheduler with no jobs.
func New() *Scheduler {
	l := cronLogger{}
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithLogger(l), cron.WithChain(cron.Recover(l))),
		entries: make(map[string]*entry),
		ctx:     context.Background(),
	}
}

// Register schedules job under name. Registering an existing name replaces
// its schedule and job.
func (s *Scheduler) Register(name, schedule string, job Job, opts ...Option) error {
	if job == nil {
		return ErrNilJob
	}
	if err := ValidateCronExpression(schedule); err != nil {
		return err
	}

	e := &entry{name: name, schedule: schedule, job: job}
	for _, opt := range opts {
		opt(e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[name]; ok {
		s.cron.Remove(old.id)
	}

	e.wrapped = cron.NewChain(cron.SkipIfStillRunning(skipLogger{s, name})).Then(cron.FuncJob(func() { s.run(e) }))
	id, err := s.cron.AddJob(schedule, e.wrapped)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidCron, schedule, err)
	}
	e.id = id
	s.entries[name] = e

	logger.Debug("job registered", "job", name, "schedule", schedule)
	if s.started && e.immediate {
		s.runAsync(e)
	}
	return nil
}

// Jobs lists registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins executing jobs. Jobs receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()

	for _, e := range s.entries {
		if e.immediate {
			s.runAsync(e)
		}
		logger.Info("scheduler started", "job", e.name, "schedule", e.schedule)
	}
	return nil
}

// Stop cancels running jobs and waits for them to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		s.extra.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("scheduler stopped", "jobs", len(s.Jobs()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// IsStarted reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// NextRun returns the next scheduled time of a job; zero before Start.
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	started := s.started
	s.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if !started {
		return time.Time{}, nil
	}
	return s.cron.Entry(e.id).Next, nil
}

// Stats returns a copy of a job's counters.
func (s *Scheduler) Stats(name string) (Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return Stats{}, false
	}
	return e.stats, true
}

// runAsync runs e through its skip wrapper outside the cron loop.
// s.mu must be held.
func (s *Scheduler) runAsync(e *entry) {
	s.extra.Add(1)
	go func() {
		defer s.extra.Done()
		e.wrapped.Run()
	}()
}

func (s *Scheduler) run(e *entry) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := e.job(ctx)

	s.mu.Lock()
	e.stats.Runs++
	e.stats.LastRun = start
	e.stats.LastErr = err
	if err != nil {
		e.stats.Failures++
	}
	s.mu.Unlock()

	if err != nil {
		logger.LogError("scheduled job failed", logger.ErrorContext{
			Operation: e.name,
			Duration:  time.Since(start),
			Err:       err,
		})
		return
	}
	logger.Debug("scheduled job completed", "job", e.name, "duration", time.Since(start))
}

// cronLogger routes cron's own messages to the package logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}

// skipLogger counts the runs SkipIfStillRunning drops.
type skipLogger struct {
	s    *Scheduler
	name string
}

func (l skipLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.mu.Lock()
	if e, ok := l.s.entries[l.name]; ok {
		e.stats.Skipped++
	}
	l.s.mu.Unlock()
	logger.Debug("scheduled run skipped, previous run still active", "job", l.name)
}

func (l skipLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	cronLogger{}.Error(err, msg, keysAndValues...)
}
