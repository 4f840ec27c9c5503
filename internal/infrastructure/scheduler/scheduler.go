// Package scheduler runs periodic background jobs of the API server, such as
// store statistics reports and collaborator status checks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alem-hub/shadow-ranch/pkg/logger"
	"github.com/alem-hub/shadow-ranch/pkg/timeutil"
)

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// ══════════════════════════════════════════════════════════════════════════════
// JOBS AND SCHEDULES
// ══════════════════════════════════════════════════════════════════════════════

// Job is a unit of background work. Run receives a context that ends when
// the scheduler stops.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Schedule yields the run after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// Every is a fixed-interval Schedule.
type Every time.Duration

func (e Every) Next(after time.Time) time.Time { return after.Add(time.Duration(e)) }
func (e Every) String() string                 { return "@every " + time.Duration(e).String() }

// JobResult describes one finished run.
type JobResult struct {
	JobName   string
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// JobInfo is a snapshot of a registered job.
type JobInfo struct {
	Name       string
	Schedule   string
	NextRun    time.Time
	RunCount   int64
	FailCount  int64
	LastResult *JobResult
}

// entry is guarded by Scheduler.mu.
type entry struct {
	job   Job
	sched Schedule
	due   time.Time
	busy  bool

	runs, failures int64
	last           *JobResult
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config configures a Scheduler. Zero values get defaults: a no-op logger,
// the system clock and a one-second tick.
type Config struct {
	Logger       *logger.Logger
	Clock        timeutil.Clock
	TickInterval time.Duration
}

// Scheduler polls its jobs every tick and starts the due ones. A job never
// overlaps with itself: while a run is in progress the job is skipped.
type Scheduler struct {
	log   *logger.Logger
	clock timeutil.Clock
	tick  time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	stop    context.CancelFunc // nil while stopped
	wg      sync.WaitGroup
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		log:     cfg.Logger,
		clock:   cfg.Clock,
		tick:    cfg.TickInterval,
		entries: make(map[string]*entry),
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.clock == nil {
		s.clock = timeutil.SystemClock{}
	}
	if s.tick <= 0 {
		s.tick = time.Second
	}
	s.log = s.log.With(logger.Component("scheduler"))
	return s
}

// Register adds job. Names must be unique.
func (s *Scheduler) Register(job Job, sched Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case sched == nil:
		return ErrNilSchedule
	}

	name := job.Name()
	s.mu.Lock()
	if _, dup := s.entries[name]; dup {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{job: job, sched: sched, due: sched.Next(s.clock.Now())}
	s.entries[name] = e
	s.mu.Unlock()

	s.log.Info("job registered",
		logger.String("job", name),
		logger.String("schedule", sched.String()),
		logger.Time("next_run", e.due),
	)
	return nil
}

// Start launches the polling loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	ctx, s.stop = context.WithCancel(ctx)
	n := len(s.entries)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.log.Info("scheduler started", logger.Int("jobs", n))
	return nil
}

// Stop cancels in-flight runs and blocks until they return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return ErrSchedulerNotRunning
	}

	stop()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	t := time.NewTicker(s.tick)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.dispatch(ctx, s.clock.Now())
		case <-ctx.Done():
			return
		}
	}
}

// dispatch starts every idle entry whose due time has passed.
func (s *Scheduler) dispatch(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.busy || e.due.After(now) {
			continue
		}
		e.busy = true
		e.due = e.sched.Next(now)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(ctx, e)
		}()
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry) *JobResult {
	res := &JobResult{JobName: e.job.Name(), StartedAt: s.clock.Now()}
	res.Err = e.job.Run(ctx)
	res.Duration = s.clock.Now().Sub(res.StartedAt)

	s.mu.Lock()
	e.busy = false
	e.runs++
	if res.Err != nil {
		e.failures++
	}
	e.last = res
	s.mu.Unlock()

	if res.Err != nil {
		s.log.ErrorContext(ctx, "job failed",
			logger.String("job", res.JobName), logger.Latency(res.Duration), logger.Err(res.Err))
		return res
	}
	s.log.Debug("job completed", logger.String("job", res.JobName), logger.Latency(res.Duration))
	return res
}

// RunNow runs the named job synchronously, outside its schedule. The job's
// own error is returned alongside the result.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	res := s.run(ctx, e)
	return res, res.Err
}

// ListJobs returns a snapshot of all jobs ordered by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	out := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, JobInfo{
			Name:       name,
			Schedule:   e.sched.String(),
			NextRun:    e.due,
			RunCount:   e.runs,
			FailCount:  e.failures,
			LastResult: e.last,
		})
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}
