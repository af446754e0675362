// Package cron runs the periodic maintenance jobs: work directory sweeps,
// stale session resets and the daily cost summary.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	. "github.com/roelfdiedericks/voxledger/internal/logging"
	. "github.com/roelfdiedericks/voxledger/internal/metrics"
)

// Job is one named periodic task. Run returns a short summary for the run
// history.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (string, error)
}

// parser accepts standard 5-field expressions and descriptors like @hourly.
var parser = cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)

// Scheduler wraps robfig/cron with timeouts, metrics and a run history.
type Scheduler struct {
	cron    *cronlib.Cron
	history *History
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]Job

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. history may be nil.
func New(cfg Config, history *History) (*Scheduler, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	logger := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cronlib.New(
			cronlib.WithLocation(loc),
			cronlib.WithParser(parser),
			cronlib.WithLogger(logger),
			cronlib.WithChain(cronlib.Recover(logger), cronlib.SkipIfStillRunning(logger)),
		),
		history: history,
		timeout: time.Duration(cfg.JobTimeoutMinutes) * time.Minute,
		jobs:    make(map[string]Job),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Add registers a job. Jobs with an empty schedule are skipped.
func (s *Scheduler) Add(job Job) error {
	if job.Schedule == "" {
		L_debug("cron: job disabled", "job", job.Name)
		return nil
	}
	if _, err := parser.Parse(job.Schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q for %s: %w", job.Schedule, job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Schedule, func() { s.execute(job) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}
	s.jobs[job.Name] = job
	L_debug("cron: job scheduled", "job", job.Name, "schedule", job.Schedule)
	return nil
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(name string) (RunLogEntry, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return RunLogEntry{}, fmt.Errorf("job %q not found", name)
	}
	return s.execute(job), nil
}

// Jobs returns the registered job names with their next run time.
func (s *Scheduler) Jobs() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time, len(s.jobs))
	for name, job := range s.jobs {
		sched, err := parser.Parse(job.Schedule)
		if err != nil {
			continue
		}
		out[name] = sched.Next(time.Now().In(s.cron.Location()))
	}
	return out
}

func (s *Scheduler) execute(job Job) RunLogEntry {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	summary, err := job.Run(ctx)
	elapsed := time.Since(start)
	MetricDuration("cron", job.Name, elapsed)

	entry := RunLogEntry{
		Timestamp:  start.UnixMilli(),
		Job:        job.Name,
		Status:     "ok",
		Summary:    summary,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
		MetricFailWithReason("cron", job.Name, "error")
		L_error("cron: job failed", "job", job.Name, "error", err)
	} else {
		MetricSuccess("cron", job.Name)
		L_debug("cron: job finished", "job", job.Name, "summary", summary, "elapsed", elapsed)
	}

	if s.history != nil {
		if err := s.history.LogRun(entry); err != nil {
			L_warn("cron: failed to log run", "job", job.Name, "error", err)
		}
	}
	return entry
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	L_info("cron: scheduler started", "jobs", len(s.jobs))
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	L_info("cron: scheduler stopped")
}

// cronLogger routes robfig/cron's logging through ours.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	L_trace("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	L_error("cron: "+msg, append(keysAndValues, "error", err)...)
}
