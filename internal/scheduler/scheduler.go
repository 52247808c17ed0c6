// Package scheduler runs the recurring background jobs: pattern
// detection, model retraining, and scheduled insight generation.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pulseos/pulseos/internal/logging"
)

// JobFunc is the work a job performs. Errors are logged and counted;
// one job's failure never stops the others.
type JobFunc func(ctx context.Context) error

// ScheduleType says when a job runs.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval" // every Interval
	ScheduleDaily    ScheduleType = "daily"    // daily at At ("HH:MM")
)

// Schedule defines when a job runs.
type Schedule struct {
	Type     ScheduleType  `json:"type"`
	Interval time.Duration `json:"interval,omitempty"`
	At       string        `json:"at,omitempty"`
}

// Job is one registered recurring task.
type Job struct {
	ID         string        `json:"id"`
	Schedule   Schedule      `json:"schedule"`
	Run        JobFunc       `json:"-"`
	Timeout    time.Duration `json:"timeout"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	NextRun    *time.Time    `json:"next_run,omitempty"`
	RunCount   int64         `json:"run_count"`
	ErrorCount int64         `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
}

// Scheduler owns the job loops.
type Scheduler struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:   make(map[string]*Job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.ID)
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already registered", job.ID)
	}
	if job.Timeout == 0 {
		job.Timeout = 2 * time.Minute
	}

	next := nextRun(job.Schedule, time.Now())
	job.NextRun = &next
	s.jobs[job.ID] = job
	return nil
}

// Start launches every registered job loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(job)
	}
	logging.Info("Scheduler started with %d jobs", len(s.jobs))
	return nil
}

// Stop cancels all job loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.started = false
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	job, ok := s.jobs[id]
	ctx := s.ctx
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("job not found: %s", id)
	}
	go s.execute(ctx, job)
	return nil
}

// Jobs lists all registered jobs.
func (s *Scheduler) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

func (s *Scheduler) loop(job *Job) {
	defer s.wg.Done()

	for {
		s.mu.RLock()
		wait := time.Until(*job.NextRun)
		ctx := s.ctx
		s.mu.RUnlock()
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			s.execute(ctx, job)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job *Job) {
	execCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	now := time.Now()
	s.mu.Lock()
	job.LastRun = &now
	job.RunCount++
	s.mu.Unlock()

	err := job.Run(execCtx)

	s.mu.Lock()
	if err != nil {
		job.ErrorCount++
		job.LastError = err.Error()
		logging.Warn("Job %s failed: %v", job.ID, err)
	} else {
		job.LastError = ""
	}
	next := nextRun(job.Schedule, time.Now())
	job.NextRun = &next
	s.mu.Unlock()
}

func nextRun(schedule Schedule, now time.Time) time.Time {
	switch schedule.Type {
	case ScheduleInterval:
		return now.Add(schedule.Interval)
	case ScheduleDaily:
		hour, minute := 7, 0
		fmt.Sscanf(schedule.At, "%d:%d", &hour, &minute)
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		return next
	default:
		return now.Add(time.Hour)
	}
}
