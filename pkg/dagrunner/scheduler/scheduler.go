// Package scheduler implements the single polling loop that advances every
// registered job's cron schedule and triggers a start when it comes due
// (spec.md §4.4). It holds no state about individual jobs beyond the
// JobSource it polls each tick.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashgrove/dagrunner/pkg/dagrunner/job"
)

// Tick is the scheduler's poll resolution. A job's next_run can fire up to
// Tick late.
const Tick = 1 * time.Second

// JobSource lists the jobs the scheduler should poll on each tick. The
// engine's job map is the production implementation.
type JobSource interface {
	Jobs() []*job.Job
}

// Scheduler is the engine's single background poller. Only one instance
// runs per engine (spec.md §4.4 "Only one scheduler instance runs per
// Dagobah").
type Scheduler struct {
	mu        sync.Mutex
	source    JobSource
	logger    *slog.Logger
	lastCheck time.Time
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a Scheduler that polls source. It does not start polling
// until Start is called.
func New(source JobSource, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{source: source, logger: logger}
}

// Start begins the polling loop in a background goroutine and returns
// immediately. Restarting a stopped Scheduler resets last_check to now and
// clears the stopped flag, matching spec.md §4.4's restart() semantics.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.lastCheck = time.Now().UTC()
	s.stopped = false
	s.mu.Unlock()

	go s.run()
}

// Stop sets the stopped flag and cancels the loop's context, so the
// background goroutine returns without waiting for another tick; it is not
// force-joined (spec.md §4.4 "thread is not joined"), so a Stop call can
// return before the loop has actually exited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(Tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.tick() {
				return
			}
		}
	}
}

// tick runs one iteration of the poll loop. It returns true if the loop
// should stop.
func (s *Scheduler) tick() bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return true
	}
	lastCheck := s.lastCheck
	s.mu.Unlock()

	now := time.Now().UTC()
	for _, j := range s.source.Jobs() {
		nextRun, ok := j.NextRun()
		if !ok {
			continue
		}
		if nextRun.Before(lastCheck) || nextRun.After(now) {
			continue
		}
		if j.State().AllowStart() {
			if err := j.Start(); err != nil {
				s.logger.Error("scheduled start failed", "error", err)
			}
		} else {
			j.AdvanceIfDue(now)
		}
	}

	// last_check is updated unconditionally every tick, even if a due job
	// was skipped because it wasn't startable (spec.md §4.4 pseudocode).
	s.mu.Lock()
	s.lastCheck = now
	s.mu.Unlock()
	return false
}
