// Package scheduler implements the cooperative single-threaded tick loop
// that drives every service's periodic work (spec.md §4.2). There is no
// worker pool and no task preemption: RunOnce visits every task whose
// next-due time has passed, in precedence order (registration order among
// equal precedence), and advances its next
// due time. A missed task is run once and re-based from now — no
// catch-up backfill, unlike the teacher's cron-driven scheduler.
package scheduler

import (
	"time"

	"github.com/isic-edge/reader-core/internal/apperr"
	"github.com/isic-edge/reader-core/internal/clock"
	"github.com/isic-edge/reader-core/internal/logging"
)

// TaskFunc is one service's tick handler. It must not block; an operation
// that would block is split into chunks across ticks by the handler
// itself.
type TaskFunc func()

// task holds one registered periodic handler.
type task struct {
	name           string
	period         uint64 // ms
	nextDueMs      uint64
	fn             TaskFunc
	precedence     int
	lastDurationNs int64
	missedCount    uint64
	runCount       uint64
}

// TaskStats is a read-only per-task snapshot for observing scheduler
// liveness: run and missed counts, period, and last handler duration.
type TaskStats struct {
	Name         string
	Period       time.Duration
	LastDuration time.Duration
	MissedCount  uint64
	RunCount     uint64
}

// Scheduler runs every registered task from a single call site (RunOnce),
// intended to be invoked from the process's one event loop. It holds no
// internal goroutines of its own.
type Scheduler struct {
	clock clock.Clock
	log   logging.Logger
	tasks []*task
}

// New constructs a Scheduler bound to clk. clk is typically the same
// Clock instance every other component uses so ticks and timestamps agree.
func New(clk clock.Clock, log logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Nop{}
	}
	return &Scheduler{clock: clk, log: log}
}

// RegisterTask adds a named periodic task. precedence lower value runs
// earlier within one RunOnce pass when multiple tasks are simultaneously
// due; the event-bus dispatch task is conventionally registered with
// precedence 0 so it always runs before any other due task, matching
// spec.md §4.2 "EventBus dispatch ... runs before any other due task".
func (s *Scheduler) RegisterTask(name string, period time.Duration, precedence int, fn TaskFunc) error {
	if period <= 0 {
		return apperr.New("scheduler", apperr.InvalidArg, "period must be positive")
	}
	if fn == nil {
		return apperr.New("scheduler", apperr.InvalidArg, "nil task function")
	}
	now := s.clock.MonotonicMs()
	s.tasks = append(s.tasks, &task{
		name:       name,
		period:     uint64(period.Milliseconds()),
		nextDueMs:  now + uint64(period.Milliseconds()),
		fn:         fn,
		precedence: precedence,
	})
	s.sortByPrecedence()
	return nil
}

func (s *Scheduler) sortByPrecedence() {
	// Small N (single digits of tasks); insertion sort keeps this
	// allocation-free and avoids pulling in sort for a handful of items.
	for i := 1; i < len(s.tasks); i++ {
		for j := i; j > 0 && s.tasks[j].precedence < s.tasks[j-1].precedence; j-- {
			s.tasks[j], s.tasks[j-1] = s.tasks[j-1], s.tasks[j]
		}
	}
}

// RunOnce visits every task whose next-due time has passed, invokes it,
// and advances its schedule. A task more than one period overdue is run
// once and rebased from now, dropping the missed ticks rather than
// catching them up (spec.md §4.2 "Drift policy").
func (s *Scheduler) RunOnce() {
	now := s.clock.MonotonicMs()
	for _, t := range s.tasks {
		if now < t.nextDueMs {
			continue
		}
		if now-t.nextDueMs > t.period {
			t.missedCount++
		}
		s.runTask(t, now)
		t.nextDueMs = now + t.period
	}
}

func (s *Scheduler) runTask(t *task, now uint64) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler task panicked", "task", t.name, "panic", r)
		}
	}()
	start := time.Now()
	t.fn()
	t.lastDurationNs = time.Since(start).Nanoseconds()
	t.runCount++
}

// Stats returns a point-in-time snapshot of every registered task.
func (s *Scheduler) Stats() []TaskStats {
	out := make([]TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, TaskStats{
			Name:         t.name,
			Period:       time.Duration(t.period) * time.Millisecond,
			LastDuration: time.Duration(t.lastDurationNs),
			MissedCount:  t.missedCount,
			RunCount:     t.runCount,
		})
	}
	return out
}
