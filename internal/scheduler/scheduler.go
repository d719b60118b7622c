// Package scheduler runs a named set of periodic tasks concurrently, each on
// its own goroutine, with cooperative cancellation on SIGINT/SIGTERM.
package scheduler

import (
	"context"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is a named unit of periodic work. Period may be recomputed on every
// iteration (e.g. lease renewal derived from a configured TTL), which is why
// it is a function rather than a plain duration.
type Task struct {
	Name      string
	Period    func() time.Duration
	Predicate func() bool
	Body      func(ctx context.Context) error
}

// Every returns a constant Period function, the common case.
func Every(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

// Scheduler owns the shared shutdown signal and the goroutines driving each
// registered Task.
type Scheduler struct {
	tasks  []Task
	cancel func()
	wg     sync.WaitGroup
}

// New constructs a Scheduler. The returned context is cancelled on
// SIGINT/SIGTERM or when Shutdown is called explicitly.
func New() (*Scheduler, context.Context) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return &Scheduler{cancel: cancel}, ctx
}

// Register adds a task. Must be called before Run.
func (s *Scheduler) Register(t Task) {
	s.tasks = append(s.tasks, t)
}

// Run starts a goroutine per registered task and blocks until every task has
// observed shutdown.
func (s *Scheduler) Run(ctx context.Context) {
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(ctx, task)
	}
	s.wg.Wait()
}

// Shutdown cancels the scheduler's context directly, without waiting for a
// signal. Safe to call multiple times.
func (s *Scheduler) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		if task.Predicate == nil || task.Predicate() {
			runOnce(ctx, task)
		}

		period := task.Period()
		timer := time.NewTimer(period)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func runOnce(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("task", task.Name).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("task panicked")
		}
	}()

	if err := task.Body(ctx); err != nil {
		log.Error().Err(err).Str("task", task.Name).Msg("task iteration failed")
	}
}

// HalfTTL is the teacher's "renewal period = TTL/2, minimum 500ms" rule used
// by the leader lock's own renewal task.
func HalfTTL(ttl time.Duration) func() time.Duration {
	return func() time.Duration {
		half := ttl / 2
		if half < 500*time.Millisecond {
			return 500 * time.Millisecond
		}
		return half
	}
}
