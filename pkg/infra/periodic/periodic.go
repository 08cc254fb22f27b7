// Package periodic runs a function at a fixed interval on a dedicated
// goroutine. A tick that arrives while the previous run is still in flight
// is skipped, so a slow run never stacks concurrent executions.
package periodic

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/logger"
)

// Task is the unit of work executed on each tick. The context is cancelled
// when the runner stops; long-running tasks should honor it.
type Task func(ctx context.Context)

// Runner executes a task at a fixed interval.
type Runner struct {
	name     string
	interval time.Duration
	task     Task

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	skipped int64
}

// NewRunner creates a runner. It does not start until Start is called.
func NewRunner(name string, interval time.Duration, task Task) *Runner {
	return &Runner{
		name:     name,
		interval: interval,
		task:     task,
	}
}

// Start begins periodic execution. Calling Start on a running runner is a
// no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.loop(ctx)

	logger.Infow("Periodic runner started", "name", r.name, "interval", r.interval.String())
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	inFlight := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case inFlight <- struct{}{}:
			default:
				r.mu.Lock()
				r.skipped++
				r.mu.Unlock()
				logger.Debugw("Periodic run skipped, previous still in flight", "name", r.name)
				continue
			}
			go func() {
				defer func() { <-inFlight }()
				defer func() {
					if rec := recover(); rec != nil {
						logger.Errorw("Periodic task panic recovered", "name", r.name, "panic", rec)
					}
				}()
				r.task(ctx)
			}()
		}
	}
}

// Stop cancels the task context and waits for the loop to exit. Stop on a
// stopped runner is a no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done

	logger.Infow("Periodic runner stopped", "name", r.name)
}

// Skipped returns the number of ticks skipped because a run was in flight.
func (r *Runner) Skipped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}
