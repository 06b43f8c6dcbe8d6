// Package background runs fire-and-forget memory work through a bounded
// queue with a single supervisor goroutine. Submission never blocks: a
// full queue drops the job and counts the drop, so a stalled pipeline
// degrades memory freshness instead of the conversation.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/workmem/internal/otel"
)

const (
	defaultQueueSize = 64
	defaultDrainWait = 5 * time.Second
)

// Job is one unit of deferred work. Run receives the runner's context,
// not the submitter's: the work outlives the turn that queued it.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config holds the dependencies for a Runner.
type Config struct {
	QueueSize int           // defaults to 64
	Logger    *slog.Logger  // defaults to slog.Default()
	Metrics   *otel.Metrics // optional depth gauge and drop/failure counters
	DrainWait time.Duration // Close drain timeout; defaults to 5s
}

// Runner owns the queue and the supervisor goroutine. Jobs run one at a
// time in submission order.
type Runner struct {
	jobs    chan Job
	logger  *slog.Logger
	metrics *otel.Metrics
	drain   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRunner creates a Runner. Jobs may be submitted before Start; they
// sit in the queue until the supervisor comes up.
func NewRunner(cfg Config) *Runner {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	drain := cfg.DrainWait
	if drain <= 0 {
		drain = defaultDrainWait
	}
	return &Runner{
		jobs:    make(chan Job, size),
		logger:  logger.With("component", "background"),
		metrics: cfg.Metrics,
		drain:   drain,
	}
}

// Start launches the supervisor goroutine. It respects the provided
// context for shutdown.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.Info("background runner started", "queue", cap(r.jobs))
}

// Submit queues a job without blocking. It reports false when the queue
// is full or the runner is closed; the job is dropped and counted.
func (r *Runner) Submit(job Job) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped(job)
		return false
	}
	select {
	case r.jobs <- job:
		if r.metrics != nil {
			r.metrics.BackgroundDepth.Add(context.Background(), 1)
		}
		return true
	default:
		r.dropped(job)
		return false
	}
}

func (r *Runner) dropped(job Job) {
	if r.metrics != nil {
		r.metrics.BackgroundDrops.Add(context.Background(), 1)
	}
	r.logger.Warn("background queue full, dropping job", "job", job.Name)
}

// Close stops accepting jobs, drains the queue, and waits for the
// supervisor to exit. Jobs still queued after the drain timeout are
// discarded and the running job has its context canceled.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.drain):
		r.logger.Warn("background drain timed out", "timeout", r.drain)
		if r.cancel != nil {
			r.cancel()
		}
		<-done
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.logger.Info("background runner stopped")
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-r.jobs:
			if !ok {
				return
			}
			if r.metrics != nil {
				r.metrics.BackgroundDepth.Add(context.Background(), -1)
			}
			if ctx.Err() != nil {
				// Drain canceled: discard without running.
				continue
			}
			r.run(ctx, job)
		}
	}
}

// run executes one job, converting errors and panics into a warn log
// and a failure count. The supervisor never dies with a job.
func (r *Runner) run(ctx context.Context, job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.failed(job, fmt.Errorf("panic: %v", rec))
		}
	}()
	if err := job.Run(ctx); err != nil {
		r.failed(job, err)
	}
}

func (r *Runner) failed(job Job, err error) {
	if r.metrics != nil {
		r.metrics.BackgroundFailures.Add(context.Background(), 1)
	}
	r.logger.Warn("background job failed", "job", job.Name, "error", err)
}
