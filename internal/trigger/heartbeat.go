package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

const defaultSchedule = "*/10 * * * *"

// HeartbeatConfig holds the dependencies for the heartbeat.
type HeartbeatConfig struct {
	Evaluator *Evaluator
	Owners    func() []string // snapshot of owner keys to evaluate each beat
	Logger    *slog.Logger
	Schedule  string        // cron expression; defaults to every 10 minutes
	Interval  time.Duration // poll granularity; defaults to 30 seconds
}

// Heartbeat drives the evaluator on a cron schedule. Each beat runs the
// checks for every known owner, serialized so a pass never overlaps
// itself.
type Heartbeat struct {
	eval     *Evaluator
	owners   func() []string
	logger   *slog.Logger
	schedule cronlib.Schedule
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	nextRun time.Time
}

// NewHeartbeat creates a Heartbeat with the given config.
func NewHeartbeat(cfg HeartbeatConfig) (*Heartbeat, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("trigger: evaluator is required")
	}
	expr := cfg.Schedule
	if expr == "" {
		expr = defaultSchedule
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("trigger: schedule %q: %w", expr, err)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	owners := cfg.Owners
	if owners == nil {
		owners = func() []string { return nil }
	}
	return &Heartbeat{
		eval:     cfg.Evaluator,
		owners:   owners,
		logger:   logger,
		schedule: schedule,
		interval: interval,
	}, nil
}

// Start begins the heartbeat loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (h *Heartbeat) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go h.loop(ctx)
	h.logger.Info("trigger heartbeat started", "interval", h.interval)
}

// Stop cancels the heartbeat loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
	h.logger.Info("trigger heartbeat stopped")
}

// NextRun reports when the next beat is due.
func (h *Heartbeat) NextRun() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextRun
}

// Kick pulls the next beat forward to the next poll tick. Path watchers
// call it when a watched file changes so the evaluator sees the change
// within the poll interval instead of at the next scheduled beat.
func (h *Heartbeat) Kick() {
	h.mu.Lock()
	h.nextRun = time.Time{}
	h.mu.Unlock()
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Beat immediately on startup, then on schedule.
	h.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

// tick fires a beat when the schedule says one is due.
func (h *Heartbeat) tick(ctx context.Context) {
	now := time.Now()

	h.mu.Lock()
	due := !now.Before(h.nextRun)
	if due {
		h.nextRun = h.schedule.Next(now)
	}
	h.mu.Unlock()
	if !due {
		return
	}

	for _, owner := range h.owners() {
		block, fired := h.eval.Evaluate(ctx, owner)
		if block != "" {
			h.logger.Debug("heartbeat raised alerts", "owner", owner, "alerts", len(fired))
		}
	}
}

// NextRunTime parses the cron expression and returns the next run time
// after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}
