// Package extract implements the heuristic extraction pipelines that run
// when conversation state is about to be destroyed: the compaction fact
// extractor, the episode summarizer, and the procedure miner.
//
// All three share one contract: they never fail loudly. Any error or
// panic is caught at the boundary, logged at warning level, counted, and
// reported as Result{Logged: false}. A turn must never be delayed or
// aborted because memory extraction went wrong.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/workmem/internal/artifact"
	"github.com/basket/workmem/internal/bus"
	"github.com/basket/workmem/internal/otel"
)

// Result reports what one pipeline invocation did. Logged is false both
// for real failures and for runs that had nothing worth recording; Err
// is only set in the failure case and is never returned.
type Result struct {
	Logged bool
	Path   string // workspace-relative artifact path, when written
	Count  int    // facts, outcomes, or steps recorded
	Err    error
}

// Config holds the dependencies for an Extractor.
type Config struct {
	Workspace *artifact.Workspace // required
	Logger    *slog.Logger        // defaults to slog.Default()
	Bus       *bus.Bus            // optional lifecycle events
	Metrics   *otel.Metrics       // optional failure/fact counters
	Clock     func() time.Time    // defaults to time.Now
}

// Extractor runs the three pipelines against finished or about-to-be
// compacted transcripts.
type Extractor struct {
	ws      *artifact.Workspace
	logger  *slog.Logger
	bus     *bus.Bus
	metrics *otel.Metrics
	now     func() time.Time
}

// New creates an Extractor.
func New(cfg Config) (*Extractor, error) {
	if cfg.Workspace == nil {
		return nil, fmt.Errorf("extract: workspace is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Extractor{
		ws:      cfg.Workspace,
		logger:  logger.With("component", "extract"),
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		now:     now,
	}, nil
}

// fail logs a swallowed pipeline error and returns the no-op result.
func (e *Extractor) fail(ctx context.Context, pipeline string, err error) Result {
	e.logger.Warn("extraction failed", "pipeline", pipeline, "error", err)
	if e.metrics != nil {
		e.metrics.ExtractionFailures.Add(ctx, 1)
	}
	return Result{Logged: false, Err: err}
}

// recovered converts a panic into the swallowed-failure path.
func (e *Extractor) recovered(ctx context.Context, pipeline string, r any, res *Result) {
	if r == nil {
		return
	}
	*res = e.fail(ctx, pipeline, fmt.Errorf("panic: %v", r))
}

func (e *Extractor) publish(topic string, payload any) {
	if e.bus != nil {
		e.bus.Publish(topic, payload)
	}
}
