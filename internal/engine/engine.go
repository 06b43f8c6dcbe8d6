// Package engine ties the memory subsystems together behind one embedding
// facade. The host's conversation loop hands it role-tagged messages at
// three lifecycle points (turn observed, run ended, compaction) and asks it
// for the next turn's injection; capture work is routed through the
// background queue so memory bookkeeping never delays a turn.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/workmem/internal/artifact"
	"github.com/basket/workmem/internal/background"
	"github.com/basket/workmem/internal/bus"
	"github.com/basket/workmem/internal/extract"
	"github.com/basket/workmem/internal/otel"
	"github.com/basket/workmem/internal/search"
	"github.com/basket/workmem/internal/store"
)

// Config holds the dependencies for an Engine.
type Config struct {
	Store     *store.Store        // required
	Workspace *artifact.Workspace // required
	Search    *search.Service     // optional; recall and memory blocks when set
	Queue     *background.Runner  // optional; capture runs inline when nil
	Logger    *slog.Logger        // defaults to slog.Default()
	Bus       *bus.Bus            // optional lifecycle events
	Metrics   *otel.Metrics       // optional counters and histograms
	Clock     func() time.Time    // defaults to time.Now
}

// Engine is the working-memory facade. All of its lifecycle methods are
// safe to call from the hot path of a conversation turn: capture and
// extraction either run on the background queue or swallow their own
// failures inline.
type Engine struct {
	st      *store.Store
	ws      *artifact.Workspace
	ex      *extract.Extractor
	search  *search.Service
	queue   *background.Runner
	bus     *bus.Bus
	logger  *slog.Logger
	metrics *otel.Metrics
	now     func() time.Time
}

// New creates an Engine. The extractor is built internally on top of the
// given workspace so the three pipelines share the engine's logger, bus,
// and clock.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if cfg.Workspace == nil {
		return nil, fmt.Errorf("engine: workspace is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	ex, err := extract.New(extract.Config{
		Workspace: cfg.Workspace,
		Logger:    logger,
		Bus:       cfg.Bus,
		Metrics:   cfg.Metrics,
		Clock:     now,
	})
	if err != nil {
		return nil, err
	}
	return &Engine{
		st:      cfg.Store,
		ws:      cfg.Workspace,
		ex:      ex,
		search:  cfg.Search,
		queue:   cfg.Queue,
		bus:     cfg.Bus,
		logger:  logger.With("component", "engine"),
		metrics: cfg.Metrics,
		now:     now,
	}, nil
}

// dispatch hands work to the background queue when one is wired and runs
// it inline otherwise. Either way nothing propagates past this point.
func (e *Engine) dispatch(ctx context.Context, name string, fn func(context.Context) error) {
	if e.queue != nil {
		e.queue.Submit(background.Job{Name: name, Run: fn})
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("memory job panicked", "job", name, "panic", r)
		}
	}()
	if err := fn(ctx); err != nil {
		e.logger.Warn("memory job failed", "job", name, "error", err)
	}
}

func (e *Engine) publish(topic string, payload any) {
	if e.bus != nil {
		e.bus.Publish(topic, payload)
	}
}
