package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/basket/workmem/internal/artifact"
	"github.com/basket/workmem/internal/bus"
	"github.com/basket/workmem/internal/config"
	"github.com/basket/workmem/internal/search"
	"github.com/basket/workmem/internal/store"
	"github.com/basket/workmem/internal/telemetry"
)

// engineEnv bundles the pieces every subcommand starts from: the loaded
// config, the engine logger, the document store, and the artifact
// workspace.
type engineEnv struct {
	cfg    config.Config
	logger *slog.Logger
	closer io.Closer
	store  *store.Store
	ws     *artifact.Workspace
}

// newEngineEnv loads config and opens the store and workspace. Logs go
// file-only when quiet so command output stays clean.
func newEngineEnv(quiet bool) (*engineEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, closer, err := telemetry.NewLogger(cfg.StateRoot, cfg.LogLevel, quiet)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	st, err := store.New(store.Config{Dir: cfg.StateRoot, Logger: logger})
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	ws, err := artifact.NewWorkspace(cfg.MemoryDir)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("open artifact workspace: %w", err)
	}
	return &engineEnv{cfg: cfg, logger: logger, closer: closer, store: st, ws: ws}, nil
}

func (e *engineEnv) Close() {
	e.closer.Close()
}

// searchStack holds the opened providers plus the service and indexer
// built over them.
type searchStack struct {
	kw  *search.KeywordIndex
	svc *search.Service
	ix  *search.Indexer
}

// openSearch opens both reference providers under <state root>/index
// and wires the service and indexer.
func (e *engineEnv) openSearch(b *bus.Bus) (*searchStack, error) {
	kw, err := search.OpenKeywordIndex(filepath.Join(e.cfg.StateRoot, "index", "search.db"))
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}
	vec, err := search.OpenVectorIndex(filepath.Join(e.cfg.StateRoot, "index", "vectors"), nil)
	if err != nil {
		kw.Close()
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	ix, err := search.NewIndexer(search.IndexerConfig{
		Workspace: e.ws,
		Keyword:   kw,
		Vector:    vec,
		Logger:    e.logger,
		Bus:       b,
	})
	if err != nil {
		kw.Close()
		return nil, fmt.Errorf("build indexer: %w", err)
	}
	svc, err := search.NewService(search.Config{
		Keyword:  kw,
		Vector:   vec,
		Fallback: e.ws,
		Weights: search.Weights{
			Vector:  e.cfg.Retrieval.VectorWeight,
			Text:    e.cfg.Retrieval.TextWeight,
			Recency: e.cfg.Retrieval.RecencyWeight,
		},
		Logger:   e.logger,
		CacheTTL: time.Duration(e.cfg.Retrieval.CacheTTLSeconds) * time.Second,
	})
	if err != nil {
		kw.Close()
		return nil, fmt.Errorf("build search service: %w", err)
	}
	return &searchStack{kw: kw, svc: svc, ix: ix}, nil
}

func (s *searchStack) Close() {
	s.svc.Close()
	s.kw.Close()
}
