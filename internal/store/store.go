// Package store persists the engine's bounded, file-backed memory stores.
//
// Every store keeps one JSON document per owner key (agent id or session
// id) under its own subdirectory of the state root. Documents are small:
// each operation loads the whole document, mutates it in memory, enforces
// the store's capacity policy, and rewrites the file atomically via a
// temp-file rename. A per-document mutex serializes read-modify-write
// cycles within the process; a state root must not be shared between
// processes.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/workmem/internal/otel"
)

// docVersion is stamped into every persisted document. Readers reject
// documents written by a newer build.
const docVersion = 1

// Subdirectories of the state root, one per store.
const (
	correctionsDir = "corrections"
	failuresDir    = "tool-failures"
	ledgerDir      = "task-ledger"
	scratchDir     = "scratch"
	kvDir          = "session-kv"
	planDir        = "execution-plans"
)

// Config holds the dependencies for a Store.
type Config struct {
	Dir     string           // state root directory (required)
	Logger  *slog.Logger     // defaults to slog.Default()
	Clock   func() time.Time // defaults to time.Now
	Metrics *otel.Metrics    // optional eviction/capacity counters
}

// Store owns the document files for every memory store under one state
// root. Methods are safe for concurrent use within a single process.
type Store struct {
	dir     string
	logger  *slog.Logger
	now     func() time.Time
	metrics *otel.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the state root directory if needed and returns a Store.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: store dir is required", ErrValidation)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create state root: %v", ErrPersistence, err)
	}
	return &Store{
		dir:     cfg.Dir,
		logger:  logger.With("component", "store"),
		now:     now,
		metrics: cfg.Metrics,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the state root the store was opened on.
func (s *Store) Dir() string { return s.dir }

// lockFor returns the mutex guarding one document file. Held for the
// whole read-modify-write cycle of a mutation.
func (s *Store) lockFor(rel string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[rel]
	if !ok {
		l = &sync.Mutex{}
		s.locks[rel] = l
	}
	return l
}

// docPath maps an owner key to its document path within a store
// subdirectory. The key becomes a file name, so it is restricted to a
// conservative character set.
func (s *Store) docPath(sub, key string) (abs, rel string, err error) {
	if err := validKey(key); err != nil {
		return "", "", err
	}
	rel = filepath.Join(sub, key+".json")
	return filepath.Join(s.dir, rel), rel, nil
}

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty owner key", ErrValidation)
	}
	if len(key) > 128 {
		return fmt.Errorf("%w: owner key too long", ErrValidation)
	}
	if key[0] == '.' {
		return fmt.Errorf("%w: owner key %q may not start with a dot", ErrValidation, key)
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '@':
		default:
			return fmt.Errorf("%w: owner key %q contains %q", ErrValidation, key, r)
		}
	}
	return nil
}

// loadDoc reads a document into out. A missing file is not an error:
// out is left at its zero value so the caller starts a fresh document.
func (s *Store) loadDoc(path string, out any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrPersistence, filepath.Base(path), err)
	}
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrPersistence, filepath.Base(path), err)
	}
	if probe.Version > docVersion {
		return fmt.Errorf("%w: %s has version %d, this build reads up to %d",
			ErrPersistence, filepath.Base(path), probe.Version, docVersion)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrPersistence, filepath.Base(path), err)
	}
	return nil
}

// saveDoc writes a document atomically: marshal, write to a temp file in
// the target directory, then rename over the destination.
func (s *Store) saveDoc(path string, doc any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrPersistence, filepath.Base(dir), err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrPersistence, filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(dir, ".mem-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrPersistence, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: write temp file: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: close temp file: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: rename into place: %v", ErrPersistence, err)
	}
	return nil
}

// removeIfPresent deletes a document file, treating absence as success.
func removeIfPresent(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("%w: remove %s: %v", ErrPersistence, filepath.Base(path), err)
}

// countEvictions bumps the eviction counter when metrics are wired.
func (s *Store) countEvictions(family string, n int) {
	if n <= 0 {
		return
	}
	s.logger.Debug("store evicted entries", "store", family, "count", n)
	if s.metrics != nil {
		s.metrics.StoreEvictions.Add(context.Background(), int64(n),
			metric.WithAttributes(otel.AttrStoreName.String(family)))
	}
}
