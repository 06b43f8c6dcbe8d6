package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/basket/workmem/internal/artifact"
	"github.com/basket/workmem/internal/bus"
	"github.com/basket/workmem/internal/shared"
)

// Chunk is one indexable slice of a workspace file: a "## " entry in a
// daily artifact, or the whole file when it has no entry headings.
type Chunk struct {
	ID        string
	Path      string
	StartLine int
	EndLine   int
	UpdatedAt time.Time
	Content   string
}

const (
	chunkMinChars = 10
	chunkMaxChars = 2000
)

// ChunkMarkdown splits one artifact file into chunks. Lines are 1-based
// and separator rules between entries are not part of any chunk.
func ChunkMarkdown(path, content string, updatedAt time.Time) []Chunk {
	lines := strings.Split(content, "\n")
	var chunks []Chunk

	flush := func(start, end int) {
		for start < end && isChunkFiller(lines[start]) {
			start++
		}
		for end > start && isChunkFiller(lines[end-1]) {
			end--
		}
		if start >= end {
			return
		}
		text := strings.Join(lines[start:end], "\n")
		if len(strings.TrimSpace(text)) < chunkMinChars {
			return
		}
		chunks = append(chunks, Chunk{
			ID:        fmt.Sprintf("%s:%d", path, start+1),
			Path:      path,
			StartLine: start + 1,
			EndLine:   end,
			UpdatedAt: updatedAt,
			Content:   shared.Truncate(text, chunkMaxChars),
		})
	}

	chunkStart := 0
	for i, line := range lines {
		if i > chunkStart && strings.HasPrefix(line, "## ") {
			flush(chunkStart, i)
			chunkStart = i
		}
	}
	flush(chunkStart, len(lines))
	return chunks
}

func isChunkFiller(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || trimmed == "---"
}

// IndexerConfig holds the dependencies for an Indexer.
type IndexerConfig struct {
	Workspace *artifact.Workspace // required
	Keyword   *KeywordIndex       // optional
	Vector    *VectorIndex        // optional
	Logger    *slog.Logger        // defaults to slog.Default()
	Bus       *bus.Bus            // optional IndexUpdated events
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// Indexer keeps both providers in sync with the markdown workspace. It
// remembers file sizes and modification times so a pass only re-reads
// what changed.
type Indexer struct {
	ws     *artifact.Workspace
	kw     *KeywordIndex
	vec    *VectorIndex
	logger *slog.Logger
	bus    *bus.Bus

	mu   sync.Mutex
	seen map[string]fileStamp
}

// NewIndexer creates an Indexer.
func NewIndexer(cfg IndexerConfig) (*Indexer, error) {
	if cfg.Workspace == nil {
		return nil, fmt.Errorf("search: workspace is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		ws:     cfg.Workspace,
		kw:     cfg.Keyword,
		vec:    cfg.Vector,
		logger: logger.With("component", "search.indexer"),
		bus:    cfg.Bus,
		seen:   make(map[string]fileStamp),
	}, nil
}

// Reindex scans the workspace and (re)indexes every markdown file that
// changed since the last pass. Files that vanished are dropped from
// both providers. A file that fails to index is skipped and retried on
// the next pass.
func (ix *Indexer) Reindex(ctx context.Context) (files, chunks int, err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	list, err := ix.ws.Files()
	if err != nil {
		return 0, 0, fmt.Errorf("search: list workspace: %w", err)
	}

	current := make(map[string]bool, len(list))
	for _, f := range list {
		current[f.Path] = true
		if prev, ok := ix.seen[f.Path]; ok && prev.size == f.Size && prev.modTime.Equal(f.ModTime) {
			continue
		}
		n, indexErr := ix.indexFile(ctx, f)
		if indexErr != nil {
			ix.logger.Warn("indexing failed", "path", f.Path, "error", indexErr)
			continue
		}
		ix.seen[f.Path] = fileStamp{size: f.Size, modTime: f.ModTime}
		files++
		chunks += n
	}

	removed := 0
	for path := range ix.seen {
		if current[path] {
			continue
		}
		ix.removeFile(ctx, path)
		delete(ix.seen, path)
		removed++
	}

	if files > 0 || removed > 0 {
		ix.logger.Info("index updated", "files", files, "chunks", chunks, "removed", removed)
		if ix.bus != nil {
			ix.bus.Publish(bus.TopicIndexUpdated, bus.IndexUpdatedEvent{Files: files, Chunks: chunks})
		}
	}
	return files, chunks, nil
}

func (ix *Indexer) indexFile(ctx context.Context, f artifact.File) (int, error) {
	content, err := ix.ws.Read(f.Path)
	if err != nil {
		return 0, err
	}
	chunks := ChunkMarkdown(f.Path, content, f.ModTime)
	if ix.kw != nil {
		if err := ix.kw.IndexFile(ctx, f.Path, chunks); err != nil {
			return 0, err
		}
	}
	if ix.vec != nil {
		if err := ix.vec.IndexFile(ctx, f.Path, chunks); err != nil {
			return 0, err
		}
	}
	return len(chunks), nil
}

func (ix *Indexer) removeFile(ctx context.Context, path string) {
	if ix.kw != nil {
		if err := ix.kw.RemoveFile(ctx, path); err != nil {
			ix.logger.Warn("index removal failed", "path", path, "error", err)
		}
	}
	if ix.vec != nil {
		if err := ix.vec.RemoveFile(ctx, path); err != nil {
			ix.logger.Warn("index removal failed", "path", path, "error", err)
		}
	}
}
