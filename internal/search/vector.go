package search

import (
	"context"
	"fmt"
	"strconv"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/basket/workmem/internal/shared"
)

const vectorCollection = "artifacts"

// VectorIndex is the chromem-backed similarity provider. Every document
// carries an embedding computed by the configured Embedder, so chromem
// never calls out to an embedding API.
type VectorIndex struct {
	col   *chromem.Collection
	embed Embedder
}

// OpenVectorIndex opens the persistent collection under dir. An empty
// dir keeps the index in memory, which tests use. A nil embedder
// selects the offline HashEmbedder.
func OpenVectorIndex(dir string, embed Embedder) (*VectorIndex, error) {
	if embed == nil {
		embed = NewHashEmbedder(0)
	}

	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("search: open vector db: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(vectorCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search: open vector collection: %w", err)
	}
	return &VectorIndex{col: col, embed: embed}, nil
}

// IndexFile replaces every document stored for path with the given
// chunks.
func (v *VectorIndex) IndexFile(ctx context.Context, path string, chunks []Chunk) error {
	if err := v.col.Delete(ctx, map[string]string{"path": path}, nil); err != nil {
		return fmt.Errorf("search: drop vector chunks for %s: %w", path, err)
	}
	for _, c := range chunks {
		emb, err := v.embed.Embed(ctx, c.Content)
		if err != nil {
			return fmt.Errorf("search: embed chunk %s: %w", c.ID, err)
		}
		doc := chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Embedding: emb,
			Metadata: map[string]string{
				"path":       c.Path,
				"start_line": strconv.Itoa(c.StartLine),
				"end_line":   strconv.Itoa(c.EndLine),
				"updated_at": c.UpdatedAt.UTC().Format(time.RFC3339),
			},
		}
		if err := v.col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("search: add vector chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// RemoveFile drops every document stored for path.
func (v *VectorIndex) RemoveFile(ctx context.Context, path string) error {
	if err := v.col.Delete(ctx, map[string]string{"path": path}, nil); err != nil {
		return fmt.Errorf("search: remove vector chunks for %s: %w", path, err)
	}
	return nil
}

// Search embeds the query and returns the nearest chunks with their
// cosine similarity as the score.
func (v *VectorIndex) Search(ctx context.Context, query string, limit int) ([]HybridResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	n := v.col.Count()
	if n == 0 {
		return nil, nil
	}
	// chromem rejects nResults larger than the collection.
	if limit > n {
		limit = n
	}

	emb, err := v.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	results, err := v.col.QueryEmbedding(ctx, emb, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search: vector query: %w", err)
	}

	out := make([]HybridResult, 0, len(results))
	for _, res := range results {
		r := HybridResult{
			ID:      res.ID,
			Path:    res.Metadata["path"],
			Score:   float64(res.Similarity),
			Snippet: shared.Truncate(res.Content, 200),
			Source:  SourceVector,
		}
		if line, convErr := strconv.Atoi(res.Metadata["start_line"]); convErr == nil {
			r.StartLine = line
		}
		if line, convErr := strconv.Atoi(res.Metadata["end_line"]); convErr == nil {
			r.EndLine = line
		}
		if ts, parseErr := time.Parse(time.RFC3339, res.Metadata["updated_at"]); parseErr == nil {
			r.UpdatedAt = &ts
		}
		out = append(out, r)
	}
	return out, nil
}
