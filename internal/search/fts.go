package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	_ "github.com/mattn/go-sqlite3"
)

const keywordSchemaVersion = 1

// KeywordIndex is the FTS5-backed keyword provider over workspace
// chunks. It is derived data: a schema version mismatch drops the index
// for a rebuild instead of migrating.
type KeywordIndex struct {
	db *sql.DB
}

// OpenKeywordIndex opens or creates the index database at path.
func OpenKeywordIndex(path string) (*KeywordIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("search: create index directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("search: open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	k := &KeywordIndex{db: db}
	if err := k.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := k.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return k, nil
}

func (k *KeywordIndex) Close() error {
	return k.db.Close()
}

func (k *KeywordIndex) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, q := range pragma {
		if _, err := k.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("search: set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (k *KeywordIndex) initSchema(ctx context.Context) error {
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("search: begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS index_meta (
			version INTEGER NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("search: create index_meta: %w", err)
	}

	var version int
	err = tx.QueryRowContext(ctx, `SELECT version FROM index_meta LIMIT 1;`).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("search: read index version: %w", err)
	}

	if version != keywordSchemaVersion {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS chunks;`); err != nil {
			return fmt.Errorf("search: drop stale chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM index_meta;`); err != nil {
			return fmt.Errorf("search: reset index_meta: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO index_meta (version) VALUES (?);`, keywordSchemaVersion); err != nil {
			return fmt.Errorf("search: write index version: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks USING fts5(
			chunk_id UNINDEXED,
			path UNINDEXED,
			start_line UNINDEXED,
			end_line UNINDEXED,
			updated_at UNINDEXED,
			content,
			tokenize = 'porter unicode61'
		);
	`); err != nil {
		return fmt.Errorf("search: create chunks table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("search: commit schema tx: %w", err)
	}
	return nil
}

// IndexFile replaces every chunk stored for path with the given set.
func (k *KeywordIndex) IndexFile(ctx context.Context, path string, chunks []Chunk) error {
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("search: begin index tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?;`, path); err != nil {
		return fmt.Errorf("search: drop chunks for %s: %w", path, err)
	}
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (chunk_id, path, start_line, end_line, updated_at, content)
			VALUES (?, ?, ?, ?, ?, ?);
		`, c.ID, c.Path, c.StartLine, c.EndLine, c.UpdatedAt.UTC().Format(time.RFC3339), c.Content); err != nil {
			return fmt.Errorf("search: insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("search: commit index tx: %w", err)
	}
	return nil
}

// RemoveFile drops every chunk stored for path.
func (k *KeywordIndex) RemoveFile(ctx context.Context, path string) error {
	if _, err := k.db.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?;`, path); err != nil {
		return fmt.Errorf("search: remove chunks for %s: %w", path, err)
	}
	return nil
}

// Search runs a sanitized FTS5 match and scores hits by their BM25 rank
// position. An empty or all-punctuation query returns no hits.
func (k *KeywordIndex) Search(ctx context.Context, query string, limit int) ([]HybridResult, error) {
	match := SanitizeQuery(query)
	if match == "" || limit <= 0 {
		return nil, nil
	}

	rows, err := k.db.QueryContext(ctx, `
		SELECT chunk_id, path, start_line, end_line, updated_at,
		       snippet(chunks, 5, '', '', '…', 16)
		FROM chunks
		WHERE chunks MATCH ?
		ORDER BY rank
		LIMIT ?;
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("search: keyword query: %w", err)
	}
	defer rows.Close()

	var out []HybridResult
	for i := 0; rows.Next(); i++ {
		var r HybridResult
		var updated string
		if err := rows.Scan(&r.ID, &r.Path, &r.StartLine, &r.EndLine, &updated, &r.Snippet); err != nil {
			return nil, fmt.Errorf("search: scan keyword hit: %w", err)
		}
		if ts, parseErr := time.Parse(time.RFC3339, updated); parseErr == nil {
			r.UpdatedAt = &ts
		}
		r.Score = RankToScore(float64(i))
		r.Source = SourceKeyword
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search: keyword rows: %w", err)
	}
	return out, nil
}

// SanitizeQuery converts free text into an FTS5 MATCH expression by
// quoting every term, which neutralizes MATCH operators (AND, OR, NEAR,
// *, -) so arbitrary input cannot produce a syntax error. Terms with no
// letters or digits are dropped; an empty result means no hits.
func SanitizeQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if !strings.ContainsFunc(f, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		}) {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}
