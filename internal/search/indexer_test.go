package search

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/workmem/internal/artifact"
	"github.com/basket/workmem/internal/bus"
)

var indexDay = time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)

func TestChunkMarkdown_SplitsDailyEntries(t *testing.T) {
	content := "# Episodes 2026-08-21\n" +
		"\n" +
		"## 09:30:00 (ok, 1m30s)\n" +
		"Request: fix the deploy pipeline\n" +
		"\n" +
		"---\n" +
		"\n" +
		"## 10:15:00 (ok, 10s)\n" +
		"Request: rotate the access logs\n"

	chunks := ChunkMarkdown("episodes/2026-08-21.md", content, indexDay)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %+v", len(chunks), chunks)
	}

	header := chunks[0]
	if header.ID != "episodes/2026-08-21.md:1" || header.StartLine != 1 || header.EndLine != 1 {
		t.Fatalf("unexpected header chunk: %+v", header)
	}

	first := chunks[1]
	if first.ID != "episodes/2026-08-21.md:3" {
		t.Fatalf("unexpected first entry id %q", first.ID)
	}
	if first.StartLine != 3 || first.EndLine != 4 {
		t.Fatalf("unexpected first entry lines %d-%d", first.StartLine, first.EndLine)
	}
	want := "## 09:30:00 (ok, 1m30s)\nRequest: fix the deploy pipeline"
	if first.Content != want {
		t.Fatalf("unexpected first entry content %q", first.Content)
	}

	second := chunks[2]
	if second.StartLine != 8 || second.EndLine != 9 {
		t.Fatalf("unexpected second entry lines %d-%d", second.StartLine, second.EndLine)
	}

	for _, c := range chunks {
		if strings.Contains(c.Content, "---") {
			t.Fatalf("separator rule leaked into chunk %q", c.ID)
		}
		if !c.UpdatedAt.Equal(indexDay) {
			t.Fatalf("chunk %q lost its timestamp", c.ID)
		}
	}
}

func TestChunkMarkdown_WholeFileWithoutEntryHeadings(t *testing.T) {
	content := "# Preferences\n\nAlways write Go with tabs.\nPrefer table tests.\n"

	chunks := ChunkMarkdown("prefs.md", content, indexDay)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.ID != "prefs.md:1" || c.StartLine != 1 || c.EndLine != 4 {
		t.Fatalf("unexpected chunk bounds: %+v", c)
	}
	if !strings.Contains(c.Content, "Prefer table tests.") {
		t.Fatalf("chunk dropped body text: %q", c.Content)
	}
}

func TestChunkMarkdown_SkipsTinyAndSeparatorOnlyContent(t *testing.T) {
	if got := ChunkMarkdown("a.md", "x\n\n---\n", indexDay); len(got) != 0 {
		t.Fatalf("tiny content produced chunks: %+v", got)
	}
	if got := ChunkMarkdown("b.md", "---\n\n---\n", indexDay); len(got) != 0 {
		t.Fatalf("separator-only content produced chunks: %+v", got)
	}
	if got := ChunkMarkdown("c.md", "", indexDay); len(got) != 0 {
		t.Fatalf("empty content produced chunks: %+v", got)
	}
}

func TestChunkMarkdown_TruncatesOversizedChunks(t *testing.T) {
	content := strings.Repeat("w ", 2000)

	chunks := ChunkMarkdown("big.md", content, indexDay)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if len(chunks[0].Content) != chunkMaxChars {
		t.Fatalf("expected content capped at %d chars, got %d", chunkMaxChars, len(chunks[0].Content))
	}
	if !strings.HasSuffix(chunks[0].Content, "...") {
		t.Fatal("truncated chunk missing ellipsis")
	}
}

func newTestIndexer(t *testing.T) (*Indexer, *artifact.Workspace, *KeywordIndex, *VectorIndex, *bus.Subscription) {
	t.Helper()
	ws, err := artifact.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	kw := openTestKeywordIndex(t)
	vec := newTestVectorIndex(t)
	b := bus.New()
	sub := b.Subscribe(bus.TopicIndexUpdated)

	ix, err := NewIndexer(IndexerConfig{
		Workspace: ws,
		Keyword:   kw,
		Vector:    vec,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Bus:       b,
	})
	if err != nil {
		t.Fatalf("NewIndexer: %v", err)
	}
	return ix, ws, kw, vec, sub
}

// drainIndexEvent returns the next index event, failing the test when
// none arrives promptly.
func drainIndexEvent(t *testing.T, sub *bus.Subscription) bus.IndexUpdatedEvent {
	t.Helper()
	select {
	case ev := <-sub.Ch():
		payload, ok := ev.Payload.(bus.IndexUpdatedEvent)
		if !ok {
			t.Fatalf("unexpected payload type %T", ev.Payload)
		}
		return payload
	case <-time.After(time.Second):
		t.Fatal("no index event published")
		return bus.IndexUpdatedEvent{}
	}
}

func TestNewIndexer_RequiresWorkspace(t *testing.T) {
	if _, err := NewIndexer(IndexerConfig{}); err == nil {
		t.Fatal("expected error for missing workspace")
	}
}

func TestIndexer_ReindexFeedsBothProviders(t *testing.T) {
	ctx := context.Background()
	ix, ws, kw, vec, sub := newTestIndexer(t)

	if _, err := ws.AppendDaily(artifact.DirEpisodes, indexDay, "# Episodes 2026-08-21",
		"## 09:30:00 (ok, 1m30s)\nRequest: fix the nginx deploy pipeline"); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}
	if _, err := ws.AppendDaily(artifact.DirEpisodes, indexDay, "# Episodes 2026-08-21",
		"## 10:15:00 (ok, 10s)\nRequest: rotate the access logs"); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}
	if _, err := ws.WriteBatch(artifact.DirFacts, "2026-08-21-compaction",
		"# Compaction facts\n\n- Database is postgres 16 on the staging host.\n"); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	files, chunks, err := ix.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if files != 2 {
		t.Fatalf("expected 2 files indexed, got %d", files)
	}
	if chunks != 4 {
		t.Fatalf("expected 4 chunks indexed, got %d", chunks)
	}

	ev := drainIndexEvent(t, sub)
	if ev.Files != 2 || ev.Chunks != 4 {
		t.Fatalf("unexpected event payload: %+v", ev)
	}

	kwHits, err := kw.Search(ctx, "deploy pipeline", 10)
	if err != nil {
		t.Fatalf("keyword Search: %v", err)
	}
	if len(kwHits) != 1 || kwHits[0].ID != "episodes/2026-08-21.md:3" {
		t.Fatalf("unexpected keyword hits: %+v", kwHits)
	}

	vecHits, err := vec.Search(ctx, "fix the nginx deploy pipeline", 5)
	if err != nil {
		t.Fatalf("vector Search: %v", err)
	}
	if len(vecHits) == 0 {
		t.Fatal("expected vector hits")
	}
	if vecHits[0].Path != "episodes/2026-08-21.md" {
		t.Fatalf("unexpected top vector hit: %+v", vecHits[0])
	}
}

func TestIndexer_SecondPassSkipsUnchangedFiles(t *testing.T) {
	ctx := context.Background()
	ix, ws, _, _, sub := newTestIndexer(t)

	if _, err := ws.AppendDaily(artifact.DirEpisodes, indexDay, "# Episodes 2026-08-21",
		"## 09:30:00 (ok, 1m30s)\nRequest: fix the deploy pipeline"); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}
	if _, _, err := ix.Reindex(ctx); err != nil {
		t.Fatalf("first Reindex: %v", err)
	}
	drainIndexEvent(t, sub)

	files, chunks, err := ix.Reindex(ctx)
	if err != nil {
		t.Fatalf("second Reindex: %v", err)
	}
	if files != 0 || chunks != 0 {
		t.Fatalf("unchanged pass reindexed %d files, %d chunks", files, chunks)
	}
	select {
	case ev := <-sub.Ch():
		t.Fatalf("unexpected event after unchanged pass: %+v", ev)
	default:
	}
}

func TestIndexer_PicksUpAppendedEntries(t *testing.T) {
	ctx := context.Background()
	ix, ws, kw, _, _ := newTestIndexer(t)

	if _, err := ws.AppendDaily(artifact.DirEpisodes, indexDay, "# Episodes 2026-08-21",
		"## 09:30:00 (ok, 1m30s)\nRequest: fix the deploy pipeline"); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}
	if _, _, err := ix.Reindex(ctx); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	if _, err := ws.AppendDaily(artifact.DirEpisodes, indexDay, "# Episodes 2026-08-21",
		"## 11:00:00 (error, 2s)\nRequest: renew the tls certificates"); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}
	files, _, err := ix.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex after append: %v", err)
	}
	if files != 1 {
		t.Fatalf("expected grown file to reindex, got %d files", files)
	}

	hits, err := kw.Search(ctx, "tls certificates", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected appended entry to be searchable, got %+v", hits)
	}
}

func TestIndexer_RemovesVanishedFiles(t *testing.T) {
	ctx := context.Background()
	ix, ws, kw, vec, sub := newTestIndexer(t)

	rel, err := ws.AppendDaily(artifact.DirEpisodes, indexDay, "# Episodes 2026-08-21",
		"## 09:30:00 (ok, 1m30s)\nRequest: fix the deploy pipeline")
	if err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}
	if _, _, err := ix.Reindex(ctx); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	drainIndexEvent(t, sub)

	if err := os.Remove(filepath.Join(ws.Root(), rel)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	files, _, err := ix.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex after remove: %v", err)
	}
	if files != 0 {
		t.Fatalf("expected no files indexed, got %d", files)
	}
	drainIndexEvent(t, sub)

	kwHits, err := kw.Search(ctx, "deploy pipeline", 10)
	if err != nil {
		t.Fatalf("keyword Search: %v", err)
	}
	if len(kwHits) != 0 {
		t.Fatalf("keyword index kept vanished file: %+v", kwHits)
	}
	vecHits, err := vec.Search(ctx, "deploy pipeline", 10)
	if err != nil {
		t.Fatalf("vector Search: %v", err)
	}
	if len(vecHits) != 0 {
		t.Fatalf("vector index kept vanished file: %+v", vecHits)
	}
}
