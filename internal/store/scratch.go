package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/basket/workmem/internal/shared"
)

const (
	scratchCap             = 20
	scratchOutputMax       = 2000
	scratchInjectionBudget = 4000
)

// scratchAllowedTools is the allow-list of data-producing tools whose
// results are worth keeping past compaction. Control-flow tools and
// anything mutating state are deliberately absent.
var scratchAllowedTools = map[string]bool{
	"web_search":     true,
	"web_fetch":      true,
	"fetch":          true,
	"http_request":   true,
	"read_file":      true,
	"list_directory": true,
	"grep":           true,
	"search_code":    true,
	"run_shell":      true,
	"exec":           true,
	"query_database": true,
	"sql_query":      true,
}

// ScratchEntry is one captured tool result.
type ScratchEntry struct {
	Tool      string    `json:"tool"`
	Context   string    `json:"context,omitempty"`
	Output    string    `json:"output"`
	Timestamp time.Time `json:"timestamp"`
}

// ScratchInput carries one tool result offered for capture.
type ScratchInput struct {
	Tool    string
	Context string
	Output  string
	IsError bool
}

type scratchDoc struct {
	Version     int            `json:"version"`
	Compactions int            `json:"compactions"`
	Entries     []ScratchEntry `json:"entries"`
}

// CaptureScratch appends a tool result to the session's scratch pad,
// oldest-first, dropping the oldest entry past twenty. Results from
// tools outside the allow-list, error results, and empty outputs are
// skipped; the returned bool reports whether anything was stored.
func (s *Store) CaptureScratch(sessionID string, in ScratchInput) (bool, error) {
	tool := strings.TrimSpace(in.Tool)
	output := strings.TrimSpace(in.Output)
	if tool == "" || output == "" || in.IsError || !scratchAllowedTools[tool] {
		return false, nil
	}

	path, rel, err := s.docPath(scratchDir, sessionID)
	if err != nil {
		return false, err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()

	var doc scratchDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return false, err
	}
	doc.Entries = append(doc.Entries, ScratchEntry{
		Tool:      tool,
		Context:   shared.Truncate(strings.TrimSpace(in.Context), 200),
		Output:    shared.Truncate(output, scratchOutputMax),
		Timestamp: s.now().UTC(),
	})
	if over := len(doc.Entries) - scratchCap; over > 0 {
		doc.Entries = doc.Entries[over:]
		s.countEvictions("scratch", over)
	}
	doc.Version = docVersion
	if err := s.saveDoc(path, &doc); err != nil {
		return false, err
	}
	return true, nil
}

// NoteCompaction records that the session's transcript was compacted,
// which unlocks scratch injection for the session.
func (s *Store) NoteCompaction(sessionID string) error {
	path, rel, err := s.docPath(scratchDir, sessionID)
	if err != nil {
		return err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()

	var doc scratchDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return err
	}
	doc.Compactions++
	doc.Version = docVersion
	return s.saveDoc(path, &doc)
}

// ListScratch returns the session's entries oldest-first.
func (s *Store) ListScratch(sessionID string) ([]ScratchEntry, error) {
	path, _, err := s.docPath(scratchDir, sessionID)
	if err != nil {
		return nil, err
	}
	var doc scratchDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

// DeleteScratch drops the session's scratch document.
func (s *Store) DeleteScratch(sessionID string) error {
	path, rel, err := s.docPath(scratchDir, sessionID)
	if err != nil {
		return err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()
	return removeIfPresent(path)
}

// ScratchInjection renders captured tool results in chronological order.
// It returns "" until the session has been compacted at least once:
// before that the same results are still present in the live transcript.
func (s *Store) ScratchInjection(sessionID string) (string, error) {
	path, _, err := s.docPath(scratchDir, sessionID)
	if err != nil {
		return "", err
	}
	var doc scratchDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return "", err
	}
	if doc.Compactions < 1 || len(doc.Entries) == 0 {
		return "", nil
	}

	now := s.now().UTC()
	b := newBlockBuilder("## Tool results from before compaction", scratchInjectionBudget)
	for _, e := range doc.Entries {
		line := fmt.Sprintf("- %s (%s): %s", e.Tool, ageString(now, e.Timestamp),
			shared.Truncate(collapseSpace(e.Output), 300))
		if e.Context != "" {
			line = fmt.Sprintf("- %s (%s, %s): %s", e.Tool, shared.Truncate(e.Context, 60),
				ageString(now, e.Timestamp), shared.Truncate(collapseSpace(e.Output), 300))
		}
		b.add(line)
	}
	return b.String(), nil
}

// collapseSpace flattens runs of whitespace so multi-line tool output
// stays on one injection line.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
