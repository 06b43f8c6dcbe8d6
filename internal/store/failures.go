package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/basket/workmem/internal/classify"
	"github.com/basket/workmem/internal/shared"
)

const (
	failureCap        = 100
	failureEvictBatch = 10

	// failurePrefixLen is how much of two normalized patterns must agree
	// for a new failure to merge into an existing record.
	failurePrefixLen = 50

	failureInjectionBudget = 2500
)

// ToolFailure is one deduplicated failure pattern for a tool. Identity
// is (toolName, category, pattern); repeats increment Count.
type ToolFailure struct {
	ToolName  string                   `json:"toolName"`
	Pattern   string                   `json:"pattern"`
	Category  classify.FailureCategory `json:"category"`
	Count     int                      `json:"count"`
	Lesson    string                   `json:"lesson,omitempty"`
	FirstSeen time.Time                `json:"firstSeen"`
	LastSeen  time.Time                `json:"lastSeen"`
}

// ToolFailureInput carries one classified, normalized failure.
type ToolFailureInput struct {
	ToolName string
	Category classify.FailureCategory
	Pattern  string
	Lesson   string
}

type failuresDoc struct {
	Version  int           `json:"version"`
	Failures []ToolFailure `json:"failures"`
}

// RecordFailure merges the failure into an existing record with the same
// tool and category whose pattern is identical or agrees on the first 50
// characters, incrementing its count and keeping the longer lesson.
// Otherwise it appends a new record, evicting the ten lowest-count,
// oldest-seen records first when the document is at capacity.
func (s *Store) RecordFailure(ownerID string, in ToolFailureInput) (ToolFailure, error) {
	tool := strings.TrimSpace(in.ToolName)
	pattern := strings.TrimSpace(in.Pattern)
	if tool == "" {
		return ToolFailure{}, fmt.Errorf("%w: tool name is required", ErrValidation)
	}
	if pattern == "" {
		return ToolFailure{}, fmt.Errorf("%w: failure pattern is required", ErrValidation)
	}
	if in.Category == "" {
		return ToolFailure{}, fmt.Errorf("%w: failure category is required", ErrValidation)
	}

	path, rel, err := s.docPath(failuresDir, ownerID)
	if err != nil {
		return ToolFailure{}, err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()

	var doc failuresDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return ToolFailure{}, err
	}

	now := s.now().UTC()
	prefix := shared.Prefix(pattern, failurePrefixLen)
	for i := range doc.Failures {
		f := &doc.Failures[i]
		if f.ToolName != tool || f.Category != in.Category {
			continue
		}
		if f.Pattern != pattern && shared.Prefix(f.Pattern, failurePrefixLen) != prefix {
			continue
		}
		f.Count++
		f.LastSeen = now
		if len(in.Lesson) > len(f.Lesson) {
			f.Lesson = in.Lesson
		}
		doc.Version = docVersion
		if err := s.saveDoc(path, &doc); err != nil {
			return ToolFailure{}, err
		}
		return *f, nil
	}

	if len(doc.Failures) >= failureCap {
		sort.SliceStable(doc.Failures, func(i, j int) bool {
			a, b := doc.Failures[i], doc.Failures[j]
			if a.Count != b.Count {
				return a.Count < b.Count
			}
			return a.LastSeen.Before(b.LastSeen)
		})
		drop := failureEvictBatch
		if drop > len(doc.Failures) {
			drop = len(doc.Failures)
		}
		doc.Failures = doc.Failures[drop:]
		s.countEvictions("tool-failures", drop)
	}

	f := ToolFailure{
		ToolName:  tool,
		Pattern:   shared.Truncate(pattern, 200),
		Category:  in.Category,
		Count:     1,
		Lesson:    in.Lesson,
		FirstSeen: now,
		LastSeen:  now,
	}
	doc.Failures = append(doc.Failures, f)
	doc.Version = docVersion
	if err := s.saveDoc(path, &doc); err != nil {
		return ToolFailure{}, err
	}
	return f, nil
}

// ListFailures returns the owner's failure records in stored order.
func (s *Store) ListFailures(ownerID string) ([]ToolFailure, error) {
	path, _, err := s.docPath(failuresDir, ownerID)
	if err != nil {
		return nil, err
	}
	var doc failuresDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return nil, err
	}
	return doc.Failures, nil
}

// ClearFailures drops the owner's failure document.
func (s *Store) ClearFailures(ownerID string) error {
	path, rel, err := s.docPath(failuresDir, ownerID)
	if err != nil {
		return err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()
	return removeIfPresent(path)
}

// FailuresInjection renders failure lessons grouped by tool name, most
// frequent first within each group.
func (s *Store) FailuresInjection(ownerID string) (string, error) {
	failures, err := s.ListFailures(ownerID)
	if err != nil {
		return "", err
	}
	if len(failures) == 0 {
		return "", nil
	}

	groups := make(map[string][]ToolFailure)
	for _, f := range failures {
		groups[f.ToolName] = append(groups[f.ToolName], f)
	}
	tools := make([]string, 0, len(groups))
	for tool := range groups {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	now := s.now().UTC()
	b := newBlockBuilder("## Tool failure lessons", failureInjectionBudget)
	for _, tool := range tools {
		entries := groups[tool]
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].Count != entries[j].Count {
				return entries[i].Count > entries[j].Count
			}
			return entries[i].LastSeen.After(entries[j].LastSeen)
		})
		header := tool + ":"
		first := failureLine(entries[0], now)
		if !b.fits(len(header) + len(first) + 2) {
			break
		}
		b.add(header)
		for _, f := range entries {
			if !b.add(failureLine(f, now)) {
				break
			}
		}
	}
	return b.String(), nil
}

func failureLine(f ToolFailure, now time.Time) string {
	text := f.Lesson
	if text == "" {
		text = f.Pattern
	}
	return fmt.Sprintf("- [%s] %s (seen %dx, last %s)",
		f.Category, shared.Truncate(text, 140), f.Count, ageString(now, f.LastSeen))
}
