package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/workmem/internal/classify"
	"github.com/basket/workmem/internal/shared"
)

const (
	// correctionCap is the hard size of one owner's correction document.
	// Overflow keeps frequently-accessed entries ahead of stale ones.
	correctionCap = 500

	// correctionMinOverlap is the number of distinct query keywords that
	// must appear in an entry before it counts as a search match.
	correctionMinOverlap = 2

	correctionSearchLimit     = 5
	correctionInjectionBudget = 3000
)

// Correction is one stored user correction.
type Correction struct {
	ID             string                      `json:"id"`
	Timestamp      time.Time                   `json:"timestamp"`
	Context        string                      `json:"context,omitempty"`
	AgentSaid      string                      `json:"agentSaid,omitempty"`
	CorrectionText string                      `json:"correctionText"`
	Rule           string                      `json:"rule,omitempty"`
	Category       classify.CorrectionCategory `json:"category"`
	Confidence     float64                     `json:"confidence"`
	AccessCount    int                         `json:"accessCount"`
	LastAccessed   *time.Time                  `json:"lastAccessed,omitempty"`
}

// CorrectionInput carries the fields recorded when a correction is
// detected. Context and AgentSaid are optional surrounding messages.
type CorrectionInput struct {
	Context        string
	AgentSaid      string
	CorrectionText string
	Rule           string
	Category       classify.CorrectionCategory
	Confidence     float64
}

type correctionsDoc struct {
	Version     int          `json:"version"`
	Corrections []Correction `json:"corrections"`
}

// AddCorrection inserts a correction at the head of the owner's document
// (most-recent-first). Past the cap the document is re-ranked by
// (accessCount desc, timestamp desc) and truncated.
func (s *Store) AddCorrection(ownerID string, in CorrectionInput) (Correction, error) {
	text := strings.TrimSpace(in.CorrectionText)
	if text == "" {
		return Correction{}, fmt.Errorf("%w: correction text is required", ErrValidation)
	}
	if in.Category == "" {
		return Correction{}, fmt.Errorf("%w: correction category is required", ErrValidation)
	}
	conf := in.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	path, rel, err := s.docPath(correctionsDir, ownerID)
	if err != nil {
		return Correction{}, err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()

	var doc correctionsDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return Correction{}, err
	}

	c := Correction{
		ID:             uuid.NewString(),
		Timestamp:      s.now().UTC(),
		Context:        shared.Truncate(strings.TrimSpace(in.Context), 500),
		AgentSaid:      shared.Truncate(strings.TrimSpace(in.AgentSaid), 500),
		CorrectionText: shared.Truncate(text, 1000),
		Rule:           in.Rule,
		Category:       in.Category,
		Confidence:     conf,
	}
	doc.Corrections = append([]Correction{c}, doc.Corrections...)

	if evicted := len(doc.Corrections) - correctionCap; evicted > 0 {
		sort.SliceStable(doc.Corrections, func(i, j int) bool {
			a, b := doc.Corrections[i], doc.Corrections[j]
			if a.AccessCount != b.AccessCount {
				return a.AccessCount > b.AccessCount
			}
			return a.Timestamp.After(b.Timestamp)
		})
		doc.Corrections = doc.Corrections[:correctionCap]
		s.countEvictions("corrections", evicted)
	}

	doc.Version = docVersion
	if err := s.saveDoc(path, &doc); err != nil {
		return Correction{}, err
	}
	return c, nil
}

// ListCorrections returns the owner's corrections in stored order.
func (s *Store) ListCorrections(ownerID string) ([]Correction, error) {
	path, _, err := s.docPath(correctionsDir, ownerID)
	if err != nil {
		return nil, err
	}
	var doc correctionsDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return nil, err
	}
	return doc.Corrections, nil
}

// DeleteCorrection removes one correction by id.
func (s *Store) DeleteCorrection(ownerID, id string) error {
	path, rel, err := s.docPath(correctionsDir, ownerID)
	if err != nil {
		return err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()

	var doc correctionsDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return err
	}
	for i, c := range doc.Corrections {
		if c.ID == id {
			doc.Corrections = append(doc.Corrections[:i], doc.Corrections[i+1:]...)
			doc.Version = docVersion
			return s.saveDoc(path, &doc)
		}
	}
	return fmt.Errorf("%w: correction %s", ErrNotFound, id)
}

// SearchCorrections matches query keywords against stored corrections.
// An entry matches when at least two distinct query keywords appear in
// its text; results are ranked by overlap count, then access count, then
// recency, capped at five. Served matches get their accessCount bumped
// and lastAccessed set, which in turn protects them from eviction.
func (s *Store) SearchCorrections(ownerID, query string) ([]Correction, error) {
	keywords := searchKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	path, rel, err := s.docPath(correctionsDir, ownerID)
	if err != nil {
		return nil, err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()

	var doc correctionsDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return nil, err
	}

	type scored struct {
		idx     int
		overlap int
	}
	var matches []scored
	for i, c := range doc.Corrections {
		words := tokenSet(c.CorrectionText + " " + c.Context + " " + c.AgentSaid)
		overlap := 0
		for _, kw := range keywords {
			if _, ok := words[kw]; ok {
				overlap++
			}
		}
		if overlap >= correctionMinOverlap {
			matches = append(matches, scored{idx: i, overlap: overlap})
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := doc.Corrections[matches[i].idx], doc.Corrections[matches[j].idx]
		if matches[i].overlap != matches[j].overlap {
			return matches[i].overlap > matches[j].overlap
		}
		if a.AccessCount != b.AccessCount {
			return a.AccessCount > b.AccessCount
		}
		return a.Timestamp.After(b.Timestamp)
	})
	if len(matches) > correctionSearchLimit {
		matches = matches[:correctionSearchLimit]
	}

	now := s.now().UTC()
	out := make([]Correction, 0, len(matches))
	for _, m := range matches {
		doc.Corrections[m.idx].AccessCount++
		at := now
		doc.Corrections[m.idx].LastAccessed = &at
		out = append(out, doc.Corrections[m.idx])
	}

	doc.Version = docVersion
	if err := s.saveDoc(path, &doc); err != nil {
		return nil, err
	}
	return out, nil
}

// CorrectionsInjection renders the owner's corrections as a markdown
// block, or "" when there are none.
func (s *Store) CorrectionsInjection(ownerID string) (string, error) {
	corrections, err := s.ListCorrections(ownerID)
	if err != nil {
		return "", err
	}
	if len(corrections) == 0 {
		return "", nil
	}
	now := s.now().UTC()
	b := newBlockBuilder("## Corrections to remember", correctionInjectionBudget)
	for _, c := range corrections {
		b.addf("- [%s] %s (%s)", c.Category,
			shared.Truncate(strings.TrimSpace(c.CorrectionText), 160),
			ageString(now, c.Timestamp))
	}
	return b.String(), nil
}

// searchKeywords lowercases and tokenizes a query, dropping tokens
// shorter than three characters.
func searchKeywords(query string) []string {
	set := tokenSet(query)
	out := make([]string, 0, len(set))
	for tok := range set {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// tokenSet splits text into a set of lowercased word tokens of three or
// more characters.
func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	for _, f := range fields {
		if len(f) >= 3 {
			set[f] = struct{}{}
		}
	}
	return set
}
