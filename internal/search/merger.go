// Package search implements hybrid retrieval over the markdown memory
// workspace: a keyword index (SQLite FTS5), a vector index (chromem-go),
// and the score-fusion merger that blends both result sets with a
// recency decay. The merger itself is a pure function; the indexes are
// replaceable providers behind small interfaces.
package search

import (
	"math"
	"sort"
	"time"
)

// Source tags which provider produced a result.
type Source string

const (
	SourceVector  Source = "vector"
	SourceKeyword Source = "keyword"
	SourceHybrid  Source = "hybrid"
)

// HybridResult is one scored content chunk. Results are transient; they
// are never persisted.
type HybridResult struct {
	ID        string     `json:"id"`
	Path      string     `json:"path"`
	StartLine int        `json:"startLine"`
	EndLine   int        `json:"endLine"`
	Score     float64    `json:"score"`
	Snippet   string     `json:"snippet"`
	Source    Source     `json:"source"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Weights are the relative contributions of the three signals. They do
// not need to sum to 1; Merge normalizes them.
type Weights struct {
	Vector  float64
	Text    float64
	Recency float64
}

// DefaultWeights favors semantic similarity, with keyword precision and
// freshness as tiebreakers.
func DefaultWeights() Weights {
	return Weights{Vector: 0.5, Text: 0.3, Recency: 0.2}
}

// Merge fuses a vector result set and a keyword result set into one
// ranked list. Entries sharing an id are unioned: the keyword snippet
// wins (it is anchored to the matched terms) and the newest updatedAt
// wins. Each survivor is scored
//
//	score = normVector*vectorScore + normText*textScore + normRecency*decay(age)
//
// where the weights are normalized to sum to 1 and a missing updatedAt
// contributes the neutral decay 0.5. Output is sorted by score
// descending; tie order is not specified.
func Merge(vector, keyword []HybridResult, w Weights, now time.Time) []HybridResult {
	nv, nt, nr := normalizeWeights(w)

	type entry struct {
		res         HybridResult
		vectorScore float64
		textScore   float64
	}
	byID := make(map[string]*entry, len(vector)+len(keyword))
	order := make([]string, 0, len(vector)+len(keyword))

	for _, r := range vector {
		r.Source = SourceVector
		byID[r.ID] = &entry{res: r, vectorScore: r.Score}
		order = append(order, r.ID)
	}
	for _, r := range keyword {
		if e, ok := byID[r.ID]; ok {
			e.textScore = r.Score
			if r.Snippet != "" {
				e.res.Snippet = r.Snippet
			}
			if newer(r.UpdatedAt, e.res.UpdatedAt) {
				e.res.UpdatedAt = r.UpdatedAt
			}
			e.res.Source = SourceHybrid
			continue
		}
		r.Source = SourceKeyword
		byID[r.ID] = &entry{res: r, textScore: r.Score}
		order = append(order, r.ID)
	}

	out := make([]HybridResult, 0, len(order))
	for _, id := range order {
		e := byID[id]
		recency := 0.5
		if e.res.UpdatedAt != nil {
			recency = decay(now.Sub(*e.res.UpdatedAt))
		}
		e.res.Score = nv*e.vectorScore + nt*e.textScore + nr*recency
		out = append(out, e.res)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// normalizeWeights scales the weights to sum to 1. Negative components
// are treated as 0; an all-zero input falls back to DefaultWeights.
func normalizeWeights(w Weights) (v, t, r float64) {
	v = math.Max(0, w.Vector)
	t = math.Max(0, w.Text)
	r = math.Max(0, w.Recency)
	sum := v + t + r
	if sum == 0 {
		d := DefaultWeights()
		return d.Vector, d.Text, d.Recency
	}
	return v / sum, t / sum, r / sum
}

func newer(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	return b == nil || a.After(*b)
}

const day = 24 * time.Hour

// decay maps a record's age to a freshness multiplier in [0.1, 1.0].
// The first day is flat 1.0, then three linear ramps (0.85 at a week,
// 0.6 at a month, 0.3 at 90 days), then exponential decay with a
// 180-day half-life and a floor of 0.1.
func decay(age time.Duration) float64 {
	if age <= day {
		return 1.0
	}
	days := age.Hours() / 24
	switch {
	case days <= 7:
		return lerp(1.0, 0.85, (days-1)/6)
	case days <= 30:
		return lerp(0.85, 0.6, (days-7)/23)
	case days <= 90:
		return lerp(0.6, 0.3, (days-30)/60)
	default:
		v := 0.3 * math.Exp(-(days-90)*math.Ln2/180)
		return math.Max(v, 0.1)
	}
}

func lerp(from, to, t float64) float64 {
	return from + (to-from)*t
}

// RankToScore maps a BM25-style rank or distance (0 is best) onto
// (0, 1]. Non-finite input is clamped to rank 999 so malformed values
// sink to the bottom of the merge instead of poisoning it.
func RankToScore(rank float64) float64 {
	if math.IsNaN(rank) || math.IsInf(rank, 0) {
		rank = 999
	}
	return 1 / (1 + math.Max(0, rank))
}
