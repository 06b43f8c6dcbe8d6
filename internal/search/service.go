package search

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/workmem/internal/artifact"
	"github.com/basket/workmem/internal/classify"
	"github.com/basket/workmem/internal/otel"
	"github.com/basket/workmem/internal/shared"
)

// KeywordSearcher is the keyword half of the hybrid pair.
type KeywordSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]HybridResult, error)
}

// VectorSearcher is the similarity half of the hybrid pair.
type VectorSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]HybridResult, error)
}

const (
	defaultCacheTTL = 5 * time.Minute
	cacheMaxEntries = 1024
	overfetchFactor = 2
)

// Config holds the dependencies for a Service.
type Config struct {
	Keyword  KeywordSearcher     // optional
	Vector   VectorSearcher      // optional
	Fallback *artifact.Workspace // optional degraded substring scan
	Weights  Weights             // zero value selects DefaultWeights
	Logger   *slog.Logger        // defaults to slog.Default()
	Metrics  *otel.Metrics       // optional duration and cache counters
	Clock    func() time.Time    // defaults to time.Now
	CacheTTL time.Duration       // defaults to 5m
}

// Service answers recall queries: it fans out to both providers, fuses
// the result sets, applies the recall-depth budget, and caches recent
// answers.
type Service struct {
	keyword  KeywordSearcher
	vector   VectorSearcher
	fallback *artifact.Workspace
	weights  Weights
	logger   *slog.Logger
	metrics  *otel.Metrics
	now      func() time.Time
	ttl      time.Duration
	cache    *ristretto.Cache
}

// NewService creates a Service.
func NewService(cfg Config) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	weights := cfg.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheMaxEntries * 10,
		MaxCost:     cacheMaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("search: create cache: %w", err)
	}
	return &Service{
		keyword:  cfg.Keyword,
		vector:   cfg.Vector,
		fallback: cfg.Fallback,
		weights:  weights,
		logger:   logger.With("component", "search"),
		metrics:  cfg.Metrics,
		now:      now,
		ttl:      ttl,
		cache:    cache,
	}, nil
}

// Close releases the result cache.
func (s *Service) Close() {
	s.cache.Close()
}

// Query runs a hybrid search bounded by the recall depth. Provider
// failures degrade the answer instead of failing it: with one provider
// down the other still serves, and with both down the workspace
// substring scan stands in. Query returns an error only when every
// source is unavailable.
func (s *Service) Query(ctx context.Context, query string, depth classify.RecallDepth) ([]HybridResult, error) {
	params := classify.ParamsFor(depth)
	if params.MaxResults == 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	key := string(depth) + "|" + query
	if cached, ok := s.cache.Get(key); ok {
		if results, ok := cached.([]HybridResult); ok {
			if s.metrics != nil {
				s.metrics.SearchCacheHits.Add(ctx, 1)
			}
			return slices.Clone(results), nil
		}
	}

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SearchDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(otel.AttrRecallDepth.String(string(depth))))
		}
	}()

	fetch := params.MaxResults * overfetchFactor

	var vecHits, kwHits []HybridResult
	var vecErr, kwErr error
	if s.vector != nil {
		vecHits, vecErr = s.vector.Search(ctx, query, fetch)
		if vecErr != nil {
			s.logger.Warn("vector search failed", "error", vecErr)
		}
	}
	if s.keyword != nil {
		kwHits, kwErr = s.keyword.Search(ctx, query, fetch)
		if kwErr != nil {
			s.logger.Warn("keyword search failed", "error", kwErr)
		}
	}

	vectorDown := s.vector == nil || vecErr != nil
	keywordDown := s.keyword == nil || kwErr != nil
	if vectorDown && keywordDown {
		return s.degraded(query, params)
	}

	merged := Merge(vecHits, kwHits, s.weights, s.now())
	results := applyBudget(merged, params)
	s.cache.SetWithTTL(key, slices.Clone(results), int64(len(results))+1, s.ttl)
	return results, nil
}

// degraded serves a keyword-only answer from the workspace scan. These
// answers are never cached so the indexes are retried on the next call.
func (s *Service) degraded(query string, params classify.RecallParams) ([]HybridResult, error) {
	if s.fallback == nil {
		return nil, fmt.Errorf("search: no provider available")
	}
	s.logger.Warn("both search providers down, scanning workspace")

	hits, err := s.fallback.Search(query)
	if err != nil {
		return nil, fmt.Errorf("search: fallback scan: %w", err)
	}
	results := make([]HybridResult, 0, len(hits))
	for i, h := range hits {
		results = append(results, HybridResult{
			ID:        fmt.Sprintf("%s:%d", h.Path, h.Line),
			Path:      h.Path,
			StartLine: h.Line,
			EndLine:   h.Line,
			Score:     RankToScore(float64(i)),
			Snippet:   h.Text,
			Source:    SourceKeyword,
		})
	}
	return applyBudget(results, params), nil
}

// applyBudget enforces the depth's result, score, and character bounds
// over a score-sorted list.
func applyBudget(results []HybridResult, params classify.RecallParams) []HybridResult {
	out := make([]HybridResult, 0, params.MaxResults)
	chars := 0
	for _, r := range results {
		if len(out) >= params.MaxResults {
			break
		}
		if r.Score < params.MinScore {
			continue
		}
		if params.MaxChars > 0 && chars+len(r.Snippet) > params.MaxChars {
			if len(out) > 0 {
				break
			}
			r.Snippet = shared.Truncate(r.Snippet, params.MaxChars)
		}
		chars += len(r.Snippet)
		out = append(out, r)
	}
	return out
}
