package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/basket/workmem/internal/classify"
	"github.com/basket/workmem/internal/search"
)

// Recall answers a free-text memory query, sizing the search to the
// question: greetings skip retrieval entirely while explicit memory
// language gets the deep budget.
func (e *Engine) Recall(ctx context.Context, query string) ([]search.HybridResult, error) {
	if e.search == nil {
		return nil, nil
	}
	return e.search.Query(ctx, query, classify.ClassifyRecallDepth(query))
}

// Inject assembles the next turn's context for a message. The context
// classifier picks which owner stores are worth injecting; the
// session-bound blocks ride along because their stores already gate
// themselves. A failed builder drops its block, never the injection.
func (e *Engine) Inject(ctx context.Context, ownerID, sessionID, message string) string {
	tags := classify.ClassifyContext(message)

	builders := []struct {
		name string
		on   bool
		fn   func() (string, error)
	}{
		{"corrections", ownerID != "" && classify.HasTag(tags, classify.TagCorrections),
			func() (string, error) { return e.st.CorrectionsInjection(ownerID) }},
		{"failures", ownerID != "" && (classify.HasTag(tags, classify.TagToolFailures) || classify.HasTag(tags, classify.TagTools)),
			func() (string, error) { return e.st.FailuresInjection(ownerID) }},
		{"tasks", ownerID != "" && (classify.HasTag(tags, classify.TagTasks) || classify.HasTag(tags, classify.TagScheduling)),
			func() (string, error) { return e.st.TasksInjection(ownerID) }},
		{"memory", e.search != nil && wantsMemory(tags),
			func() (string, error) { return e.recallBlock(ctx, message) }},
		{"scratch", sessionID != "",
			func() (string, error) { return e.st.ScratchInjection(sessionID) }},
		{"plan", sessionID != "",
			func() (string, error) { return e.st.PlanInjection(sessionID) }},
	}

	var parts []string
	for _, b := range builders {
		if !b.on {
			continue
		}
		text, err := b.fn()
		if err != nil {
			e.logger.Warn("injection builder failed", "block", b.name, "owner", ownerID, "error", err)
			continue
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	out := strings.Join(parts, "\n\n")
	if e.metrics != nil {
		e.metrics.InjectionChars.Record(ctx, int64(len(out)))
	}
	return out
}

func wantsMemory(tags []classify.Tag) bool {
	return classify.HasTag(tags, classify.TagMemory) ||
		classify.HasTag(tags, classify.TagEpisodes) ||
		classify.HasTag(tags, classify.TagProcedures)
}

// recallBlock renders hybrid search hits for the message as one markdown
// block, one line per hit.
func (e *Engine) recallBlock(ctx context.Context, message string) (string, error) {
	results, err := e.Recall(ctx, message)
	if err != nil || len(results) == 0 {
		return "", err
	}
	var b strings.Builder
	b.WriteString("## Relevant memory")
	for _, r := range results {
		fmt.Fprintf(&b, "\n- %s:%d %s", r.Path, r.StartLine,
			strings.Join(strings.Fields(r.Snippet), " "))
	}
	return b.String(), nil
}
