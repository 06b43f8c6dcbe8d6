package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/basket/workmem/internal/artifact"
	"github.com/basket/workmem/internal/bus"
	"github.com/basket/workmem/internal/shared"
	"github.com/basket/workmem/internal/transcript"
)

// FactCategory labels one extracted fact.
type FactCategory string

const (
	FactDecision     FactCategory = "decision"
	FactTask         FactCategory = "task"
	FactCorrection   FactCategory = "correction"
	FactPreference   FactCategory = "preference"
	FactGeneral      FactCategory = "fact"
	FactURL          FactCategory = "url"
	FactErrorPattern FactCategory = "error_pattern"
)

// ExtractedFact is one normalized match from a compaction batch.
type ExtractedFact struct {
	Category FactCategory
	Content  string
	Role     transcript.Role
	Position float64 // 0..1 through the batch
}

// factRule is one phrasing pattern for a category. group selects the
// regex capture used as content; 0 takes the whole match.
type factRule struct {
	category FactCategory
	re       *regexp.Regexp
	group    int
}

// factRules are evaluated in order against every message. A message may
// contribute facts in several categories.
var factRules = []factRule{
	{FactDecision, regexp.MustCompile(`(?i)\b(?:we|i|let'?s|the team)\s+(?:decided|agreed|chose|settled on|opted for|went with|are going with)\s*(?:on|to|that)?\s+([^\n]{4,200})`), 1},
	{FactDecision, regexp.MustCompile(`(?i)\bthe plan is(?: to)?\s+([^\n]{4,200})`), 1},
	{FactTask, regexp.MustCompile(`(?i)\b(?:need to|have to|must|remember to|don'?t forget to|todo:?|next step(?: is)?(?: to)?)\s+([^\n]{4,200})`), 1},
	{FactCorrection, regexp.MustCompile(`(?i)\b(?:actually|correction:|i was wrong|that'?s (?:wrong|incorrect)|to clarify)[,:]?\s+([^\n]{4,200})`), 1},
	{FactPreference, regexp.MustCompile(`(?i)\b(?:i prefer|i like to use|always use|never use)\s+([^\n]{3,200})`), 1},
	{FactPreference, regexp.MustCompile(`(?i)\bplease\s+(?:always|never)\s+([^\n]{3,200})`), 1},
	{FactGeneral, regexp.MustCompile(`(?i)\b(?:note that|fyi[,:]?|for the record[,:]?|important:|key point:?|keep in mind(?: that)?)\s+([^\n]{4,200})`), 1},
	{FactGeneral, regexp.MustCompile(`(?i)\bmy\s+\w+(?:\s+\w+)?\s+is\s+[^.!?\n]{2,100}`), 0},
	{FactURL, regexp.MustCompile(`https?://[^\s<>)"']+`), 0},
	{FactErrorPattern, regexp.MustCompile(`(?i)\b(?:error|failed|failure|exception|fatal|panic)\b[:\s-]+([^\n]{4,160})`), 1},
}

const (
	maxFactsPerBatch = 100
	factDedupPrefix  = 40
)

// ExtractFacts scans every message with the category rule families,
// normalizes matches, and deduplicates across the whole batch by
// (category, lowercased content prefix).
func ExtractFacts(msgs []transcript.Message) []ExtractedFact {
	var facts []ExtractedFact
	seen := map[string]bool{}
	n := len(msgs)

	for i, msg := range msgs {
		text := messageText(msg)
		if strings.TrimSpace(text) == "" {
			continue
		}
		pos := 0.0
		if n > 1 {
			pos = float64(i) / float64(n-1)
		}
		for _, rule := range factRules {
			for _, match := range rule.re.FindAllStringSubmatch(text, 5) {
				content := match[0]
				if rule.group > 0 && rule.group < len(match) {
					content = match[rule.group]
				}
				content = normalizeFact(content)
				if len(content) < 4 {
					continue
				}
				key := string(rule.category) + "|" + strings.ToLower(shared.Prefix(content, factDedupPrefix))
				if seen[key] {
					continue
				}
				seen[key] = true
				facts = append(facts, ExtractedFact{
					Category: rule.category,
					Content:  content,
					Role:     msg.Role(),
					Position: pos,
				})
				if len(facts) >= maxFactsPerBatch {
					return facts
				}
			}
		}
	}
	return facts
}

// messageText returns the scannable text of one message variant.
func messageText(msg transcript.Message) string {
	switch m := msg.(type) {
	case transcript.User:
		return m.Text
	case transcript.Assistant:
		return m.Text
	case transcript.ToolResult:
		return m.Content
	}
	return ""
}

// normalizeFact collapses whitespace and strips trailing punctuation so
// near-identical phrasings dedup to one record.
func normalizeFact(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ".,;:!? ")
	return shared.Truncate(s, 200)
}

// Facts runs the compaction fact extractor over the batch of messages
// about to be destroyed and writes one markdown artifact per batch.
func (e *Extractor) Facts(ctx context.Context, run transcript.Run) (res Result) {
	defer func() { e.recovered(ctx, "facts", recover(), &res) }()

	facts := ExtractFacts(run.Messages)
	if len(facts) == 0 {
		e.logger.Debug("no facts in compaction batch", "owner", run.OwnerID, "messages", len(run.Messages))
		return Result{Logged: false}
	}

	now := e.now().UTC()
	stem := now.Format("2006-01-02-150405")
	rel, err := e.ws.WriteBatch(artifact.DirFacts, stem, renderFacts(run, facts, now.Format("2006-01-02 15:04:05")))
	if err != nil {
		return e.fail(ctx, "facts", err)
	}

	if e.metrics != nil {
		e.metrics.ExtractionFacts.Add(ctx, int64(len(facts)))
	}
	e.publish(bus.TopicFactsExtracted, bus.FactsExtractedEvent{
		OwnerID:      run.OwnerID,
		ArtifactPath: rel,
		FactCount:    len(facts),
	})
	e.logger.Info("compaction facts extracted",
		"owner", run.OwnerID, "facts", len(facts), "path", rel)
	return Result{Logged: true, Path: rel, Count: len(facts)}
}

func renderFacts(run transcript.Run, facts []ExtractedFact, stamp string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Compaction facts %s\n\n", stamp)
	if run.OwnerID != "" {
		fmt.Fprintf(&sb, "Owner: %s\n", run.OwnerID)
	}
	if run.SessionID != "" {
		fmt.Fprintf(&sb, "Session: %s\n", run.SessionID)
	}
	sb.WriteString("\n")
	for _, f := range facts {
		fmt.Fprintf(&sb, "- [%s] (%s @%.2f) %s\n", f.Category, f.Role, f.Position, shared.Redact(f.Content))
	}
	return sb.String()
}
