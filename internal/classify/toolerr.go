package classify

import (
	"regexp"
	"strings"
)

// FailureCategory buckets a classified tool error.
type FailureCategory string

const (
	FailureRateLimit     FailureCategory = "rate_limit"
	FailureAuth          FailureCategory = "auth"
	FailureTimeout       FailureCategory = "timeout"
	FailureNotFound      FailureCategory = "not_found"
	FailureEncoding      FailureCategory = "encoding"
	FailureInvalidParams FailureCategory = "invalid_params"
	FailureOther         FailureCategory = "other"
)

type failureRule struct {
	category FailureCategory
	pattern  *regexp.Regexp
}

// Ordered ladder; first match wins.
var failureRules = []failureRule{
	{FailureRateLimit, regexp.MustCompile(`(?i)(rate.?limit|429|too many requests|quota (exceeded|reached))`)},
	{FailureAuth, regexp.MustCompile(`(?i)(401|403|unauthori[sz]ed|forbidden|permission denied|invalid (api )?key|auth(entication|orization)? fail|credential)`)},
	{FailureTimeout, regexp.MustCompile(`(?i)(timed? ?out|deadline exceeded|context deadline)`)},
	{FailureNotFound, regexp.MustCompile(`(?i)(not found|404|no such (file|directory|host)|does not exist|unknown (id|path|file|host))`)},
	{FailureEncoding, regexp.MustCompile(`(?i)(encoding|decod(e|ing)|unmarshal|invalid utf-?8|malformed|parse error|unexpected (token|end of))`)},
	{FailureInvalidParams, regexp.MustCompile(`(?i)(invalid (param|argument|input|request|value)|missing (required|param|field|argument)|bad request|400)`)},
}

// minOtherLength gates the catch-all: trivially short unmatched errors are
// noise, not a pattern worth remembering.
const minOtherLength = 20

// ClassifyToolError matches an error string against the failure ladder.
// Unmatched text longer than 20 characters lands in FailureOther; shorter
// unmatched text is not classified at all (ok=false).
func ClassifyToolError(errText string) (FailureCategory, bool) {
	trimmed := strings.TrimSpace(errText)
	if trimmed == "" {
		return "", false
	}
	for _, rule := range failureRules {
		if rule.pattern.MatchString(trimmed) {
			return rule.category, true
		}
	}
	if len(trimmed) > minOtherLength {
		return FailureOther, true
	}
	return "", false
}

// Normalization replacements, applied in order: composite shapes (URLs,
// UUIDs, timestamps) before the raw hex/number rules that would otherwise
// eat their pieces.
var normalizers = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`https?://[^\s"']+`), "<url>"},
	{regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`), "<uuid>"},
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2})?(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`), "<ts>"},
	{regexp.MustCompile(`"[^"]{16,}"`), "<str>"},
	{regexp.MustCompile(`\b[0-9a-fA-F]{8,}\b`), "<id>"},
	{regexp.MustCompile(`\b\d{5,}\b`), "<n>"},
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// maxPatternLength caps the normalized pattern so store dedup keys stay small.
const maxPatternLength = 200

// NormalizeErrorPattern collapses high-entropy substrings so recurring
// failures compare equal.
func NormalizeErrorPattern(errText string) string {
	s := strings.TrimSpace(errText)
	for _, n := range normalizers {
		s = n.pattern.ReplaceAllString(s, n.replacement)
	}
	s = whitespaceRun.ReplaceAllString(s, " ")
	if len(s) > maxPatternLength {
		s = s[:maxPatternLength]
	}
	return s
}
