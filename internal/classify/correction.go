// Package classify holds the engine's pattern classifiers: pure functions
// over message text, each driven by an ordered rule table so precedence is
// data, not control flow.
package classify

import (
	"math"
	"regexp"
	"strings"
)

// CorrectionCategory buckets what kind of correction the user issued.
type CorrectionCategory string

const (
	CorrectionFactual    CorrectionCategory = "factual"
	CorrectionBehavioral CorrectionCategory = "behavioral"
	CorrectionPreference CorrectionCategory = "preference"
	CorrectionProcedural CorrectionCategory = "procedural"
)

const (
	strongRuleWeight = 0.4
	weakRuleWeight   = 0.15
)

type correctionRule struct {
	pattern  *regexp.Regexp
	category CorrectionCategory
}

// Strong signals: a single match marks the message as a correction.
var strongCorrectionRules = []correctionRule{
	{regexp.MustCompile(`(?i)\b(no|nope),?\s+(that'?s|that is)\s+(wrong|incorrect|not (right|correct))`), CorrectionFactual},
	{regexp.MustCompile(`(?i)\bthat'?s\s+(wrong|incorrect|not (right|correct|true))\b`), CorrectionFactual},
	{regexp.MustCompile(`(?i)\bit'?s?\s+actually\b`), CorrectionFactual},
	{regexp.MustCompile(`(?i)\byou('re| are)\s+(wrong|mistaken|confusing|mixing up)\b`), CorrectionFactual},
	{regexp.MustCompile(`(?i)\bwrong\s+(file|branch|server|command|directory|url|name)\b`), CorrectionFactual},
	{regexp.MustCompile(`(?i)\bi (already )?told you\b`), CorrectionBehavioral},
	{regexp.MustCompile(`(?i)\b(that's|that is) not what i (asked|meant|said|wanted)\b`), CorrectionBehavioral},
	{regexp.MustCompile(`(?i)\bstop\s+(doing|using|saying|adding)\b`), CorrectionBehavioral},
	{regexp.MustCompile(`(?i)\bdon'?t\s+do that\b`), CorrectionBehavioral},
	{regexp.MustCompile(`(?i)\bplease\s+(always|never)\b`), CorrectionPreference},
	{regexp.MustCompile(`(?i)\bfrom now on\b`), CorrectionPreference},
	{regexp.MustCompile(`(?i)\bi('d| would)? ?prefer\b`), CorrectionPreference},
	{regexp.MustCompile(`(?i)\byou should have\b`), CorrectionProcedural},
	{regexp.MustCompile(`(?i)\bshould have (used|done|run|checked)\b`), CorrectionProcedural},
}

// Weak signals: two or more matches mark the message as a correction.
var weakCorrectionRules = []correctionRule{
	{regexp.MustCompile(`(?i)^no[,.!]?\s`), CorrectionFactual},
	{regexp.MustCompile(`(?i)\b(wrong|incorrect)\b`), CorrectionFactual},
	{regexp.MustCompile(`(?i)\bactually\b`), CorrectionFactual},
	{regexp.MustCompile(`(?i)\bnot (that|this) one\b`), CorrectionFactual},
	{regexp.MustCompile(`(?i)\bi meant\b`), CorrectionFactual},
	{regexp.MustCompile(`(?i)\bremember\b`), CorrectionBehavioral},
	{regexp.MustCompile(`(?i)\bagain\b`), CorrectionBehavioral},
	{regexp.MustCompile(`(?i)\binstead\b`), CorrectionPreference},
	{regexp.MustCompile(`(?i)\brather than\b`), CorrectionPreference},
	{regexp.MustCompile(`(?i)\bnext time\b`), CorrectionProcedural},
	{regexp.MustCompile(`(?i)\btry (it )?again\b`), CorrectionProcedural},
	{regexp.MustCompile(`(?i)\bredo\b`), CorrectionProcedural},
}

// CorrectionInput is what the detector sees for one turn. The prior messages
// give the store context for the recorded entry; they do not affect matching.
type CorrectionInput struct {
	UserMessage    string
	PriorAssistant string
	PriorUser      string
}

// CorrectionSignal is the detector verdict.
type CorrectionSignal struct {
	Detected     bool
	Confidence   float64
	Category     CorrectionCategory
	MatchedRules []string
}

// DetectCorrection scans the user message against the strong and weak rule
// tables. A message is a correction when at least one strong rule matches, or
// at least two weak rules do. Confidence is the capped sum of matched rule
// weights; the category is the one with the highest accumulated weight, ties
// going to the earliest matched rule.
func DetectCorrection(in CorrectionInput) CorrectionSignal {
	msg := strings.TrimSpace(in.UserMessage)
	if len(msg) < 3 {
		return CorrectionSignal{}
	}

	var (
		strongMatches int
		weakMatches   int
		sum           float64
		matched       []string
		byCategory    = map[CorrectionCategory]float64{}
		firstIndex    = map[CorrectionCategory]int{}
		ruleIndex     int
	)

	accumulate := func(rules []correctionRule, weight float64, isStrong bool) {
		for _, rule := range rules {
			if rule.pattern.MatchString(msg) {
				if isStrong {
					strongMatches++
				} else {
					weakMatches++
				}
				sum += weight
				matched = append(matched, rule.pattern.String())
				byCategory[rule.category] += weight
				if _, seen := firstIndex[rule.category]; !seen {
					firstIndex[rule.category] = ruleIndex
				}
			}
			ruleIndex++
		}
	}
	accumulate(strongCorrectionRules, strongRuleWeight, true)
	accumulate(weakCorrectionRules, weakRuleWeight, false)

	if strongMatches < 1 && weakMatches < 2 {
		return CorrectionSignal{}
	}

	best := CorrectionCategory("")
	bestWeight := -1.0
	for cat, w := range byCategory {
		switch {
		case w > bestWeight:
			best, bestWeight = cat, w
		case w == bestWeight && firstIndex[cat] < firstIndex[best]:
			best = cat
		}
	}

	confidence := math.Min(1, sum)
	confidence = math.Round(confidence*100) / 100

	return CorrectionSignal{
		Detected:     true,
		Confidence:   confidence,
		Category:     best,
		MatchedRules: matched,
	}
}
