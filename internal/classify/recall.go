package classify

import (
	"regexp"
	"strings"
)

// RecallDepth names how much stored memory a turn should pull in.
type RecallDepth string

const (
	RecallNone    RecallDepth = "none"
	RecallShallow RecallDepth = "shallow"
	RecallNormal  RecallDepth = "normal"
	RecallDeep    RecallDepth = "deep"
)

// RecallParams are the retrieval bounds bound to a depth.
type RecallParams struct {
	MaxResults int
	MinScore   float64
	MaxChars   int
}

var recallParams = map[RecallDepth]RecallParams{
	RecallNone:    {MaxResults: 0, MinScore: 0, MaxChars: 0},
	RecallShallow: {MaxResults: 3, MinScore: 0.35, MaxChars: 2000},
	RecallNormal:  {MaxResults: 6, MinScore: 0.25, MaxChars: 4000},
	RecallDeep:    {MaxResults: 12, MinScore: 0.15, MaxChars: 8000},
}

// ParamsFor returns the retrieval parameters for a depth.
func ParamsFor(depth RecallDepth) RecallParams {
	return recallParams[depth]
}

var greetingPattern = regexp.MustCompile(`(?i)^(hi|hiya|hello|hey|yo|sup|thanks?|thank you|ok(ay)?|good (morning|afternoon|evening|night))[!. ]*$`)

// Deep-recall signals: explicit memory language or person/status questions.
var deepRecallRules = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(remember|recall|remind me)\b`),
	regexp.MustCompile(`(?i)\b(last (time|week|session)|previously|earlier|before)\b`),
	regexp.MustCompile(`(?i)\bwe (discussed|decided|agreed|talked about)\b`),
	regexp.MustCompile(`(?i)\bwhat did (i|we|you)\b`),
	regexp.MustCompile(`(?i)\bwho (is|was)\b`),
	regexp.MustCompile(`(?i)\bstatus of\b`),
	regexp.MustCompile(`(?i)\bwhere (did|were|are) we\b`),
	regexp.MustCompile(`(?i)\bcatch me up\b`),
	regexp.MustCompile(`(?i)\bwhat('s| is) the (latest|status|plan)\b`),
}

// Leading verbs that mark a short instruction as an imperative task.
var imperativeVerbs = map[string]bool{
	"run": true, "list": true, "show": true, "fix": true, "add": true,
	"create": true, "delete": true, "update": true, "check": true,
	"open": true, "build": true, "deploy": true, "write": true,
	"make": true, "restart": true, "stop": true, "start": true,
	"install": true, "remove": true, "rename": true, "move": true,
	"test": true, "push": true, "pull": true, "commit": true,
}

// ClassifyRecallDepth maps a prompt to a recall depth. The checks form a
// precedence chain evaluated top to bottom: greeting or very short input
// wants nothing; explicit recall language wants everything; a short
// imperative wants a light touch; the rest get the normal depth.
func ClassifyRecallDepth(prompt string) RecallDepth {
	trimmed := strings.TrimSpace(prompt)
	words := strings.Fields(trimmed)

	if greetingPattern.MatchString(trimmed) || len(words) <= 2 {
		return RecallNone
	}
	for _, rule := range deepRecallRules {
		if rule.MatchString(trimmed) {
			return RecallDeep
		}
	}
	if len(words) < 10 {
		first := strings.ToLower(strings.Trim(words[0], ",.!?"))
		if imperativeVerbs[first] {
			return RecallShallow
		}
	}
	return RecallNormal
}
