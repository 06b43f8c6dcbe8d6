package classify

import (
	"regexp"
)

// Tag is one topic from the closed context vocabulary.
type Tag string

const (
	TagTools         Tag = "tools"
	TagMemory        Tag = "memory"
	TagTasks         Tag = "tasks"
	TagCorrections   Tag = "corrections"
	TagToolFailures  Tag = "tool_failures"
	TagSubagents     Tag = "subagents"
	TagProactive     Tag = "proactive"
	TagEpisodes      Tag = "episodes"
	TagProcedures    Tag = "procedures"
	TagChat          Tag = "chat"
	TagTechnical     Tag = "technical"
	TagResearch      Tag = "research"
	TagCommunication Tag = "communication"
	TagFiles         Tag = "files"
	TagScheduling    Tag = "scheduling"
	TagSystem        Tag = "system"
)

type contextRule struct {
	pattern *regexp.Regexp
	tags    []Tag
}

// Ordered rule table; every matching rule contributes its tags.
var contextRules = []contextRule{
	{regexp.MustCompile(`(?i)\b(task|todo|to-do|backlog|deadline|due (date|today|tomorrow))\b`), []Tag{TagTasks}},
	{regexp.MustCompile(`(?i)\b(remember|memory|memories|recall|forget|remind)\b`), []Tag{TagMemory}},
	{regexp.MustCompile(`(?i)\b(wrong|incorrect|mistake|correction|actually)\b`), []Tag{TagCorrections}},
	{regexp.MustCompile(`(?i)\b(fail(ed|ure)?|error|exception|crash(ed)?|broke(n)?)\b`), []Tag{TagToolFailures, TagTools}},
	{regexp.MustCompile(`(?i)\b(subagent|sub-agent|delegate|delegation|spawn)\b`), []Tag{TagSubagents}},
	{regexp.MustCompile(`(?i)\b(alert|notify|notification|watch|monitor)\b`), []Tag{TagProactive}},
	{regexp.MustCompile(`(?i)\b(yesterday|last (week|time|session|month)|earlier|previous(ly)?)\b`), []Tag{TagEpisodes, TagMemory}},
	{regexp.MustCompile(`(?i)\b(how (do|did|should) (i|we|you)|procedure|step[- ]by[- ]step|workflow|playbook)\b`), []Tag{TagProcedures}},
	{regexp.MustCompile(`(?i)\b(file|directory|folder|path)\b|\.(md|go|py|ts|json|yaml)\b`), []Tag{TagFiles}},
	{regexp.MustCompile(`(?i)\b(schedule|cron|heartbeat|recurring|every (day|week|hour|morning))\b`), []Tag{TagScheduling}},
	{regexp.MustCompile(`(?i)\b(research|investigate|find out|look up|compare|survey)\b`), []Tag{TagResearch}},
	{regexp.MustCompile(`(?i)\b(code|function|compile|debug|deploy|server|database|api|endpoint|branch|merge)\b`), []Tag{TagTechnical}},
	{regexp.MustCompile(`(?i)\b(email|inbox|message|slack|discord|reply|send|dm)\b`), []Tag{TagCommunication}},
	{regexp.MustCompile(`(?i)\b(config|configuration|setting|environment|env var|setup|install)\b`), []Tag{TagSystem}},
	{regexp.MustCompile(`(?i)\b(run|execute|invoke|tool|command|shell|script)\b`), []Tag{TagTools}},
}

// fallbackTags is the safe maximal set used when nothing matches a
// non-greeting message: missing needed context costs more than extra tags.
var fallbackTags = []Tag{TagMemory, TagTasks, TagCorrections, TagToolFailures}

// ClassifyContext maps a message to its topic tags. Matching rules union
// their tags in rule order. Non-chat results always include corrections;
// research and technical results additionally pull in memory and procedures.
func ClassifyContext(message string) []Tag {
	seen := map[Tag]bool{}
	var out []Tag
	appendTag := func(t Tag) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}

	greeting := greetingPattern.MatchString(message)
	if greeting {
		appendTag(TagChat)
	}

	for _, rule := range contextRules {
		if rule.pattern.MatchString(message) {
			for _, t := range rule.tags {
				appendTag(t)
			}
		}
	}

	if len(out) == 0 {
		for _, t := range fallbackTags {
			appendTag(t)
		}
	}

	onlyChat := len(out) == 1 && out[0] == TagChat
	if !onlyChat {
		appendTag(TagCorrections)
	}
	if seen[TagResearch] || seen[TagTechnical] {
		appendTag(TagMemory)
		appendTag(TagProcedures)
	}
	return out
}

// HasTag reports membership in a tag slice.
func HasTag(tags []Tag, want Tag) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
