package extract

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/basket/workmem/internal/artifact"
	"github.com/basket/workmem/internal/bus"
	"github.com/basket/workmem/internal/shared"
	"github.com/basket/workmem/internal/transcript"
)

// Episode reconstructs what happened during one finished run.
type Episode struct {
	Request       string
	ToolsUsed     []string // distinct, first-call order
	FilesAccessed []string // distinct, first-mention order
	Outcomes      []string
	Success       bool
	Error         string
	Duration      time.Duration
}

const (
	episodeRequestMax  = 300
	episodeMaxFiles    = 20
	episodeMaxOutcomes = 10
)

// filePathRe matches absolute, ./-relative, ~/-relative, and
// slash-containing relative paths with an extension.
var filePathRe = regexp.MustCompile(`(?:^|[\s"'=(\[])((?:/|\./|~/)[\w.@+-]+(?:/[\w.@+-]+)*|[\w.@+-]+(?:/[\w.@+-]+)+\.[A-Za-z0-9]{1,8})`)

// outcomeRe marks a sentence as reporting a result rather than narrating.
var outcomeRe = regexp.MustCompile(`(?i)\b(creat|updat|fix|add|remov|delet|wrote|written|complet|implement|install|deploy|restart|renam|mov|configur|verif|generat|pass|fail|found|finish|done)\w*\b`)

// SummarizeEpisode derives an Episode from a run. The second return is
// false when the run made no tool calls; pure chat is not recorded.
func SummarizeEpisode(run transcript.Run) (Episode, bool) {
	var (
		tools    []string
		seenTool = map[string]bool{}
		files    []string
		seenFile = map[string]bool{}
		calls    int
	)
	addFiles := func(text string) {
		for _, m := range filePathRe.FindAllStringSubmatch(text, -1) {
			p := strings.TrimRight(m[1], "./")
			if p == "" || p == "~" || seenFile[p] || len(files) >= episodeMaxFiles {
				continue
			}
			seenFile[p] = true
			files = append(files, p)
		}
	}

	for _, msg := range run.Messages {
		switch m := msg.(type) {
		case transcript.User:
			addFiles(m.Text)
		case transcript.Assistant:
			addFiles(m.Text)
			for _, tc := range m.ToolCalls {
				calls++
				if !seenTool[tc.Name] {
					seenTool[tc.Name] = true
					tools = append(tools, tc.Name)
				}
				for _, v := range sortedStringParams(tc.Input) {
					addFiles(v)
				}
			}
		}
	}
	if calls == 0 {
		return Episode{}, false
	}

	request := strings.Join(strings.Fields(transcript.LastUserText(run.Messages)), " ")
	return Episode{
		Request:       shared.Truncate(request, episodeRequestMax),
		ToolsUsed:     tools,
		FilesAccessed: files,
		Outcomes:      outcomeSentences(run.Messages),
		Success:       run.Success,
		Error:         shared.Truncate(run.Error, 200),
		Duration:      run.Duration(),
	}, true
}

// sortedStringParams returns the string-valued inputs in key order so
// file extraction is deterministic across runs.
func sortedStringParams(input map[string]any) []string {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var vals []string
	for _, k := range keys {
		if s, ok := input[k].(string); ok && s != "" {
			vals = append(vals, s)
		}
	}
	return vals
}

// outcomeSentences collects up to 10 deduplicated result sentences,
// walking assistant messages from the tail of the run.
func outcomeSentences(msgs []transcript.Message) []string {
	var out []string
	seen := map[string]bool{}
	for i := len(msgs) - 1; i >= 0 && len(out) < episodeMaxOutcomes; i-- {
		a, ok := msgs[i].(transcript.Assistant)
		if !ok || a.Text == "" {
			continue
		}
		for _, s := range splitSentences(a.Text) {
			if len(out) >= episodeMaxOutcomes {
				break
			}
			if len(s) < 8 || !outcomeRe.MatchString(s) {
				continue
			}
			s = shared.Truncate(s, 200)
			key := strings.ToLower(s)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}

// splitSentences breaks text into trimmed sentences, treating list
// bullets as their own sentences and leaving mid-token periods alone.
func splitSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*#> \t"))
		if line == "" {
			continue
		}
		start := 0
		for i := 0; i < len(line); i++ {
			if line[i] != '.' && line[i] != '!' && line[i] != '?' {
				continue
			}
			if i+1 < len(line) && line[i+1] != ' ' && line[i+1] != '\t' {
				continue
			}
			if s := strings.TrimSpace(line[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
		if rest := strings.TrimSpace(line[start:]); rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

// Episode summarizes a finished run and appends it to the daily episode
// log.
func (e *Extractor) Episode(ctx context.Context, run transcript.Run) (res Result) {
	defer func() { e.recovered(ctx, "episode", recover(), &res) }()

	ep, ok := SummarizeEpisode(run)
	if !ok {
		e.logger.Debug("run made no tool calls, skipping episode", "owner", run.OwnerID)
		return Result{Logged: false}
	}

	day := e.now().UTC()
	header := "# Episodes " + day.Format("2006-01-02")
	rel, err := e.ws.AppendDaily(artifact.DirEpisodes, day, header, renderEpisode(run, ep, day))
	if err != nil {
		return e.fail(ctx, "episode", err)
	}

	e.publish(bus.TopicEpisodeRecorded, bus.EpisodeRecordedEvent{
		OwnerID:   run.OwnerID,
		ToolCount: len(ep.ToolsUsed),
		Success:   ep.Success,
	})
	e.logger.Info("episode recorded",
		"owner", run.OwnerID, "tools", len(ep.ToolsUsed), "success", ep.Success, "path", rel)
	return Result{Logged: true, Path: rel, Count: len(ep.Outcomes)}
}

func renderEpisode(run transcript.Run, ep Episode, at time.Time) string {
	status := "ok"
	if !ep.Success {
		status = "failed"
	}
	var sb strings.Builder
	if d := ep.Duration.Round(time.Second); d > 0 {
		fmt.Fprintf(&sb, "## %s (%s, %s)\n\n", at.Format("15:04:05"), status, d)
	} else {
		fmt.Fprintf(&sb, "## %s (%s)\n\n", at.Format("15:04:05"), status)
	}
	if run.SessionID != "" {
		fmt.Fprintf(&sb, "Session: %s\n", run.SessionID)
	}
	if ep.Request != "" {
		fmt.Fprintf(&sb, "Request: %s\n", shared.Redact(ep.Request))
	}
	fmt.Fprintf(&sb, "Tools: %s\n", strings.Join(ep.ToolsUsed, ", "))
	if len(ep.FilesAccessed) > 0 {
		fmt.Fprintf(&sb, "Files: %s\n", strings.Join(ep.FilesAccessed, ", "))
	}
	if ep.Error != "" {
		fmt.Fprintf(&sb, "Error: %s\n", shared.Redact(ep.Error))
	}
	if len(ep.Outcomes) > 0 {
		sb.WriteString("\nOutcome:\n")
		for _, o := range ep.Outcomes {
			fmt.Fprintf(&sb, "- %s\n", shared.Redact(o))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
