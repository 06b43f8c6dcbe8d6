package extract

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/basket/workmem/internal/artifact"
	"github.com/basket/workmem/internal/bus"
	"github.com/basket/workmem/internal/shared"
	"github.com/basket/workmem/internal/transcript"
)

// ProcedureStep is one paired tool call inside a mined procedure.
type ProcedureStep struct {
	Order   int
	Tool    string
	Action  string
	Success bool
}

// Procedure is a reusable ordered tool sequence mined from a run.
type Procedure struct {
	Name    string
	Request string
	Steps   []ProcedureStep
	Tags    []string
}

const (
	procedureMinSteps  = 3
	procedureNameMax   = 60
	procedureActionMax = 120
	procedureMaxTags   = 8
)

// procedureVerbs are request verbs worth keeping as tags.
var procedureVerbs = map[string]bool{
	"add": true, "build": true, "check": true, "clean": true,
	"configure": true, "convert": true, "create": true, "debug": true,
	"delete": true, "deploy": true, "fix": true, "generate": true,
	"install": true, "migrate": true, "publish": true, "refactor": true,
	"release": true, "remove": true, "rename": true, "restore": true,
	"run": true, "setup": true, "sync": true, "test": true,
	"update": true, "upgrade": true, "verify": true,
}

// tagStopwords are request words too common to identify a procedure.
var tagStopwords = map[string]bool{
	"about": true, "after": true, "all": true, "and": true, "can": true,
	"could": true, "for": true, "from": true, "have": true, "into": true,
	"just": true, "like": true, "make": true, "need": true, "new": true,
	"not": true, "please": true, "should": true, "some": true, "that": true,
	"the": true, "then": true, "them": true, "they": true, "this": true,
	"want": true, "what": true, "when": true, "will": true, "with": true,
	"would": true, "you": true, "your": true,
}

// MineProcedure pairs tool calls with their results by call id, in
// emission order. The second return is false when the run failed or
// produced fewer than three steps.
func MineProcedure(run transcript.Run) (Procedure, bool) {
	results := map[string]transcript.ToolResult{}
	for _, msg := range run.Messages {
		if tr, ok := msg.(transcript.ToolResult); ok && tr.CallID != "" {
			results[tr.CallID] = tr
		}
	}

	var steps []ProcedureStep
	for _, msg := range run.Messages {
		a, ok := msg.(transcript.Assistant)
		if !ok {
			continue
		}
		for _, tc := range a.ToolCalls {
			action := transcript.FirstStringParam(tc.Input, "command", "path", "query", "url")
			action = strings.Join(strings.Fields(action), " ")
			tr, matched := results[tc.ID]
			steps = append(steps, ProcedureStep{
				Order:   len(steps) + 1,
				Tool:    tc.Name,
				Action:  shared.Truncate(action, procedureActionMax),
				Success: matched && !tr.IsError,
			})
		}
	}
	if !run.Success || len(steps) < procedureMinSteps {
		return Procedure{}, false
	}

	request := strings.Join(strings.Fields(transcript.LastUserText(run.Messages)), " ")
	return Procedure{
		Name:    procedureName(request),
		Request: shared.Truncate(request, episodeRequestMax),
		Steps:   steps,
		Tags:    procedureTags(request, steps),
	}, true
}

// procedureName derives a short name from the first sentence of the
// request.
func procedureName(request string) string {
	name := request
	for i := 0; i < len(name); i++ {
		if name[i] == '.' || name[i] == '!' || name[i] == '?' || name[i] == '\n' {
			name = name[:i]
			break
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "unnamed procedure"
	}
	return shared.Truncate(name, procedureNameMax)
}

// procedureTags collects action verbs and salient nouns from the
// request plus the tool names used, capped at eight.
func procedureTags(request string, steps []ProcedureStep) []string {
	var tags []string
	seen := map[string]bool{}
	add := func(tag string) {
		if tag == "" || seen[tag] || len(tags) >= procedureMaxTags {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	words := strings.FieldsFunc(strings.ToLower(request), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})
	for _, w := range words {
		if procedureVerbs[w] {
			add(w)
		}
	}
	for _, w := range words {
		if len(w) >= 4 && !tagStopwords[w] && !procedureVerbs[w] {
			add(w)
		}
	}
	for _, s := range steps {
		add(strings.ToLower(s.Tool))
	}
	return tags
}

// Procedure mines a reusable tool sequence from a successful run and
// appends it to the daily procedure log.
func (e *Extractor) Procedure(ctx context.Context, run transcript.Run) (res Result) {
	defer func() { e.recovered(ctx, "procedure", recover(), &res) }()

	proc, ok := MineProcedure(run)
	if !ok {
		e.logger.Debug("run not worth mining", "owner", run.OwnerID, "success", run.Success)
		return Result{Logged: false}
	}

	day := e.now().UTC()
	header := "# Procedures " + day.Format("2006-01-02")
	rel, err := e.ws.AppendDaily(artifact.DirProcedures, day, header, renderProcedure(proc, day))
	if err != nil {
		return e.fail(ctx, "procedure", err)
	}

	e.publish(bus.TopicProcedureMined, bus.ProcedureMinedEvent{
		OwnerID: run.OwnerID,
		Name:    proc.Name,
		Steps:   len(proc.Steps),
	})
	e.logger.Info("procedure mined",
		"owner", run.OwnerID, "name", proc.Name, "steps", len(proc.Steps), "path", rel)
	return Result{Logged: true, Path: rel, Count: len(proc.Steps)}
}

func renderProcedure(proc Procedure, at time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n", proc.Name)
	fmt.Fprintf(&sb, "Recorded: %s\n", at.Format("15:04:05"))
	if proc.Request != "" {
		fmt.Fprintf(&sb, "Request: %s\n", shared.Redact(proc.Request))
	}
	if len(proc.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(proc.Tags, ", "))
	}
	sb.WriteString("\nSteps:\n")
	for _, s := range proc.Steps {
		mark := "ok"
		if !s.Success {
			mark = "err"
		}
		if s.Action != "" {
			fmt.Fprintf(&sb, "%d. [%s] %s: %s\n", s.Order, mark, s.Tool, shared.Redact(s.Action))
		} else {
			fmt.Fprintf(&sb, "%d. [%s] %s\n", s.Order, mark, s.Tool)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
