// Package trigger evaluates proactive alert conditions on a heartbeat:
// stalled or due tasks, repeating tool failures, externally modified
// watched files, and long-running sub-agent runs. Fired alerts are
// deduplicated across passes through a cooldown table persisted in one
// global state file.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/workmem/internal/bus"
	"github.com/basket/workmem/internal/otel"
	"github.com/basket/workmem/internal/shared"
	"github.com/basket/workmem/internal/store"
)

// Type names the condition a trigger fired for.
type Type string

const (
	TypeDeadline        Type = "deadline"
	TypeStaleTask       Type = "stale_task"
	TypeRepeatedFailure Type = "repeated_failure"
	TypeStuckSubagent   Type = "stuck_subagent"
	TypeFileChange      Type = "file_change"
)

// Priority orders alerts in the rendered block.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func priorityRank(p Priority) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// Trigger is one alert candidate or fired alert.
type Trigger struct {
	Type       Type
	Priority   Priority
	Message    string
	DetectedAt time.Time
}

const (
	staleTaskAfter    = 72 * time.Hour
	deadlineSoon      = 24 * time.Hour
	failureAlertCount = 3
	failureHighCount  = 5
	stuckRunAfter     = 30 * time.Minute
	mtimeSlack        = time.Second

	cooldown       = 4 * time.Hour
	firedKeyTTL    = 2 * cooldown
	maxAlerts      = 5
	dedupPrefixLen = 60
)

// dedupKey identifies a recurring condition across passes. Messages
// front-load stable text (titles, ids, dates) so the key survives
// re-evaluation.
func dedupKey(t Trigger) string {
	return string(t.Type) + "|" + shared.Prefix(t.Message, dedupPrefixLen)
}

// Config holds the dependencies for an Evaluator.
type Config struct {
	Store      *store.Store // required
	Logger     *slog.Logger
	Bus        *bus.Bus
	Metrics    *otel.Metrics
	Clock      func() time.Time
	WatchPaths []string // files observed for external modification
}

// Evaluator runs the trigger checks for one state root. Not safe to run
// concurrently for the same state file from several processes; within one
// process a pass that would overlap a running one is skipped, not queued.
type Evaluator struct {
	store   *store.Store
	logger  *slog.Logger
	bus     *bus.Bus
	metrics *otel.Metrics
	now     func() time.Time

	watch        []string
	statePath    string
	registryPath string

	mu sync.Mutex
}

// New creates an Evaluator rooted in the store's state directory.
func New(cfg Config) (*Evaluator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("trigger: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Evaluator{
		store:        cfg.Store,
		logger:       logger.With("component", "trigger"),
		bus:          cfg.Bus,
		metrics:      cfg.Metrics,
		now:          now,
		watch:        cfg.WatchPaths,
		statePath:    filepath.Join(cfg.Store.Dir(), stateFile),
		registryPath: filepath.Join(cfg.Store.Dir(), registryFile),
	}, nil
}

// Evaluate runs one pass for the owner: gather candidates, drop any
// whose key fired within the cooldown, keep the top five by priority,
// and persist the updated state. It never returns an error; a pass that
// goes wrong degrades to fewer or no alerts, and one that would overlap
// a pass already in progress returns nothing at all.
func (e *Evaluator) Evaluate(ctx context.Context, ownerID string) (string, []Trigger) {
	if !e.mu.TryLock() {
		e.logger.Debug("evaluation already in progress, pass skipped", "owner", ownerID)
		return "", nil
	}
	defer e.mu.Unlock()

	now := e.now()
	st := e.loadState()

	var cands []Trigger
	cands = append(cands, e.taskCandidates(ownerID, now)...)
	cands = append(cands, e.failureCandidates(ownerID, now)...)
	cands = append(cands, e.fileCandidates(st, now)...)
	cands = append(cands, e.runCandidates(now)...)

	var kept []Trigger
	suppressed := 0
	for _, c := range cands {
		if last, ok := st.Fired[dedupKey(c)]; ok && now.Sub(last) < cooldown {
			suppressed++
			continue
		}
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return priorityRank(kept[i].Priority) < priorityRank(kept[j].Priority)
	})
	if len(kept) > maxAlerts {
		kept = kept[:maxAlerts]
	}

	for _, c := range kept {
		st.Fired[dedupKey(c)] = now
	}
	for key, at := range st.Fired {
		if now.Sub(at) > firedKeyTTL {
			delete(st.Fired, key)
		}
	}
	e.saveState(st)

	if e.metrics != nil {
		for _, c := range kept {
			e.metrics.TriggersFired.Add(ctx, 1,
				metric.WithAttributes(otel.AttrTriggerType.String(string(c.Type))))
		}
		if suppressed > 0 {
			e.metrics.TriggersSuppressed.Add(ctx, int64(suppressed))
		}
	}

	block := renderAlerts(kept)
	if len(kept) > 0 {
		types := make([]string, len(kept))
		for i, c := range kept {
			types[i] = string(c.Type)
		}
		if e.bus != nil {
			e.bus.Publish(bus.TopicProactiveAlert, bus.ProactiveAlertEvent{
				OwnerID: ownerID,
				Types:   types,
				Block:   block,
			})
		}
		e.logger.Info("proactive triggers fired",
			"owner", ownerID, "fired", len(kept), "suppressed", suppressed)
	}
	return block, kept
}

// taskCandidates derives stale-task and deadline alerts from the task
// ledger. Terminal tasks raise neither.
func (e *Evaluator) taskCandidates(ownerID string, now time.Time) []Trigger {
	tasks, err := e.store.ListTasks(ownerID)
	if err != nil {
		e.logger.Warn("trigger task check skipped", "owner", ownerID, "error", err)
		return nil
	}

	var out []Trigger
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		title := shared.Truncate(t.Title, 40)

		if t.Due != nil {
			if t.Due.Before(now) {
				out = append(out, Trigger{
					Type:     TypeDeadline,
					Priority: PriorityHigh,
					Message: fmt.Sprintf("Task %q (%s) is overdue, was due %s",
						title, t.ID, t.Due.Format("2006-01-02")),
					DetectedAt: now,
				})
			} else if t.Due.Sub(now) <= deadlineSoon {
				out = append(out, Trigger{
					Type:     TypeDeadline,
					Priority: PriorityMedium,
					Message: fmt.Sprintf("Task %q (%s) is due %s",
						title, t.ID, t.Due.Format("2006-01-02 15:04")),
					DetectedAt: now,
				})
			}
		}

		if now.Sub(t.UpdatedAt) > staleTaskAfter {
			prio := PriorityMedium
			if t.Priority == store.PriorityCritical || t.Priority == store.PriorityHigh {
				prio = PriorityHigh
			}
			out = append(out, Trigger{
				Type:     TypeStaleTask,
				Priority: prio,
				Message: fmt.Sprintf("Task %q (%s) has seen no updates since %s",
					title, t.ID, t.UpdatedAt.Format("2006-01-02")),
				DetectedAt: now,
			})
		}
	}
	return out
}

// failureCandidates alerts on tools that keep failing the same way.
func (e *Evaluator) failureCandidates(ownerID string, now time.Time) []Trigger {
	failures, err := e.store.ListFailures(ownerID)
	if err != nil {
		e.logger.Warn("trigger failure check skipped", "owner", ownerID, "error", err)
		return nil
	}

	var out []Trigger
	for _, f := range failures {
		if f.Count < failureAlertCount {
			continue
		}
		prio := PriorityMedium
		if f.Count >= failureHighCount {
			prio = PriorityHigh
		}
		out = append(out, Trigger{
			Type:     TypeRepeatedFailure,
			Priority: prio,
			Message: fmt.Sprintf("Tool %s keeps failing (%s): %s",
				f.ToolName, f.Category, shared.Truncate(f.Pattern, 80)),
			DetectedAt: now,
		})
	}
	return out
}

// fileCandidates compares watched files against the last observation
// and updates the observed state in place. The first sighting of a path
// only records a baseline.
func (e *Evaluator) fileCandidates(st *stateDoc, now time.Time) []Trigger {
	var out []Trigger
	current := map[string]bool{}
	for _, path := range e.watch {
		current[path] = true

		info, err := os.Stat(path)
		if err != nil {
			if _, ok := st.Files[path]; ok {
				delete(st.Files, path)
				out = append(out, Trigger{
					Type:       TypeFileChange,
					Priority:   PriorityLow,
					Message:    fmt.Sprintf("Watched file %s was removed", path),
					DetectedAt: now,
				})
			}
			continue
		}

		prev, seen := st.Files[path]
		if seen && (prev.Size != info.Size() || absDelta(prev.ModTime, info.ModTime()) > mtimeSlack) {
			out = append(out, Trigger{
				Type:       TypeFileChange,
				Priority:   PriorityLow,
				Message:    fmt.Sprintf("Watched file %s changed on disk", path),
				DetectedAt: now,
			})
		}
		st.Files[path] = fileState{Size: info.Size(), ModTime: info.ModTime()}
	}

	// Paths dropped from the watch list no longer need observations.
	for path := range st.Files {
		if !current[path] {
			delete(st.Files, path)
		}
	}
	return out
}

// runCandidates alerts on sub-agent runs active past the threshold.
func (e *Evaluator) runCandidates(now time.Time) []Trigger {
	var out []Trigger
	for _, r := range e.loadRegistry() {
		if !r.active() || now.Sub(r.StartedAt) <= stuckRunAfter {
			continue
		}
		msg := fmt.Sprintf("Sub-agent run %s active since %s", r.ID, r.StartedAt.Format("2006-01-02 15:04"))
		if r.Task != "" {
			msg = fmt.Sprintf("Sub-agent run %s (%s) active since %s",
				r.ID, shared.Truncate(r.Task, 40), r.StartedAt.Format("2006-01-02 15:04"))
		}
		out = append(out, Trigger{
			Type:       TypeStuckSubagent,
			Priority:   PriorityMedium,
			Message:    msg,
			DetectedAt: now,
		})
	}
	return out
}

func absDelta(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

// renderAlerts formats the fired triggers as an injection block, ""
// when nothing fired.
func renderAlerts(fired []Trigger) string {
	if len(fired) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Attention needed\n")
	for _, t := range fired {
		fmt.Fprintf(&sb, "- [%s] %s\n", t.Type, shared.Truncate(t.Message, 200))
	}
	return strings.TrimRight(sb.String(), "\n")
}
