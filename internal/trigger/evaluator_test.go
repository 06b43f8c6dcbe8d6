package trigger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/workmem/internal/classify"
	"github.com/basket/workmem/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEvaluator builds an evaluator and its store over a fresh state
// root, both reading the clock through now so tests can jump time.
func newTestEvaluator(t *testing.T, now *time.Time, watch ...string) (*Evaluator, *store.Store) {
	t.Helper()
	st, err := store.New(store.Config{
		Dir:    t.TempDir(),
		Logger: discardLogger(),
		Clock:  func() time.Time { return *now },
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	ev, err := New(Config{
		Store:      st,
		Logger:     discardLogger(),
		Clock:      func() time.Time { return *now },
		WatchPaths: watch,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ev, st
}

func TestEvaluate_StaleTask(t *testing.T) {
	now := time.Date(2026, 8, 22, 8, 0, 0, 0, time.UTC)
	ev, st := newTestEvaluator(t, &now)

	if _, err := st.CreateTask("agent-1", store.TaskInput{Title: "migrate billing exports"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	block, fired := ev.Evaluate(context.Background(), "agent-1")
	if len(fired) != 0 {
		t.Fatalf("fresh task fired %+v", fired)
	}
	if block != "" {
		t.Fatalf("block = %q, want empty", block)
	}

	now = now.Add(80 * time.Hour)
	block, fired = ev.Evaluate(context.Background(), "agent-1")
	if len(fired) != 1 || fired[0].Type != TypeStaleTask {
		t.Fatalf("fired = %+v", fired)
	}
	if !strings.HasPrefix(block, "## Attention needed\n") {
		t.Errorf("block heading:\n%s", block)
	}
	if !strings.Contains(block, "- [stale_task] Task \"migrate billing exports\"") {
		t.Errorf("block line:\n%s", block)
	}
	if !strings.Contains(block, "no updates since 2026-08-22") {
		t.Errorf("stale date missing:\n%s", block)
	}
}

func TestEvaluate_SkipsWhenPassInProgress(t *testing.T) {
	now := time.Date(2026, 8, 22, 8, 0, 0, 0, time.UTC)
	ev, st := newTestEvaluator(t, &now)

	if _, err := st.CreateTask("agent-1", store.TaskInput{Title: "rotate the api keys"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	now = now.Add(80 * time.Hour)

	ev.mu.Lock()
	block, fired := ev.Evaluate(context.Background(), "agent-1")
	ev.mu.Unlock()
	if block != "" || fired != nil {
		t.Fatalf("overlapping pass returned %q, %+v", block, fired)
	}

	// The stale task is still there once the running pass finishes.
	block, fired = ev.Evaluate(context.Background(), "agent-1")
	if len(fired) != 1 || fired[0].Type != TypeStaleTask {
		t.Fatalf("after release fired = %+v", fired)
	}
	if block == "" {
		t.Fatal("after release block is empty")
	}
}

func TestEvaluate_CooldownThenRefire(t *testing.T) {
	now := time.Date(2026, 8, 22, 8, 0, 0, 0, time.UTC)
	ev, st := newTestEvaluator(t, &now)

	if _, err := st.CreateTask("agent-1", store.TaskInput{Title: "rotate api keys"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	now = now.Add(80 * time.Hour)

	if _, fired := ev.Evaluate(context.Background(), "agent-1"); len(fired) != 1 {
		t.Fatalf("first pass fired %d", len(fired))
	}

	now = now.Add(1 * time.Hour)
	if block, fired := ev.Evaluate(context.Background(), "agent-1"); len(fired) != 0 || block != "" {
		t.Fatalf("inside cooldown fired %d, block %q", len(fired), block)
	}

	now = now.Add(5 * time.Hour)
	if _, fired := ev.Evaluate(context.Background(), "agent-1"); len(fired) != 1 {
		t.Fatalf("after cooldown fired %d", len(fired))
	}
}

func TestEvaluate_Deadlines(t *testing.T) {
	now := time.Date(2026, 8, 22, 8, 0, 0, 0, time.UTC)
	ev, st := newTestEvaluator(t, &now)

	past := now.Add(-2 * time.Hour)
	soon := now.Add(10 * time.Hour)
	far := now.Add(72 * time.Hour)
	for title, due := range map[string]time.Time{
		"ship the release notes": past,
		"renew the tls cert":     soon,
		"plan next quarter":      far,
	} {
		if _, err := st.CreateTask("agent-1", store.TaskInput{Title: title, Due: &due}); err != nil {
			t.Fatalf("CreateTask %q: %v", title, err)
		}
	}

	block, fired := ev.Evaluate(context.Background(), "agent-1")
	if len(fired) != 2 {
		t.Fatalf("fired = %+v", fired)
	}
	if fired[0].Priority != PriorityHigh || !strings.Contains(fired[0].Message, "overdue") {
		t.Errorf("first alert = %+v, want overdue high", fired[0])
	}
	if fired[1].Priority != PriorityMedium || !strings.Contains(fired[1].Message, "is due") {
		t.Errorf("second alert = %+v, want due-soon medium", fired[1])
	}
	if strings.Contains(block, "plan next quarter") {
		t.Errorf("far deadline leaked into block:\n%s", block)
	}
}

func TestEvaluate_RepeatedFailure(t *testing.T) {
	now := time.Date(2026, 8, 22, 8, 0, 0, 0, time.UTC)
	ev, st := newTestEvaluator(t, &now)

	in := store.ToolFailureInput{
		ToolName: "bash",
		Category: classify.FailureTimeout,
		Pattern:  "command timed out after <duration>",
	}
	for i := 0; i < 2; i++ {
		if _, err := st.RecordFailure("agent-1", in); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if _, fired := ev.Evaluate(context.Background(), "agent-1"); len(fired) != 0 {
		t.Fatalf("two failures fired %+v", fired)
	}

	if _, err := st.RecordFailure("agent-1", in); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	now = now.Add(5 * time.Hour)
	block, fired := ev.Evaluate(context.Background(), "agent-1")
	if len(fired) != 1 || fired[0].Type != TypeRepeatedFailure || fired[0].Priority != PriorityMedium {
		t.Fatalf("fired = %+v", fired)
	}
	if !strings.Contains(block, "- [repeated_failure] Tool bash keeps failing (timeout): command timed out") {
		t.Errorf("block:\n%s", block)
	}

	for i := 0; i < 2; i++ {
		if _, err := st.RecordFailure("agent-1", in); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	now = now.Add(5 * time.Hour)
	if _, fired := ev.Evaluate(context.Background(), "agent-1"); len(fired) != 1 || fired[0].Priority != PriorityHigh {
		t.Fatalf("five failures fired %+v", fired)
	}
}

func TestEvaluate_FileChange(t *testing.T) {
	now := time.Date(2026, 8, 22, 8, 0, 0, 0, time.UTC)
	watched := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(watched, []byte("port: 80\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ev, _ := newTestEvaluator(t, &now, watched)

	if _, fired := ev.Evaluate(context.Background(), "agent-1"); len(fired) != 0 {
		t.Fatalf("baseline pass fired %+v", fired)
	}

	if err := os.WriteFile(watched, []byte("port: 8080\nhost: 0.0.0.0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	block, fired := ev.Evaluate(context.Background(), "agent-1")
	if len(fired) != 1 || fired[0].Type != TypeFileChange || fired[0].Priority != PriorityLow {
		t.Fatalf("fired = %+v", fired)
	}
	if !strings.Contains(block, "changed on disk") {
		t.Errorf("block:\n%s", block)
	}

	if err := os.Remove(watched); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, fired := ev.Evaluate(context.Background(), "agent-1"); len(fired) != 1 || !strings.Contains(fired[0].Message, "was removed") {
		t.Fatalf("removal fired %+v", fired)
	}

	// Recreation is a new baseline, not a change.
	if err := os.WriteFile(watched, []byte("fresh\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, fired := ev.Evaluate(context.Background(), "agent-1"); len(fired) != 0 {
		t.Fatalf("recreation fired %+v", fired)
	}
}

func TestEvaluate_StuckSubagent(t *testing.T) {
	now := time.Date(2026, 8, 22, 8, 0, 0, 0, time.UTC)
	ev, st := newTestEvaluator(t, &now)

	reg := map[string]any{
		"runs": []map[string]any{
			{"id": "run-1", "task": "refactor billing", "startedAt": now.Add(-45 * time.Minute)},
			{"id": "run-2", "startedAt": now.Add(-45 * time.Minute), "status": "done"},
			{"id": "run-3", "startedAt": now.Add(-5 * time.Minute), "status": "active"},
		},
	}
	data, err := json.Marshal(reg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(st.Dir(), "run-registry.json"), data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	block, fired := ev.Evaluate(context.Background(), "agent-1")
	if len(fired) != 1 || fired[0].Type != TypeStuckSubagent {
		t.Fatalf("fired = %+v", fired)
	}
	if !strings.Contains(block, "Sub-agent run run-1 (refactor billing) active since") {
		t.Errorf("block:\n%s", block)
	}
}

func TestEvaluate_PriorityOrderAndCap(t *testing.T) {
	now := time.Date(2026, 8, 22, 8, 0, 0, 0, time.UTC)
	watched := filepath.Join(t.TempDir(), "trace.log")
	if err := os.WriteFile(watched, []byte("a"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ev, st := newTestEvaluator(t, &now, watched)

	// Baseline the watched file before raising anything else.
	if _, fired := ev.Evaluate(context.Background(), "agent-1"); len(fired) != 0 {
		t.Fatalf("baseline fired %+v", fired)
	}

	past := now.Add(-time.Hour)
	if _, err := st.CreateTask("agent-1", store.TaskInput{Title: "publish the postmortem", Due: &past}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	in := store.ToolFailureInput{ToolName: "fetch", Category: classify.FailureRateLimit, Pattern: "429 too many requests"}
	for i := 0; i < 3; i++ {
		if _, err := st.RecordFailure("agent-1", in); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := os.WriteFile(watched, []byte("abc"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	now = now.Add(5 * time.Hour)
	_, fired := ev.Evaluate(context.Background(), "agent-1")
	want := []Type{TypeDeadline, TypeRepeatedFailure, TypeFileChange}
	if len(fired) != len(want) {
		t.Fatalf("fired = %+v", fired)
	}
	for i, typ := range want {
		if fired[i].Type != typ {
			t.Errorf("fired[%d].Type = %s, want %s", i, fired[i].Type, typ)
		}
	}

	// More than five survivors keeps only the top five.
	for i := 0; i < 6; i++ {
		due := now.Add(-time.Duration(i+1) * time.Hour)
		title := "overdue item " + string(rune('a'+i))
		if _, err := st.CreateTask("agent-1", store.TaskInput{Title: title, Due: &due}); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}
	now = now.Add(5 * time.Hour)
	_, fired = ev.Evaluate(context.Background(), "agent-1")
	if len(fired) != maxAlerts {
		t.Fatalf("capped pass fired %d, want %d", len(fired), maxAlerts)
	}
	for _, f := range fired {
		if f.Priority != PriorityHigh {
			t.Errorf("low-priority alert survived the cap: %+v", f)
		}
	}
}

func TestEvaluate_GCsExpiredFiredKeys(t *testing.T) {
	now := time.Date(2026, 8, 22, 8, 0, 0, 0, time.UTC)
	ev, st := newTestEvaluator(t, &now)

	task, err := st.CreateTask("agent-1", store.TaskInput{Title: "triage inbox"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	now = now.Add(80 * time.Hour)
	if _, fired := ev.Evaluate(context.Background(), "agent-1"); len(fired) != 1 {
		t.Fatalf("fired %d", len(fired))
	}
	if err := st.DeleteTask("agent-1", task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	now = now.Add(9 * time.Hour)
	if _, fired := ev.Evaluate(context.Background(), "agent-1"); len(fired) != 0 {
		t.Fatalf("fired %d after task deleted", len(fired))
	}

	data, err := os.ReadFile(filepath.Join(st.Dir(), "proactive-triggers.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc struct {
		Fired map[string]time.Time `json:"fired"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(doc.Fired) != 0 {
		t.Fatalf("fired keys not collected: %+v", doc.Fired)
	}
}

func TestEvaluate_SurvivesCorruptState(t *testing.T) {
	now := time.Date(2026, 8, 22, 8, 0, 0, 0, time.UTC)
	ev, st := newTestEvaluator(t, &now)

	if err := os.WriteFile(filepath.Join(st.Dir(), "proactive-triggers.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := st.CreateTask("agent-1", store.TaskInput{Title: "rebuild index"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	now = now.Add(80 * time.Hour)

	if _, fired := ev.Evaluate(context.Background(), "agent-1"); len(fired) != 1 {
		t.Fatalf("fired %d with corrupt state", len(fired))
	}
}
