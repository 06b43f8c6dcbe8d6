package tools

import (
	"fmt"
	"strings"
	"testing"
)

// taskIDFrom pulls the task ID out of a "Created task <id>: ..." result.
func taskIDFrom(t *testing.T, out string) string {
	t.Helper()
	if !strings.HasPrefix(out, "Created task ") {
		t.Fatalf("unexpected create result: %q", out)
	}
	return strings.TrimSuffix(strings.Fields(out)[2], ":")
}

func TestLedger_CreateGetCompleteRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	owner := "agent-1"

	out := call(t, r, TaskLedgerToolName, owner,
		`{"action": "create", "title": "Fix the deploy pipeline", "priority": "high", "due": "2026-08-25", "tags": ["infra", "ci"]}`)
	if !strings.Contains(out, "Fix the deploy pipeline [high/active]") {
		t.Fatalf("create: %q", out)
	}
	id := taskIDFrom(t, out)

	out = call(t, r, TaskLedgerToolName, owner, `{"action": "get", "id": "`+id+`"}`)
	for _, want := range []string{
		"Title: Fix the deploy pipeline",
		"Status: active",
		"Priority: high",
		"Tags: infra, ci",
		"Due: 2026-08-25",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("get result missing %q:\n%s", want, out)
		}
	}

	out = call(t, r, TaskLedgerToolName, owner, `{"action": "complete", "id": "`+id+`"}`)
	if !strings.HasPrefix(out, "Completed task "+id) {
		t.Fatalf("complete: %q", out)
	}

	out = call(t, r, TaskLedgerToolName, owner, `{"action": "list"}`)
	if !strings.Contains(out, "Tasks (0 open, 1 total):") {
		t.Fatalf("list header: %q", out)
	}
	if !strings.Contains(out, "[high/done] Fix the deploy pipeline (due 2026-08-25)") {
		t.Fatalf("list line: %q", out)
	}
}

func TestLedger_UpdateMarksBlocked(t *testing.T) {
	r := newTestRegistry(t)
	owner := "agent-1"

	out := call(t, r, TaskLedgerToolName, owner, `{"action": "create", "title": "Rotate the access keys"}`)
	id := taskIDFrom(t, out)

	out = call(t, r, TaskLedgerToolName, owner,
		`{"action": "update", "id": "`+id+`", "status": "blocked", "blocker": "waiting on the ops review"}`)
	if !strings.Contains(out, "[normal/blocked]") {
		t.Fatalf("update: %q", out)
	}

	out = call(t, r, TaskLedgerToolName, owner, `{"action": "get", "id": "`+id+`"}`)
	if !strings.Contains(out, "Blocker: waiting on the ops review") {
		t.Fatalf("get after update: %q", out)
	}
}

func TestLedger_ErrorsComeBackAsText(t *testing.T) {
	r := newTestRegistry(t)
	owner := "agent-1"

	cases := []struct {
		input string
		want  string
	}{
		{`{"action": "get"}`, "Error: id is required for get"},
		{`{"action": "get", "id": "nope1234"}`, "Error: not found: task nope1234"},
		{`{"action": "create"}`, "Error: validation failed: task title is required"},
		{`{"action": "create", "title": "x", "due": "tomorrow"}`, "Error: due must be RFC3339"},
	}
	for _, tc := range cases {
		out := call(t, r, TaskLedgerToolName, owner, tc.input)
		if !strings.HasPrefix(out, tc.want) {
			t.Errorf("%s: got %q, want prefix %q", tc.input, out, tc.want)
		}
	}

	out := call(t, r, TaskLedgerToolName, owner, `{"action": "create", "title": "short lived"}`)
	id := taskIDFrom(t, out)
	if out := call(t, r, TaskLedgerToolName, owner, `{"action": "delete", "id": "`+id+`"}`); out != "Deleted task "+id {
		t.Fatalf("delete: %q", out)
	}
	if out := call(t, r, TaskLedgerToolName, owner, `{"action": "get", "id": "`+id+`"}`); !strings.HasPrefix(out, "Error: not found") {
		t.Fatalf("get after delete: %q", out)
	}
}

func TestLedger_OpenTaskCapIsTextual(t *testing.T) {
	r := newTestRegistry(t)
	owner := "agent-1"

	for i := 0; i < 25; i++ {
		input := fmt.Sprintf(`{"action": "create", "title": "task %d"}`, i)
		if out := call(t, r, TaskLedgerToolName, owner, input); !strings.HasPrefix(out, "Created task ") {
			t.Fatalf("create %d: %q", i, out)
		}
	}
	out := call(t, r, TaskLedgerToolName, owner, `{"action": "create", "title": "one too many"}`)
	if !strings.HasPrefix(out, "Error: capacity exceeded: 25 open tasks") {
		t.Fatalf("expected a capacity result, got %q", out)
	}
}

func TestLedger_OwnersAreIsolated(t *testing.T) {
	r := newTestRegistry(t)
	call(t, r, TaskLedgerToolName, "agent-1", `{"action": "create", "title": "mine"}`)

	if out := call(t, r, TaskLedgerToolName, "agent-2", `{"action": "list"}`); out != "No tasks in the ledger." {
		t.Fatalf("agent-2 sees: %q", out)
	}
}
