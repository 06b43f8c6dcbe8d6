package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/workmem/internal/store"
)

// TaskLedgerToolName is the name agents call the ledger under.
const TaskLedgerToolName = "task_ledger"

const ledgerSchema = `{
	"type": "object",
	"required": ["action"],
	"properties": {
		"action": {"type": "string", "enum": ["create", "update", "complete", "list", "get", "delete"]},
		"id": {"type": "string"},
		"title": {"type": "string"},
		"status": {"type": "string", "enum": ["active", "blocked", "waiting", "done", "cancelled"]},
		"priority": {"type": "string", "enum": ["critical", "high", "normal", "low"]},
		"context": {"type": "string"},
		"nextAction": {"type": "string"},
		"blocker": {"type": "string"},
		"waitingFor": {"type": "string"},
		"tags": {"type": "array", "items": {"type": "string"}},
		"parentId": {"type": "string"},
		"due": {"type": "string"}
	}
}`

type ledgerArgs struct {
	Action     string    `json:"action"`
	ID         string    `json:"id"`
	Title      *string   `json:"title"`
	Status     *string   `json:"status"`
	Priority   *string   `json:"priority"`
	Context    *string   `json:"context"`
	NextAction *string   `json:"nextAction"`
	Blocker    *string   `json:"blocker"`
	WaitingFor *string   `json:"waitingFor"`
	Tags       *[]string `json:"tags"`
	ParentID   string    `json:"parentId"`
	Due        *string   `json:"due"`
}

// LedgerHandler serves the cross-session task ledger.
type LedgerHandler struct {
	store  *store.Store
	schema *jsonschema.Schema
}

// NewLedgerHandler compiles the input schema and wraps the store.
func NewLedgerHandler(st *store.Store) (*LedgerHandler, error) {
	schema, err := compileSchema(TaskLedgerToolName, ledgerSchema)
	if err != nil {
		return nil, err
	}
	return &LedgerHandler{store: st, schema: schema}, nil
}

func (h *LedgerHandler) Name() string { return TaskLedgerToolName }

func (h *LedgerHandler) Description() string {
	return "Track tasks that span sessions. Actions: create, update, complete, list, get, delete. " +
		"Tasks carry a status (active, blocked, waiting, done, cancelled), a priority, and an optional due date."
}

// Handle routes one ledger call.
func (h *LedgerHandler) Handle(ctx context.Context, ownerID string, input json.RawMessage) (string, error) {
	if err := validateInput(h.schema, input); err != nil {
		return "Error: invalid arguments: " + err.Error(), nil
	}
	var args ledgerArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "Error: invalid arguments: " + err.Error(), nil
	}

	switch args.Action {
	case "create":
		return h.create(ownerID, args)
	case "update":
		return h.update(ownerID, args)
	case "complete":
		if args.ID == "" {
			return "Error: id is required for complete", nil
		}
		t, err := h.store.CompleteTask(ownerID, args.ID)
		if err != nil {
			return storeResult(err)
		}
		return fmt.Sprintf("Completed task %s: %s", t.ID, t.Title), nil
	case "list":
		return h.list(ownerID)
	case "get":
		if args.ID == "" {
			return "Error: id is required for get", nil
		}
		t, err := h.store.GetTask(ownerID, args.ID)
		if err != nil {
			return storeResult(err)
		}
		return renderTask(t), nil
	case "delete":
		if args.ID == "" {
			return "Error: id is required for delete", nil
		}
		if err := h.store.DeleteTask(ownerID, args.ID); err != nil {
			return storeResult(err)
		}
		return "Deleted task " + args.ID, nil
	}
	return fmt.Sprintf("Error: unknown action %q", args.Action), nil
}

func (h *LedgerHandler) create(ownerID string, args ledgerArgs) (string, error) {
	in := store.TaskInput{
		Title:      deref(args.Title),
		Priority:   store.TaskPriority(deref(args.Priority)),
		Context:    deref(args.Context),
		NextAction: deref(args.NextAction),
		ParentID:   args.ParentID,
	}
	if args.Tags != nil {
		in.Tags = *args.Tags
	}
	if args.Due != nil {
		due, err := parseDue(*args.Due)
		if err != nil {
			return "Error: " + err.Error(), nil
		}
		in.Due = &due
	}
	t, err := h.store.CreateTask(ownerID, in)
	if err != nil {
		return storeResult(err)
	}
	return fmt.Sprintf("Created task %s: %s [%s/%s]", t.ID, t.Title, t.Priority, t.Status), nil
}

func (h *LedgerHandler) update(ownerID string, args ledgerArgs) (string, error) {
	if args.ID == "" {
		return "Error: id is required for update", nil
	}
	upd := store.TaskUpdate{
		Title:      args.Title,
		Context:    args.Context,
		NextAction: args.NextAction,
		Blocker:    args.Blocker,
		WaitingFor: args.WaitingFor,
		Tags:       args.Tags,
	}
	if args.Status != nil {
		st := store.TaskStatus(*args.Status)
		upd.Status = &st
	}
	if args.Priority != nil {
		p := store.TaskPriority(*args.Priority)
		upd.Priority = &p
	}
	if args.Due != nil {
		due, err := parseDue(*args.Due)
		if err != nil {
			return "Error: " + err.Error(), nil
		}
		upd.Due = &due
	}
	t, err := h.store.UpdateTask(ownerID, args.ID, upd)
	if err != nil {
		return storeResult(err)
	}
	return fmt.Sprintf("Updated task %s: %s [%s/%s]", t.ID, t.Title, t.Priority, t.Status), nil
}

func (h *LedgerHandler) list(ownerID string) (string, error) {
	tasks, err := h.store.ListTasks(ownerID)
	if err != nil {
		return storeResult(err)
	}
	if len(tasks) == 0 {
		return "No tasks in the ledger.", nil
	}

	open := 0
	for _, t := range tasks {
		if !t.Status.Terminal() {
			open++
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tasks (%d open, %d total):\n", open, len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&sb, "- %s [%s/%s] %s", t.ID, t.Priority, t.Status, t.Title)
		if t.Due != nil {
			fmt.Fprintf(&sb, " (due %s)", t.Due.Format("2006-01-02"))
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func renderTask(t store.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task %s\n", t.ID)
	fmt.Fprintf(&sb, "Title: %s\n", t.Title)
	fmt.Fprintf(&sb, "Status: %s\n", t.Status)
	fmt.Fprintf(&sb, "Priority: %s\n", t.Priority)
	if t.Context != "" {
		fmt.Fprintf(&sb, "Context: %s\n", t.Context)
	}
	if t.NextAction != "" {
		fmt.Fprintf(&sb, "Next action: %s\n", t.NextAction)
	}
	if t.Blocker != "" {
		fmt.Fprintf(&sb, "Blocker: %s\n", t.Blocker)
	}
	if t.WaitingFor != "" {
		fmt.Fprintf(&sb, "Waiting for: %s\n", t.WaitingFor)
	}
	if len(t.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(t.Tags, ", "))
	}
	if t.ParentID != "" {
		fmt.Fprintf(&sb, "Parent: %s\n", t.ParentID)
	}
	if t.Due != nil {
		fmt.Fprintf(&sb, "Due: %s\n", t.Due.Format("2006-01-02"))
	}
	fmt.Fprintf(&sb, "Updated: %s", t.UpdatedAt.Format(time.RFC3339))
	if t.CompletedAt != nil {
		fmt.Fprintf(&sb, "\nCompleted: %s", t.CompletedAt.Format(time.RFC3339))
	}
	return sb.String()
}

// parseDue accepts an RFC3339 timestamp or a bare date.
func parseDue(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", s); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("due must be RFC3339 or YYYY-MM-DD, got %q", s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
