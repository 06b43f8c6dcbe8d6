package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/workmem/internal/store"
)

// ExecutionPlanToolName is the name agents call the plan tool under.
const ExecutionPlanToolName = "execution_plan"

const planSchema = `{
	"type": "object",
	"required": ["action"],
	"properties": {
		"action": {"type": "string", "enum": ["create", "update", "get", "clear"]},
		"goal": {"type": "string"},
		"steps": {"type": "array", "items": {"type": "string"}},
		"step": {"type": "integer", "minimum": 1},
		"status": {"type": "string", "enum": ["pending", "in_progress", "done", "skipped"]},
		"addSteps": {"type": "array", "items": {"type": "string"}}
	}
}`

type planArgs struct {
	Action   string   `json:"action"`
	Goal     string   `json:"goal"`
	Steps    []string `json:"steps"`
	Step     int      `json:"step"`
	Status   string   `json:"status"`
	AddSteps []string `json:"addSteps"`
}

// PlanHandler serves the session's multi-step execution plan.
type PlanHandler struct {
	store  *store.Store
	schema *jsonschema.Schema
}

// NewPlanHandler compiles the input schema and wraps the store.
func NewPlanHandler(st *store.Store) (*PlanHandler, error) {
	schema, err := compileSchema(ExecutionPlanToolName, planSchema)
	if err != nil {
		return nil, err
	}
	return &PlanHandler{store: st, schema: schema}, nil
}

func (h *PlanHandler) Name() string { return ExecutionPlanToolName }

func (h *PlanHandler) Description() string {
	return "Keep a checklist for the current multi-step job. Actions: create (goal + steps), " +
		"update (mark a step pending/in_progress/done/skipped or append steps), get, clear."
}

// Handle routes one plan call.
func (h *PlanHandler) Handle(ctx context.Context, sessionID string, input json.RawMessage) (string, error) {
	if err := validateInput(h.schema, input); err != nil {
		return "Error: invalid arguments: " + err.Error(), nil
	}
	var args planArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "Error: invalid arguments: " + err.Error(), nil
	}

	switch args.Action {
	case "create":
		plan, err := h.store.PlanCreate(sessionID, args.Goal, args.Steps)
		if err != nil {
			return storeResult(err)
		}
		return "Created plan.\n" + renderPlan(plan), nil
	case "update":
		upd := store.PlanUpdate{
			Step:     args.Step,
			Status:   store.PlanStepStatus(args.Status),
			AddSteps: args.AddSteps,
		}
		plan, err := h.store.PlanUpdateStep(sessionID, upd)
		if err != nil {
			return storeResult(err)
		}
		return "Updated plan.\n" + renderPlan(plan), nil
	case "get":
		plan, err := h.store.PlanGet(sessionID)
		if err != nil {
			return storeResult(err)
		}
		return renderPlan(plan), nil
	case "clear":
		if err := h.store.PlanClear(sessionID); err != nil {
			return storeResult(err)
		}
		return "Cleared the execution plan.", nil
	}
	return fmt.Sprintf("Error: unknown action %q", args.Action), nil
}

func renderPlan(p store.Plan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n", p.Goal)
	for i, step := range p.Steps {
		fmt.Fprintf(&sb, "%d. %s %s\n", i+1, planMarker(step.Status), step.Text)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func planMarker(st store.PlanStepStatus) string {
	switch st {
	case store.StepDone:
		return "[x]"
	case store.StepInProgress:
		return "[>]"
	case store.StepSkipped:
		return "[-]"
	}
	return "[ ]"
}
