package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/basket/workmem/internal/shared"
)

const (
	planMaxSteps        = 30
	planInjectionBudget = 2000
)

// PlanStepStatus tracks one step of an execution plan.
type PlanStepStatus string

const (
	StepPending    PlanStepStatus = "pending"
	StepInProgress PlanStepStatus = "in_progress"
	StepDone       PlanStepStatus = "done"
	StepSkipped    PlanStepStatus = "skipped"
)

func validStepStatus(st PlanStepStatus) bool {
	switch st {
	case StepPending, StepInProgress, StepDone, StepSkipped:
		return true
	}
	return false
}

// PlanStep is one ordered step of a plan.
type PlanStep struct {
	Text   string         `json:"text"`
	Status PlanStepStatus `json:"status"`
}

// Plan is a session's current multi-step execution plan.
type Plan struct {
	Goal      string     `json:"goal"`
	Steps     []PlanStep `json:"steps"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// PlanUpdate marks one step and/or appends new steps. Step is 1-based;
// zero means no step change.
type PlanUpdate struct {
	Step     int
	Status   PlanStepStatus
	AddSteps []string
}

type planDoc struct {
	Version int   `json:"version"`
	Plan    *Plan `json:"plan,omitempty"`
}

// PlanCreate replaces the session's plan with a fresh one; all steps
// start pending.
func (s *Store) PlanCreate(sessionID, goal string, steps []string) (Plan, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return Plan{}, fmt.Errorf("%w: plan goal is required", ErrValidation)
	}
	var planSteps []PlanStep
	for _, step := range steps {
		step = strings.TrimSpace(step)
		if step == "" {
			continue
		}
		planSteps = append(planSteps, PlanStep{
			Text:   shared.Truncate(step, 300),
			Status: StepPending,
		})
	}
	if len(planSteps) == 0 {
		return Plan{}, fmt.Errorf("%w: plan needs at least one step", ErrValidation)
	}
	if len(planSteps) > planMaxSteps {
		return Plan{}, fmt.Errorf("%w: plan exceeds %d steps", ErrValidation, planMaxSteps)
	}

	path, rel, err := s.docPath(planDir, sessionID)
	if err != nil {
		return Plan{}, err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()

	now := s.now().UTC()
	doc := planDoc{
		Version: docVersion,
		Plan: &Plan{
			Goal:      shared.Truncate(goal, 300),
			Steps:     planSteps,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if err := s.saveDoc(path, &doc); err != nil {
		return Plan{}, err
	}
	return *doc.Plan, nil
}

// PlanUpdateStep applies a step status change and/or appends steps.
func (s *Store) PlanUpdateStep(sessionID string, upd PlanUpdate) (Plan, error) {
	path, rel, err := s.docPath(planDir, sessionID)
	if err != nil {
		return Plan{}, err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()

	var doc planDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return Plan{}, err
	}
	if doc.Plan == nil {
		return Plan{}, fmt.Errorf("%w: no plan for session", ErrNotFound)
	}

	if upd.Step != 0 {
		if upd.Step < 1 || upd.Step > len(doc.Plan.Steps) {
			return Plan{}, fmt.Errorf("%w: step %d out of range 1..%d",
				ErrValidation, upd.Step, len(doc.Plan.Steps))
		}
		if !validStepStatus(upd.Status) {
			return Plan{}, fmt.Errorf("%w: unknown step status %q", ErrValidation, upd.Status)
		}
		doc.Plan.Steps[upd.Step-1].Status = upd.Status
	}
	for _, step := range upd.AddSteps {
		step = strings.TrimSpace(step)
		if step == "" {
			continue
		}
		if len(doc.Plan.Steps) >= planMaxSteps {
			return Plan{}, fmt.Errorf("%w: plan exceeds %d steps", ErrValidation, planMaxSteps)
		}
		doc.Plan.Steps = append(doc.Plan.Steps, PlanStep{
			Text:   shared.Truncate(step, 300),
			Status: StepPending,
		})
	}
	doc.Plan.UpdatedAt = s.now().UTC()
	doc.Version = docVersion
	if err := s.saveDoc(path, &doc); err != nil {
		return Plan{}, err
	}
	return *doc.Plan, nil
}

// PlanGet returns the session's plan.
func (s *Store) PlanGet(sessionID string) (Plan, error) {
	path, _, err := s.docPath(planDir, sessionID)
	if err != nil {
		return Plan{}, err
	}
	var doc planDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return Plan{}, err
	}
	if doc.Plan == nil {
		return Plan{}, fmt.Errorf("%w: no plan for session", ErrNotFound)
	}
	return *doc.Plan, nil
}

// PlanClear removes the session's plan. Clearing an absent plan is not
// an error.
func (s *Store) PlanClear(sessionID string) error {
	path, rel, err := s.docPath(planDir, sessionID)
	if err != nil {
		return err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()
	return removeIfPresent(path)
}

// PlanInjection renders the plan as a checklist, or "" when none exists.
func (s *Store) PlanInjection(sessionID string) (string, error) {
	plan, err := s.PlanGet(sessionID)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	b := newBlockBuilder("## Execution plan", planInjectionBudget)
	b.add("Goal: " + plan.Goal)
	for i, step := range plan.Steps {
		b.addf("%d. %s %s", i+1, stepMarker(step.Status), step.Text)
	}
	return b.String(), nil
}

func stepMarker(st PlanStepStatus) string {
	switch st {
	case StepDone:
		return "[x]"
	case StepInProgress:
		return "[>]"
	case StepSkipped:
		return "[-]"
	}
	return "[ ]"
}
