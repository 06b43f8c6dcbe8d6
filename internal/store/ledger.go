package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/workmem/internal/shared"
)

const (
	ledgerCap            = 100
	ledgerNonTerminalCap = 25
	ledgerPruneBatch     = 10

	// Completed tasks stay visible in the injection for a week.
	ledgerRecentDoneLimit  = 5
	ledgerRecentDoneWindow = 7 * 24 * time.Hour

	taskInjectionBudget = 4000
)

// TaskStatus is the lifecycle state of a ledger task.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskBlocked   TaskStatus = "blocked"
	TaskWaiting   TaskStatus = "waiting"
	TaskDone      TaskStatus = "done"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status ends a task's lifecycle.
func (st TaskStatus) Terminal() bool {
	return st == TaskDone || st == TaskCancelled
}

func validTaskStatus(st TaskStatus) bool {
	switch st {
	case TaskActive, TaskBlocked, TaskWaiting, TaskDone, TaskCancelled:
		return true
	}
	return false
}

// TaskPriority orders tasks in listings; critical sorts first.
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityNormal   TaskPriority = "normal"
	PriorityLow      TaskPriority = "low"
)

func priorityRank(p TaskPriority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

func validTaskPriority(p TaskPriority) bool {
	return priorityRank(p) < 4
}

// Task is one ledger entry. ParentID is advisory and never validated
// against the ledger.
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	Context     string       `json:"context,omitempty"`
	NextAction  string       `json:"nextAction,omitempty"`
	Blocker     string       `json:"blocker,omitempty"`
	WaitingFor  string       `json:"waitingFor,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	ParentID    string       `json:"parentId,omitempty"`
	Due         *time.Time   `json:"due,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// TaskInput carries the fields accepted on create.
type TaskInput struct {
	Title      string
	Priority   TaskPriority // defaults to normal
	Context    string
	NextAction string
	Tags       []string
	ParentID   string
	Due        *time.Time
}

// TaskUpdate carries a partial update; nil fields are left unchanged.
type TaskUpdate struct {
	Title      *string
	Status     *TaskStatus
	Priority   *TaskPriority
	Context    *string
	NextAction *string
	Blocker    *string
	WaitingFor *string
	Tags       *[]string
	Due        *time.Time
}

type ledgerDoc struct {
	Version int    `json:"version"`
	Tasks   []Task `json:"tasks"`
}

func (d *ledgerDoc) nonTerminal() int {
	n := 0
	for _, t := range d.Tasks {
		if !t.Status.Terminal() {
			n++
		}
	}
	return n
}

func (d *ledgerDoc) find(id string) int {
	for i, t := range d.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// CreateTask appends a new active task. It fails with ErrCapacity when
// the owner already has 25 non-terminal tasks; at 100 total tasks it
// first prunes up to 10 oldest-updated terminal tasks to make room.
func (s *Store) CreateTask(ownerID string, in TaskInput) (Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Task{}, fmt.Errorf("%w: task title is required", ErrValidation)
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !validTaskPriority(priority) {
		return Task{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, in.Priority)
	}

	path, rel, err := s.docPath(ledgerDir, ownerID)
	if err != nil {
		return Task{}, err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()

	var doc ledgerDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return Task{}, err
	}

	if doc.nonTerminal() >= ledgerNonTerminalCap {
		return Task{}, fmt.Errorf("%w: %d open tasks; complete or cancel some first",
			ErrCapacity, ledgerNonTerminalCap)
	}
	if len(doc.Tasks) >= ledgerCap {
		pruned := s.pruneTerminal(&doc)
		if len(doc.Tasks) >= ledgerCap {
			return Task{}, fmt.Errorf("%w: ledger holds %d tasks", ErrCapacity, len(doc.Tasks))
		}
		s.countEvictions("task-ledger", pruned)
	}

	now := s.now().UTC()
	t := Task{
		ID:         s.newTaskID(&doc),
		Title:      shared.Truncate(title, 300),
		Status:     TaskActive,
		Priority:   priority,
		Context:    shared.Truncate(strings.TrimSpace(in.Context), 1000),
		NextAction: shared.Truncate(strings.TrimSpace(in.NextAction), 300),
		Tags:       normalizeTags(in.Tags),
		ParentID:   strings.TrimSpace(in.ParentID),
		Due:        in.Due,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	doc.Tasks = append(doc.Tasks, t)
	doc.Version = docVersion
	if err := s.saveDoc(path, &doc); err != nil {
		return Task{}, err
	}
	return t, nil
}

// pruneTerminal drops up to ledgerPruneBatch oldest-updated terminal
// tasks and returns how many were removed.
func (s *Store) pruneTerminal(doc *ledgerDoc) int {
	type cand struct {
		idx     int
		updated time.Time
	}
	var cands []cand
	for i, t := range doc.Tasks {
		if t.Status.Terminal() {
			cands = append(cands, cand{idx: i, updated: t.UpdatedAt})
		}
	}
	if len(cands) == 0 {
		return 0
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].updated.Before(cands[j].updated)
	})
	if len(cands) > ledgerPruneBatch {
		cands = cands[:ledgerPruneBatch]
	}
	drop := make(map[int]bool, len(cands))
	for _, c := range cands {
		drop[c.idx] = true
	}
	kept := doc.Tasks[:0]
	for i, t := range doc.Tasks {
		if !drop[i] {
			kept = append(kept, t)
		}
	}
	doc.Tasks = kept
	return len(cands)
}

// newTaskID returns a short id unique within the document.
func (s *Store) newTaskID(doc *ledgerDoc) string {
	for {
		id := uuid.NewString()[:8]
		if doc.find(id) == -1 {
			return id
		}
	}
}

// GetTask returns one task by id.
func (s *Store) GetTask(ownerID, id string) (Task, error) {
	path, _, err := s.docPath(ledgerDir, ownerID)
	if err != nil {
		return Task{}, err
	}
	var doc ledgerDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return Task{}, err
	}
	if i := doc.find(id); i >= 0 {
		return doc.Tasks[i], nil
	}
	return Task{}, fmt.Errorf("%w: task %s", ErrNotFound, id)
}

// UpdateTask applies a partial update. A transition into done/cancelled
// stamps CompletedAt; a reopen clears it and counts against the
// non-terminal cap.
func (s *Store) UpdateTask(ownerID, id string, upd TaskUpdate) (Task, error) {
	path, rel, err := s.docPath(ledgerDir, ownerID)
	if err != nil {
		return Task{}, err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()

	var doc ledgerDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return Task{}, err
	}
	i := doc.find(id)
	if i < 0 {
		return Task{}, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	t := doc.Tasks[i]

	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return Task{}, fmt.Errorf("%w: task title cannot be empty", ErrValidation)
		}
		t.Title = shared.Truncate(title, 300)
	}
	if upd.Priority != nil {
		if !validTaskPriority(*upd.Priority) {
			return Task{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, *upd.Priority)
		}
		t.Priority = *upd.Priority
	}
	if upd.Status != nil {
		next := *upd.Status
		if !validTaskStatus(next) {
			return Task{}, fmt.Errorf("%w: unknown status %q", ErrValidation, next)
		}
		now := s.now().UTC()
		switch {
		case next.Terminal() && !t.Status.Terminal():
			at := now
			t.CompletedAt = &at
		case !next.Terminal() && t.Status.Terminal():
			// Reopening must respect the open-task cap.
			if doc.nonTerminal() >= ledgerNonTerminalCap {
				return Task{}, fmt.Errorf("%w: %d open tasks; cannot reopen %s",
					ErrCapacity, ledgerNonTerminalCap, id)
			}
			t.CompletedAt = nil
		}
		t.Status = next
	}
	if upd.Context != nil {
		t.Context = shared.Truncate(strings.TrimSpace(*upd.Context), 1000)
	}
	if upd.NextAction != nil {
		t.NextAction = shared.Truncate(strings.TrimSpace(*upd.NextAction), 300)
	}
	if upd.Blocker != nil {
		t.Blocker = shared.Truncate(strings.TrimSpace(*upd.Blocker), 300)
	}
	if upd.WaitingFor != nil {
		t.WaitingFor = shared.Truncate(strings.TrimSpace(*upd.WaitingFor), 300)
	}
	if upd.Tags != nil {
		t.Tags = normalizeTags(*upd.Tags)
	}
	if upd.Due != nil {
		t.Due = upd.Due
	}
	t.UpdatedAt = s.now().UTC()

	doc.Tasks[i] = t
	doc.Version = docVersion
	if err := s.saveDoc(path, &doc); err != nil {
		return Task{}, err
	}
	return t, nil
}

// CompleteTask marks a task done.
func (s *Store) CompleteTask(ownerID, id string) (Task, error) {
	done := TaskDone
	return s.UpdateTask(ownerID, id, TaskUpdate{Status: &done})
}

// DeleteTask removes a task by id.
func (s *Store) DeleteTask(ownerID, id string) error {
	path, rel, err := s.docPath(ledgerDir, ownerID)
	if err != nil {
		return err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()

	var doc ledgerDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return err
	}
	i := doc.find(id)
	if i < 0 {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	doc.Tasks = append(doc.Tasks[:i], doc.Tasks[i+1:]...)
	doc.Version = docVersion
	return s.saveDoc(path, &doc)
}

// ListTasks returns all tasks: open tasks first in priority order (then
// most recently updated), followed by terminal tasks newest-first.
func (s *Store) ListTasks(ownerID string) ([]Task, error) {
	path, _, err := s.docPath(ledgerDir, ownerID)
	if err != nil {
		return nil, err
	}
	var doc ledgerDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return nil, err
	}
	tasks := make([]Task, len(doc.Tasks))
	copy(tasks, doc.Tasks)
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Status.Terminal() != b.Status.Terminal() {
			return !a.Status.Terminal()
		}
		if !a.Status.Terminal() {
			if pa, pb := priorityRank(a.Priority), priorityRank(b.Priority); pa != pb {
				return pa < pb
			}
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
	return tasks, nil
}

// TasksInjection renders open tasks in priority order plus up to five
// tasks completed within the last week.
func (s *Store) TasksInjection(ownerID string) (string, error) {
	tasks, err := s.ListTasks(ownerID)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "", nil
	}

	now := s.now().UTC()
	b := newBlockBuilder("## Task ledger", taskInjectionBudget)
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		b.add(taskLine(t, now))
	}

	var recent []Task
	for _, t := range tasks {
		if t.Status == TaskDone && t.CompletedAt != nil &&
			now.Sub(*t.CompletedAt) <= ledgerRecentDoneWindow {
			recent = append(recent, t)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].CompletedAt.After(*recent[j].CompletedAt)
	})
	if len(recent) > ledgerRecentDoneLimit {
		recent = recent[:ledgerRecentDoneLimit]
	}
	if len(recent) > 0 && b.fits(len("Recently completed:")+40) {
		b.add("Recently completed:")
		for _, t := range recent {
			b.addf("- %s (done %s)", shared.Truncate(t.Title, 120), ageString(now, *t.CompletedAt))
		}
	}
	return b.String(), nil
}

func taskLine(t Task, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- [%s/%s] %s", t.Priority, t.Status, shared.Truncate(t.Title, 120))
	switch {
	case t.Status == TaskBlocked && t.Blocker != "":
		fmt.Fprintf(&sb, " | blocked: %s", shared.Truncate(t.Blocker, 80))
	case t.Status == TaskWaiting && t.WaitingFor != "":
		fmt.Fprintf(&sb, " | waiting: %s", shared.Truncate(t.WaitingFor, 80))
	case t.NextAction != "":
		fmt.Fprintf(&sb, " | next: %s", shared.Truncate(t.NextAction, 80))
	}
	if t.Due != nil {
		if t.Due.Before(now) {
			fmt.Fprintf(&sb, " [OVERDUE %s]", t.Due.Format("2006-01-02"))
		} else {
			fmt.Fprintf(&sb, " [due %s]", t.Due.Format("2006-01-02"))
		}
	}
	fmt.Fprintf(&sb, " (%s, updated %s)", t.ID, ageString(now, t.UpdatedAt))
	return sb.String()
}

func normalizeTags(tags []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == 10 {
			break
		}
	}
	return out
}
