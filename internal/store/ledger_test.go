package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func mustCreateTask(t *testing.T, s *Store, owner string, in TaskInput) Task {
	t.Helper()
	task, err := s.CreateTask(owner, in)
	if err != nil {
		t.Fatalf("CreateTask(%q): %v", in.Title, err)
	}
	return task
}

func TestCreateTask_Defaults(t *testing.T) {
	s := newTestStore(t)
	task := mustCreateTask(t, s, "agent", TaskInput{Title: "  write the report  "})
	if task.Title != "write the report" {
		t.Fatalf("expected trimmed title, got %q", task.Title)
	}
	if task.Status != TaskActive || task.Priority != PriorityNormal {
		t.Fatalf("expected active/normal defaults, got %s/%s", task.Status, task.Priority)
	}
	if len(task.ID) != 8 {
		t.Fatalf("expected 8-char id, got %q", task.ID)
	}
	if task.CreatedAt.IsZero() || !task.UpdatedAt.Equal(task.CreatedAt) {
		t.Fatalf("expected matching timestamps, got %v / %v", task.CreatedAt, task.UpdatedAt)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateTask("agent", TaskInput{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing title: expected ErrValidation, got %v", err)
	}
	_, err := s.CreateTask("agent", TaskInput{Title: "x", Priority: "urgent"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("bad priority: expected ErrValidation, got %v", err)
	}
}

func TestCreateTask_RejectsAtOpenCap(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < ledgerNonTerminalCap; i++ {
		mustCreateTask(t, s, "agent", TaskInput{Title: fmt.Sprintf("task %d", i)})
	}
	_, err := s.CreateTask("agent", TaskInput{Title: "one too many"})
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity at %d open tasks, got %v", ledgerNonTerminalCap, err)
	}
}

func TestCreateTask_PrunesTerminalAtTotalCap(t *testing.T) {
	s := newTestStore(t)
	owner := "agent"

	for i := 0; i < 5; i++ {
		mustCreateTask(t, s, owner, TaskInput{Title: fmt.Sprintf("open %d", i)})
	}
	var firstDone string
	for i := 0; i < ledgerCap-5; i++ {
		task := mustCreateTask(t, s, owner, TaskInput{Title: fmt.Sprintf("done %d", i)})
		if _, err := s.CompleteTask(owner, task.ID); err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			firstDone = task.ID
		}
	}

	created := mustCreateTask(t, s, owner, TaskInput{Title: "needs room"})

	tasks, err := s.ListTasks(owner)
	if err != nil {
		t.Fatal(err)
	}
	want := ledgerCap - ledgerPruneBatch + 1
	if len(tasks) != want {
		t.Fatalf("expected %d tasks after pruning, got %d", want, len(tasks))
	}
	if _, err := s.GetTask(owner, firstDone); !errors.Is(err, ErrNotFound) {
		t.Fatalf("oldest completed task should be pruned, got %v", err)
	}
	if _, err := s.GetTask(owner, created.ID); err != nil {
		t.Fatalf("new task should exist: %v", err)
	}
}

func TestUpdateTask_CompletedAtLifecycle(t *testing.T) {
	s := newTestStore(t)
	task := mustCreateTask(t, s, "agent", TaskInput{Title: "finish the thing"})

	done, err := s.CompleteTask("agent", task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != TaskDone || done.CompletedAt == nil {
		t.Fatalf("expected done with completedAt, got %+v", done)
	}

	title := "finish the thing properly"
	renamed, err := s.UpdateTask("agent", task.ID, TaskUpdate{Title: &title})
	if err != nil {
		t.Fatal(err)
	}
	if renamed.CompletedAt == nil || !renamed.CompletedAt.Equal(*done.CompletedAt) {
		t.Fatal("completedAt should survive unrelated updates")
	}

	active := TaskActive
	reopened, err := s.UpdateTask("agent", task.ID, TaskUpdate{Status: &active})
	if err != nil {
		t.Fatal(err)
	}
	if reopened.CompletedAt != nil {
		t.Fatal("reopening should clear completedAt")
	}
}

func TestUpdateTask_ReopenRespectsOpenCap(t *testing.T) {
	s := newTestStore(t)
	closed := mustCreateTask(t, s, "agent", TaskInput{Title: "closed early"})
	if _, err := s.CompleteTask("agent", closed.ID); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < ledgerNonTerminalCap; i++ {
		mustCreateTask(t, s, "agent", TaskInput{Title: fmt.Sprintf("open %d", i)})
	}
	active := TaskActive
	_, err := s.UpdateTask("agent", closed.ID, TaskUpdate{Status: &active})
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity on reopen at cap, got %v", err)
	}
}

func TestUpdateTask_UnknownID(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetTask("agent", "nope1234"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	title := "x"
	if _, err := s.UpdateTask("agent", "nope1234", TaskUpdate{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteTask("agent", "nope1234"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete: expected ErrNotFound, got %v", err)
	}
}

func TestListTasks_OpenFirstInPriorityOrder(t *testing.T) {
	s := newTestStore(t)
	mustCreateTask(t, s, "agent", TaskInput{Title: "low job", Priority: PriorityLow})
	mustCreateTask(t, s, "agent", TaskInput{Title: "critical job", Priority: PriorityCritical})
	mustCreateTask(t, s, "agent", TaskInput{Title: "high job", Priority: PriorityHigh})
	finished := mustCreateTask(t, s, "agent", TaskInput{Title: "finished job", Priority: PriorityCritical})
	if _, err := s.CompleteTask("agent", finished.ID); err != nil {
		t.Fatal(err)
	}

	tasks, err := s.ListTasks("agent")
	if err != nil {
		t.Fatal(err)
	}
	gotTitles := []string{tasks[0].Title, tasks[1].Title, tasks[2].Title, tasks[3].Title}
	wantTitles := []string{"critical job", "high job", "low job", "finished job"}
	for i := range wantTitles {
		if gotTitles[i] != wantTitles[i] {
			t.Fatalf("position %d: expected %q, got %q (full order %v)",
				i, wantTitles[i], gotTitles[i], gotTitles)
		}
	}
}

func TestTasksInjection_RecentDoneWindow(t *testing.T) {
	cur := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s, err := New(Config{
		Dir:    t.TempDir(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock: func() time.Time {
			cur = cur.Add(time.Second)
			return cur
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	old := mustCreateTask(t, s, "agent", TaskInput{Title: "long finished"})
	if _, err := s.CompleteTask("agent", old.ID); err != nil {
		t.Fatal(err)
	}

	cur = cur.Add(8 * 24 * time.Hour)

	fresh := mustCreateTask(t, s, "agent", TaskInput{Title: "just finished"})
	if _, err := s.CompleteTask("agent", fresh.ID); err != nil {
		t.Fatal(err)
	}
	mustCreateTask(t, s, "agent", TaskInput{Title: "still going", Priority: PriorityHigh})

	block, err := s.TasksInjection("agent")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(block, "## Task ledger") {
		t.Fatalf("expected heading, got %q", block)
	}
	if !strings.Contains(block, "still going") {
		t.Fatalf("expected open task line, got %q", block)
	}
	if !strings.Contains(block, "Recently completed:") || !strings.Contains(block, "just finished") {
		t.Fatalf("expected recent completion, got %q", block)
	}
	if strings.Contains(block, "long finished") {
		t.Fatalf("completion older than a week should not appear, got %q", block)
	}
}

func TestTasksInjection_ShowsBlockerAndDue(t *testing.T) {
	s := newTestStore(t)
	task := mustCreateTask(t, s, "agent", TaskInput{Title: "ship release"})
	blocked := TaskBlocked
	blocker := "waiting on CI fix"
	if _, err := s.UpdateTask("agent", task.ID, TaskUpdate{Status: &blocked, Blocker: &blocker}); err != nil {
		t.Fatal(err)
	}
	due := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	mustCreateTask(t, s, "agent", TaskInput{Title: "file the form", Due: &due})

	block, err := s.TasksInjection("agent")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(block, "blocked: waiting on CI fix") {
		t.Fatalf("expected blocker in line, got %q", block)
	}
	if !strings.Contains(block, "[OVERDUE 2026-07-01]") {
		t.Fatalf("expected overdue marker, got %q", block)
	}
}
