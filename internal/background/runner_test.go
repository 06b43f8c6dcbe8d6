package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestRunner(t *testing.T, size int) *Runner {
	t.Helper()
	return NewRunner(Config{
		QueueSize: size,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestRunner_CloseDrainsJobsInSubmissionOrder(t *testing.T) {
	r := newTestRunner(t, 8)

	var mu sync.Mutex
	var order []string
	record := func(name string) Job {
		return Job{Name: name, Run: func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}}
	}

	// Queued before Start: they wait for the supervisor.
	for _, name := range []string{"episode", "procedure", "scratch"} {
		if !r.Submit(record(name)) {
			t.Fatalf("submit %s rejected", name)
		}
	}
	r.Start(context.Background())
	r.Close()

	if len(order) != 3 || order[0] != "episode" || order[1] != "procedure" || order[2] != "scratch" {
		t.Fatalf("unexpected run order: %v", order)
	}
}

func TestRunner_SubmitNeverBlocksWhenFull(t *testing.T) {
	r := newTestRunner(t, 2)

	noop := Job{Name: "noop", Run: func(context.Context) error { return nil }}
	if !r.Submit(noop) || !r.Submit(noop) {
		t.Fatal("queue rejected submissions under capacity")
	}
	if r.Submit(noop) {
		t.Fatal("expected a drop on a full queue")
	}
	r.Close()
}

func TestRunner_SurvivesPanicsAndErrors(t *testing.T) {
	r := newTestRunner(t, 8)
	r.Start(context.Background())
	defer r.Close()

	done := make(chan struct{})
	r.Submit(Job{Name: "boom", Run: func(context.Context) error { panic("boom") }})
	r.Submit(Job{Name: "fail", Run: func(context.Context) error { return errors.New("nope") }})
	r.Submit(Job{Name: "ok", Run: func(context.Context) error {
		close(done)
		return nil
	}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor died before the last job ran")
	}
}

func TestRunner_CloseTimeoutCancelsStuckJob(t *testing.T) {
	r := NewRunner(Config{
		QueueSize: 4,
		DrainWait: 50 * time.Millisecond,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	r.Start(context.Background())

	started := make(chan struct{})
	stuckErr := make(chan error, 1)
	r.Submit(Job{Name: "stuck", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		stuckErr <- ctx.Err()
		return ctx.Err()
	}})
	var ran bool
	r.Submit(Job{Name: "queued", Run: func(context.Context) error {
		ran = true
		return nil
	}})
	<-started

	closed := make(chan struct{})
	go func() {
		r.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the drain timeout")
	}

	select {
	case err := <-stuckErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("stuck job saw %v, want cancellation", err)
		}
	default:
		t.Fatal("stuck job was never canceled")
	}
	if ran {
		t.Fatal("job queued behind a stuck job must be discarded on timeout")
	}
}

func TestRunner_SubmitAfterCloseIsDropped(t *testing.T) {
	r := newTestRunner(t, 4)
	r.Start(context.Background())
	r.Close()

	if r.Submit(Job{Name: "late", Run: func(context.Context) error { return nil }}) {
		t.Fatal("submit after close must report a drop")
	}
	// A second Close is a no-op.
	r.Close()
}
