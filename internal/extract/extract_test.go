package extract

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/basket/workmem/internal/artifact"
	"github.com/basket/workmem/internal/bus"
)

var testStart = time.Date(2026, 8, 22, 9, 30, 0, 0, time.UTC)

func newTestExtractor(t *testing.T) (*Extractor, *artifact.Workspace, *bus.Bus) {
	t.Helper()
	ws, err := artifact.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	b := bus.New()
	e, err := New(Config{
		Workspace: ws,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Bus:       b,
		Clock:     func() time.Time { return testStart },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, ws, b
}

func TestNew_RequiresWorkspace(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing workspace")
	}
}

func TestRecovered_ConvertsPanicToNotLogged(t *testing.T) {
	e, _, _ := newTestExtractor(t)

	res := func() (res Result) {
		defer func() { e.recovered(context.Background(), "facts", recover(), &res) }()
		res = Result{Logged: true, Count: 3}
		panic("boom")
	}()

	if res.Logged {
		t.Fatal("panicking pipeline must report not logged")
	}
	if res.Err == nil {
		t.Fatal("expected recovered error")
	}
}

// drainEvent returns the next event on the subscription, failing the
// test when none arrives promptly.
func drainEvent(t *testing.T, sub *bus.Subscription) bus.Event {
	t.Helper()
	select {
	case ev := <-sub.Ch():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return bus.Event{}
	}
}
