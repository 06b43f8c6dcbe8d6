package main

import (
	"context"
	"strings"
	"testing"

	"github.com/basket/workmem/internal/bus"
)

func TestRunWatchCommand_ExtraArgs(t *testing.T) {
	code := runWatchCommand(context.Background(), []string{"extra"})
	if code != 2 {
		t.Fatalf("got exit code %d, want 2", code)
	}
}

func TestRunWatchCommand_CancelledContext(t *testing.T) {
	setTestHome(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Setup completes, then the loop observes the dead context and exits.
	code := runWatchCommand(ctx, nil)
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name    string
		event   bus.Event
		wantSub []string
	}{
		{
			name:    "facts",
			event:   bus.Event{Payload: bus.FactsExtractedEvent{OwnerID: "default", ArtifactPath: "facts/x.md", FactCount: 3}},
			wantSub: []string{"facts", "default", "3 extracted", "facts/x.md"},
		},
		{
			name:    "episode failure",
			event:   bus.Event{Payload: bus.EpisodeRecordedEvent{OwnerID: "default", ToolCount: 2, Success: false}},
			wantSub: []string{"episode", "2 tools", "failed"},
		},
		{
			name:    "procedure",
			event:   bus.Event{Payload: bus.ProcedureMinedEvent{OwnerID: "default", Name: "Rotate keys", Steps: 4}},
			wantSub: []string{"procedure", `"Rotate keys"`, "4 steps"},
		},
		{
			name:    "correction",
			event:   bus.Event{Payload: bus.CorrectionStoredEvent{OwnerID: "default", Category: "factual", Confidence: 0.8}},
			wantSub: []string{"correction", "factual", "0.80"},
		},
		{
			name:    "failure",
			event:   bus.Event{Payload: bus.FailureStoredEvent{OwnerID: "default", ToolName: "web_fetch", Category: "rate_limit", Count: 3}},
			wantSub: []string{"failure", "web_fetch/rate_limit", "3x"},
		},
		{
			name:    "alert",
			event:   bus.Event{Payload: bus.ProactiveAlertEvent{OwnerID: "default", Types: []string{"stale_task", "repeated_failure"}}},
			wantSub: []string{"alert", "stale_task, repeated_failure"},
		},
		{
			name:    "index",
			event:   bus.Event{Payload: bus.IndexUpdatedEvent{Files: 5, Chunks: 41}},
			wantSub: []string{"index", "5 files", "41 chunks"},
		},
		{
			name:    "unknown payload falls back to topic",
			event:   bus.Event{Topic: "memory.custom", Payload: 42},
			wantSub: []string{"memory.custom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := formatEvent(tt.event)
			for _, want := range tt.wantSub {
				if !strings.Contains(line, want) {
					t.Errorf("line %q missing %q", line, want)
				}
			}
		})
	}
}
