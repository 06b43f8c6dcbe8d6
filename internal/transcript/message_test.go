package transcript

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLastUserText(t *testing.T) {
	msgs := []Message{
		User{Text: "first"},
		Assistant{Text: "reply"},
		User{Text: "second"},
		ToolResult{Content: "data"},
	}
	if got := LastUserText(msgs); got != "second" {
		t.Fatalf("LastUserText = %q, want second", got)
	}
	if got := LastUserText(nil); got != "" {
		t.Fatalf("LastUserText(nil) = %q, want empty", got)
	}
}

func TestFirstStringParam_Preference(t *testing.T) {
	input := map[string]any{
		"url":     "https://example.com",
		"command": "ls -la",
		"count":   3,
	}
	if got := FirstStringParam(input, "command", "path", "query", "url"); got != "ls -la" {
		t.Fatalf("expected command preferred, got %q", got)
	}
	if got := FirstStringParam(map[string]any{"zz": "late", "aa": "early"}); got != "early" {
		t.Fatalf("expected sorted fallback, got %q", got)
	}
	if got := FirstStringParam(map[string]any{"n": 1}); got != "" {
		t.Fatalf("expected empty for non-string params, got %q", got)
	}
}

func TestRun_Duration(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	run := Run{StartedAt: start, EndedAt: start.Add(90 * time.Second)}
	if got := run.Duration(); got != 90*time.Second {
		t.Fatalf("duration = %v, want 90s", got)
	}
	if got := (Run{}).Duration(); got != 0 {
		t.Fatalf("zero-time duration = %v, want 0", got)
	}
	inverted := Run{StartedAt: start, EndedAt: start.Add(-time.Minute)}
	if got := inverted.Duration(); got != 0 {
		t.Fatalf("inverted duration = %v, want 0", got)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	run := Run{
		OwnerID:   "main",
		SessionID: "sess-1",
		Messages: []Message{
			User{Text: "fix the failing deploy", At: at},
			Assistant{
				Text: "Checking the pipeline.",
				ToolCalls: []ToolCall{
					{ID: "c1", Name: "run_shell", Input: map[string]any{"command": "kubectl get pods"}},
				},
				At: at.Add(time.Second),
			},
			ToolResult{CallID: "c1", ToolName: "run_shell", Content: "3 pods running", At: at.Add(2 * time.Second)},
		},
		StartedAt: at,
		EndedAt:   at.Add(time.Minute),
		Success:   true,
	}

	var buf bytes.Buffer
	if err := EncodeRun(&buf, run); err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRun(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Messages) != 3 {
		t.Fatalf("decoded %d messages, want 3", len(decoded.Messages))
	}
	asst, ok := decoded.Messages[1].(Assistant)
	if !ok {
		t.Fatalf("message 1 type %T, want Assistant", decoded.Messages[1])
	}
	if len(asst.ToolCalls) != 1 || asst.ToolCalls[0].Name != "run_shell" {
		t.Fatalf("tool calls did not round-trip: %+v", asst.ToolCalls)
	}
	if got := StringParam(asst.ToolCalls[0].Input, "command"); got != "kubectl get pods" {
		t.Fatalf("input param did not round-trip: %q", got)
	}
	tr, ok := decoded.Messages[2].(ToolResult)
	if !ok || tr.CallID != "c1" {
		t.Fatalf("tool result did not round-trip: %+v", decoded.Messages[2])
	}
}

func TestDecodeRun_UnknownRole(t *testing.T) {
	payload := `{"messages":[{"role":"system","text":"nope"}]}`
	if _, err := DecodeRun(strings.NewReader(payload)); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
