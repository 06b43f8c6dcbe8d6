// Package transcript defines the closed message model the engine consumes.
// The host's LLM loop produces these; extraction pipelines pattern-match on
// the concrete type instead of probing untyped records.
package transcript

import (
	"sort"
	"strings"
	"time"
)

// Role tags a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the sealed union of transcript entries. Exactly three types
// implement it: User, Assistant, and ToolResult.
type Message interface {
	Role() Role
	When() time.Time
	sealed()
}

// User is a user-authored message.
type User struct {
	Text string
	At   time.Time
}

func (User) Role() Role        { return RoleUser }
func (m User) When() time.Time { return m.At }
func (User) sealed()           {}

// ToolCall is a tool invocation requested inside an assistant message.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Assistant is a model-authored message, possibly carrying tool calls.
type Assistant struct {
	Text      string
	ToolCalls []ToolCall
	At        time.Time
}

func (Assistant) Role() Role        { return RoleAssistant }
func (m Assistant) When() time.Time { return m.At }
func (Assistant) sealed()           {}

// ToolResult is the outcome of one tool call, matched to it by CallID.
type ToolResult struct {
	CallID   string
	ToolName string
	Content  string
	IsError  bool
	At       time.Time
}

func (ToolResult) Role() Role        { return RoleTool }
func (m ToolResult) When() time.Time { return m.At }
func (ToolResult) sealed()           {}

// Run bundles one finished agent run with its timing metadata.
type Run struct {
	OwnerID   string
	SessionID string
	Messages  []Message
	StartedAt time.Time
	EndedAt   time.Time
	Success   bool
	Error     string
}

// Duration returns the run's wall-clock duration, zero when timestamps are
// missing or inverted.
func (r Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() || r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// LastUserText returns the text of the last user message, "" when none.
func LastUserText(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if u, ok := msgs[i].(User); ok {
			return u.Text
		}
	}
	return ""
}

// StringParam extracts a string-valued tool input parameter, "" when absent
// or not a string.
func StringParam(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

// FirstStringParam returns the first non-empty string value in input,
// trying the preference list in order, then remaining keys sorted so the
// result is deterministic.
func FirstStringParam(input map[string]any, prefer ...string) string {
	for _, key := range prefer {
		if v := StringParam(input, key); strings.TrimSpace(v) != "" {
			return v
		}
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := input[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
