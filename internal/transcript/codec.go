package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// envelope is the wire form of one message; Role discriminates which fields
// are meaningful.
type envelope struct {
	Role      Role           `json:"role"`
	Text      string         `json:"text,omitempty"`
	ToolCalls []toolCallWire `json:"tool_calls,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	At        time.Time      `json:"at,omitempty"`
}

type toolCallWire struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

type runWire struct {
	OwnerID   string     `json:"owner_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Messages  []envelope `json:"messages"`
	StartedAt time.Time  `json:"started_at,omitempty"`
	EndedAt   time.Time  `json:"ended_at,omitempty"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
}

func toEnvelope(m Message) envelope {
	switch v := m.(type) {
	case User:
		return envelope{Role: RoleUser, Text: v.Text, At: v.At}
	case Assistant:
		calls := make([]toolCallWire, 0, len(v.ToolCalls))
		for _, c := range v.ToolCalls {
			calls = append(calls, toolCallWire{ID: c.ID, Name: c.Name, Input: c.Input})
		}
		return envelope{Role: RoleAssistant, Text: v.Text, ToolCalls: calls, At: v.At}
	case ToolResult:
		return envelope{Role: RoleTool, CallID: v.CallID, ToolName: v.ToolName,
			Content: v.Content, IsError: v.IsError, At: v.At}
	default:
		return envelope{}
	}
}

func (e envelope) message() (Message, error) {
	switch e.Role {
	case RoleUser:
		return User{Text: e.Text, At: e.At}, nil
	case RoleAssistant:
		calls := make([]ToolCall, 0, len(e.ToolCalls))
		for _, c := range e.ToolCalls {
			calls = append(calls, ToolCall{ID: c.ID, Name: c.Name, Input: c.Input})
		}
		return Assistant{Text: e.Text, ToolCalls: calls, At: e.At}, nil
	case RoleTool:
		return ToolResult{CallID: e.CallID, ToolName: e.ToolName,
			Content: e.Content, IsError: e.IsError, At: e.At}, nil
	default:
		return nil, fmt.Errorf("unknown message role %q", e.Role)
	}
}

// EncodeRun writes a run as JSON.
func EncodeRun(w io.Writer, run Run) error {
	wire := runWire{
		OwnerID:   run.OwnerID,
		SessionID: run.SessionID,
		Messages:  make([]envelope, 0, len(run.Messages)),
		StartedAt: run.StartedAt,
		EndedAt:   run.EndedAt,
		Success:   run.Success,
		Error:     run.Error,
	}
	for _, m := range run.Messages {
		wire.Messages = append(wire.Messages, toEnvelope(m))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(wire)
}

// DecodeRun reads a run from JSON, rejecting entries with unknown roles.
func DecodeRun(r io.Reader) (Run, error) {
	var wire runWire
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return Run{}, fmt.Errorf("decode run: %w", err)
	}
	run := Run{
		OwnerID:   wire.OwnerID,
		SessionID: wire.SessionID,
		Messages:  make([]Message, 0, len(wire.Messages)),
		StartedAt: wire.StartedAt,
		EndedAt:   wire.EndedAt,
		Success:   wire.Success,
		Error:     wire.Error,
	}
	for i, e := range wire.Messages {
		m, err := e.message()
		if err != nil {
			return Run{}, fmt.Errorf("message %d: %w", i, err)
		}
		run.Messages = append(run.Messages, m)
	}
	return run, nil
}
