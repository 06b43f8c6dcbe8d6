package engine

import (
	"context"

	"github.com/basket/workmem/internal/bus"
	"github.com/basket/workmem/internal/classify"
	"github.com/basket/workmem/internal/store"
	"github.com/basket/workmem/internal/transcript"
)

// ObserveTurn records what one completed turn produced: a detected user
// correction, classified tool failures, and scratch-worthy tool results.
// The work is queued and the call returns immediately.
func (e *Engine) ObserveTurn(ctx context.Context, ownerID, sessionID string, msgs []transcript.Message) {
	if ownerID == "" || len(msgs) == 0 {
		return
	}
	e.dispatch(ctx, "turn capture", func(context.Context) error {
		calls := callsByID(msgs)
		e.captureCorrection(ownerID, msgs)
		e.captureFailures(ownerID, msgs, calls)
		if sessionID != "" {
			e.captureScratch(sessionID, msgs, calls)
		}
		return nil
	})
}

// callsByID indexes the turn's tool calls so results can be matched back
// to what was asked.
func callsByID(msgs []transcript.Message) map[string]transcript.ToolCall {
	calls := map[string]transcript.ToolCall{}
	for _, m := range msgs {
		a, ok := m.(transcript.Assistant)
		if !ok {
			continue
		}
		for _, call := range a.ToolCalls {
			if call.ID != "" {
				calls[call.ID] = call
			}
		}
	}
	return calls
}

// captureCorrection runs the correction detector over the turn's last
// user message and records a hit with the surrounding exchange as
// context.
func (e *Engine) captureCorrection(ownerID string, msgs []transcript.Message) {
	idx := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if _, ok := msgs[i].(transcript.User); ok {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	user := msgs[idx].(transcript.User)

	var priorAssistant, priorUser string
	for i := idx - 1; i >= 0 && (priorAssistant == "" || priorUser == ""); i-- {
		switch m := msgs[i].(type) {
		case transcript.Assistant:
			if priorAssistant == "" {
				priorAssistant = m.Text
			}
		case transcript.User:
			if priorUser == "" {
				priorUser = m.Text
			}
		}
	}

	sig := classify.DetectCorrection(classify.CorrectionInput{
		UserMessage:    user.Text,
		PriorAssistant: priorAssistant,
		PriorUser:      priorUser,
	})
	if !sig.Detected {
		return
	}
	rule := ""
	if len(sig.MatchedRules) > 0 {
		rule = sig.MatchedRules[0]
	}
	c, err := e.st.AddCorrection(ownerID, store.CorrectionInput{
		Context:        priorUser,
		AgentSaid:      priorAssistant,
		CorrectionText: user.Text,
		Rule:           rule,
		Category:       sig.Category,
		Confidence:     sig.Confidence,
	})
	if err != nil {
		e.logger.Warn("correction capture failed", "owner", ownerID, "error", err)
		return
	}
	e.publish(bus.TopicCorrectionStored, bus.CorrectionStoredEvent{
		OwnerID:    ownerID,
		Category:   string(c.Category),
		Confidence: c.Confidence,
	})
	e.logger.Info("correction recorded",
		"owner", ownerID, "category", c.Category, "confidence", c.Confidence)
}

// captureFailures classifies every failed tool result in the turn and
// merges each into the owner's failure store.
func (e *Engine) captureFailures(ownerID string, msgs []transcript.Message, calls map[string]transcript.ToolCall) {
	for _, m := range msgs {
		tr, ok := m.(transcript.ToolResult)
		if !ok || !tr.IsError {
			continue
		}
		tool := tr.ToolName
		if tool == "" {
			tool = calls[tr.CallID].Name
		}
		if tool == "" {
			continue
		}
		category, ok := classify.ClassifyToolError(tr.Content)
		if !ok {
			continue
		}
		f, err := e.st.RecordFailure(ownerID, store.ToolFailureInput{
			ToolName: tool,
			Category: category,
			Pattern:  classify.NormalizeErrorPattern(tr.Content),
		})
		if err != nil {
			e.logger.Warn("failure capture failed", "owner", ownerID, "tool", tool, "error", err)
			continue
		}
		e.publish(bus.TopicFailureStored, bus.FailureStoredEvent{
			OwnerID:  ownerID,
			ToolName: f.ToolName,
			Category: string(f.Category),
			Count:    f.Count,
		})
	}
}

// captureScratch offers every successful tool result to the session pad.
// The store applies the allow-list and the FIFO cap; the matched call's
// most salient parameter becomes the entry's context line.
func (e *Engine) captureScratch(sessionID string, msgs []transcript.Message, calls map[string]transcript.ToolCall) {
	for _, m := range msgs {
		tr, ok := m.(transcript.ToolResult)
		if !ok || tr.IsError {
			continue
		}
		tool := tr.ToolName
		if tool == "" {
			tool = calls[tr.CallID].Name
		}
		var asked string
		if call, ok := calls[tr.CallID]; ok {
			asked = transcript.FirstStringParam(call.Input, "command", "path", "query", "url")
		}
		if _, err := e.st.CaptureScratch(sessionID, store.ScratchInput{
			Tool:    tool,
			Context: asked,
			Output:  tr.Content,
		}); err != nil {
			e.logger.Warn("scratch capture failed", "session", sessionID, "tool", tool, "error", err)
		}
	}
}
