package engine

import (
	"context"

	"github.com/basket/workmem/internal/extract"
	"github.com/basket/workmem/internal/transcript"
)

// RunEnded queues the episode summarizer and the procedure miner for a
// finished run. Both are best-effort; the caller is never blocked and a
// pipeline failure costs that one record, nothing more.
func (e *Engine) RunEnded(ctx context.Context, run transcript.Run) {
	if run.OwnerID == "" || len(run.Messages) == 0 {
		return
	}
	e.dispatch(ctx, "episode", func(ctx context.Context) error {
		e.ex.Episode(ctx, run)
		return nil
	})
	e.dispatch(ctx, "procedure", func(ctx context.Context) error {
		e.ex.Procedure(ctx, run)
		return nil
	})
}

// Compact extracts facts from the messages that are about to be destroyed
// and marks the session as compacted, which unlocks scratch injection.
// It runs inline: once it returns the caller may discard the transcript.
func (e *Engine) Compact(ctx context.Context, run transcript.Run) extract.Result {
	res := e.ex.Facts(ctx, run)
	if run.SessionID != "" {
		if err := e.st.NoteCompaction(run.SessionID); err != nil {
			e.logger.Warn("compaction note failed", "session", run.SessionID, "error", err)
		}
	}
	return res
}
