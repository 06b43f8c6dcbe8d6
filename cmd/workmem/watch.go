package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/basket/workmem/internal/bus"
	"github.com/basket/workmem/internal/search"
	"github.com/basket/workmem/internal/trigger"
)

// runWatchCommand runs the long-lived pieces of the engine in the
// foreground: the artifact index watcher and the trigger heartbeat, with
// every bus event tailed to stdout until interrupted.
func runWatchCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: workmem watch")
		return 2
	}

	env, err := newEngineEnv(true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer env.Close()

	b := bus.New()
	stack, err := env.openSearch(b)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer stack.Close()

	// Bring the indexes current before relying on change notifications.
	if files, chunks, err := stack.ix.Reindex(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "initial index pass: %v\n", err)
	} else {
		fmt.Printf("indexed %d files (%d chunks)\n", files, chunks)
	}

	watcher := search.NewWatcher(env.ws, stack.ix, env.logger)
	if err := watcher.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ev, err := trigger.New(trigger.Config{
		Store:      env.store,
		Logger:     env.logger,
		Bus:        b,
		WatchPaths: env.cfg.Triggers.WatchedFiles,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	schedule := env.cfg.HeartbeatSchedule
	if schedule == "" {
		schedule = fmt.Sprintf("*/%d * * * *", env.cfg.HeartbeatIntervalMinutes)
	}
	hb, err := trigger.NewHeartbeat(trigger.HeartbeatConfig{
		Evaluator: ev,
		Owners:    env.cfg.OwnerKeys,
		Logger:    env.logger,
		Schedule:  schedule,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	hb.Start(ctx)
	defer hb.Stop()

	if len(env.cfg.Triggers.WatchedFiles) > 0 {
		pw := trigger.NewPathWatcher(env.cfg.Triggers.WatchedFiles, hb.Kick, env.logger)
		if err := pw.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "path watcher: %v\n", err)
		}
	}

	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	fmt.Printf("watching %s (heartbeat %s), ctrl-c to stop\n", env.cfg.MemoryDir, schedule)
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nstopping")
			return 0
		case event := <-sub.Ch():
			if line := formatEvent(event); line != "" {
				fmt.Println(line)
			}
		}
	}
}

// formatEvent renders one bus event as a tail line. Unknown payloads
// fall back to the topic name.
func formatEvent(event bus.Event) string {
	stamp := time.Now().Format("15:04:05")
	switch p := event.Payload.(type) {
	case bus.FactsExtractedEvent:
		return fmt.Sprintf("%s  facts      %s: %d extracted -> %s", stamp, p.OwnerID, p.FactCount, p.ArtifactPath)
	case bus.EpisodeRecordedEvent:
		outcome := "ok"
		if !p.Success {
			outcome = "failed"
		}
		return fmt.Sprintf("%s  episode    %s: %d tools, %s", stamp, p.OwnerID, p.ToolCount, outcome)
	case bus.ProcedureMinedEvent:
		return fmt.Sprintf("%s  procedure  %s: %q (%d steps)", stamp, p.OwnerID, p.Name, p.Steps)
	case bus.CorrectionStoredEvent:
		return fmt.Sprintf("%s  correction %s: %s (%.2f)", stamp, p.OwnerID, p.Category, p.Confidence)
	case bus.FailureStoredEvent:
		return fmt.Sprintf("%s  failure    %s: %s/%s seen %dx", stamp, p.OwnerID, p.ToolName, p.Category, p.Count)
	case bus.ProactiveAlertEvent:
		return fmt.Sprintf("%s  alert      %s: %s", stamp, p.OwnerID, strings.Join(p.Types, ", "))
	case bus.IndexUpdatedEvent:
		return fmt.Sprintf("%s  index      %d files, %d chunks", stamp, p.Files, p.Chunks)
	}
	return fmt.Sprintf("%s  %s", stamp, event.Topic)
}
