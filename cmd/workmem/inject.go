package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/basket/workmem/internal/bus"
	"github.com/basket/workmem/internal/engine"
	"github.com/basket/workmem/internal/tokenutil"
)

func runInjectCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("inject", flag.ContinueOnError)
	sessionFlag := fs.String("session", "", "session key for the scratch and plan blocks (defaults to the owner)")
	messageFlag := fs.String("message", "", "classify this message and show only the blocks its context selects")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "usage: workmem inject [-session <key>] [-message <text>] [owner]")
		return 2
	}

	env, err := newEngineEnv(true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer env.Close()

	owner := fs.Arg(0)
	if owner == "" {
		owner = env.cfg.DefaultOwner
	}
	session := *sessionFlag
	if session == "" {
		session = owner
	}

	if *messageFlag != "" {
		return injectForMessage(ctx, env, owner, session, *messageFlag)
	}

	builders := []struct {
		name  string
		build func() (string, error)
	}{
		{"corrections", func() (string, error) { return env.store.CorrectionsInjection(owner) }},
		{"tool failures", func() (string, error) { return env.store.FailuresInjection(owner) }},
		{"tasks", func() (string, error) { return env.store.TasksInjection(owner) }},
		{"scratch", func() (string, error) { return env.store.ScratchInjection(session) }},
		{"plan", func() (string, error) { return env.store.PlanInjection(session) }},
	}

	blocks := make([]string, 0, len(builders))
	for _, b := range builders {
		block, err := b.build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s injection: %v\n", b.name, err)
			continue
		}
		if block != "" {
			blocks = append(blocks, block)
		}
	}

	if len(blocks) == 0 {
		fmt.Println("Nothing to inject.")
		return 0
	}
	out := strings.Join(blocks, "\n\n")
	fmt.Println(out)
	fmt.Fprintf(os.Stderr, "\n%d chars, ~%d tokens\n", len(out), tokenutil.EstimateTokens(out))
	return 0
}

// injectForMessage previews the context-gated assembly: the same path the
// facade serves an embedding host, including the recall block.
func injectForMessage(ctx context.Context, env *engineEnv, owner, session, message string) int {
	b := bus.New()
	stack, err := env.openSearch(b)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer stack.Close()

	if _, _, err := stack.ix.Reindex(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "index pass: %v\n", err)
	}

	eng, err := engine.New(engine.Config{
		Store:     env.store,
		Workspace: env.ws,
		Search:    stack.svc,
		Logger:    env.logger,
		Bus:       b,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	out := eng.Inject(ctx, owner, session, message)
	if out == "" {
		fmt.Println("Nothing to inject.")
		return 0
	}
	fmt.Println(out)
	fmt.Fprintf(os.Stderr, "\n%d chars, ~%d tokens\n", len(out), tokenutil.EstimateTokens(out))
	return 0
}
