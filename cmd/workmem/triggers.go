package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/basket/workmem/internal/trigger"
)

func runTriggersCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("triggers", flag.ContinueOnError)
	ownerFlag := fs.String("owner", "", "evaluate a single owner instead of all configured owners")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: workmem triggers [-owner <key>]")
		return 2
	}

	env, err := newEngineEnv(true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer env.Close()

	ev, err := trigger.New(trigger.Config{
		Store:      env.store,
		Logger:     env.logger,
		WatchPaths: env.cfg.Triggers.WatchedFiles,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	owners := env.cfg.OwnerKeys()
	if *ownerFlag != "" {
		owners = []string{*ownerFlag}
	}

	fired := 0
	for _, owner := range owners {
		block, alerts := ev.Evaluate(ctx, owner)
		if block == "" {
			continue
		}
		fired += len(alerts)
		if len(owners) > 1 {
			fmt.Printf("# %s\n\n", owner)
		}
		fmt.Println(block)
	}
	if fired == 0 {
		fmt.Println("No alerts.")
	}
	return 0
}
