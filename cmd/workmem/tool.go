package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/basket/workmem/internal/tools"
)

// runToolCommand lists the agent-facing tools or invokes one with raw
// JSON input, exercising the same handler path the host's model loop
// uses.
func runToolCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("tool", flag.ContinueOnError)
	ownerFlag := fs.String("owner", "", "owner key (defaults to the configured default owner)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 2 {
		fmt.Fprintln(os.Stderr, "usage: workmem tool [-owner <key>] [<name> [<json-input>]]")
		return 2
	}

	env, err := newEngineEnv(true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer env.Close()

	reg, err := tools.NewRegistry(env.store)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if fs.NArg() == 0 {
		for _, name := range reg.Names() {
			h, _ := reg.Get(name)
			fmt.Printf("%-16s %s\n", name, h.Description())
		}
		return 0
	}

	owner := *ownerFlag
	if owner == "" {
		owner = env.cfg.DefaultOwner
	}
	input := json.RawMessage("{}")
	if fs.NArg() == 2 {
		input = json.RawMessage(fs.Arg(1))
	}

	out, err := reg.Dispatch(ctx, fs.Arg(0), owner, input)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(out)
	if strings.HasPrefix(out, "Error:") {
		return 1
	}
	return 0
}
