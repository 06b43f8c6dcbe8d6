package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

SUBCOMMANDS:
  %s status                   Show per-owner store counts and artifact totals
  %s doctor [-json]           Run state directory diagnostics
  %s search [flags] <query>   Run a hybrid search over the memory artifacts
                              Flags: -depth none|shallow|normal|deep (default normal)
  %s triggers [-owner <key>]  Run one proactive trigger pass and print alerts
  %s inject [flags] [owner]   Print the combined injection preview for an owner
                              Flags: -session <key>, -message <text> (context-gated)
  %s tool [name [json]]       List the agent-facing tools or invoke one directly
  %s watch                    Run the heartbeat and artifact indexer until interrupted

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  WORKMEM_HOME                State directory (default: ~/.workmem)
  WORKMEM_LOG_LEVEL           debug|info|warn|error
  WORKMEM_DEFAULT_OWNER       Owner key used when -owner is omitted

EXAMPLES:
  Store counts:             %s status
  Diagnostics as JSON:      %s doctor -json
  Deep recall:              %s search -depth deep "tls certificate renewal"
  Injection preview:        %s inject default
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	case "status":
		os.Exit(runStatusCommand(ctx, args[1:]))
	case "doctor":
		os.Exit(runDoctorCommand(ctx, args[1:]))
	case "search":
		os.Exit(runSearchCommand(ctx, args[1:]))
	case "triggers":
		os.Exit(runTriggersCommand(ctx, args[1:]))
	case "inject":
		os.Exit(runInjectCommand(ctx, args[1:]))
	case "tool":
		os.Exit(runToolCommand(ctx, args[1:]))
	case "watch":
		os.Exit(runWatchCommand(ctx, args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}
