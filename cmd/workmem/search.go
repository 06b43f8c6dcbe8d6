package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/basket/workmem/internal/classify"
	"github.com/basket/workmem/internal/search"
)

func runSearchCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	depthFlag := fs.String("depth", "normal", "recall depth: none, shallow, normal, deep")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: workmem search [-depth none|shallow|normal|deep] <query>")
		return 2
	}
	depth := classify.RecallDepth(*depthFlag)
	switch depth {
	case classify.RecallNone, classify.RecallShallow, classify.RecallNormal, classify.RecallDeep:
	default:
		fmt.Fprintf(os.Stderr, "unknown depth %q\n", *depthFlag)
		return 2
	}

	env, err := newEngineEnv(true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer env.Close()

	stack, err := env.openSearch(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer stack.Close()

	// Fold in anything written since the last pass; the indexer only
	// re-reads files whose size or mtime changed.
	if files, chunks, err := stack.ix.Reindex(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "reindex: %v\n", err)
	} else if files > 0 {
		fmt.Fprintf(os.Stderr, "reindexed %d files (%d chunks)\n", files, chunks)
	}

	results, err := stack.svc.Query(ctx, query, depth)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search: %v\n", err)
		return 1
	}

	color := isatty.IsTerminal(os.Stdout.Fd())
	fmt.Print(renderResults(results, color))
	return 0
}

func renderResults(results []search.HybridResult, color bool) string {
	if len(results) == 0 {
		return "No results.\n"
	}
	loc := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	var sb strings.Builder
	for i, r := range results {
		head := fmt.Sprintf("%d. %s:%d", i+1, r.Path, r.StartLine)
		meta := fmt.Sprintf("score %.2f via %s", r.Score, r.Source)
		if color {
			head = loc.Render(head)
			meta = dim.Render(meta)
		}
		fmt.Fprintf(&sb, "%s  (%s)\n", head, meta)
		for _, line := range strings.Split(strings.TrimRight(r.Snippet, "\n"), "\n") {
			fmt.Fprintf(&sb, "   %s\n", line)
		}
		if i < len(results)-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
