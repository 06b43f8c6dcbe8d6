package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

type ownerStatus struct {
	Owner       string
	Corrections int
	Failures    int
	OpenTasks   int
	TotalTasks  int
}

func runStatusCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: workmem status")
		return 2
	}

	env, err := newEngineEnv(true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer env.Close()

	owners := env.cfg.OwnerKeys()
	rows := make([]ownerStatus, 0, len(owners))
	for _, owner := range owners {
		row := ownerStatus{Owner: owner}
		if cs, err := env.store.ListCorrections(owner); err == nil {
			row.Corrections = len(cs)
		}
		if fails, err := env.store.ListFailures(owner); err == nil {
			row.Failures = len(fails)
		}
		if tasks, err := env.store.ListTasks(owner); err == nil {
			row.TotalTasks = len(tasks)
			for _, task := range tasks {
				if !task.Status.Terminal() {
					row.OpenTasks++
				}
			}
		}
		rows = append(rows, row)
	}

	files, err := env.ws.Files()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list artifacts: %v\n", err)
		return 1
	}

	color := isatty.IsTerminal(os.Stdout.Fd())
	fmt.Print(renderStatus(rows, len(files), env.cfg.MemoryDir, color))
	return 0
}

func renderStatus(rows []ownerStatus, artifacts int, memoryDir string, color bool) string {
	bold := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	style := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}

	var sb strings.Builder
	sb.WriteString(style(bold, fmt.Sprintf("%-24s %12s %9s %12s", "OWNER", "CORRECTIONS", "FAILURES", "TASKS")))
	sb.WriteByte('\n')
	for _, r := range rows {
		tasks := fmt.Sprintf("%d/%d", r.OpenTasks, r.TotalTasks)
		sb.WriteString(fmt.Sprintf("%-24s %12d %9d %12s\n", r.Owner, r.Corrections, r.Failures, tasks))
	}
	sb.WriteString(style(dim, fmt.Sprintf("\n%d artifact files under %s", artifacts, memoryDir)))
	sb.WriteByte('\n')
	return sb.String()
}
