package main

import (
	"context"
	"testing"
)

func TestRunDoctorCommand_FreshRoot(t *testing.T) {
	setTestHome(t)

	// A fresh root warns about the missing config.yaml but every check
	// creates what it needs, so nothing fails.
	code := runDoctorCommand(context.Background(), nil)
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
}

func TestRunDoctorCommand_JSONOutput(t *testing.T) {
	setTestHome(t)

	code := runDoctorCommand(context.Background(), []string{"-json"})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0 for JSON output", code)
	}
}

func TestRunDoctorCommand_DoubleDashJSON(t *testing.T) {
	setTestHome(t)

	code := runDoctorCommand(context.Background(), []string{"--json"})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0 for --json", code)
	}
}
