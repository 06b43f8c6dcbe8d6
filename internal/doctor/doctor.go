// Package doctor runs the engine's self-diagnostics: it verifies the
// state root, the persisted stores, the artifact workspace, and both
// search indexes, and reports one result per check.
package doctor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/workmem/internal/artifact"
	"github.com/basket/workmem/internal/config"
	"github.com/basket/workmem/internal/search"
	"github.com/basket/workmem/internal/store"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks against the configured state root.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkStateRoot,
		checkStores,
		checkArtifacts,
		checkKeywordIndex,
		checkVectorIndex,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsBootstrap {
		return CheckResult{
			Name:    "Config",
			Status:  "WARN",
			Message: "config.yaml missing, running on defaults",
			Detail:  fmt.Sprintf("Expected at %s", config.ConfigPath(cfg.StateRoot)),
		}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.StateRoot)}
}

func checkStateRoot(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "State Root", Status: "SKIP", Message: "Config missing"}
	}
	info, err := os.Stat(cfg.StateRoot)
	if err != nil {
		return CheckResult{Name: "State Root", Status: "FAIL", Message: fmt.Sprintf("Not accessible: %v", err)}
	}
	if !info.IsDir() {
		return CheckResult{Name: "State Root", Status: "FAIL", Message: fmt.Sprintf("%s is not a directory", cfg.StateRoot)}
	}
	testFile := filepath.Join(cfg.StateRoot, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "State Root", Status: "FAIL", Message: fmt.Sprintf("Not writable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "State Root", Status: "PASS", Message: fmt.Sprintf("%s writable", cfg.StateRoot)}
}

// checkStores opens the document store and reads every per-owner
// document for the default owner. A version mismatch or corrupt file
// surfaces here instead of at the first tool call.
func checkStores(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Stores", Status: "SKIP", Message: "Config missing"}
	}
	st, err := store.New(store.Config{
		Dir:    cfg.StateRoot,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return CheckResult{Name: "Stores", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}

	owner := cfg.DefaultOwner
	corrections, err := st.ListCorrections(owner)
	if err != nil {
		return CheckResult{Name: "Stores", Status: "FAIL", Message: fmt.Sprintf("Corrections unreadable: %v", err)}
	}
	failures, err := st.ListFailures(owner)
	if err != nil {
		return CheckResult{Name: "Stores", Status: "FAIL", Message: fmt.Sprintf("Tool failures unreadable: %v", err)}
	}
	tasks, err := st.ListTasks(owner)
	if err != nil {
		return CheckResult{Name: "Stores", Status: "FAIL", Message: fmt.Sprintf("Task ledger unreadable: %v", err)}
	}
	return CheckResult{
		Name:    "Stores",
		Status:  "PASS",
		Message: "Documents readable",
		Detail: fmt.Sprintf("owner=%s corrections=%d failures=%d tasks=%d",
			owner, len(corrections), len(failures), len(tasks)),
	}
}

func checkArtifacts(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Artifacts", Status: "SKIP", Message: "Config missing"}
	}
	ws, err := artifact.NewWorkspace(cfg.MemoryDir)
	if err != nil {
		return CheckResult{Name: "Artifacts", Status: "FAIL", Message: fmt.Sprintf("Workspace unavailable: %v", err)}
	}
	files, err := ws.Files()
	if err != nil {
		return CheckResult{Name: "Artifacts", Status: "FAIL", Message: fmt.Sprintf("Listing failed: %v", err)}
	}
	return CheckResult{
		Name:    "Artifacts",
		Status:  "PASS",
		Message: fmt.Sprintf("%d markdown files", len(files)),
		Detail:  cfg.MemoryDir,
	}
}

func checkKeywordIndex(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Keyword Index", Status: "SKIP", Message: "Config missing"}
	}
	path := filepath.Join(cfg.StateRoot, "index", "search.db")
	kw, err := search.OpenKeywordIndex(path)
	if err != nil {
		return CheckResult{Name: "Keyword Index", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer kw.Close()
	return CheckResult{Name: "Keyword Index", Status: "PASS", Message: "FTS schema valid", Detail: path}
}

func checkVectorIndex(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Vector Index", Status: "SKIP", Message: "Config missing"}
	}
	dir := filepath.Join(cfg.StateRoot, "index", "vectors")
	if _, err := search.OpenVectorIndex(dir, nil); err != nil {
		return CheckResult{Name: "Vector Index", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	return CheckResult{Name: "Vector Index", Status: "PASS", Message: "Collection loadable", Detail: dir}
}
