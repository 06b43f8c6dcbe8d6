package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/workmem/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		StateRoot:    root,
		MemoryDir:    filepath.Join(root, "memory"),
		DefaultOwner: "default",
	}
}

func TestRun_FreshStateRootPasses(t *testing.T) {
	cfg := testConfig(t)
	diag := Run(context.Background(), cfg, "test")

	if len(diag.Results) == 0 {
		t.Fatal("no check results")
	}
	for _, res := range diag.Results {
		if res.Status == "FAIL" {
			t.Errorf("%s failed on a fresh state root: %s", res.Name, res.Message)
		}
	}
	if diag.System.Version != "test" {
		t.Errorf("version = %q", diag.System.Version)
	}
}

func TestCheckConfig_NilAndBootstrap(t *testing.T) {
	if res := checkConfig(context.Background(), nil); res.Status != "FAIL" {
		t.Errorf("nil config: status = %s", res.Status)
	}

	cfg := testConfig(t)
	cfg.NeedsBootstrap = true
	if res := checkConfig(context.Background(), cfg); res.Status != "WARN" {
		t.Errorf("bootstrap config: status = %s", res.Status)
	}

	cfg.NeedsBootstrap = false
	if res := checkConfig(context.Background(), cfg); res.Status != "PASS" {
		t.Errorf("loaded config: status = %s", res.Status)
	}
}

func TestCheckStateRoot_Missing(t *testing.T) {
	cfg := testConfig(t)
	cfg.StateRoot = filepath.Join(cfg.StateRoot, "does-not-exist")

	if res := checkStateRoot(context.Background(), cfg); res.Status != "FAIL" {
		t.Errorf("missing root: status = %s (%s)", res.Status, res.Message)
	}
}

func TestCheckStores_CorruptDocumentFails(t *testing.T) {
	cfg := testConfig(t)
	dir := filepath.Join(cfg.StateRoot, "task-ledger")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "default.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := checkStores(context.Background(), cfg)
	if res.Status != "FAIL" {
		t.Errorf("corrupt ledger: status = %s (%s)", res.Status, res.Message)
	}
}

func TestCheckKeywordIndex_CreatesDatabase(t *testing.T) {
	cfg := testConfig(t)
	res := checkKeywordIndex(context.Background(), cfg)
	if res.Status != "PASS" {
		t.Fatalf("status = %s (%s)", res.Status, res.Message)
	}
	if _, err := os.Stat(filepath.Join(cfg.StateRoot, "index", "search.db")); err != nil {
		t.Errorf("index file missing: %v", err)
	}
}
