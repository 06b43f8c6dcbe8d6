package trigger

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	stateVersion = 1

	// One global file for all owners; keys carry the owner-specific
	// message text.
	stateFile    = "proactive-triggers.json"
	registryFile = "run-registry.json"
)

// fileState is the last observation of one watched file.
type fileState struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// stateDoc is the cross-run trigger state: which keys fired when, and
// what the watched files looked like last pass.
type stateDoc struct {
	Version int                  `json:"version"`
	Fired   map[string]time.Time `json:"fired,omitempty"`
	Files   map[string]fileState `json:"files,omitempty"`
}

// loadState reads the global trigger state. Any problem yields a fresh
// document: stale or missing state self-heals on the next pass.
func (e *Evaluator) loadState() *stateDoc {
	fresh := &stateDoc{
		Version: stateVersion,
		Fired:   map[string]time.Time{},
		Files:   map[string]fileState{},
	}

	data, err := os.ReadFile(e.statePath)
	if errors.Is(err, fs.ErrNotExist) {
		return fresh
	}
	if err != nil {
		e.logger.Warn("trigger state unreadable, starting fresh", "path", e.statePath, "error", err)
		return fresh
	}

	var st stateDoc
	if err := json.Unmarshal(data, &st); err != nil {
		e.logger.Warn("trigger state corrupt, starting fresh", "path", e.statePath, "error", err)
		return fresh
	}
	if st.Version > stateVersion {
		e.logger.Warn("trigger state from a newer version, starting fresh",
			"path", e.statePath, "version", st.Version)
		return fresh
	}
	if st.Fired == nil {
		st.Fired = map[string]time.Time{}
	}
	if st.Files == nil {
		st.Files = map[string]fileState{}
	}
	return &st
}

// saveState persists the trigger state atomically. Failures are logged
// and dropped; the next successful pass rewrites everything.
func (e *Evaluator) saveState(st *stateDoc) {
	st.Version = stateVersion
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		e.logger.Warn("trigger state encode failed", "error", err)
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(e.statePath), ".mem-*.tmp")
	if err != nil {
		e.logger.Warn("trigger state write failed", "error", err)
		return
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		e.logger.Warn("trigger state write failed", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		e.logger.Warn("trigger state write failed", "error", err)
		return
	}
	if err := os.Rename(tmp.Name(), e.statePath); err != nil {
		os.Remove(tmp.Name())
		e.logger.Warn("trigger state write failed", "error", err)
	}
}

// registeredRun is one sub-agent run in the host-maintained registry
// snapshot. An absent registry file means no runs are active.
type registeredRun struct {
	ID        string    `json:"id"`
	Task      string    `json:"task,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	Status    string    `json:"status,omitempty"` // "" and "active" count as running
}

type runRegistry struct {
	Runs []registeredRun `json:"runs"`
}

func (r registeredRun) active() bool {
	return r.Status == "" || r.Status == "active"
}

// loadRegistry reads the sub-agent run snapshot written by the host.
func (e *Evaluator) loadRegistry() []registeredRun {
	data, err := os.ReadFile(e.registryPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		e.logger.Warn("run registry unreadable", "path", e.registryPath, "error", err)
		return nil
	}
	var reg runRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		e.logger.Warn("run registry corrupt", "path", e.registryPath, "error", err)
		return nil
	}
	return reg.Runs
}
