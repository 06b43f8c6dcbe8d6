// Package artifact manages the markdown memory workspace: the
// human-readable files the extraction pipelines write and the search
// indexer reads. All paths are confined to the workspace root via
// traversal protection.
package artifact

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/basket/workmem/internal/shared"
)

// Workspace subdirectories, one per artifact family.
const (
	DirFacts      = "compaction-facts"
	DirEpisodes   = "episodes"
	DirProcedures = "procedures"
)

const (
	maxReadBytes   = 1 * 1024 * 1024 // 1 MB
	maxWalkFiles   = 500
	maxSearchDepth = 3
	maxSearchHits  = 100
)

// File describes one artifact file.
type File struct {
	Path    string    `json:"path"` // workspace-relative
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// SearchHit is one matching line from a workspace grep.
type SearchHit struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Workspace is a sandboxed markdown workspace rooted at rootDir.
type Workspace struct {
	rootDir string
}

// NewWorkspace creates a Workspace rooted at rootDir. The directory is
// created if it does not already exist.
func NewWorkspace(rootDir string) (*Workspace, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("artifact: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create root dir: %w", err)
	}
	// Resolve symlinks in root to prevent bypass.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("artifact: eval symlinks on root: %w", err)
	}
	return &Workspace{rootDir: resolved}, nil
}

// Root returns the resolved workspace root.
func (w *Workspace) Root() string { return w.rootDir }

// resolve validates that path stays within the workspace root. It
// returns the absolute path or an error if traversal is detected.
func (w *Workspace) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("artifact: empty path")
	}

	cleaned := filepath.Clean(path)
	var full string
	if filepath.IsAbs(cleaned) {
		full = cleaned
	} else {
		full = filepath.Join(w.rootDir, cleaned)
	}

	abs, err := filepath.Abs(full)
	if err != nil {
		return "", fmt.Errorf("artifact: resolve path: %w", err)
	}

	// Resolve symlinks to prevent traversal via symlink.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// For paths that do not exist yet, walk up to the deepest
		// existing ancestor and resolve symlinks from there.
		resolved, err = evalSymlinksPartial(abs)
		if err != nil {
			return "", fmt.Errorf("artifact: resolve symlinks: %w", err)
		}
	}

	if resolved != w.rootDir && !strings.HasPrefix(resolved, w.rootDir+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact: path traversal blocked: %s", path)
	}
	return resolved, nil
}

// evalSymlinksPartial walks up from path until it finds an existing
// ancestor, resolves symlinks on that ancestor, then re-appends the
// remaining segments.
func evalSymlinksPartial(abs string) (string, error) {
	current := abs
	var trailing []string
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(trailing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, trailing[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %s", abs)
		}
		trailing = append(trailing, filepath.Base(current))
		current = parent
	}
}

// WriteBatch writes a brand-new file dir/stem.md and returns its
// relative path. Batch files are never appended to: a name collision
// picks the next -2, -3, ... suffix so repeated extraction batches
// cannot clobber each other.
func (w *Workspace) WriteBatch(dir, stem, content string) (string, error) {
	for i := 1; i <= 100; i++ {
		name := stem
		if i > 1 {
			name = fmt.Sprintf("%s-%d", stem, i)
		}
		rel := filepath.Join(dir, name+".md")
		resolved, err := w.resolve(rel)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(resolved); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("artifact: stat: %w", err)
		}
		if err := w.atomicWrite(resolved, content); err != nil {
			return "", err
		}
		return rel, nil
	}
	return "", fmt.Errorf("artifact: no free name for %s in %s", stem, dir)
}

// AppendDaily appends one entry to dir/<YYYY-MM-DD>.md. The header is
// written once when the file is created; later entries are separated by
// a --- rule.
func (w *Workspace) AppendDaily(dir string, day time.Time, header, entry string) (string, error) {
	rel := filepath.Join(dir, day.Format("2006-01-02")+".md")
	resolved, err := w.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("artifact: mkdir: %w", err)
	}

	var payload string
	if _, err := os.Stat(resolved); errors.Is(err, fs.ErrNotExist) {
		payload = header + "\n\n" + entry + "\n"
	} else if err != nil {
		return "", fmt.Errorf("artifact: stat: %w", err)
	} else {
		payload = "\n---\n\n" + entry + "\n"
	}

	f, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("artifact: open append: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(payload); err != nil {
		return "", fmt.Errorf("artifact: append: %w", err)
	}
	return rel, nil
}

// atomicWrite writes content via a temp file in the target directory
// followed by a rename.
func (w *Workspace) atomicWrite(resolved, content string) error {
	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifact: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".mem-*.tmp")
	if err != nil {
		return fmt.Errorf("artifact: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("artifact: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("artifact: close temp: %w", err)
	}
	if err := os.Rename(tmpName, resolved); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("artifact: rename: %w", err)
	}
	return nil
}

// Read returns the contents of one workspace file. Maximum size is 1 MB.
func (w *Workspace) Read(path string) (string, error) {
	resolved, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("artifact: stat: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("artifact: path is a directory")
	}
	if info.Size() > maxReadBytes {
		return "", fmt.Errorf("artifact: file too large: %d bytes (max %d)", info.Size(), maxReadBytes)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("artifact: read: %w", err)
	}
	return string(data), nil
}

// Files walks the workspace and returns markdown files (max 500),
// newest first. Used by the indexer and the status command.
func (w *Workspace) Files() ([]File, error) {
	var files []File
	err := filepath.WalkDir(w.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries
		}
		if len(files) >= maxWalkFiles {
			return fs.SkipAll
		}
		rel, relErr := filepath.Rel(w.rootDir, path)
		if relErr != nil {
			return nil
		}
		depth := 0
		if rel != "." {
			depth = strings.Count(rel, string(filepath.Separator)) + 1
		}
		if d.IsDir() {
			if depth > maxSearchDepth {
				return fs.SkipDir
			}
			return nil
		}
		if depth > maxSearchDepth || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		files = append(files, File{Path: rel, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: walk: %w", err)
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// Search performs a case-insensitive substring scan across workspace
// files: up to three levels deep, binary files skipped, at most 100
// hits. It is the degraded keyword path when the full-text index is
// unavailable.
func (w *Workspace) Search(query string) ([]SearchHit, error) {
	if query == "" {
		return nil, fmt.Errorf("artifact: empty search query")
	}
	lowerQuery := strings.ToLower(query)
	var hits []SearchHit

	err := filepath.WalkDir(w.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if len(hits) >= maxSearchHits {
			return fs.SkipAll
		}
		rel, relErr := filepath.Rel(w.rootDir, path)
		if relErr != nil {
			return nil
		}
		depth := 0
		if rel != "." {
			depth = strings.Count(rel, string(filepath.Separator)) + 1
		}
		if d.IsDir() {
			if depth > maxSearchDepth {
				return fs.SkipDir
			}
			return nil
		}
		if depth > maxSearchDepth {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil || info.Size() > maxReadBytes {
			return nil
		}

		f, fErr := os.Open(path)
		if fErr != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			if !utf8.ValidString(line) {
				return nil // binary-looking file, skip entirely
			}
			if strings.Contains(strings.ToLower(line), lowerQuery) {
				hits = append(hits, SearchHit{
					Path: rel,
					Line: lineNum,
					Text: shared.Truncate(line, 200),
				})
				if len(hits) >= maxSearchHits {
					return fs.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: search walk: %w", err)
	}
	return hits, nil
}
