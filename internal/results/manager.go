// Package results manages the shared results directory: per-run folders,
// attributing newly produced files to the run that produced them, and
// browsing/deleting what accumulated there.
package results

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
	"github.com/ttm-labs/ttm-orchestrator/internal/logger"
)

// resultExts are the file extensions the engine is known to produce.
var resultExts = map[string]bool{
	".csv":  true,
	".json": true,
}

// IsResultFile reports whether name has a recognized result extension.
func IsResultFile(name string) bool {
	return resultExts[strings.ToLower(filepath.Ext(name))]
}

// Manager operates on one shared results root.
type Manager struct {
	Root string
}

// NewManager creates a Manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{Root: dir}
}

// RunFolder returns the per-run directory path for an experiment.
func (m *Manager) RunFolder(id domain.ExperimentID) string {
	return filepath.Join(m.Root, id.String())
}

// CreateRunFolder creates the per-run directory before the engine starts,
// so the record can point at it from the first persisted write.
func (m *Manager) CreateRunFolder(id domain.ExperimentID) (string, error) {
	folder := m.RunFolder(id)
	if err := os.MkdirAll(folder, 0755); err != nil {
		return "", fmt.Errorf("create run folder: %w", err)
	}
	return folder, nil
}

// Snapshot returns the set of result filenames currently loose in the
// shared root. Taken before a run starts; anything not in the snapshot
// when the run ends is attributed to that run.
func (m *Manager) Snapshot() map[string]bool {
	existing := make(map[string]bool)
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		return existing
	}
	for _, e := range entries {
		if !e.IsDir() && IsResultFile(e.Name()) {
			existing[e.Name()] = true
		}
	}
	return existing
}

// MoveNew moves result files that appeared in the shared root since the
// snapshot into folder, returning the names actually moved. Individual
// move failures are logged and skipped; a partially moved set is
// acceptable. The diff is inherently racy when two runs finish at
// overlapping instants and the engine writes into the shared root; an
// engine that writes into the run folder directly makes this a no-op.
func (m *Manager) MoveNew(before map[string]bool, folder string) []string {
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		logger.Warn("cannot scan results dir", "dir", m.Root, "error", err)
		return nil
	}

	var moved []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !IsResultFile(name) || before[name] {
			continue
		}
		src := filepath.Join(m.Root, name)
		dst := filepath.Join(folder, name)
		if err := os.Rename(src, dst); err != nil {
			logger.Warn("could not move result file", "file", name, "error", err)
			continue
		}
		moved = append(moved, name)
	}
	sort.Strings(moved)
	return moved
}

// CountIn re-scans folder and returns the number of result files inside.
// Used after MoveNew instead of trusting the moved list: the folder may
// also hold files the engine wrote there directly.
func (m *Manager) CountIn(folder string) int {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && IsResultFile(e.Name()) {
			count++
		}
	}
	return count
}

// CountShared returns the number of loose result files in the shared root.
// Displayed while a run is in flight, before attribution happens.
func (m *Manager) CountShared() int {
	return len(m.Snapshot())
}

// Experiment describes one per-run folder (or the legacy loose files).
type Experiment struct {
	Folder     string    `json:"folder"`
	Path       string    `json:"path"`
	FileCount  int       `json:"file_count"`
	TotalBytes int64     `json:"total_bytes"`
	ModTime    time.Time `json:"mod_time"`
}

// ResultFile describes one file inside a run folder.
type ResultFile struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// ListExperiments returns per-run folders in the results root, newest
// first. Loose legacy files are reported under the pseudo-folder "".
func (m *Manager) ListExperiments() ([]Experiment, error) {
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read results dir: %w", err)
	}

	var out []Experiment
	loose := Experiment{Folder: "", Path: m.Root}
	for _, e := range entries {
		if !e.IsDir() {
			if !IsResultFile(e.Name()) {
				continue
			}
			if info, err := e.Info(); err == nil {
				loose.FileCount++
				loose.TotalBytes += info.Size()
				if info.ModTime().After(loose.ModTime) {
					loose.ModTime = info.ModTime()
				}
			}
			continue
		}
		exp := Experiment{Folder: e.Name(), Path: filepath.Join(m.Root, e.Name())}
		if info, err := e.Info(); err == nil {
			exp.ModTime = info.ModTime()
		}
		files, err := m.Files(e.Name())
		if err != nil {
			continue
		}
		exp.FileCount = len(files)
		for _, f := range files {
			exp.TotalBytes += f.Size
		}
		out = append(out, exp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ModTime.After(out[j].ModTime)
	})
	if loose.FileCount > 0 {
		out = append(out, loose)
	}
	return out, nil
}

// Files lists the result files inside one run folder.
func (m *Manager) Files(folder string) ([]ResultFile, error) {
	dir, err := m.resolve(folder)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read run folder: %w", err)
	}
	var out []ResultFile
	for _, e := range entries {
		if e.IsDir() || !IsResultFile(e.Name()) {
			continue
		}
		f := ResultFile{Name: e.Name()}
		if info, err := e.Info(); err == nil {
			f.Size = info.Size()
			f.ModTime = info.ModTime()
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes one run folder and everything in it.
func (m *Manager) Delete(folder string) error {
	dir, err := m.resolve(folder)
	if err != nil {
		return err
	}
	if dir == m.Root {
		return fmt.Errorf("refusing to delete the results root")
	}
	return os.RemoveAll(dir)
}

// resolve maps a folder name to a path inside the results root, rejecting
// anything that escapes it.
func (m *Manager) resolve(folder string) (string, error) {
	if folder == "" {
		return m.Root, nil
	}
	if folder != filepath.Base(folder) {
		return "", fmt.Errorf("invalid folder name: %q", folder)
	}
	return filepath.Join(m.Root, folder), nil
}
