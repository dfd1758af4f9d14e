package results

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestManager_MoveNewPartition(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	// pre-existing files must stay put
	writeFile(t, filepath.Join(root, "old1.csv"))
	writeFile(t, filepath.Join(root, "old2.json"))
	before := m.Snapshot()
	if len(before) != 2 {
		t.Fatalf("len(Snapshot()) = %d, want 2", len(before))
	}

	// the run produces three new files, one with an unrecognized extension
	writeFile(t, filepath.Join(root, "new1.csv"))
	writeFile(t, filepath.Join(root, "new2.json"))
	writeFile(t, filepath.Join(root, "debug.log"))

	folder, err := m.CreateRunFolder(domain.ExperimentID("pilot_20260314_092653"))
	if err != nil {
		t.Fatal(err)
	}
	moved := m.MoveNew(before, folder)

	if len(moved) != 2 {
		t.Fatalf("moved = %v, want 2 files", moved)
	}
	if moved[0] != "new1.csv" || moved[1] != "new2.json" {
		t.Errorf("moved = %v, want [new1.csv new2.json]", moved)
	}
	for _, name := range []string{"old1.csv", "old2.json"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("pre-existing file %s was disturbed: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "debug.log")); err != nil {
		t.Errorf("unrecognized extension was moved: %v", err)
	}
	if got := m.CountIn(folder); got != 2 {
		t.Errorf("CountIn = %d, want 2", got)
	}
}

func TestManager_CountInIncludesDirectWrites(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	folder, err := m.CreateRunFolder(domain.ExperimentID("pilot_20260314_092653"))
	if err != nil {
		t.Fatal(err)
	}
	// engine wrote straight into the run folder, bypassing the shared root
	writeFile(t, filepath.Join(folder, "direct.csv"))

	moved := m.MoveNew(m.Snapshot(), folder)
	if len(moved) != 0 {
		t.Errorf("moved = %v, want none", moved)
	}
	if got := m.CountIn(folder); got != 1 {
		t.Errorf("CountIn = %d, want 1", got)
	}
}

func TestManager_ListExperiments(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	folder, err := m.CreateRunFolder(domain.ExperimentID("pilot_20260314_092653"))
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(folder, "a.csv"))
	writeFile(t, filepath.Join(folder, "b.json"))
	writeFile(t, filepath.Join(root, "legacy.csv"))

	exps, err := m.ListExperiments()
	if err != nil {
		t.Fatal(err)
	}
	if len(exps) != 2 {
		t.Fatalf("len(exps) = %d, want 2 (run folder + legacy bucket)", len(exps))
	}
	if exps[0].Folder != "pilot_20260314_092653" {
		t.Errorf("Folder = %q, want %q", exps[0].Folder, "pilot_20260314_092653")
	}
	if exps[0].FileCount != 2 {
		t.Errorf("FileCount = %d, want 2", exps[0].FileCount)
	}
	legacy := exps[len(exps)-1]
	if legacy.Folder != "" || legacy.FileCount != 1 {
		t.Errorf("legacy bucket = %+v, want folder %q with 1 file", legacy, "")
	}
}

func TestManager_Delete(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	folder, err := m.CreateRunFolder(domain.ExperimentID("pilot_20260314_092653"))
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(folder, "a.csv"))

	if err := m.Delete("pilot_20260314_092653"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(folder); !os.IsNotExist(err) {
		t.Error("run folder still exists after Delete")
	}

	if err := m.Delete("../outside"); err == nil {
		t.Error("Delete should reject paths outside the results root")
	}
	if err := m.Delete(""); err == nil {
		t.Error("Delete should refuse the results root itself")
	}
}

func TestWatcher_ReportsSharedCount(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	counts := make(chan int, 4)
	w, err := NewWatcher(m, func(n int) { counts <- n })
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(50 * time.Millisecond)
	w.Start(context.Background())
	defer w.Stop()

	writeFile(t, filepath.Join(root, "run.csv"))

	select {
	case n := <-counts:
		if n != 1 {
			t.Errorf("shared count = %d, want 1", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher callback never fired")
	}
}
