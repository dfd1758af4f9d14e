package statestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
)

func testRecord(status domain.Status) *domain.ExperimentRecord {
	pid := 1234
	return &domain.ExperimentRecord{
		Status:       status,
		StartTime:    time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		ProcessPID:   &pid,
		Template:     "templates/pilot.xlsx",
		Mode:         domain.ModeTest,
		ResultFolder: "results/pilot_20260314_092653",
	}
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := New(path)
	rc := 0
	rec := testRecord(domain.StatusCompleted)
	rec.ReturnCode = &rc
	rec.FilesMoved = []string{"a.csv", "b.json"}
	rec.ResultFilesCount = 2
	if err := s.Upsert("pilot_20260314_092653", rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert("survey_20260314_100000", testRecord(domain.StatusRunning)); err != nil {
		t.Fatal(err)
	}

	// simulate a process restart
	reloaded := New(path)
	all := reloaded.All()
	if len(all) != 2 {
		t.Fatalf("len(All()) = %d, want 2", len(all))
	}
	got := reloaded.Get("pilot_20260314_092653")
	if got == nil {
		t.Fatal("Get returned nil for persisted record")
	}
	if got.Status != domain.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusCompleted)
	}
	if got.ReturnCode == nil || *got.ReturnCode != 0 {
		t.Errorf("ReturnCode = %v, want 0", got.ReturnCode)
	}
	if len(got.FilesMoved) != 2 || got.FilesMoved[1] != "b.json" {
		t.Errorf("FilesMoved = %v, want [a.csv b.json]", got.FilesMoved)
	}
	if !got.StartTime.Equal(rec.StartTime) {
		t.Errorf("StartTime = %v, want %v", got.StartTime, rec.StartTime)
	}
}

func TestStore_MissingFileStartsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if n := len(s.All()); n != 0 {
		t.Errorf("len(All()) = %d, want 0", n)
	}
}

func TestStore_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	s := New(path)
	if n := len(s.All()); n != 0 {
		t.Errorf("len(All()) = %d, want 0", n)
	}
	// the store must still accept writes and self-heal the file
	if err := s.Upsert("run_1", testRecord(domain.StatusStarting)); err != nil {
		t.Fatal(err)
	}
	if got := New(path).Get("run_1"); got == nil {
		t.Error("record not persisted after corrupt load")
	}
}

func TestStore_SetStatus(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"))
	if err := s.Upsert("run_1", testRecord(domain.StatusRunning)); err != nil {
		t.Fatal(err)
	}

	if err := s.SetStatus("run_1", domain.StatusStopped); err != nil {
		t.Fatal(err)
	}
	if got := s.Get("run_1").Status; got != domain.StatusStopped {
		t.Errorf("Status = %q, want %q", got, domain.StatusStopped)
	}

	if err := s.SetStatus("missing", domain.StatusStopped); err == nil {
		t.Error("SetStatus on missing id should return an error")
	}
}

func TestStore_UpdatePreservesConcurrentStatusChange(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"))
	if err := s.Upsert("run_1", testRecord(domain.StatusRunning)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStatus("run_1", domain.StatusStopped); err != nil {
		t.Fatal(err)
	}

	// a poll-tick refresh must not revert the stop flag
	err := s.Update("run_1", func(r *domain.ExperimentRecord) {
		r.ElapsedSeconds = 5
	})
	if err != nil {
		t.Fatal(err)
	}

	got := s.Get("run_1")
	if got.Status != domain.StatusStopped {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusStopped)
	}
	if got.ElapsedSeconds != 5 {
		t.Errorf("ElapsedSeconds = %v, want 5", got.ElapsedSeconds)
	}

	if err := s.Update("missing", func(r *domain.ExperimentRecord) {}); err == nil {
		t.Error("Update on missing id should return an error")
	}
}

func TestStore_Delete(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"))
	if err := s.Upsert("run_1", testRecord(domain.StatusCompleted)); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("run_1"); err != nil {
		t.Fatal(err)
	}
	if s.Get("run_1") != nil {
		t.Error("record still present after Delete")
	}
	if err := s.Delete("run_1"); err == nil {
		t.Error("Delete on missing id should return an error")
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"))
	if err := s.Upsert("run_1", testRecord(domain.StatusRunning)); err != nil {
		t.Fatal(err)
	}

	got := s.Get("run_1")
	got.Status = domain.StatusError
	*got.ProcessPID = 9

	again := s.Get("run_1")
	if again.Status != domain.StatusRunning {
		t.Errorf("Status = %q, want %q (mutation leaked into store)", again.Status, domain.StatusRunning)
	}
	if *again.ProcessPID != 1234 {
		t.Errorf("ProcessPID = %d, want 1234", *again.ProcessPID)
	}
}

func TestStore_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := New(path)
	if err := s.Upsert("run_1", testRecord(domain.StatusRunning)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file still exists after save: %v", err)
	}
}
