package lifecycle

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
	"github.com/ttm-labs/ttm-orchestrator/internal/engine"
	"github.com/ttm-labs/ttm-orchestrator/internal/results"
	"github.com/ttm-labs/ttm-orchestrator/internal/statestore"
)

type fixture struct {
	tracker *Tracker
	store   *statestore.Store
	results *results.Manager
	root    string
}

// newFixture wires a tracker around a stub engine script. The script
// receives the template path as $1 and the mode line on stdin; the marker
// {RESULTS} in body is replaced with the shared results root.
func newFixture(t *testing.T, engineBody string) *fixture {
	t.Helper()
	dir := t.TempDir()

	resultsRoot := filepath.Join(dir, "results")
	if err := os.MkdirAll(resultsRoot, 0755); err != nil {
		t.Fatal(err)
	}

	engineBody = strings.ReplaceAll(engineBody, "{RESULTS}", resultsRoot)
	enginePath := filepath.Join(dir, "stub-engine")
	script := "#!/bin/sh\nread mode\necho \"running $1 in $mode mode\"\n" + engineBody + "\n"
	if err := os.WriteFile(enginePath, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}

	store := statestore.New(filepath.Join(dir, "state.json"))
	res := results.NewManager(resultsRoot)
	tracker := New(store, engine.NewRunner(enginePath), res, Options{
		PollInterval:   50 * time.Millisecond,
		GracePeriod:    time.Second,
		MaxRunDuration: time.Minute,
	})
	return &fixture{tracker: tracker, store: store, results: res, root: resultsRoot}
}

func waitForTerminal(t *testing.T, store *statestore.Store, id domain.ExperimentID, timeout time.Duration) *domain.ExperimentRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if rec := store.Get(id); rec != nil && rec.Status.IsTerminal() {
			return rec
		}
		time.Sleep(20 * time.Millisecond)
	}
	rec := store.Get(id)
	t.Fatalf("run %s never reached a terminal status, last record: %+v", id, rec)
	return nil
}

func TestTracker_EndToEndCompleted(t *testing.T) {
	// the engine drops a result file into the shared root before exiting
	f := newFixture(t, "echo 'p1,control' > {RESULTS}/responses.csv\nexit 0")

	var mu sync.Mutex
	var statuses []domain.Status
	f.tracker.OnUpdate(func(id domain.ExperimentID, rec *domain.ExperimentRecord) {
		mu.Lock()
		if len(statuses) == 0 || statuses[len(statuses)-1] != rec.Status {
			statuses = append(statuses, rec.Status)
		}
		mu.Unlock()
	})

	id, err := f.tracker.Start("t.xlsx", domain.ModeTest)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id.String(), "t_") {
		t.Errorf("id = %q, want template stem prefix", id)
	}

	rec := waitForTerminal(t, f.store, id, 10*time.Second)
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("Status = %q, want completed (error: %s)", rec.Status, rec.Error)
	}
	if rec.ReturnCode == nil || *rec.ReturnCode != 0 {
		t.Errorf("ReturnCode = %v, want 0", rec.ReturnCode)
	}
	if rec.ProcessPID != nil {
		t.Errorf("ProcessPID = %v, want nil after exit", rec.ProcessPID)
	}
	if !strings.Contains(rec.Stdout, "in test mode") {
		t.Errorf("Stdout = %q, want the mode echo", rec.Stdout)
	}
	if len(rec.FilesMoved) != 1 || rec.FilesMoved[0] != "responses.csv" {
		t.Errorf("FilesMoved = %v, want [responses.csv]", rec.FilesMoved)
	}
	if rec.ResultFilesCount != 1 {
		t.Errorf("ResultFilesCount = %d, want 1", rec.ResultFilesCount)
	}
	if _, err := os.Stat(filepath.Join(rec.ResultFolder, "responses.csv")); err != nil {
		t.Errorf("result file not in run folder: %v", err)
	}

	// status monotonicity: a valid forward path, terminal last
	mu.Lock()
	defer mu.Unlock()
	order := map[domain.Status]int{
		domain.StatusStarting: 0, domain.StatusRunning: 1, domain.StatusCompleted: 2,
	}
	last := -1
	for _, s := range statuses {
		rank, ok := order[s]
		if !ok {
			t.Fatalf("unexpected status %q in sequence %v", s, statuses)
		}
		if rank < last {
			t.Fatalf("status regressed in sequence %v", statuses)
		}
		last = rank
	}
	if statuses[len(statuses)-1] != domain.StatusCompleted {
		t.Errorf("final observed status = %q, want completed", statuses[len(statuses)-1])
	}
}

func TestTracker_EngineFailure(t *testing.T) {
	f := newFixture(t, "echo 'model quota exhausted' >&2\nexit 2")

	id, err := f.tracker.Start("t.xlsx", domain.ModeFull)
	if err != nil {
		t.Fatal(err)
	}

	rec := waitForTerminal(t, f.store, id, 10*time.Second)
	if rec.Status != domain.StatusFailed {
		t.Fatalf("Status = %q, want failed", rec.Status)
	}
	if rec.ReturnCode == nil || *rec.ReturnCode != 2 {
		t.Errorf("ReturnCode = %v, want 2", rec.ReturnCode)
	}
	if !strings.Contains(rec.Error, "code 2") {
		t.Errorf("Error = %q, want exit code mention", rec.Error)
	}
	if !strings.Contains(rec.Stderr, "quota exhausted") {
		t.Errorf("Stderr = %q, want engine stderr", rec.Stderr)
	}
}

func TestTracker_SpawnError(t *testing.T) {
	f := newFixture(t, "")
	f.tracker = New(f.store, engine.NewRunner("/nonexistent/engine"), f.results, Options{
		PollInterval: 50 * time.Millisecond,
	})

	id, err := f.tracker.Start("t.xlsx", domain.ModeTest)
	if err == nil {
		t.Fatal("Start should report the spawn failure")
	}

	rec := f.store.Get(id)
	if rec == nil {
		t.Fatal("no record persisted for failed spawn")
	}
	if rec.Status != domain.StatusError {
		t.Errorf("Status = %q, want error", rec.Status)
	}
	if !strings.Contains(rec.Error, "failed to start engine") {
		t.Errorf("Error = %q, want spawn failure message", rec.Error)
	}
}

func TestTracker_StopCooperative(t *testing.T) {
	f := newFixture(t, "sleep 60")

	id, err := f.tracker.Start("t.xlsx", domain.ModeTest)
	if err != nil {
		t.Fatal(err)
	}

	// let the worker reach its poll loop
	time.Sleep(150 * time.Millisecond)

	if !f.tracker.Stop(id) {
		t.Fatal("Stop = false for a live run")
	}

	rec := waitForTerminal(t, f.store, id, 15*time.Second)
	if rec.Status != domain.StatusStopped {
		t.Fatalf("Status = %q, want stopped", rec.Status)
	}
	if rec.Error != "" {
		t.Errorf("Error = %q, want empty for a located stop", rec.Error)
	}

	// stop idempotence: second call is a no-op returning false
	if f.tracker.Stop(id) {
		t.Error("second Stop = true, want false on a terminal run")
	}
	if f.store.Get(id).Status != domain.StatusStopped {
		t.Error("status changed after redundant Stop")
	}
}

func TestTracker_StopUnlocatable(t *testing.T) {
	f := newFixture(t, "")

	// a record left behind by a dead session, with a PID that cannot exist
	deadPID := 1<<22 + 999983
	f.store.Upsert("ghost_20260314_092653", &domain.ExperimentRecord{
		Status:     domain.StatusRunning,
		StartTime:  time.Now().Add(-time.Minute),
		Template:   "ghost.xlsx",
		ProcessPID: &deadPID,
	})

	if f.tracker.Stop("ghost_20260314_092653") {
		t.Error("Stop = true, want false when no process can be located")
	}

	rec := f.store.Get("ghost_20260314_092653")
	if rec.Status != domain.StatusStopped {
		t.Errorf("Status = %q, want stopped", rec.Status)
	}
	if rec.Error != ErrNoProcess {
		t.Errorf("Error = %q, want %q", rec.Error, ErrNoProcess)
	}
}

func TestTracker_StopUnknownRun(t *testing.T) {
	f := newFixture(t, "")
	if f.tracker.Stop("never_existed_00000000_000000") {
		t.Error("Stop = true for an unknown run id")
	}
}

func TestTracker_Timeout(t *testing.T) {
	f := newFixture(t, "sleep 60")
	f.tracker = New(f.store, f.tracker.runner, f.results, Options{
		PollInterval:   50 * time.Millisecond,
		GracePeriod:    time.Second,
		MaxRunDuration: 300 * time.Millisecond,
	})

	id, err := f.tracker.Start("t.xlsx", domain.ModeTest)
	if err != nil {
		t.Fatal(err)
	}

	rec := waitForTerminal(t, f.store, id, 15*time.Second)
	if rec.Status != domain.StatusFailed {
		t.Fatalf("Status = %q, want failed", rec.Status)
	}
	if !strings.Contains(rec.Error, "maximum duration") {
		t.Errorf("Error = %q, want timeout message", rec.Error)
	}
}

func TestTracker_RecoverDeadRun(t *testing.T) {
	f := newFixture(t, "")

	deadPID := 1<<22 + 999979
	f.store.Upsert("stale_20260314_092653", &domain.ExperimentRecord{
		Status:     domain.StatusRunning,
		StartTime:  time.Now().Add(-time.Hour),
		Template:   "stale.xlsx",
		ProcessPID: &deadPID,
	})

	adopted := f.tracker.Recover()
	if len(adopted) != 0 {
		t.Errorf("adopted = %v, want none for a dead pid", adopted)
	}

	rec := f.store.Get("stale_20260314_092653")
	if rec.Status != domain.StatusError {
		t.Errorf("Status = %q, want error", rec.Status)
	}
	if rec.ReturnCode == nil || *rec.ReturnCode != -1 {
		t.Errorf("ReturnCode = %v, want sentinel -1", rec.ReturnCode)
	}
	if rec.Error == "" {
		t.Error("Error should describe the lost process")
	}
}

func TestTracker_RecoverIgnoresTerminalRuns(t *testing.T) {
	f := newFixture(t, "")

	rc := 0
	f.store.Upsert("done_20260314_092653", &domain.ExperimentRecord{
		Status:     domain.StatusCompleted,
		StartTime:  time.Now().Add(-time.Hour),
		Template:   "done.xlsx",
		ReturnCode: &rc,
	})

	f.tracker.Recover()
	if got := f.store.Get("done_20260314_092653").Status; got != domain.StatusCompleted {
		t.Errorf("Status = %q, want completed untouched", got)
	}
}

func TestTracker_PreExistingFilesStayPut(t *testing.T) {
	f := newFixture(t, "echo new > {RESULTS}/new.json\nexit 0")

	if err := os.WriteFile(filepath.Join(f.root, "old.csv"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	id, err := f.tracker.Start("t.xlsx", domain.ModeTest)
	if err != nil {
		t.Fatal(err)
	}
	rec := waitForTerminal(t, f.store, id, 10*time.Second)

	if len(rec.FilesMoved) != 1 || rec.FilesMoved[0] != "new.json" {
		t.Errorf("FilesMoved = %v, want [new.json]", rec.FilesMoved)
	}
	if _, err := os.Stat(filepath.Join(f.root, "old.csv")); err != nil {
		t.Errorf("pre-existing file disturbed: %v", err)
	}
}
