// Package lifecycle ties the process supervisor to the persisted state
// store: one worker goroutine per run drives the record through
// starting -> running -> {completed, failed, stopped, error}.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
	"github.com/ttm-labs/ttm-orchestrator/internal/engine"
	"github.com/ttm-labs/ttm-orchestrator/internal/history"
	"github.com/ttm-labs/ttm-orchestrator/internal/logger"
	"github.com/ttm-labs/ttm-orchestrator/internal/notify"
	"github.com/ttm-labs/ttm-orchestrator/internal/results"
	"github.com/ttm-labs/ttm-orchestrator/internal/statestore"
)

// ErrNoProcess is the user-visible message recorded when a stop request
// cannot locate any live process for the run.
const ErrNoProcess = "No process found to stop"

// UpdateCallback is called after every persisted change to a run's record.
type UpdateCallback func(id domain.ExperimentID, rec *domain.ExperimentRecord)

// Options bound the tracker's polling and termination behavior.
type Options struct {
	PollInterval   time.Duration // run worker tick, default 1s
	GracePeriod    time.Duration // graceful stop window, default 2s
	MaxRunDuration time.Duration // hard cap per run, default 1h
}

// Tracker owns the lifecycle of experiment runs.
type Tracker struct {
	store   *statestore.Store
	runner  *engine.Runner
	results *results.Manager

	pollInterval   time.Duration
	gracePeriod    time.Duration
	maxRunDuration time.Duration

	archive  *history.Store
	notifier notify.Notifier
	onUpdate UpdateCallback

	mu      sync.Mutex
	workers map[domain.ExperimentID]bool
}

// New creates a Tracker over the given store, runner, and results manager.
func New(store *statestore.Store, runner *engine.Runner, res *results.Manager, opts Options) *Tracker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = engine.DefaultGracePeriod
	}
	if opts.MaxRunDuration <= 0 {
		opts.MaxRunDuration = time.Hour
	}
	return &Tracker{
		store:          store,
		runner:         runner,
		results:        res,
		pollInterval:   opts.PollInterval,
		gracePeriod:    opts.GracePeriod,
		maxRunDuration: opts.MaxRunDuration,
		workers:        make(map[domain.ExperimentID]bool),
	}
}

// SetArchive sets the history store terminal runs are copied into.
func (t *Tracker) SetArchive(archive *history.Store) {
	t.archive = archive
}

// SetNotifier sets the notifier fired on terminal states.
func (t *Tracker) SetNotifier(n notify.Notifier) {
	t.notifier = n
}

// OnUpdate registers a callback fired after each persisted record change.
func (t *Tracker) OnUpdate(cb UpdateCallback) {
	t.onUpdate = cb
}

// Store exposes the underlying state store for read-only consumers.
func (t *Tracker) Store() *statestore.Store {
	return t.store
}

// ActiveCount returns the number of runs with a live worker.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.workers)
}

// Start creates the run record, spawns the engine, and hands the run to a
// background worker. The returned ID identifies the run from this moment
// on; a spawn failure still leaves a terminal record behind it.
func (t *Tracker) Start(templatePath string, mode domain.Mode) (domain.ExperimentID, error) {
	now := time.Now()
	id := domain.NewExperimentID(templatePath, now)

	folder, err := t.results.CreateRunFolder(id)
	if err != nil {
		return id, err
	}

	rec := &domain.ExperimentRecord{
		Status:       domain.StatusStarting,
		StartTime:    now,
		Template:     templatePath,
		Mode:         mode,
		ResultFolder: folder,
	}
	if err := t.store.Upsert(id, rec); err != nil {
		logger.Error("could not persist new run", "id", id, "error", err)
	}
	t.emit(id)

	// Files already loose in the shared root belong to earlier runs.
	before := t.results.Snapshot()

	proc, err := t.runner.Start(context.Background(), templatePath, mode)
	if err != nil {
		t.finishWithError(id, fmt.Sprintf("failed to start engine: %v", err))
		return id, err
	}

	pid := proc.PID()
	if uerr := t.store.Update(id, func(r *domain.ExperimentRecord) {
		r.Status = domain.StatusRunning
		r.ProcessPID = &pid
	}); uerr != nil {
		logger.Error("could not persist running status", "id", id, "error", uerr)
	}
	t.emit(id)
	logger.Info("experiment started", "id", id, "pid", pid, "mode", mode)

	t.mu.Lock()
	t.workers[id] = true
	t.mu.Unlock()

	go t.run(id, proc, templatePath, before)

	return id, nil
}

// run is the per-run worker loop: refresh the record every tick, watch for
// the externally flipped stop flag, enforce the run duration cap, then
// finalize.
func (t *Tracker) run(id domain.ExperimentID, proc *engine.Process, templatePath string, before map[string]bool) {
	defer t.forget(id)

	deadline := time.Now().Add(t.maxRunDuration)
	var stopRequested, timedOut bool

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for proc.Running() {
		select {
		case <-proc.Done():
			continue
		case <-ticker.C:
		}

		t.refresh(id, proc)

		// Re-read the store each tick: Stop flips the status from another
		// goroutine, and that flag is the only stop signal the worker gets.
		if cur := t.store.Get(id); cur != nil && cur.Status == domain.StatusStopped {
			stopRequested = true
			logger.Info("stop requested, terminating engine", "id", id, "pid", proc.PID())
			engine.Terminate(proc.PID(), t.runner.Command, templatePath, t.gracePeriod)
			proc.WaitTimeout(t.gracePeriod + 5*time.Second)
			break
		}

		if time.Now().After(deadline) {
			timedOut = true
			logger.Warn("run exceeded maximum duration, killing engine", "id", id, "pid", proc.PID())
			engine.Terminate(proc.PID(), t.runner.Command, templatePath, t.gracePeriod)
			proc.WaitTimeout(t.gracePeriod + 5*time.Second)
			break
		}
	}

	if !stopRequested && !timedOut {
		// natural exit: let the stream readers drain
		proc.Wait()
	}

	t.finalize(id, proc, before, stopRequested, timedOut)
}

// refresh is the running -> running self-loop tick.
func (t *Tracker) refresh(id domain.ExperimentID, proc *engine.Process) {
	stdout, stderr := proc.Output()
	info := engine.Sample(proc.PID())
	sharedCount := t.results.CountShared()

	err := t.store.Update(id, func(r *domain.ExperimentRecord) {
		r.ElapsedSeconds = time.Since(r.StartTime).Seconds()
		r.ProcessInfo = info
		r.ResultFilesCount = sharedCount
		r.Stdout = stdout
		r.Stderr = stderr
	})
	if err != nil {
		logger.Warn("could not persist poll refresh", "id", id, "error", err)
	}
	t.emit(id)
}

// finalize classifies the terminal status, relocates result files, and
// persists the immutable final record. A stop flag recorded in the store
// beats the computed completed/failed classification when they race.
func (t *Tracker) finalize(id domain.ExperimentID, proc *engine.Process, before map[string]bool, stopRequested, timedOut bool) {
	exitCode := proc.ExitCode()
	stdout, stderr := proc.Output()

	cur := t.store.Get(id)
	if cur == nil {
		logger.Error("run record vanished before finalize", "id", id)
		return
	}
	stopped := stopRequested || cur.Status == domain.StatusStopped

	var status domain.Status
	var errMsg string
	switch {
	case stopped:
		status = domain.StatusStopped
	case timedOut:
		status = domain.StatusFailed
		errMsg = fmt.Sprintf("run exceeded maximum duration of %s", t.maxRunDuration)
	case exitCode == 0:
		status = domain.StatusCompleted
	default:
		status = domain.StatusFailed
		errMsg = fmt.Sprintf("engine exited with code %d", exitCode)
	}

	moved := t.results.MoveNew(before, cur.ResultFolder)
	finalCount := t.results.CountIn(cur.ResultFolder)

	rc := exitCode
	err := t.store.Update(id, func(r *domain.ExperimentRecord) {
		r.Status = status
		r.ElapsedSeconds = time.Since(r.StartTime).Seconds()
		r.ProcessPID = nil
		r.ProcessInfo = nil
		r.ReturnCode = &rc
		r.FilesMoved = moved
		r.ResultFilesCount = finalCount
		r.Stdout = stdout
		r.Stderr = stderr
		if errMsg != "" {
			r.Error = errMsg
		}
	})
	if err != nil {
		logger.Error("could not persist final record", "id", id, "error", err)
	}
	logger.Info("experiment finished", "id", id, "status", status, "return_code", exitCode, "files", finalCount)

	t.finish(id)
}

// Stop requests termination of a run. For a run with a live worker it
// flips the stop flag in the store and returns true; the worker notices on
// its next tick and terminates the engine, so the worst-case latency is
// one poll interval plus the grace period. Without a worker it terminates
// by recorded PID (falling back to a process-table scan). Returns false
// for already-terminal runs and when no process could be located; the
// unlocatable case still marks the record stopped with ErrNoProcess.
func (t *Tracker) Stop(id domain.ExperimentID) bool {
	rec := t.store.Get(id)
	if rec == nil {
		logger.Warn("stop requested for unknown run", "id", id)
		return false
	}
	if rec.Status.IsTerminal() {
		return false
	}

	t.mu.Lock()
	hasWorker := t.workers[id]
	t.mu.Unlock()

	if hasWorker {
		if err := t.store.SetStatus(id, domain.StatusStopped); err != nil {
			logger.Error("could not persist stop flag", "id", id, "error", err)
			return false
		}
		t.emit(id)
		return true
	}

	// No worker owns the run (the tracker restarted); terminate directly.
	pid := 0
	if rec.ProcessPID != nil {
		pid = *rec.ProcessPID
	}
	delivered := engine.Terminate(pid, t.runner.Command, rec.Template, t.gracePeriod)

	errMsg := ""
	if !delivered {
		errMsg = ErrNoProcess
	}
	err := t.store.Update(id, func(r *domain.ExperimentRecord) {
		r.Status = domain.StatusStopped
		r.ElapsedSeconds = time.Since(r.StartTime).Seconds()
		r.ProcessPID = nil
		r.ProcessInfo = nil
		if errMsg != "" {
			r.Error = errMsg
		}
	})
	if err != nil {
		logger.Error("could not persist stopped record", "id", id, "error", err)
	}
	t.finish(id)
	return delivered
}

// Recover reattaches to runs persisted as in-flight by a previous process.
// A run whose PID is still alive gets a lightweight adoption worker (no
// stream capture; the pipes died with the old process). A run whose PID is
// gone becomes a terminal error: fabricating a success for an unknown exit
// would be worse than flagging it.
func (t *Tracker) Recover() []domain.ExperimentID {
	var adopted []domain.ExperimentID
	for id, rec := range t.store.All() {
		if rec.Status.IsTerminal() {
			continue
		}
		pid := 0
		if rec.ProcessPID != nil {
			pid = *rec.ProcessPID
		}

		if pid > 0 && engine.Alive(pid) {
			logger.Info("adopting live run from previous session", "id", id, "pid", pid)
			t.mu.Lock()
			t.workers[id] = true
			t.mu.Unlock()
			go t.adopt(id, pid, rec.Template)
			adopted = append(adopted, id)
			continue
		}

		logger.Warn("run died while the tracker was not running", "id", id, "pid", pid)
		rc := -1
		err := t.store.Update(id, func(r *domain.ExperimentRecord) {
			r.Status = domain.StatusError
			r.Error = "process exited while the tracker was not running"
			r.ReturnCode = &rc
			r.ProcessPID = nil
			r.ProcessInfo = nil
		})
		if err != nil {
			logger.Error("could not persist recovered record", "id", id, "error", err)
		}
		t.finish(id)
	}
	return adopted
}

// adopt monitors a run inherited from a previous process by PID alone.
// Output pipes cannot be recaptured, and the exit code is unknowable, so a
// natural exit records the sentinel -1.
func (t *Tracker) adopt(id domain.ExperimentID, pid int, templatePath string) {
	defer t.forget(id)

	// Attribute only files produced after adoption; earlier ones cannot be
	// told apart from other runs' leftovers.
	before := t.results.Snapshot()

	rec := t.store.Get(id)
	deadline := time.Now().Add(t.maxRunDuration)
	if rec != nil {
		deadline = rec.StartTime.Add(t.maxRunDuration)
	}

	var stopRequested, timedOut bool
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for engine.Alive(pid) {
		<-ticker.C

		info := engine.Sample(pid)
		sharedCount := t.results.CountShared()
		err := t.store.Update(id, func(r *domain.ExperimentRecord) {
			r.ElapsedSeconds = time.Since(r.StartTime).Seconds()
			r.ProcessInfo = info
			r.ResultFilesCount = sharedCount
		})
		if err != nil {
			logger.Warn("could not persist poll refresh", "id", id, "error", err)
		}
		t.emit(id)

		if cur := t.store.Get(id); cur != nil && cur.Status == domain.StatusStopped {
			stopRequested = true
			engine.Terminate(pid, t.runner.Command, templatePath, t.gracePeriod)
			break
		}
		if time.Now().After(deadline) {
			timedOut = true
			engine.Terminate(pid, t.runner.Command, templatePath, t.gracePeriod)
			break
		}
	}

	cur := t.store.Get(id)
	if cur == nil {
		return
	}
	stopped := stopRequested || cur.Status == domain.StatusStopped

	var status domain.Status
	var errMsg string
	switch {
	case stopped:
		status = domain.StatusStopped
	case timedOut:
		status = domain.StatusFailed
		errMsg = fmt.Sprintf("run exceeded maximum duration of %s", t.maxRunDuration)
	default:
		status = domain.StatusCompleted
	}

	moved := t.results.MoveNew(before, cur.ResultFolder)
	finalCount := t.results.CountIn(cur.ResultFolder)

	rc := -1
	err := t.store.Update(id, func(r *domain.ExperimentRecord) {
		r.Status = status
		r.ElapsedSeconds = time.Since(r.StartTime).Seconds()
		r.ProcessPID = nil
		r.ProcessInfo = nil
		r.ReturnCode = &rc
		r.FilesMoved = moved
		r.ResultFilesCount = finalCount
		if errMsg != "" {
			r.Error = errMsg
		}
	})
	if err != nil {
		logger.Error("could not persist final record", "id", id, "error", err)
	}
	t.finish(id)
}

// finishWithError records a supervisor-level failure as a terminal error.
func (t *Tracker) finishWithError(id domain.ExperimentID, msg string) {
	err := t.store.Update(id, func(r *domain.ExperimentRecord) {
		r.Status = domain.StatusError
		r.Error = msg
		r.ElapsedSeconds = time.Since(r.StartTime).Seconds()
		r.ProcessPID = nil
		r.ProcessInfo = nil
	})
	if err != nil {
		logger.Error("could not persist error record", "id", id, "error", err)
	}
	logger.Error("experiment errored", "id", id, "reason", msg)
	t.finish(id)
}

// finish runs the terminal-state hooks: archive, notify, broadcast.
func (t *Tracker) finish(id domain.ExperimentID) {
	rec := t.store.Get(id)
	if rec == nil {
		return
	}
	if t.archive != nil && rec.Status.IsTerminal() {
		if err := t.archive.Archive(id, rec); err != nil {
			logger.Warn("could not archive run", "id", id, "error", err)
		}
	}
	if t.notifier != nil && rec.Status.IsTerminal() {
		if err := t.notifier.Send(notify.ForRun(id, rec)); err != nil {
			logger.Warn("notification failed", "id", id, "error", err)
		}
	}
	t.emit(id)
}

func (t *Tracker) emit(id domain.ExperimentID) {
	if t.onUpdate == nil {
		return
	}
	if rec := t.store.Get(id); rec != nil {
		t.onUpdate(id, rec)
	}
}

func (t *Tracker) forget(id domain.ExperimentID) {
	t.mu.Lock()
	delete(t.workers, id)
	t.mu.Unlock()
}
