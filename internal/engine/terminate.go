package engine

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/ttm-labs/ttm-orchestrator/internal/logger"
)

// DefaultGracePeriod is how long Terminate waits between the graceful
// signal and the kill.
const DefaultGracePeriod = 2 * time.Second

// Terminate stops the engine process for a run: SIGTERM to the process and
// all of its descendants, a bounded wait, then SIGKILL for survivors.
// Returns whether any signal was delivered.
//
// When pid is stale (recorded before a restart, say), it falls back to a
// process-table scan matching the engine command name, preferring
// candidates whose command line also contains the run's template path.
// The scan is a heuristic of last resort; a fresh pid always wins.
func Terminate(pid int, command, templatePath string, grace time.Duration) bool {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	proc := locate(pid, command, templatePath)
	if proc == nil {
		logger.Warn("no live engine process to terminate", "pid", pid, "template", templatePath)
		return false
	}

	targets := append([]*process.Process{proc}, descendants(proc)...)

	delivered := false
	for _, t := range targets {
		if err := t.Terminate(); err == nil {
			delivered = true
		}
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !anyRunning(targets) {
			return delivered
		}
		time.Sleep(100 * time.Millisecond)
	}

	for _, t := range targets {
		if running, _ := t.IsRunning(); running {
			logger.Warn("engine process survived grace period, killing", "pid", t.Pid)
			if err := t.Kill(); err == nil {
				delivered = true
			}
		}
	}
	return delivered
}

// locate finds the live process for a run, by pid first, then by scanning
// the process table.
func locate(pid int, command, templatePath string) *process.Process {
	if pid > 0 {
		if proc, err := process.NewProcess(int32(pid)); err == nil {
			if running, _ := proc.IsRunning(); running {
				return proc
			}
		}
	}

	name := filepath.Base(command)
	if name == "" || name == "." {
		return nil
	}
	procs, err := process.Processes()
	if err != nil {
		return nil
	}

	var nameMatch *process.Process
	for _, p := range procs {
		cmdline, err := p.Cmdline()
		if err != nil || !strings.Contains(cmdline, name) {
			continue
		}
		if templatePath != "" && strings.Contains(cmdline, templatePath) {
			return p
		}
		if nameMatch == nil {
			nameMatch = p
		}
	}
	return nameMatch
}

// descendants walks the child tree so orphan workers do not outlive the run.
func descendants(p *process.Process) []*process.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var out []*process.Process
	for _, c := range children {
		out = append(out, c)
		out = append(out, descendants(c)...)
	}
	return out
}

func anyRunning(procs []*process.Process) bool {
	for _, p := range procs {
		if running, _ := p.IsRunning(); running {
			return true
		}
	}
	return false
}

// Alive reports whether a process with the given pid still exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}
