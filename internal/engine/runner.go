// Package engine owns the external experiment engine's OS process from
// spawn to exit: starting it, draining its output streams, sampling its
// resource usage, and terminating it.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
)

// DefaultCommand is the engine executable resolved via PATH unless
// overridden in config.
const DefaultCommand = "talkingtomachines"

// Runner spawns engine processes.
type Runner struct {
	Command string
}

// NewRunner creates a Runner for the given engine command.
func NewRunner(command string) *Runner {
	if command == "" {
		command = DefaultCommand
	}
	return &Runner{Command: command}
}

// Process is one live (or finished) engine invocation.
type Process struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}

	mu       sync.Mutex
	stdout   strings.Builder
	stderr   strings.Builder
	exitCode int
}

// Start spawns the engine with the template path as its sole argument,
// writes the mode line to its stdin, closes stdin, and begins draining
// stdout/stderr on dedicated goroutines so the engine never blocks on a
// full pipe.
func (r *Runner) Start(ctx context.Context, templatePath string, mode domain.Mode) (*Process, error) {
	cmd := exec.CommandContext(ctx, r.Command, templatePath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", r.Command, err)
	}

	p := &Process{
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		done:     make(chan struct{}),
		exitCode: -1,
	}

	// The engine reads exactly one line of input, then works off the template.
	io.WriteString(stdin, string(mode)+"\n")
	stdin.Close()

	go p.streamOutput(stdout, stderr)

	return p, nil
}

func (p *Process) streamOutput(stdout, stderr io.ReadCloser) {
	var wg sync.WaitGroup
	wg.Add(2)

	readLines := func(r io.Reader, buf *strings.Builder) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		// Increase buffer size for long output lines
		b := make([]byte, 0, 64*1024)
		scanner.Buffer(b, 1024*1024)
		for scanner.Scan() {
			p.mu.Lock()
			buf.WriteString(scanner.Text())
			buf.WriteByte('\n')
			p.mu.Unlock()
		}
	}

	go readLines(stdout, &p.stdout)
	go readLines(stderr, &p.stderr)
	wg.Wait()

	err := p.cmd.Wait()

	p.mu.Lock()
	if err == nil {
		p.exitCode = 0
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		// -1 when killed by signal before exiting
		p.exitCode = exitErr.ExitCode()
	}
	p.mu.Unlock()

	close(p.done)
}

// PID returns the OS process ID.
func (p *Process) PID() int {
	return p.pid
}

// Running reports whether the process has not yet exited. Non-blocking, so
// the run worker can interleave it with stop-flag checks.
func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited and both streams are drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until exit and returns the exit code (-1 if unavailable).
func (p *Process) Wait() int {
	<-p.done
	return p.ExitCode()
}

// WaitTimeout waits up to d for exit. Returns the exit code and whether
// the process exited within the window.
func (p *Process) WaitTimeout(d time.Duration) (int, bool) {
	select {
	case <-p.done:
		return p.ExitCode(), true
	case <-time.After(d):
		return -1, false
	}
}

// ExitCode returns the recorded exit code, or -1 while running or when the
// code is unavailable (e.g. killed by signal).
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Output returns copies of the accumulated stdout and stderr text.
func (p *Process) Output() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout.String(), p.stderr.String()
}
