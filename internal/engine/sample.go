package engine

import (
	"math"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
)

// Sample takes a best-effort snapshot of the engine process. It returns nil
// if the process has exited or the platform refuses to answer; it never
// returns an error, because monitoring must not fail a run.
func Sample(pid int) *domain.ProcessInfo {
	if pid <= 0 {
		return nil
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	if running, err := proc.IsRunning(); err != nil || !running {
		return nil
	}

	info := &domain.ProcessInfo{}
	if cpu, err := proc.CPUPercent(); err == nil {
		info.CPUPercent = math.Round(cpu*10) / 10
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		info.MemoryMB = math.Round(float64(mem.RSS)/1024/1024*10) / 10
	}
	if threads, err := proc.NumThreads(); err == nil {
		info.NumThreads = threads
	}
	if conns, err := proc.Connections(); err == nil {
		info.NumConnections = len(conns)
	}
	if statuses, err := proc.Status(); err == nil && len(statuses) > 0 {
		info.Status = statuses[0]
	}
	return info
}
