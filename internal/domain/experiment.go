package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// ExperimentID uniquely identifies a run as {template_stem}_{YYYYMMDD_HHMMSS}
type ExperimentID string

// NewExperimentID derives a run identifier from the template name and start time
func NewExperimentID(templatePath string, start time.Time) ExperimentID {
	return ExperimentID(TemplateStem(templatePath) + "_" + start.Format("20060102_150405"))
}

// TemplateStem returns the template filename without directory or extension
func TemplateStem(templatePath string) string {
	base := filepath.Base(templatePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (id ExperimentID) String() string { return string(id) }

// ProcessInfo is a best-effort snapshot of the engine process
type ProcessInfo struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryMB       float64 `json:"memory_mb"`
	NumThreads     int32   `json:"num_threads"`
	NumConnections int     `json:"num_connections"`
	Status         string  `json:"status"`
}

// ExperimentRecord is the persisted status and metadata for one run
type ExperimentRecord struct {
	Status           Status       `json:"status"`
	StartTime        time.Time    `json:"start_time"`
	ElapsedSeconds   float64      `json:"elapsed"`
	ProcessPID       *int         `json:"process_pid"`
	Template         string       `json:"template"`
	Mode             Mode         `json:"mode"`
	ResultFolder     string       `json:"result_folder"`
	ProcessInfo      *ProcessInfo `json:"process_info"`
	ResultFilesCount int          `json:"result_files_count"`
	FilesMoved       []string     `json:"files_moved"`
	Stdout           string       `json:"stdout"`
	Stderr           string       `json:"stderr"`
	ReturnCode       *int         `json:"return_code"`
	Error            string       `json:"error,omitempty"`
}

// Elapsed returns the recorded elapsed time as a duration
func (r *ExperimentRecord) Elapsed() time.Duration {
	return time.Duration(r.ElapsedSeconds * float64(time.Second))
}

// Clone returns a deep copy so callers can hand out records without aliasing
func (r *ExperimentRecord) Clone() *ExperimentRecord {
	c := *r
	if r.ProcessPID != nil {
		pid := *r.ProcessPID
		c.ProcessPID = &pid
	}
	if r.ProcessInfo != nil {
		pi := *r.ProcessInfo
		c.ProcessInfo = &pi
	}
	if r.ReturnCode != nil {
		rc := *r.ReturnCode
		c.ReturnCode = &rc
	}
	if r.FilesMoved != nil {
		c.FilesMoved = append([]string(nil), r.FilesMoved...)
	}
	return &c
}
