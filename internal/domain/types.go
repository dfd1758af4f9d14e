package domain

import "fmt"

// Status represents the lifecycle state of an experiment run
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
)

// IsTerminal returns true if no further transitions can occur
func (s Status) IsTerminal() bool {
	switch s {
	case StatusStopped, StatusCompleted, StatusFailed, StatusError:
		return true
	}
	return false
}

// Mode selects how much of the experiment the engine executes
type Mode string

const (
	ModeTest Mode = "test"
	ModeFull Mode = "full"
)

// ParseMode validates a mode string, defaulting empty input to test mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "":
		return ModeTest, nil
	case string(ModeTest):
		return ModeTest, nil
	case string(ModeFull):
		return ModeFull, nil
	}
	return "", fmt.Errorf("invalid mode: %q (expected test or full)", s)
}
