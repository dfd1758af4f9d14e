package schedule

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
)

// ExperimentSchedule represents one recurring experiment launch
type ExperimentSchedule struct {
	Name     string `toml:"name"`
	Cron     string `toml:"cron"`
	Template string `toml:"template"`
	Mode     string `toml:"mode"`
	Disabled bool   `toml:"disabled"`
}

// ScheduleConfig holds all experiment schedules
type ScheduleConfig struct {
	Experiments []ExperimentSchedule `toml:"experiment"`
}

// Validate checks if the schedule is valid
func (e *ExperimentSchedule) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if e.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(e.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if e.Template == "" {
		return fmt.Errorf("template is required")
	}
	if _, err := domain.ParseMode(e.Mode); err != nil {
		return err
	}
	return nil
}

// ParsedMode returns the schedule's mode, defaulting to test
func (e *ExperimentSchedule) ParsedMode() domain.Mode {
	mode, err := domain.ParseMode(e.Mode)
	if err != nil {
		return domain.ModeTest
	}
	return mode
}

// LoadScheduleConfig loads experiment schedules from a TOML file
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}

	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Experiments {
		if err := cfg.Experiments[i].Validate(); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
	}

	return &cfg, nil
}
