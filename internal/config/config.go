package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Engine        EngineConfig        `toml:"engine"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds directory and persistence settings
type GeneralConfig struct {
	StateFile    string `toml:"state_file"`
	ResultsDir   string `toml:"results_dir"`
	TemplatesDir string `toml:"templates_dir"`
	HistoryPath  string `toml:"history_path"`
	SchedulePath string `toml:"schedule_path"`
	EnvFile      string `toml:"env_file"`
	LogFile      string `toml:"log_file"`
}

// EngineConfig holds settings for the external experiment engine
type EngineConfig struct {
	Command            string `toml:"command"`
	PollIntervalSecs   int    `toml:"poll_interval_secs"`
	GracePeriodSecs    int    `toml:"grace_period_secs"`
	MaxRunDurationMins int    `toml:"max_run_duration_mins"`
}

// PollInterval returns the run worker's poll tick.
func (e EngineConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSecs) * time.Second
}

// GracePeriod returns the wait between graceful stop and forced kill.
func (e EngineConfig) GracePeriod() time.Duration {
	return time.Duration(e.GracePeriodSecs) * time.Second
}

// MaxRunDuration returns the hard cap on one engine run.
func (e EngineConfig) MaxRunDuration() time.Duration {
	return time.Duration(e.MaxRunDurationMins) * time.Minute
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds dashboard API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".ttm-orchestrator")
	return &Config{
		General: GeneralConfig{
			StateFile:    filepath.Join(base, "experiments_state.json"),
			ResultsDir:   filepath.Join(base, "results"),
			TemplatesDir: filepath.Join(base, "templates"),
			HistoryPath:  filepath.Join(base, "history.db"),
			SchedulePath: filepath.Join(base, "schedules.toml"),
			EnvFile:      filepath.Join(base, ".env"),
		},
		Engine: EngineConfig{
			Command:            "talkingtomachines",
			PollIntervalSecs:   1,
			GracePeriodSecs:    2,
			MaxRunDurationMins: 60,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.StateFile = ExpandPath(cfg.General.StateFile)
	cfg.General.ResultsDir = ExpandPath(cfg.General.ResultsDir)
	cfg.General.TemplatesDir = ExpandPath(cfg.General.TemplatesDir)
	cfg.General.HistoryPath = ExpandPath(cfg.General.HistoryPath)
	cfg.General.SchedulePath = ExpandPath(cfg.General.SchedulePath)
	cfg.General.EnvFile = ExpandPath(cfg.General.EnvFile)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the lifecycle code cannot work with
func (c *Config) Validate() error {
	if c.Engine.Command == "" {
		return fmt.Errorf("engine.command must not be empty")
	}
	if c.Engine.PollIntervalSecs <= 0 {
		return fmt.Errorf("engine.poll_interval_secs must be positive, got %d", c.Engine.PollIntervalSecs)
	}
	if c.Engine.GracePeriodSecs <= 0 {
		return fmt.Errorf("engine.grace_period_secs must be positive, got %d", c.Engine.GracePeriodSecs)
	}
	if c.Engine.MaxRunDurationMins <= 0 {
		return fmt.Errorf("engine.max_run_duration_mins must be positive, got %d", c.Engine.MaxRunDurationMins)
	}
	return nil
}

// EnsureDirs creates the directories the orchestrator writes into
func (c *Config) EnsureDirs() error {
	dirs := []string{
		filepath.Dir(c.General.StateFile),
		c.General.ResultsDir,
		c.General.TemplatesDir,
		filepath.Dir(c.General.HistoryPath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ttm-orchestrator", "config.toml")
}
