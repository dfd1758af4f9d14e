package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.Engine.Command != "talkingtomachines" {
		t.Errorf("Engine.Command = %q, want talkingtomachines", cfg.Engine.Command)
	}
	if cfg.Engine.PollInterval() != time.Second {
		t.Errorf("PollInterval = %v, want 1s", cfg.Engine.PollInterval())
	}
	if cfg.Engine.GracePeriod() != 2*time.Second {
		t.Errorf("GracePeriod = %v, want 2s", cfg.Engine.GracePeriod())
	}
	if cfg.Engine.MaxRunDuration() != time.Hour {
		t.Errorf("MaxRunDuration = %v, want 1h", cfg.Engine.MaxRunDuration())
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("Web.Port = %d, want 8080", cfg.Web.Port)
	}
	if cfg.Web.Host != "127.0.0.1" {
		t.Errorf("Web.Host = %q, want 127.0.0.1", cfg.Web.Host)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := writeTempConfig(t, `
[general]
results_dir = "/data/ttm/results"
state_file = "/data/ttm/state.json"

[engine]
command = "/opt/ttm/talkingtomachines"
poll_interval_secs = 2
max_run_duration_mins = 120

[web]
port = 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.ResultsDir != "/data/ttm/results" {
		t.Errorf("ResultsDir = %q, want /data/ttm/results", cfg.General.ResultsDir)
	}
	if cfg.Engine.Command != "/opt/ttm/talkingtomachines" {
		t.Errorf("Engine.Command = %q, want /opt/ttm/talkingtomachines", cfg.Engine.Command)
	}
	if cfg.Engine.PollInterval() != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.Engine.PollInterval())
	}
	if cfg.Engine.MaxRunDuration() != 2*time.Hour {
		t.Errorf("MaxRunDuration = %v, want 2h", cfg.Engine.MaxRunDuration())
	}
	// unset sections keep their defaults
	if cfg.Engine.GracePeriodSecs != 2 {
		t.Errorf("GracePeriodSecs = %d, want 2", cfg.Engine.GracePeriodSecs)
	}
	if cfg.Web.Port != 9000 {
		t.Errorf("Web.Port = %d, want 9000", cfg.Web.Port)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.Command != "talkingtomachines" {
		t.Errorf("Engine.Command = %q, want default", cfg.Engine.Command)
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty command", "[engine]\ncommand = \"\""},
		{"zero poll interval", "[engine]\npoll_interval_secs = 0"},
		{"negative grace", "[engine]\ngrace_period_secs = -1"},
		{"zero max duration", "[engine]\nmax_run_duration_mins = 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeTempConfig(t, tt.content)); err == nil {
				t.Errorf("Load accepted invalid config: %s", tt.content)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestEnsureDirs(t *testing.T) {
	base := t.TempDir()
	cfg := Default()
	cfg.General.StateFile = filepath.Join(base, "state", "experiments_state.json")
	cfg.General.ResultsDir = filepath.Join(base, "results")
	cfg.General.TemplatesDir = filepath.Join(base, "templates")
	cfg.General.HistoryPath = filepath.Join(base, "db", "history.db")

	if err := cfg.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{
		filepath.Join(base, "state"),
		filepath.Join(base, "results"),
		filepath.Join(base, "templates"),
		filepath.Join(base, "db"),
	} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory %s missing after EnsureDirs: %v", dir, err)
		}
	}
}
