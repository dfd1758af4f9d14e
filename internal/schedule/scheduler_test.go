package schedule

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 22 * * *", false},   // 10 PM daily
		{"0 12 * * 1-5", false}, // noon weekdays
		{"*/5 * * * *", false},  // every 5 minutes
		{"invalid", true},
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestExperimentSchedule_Validate(t *testing.T) {
	cfg := ExperimentSchedule{
		Name:     "nightly-pilot",
		Cron:     "0 22 * * *",
		Template: "pilot.xlsx",
		Mode:     "full",
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Valid schedule should not error: %v", err)
	}
	if cfg.ParsedMode() != domain.ModeFull {
		t.Errorf("ParsedMode = %q, want full", cfg.ParsedMode())
	}

	bad := cfg
	bad.Name = ""
	if err := bad.Validate(); err == nil {
		t.Error("Empty name should error")
	}

	bad = cfg
	bad.Template = ""
	if err := bad.Validate(); err == nil {
		t.Error("Empty template should error")
	}

	bad = cfg
	bad.Mode = "sometimes"
	if err := bad.Validate(); err == nil {
		t.Error("Invalid mode should error")
	}

	// empty mode defaults to test
	cfg.Mode = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Empty mode should default, got error: %v", err)
	}
	if cfg.ParsedMode() != domain.ModeTest {
		t.Errorf("ParsedMode = %q, want test", cfg.ParsedMode())
	}
}

func TestLoadScheduleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.toml")
	content := `
[[experiment]]
name = "nightly-pilot"
cron = "0 22 * * *"
template = "pilot.xlsx"
mode = "full"

[[experiment]]
name = "weekly-survey"
cron = "0 9 * * 1"
template = "survey.xlsx"
disabled = true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadScheduleConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Experiments) != 2 {
		t.Fatalf("len(Experiments) = %d, want 2", len(cfg.Experiments))
	}
	if cfg.Experiments[0].Name != "nightly-pilot" {
		t.Errorf("Name = %q, want nightly-pilot", cfg.Experiments[0].Name)
	}
	if !cfg.Experiments[1].Disabled {
		t.Error("weekly-survey should be disabled")
	}

	// disabled schedules are dropped by the scheduler
	sched, err := NewScheduler(cfg.Experiments)
	if err != nil {
		t.Fatal(err)
	}
	names := sched.ListSchedules()
	if len(names) != 1 || names[0] != "nightly-pilot" {
		t.Errorf("ListSchedules() = %v, want [nightly-pilot]", names)
	}
}

func TestLoadScheduleConfig_MissingFile(t *testing.T) {
	cfg, err := LoadScheduleConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Experiments) != 0 {
		t.Errorf("len(Experiments) = %d, want 0", len(cfg.Experiments))
	}
}

func TestScheduler_NextRun(t *testing.T) {
	cfg := ExperimentSchedule{
		Name:     "nightly",
		Cron:     "0 22 * * *",
		Template: "pilot.xlsx",
	}

	sched, err := NewScheduler([]ExperimentSchedule{cfg})
	if err != nil {
		t.Fatal(err)
	}

	next := sched.NextRun("nightly")
	if next.IsZero() {
		t.Error("NextRun should return a time")
	}
	if !next.After(time.Now()) {
		t.Error("NextRun should be in the future")
	}
}

func TestScheduler_ShouldRun(t *testing.T) {
	cfg := ExperimentSchedule{
		Name:     "minutely",
		Cron:     "* * * * *",
		Template: "pilot.xlsx",
	}

	sched, err := NewScheduler([]ExperimentSchedule{cfg})
	if err != nil {
		t.Fatal(err)
	}

	sched.lastRun["minutely"] = time.Now().Add(-2 * time.Minute)
	if !sched.ShouldRun("minutely") {
		t.Error("Should run after cron interval passed")
	}

	sched.MarkRunning("minutely")
	if sched.ShouldRun("minutely") {
		t.Error("Should not run while already running")
	}

	sched.MarkComplete("minutely")
	if sched.ShouldRun("minutely") {
		t.Error("Should not run again immediately after completion")
	}
}
