package domain

import (
	"testing"
	"time"
)

func TestNewExperimentID(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		template string
		want     string
	}{
		{"/data/templates/pilot_study.xlsx", "pilot_study_20260314_092653"},
		{"survey.xls", "survey_20260314_092653"},
		{"templates/trust game.xlsx", "trust game_20260314_092653"},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			if got := NewExperimentID(tt.template, start); got.String() != tt.want {
				t.Errorf("NewExperimentID(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"", ModeTest, false},
		{"test", ModeTest, false},
		{"full", ModeFull, false},
		{"dry-run", "", true},
		{"FULL", "", true},
	}

	for _, tt := range tests {
		mode, err := ParseMode(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err == nil && mode != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.input, mode, tt.want)
		}
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	terminal := []Status{StatusStopped, StatusCompleted, StatusFailed, StatusError}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}
	for _, s := range []Status{StatusStarting, StatusRunning} {
		if s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}

func TestExperimentRecord_Clone(t *testing.T) {
	pid := 4242
	rc := 0
	rec := &ExperimentRecord{
		Status:      StatusCompleted,
		Template:    "pilot.xlsx",
		ProcessPID:  &pid,
		ReturnCode:  &rc,
		FilesMoved:  []string{"a.csv", "b.json"},
		ProcessInfo: &ProcessInfo{CPUPercent: 12.5, Status: "sleeping"},
	}

	c := rec.Clone()
	*c.ProcessPID = 9999
	c.FilesMoved[0] = "mutated.csv"
	c.ProcessInfo.Status = "zombie"

	if *rec.ProcessPID != 4242 {
		t.Errorf("ProcessPID = %d, want 4242", *rec.ProcessPID)
	}
	if rec.FilesMoved[0] != "a.csv" {
		t.Errorf("FilesMoved[0] = %q, want %q", rec.FilesMoved[0], "a.csv")
	}
	if rec.ProcessInfo.Status != "sleeping" {
		t.Errorf("ProcessInfo.Status = %q, want %q", rec.ProcessInfo.Status, "sleeping")
	}
}
