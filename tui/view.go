package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
)

const (
	tabDashboard = iota
	tabExperiments
	tabResults
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	idleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" TTM Orchestrator │ Running: %d │ Tracked: %d │ Result folders: %d │ Shared files: %d ",
		m.runningCount(), len(m.experiments), len(m.folders), m.sharedFiles)
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case tabDashboard:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRunning()))
		b.WriteString("\n")
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRecent()))
		b.WriteString("\n")

	case tabExperiments:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderExperiments()))
		b.WriteString("\n")

	case tabResults:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderResults()))
		b.WriteString("\n")
	}

	if m.statusMsg != "" {
		b.WriteString(warningStyle.Width(m.width).Render(" " + m.statusMsg + " "))
		b.WriteString("\n")
	}

	var statusBar string
	switch m.activeTab {
	case tabResults:
		statusBar = " [tab]switch [j/k]navigate [d]elete folder [r]efresh [q]uit "
	default:
		statusBar = " [tab]switch [j/k]navigate [s]top run [r]efresh [q]uit "
	}
	b.WriteString(statusBarStyle.Width(m.width).Render(statusBar))

	return b.String()
}

func (m Model) renderTabs() string {
	tabs := []string{"Dashboard", "Experiments", "Results"}
	var parts []string

	for i, tab := range tabs {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		} else {
			parts = append(parts, tabInactiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		}
	}

	return strings.Join(parts, "│")
}

func (m Model) renderRunning() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("RUNNING"))
	b.WriteString("\n")

	hasRunning := false
	for _, e := range m.experiments {
		if e.Status.IsTerminal() {
			continue
		}
		hasRunning = true
		line := fmt.Sprintf("  ● %-34s %-14s %-5s %8s  %d files",
			truncate(e.ID, 34), truncate(e.Template, 14), e.Mode,
			formatDuration(e.Elapsed), e.Files)
		b.WriteString(runningStyle.Render(line))
		b.WriteString("\n")
	}

	if !hasRunning {
		b.WriteString(idleStyle.Render("  No experiments running"))
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderRecent() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("RECENT (last 5)"))
	b.WriteString("\n")

	shown := 0
	for _, e := range m.experiments {
		if !e.Status.IsTerminal() {
			continue
		}
		if shown >= 5 {
			break
		}
		line := fmt.Sprintf("  %s %-34s %8s  %d files",
			statusIcon(e.Status), truncate(e.ID, 34), formatDuration(e.Elapsed), e.Files)
		b.WriteString(statusStyle(e.Status).Render(line))
		if e.Error != "" {
			b.WriteString(errorStyle.Render("  " + truncate(e.Error, 40)))
		}
		b.WriteString("\n")
		shown++
	}

	if shown == 0 {
		b.WriteString(idleStyle.Render("  No finished runs yet"))
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderExperiments() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("EXPERIMENTS"))
	b.WriteString("\n")

	if len(m.experiments) == 0 {
		b.WriteString(idleStyle.Render("  No experiments tracked. Run 'ttm-orch run <template>' to start one."))
		return b.String()
	}

	header := fmt.Sprintf("    %-34s %-10s %-5s %9s %6s  %s",
		"ID", "Status", "Mode", "Elapsed", "Files", "Started")
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	for i, e := range m.experiments {
		line := fmt.Sprintf("  %s %-34s %-10s %-5s %9s %6d  %s",
			statusIcon(e.Status), truncate(e.ID, 34), e.Status, e.Mode,
			formatDuration(e.Elapsed), e.Files, humanize.Time(e.StartTime))

		if i == m.selectedRow {
			b.WriteString(tabActiveStyle.Render("> " + line[2:]))
		} else {
			b.WriteString(statusStyle(e.Status).Render(line))
		}
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderResults() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("RESULTS"))
	b.WriteString("\n")

	if len(m.folders) == 0 {
		b.WriteString(idleStyle.Render("  No result folders yet"))
		return b.String()
	}

	header := fmt.Sprintf("    %-40s %6s %10s  %s", "Folder", "Files", "Size", "Modified")
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	for i, f := range m.folders {
		name := f.Folder
		if name == "" {
			name = "(shared, not yet claimed)"
		}
		line := fmt.Sprintf("    %-40s %6d %10s  %s",
			truncate(name, 40), f.FileCount,
			humanize.Bytes(uint64(f.TotalBytes)), humanize.Time(f.ModTime))

		if i == m.selectedRow {
			b.WriteString(tabActiveStyle.Render("  > " + line[4:]))
		} else {
			b.WriteString(idleStyle.Render(line))
		}
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func statusIcon(s domain.Status) string {
	switch s {
	case domain.StatusCompleted:
		return "✓"
	case domain.StatusFailed, domain.StatusError:
		return "✗"
	case domain.StatusStopped:
		return "■"
	case domain.StatusRunning, domain.StatusStarting:
		return "●"
	default:
		return "○"
	}
}

func statusStyle(s domain.Status) lipgloss.Style {
	switch s {
	case domain.StatusCompleted:
		return completedStyle
	case domain.StatusFailed, domain.StatusError:
		return errorStyle
	case domain.StatusStopped:
		return warningStyle
	case domain.StatusRunning, domain.StatusStarting:
		return runningStyle
	default:
		return idleStyle
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
