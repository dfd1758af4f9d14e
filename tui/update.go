package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
)

const tabCount = 3

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "r":
			m.refreshData()
			m.statusMsg = ""
			return m, nil

		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.selectedRow = 0
			m.statusMsg = ""

		case "j", "down":
			if m.selectedRow < m.rowCount()-1 {
				m.selectedRow++
			}

		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}

		case "s":
			// Stop the selected run
			if m.activeTab != tabResults && m.selectedRow < len(m.experiments) {
				e := m.experiments[m.selectedRow]
				if e.Status.IsTerminal() {
					m.statusMsg = fmt.Sprintf("%s already finished", e.ID)
				} else if m.tracker.Stop(domain.ExperimentID(e.ID)) {
					m.statusMsg = fmt.Sprintf("stop requested for %s", e.ID)
				} else {
					m.statusMsg = fmt.Sprintf("no process found for %s", e.ID)
				}
				m.refreshData()
			}

		case "d":
			// Delete the selected result folder
			if m.activeTab == tabResults && m.selectedRow < len(m.folders) {
				f := m.folders[m.selectedRow]
				if f.Folder == "" {
					m.statusMsg = "loose shared files cannot be deleted here"
				} else if err := m.results.Delete(f.Folder); err != nil {
					m.statusMsg = "delete failed: " + err.Error()
				} else {
					m.statusMsg = "deleted " + f.Folder
					if m.selectedRow > 0 {
						m.selectedRow--
					}
				}
				m.refreshData()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		m.refreshData()
		return m, tickCmd()
	}

	return m, nil
}

func (m Model) rowCount() int {
	if m.activeTab == tabResults {
		return len(m.folders)
	}
	return len(m.experiments)
}
