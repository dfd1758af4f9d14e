package tui

import (
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
	"github.com/ttm-labs/ttm-orchestrator/internal/lifecycle"
	"github.com/ttm-labs/ttm-orchestrator/internal/results"
)

// ExperimentView is one tracked run as displayed in the TUI
type ExperimentView struct {
	ID        string
	Status    domain.Status
	Template  string
	Mode      string
	StartTime time.Time
	Elapsed   time.Duration
	Files     int
	Error     string
}

// Model is the TUI application model
type Model struct {
	tracker *lifecycle.Tracker
	results *results.Manager

	// Data, refreshed on every tick
	experiments []ExperimentView
	folders     []results.Experiment
	sharedFiles int

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int
	statusMsg   string
	lastRefresh time.Time
}

// NewModel creates a new TUI model
func NewModel(tracker *lifecycle.Tracker, res *results.Manager) Model {
	m := Model{
		tracker: tracker,
		results: res,
	}
	m.refreshData()
	return m
}

func (m *Model) refreshData() {
	records := m.tracker.Store().All()
	views := make([]ExperimentView, 0, len(records))
	for id, rec := range records {
		views = append(views, ExperimentView{
			ID:        id.String(),
			Status:    rec.Status,
			Template:  domain.TemplateStem(rec.Template),
			Mode:      string(rec.Mode),
			StartTime: rec.StartTime,
			Elapsed:   rec.Elapsed(),
			Files:     rec.ResultFilesCount,
			Error:     rec.Error,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].StartTime.After(views[j].StartTime)
	})
	m.experiments = views

	folders, err := m.results.ListExperiments()
	if err == nil {
		m.folders = folders
	}
	m.sharedFiles = m.results.CountShared()
	m.lastRefresh = time.Now()
}

func (m Model) runningCount() int {
	n := 0
	for _, e := range m.experiments {
		if !e.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
