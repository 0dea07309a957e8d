package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/dupescan-agent/internal/store"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

// ScansModel lists recent scans with a movable selection.
type ScansModel struct {
	store    *store.Store
	scans    []models.Scan
	repos    map[int64]string // repo id → owner/name
	selected int
	width    int
	height   int
	loading  bool
}

type scansLoadedMsg struct {
	scans []models.Scan
	repos map[int64]string
}

// NewScansModel creates a ScansModel.
func NewScansModel(st *store.Store) ScansModel {
	return ScansModel{store: st, loading: true, repos: map[int64]string{}}
}

func (m ScansModel) Init() tea.Cmd {
	return m.loadCmd()
}

func (m ScansModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		scans, _ := m.store.ListRecentScans(ctx, 30)
		repos := make(map[int64]string)
		if rows, err := m.store.ListRepos(ctx); err == nil {
			for _, r := range rows {
				repos[r.ID] = r.FullName()
			}
		}
		return scansLoadedMsg{scans: scans, repos: repos}
	}
}

// SelectedScanID returns the id of the highlighted scan.
func (m ScansModel) SelectedScanID() (int64, bool) {
	if m.selected < 0 || m.selected >= len(m.scans) {
		return 0, false
	}
	return m.scans[m.selected].ID, true
}

func (m ScansModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case scansLoadedMsg:
		m.scans = msg.scans
		m.repos = msg.repos
		m.loading = false
		if m.selected >= len(m.scans) {
			m.selected = max(0, len(m.scans)-1)
		}
		// Refresh every 5 seconds so running scans advance on screen.
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return m.loadCmd()()
		})
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.scans)-1 {
				m.selected++
			}
		case "r":
			m.loading = true
			return m, m.loadCmd()
		}
	}
	return m, nil
}

func (m *ScansModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

func (m ScansModel) View() string {
	if m.loading && len(m.scans) == 0 {
		return panelStyle.Width(max(20, m.width-2)).Render("Loading scans...")
	}
	if len(m.scans) == 0 {
		return panelStyle.Width(max(20, m.width-2)).Render(
			dimStyle.Render("No scans yet. Run `dupescan scan <owner>/<name>` to start one."))
	}

	limit := max(5, m.height-6)
	rows := ""
	for i, s := range m.scans {
		if i >= limit {
			break
		}
		repo := m.repos[s.RepoID]
		if repo == "" {
			repo = fmt.Sprintf("repo #%d", s.RepoID)
		}
		mode := "incr"
		if s.Full {
			mode = "full"
		}
		line := lipgloss.JoinHorizontal(lipgloss.Left,
			lipgloss.NewStyle().Width(8).Foreground(slate).Render(fmt.Sprintf("#%d", s.ID)),
			lipgloss.NewStyle().Width(30).Foreground(ink).Render(truncate(repo, 28)),
			lipgloss.NewStyle().Width(13).Render(statusStyle(s.Status).Render(s.Status)),
			lipgloss.NewStyle().Width(6).Foreground(slate).Render(mode),
			lipgloss.NewStyle().Width(10).Foreground(slate).Render(fmt.Sprintf("%d PRs", s.PRCount)),
			lipgloss.NewStyle().Width(11).Foreground(slate).Render(fmt.Sprintf("%d groups", s.DupeGroupCount)),
			dimStyle.Render(truncate(s.StartedAt, 19)),
		)
		if i == m.selected {
			line = selectedRowStyle.Render(line)
		}
		rows += line + "\n"
	}

	return panelStyle.Width(max(20, m.width-2)).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			panelHeaderStyle.Render("Recent scans"),
			"",
			rows,
		),
	)
}
