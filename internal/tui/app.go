package tui

import (
	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
	"github.com/CosmoTheDev/dupescan-agent/internal/store"
)

// Tab represents a TUI navigation tab.
type Tab int

const (
	TabScans Tab = iota
	TabGroups
)

var tabNames = []string{"Scans", "Groups"}

// App is the root bubbletea model: a read-only dashboard over recent scans
// and the duplicate groups of the selected scan.
type App struct {
	cfg       *config.Config
	width     int
	height    int
	activeTab Tab
	scans     ScansModel
	groups    GroupsModel
}

// NewApp creates the TUI application.
func NewApp(cfg *config.Config, st *store.Store) *App {
	return &App{
		cfg:    cfg,
		scans:  NewScansModel(st),
		groups: NewGroupsModel(st),
	}
}

// Run starts the bubbletea program.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.scans.Init()
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		contentW := max(20, msg.Width-2)
		contentH := max(8, msg.Height-7)
		a.scans.SetSize(contentW, contentH)
		a.groups.SetSize(contentW, contentH)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "1":
			a.activeTab = TabScans
		case "2":
			a.activeTab = TabGroups
		case "tab":
			a.activeTab = (a.activeTab + 1) % Tab(len(tabNames))
		case "enter":
			if a.activeTab == TabScans {
				if scanID, ok := a.scans.SelectedScanID(); ok {
					a.activeTab = TabGroups
					return a, a.groups.LoadScan(scanID)
				}
			}
		}

	case groupsLoadedMsg:
		newGroups, cmd := a.groups.Update(msg)
		a.groups = newGroups.(GroupsModel)
		return a, cmd
	}

	switch a.activeTab {
	case TabScans:
		newScans, cmd := a.scans.Update(msg)
		a.scans = newScans.(ScansModel)
		cmds = append(cmds, cmd)
	case TabGroups:
		newGroups, cmd := a.groups.Update(msg)
		a.groups = newGroups.(GroupsModel)
		cmds = append(cmds, cmd)
	}

	return a, tea.Batch(cmds...)
}

// View implements tea.Model.
func (a *App) View() string {
	if a.width == 0 {
		return "Loading..."
	}

	header := a.renderHeader()
	nav := a.renderTabs()

	var content string
	switch a.activeTab {
	case TabScans:
		content = a.scans.View()
	case TabGroups:
		content = a.groups.View()
	}

	contentBox := lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		MaxHeight(max(1, a.height-4)).
		Render(content)

	status := lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		Foreground(slateDim).
		Render("tab switch  ↑/↓ select  enter groups  r refresh  q quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		nav,
		contentBox,
		status,
	)
}

func (a *App) renderHeader() string {
	row := lipgloss.JoinHorizontal(lipgloss.Left,
		titleStyle.Render("dupescan"),
		"  ",
		dimStyle.Render("duplicate pull-request detection"),
		"  ",
		mutedBadgeStyle.Render(" "+tabNames[a.activeTab]+" "),
	)
	return lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(line).
		Width(a.width).
		Padding(0, 1).
		Render(row)
}

func (a *App) renderTabs() string {
	parts := make([]string, 0, len(tabNames))
	for i, name := range tabNames {
		style := tabStyle
		if Tab(i) == a.activeTab {
			style = activeTabStyle
		}
		parts = append(parts, style.Render(name))
	}
	return lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, parts...))
}
