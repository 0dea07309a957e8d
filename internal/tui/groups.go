package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/dupescan-agent/internal/store"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

// GroupsModel shows the duplicate groups of one scan, members inline.
type GroupsModel struct {
	store   *store.Store
	scanID  int64
	groups  []groupView
	width   int
	height  int
	loading bool
}

type groupView struct {
	group   models.DupeGroup
	members []models.DupeGroupMember
}

type groupsLoadedMsg struct {
	scanID int64
	groups []groupView
}

// NewGroupsModel creates a GroupsModel.
func NewGroupsModel(st *store.Store) GroupsModel {
	return GroupsModel{store: st}
}

func (m GroupsModel) Init() tea.Cmd { return nil }

// LoadScan loads the duplicate groups of scanID.
func (m *GroupsModel) LoadScan(scanID int64) tea.Cmd {
	m.scanID = scanID
	m.loading = true
	st := m.store
	return func() tea.Msg {
		ctx := context.Background()
		groups, _ := st.ListDupeGroups(ctx, scanID)
		out := make([]groupView, 0, len(groups))
		for _, g := range groups {
			members, _ := st.ListGroupMembers(ctx, g.ID)
			out = append(out, groupView{group: g, members: members})
		}
		return groupsLoadedMsg{scanID: scanID, groups: out}
	}
}

func (m GroupsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case groupsLoadedMsg:
		if msg.scanID == m.scanID {
			m.groups = msg.groups
			m.loading = false
		}
	case tea.KeyMsg:
		if msg.String() == "r" && m.scanID != 0 {
			return m, m.LoadScan(m.scanID)
		}
	}
	return m, nil
}

func (m *GroupsModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

func (m GroupsModel) View() string {
	w := max(20, m.width-2)
	if m.scanID == 0 {
		return panelStyle.Width(w).Render(
			dimStyle.Render("Select a scan and press enter to see its duplicate groups."))
	}
	if m.loading {
		return panelStyle.Width(w).Render("Loading groups...")
	}
	if len(m.groups) == 0 {
		return panelStyle.Width(w).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				panelHeaderStyle.Render(fmt.Sprintf("Scan #%d", m.scanID)),
				"",
				dimStyle.Render("No duplicate groups found."),
			))
	}

	body := panelHeaderStyle.Render(fmt.Sprintf("Scan #%d — %d duplicate groups", m.scanID, len(m.groups))) + "\n"
	for _, gv := range m.groups {
		g := gv.group
		body += "\n" + lipgloss.JoinHorizontal(lipgloss.Left,
			lipgloss.NewStyle().Bold(true).Foreground(ink).Render(truncate(g.Label, 60)),
			"  ",
			mutedBadgeStyle.Render(g.Relationship),
			"  ",
			dimStyle.Render(fmt.Sprintf("confidence %.2f", g.Confidence)),
		) + "\n"
		for _, mem := range gv.members {
			marker := "  "
			style := lipgloss.NewStyle().Foreground(slate)
			if mem.Rank == 1 {
				marker = "★ "
				style = lipgloss.NewStyle().Foreground(green)
			}
			body += style.Render(fmt.Sprintf("  %s#%d  rank %d  score %.2f  %s",
				marker, mem.PRNumber, mem.Rank, mem.Score, truncate(mem.Rationale, 60))) + "\n"
		}
	}

	return panelStyle.Width(w).Render(body)
}
