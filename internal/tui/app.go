// Package tui is the terminal dashboard. It renders live daemon state read
// over the control-plane HTTP API.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/codeloop-agent/internal/client"
)

// Tab represents a TUI navigation tab.
type Tab int

const (
	TabDashboard Tab = iota
	TabLogs
	TabCommits
)

var tabNames = []string{"Dashboard", "Logs", "Commits"}

// App is the root bubbletea model.
type App struct {
	api       *client.Client
	width     int
	height    int
	activeTab Tab
	dashboard DashboardModel
	logs      LogsModel
	commits   CommitsModel
}

// NewApp creates the TUI application over an API client.
func NewApp(api *client.Client) *App {
	return &App{
		api:       api,
		dashboard: NewDashboardModel(api),
		logs:      NewLogsModel(api),
		commits:   NewCommitsModel(api),
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
	return tea.Batch(
		a.dashboard.Init(),
		a.logs.Init(),
		a.commits.Init(),
	)
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
		a.dashboard.SetSize(contentW, contentH)
		a.logs.SetSize(contentW, contentH)
		a.commits.SetSize(contentW, contentH)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "1":
			a.activeTab = TabDashboard
		case "2":
			a.activeTab = TabLogs
		case "3":
			a.activeTab = TabCommits
		case "tab":
			a.activeTab = (a.activeTab + 1) % Tab(len(tabNames))
		case "shift+tab":
			a.activeTab--
			if a.activeTab < 0 {
				a.activeTab = Tab(len(tabNames) - 1)
			}
		}
	}

	// Background refreshes flow to every view; key presses only to the
	// active one.
	if _, isKey := msg.(tea.KeyMsg); !isKey {
		newDash, cmd := a.dashboard.Update(msg)
		a.dashboard = newDash.(DashboardModel)
		cmds = append(cmds, cmd)
		newLogs, cmd := a.logs.Update(msg)
		a.logs = newLogs.(LogsModel)
		cmds = append(cmds, cmd)
		newCommits, cmd := a.commits.Update(msg)
		a.commits = newCommits.(CommitsModel)
		cmds = append(cmds, cmd)
	} else {
		switch a.activeTab {
		case TabDashboard:
			newDash, cmd := a.dashboard.Update(msg)
			a.dashboard = newDash.(DashboardModel)
			cmds = append(cmds, cmd)
		case TabLogs:
			newLogs, cmd := a.logs.Update(msg)
			a.logs = newLogs.(LogsModel)
			cmds = append(cmds, cmd)
		case TabCommits:
			newCommits, cmd := a.commits.Update(msg)
			a.commits = newCommits.(CommitsModel)
			cmds = append(cmds, cmd)
		}
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
	case TabDashboard:
		content = a.dashboard.View()
	case TabLogs:
		content = a.logs.View()
	case TabCommits:
		content = a.commits.View()
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
		Render("tab next  shift+tab prev  1-3 jump  r refresh  q quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		nav,
		contentBox,
		status,
	)
}

func (a *App) renderHeader() string {
	row := lipgloss.JoinHorizontal(lipgloss.Left,
		titleStyle.Render("codeloop"),
		"  ",
		dimStyle.Render("autonomous coding agent"),
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
	parts := make([]string, 0, len(tabNames)*2)
	for i, name := range tabNames {
		label := fmt.Sprintf("%d:%s", i+1, name)
		if Tab(i) == a.activeTab {
			parts = append(parts, lipgloss.NewStyle().Bold(true).Foreground(accent).Render(label))
		} else {
			parts = append(parts, dimStyle.Render(label))
		}
		if i < len(tabNames)-1 {
			parts = append(parts, dimStyle.Render("  ·  "))
		}
	}
	return lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		Foreground(slate).
		Render(lipgloss.JoinHorizontal(lipgloss.Left, parts...))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
