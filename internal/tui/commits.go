package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/codeloop-agent/internal/client"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

// CommitsModel lists the commits the agent has produced.
type CommitsModel struct {
	api      *client.Client
	commits  []models.CommitRecord
	loadErr  string
	width    int
	height   int
	lastLoad time.Time
	loading  bool
}

type commitsLoadedMsg struct {
	commits []models.CommitRecord
	err     error
}

func NewCommitsModel(api *client.Client) CommitsModel {
	return CommitsModel{api: api, loading: true}
}

func (c CommitsModel) Init() tea.Cmd {
	return c.loadCmd()
}

func (c CommitsModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		commits, err := c.api.Commits(ctx, 50)
		return commitsLoadedMsg{commits: commits, err: err}
	}
}

func (c CommitsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case commitsLoadedMsg:
		c.loading = false
		c.lastLoad = time.Now()
		if msg.err != nil {
			c.loadErr = msg.err.Error()
		} else {
			c.loadErr = ""
			c.commits = msg.commits
		}
		return c, tea.Tick(10*time.Second, func(t time.Time) tea.Msg {
			return c.loadCmd()()
		})
	case tea.KeyMsg:
		if msg.String() == "r" {
			c.loading = true
			return c, c.loadCmd()
		}
	}
	return c, nil
}

func (c *CommitsModel) SetSize(w, h int) {
	c.width = w
	c.height = h
}

func (c CommitsModel) View() string {
	if c.loading && len(c.commits) == 0 {
		return panelStyle.Width(max(20, c.width-2)).Render("Loading commits...")
	}
	if c.loadErr != "" {
		return panelStyle.Width(max(20, c.width-2)).Render(errorStyle.Render(c.loadErr))
	}

	lineLimit := max(5, c.height-6)
	rows := ""
	for i, commit := range c.commits {
		if i >= lineLimit {
			break
		}
		hash := commit.CommitHash
		if len(hash) > 8 {
			hash = hash[:8]
		}
		subject := strings.SplitN(commit.Message, "\n", 2)[0]
		row := lipgloss.JoinHorizontal(lipgloss.Left,
			lipgloss.NewStyle().Width(10).Foreground(accent).Render(hash),
			lipgloss.NewStyle().Width(40).Foreground(ink).Render(truncate(subject, 38)),
			dimStyle.Render(commit.TaskID),
		)
		rows += row + "\n"
	}
	if rows == "" {
		rows = dimStyle.Render("No commits yet.\n")
	}

	return panelStyle.Width(max(20, c.width-2)).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			panelHeaderStyle.Render("Agent commits"),
			rows,
		),
	)
}
