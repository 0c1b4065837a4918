package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/codeloop-agent/internal/client"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

// LogsModel tails the execution event log.
type LogsModel struct {
	api      *client.Client
	events   []models.Event
	loadErr  string
	width    int
	height   int
	lastLoad time.Time
	loading  bool
}

type logsLoadedMsg struct {
	events []models.Event
	err    error
}

func NewLogsModel(api *client.Client) LogsModel {
	return LogsModel{api: api, loading: true}
}

func (l LogsModel) Init() tea.Cmd {
	return l.loadCmd()
}

func (l LogsModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		events, err := l.api.Logs(ctx, 200)
		return logsLoadedMsg{events: events, err: err}
	}
}

func (l LogsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case logsLoadedMsg:
		l.loading = false
		l.lastLoad = time.Now()
		if msg.err != nil {
			l.loadErr = msg.err.Error()
		} else {
			l.loadErr = ""
			l.events = msg.events
		}
		return l, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return l.loadCmd()()
		})
	case tea.KeyMsg:
		if msg.String() == "r" {
			l.loading = true
			return l, l.loadCmd()
		}
	}
	return l, nil
}

func (l *LogsModel) SetSize(w, h int) {
	l.width = w
	l.height = h
}

func (l LogsModel) View() string {
	if l.loading && len(l.events) == 0 {
		return panelStyle.Width(max(20, l.width-2)).Render("Loading logs...")
	}
	if l.loadErr != "" {
		return panelStyle.Width(max(20, l.width-2)).Render(errorStyle.Render(l.loadErr))
	}

	lineLimit := max(5, l.height-6)
	rows := ""
	for i, evt := range l.events {
		if i >= lineLimit {
			break
		}
		ts := evt.Timestamp
		if t := models.ParseRFC3339(ts); !t.IsZero() {
			ts = t.Local().Format("15:04:05")
		}
		row := lipgloss.JoinHorizontal(lipgloss.Left,
			dimStyle.Width(10).Render(ts),
			levelStyle(evt.Level).Width(9).Render(evt.Level),
			lipgloss.NewStyle().Width(12).Foreground(slate).Render(evt.Component),
			lipgloss.NewStyle().Foreground(ink).Render(truncate(evt.Message, max(20, l.width-36))),
		)
		rows += row + "\n"
	}
	if rows == "" {
		rows = dimStyle.Render("No events yet.\n")
	}

	return panelStyle.Width(max(20, l.width-2)).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			panelHeaderStyle.Render("Recent events"),
			rows,
		),
	)
}
