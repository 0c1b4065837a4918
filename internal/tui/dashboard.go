package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CosmoTheDev/codeloop-agent/internal/client"
)

// DashboardModel shows the overview: queue depth, worker states, model
// backends and reviewer counters.
type DashboardModel struct {
	api      *client.Client
	status   client.Status
	loadErr  string
	width    int
	height   int
	lastLoad time.Time
	loading  bool
}

// dashLoadedMsg carries a freshly loaded status.
type dashLoadedMsg struct {
	status client.Status
	err    error
}

// NewDashboardModel creates a DashboardModel.
func NewDashboardModel(api *client.Client) DashboardModel {
	return DashboardModel{api: api, loading: true}
}

func (d DashboardModel) Init() tea.Cmd {
	return d.loadCmd()
}

func (d DashboardModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		status, err := d.api.Status(ctx)
		return dashLoadedMsg{status: status, err: err}
	}
}

func (d DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashLoadedMsg:
		d.loading = false
		d.lastLoad = time.Now()
		if msg.err != nil {
			d.loadErr = msg.err.Error()
		} else {
			d.loadErr = ""
			d.status = msg.status
		}
		// Refresh every 5 seconds.
		return d, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return d.loadCmd()()
		})
	case tea.KeyMsg:
		if msg.String() == "r" {
			d.loading = true
			return d, d.loadCmd()
		}
	}
	return d, nil
}

func (d *DashboardModel) SetSize(w, h int) {
	d.width = w
	d.height = h
}

func (d DashboardModel) View() string {
	if d.loading && d.lastLoad.IsZero() {
		return panelStyle.Width(max(20, d.width-2)).Render("Connecting to daemon...")
	}
	if d.loadErr != "" {
		return panelStyle.Width(max(20, d.width-2)).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				errorStyle.Render("Daemon unreachable"),
				"",
				dimStyle.Render(d.loadErr),
				dimStyle.Render("Start it with: codeloop agent"),
			),
		)
	}

	s := d.status
	cardW := 18
	if d.width >= 100 {
		cardW = 20
	}
	summary := lipgloss.JoinHorizontal(lipgloss.Top,
		renderCounter("Queued", s.Queue.Size, infoStyle, cardW),
		renderCounter("Completed", s.Queue.ByStatus["completed"], okStyle, cardW),
		renderCounter("Failed", s.Queue.ByStatus["failed"], errorStyle, cardW),
		renderCounter("Reviewed", s.Reviewer.TasksReviewed, infoStyle, cardW),
	)

	rows := ""
	for _, w := range s.Workers {
		task := w.CurrentTask
		if task == "" {
			task = "-"
		}
		line := lipgloss.JoinHorizontal(lipgloss.Left,
			lipgloss.NewStyle().Width(12).Foreground(ink).Render(w.ID),
			lipgloss.NewStyle().Width(12).Render(statusBadge(w.Status)),
			lipgloss.NewStyle().Width(44).Foreground(slate).Render(truncate(task, 42)),
			dimStyle.Render(fmt.Sprintf("done:%d failed:%d", w.CompletedCount, w.FailedCount)),
		)
		rows += line + "\n"
	}
	if rows == "" {
		rows = dimStyle.Render("No workers running.\n")
	}

	backends := ""
	for _, m := range s.Model {
		mark := dimStyle.Render("unavailable")
		if m.Available {
			mark = okStyle.Render("available")
		}
		name := m.Kind
		if m.Active {
			name = lipgloss.NewStyle().Bold(true).Foreground(accent).Render(name + " *")
		} else {
			name = dimStyle.Render(name)
		}
		backends += name + " " + dimStyle.Render(m.Model) + " " + mark + "   "
	}

	state := "running"
	if s.InCheckpoint {
		state = "checkpoint"
	} else if s.Paused {
		state = "paused"
	}
	meta := lipgloss.JoinHorizontal(lipgloss.Left,
		statusBadge(state),
		"  ",
		dimStyle.Render(fmt.Sprintf("uptime %s", (time.Duration(s.UptimeSeconds)*time.Second))),
		"  ",
		dimStyle.Render(fmt.Sprintf("repos %d", s.Repositories)),
		"  ",
		dimStyle.Render("updated "+d.lastLoad.Format("15:04:05")),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Padding(0, 1).Render(summary),
		panelStyle.Width(max(20, d.width-2)).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				panelHeaderStyle.Render("Workers"),
				dimStyle.Render("Worker      Status      Current task                                Counters"),
				rows,
				"",
				panelHeaderStyle.Render("Model backends"),
				backends,
				"",
				meta,
			),
		),
	)
}

func renderCounter(label string, count int, style lipgloss.Style, width int) string {
	return boxStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Center,
			style.Bold(true).Render(fmt.Sprintf("%d", count)),
			dimStyle.Render(strings.ToUpper(label)),
		),
	) + "  "
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-1] + "…"
}
