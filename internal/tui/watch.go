package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/theoremlib/internal/api"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// StatusFetcher reports the status of one job kind for an artifact.
type StatusFetcher interface {
	Status(ctx context.Context, kind models.JobKind, ref models.ArtifactKey) (api.StatusResponse, error)
}

// JobRow is the last observed state of one job kind.
type JobRow struct {
	Kind   models.JobKind
	Status string
	TaskID string
}

// Done returns true once the job reached success or fail.
func (r JobRow) Done() bool {
	return models.JobStatus(r.Status).Terminal()
}

// PollMsg carries the result of one polling round.
type PollMsg struct {
	Rows []JobRow
	Err  error
}

type tickMsg struct{}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#45B7D1"))
	kindStyle    = lipgloss.NewStyle().Width(9)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("28")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// WatchModel is the bubbletea model for the status watcher.
type WatchModel struct {
	fetcher  StatusFetcher
	ref      models.ArtifactKey
	interval time.Duration
	timeout  time.Duration

	spinner  spinner.Model
	rows     []JobRow
	err      error
	done     bool
	quitting bool
}

// NewWatchModel creates a watcher polling every interval.
func NewWatchModel(fetcher StatusFetcher, ref models.ArtifactKey, interval time.Duration) *WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = pendingStyle

	rows := make([]JobRow, 0, len(models.AllJobKinds))
	for _, kind := range models.AllJobKinds {
		rows = append(rows, JobRow{Kind: kind, Status: api.StatusNotFound})
	}

	return &WatchModel{
		fetcher:  fetcher,
		ref:      ref,
		interval: interval,
		timeout:  10 * time.Second,
		spinner:  s,
		rows:     rows,
	}
}

// Rows returns the last observed rows.
func (m *WatchModel) Rows() []JobRow {
	return m.rows
}

// Done returns true once every job reached a terminal status.
func (m *WatchModel) Done() bool {
	return m.done
}

// Failed returns true if any job finished with fail.
func (m *WatchModel) Failed() bool {
	for _, r := range m.rows {
		if r.Status == string(models.JobStatusFail) {
			return true
		}
	}
	return false
}

// Err returns the last polling error, if any.
func (m *WatchModel) Err() error {
	return m.err
}

// Init implements tea.Model.
func (m *WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

// Update implements tea.Model.
func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case PollMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.rows = msg.Rows
		}
		if msg.Err == nil && allDone(m.rows) {
			m.done = true
			return m, tea.Quit
		}
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })

	case tickMsg:
		return m, m.poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *WatchModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("%s @ %s", m.ref.SourceURL, m.ref.Revision)))
	b.WriteString("\n\n")

	for _, r := range m.rows {
		b.WriteString("  ")
		b.WriteString(m.icon(r))
		b.WriteString(" ")
		b.WriteString(kindStyle.Render(string(r.Kind)))
		b.WriteString(statusStyle(r.Status).Render(r.Status))
		if r.TaskID != "" {
			b.WriteString(mutedStyle.Render("  " + r.TaskID))
		}
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(failStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}

	if !m.done && !m.quitting {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("q to quit"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *WatchModel) icon(r JobRow) string {
	switch models.JobStatus(r.Status) {
	case models.JobStatusSuccess:
		return successStyle.Render("✓")
	case models.JobStatusFail:
		return failStyle.Render("✗")
	case models.JobStatusQueued, models.JobStatusRunning:
		return m.spinner.View()
	default:
		return mutedStyle.Render("·")
	}
}

func (m *WatchModel) poll() tea.Cmd {
	fetcher, ref, timeout := m.fetcher, m.ref, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		rows := make([]JobRow, 0, len(models.AllJobKinds))
		var errs []error
		for _, kind := range models.AllJobKinds {
			resp, err := fetcher.Status(ctx, kind, ref)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", kind, err))
				continue
			}
			rows = append(rows, JobRow{Kind: kind, Status: resp.Status, TaskID: resp.TaskID})
		}
		return PollMsg{Rows: rows, Err: errors.Join(errs...)}
	}
}

func statusStyle(status string) lipgloss.Style {
	switch models.JobStatus(status) {
	case models.JobStatusSuccess:
		return successStyle
	case models.JobStatusFail:
		return failStyle
	case models.JobStatusQueued, models.JobStatusRunning:
		return pendingStyle
	default:
		return mutedStyle
	}
}

func allDone(rows []JobRow) bool {
	if len(rows) == 0 {
		return false
	}
	for _, r := range rows {
		if !r.Done() {
			return false
		}
	}
	return true
}
