// ABOUTME: Terminal User Interface using bubbletea framework
// ABOUTME: Full-screen queue dashboard with drain, sync, and retry controls
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/queue"
	"github.com/harperreed/vendas/sync"
)

// Model is the main bubbletea model
type Model struct {
	queue   *queue.Manager
	sync    *sync.Orchestrator
	session models.Session

	counts     map[models.OrderStatus]int
	orders     []models.PendingOrder
	syncStatus sync.Status

	selectedRow int
	busy        string
	messages    []string

	width  int
	height int
	err    error
	now    func() time.Time
}

// NewModel creates a new TUI model
func NewModel(q *queue.Manager, orch *sync.Orchestrator, session models.Session) Model {
	return Model{
		queue:   q,
		sync:    orch,
		session: session,
		width:   80,
		height:  24,
		now:     time.Now,
	}
}

// Run starts the full-screen program and blocks until the user quits.
func Run(m Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// refreshedMsg carries a fresh snapshot of the queue and sync state.
type refreshedMsg struct {
	counts map[models.OrderStatus]int
	orders []models.PendingOrder
	status sync.Status
	err    error
}

// DrainCompleteMsg is sent when a drain or retry finishes.
type DrainCompleteMsg struct {
	Retry  bool
	Report queue.DrainReport
	Error  error
}

func (m Model) Init() tea.Cmd {
	return m.refresh()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case refreshedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.counts = msg.counts
			m.orders = msg.orders
			m.syncStatus = msg.status
			if m.selectedRow >= len(m.orders) {
				m.selectedRow = max(len(m.orders)-1, 0)
			}
		}
		return m, nil
	case DrainCompleteMsg:
		cmd := m.handleDrainComplete(msg)
		return m, cmd
	case SyncCompleteMsg:
		cmd := m.handleSyncComplete(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	return m.renderQueueView()
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.selectedRow > 0 {
			m.selectedRow--
		}
		return m, nil
	case "down", "j":
		if m.selectedRow < len(m.orders)-1 {
			m.selectedRow++
		}
		return m, nil
	}

	// One background operation at a time.
	if m.busy != "" {
		return m, nil
	}

	switch msg.String() {
	case "d":
		m.busy = "draining"
		m.addMessage("Sending queued orders...")
		return m, m.drain(false)
	case "r":
		m.busy = "retrying"
		m.addMessage("Retrying failed orders...")
		return m, m.drain(true)
	case "s":
		m.busy = "syncing"
		m.addMessage("Refreshing reference data...")
		return m, m.fullSync()
	case "f":
		return m, m.refresh()
	}
	return m, nil
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		counts, err := m.queue.Counts(ctx)
		if err != nil {
			return refreshedMsg{err: err}
		}
		orders, err := m.queue.List(ctx, models.StatusPending, models.StatusInFlight, models.StatusFailed)
		if err != nil {
			return refreshedMsg{err: err}
		}
		status, err := m.sync.Status(ctx)
		if err != nil {
			return refreshedMsg{err: err}
		}
		return refreshedMsg{counts: counts, orders: orders, status: status}
	}
}

// drain runs a drain, or a retry of every failed order, off the UI loop.
func (m Model) drain(retry bool) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		var (
			report queue.DrainReport
			err    error
		)
		if retry {
			report, err = m.queue.RetryFailed(ctx, queue.RetryAll)
		} else {
			report, err = m.queue.Drain(ctx)
		}
		return DrainCompleteMsg{Retry: retry, Report: report, Error: err}
	}
}

func (m *Model) handleDrainComplete(msg DrainCompleteMsg) tea.Cmd {
	m.busy = ""
	switch {
	case msg.Error != nil:
		m.addMessage(fmt.Sprintf("✗ drain failed: %v", msg.Error))
	case msg.Report.Skipped:
		m.addMessage("A drain is already running")
	default:
		r := msg.Report
		line := fmt.Sprintf("%d sent, %d confirmed, %d failed, %d waiting for approval",
			r.Attempted, r.Confirmed, r.Failed, r.Held)
		if msg.Retry {
			line = fmt.Sprintf("%d requeued; %s", r.Requeued, line)
		}
		m.addMessage("✓ " + line)
	}
	return m.refresh()
}

// addMessage adds a message to the activity log.
func (m *Model) addMessage(msg string) {
	timestamp := m.now().Format("15:04:05")
	m.messages = append(m.messages, fmt.Sprintf("[%s] %s", timestamp, msg))
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)
)
