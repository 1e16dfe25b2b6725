// ABOUTME: Queue view for the TUI dashboard
// ABOUTME: Renders status counts, the open orders table, recent activity, and key help
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/vendas/models"
)

var statusColors = map[models.OrderStatus]lipgloss.Color{
	models.StatusPending:   lipgloss.Color("11"),
	models.StatusInFlight:  lipgloss.Color("39"),
	models.StatusConfirmed: lipgloss.Color("10"),
	models.StatusFailed:    lipgloss.Color("9"),
}

func (m Model) renderQueueView() string {
	var s strings.Builder

	title := "Order queue"
	if m.session.UserName != "" {
		title = fmt.Sprintf("Order queue · %s (%s)", m.session.UserName, m.session.CompanyID)
	}
	s.WriteString(titleStyle.Render(title))
	s.WriteString("\n")

	s.WriteString(m.renderCounts())
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(syncErrorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n\n")
	}

	if len(m.orders) == 0 {
		s.WriteString(syncMessageStyle.Render("No open orders."))
		s.WriteString("\n")
	} else {
		s.WriteString(m.renderOrdersTable())
		s.WriteString("\n")
	}
	s.WriteString("\n")

	s.WriteString(m.renderSyncSection())

	if len(m.messages) > 0 {
		s.WriteString("\n")
		s.WriteString(syncHeaderStyle.Render("Recent activity"))
		s.WriteString("\n")
		start := 0
		if len(m.messages) > 5 {
			start = len(m.messages) - 5
		}
		for _, line := range m.messages[start:] {
			s.WriteString(syncMessageStyle.Render("  " + line))
			s.WriteString("\n")
		}
	}

	s.WriteString(m.renderHelp())
	return s.String()
}

func (m Model) renderCounts() string {
	parts := make([]string, 0, len(models.AllStatuses))
	for _, st := range models.AllStatuses {
		style := lipgloss.NewStyle().Bold(true).Foreground(statusColors[st])
		parts = append(parts, style.Render(fmt.Sprintf("%s %d", st, m.counts[st])))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderOrdersTable() string {
	columns := []table.Column{
		{Title: "Order", Width: 26},
		{Title: "Partner", Width: 10},
		{Title: "Status", Width: 10},
		{Title: "Tries", Width: 5},
		{Title: "Error", Width: 40},
	}

	rows := make([]table.Row, 0, len(m.orders))
	for _, o := range m.orders {
		errText := o.ErrorMessage
		if o.Status == models.StatusPending && o.ApprovalID != "" {
			errText = "waiting for approval"
		}
		rows = append(rows, table.Row{
			o.ID,
			o.Payload.PartnerCode,
			string(o.Status),
			fmt.Sprintf("%d", o.Attempts),
			errText,
		})
	}

	height := m.height - 16
	if height < 3 {
		height = 3
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(height),
	)

	if m.selectedRow < len(rows) {
		t.SetCursor(m.selectedRow)
	}

	return t.View()
}

func (m Model) renderHelp() string {
	help := []string{
		"↑/↓: Select",
		"d: Drain queue",
		"s: Sync",
		"r: Retry failed",
		"f: Refresh",
		"q: Quit",
	}
	return helpStyle.Render(strings.Join(help, " • "))
}
