// ABOUTME: TUI section for reference data sync status and the sync command
// ABOUTME: Shows last sync, stale tables, and runs a full sync off the UI loop
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/vendas/models"
	"github.com/harperreed/vendas/sync"
)

var (
	syncHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Underline(true)

	syncIdleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	syncSyncingStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("11")).
				Bold(true)

	syncErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	syncMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Italic(true)
)

// SyncCompleteMsg is sent when a full sync finishes.
type SyncCompleteMsg struct {
	Report sync.Report
	Error  error
}

func (m Model) renderSyncSection() string {
	var s strings.Builder

	s.WriteString(syncHeaderStyle.Render("Reference data"))
	s.WriteString("\n")

	st := m.syncStatus
	switch {
	case st.Running || m.busy == "syncing":
		s.WriteString(syncSyncingStyle.Render("⟳ Syncing..."))
	case st.Metadata == nil || st.Metadata.LastSyncAt == nil:
		s.WriteString(syncMessageStyle.Render("Not synced yet"))
	default:
		s.WriteString(syncIdleStyle.Render("✓ Last synced " + m.formatTimeSince(*st.Metadata.LastSyncAt)))
	}
	if md := st.Metadata; md != nil && md.LastError != "" {
		s.WriteString("\n")
		s.WriteString(syncErrorStyle.Render("✗ Data may be stale: " + md.LastError))
	}
	s.WriteString("\n")
	return s.String()
}

func (m Model) fullSync() tea.Cmd {
	return func() tea.Msg {
		report, err := m.sync.OnForegroundTrigger(context.Background(), nil)
		return SyncCompleteMsg{Report: report, Error: err}
	}
}

// handleSyncComplete handles sync completion messages.
func (m *Model) handleSyncComplete(msg SyncCompleteMsg) tea.Cmd {
	m.busy = ""
	switch {
	case errors.Is(msg.Error, models.ErrStaleReferenceData):
		m.addMessage(fmt.Sprintf("✗ sync incomplete, stale tables: %s", strings.Join(msg.Report.Failed, ", ")))
	case msg.Error != nil:
		m.addMessage(fmt.Sprintf("✗ sync failed: %v", msg.Error))
	default:
		records := 0
		for _, t := range msg.Report.Tables {
			records += t.Records
		}
		m.addMessage(fmt.Sprintf("✓ %d tables synced, %d records", len(msg.Report.Tables), records))
	}
	return m.refresh()
}

// formatTimeSince formats a time duration in a human-readable way.
func (m Model) formatTimeSince(t time.Time) string {
	duration := m.now().Sub(t)

	if duration < time.Minute {
		return "just now"
	} else if duration < time.Hour {
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	} else if duration < 24*time.Hour {
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}
