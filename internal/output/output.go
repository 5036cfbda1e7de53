// Package output provides styled terminal output helpers (success, error,
// warning, queue formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/possync/internal/models"
)

var (
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyles = map[models.QueueStatus]lipgloss.Style{
		models.StatusPending: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusSyncing: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusSynced:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// QueueEntry formats one sync queue entry for listing.
func QueueEntry(e models.QueueEntry) string {
	style, ok := statusStyles[e.Status]
	if !ok {
		style = subtleStyle
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-7s %-12s %s/%s",
		style.Render(fmt.Sprintf("%-8s", e.Status)),
		e.Action, e.CreatedAt.Local().Format("Jan 02 15:04"), e.Table, e.RecordID)
	if e.Attempts > 0 {
		fmt.Fprintf(&b, "  attempts=%d", e.Attempts)
	}
	if e.Error != "" {
		b.WriteString("\n  ")
		b.WriteString(subtleStyle.Render(e.Error))
	}
	return b.String()
}

// RelativeTime renders t as a compact age like "3m" or "2d".
func RelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
