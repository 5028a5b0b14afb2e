// ABOUTME: Terminal rendering for import summaries and sync status
// ABOUTME: Styles output with lipgloss when writing to a terminal
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/harperreed/leadbridge/db"
	"github.com/harperreed/leadbridge/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Underline(true)

	flowStyle = lipgloss.NewStyle().
			Bold(true).
			Width(10)

	idleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	syncingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

// styled reports whether w is a terminal that should receive colors.
func styled(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func render(style lipgloss.Style, s string, color bool) string {
	if !color {
		return s
	}
	return style.Render(s)
}

func renderSummary(summary models.ImportSummary, color bool) string {
	var s strings.Builder
	s.WriteString(render(titleStyle, "Import finished", color))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf("  %s %d\n", render(flowStyle, "created", color), summary.Created))
	s.WriteString(fmt.Sprintf("  %s %d\n", render(flowStyle, "skipped", color), summary.Skipped))

	errLine := fmt.Sprintf("%d", summary.Errors)
	if summary.Errors > 0 {
		errLine = render(errorStyle, errLine, color)
	}
	s.WriteString(fmt.Sprintf("  %s %s", render(flowStyle, "errors", color), errLine))
	return s.String()
}

func renderStatus(states []db.SyncState, entries []db.SyncLogEntry, color bool) string {
	var s strings.Builder

	s.WriteString(render(headerStyle, "Flows", color))
	s.WriteString("\n\n")
	if len(states) == 0 {
		s.WriteString(render(mutedStyle, "  No flow has run yet.", color))
		s.WriteString("\n")
	}
	for _, state := range states {
		s.WriteString("  ")
		s.WriteString(render(flowStyle, state.Flow, color))
		switch state.Status {
		case db.StatusSyncing:
			s.WriteString(render(syncingStyle, " syncing", color))
		case db.StatusError:
			msg := " error"
			if state.ErrorMessage != nil {
				msg += ": " + *state.ErrorMessage
			}
			s.WriteString(render(errorStyle, msg, color))
		default:
			s.WriteString(render(idleStyle, " idle", color))
		}
		s.WriteString(render(mutedStyle, "  last run "+since(state.LastRunAt)+", last success "+since(state.LastSuccessAt), color))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(render(headerStyle, "Recent rows", color))
	s.WriteString("\n\n")
	if len(entries) == 0 {
		s.WriteString(render(mutedStyle, "  Nothing logged yet.", color))
		s.WriteString("\n")
	}
	for _, e := range entries {
		outcome := e.Outcome
		if e.Outcome == models.OutcomeError {
			outcome = render(errorStyle, outcome, color)
		}
		line := fmt.Sprintf("  %s  %-7s row %-4d %s", e.LoggedAt.Local().Format("2006-01-02 15:04:05"), e.Flow, e.Row, outcome)
		if e.LeadID != 0 {
			line += fmt.Sprintf(" lead %d", e.LeadID)
		}
		if e.Reason != "" {
			line += " " + render(mutedStyle, e.Reason, color)
		}
		s.WriteString(line)
		s.WriteString("\n")
	}

	return s.String()
}

func since(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return time.Since(*t).Round(time.Second).String() + " ago"
}
