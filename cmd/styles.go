package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/syscore/internal/scheduler"
)

var (
	styleLoaded  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	styleSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	styleTotal   = lipgloss.NewStyle().Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#60A5FA"))
)

func outcomeStyle(o scheduler.Outcome) lipgloss.Style {
	switch o {
	case scheduler.OutcomeCompleted:
		return styleLoaded
	case scheduler.OutcomeShutdown:
		return styleHeader
	case scheduler.OutcomeFailed, scheduler.OutcomeCancelled:
		return styleFailed
	default:
		return styleTotal
	}
}

// renderUnit styles a unit's diagnostic line by its final state.
func renderUnit(rec scheduler.UnitRecord) string {
	line := rec.Line()
	switch rec.State {
	case scheduler.StateFailed:
		return styleFailed.Render(line)
	case scheduler.StateSkipped:
		return styleSkipped.Render(line)
	default:
		return styleLoaded.Render(line)
	}
}

// renderSummary renders the total line followed by run statistics.
func renderSummary(report *scheduler.Report) string {
	var b strings.Builder
	b.WriteString(outcomeStyle(report.Outcome).Inherit(styleTotal).Render(report.TotalLine()))
	b.WriteByte('\n')

	m := report.Metrics
	stats := fmt.Sprintf("  units %d · completed %d · failed %d · skipped %d · peak %d · parallelism %s · events %d",
		m.Units, m.Completed, m.Failed, m.Skipped, m.PeakConcurrency, m.FormatParallelism(), m.EventsPublished)
	b.WriteString(styleMuted.Render(stats))
	b.WriteByte('\n')

	if report.Outcome == scheduler.OutcomeShutdown {
		b.WriteString(styleMuted.Render(fmt.Sprintf("  shutdown requested by %s: %s", report.ShutdownBy, report.ShutdownReason)))
		b.WriteByte('\n')
	}
	return b.String()
}
