package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/flowgraph"
	"github.com/caevv/agenthistory/internal/history"
)

// View renders the UI.
func (m Model) View() string {
	if m.quitting {
		return "Bye.\n"
	}

	if m.viewMode == ViewModeDetail {
		return m.renderDetailView()
	}

	sections := []string{
		m.renderHeader("Agent Build History"),
		m.renderNodeList(),
		m.renderHelpBar("q: quit  │  ↑/↓: navigate  │  g/G: top/bottom  │  enter: history  │  r: refresh"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderHeader renders the title line.
func (m Model) renderHeader(title string) string {
	subtitle := subtitleStyle.Render(fmt.Sprintf("Last updated: %s", m.lastUpdate.Format("15:04:05")))
	header := lipgloss.JoinHorizontal(lipgloss.Top, titleStyle.Render(title), "  ", subtitle)
	return headerStyle.Render(header)
}

// renderNodeList renders the indexed nodes.
func (m Model) renderNodeList() string {
	if len(m.nodes) == 0 {
		return panelStyle.Render(subtitleStyle.Render("No node history recorded yet"))
	}

	rows := []string{
		titleStyle.Render(fmt.Sprintf("Nodes (%d)", len(m.nodes))),
		"",
	}
	for i, node := range m.nodes {
		if i == m.selectedNode {
			rows = append(rows, itemSelectedStyle.Render(iconArrow+" "+node))
		} else {
			rows = append(rows, itemStyle.Render("  "+node))
		}
	}
	return panelStyle.Render(strings.Join(rows, "\n"))
}

// renderHelpBar renders the help/status bar at the bottom.
func (m Model) renderHelpBar(help string) string {
	if m.errorMessage != "" {
		return statusBarStyle.Render(resultErrorStyle.Render("Error: " + m.errorMessage))
	}
	return statusBarStyle.Render(help)
}

// renderDetailView renders one page of the open node's history.
func (m Model) renderDetailView() string {
	sections := []string{
		m.renderHeader("Build History of " + m.node),
		m.renderQueryBar(),
		m.renderHistory(),
		m.renderHelpBar("esc: back  │  n/p: page  │  s: sort  │  o: order  │  f: filter  │  x: steps  │  q: quit"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderQueryBar shows the current sort, filter and page.
func (m Model) renderQueryBar() string {
	page, pages, total := m.params.Page, 0, 0
	if m.result != nil {
		page, pages, total = m.result.Page, m.result.TotalPages, m.result.Total
	}
	parts := []string{
		fmt.Sprintf("%s %s %s", keyStyle.Render("Sort:"), valueStyle.Render(string(m.params.Sort)), valueStyle.Render(string(m.params.Order))),
		fmt.Sprintf("%s %s", keyStyle.Render("Status:"), valueStyle.Render(string(m.params.Status))),
		fmt.Sprintf("%s %d/%d", keyStyle.Render("Page:"), page, pages),
		fmt.Sprintf("%s %d", keyStyle.Render("Builds:"), total),
	}
	return queryStyle.Render(strings.Join(parts, "  │  "))
}

// renderHistory renders the build rows of the loaded page.
func (m Model) renderHistory() string {
	if m.result == nil || len(m.result.Items) == 0 {
		return panelStyle.Render(subtitleStyle.Render("No builds on this page"))
	}

	header := fmt.Sprintf("  %-32s  %-20s  %-16s  %s", "Build", "Started", "Duration", "Result")
	rows := []string{
		keyStyle.Render(header),
		keyStyle.Render("  " + strings.Repeat("─", 82)),
	}
	for i, item := range m.result.Items {
		rows = append(rows, m.renderExecution(item, i == m.selectedRow))
		if m.showSteps && i == m.selectedRow {
			for _, step := range item.Views {
				rows = append(rows, renderStep(step))
			}
		}
	}
	return panelStyle.Render(strings.Join(rows, "\n"))
}

// renderExecution renders a single build row.
func (m Model) renderExecution(e *history.AgentExecution, selected bool) string {
	prefix := "  "
	if selected {
		prefix = iconArrow + " "
	}

	name := padRight(truncate(e.Run.FullDisplayName(), 32), 32)
	if selected {
		name = itemSelectedStyle.UnsetPadding().Render(name)
	}

	started := "N/A"
	if e.Run.StartTimeMillis > 0 {
		started = formatTimeAgo(e.Run.StartTime())
	}

	return fmt.Sprintf("%s%s  %-20s  %s  %s",
		prefix,
		name,
		started,
		durationStyle.Render(padRight(e.Duration, 16)),
		renderResult(e.Result),
	)
}

// renderResult renders a result with its icon.
func renderResult(r build.Result) string {
	switch r {
	case build.ResultUnknown:
		return resultRunningStyle.Render(iconRunning + " running")
	case build.ResultSuccess:
		return resultSuccessStyle.Render(iconSuccess + " success")
	case build.ResultUnstable:
		return resultUnstableStyle.Render(iconUnstable + " unstable")
	case build.ResultFailure:
		return resultErrorStyle.Render(iconError + " failure")
	default:
		return resultIdleStyle.Render(iconIdle + " " + strings.ToLower(r.String()))
	}
}

// renderStep renders one step row under an expanded pipeline build.
func renderStep(v history.StepView) string {
	label := "step " + v.StepID
	if v.Label != "" {
		label += " (" + v.Label + ")"
	}
	status := string(v.Status)
	if v.InProgress {
		status = resultRunningStyle.Render(iconRunning + " " + status)
	} else if v.Status == flowgraph.StatusFailure {
		status = resultErrorStyle.Render(status)
	}
	return fmt.Sprintf("      %s %-28s  %-20s  %s  %s",
		iconBullet,
		truncate(label, 28),
		"",
		durationStyle.Render(padRight(v.Duration, 16)),
		status,
	)
}

// Helper functions

// formatTimeAgo formats a past time relative to now.
func formatTimeAgo(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return "just now"
	}
	if duration < time.Hour {
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	}
	if duration < 24*time.Hour {
		return fmt.Sprintf("%dh %dm ago",
			int(duration.Hours()),
			int(duration.Minutes())%60,
		)
	}
	return fmt.Sprintf("%dd ago", int(duration.Hours()/24))
}

// truncate truncates a string to a maximum length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// padRight pads a string with spaces to reach the desired length.
func padRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}
