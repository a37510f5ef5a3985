package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/caevv/agenthistory/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Browse node build history in a terminal UI",
	Long: `Open an interactive terminal browser over the node index.

The node list refreshes every two seconds. Opening a node shows one page of
its build history with the configured default sort.

Navigation:
  ↑/↓ or k/j  - Navigate nodes or builds
  g/G         - Jump to top/bottom of the node list
  enter       - Open the selected node
  n/p         - Next/previous page
  s           - Toggle sort column (start time, build number)
  o           - Toggle sort order
  f           - Cycle the result filter
  x           - Show steps of the selected build
  esc         - Go back to the node list
  r           - Refresh data
  q           - Quit

Example:
  agenthistory tui --config ./agenthistory.yaml`,
	RunE: runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	// Logs would draw over the interface unless sent to a file.
	a, err := openAppFromFlags(cmd, true)
	if err != nil {
		return err
	}
	defer closeApp(a)

	model := tui.New(a.history, a.cfg.History, logger)

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),       // Use alternate screen buffer
		tea.WithMouseCellMotion(), // Enable mouse support
	)

	finalModel, err := p.Run()
	if err != nil {
		logger.Error("TUI error", "error", err)
		return fmt.Errorf("TUI error: %w", err)
	}

	if m, ok := finalModel.(tui.Model); ok && m.Quitting() {
		logger.Info("tui closed")
	}
	return nil
}
