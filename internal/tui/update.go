package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/caevv/agenthistory/internal/query"
)

// Update handles incoming messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.refreshData()
		return m, tickCmd()

	case error:
		m.errorMessage = msg.Error()
		return m, nil
	}

	return m, nil
}

// handleKeyPress processes keyboard input.
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit

	case "r":
		m.refreshData()
		return m, nil
	}

	if m.viewMode == ViewModeList {
		m.handleListKey(key)
	} else {
		m.handleDetailKey(key)
	}
	return m, nil
}

func (m *Model) handleListKey(key string) {
	switch key {
	case "enter":
		m.openNode()
	case "up", "k":
		if m.selectedNode > 0 {
			m.selectedNode--
		}
	case "down", "j":
		if m.selectedNode < len(m.nodes)-1 {
			m.selectedNode++
		}
	case "g":
		m.selectedNode = 0
	case "G":
		if len(m.nodes) > 0 {
			m.selectedNode = len(m.nodes) - 1
		}
	}
}

func (m *Model) handleDetailKey(key string) {
	switch key {
	case "esc", "backspace":
		m.viewMode = ViewModeList
		m.result = nil
		m.errorMessage = ""
		return

	case "up", "k":
		if m.selectedRow > 0 {
			m.selectedRow--
		}
		return
	case "down", "j":
		if m.result != nil && m.selectedRow < len(m.result.Items)-1 {
			m.selectedRow++
		}
		return
	case "x", "enter":
		m.showSteps = !m.showSteps
		return

	case "n", "right":
		if m.result == nil || m.params.Page >= m.result.TotalPages {
			return
		}
		m.params.Page++
	case "p", "left":
		if m.params.Page <= 1 {
			return
		}
		m.params.Page--
	case "s":
		if m.params.Sort == query.ColumnStartTime {
			m.params.Sort = query.ColumnBuild
		} else {
			m.params.Sort = query.ColumnStartTime
		}
		m.params.Page = 1
	case "o":
		if m.params.Order == query.OrderDesc {
			m.params.Order = query.OrderAsc
		} else {
			m.params.Order = query.OrderDesc
		}
		m.params.Page = 1
	case "f":
		m.params.Status = nextStatus(m.params.Status)
		m.params.Page = 1
	default:
		return
	}

	m.selectedRow = 0
	m.loadPage()
}
