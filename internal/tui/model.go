package tui

import (
	"context"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/caevv/agenthistory/internal/config"
	"github.com/caevv/agenthistory/internal/history"
	"github.com/caevv/agenthistory/internal/query"
)

// ViewMode represents the current view in the TUI.
type ViewMode int

const (
	ViewModeList ViewMode = iota
	ViewModeDetail
)

// refreshInterval is how often the open view reloads.
const refreshInterval = 2 * time.Second

// statusCycle is the order the filter key steps through.
var statusCycle = []query.StatusFilter{
	query.StatusAll,
	query.StatusSuccess,
	query.StatusUnstable,
	query.StatusFailure,
	query.StatusAborted,
	query.StatusNotBuilt,
}

// Source is the history the TUI browses. history.Service implements it.
type Source interface {
	Nodes() ([]string, error)
	Query(ctx context.Context, node string, p query.Params) (*history.Result, error)
}

// Model holds the state for the TUI.
type Model struct {
	source   Source
	defaults config.History
	logger   *slog.Logger

	// UI state
	viewMode     ViewMode
	nodes        []string
	selectedNode int
	width        int
	height       int
	lastUpdate   time.Time
	quitting     bool
	errorMessage string

	// Detail view state
	node        string
	params      query.Params
	result      *history.Result
	selectedRow int
	showSteps   bool
}

// New creates a new TUI model.
func New(src Source, defaults config.History, logger *slog.Logger) Model {
	if logger == nil {
		logger = slog.Default()
	}
	return Model{
		source:     src,
		defaults:   defaults,
		logger:     logger,
		nodes:      []string{},
		lastUpdate: time.Now(),
	}
}

// Init initializes the model (required by Bubbletea).
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return tickMsg(time.Now()) },
		tea.EnterAltScreen,
	)
}

// tickMsg is sent on a regular interval to refresh the UI.
type tickMsg time.Time

// tickCmd returns a command that sends the next refresh tick.
func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// defaultParams returns the first page with the configured sort.
func (m Model) defaultParams() query.Params {
	p, err := m.defaults.QueryParams(1, 0, "", "", "")
	if err != nil {
		m.logger.Warn("invalid history defaults, using built-in ones", "error", err)
		return query.Params{Page: 1, PageSize: 20, Sort: query.ColumnStartTime, Order: query.OrderDesc, Status: query.StatusAll}
	}
	return p
}

// refreshData reloads the node list and, in the detail view, the open page.
func (m *Model) refreshData() {
	nodes, err := m.source.Nodes()
	if err != nil {
		m.errorMessage = err.Error()
		return
	}
	m.nodes = nodes
	if m.selectedNode >= len(m.nodes) {
		m.selectedNode = max(len(m.nodes)-1, 0)
	}

	if m.viewMode == ViewModeDetail {
		m.loadPage()
	}
	m.lastUpdate = time.Now()
}

// loadPage queries the open node with the current parameters. A page past
// the end moves back to the last page.
func (m *Model) loadPage() {
	res, err := m.source.Query(context.Background(), m.node, m.params)
	if err != nil {
		m.errorMessage = err.Error()
		return
	}
	if len(res.Items) == 0 && res.TotalPages > 0 && m.params.Page > res.TotalPages {
		m.params.Page = res.TotalPages
		m.loadPage()
		return
	}
	m.errorMessage = ""
	m.result = res
	if m.selectedRow >= len(res.Items) {
		m.selectedRow = max(len(res.Items)-1, 0)
	}
}

// openNode switches to the detail view of the selected node.
func (m *Model) openNode() {
	if len(m.nodes) == 0 {
		return
	}
	m.viewMode = ViewModeDetail
	m.node = m.nodes[m.selectedNode]
	m.params = m.defaultParams()
	m.selectedRow = 0
	m.result = nil
	m.loadPage()
}

// nextStatus returns the filter after f in statusCycle.
func nextStatus(f query.StatusFilter) query.StatusFilter {
	for i, s := range statusCycle {
		if s == f {
			return statusCycle[(i+1)%len(statusCycle)]
		}
	}
	return query.StatusAll
}

// Quitting returns true if the user has requested to quit.
func (m Model) Quitting() bool {
	return m.quitting
}

// Params returns the detail view's current query parameters.
func (m Model) Params() query.Params {
	return m.params
}

// Mode returns the current view.
func (m Model) Mode() ViewMode {
	return m.viewMode
}
