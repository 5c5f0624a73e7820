package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dm/es-cluster-runner/internal/client"
	"github.com/dm/es-cluster-runner/internal/model"
	"github.com/dm/es-cluster-runner/internal/monitor"
)

// Cluster is the part of the runner the console drives. Node indexes passed
// to StartNode and CloseNode are 0-based.
type Cluster interface {
	ClusterName() string
	Client() (client.ESClient, error)
	NodeRows() []model.NodeRow
	StartNode(ctx context.Context, i int) bool
	CloseNode(i int) error
}

type connState int

const (
	stateConnected    connState = iota
	stateDisconnected connState = iota
)

// App is the root Bubble Tea model of the cluster console.
type App struct {
	cluster      Cluster
	pollInterval time.Duration

	// Poll state
	fetching bool // true while a fetchCmd goroutine is in-flight
	current  *model.Snapshot
	nodeRows []model.NodeRow
	history  *model.History

	// Connection state
	connState        connState
	consecutiveFails int
	lastError        error
	lastUpdated      time.Time

	// Node actions
	cursor    int
	busy      bool // a start or close is in flight
	status    string
	statusErr bool

	// Layout
	width, height int

	// UI state
	showHelp bool
}

// NewApp creates a console for c that polls every interval.
func NewApp(c Cluster, interval time.Duration) *App {
	return &App{
		cluster:      c,
		pollInterval: interval,
		history:      model.NewHistory(0),
		connState:    stateDisconnected,
		fetching:     true, // Init() always issues an immediate fetchCmd
	}
}

// Init implements tea.Model. Starts the first fetch immediately on launch.
func (app *App) Init() tea.Cmd {
	return fetchCmd(app.cluster, app.pollInterval)
}

// Update implements tea.Model.
func (app *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		app.width = msg.Width
		app.height = msg.Height

	case SnapshotMsg:
		app.fetching = false
		app.current = msg.Snapshot
		app.setRows(msg.NodeRows)
		app.history.Push(model.PointFromSnapshot(msg.Snapshot))
		app.consecutiveFails = 0
		app.lastError = nil
		app.connState = stateConnected
		app.lastUpdated = msg.Snapshot.FetchedAt
		return app, tickCmd(app.pollInterval)

	case FetchErrorMsg:
		app.fetching = false
		if msg.NodeRows != nil {
			app.setRows(msg.NodeRows)
		}
		app.consecutiveFails++
		app.lastError = msg.Err
		app.connState = stateDisconnected
		return app, tickCmd(backoffDuration(app.consecutiveFails))

	case TickMsg:
		if app.fetching {
			return app, nil
		}
		app.fetching = true
		return app, fetchCmd(app.cluster, app.pollInterval)

	case ActionMsg:
		app.busy = false
		app.statusErr = msg.Err != nil
		if msg.Err != nil {
			app.status = msg.Err.Error()
		} else {
			app.status = msg.String()
		}
		if app.fetching {
			return app, nil
		}
		app.fetching = true
		return app, fetchCmd(app.cluster, app.pollInterval)

	case tea.KeyMsg:
		return app.handleKey(msg)
	}

	return app, nil
}

func (app *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return app, tea.Quit
	case key.Matches(msg, keys.Refresh):
		if app.fetching {
			return app, nil
		}
		app.fetching = true
		return app, fetchCmd(app.cluster, app.pollInterval)
	case key.Matches(msg, keys.Help):
		app.showHelp = !app.showHelp
	case key.Matches(msg, keys.Up):
		if app.cursor > 0 {
			app.cursor--
		}
	case key.Matches(msg, keys.Down):
		if app.cursor < len(app.nodeRows)-1 {
			app.cursor++
		}
	case key.Matches(msg, keys.Start):
		row, ok := app.selected()
		if !ok || app.busy || !row.Closed {
			return app, nil
		}
		app.busy = true
		app.status = "Starting " + row.Name + "..."
		app.statusErr = false
		return app, startNodeCmd(app.cluster, row)
	case key.Matches(msg, keys.Close):
		row, ok := app.selected()
		if !ok || app.busy || row.Closed {
			return app, nil
		}
		app.busy = true
		app.status = "Closing " + row.Name + "..."
		app.statusErr = false
		return app, closeNodeCmd(app.cluster, row)
	}
	return app, nil
}

func (app *App) setRows(rows []model.NodeRow) {
	app.nodeRows = rows
	if app.cursor >= len(rows) {
		app.cursor = len(rows) - 1
	}
	if app.cursor < 0 {
		app.cursor = 0
	}
}

func (app *App) selected() (model.NodeRow, bool) {
	if app.cursor < 0 || app.cursor >= len(app.nodeRows) {
		return model.NodeRow{}, false
	}
	return app.nodeRows[app.cursor], true
}

// View implements tea.Model. Renders the full TUI.
func (app *App) View() string {
	var parts []string

	if h := renderHeader(app); h != "" {
		parts = append(parts, h)
	}
	if o := renderOverview(app); o != "" {
		parts = append(parts, o)
	}
	if m := renderMetricsRow(app); m != "" {
		parts = append(parts, m)
	}
	parts = append(parts, renderNodeTable(app))
	parts = append(parts, renderFooter(app))

	return strings.Join(parts, "\n")
}

// tickCmd schedules the next poll after duration d.
func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchCmd polls health, state and pending tasks through any running node
// and pairs the result with the runner's node slots. The slots are sent
// even when the poll fails so closed nodes can still be started.
func fetchCmd(c Cluster, interval time.Duration) tea.Cmd {
	return func() tea.Msg {
		timeout := interval - 500*time.Millisecond
		if timeout < 500*time.Millisecond {
			timeout = 500 * time.Millisecond
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		rows := c.NodeRows()
		es, err := c.Client()
		if err != nil {
			return FetchErrorMsg{Err: err, NodeRows: rows}
		}
		snap, err := monitor.Fetch(ctx, es)
		if err != nil {
			return FetchErrorMsg{Err: err, NodeRows: rows}
		}
		markMaster(rows, snap.MasterName())
		return SnapshotMsg{Snapshot: snap, NodeRows: rows}
	}
}

func markMaster(rows []model.NodeRow, master string) {
	for i := range rows {
		rows[i].Master = master != "" && !rows[i].Closed && rows[i].Name == master
	}
}

func startNodeCmd(c Cluster, row model.NodeRow) tea.Cmd {
	return func() tea.Msg {
		msg := ActionMsg{Action: actionStart, Node: row.Name}
		if !c.StartNode(context.Background(), row.Index-1) {
			msg.Err = fmt.Errorf("could not start %s", row.Name)
		}
		return msg
	}
}

func closeNodeCmd(c Cluster, row model.NodeRow) tea.Cmd {
	return func() tea.Msg {
		msg := ActionMsg{Action: actionClose, Node: row.Name}
		if err := c.CloseNode(row.Index - 1); err != nil {
			msg.Err = fmt.Errorf("could not close %s: %w", row.Name, err)
		}
		return msg
	}
}

// backoffDuration returns min(2^fails * time.Second, 60*time.Second).
// At fails=1: 2s, fails=2: 4s, fails=3: 8s, ..., fails>=6: 60s.
func backoffDuration(fails int) time.Duration {
	const maxBackoff = 60 * time.Second
	if fails <= 0 {
		return time.Second
	}
	if fails >= 6 {
		return maxBackoff
	}
	return time.Duration(1<<fails) * time.Second
}
