package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dm/es-cluster-runner/internal/client"
	"github.com/dm/es-cluster-runner/internal/enginetest"
	"github.com/dm/es-cluster-runner/internal/model"
)

// fakeCluster is a Cluster whose node slots flip between running and closed.
type fakeCluster struct {
	mu       sync.Mutex
	rows     []model.NodeRow
	es       client.ESClient
	clientFn func() (client.ESClient, error)
	startOK  bool
	closeErr error
	started  []int
	closed   []int
}

func newFakeCluster(n int) *fakeCluster {
	fc := &fakeCluster{es: &enginetest.MockESClient{}, startOK: true}
	for i := 1; i <= n; i++ {
		fc.rows = append(fc.rows, model.NodeRow{
			Index:         i,
			Name:          "Node " + string(rune('0'+i)),
			HTTPPort:      9200 + i,
			TransportPort: 9300 + i,
		})
	}
	return fc
}

func (f *fakeCluster) ClusterName() string { return "fake-cluster" }

func (f *fakeCluster) Client() (client.ESClient, error) {
	if f.clientFn != nil {
		return f.clientFn()
	}
	return f.es, nil
}

func (f *fakeCluster) NodeRows() []model.NodeRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.NodeRow(nil), f.rows...)
}

func (f *fakeCluster) StartNode(_ context.Context, i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, i)
	if f.startOK {
		f.rows[i].Closed = false
	}
	return f.startOK
}

func (f *fakeCluster) CloseNode(i int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, i)
	if f.closeErr != nil {
		return f.closeErr
	}
	f.rows[i].Closed = true
	return nil
}

func makeFixtureSnapshot() *model.Snapshot {
	return &model.Snapshot{
		Health:    client.ClusterHealth{ClusterName: "fake-cluster", Status: "green", ActiveShards: 4},
		FetchedAt: time.Now(),
	}
}

func makeFixtureMsg(snap *model.Snapshot) SnapshotMsg {
	return SnapshotMsg{
		Snapshot: snap,
		NodeRows: []model.NodeRow{{Index: 1, Name: "Node 1", HTTPPort: 9201, Master: true}},
	}
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestApp_SnapshotMsgUpdatesState(t *testing.T) {
	app := NewApp(nil, 10*time.Second)
	require.Nil(t, app.current)
	require.Equal(t, 0, app.consecutiveFails)

	snap := makeFixtureSnapshot()
	msg := makeFixtureMsg(snap)

	newModel, cmd := app.Update(msg)
	updated := newModel.(*App)

	assert.Equal(t, snap, updated.current)
	assert.False(t, updated.fetching)
	assert.Equal(t, 0, updated.consecutiveFails)
	assert.Nil(t, updated.lastError)
	assert.Equal(t, stateConnected, updated.connState)
	assert.Equal(t, msg.NodeRows, updated.nodeRows)
	assert.Equal(t, snap.FetchedAt, updated.lastUpdated)
	assert.Equal(t, 1, updated.history.Len())
	require.NotNil(t, cmd)
}

func TestApp_FetchErrorIncreasesFails(t *testing.T) {
	app := NewApp(nil, 10*time.Second)

	err1 := errors.New("connection refused")
	rows := []model.NodeRow{{Index: 1, Name: "Node 1", Closed: true}}
	newModel, cmd1 := app.Update(FetchErrorMsg{Err: err1, NodeRows: rows})
	app = newModel.(*App)

	assert.Equal(t, 1, app.consecutiveFails)
	assert.Equal(t, err1, app.lastError)
	assert.Equal(t, stateDisconnected, app.connState)
	assert.Equal(t, rows, app.nodeRows, "slots stay visible while no node answers")
	require.NotNil(t, cmd1)

	newModel, cmd2 := app.Update(FetchErrorMsg{Err: err1})
	app = newModel.(*App)

	assert.Equal(t, 2, app.consecutiveFails)
	assert.Equal(t, rows, app.nodeRows)
	require.NotNil(t, cmd2)
}

func TestApp_FetchErrorResetsOnSuccess(t *testing.T) {
	app := NewApp(nil, 10*time.Second)

	newModel, _ := app.Update(FetchErrorMsg{Err: errors.New("timeout")})
	newModel, _ = newModel.(*App).Update(FetchErrorMsg{Err: errors.New("timeout")})
	app = newModel.(*App)
	require.Equal(t, 2, app.consecutiveFails)

	newModel, _ = app.Update(makeFixtureMsg(makeFixtureSnapshot()))
	app = newModel.(*App)

	assert.Equal(t, 0, app.consecutiveFails)
	assert.Nil(t, app.lastError)
	assert.Equal(t, stateConnected, app.connState)
}

func TestApp_WindowSizeStored(t *testing.T) {
	app := NewApp(nil, 10*time.Second)

	newModel, cmd := app.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	updated := newModel.(*App)

	assert.Equal(t, 120, updated.width)
	assert.Equal(t, 40, updated.height)
	assert.Nil(t, cmd)
}

func TestApp_QuitKey(t *testing.T) {
	app := NewApp(nil, 10*time.Second)

	_, cmd := app.Update(keyMsg("q"))
	require.NotNil(t, cmd)
	result := cmd()
	_, isQuit := result.(tea.QuitMsg)
	assert.True(t, isQuit, "expected tea.QuitMsg, got %T", result)
}

func TestApp_RefreshKey(t *testing.T) {
	app := NewApp(nil, 10*time.Second)
	app.fetching = false

	newModel, cmd := app.Update(keyMsg("r"))
	updated := newModel.(*App)

	require.NotNil(t, cmd, "expected fetch command returned for 'r' key")
	assert.True(t, updated.fetching)
}

func TestApp_RefreshKeyNoopWhileFetching(t *testing.T) {
	app := NewApp(nil, 10*time.Second)
	app.fetching = true

	_, cmd := app.Update(keyMsg("r"))
	assert.Nil(t, cmd)
}

func TestApp_TickStartsFetchOnce(t *testing.T) {
	app := NewApp(nil, 10*time.Second)
	app.fetching = false

	_, cmd := app.Update(TickMsg(time.Now()))
	require.NotNil(t, cmd)
	assert.True(t, app.fetching)

	_, cmd = app.Update(TickMsg(time.Now()))
	assert.Nil(t, cmd, "a tick during an in-flight fetch is dropped")
}

func TestApp_HelpToggle(t *testing.T) {
	app := NewApp(nil, 10*time.Second)
	require.False(t, app.showHelp)

	newModel, _ := app.Update(keyMsg("?"))
	app = newModel.(*App)
	assert.True(t, app.showHelp)
	assert.Contains(t, stripANSI(renderFooter(app)), "s: start node")

	newModel, _ = app.Update(keyMsg("?"))
	app = newModel.(*App)
	assert.False(t, app.showHelp)
}

func TestApp_CursorStaysInRange(t *testing.T) {
	app := NewApp(nil, 10*time.Second)
	app.nodeRows = newFakeCluster(3).NodeRows()

	app.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, app.cursor)
	for i := 0; i < 5; i++ {
		app.Update(tea.KeyMsg{Type: tea.KeyDown})
	}
	assert.Equal(t, 2, app.cursor)

	app.Update(FetchErrorMsg{Err: errors.New("down"), NodeRows: app.nodeRows[:1]})
	assert.Equal(t, 0, app.cursor, "cursor follows a shrinking slot list")
}

func TestApp_CloseAndStartSelectedNode(t *testing.T) {
	fc := newFakeCluster(2)
	app := NewApp(fc, 10*time.Second)
	app.fetching = false
	app.nodeRows = fc.NodeRows()
	app.cursor = 1

	_, cmd := app.Update(keyMsg("s"))
	assert.Nil(t, cmd, "a running node cannot be started")

	_, cmd = app.Update(keyMsg("c"))
	require.NotNil(t, cmd)
	assert.True(t, app.busy)
	assert.Equal(t, "Closing Node 2...", app.status)

	_, again := app.Update(keyMsg("c"))
	assert.Nil(t, again, "one action at a time")

	msg := cmd()
	require.IsType(t, ActionMsg{}, msg)
	assert.Equal(t, []int{1}, fc.closed, "rows are 1-based, the runner is 0-based")

	_, cmd = app.Update(msg)
	require.NotNil(t, cmd, "an action triggers a refresh")
	assert.False(t, app.busy)
	assert.False(t, app.statusErr)
	assert.Equal(t, "Closed Node 2.", app.status)

	app.fetching = false
	app.nodeRows = fc.NodeRows()
	require.True(t, app.nodeRows[1].Closed)

	_, cmd = app.Update(keyMsg("s"))
	require.NotNil(t, cmd)
	app.Update(cmd())
	assert.Equal(t, []int{1}, fc.started)
	assert.Equal(t, "Started Node 2.", app.status)
}

func TestApp_ActionFailureShownInFooter(t *testing.T) {
	fc := newFakeCluster(1)
	fc.rows[0].Closed = true
	fc.startOK = false
	app := NewApp(fc, 10*time.Second)
	app.nodeRows = fc.NodeRows()

	_, cmd := app.Update(keyMsg("s"))
	require.NotNil(t, cmd)
	app.Update(cmd())

	assert.True(t, app.statusErr)
	assert.Contains(t, stripANSI(renderFooter(app)), "could not start Node 1")

	fc.rows[0].Closed = false
	fc.closeErr = errors.New("kill failed")
	app.busy = false
	app.nodeRows = fc.NodeRows()
	_, cmd = app.Update(keyMsg("c"))
	require.NotNil(t, cmd)
	msg := cmd().(ActionMsg)
	assert.ErrorIs(t, msg.Err, fc.closeErr)
}

func TestFetchCmd_MarksMaster(t *testing.T) {
	fc := newFakeCluster(2)

	msg := fetchCmd(fc, time.Second)()
	snapMsg, ok := msg.(SnapshotMsg)
	require.True(t, ok, "got %T", msg)
	require.Len(t, snapMsg.NodeRows, 2)
	assert.True(t, snapMsg.NodeRows[0].Master)
	assert.False(t, snapMsg.NodeRows[1].Master)
	assert.Equal(t, "test", snapMsg.Snapshot.Health.ClusterName)
}

func TestFetchCmd_NoRunningNode(t *testing.T) {
	fc := newFakeCluster(2)
	noNodes := errors.New("all nodes are closed")
	fc.clientFn = func() (client.ESClient, error) { return nil, noNodes }

	msg := fetchCmd(fc, time.Second)()
	errMsg, ok := msg.(FetchErrorMsg)
	require.True(t, ok, "got %T", msg)
	assert.ErrorIs(t, errMsg.Err, noNodes)
	assert.Len(t, errMsg.NodeRows, 2)
}

func TestFetchCmd_PollFailure(t *testing.T) {
	fc := newFakeCluster(1)
	fc.es = &enginetest.MockESClient{
		PendingFn: func(context.Context) (*client.PendingTasks, error) { return nil, enginetest.ErrMock },
	}

	msg := fetchCmd(fc, time.Second)()
	errMsg, ok := msg.(FetchErrorMsg)
	require.True(t, ok, "got %T", msg)
	assert.ErrorIs(t, errMsg.Err, enginetest.ErrMock)
}

func TestBackoffDuration(t *testing.T) {
	cases := []struct {
		fails    int
		expected time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{10, 60 * time.Second},
	}
	for _, tc := range cases {
		got := backoffDuration(tc.fails)
		assert.Equal(t, tc.expected, got, "fails=%d", tc.fails)
	}
}

func TestRenderMiniBar(t *testing.T) {
	cases := []struct {
		percent  float64
		width    int
		wantFill int
	}{
		{0, 10, 0},
		{100, 10, 10},
		{50, 10, 5},
		{25, 8, 2},
		{75, 8, 6},
	}
	for _, tc := range cases {
		result := renderMiniBar(tc.percent, tc.width)
		assert.Len(t, []rune(result), tc.width, "total bar width percent=%v", tc.percent)
		filledCount := strings.Count(result, "█")
		assert.Equal(t, tc.wantFill, filledCount, "filled count percent=%v width=%v", tc.percent, tc.width)
	}
	assert.Equal(t, "", renderMiniBar(50, 0))
}

func TestApp_HistoryFeedsSparklines(t *testing.T) {
	app := NewApp(nil, 10*time.Second)

	for i := 1; i <= 3; i++ {
		snap := makeFixtureSnapshot()
		snap.Health.ActiveShards = i * 2
		newModel, _ := app.Update(SnapshotMsg{Snapshot: snap})
		app = newModel.(*App)
	}

	require.Equal(t, 3, app.history.Len())
	values := app.history.Values(model.FieldActiveShards)
	assert.Equal(t, []float64{2, 4, 6}, values)

	sparkline := stripANSI(RenderSparkline(values, 10, colorCyan))
	assert.True(t, strings.HasPrefix(sparkline, strings.Repeat(" ", 7)))
	assert.Contains(t, sparkline, "█")
}

func TestRenderOverview_NilSnapshot(t *testing.T) {
	app := NewApp(nil, 10*time.Second)
	app.width = 120
	assert.Equal(t, "", renderOverview(app))
}

func TestRenderOverview_WithSnapshot(t *testing.T) {
	app := NewApp(nil, 10*time.Second)
	app.width = 120

	snap := makeFixtureSnapshot()
	snap.Health.ActiveShards = 42
	snap.Health.UnassignedShards = 3
	snap.Pending.Tasks = []client.PendingTask{{Source: "a"}}
	app.current = snap
	app.nodeRows = []model.NodeRow{{Index: 1}, {Index: 2}, {Index: 3, Closed: true}}

	stripped := stripANSI(renderOverview(app))
	assert.Contains(t, stripped, "GREEN")
	assert.Contains(t, stripped, "2/3")
	assert.Contains(t, stripped, "42")
	assert.Contains(t, stripped, "Unassigned")
	assert.Contains(t, stripped, "Pending Tasks")
}

func TestRenderOverview_Narrow(t *testing.T) {
	app := NewApp(nil, 10*time.Second)
	app.width = 60
	app.current = makeFixtureSnapshot()

	stripped := stripANSI(renderOverview(app))
	assert.Contains(t, stripped, "0/0")
	assert.Contains(t, stripped, "Pending Tasks")
}

func TestApp_ViewSections(t *testing.T) {
	fc := newFakeCluster(2)
	app := NewApp(fc, 10*time.Second)
	app.width = 120
	app.Update(fetchCmd(fc, time.Second)())

	view := stripANSI(app.View())
	assert.Contains(t, view, "Shard Activity")
	assert.Contains(t, view, "Nodes")
	assert.Contains(t, view, "Node 2")
	assert.Contains(t, view, "? for help")
}

// stripANSI removes ANSI escape sequences for plain-text content assertions.
// Handles all CSI sequences (not just SGR m-terminated ones).
func stripANSI(s string) string {
	var out strings.Builder
	inEscape := false
	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
			continue
		}
		if inEscape {
			// CSI final bytes are in range 0x40–0x7E
			if r >= 0x40 && r <= 0x7E && r != '[' {
				inEscape = false
			}
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}
