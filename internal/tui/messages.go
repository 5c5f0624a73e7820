package tui

import (
	"time"

	"github.com/dm/es-cluster-runner/internal/model"
)

// SnapshotMsg delivers successful poll results to the TUI.
type SnapshotMsg struct {
	Snapshot *model.Snapshot
	NodeRows []model.NodeRow
}

// FetchErrorMsg signals a poll failure. NodeRows is still filled when the
// runner could be asked for its slots.
type FetchErrorMsg struct {
	Err      error
	NodeRows []model.NodeRow
}

// TickMsg triggers the next scheduled poll.
type TickMsg time.Time

type action string

const (
	actionStart action = "Started"
	actionClose action = "Closed"
)

// ActionMsg reports the outcome of a node start or close.
type ActionMsg struct {
	Action action
	Node   string
	Err    error
}

func (m ActionMsg) String() string {
	return string(m.Action) + " " + m.Node + "."
}
