package model

import (
	"time"

	"github.com/dm/es-cluster-runner/internal/client"
)

// Snapshot holds the results of a single poll cycle: health, state and the
// pending cluster-state updates.
type Snapshot struct {
	Health    client.ClusterHealth
	State     client.ClusterState
	Pending   client.PendingTasks
	FetchedAt time.Time
}

// MasterName returns the name of the elected master node, if any.
func (s *Snapshot) MasterName() string {
	if s == nil {
		return ""
	}
	return s.State.MasterName()
}

// NodeRow is the console view of one node slot.
type NodeRow struct {
	Index         int // 1-based node number
	Name          string
	HTTPPort      int
	TransportPort int
	Closed        bool
	Master        bool
}
