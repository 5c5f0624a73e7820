package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dm/es-cluster-runner/internal/client"
	"github.com/dm/es-cluster-runner/internal/enginetest"
	"github.com/dm/es-cluster-runner/internal/model"
)

func TestFetch_AllSuccess(t *testing.T) {
	health := &client.ClusterHealth{ClusterName: "my-cluster", Status: "green", NumberOfNodes: 3}
	state := &client.ClusterState{ClusterName: "my-cluster", MasterNode: "a", Nodes: map[string]client.StateNode{"a": {Name: "Node 1"}}}
	pending := &client.PendingTasks{Tasks: []client.PendingTask{{InsertOrder: 1, Source: "put-mapping"}}}

	mc := &enginetest.MockESClient{
		HealthFn: func(context.Context, client.HealthOptions) (*client.ClusterHealth, error) { return health, nil },
		StateFn:  func(context.Context, ...string) (*client.ClusterState, error) { return state, nil },
		PendingFn: func(context.Context) (*client.PendingTasks, error) {
			return pending, nil
		},
	}

	snap, err := Fetch(context.Background(), mc)
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, "my-cluster", snap.Health.ClusterName)
	assert.Equal(t, 3, snap.Health.NumberOfNodes)
	assert.Equal(t, "Node 1", snap.MasterName())
	assert.Len(t, snap.Pending.Tasks, 1)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestFetch_PartialFailure(t *testing.T) {
	mc := &enginetest.MockESClient{
		StateFn: func(context.Context, ...string) (*client.ClusterState, error) {
			return nil, enginetest.ErrMock
		},
	}

	snap, err := Fetch(context.Background(), mc)
	assert.ErrorIs(t, err, enginetest.ErrMock)
	assert.Nil(t, snap)
}

func TestFetch_ContextCancelled(t *testing.T) {
	mc := &enginetest.MockESClient{
		HealthFn: func(ctx context.Context, _ client.HealthOptions) (*client.ClusterHealth, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Fetch(ctx, mc)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDiagnostics_KeepsCallerHealth(t *testing.T) {
	mc := &enginetest.MockESClient{}
	health := &client.ClusterHealth{Status: "red", TimedOut: true}

	snap, err := Diagnostics(context.Background(), mc, health)
	require.NoError(t, err)
	assert.Equal(t, "red", snap.Health.Status)
	assert.True(t, snap.Health.TimedOut)
	assert.Equal(t, "Node 1", snap.MasterName())
}

func TestDiagnostics_RequestsRoutingAndMetadata(t *testing.T) {
	var requested []string
	mc := &enginetest.MockESClient{
		StateFn: func(_ context.Context, metrics ...string) (*client.ClusterState, error) {
			requested = metrics
			return &client.ClusterState{}, nil
		},
	}
	_, err := Diagnostics(context.Background(), mc, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"master_node", "nodes", "metadata", "routing_table"}, requested)
}

func TestDiagnostics_Failure(t *testing.T) {
	mc := &enginetest.MockESClient{
		PendingFn: func(context.Context) (*client.PendingTasks, error) { return nil, enginetest.ErrMock },
	}
	_, err := Diagnostics(context.Background(), mc, nil)
	assert.ErrorIs(t, err, enginetest.ErrMock)
}

func TestDescribe(t *testing.T) {
	s := &model.Snapshot{
		Health: client.ClusterHealth{Status: "yellow", TimedOut: true, NumberOfNodes: 2, UnassignedShards: 3},
		State: client.ClusterState{
			ClusterName: "elasticsearch-cluster-runner",
			MasterNode:  "b",
			Nodes: map[string]client.StateNode{
				"b": {Name: "Node 2", TransportAddress: "127.0.0.1:9302", Roles: []string{"master", "data"}},
				"a": {Name: "Node 1", TransportAddress: "127.0.0.1:9301", Roles: []string{"master"}},
			},
		},
		Pending: client.PendingTasks{Tasks: []client.PendingTask{{InsertOrder: 7, Priority: "URGENT", Source: "shard-started", TimeInQueueMillis: 12}}},
	}

	out := Describe(s)
	assert.Contains(t, out, "cluster [elasticsearch-cluster-runner] status=yellow")
	assert.Contains(t, out, "(timed out)")
	assert.Contains(t, out, "master: Node 2")
	assert.Contains(t, out, "nodes (2):\n  Node 1 a 127.0.0.1:9301 [master]\n  Node 2 b")
	assert.Contains(t, out, "#7 [URGENT] shard-started (12ms)")
	assert.NotContains(t, out, "indices (")
	assert.Equal(t, "no cluster snapshot", Describe(nil))
}

func TestDescribe_StuckShards(t *testing.T) {
	s := &model.Snapshot{
		Health: client.ClusterHealth{Status: "yellow", TimedOut: true},
		State: client.ClusterState{
			Nodes: map[string]client.StateNode{"a": {Name: "Node 1"}, "b": {Name: "Node 2"}},
			Metadata: &client.StateMetadata{Indices: map[string]client.IndexMetadata{
				"logs":   {State: "open"},
				"frozen": {State: "close"},
			}},
			RoutingTable: &client.RoutingTable{Indices: map[string]client.IndexRouting{
				"logs": {Shards: map[string][]client.ShardRouting{
					"0": {
						{Index: "logs", Shard: 0, Primary: true, State: "STARTED", Node: "a"},
						{Index: "logs", Shard: 0, State: "UNASSIGNED", UnassignedInfo: &client.UnassignedInfo{Reason: "INDEX_CREATED", Details: "no data node"}},
					},
					"1": {
						{Index: "logs", Shard: 1, Primary: true, State: "RELOCATING", Node: "a", RelocatingNode: "b"},
					},
				}},
			}},
		},
	}

	out := Describe(s)
	assert.Contains(t, out, "indices (2):\n  frozen close\n  logs open\n")
	assert.Contains(t, out, "    [logs][0] replica UNASSIGNED (INDEX_CREATED: no data node)\n")
	assert.Contains(t, out, "    [logs][1] primary RELOCATING on Node 1 -> Node 2\n")
	assert.NotContains(t, out, "STARTED")
}
