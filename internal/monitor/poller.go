package monitor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dm/es-cluster-runner/internal/client"
	"github.com/dm/es-cluster-runner/internal/model"
)

// Fetch calls cluster health, cluster state and pending tasks concurrently.
// If any of them fails, Fetch returns the first error.
func Fetch(ctx context.Context, c client.ESClient) (*model.Snapshot, error) {
	var (
		health  *client.ClusterHealth
		state   *client.ClusterState
		pending *client.PendingTasks
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		health, err = c.ClusterHealth(gctx, client.HealthOptions{})
		return err
	})

	g.Go(func() error {
		var err error
		state, err = c.ClusterState(gctx)
		return err
	})

	g.Go(func() error {
		var err error
		pending, err = c.PendingTasks(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if health == nil || state == nil || pending == nil {
		return nil, fmt.Errorf("Fetch: incomplete response (unexpected nil)")
	}

	return &model.Snapshot{
		Health:    *health,
		State:     *state,
		Pending:   *pending,
		FetchedAt: time.Now(),
	}, nil
}

// DiagnosticMetrics are the cluster state sections a failure report needs
// to show where shards are stuck.
var DiagnosticMetrics = []string{"master_node", "nodes", "metadata", "routing_table"}

// Diagnostics fetches cluster state and pending tasks concurrently for a
// failure report. Health is taken from the caller, who already has it.
func Diagnostics(ctx context.Context, c client.ESClient, health *client.ClusterHealth) (*model.Snapshot, error) {
	var (
		state   *client.ClusterState
		pending *client.PendingTasks
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		state, err = c.ClusterState(gctx, DiagnosticMetrics...)
		return err
	})
	g.Go(func() error {
		var err error
		pending, err = c.PendingTasks(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("Diagnostics: %w", err)
	}

	snap := &model.Snapshot{State: *state, Pending: *pending, FetchedAt: time.Now()}
	if health != nil {
		snap.Health = *health
	}
	return snap, nil
}
