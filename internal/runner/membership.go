package runner

import (
	"context"
	"fmt"

	"github.com/dm/es-cluster-runner/internal/client"
	"github.com/dm/es-cluster-runner/internal/model"
	"github.com/dm/es-cluster-runner/internal/node"
	"github.com/dm/es-cluster-runner/internal/settings"
)

// Node returns the node at index i (0-based), or nil when i is out of range.
func (r *Runner) Node(i int) node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.nodes) {
		return nil
	}
	return r.nodes[i]
}

// NodeByName returns the node whose node.name is name, or nil.
func (r *Runner) NodeByName(name string) node.Node {
	if name == "" {
		return nil
	}
	for _, n := range r.snapshot() {
		if n.Settings().Value(settings.KeyNodeName) == name {
			return n
		}
	}
	return nil
}

// NodeIndex returns the 0-based index of n, or -1 when n is not one of the
// current handles.
func (r *Runner) NodeIndex(n node.Node) int {
	for i, cur := range r.snapshot() {
		if cur == n {
			return i
		}
	}
	return -1
}

// NodeSize returns the number of node slots, closed ones included.
func (r *Runner) NodeSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// AvailableNode returns the first node that is not closed.
func (r *Runner) AvailableNode() (node.Node, error) {
	for _, n := range r.snapshot() {
		if !n.IsClosed() {
			return n, nil
		}
	}
	return nil, ErrAllNodesClosed
}

// Client returns a client bound to an available node.
func (r *Runner) Client() (client.ESClient, error) {
	n, err := r.AvailableNode()
	if err != nil {
		return nil, err
	}
	return n.Client()
}

// MasterNode asks the cluster for its elected master and returns the
// matching local node. The result is nil when the master is not one of this
// runner's nodes.
func (r *Runner) MasterNode(ctx context.Context) (node.Node, error) {
	r.masterMu.Lock()
	defer r.masterMu.Unlock()

	name, err := r.masterName(ctx)
	if err != nil {
		return nil, fmt.Errorf("MasterNode: %w", err)
	}
	return r.NodeByName(name), nil
}

// NonMasterNode returns the first running node that is not the elected
// master, or nil when there is none.
func (r *Runner) NonMasterNode(ctx context.Context) (node.Node, error) {
	r.masterMu.Lock()
	defer r.masterMu.Unlock()

	name, err := r.masterName(ctx)
	if err != nil {
		return nil, fmt.Errorf("NonMasterNode: %w", err)
	}
	for _, n := range r.snapshot() {
		if !n.IsClosed() && n.Settings().Value(settings.KeyNodeName) != name {
			return n, nil
		}
	}
	return nil, nil
}

func (r *Runner) masterName(ctx context.Context) (string, error) {
	c, err := r.Client()
	if err != nil {
		return "", err
	}
	state, err := c.ClusterState(ctx, "master_node", "nodes")
	if err != nil {
		return "", err
	}
	name := state.MasterName()
	if name == "" {
		return "", fmt.Errorf("cluster %q has no elected master", state.ClusterName)
	}
	return name, nil
}

// NodeRows describes every node slot for display. Master is left false;
// callers that know the master mark it.
func (r *Runner) NodeRows() []model.NodeRow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := make([]model.NodeRow, len(r.nodes))
	for i, n := range r.nodes {
		d := r.descs[i]
		rows[i] = model.NodeRow{
			Index:         d.Index,
			Name:          d.Name,
			HTTPPort:      d.HTTPPort,
			TransportPort: d.TransportPort,
			Closed:        n.IsClosed(),
		}
	}
	return rows
}
