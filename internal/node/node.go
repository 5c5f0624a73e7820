package node

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dm/es-cluster-runner/internal/client"
	"github.com/dm/es-cluster-runner/internal/plugin"
	"github.com/dm/es-cluster-runner/internal/provision"
	"github.com/dm/es-cluster-runner/internal/settings"
)

// Node is a handle on one engine node.
type Node interface {
	// Start launches the node and returns once it answers on HTTP.
	Start(ctx context.Context) error
	// Close stops the node. Closing a closed node is a no-op.
	Close() error
	IsClosed() bool
	Settings() settings.Settings
	// Client returns a client bound to this node's HTTP endpoint.
	Client() (client.ESClient, error)
}

// Descriptor is everything needed to (re)create the node in one slot.
type Descriptor struct {
	Index         int // 1-based
	Name          string
	Paths         provision.Paths
	HTTPPort      int
	TransportPort int
	Settings      settings.Settings
}

// BaseURL is the HTTP endpoint of the node.
func (d Descriptor) BaseURL() string {
	return "http://localhost:" + strconv.Itoa(d.HTTPPort)
}

// Factory constructs a node handle that is not started yet.
type Factory func(d Descriptor, plugins []plugin.Plugin) (Node, error)

// StartError reports a node that failed to become ready.
type StartError struct {
	Name   string
	Err    error
	Output string // trailing process output, if any
}

func (e *StartError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("node %q failed to start: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("node %q failed to start: %v\n%s", e.Name, e.Err, e.Output)
}

func (e *StartError) Unwrap() error { return e.Err }
