package runner

import (
	"errors"
	"fmt"
)

// ErrAllNodesClosed is returned when an operation needs a running node and
// none is left.
var ErrAllNodesClosed = errors.New("all nodes are closed")

// ErrAlreadyBuilt is returned by a second Build on the same Runner.
var ErrAlreadyBuilt = errors.New("cluster is already built")

// ClusterStartError reports the node that stopped a Build. Nodes started
// before it keep running.
type ClusterStartError struct {
	Index int // 1-based
	Err   error
}

func (e *ClusterStartError) Error() string {
	return fmt.Sprintf("failed to start node %d: %v", e.Index, e.Err)
}

func (e *ClusterStartError) Unwrap() error { return e.Err }

// OperationFailure is returned when the engine answered but the result was
// not the expected one: not acknowledged, an unexpected document result,
// shard failures, or a health wait that timed out. Response holds the
// decoded engine response.
type OperationFailure struct {
	Message  string
	Response any
}

func (e *OperationFailure) Error() string { return e.Message }
