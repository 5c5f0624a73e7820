package client

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Document write results.
const (
	ResultCreated  = "created"
	ResultUpdated  = "updated"
	ResultDeleted  = "deleted"
	ResultNotFound = "not_found"
)

// ClusterHealth represents the response from /_cluster/health.
type ClusterHealth struct {
	ClusterName          string `json:"cluster_name"`
	Status               string `json:"status"`
	TimedOut             bool   `json:"timed_out"`
	NumberOfNodes        int    `json:"number_of_nodes"`
	NumberOfDataNodes    int    `json:"number_of_data_nodes"`
	ActivePrimaryShards  int    `json:"active_primary_shards"`
	ActiveShards         int    `json:"active_shards"`
	RelocatingShards     int    `json:"relocating_shards"`
	InitializingShards   int    `json:"initializing_shards"`
	UnassignedShards     int    `json:"unassigned_shards"`
	NumberOfPendingTasks int    `json:"number_of_pending_tasks"`
}

// ClusterState is the subset of /_cluster/state the runner reads.
type ClusterState struct {
	ClusterName string               `json:"cluster_name"`
	ClusterUUID string               `json:"cluster_uuid"`
	MasterNode  string               `json:"master_node"`
	Nodes       map[string]StateNode `json:"nodes"`

	// Only present when the metadata and routing_table metrics are requested.
	Metadata     *StateMetadata `json:"metadata,omitempty"`
	RoutingTable *RoutingTable  `json:"routing_table,omitempty"`
}

// StateMetadata is the metadata section of the cluster state.
type StateMetadata struct {
	Indices map[string]IndexMetadata `json:"indices"`
}

// IndexMetadata carries the open/close state of one index.
type IndexMetadata struct {
	State   string   `json:"state"`
	Aliases []string `json:"aliases,omitempty"`
}

// RoutingTable is the routing_table section of the cluster state.
type RoutingTable struct {
	Indices map[string]IndexRouting `json:"indices"`
}

// IndexRouting maps a shard number to its copies.
type IndexRouting struct {
	Shards map[string][]ShardRouting `json:"shards"`
}

// ShardRouting is one copy of a shard.
type ShardRouting struct {
	Index          string          `json:"index"`
	Shard          int             `json:"shard"`
	Primary        bool            `json:"primary"`
	State          string          `json:"state"`
	Node           string          `json:"node,omitempty"`
	RelocatingNode string          `json:"relocating_node,omitempty"`
	UnassignedInfo *UnassignedInfo `json:"unassigned_info,omitempty"`
}

// UnassignedInfo explains why a shard copy has no node.
type UnassignedInfo struct {
	Reason  string `json:"reason"`
	Details string `json:"details,omitempty"`
}

// StateNode is one entry of ClusterState.Nodes.
type StateNode struct {
	Name             string   `json:"name"`
	TransportAddress string   `json:"transport_address"`
	Roles            []string `json:"roles"`
}

// MasterName returns the name of the elected master, or "" when none is known.
func (s *ClusterState) MasterName() string {
	if s == nil || s.MasterNode == "" {
		return ""
	}
	return s.Nodes[s.MasterNode].Name
}

// PendingTasks represents the response from /_cluster/pending_tasks.
type PendingTasks struct {
	Tasks []PendingTask `json:"tasks"`
}

// PendingTask is one queued cluster-state update.
type PendingTask struct {
	InsertOrder       int64  `json:"insert_order"`
	Priority          string `json:"priority"`
	Source            string `json:"source"`
	TimeInQueueMillis int64  `json:"time_in_queue_millis"`
	TimeInQueue       string `json:"time_in_queue"`
}

// AckResponse is returned by index administration calls.
type AckResponse struct {
	Acknowledged       bool   `json:"acknowledged"`
	ShardsAcknowledged bool   `json:"shards_acknowledged,omitempty"`
	Index              string `json:"index,omitempty"`
}

// ErrorCause is the engine's structured error description.
type ErrorCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ShardFailure describes one failed shard of a broadcast operation.
type ShardFailure struct {
	Index  string     `json:"index"`
	Shard  int        `json:"shard"`
	Node   string     `json:"node,omitempty"`
	Status string     `json:"status,omitempty"`
	Reason ErrorCause `json:"reason"`
}

func (f ShardFailure) String() string {
	return fmt.Sprintf("[%s][%d] %s: %s", f.Index, f.Shard, f.Reason.Type, f.Reason.Reason)
}

// ShardStats is the _shards header of write and broadcast responses.
type ShardStats struct {
	Total      int            `json:"total"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Failures   []ShardFailure `json:"failures,omitempty"`
}

// BroadcastResponse is returned by flush, refresh and force-merge.
type BroadcastResponse struct {
	Shards ShardStats `json:"_shards"`
}

// DocWriteResponse is returned by document index and delete calls.
type DocWriteResponse struct {
	Index   string     `json:"_index"`
	ID      string     `json:"_id"`
	Version int64      `json:"_version"`
	Result  string     `json:"result"`
	SeqNo   int64      `json:"_seq_no"`
	Shards  ShardStats `json:"_shards"`
}

// SearchResponse represents the response from _search.
type SearchResponse struct {
	Took     int64      `json:"took"`
	TimedOut bool       `json:"timed_out"`
	Shards   ShardStats `json:"_shards"`
	Hits     Hits       `json:"hits"`
}

// Hits is the hits section of a search response.
type Hits struct {
	Total    TotalHits `json:"total"`
	MaxScore *float64  `json:"max_score"`
	Hits     []Hit     `json:"hits"`
}

// TotalHits is the total hit count and whether it is exact ("eq").
type TotalHits struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

// Hit is a single search hit.
type Hit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  *float64        `json:"_score"`
	Source json.RawMessage `json:"_source"`
	Sort   []any           `json:"sort,omitempty"`
}

// AliasesResponse maps index name to its aliases, as returned by _alias.
type AliasesResponse map[string]IndexAliases

// IndexAliases lists the aliases of one index.
type IndexAliases struct {
	Aliases map[string]json.RawMessage `json:"aliases"`
}

// Indices returns the index names in lexical order.
func (r AliasesResponse) Indices() []string {
	out := make([]string, 0, len(r))
	for name := range r {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
