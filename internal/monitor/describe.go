package monitor

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/dm/es-cluster-runner/internal/client"
	"github.com/dm/es-cluster-runner/internal/model"
)

// Describe renders a snapshot as a multi-line report: health summary, master,
// nodes, indices with their unstarted shards when the state carries them,
// and queued cluster-state tasks.
func Describe(s *model.Snapshot) string {
	if s == nil {
		return "no cluster snapshot"
	}
	var sb strings.Builder

	h := s.Health
	fmt.Fprintf(&sb, "cluster [%s] status=%s nodes=%d active_shards=%d relocating=%d initializing=%d unassigned=%d",
		s.State.ClusterName, orUnknown(h.Status), h.NumberOfNodes, h.ActiveShards,
		h.RelocatingShards, h.InitializingShards, h.UnassignedShards)
	if h.TimedOut {
		sb.WriteString(" (timed out)")
	}
	sb.WriteByte('\n')

	fmt.Fprintf(&sb, "master: %s\n", orUnknown(s.MasterName()))

	ids := make([]string, 0, len(s.State.Nodes))
	for id := range s.State.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.State.Nodes[ids[i]].Name < s.State.Nodes[ids[j]].Name
	})
	fmt.Fprintf(&sb, "nodes (%d):\n", len(ids))
	for _, id := range ids {
		n := s.State.Nodes[id]
		fmt.Fprintf(&sb, "  %s %s %s [%s]\n", n.Name, id, n.TransportAddress, strings.Join(n.Roles, ","))
	}

	describeIndices(&sb, &s.State)

	fmt.Fprintf(&sb, "pending tasks (%d):", len(s.Pending.Tasks))
	for _, t := range s.Pending.Tasks {
		fmt.Fprintf(&sb, "\n  #%d [%s] %s (%dms)", t.InsertOrder, t.Priority, t.Source, t.TimeInQueueMillis)
	}
	return sb.String()
}

// describeIndices lists each index with its state and every shard copy that
// is not started. Nothing is written when the state carries neither section.
func describeIndices(sb *strings.Builder, st *client.ClusterState) {
	if st.Metadata == nil && st.RoutingTable == nil {
		return
	}
	names := map[string]bool{}
	if st.Metadata != nil {
		for name := range st.Metadata.Indices {
			names[name] = true
		}
	}
	if st.RoutingTable != nil {
		for name := range st.RoutingTable.Indices {
			names[name] = true
		}
	}
	sorted := slices.Sorted(maps.Keys(names))

	fmt.Fprintf(sb, "indices (%d):\n", len(sorted))
	for _, name := range sorted {
		state := "unknown"
		if st.Metadata != nil {
			if m, ok := st.Metadata.Indices[name]; ok && m.State != "" {
				state = m.State
			}
		}
		fmt.Fprintf(sb, "  %s %s\n", name, state)
		if st.RoutingTable == nil {
			continue
		}
		var stuck []client.ShardRouting
		for _, copies := range st.RoutingTable.Indices[name].Shards {
			for _, sr := range copies {
				if sr.State != "STARTED" {
					stuck = append(stuck, sr)
				}
			}
		}
		slices.SortFunc(stuck, func(a, b client.ShardRouting) int {
			if a.Shard != b.Shard {
				return a.Shard - b.Shard
			}
			if a.Primary != b.Primary {
				if a.Primary {
					return -1
				}
				return 1
			}
			return strings.Compare(a.Node, b.Node)
		})
		for _, sr := range stuck {
			fmt.Fprintf(sb, "    [%s][%d] %s %s", name, sr.Shard, copyKind(sr.Primary), sr.State)
			if sr.Node != "" {
				fmt.Fprintf(sb, " on %s", nodeName(st, sr.Node))
			}
			if sr.RelocatingNode != "" {
				fmt.Fprintf(sb, " -> %s", nodeName(st, sr.RelocatingNode))
			}
			if ui := sr.UnassignedInfo; ui != nil {
				fmt.Fprintf(sb, " (%s", ui.Reason)
				if ui.Details != "" {
					fmt.Fprintf(sb, ": %s", ui.Details)
				}
				sb.WriteByte(')')
			}
			sb.WriteByte('\n')
		}
	}
}

func copyKind(primary bool) string {
	if primary {
		return "primary"
	}
	return "replica"
}

func nodeName(st *client.ClusterState, id string) string {
	if n, ok := st.Nodes[id]; ok && n.Name != "" {
		return n.Name
	}
	return id
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
