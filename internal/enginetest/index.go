package enginetest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dm/es-cluster-runner/internal/client"
)

type document struct {
	id      string
	source  json.RawMessage
	fields  map[string]any
	version int64
	seqNo   int64
}

type index struct {
	name     string
	settings map[string]any // nested, as sent by the client
	mappings map[string]any
	aliases  map[string]bool
	closed   bool
	docs     map[string]*document
	seqNo    int64
}

func newIndex(name string) *index {
	return &index{
		name:     name,
		settings: map[string]any{},
		mappings: map[string]any{},
		aliases:  map[string]bool{},
		docs:     map[string]*document{},
	}
}

// setting reads a dotted key from the nested settings, also accepting the
// flat form the engine tolerates in request bodies.
func (ix *index) setting(key string) (any, bool) {
	if v, ok := ix.settings[key]; ok {
		return v, true
	}
	var cur any = ix.settings
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if v, ok := m[part]; ok {
			cur = v
			continue
		}
		// "index.number_of_shards" may be sent without the "index" level.
		if part == "index" {
			continue
		}
		return nil, false
	}
	return cur, true
}

func (ix *index) intSetting(key string, def int) int {
	v, ok := ix.setting(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

func (ix *index) shards() int   { return ix.intSetting("index.number_of_shards", 1) }
func (ix *index) replicas() int { return ix.intSetting("index.number_of_replicas", 1) }

// health returns active, unassigned and primary shard counts for nodes
// running data nodes.
func (ix *index) health(nodes int) (active, unassigned, primaries int) {
	primaries = ix.shards()
	if nodes == 0 {
		return 0, primaries * (1 + ix.replicas()), primaries
	}
	assignable := ix.replicas()
	if assignable > nodes-1 {
		assignable = nodes - 1
	}
	active = primaries * (1 + assignable)
	unassigned = primaries * (ix.replicas() - assignable)
	return active, unassigned, primaries
}

// routing places copy k of every shard on the k-th data node; copies
// beyond the data node count stay unassigned, matching health.
func (ix *index) routing(dataNodes []string) client.IndexRouting {
	out := client.IndexRouting{Shards: make(map[string][]client.ShardRouting, ix.shards())}
	for shard := range ix.shards() {
		copies := make([]client.ShardRouting, 0, 1+ix.replicas())
		for k := 0; k <= ix.replicas(); k++ {
			sr := client.ShardRouting{Index: ix.name, Shard: shard, Primary: k == 0}
			if k < len(dataNodes) {
				sr.State = "STARTED"
				sr.Node = dataNodes[k]
			} else {
				sr.State = "UNASSIGNED"
				reason := "REPLICA_ADDED"
				if k == 0 {
					reason = "INDEX_CREATED"
				}
				sr.UnassignedInfo = &client.UnassignedInfo{
					Reason:  reason,
					Details: fmt.Sprintf("%d data nodes for %d copies", len(dataNodes), 1+ix.replicas()),
				}
			}
			copies = append(copies, sr)
		}
		out.Shards[strconv.Itoa(shard)] = copies
	}
	return out
}

func (ix *index) put(id string, source json.RawMessage) (*document, bool, error) {
	fields := map[string]any{}
	if err := json.Unmarshal(source, &fields); err != nil {
		return nil, false, fmt.Errorf("failed to parse document: %w", err)
	}
	ix.seqNo++
	if d, ok := ix.docs[id]; ok {
		d.source, d.fields = source, fields
		d.version++
		d.seqNo = ix.seqNo
		return d, false, nil
	}
	d := &document{id: id, source: source, fields: fields, version: 1, seqNo: ix.seqNo}
	ix.docs[id] = d
	return d, true, nil
}

// sortedIDs returns document ids in a stable order.
func (ix *index) sortedIDs() []string {
	ids := make([]string, 0, len(ix.docs))
	for id := range ix.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		if ds, ok := dst[k].(map[string]any); ok {
			if ss, ok := v.(map[string]any); ok {
				mergeMaps(ds, ss)
				continue
			}
		}
		dst[k] = v
	}
}
