package enginetest

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dm/es-cluster-runner/internal/client"
)

const engineVersion = "8.17.0"

// router builds the REST surface served by node n.
func (c *Cluster) router(n *FakeNode) http.Handler {
	r := chi.NewRouter()
	r.Use(c.engineHeaders(n))

	r.Head("/", c.info(n))
	r.Get("/", c.info(n))

	r.Get("/_cluster/health", c.clusterHealth)
	r.Get("/_cluster/health/{index}", c.clusterHealth)
	r.Get("/_cluster/state", c.clusterState)
	r.Get("/_cluster/state/{metrics}", c.clusterState)
	r.Get("/_cluster/pending_tasks", c.pendingTasks)

	r.Get("/_search", c.search)
	r.Post("/_search", c.search)
	r.Post("/_flush", c.broadcast)
	r.Post("/_refresh", c.broadcast)
	r.Post("/_forcemerge", c.broadcast)
	r.Post("/_aliases", c.updateAliases)
	r.Get("/_alias/{name}", c.getAlias)

	r.Route("/{index}", func(r chi.Router) {
		r.Put("/", c.createIndex)
		r.Delete("/", c.deleteIndex)
		r.Head("/", c.indexExists)
		r.Post("/_open", c.openClose(false))
		r.Post("/_close", c.openClose(true))
		r.Put("/_mapping", c.putMapping)
		r.Post("/_mapping", c.putMapping)
		r.Post("/_doc", c.indexDocument)
		r.Put("/_doc/{id}", c.indexDocument)
		r.Post("/_doc/{id}", c.indexDocument)
		r.Get("/_doc/{id}", c.getDocument)
		r.Delete("/_doc/{id}", c.deleteDocument)
		r.Get("/_search", c.search)
		r.Post("/_search", c.search)
		r.Post("/_flush", c.broadcast)
		r.Post("/_refresh", c.broadcast)
		r.Post("/_forcemerge", c.broadcast)
	})
	return r
}

func (c *Cluster) engineHeaders(n *FakeNode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Elastic-Product", "Elasticsearch")
			w.Header().Set("Content-Type", "application/json")
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			c.logger.Debug("fake engine request",
				zap.String("node", n.desc.Name),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
			)
		})
	}
}

func (c *Cluster) info(n *FakeNode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"name":         n.desc.Name,
			"cluster_name": n.clusterName(),
			"cluster_uuid": c.uuid,
			"version":      map[string]any{"number": engineVersion, "build_flavor": "default"},
			"tagline":      "You Know, for Search",
		})
	}
}

// dataNodes counts running nodes holding a data role. Callers hold c.mu.
func (c *Cluster) dataNodes() int {
	count := 0
	for _, n := range c.running {
		for _, role := range n.roles() {
			if strings.HasPrefix(role, "data") {
				count++
				break
			}
		}
	}
	return count
}

// resolve expands a comma-separated list of index names, aliases and
// wildcard patterns. Callers hold c.mu.
func (c *Cluster) resolve(expr string) ([]*index, error) {
	if expr == "" || expr == "_all" {
		expr = "*"
	}
	seen := map[string]bool{}
	var out []*index
	add := func(ix *index) {
		if !seen[ix.name] {
			seen[ix.name] = true
			out = append(out, ix)
		}
	}
	for _, name := range strings.Split(expr, ",") {
		if strings.Contains(name, "*") {
			prefix := strings.TrimSuffix(name, "*")
			for _, ix := range c.sortedIndices() {
				if strings.HasPrefix(ix.name, prefix) {
					add(ix)
				}
			}
			continue
		}
		if ix, ok := c.indices[name]; ok {
			add(ix)
			continue
		}
		found := false
		for _, ix := range c.sortedIndices() {
			if ix.aliases[name] {
				add(ix)
				found = true
			}
		}
		if !found {
			return nil, &engineError{status: http.StatusNotFound, typ: "index_not_found_exception", reason: "no such index [" + name + "]"}
		}
	}
	return out, nil
}

func (c *Cluster) sortedIndices() []*index {
	names := make([]string, 0, len(c.indices))
	for name := range c.indices {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*index, len(names))
	for i, name := range names {
		out[i] = c.indices[name]
	}
	return out
}

func (c *Cluster) clusterHealth(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := c.dataNodes()
	health := client.ClusterHealth{
		ClusterName:          c.clusterNameLocked(),
		NumberOfNodes:        len(c.running),
		NumberOfDataNodes:    data,
		NumberOfPendingTasks: len(c.pending),
	}

	indices := c.sortedIndices()
	missing := false
	if expr := chi.URLParam(r, "index"); expr != "" {
		resolved, err := c.resolve(expr)
		if err != nil {
			missing = true
		}
		indices = resolved
	}
	for _, ix := range indices {
		if ix.closed {
			continue
		}
		active, unassigned, primaries := ix.health(data)
		health.ActiveShards += active
		health.UnassignedShards += unassigned
		if data > 0 {
			health.ActivePrimaryShards += primaries
		}
	}

	switch {
	case missing || (data == 0 && health.UnassignedShards > 0):
		health.Status = client.StatusRed
	case health.UnassignedShards > 0:
		health.Status = client.StatusYellow
	default:
		health.Status = client.StatusGreen
	}

	status := http.StatusOK
	want := r.URL.Query().Get("wait_for_status")
	if c.healthTimeout || (want != "" && statusRank(health.Status) > statusRank(want)) {
		health.TimedOut = true
		status = http.StatusRequestTimeout
	}
	writeJSON(w, status, health)
}

func statusRank(s string) int {
	switch s {
	case client.StatusGreen:
		return 0
	case client.StatusYellow:
		return 1
	default:
		return 2
	}
}

// clusterNameLocked reports the cluster name configured on the master.
func (c *Cluster) clusterNameLocked() string {
	if len(c.running) == 0 {
		return "elasticsearch"
	}
	return c.running[0].clusterName()
}

func (c *Cluster) clusterState(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := client.ClusterState{
		ClusterName: c.clusterNameLocked(),
		ClusterUUID: c.uuid,
		Nodes:       make(map[string]client.StateNode, len(c.running)),
	}
	if len(c.running) > 0 {
		state.MasterNode = c.running[0].id
	}
	for _, n := range c.running {
		state.Nodes[n.id] = client.StateNode{
			Name:             n.desc.Name,
			TransportAddress: "127.0.0.1:" + strconv.Itoa(n.desc.TransportPort),
			Roles:            n.roles(),
		}
	}

	metrics := chi.URLParam(r, "metrics")
	wants := func(m string) bool {
		return metrics == "" || metrics == "_all" || slices.Contains(strings.Split(metrics, ","), m)
	}
	if wants("metadata") {
		state.Metadata = &client.StateMetadata{Indices: make(map[string]client.IndexMetadata, len(c.indices))}
		for name, ix := range c.indices {
			st := "open"
			if ix.closed {
				st = "close"
			}
			state.Metadata.Indices[name] = client.IndexMetadata{State: st, Aliases: slices.Sorted(maps.Keys(ix.aliases))}
		}
	}
	if wants("routing_table") {
		var data []string
		for _, n := range c.running {
			if slices.ContainsFunc(n.roles(), func(role string) bool { return strings.HasPrefix(role, "data") }) {
				data = append(data, n.id)
			}
		}
		state.RoutingTable = &client.RoutingTable{Indices: make(map[string]client.IndexRouting, len(c.indices))}
		for name, ix := range c.indices {
			state.RoutingTable.Indices[name] = ix.routing(data)
		}
	}
	writeJSON(w, http.StatusOK, state)
}

func (c *Cluster) pendingTasks(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tasks := c.pending
	if tasks == nil {
		tasks = []client.PendingTask{}
	}
	writeJSON(w, http.StatusOK, client.PendingTasks{Tasks: tasks})
}

type createIndexBody struct {
	Settings map[string]any            `json:"settings"`
	Mappings map[string]any            `json:"mappings"`
	Aliases  map[string]map[string]any `json:"aliases"`
}

func (c *Cluster) createIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "index")
	var body createIndexBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := validIndexName(name); err != nil {
		writeError(w, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indices[name]; ok {
		writeError(w, &engineError{status: http.StatusBadRequest, typ: "resource_already_exists_exception", reason: "index [" + name + "] already exists"})
		return
	}
	ix := newIndex(name)
	if body.Settings != nil {
		ix.settings = body.Settings
	}
	if body.Mappings != nil {
		ix.mappings = body.Mappings
	}
	for alias := range body.Aliases {
		ix.aliases[alias] = true
	}
	c.indices[name] = ix
	writeJSON(w, http.StatusOK, client.AckResponse{Acknowledged: true, ShardsAcknowledged: true, Index: name})
}

func validIndexName(name string) error {
	if name == "" || name != strings.ToLower(name) || strings.ContainsAny(name[:1], "_-+") || strings.ContainsAny(name, `\/*?"<>| ,#:`) {
		return &engineError{status: http.StatusBadRequest, typ: "invalid_index_name_exception", reason: "Invalid index name [" + name + "]"}
	}
	return nil
}

func (c *Cluster) deleteIndex(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	indices, err := c.resolve(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, err)
		return
	}
	for _, ix := range indices {
		delete(c.indices, ix.name)
	}
	writeJSON(w, http.StatusOK, client.AckResponse{Acknowledged: true})
}

func (c *Cluster) indexExists(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.resolve(chi.URLParam(r, "index")); err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (c *Cluster) openClose(closed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		indices, err := c.resolve(chi.URLParam(r, "index"))
		if err != nil {
			writeError(w, err)
			return
		}
		for _, ix := range indices {
			ix.closed = closed
		}
		writeJSON(w, http.StatusOK, client.AckResponse{Acknowledged: true, ShardsAcknowledged: true})
	}
}

func (c *Cluster) putMapping(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	indices, err := c.resolve(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, err)
		return
	}
	for _, ix := range indices {
		mergeMaps(ix.mappings, body)
	}
	writeJSON(w, http.StatusOK, client.AckResponse{Acknowledged: true})
}

func (c *Cluster) writeShards(ix *index) client.ShardStats {
	active, unassigned, primaries := ix.health(c.dataNodes())
	perPrimary := 1
	if primaries > 0 {
		perPrimary = (active + unassigned) / primaries
	}
	successful := 1
	if primaries > 0 {
		successful = active / primaries
	}
	return client.ShardStats{Total: perPrimary, Successful: successful}
}

func (c *Cluster) indexDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "index")
	id := chi.URLParam(r, "id")
	source, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, &engineError{status: http.StatusBadRequest, typ: "parse_exception", reason: err.Error()})
		return
	}
	if id == "" {
		id = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ix, ok := c.indices[name]
	if !ok {
		if err := validIndexName(name); err != nil {
			writeError(w, err)
			return
		}
		ix = newIndex(name)
		c.indices[name] = ix
	}
	if ix.closed {
		writeError(w, closedError(name))
		return
	}
	doc, created, err := ix.put(id, source)
	if err != nil {
		writeError(w, &engineError{status: http.StatusBadRequest, typ: "document_parsing_exception", reason: err.Error()})
		return
	}
	result, status := client.ResultUpdated, http.StatusOK
	if created {
		result, status = client.ResultCreated, http.StatusCreated
	}
	writeJSON(w, status, client.DocWriteResponse{
		Index:   name,
		ID:      id,
		Version: doc.version,
		Result:  result,
		SeqNo:   doc.seqNo,
		Shards:  c.writeShards(ix),
	})
}

func (c *Cluster) getDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "index")
	id := chi.URLParam(r, "id")

	c.mu.Lock()
	defer c.mu.Unlock()
	ix, ok := c.indices[name]
	if !ok {
		writeError(w, &engineError{status: http.StatusNotFound, typ: "index_not_found_exception", reason: "no such index [" + name + "]"})
		return
	}
	doc, ok := ix.docs[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"_index": name, "_id": id, "found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"_index":   name,
		"_id":      id,
		"_version": doc.version,
		"_seq_no":  doc.seqNo,
		"found":    true,
		"_source":  doc.source,
	})
}

func (c *Cluster) deleteDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "index")
	id := chi.URLParam(r, "id")

	c.mu.Lock()
	defer c.mu.Unlock()
	ix, ok := c.indices[name]
	if !ok {
		writeError(w, &engineError{status: http.StatusNotFound, typ: "index_not_found_exception", reason: "no such index [" + name + "]"})
		return
	}
	if ix.closed {
		writeError(w, closedError(name))
		return
	}
	ix.seqNo++
	resp := client.DocWriteResponse{Index: name, ID: id, SeqNo: ix.seqNo, Shards: c.writeShards(ix)}
	doc, ok := ix.docs[id]
	if !ok {
		resp.Result = client.ResultNotFound
		resp.Version = 1
		writeJSON(w, http.StatusNotFound, resp)
		return
	}
	delete(ix.docs, id)
	resp.Result = client.ResultDeleted
	resp.Version = doc.version + 1
	writeJSON(w, http.StatusOK, resp)
}

func (c *Cluster) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	match, err := compileQuery(req.Query)
	if err != nil {
		writeError(w, &engineError{status: http.StatusBadRequest, typ: "parsing_exception", reason: err.Error()})
		return
	}
	sortBy, err := parseSort(req.Sort)
	if err != nil {
		writeError(w, &engineError{status: http.StatusBadRequest, typ: "parsing_exception", reason: err.Error()})
		return
	}
	from, size := 0, 10
	if req.From != nil {
		from = *req.From
	}
	if req.Size != nil {
		size = *req.Size
	}
	if q := r.URL.Query().Get("size"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			size = n
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	expr := chi.URLParam(r, "index")
	indices, err := c.resolve(expr)
	if err != nil {
		writeError(w, err)
		return
	}

	wildcard := expr == "" || expr == "_all" || strings.Contains(expr, "*")

	var matched []*document
	owner := map[*document]string{}
	var shards client.ShardStats
	for _, ix := range indices {
		if ix.closed {
			if wildcard {
				continue
			}
			writeError(w, closedError(ix.name))
			return
		}
		shards.Total += ix.shards()
		shards.Successful += ix.shards()
		for _, id := range ix.sortedIDs() {
			d := ix.docs[id]
			if match(d) {
				matched = append(matched, d)
				owner[d] = ix.name
			}
		}
	}
	sortDocs(matched, sortBy)

	resp := client.SearchResponse{
		Shards: shards,
		Hits: client.Hits{
			Total: client.TotalHits{Value: int64(len(matched)), Relation: "eq"},
			Hits:  []client.Hit{},
		},
	}
	if len(matched) > 0 && len(sortBy) == 0 {
		one := 1.0
		resp.Hits.MaxScore = &one
	}
	for i := from; i < len(matched) && i < from+size; i++ {
		d := matched[i]
		h := client.Hit{Index: owner[d], ID: d.id, Source: d.source}
		if len(sortBy) == 0 {
			one := 1.0
			h.Score = &one
		}
		for _, f := range sortBy {
			h.Sort = append(h.Sort, sortValue(d, f.field))
		}
		resp.Hits.Hits = append(resp.Hits.Hits, h)
	}
	writeJSON(w, http.StatusOK, resp)
}

// broadcast answers flush, refresh and force-merge. All three only report
// per-shard outcomes in this engine.
func (c *Cluster) broadcast(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	indices, err := c.resolve(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, err)
		return
	}
	data := c.dataNodes()
	var shards client.ShardStats
	for _, ix := range indices {
		if ix.closed {
			continue
		}
		active, unassigned, _ := ix.health(data)
		shards.Total += active + unassigned
		shards.Successful += active
		if c.shardFailure {
			shards.Successful--
			shards.Failed++
			shards.Failures = append(shards.Failures, client.ShardFailure{
				Index:  ix.name,
				Shard:  0,
				Status: "INTERNAL_SERVER_ERROR",
				Reason: client.ErrorCause{Type: "illegal_state_exception", Reason: "injected shard failure"},
			})
		}
	}
	writeJSON(w, http.StatusOK, client.BroadcastResponse{Shards: shards})
}

type aliasAction struct {
	Index   string   `json:"index"`
	Indices []string `json:"indices"`
	Alias   string   `json:"alias"`
}

func (c *Cluster) updateAliases(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actions []map[string]aliasAction `json:"actions"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if len(body.Actions) == 0 {
		writeError(w, &engineError{status: http.StatusBadRequest, typ: "action_request_validation_exception", reason: "Validation Failed: 1: no actions specified;"})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	type change struct {
		ix    *index
		alias string
		add   bool
	}
	var changes []change
	for _, action := range body.Actions {
		for verb, a := range action {
			if verb != "add" && verb != "remove" {
				writeError(w, &engineError{status: http.StatusBadRequest, typ: "parsing_exception", reason: "unknown alias action [" + verb + "]"})
				return
			}
			names := a.Indices
			if a.Index != "" {
				names = append(names, a.Index)
			}
			for _, name := range names {
				ix, ok := c.indices[name]
				if !ok {
					writeError(w, &engineError{status: http.StatusNotFound, typ: "index_not_found_exception", reason: "no such index [" + name + "]"})
					return
				}
				if verb == "remove" && !ix.aliases[a.Alias] {
					writeError(w, &engineError{status: http.StatusNotFound, typ: "aliases_not_found_exception", reason: "aliases [" + a.Alias + "] missing"})
					return
				}
				changes = append(changes, change{ix: ix, alias: a.Alias, add: verb == "add"})
			}
		}
	}
	// All actions validated; apply them together.
	for _, ch := range changes {
		if ch.add {
			ch.ix.aliases[ch.alias] = true
		} else {
			delete(ch.ix.aliases, ch.alias)
		}
	}
	writeJSON(w, http.StatusOK, client.AckResponse{Acknowledged: true})
}

func (c *Cluster) getAlias(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	c.mu.Lock()
	defer c.mu.Unlock()

	out := map[string]any{}
	for _, ix := range c.sortedIndices() {
		if ix.aliases[name] {
			out[ix.name] = map[string]any{"aliases": map[string]any{name: map[string]any{}}}
		}
	}
	if len(out) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "alias [" + name + "] missing", "status": http.StatusNotFound})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// engineError is rendered in the engine's error envelope.
type engineError struct {
	status int
	typ    string
	reason string
}

func (e *engineError) Error() string { return e.typ + ": " + e.reason }

func closedError(name string) *engineError {
	return &engineError{status: http.StatusBadRequest, typ: "index_closed_exception", reason: "closed index [" + name + "]"}
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return &engineError{status: http.StatusBadRequest, typ: "parse_exception", reason: err.Error()}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &engineError{status: http.StatusBadRequest, typ: "parse_exception", reason: fmt.Sprintf("failed to parse request body: %v", err)}
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	ee, ok := err.(*engineError)
	if !ok {
		ee = &engineError{status: http.StatusInternalServerError, typ: "exception", reason: err.Error()}
	}
	cause := map[string]any{"type": ee.typ, "reason": ee.reason}
	writeJSON(w, ee.status, map[string]any{
		"error":  map[string]any{"root_cause": []any{cause}, "type": ee.typ, "reason": ee.reason},
		"status": ee.status,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
