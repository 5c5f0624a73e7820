package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// esHandler wraps h so responses carry the product header the official
// client checks for.
func esHandler(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		h(w, r)
	})
}

func newESServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(esHandler(h))
	t.Cleanup(srv.Close)
	return srv
}

// newTestClient creates a DefaultClient pointed at the given test server URL.
func newTestClient(t *testing.T, baseURL string) *DefaultClient {
	t.Helper()
	c, err := NewDefaultClient(ClientConfig{
		BaseURL:        baseURL,
		RequestTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewDefaultClient: %v", err)
	}
	return c
}

func TestNewDefaultClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewDefaultClient(ClientConfig{}); err == nil {
		t.Fatal("expected error for empty BaseURL, got nil")
	}
}

func TestClusterHealth(t *testing.T) {
	var gotQuery string
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/_cluster/health/logs") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"cluster_name":"test-cluster","status":"green","timed_out":false,"number_of_nodes":3,"active_shards":42,"relocating_shards":0,"unassigned_shards":5}`))
	})

	c := newTestClient(t, srv.URL)
	health, err := c.ClusterHealth(context.Background(), HealthOptions{
		Indices:                   []string{"logs"},
		WaitForStatus:             StatusGreen,
		WaitForNoRelocatingShards: true,
		WaitForEvents:             EventsLanguid,
		Timeout:                   30 * time.Second,
	})
	if err != nil {
		t.Fatalf("ClusterHealth: %v", err)
	}
	for _, want := range []string{"wait_for_status=green", "wait_for_no_relocating_shards=true", "wait_for_events=languid", "timeout=30000ms"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
	if health.ClusterName != "test-cluster" {
		t.Errorf("ClusterName = %q, want %q", health.ClusterName, "test-cluster")
	}
	if health.Status != "green" {
		t.Errorf("Status = %q, want %q", health.Status, "green")
	}
	if health.NumberOfNodes != 3 {
		t.Errorf("NumberOfNodes = %d, want 3", health.NumberOfNodes)
	}
	if health.UnassignedShards != 5 {
		t.Errorf("UnassignedShards = %d, want 5", health.UnassignedShards)
	}
}

func TestClusterHealth_TimedOutIsNotAnError(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestTimeout)
		_, _ = w.Write([]byte(`{"cluster_name":"c","status":"red","timed_out":true}`))
	})

	c := newTestClient(t, srv.URL)
	health, err := c.ClusterHealth(context.Background(), HealthOptions{WaitForStatus: StatusGreen})
	if err != nil {
		t.Fatalf("ClusterHealth: %v", err)
	}
	if !health.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if health.Status != "red" {
		t.Errorf("Status = %q, want red", health.Status)
	}
}

func TestClusterState_MasterName(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_cluster/state/master_node,nodes" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"cluster_name":"c","master_node":"n2","nodes":{"n1":{"name":"Node 1"},"n2":{"name":"Node 2"}}}`))
	})

	c := newTestClient(t, srv.URL)
	state, err := c.ClusterState(context.Background())
	if err != nil {
		t.Fatalf("ClusterState: %v", err)
	}
	if got := state.MasterName(); got != "Node 2" {
		t.Errorf("MasterName = %q, want %q", got, "Node 2")
	}
	if len(state.Nodes) != 2 {
		t.Errorf("len(Nodes) = %d, want 2", len(state.Nodes))
	}
}

func TestPendingTasks(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tasks":[{"insert_order":101,"priority":"URGENT","source":"create-index [foo]","time_in_queue_millis":86}]}`))
	})

	c := newTestClient(t, srv.URL)
	tasks, err := c.PendingTasks(context.Background())
	if err != nil {
		t.Fatalf("PendingTasks: %v", err)
	}
	if len(tasks.Tasks) != 1 || tasks.Tasks[0].Source != "create-index [foo]" {
		t.Errorf("Tasks = %+v", tasks.Tasks)
	}
}

func TestPing_Success(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead || r.URL.Path != "/" {
			t.Errorf("Ping: unexpected request %s %q", r.Method, r.URL.Path)
		}
	})

	c := newTestClient(t, srv.URL)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestPing_Failure(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	c := newTestClient(t, srv.URL)
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected error from Ping on non-2xx, got nil")
	}
}

func TestBasicAuth(t *testing.T) {
	var gotUser, gotPass string
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
	})

	c, err := NewDefaultClient(ClientConfig{
		BaseURL:  srv.URL,
		Username: "elastic",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("NewDefaultClient: %v", err)
	}

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if gotUser != "elastic" {
		t.Errorf("user = %q, want %q", gotUser, "elastic")
	}
	if gotPass != "secret" {
		t.Errorf("pass = %q, want %q", gotPass, "secret")
	}
}

func TestHTTPError(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"resource_already_exists_exception"},"status":400}`))
	})

	c := newTestClient(t, srv.URL)
	_, err := c.CreateIndex(context.Background(), "dup", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a *StatusError", err)
	}
	if se.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", se.StatusCode)
	}
	if !strings.Contains(err.Error(), "CreateIndex") || !strings.Contains(err.Error(), "400") {
		t.Errorf("error %q lacks operation or status", err.Error())
	}
}

func TestContextCancellation(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		// Block until the client disconnects
		<-r.Context().Done()
	})

	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.ClusterHealth(ctx, HealthOptions{})
		done <- err
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error after context cancellation, got nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for cancelled request to return")
	}
}

func TestTLSSkipVerify(t *testing.T) {
	srv := httptest.NewTLSServer(esHandler(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// Without InsecureSkipVerify, TLS handshake should fail (self-signed cert).
	c, err := NewDefaultClient(ClientConfig{
		BaseURL:        srv.URL,
		RequestTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewDefaultClient: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected TLS certificate error without InsecureSkipVerify, got nil")
	}

	c2, err := NewDefaultClient(ClientConfig{
		BaseURL:            srv.URL,
		RequestTimeout:     5 * time.Second,
		InsecureSkipVerify: true,
	})
	if err != nil {
		t.Fatalf("NewDefaultClient: %v", err)
	}
	if err := c2.Ping(context.Background()); err != nil {
		t.Errorf("Ping with InsecureSkipVerify=true: %v", err)
	}
}

func TestInvalidJSONResponse(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"broken":`))
	})

	c := newTestClient(t, srv.URL)
	if _, err := c.ClusterHealth(context.Background(), HealthOptions{}); err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}

func TestCreateIndex_SendsBody(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]any
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"acknowledged":true,"shards_acknowledged":true,"index":"fess"}`))
	})

	c := newTestClient(t, srv.URL)
	body := IndexBody(map[string]any{"index.number_of_replicas": 0}, map[string]string{"index.store.type": "fs"})
	ack, err := c.CreateIndex(context.Background(), "fess", body)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if !ack.Acknowledged {
		t.Error("Acknowledged = false, want true")
	}
	if gotMethod != http.MethodPut || gotPath != "/fess" {
		t.Errorf("request = %s %s, want PUT /fess", gotMethod, gotPath)
	}
	idx := gotBody["settings"].(map[string]any)["index"].(map[string]any)
	if idx["number_of_replicas"] != float64(0) {
		t.Errorf("number_of_replicas = %v, want 0", idx["number_of_replicas"])
	}
	if idx["store"].(map[string]any)["type"] != "fs" {
		t.Errorf("store.type = %v, want fs", idx["store"])
	}
}

func TestDeleteIndex_Success(t *testing.T) {
	var gotMethod, gotPath string
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	})

	c := newTestClient(t, srv.URL)
	ack, err := c.DeleteIndex(context.Background(), "my-index")
	if err != nil {
		t.Fatalf("DeleteIndex: %v", err)
	}
	if !ack.Acknowledged {
		t.Error("Acknowledged = false, want true")
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", gotMethod)
	}
	if gotPath != "/my-index" {
		t.Errorf("path = %q, want /my-index", gotPath)
	}
}

func TestDeleteIndex_NotFound(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"index not found"}`))
	})

	c := newTestClient(t, srv.URL)
	_, err := c.DeleteIndex(context.Background(), "missing-index")
	if err == nil {
		t.Fatal("expected error on 404, got nil")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error %q does not contain 404", err.Error())
	}
}

func TestDeleteIndex_EmptyName(t *testing.T) {
	received := false
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		received = true
	})

	c := newTestClient(t, srv.URL)
	if _, err := c.DeleteIndex(context.Background(), ""); err == nil {
		t.Fatal("expected error on empty name, got nil")
	}
	if received {
		t.Error("DeleteIndex with empty name must not send any HTTP request")
	}
}

func TestIndexExists(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %q, want HEAD", r.Method)
		}
		if r.URL.Path != "/present" {
			w.WriteHeader(http.StatusNotFound)
		}
	})

	c := newTestClient(t, srv.URL)
	ok, err := c.IndexExists(context.Background(), "present")
	if err != nil || !ok {
		t.Errorf("IndexExists(present) = %v, %v; want true, nil", ok, err)
	}
	ok, err = c.IndexExists(context.Background(), "absent")
	if err != nil || ok {
		t.Errorf("IndexExists(absent) = %v, %v; want false, nil", ok, err)
	}
}

func TestIndexDocument_RefreshesAndDecodes(t *testing.T) {
	var gotPath, gotQuery, gotBody string
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_index":"fess","_id":"1","_version":1,"result":"created","_shards":{"total":2,"successful":1,"failed":0}}`))
	})

	c := newTestClient(t, srv.URL)
	res, err := c.IndexDocument(context.Background(), "fess", "1", `{"id":"1","msg":"test 1"}`)
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if gotPath != "/fess/_doc/1" {
		t.Errorf("path = %q, want /fess/_doc/1", gotPath)
	}
	if !strings.Contains(gotQuery, "refresh=true") {
		t.Errorf("query %q missing refresh=true", gotQuery)
	}
	if gotBody != `{"id":"1","msg":"test 1"}` {
		t.Errorf("body = %q", gotBody)
	}
	if res.Result != ResultCreated {
		t.Errorf("Result = %q, want created", res.Result)
	}
}

func TestDeleteDocument_NotFoundIsResult(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"_index":"fess","_id":"9","result":"not_found"}`))
	})

	c := newTestClient(t, srv.URL)
	res, err := c.DeleteDocument(context.Background(), "fess", "9")
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if res.Result != ResultNotFound {
		t.Errorf("Result = %q, want not_found", res.Result)
	}
}

func TestDeleteDocument_MissingIndexIsError(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception","reason":"no such index [gone]"},"status":404}`))
	})

	c := newTestClient(t, srv.URL)
	res, err := c.DeleteDocument(context.Background(), "gone", "9")
	if res != nil {
		t.Errorf("response = %+v, want nil", res)
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", se.StatusCode)
	}
	if !strings.Contains(se.Body, "index_not_found_exception") {
		t.Errorf("Body = %q, want the engine error", se.Body)
	}
}

func TestSearch_BuildsBody(t *testing.T) {
	var gotBody map[string]any
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fess/_search" {
			t.Errorf("path = %q, want /fess/_search", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"took":1,"hits":{"total":{"value":1000,"relation":"eq"},"hits":[{"_id":"1","_source":{"id":"1"}}]}}`))
	})

	c := newTestClient(t, srv.URL)
	res, err := c.Search(context.Background(), "fess", SearchOptions{
		Sort: []any{map[string]any{"id": "asc"}},
		From: 10,
		Size: Int(5),
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, ok := gotBody["query"].(map[string]any)["match_all"]; !ok {
		t.Errorf("query = %v, want match_all", gotBody["query"])
	}
	if gotBody["from"] != float64(10) || gotBody["size"] != float64(5) {
		t.Errorf("from/size = %v/%v, want 10/5", gotBody["from"], gotBody["size"])
	}
	if gotBody["track_total_hits"] != true {
		t.Errorf("track_total_hits = %v, want true", gotBody["track_total_hits"])
	}
	if res.Hits.Total.Value != 1000 {
		t.Errorf("Total = %d, want 1000", res.Hits.Total.Value)
	}
	if len(res.Hits.Hits) != 1 || res.Hits.Hits[0].ID != "1" {
		t.Errorf("Hits = %+v", res.Hits.Hits)
	}
}

func TestFlushAndForceMerge_Query(t *testing.T) {
	var queries []string
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Path+"?"+r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"_shards":{"total":4,"successful":3,"failed":1,"failures":[{"index":"fess","shard":0,"reason":{"type":"x","reason":"boom"}}]}}`))
	})

	c := newTestClient(t, srv.URL)
	res, err := c.Flush(context.Background(), FlushOptions{Force: true, WaitIfOngoing: true})
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(res.Shards.Failures) != 1 || res.Shards.Failures[0].String() != "[fess][0] x: boom" {
		t.Errorf("Failures = %+v", res.Shards.Failures)
	}
	if _, err := c.ForceMerge(context.Background(), ForceMergeOptions{Indices: []string{"fess"}, MaxNumSegments: 1, Flush: Bool(true)}); err != nil {
		t.Fatalf("ForceMerge: %v", err)
	}

	if len(queries) != 2 {
		t.Fatalf("got %d requests, want 2", len(queries))
	}
	if !strings.HasPrefix(queries[0], "/_flush?") || !strings.Contains(queries[0], "force=true") || !strings.Contains(queries[0], "wait_if_ongoing=true") {
		t.Errorf("flush request = %q", queries[0])
	}
	if !strings.HasPrefix(queries[1], "/fess/_forcemerge?") || !strings.Contains(queries[1], "max_num_segments=1") {
		t.Errorf("forcemerge request = %q", queries[1])
	}
}

func TestGetAlias_MissingIsEmpty(t *testing.T) {
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"alias [nope] missing","status":404}`))
	})

	c := newTestClient(t, srv.URL)
	res, err := c.GetAlias(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetAlias: %v", err)
	}
	if len(res) != 0 {
		t.Errorf("len = %d, want 0", len(res))
	}
}

func TestUpdateAliases_Body(t *testing.T) {
	var got struct {
		Actions []map[string]map[string]string `json:"actions"`
	}
	srv := newESServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_aliases" {
			t.Errorf("path = %q, want /_aliases", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	})

	c := newTestClient(t, srv.URL)
	if _, err := c.UpdateAliases(context.Background(), "fess_alias", []string{"fess"}, []string{"old"}); err != nil {
		t.Fatalf("UpdateAliases: %v", err)
	}
	if len(got.Actions) != 2 {
		t.Fatalf("actions = %+v", got.Actions)
	}
	if got.Actions[0]["add"]["index"] != "fess" || got.Actions[1]["remove"]["index"] != "old" {
		t.Errorf("actions = %+v", got.Actions)
	}
	if _, err := c.UpdateAliases(context.Background(), "a", nil, nil); err == nil {
		t.Error("expected error for empty alias update")
	}
}

func TestBuildNestedMap(t *testing.T) {
	tests := []struct {
		name     string
		input    map[string]any
		wantPath []string // dotted path to check
		wantVal  any
	}{
		{
			name:     "single level",
			input:    map[string]any{"key": "val"},
			wantPath: []string{"key"},
			wantVal:  "val",
		},
		{
			name:     "two levels",
			input:    map[string]any{"index.number_of_replicas": "2"},
			wantPath: []string{"index", "number_of_replicas"},
			wantVal:  "2",
		},
		{
			name:     "nested value with dotted keys",
			input:    map[string]any{"index": map[string]any{"store.type": "fs"}},
			wantPath: []string{"index", "store", "type"},
			wantVal:  "fs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := buildNestedMap(tt.input)
			var cur any = result
			for i, seg := range tt.wantPath {
				m, ok := cur.(map[string]any)
				if !ok {
					t.Fatalf("step %d: expected map, got %T", i, cur)
				}
				cur = m[seg]
			}
			if cur != tt.wantVal {
				t.Errorf("value at path = %v, want %v", cur, tt.wantVal)
			}
		})
	}
}

func TestIndexBody_UserSettingsWin(t *testing.T) {
	body := IndexBody(
		map[string]any{"index": map[string]any{"store": map[string]any{"type": "niofs"}}},
		map[string]string{"index.store.type": "fs", "index.number_of_shards": "1"},
	)
	idx := body["settings"].(map[string]any)["index"].(map[string]any)
	if got := idx["store"].(map[string]any)["type"]; got != "niofs" {
		t.Errorf("store.type = %v, want niofs", got)
	}
	if got := idx["number_of_shards"]; got != "1" {
		t.Errorf("number_of_shards = %v, want 1", got)
	}
	if IndexBody(nil, nil) != nil {
		t.Error("IndexBody(nil, nil) should be nil")
	}
}
