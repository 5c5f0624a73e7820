package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Health status values and the wait-for-events priority used by the runner.
const (
	StatusGreen  = "green"
	StatusYellow = "yellow"
	StatusRed    = "red"

	EventsLanguid = "languid"
)

// HealthOptions selects what /_cluster/health waits for.
type HealthOptions struct {
	Indices                   []string
	WaitForStatus             string
	WaitForNoRelocatingShards bool
	WaitForEvents             string
	Timeout                   time.Duration
}

// SearchOptions describes a search request. A nil Query matches all
// documents; a nil Size leaves the server default.
type SearchOptions struct {
	Query any
	Sort  any
	From  int
	Size  *int
}

// FlushOptions mirrors the flush API flags.
type FlushOptions struct {
	Indices       []string
	Force         bool
	WaitIfOngoing bool
}

// ForceMergeOptions mirrors the force-merge API flags. A zero MaxNumSegments
// and a nil Flush leave the server defaults.
type ForceMergeOptions struct {
	Indices            []string
	MaxNumSegments     int
	OnlyExpungeDeletes bool
	Flush              *bool
}

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// ClusterHealth fetches /_cluster/health, optionally waiting for a state.
// A wait that expires is reported through ClusterHealth.TimedOut, not as an
// error.
func (c *DefaultClient) ClusterHealth(ctx context.Context, opts HealthOptions) (*ClusterHealth, error) {
	ctx, cancel := c.withTimeout(ctx, opts.Timeout)
	defer cancel()

	req := esapi.ClusterHealthRequest{
		Index:         opts.Indices,
		WaitForStatus: opts.WaitForStatus,
		WaitForEvents: opts.WaitForEvents,
		Timeout:       opts.Timeout,
	}
	if opts.WaitForNoRelocatingShards {
		req.WaitForNoRelocatingShards = Bool(true)
	}

	var result ClusterHealth
	// A timed-out wait answers 408 with a regular health body.
	status, err := c.do(ctx, req, &result, http.StatusRequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("ClusterHealth: %w", err)
	}
	if status == http.StatusRequestTimeout {
		result.TimedOut = true
	}
	return &result, nil
}

// ClusterState fetches /_cluster/state restricted to metrics. With no
// metrics the master node and node list are requested.
func (c *DefaultClient) ClusterState(ctx context.Context, metrics ...string) (*ClusterState, error) {
	if len(metrics) == 0 {
		metrics = []string{"master_node", "nodes"}
	}
	var result ClusterState
	if _, err := c.do(ctx, esapi.ClusterStateRequest{Metric: metrics}, &result); err != nil {
		return nil, fmt.Errorf("ClusterState: %w", err)
	}
	return &result, nil
}

// PendingTasks fetches /_cluster/pending_tasks.
func (c *DefaultClient) PendingTasks(ctx context.Context) (*PendingTasks, error) {
	var result PendingTasks
	if _, err := c.do(ctx, esapi.ClusterPendingTasksRequest{}, &result); err != nil {
		return nil, fmt.Errorf("PendingTasks: %w", err)
	}
	return &result, nil
}

// CreateIndex creates index with the given request body (settings, mappings,
// aliases). A nil body creates the index with server defaults.
func (c *DefaultClient) CreateIndex(ctx context.Context, index string, body map[string]any) (*AckResponse, error) {
	if index == "" {
		return nil, fmt.Errorf("CreateIndex: index must not be empty")
	}
	req := esapi.IndicesCreateRequest{Index: index}
	if body != nil {
		r, err := encodeBody(body)
		if err != nil {
			return nil, fmt.Errorf("CreateIndex: %w", err)
		}
		req.Body = r
	}
	var result AckResponse
	if _, err := c.do(ctx, req, &result); err != nil {
		return nil, fmt.Errorf("CreateIndex: %w", err)
	}
	return &result, nil
}

// DeleteIndex deletes index.
func (c *DefaultClient) DeleteIndex(ctx context.Context, index string) (*AckResponse, error) {
	if index == "" {
		return nil, fmt.Errorf("DeleteIndex: index must not be empty")
	}
	var result AckResponse
	if _, err := c.do(ctx, esapi.IndicesDeleteRequest{Index: []string{index}}, &result); err != nil {
		return nil, fmt.Errorf("DeleteIndex: %w", err)
	}
	return &result, nil
}

// IndexExists reports whether index exists.
func (c *DefaultClient) IndexExists(ctx context.Context, index string) (bool, error) {
	status, err := c.do(ctx, esapi.IndicesExistsRequest{Index: []string{index}}, nil, http.StatusNotFound)
	if err != nil {
		return false, fmt.Errorf("IndexExists: %w", err)
	}
	return status != http.StatusNotFound, nil
}

// OpenIndex opens a closed index.
func (c *DefaultClient) OpenIndex(ctx context.Context, index string) (*AckResponse, error) {
	var result AckResponse
	if _, err := c.do(ctx, esapi.IndicesOpenRequest{Index: []string{index}}, &result); err != nil {
		return nil, fmt.Errorf("OpenIndex: %w", err)
	}
	return &result, nil
}

// CloseIndex closes an open index.
func (c *DefaultClient) CloseIndex(ctx context.Context, index string) (*AckResponse, error) {
	var result AckResponse
	if _, err := c.do(ctx, esapi.IndicesCloseRequest{Index: []string{index}}, &result); err != nil {
		return nil, fmt.Errorf("CloseIndex: %w", err)
	}
	return &result, nil
}

// PutMapping updates the mapping of index.
func (c *DefaultClient) PutMapping(ctx context.Context, index string, source any) (*AckResponse, error) {
	body, err := encodeBody(source)
	if err != nil {
		return nil, fmt.Errorf("PutMapping: %w", err)
	}
	var result AckResponse
	if _, err := c.do(ctx, esapi.IndicesPutMappingRequest{Index: []string{index}, Body: body}, &result); err != nil {
		return nil, fmt.Errorf("PutMapping: %w", err)
	}
	return &result, nil
}

// IndexDocument writes a document and refreshes so it is immediately
// searchable. An empty id lets the engine generate one.
func (c *DefaultClient) IndexDocument(ctx context.Context, index, id string, source any) (*DocWriteResponse, error) {
	body, err := encodeBody(source)
	if err != nil {
		return nil, fmt.Errorf("IndexDocument: %w", err)
	}
	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       body,
		Refresh:    "true",
	}
	var result DocWriteResponse
	if _, err := c.do(ctx, req, &result); err != nil {
		return nil, fmt.Errorf("IndexDocument: %w", err)
	}
	return &result, nil
}

// DeleteDocument deletes a document and refreshes. A missing document is
// not an error; the response result is "not_found". Any other 404, such as a
// missing index, is a *StatusError.
func (c *DefaultClient) DeleteDocument(ctx context.Context, index, id string) (*DocWriteResponse, error) {
	req := esapi.DeleteRequest{
		Index:      index,
		DocumentID: id,
		Refresh:    "true",
	}
	var raw json.RawMessage
	status, err := c.do(ctx, req, &raw, http.StatusNotFound)
	if err != nil {
		return nil, fmt.Errorf("DeleteDocument: %w", err)
	}
	var result DocWriteResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("DeleteDocument: decode: %w", err)
		}
	}
	if status == http.StatusNotFound && result.Result != ResultNotFound {
		return nil, fmt.Errorf("DeleteDocument: %w", &StatusError{StatusCode: status, Body: truncate(raw, 200)})
	}
	return &result, nil
}

// Search runs a query against index. Total hits are always tracked exactly.
func (c *DefaultClient) Search(ctx context.Context, index string, opts SearchOptions) (*SearchResponse, error) {
	query := opts.Query
	if query == nil {
		query = map[string]any{"match_all": map[string]any{}}
	}
	payload := map[string]any{
		"query":            query,
		"track_total_hits": true,
	}
	if opts.From > 0 {
		payload["from"] = opts.From
	}
	if opts.Size != nil {
		payload["size"] = *opts.Size
	}
	if opts.Sort != nil {
		payload["sort"] = opts.Sort
	}
	body, err := encodeBody(payload)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	req := esapi.SearchRequest{Body: body}
	if index != "" {
		req.Index = []string{index}
	}
	var result SearchResponse
	if _, err := c.do(ctx, req, &result); err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	return &result, nil
}

// Flush flushes the given indices, or all of them.
func (c *DefaultClient) Flush(ctx context.Context, opts FlushOptions) (*BroadcastResponse, error) {
	req := esapi.IndicesFlushRequest{
		Index:         opts.Indices,
		Force:         Bool(opts.Force),
		WaitIfOngoing: Bool(opts.WaitIfOngoing),
	}
	var result BroadcastResponse
	if _, err := c.do(ctx, req, &result); err != nil {
		return nil, fmt.Errorf("Flush: %w", err)
	}
	return &result, nil
}

// Refresh refreshes the given indices, or all of them.
func (c *DefaultClient) Refresh(ctx context.Context, indices ...string) (*BroadcastResponse, error) {
	var result BroadcastResponse
	if _, err := c.do(ctx, esapi.IndicesRefreshRequest{Index: indices}, &result); err != nil {
		return nil, fmt.Errorf("Refresh: %w", err)
	}
	return &result, nil
}

// ForceMerge merges the segments of the given indices, or all of them.
func (c *DefaultClient) ForceMerge(ctx context.Context, opts ForceMergeOptions) (*BroadcastResponse, error) {
	req := esapi.IndicesForcemergeRequest{
		Index: opts.Indices,
		Flush: opts.Flush,
	}
	if opts.MaxNumSegments > 0 {
		req.MaxNumSegments = Int(opts.MaxNumSegments)
	}
	if opts.OnlyExpungeDeletes {
		req.OnlyExpungeDeletes = Bool(true)
	}
	var result BroadcastResponse
	if _, err := c.do(ctx, req, &result); err != nil {
		return nil, fmt.Errorf("ForceMerge: %w", err)
	}
	return &result, nil
}

// GetAlias returns the indices carrying alias. An unknown alias yields an
// empty response.
func (c *DefaultClient) GetAlias(ctx context.Context, alias string) (AliasesResponse, error) {
	result := AliasesResponse{}
	// ES answers 404 with an error object when no index has the alias.
	status, err := c.do(ctx, esapi.IndicesGetAliasRequest{Name: []string{alias}}, &result, http.StatusNotFound)
	if err != nil {
		return nil, fmt.Errorf("GetAlias: %w", err)
	}
	if status == http.StatusNotFound {
		return AliasesResponse{}, nil
	}
	return result, nil
}

// UpdateAliases atomically adds alias to the indices in add and removes it
// from the indices in remove.
func (c *DefaultClient) UpdateAliases(ctx context.Context, alias string, add, remove []string) (*AckResponse, error) {
	actions := make([]map[string]any, 0, len(add)+len(remove))
	for _, idx := range add {
		actions = append(actions, map[string]any{"add": map[string]string{"index": idx, "alias": alias}})
	}
	for _, idx := range remove {
		actions = append(actions, map[string]any{"remove": map[string]string{"index": idx, "alias": alias}})
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("UpdateAliases: no indices to add or remove")
	}
	body, err := encodeBody(map[string]any{"actions": actions})
	if err != nil {
		return nil, fmt.Errorf("UpdateAliases: %w", err)
	}
	var result AckResponse
	if _, err := c.do(ctx, esapi.IndicesUpdateAliasesRequest{Body: body}, &result); err != nil {
		return nil, fmt.Errorf("UpdateAliases: %w", err)
	}
	return &result, nil
}
