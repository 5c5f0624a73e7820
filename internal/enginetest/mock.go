package enginetest

import (
	"context"
	"errors"

	"github.com/dm/es-cluster-runner/internal/client"
)

// ErrMock is a convenience error for tests that need a failing call.
var ErrMock = errors.New("mock failure")

// MockESClient implements client.ESClient with overridable function fields.
// Unset fields return a healthy, acknowledged default.
type MockESClient struct {
	URL string

	PingFn          func(ctx context.Context) error
	HealthFn        func(ctx context.Context, opts client.HealthOptions) (*client.ClusterHealth, error)
	StateFn         func(ctx context.Context, metrics ...string) (*client.ClusterState, error)
	PendingFn       func(ctx context.Context) (*client.PendingTasks, error)
	CreateIndexFn   func(ctx context.Context, index string, body map[string]any) (*client.AckResponse, error)
	DeleteIndexFn   func(ctx context.Context, index string) (*client.AckResponse, error)
	IndexExistsFn   func(ctx context.Context, index string) (bool, error)
	OpenIndexFn     func(ctx context.Context, index string) (*client.AckResponse, error)
	CloseIndexFn    func(ctx context.Context, index string) (*client.AckResponse, error)
	PutMappingFn    func(ctx context.Context, index string, source any) (*client.AckResponse, error)
	IndexDocFn      func(ctx context.Context, index, id string, source any) (*client.DocWriteResponse, error)
	DeleteDocFn     func(ctx context.Context, index, id string) (*client.DocWriteResponse, error)
	SearchFn        func(ctx context.Context, index string, opts client.SearchOptions) (*client.SearchResponse, error)
	FlushFn         func(ctx context.Context, opts client.FlushOptions) (*client.BroadcastResponse, error)
	RefreshFn       func(ctx context.Context, indices ...string) (*client.BroadcastResponse, error)
	ForceMergeFn    func(ctx context.Context, opts client.ForceMergeOptions) (*client.BroadcastResponse, error)
	GetAliasFn      func(ctx context.Context, alias string) (client.AliasesResponse, error)
	UpdateAliasesFn func(ctx context.Context, alias string, add, remove []string) (*client.AckResponse, error)
}

var _ client.ESClient = (*MockESClient)(nil)

func (m *MockESClient) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn(ctx)
	}
	return nil
}

func (m *MockESClient) BaseURL() string {
	if m.URL != "" {
		return m.URL
	}
	return "http://mock:9200"
}

func (m *MockESClient) ClusterHealth(ctx context.Context, opts client.HealthOptions) (*client.ClusterHealth, error) {
	if m.HealthFn != nil {
		return m.HealthFn(ctx, opts)
	}
	return &client.ClusterHealth{ClusterName: "test", Status: client.StatusGreen, NumberOfNodes: 1}, nil
}

func (m *MockESClient) ClusterState(ctx context.Context, metrics ...string) (*client.ClusterState, error) {
	if m.StateFn != nil {
		return m.StateFn(ctx, metrics...)
	}
	return &client.ClusterState{
		ClusterName: "test",
		MasterNode:  "n1",
		Nodes:       map[string]client.StateNode{"n1": {Name: "Node 1"}},
	}, nil
}

func (m *MockESClient) PendingTasks(ctx context.Context) (*client.PendingTasks, error) {
	if m.PendingFn != nil {
		return m.PendingFn(ctx)
	}
	return &client.PendingTasks{}, nil
}

func (m *MockESClient) CreateIndex(ctx context.Context, index string, body map[string]any) (*client.AckResponse, error) {
	if m.CreateIndexFn != nil {
		return m.CreateIndexFn(ctx, index, body)
	}
	return &client.AckResponse{Acknowledged: true, ShardsAcknowledged: true, Index: index}, nil
}

func (m *MockESClient) DeleteIndex(ctx context.Context, index string) (*client.AckResponse, error) {
	if m.DeleteIndexFn != nil {
		return m.DeleteIndexFn(ctx, index)
	}
	return &client.AckResponse{Acknowledged: true}, nil
}

func (m *MockESClient) IndexExists(ctx context.Context, index string) (bool, error) {
	if m.IndexExistsFn != nil {
		return m.IndexExistsFn(ctx, index)
	}
	return true, nil
}

func (m *MockESClient) OpenIndex(ctx context.Context, index string) (*client.AckResponse, error) {
	if m.OpenIndexFn != nil {
		return m.OpenIndexFn(ctx, index)
	}
	return &client.AckResponse{Acknowledged: true}, nil
}

func (m *MockESClient) CloseIndex(ctx context.Context, index string) (*client.AckResponse, error) {
	if m.CloseIndexFn != nil {
		return m.CloseIndexFn(ctx, index)
	}
	return &client.AckResponse{Acknowledged: true}, nil
}

func (m *MockESClient) PutMapping(ctx context.Context, index string, source any) (*client.AckResponse, error) {
	if m.PutMappingFn != nil {
		return m.PutMappingFn(ctx, index, source)
	}
	return &client.AckResponse{Acknowledged: true}, nil
}

func (m *MockESClient) IndexDocument(ctx context.Context, index, id string, source any) (*client.DocWriteResponse, error) {
	if m.IndexDocFn != nil {
		return m.IndexDocFn(ctx, index, id, source)
	}
	return &client.DocWriteResponse{Index: index, ID: id, Version: 1, Result: client.ResultCreated}, nil
}

func (m *MockESClient) DeleteDocument(ctx context.Context, index, id string) (*client.DocWriteResponse, error) {
	if m.DeleteDocFn != nil {
		return m.DeleteDocFn(ctx, index, id)
	}
	return &client.DocWriteResponse{Index: index, ID: id, Version: 2, Result: client.ResultDeleted}, nil
}

func (m *MockESClient) Search(ctx context.Context, index string, opts client.SearchOptions) (*client.SearchResponse, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, index, opts)
	}
	return &client.SearchResponse{Hits: client.Hits{Total: client.TotalHits{Relation: "eq"}}}, nil
}

func (m *MockESClient) Flush(ctx context.Context, opts client.FlushOptions) (*client.BroadcastResponse, error) {
	if m.FlushFn != nil {
		return m.FlushFn(ctx, opts)
	}
	return &client.BroadcastResponse{}, nil
}

func (m *MockESClient) Refresh(ctx context.Context, indices ...string) (*client.BroadcastResponse, error) {
	if m.RefreshFn != nil {
		return m.RefreshFn(ctx, indices...)
	}
	return &client.BroadcastResponse{}, nil
}

func (m *MockESClient) ForceMerge(ctx context.Context, opts client.ForceMergeOptions) (*client.BroadcastResponse, error) {
	if m.ForceMergeFn != nil {
		return m.ForceMergeFn(ctx, opts)
	}
	return &client.BroadcastResponse{}, nil
}

func (m *MockESClient) GetAlias(ctx context.Context, alias string) (client.AliasesResponse, error) {
	if m.GetAliasFn != nil {
		return m.GetAliasFn(ctx, alias)
	}
	return client.AliasesResponse{}, nil
}

func (m *MockESClient) UpdateAliases(ctx context.Context, alias string, add, remove []string) (*client.AckResponse, error) {
	if m.UpdateAliasesFn != nil {
		return m.UpdateAliasesFn(ctx, alias, add, remove)
	}
	return &client.AckResponse{Acknowledged: true}, nil
}
