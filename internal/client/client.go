package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ESClient defines the operations the runner issues against one node.
type ESClient interface {
	Ping(ctx context.Context) error
	BaseURL() string

	ClusterHealth(ctx context.Context, opts HealthOptions) (*ClusterHealth, error)
	ClusterState(ctx context.Context, metrics ...string) (*ClusterState, error)
	PendingTasks(ctx context.Context) (*PendingTasks, error)

	CreateIndex(ctx context.Context, index string, body map[string]any) (*AckResponse, error)
	DeleteIndex(ctx context.Context, index string) (*AckResponse, error)
	IndexExists(ctx context.Context, index string) (bool, error)
	OpenIndex(ctx context.Context, index string) (*AckResponse, error)
	CloseIndex(ctx context.Context, index string) (*AckResponse, error)
	PutMapping(ctx context.Context, index string, source any) (*AckResponse, error)

	IndexDocument(ctx context.Context, index, id string, source any) (*DocWriteResponse, error)
	DeleteDocument(ctx context.Context, index, id string) (*DocWriteResponse, error)
	Search(ctx context.Context, index string, opts SearchOptions) (*SearchResponse, error)

	Flush(ctx context.Context, opts FlushOptions) (*BroadcastResponse, error)
	Refresh(ctx context.Context, indices ...string) (*BroadcastResponse, error)
	ForceMerge(ctx context.Context, opts ForceMergeOptions) (*BroadcastResponse, error)

	GetAlias(ctx context.Context, alias string) (AliasesResponse, error)
	UpdateAliases(ctx context.Context, alias string, add, remove []string) (*AckResponse, error)
}

// ClientConfig holds configuration for DefaultClient.
type ClientConfig struct {
	BaseURL            string
	Username           string
	Password           string
	InsecureSkipVerify bool
	RequestTimeout     time.Duration
}

// StatusError is returned when the engine answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// DefaultClient implements ESClient on top of the official go-elasticsearch
// client.
type DefaultClient struct {
	es     *elasticsearch.Client
	config ClientConfig
}

// NewDefaultClient constructs a DefaultClient from the given config.
// Returns an error if BaseURL is empty.
func NewDefaultClient(cfg ClientConfig) (*DefaultClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{cfg.BaseURL},
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return &DefaultClient{es: es, config: cfg}, nil
}

// BaseURL returns the configured base URL of the node.
func (c *DefaultClient) BaseURL() string {
	return c.config.BaseURL
}

// ES exposes the underlying go-elasticsearch client for calls the runner
// does not wrap.
func (c *DefaultClient) ES() *elasticsearch.Client {
	return c.es
}

// Ping checks connectivity with HEAD / and a 1s timeout.
func (c *DefaultClient) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if _, err := c.do(pingCtx, esapi.PingRequest{}, nil); err != nil {
		return fmt.Errorf("Ping: %w", err)
	}
	return nil
}

const maxResponseBytes = 32 * 1024 * 1024

// do executes req, decodes a 2xx body into out and returns the status code.
// Statuses listed in accept are returned without error; their bodies are
// decoded on a best-effort basis.
func (c *DefaultClient) do(ctx context.Context, req esapi.Request, out any, accept ...int) (int, error) {
	ctx, cancel := c.withTimeout(ctx, 0)
	defer cancel()

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes+1))
	if err != nil {
		return res.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxResponseBytes {
		return res.StatusCode, fmt.Errorf("response body exceeds %d MB limit", maxResponseBytes/(1024*1024))
	}

	for _, s := range accept {
		if res.StatusCode == s {
			if out != nil && len(body) > 0 {
				_ = json.Unmarshal(body, out)
			}
			return res.StatusCode, nil
		}
	}
	if res.IsError() {
		return res.StatusCode, &StatusError{StatusCode: res.StatusCode, Body: truncate(body, 200)}
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return res.StatusCode, fmt.Errorf("decode: %w", err)
		}
	}
	return res.StatusCode, nil
}

// withTimeout applies the request timeout plus extra when ctx carries no
// deadline of its own.
func (c *DefaultClient) withTimeout(ctx context.Context, extra time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.config.RequestTimeout+extra)
}

// encodeBody turns v into a request body. Strings, byte slices and
// json.RawMessage are sent as-is; anything else is JSON-encoded.
func encodeBody(v any) (io.Reader, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case string:
		return bytes.NewReader([]byte(b)), nil
	case []byte:
		return bytes.NewReader(b), nil
	case json.RawMessage:
		return bytes.NewReader(b), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return bytes.NewReader(data), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
