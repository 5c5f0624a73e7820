package runner

import (
	"context"
	"strings"

	"github.com/dm/es-cluster-runner/internal/client"
	"github.com/dm/es-cluster-runner/internal/monitor"
)

// onFailure applies the failure policy: print and carry on when
// PrintOnFailure is set, otherwise return an *OperationFailure.
func (r *Runner) onFailure(message string, response any) error {
	if r.cfg.PrintOnFailure {
		r.Print(message)
		return nil
	}
	return &OperationFailure{Message: message, Response: response}
}

// indexDefaults are the index.* node settings. The engine refuses them on
// the node command line, so they are sent with each created index instead.
func (r *Runner) indexDefaults() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.descs) == 0 {
		return nil
	}
	return r.descs[0].Settings.WithPrefix("index.")
}

// CreateIndex creates index. settings may use flat dotted keys or nested
// maps; node-level index defaults fill the keys it leaves out.
func (r *Runner) CreateIndex(ctx context.Context, index string, settings map[string]any) (*client.AckResponse, error) {
	c, err := r.Client()
	if err != nil {
		return nil, err
	}
	resp, err := c.CreateIndex(ctx, index, client.IndexBody(settings, r.indexDefaults()))
	if err != nil {
		return nil, err
	}
	if !resp.Acknowledged {
		return resp, r.onFailure("Failed to create "+index+".", resp)
	}
	return resp, nil
}

// DeleteIndex deletes index.
func (r *Runner) DeleteIndex(ctx context.Context, index string) (*client.AckResponse, error) {
	c, err := r.Client()
	if err != nil {
		return nil, err
	}
	resp, err := c.DeleteIndex(ctx, index)
	if err != nil {
		return nil, err
	}
	if !resp.Acknowledged {
		return resp, r.onFailure("Failed to delete "+index+".", resp)
	}
	return resp, nil
}

// OpenIndex opens a closed index.
func (r *Runner) OpenIndex(ctx context.Context, index string) (*client.AckResponse, error) {
	c, err := r.Client()
	if err != nil {
		return nil, err
	}
	resp, err := c.OpenIndex(ctx, index)
	if err != nil {
		return nil, err
	}
	if !resp.Acknowledged {
		return resp, r.onFailure("Failed to open "+index+".", resp)
	}
	return resp, nil
}

// CloseIndex closes index.
func (r *Runner) CloseIndex(ctx context.Context, index string) (*client.AckResponse, error) {
	c, err := r.Client()
	if err != nil {
		return nil, err
	}
	resp, err := c.CloseIndex(ctx, index)
	if err != nil {
		return nil, err
	}
	if !resp.Acknowledged {
		return resp, r.onFailure("Failed to close "+index+".", resp)
	}
	return resp, nil
}

// IndexExists reports whether index (or an alias of that name) exists.
func (r *Runner) IndexExists(ctx context.Context, index string) (bool, error) {
	c, err := r.Client()
	if err != nil {
		return false, err
	}
	return c.IndexExists(ctx, index)
}

// CreateMapping puts a mapping on index. source is a JSON string, raw bytes
// or any value that encodes to the mapping object.
func (r *Runner) CreateMapping(ctx context.Context, index string, source any) (*client.AckResponse, error) {
	c, err := r.Client()
	if err != nil {
		return nil, err
	}
	resp, err := c.PutMapping(ctx, index, source)
	if err != nil {
		return nil, err
	}
	if !resp.Acknowledged {
		return resp, r.onFailure("Failed to create a mapping for "+index+".", resp)
	}
	return resp, nil
}

// Insert indexes a new document and refreshes. Overwriting an existing id
// is reported as a failure because the result is not "created".
func (r *Runner) Insert(ctx context.Context, index, id string, source any) (*client.DocWriteResponse, error) {
	c, err := r.Client()
	if err != nil {
		return nil, err
	}
	resp, err := c.IndexDocument(ctx, index, id, source)
	if err != nil {
		return nil, err
	}
	if resp.Result != client.ResultCreated {
		return resp, r.onFailure("Failed to insert "+id+" into "+index+".", resp)
	}
	return resp, nil
}

// Delete removes a document and refreshes. A missing document is a failure.
func (r *Runner) Delete(ctx context.Context, index, id string) (*client.DocWriteResponse, error) {
	c, err := r.Client()
	if err != nil {
		return nil, err
	}
	resp, err := c.DeleteDocument(ctx, index, id)
	if err != nil {
		return nil, err
	}
	if resp.Result != client.ResultDeleted {
		return resp, r.onFailure("Failed to delete "+id+" from "+index+".", resp)
	}
	return resp, nil
}

// Search runs a query against index. An empty index searches everything.
func (r *Runner) Search(ctx context.Context, index string, opts client.SearchOptions) (*client.SearchResponse, error) {
	c, err := r.Client()
	if err != nil {
		return nil, err
	}
	return c.Search(ctx, index, opts)
}

// Count returns a hit-less search whose total is the document count.
func (r *Runner) Count(ctx context.Context, index string) (*client.SearchResponse, error) {
	return r.Search(ctx, index, client.SearchOptions{Size: client.Int(0)})
}

// GetAlias returns the indices carrying alias. An unknown alias gives an
// empty response.
func (r *Runner) GetAlias(ctx context.Context, alias string) (client.AliasesResponse, error) {
	c, err := r.Client()
	if err != nil {
		return nil, err
	}
	return c.GetAlias(ctx, alias)
}

// UpdateAlias adds alias to the indices in added and removes it from those
// in removed, in one request.
func (r *Runner) UpdateAlias(ctx context.Context, alias string, added, removed []string) (*client.AckResponse, error) {
	c, err := r.Client()
	if err != nil {
		return nil, err
	}
	resp, err := c.UpdateAliases(ctx, alias, added, removed)
	if err != nil {
		return nil, err
	}
	if !resp.Acknowledged {
		return resp, r.onFailure("Failed to update aliases.", resp)
	}
	return resp, nil
}

// Flush waits for relocation to finish, then flushes.
func (r *Runner) Flush(ctx context.Context, opts client.FlushOptions) (*client.BroadcastResponse, error) {
	return r.broadcast(ctx, func(c client.ESClient) (*client.BroadcastResponse, error) {
		return c.Flush(ctx, opts)
	})
}

// Refresh waits for relocation to finish, then refreshes indices (all when
// none are given).
func (r *Runner) Refresh(ctx context.Context, indices ...string) (*client.BroadcastResponse, error) {
	return r.broadcast(ctx, func(c client.ESClient) (*client.BroadcastResponse, error) {
		return c.Refresh(ctx, indices...)
	})
}

// ForceMerge waits for relocation to finish, then force-merges.
func (r *Runner) ForceMerge(ctx context.Context, opts client.ForceMergeOptions) (*client.BroadcastResponse, error) {
	return r.broadcast(ctx, func(c client.ESClient) (*client.BroadcastResponse, error) {
		return c.ForceMerge(ctx, opts)
	})
}

func (r *Runner) broadcast(ctx context.Context, call func(client.ESClient) (*client.BroadcastResponse, error)) (*client.BroadcastResponse, error) {
	if _, err := r.WaitForRelocation(ctx); err != nil {
		return nil, err
	}
	c, err := r.Client()
	if err != nil {
		return nil, err
	}
	resp, err := call(c)
	if err != nil {
		return nil, err
	}
	if len(resp.Shards.Failures) > 0 {
		var sb strings.Builder
		for _, f := range resp.Shards.Failures {
			sb.WriteString(f.String())
			sb.WriteByte('\n')
		}
		return resp, r.onFailure(sb.String(), resp)
	}
	return resp, nil
}

// EnsureGreen waits until indices (or the whole cluster) are green with no
// relocating shards and returns the final status.
func (r *Runner) EnsureGreen(ctx context.Context, indices ...string) (string, error) {
	return r.waitHealth(ctx, "ensureGreen", client.HealthOptions{
		Indices:                   indices,
		WaitForStatus:             client.StatusGreen,
		WaitForNoRelocatingShards: true,
		WaitForEvents:             client.EventsLanguid,
	})
}

// EnsureYellow waits until indices (or the whole cluster) are at least
// yellow with no relocating shards and returns the final status.
func (r *Runner) EnsureYellow(ctx context.Context, indices ...string) (string, error) {
	return r.waitHealth(ctx, "ensureYellow", client.HealthOptions{
		Indices:                   indices,
		WaitForStatus:             client.StatusYellow,
		WaitForNoRelocatingShards: true,
		WaitForEvents:             client.EventsLanguid,
	})
}

// WaitForRelocation waits until no shard is relocating and returns the
// cluster status.
func (r *Runner) WaitForRelocation(ctx context.Context) (string, error) {
	return r.waitHealth(ctx, "waitForRelocation", client.HealthOptions{
		WaitForNoRelocatingShards: true,
	})
}

// waitHealth runs a health wait. When it times out, cluster state and
// pending tasks are attached to the failure message.
func (r *Runner) waitHealth(ctx context.Context, op string, opts client.HealthOptions) (string, error) {
	c, err := r.Client()
	if err != nil {
		return "", err
	}
	opts.Timeout = r.cfg.HealthTimeout
	health, err := c.ClusterHealth(ctx, opts)
	if err != nil {
		return "", err
	}
	if !health.TimedOut {
		return health.Status, nil
	}

	msg := op + " timed out, cluster state:\n"
	snap, derr := monitor.Diagnostics(ctx, c, health)
	if derr != nil {
		msg += "diagnostics unavailable: " + derr.Error()
	} else {
		msg += monitor.Describe(snap)
	}
	return health.Status, r.onFailure(msg, health)
}
