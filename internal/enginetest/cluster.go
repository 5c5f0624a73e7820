package enginetest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dm/es-cluster-runner/internal/client"
	"github.com/dm/es-cluster-runner/internal/node"
	"github.com/dm/es-cluster-runner/internal/plugin"
	"github.com/dm/es-cluster-runner/internal/settings"
)

// Cluster is an in-memory stand-in for an Elasticsearch cluster. Every node
// created by its Factory serves the engine's REST API on its own HTTP port
// and shares the cluster's indices.
type Cluster struct {
	logger *zap.Logger
	uuid   string

	mu       sync.Mutex
	running  []*FakeNode // start order; the first one is master
	indices  map[string]*index
	pending  []client.PendingTask
	failNext map[int]error // node index -> start failure

	shardFailure  bool
	healthTimeout bool
}

// Option configures a Cluster.
type Option func(*Cluster)

// WithLogger logs every request at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cluster) { c.logger = l }
}

// NewCluster returns an empty fake cluster.
func NewCluster(opts ...Option) *Cluster {
	c := &Cluster{
		logger:   zap.NewNop(),
		uuid:     uuid.NewString(),
		indices:  map[string]*index{},
		failNext: map[int]error{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Factory returns a node.Factory producing FakeNodes bound to c.
func (c *Cluster) Factory() node.Factory {
	return func(d node.Descriptor, plugins []plugin.Plugin) (node.Node, error) {
		return &FakeNode{cluster: c, desc: d, id: uuid.NewString(), closed: true}, nil
	}
}

// FailStart makes the next start of the node with the given 1-based index
// fail with err.
func (c *Cluster) FailStart(index int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext[index] = err
}

// SetShardFailure makes flush, refresh and force-merge report one failed
// shard per index.
func (c *Cluster) SetShardFailure(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shardFailure = on
}

// SetHealthTimeout makes every health wait time out.
func (c *Cluster) SetHealthTimeout(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthTimeout = on
}

// SetPendingTasks replaces the pending cluster tasks reported by the cluster.
func (c *Cluster) SetPendingTasks(tasks []client.PendingTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = tasks
}

// RunningNames lists the running node names in start order.
func (c *Cluster) RunningNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.running))
	for i, n := range c.running {
		out[i] = n.desc.Name
	}
	return out
}

// DocCount returns the number of documents in index, or -1 when it does
// not exist.
func (c *Cluster) DocCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indices[name]
	if !ok {
		return -1
	}
	return len(idx.docs)
}

// IndexSetting returns a setting of index as stored by the engine, looking
// up dotted keys in nested form.
func (c *Cluster) IndexSetting(name, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indices[name]
	if !ok {
		return nil, false
	}
	return idx.setting(key)
}

func (c *Cluster) register(n *FakeNode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.failNext[n.desc.Index]; ok {
		delete(c.failNext, n.desc.Index)
		return err
	}
	c.running = append(c.running, n)
	return nil
}

func (c *Cluster) unregister(n *FakeNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.running {
		if r == n {
			c.running = append(c.running[:i], c.running[i+1:]...)
			return
		}
	}
}

// FakeNode is one fake engine node.
type FakeNode struct {
	cluster *Cluster
	desc    node.Descriptor
	id      string

	mu     sync.Mutex
	srv    *http.Server
	ln     net.Listener // closed by Close itself; Serve may not own it yet
	closed bool
	client client.ESClient
}

var _ node.Node = (*FakeNode)(nil)

// ID is the node id reported in cluster state.
func (n *FakeNode) ID() string { return n.id }

func (n *FakeNode) Settings() settings.Settings { return n.desc.Settings }

func (n *FakeNode) IsClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func (n *FakeNode) Client() (client.ESClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client == nil {
		c, err := client.NewDefaultClient(client.ClientConfig{BaseURL: n.desc.BaseURL(), RequestTimeout: 5 * time.Second})
		if err != nil {
			return nil, err
		}
		n.client = c
	}
	return n.client, nil
}

func (n *FakeNode) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		return nil
	}
	if err := n.cluster.register(n); err != nil {
		return &node.StartError{Name: n.desc.Name, Err: err}
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(n.desc.HTTPPort)))
	if err != nil {
		n.cluster.unregister(n)
		return &node.StartError{Name: n.desc.Name, Err: err}
	}
	n.ln = ln
	n.srv = &http.Server{Handler: n.cluster.router(n), ReadHeaderTimeout: 5 * time.Second}
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.cluster.logger.Warn("fake node stopped serving", zap.String("node", n.desc.Name), zap.Error(err))
		}
	}(n.srv)
	n.closed = false
	return nil
}

func (n *FakeNode) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.cluster.unregister(n)
	err := n.srv.Close()
	if lerr := n.ln.Close(); lerr != nil && !errors.Is(lerr, net.ErrClosed) && err == nil {
		err = lerr
	}
	if err != nil {
		return fmt.Errorf("close %s: %w", n.desc.Name, err)
	}
	return nil
}

func (n *FakeNode) roles() []string {
	v := n.desc.Settings.Value(settings.KeyNodeRoles)
	if v == "" {
		return append([]string(nil), settings.DefaultRoles...)
	}
	return strings.Split(v, ",")
}

func (n *FakeNode) clusterName() string {
	if v := n.desc.Settings.Value(settings.KeyClusterName); v != "" {
		return v
	}
	return "elasticsearch"
}
