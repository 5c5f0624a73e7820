// Package runner launches a multi-node Elasticsearch cluster on one host and
// offers the administrative operations tests need against it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dm/es-cluster-runner/internal/cleanup"
	"github.com/dm/es-cluster-runner/internal/config"
	"github.com/dm/es-cluster-runner/internal/format"
	"github.com/dm/es-cluster-runner/internal/node"
	"github.com/dm/es-cluster-runner/internal/plugin"
	"github.com/dm/es-cluster-runner/internal/ports"
	"github.com/dm/es-cluster-runner/internal/provision"
	"github.com/dm/es-cluster-runner/internal/settings"
)

const (
	cleanAttempts   = 3
	separator       = "----------------------------------------"
	tempDirPattern  = "es-cluster"
	defaultHostname = "localhost"
)

// Runner owns the nodes of one cluster. The zero value is not usable; call
// New.
type Runner struct {
	// lifeMu serializes Build, StartNode, CloseNode and Close.
	lifeMu sync.Mutex
	// mu guards nodes and descs, which are index-aligned.
	mu    sync.RWMutex
	nodes []node.Node
	descs []node.Descriptor
	// masterMu serializes MasterNode and NonMasterNode.
	masterMu sync.Mutex

	built   bool
	cfg     config.Config
	plugins []plugin.Plugin

	factory    node.Factory
	onBuild    settings.OnBuild
	logger     *zap.Logger
	out        io.Writer
	allocator  *ports.Allocator
	sweeper    *cleanup.Sweeper
	retryDelay time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithNodeFactory replaces the process-backed node factory.
func WithNodeFactory(f node.Factory) Option {
	return func(r *Runner) { r.factory = f }
}

// WithLogger sets the structured logger. It receives Print output when the
// configuration enables UseLogger, and debug diagnostics otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithOutput sets where Print writes when UseLogger is off. Defaults to
// stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// WithPortAllocator replaces the default localhost port allocator.
func WithPortAllocator(a *ports.Allocator) Option {
	return func(r *Runner) { r.allocator = a }
}

// WithSweeper hands a base path that Clean could not delete to s, so the
// caller can retry it once everything else has shut down.
func WithSweeper(s *cleanup.Sweeper) Option {
	return func(r *Runner) { r.sweeper = s }
}

// OnBuild registers a callback that customizes each node's settings before
// defaults are filled in.
func OnBuild(fn settings.OnBuild) Option {
	return func(r *Runner) { r.onBuild = fn }
}

// New returns a Runner with no nodes.
func New(opts ...Option) *Runner {
	r := &Runner{
		logger:     zap.NewNop(),
		out:        os.Stdout,
		retryDelay: time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	if r.allocator == nil {
		r.allocator = ports.NewAllocator(ports.WithLogger(r.logger))
	}
	return r
}

// BuildArgs parses command-line style arguments and builds the cluster.
func (r *Runner) BuildArgs(ctx context.Context, args ...string) error {
	cfg, err := config.Parse(args)
	if err != nil {
		return err
	}
	return r.Build(ctx, cfg)
}

// Build provisions and starts cfg.NumOfNode nodes one after another. The
// first failing node aborts the build with a *ClusterStartError; nodes that
// already started stay up and are stopped by Close.
func (r *Runner) Build(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return &config.ParseError{Err: err}
	}

	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if r.built {
		return ErrAlreadyBuilt
	}

	if cfg.BasePath == "" {
		dir, err := os.MkdirTemp("", tempDirPattern)
		if err != nil {
			return &provision.Error{Path: os.TempDir(), Err: err}
		}
		cfg.BasePath = dir
	} else if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return &provision.Error{Path: cfg.BasePath, Err: err}
	}

	modules := cfg.ModuleTypes
	if modules == nil {
		modules = plugin.DefaultModules
	}
	plugins, err := plugin.Resolve(modules, cfg.PluginTypes, r.logger)
	if err != nil {
		return err
	}

	if r.factory == nil {
		r.factory = node.NewProcessFactory(node.ProcessConfig{
			ESHome:       cfg.ESHome,
			JavaOpts:     cfg.JavaOpts,
			StartTimeout: cfg.StartTimeout,
			Logger:       r.logger,
		})
	}
	r.cfg = cfg
	r.plugins = plugins
	r.built = true

	r.Print(separator)
	r.Print("Cluster Name: " + cfg.ClusterName)
	r.Print("Base Path:    " + cfg.BasePath)
	r.Print("Num Of Node:  " + strconv.Itoa(cfg.NumOfNode))
	r.Print(separator)

	prov := &provision.Provisioner{
		BasePath:         cfg.BasePath,
		ConfPath:         cfg.ConfPath,
		DataPath:         cfg.DataPath,
		LogsPath:         cfg.LogsPath,
		DisableLogConfig: cfg.DisableESLogger,
		Print:            r.Print,
	}
	for i := 1; i <= cfg.NumOfNode; i++ {
		if err := ctx.Err(); err != nil {
			return &ClusterStartError{Index: i, Err: err}
		}
		desc, err := r.describe(prov, i)
		if err != nil {
			return &ClusterStartError{Index: i, Err: err}
		}
		n, err := r.factory(desc, r.plugins)
		if err != nil {
			return &ClusterStartError{Index: i, Err: err}
		}
		if err := n.Start(ctx); err != nil {
			return &ClusterStartError{Index: i, Err: err}
		}
		r.mu.Lock()
		r.nodes = append(r.nodes, n)
		r.descs = append(r.descs, desc)
		r.mu.Unlock()
	}
	return nil
}

// describe assembles the settings of node i. Precedence: the OnBuild
// callback, then plugins, then runner defaults. Values already present are
// never overwritten.
func (r *Runner) describe(prov *provision.Provisioner, i int) (node.Descriptor, error) {
	b := settings.NewBuilder()
	if r.onBuild != nil {
		r.onBuild(i, b)
	}
	plugin.Apply(r.plugins, i, b)

	paths, err := prov.Provision(i)
	if err != nil {
		return node.Descriptor{}, err
	}
	settings.ApplyPaths(b, settings.Paths{Home: paths.Home, Data: paths.Data, Logs: paths.Logs})
	if err := prov.InstallPlugins(paths, b); err != nil {
		return node.Descriptor{}, err
	}

	httpPort, err := r.port(b, settings.KeyHTTPPort, r.cfg.BaseHTTPPort, i, r.cfg.MaxHTTPPort)
	if err != nil {
		return node.Descriptor{}, err
	}
	transportPort, err := r.port(b, settings.KeyTransportPort, r.cfg.BaseTransportPort, i, r.cfg.MaxTransportPort)
	if err != nil {
		return node.Descriptor{}, err
	}
	settings.ApplyPorts(b, httpPort, transportPort)

	r.mu.RLock()
	seeds := make([]string, 0, len(r.descs)+1)
	for _, d := range r.descs {
		seeds = append(seeds, defaultHostname+":"+strconv.Itoa(d.TransportPort))
	}
	firstName := ""
	if len(r.descs) > 0 {
		firstName = r.descs[0].Name
	}
	r.mu.RUnlock()
	seeds = append(seeds, defaultHostname+":"+strconv.Itoa(transportPort))

	name := "Node " + strconv.Itoa(i)
	if firstName == "" {
		firstName = name
		if v, ok := b.Get(settings.KeyNodeName); ok {
			firstName = v
		}
	}
	settings.ApplyIdentity(b, settings.Identity{
		ClusterName:        r.cfg.ClusterName,
		NodeName:           name,
		IndexStoreType:     r.cfg.IndexStoreType,
		NetworkHost:        defaultHostname,
		SeedHosts:          seeds,
		InitialMasterNodes: []string{firstName},
	})

	s := b.Build()
	desc := node.Descriptor{
		Index:         i,
		Name:          s.Value(settings.KeyNodeName),
		Paths:         paths,
		HTTPPort:      httpPort,
		TransportPort: transportPort,
		Settings:      s,
	}

	r.Print("Node Name:      " + desc.Name)
	r.Print("HTTP Port:      " + strconv.Itoa(httpPort))
	r.Print("Transport Port: " + strconv.Itoa(transportPort))
	r.Print("Data Directory: " + paths.Data)
	r.Print("Log Directory:  " + paths.Logs)
	r.Print(separator)
	return desc, nil
}

// port returns the user's value for key when set, and otherwise the first
// free port from base+offset up to max.
func (r *Runner) port(b *settings.Builder, key string, base, offset, max int) (int, error) {
	p, ok, err := settings.PortFromBuilder(b, key)
	if err != nil {
		return 0, err
	}
	if ok {
		return p, nil
	}
	return r.allocator.Allocate(base, offset, max)
}

// StartNode restarts the closed node at index i (0-based) from its stored
// descriptor. It returns false when i is out of range, the node is running,
// or the start fails; a start failure is printed.
func (r *Runner) StartNode(ctx context.Context, i int) bool {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	r.mu.RLock()
	if i < 0 || i >= len(r.nodes) || !r.nodes[i].IsClosed() {
		r.mu.RUnlock()
		return false
	}
	desc := r.descs[i]
	r.mu.RUnlock()

	n, err := r.factory(desc, r.plugins)
	if err == nil {
		err = n.Start(ctx)
	}
	if err != nil {
		r.Print(err.Error())
		return false
	}

	r.mu.Lock()
	r.nodes[i] = n
	r.mu.Unlock()
	return true
}

// CloseNode stops the node at index i (0-based). Closing a closed node is a
// no-op.
func (r *Runner) CloseNode(i int) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	n := r.Node(i)
	if n == nil {
		return fmt.Errorf("CloseNode: no node at index %d", i)
	}
	return n.Close()
}

// Close stops every node. The node list is kept so nodes can be restarted
// with StartNode. All close failures are returned together.
func (r *Runner) Close() error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	var errs []error
	for _, n := range r.snapshot() {
		if err := n.Close(); err != nil {
			r.logger.Debug("failed to close a node", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	r.Print("Closed all nodes.")
	return nil
}

// IsClosed reports whether every node is closed. A runner without nodes is
// closed.
func (r *Runner) IsClosed() bool {
	for _, n := range r.snapshot() {
		if !n.IsClosed() {
			return false
		}
	}
	return true
}

// Clean deletes the base path. It makes up to three attempts one second
// apart and prints the outcome; it never fails.
func (r *Runner) Clean() {
	base := r.BasePath()
	if base == "" {
		return
	}
	for attempt := 1; attempt <= cleanAttempts; attempt++ {
		res, err := cleanup.Remove(base)
		if err == nil {
			r.Print(fmt.Sprintf("Deleted %s (%d files, %d directories, %s)",
				base, res.Files, res.Dirs, format.FormatBytes(res.Bytes)))
			return
		}
		if r.cfg.UseLogger {
			r.logger.Debug("could not delete files/directories", zap.Int("attempt", attempt), zap.Error(err))
		}
		if attempt < cleanAttempts {
			r.Print(fmt.Sprintf("%v Retrying to delete it.", firstLine(err)))
			time.Sleep(r.retryDelay)
		}
	}
	r.Print("Failed to delete " + base + " in this process.")
	if r.sweeper != nil {
		r.sweeper.Defer(base)
	}
}

// Print writes one line to the logger when UseLogger is set and to the
// output writer otherwise.
func (r *Runner) Print(line string) {
	if r.cfg.UseLogger {
		r.logger.Info(line)
		return
	}
	fmt.Fprintln(r.out, line)
}

// ClusterName returns the configured cluster name.
func (r *Runner) ClusterName() string {
	return r.cfg.ClusterName
}

// BasePath returns the directory holding every node home, or "" before
// Build.
func (r *Runner) BasePath() string {
	return r.cfg.BasePath
}

// Config returns the configuration the cluster was built with.
func (r *Runner) Config() config.Config {
	return r.cfg
}

// snapshot copies the node list so callers can iterate without the lock.
func (r *Runner) snapshot() []node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]node.Node(nil), r.nodes...)
}

func firstLine(err error) string {
	s := err.Error()
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
