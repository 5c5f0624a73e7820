package node

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dm/es-cluster-runner/internal/client"
	"github.com/dm/es-cluster-runner/internal/plugin"
	"github.com/dm/es-cluster-runner/internal/settings"
)

const (
	defaultStartTimeout = 2 * time.Minute
	defaultStopTimeout  = 30 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	outputTailLines     = 20
)

// ProcessConfig controls how engine processes are launched.
type ProcessConfig struct {
	ESHome       string
	JavaOpts     string
	StartTimeout time.Duration
	StopTimeout  time.Duration
	PollInterval time.Duration
	Logger       *zap.Logger
}

// NewProcessFactory returns a Factory that runs each node as a child
// process of the Elasticsearch distribution in cfg.ESHome.
func NewProcessFactory(cfg ProcessConfig) Factory {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return func(d Descriptor, plugins []plugin.Plugin) (Node, error) {
		if cfg.ESHome == "" {
			return nil, fmt.Errorf("node %q: ES_HOME is not set", d.Name)
		}
		names := make([]string, len(plugins))
		for i, p := range plugins {
			names[i] = p.Name()
		}
		return &processNode{
			cfg:    cfg,
			desc:   d,
			logger: cfg.Logger.With(zap.String("node", d.Name), zap.Strings("plugins", names)),
			closed: true,
		}, nil
	}
}

type processNode struct {
	cfg    ProcessConfig
	desc   Descriptor
	logger *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
	closed  bool
	client  client.ESClient
	tail    outputTail
}

func (n *processNode) Settings() settings.Settings { return n.desc.Settings }

func (n *processNode) IsClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return true
	}
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

func (n *processNode) Client() (client.ESClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil {
		return n.client, nil
	}
	c, err := client.NewDefaultClient(client.ClientConfig{BaseURL: n.desc.BaseURL()})
	if err != nil {
		return nil, err
	}
	n.client = c
	return c, nil
}

// Args returns the engine command line for s: one -E per setting, minus
// path.home (taken from the working directory) and index-level settings,
// which the engine rejects at node level.
func Args(s settings.Settings) []string {
	var args []string
	for _, k := range s.Keys() {
		if k == settings.KeyPathHome || strings.HasPrefix(k, "index.") {
			continue
		}
		args = append(args, "-E", k+"="+s.Value(k))
	}
	return args
}

func (n *processNode) binary() string {
	name := "elasticsearch"
	if runtime.GOOS == "windows" {
		name += ".bat"
	}
	return filepath.Join(n.cfg.ESHome, "bin", name)
}

func (n *processNode) Start(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.mu.Unlock()
		return nil
	}

	cmd := exec.Command(n.binary(), Args(n.desc.Settings)...)
	cmd.Dir = n.desc.Paths.Home
	cmd.Env = append(os.Environ(), "ES_PATH_CONF="+n.desc.Paths.Config)
	if n.cfg.JavaOpts != "" {
		cmd.Env = append(cmd.Env, "ES_JAVA_OPTS="+n.cfg.JavaOpts)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		n.mu.Unlock()
		return &StartError{Name: n.desc.Name, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		n.mu.Unlock()
		return &StartError{Name: n.desc.Name, Err: err}
	}

	n.logger.Info("starting node",
		zap.String("binary", cmd.Path),
		zap.Int("http_port", n.desc.HTTPPort),
		zap.Int("transport_port", n.desc.TransportPort))
	if err := cmd.Start(); err != nil {
		n.mu.Unlock()
		return &StartError{Name: n.desc.Name, Err: err}
	}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go n.pump(&pumps, stdout)
	go n.pump(&pumps, stderr)

	done := make(chan struct{})
	n.cmd = cmd
	n.done = done
	n.tail.reset()
	go func() {
		// Wait must not run before the pipes are drained.
		pumps.Wait()
		err := cmd.Wait()
		n.mu.Lock()
		n.waitErr = err
		n.mu.Unlock()
		close(done)
	}()
	n.mu.Unlock()

	if err := n.awaitReady(ctx, done); err != nil {
		n.kill()
		return &StartError{Name: n.desc.Name, Err: err, Output: n.tail.String()}
	}

	n.mu.Lock()
	n.closed = false
	n.mu.Unlock()
	n.logger.Info("node started")
	return nil
}

func (n *processNode) awaitReady(ctx context.Context, done <-chan struct{}) error {
	c, err := n.Client()
	if err != nil {
		return err
	}
	deadline := time.NewTimer(n.cfg.StartTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(n.cfg.PollInterval)
	defer tick.Stop()

	for {
		if err := c.Ping(ctx); err == nil {
			return nil
		}
		select {
		case <-done:
			n.mu.Lock()
			werr := n.waitErr
			n.mu.Unlock()
			if werr == nil {
				werr = errors.New("exited")
			}
			return fmt.Errorf("process exited before becoming ready: %w", werr)
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("not ready after %s", n.cfg.StartTimeout)
		case <-tick.C:
		}
	}
}

func (n *processNode) pump(wg *sync.WaitGroup, r io.Reader) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		n.tail.add(line)
		n.logger.Debug(line)
	}
}

// kill terminates the process without a grace period and waits for it.
func (n *processNode) kill() {
	n.mu.Lock()
	cmd, done := n.cmd, n.done
	n.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	<-done
}

func (n *processNode) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	cmd, done := n.cmd, n.done
	n.mu.Unlock()

	select {
	case <-done:
		return nil
	default:
	}

	if err := interrupt(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		n.logger.Warn("interrupt failed, killing", zap.Error(err))
		_ = cmd.Process.Kill()
	}
	select {
	case <-done:
	case <-time.After(n.cfg.StopTimeout):
		n.logger.Warn("node did not stop in time, killing", zap.Duration("timeout", n.cfg.StopTimeout))
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("close node %q: %w", n.desc.Name, err)
		}
		<-done
	}
	n.logger.Info("node closed")
	return nil
}

func interrupt(p *os.Process) error {
	if runtime.GOOS == "windows" {
		return p.Kill()
	}
	return p.Signal(os.Interrupt)
}

// outputTail keeps the last lines written by a process.
type outputTail struct {
	mu    sync.Mutex
	lines []string
}

func (t *outputTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > outputTailLines {
		t.lines = t.lines[len(t.lines)-outputTailLines:]
	}
}

func (t *outputTail) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = nil
}

func (t *outputTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
