package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dm/es-cluster-runner/internal/cleanup"
	"github.com/dm/es-cluster-runner/internal/config"
	"github.com/dm/es-cluster-runner/internal/runner"
	"github.com/dm/es-cluster-runner/internal/tui"
)

const (
	pollInterval  = 5 * time.Second
	closedPolling = time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run builds the cluster described by args and keeps it up until ctx is
// done, every node has been closed, or the console is quit. The cluster is
// always closed on the way out.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, opts ...runner.Option) int {
	cfg, err := config.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			config.Usage(stderr)
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		config.Usage(stderr)
		return 1
	}

	logger := newLogger(stderr)
	defer func() { _ = logger.Sync() }()

	var sweeper cleanup.Sweeper
	defer func() {
		if err := sweeper.Sweep(); err != nil {
			logger.Warn("leftover files could not be removed", zap.Error(err))
		}
	}()

	out := &redirectWriter{w: stdout}
	r := runner.New(append([]runner.Option{
		runner.WithLogger(logger),
		runner.WithOutput(out),
		runner.WithSweeper(&sweeper),
	}, opts...)...)

	code := 0
	if err := r.Build(ctx, cfg); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		code = 1
	} else if cfg.Console {
		if err := console(ctx, r, out); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			code = 1
		}
	} else {
		r.Print("Press Ctrl-C to stop the cluster.")
		waitForShutdown(ctx, r, closedPolling)
	}

	if err := r.Close(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		code = 1
	}
	if cfg.CleanOnExit {
		r.Clean()
	}
	return code
}

// console runs the interactive cluster console. Runner output produced
// while it owns the terminal is held back and written once it exits.
func console(ctx context.Context, r *runner.Runner, out *redirectWriter) error {
	var held bytes.Buffer
	out.redirect(&held)
	defer func() {
		out.restore()
		_, _ = out.Write(held.Bytes())
	}()

	p := tea.NewProgram(tui.NewApp(r, pollInterval), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}

// waitForShutdown blocks until ctx is done or every node is closed.
func waitForShutdown(ctx context.Context, r *runner.Runner, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if r.IsClosed() {
				return
			}
		}
	}
}

func newLogger(w io.Writer) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), zap.InfoLevel)
	return zap.New(core)
}

// redirectWriter forwards to w, or to a temporary target while one is set.
type redirectWriter struct {
	mu     sync.Mutex
	w      io.Writer
	target io.Writer
}

func (rw *redirectWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.target != nil {
		return rw.target.Write(p)
	}
	return rw.w.Write(p)
}

func (rw *redirectWriter) redirect(to io.Writer) {
	rw.mu.Lock()
	rw.target = to
	rw.mu.Unlock()
}

func (rw *redirectWriter) restore() {
	rw.redirect(nil)
}
