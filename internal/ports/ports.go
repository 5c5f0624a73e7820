package ports

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const defaultProbeTimeout = 500 * time.Millisecond

// UnavailableError reports that every port up to Max was occupied.
type UnavailableError struct {
	Port int // first candidate past the range
	Max  int
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("port %d is unavailable (max %d)", e.Port, e.Max)
}

// DialFunc opens a probe connection. It matches net.DialTimeout.
type DialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

// Allocator finds unused TCP ports by trying to connect to them.
type Allocator struct {
	host    string
	timeout time.Duration
	logger  *zap.Logger
	dial    DialFunc
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithHost sets the host that is probed. Defaults to "localhost".
func WithHost(host string) Option {
	return func(a *Allocator) { a.host = host }
}

// WithTimeout sets the connect timeout of a single probe.
func WithTimeout(d time.Duration) Option {
	return func(a *Allocator) { a.timeout = d }
}

// WithLogger sets the logger used for unexpected probe errors.
func WithLogger(l *zap.Logger) Option {
	return func(a *Allocator) { a.logger = l }
}

// WithDialer replaces the dial function, mainly for tests.
func WithDialer(d DialFunc) Option {
	return func(a *Allocator) { a.dial = d }
}

// NewAllocator returns an Allocator probing localhost.
func NewAllocator(opts ...Option) *Allocator {
	a := &Allocator{
		host:    "localhost",
		timeout: defaultProbeTimeout,
		logger:  zap.NewNop(),
		dial:    net.DialTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Allocate returns the first free port starting at base+offset and not
// above max. A successful connection means the port is taken; a refused
// connection means it is free. Other probe errors are logged and the port is
// treated as taken. A negative max disables probing and returns base+offset.
func (a *Allocator) Allocate(base, offset, max int) (int, error) {
	port := base + offset
	if max < 0 {
		return port, nil
	}
	for port <= max {
		addr := net.JoinHostPort(a.host, strconv.Itoa(port))
		conn, err := a.dial("tcp", addr, a.timeout)
		if err == nil {
			_ = conn.Close()
			port++
			continue
		}
		if isRefused(err) {
			return port, nil
		}
		a.logger.Debug("port probe failed", zap.Int("port", port), zap.Error(err))
		port++
	}
	return 0, &UnavailableError{Port: port, Max: max}
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
