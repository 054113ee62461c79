package exmebus

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts for the collector stream.
const (
	// defaultConnectTimeout is the maximum time to wait for a dial.
	defaultConnectTimeout = 5 * time.Second

	// defaultWriteTimeout is the deadline applied to every frame write.
	defaultWriteTimeout = 1 * time.Second
)

// CollectorConfig holds the collector connection settings.
type CollectorConfig struct {
	// Address of the collector.
	// Supported formats:
	//   - "127.0.0.1:5000" (TCP)
	//   - "tcp://127.0.0.1:5000" (TCP)
	//   - "unix:///run/exmebus.sock" (Unix socket)
	Address string

	// ConnectTimeout is the maximum time to wait for a dial.
	// Default: 5 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout is the deadline for a single frame write.
	// Default: 1 second.
	WriteTimeout time.Duration
}

// CollectorStats holds operational statistics.
type CollectorStats struct {
	FramesTx        uint64
	BytesTx         uint64
	WriteErrors     uint64
	DialErrors      uint64
	ReconnectsTotal uint64 // Successful redials
	LastActivity    time.Time
	Connected       bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// CollectorClient writes frames to the collector over a stream socket.
//
// Thread Safety:
//   - Write and Reconnect are meant to be called from a single goroutine.
//   - Stats, IsConnected and HealthCheck are safe for concurrent use.
//
// Reconnection:
//   - A failed write closes the connection and returns ErrWriteFailed.
//     The caller decides when to Reconnect.
//   - Write dials on demand when no connection is open.
type CollectorClient struct {
	cfg     CollectorConfig
	network string
	address string

	connMu    sync.Mutex
	conn      net.Conn
	connected atomic.Bool
	closed    atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex

	framesTx        atomic.Uint64
	bytesTx         atomic.Uint64
	writeErrors     atomic.Uint64
	dialErrors      atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// Dial connects to the collector.
//
// Parameters:
//   - ctx: Context for cancellation of the initial dial
//   - cfg: Connection configuration
//
// Returns:
//   - *CollectorClient: Connected client ready for Write
//   - error: ErrConnectionFailed if the address is invalid or the dial fails
func Dial(ctx context.Context, cfg CollectorConfig) (*CollectorClient, error) {
	c, err := NewCollectorClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.dial(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewCollectorClient returns a client that dials on its first Write.
func NewCollectorClient(cfg CollectorConfig) (*CollectorClient, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	network, address, err := parseCollectorAddress(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &CollectorClient{
		cfg:     cfg,
		network: network,
		address: address,
	}, nil
}

// parseCollectorAddress splits an address into network and dial address.
// A bare host:port is TCP.
func parseCollectorAddress(addr string) (network, address string, err error) {
	if addr == "" {
		return "", "", fmt.Errorf("empty collector address")
	}
	if !strings.Contains(addr, "://") {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return "", "", fmt.Errorf("invalid address %q: %w", addr, err)
		}
		return "tcp", addr, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "tcp":
		if _, _, err := net.SplitHostPort(u.Host); err != nil {
			return "", "", fmt.Errorf("invalid address %q: %w", u.Host, err)
		}
		return "tcp", u.Host, nil
	case "unix":
		if u.Path == "" {
			return "", "", fmt.Errorf("unix address %q has no path", addr)
		}
		return "unix", u.Path, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use tcp or unix)", u.Scheme)
	}
}

// dial opens a new connection, replacing any previous one.
func (c *CollectorClient) dial(ctx context.Context) error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, c.network, c.address)
	if err != nil {
		c.dialErrors.Add(1)
		return fmt.Errorf("%w: dial %s://%s: %w", ErrConnectionFailed, c.network, c.address, err)
	}

	c.connMu.Lock()
	old := c.conn
	c.conn = conn
	c.connMu.Unlock()
	if old != nil {
		old.Close()
	}

	c.connected.Store(true)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// Write sends one frame with the configured write deadline.
//
// On failure the connection is closed so that the next Write or Reconnect
// starts from a fresh socket.
//
// Parameters:
//   - ctx: Context for cancellation
//   - frame: Encoded frame
//
// Returns:
//   - error: ErrConnectionFailed if an on-demand dial fails, ErrWriteFailed
//     if the write fails
func (c *CollectorClient) Write(ctx context.Context, frame []byte) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrWriteFailed, ctx.Err())
	default:
	}

	if !c.IsConnected() {
		if err := c.dial(ctx); err != nil {
			return err
		}
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		c.dropConnection()
		c.writeErrors.Add(1)
		return fmt.Errorf("%w: set deadline: %w", ErrWriteFailed, err)
	}

	if _, err := conn.Write(frame); err != nil {
		c.dropConnection()
		c.writeErrors.Add(1)
		return fmt.Errorf("%w: write: %w", ErrWriteFailed, err)
	}

	c.framesTx.Add(1)
	c.bytesTx.Add(uint64(len(frame)))
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// Reconnect discards the current connection and dials a new one. The write
// timeout is re-applied on every subsequent Write.
func (c *CollectorClient) Reconnect(ctx context.Context) error {
	c.dropConnection()
	c.logInfo("reconnecting to collector", "address", c.address)

	if err := c.dial(ctx); err != nil {
		return err
	}

	c.reconnectsTotal.Add(1)
	c.logInfo("collector reconnected", "total_reconnects", c.reconnectsTotal.Load())
	return nil
}

// dropConnection closes the current socket and marks the client
// disconnected.
func (c *CollectorClient) dropConnection() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	c.connected.Store(false)
	if conn != nil {
		conn.Close()
	}
}

// Close closes the connection. Further writes fail with ErrNotConnected.
// Safe to call multiple times.
func (c *CollectorClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.dropConnection()
	c.logInfo("collector connection closed")
	return nil
}

// Address returns the dial address.
func (c *CollectorClient) Address() string {
	return c.address
}

// SetLogger sets the logger for this client.
func (c *CollectorClient) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true while a connection is open.
func (c *CollectorClient) IsConnected() bool {
	return c.connected.Load()
}

// Stats returns current operational statistics.
func (c *CollectorClient) Stats() CollectorStats {
	return CollectorStats{
		FramesTx:        c.framesTx.Load(),
		BytesTx:         c.bytesTx.Load(),
		WriteErrors:     c.writeErrors.Load(),
		DialErrors:      c.dialErrors.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
	}
}

// HealthCheck reports whether a collector connection is open.
func (c *CollectorClient) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (c *CollectorClient) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}
