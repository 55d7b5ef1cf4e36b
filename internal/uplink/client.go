// Package uplink publishes position fixes to a remote collector over WebSocket
package uplink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-mlat/internal/protocol"
	"github.com/teslashibe/go-mlat/internal/tracker"
)

// ErrNotConnected is returned when sending without an open connection
var ErrNotConnected = errors.New("not connected")

// Config holds uplink client configuration
type Config struct {
	URL              string        // WebSocket URL (e.g., "ws://collector.example.com/ws/fixes")
	ReconnectBackoff time.Duration // Initial reconnect delay
	MaxBackoff       time.Duration // Maximum reconnect delay
	PingInterval     time.Duration // Ping interval for keepalive
	WriteTimeout     time.Duration // Write timeout
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8080/ws/fixes",
		ReconnectBackoff: 1 * time.Second,
		MaxBackoff:       30 * time.Second,
		PingInterval:     10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// ConfigHandler applies a tuning update from the collector. A nil error makes
// the client acknowledge the update by echoing it back.
type ConfigHandler func(protocol.ConfigUpdate) error

// Client publishes fixes to a collector and reconnects with exponential backoff.
// While disconnected it holds the most recent fix and sends it first on reconnect.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	cancel   context.CancelFunc
	onConfig ConfigHandler
	pending  *tracker.Fix

	writeMu sync.Mutex

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	reconnects       atomic.Uint64
	fixesHeld        atomic.Uint64
	fixesSuperseded  atomic.Uint64
}

// NewClient creates a new uplink client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
	}
}

// OnConfigUpdate sets the handler for tuning updates pushed by the collector
func (c *Client) OnConfigUpdate(handler ConfigHandler) {
	c.mu.Lock()
	c.onConfig = handler
	c.mu.Unlock()
}

// Connect starts the connection loop in the background
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		cancel()
		return errors.New("uplink already started")
	}
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

// run dials, serves one session until it drops, and backs off between failures
func (c *Client) run(ctx context.Context) {
	backoff := c.cfg.ReconnectBackoff

	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("uplink connection failed",
				"error", err,
				"retry_in", backoff,
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}

			backoff = min(backoff*2, c.cfg.MaxBackoff)
			c.reconnects.Add(1)
			continue
		}

		backoff = c.cfg.ReconnectBackoff
		c.session(ctx, conn)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.logger.Info("connecting to collector", "url", c.cfg.URL)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

// session owns conn until it fails or ctx ends
func (c *Client) session(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	held := c.pending
	c.pending = nil
	c.mu.Unlock()

	// Unblocks ReadMessage when the client is cancelled
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer c.detach(conn)

	c.logger.Info("connected to collector")

	if held != nil {
		if err := c.SendFix(*held); err != nil {
			c.logger.Debug("held fix not delivered", "error", err)
		}
	}

	sessionCtx, endSession := context.WithCancel(ctx)
	defer endSession()
	go c.keepalive(sessionCtx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("collector connection lost", "error", err)
			}
			return
		}

		c.messagesReceived.Add(1)
		c.handleMessage(data)
	}
}

// detach clears conn if it is still the active connection
func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.logger.Warn("parse message error", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeConfig:
		c.mu.Lock()
		handler := c.onConfig
		c.mu.Unlock()
		if handler == nil {
			return
		}

		update, err := msg.GetConfigUpdate()
		if err != nil {
			c.logger.Warn("invalid config update", "error", err)
			return
		}
		if err := handler(*update); err != nil {
			c.logger.Warn("rejected config update", "error", err)
			return
		}

		ack, err := protocol.NewMessage(protocol.TypeConfig, update)
		if err == nil {
			c.SendMessage(ack)
		}

	case protocol.TypePing:
		pong, err := protocol.NewMessage(protocol.TypePong, time.Now().Unix())
		if err == nil {
			c.SendMessage(pong)
		}
	}
}

// SendMessage writes msg on the active connection
func (c *Client) SendMessage(msg *protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Warn("send error", "error", err)
		c.detach(conn)
		return fmt.Errorf("write: %w", err)
	}

	c.messagesSent.Add(1)
	return nil
}

// SendFix publishes a fix. Without a connection the fix replaces any held one
// and ErrNotConnected is returned.
func (c *Client) SendFix(fix tracker.Fix) error {
	msg, err := protocol.NewFixMessage(fix)
	if err != nil {
		return err
	}

	err = c.SendMessage(msg)
	if errors.Is(err, ErrNotConnected) {
		c.hold(fix)
	}
	return err
}

func (c *Client) hold(fix tracker.Fix) {
	c.mu.Lock()
	if c.pending != nil {
		c.fixesSuperseded.Add(1)
	}
	c.pending = &fix
	c.mu.Unlock()

	c.fixesHeld.Add(1)
}

// Forward publishes every fix from ch until ctx ends or ch closes
func (c *Client) Forward(ctx context.Context, ch <-chan tracker.Fix) {
	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-ch:
			if !ok {
				return
			}
			if err := c.SendFix(fix); err != nil && !errors.Is(err, ErrNotConnected) {
				c.logger.Debug("forward fix failed", "error", err)
			}
		}
	}
}

// Close stops reconnecting and drops the active connection
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	return nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// HasPending reports whether a fix is waiting for the next connection
func (c *Client) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Stats returns client statistics
type Stats struct {
	Connected        bool   `json:"connected"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	Reconnects       uint64 `json:"reconnects"`
	FixesHeld        uint64 `json:"fixes_held"`
	FixesSuperseded  uint64 `json:"fixes_superseded"`
}

// GetStats returns client statistics
func (c *Client) GetStats() Stats {
	return Stats{
		Connected:        c.IsConnected(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		Reconnects:       c.reconnects.Load(),
		FixesHeld:        c.fixesHeld.Load(),
		FixesSuperseded:  c.fixesSuperseded.Load(),
	}
}
