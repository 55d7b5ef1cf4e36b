package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-mlat/internal/protocol"
	"github.com/teslashibe/go-mlat/internal/tracker"
)

// wsClient serializes writes to one connection
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages WebSocket connections and broadcasts position fixes
type WSHub struct {
	tracker *tracker.Tracker
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*wsClient

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(trk *tracker.Tracker, logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}

	return &WSHub{
		tracker: trk,
		logger:  logger,
		clients: make(map[*websocket.Conn]*wsClient),
		done:    make(chan struct{}),
	}
}

// Run forwards every tracker fix to connected clients until ctx is done
// or the tracker stops
func (h *WSHub) Run(ctx context.Context) {
	h.mu.Lock()
	ctx, h.cancel = context.WithCancel(ctx)
	h.mu.Unlock()
	defer close(h.done)

	if h.tracker == nil {
		<-ctx.Done()
		return
	}

	fixes := h.tracker.Subscribe()
	defer h.tracker.Unsubscribe(fixes)

	lastValid := false

	h.logger.Info("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case fix, ok := <-fixes:
			if !ok {
				h.logger.Info("websocket hub stopped", "reason", "tracker closed")
				return
			}

			msg, err := protocol.NewFixMessage(fix)
			if err != nil {
				h.logger.Warn("websocket marshal error", "error", err)
				continue
			}
			h.broadcast(msg)

			if fix.Valid != lastValid {
				h.logger.Debug("fix state change",
					"valid", fix.Valid,
					"position", fix.Smoothed.String(),
					"error", fix.Error,
				)
				lastValid = fix.Valid
			}
		}
	}
}

func (h *WSHub) broadcast(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if err := client.write(data); err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	// Middleware to check if request is a WebSocket upgrade
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the position stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	client := &wsClient{conn: c}

	h.mu.Lock()
	h.clients[c] = client
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	// Keep connection alive, read for close or commands
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			// Connection closed
			break
		}

		h.handleCommand(client, msg)
	}
}

func (h *WSHub) handleCommand(client *wsClient, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return
	}

	var reply *protocol.Message

	switch msg.Type {
	case protocol.TypePing:
		reply, err = protocol.NewMessage(protocol.TypePong, time.Now().Unix())
	case protocol.TypeGetStats:
		if h.tracker == nil {
			return
		}
		reply, err = protocol.NewMessage(protocol.TypeStats, h.tracker.Stats())
	case protocol.TypeConfig:
		if h.tracker == nil {
			return
		}
		update, perr := msg.GetConfigUpdate()
		if perr != nil {
			h.logger.Warn("invalid config command", "error", perr)
			return
		}
		if aerr := update.Apply(h.tracker); aerr != nil {
			h.logger.Warn("rejected config command", "error", aerr)
			return
		}
		trim, alpha := h.tracker.Options().TrimFraction, h.tracker.EMAAlpha()
		reply, err = protocol.NewMessage(protocol.TypeConfig, protocol.ConfigUpdate{
			TrimFraction: &trim,
			EMAAlpha:     &alpha,
		})
	default:
		return
	}

	if err != nil {
		h.logger.Warn("websocket reply error", "error", err)
		return
	}

	out, err := reply.Bytes()
	if err != nil {
		return
	}
	if err := client.write(out); err != nil {
		h.logger.Debug("websocket write error", "error", err)
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	h.mu.RLock()
	cancel := h.cancel
	h.mu.RUnlock()

	if cancel != nil {
		cancel()
		<-h.done
	}

	// Close all client connections
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*wsClient)
	h.mu.Unlock()
}
