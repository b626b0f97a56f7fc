package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/signac/viewer/internal/backend"
	"github.com/signac/viewer/internal/metrics"
	"github.com/signac/viewer/internal/protocol"
)

// ErrClientMismatch is returned when a connection switches client ids.
var ErrClientMismatch = errors.New("client id does not match connection")

// HubConfig contains WebSocket endpoint settings.
type HubConfig struct {
	Service        *backend.Service
	Metrics        *metrics.Server
	AllowedOrigins []string // "*" allows any; requests without Origin are always allowed
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Logger         *slog.Logger
}

// Hub accepts viewer connections and routes their calls to the backend.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewHub creates a hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		cfg:    cfg,
		logger: logger.With("component", "hub"),
		conns:  make(map[*wsConn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 64 * 1024,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, origin)
}

// Connections returns the number of open sockets.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &wsConn{hub: h, ws: ws, logger: h.logger.With("remote", r.RemoteAddr), done: make(chan struct{})}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ws.Close()
		return
	}
	h.conns[c] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	defer h.wg.Done()
	c.serve(r.Context())
}

// Close disconnects every client and waits for their handlers to return.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway)
	}
	h.wg.Wait()
}

func (h *Hub) remove(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

type wsConn struct {
	hub    *Hub
	ws     *websocket.Conn
	logger *slog.Logger

	// gorilla/websocket allows one concurrent writer.
	writeMu   sync.Mutex
	client    *backend.Client
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) serve(ctx context.Context) {
	defer func() {
		if c.client != nil {
			c.hub.cfg.Service.Disconnect(c.client)
			c.logger.Info("client disconnected", "client_id", c.client.ID())
		}
		c.hub.remove(c)
		c.close(websocket.CloseNormalClosure)
	}()

	timeout := c.hub.cfg.ReadTimeout
	_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(timeout))
	})
	go c.keepAlive(c.logger)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(timeout))

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.writeError(0, "malformed frame: "+err.Error())
			continue
		}
		if env.Type != protocol.TypeCall {
			c.writeError(env.ID, "unexpected frame type "+env.Type)
			continue
		}
		c.dispatch(ctx, &env)
	}
}

func (c *wsConn) dispatch(ctx context.Context, env *protocol.Envelope) {
	err := c.bind(env.ClientID)
	if err == nil {
		err = c.client.Handle(ctx, env.Method, env.Args)
	}

	status := "ok"
	if err != nil {
		status = "error"
		c.logger.Warn("call failed", "method", env.Method, "call_id", env.ID, "error", err)
		c.writeError(env.ID, err.Error())
	}
	if m := c.hub.cfg.Metrics; m != nil {
		m.CallsTotal.WithLabelValues(env.Method, status).Inc()
	}
}

// bind attaches the connection to backend state on its first call.
func (c *wsConn) bind(clientID string) error {
	if c.client != nil {
		if clientID != "" && clientID != c.client.ID() {
			return ErrClientMismatch
		}
		return nil
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}
	c.client = c.hub.cfg.Service.Connect(clientID, c.push)
	c.logger = c.logger.With("client_id", clientID)
	c.logger.Info("client connected")
	return nil
}

func (c *wsConn) push(event string, payload any) error {
	env, err := protocol.NewEvent(event, payload)
	if err != nil {
		return err
	}
	return c.writeJSON(env)
}

func (c *wsConn) writeError(id uint64, msg string) {
	if err := c.writeJSON(&protocol.Envelope{Type: protocol.TypeError, ID: id, Error: msg}); err != nil {
		c.logger.Debug("error frame not delivered", "error", err)
	}
}

func (c *wsConn) writeJSON(env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) keepAlive(logger *slog.Logger) {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *wsConn) close(code int) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.ws.Close()
	})
}
