package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/signac/viewer/internal/protocol"
)

// Config contains client configuration.
type Config struct {
	URL          string
	ClientID     string // empty = random UUID
	WriteTimeout time.Duration
	QueueSize    int
	// OnEvent receives every decoded server event on the read goroutine.
	OnEvent func(protocol.Event)
	Dialer  *websocket.Dialer
	Logger  *slog.Logger
}

// Client is a WebSocket connection to the render server.
type Client struct {
	id      string
	conn    *websocket.Conn
	onEvent func(protocol.Event)
	logger  *slog.Logger
	timeout time.Duration

	nextID   atomic.Uint64
	queue    chan outgoing
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type outgoing struct {
	env  *protocol.Envelope
	call *Call
}

// Dial connects to the server and starts the read and write goroutines.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 45 * time.Second}
	}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	return NewClient(conn, cfg), nil
}

// NewClient wraps an established connection.
func NewClient(conn *websocket.Conn, cfg Config) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		id:      cfg.ClientID,
		conn:    conn,
		onEvent: cfg.OnEvent,
		logger:  logger.With("component", "rpc", "client_id", cfg.ClientID),
		timeout: cfg.WriteTimeout,
		queue:   make(chan outgoing, cfg.QueueSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	go func() {
		c.wg.Wait()
		close(c.doneCh)
	}()
	return c
}

// ID returns the client id stamped on every call.
func (c *Client) ID() string {
	return c.id
}

// Done is closed once the connection has been torn down.
func (c *Client) Done() <-chan struct{} {
	return c.doneCh
}

// Go queues a call and returns at once. A call that finds the write queue
// full completes with ErrQueueFull.
func (c *Client) Go(ctx context.Context, method string, args any) *Call {
	call := NewCall(method, args)

	env, err := protocol.NewCall(c.nextID.Add(1), c.id, method, args)
	if err != nil {
		call.Complete(err)
		return call
	}

	select {
	case <-c.stopCh:
		call.Complete(ErrClosed)
	case <-ctx.Done():
		call.Complete(ctx.Err())
	case c.queue <- outgoing{env: env, call: call}:
		// Lost a race with Close: nobody will write it.
		select {
		case <-c.stopCh:
			c.drain()
		default:
		}
	default:
		call.Complete(ErrQueueFull)
	}
	return call
}

// Close shuts the connection down. Pending calls complete with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopCh)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			c.drain()
			return
		case out := <-c.queue:
			select {
			case <-c.stopCh:
				out.call.Complete(ErrClosed)
				c.drain()
				return
			default:
			}
			data, err := json.Marshal(out.env)
			if err == nil {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
				err = c.conn.WriteMessage(websocket.TextMessage, data)
			}
			out.call.Complete(err)
			if err != nil {
				c.logger.Warn("write failed", "method", out.env.Method, "error", err)
				c.Close()
				c.drain()
				return
			}
		}
	}
}

func (c *Client) drain() {
	for {
		select {
		case out := <-c.queue:
			out.call.Complete(ErrClosed)
		default:
			return
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.Close()
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
			default:
				c.logger.Warn("read failed", "error", err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warn("malformed frame", "error", err)
			continue
		}

		switch env.Type {
		case protocol.TypeEvent:
			ev, err := protocol.DecodeEvent(&env)
			if err != nil {
				c.logger.Warn("dropping event", "event", env.Event, "error", err)
				continue
			}
			if c.onEvent != nil {
				c.onEvent(ev)
			}
		case protocol.TypeError:
			c.logger.Warn("server rejected call", "call_id", env.ID, "error", env.Error)
		default:
			c.logger.Warn("unexpected frame", "type", env.Type)
		}
	}
}
