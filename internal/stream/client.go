// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adiadia/agent-observability/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultQueueDepth   = 256
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second

	// maxInboundMessageBytes bounds what a dashboard may send; inbound
	// messages are read and discarded.
	maxInboundMessageBytes = 64 << 10
)

var (
	ErrConnectionClosed = errors.New("stream connection closed")
	ErrQueueFull        = errors.New("stream send queue full")
)

// Conn is the subset of *websocket.Conn used by a Client.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type ClientOptions struct {
	QueueDepth   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	Logger       *slog.Logger
}

type outbound struct {
	kind string
	data []byte
}

// Client is one live-stream connection. Messages are queued without
// blocking and written in FIFO order by a single writer goroutine.
type Client struct {
	id           string
	conn         Conn
	send         chan outbound
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
}

func NewClient(conn Conn, opts ClientOptions) *Client {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	id := uuid.NewString()
	return &Client{
		id:           id,
		conn:         conn,
		send:         make(chan outbound, opts.QueueDepth),
		done:         make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		logger:       opts.Logger.With("client_id", id),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Enqueue queues one serialized message without blocking.
func (c *Client) Enqueue(kind string, data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- outbound{kind: kind, data: data}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close sends a close frame and closes the socket. Safe to call more than
// once and from any goroutine.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeConn(code, reason)
	})
}

// Drop marks the client closed and returns at once. The close frame and
// socket close happen on another goroutine, since a stalled writer holds the
// connection's write lock until its deadline.
func (c *Client) Drop(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		go c.closeConn(code, reason)
	})
}

func (c *Client) closeConn(code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.conn.Close()
}

// Run starts the writer and reads from the peer until the connection ends.
// Inbound messages are discarded.
func (c *Client) Run() {
	go c.writeLoop()
	c.readLoop()
	c.Close(websocket.CloseNormalClosure, "")
}

func (c *Client) readLoop() {
	readWait := c.pingInterval + c.writeTimeout

	c.conn.SetReadLimit(maxInboundMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Debug("stream read ended", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				c.logger.Warn("stream write failed", "type", msg.kind, "error", err)
				metrics.IncStreamClientsDropped(metrics.DropWriteFailed)
				c.Close(websocket.CloseGoingAway, "write failed")
				return
			}
			metrics.IncStreamMessagesSent(msg.kind)
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug("stream ping failed", "error", err)
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}
