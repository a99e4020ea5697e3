// ABOUTME: Wraps a single websocket connection with a buffered outbound queue.
// ABOUTME: A dedicated writer pump is the only goroutine touching the socket.

package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrSendBufferFull indicates the connection's outbound queue is full.
var ErrSendBufferFull = errors.New("send buffer full")

// ErrConnClosed indicates the connection has been closed.
var ErrConnClosed = errors.New("connection closed")

const (
	sendBufferSize = 64
	writeTimeout   = 10 * time.Second
	pingInterval   = 20 * time.Second
)

// Socket is the subset of *websocket.Conn the transport layer relies on.
// Tests substitute an in-memory implementation.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Conn is a registered duplex channel handle. The registry owns it for its
// lifetime; producers enqueue frames and the writer pump serializes all
// socket writes.
type Conn struct {
	ID  string
	Key string

	ws     Socket
	send   chan []byte
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps an upgraded websocket under the given channel key and
// starts its writer pump.
func NewConn(key string, ws Socket, logger *slog.Logger) *Conn {
	c := &Conn{
		ID:     uuid.New().String(),
		Key:    key,
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		logger: logger.With("channel", key),
		closed: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Enqueue queues a raw frame for delivery. It never blocks: a full buffer
// returns ErrSendBufferFull so the registry can prune the slow handle.
func (c *Conn) Enqueue(data []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// EnqueueJSON marshals v and queues it.
func (c *Conn) EnqueueJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Enqueue(data)
}

// writePump drains the send queue onto the socket and keeps the peer alive
// with periodic pings. It exits when the connection closes.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed, closing connection", "conn_id", c.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadMessage blocks on the next inbound frame. Only one reader per
// connection may call this.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// SetReadDeadline bounds the next read.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// SetPongHandler installs the pong callback used to extend read deadlines.
func (c *Conn) SetPongHandler(h func(string) error) {
	c.ws.SetPongHandler(h)
}

// Close tears down the connection. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// Closed reports whether the connection has been torn down.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
