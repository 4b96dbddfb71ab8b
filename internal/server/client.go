package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	sendChSize     = 1024
	maxMessageSize = 64 * 1024
)

// client owns one browser WebSocket. All writes go through a single write
// goroutine; reads are driven by the session.
type client struct {
	id   string
	conn *ws.Conn

	sendCh chan []byte
	done   chan struct{} // closed on shutdown

	mu     sync.Mutex
	closed bool

	writeWait time.Duration
	logger    *slog.Logger
}

func newClient(id string, conn *ws.Conn, writeWait time.Duration, logger *slog.Logger) *client {
	conn.SetReadLimit(maxMessageSize)
	return &client{
		id:        id,
		conn:      conn,
		sendCh:    make(chan []byte, sendChSize),
		done:      make(chan struct{}),
		writeWait: writeWait,
		logger:    logger,
	}
}

// writeLoop drains sendCh and writes messages to the WebSocket until the
// client is closed or a write fails.
func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				_ = c.close()
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				_ = c.close()
				return
			}
		}
	}
}

// send pushes data to the write loop. Non-blocking; drops if channel full.
func (c *client) send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendCh <- data:
		return true
	default:
		c.logger.Warn("WebSocket send channel full, dropping message")
		return false
	}
}

// sendJSON encodes v and queues it.
func (c *client) sendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode message", "error", err)
		return false
	}
	return c.send(data)
}

// read blocks for the next text frame.
func (c *client) read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// close sends a close frame and stops the write loop. Safe to call twice.
func (c *client) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	_ = c.conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(c.writeWait),
	)
	return c.conn.Close()
}
