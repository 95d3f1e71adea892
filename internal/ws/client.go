package ws

import (
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Client represents a websocket subscriber to a team's event stream.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger
	done chan struct{}
}

// NewClient wraps an upgraded connection. It starts a read drain so client
// close frames are noticed; Done is closed when the peer goes away.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	c := &Client{conn: conn, log: logger, done: make(chan struct{})}
	go c.drain()
	return c
}

// Done is closed once the peer disconnects.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send writes an event frame to the websocket connection.
func (c *Client) Send(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}

// drain discards inbound frames; subscribers never send us data, but reading
// is what surfaces close frames and dead peers.
func (c *Client) drain() {
	defer close(c.done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
