package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameSize   = 1 << 20 // 1MB
	sendBufferSize = 256
)

// Client is one live websocket session. userID is empty for anonymous
// connections. rooms is owned by the Hub and only touched under its lock.
type Client struct {
	id     string
	gw     *Gateway
	conn   *websocket.Conn
	send   chan []byte
	userID string
	rooms  map[string]struct{}

	// sendMu serializes sends against the close of the send channel: a
	// broadcast can resolve this client as a target and deliver after a
	// concurrent Unregister has already torn it down.
	sendMu sync.Mutex
	closed bool
}

func newClient(id string, gw *Gateway, conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:     id,
		gw:     gw,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
		rooms:  make(map[string]struct{}),
	}
}

// trySend queues a payload without blocking; false means the buffer is full
// and the client should be dropped, or the client is already closed.
func (c *Client) trySend(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump processes inbound events strictly one at a time in arrival order
// for this connection; concurrency exists only across connections.
func (c *Client) readPump() {
	defer func() {
		c.gw.hub.Unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.gw.dispatch(c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
