package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// Clients only send control frames.
	maxMessageSize = 4 * 1024

	// sendBuffer is how many messages a client may lag behind before the
	// hub drops it.
	sendBuffer = 256
)

// Client is one websocket connection fed by a Hub.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan Message
	writeDone chan struct{}
}

// NewClient registers conn with hub. It returns nil once the hub has stopped.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan Message, sendBuffer),
		writeDone: make(chan struct{}),
	}
	select {
	case hub.register <- c:
		return c
	case <-hub.done:
		return nil
	}
}

// Run pumps messages to the connection and blocks until it closes and the
// writer has exited. Call it from the websocket handler: the connection is
// recycled once the handler returns, so nothing may touch it after Run.
func (c *Client) Run() {
	go c.write()
	c.read()
	<-c.writeDone
}

// read discards client frames and keeps the read deadline moving with pongs.
// It returns when the peer goes away.
func (c *Client) read() {
	defer c.leave()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
	c.conn.Close()
}

// write is the only goroutine writing to the connection.
func (c *Client) write() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(frameType(msg.Type), msg.Data); err != nil {
				return
			}

		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func frameType(t MessageType) int {
	if t == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
