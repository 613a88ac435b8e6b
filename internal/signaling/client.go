package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/peerwire/peerwire/internal/util"
)

// Client is one endpoint's connection to the rendezvous server.
type Client struct {
	selfID string

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu        sync.Mutex
	onMessage func(Message)
	onClosed  func(error)

	closeOnce sync.Once
}

// Dial connects to the rendezvous server and registers selfID. The
// read loop starts immediately; register handlers before the first
// peer is expected to signal.
func Dial(ctx context.Context, url, selfID string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rendezvous server: %w", err)
	}

	c := &Client{selfID: selfID, conn: conn}
	if err := c.Send(Message{Type: MsgTypeRegister, From: selfID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to register %s: %w", selfID, err)
	}

	go c.readLoop()
	return c, nil
}

// OnMessage registers the handler for relayed messages.
func (c *Client) OnMessage(fn func(Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnClosed registers the handler invoked once when the rendezvous link drops.
func (c *Client) OnClosed(fn func(error)) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// Send writes one message. Safe for concurrent use.
func (c *Client) Send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Close drops the rendezvous connection. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { c.conn.Close() })
}

func (c *Client) readLoop() {
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			fn := c.onClosed
			c.mu.Unlock()
			if fn != nil {
				fn(err)
			}
			return
		}

		if msg.Type == MsgTypeError {
			util.LogWarning("rendezvous: %s", msg.Reason)
		}

		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
	}
}
