package server

import "sync"

// wsConn is the slice of a gorilla connection the client wrapper uses.
type wsConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// client is one authenticated websocket connection bound to a player
// identity. Writes are serialized; gorilla connections do not allow
// concurrent writers.
type client struct {
	playerId string
	conn     wsConn

	mu sync.Mutex
}

func newClient(conn wsConn, playerId string) *client {
	return &client{
		playerId: playerId,
		conn:     conn,
	}
}

func (c *client) writeJSON(msg interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.WriteJSON(msg)
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}
