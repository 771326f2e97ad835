package ws

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/gamedeck/panel/backend/internal/terminal"
)

// Conn wraps one WebSocket connection. gorilla/websocket allows a single
// concurrent writer, so all sends serialize through the mutex.
type Conn struct {
	ID string

	mu sync.Mutex
	ws *websocket.Conn
}

// NewConn wraps a websocket connection under the given transport id.
func NewConn(id string, ws *websocket.Conn) *Conn {
	return &Conn{ID: id, ws: ws}
}

// Send implements terminal.Transport.
func (c *Conn) Send(ev terminal.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(ev)
}

// sendRaw writes an arbitrary JSON payload (pong, transport-level errors).
func (c *Conn) sendRaw(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.ws.Close()
}
