package ws

import (
	"sync"

	"github.com/gamedeck/panel/backend/internal/terminal"
)

// Directory maps transport identifiers to live connections. Sessions hold
// only the identifier; the directory is the single owner of connection
// lifecycles, which is what makes a session's transport reference weak.
type Directory struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{conns: make(map[string]*Conn)}
}

// Lookup implements terminal.TransportDirectory.
func (d *Directory) Lookup(id string) (terminal.Transport, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conns[id]
	return c, ok
}

// Register adds a connection under its identifier.
func (d *Directory) Register(c *Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[c.ID] = c
}

// Unregister drops a connection. Sessions still holding the identifier
// simply fail their lookups afterwards.
func (d *Directory) Unregister(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conns, id)
}

// Count returns the number of live connections.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns)
}
