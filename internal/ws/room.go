package ws

// room is the set of connections subscribed to one room id. Guarded by Hub.mu.
type room struct {
	conns map[string]*clientConn
}

func newRoom() *room { return &room{conns: map[string]*clientConn{}} }

func (r *room) add(c *clientConn) { r.conns[c.id] = c }

func (r *room) remove(connID string) { delete(r.conns, connID) }

func (r *room) empty() bool { return len(r.conns) == 0 }
