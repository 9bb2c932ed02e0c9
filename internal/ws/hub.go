package ws

import (
	"sync"

	"coderoom/internal/services/collab"

	"go.uber.org/zap"
)

// Hub routes outbound frames to connections. It implements collab.Fanout.
// Sends never block: a connection whose queue is full is dropped.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*clientConn
	rooms map[string]*room
}

var _ collab.Fanout = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*clientConn),
		rooms: make(map[string]*room),
	}
}

func (h *Hub) register(c *clientConn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

// unregister removes c everywhere and closes its queue. Safe to call twice.
func (h *Hub) unregister(c *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *clientConn) {
	if h.conns[c.id] != c {
		return
	}
	delete(h.conns, c.id)
	for id, r := range h.rooms {
		r.remove(c.id)
		if r.empty() {
			delete(h.rooms, id)
		}
	}
	close(c.send)
}

func (h *Hub) Subscribe(roomID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	r, ok := h.rooms[roomID]
	if !ok {
		r = newRoom()
		h.rooms[roomID] = r
	}
	r.add(c)
}

func (h *Hub) Unsubscribe(roomID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[roomID]; ok {
		r.remove(connID)
		if r.empty() {
			delete(h.rooms, roomID)
		}
	}
}

// ToRoom marshals once and queues the frame for every subscriber but except.
func (h *Hub) ToRoom(roomID, event string, body any, except string) {
	msg, err := encode(event, body)
	if err != nil {
		zap.L().Error("ws.encode", zap.String("event", event), zap.Error(err))
		return
	}

	var slow []*clientConn
	h.mu.RLock()
	if r, ok := h.rooms[roomID]; ok {
		for id, c := range r.conns {
			if id == except {
				continue
			}
			if !enqueue(c, msg) {
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()
	h.drop(slow)
}

func (h *Hub) ToConn(connID, event string, body any) {
	msg, err := encode(event, body)
	if err != nil {
		zap.L().Error("ws.encode", zap.String("event", event), zap.Error(err))
		return
	}

	var slow []*clientConn
	h.mu.RLock()
	if c, ok := h.conns[connID]; ok && !enqueue(c, msg) {
		slow = append(slow, c)
	}
	h.mu.RUnlock()
	h.drop(slow)
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) drop(slow []*clientConn) {
	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range slow {
		zap.L().Warn("ws.slow_consumer", zap.String("conn", c.id))
		h.dropLocked(c)
	}
}

// enqueue must run under Hub.mu so that send is not closed concurrently.
func enqueue(c *clientConn, msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}
