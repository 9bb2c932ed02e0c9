package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(c *clientConn) []Envelope {
	var out []Envelope
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			if err := json.Unmarshal(msg, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func newTestHub(ids ...string) (*Hub, map[string]*clientConn) {
	h := NewHub()
	conns := make(map[string]*clientConn, len(ids))
	for _, id := range ids {
		c := newClientConn(id, nil)
		h.register(c)
		conns[id] = c
	}
	return h, conns
}

func TestHubToRoomSkipsSender(t *testing.T) {
	h, c := newTestHub("a", "b", "other")
	h.Subscribe("R", "a")
	h.Subscribe("R", "b")
	h.Subscribe("R2", "other")

	h.ToRoom("R", "cursor-action", map[string]int{"x": 1}, "a")

	assert.Empty(t, drain(c["a"]))
	assert.Empty(t, drain(c["other"]))
	got := drain(c["b"])
	require.Len(t, got, 1)
	assert.Equal(t, "cursor-action", got[0].Event)
	assert.JSONEq(t, `{"x":1}`, string(got[0].Body))
}

func TestHubToConnAndUnsubscribe(t *testing.T) {
	h, c := newTestHub("a", "b")
	h.Subscribe("R", "a")
	h.Subscribe("R", "b")
	h.Unsubscribe("R", "b")

	h.ToRoom("R", "members-updated", struct{}{}, "")
	h.ToConn("b", "joined", struct{}{})
	h.ToConn("missing", "joined", struct{}{})

	assert.Len(t, drain(c["a"]), 1)
	got := drain(c["b"])
	require.Len(t, got, 1)
	assert.Equal(t, "joined", got[0].Event)
}

func TestHubDropsSlowConsumer(t *testing.T) {
	h, c := newTestHub("slow", "fast")
	h.Subscribe("R", "slow")
	h.Subscribe("R", "fast")

	for i := 0; i < sendQueue; i++ {
		h.ToConn("slow", "code-edit-action", i)
	}
	h.ToRoom("R", "code-edit-action", "overflow", "")

	assert.Equal(t, 1, h.Count())
	assert.Len(t, drain(c["fast"]), 1)
	assert.Len(t, drain(c["slow"]), sendQueue)
	_, ok := <-c["slow"].send
	assert.False(t, ok, "queue of a dropped connection is closed")

	// later sends and a second unregister are no-ops
	h.ToConn("slow", "joined", nil)
	h.unregister(c["slow"])
}

func TestHubUnregisterCleansRooms(t *testing.T) {
	h, c := newTestHub("a")
	h.Subscribe("R", "a")
	h.Subscribe("R2", "a")
	h.unregister(c["a"])

	assert.Zero(t, h.Count())
	assert.Empty(t, h.rooms)
	h.Subscribe("R", "a")
	assert.Empty(t, h.rooms)
}
