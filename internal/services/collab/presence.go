package collab

import "time"

// Member is one identity's presence inside an active room. It survives
// disconnects until the room is evicted.
type Member struct {
	Identity     string
	ConnID       string
	Name         string
	Online       bool
	Cursor       *[2]float64
	Selection    Selection
	Color        string
	LastActivity time.Time
}

type MemberView struct {
	Identity     string    `json:"identity"`
	Username     string    `json:"username,omitempty"`
	Online       bool      `json:"online"`
	UserColor    string    `json:"userColor"`
	LastActivity time.Time `json:"lastActivity"`
}

type CursorView struct {
	Identity  string     `json:"identity"`
	Position  [2]float64 `json:"position"`
	UserColor string     `json:"userColor"`
	Username  string     `json:"username,omitempty"`
}

// presence keeps members in join order with an identity index.
type presence struct {
	members []*Member
	byID    map[string]*Member
}

func newPresence() presence {
	return presence{byID: make(map[string]*Member)}
}

// join marks identity online on connID. A known identity is updated in place;
// the name is only replaced when one is supplied.
func (p *presence) join(identity, connID string, name *string, now time.Time) *Member {
	m, ok := p.byID[identity]
	if !ok {
		m = &Member{Identity: identity, Color: ColorFor(identity)}
		p.members = append(p.members, m)
		p.byID[identity] = m
	}
	m.ConnID = connID
	m.Online = true
	m.LastActivity = now
	if name != nil && *name != "" {
		m.Name = *name
	}
	return m
}

func (p *presence) get(identity string) *Member { return p.byID[identity] }

// byConn finds the member currently bound to connID.
func (p *presence) byConn(connID string) *Member {
	for _, m := range p.members {
		if m.ConnID == connID {
			return m
		}
	}
	return nil
}

func (p *presence) online() int {
	n := 0
	for _, m := range p.members {
		if m.Online {
			n++
		}
	}
	return n
}

func (p *presence) views() []MemberView {
	out := make([]MemberView, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, MemberView{
			Identity:     m.Identity,
			Username:     m.Name,
			Online:       m.Online,
			UserColor:    m.Color,
			LastActivity: m.LastActivity,
		})
	}
	return out
}

func (p *presence) cursors() []CursorView {
	out := []CursorView{}
	for _, m := range p.members {
		if m.Online && m.Cursor != nil {
			out = append(out, CursorView{Identity: m.Identity, Position: *m.Cursor, UserColor: m.Color, Username: m.Name})
		}
	}
	return out
}

func (p *presence) selections() []SelectionView {
	out := []SelectionView{}
	for _, m := range p.members {
		if m.Online && m.Selection.IsSet() {
			out = append(out, viewSelection(m))
		}
	}
	return out
}
