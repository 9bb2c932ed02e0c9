package collab

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"coderoom/internal/services/rooms"
)

// memStore is an in-memory rooms.IRoomService.
type memStore struct {
	mu      sync.Mutex
	rooms   map[string]*rooms.Room
	states  map[string]*rooms.RoomState
	names   map[string]string
	saves   []string
	resets  int
	saveErr error
	gets    int
}

var _ rooms.IRoomService = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		rooms:  make(map[string]*rooms.Room),
		states: make(map[string]*rooms.RoomState),
		names:  make(map[string]string),
	}
}

func (s *memStore) put(r rooms.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Students == nil {
		r.Students = []string{}
	}
	s.rooms[r.ID] = &r
}

func (s *memStore) room(id string) rooms.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *s.rooms[id]
	r.Students = append([]string(nil), r.Students...)
	return r
}

func (s *memStore) state(id string) rooms.RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[id]; ok {
		return *st
	}
	return rooms.RoomState{}
}

func (s *memStore) savedSnapshots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.saves...)
}

func (s *memStore) stateLocked(id string) *rooms.RoomState {
	st, ok := s.states[id]
	if !ok {
		st = &rooms.RoomState{}
		s.states[id] = st
	}
	return st
}

func (s *memStore) Create(_ context.Context, teacher string) (*rooms.Room, error) {
	s.mu.Lock()
	id := "room-" + strconv.Itoa(len(s.rooms)+1)
	s.mu.Unlock()
	r := rooms.Room{ID: id, Teacher: teacher, StudentCursorEnabled: true, StudentSelectionEnabled: true,
		StudentEditCodeEnabled: true, Language: rooms.DefaultLanguage, CreatedAt: time.Now()}
	s.put(r)
	out := s.room(id)
	return &out, nil
}

func (s *memStore) Get(_ context.Context, id string) (*rooms.Room, error) {
	s.mu.Lock()
	s.gets++
	_, ok := s.rooms[id]
	s.mu.Unlock()
	if !ok {
		return nil, rooms.ErrRoomNotFound
	}
	r := s.room(id)
	return &r, nil
}

func (s *memStore) Update(ctx context.Context, id string, edit rooms.RoomEdit) (*rooms.Room, error) {
	s.mu.Lock()
	r, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return nil, rooms.ErrRoomNotFound
	}
	if edit.StudentCursorEnabled != nil {
		r.StudentCursorEnabled = *edit.StudentCursorEnabled
	}
	if edit.StudentSelectionEnabled != nil {
		r.StudentSelectionEnabled = *edit.StudentSelectionEnabled
	}
	if edit.StudentEditCodeEnabled != nil {
		r.StudentEditCodeEnabled = *edit.StudentEditCodeEnabled
	}
	if edit.TaskID != nil {
		r.TaskID = *edit.TaskID
	}
	if edit.Language != nil {
		r.Language = *edit.Language
	}
	s.mu.Unlock()
	return s.Get(ctx, id)
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return rooms.ErrRoomNotFound
	}
	delete(s.rooms, id)
	delete(s.states, id)
	return nil
}

func (s *memStore) List(_ context.Context, identity string, page, limit int) (*rooms.RoomPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &rooms.RoomPage{Rooms: []rooms.Room{}}
	for _, r := range s.rooms {
		if r.IsMember(identity) {
			out.Rooms = append(out.Rooms, *r)
		}
	}
	out.Total = len(out.Rooms)
	return out, nil
}

func (s *memStore) Complete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return rooms.ErrRoomNotFound
	}
	r.Completed = true
	return nil
}

func (s *memStore) AppendStudent(_ context.Context, id, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return rooms.ErrRoomNotFound
	}
	if !r.IsMember(identity) {
		r.Students = append(r.Students, identity)
	}
	return nil
}

func (s *memStore) GetSnapshot(_ context.Context, id string) (*rooms.RoomState, error) {
	st := s.state(id)
	return &st, nil
}

func (s *memStore) SaveSnapshot(_ context.Context, id, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, code)
	if s.saveErr != nil {
		return s.saveErr
	}
	s.stateLocked(id).LastCode = code
	return nil
}

func (s *memStore) IncrementParticipants(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(id)
	st.ParticipantCount++
	return st.ParticipantCount, nil
}

func (s *memStore) DecrementParticipants(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(id)
	if st.ParticipantCount > 0 {
		st.ParticipantCount--
	}
	return st.ParticipantCount, nil
}

func (s *memStore) ResetParticipants(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.stateLocked(id).ParticipantCount = 0
	return nil
}

func (s *memStore) UpsertMember(_ context.Context, roomID, identity, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roomID + "|" + identity
	if _, ok := s.names[key]; !ok || username != "" {
		s.names[key] = username
	}
	return nil
}

func (s *memStore) UpdateMemberName(_ context.Context, roomID, identity, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[roomID+"|"+identity] = username
	return nil
}

func (s *memStore) name(roomID, identity string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[roomID+"|"+identity]
}

type sent struct {
	conn  string
	event string
	body  any
}

// recFanout records every delivery per connection.
type recFanout struct {
	mu   sync.Mutex
	subs map[string]map[string]bool
	out  []sent
}

var _ Fanout = (*recFanout)(nil)

func newRecFanout() *recFanout {
	return &recFanout{subs: make(map[string]map[string]bool)}
}

func (f *recFanout) Subscribe(roomID, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[roomID] == nil {
		f.subs[roomID] = make(map[string]bool)
	}
	f.subs[roomID][connID] = true
}

func (f *recFanout) Unsubscribe(roomID, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[roomID], connID)
}

func (f *recFanout) ToRoom(roomID, event string, body any, except string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.subs[roomID] {
		if conn != except {
			f.out = append(f.out, sent{conn: conn, event: event, body: body})
		}
	}
}

func (f *recFanout) ToConn(connID, event string, body any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{conn: connID, event: event, body: body})
}

// events returns the event names delivered to conn, in order.
func (f *recFanout) events(conn string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, s := range f.out {
		if s.conn == conn {
			names = append(names, s.event)
		}
	}
	return names
}

// last returns the body of the latest event delivered to conn.
func (f *recFanout) last(conn, event string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.out) - 1; i >= 0; i-- {
		if f.out[i].conn == conn && f.out[i].event == event {
			return f.out[i].body, true
		}
	}
	return nil, false
}

func (f *recFanout) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.out {
		if s.event == event {
			n++
		}
	}
	return n
}

func (f *recFanout) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = nil
}

// fakeIDs treats tokens as identities; "bad" fails and "" mints guests.
type fakeIDs struct {
	mu     sync.Mutex
	guests int
}

func (f *fakeIDs) Resolve(token string) (string, error) {
	if token == "" {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.guests++
		return "i" + strconv.Itoa(f.guests), nil
	}
	return f.ResolveExisting(token)
}

func (f *fakeIDs) ResolveExisting(token string) (string, error) {
	if token == "" || token == "bad" {
		return "", errors.New("invalid token")
	}
	return token, nil
}
