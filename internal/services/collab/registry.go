package collab

import (
	"context"
	"sync"
	"time"

	"coderoom/internal/services/rooms"

	"golang.org/x/sync/singleflight"
)

type Permissions struct {
	StudentCursorEnabled    bool `json:"studentCursorEnabled"`
	StudentSelectionEnabled bool `json:"studentSelectionEnabled"`
	StudentEditCodeEnabled  bool `json:"studentEditCodeEnabled"`
}

func permissionsOf(r *rooms.Room) Permissions {
	return Permissions{
		StudentCursorEnabled:    r.StudentCursorEnabled,
		StudentSelectionEnabled: r.StudentSelectionEnabled,
		StudentEditCodeEnabled:  r.StudentEditCodeEnabled,
	}
}

// ActiveRoom is the in-memory projection of a room while it has connected
// members. Every field is guarded by mu.
type ActiveRoom struct {
	ID string

	mu        sync.Mutex
	teacher   string
	perms     Permissions
	completed bool
	presence  presence
	doc       Document
	newDoc    DocumentFactory
	// fresh is true until the first join after hydration.
	fresh bool
	// closed is set on eviction; holders must re-resolve through the registry.
	closed bool
}

func newActiveRoom(r *rooms.Room, newDoc DocumentFactory) *ActiveRoom {
	return &ActiveRoom{
		ID:        r.ID,
		teacher:   r.Teacher,
		perms:     permissionsOf(r),
		completed: r.Completed,
		presence:  newPresence(),
		newDoc:    newDoc,
		fresh:     true,
	}
}

func (ar *ActiveRoom) document() Document {
	if ar.doc == nil {
		ar.doc = ar.newDoc(ar.ID)
	}
	return ar.doc
}

func (ar *ActiveRoom) policy() roomPolicy {
	return roomPolicy{teacher: ar.teacher, perms: ar.perms, completed: ar.completed}
}

// hydrateTimeout bounds the shared store read behind EnsureActive.
const hydrateTimeout = 5 * time.Second

// Registry owns every ActiveRoom of this process.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*ActiveRoom
	group  singleflight.Group
	store  rooms.IRoomService
	newDoc DocumentFactory
}

func NewRegistry(store rooms.IRoomService, newDoc DocumentFactory) *Registry {
	return &Registry{
		rooms:  make(map[string]*ActiveRoom),
		store:  store,
		newDoc: newDoc,
	}
}

// Get returns the active room without hydrating it.
func (r *Registry) Get(roomID string) *ActiveRoom {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomID]
}

// EnsureActive returns the active room, hydrating it from the store when
// needed. loaded may carry a room the caller already fetched. Concurrent
// hydrations of one id share a single store read, which is detached from
// the first caller's cancellation so it cannot fail the other waiters.
// rooms.ErrRoomNotFound is returned as is and nothing is created.
func (r *Registry) EnsureActive(ctx context.Context, roomID string, loaded *rooms.Room) (*ActiveRoom, error) {
	if ar := r.Get(roomID); ar != nil {
		return ar, nil
	}
	v, err, _ := r.group.Do(roomID, func() (any, error) {
		if ar := r.Get(roomID); ar != nil {
			return ar, nil
		}
		room := loaded
		if room == nil {
			hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hydrateTimeout)
			defer cancel()
			var err error
			if room, err = r.store.Get(hctx, roomID); err != nil {
				return nil, err
			}
		}
		ar := newActiveRoom(room, r.newDoc)

		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.rooms[roomID]; ok {
			return existing, nil
		}
		r.rooms[roomID] = ar
		return ar, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ActiveRoom), nil
}

// remove drops ar if it is still the registered entry. Caller holds ar.mu.
func (r *Registry) remove(ar *ActiveRoom) {
	ar.closed = true
	r.mu.Lock()
	if r.rooms[ar.ID] == ar {
		delete(r.rooms, ar.ID)
	}
	r.mu.Unlock()
}

// Count returns the number of active rooms.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Online returns the number of online members across all active rooms.
func (r *Registry) Online() int {
	r.mu.Lock()
	list := make([]*ActiveRoom, 0, len(r.rooms))
	for _, ar := range r.rooms {
		list = append(list, ar)
	}
	r.mu.Unlock()

	n := 0
	for _, ar := range list {
		ar.mu.Lock()
		if !ar.closed {
			n += ar.presence.online()
		}
		ar.mu.Unlock()
	}
	return n
}
