package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"coderoom/internal/services/rooms"

	"go.uber.org/zap"
)

// Document is the CRDT capability an active room edits through.
// Implementations must be safe for concurrent use.
type Document interface {
	Apply(update []byte) error
	EncodeState() []byte
	Text() string
}

type DocumentFactory func(roomID string) Document

// Fanout delivers events to connections. Implementations must not block.
type Fanout interface {
	Subscribe(roomID, connID string)
	Unsubscribe(roomID, connID string)
	// ToRoom sends to every connection subscribed to roomID except exceptConnID.
	ToRoom(roomID, event string, body any, exceptConnID string)
	ToConn(connID, event string, body any)
}

type Options struct {
	PersistDebounce          time.Duration
	SnapshotDeliveryDelay    time.Duration
	EchoPresenceToSender     bool
	ReportEditRoomRejections bool
	MaxUpdateBytes           int
	// StoreTimeout bounds every background store write.
	StoreTimeout time.Duration
	NewDocument  DocumentFactory
	Now          func() time.Time
}

func (o *Options) defaults() {
	if o.PersistDebounce <= 0 {
		o.PersistDebounce = time.Second
	}
	if o.SnapshotDeliveryDelay < 0 {
		o.SnapshotDeliveryDelay = 0
	}
	if o.MaxUpdateBytes <= 0 {
		o.MaxUpdateBytes = 1 << 20
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.NewDocument == nil {
		o.NewDocument = func(string) Document { return NewTextDocument() }
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine runs the room synchronization protocol for one process.
type Engine struct {
	store     rooms.IRoomService
	fanout    Fanout
	guard     guard
	registry  *Registry
	scheduler *Scheduler
	writes    writeQueue
	opts      Options
	wg        sync.WaitGroup
}

func NewEngine(store rooms.IRoomService, fanout Fanout, ids IdentityResolver, opts Options) *Engine {
	opts.defaults()
	return &Engine{
		store:     store,
		fanout:    fanout,
		guard:     guard{ids: ids},
		registry:  NewRegistry(store, opts.NewDocument),
		scheduler: NewScheduler(opts.PersistDebounce, opts.StoreTimeout, store.SaveSnapshot),
		opts:      opts,
	}
}

// Close flushes pending snapshots and waits for background writes.
func (e *Engine) Close() {
	e.scheduler.Stop()
	e.wg.Wait()
}

func (e *Engine) ActiveRooms() int   { return e.registry.Count() }
func (e *Engine) OnlineMembers() int { return e.registry.Online() }

// Join admits the session to a room. The room gets members-updated, then the
// session privately gets joined, the full document state and selection-state.
func (e *Engine) Join(ctx context.Context, s *Session, req JoinRequest) error {
	identity, err := e.guard.joinIdentity(s, req.Token)
	if err != nil {
		return err
	}

	room, err := e.store.Get(ctx, req.RoomID)
	if err != nil {
		return storeErr(err)
	}
	if !room.IsMember(identity) {
		if err := e.store.AppendStudent(ctx, room.ID, identity); err != nil {
			zap.L().Error("collab.append_student", zap.String("room", room.ID), zap.Error(err))
			return reject(ErrPersistence, "could not join the room, try again")
		}
		room.Students = append(room.Students, identity)
	}

	if s.RoomID != "" && s.RoomID != room.ID {
		e.Leave(ctx, s)
	}

	return e.withRoom(ctx, room.ID, room, func(ar *ActiveRoom) error {
		fresh := ar.fresh
		ar.fresh = false

		prev := ar.presence.get(identity)
		// an online member rejoining over another connection takes the
		// membership over; the old connection stops counting and receiving.
		counted := prev != nil && prev.Online
		if counted && prev.ConnID != s.ConnID {
			e.fanout.Unsubscribe(room.ID, prev.ConnID)
		}
		m := ar.presence.join(identity, s.ConnID, req.Name, e.opts.Now())
		s.Identity, s.RoomID = identity, room.ID
		e.fanout.Subscribe(room.ID, s.ConnID)

		name := m.Name
		e.async(room.ID, "join", func(ctx context.Context) error {
			if !counted {
				if _, err := e.store.IncrementParticipants(ctx, room.ID); err != nil {
					return err
				}
			}
			return e.store.UpsertMember(ctx, room.ID, identity, name)
		})

		e.fanout.ToRoom(room.ID, EventMembersUpdated, MembersUpdated{
			Members:  ar.presence.views(),
			Trigger:  TriggerJoin,
			Identity: identity,
		}, "")
		e.fanout.ToConn(s.ConnID, EventJoined, Joined{
			Identity:          identity,
			CurrentCursors:    ar.presence.cursors(),
			CurrentSelections: ar.presence.selections(),
			UserColor:         m.Color,
			IsTeacher:         identity == ar.teacher,
			RoomPermissions:   ar.perms,
			Completed:         ar.completed,
		})
		e.fanout.ToConn(s.ConnID, EventCodeEditAction, CodeEditAction{
			Update:  ar.document().EncodeState(),
			Initial: true,
		})
		e.fanout.ToConn(s.ConnID, EventSelectionState, SelectionState{
			Selections:  ar.presence.selections(),
			UpdatedUser: identity,
		})

		if fresh {
			e.deliverSnapshot(room.ID, s.ConnID)
		}
		zap.L().Debug("collab.joined", zap.String("room", room.ID), zap.String("identity", identity),
			zap.Bool("reconnect", prev != nil))
		return nil
	})
}

// deliverSnapshot sends the last persisted text to connID once the delivery
// delay has passed, giving the client time to apply the initial CRDT sync.
func (e *Engine) deliverSnapshot(roomID, connID string) {
	e.wg.Add(1)
	time.AfterFunc(e.opts.SnapshotDeliveryDelay, func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.StoreTimeout)
		defer cancel()
		st, err := e.store.GetSnapshot(ctx, roomID)
		if err != nil {
			zap.L().Warn("collab.snapshot_load", zap.String("room", roomID), zap.Error(err))
			return
		}
		if st.LastCode == "" {
			return
		}
		e.fanout.ToConn(connID, EventRoomStateLoaded, RoomStateLoaded{
			LastCode:         st.LastCode,
			ParticipantCount: st.ParticipantCount,
		})
	})
}

// Leave handles the session's transport going away (or switching rooms).
// The member only goes offline when it is still bound to this connection.
func (e *Engine) Leave(ctx context.Context, s *Session) {
	roomID := s.RoomID
	if roomID == "" {
		return
	}
	s.RoomID = ""
	e.fanout.Unsubscribe(roomID, s.ConnID)

	ar := e.registry.Get(roomID)
	if ar == nil {
		return
	}
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if ar.closed {
		return
	}
	m := ar.presence.byConn(s.ConnID)
	if m == nil || !m.Online {
		return
	}
	m.Online = false
	m.Selection = Selection{}
	m.LastActivity = e.opts.Now()

	empty := ar.presence.online() == 0
	e.async(roomID, "leave", func(ctx context.Context) error {
		if _, err := e.store.DecrementParticipants(ctx, roomID); err != nil {
			return err
		}
		if empty {
			return e.store.ResetParticipants(ctx, roomID)
		}
		return nil
	})

	e.fanout.ToRoom(roomID, EventMemberLeft, MemberLeft{Identity: m.Identity, KeepCursor: true}, "")
	e.fanout.ToRoom(roomID, EventMembersUpdated, MembersUpdated{
		Members:  ar.presence.views(),
		Trigger:  TriggerLeave,
		Identity: m.Identity,
	}, "")
	e.fanout.ToRoom(roomID, EventSelectionState, SelectionState{
		Selections:  ar.presence.selections(),
		UpdatedUser: m.Identity,
	}, "")

	if empty {
		e.evict(ar)
		zap.L().Debug("collab.room_evicted", zap.String("room", roomID))
	}
}

func (e *Engine) Cursor(ctx context.Context, s *Session, req CursorRequest) error {
	identity, err := e.guard.identity(s, req.Token)
	if err != nil {
		return err
	}
	return e.withRoom(ctx, req.RoomID, nil, func(ar *ActiveRoom) error {
		if err := Authorize(ActionCursor, identity, "", ar.policy()); err != nil {
			return err
		}
		if len(req.Position) != 2 {
			return reject(ErrInvalidInput, "cursor position must have exactly 2 elements")
		}
		m, err := joinedMember(ar, identity)
		if err != nil {
			return err
		}
		pos := [2]float64{req.Position[0], req.Position[1]}
		m.Cursor = &pos
		m.LastActivity = e.opts.Now()

		except := s.ConnID
		if e.opts.EchoPresenceToSender {
			except = ""
		}
		e.fanout.ToRoom(ar.ID, EventCursorAction, CursorView{
			Identity:  identity,
			Position:  pos,
			UserColor: m.Color,
			Username:  m.Name,
		}, except)
		return nil
	})
}

func (e *Engine) Selection(ctx context.Context, s *Session, req SelectionRequest) error {
	identity, err := e.guard.identity(s, req.Token)
	if err != nil {
		return err
	}
	sel := ResolveSelection(req)
	return e.withRoom(ctx, req.RoomID, nil, func(ar *ActiveRoom) error {
		if err := Authorize(ActionSelection, identity, "", ar.policy()); err != nil {
			return err
		}
		m, err := joinedMember(ar, identity)
		if err != nil {
			return err
		}
		if sel.IsSet() {
			m.Selection = sel
		}
		m.LastActivity = e.opts.Now()
		e.fanout.ToRoom(ar.ID, EventSelectionState, SelectionState{
			Selections:  ar.presence.selections(),
			UpdatedUser: identity,
		}, "")
		return nil
	})
}

func (e *Engine) CodeEdit(ctx context.Context, s *Session, req CodeEditRequest) error {
	identity, err := e.guard.identity(s, req.Token)
	if err != nil {
		return err
	}
	if len(req.Update) == 0 {
		return reject(ErrInvalidInput, "empty update")
	}
	if len(req.Update) > e.opts.MaxUpdateBytes {
		return reject(ErrInvalidInput, "update too large")
	}
	return e.withRoom(ctx, req.RoomID, nil, func(ar *ActiveRoom) error {
		if err := Authorize(ActionCodeEdit, identity, "", ar.policy()); err != nil {
			return err
		}
		m, err := joinedMember(ar, identity)
		if err != nil {
			return err
		}
		doc := ar.document()
		if err := doc.Apply(req.Update); err != nil {
			return reject(ErrInvalidInput, "malformed update")
		}
		now := e.opts.Now()
		m.LastActivity = now

		e.fanout.ToRoom(ar.ID, EventCodeEditAction, CodeEditAction{Identity: identity, Update: req.Update}, s.ConnID)
		e.scheduler.Schedule(ar.ID, doc.Text)
		e.fanout.ToConn(s.ConnID, EventCodeEditConfirmed, CodeEditConfirmed{Timestamp: now.UnixMilli()})
		return nil
	})
}

func (e *Engine) EditMember(ctx context.Context, s *Session, req EditMemberRequest) error {
	identity, err := e.guard.identity(s, req.Token)
	if err != nil {
		return err
	}
	target := req.TargetIdentity
	if target == "" {
		target = identity
	}
	return e.withRoom(ctx, req.RoomID, nil, func(ar *ActiveRoom) error {
		m := ar.presence.get(target)
		if m == nil {
			return reject(ErrNotFound, msgMemberNotFound)
		}
		if err := Authorize(ActionEditMember, identity, target, ar.policy()); err != nil {
			return err
		}
		m.Name = req.Name

		e.async(ar.ID, "rename", func(ctx context.Context) error {
			return e.store.UpdateMemberName(ctx, ar.ID, target, req.Name)
		})
		e.fanout.ToRoom(ar.ID, EventMembersUpdated, MembersUpdated{
			Members:  ar.presence.views(),
			Trigger:  TriggerUsernameUpdate,
			Identity: target,
		}, "")
		return nil
	})
}

// EditRoom is the socket form of EditRoomAs. Whether a refusal is reported
// back depends on Options.ReportEditRoomRejections.
func (e *Engine) EditRoom(ctx context.Context, s *Session, req EditRoomRequest) error {
	identity, err := e.guard.identity(s, req.Token)
	if err != nil {
		return e.editRoomRejection(err)
	}
	_, err = e.EditRoomAs(ctx, identity, req.RoomID, req.Edit())
	return e.editRoomRejection(err)
}

func (e *Engine) editRoomRejection(err error) error {
	var re *RejectError
	if err != nil && !e.opts.ReportEditRoomRejections && errors.As(err, &re) {
		return &RejectError{Kind: re.Kind, Message: re.Message, Silent: true}
	}
	return err
}

// EditRoomAs changes permissions, task or language on behalf of identity:
// durable update first, then the active room mirrors it, then room-edited.
func (e *Engine) EditRoomAs(ctx context.Context, identity, roomID string, edit rooms.RoomEdit) (*rooms.Room, error) {
	if edit.Language != nil && !rooms.ValidLanguage(*edit.Language) {
		return nil, reject(ErrInvalidInput, "unsupported language")
	}
	room, err := e.store.Get(ctx, roomID)
	if err != nil {
		return nil, storeErr(err)
	}
	policy := roomPolicy{teacher: room.Teacher, perms: permissionsOf(room), completed: room.Completed}
	if err := Authorize(ActionEditRoom, identity, "", policy); err != nil {
		return nil, err
	}
	updated, err := e.store.Update(ctx, roomID, edit)
	if err != nil {
		return nil, storeErr(err)
	}

	if ar := e.registry.Get(roomID); ar != nil {
		ar.mu.Lock()
		defer ar.mu.Unlock()
		if !ar.closed {
			ar.perms = permissionsOf(updated)
			ar.completed = updated.Completed
		}
	}
	e.fanout.ToRoom(roomID, EventRoomEdited, updated, "")
	return updated, nil
}

func (e *Engine) CloseSession(ctx context.Context, s *Session, req CloseSessionRequest) error {
	identity, err := e.guard.identity(s, req.Token)
	if err != nil {
		return err
	}
	room, err := e.store.Get(ctx, req.RoomID)
	if err != nil {
		return storeErr(err)
	}
	policy := roomPolicy{teacher: room.Teacher, perms: permissionsOf(room), completed: room.Completed}
	if err := Authorize(ActionCloseSession, identity, "", policy); err != nil {
		return err
	}
	if err := e.store.Complete(ctx, room.ID); err != nil {
		return storeErr(err)
	}

	if ar := e.registry.Get(room.ID); ar != nil {
		ar.mu.Lock()
		if !ar.closed {
			e.evict(ar)
		}
		ar.mu.Unlock()
	}
	e.fanout.ToRoom(room.ID, EventCompleteSession, CompleteSession{Message: "the teacher has ended the session"}, "")
	e.async(room.ID, "close", func(ctx context.Context) error {
		return e.store.ResetParticipants(ctx, room.ID)
	})
	zap.L().Info("collab.session_closed", zap.String("room", room.ID), zap.String("teacher", identity))
	return nil
}

// DeleteRoom removes a room on behalf of its teacher and ends any live
// session in it. Pending snapshots are dropped.
func (e *Engine) DeleteRoom(ctx context.Context, identity, roomID string) error {
	room, err := e.store.Get(ctx, roomID)
	if err != nil {
		return storeErr(err)
	}
	if room.Teacher != identity {
		return reject(ErrForbidden, msgNotTeacher)
	}
	if ar := e.registry.Get(roomID); ar != nil {
		ar.mu.Lock()
		if !ar.closed {
			e.registry.remove(ar)
		}
		ar.mu.Unlock()
	}
	e.scheduler.Cancel(roomID)
	if err := e.store.Delete(ctx, roomID); err != nil {
		return storeErr(err)
	}
	e.fanout.ToRoom(roomID, EventCompleteSession, CompleteSession{Message: "the room was deleted"}, "")
	return nil
}

// withRoom runs fn under the room lock, hydrating the room if needed. A room
// that ends up with nobody online is released again.
func (e *Engine) withRoom(ctx context.Context, roomID string, loaded *rooms.Room, fn func(ar *ActiveRoom) error) error {
	for attempt := 0; attempt < 3; attempt++ {
		ar, err := e.registry.EnsureActive(ctx, roomID, loaded)
		if err != nil {
			return storeErr(err)
		}
		ar.mu.Lock()
		if ar.closed {
			// evicted between lookup and lock
			ar.mu.Unlock()
			loaded = nil
			continue
		}
		err = fn(ar)
		if !ar.closed && ar.presence.online() == 0 {
			e.evict(ar)
		}
		ar.mu.Unlock()
		return err
	}
	return reject(ErrPersistence, "room is busy, try again")
}

// evict drops ar from the registry and flushes its pending snapshot.
// Caller holds ar.mu.
func (e *Engine) evict(ar *ActiveRoom) {
	e.registry.remove(ar)
	e.scheduler.Flush(ar.ID)
}

// async runs a background store write. Writes for one room run one at a
// time in the order they were queued.
func (e *Engine) async(roomID, op string, fn func(ctx context.Context) error) {
	e.wg.Add(1)
	prev, done := e.writes.enqueue(roomID)
	go func() {
		defer e.wg.Done()
		defer e.writes.release(roomID, done)
		if prev != nil {
			<-prev
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.StoreTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			zap.L().Warn("collab.persist_failed",
				zap.String("room", roomID), zap.String("op", op), zap.Error(err))
		}
	}()
}

func joinedMember(ar *ActiveRoom, identity string) (*Member, error) {
	m := ar.presence.get(identity)
	if m == nil || !m.Online {
		return nil, reject(ErrForbidden, msgNotJoined)
	}
	return m, nil
}

func storeErr(err error) error {
	var re *RejectError
	switch {
	case errors.As(err, &re):
		return err
	case errors.Is(err, rooms.ErrRoomNotFound):
		return reject(ErrNotFound, msgRoomNotFound)
	default:
		zap.L().Error("collab.store", zap.Error(err))
		return reject(ErrPersistence, "temporary failure, try again")
	}
}
