package rooms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"coderoom/internal/redis/redis_scripts"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Room struct {
	ID                      string    `json:"id"`
	Teacher                 string    `json:"teacher"`
	Students                []string  `json:"students"`
	StudentCursorEnabled    bool      `json:"studentCursorEnabled"`
	StudentSelectionEnabled bool      `json:"studentSelectionEnabled"`
	StudentEditCodeEnabled  bool      `json:"studentEditCodeEnabled"`
	Language                string    `json:"language" example:"js"`
	TaskID                  string    `json:"taskId"`
	Completed               bool      `json:"completed"`
	CreatedAt               time.Time `json:"createdAt" example:"2025-07-27T16:05:05Z"`
}

// IsMember reports whether identity is the teacher or an admitted student.
func (r *Room) IsMember(identity string) bool {
	if r.Teacher == identity {
		return true
	}
	for _, s := range r.Students {
		if s == identity {
			return true
		}
	}
	return false
}

// RoomEdit is a partial update; nil fields are left as they are.
type RoomEdit struct {
	StudentCursorEnabled    *bool
	StudentSelectionEnabled *bool
	StudentEditCodeEnabled  *bool
	TaskID                  *string
	Language                *string
}

type RoomState struct {
	LastCode         string    `json:"lastCode"`
	ParticipantCount int       `json:"participantCount"`
	LastActivity     time.Time `json:"lastActivity"`
}

type RoomPage struct {
	Rooms []Room `json:"rooms"`
	Total int    `json:"total"`
}

const (
	DefaultLanguage = "js"

	// room_state:<id> holds pc (participant count), lc (last code), la (last activity, unix ms)
	redisStateKeyPrefix = "room_state:"
	redisDirtySet       = "room_state:dirty"
)

var ErrRoomNotFound = errors.New("room not found")

// Languages a room can be switched to.
var Languages = []string{"js", "ts", "python", "java", "cpp", "go"}

func ValidLanguage(lang string) bool {
	for _, l := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}

type IRoomService interface {
	Create(ctx context.Context, teacher string) (*Room, error)
	Get(ctx context.Context, id string) (*Room, error)
	Update(ctx context.Context, id string, edit RoomEdit) (*Room, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, identity string, page, limit int) (*RoomPage, error)
	Complete(ctx context.Context, id string) error
	AppendStudent(ctx context.Context, id, identity string) error

	GetSnapshot(ctx context.Context, id string) (*RoomState, error)
	SaveSnapshot(ctx context.Context, id, code string) error
	IncrementParticipants(ctx context.Context, id string) (int, error)
	DecrementParticipants(ctx context.Context, id string) (int, error)
	ResetParticipants(ctx context.Context, id string) error

	UpsertMember(ctx context.Context, roomID, identity, username string) error
	UpdateMemberName(ctx context.Context, roomID, identity, username string) error
}

type roomService struct {
	rdc *redis.Client
	db  *sql.DB
	now func() time.Time
}

var _ IRoomService = (*roomService)(nil)

func NewRoomService(rdc *redis.Client, db *sql.DB) IRoomService {
	return &roomService{
		rdc: rdc,
		db:  db,
		now: time.Now,
	}
}

// StateKey is the Redis hash that carries the hot room state.
func StateKey(id string) string { return redisStateKeyPrefix + id }

// DirtySetKey lists rooms whose hot counters have not reached Postgres yet.
func DirtySetKey() string { return redisDirtySet }

const roomColumns = `id, teacher, student_cursor_enabled, student_selection_enabled,
                     student_edit_code_enabled, language, task_id, completed, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (*Room, error) {
	r := &Room{}
	err := row.Scan(&r.ID, &r.Teacher,
		&r.StudentCursorEnabled, &r.StudentSelectionEnabled, &r.StudentEditCodeEnabled,
		&r.Language, &r.TaskID, &r.Completed, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (svc *roomService) Create(ctx context.Context, teacher string) (*Room, error) {
	r := &Room{ID: uuid.NewString(), Teacher: teacher, Students: []string{}}
	const q = `
	  INSERT INTO rooms (id, teacher) VALUES ($1, $2)
	  RETURNING student_cursor_enabled, student_selection_enabled,
	            student_edit_code_enabled, language, task_id, completed, created_at`
	err := svc.db.QueryRowContext(ctx, q, r.ID, teacher).Scan(
		&r.StudentCursorEnabled, &r.StudentSelectionEnabled, &r.StudentEditCodeEnabled,
		&r.Language, &r.TaskID, &r.Completed, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return r, nil
}

func (svc *roomService) Get(ctx context.Context, id string) (*Room, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrRoomNotFound
	}
	r, err := scanRoom(svc.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	if r.Students, err = svc.students(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (svc *roomService) students(ctx context.Context, id string) ([]string, error) {
	rows, err := svc.db.QueryContext(ctx,
		`SELECT identity FROM room_students WHERE room_id = $1 ORDER BY added_at, identity`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (svc *roomService) Update(ctx context.Context, id string, edit RoomEdit) (*Room, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrRoomNotFound
	}
	const q = `
	  UPDATE rooms
	     SET student_cursor_enabled    = COALESCE($2, student_cursor_enabled),
	         student_selection_enabled = COALESCE($3, student_selection_enabled),
	         student_edit_code_enabled = COALESCE($4, student_edit_code_enabled),
	         task_id                   = COALESCE($5, task_id),
	         language                  = COALESCE($6, language)
	   WHERE id = $1`
	res, err := svc.db.ExecContext(ctx, q, id,
		edit.StudentCursorEnabled, edit.StudentSelectionEnabled, edit.StudentEditCodeEnabled,
		edit.TaskID, edit.Language)
	if err != nil {
		return nil, fmt.Errorf("update room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrRoomNotFound
	}
	return svc.Get(ctx, id)
}

func (svc *roomService) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrRoomNotFound
	}
	res, err := svc.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoomNotFound
	}
	pipe := svc.rdc.TxPipeline()
	pipe.Del(ctx, StateKey(id))
	pipe.SRem(ctx, redisDirtySet, id)
	if _, err := pipe.Exec(ctx); err != nil {
		zap.L().Warn("rooms.delete_hot_state", zap.String("room", id), zap.Error(err))
	}
	return nil
}

func (svc *roomService) List(ctx context.Context, identity string, page, limit int) (*RoomPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 5
	}
	const where = ` WHERE teacher = $1
	                   OR EXISTS (SELECT 1 FROM room_students s
	                               WHERE s.room_id = rooms.id AND s.identity = $1)`

	out := &RoomPage{Rooms: make([]Room, 0, limit)}
	if err := svc.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`+where, identity).
		Scan(&out.Total); err != nil {
		return nil, err
	}

	rows, err := svc.db.QueryContext(ctx,
		`SELECT `+roomColumns+` FROM rooms`+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		identity, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out.Rooms = append(out.Rooms, *r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range out.Rooms {
		if out.Rooms[i].Students, err = svc.students(ctx, out.Rooms[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (svc *roomService) Complete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrRoomNotFound
	}
	res, err := svc.db.ExecContext(ctx, `UPDATE rooms SET completed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// AppendStudent admits identity to the room. Admission is never revoked.
func (svc *roomService) AppendStudent(ctx context.Context, id, identity string) error {
	_, err := svc.db.ExecContext(ctx, `
	  INSERT INTO room_students (room_id, identity) VALUES ($1, $2)
	  ON CONFLICT DO NOTHING`, id, identity)
	if err != nil {
		return fmt.Errorf("append student: %w", err)
	}
	return nil
}

func (svc *roomService) GetSnapshot(ctx context.Context, id string) (*RoomState, error) {
	// 1. Fast-path: hot state in Redis
	snap, _ := svc.rdc.HGetAll(ctx, StateKey(id)).Result()
	if code, ok := snap["lc"]; ok {
		return &RoomState{
			LastCode:         code,
			ParticipantCount: atoi(snap["pc"]),
			LastActivity:     tsMillis(snap["la"]),
		}, nil
	}

	// 2. Otherwise go to Postgres
	st := &RoomState{}
	err := svc.db.QueryRowContext(ctx,
		`SELECT last_code, participant_count, last_activity FROM room_states WHERE room_id = $1`, id,
	).Scan(&st.LastCode, &st.ParticipantCount, &st.LastActivity)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if pc, ok := snap["pc"]; ok {
		st.ParticipantCount = atoi(pc)
	}
	return st, nil
}

func (svc *roomService) SaveSnapshot(ctx context.Context, id, code string) error {
	const upsert = `
	  INSERT INTO room_states (room_id, last_code, last_activity, updated_at)
	       VALUES ($1, $2, NOW(), NOW())
	  ON CONFLICT (room_id) DO UPDATE
	        SET last_code     = EXCLUDED.last_code,
	            last_activity = NOW(),
	            updated_at    = NOW()`
	if _, err := svc.db.ExecContext(ctx, upsert, id, code); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := svc.rdc.HSet(ctx, StateKey(id), "lc", code, "la", svc.nowMillis()).Err(); err != nil {
		zap.L().Warn("rooms.snapshot_cache", zap.String("room", id), zap.Error(err))
	}
	return nil
}

func (svc *roomService) IncrementParticipants(ctx context.Context, id string) (int, error) {
	return redis_scripts.ParticipantsIncr.Run(ctx, svc.rdc,
		[]string{StateKey(id), redisDirtySet}, id, svc.nowMillis()).Int()
}

func (svc *roomService) DecrementParticipants(ctx context.Context, id string) (int, error) {
	return redis_scripts.ParticipantsDecr.Run(ctx, svc.rdc,
		[]string{StateKey(id), redisDirtySet}, id, svc.nowMillis()).Int()
}

func (svc *roomService) ResetParticipants(ctx context.Context, id string) error {
	const upsert = `
	  INSERT INTO room_states (room_id, participant_count, updated_at)
	       VALUES ($1, 0, NOW())
	  ON CONFLICT (room_id) DO UPDATE
	        SET participant_count = 0,
	            updated_at        = NOW()`
	if _, err := svc.db.ExecContext(ctx, upsert, id); err != nil {
		return fmt.Errorf("reset participants: %w", err)
	}
	pipe := svc.rdc.TxPipeline()
	pipe.HSet(ctx, StateKey(id), "pc", 0)
	pipe.SRem(ctx, redisDirtySet, id)
	_, err := pipe.Exec(ctx)
	return err
}

// UpsertMember records a member in the roster. An empty username keeps the
// stored one.
func (svc *roomService) UpsertMember(ctx context.Context, roomID, identity, username string) error {
	const q = `
	  INSERT INTO room_members (room_id, identity, username)
	       VALUES ($1, $2, $3)
	  ON CONFLICT (room_id, identity) DO UPDATE
	        SET username   = COALESCE(NULLIF(EXCLUDED.username, ''), room_members.username),
	            updated_at = NOW()`
	_, err := svc.db.ExecContext(ctx, q, roomID, identity, username)
	return err
}

func (svc *roomService) UpdateMemberName(ctx context.Context, roomID, identity, username string) error {
	const q = `
	  INSERT INTO room_members (room_id, identity, username)
	       VALUES ($1, $2, $3)
	  ON CONFLICT (room_id, identity) DO UPDATE
	        SET username   = EXCLUDED.username,
	            updated_at = NOW()`
	_, err := svc.db.ExecContext(ctx, q, roomID, identity, username)
	return err
}

func (svc *roomService) nowMillis() int64 { return svc.now().UnixMilli() }

// helpers
func tsMillis(s string) time.Time {
	i, _ := strconv.ParseInt(s, 10, 64)
	if i == 0 {
		return time.Time{}
	}
	return time.UnixMilli(i).UTC()
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}
