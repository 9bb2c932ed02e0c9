package rooms

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roomID = "6f1c2f7e-7d0a-4c53-9a55-2f4b8e0c1a01"

var roomCols = []string{"id", "teacher", "student_cursor_enabled", "student_selection_enabled",
	"student_edit_code_enabled", "language", "task_id", "completed", "created_at"}

type fixture struct {
	svc  *roomService
	mock sqlmock.Sqlmock
	mr   *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := NewRoomService(rdb, db).(*roomService)
	svc.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return &fixture{svc: svc, mock: mock, mr: mr}
}

func (f *fixture) expectRoom(id, teacher string, completed bool, students ...string) {
	created := time.Date(2025, 7, 27, 16, 5, 5, 0, time.UTC)
	f.mock.ExpectQuery(`SELECT (.+) FROM rooms WHERE id = \$1`).WithArgs(id).
		WillReturnRows(sqlmock.NewRows(roomCols).
			AddRow(id, teacher, true, false, true, "js", "", completed, created))
	rows := sqlmock.NewRows([]string{"identity"})
	for _, s := range students {
		rows.AddRow(s)
	}
	f.mock.ExpectQuery(`SELECT identity FROM room_students WHERE room_id = \$1`).WithArgs(id).
		WillReturnRows(rows)
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	created := time.Date(2025, 7, 27, 16, 5, 5, 0, time.UTC)
	f.mock.ExpectQuery(`INSERT INTO rooms \(id, teacher\)`).
		WithArgs(sqlmock.AnyArg(), "t1").
		WillReturnRows(sqlmock.NewRows(roomCols[2:]).
			AddRow(true, true, true, "js", "", false, created))

	r, err := f.svc.Create(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, r.ID, 36)
	assert.Equal(t, "t1", r.Teacher)
	assert.Equal(t, "js", r.Language)
	assert.True(t, r.StudentEditCodeEnabled)
	assert.Empty(t, r.Students)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	f.expectRoom(roomID, "t1", false, "s1", "s2")

	r, err := f.svc.Get(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, r.Students)
	assert.True(t, r.IsMember("t1"))
	assert.True(t, r.IsMember("s2"))
	assert.False(t, r.IsMember("x"))
	assert.False(t, r.StudentSelectionEnabled)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	f.mock.ExpectQuery(`SELECT (.+) FROM rooms WHERE id = \$1`).WithArgs(roomID).
		WillReturnError(sql.ErrNoRows)
	_, err = f.svc.Get(context.Background(), roomID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdatePartial(t *testing.T) {
	f := newFixture(t)
	off := false
	lang := "python"

	f.mock.ExpectExec(`UPDATE rooms`).
		WithArgs(roomID, off, nil, nil, nil, lang).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.expectRoom(roomID, "t1", false)

	_, err := f.svc.Update(context.Background(), roomID, RoomEdit{StudentCursorEnabled: &off, Language: &lang})
	require.NoError(t, err)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateMissingRoom(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectExec(`UPDATE rooms`).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := f.svc.Update(context.Background(), roomID, RoomEdit{})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestCompleteAndAppendStudent(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectExec(`UPDATE rooms SET completed = TRUE WHERE id = \$1`).WithArgs(roomID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`INSERT INTO room_students`).WithArgs(roomID, "s9").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, f.svc.Complete(context.Background(), roomID))
	require.NoError(t, f.svc.AppendStudent(context.Background(), roomID, "s9"))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	f := newFixture(t)
	created := time.Date(2025, 7, 27, 16, 5, 5, 0, time.UTC)
	other := "0b8e4a1c-1111-4c53-9a55-2f4b8e0c1a02"

	f.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM rooms WHERE teacher = \$1`).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	f.mock.ExpectQuery(`SELECT (.+) FROM rooms WHERE teacher = \$1 (.+) LIMIT \$2 OFFSET \$3`).
		WithArgs("s1", 5, 5).
		WillReturnRows(sqlmock.NewRows(roomCols).
			AddRow(roomID, "t1", true, true, true, "js", "", false, created).
			AddRow(other, "s1", true, true, true, "go", "42", true, created))
	f.mock.ExpectQuery(`SELECT identity FROM room_students`).WithArgs(roomID).
		WillReturnRows(sqlmock.NewRows([]string{"identity"}).AddRow("s1"))
	f.mock.ExpectQuery(`SELECT identity FROM room_students`).WithArgs(other).
		WillReturnRows(sqlmock.NewRows([]string{"identity"}))

	page, err := f.svc.List(context.Background(), "s1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	require.Len(t, page.Rooms, 2)
	assert.Equal(t, []string{"s1"}, page.Rooms[0].Students)
	assert.Equal(t, "42", page.Rooms[1].TaskID)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSnapshotFallsBackToPostgres(t *testing.T) {
	f := newFixture(t)
	last := time.Date(2025, 7, 27, 16, 5, 5, 0, time.UTC)
	f.mock.ExpectQuery(`SELECT last_code, participant_count, last_activity FROM room_states`).
		WithArgs(roomID).
		WillReturnRows(sqlmock.NewRows([]string{"last_code", "participant_count", "last_activity"}).
			AddRow("print(1)", 3, last))

	st, err := f.svc.GetSnapshot(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, "print(1)", st.LastCode)
	assert.Equal(t, 3, st.ParticipantCount)
	assert.Equal(t, last, st.LastActivity)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSnapshotMissingIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery(`SELECT last_code`).WithArgs(roomID).WillReturnError(sql.ErrNoRows)

	st, err := f.svc.GetSnapshot(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, "", st.LastCode)
	assert.Zero(t, st.ParticipantCount)
}

func TestSaveSnapshotServesFromRedis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mock.ExpectExec(`INSERT INTO room_states`).WithArgs(roomID, "x := 1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, f.svc.SaveSnapshot(ctx, roomID, "x := 1"))
	_, err := f.svc.IncrementParticipants(ctx, roomID)
	require.NoError(t, err)

	st, err := f.svc.GetSnapshot(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "x := 1", st.LastCode)
	assert.Equal(t, 1, st.ParticipantCount)
	assert.Equal(t, int64(1_700_000_000_000), st.LastActivity.UnixMilli())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestParticipantCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.IncrementParticipants(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.svc.IncrementParticipants(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, want := range []int{1, 0, 0} {
		n, err = f.svc.DecrementParticipants(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.True(t, f.mr.Exists(DirtySetKey()))

	f.mock.ExpectExec(`INSERT INTO room_states \(room_id, participant_count, updated_at\)`).
		WithArgs(roomID).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, f.svc.ResetParticipants(ctx, roomID))
	assert.Equal(t, "0", f.mr.HGet(StateKey(roomID), "pc"))
	assert.False(t, f.mr.Exists(DirtySetKey()))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mr.HSet(StateKey(roomID), "pc", "2")

	f.mock.ExpectExec(`DELETE FROM rooms WHERE id = \$1`).WithArgs(roomID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, f.svc.Delete(ctx, roomID))
	assert.False(t, f.mr.Exists(StateKey(roomID)))

	f.mock.ExpectExec(`DELETE FROM rooms WHERE id = \$1`).WithArgs(roomID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, f.svc.Delete(ctx, roomID), ErrRoomNotFound)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestMembers(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectExec(`INSERT INTO room_members`).WithArgs(roomID, "s1", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`SET username   = EXCLUDED.username`).WithArgs(roomID, "s1", "Ann").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, f.svc.UpsertMember(context.Background(), roomID, "s1", ""))
	require.NoError(t, f.svc.UpdateMemberName(context.Background(), roomID, "s1", "Ann"))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
