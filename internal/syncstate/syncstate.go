package syncstate

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"coderoom/internal/services/rooms"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	batchSize   = 500
	pipeTimeout = 1500 * time.Millisecond
)

// Run mirrors the hot participant counters of dirty rooms into Postgres
// every interval until ctx is done.
func Run(ctx context.Context, rdc *redis.Client, db *sql.DB, interval time.Duration) {
	tk := time.NewTicker(interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				syncOnce(ctx, rdc, db)
			}
		}
	}()
}

func syncOnce(ctx context.Context, rdc *redis.Client, db *sql.DB) {
	// SPOP so that a counter bumped while we work marks the room dirty again
	ids, err := rdc.SPopN(ctx, rooms.DirtySetKey(), batchSize).Result()
	if err != nil || len(ids) == 0 {
		return
	}

	// 1. fetch all counters in one pipelined round-trip
	pctx, cancel := context.WithTimeout(ctx, pipeTimeout)
	defer cancel()
	pipe := rdc.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(pctx, rooms.StateKey(id), "pc", "la")
	}
	if _, err = pipe.Exec(pctx); err != nil {
		zap.L().Error("syncstate.pipeline", zap.Error(err))
		requeue(ctx, rdc, ids)
		return
	}

	// 2. bulk-upsert into Postgres; rooms deleted meanwhile are skipped
	const upsert = `
	INSERT INTO room_states (room_id, participant_count, last_activity, updated_at)
	     SELECT $1, $2, to_timestamp($3 / 1000.0), NOW()
	      WHERE EXISTS (SELECT 1 FROM rooms WHERE id = $1)
	ON CONFLICT (room_id) DO UPDATE
	       SET participant_count = EXCLUDED.participant_count,
	           last_activity     = EXCLUDED.last_activity,
	           updated_at        = NOW()`

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		zap.L().Error("syncstate.tx_begin", zap.Error(err))
		requeue(ctx, rdc, ids)
		return
	}
	defer tx.Rollback()

	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) != 2 || vals[0] == nil {
			continue // key disappeared between SPOP and HMGET
		}
		pc, _ := strconv.Atoi(str(vals[0]))
		la, _ := strconv.ParseInt(str(vals[1]), 10, 64)
		if la == 0 {
			la = time.Now().UnixMilli()
		}
		if _, err := tx.ExecContext(ctx, upsert, ids[i], pc, la); err != nil {
			zap.L().Error("syncstate.upsert", zap.String("room", ids[i]), zap.Error(err))
			requeue(ctx, rdc, ids)
			return
		}
	}

	if err = tx.Commit(); err != nil {
		zap.L().Error("syncstate.commit", zap.Error(err))
		requeue(ctx, rdc, ids)
		return
	}
	zap.L().Debug("syncstate.synced", zap.Int("rooms", len(ids)), zap.String("ids", strings.Join(ids, ",")))
}

func requeue(ctx context.Context, rdc *redis.Client, ids []string) {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := rdc.SAdd(ctx, rooms.DirtySetKey(), members...).Err(); err != nil {
		zap.L().Warn("syncstate.requeue", zap.Error(err))
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
