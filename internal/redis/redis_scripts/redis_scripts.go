package redis_scripts

import (
	"context"
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

//go:embed *.lua
var fs embed.FS

var (
	ParticipantsIncr = mustScript("participants_incr.lua")
	ParticipantsDecr = mustScript("participants_decr.lua")
)

var all = map[string]*redis.Script{
	"participants_incr.lua": ParticipantsIncr,
	"participants_decr.lua": ParticipantsDecr,
}

func mustScript(name string) *redis.Script {
	code, err := fs.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("redis_scripts: %s: %v", name, err))
	}
	return redis.NewScript(string(code))
}

// LoadAll registers every embedded script with SCRIPT LOAD so the first
// EVALSHA on a fresh server does not miss.
func LoadAll(ctx context.Context, rdb redis.Scripter) error {
	for name, s := range all {
		if err := s.Load(ctx, rdb).Err(); err != nil {
			return fmt.Errorf("load lua %s: %w", name, err)
		}
		zap.L().Info("lua script loaded", zap.String("file", name))
	}
	return nil
}
