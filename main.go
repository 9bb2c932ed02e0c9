package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"coderoom/internal/config"
	"coderoom/internal/database/db_client"
	"coderoom/internal/database/migrations"
	"coderoom/internal/http/http_server"
	"coderoom/internal/http/roomhandler"
	"coderoom/internal/identity"
	"coderoom/internal/redis/redis_client"
	"coderoom/internal/redis/redis_scripts"
	"coderoom/internal/services/collab"
	"coderoom/internal/services/rooms"
	"coderoom/internal/syncstate"
	"coderoom/internal/ws"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	var err error
	var cfg *config.Config
	var redisClient *redis.Client
	var roomService rooms.IRoomService

	// 1. Load configuration
	cfg, err = config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully",
		zap.Uint16("http_port", cfg.HttpServerPort), zap.String("redis_host", cfg.RedisHost))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis
	redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()
	Log.Debug("Redis client created successfully")

	// Load the counter scripts
	if err := redis_scripts.LoadAll(ctx, redisClient); err != nil {
		Log.Fatal("load-redis-scripts", zap.Error(err))
	}

	// 4. Postgres db client + schema
	pgDb, err := db_client.Open(ctx, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()
	if err := migrations.Apply(ctx, pgDb); err != nil {
		Log.Fatal("pg-migrate", zap.Error(err))
	}

	// 5. Services
	roomService = rooms.NewRoomService(redisClient, pgDb)
	resolver, err := identity.NewResolver(cfg.IdentityKey, cfg.IdentityIV, cfg.AllowGuests)
	if err != nil {
		Log.Fatal("identity-resolver", zap.Error(err))
	}

	// 6. Background: participant counter synchroniser
	syncstate.Run(ctx, redisClient, pgDb, cfg.StateSyncInterval)

	// 7. Collaboration engine, fanned out through the WS hub
	hub := ws.NewHub()
	engine := collab.NewEngine(roomService, hub, resolver, collab.Options{
		PersistDebounce:          cfg.PersistDebounce,
		SnapshotDeliveryDelay:    cfg.SnapshotDeliveryDelay,
		EchoPresenceToSender:     cfg.EchoPresenceToSender,
		ReportEditRoomRejections: cfg.ReportEditRoomRejections,
		MaxUpdateBytes:           cfg.MaxUpdateBytes,
	})
	defer engine.Close()

	// 8. Initialize the WS server
	wsSrv := ws.NewWsServer(hub, engine, validator.New())

	// 9. HTTP + WS server
	httpServer := http_server.NewHttpServer(context.Background(), cfg.HttpServerPort, wsSrv,
		roomhandler.New(roomService, engine, resolver))
	go func() {
		<-ctx.Done()
		_ = httpServer.Dispose()
	}()
	if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
	Log.Info("shutting down", zap.Int("active_rooms", engine.ActiveRooms()))
}
