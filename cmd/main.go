package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"PairChat/config"
	"PairChat/internal/matchmaker"
	"PairChat/internal/room"
	"PairChat/internal/storage"
	"PairChat/internal/utils"
	"PairChat/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	if err := config.Load("config/config.yaml"); err != nil {
		utils.Log.Fatal("failed to load config", "err", err)
	}
	utils.Init(config.C.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//-------------------------------------------------------
	// 1. Session mirror (optional)
	//-------------------------------------------------------
	recorder, closeRecorder := newRecorder(ctx)
	defer closeRecorder()

	//-------------------------------------------------------
	// 2. Hub + registry + matchmaker
	//-------------------------------------------------------
	hub := websocket.NewHub()
	rooms := room.NewRegistry(hub, recorder)
	defer rooms.Close()
	mm := matchmaker.NewMatchmaker(rooms, hub, config.C.Skip.Cooldown)
	mm.Attach(hub)
	go hub.Run()
	defer hub.Close()

	//-------------------------------------------------------
	// 3. HTTP
	//-------------------------------------------------------
	srv := &http.Server{
		Addr:    config.C.Addr(),
		Handler: newRouter(hub),
	}

	go func() {
		utils.Log.Info("server is listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Log.Fatal("listen failed", "err", err)
		}
	}()

	<-ctx.Done()
	utils.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Log.Error("shutdown failed", "err", err)
	}
}

func newRouter(hub *websocket.Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
	}))

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Server is working!")
	})
	r.GET("/ws", websocket.ServeWS(hub))
	return r
}

// newRecorder returns the Redis mirror when redis.addr is set, otherwise a
// no-op. Stale keys from a previous run are cleared first.
func newRecorder(ctx context.Context) (room.Recorder, func()) {
	if config.C.Redis.Addr == "" {
		return room.NopRecorder{}, func() {}
	}

	rdb, err := storage.NewRedis(ctx, config.C.Redis.Addr, config.C.Redis.Password, config.C.Redis.DB)
	if err != nil {
		utils.Log.Fatal("redis init failed", "addr", config.C.Redis.Addr, "err", err)
	}
	rec := room.NewRedisRecorder(rdb)
	if err := rec.Reset(ctx); err != nil {
		utils.Log.Warn("failed to clear stale sessions", "err", err)
	}
	utils.Log.Info("session mirror enabled", "addr", config.C.Redis.Addr)
	return rec, func() { _ = rdb.Close() }
}
