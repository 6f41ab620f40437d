package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxlobby/internal/core/ports"
	"voxlobby/internal/core/services"
	handlers "voxlobby/internal/handlers/http"
	"voxlobby/internal/infrastructure/middleware"
	"voxlobby/internal/infrastructure/monitoring"
	"voxlobby/internal/infrastructure/store/memory"
	redisstore "voxlobby/internal/infrastructure/store/redis"
	"voxlobby/pkg/config"
	"voxlobby/pkg/logger"
)

// lobbyd is the lobby coordinator: it serves the room directory over HTTP
// and, by watching the directory itself, keeps the stale-room sweep running
// even when no browser client is subscribed.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zlog.Sync()
	sugar := zlog.Sugar()

	collector := monitoring.NewCollector()

	var dirStore ports.DirectoryStore
	if cfg.Redis.Enabled {
		client, err := redisstore.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			sugar,
		)
		if err != nil {
			sugar.Fatalw("failed to connect to directory store", "error", err)
		}
		defer redisstore.CloseRedisClient(client)
		dirStore = redisstore.NewStore(client, sugar, collector)
	} else {
		sugar.Warnw("redis disabled, directory is local to this process")
		dirStore = memory.NewStore()
	}

	permanent := cfg.PermanentRoomIDs()
	registry := services.NewRoomRegistry(dirStore, permanent, cfg.Rooms.StaleAfter, collector, sugar)
	presence := services.NewPresence(sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	unsubscribe, err := registry.Watch(ctx, presence.EmitRoomList)
	if err != nil {
		sugar.Fatalw("failed to watch room directory", "error", err)
	}
	defer unsubscribe()

	limiter := middleware.NewCreateLimiter(cfg.RateLimiting.CreatesPerMinute, cfg.RateLimiting.Burst)
	lobby := handlers.NewLobbyHandler(registry, permanent, cfg.Auth.SharedSecret, limiter, sugar)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	lobby.SetupRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		sugar.Infow("lobby coordinator listening", "address", cfg.HTTP.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	sugar.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("shutdown incomplete", "error", err)
	}
}
