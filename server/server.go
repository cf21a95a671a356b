package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"soundroom/cache"
	"soundroom/catalog"
	"soundroom/config"
	"soundroom/core/room"
	"soundroom/core/session"
	"soundroom/db"
	"soundroom/logger"
	"soundroom/repository"
	"soundroom/storage"
)

// Start wires everything together and runs the HTTP server until SIGINT or
// SIGTERM. MySQL, redis and MinIO are best-effort: a failed connection logs a
// warning and the corresponding feature degrades, the live rooms stay up.
func Start() {
	cfg := config.Load()

	logger.Init(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	var store repository.Store
	gdb, err := db.ConnectGorm(cfg)
	if err != nil {
		logger.Warn("mysql unavailable, running without durable room history", logger.ErrorField(err))
	} else {
		defer db.CloseGorm(gdb)
		gormStore := repository.NewGormStore(gdb)
		if err := gormStore.Migrate(); err != nil {
			logger.Warn("schema migration failed, running without durable room history", logger.ErrorField(err))
		} else {
			store = gormStore
		}
	}

	var presence *cache.Presence
	redisClient, err := db.ConnectRedis(cfg)
	if err != nil {
		logger.Warn("redis unavailable, running without presence mirror", logger.ErrorField(err))
	} else {
		defer db.CloseRedis(redisClient)
		presence = cache.NewPresence(redisClient)
	}

	artwork, err := storage.NewArtworkStore(cfg)
	if err != nil {
		logger.Warn("minio unavailable, artwork proxy disabled", logger.ErrorField(err))
		artwork = nil
	}

	registry := session.NewRegistry(session.Limits{
		MaxMembers:       cfg.MaxRoomMembers,
		MessageRetention: cfg.MessageRetention,
		SnapshotMessages: cfg.SnapshotMessages,
	})

	hub := room.NewHub()
	go hub.Run()
	defer hub.Stop()

	eventRouter := room.NewRouter(registry, hub, room.NewBindingTable(), store, presence)

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	registry.StartSweeper(sweepCtx, cfg.SweepInterval, cfg.RoomIdleTimeout)

	api := &APIHandler{
		cfg:      cfg,
		hub:      hub,
		router:   eventRouter,
		registry: registry,
		catalog:  catalog.NewITunesClient(cfg.CatalogBaseURL),
		artwork:  artwork,
		store:    store,
		presence: presence,
	}

	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/ws", api.WebSocketHandler)
	r.HandleFunc("/health", api.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", api.StatsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/search", api.SearchHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/popular", api.PopularHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{code}", api.RoomSummaryHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{code}/history", api.RoomHistoryHandler).Methods(http.MethodGet)
	r.PathPrefix("/artwork/").HandlerFunc(api.ArtworkHandler).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", logger.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("server stopped")
}

// corsMiddleware opens the API up to browser clients on other origins.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
