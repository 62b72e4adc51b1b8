package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-relay/internal/api"
	"collab-relay/internal/config"
	"collab-relay/internal/db"
	"collab-relay/internal/relay"
	"collab-relay/internal/repository"
	"collab-relay/internal/store"
	"collab-relay/internal/telemetry"
)

func main() {
	log.Println("🚀 Starting collab-relay server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Tracing first, so everything downstream is traced. Optional: a
	// missing collector never blocks the relay.
	jaegerShutdown, err := telemetry.InitJaeger("collab-relay", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Snapshot store + ops bus
	redisStore := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisStore.Ping(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	pingCancel()
	defer redisStore.Close()
	log.Printf("✓ Connected to Redis at %s", cfg.RedisAddr)

	// Optional edit-history archive
	var history relay.HistoryArchive
	var historyReader api.HistoryReader
	if cfg.HistoryEnabled() {
		database, err := db.NewGorm(cfg)
		if err != nil {
			log.Fatalf("❌ Failed to connect to history database: %v", err)
		}
		defer database.Close()
		repo := repository.NewHistoryRepository(database.DB)
		history = repo
		historyReader = repo
		log.Println("✓ Edit-history archive enabled")
	}

	// Bounded snapshot persistence pool
	persister := relay.NewPersister(redisStore, history, cfg.PersistWorkers, cfg.PersistQueueSize)
	persister.Start()

	// Rooms, session handler, cross-replica broker
	registry := relay.NewRegistry(cfg.ServerID, redisStore, persister)
	wsHandler := relay.NewHandler(cfg.ServerID, registry, redisStore)

	broker := relay.NewBroker(cfg.ServerID, redisStore, registry)
	brokerCtx, brokerCancel := context.WithCancel(context.Background())
	go broker.Run(brokerCtx)

	handler := api.NewHandler(redisStore, historyReader, wsHandler.ServeWS)

	server := &http.Server{
		Addr:        cfg.ListenAddr(),
		Handler:     api.SetupServer(handler),
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server %s listening on http://%s", cfg.ServerID, cfg.ListenAddr())
		log.Printf("   WS     /ws?docId=...        - live edit relay")
		log.Printf("   GET    /api/{docId}         - persisted snapshot")
		if cfg.HistoryEnabled() {
			log.Printf("   GET    /api/{docId}/history - recent accepted updates")
		}

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Shutdown order: stop the subscriber, close every live session, then
	// drain the persistence pool so the latest snapshots reach the store.
	brokerCancel()
	registry.CloseAll()
	persister.Shutdown()

	log.Println("✓ Server shutdown complete")
}
