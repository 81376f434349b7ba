package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notesync/internal/api"
	"notesync/internal/config"
	"notesync/internal/db"
	"notesync/internal/relay"
	"notesync/internal/repository"
	"notesync/internal/services"
	"notesync/internal/services/collaboration"
	"notesync/internal/telemetry"
)

/*
LEARNING: GRACEFUL SHUTDOWN PATTERN WITH OBSERVABILITY

This main function demonstrates:
1. Service initialization and dependency injection
2. Concurrent server and worker pool management
3. Distributed tracing with Jaeger
4. Graceful shutdown handling (listening for SIGINT/SIGTERM)
5. Proper resource cleanup order
*/

const version = "0.3.0"

func main() {
	log.Println("🚀 Starting notesync collaboration server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Initialize Jaeger tracing
	// Learning: Do this FIRST so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger("notesync", version, cfg.JaegerEndpoint, cfg.TraceRatio)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = telemetry.Noop
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Initialize GORM database
	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Initialize repositories
	noteRepo := repository.NewNoteRepository(database.DB)
	shareRepo := repository.NewShareRepository(database.DB)
	revisionRepo := repository.NewRevisionRepository(database.DB)

	// Revision pruning worker pool
	// Learning: final-save only enqueues; workers trim history in the background
	pruner := services.NewRevisionPruner(revisionRepo, cfg.RevisionKeep, cfg.RevisionWorkers, cfg.RevisionQueueSize)
	pruner.Start()

	shareService := services.NewShareService(shareRepo, noteRepo, cfg.ShareSecret, cfg.ShareTTL, cfg.PublicWSURL)

	// Optional relay between nodes hosting the same share
	var rl relay.Relay
	if cfg.RedisAddr != "" {
		redisRelay := relay.NewRedis(relay.RedisConfig{Addr: cfg.RedisAddr, Prefix: cfg.RelayPrefix})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisRelay.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Printf("⚠️  Redis relay unavailable at %s: %v (continuing single-node)", cfg.RedisAddr, err)
			redisRelay.Close()
		} else {
			rl = redisRelay
			log.Printf("✓ Redis relay connected at %s", cfg.RedisAddr)
		}
	}

	// Initialize WebSocket session manager for real-time collaboration
	sessionManager := collaboration.NewSessionManager(collaboration.ManagerConfig{
		SendBuffer:       cfg.SendBuffer,
		CloseOnFinalSave: cfg.CloseOnFinalSave,
		CursorTTL:        cfg.CursorTTL,
	}, noteRepo, noteRepo, pruner, rl)
	sessionManager.Start()

	// Initialize WebSocket handler
	wsHandler := collaboration.NewWebSocketHandler(sessionManager, shareService)

	// Initialize handlers with dependency injection
	handler := api.NewHandler(noteRepo, revisionRepo, shareService, wsHandler)

	// Setup routes
	router := api.SetupRoutes(handler)

	// Configure HTTP server
	addr := cfg.Addr()
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	// Learning: This allows us to handle shutdown signals concurrently
	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("📚 API Endpoints:")
		log.Printf("   POST   /api/notes                     - Create note")
		log.Printf("   GET    /api/projects/:projectId/notes - List project notes")
		log.Printf("   GET    /api/notes/:id                 - Get note")
		log.Printf("   PUT    /api/notes/:id                 - Update note")
		log.Printf("   DELETE /api/notes/:id                 - Delete note (soft)")
		log.Printf("   GET    /api/notes/:id/share           - Mint share link")
		log.Printf("   GET    /api/shares                    - List active shares")
		log.Printf("   WS     %s?token=...             - Join shared note", services.WebSocketSharePath)
		log.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	// Learning: This is the graceful shutdown pattern
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	// Shutdown HTTP server with timeout
	// Learning: Give the server 30 seconds to finish existing requests
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Shutdown WebSocket session manager
	// Learning: hijacked connections are not covered by server.Shutdown
	sessionManager.Shutdown()

	// Shutdown the pruner after the sessions so late final-saves still queue
	pruner.Shutdown()

	if rl != nil {
		if err := rl.Close(); err != nil {
			log.Printf("⚠️  Failed to close relay: %v", err)
		}
	}

	log.Println("✓ Server shutdown complete")
}
