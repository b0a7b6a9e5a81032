package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/farpomon/bca-app-sub013/internal/config"
	"github.com/farpomon/bca-app-sub013/internal/database"
	"github.com/farpomon/bca-app-sub013/internal/handlers"
	"github.com/farpomon/bca-app-sub013/internal/store"
	"github.com/farpomon/bca-app-sub013/internal/sync"
	"github.com/farpomon/bca-app-sub013/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema (Critical for Zero-Config)
	log.Println("🚀 Synchronizing database schema...")
	st := store.NewGormStore(db)
	if err := st.Migrate(); err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Websocket hub for live sync status
	hub := websocket.NewHub()
	go hub.Run()

	// 5. Sync engine against the BCA cloud
	syncCfg := config.LoadSyncConfig()
	adapter := sync.NewCloudClient(cfg.Cloud)

	var engine *sync.Engine
	var reporter *sync.Reporter
	broadcaster := websocket.NewStatusBroadcaster(hub, func() (interface{}, error) {
		return reporter.Snapshot()
	})
	engine = sync.NewEngine(st, adapter, syncCfg, broadcaster)

	catalog := sync.NewCatalogSync(st, adapter)
	monitor := sync.NewMonitor(cfg.Cloud, adapter, syncCfg.ProbeInterval, func() {
		// Connectivity restored: drain whatever queued up while offline
		// and pick up any catalog changes made in the back office.
		engine.StartSync()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := catalog.Refresh(ctx); err != nil {
				log.Printf("⚠️ Catalog refresh failed: %v", err)
			}
		}()
	})
	engine.SetOnlineCheck(monitor.IsOnline)
	reporter = sync.NewReporter(st, engine, monitor)

	rootCtx, stopBackground := context.WithCancel(context.Background())
	if syncCfg.Enabled {
		monitor.Start(rootCtx)
		engine.StartBackground(rootCtx)
		if syncCfg.SyncOnStartup {
			engine.StartSync()
		}
		log.Println("✅ Sync engine ready")
	} else {
		log.Println("⚠️ Sync disabled, node runs capture-only")
	}

	// 6. Retention sweeper for old synced entities
	go func() {
		ticker := time.NewTicker(syncCfg.RetentionSweep)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-syncCfg.RetentionAge)
				if purged, err := st.PurgeSynced(cutoff); err != nil {
					log.Printf("⚠️ Retention sweep failed: %v", err)
				} else if purged > 0 {
					log.Printf("🧹 Retention sweep purged %d synced entities", purged)
				}
			}
		}
	}()

	// 7. HTTP router
	router := handlers.NewRouter(st, engine, reporter, catalog, hub, cfg.JWTSecret)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Field node starting on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	// Create context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop background sync work and let the active drain wind down
	stopBackground()
	engine.Cancel()
	engine.Wait()

	// Close database (this also stops embedded PostgreSQL)
	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
