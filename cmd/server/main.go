/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the coin engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load TOML config
  2. Build the zap logger
  3. Initialize SQLite store
  4. Seed the admin credential (first boot only)
  5. Wire ledger service, sync engine and game services
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to TOML config file (optional; defaults apply without it)
  -addr    Listen address, overrides config (e.g. ":3000")
  -db      SQLite database path, overrides config
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (configured timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with defaults
  ./server

  # Run with a config file and in-memory database
  ./server -config=./config.toml -db=":memory:"

SEE ALSO:
  - config/config.go: Configuration structure and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jamforge/coin-engine/api"
	"github.com/jamforge/coin-engine/auth"
	"github.com/jamforge/coin-engine/config"
	"github.com/jamforge/coin-engine/invites"
	"github.com/jamforge/coin-engine/ledger"
	"github.com/jamforge/coin-engine/logging"
	"github.com/jamforge/coin-engine/media"
	"github.com/jamforge/coin-engine/missions"
	"github.com/jamforge/coin-engine/shop"
	"github.com/jamforge/coin-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "path to TOML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := seedAdmin(ctx, store, cfg.Auth); err != nil {
		logger.Fatal("failed to seed admin", zap.Error(err))
	}

	// Wire services
	authMgr := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.DeviceTTL.Duration, cfg.Auth.AdminTTL.Duration)
	ledgerSvc := ledger.NewService(store, logger)
	syncEngine := ledger.NewSyncEngine(ledgerSvc, logger)

	handler := &api.Handler{
		Store:            store,
		Ledger:           ledgerSvc,
		Sync:             syncEngine,
		Missions:         missions.NewService(store, ledgerSvc, logger),
		Shop:             shop.NewService(store, ledgerSvc, logger),
		Invites:          invites.NewService(store, ledgerSvc, cfg.Game.InviteReward, cfg.Game.InviteExpiry.Duration, logger),
		Media:            media.NewService(ledgerSvc, cfg.Game.MediaReward, logger),
		Auth:             authMgr,
		Log:              logger,
		LeaderboardLimit: cfg.Game.LeaderboardLimit,
	}

	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Server.Addr),
			zap.String("db", cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// seedAdmin creates the configured admin credential when none exists yet.
// An already-provisioned admin is never overwritten from config.
func seedAdmin(ctx context.Context, store *sqlite.Store, cfg config.AuthConfig) error {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return nil
	}
	existing, err := store.GetAdmin(ctx, cfg.AdminUsername)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	return store.SaveAdmin(ctx, sqlite.AdminRecord{Username: cfg.AdminUsername, PasswordHash: hash})
}
