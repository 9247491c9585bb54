/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the appraisal engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (file, then APPRAISAL_* environment)
  3. Build the zap logger
  4. Initialize SQLite store
  5. Parse the discipline policy
  6. Create API handler, router and recompute scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: ./config.yaml or
           ./config/config.yaml when present)
  -port    Overrides server.port
  -db      Overrides db.path. Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the recompute scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with defaults
  ./server

  # Run with a config file and an in-memory database
  ./server -config=./deploy/appraisal.yaml -db=":memory:"

  # Override one setting from the environment
  APPRAISAL_SCHEDULER_INTERVAL=15m ./server

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - api/scheduler.go: Periodic recompute
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/appraisal-engine/api"
	"github.com/warp/appraisal-engine/config"
	"github.com/warp/appraisal-engine/factory"
	"github.com/warp/appraisal-engine/pkg/logger"
	"github.com/warp/appraisal-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	// Initialize store
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	policy, err := factory.NewPolicyFactory().ParsePolicy(cfg.Attendance.Policy)
	if err != nil {
		return fmt.Errorf("invalid attendance policy: %w", err)
	}

	// Initialize handler
	handler := api.NewHandler(store, cfg.ScoringPipeline(), policy, log)

	// Create router
	router := api.NewRouter(handler, cfg.Server.CORS.AllowOrigins)

	scheduler := api.NewRecomputeScheduler(handler, log.Named("scheduler"))
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Interval = cfg.Scheduler.Interval
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db", cfg.Database.Path),
			zap.String("discipline_policy", policy.Name()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		scheduler.Stop()
		return err
	}

	log.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
