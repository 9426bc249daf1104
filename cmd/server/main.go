/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the check-in data integrity server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load configuration
  2. Build the zap logger
  3. Initialize SQLite store
  4. Wrap the directory with the configured cache
  5. Create API handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML configuration file (optional)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database

ENVIRONMENT:
  Every key can be set as CHECKIN_<SECTION>_<KEY>, e.g.
  CHECKIN_DIRECTORY_CACHE=redis CHECKIN_REDIS_ADDR=cache:6379

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close Redis and database connections
  4. Exit

EXAMPLES:
  ./server -db="./data/checkins.db"
  ./server -config=./checkin.yaml -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys and defaults
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/checkin-integrity/api"
	"github.com/warp/checkin-integrity/checkin"
	"github.com/warp/checkin-integrity/config"
	"github.com/warp/checkin-integrity/directory"
	"github.com/warp/checkin-integrity/logging"
	"github.com/warp/checkin-integrity/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	os.Exit(exitCode(logger, run(cfg, logger)))
}

// exitCode logs a failed run and flushes the logger before the process
// exits, since os.Exit skips deferred calls.
func exitCode(logger *zap.Logger, err error) int {
	code := 0
	if err != nil {
		logger.Error("server failed", zap.Error(err))
		code = 1
	}
	_ = logger.Sync()
	return code
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	reportDir, closeCache, err := reportDirectory(cfg, store, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	handler := api.NewHandler(api.Deps{
		Backend:         store,
		ReportDirectory: reportDir,
		Metrics:         api.NewMetrics(),
		Logger:          logger,
		ReportTimeout:   cfg.Server.ReportTimeout,
	})
	router := api.NewRouter(handler, api.RouterConfig{AllowedOrigins: cfg.CORS.AllowedOrigins})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.ReportTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("database", cfg.Database.Path),
			zap.String("directory_cache", cfg.Directory.Cache),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// reportDirectory wraps the store's directory in the configured cache.
func reportDirectory(cfg *config.Config, store *sqlite.Store, logger *zap.Logger) (checkin.Directory, func(), error) {
	noop := func() {}

	switch cfg.Directory.Cache {
	case config.CacheNone:
		return store, noop, nil

	case config.CacheRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("redis directory cache connected", zap.String("addr", cfg.Redis.Addr))
		cache := directory.NewRedisCache(rdb, "checkin:directory:")
		return directory.NewCached(store, cache, cfg.Directory.CacheTTL, logger), func() { rdb.Close() }, nil

	default:
		cache := directory.NewMemoryCache(nil)
		return directory.NewCached(store, cache, cfg.Directory.CacheTTL, logger), noop, nil
	}
}
