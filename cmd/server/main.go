/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the cohort engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the logger and the reference-timezone calendar
  3. Initialize SQLite store
  4. Select the freeze lock backend
  5. Create service, handler and router
  6. Start the optional freeze scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: cohorts.db, env DB_PATH)
           Use ":memory:" for in-memory database
  -lock    Freeze lock backend: memory, redis, postgres (env LOCK_BACKEND)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and lock backend connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/cohorts.db"

  # Several instances sharing Redis for freeze locks
  LOCK_BACKEND=redis REDIS_ADDR=redis:6379 ./server

SEE ALSO:
  - config/config.go: All settings
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/cohort-engine/api"
	"github.com/warp/cohort-engine/config"
	"github.com/warp/cohort-engine/locker/pglock"
	"github.com/warp/cohort-engine/locker/redislock"
	"github.com/warp/cohort-engine/logger"
	"github.com/warp/cohort-engine/membership"
	"github.com/warp/cohort-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:], ".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cal, err := membership.LoadCalendar(cfg.Timezone)
	if err != nil {
		log.Fatal("Failed to load timezone", "timezone", cfg.Timezone, "error", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath, sqlite.WithLocation(cal.Location()))
	if err != nil {
		log.Fatal("Failed to initialize database", "path", cfg.DBPath, "error", err)
	}
	defer store.Close()

	locker, closeLocker, err := newLocker(cfg)
	if err != nil {
		log.Fatal("Failed to initialize lock backend", "backend", cfg.LockBackend, "error", err)
	}
	defer closeLocker()

	service := membership.NewService(store, locker, cal, log)
	service.Engine.LockTimeout = cfg.LockTimeout

	handler := api.NewHandler(service, store, log)
	router := api.NewRouter(handler)

	scheduler := api.NewFreezeScheduler(service, store, log)
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.FreezeDay = cfg.SchedulerFreezeDay
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting",
			"addr", "http://localhost:"+cfg.Port,
			"env", cfg.AppEnv,
			"timezone", cfg.Timezone,
			"lock_backend", cfg.LockBackend,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server stopped")
}

// newLocker builds the configured freeze lock backend and its cleanup.
func newLocker(cfg *config.Config) (membership.Locker, func(), error) {
	switch cfg.LockBackend {
	case config.LockRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		// The TTL must outlast the longest wait plus the freeze itself.
		l := redislock.New(client, redislock.WithTTL(cfg.LockTimeout+redislock.DefaultTTL))
		return l, func() { client.Close() }, nil

	case config.LockPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l, err := pglock.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { l.Close() }, nil

	default:
		return membership.NewMemoryLocker(), func() {}, nil
	}
}
