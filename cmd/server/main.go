package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/JoseETeixeira/UniRig-Interface/internal/adapter/httpserver"
	"github.com/JoseETeixeira/UniRig-Interface/internal/adapter/memory"
	"github.com/JoseETeixeira/UniRig-Interface/internal/adapter/postgres"
	"github.com/JoseETeixeira/UniRig-Interface/internal/adapter/redis"
	"github.com/JoseETeixeira/UniRig-Interface/internal/adapter/runner"
	"github.com/JoseETeixeira/UniRig-Interface/internal/app"
	"github.com/JoseETeixeira/UniRig-Interface/internal/artifact"
	"github.com/JoseETeixeira/UniRig-Interface/internal/disk"
	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
	"github.com/JoseETeixeira/UniRig-Interface/internal/intake"
	"github.com/JoseETeixeira/UniRig-Interface/internal/platform/config"
	"github.com/JoseETeixeira/UniRig-Interface/internal/platform/logging"
)

const leaderLeaseTTL = 5 * time.Minute

// storage bundles the adapters that differ between the single-instance
// and the shared deployment shape.
type storage struct {
	sessions domain.SessionRepository
	jobs     domain.JobRepository
	limiter  domain.RateLimiter
	leader   app.Leader
	checks   []httpserver.HealthCheck
	close    func()
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupStorage picks postgres+redis when both URLs are configured,
// otherwise in-memory stores for the single-instance deployment.
func setupStorage(cfg *config.Config, clock clockwork.Clock) *storage {
	if cfg.DatabaseURL == "" || cfg.RedisURL == "" {
		slog.Info("DATABASE_URL/REDIS_URL not set, using in-memory stores")
		return &storage{
			sessions: memory.NewSessionRepo(),
			jobs:     memory.NewJobRepo(),
			limiter:  memory.NewRateLimiter(clock, cfg.UploadRateLimit, cfg.UploadRateWindow),
			leader:   app.AlwaysLeader{},
			close:    func() {},
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	redisClient, err := redis.Connect(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	instanceID := uuid.NewString()
	return &storage{
		sessions: postgres.NewSessionRepo(pool),
		jobs:     postgres.NewJobRepo(pool),
		limiter:  redis.NewRateLimiter(redisClient, clock, cfg.UploadRateLimit, cfg.UploadRateWindow),
		leader:   redis.NewLeaderElection(redisClient, instanceID, "cleanup:leader", leaderLeaseTTL),
		checks: []httpserver.HealthCheck{
			{Name: "postgres", Check: func(ctx context.Context) error { return pool.Ping(ctx) }},
			{Name: "redis", Check: pingRedis(redisClient)},
		},
		close: func() {
			pool.Close()
			if err := redisClient.Close(); err != nil {
				slog.Error("Failed to close Redis client", "error", err)
			}
		},
	}
}

func pingRedis(client *goredis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func runGracefulShutdown(srv *httpserver.Server, dispatcher *app.Dispatcher, cleanup *app.CleanupEngine) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cleanup.Stop()
		dispatcher.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	store, err := artifact.NewStore(cfg.DataDir)
	if err != nil {
		slog.Error("Failed to prepare data directory", "error", err)
		os.Exit(1)
	}

	db := setupStorage(cfg, clock)
	defer db.close()

	diskMonitor := disk.NewMonitor(store.Root(), cfg.DiskWarningBytes, cfg.DiskCriticalBytes)

	invoker := runner.NewBreakerInvoker(runner.NewScriptInvoker(cfg.ScriptDir, slog.Default()))
	dispatcher := app.NewDispatcher(db.jobs, invoker, clock, cfg.DispatchSoftLimit, cfg.DispatchHardLimit)

	svc := app.NewService(
		db.sessions,
		db.jobs,
		db.limiter,
		intake.New(store, cfg.MaxUploadBytes),
		store,
		diskMonitor,
		dispatcher,
		clock,
		cfg.SessionTTL,
	)

	cleanup := app.NewCleanupEngine(
		db.sessions,
		db.jobs,
		store,
		db.limiter,
		diskMonitor,
		db.leader,
		clock,
		cfg.SessionTTL,
		cfg.CleanupInterval,
	)
	cleanup.Start()

	srv := httpserver.NewServer(cfg, svc, cleanup, db.checks)

	done := runGracefulShutdown(srv, dispatcher, cleanup)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
