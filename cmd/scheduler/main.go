package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postop-platform/internal/audit"
	"postop-platform/internal/calls"
	"postop-platform/internal/config"
	"postop-platform/internal/records"
	"postop-platform/internal/telephony"
	"postop-platform/internal/worker"
	"postop-platform/pkg/logger"
	"postop-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// The scheduler process runs the polling daemon and its dialer workers.
// It shares the redis queue and postgres records with the api process but
// serves no HTTP traffic.

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "scheduler")
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := calls.NewRedisStore(rdb)
	scheduler := calls.NewScheduler(store, calls.DefaultCatalog(), log)
	recordSvc := records.NewService(records.NewPGRepo(db))
	auditSvc := audit.NewService(audit.NewMemoryRepo())

	roomAPI, err := telephony.NewHTTPRoomAPI(telephony.HTTPRoomAPIConfig{
		BaseURL:   cfg.Voice.APIURL,
		APIKey:    cfg.Voice.APIKey,
		APISecret: cfg.Voice.APISecret,
	})
	if err != nil {
		log.Error("room api init failed", "err", err)
		os.Exit(1)
	}
	provider, err := telephony.NewLiveKitProvider(roomAPI, telephony.LiveKitConfig{
		OutboundTrunkID: cfg.Voice.OutboundTrunkID,
		AgentName:       cfg.Voice.AgentName,
		DispatchTimeout: cfg.Voice.DispatchTimeout,
	})
	if err != nil {
		log.Error("voice provider init failed", "err", err)
		os.Exit(1)
	}

	if err := provider.HealthCheck(rootCtx); err != nil {
		// Degraded start is fine; dials will retry through the backoff policy.
		log.Warn("voice backend unreachable at startup", "err", err)
	}

	// Cap TTL outlives any single dial so crashed workers cannot pin a slot
	// past the lease window.
	limiter := worker.NewRedisLimiter(rdb, cfg.Scheduler.ClinicDialCap, cfg.Scheduler.LeaseTimeout)

	policy := worker.RetryPolicy{
		MaxAttempts: cfg.Scheduler.MaxAttempts,
		BaseDelay:   cfg.Scheduler.BaseRetryDelay,
		MaxDelay:    cfg.Scheduler.MaxRetryDelay,
	}
	exec := worker.NewExecutor(scheduler, recordSvc, provider, limiter, policy, log).
		WithAuditor(auditSvc)

	daemon := worker.NewDaemon(scheduler, exec, worker.DaemonConfig{
		PollInterval: cfg.Scheduler.PollInterval,
		LeaseTimeout: cfg.Scheduler.LeaseTimeout,
		WorkerCount:  cfg.Scheduler.WorkerCount,
		ClaimLimit:   cfg.Scheduler.ClaimLimit,
	}, log)

	log.Info("scheduler starting",
		"env", cfg.App.Env,
		"poll_interval", cfg.Scheduler.PollInterval,
		"workers", cfg.Scheduler.WorkerCount,
		"provider", provider.Name(),
	)

	if err := daemon.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("daemon exited", "err", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
