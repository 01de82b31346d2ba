package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postop-platform/internal/audit"
	"postop-platform/internal/auth"
	"postop-platform/internal/calls"
	"postop-platform/internal/config"
	"postop-platform/internal/httpapi"
	"postop-platform/internal/records"
	"postop-platform/internal/reporting"
	"postop-platform/internal/telephony"
	"postop-platform/pkg/logger"
	"postop-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "api")
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

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

	// Service graph. The schedule queue lives in redis; immutable call
	// records live in postgres.
	store := calls.NewRedisStore(rdb)
	scheduler := calls.NewScheduler(store, calls.DefaultCatalog(), log)
	recordRepo := records.NewPGRepo(db)
	recordSvc := records.NewService(recordRepo)
	auditSvc := audit.NewService(audit.NewMemoryRepo())
	reportSvc := reporting.NewService(reporting.NewPGRepo(db), store)

	h := httpapi.Handlers{
		Auth:      authManager,
		Scheduler: scheduler,
		Records:   recordSvc,
		Reporting: reportSvc,
		Audit:     auditSvc,
	}
	resultHandler := telephony.CallResultHandler{
		Scheduler: scheduler,
		Records:   recordSvc,
		Secret:    cfg.Voice.ResultWebhookSecret,
	}
	sessionHandler := telephony.DischargeSessionHandler{
		Scheduler: scheduler,
		Secret:    cfg.Voice.ResultWebhookSecret,
		AgentName: cfg.Voice.AgentName,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, resultHandler, sessionHandler, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
