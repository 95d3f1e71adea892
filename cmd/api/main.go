package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/teamscope/internal/app/migrate"
	httpx "github.com/splax/teamscope/internal/http"
	"github.com/splax/teamscope/internal/repository/postgres"
	"github.com/splax/teamscope/internal/service/access"
	"github.com/splax/teamscope/internal/service/auth"
	"github.com/splax/teamscope/internal/service/team"
	"github.com/splax/teamscope/internal/service/webhook"
	"github.com/splax/teamscope/internal/ws"
	"github.com/splax/teamscope/pkg/config"
	"github.com/splax/teamscope/pkg/logger"
)

// fanout delivers membership events to every attached sink.
type fanout []team.Broadcaster

func (f fanout) Broadcast(teamID string, payload []byte) {
	for _, sink := range f {
		sink.Broadcast(teamID, payload)
	}
}

func main() {
	cfg := config.Load()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	eventHub := ws.NewHub(cfg.EventBuffer)

	accessSvc := access.New(repo, repo, repo, log)
	authSvc := auth.New(repo, log, cfg)
	webhookSvc := webhook.New(repo, accessSvc, cfg.WebhookSecretKey, log)
	teamSvc := team.New(repo, repo, repo, accessSvc, fanout{eventHub, webhookSvc}, log)

	if _, err := teamSvc.EnsureGlobalTeam(ctx, cfg.GlobalTeamName); err != nil {
		log.Error("failed to ensure global team", "error", err)
		os.Exit(1)
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, accessSvc, teamSvc, webhookSvc, eventHub, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
