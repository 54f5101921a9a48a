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

	"github.com/SOORAJTS2001/uplog/internal/app/migrate"
	"github.com/SOORAJTS2001/uplog/internal/broker/jetstream"
	httpx "github.com/SOORAJTS2001/uplog/internal/http"
	"github.com/SOORAJTS2001/uplog/internal/repository/postgres"
	sessionsvc "github.com/SOORAJTS2001/uplog/internal/service/session"
	usersvc "github.com/SOORAJTS2001/uplog/internal/service/user"
	"github.com/SOORAJTS2001/uplog/internal/stream"
	"github.com/SOORAJTS2001/uplog/internal/ws"
	"github.com/SOORAJTS2001/uplog/pkg/config"
	"github.com/SOORAJTS2001/uplog/pkg/logger"
)

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

	brokerClient, err := jetstream.Connect(cfg.NATSURL, cfg.DeliverPolicy)
	if err != nil {
		log.Error("failed to connect to nats", "error", err)
		os.Exit(1)
	}
	defer brokerClient.Close()

	repo := postgres.New(pool)
	registry := ws.NewRegistry()
	provisioner := stream.NewProvisioner(brokerClient, cfg.MaxMsgsPerSubject, cfg.MessageTTL)
	publisher := stream.NewPublisher(brokerClient, cfg.MaxInFlight, cfg.PublishAckTimeout)

	userSvc := usersvc.New(repo, provisioner, cfg.IPHashSalt, log)
	sessionSvc := sessionsvc.New(repo, repo, brokerClient, publisher, registry, log, sessionsvc.Options{
		BatchSize:  cfg.BatchSize,
		PullWait:   cfg.PullWait,
		SessionTTL: cfg.SessionTTL,
	})

	if reaper := sessionsvc.NewReaper(repo, log, cfg.ReapInterval); reaper != nil {
		go reaper.Run(ctx)
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

	router := httpx.NewRouter(log, userSvc, sessionSvc, registry, limiter, pool.Ping, brokerClient.Healthy)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("uplog api starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("uplog api stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
