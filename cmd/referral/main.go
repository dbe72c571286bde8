// Package main запускает HTTP-сервер реферальной системы начисления BV.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/referral-bv-system/internal/config"
	"github.com/mmeshcher/referral-bv-system/internal/counter"
	"github.com/mmeshcher/referral-bv-system/internal/handler"
	"github.com/mmeshcher/referral-bv-system/internal/metrics"
	"github.com/mmeshcher/referral-bv-system/internal/middleware"
	"github.com/mmeshcher/referral-bv-system/internal/repository"
	"github.com/mmeshcher/referral-bv-system/internal/service"
)

const shutdownTimeout = 5 * time.Second

type counterStore interface {
	middleware.CounterStore
	Close() error
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var counters counterStore
	if cfg.RedisURL != "" {
		rc, err := counter.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		counters = rc
	} else {
		sugar.Warn("REDIS_URL is not set, rate limits are kept per process")
		counters = counter.NewMemory()
	}
	defer counters.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := service.NewService(repo, service.Options{
		PlacementMaxAttempts: cfg.PlacementMaxAttempts,
		PlacementVisitLimit:  cfg.PlacementVisitLimit,
		AdminLogin:           cfg.AdminLogin,
		Logger:               logger,
		Metrics:              metrics.NewCompensation(reg),
	})
	defer svc.Close()

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is not set, sessions will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)

	h := handler.NewHandler(svc, logger, authMiddleware, handler.Config{
		RateLimit: middleware.RateLimitPolicy{
			Name:   "auth",
			Window: cfg.RateLimitWindow,
			Limit:  cfg.RateLimitMax,
		},
		Counter:  counters,
		Gatherer: reg,
	})

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting referral server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
