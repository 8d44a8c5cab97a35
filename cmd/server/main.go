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

	"marketplace/internal/app"
	"marketplace/internal/config"
	"marketplace/internal/db"
	"marketplace/internal/handlers"
	"marketplace/internal/jobs"
	"marketplace/internal/observability"
	"marketplace/internal/services"
	"marketplace/internal/websocket"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	metrics := observability.NewMetrics()
	hub := websocket.NewHub()

	var broadcaster services.BalanceHub = hub
	var relay *websocket.RedisRelay
	var queue handlers.ReconcileQueue
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping", slog.Any("error", err))
		}
		relay = websocket.NewRedisRelay(redisClient, hub, logger)
		broadcaster = relay

		jobClient := jobs.NewClient(app.RedisOpts(cfg))
		defer jobClient.Close()
		queue = jobClient
	}

	core := app.NewCore(cfg, database, broadcaster, metrics, logger)
	handler := handlers.New(handlers.Deps{
		TxRunner:    core.TxRunner,
		Config:      cfg,
		Logger:      logger,
		Tasks:       core.Tasks,
		Proposals:   core.Proposals,
		Wallet:      core.Wallet,
		Payments:    core.Payments,
		Withdrawals: core.Withdrawals,
		Users:       core.Users,
		Roles:       core.Roles,
		Audit:       core.Audit,
		Gateways:    app.NewGateways(cfg),
		Queue:       queue,
		Hub:         hub,
		Metrics:     metrics,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("marketplace API listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if relay != nil {
		group.Go(func() error {
			err := relay.Run(groupCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}
