package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whisper/breakout/internal/api"
	"github.com/whisper/breakout/internal/bootstrap"
	"github.com/whisper/breakout/internal/breakout"
	"github.com/whisper/breakout/internal/config"
	"github.com/whisper/breakout/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.Component("grouper")

	log.Info().Msg("starting breakout grouper worker")

	db, err := bootstrap.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}

	rdb, err := bootstrap.OpenRedis(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}

	nc, err := bootstrap.ConnectNATS(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}

	svc := bootstrap.NewService(cfg, db, rdb, nc)
	worker := breakout.NewWorker(svc, nc, cfg.WorkerQueueGroup)
	if err := worker.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start worker")
	}

	// Health and metrics only; computes arrive over NATS.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.HealthRouter(bootstrap.Checks(db, rdb, nc)...),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("health server")
		}
	}()

	log.Info().
		Str("addr", cfg.Addr).
		Str("nats_url", cfg.NATSURL).
		Str("queue", cfg.WorkerQueueGroup).
		Str("redis_addr", cfg.RedisAddr).
		Msg("grouper running")

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("health server shutdown")
	}

	// Drain first so no new request reaches the worker while it stops.
	nc.Close()
	worker.Stop()
	rdb.Close()
	db.Close()
}
