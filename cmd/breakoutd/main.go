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
	"github.com/whisper/breakout/internal/messaging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.Component("breakoutd")

	db, err := bootstrap.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	defer db.Close()

	rdb, err := bootstrap.OpenRedis(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer rdb.Close()

	// NATS is optional for the API; an empty nats_url turns off notifications
	// and async computes.
	var nc *messaging.NATSClient
	if cfg.NATSURL != "" {
		nc, err = bootstrap.ConnectNATS(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()
	}

	svc := bootstrap.NewService(cfg, db, rdb, nc)
	h := api.NewHandler(svc, bootstrap.Checks(db, rdb, nc)...)
	h.TrustProxy = cfg.TrustProxy
	if nc != nil {
		dispatcher := breakout.NewDispatcher(nc, cfg.NATSName)
		if err := dispatcher.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe to compute results")
		}
		h.Dispatcher = dispatcher
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.ComputeTimeout + 5*time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("redis_addr", cfg.RedisAddr).
			Str("nats_url", cfg.NATSURL).
			Bool("trust_proxy", cfg.TrustProxy).
			Int("min_group_size", cfg.MinGroupSize).
			Int("max_group_size", cfg.MaxGroupSize).
			Msg("breakout API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ComputeTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}
