// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command controller runs the session controller: the REST surface for
// recorder registration and heartbeats plus the background reaper.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/recfleet/recfleet/internal/api"
	"github.com/recfleet/recfleet/internal/config"
	"github.com/recfleet/recfleet/internal/domain/session/reaper"
	"github.com/recfleet/recfleet/internal/domain/session/service"
	"github.com/recfleet/recfleet/internal/domain/session/store"
	"github.com/recfleet/recfleet/internal/log"
)

func main() {
	log.Configure(log.Config{Service: "controller"})
	logger := log.Base()

	cfg := config.ControllerFromEnv()
	if cfg.APIPassword == "" {
		logger.Fatal().Msg("API_PASSWORD is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, store.Config{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		SessionTTL: cfg.SessionTTL,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("session store unavailable")
	}
	defer st.Close()

	svc := service.New(st, logger)

	rp := reaper.New(svc, st, reaper.Config{
		Interval:        cfg.CleanupInterval,
		MaxInactiveTime: cfg.MaxInactiveTime,
		ChunkTimeSize:   cfg.ChunkTimeSize,
	}, nil, logger)
	go rp.Run(ctx)

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewServer(svc, api.Config{
			APIUser:       cfg.APIUser,
			APIPassword:   cfg.APIPassword,
			RateLimitRPS:  cfg.RateLimitRPS,
			MaxSessionAge: cfg.SessionTTL,
		}).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("controller listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown incomplete")
		os.Exit(1)
	}
	logger.Info().Msg("controller stopped")
}
