// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command recorder runs one recording session from capture to finalized
// artifact. SIGINT/SIGTERM request a graceful stop: the capture engine
// quits, pending chunks drain, and the recording is reassembled before
// the process exits.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/recfleet/recfleet/internal/config"
	"github.com/recfleet/recfleet/internal/log"
	"github.com/recfleet/recfleet/internal/recorder/pipeline"
)

func main() {
	log.Configure(log.Config{Service: "recorder"})
	logger := log.Base()

	cfg := config.RecorderFromEnv()
	p, err := pipeline.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("recording session failed")
		os.Exit(1)
	}
	logger.Info().Msg("recording session finished")
}
