package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kurosaki/mentions/internal/app"
	"github.com/kurosaki/mentions/internal/config"
	"github.com/kurosaki/mentions/internal/rabbitmq"
	"github.com/rs/zerolog/log"
)

func main() {
	workers := flag.Int("workers", 1, "jobs run concurrently")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := cfg.NewLogger("collector")
	if cfg.AMQPServerURL == "" {
		logger.Fatal().Msg("AMQP_SERVER_URL is required for the collector")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.WithQueueWorkers(*workers))
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	for {
		err := a.Queue.Stream(ctx, a.Orchestrator.Run)
		if err == nil || !errors.Is(err, rabbitmq.ErrorDisconnected) {
			if err != nil {
				logger.Error().Err(err).Msg("stream stopped")
			}
			break
		}
		logger.Warn().Err(err).Msg("stream dropped, waiting for reconnect")
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		if ctx.Err() != nil {
			break
		}
	}
	logger.Info().Msg("collector stopped")
}
