package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kurosaki/mentions/internal/app"
	"github.com/kurosaki/mentions/internal/config"
	"github.com/kurosaki/mentions/internal/handlers"
	"github.com/kurosaki/mentions/internal/routes"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := cfg.NewLogger("api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.WithQueueDispatch())
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	a.Orchestrator.StartJanitor(ctx, cfg.JobTTL, time.Hour)

	router := routes.New(handlers.New(a.Orchestrator, a.Metadata, cfg.DefaultMaxPages, logger))
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.StoreDriver).Bool("queue", a.Queue != nil).Msg("api listening")
		if err := router.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := router.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if err := a.Orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("jobs still running at shutdown")
	}
}
