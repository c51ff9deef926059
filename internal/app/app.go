package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/kurosaki/mentions/internal/config"
	"github.com/kurosaki/mentions/internal/db"
	"github.com/kurosaki/mentions/internal/jobs"
	"github.com/kurosaki/mentions/internal/rabbitmq"
	"github.com/kurosaki/mentions/internal/yt"
	"github.com/rs/zerolog"
)

// App holds the components shared by the API server and the queue worker.
type App struct {
	Store        jobs.Store
	Orchestrator *jobs.Orchestrator
	Metadata     *yt.MetadataClient
	Queue        *rabbitmq.Client

	closers []func() error
}

// Option selects how queued jobs are run.
type Option func(*settings)

type settings struct {
	dispatch bool
	workers  int
}

// WithQueueDispatch hands submitted jobs to the AMQP queue when one is configured.
func WithQueueDispatch() Option {
	return func(s *settings) { s.dispatch = true }
}

// WithQueueWorkers sets how many queued jobs a worker runs at once.
func WithQueueWorkers(n int) Option {
	return func(s *settings) { s.workers = n }
}

func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	a := &App{}

	switch cfg.StoreDriver {
	case config.StoreMemory:
		a.Store = jobs.NewMemoryStore()
	default:
		gdb, err := db.Connect(cfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sqlDB.Close)
		a.Store = db.NewJobStore(gdb)
	}

	clientOpts := []yt.ClientOption{
		yt.WithRetry(cfg.MaxRetries, cfg.RetryBaseDelay),
		yt.WithLogger(logger),
	}
	if cfg.YouTubeBaseURL != "" {
		clientOpts = append(clientOpts, yt.WithBaseURL(cfg.YouTubeBaseURL))
	}
	collector := yt.NewCollector(
		yt.NewClient(cfg.YouTubeAPIKey, clientOpts...),
		yt.WithReplyGapThreshold(cfg.ReplyGap),
		yt.WithCollectorLogger(logger),
	)

	endpoint := ""
	if cfg.YouTubeBaseURL != "" {
		endpoint = strings.TrimRight(cfg.YouTubeBaseURL, "/") + "/"
	}
	metadata, err := yt.NewMetadataClient(ctx, cfg.YouTubeAPIKey, endpoint, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("metadata client: %w", err)
	}
	a.Metadata = metadata

	orchOpts := []jobs.Option{
		jobs.WithTitleLookup(metadata),
		jobs.WithJobTimeout(cfg.JobTimeout),
		jobs.WithLogger(logger),
	}
	if cfg.AMQPServerURL != "" {
		a.Queue = rabbitmq.New(cfg.QueueName, cfg.AMQPServerURL, s.workers, logger)
		a.closers = append(a.closers, a.Queue.Close)
		if s.dispatch {
			orchOpts = append(orchOpts, jobs.WithDispatcher(a.Queue))
		}
	}
	a.Orchestrator = jobs.NewOrchestrator(a.Store, collector, orchOpts...)
	return a, nil
}

// Close releases the queue connection and the database, newest first.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
